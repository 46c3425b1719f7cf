package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/solchat-dev/solchat/internal/session"
	"github.com/solchat-dev/solchat/internal/store"
)

func (s *Server) handleConversations(w http.ResponseWriter, _ *http.Request) {
	sums, err := s.manager.AllConversations()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sums == nil {
		sums = []store.ConversationSummary{}
	}
	writeJSON(w, http.StatusOK, sums)
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	contact := mux.Vars(r)["contact"]
	if err := session.ValidateWallet(contact); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st := s.manager.LoadConversation(contact)
	if st.HasError {
		writeError(w, http.StatusInternalServerError, st.ErrorMessage)
		return
	}
	if st.Messages == nil {
		st.Messages = []store.Message{}
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	contact := mux.Vars(r)["contact"]
	if err := session.ValidateWallet(contact); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.manager.MarkConversationAsRead(contact); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"read": true})
}

func (s *Server) handleUnread(w http.ResponseWriter, _ *http.Request) {
	n, err := s.manager.GetTotalUnreadCount()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"totalUnread": n})
}
