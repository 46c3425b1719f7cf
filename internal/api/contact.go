package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/solchat-dev/solchat/internal/session"
	"github.com/solchat-dev/solchat/internal/store"
)

func (s *Server) handleListContacts(w http.ResponseWriter, _ *http.Request) {
	contacts, err := s.db.ListContacts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if contacts == nil {
		contacts = []store.Contact{}
	}
	writeJSON(w, http.StatusOK, contacts)
}

func (s *Server) handleUpsertContact(w http.ResponseWriter, r *http.Request) {
	var c store.Contact
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := session.ValidateWallet(c.Address); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.db.UpsertContact(&c); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	saved, err := s.db.GetContact(c.Address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleDeleteContact(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if err := session.ValidateWallet(address); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.db.DeleteContact(address); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
