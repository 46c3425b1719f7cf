package api

import (
	"errors"
	"net/http"

	"github.com/solchat-dev/solchat/internal/syncer"
	"github.com/solchat-dev/solchat/internal/syncindex"
)

type statusResponse struct {
	Wallet    string           `json:"wallet"`
	State     string           `json:"state"`
	SyncState string           `json:"syncState,omitempty"`
	Stats     *syncindex.Stats `json:"stats,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Wallet: s.wallet,
		State:  string(s.machine.Current()),
	}
	if s.sync != nil {
		resp.SyncState = string(s.sync.State())
		stats := s.sync.Stats()
		resp.Stats = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.sync == nil {
		writeError(w, http.StatusServiceUnavailable, "content store credentials not configured")
		return
	}
	res := s.sync.Sync(r.Context())
	writeJSON(w, http.StatusAccepted, res)
}

func (s *Server) handleClearCache(w http.ResponseWriter, _ *http.Request) {
	if s.sync == nil {
		writeError(w, http.StatusServiceUnavailable, "content store credentials not configured")
		return
	}
	if err := s.sync.ClearCache(); err != nil {
		if errors.Is(err, syncer.ErrBusy) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}
