package server

import (
	"net/http"

	"github.com/meterbridge/meterbridge/pkg/bridge"
	"github.com/meterbridge/meterbridge/pkg/common"
)

type statusResponse struct {
	Version   string          `json:"version"`
	Pipelines []bridge.Status `json:"pipelines"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, statusResponse{
		Version:   common.Version(),
		Pipelines: s.statuses.Statuses(),
	}, http.StatusOK)
}

func (s *Server) handlePipelineStatus(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("pipeline")
	for _, st := range s.statuses.Statuses() {
		if st.Pipeline == name {
			writeJSON(w, st, http.StatusOK)
			return
		}
	}
	writeJSONError(w, "unknown pipeline", http.StatusNotFound)
}

// healthy reports false once every pipeline has gone staleAfter without a
// successful cycle. Pipelines that never ran yet count as healthy.
func (s *Server) healthy() bool {
	if s.staleAfter <= 0 {
		return true
	}
	now := s.now()
	statuses := s.statuses.Statuses()
	if len(statuses) == 0 {
		return true
	}
	for _, st := range statuses {
		if st.LastRun.IsZero() {
			return true
		}
		last := st.LastSuccess
		if last.IsZero() {
			// never succeeded, measure from the first failure
			last = st.LastRun
		}
		if now.Sub(last) < s.staleAfter {
			return true
		}
	}
	return false
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.healthy() {
		http.Error(w, "stale", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}
