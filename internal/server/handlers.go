package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dgnsrekt/feedsync/internal/session"
	"github.com/dgnsrekt/feedsync/internal/state"
	feedsync "github.com/dgnsrekt/feedsync/internal/sync"
)

// StatusSource provides per-channel sync state; the session manager
// implements it.
type StatusSource interface {
	Status(ctx context.Context) ([]session.ChannelStatus, error)
}

type Server struct {
	source      StatusSource
	store       *state.Store
	broadcaster *feedsync.Broadcaster
	logger      *zap.Logger
}

// NewServer creates the status API server. broadcaster may be nil when
// SSE is disabled.
func NewServer(source StatusSource, store *state.Store, broadcaster *feedsync.Broadcaster, logger *zap.Logger) *Server {
	return &Server{
		source:      source,
		store:       store,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.source.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")

	snap, ok := s.store.Snapshot(channel)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown channel: "+channel)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	key := chi.URLParam(r, "key")

	value, ok := s.store.Get(channel, key)
	if !ok {
		writeError(w, http.StatusNotFound, "no entry "+key+" in channel "+channel)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(value)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
