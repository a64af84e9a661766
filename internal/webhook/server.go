// Package webhook exposes the image reader and its session history over HTTP.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/user/imagereader/internal/conversation"
	"github.com/user/imagereader/internal/dataurl"
	"github.com/user/imagereader/internal/reader"
	"github.com/user/imagereader/internal/state"
	"github.com/user/imagereader/internal/types"
)

// ResolveHandler runs an inbound event to completion and returns the reply.
type ResolveHandler func(ctx context.Context, event *types.InboundEvent) (*types.Post, error)

// Server is a lightweight HTTP handler for the resolve and debug endpoints.
type Server struct {
	handler   ResolveHandler
	sessions  types.SessionStore
	events    types.EventStore
	artifacts types.ArtifactStore
	mux       *http.ServeMux
}

// NewServer creates a new Server with the given handler callback and stores.
// The stores may be nil, in which case the debug API answers 503.
func NewServer(handler ResolveHandler, sessions types.SessionStore, events types.EventStore, artifacts types.ArtifactStore) *Server {
	s := &Server{
		handler:   handler,
		sessions:  sessions,
		events:    events,
		artifacts: artifacts,
		mux:       http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /resolve", s.handleResolve)
	s.mux.HandleFunc("GET /api/sessions", s.handleAPISessions)
	s.mux.HandleFunc("GET /api/sessions/{id}/events", s.handleAPISessionEvents)
	s.mux.HandleFunc("GET /api/sessions/{id}/rounds", s.handleAPISessionRounds)
	s.mux.HandleFunc("GET /api/artifacts/{id}", s.handleAPIArtifact)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// resolveRequest is the JSON body for POST /resolve.
type resolveRequest struct {
	SessionKey string `json:"session_key"`
	Message    string `json:"message"`
	UserID     string `json:"user_id"`
	WorkingDir string `json:"working_dir"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Message == "" || req.SessionKey == "" {
		writeError(w, http.StatusBadRequest, "message and session_key are required")
		return
	}

	reply, err := s.handler(r.Context(), &types.InboundEvent{
		Source:     "http",
		SessionKey: types.SessionKey(req.SessionKey),
		UserID:     req.UserID,
		Text:       req.Message,
		WorkingDir: req.WorkingDir,
	})
	if err != nil {
		var rerr *reader.Error
		if errors.As(err, &rerr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error": err.Error(),
				"stage": string(rerr.Stage),
			})
			return
		}
		slog.Error("resolve handler failed", "session_key", req.SessionKey, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, reply)
}

type sessionResponse struct {
	SessionID  string `json:"session_id"`
	SessionKey string `json:"session_key"`
	Agent      string `json:"agent"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
	LastRunID  string `json:"last_run_id,omitempty"`
	EventCount int64  `json:"event_count"`
}

func (s *Server) handleAPISessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil || s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "debug API not configured")
		return
	}
	ctx := r.Context()
	sessions, err := s.sessions.List(ctx)
	if err != nil {
		slog.Error("list sessions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	result := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		count, err := s.events.Count(ctx, sess.SessionID)
		if err != nil {
			slog.Warn("count events failed", "session_id", sess.SessionID, "error", err)
		}
		result = append(result, sessionResponse{
			SessionID:  string(sess.SessionID),
			SessionKey: string(sess.SessionKey),
			Agent:      sess.Agent,
			Status:     sess.Status,
			CreatedAt:  sess.CreatedAt.Format(time.RFC3339),
			UpdatedAt:  sess.UpdatedAt.Format(time.RFC3339),
			LastRunID:  string(sess.LastRunID),
			EventCount: count,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt > result[j].UpdatedAt
	})

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAPISessionEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "debug API not configured")
		return
	}
	sessionID := types.SessionID(r.PathValue("id"))

	limit := 200
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := s.events.Tail(r.Context(), sessionID, limit)
	if err != nil {
		slog.Error("tail events failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if events == nil {
		events = []*types.Event{}
	}

	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleAPISessionRounds(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "debug API not configured")
		return
	}
	sessionID := types.SessionID(r.PathValue("id"))

	history, err := conversation.Load(r.Context(), s.events, sessionID)
	if err != nil {
		slog.Error("load rounds failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	rounds := history.Rounds
	if rounds == nil {
		rounds = []*types.Round{}
	}

	writeJSON(w, http.StatusOK, rounds)
}

// handleAPIArtifact returns an artifact's metadata and data. With ?raw=1 a
// stored data URL is decoded and served with its own content type.
func (s *Server) handleAPIArtifact(w http.ResponseWriter, r *http.Request) {
	if s.artifacts == nil {
		writeError(w, http.StatusServiceUnavailable, "debug API not configured")
		return
	}
	ctx := r.Context()
	id := types.ArtifactID(r.PathValue("id"))

	meta, err := s.artifacts.GetMeta(ctx, id)
	if errors.Is(err, state.ErrArtifactNotFound) {
		writeError(w, http.StatusNotFound, "artifact not found")
		return
	}
	if err != nil {
		slog.Error("get artifact failed", "artifact_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	data, err := s.artifacts.Get(ctx, id)
	if err != nil {
		slog.Error("get artifact failed", "artifact_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if r.URL.Query().Get("raw") == "1" {
		var url string
		if err := json.Unmarshal(data, &url); err != nil || !dataurl.IsDataURL(url) {
			writeError(w, http.StatusBadRequest, "artifact is not a data URL")
			return
		}
		mimeType, body, err := dataurl.Decode(url)
		if err != nil {
			writeError(w, http.StatusBadRequest, "artifact is not a data URL")
			return
		}
		w.Header().Set("Content-Type", mimeType)
		w.Write(body)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"meta": meta, "data": data})
}
