package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MikeSquared-Agency/vigil/internal/escalation"
	"github.com/MikeSquared-Agency/vigil/internal/processor"
	"github.com/MikeSquared-Agency/vigil/internal/store"
)

const maxBodyBytes = 64 << 10

// Moderator is the part of the processor the API serves.
type Moderator interface {
	Infer(ctx context.Context, req processor.Request) (*processor.Bundle, error)
	EndSession(ctx context.Context, id string) error
	Escalation(id string) (escalation.Metrics, error)
	Status() processor.Status
}

// DecisionReader looks up persisted decisions.
type DecisionReader interface {
	GetDecision(ctx context.Context, id uuid.UUID) (*store.DecisionRecord, error)
}

type Server struct {
	router    *chi.Mux
	port      int
	mod       Moderator
	decisions DecisionReader
	logger    *slog.Logger
	http      *http.Server
}

// NewServer builds the router. decisions may be nil when nothing is
// persisted; apiToken empty disables auth on /api/v1.
func NewServer(port int, apiToken string, mod Moderator, decisions DecisionReader, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:    router,
		port:      port,
		mod:       mod,
		decisions: decisions,
		logger:    logger,
	}

	router.Get("/health", s.health)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Get("/status", s.status)
		r.Post("/infer", s.infer)
		r.Get("/sessions/{id}/escalation", s.sessionEscalation)
		r.Delete("/sessions/{id}", s.endSession)
		r.Get("/decisions/{id}", s.getDecision)
	})

	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server starting", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st := s.mod.Status()
	mode := "ok"
	if st.Degraded {
		mode = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent":           "vigil",
		"status":          mode,
		"degraded":        st.Degraded,
		"scorer_source":   st.ScorerSource,
		"policy_hash":     st.PolicyHash,
		"active_sessions": st.ActiveSessions,
		"pending_reviews": st.PendingReviews,
		"persistence":     s.decisions != nil,
	})
}

func (s *Server) infer(w http.ResponseWriter, r *http.Request) {
	var req processor.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	b, err := s.mod.Infer(r.Context(), req)
	if err != nil {
		if r.Context().Err() != nil {
			writeError(w, http.StatusServiceUnavailable, "request cancelled")
			return
		}
		s.logger.Error("inference failed", "session_id", req.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "inference failed")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) sessionEscalation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, err := s.mod.Escalation(id)
	if errors.Is(err, escalation.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"ewma":       m.EWMA,
		"slope":      m.Slope,
		"history":    m.History,
	})
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.mod.EndSession(r.Context(), id); err != nil {
		s.logger.Error("failed to end session", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to end session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getDecision(w http.ResponseWriter, r *http.Request) {
	if s.decisions == nil {
		writeError(w, http.StatusServiceUnavailable, "decision store not configured")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid decision id")
		return
	}

	d, err := s.decisions.GetDecision(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "decision not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to load decision", "decision_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load decision")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
