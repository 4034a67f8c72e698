// Package operator exposes a small HTTP surface for inspecting live sessions,
// triggering payment checks and reading stored records.
package operator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/spigell/pitch-analyst/internal/bot"
	"github.com/spigell/pitch-analyst/internal/logger"
	"github.com/spigell/pitch-analyst/internal/session"
	"github.com/spigell/pitch-analyst/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Queue runs work in a participant's serialized queue.
type Queue interface {
	Do(ctx context.Context, participantID string, fn func(context.Context) error) error
}

// PaymentChecker runs a payment check for a live session.
type PaymentChecker interface {
	CheckPayment(ctx context.Context, participantID string) (session.Snapshot, error)
}

// Records is the read side of the record store.
type Records interface {
	GetRecord(ctx context.Context, participantID string) (*store.Record, error)
	Ping(ctx context.Context) error
}

// Server handles operator requests.
type Server struct {
	sessions *session.Registry
	queue    Queue
	checker  PaymentChecker
	records  Records
	logger   *zap.Logger
}

func New(sessions *session.Registry, queue Queue, checker PaymentChecker, records Records, log *zap.Logger) *Server {
	return &Server{
		sessions: sessions,
		queue:    queue,
		checker:  checker,
		records:  records,
		logger:   logger.WithFields(log),
	}
}

// Routes builds the operator router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/healthz", s.health)
	r.Route("/sessions/{participantID}", func(r chi.Router) {
		r.Get("/", s.getSession)
		r.Post("/check-payment", s.checkPayment)
	})
	r.Get("/records/{participantID}", s.getRecord)

	return r
}

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("operator server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("operator server stopped")
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.records != nil {
		if err := s.records.Ping(r.Context()); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			Error(w, http.StatusServiceUnavailable, "record store unavailable")
			return
		}
	}

	JSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.sessions.Len(),
	})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "participantID")

	sess, ok := s.sessions.Get(id)
	if !ok {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	JSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) checkPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "participantID")

	var snap session.Snapshot
	err := s.queue.Do(r.Context(), id, func(ctx context.Context) error {
		var err error
		snap, err = s.checker.CheckPayment(ctx, id)
		return err
	})

	switch {
	case errors.Is(err, bot.ErrNoSession):
		Error(w, http.StatusNotFound, "session not found")
	case errors.Is(err, bot.ErrClosed):
		Error(w, http.StatusServiceUnavailable, "shutting down")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		Error(w, http.StatusGatewayTimeout, "payment check did not finish in time")
	case err != nil && snap.ID == "":
		s.logger.Error("operator payment check", zap.String(logger.FieldParticipant, id), zap.Error(err))
		Error(w, http.StatusInternalServerError, err.Error())
	default:
		// verification errors leave the session in place; report it with the error attached
		resp := map[string]any{"session": snap}
		if err != nil {
			resp["error"] = err.Error()
		}
		JSON(w, http.StatusOK, resp)
	}
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "participantID")

	record, err := s.records.GetRecord(r.Context(), id)
	if err != nil {
		s.logger.Error("reading record", zap.String(logger.FieldParticipant, id), zap.Error(err))
		Error(w, http.StatusInternalServerError, "failed to read record")
		return
	}
	if record == nil {
		Error(w, http.StatusNotFound, "record not found")
		return
	}

	JSON(w, http.StatusOK, record)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.Debug("operator request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", chiMiddleware.GetReqID(r.Context())),
		)
	})
}

// JSON writes a JSON response.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
