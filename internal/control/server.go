package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/syncd/internal/core/domain"
	"github.com/vietddude/syncd/internal/infra/storage"
)

// Server provides the control HTTP endpoints: liveness, session status
// and prometheus metrics.
type Server struct {
	app    *App
	server *http.Server
}

// NewServer creates a new control server.
func NewServer(app *App, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		app: app,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := true
	components := map[string]string{}

	if s.app.db != nil {
		if err := s.app.db.Health(r.Context()); err != nil {
			components["database"] = err.Error()
			healthy = false
		} else {
			components["database"] = "ok"
		}
	} else {
		components["storage"] = "memory"
	}

	if s.app.redis != nil {
		if err := s.app.redis.Health(r.Context()); err != nil {
			components["redis"] = err.Error()
			healthy = false
		} else {
			components["redis"] = "ok"
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":     status,
		"components": components,
	})
}

// sessionStatus is the /status payload for a single session.
type sessionStatus struct {
	Session *domain.SyncSession     `json:"session"`
	Batches []*domain.BatchProgress `json:"batches"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if id := r.URL.Query().Get("session"); id != "" {
		sess, batches, err := s.app.tracker.GetStatus(r.Context(), id)
		if err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, storage.ErrSessionNotFound) {
				code = http.StatusNotFound
			}
			w.WriteHeader(code)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		json.NewEncoder(w).Encode(sessionStatus{Session: sess, Batches: batches})
		return
	}

	sessions, err := s.app.sessions.ListRecent(r.Context(), 20)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"sessions": sessions})
}
