package hub

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Paths the hub accepts websocket upgrades on.
var hubPaths = []string{"/ws", "/hub", "/matchHub"}

// NewRouter exposes the hub over HTTP: websocket upgrades on every hub path,
// plus admin endpoints for driving tests and demos.
func NewRouter(h *Hub, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	for _, p := range hubPaths {
		r.Get(p, h.HandleWS)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"hub":     h.name,
			"clients": h.ClientCount(),
			"groups":  h.ActiveGroups(),
		})
	})

	r.Route("/admin", func(admin chi.Router) {
		admin.Post("/broadcast", h.handleBroadcast)
		admin.Post("/disconnect", func(w http.ResponseWriter, _ *http.Request) {
			h.DisconnectAll()
			w.WriteHeader(http.StatusNoContent)
		})
		admin.Get("/acks", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, h.Acks())
		})
		admin.Get("/submissions", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, h.Submissions())
		})
	})

	return r
}

// handleBroadcast sends the request body, a complete frame, to the group
// named by the "group" query parameter (all clients when absent).
func (h *Hub) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if !json.Valid(body) {
		http.Error(w, "body must be a JSON frame", http.StatusBadRequest)
		return
	}

	group := r.URL.Query().Get("group")
	h.Broadcast(group, body)
	h.logger.Debug("admin broadcast", zap.String("group", group), zap.Int("size", len(body)))
	w.WriteHeader(http.StatusAccepted)
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
