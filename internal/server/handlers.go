package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/matchsync/internal/sync"
	"github.com/dgnsrekt/matchsync/internal/ws"
)

// LinkStatus reports the state of the hub link.
type LinkStatus interface {
	State() ws.State
	Endpoint() ws.Endpoint
	LastHeartbeat() time.Time
	Retries() int
	ReconnectPending() bool
}

// Server serves observer requests.
type Server struct {
	broadcaster *sync.MatchBroadcaster
	link        LinkStatus
	logger      *zap.Logger
}

// NewServer creates a Server. link may be nil when no hub link exists.
func NewServer(broadcaster *sync.MatchBroadcaster, link LinkStatus, logger *zap.Logger) *Server {
	return &Server{
		broadcaster: broadcaster,
		link:        link,
		logger:      logger,
	}
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status        string     `json:"status"`
	State         string     `json:"state,omitempty"`
	Endpoint      string     `json:"endpoint,omitempty"`
	Retries       int        `json:"retries"`
	Reconnecting  bool       `json:"reconnect_pending"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	Observers     int        `json:"observers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Observers: s.broadcaster.ClientCount(),
	}
	code := http.StatusOK

	if s.link != nil {
		state := s.link.State()
		resp.State = state.String()
		resp.Endpoint = s.link.Endpoint().URL
		resp.Retries = s.link.Retries()
		resp.Reconnecting = s.link.ReconnectPending()
		if hb := s.link.LastHeartbeat(); !hb.IsZero() {
			resp.LastHeartbeat = &hb
		}
		if state != ws.StateOpen {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	s.writeJSON(w, code, resp)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot := s.broadcaster.Snapshot(r.URL.Query().Get("class"))
	s.writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}
