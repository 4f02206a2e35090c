package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/matchsync/internal/match"
)

const clientBuffer = 32

// MatchBroadcaster fans reconciled match updates out to connected SSE clients.
// It keeps the latest update per match so late joiners get a full snapshot.
type MatchBroadcaster struct {
	broadcasterID string
	logger        *zap.Logger

	mu        gosync.RWMutex
	sequence  uint64
	clients   map[*sseClient]bool
	latest    map[string]match.Update
	order     []string
	connected bool
	message   string

	interval time.Duration
}

// sseClient represents a connected SSE subscriber.
type sseClient struct {
	class   string
	dataCh  chan queuedEvent
	doneCh  chan struct{}
	flusher http.Flusher
	writer  http.ResponseWriter
}

// queuedEvent is a formatted event waiting for a client. Keepalives carry
// sequence zero.
type queuedEvent struct {
	sequence uint64
	data     []byte
}

// NewMatchBroadcaster creates a broadcaster. interval is the keepalive
// period; zero disables keepalives.
func NewMatchBroadcaster(id string, interval time.Duration, logger *zap.Logger) *MatchBroadcaster {
	return &MatchBroadcaster{
		broadcasterID: id,
		logger:        logger.Named("observer"),
		clients:       make(map[*sseClient]bool),
		latest:        make(map[string]match.Update),
		interval:      interval,
	}
}

// Run sends keepalive comments until ctx is cancelled so idle proxies keep
// the streams open.
func (sb *MatchBroadcaster) Run(ctx context.Context) {
	if sb.interval <= 0 {
		<-ctx.Done()
		return
	}

	sb.logger.Info("match broadcaster starting",
		zap.String("broadcaster_id", sb.broadcasterID),
		zap.Duration("interval", sb.interval),
	)

	ticker := time.NewTicker(sb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sb.logger.Info("match broadcaster stopping")
			return
		case <-ticker.C:
			sb.mu.RLock()
			sb.fanOutLocked(queuedEvent{data: []byte(": keepalive\n\n")}, "")
			sb.mu.RUnlock()
		}
	}
}

// PublishUpdate records u as the latest state of its match and forwards it
// to every client. Updates without identity are ignored.
func (sb *MatchBroadcaster) PublishUpdate(u match.Update) {
	key := u.Key()
	if key == "" {
		return
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	if _, ok := sb.latest[key]; !ok {
		sb.order = append(sb.order, key)
	}
	sb.latest[key] = u
	sb.sequence++
	ev := MatchEvent{
		BroadcasterID: sb.broadcasterID,
		Timestamp:     time.Now().UnixMilli(),
		Sequence:      sb.sequence,
		Update:        u,
	}

	eventData, err := formatEvent("match", ev.Sequence, ev)
	if err != nil {
		sb.logger.Error("failed to format match event", zap.Error(err))
		return
	}
	sb.fanOutLocked(queuedEvent{sequence: ev.Sequence, data: eventData}, u.ClassID.OrElse(""))
}

// PublishStatus forwards a connectivity change. Its signature matches
// ws.StatusFunc.
func (sb *MatchBroadcaster) PublishStatus(connected bool, message string) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.connected = connected
	sb.message = message
	sb.sequence++
	ev := StatusEvent{
		BroadcasterID: sb.broadcasterID,
		Timestamp:     time.Now().UnixMilli(),
		Sequence:      sb.sequence,
		Connected:     connected,
		Message:       message,
	}

	eventData, err := formatEvent("status", ev.Sequence, ev)
	if err != nil {
		sb.logger.Error("failed to format status event", zap.Error(err))
		return
	}
	sb.fanOutLocked(queuedEvent{sequence: ev.Sequence, data: eventData}, "")
}

// Reset forgets every stored match. Connected observers keep streaming.
func (sb *MatchBroadcaster) Reset() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.latest = make(map[string]match.Update)
	sb.order = nil
}

// Snapshot returns the current state in first-seen match order. A non-empty
// class drops matches of a different class.
func (sb *MatchBroadcaster) Snapshot(class string) MatchSnapshot {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	matches := make([]match.Update, 0, len(sb.order))
	for _, key := range sb.order {
		u := sb.latest[key]
		if c := u.ClassID.OrElse(""); class != "" && c != "" && c != class {
			continue
		}
		matches = append(matches, u)
	}
	return MatchSnapshot{
		BroadcasterID: sb.broadcasterID,
		Timestamp:     time.Now().UnixMilli(),
		Sequence:      sb.sequence,
		Connected:     sb.connected,
		Matches:       matches,
	}
}

// ClientCount returns the number of connected SSE clients.
func (sb *MatchBroadcaster) ClientCount() int {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	return len(sb.clients)
}

// HandleSSE handles the SSE endpoint for observers. The optional "class"
// query parameter filters match events by class id.
func (sb *MatchBroadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	class := r.URL.Query().Get("class")

	// Check if SSE is supported
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	client := &sseClient{
		class:   class,
		dataCh:  make(chan queuedEvent, clientBuffer),
		doneCh:  make(chan struct{}),
		flusher: flusher,
		writer:  w,
	}

	// Register before taking the snapshot so no update falls in between.
	sb.addClient(client)
	defer sb.removeClient(client)

	sb.logger.Info("observer connected",
		zap.String("class", class),
		zap.String("remote_addr", r.RemoteAddr),
	)

	snapshot := sb.Snapshot(class)
	if err := sb.sendEvent(client, "snapshot", snapshot.Sequence, snapshot); err != nil {
		sb.logger.Error("failed to send snapshot", zap.Error(err))
		return
	}

	sb.stream(r.Context(), client, snapshot.Sequence)
}

// stream writes queued events to client until ctx ends. Events at or below
// after are already part of the snapshot the client received.
func (sb *MatchBroadcaster) stream(ctx context.Context, client *sseClient, after uint64) {
	for {
		select {
		case <-ctx.Done():
			sb.logger.Info("observer disconnected", zap.String("class", client.class))
			return
		case <-client.doneCh:
			return
		case ev := <-client.dataCh:
			if ev.sequence != 0 && ev.sequence <= after {
				continue
			}
			if _, err := client.writer.Write(ev.data); err != nil {
				sb.logger.Debug("failed to write to observer", zap.Error(err))
				return
			}
			client.flusher.Flush()
		}
	}
}

func (sb *MatchBroadcaster) addClient(client *sseClient) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.clients[client] = true
}

func (sb *MatchBroadcaster) removeClient(client *sseClient) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	delete(sb.clients, client)
	close(client.doneCh)
}

// fanOutLocked queues ev for every client without blocking. A non-empty
// class skips clients filtering on a different one. Callers hold sb.mu so
// events reach each client in sequence order.
func (sb *MatchBroadcaster) fanOutLocked(ev queuedEvent, class string) {
	for client := range sb.clients {
		if class != "" && client.class != "" && client.class != class {
			continue
		}
		select {
		case client.dataCh <- ev:
		default:
			// Channel full, client is slow
			sb.logger.Debug("observer channel full, dropping event",
				zap.String("class", client.class),
			)
		}
	}
}

func (sb *MatchBroadcaster) sendEvent(client *sseClient, eventType string, seq uint64, data interface{}) error {
	eventData, err := formatEvent(eventType, seq, data)
	if err != nil {
		return err
	}

	if _, err := client.writer.Write(eventData); err != nil {
		return err
	}
	client.flusher.Flush()
	return nil
}

func formatEvent(eventType string, seq uint64, data interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	event := fmt.Sprintf("event: %s\nid: %d\ndata: %s\n\n", eventType, seq, jsonData)
	return []byte(event), nil
}
