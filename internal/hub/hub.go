package hub

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Options tune fake hub behavior.
type Options struct {
	// DropReplies suppresses inline replies to submit-result, so clients must
	// rely on the match-updated broadcast or time out.
	DropReplies bool
	// EchoResults broadcasts a match-updated frame for every submission.
	EchoResults bool
	// RejectSubmissions answers every submission with an error reply.
	RejectSubmissions bool
}

// AckRecord is an acknowledgment received from a client.
type AckRecord struct {
	ConnID       string
	ReceivedType string
	MatchID      string
	Error        string
	Failed       bool
	At           time.Time
}

// Submission is a result received from a client.
type Submission struct {
	ConnID     string
	RequestID  string
	Result     map[string]any
	Statistics map[string]any
	At         time.Time
}

// Hub manages client connections and tournament groups.
type Hub struct {
	name       string
	opts       Options
	clients    map[*Client]bool
	groups     map[string]map[*Client]bool // tournament -> clients
	register   chan *Client
	unregister chan *Client
	broadcast  chan *GroupMessage
	done       chan struct{}
	mu         sync.RWMutex
	logger     *zap.Logger

	recMu       sync.Mutex
	acks        []AckRecord
	submissions []Submission
	connects    int
}

// GroupMessage is a frame for every client in a group. An empty Group
// targets all clients.
type GroupMessage struct {
	Group   string
	Payload []byte
}

// NewHub creates a new Hub.
func NewHub(name string, opts Options, logger *zap.Logger) *Hub {
	return &Hub{
		name:       name,
		opts:       opts,
		clients:    make(map[*Client]bool),
		groups:     make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *GroupMessage, 256),
		done:       make(chan struct{}),
		logger:     logger.Named("fakehub"),
	}
}

// Run processes hub events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub shutting down", zap.String("hub", h.name))
			h.shutdown()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.recMu.Lock()
			h.connects++
			h.recMu.Unlock()
			h.logger.Debug("client registered",
				zap.String("hub", h.name),
				zap.String("connID", client.connID),
			)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				for group := range client.groups {
					if clients, ok := h.groups[group]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.groups, group)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered",
				zap.String("hub", h.name),
				zap.String("connID", client.connID),
			)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg *GroupMessage) {
	h.mu.RLock()
	targets := h.clients
	if msg.Group != "" {
		targets = h.groups[msg.Group]
	}
	list := make([]*Client, 0, len(targets))
	for client := range targets {
		list = append(list, client)
	}
	h.mu.RUnlock()

	for _, client := range list {
		select {
		case client.send <- msg.Payload:
		default:
			// Buffer full, schedule disconnect
			go h.drop(client)
		}
	}
}

// drop unregisters a client unless the hub has already stopped.
func (h *Hub) drop(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) shutdown() {
	close(h.done)
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.groups = make(map[string]map[*Client]bool)
}

// JoinGroup adds a client to a tournament group.
func (h *Hub) JoinGroup(client *Client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.groups[group] == nil {
		h.groups[group] = make(map[*Client]bool)
	}
	h.groups[group][client] = true
	client.groups[group] = true

	h.logger.Debug("client joined group",
		zap.String("connID", client.connID),
		zap.String("group", group),
	)
}

// LeaveGroup removes a client from a tournament group.
func (h *Hub) LeaveGroup(client *Client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.groups[group]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.groups, group)
		}
	}
	delete(client.groups, group)

	h.logger.Debug("client left group",
		zap.String("connID", client.connID),
		zap.String("group", group),
	)
}

// ActiveGroups returns all groups with at least one subscriber.
func (h *Hub) ActiveGroups() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var groups []string
	for group, clients := range h.groups {
		if len(clients) > 0 {
			groups = append(groups, group)
		}
	}
	return groups
}

// Broadcast queues a frame for every client in group, or every client when
// group is empty.
func (h *Hub) Broadcast(group string, payload []byte) {
	h.broadcast <- &GroupMessage{Group: group, Payload: payload}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Connects returns the number of connections accepted so far.
func (h *Hub) Connects() int {
	h.recMu.Lock()
	defer h.recMu.Unlock()
	return h.connects
}

// DisconnectAll drops every client connection without a close handshake.
func (h *Hub) DisconnectAll() {
	h.mu.RLock()
	list := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		list = append(list, client)
	}
	h.mu.RUnlock()

	for _, client := range list {
		_ = client.conn.Close()
	}
}

func (h *Hub) recordAck(rec AckRecord) {
	h.recMu.Lock()
	defer h.recMu.Unlock()
	h.acks = append(h.acks, rec)
}

func (h *Hub) recordSubmission(sub Submission) {
	h.recMu.Lock()
	defer h.recMu.Unlock()
	h.submissions = append(h.submissions, sub)
}

// Acks returns a copy of the acknowledgments received.
func (h *Hub) Acks() []AckRecord {
	h.recMu.Lock()
	defer h.recMu.Unlock()
	out := make([]AckRecord, len(h.acks))
	copy(out, h.acks)
	return out
}

// Submissions returns a copy of the results received.
func (h *Hub) Submissions() []Submission {
	h.recMu.Lock()
	defer h.recMu.Unlock()
	out := make([]Submission, len(h.submissions))
	copy(out, h.submissions)
	return out
}
