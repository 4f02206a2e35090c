package hub

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed between client frames. Clients heartbeat well inside this.
	readWait = 120 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB

	// Send buffer size per client.
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // Allow all origins for faker
}

// Client represents a WebSocket client connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	connID string
	groups map[string]bool
	logger *zap.Logger
}

// HandleWS upgrades the request and serves the hub protocol on it.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		connID: uuid.New().String(),
		groups: make(map[string]bool),
		logger: h.logger,
	}

	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	client.enqueue(buildWelcomeMessage(client.connID, h.name))

	go client.writePump()
	go client.readPump()
}

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.drop(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(readWait))

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
			}
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed, send close message
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("websocket write error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue queues a frame for this client, dropping it if the buffer is full.
// The client may already be unregistered, so a closed channel is tolerated.
func (c *Client) enqueue(frame []byte) {
	defer func() { _ = recover() }()
	select {
	case c.send <- frame:
	default:
		c.logger.Debug("send buffer full, frame dropped", zap.String("connID", c.connID))
	}
}

// handleMessage processes a frame sent by the client.
func (c *Client) handleMessage(data []byte) {
	msg, err := parseClientMessage(data)
	if err != nil {
		c.logger.Debug("failed to parse client message",
			zap.String("connID", c.connID),
			zap.Error(err),
		)
		return
	}

	now := time.Now()
	switch m := msg.(type) {
	case *heartbeatRequest:
		c.enqueue(buildHeartbeatAck(now))

	case *subscribeRequest:
		c.hub.JoinGroup(c, m.tournament)
		c.enqueue(buildSubscriptionConfirmed(m.tournament))

	case *unsubscribeRequest:
		c.hub.LeaveGroup(c, m.tournament)

	case *ackMessage:
		c.hub.recordAck(AckRecord{
			ConnID:       c.connID,
			ReceivedType: m.receivedType,
			MatchID:      m.matchID,
			Error:        m.reason,
			Failed:       m.failed,
			At:           now,
		})

	case *submitRequest:
		c.handleSubmit(m, now)
	}
}

func (c *Client) handleSubmit(m *submitRequest, now time.Time) {
	c.hub.recordSubmission(Submission{
		ConnID:     c.connID,
		RequestID:  m.requestID,
		Result:     m.result,
		Statistics: m.statistics,
		At:         now,
	})

	opts := c.hub.opts
	if opts.RejectSubmissions {
		if opts.DropReplies {
			c.enqueue(buildErrorMessage("rejected", "submissions are closed", m.requestID))
		} else {
			c.enqueue(buildReply(m.requestID, false, "submissions are closed"))
		}
		return
	}

	if !opts.DropReplies {
		c.enqueue(buildReply(m.requestID, true, ""))
	}

	if opts.EchoResults {
		frame := buildMatchUpdated(m.result, m.statistics)
		c.hub.mu.RLock()
		groups := make([]string, 0, len(c.groups))
		for g := range c.groups {
			groups = append(groups, g)
		}
		c.hub.mu.RUnlock()

		if len(groups) == 0 {
			c.enqueue(frame)
			return
		}
		for _, g := range groups {
			c.hub.Broadcast(g, frame)
		}
	}
}
