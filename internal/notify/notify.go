package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Notifier is the interface for sending hub link notifications.
type Notifier interface {
	SendLost(ctx context.Context, reason string, upFor time.Duration) error
	SendRestored(ctx context.Context, reason string, downFor time.Duration) error
}

// Client implements the ntfy notification client.
type Client struct {
	httpClient *http.Client
	config     *Config
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient creates a new ntfy client.
func NewClient(cfg *Config, logger *zap.Logger) *Client {
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		config:  cfg,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.Named("notify"),
	}
}

// SendLost sends a link-lost notification.
func (c *Client) SendLost(ctx context.Context, reason string, upFor time.Duration) error {
	if !c.config.Enabled {
		return nil
	}

	title := "Hub link lost"
	message := FormatLostMessage(reason, upFor)
	tags := c.config.Tags + ",warning"
	priority := "high" // Override to high priority for outages

	return c.send(ctx, title, message, tags, priority)
}

// SendRestored sends a link-restored notification.
func (c *Client) SendRestored(ctx context.Context, reason string, downFor time.Duration) error {
	if !c.config.Enabled {
		return nil
	}

	title := "Hub link restored"
	message := FormatRestoredMessage(reason, downFor)
	tags := c.config.Tags + ",white_check_mark"

	return c.send(ctx, title, message, tags, c.config.Priority)
}

func (c *Client) send(ctx context.Context, title, message, tags, priority string) error {
	if !c.limiter.Allow() {
		c.logger.Debug("notification throttled", zap.String("title", title))
		return nil
	}

	url := fmt.Sprintf("%s/%s", strings.TrimSuffix(c.config.Server, "/"), c.config.Topic)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", tags)

	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("failed to send notification", zap.Error(err))
		return fmt.Errorf("sending notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain response body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("notification failed",
			zap.Int("status", resp.StatusCode),
			zap.String("url", url),
		)
		return fmt.Errorf("notification failed with status: %d", resp.StatusCode)
	}

	c.logger.Debug("notification sent", zap.String("title", title))
	return nil
}

// NoopNotifier is a no-op implementation for when notifications are disabled.
type NoopNotifier struct{}

// SendLost is a no-op.
func (n *NoopNotifier) SendLost(_ context.Context, _ string, _ time.Duration) error {
	return nil
}

// SendRestored is a no-op.
func (n *NoopNotifier) SendRestored(_ context.Context, _ string, _ time.Duration) error {
	return nil
}

// New creates the appropriate notifier based on config.
func New(cfg *Config, logger *zap.Logger) Notifier {
	if !cfg.Enabled {
		return &NoopNotifier{}
	}
	return NewClient(cfg, logger)
}

// LinkWatcher turns connectivity callbacks into lost/restored
// notifications. Only transitions after the first successful connect are
// reported, so the initial connect and repeated failures stay quiet.
type LinkWatcher struct {
	notifier Notifier
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	seenOpen  bool
	connected bool
	since     time.Time
	wg        sync.WaitGroup
}

// NewLinkWatcher creates a LinkWatcher sending through notifier.
func NewLinkWatcher(notifier Notifier, logger *zap.Logger) *LinkWatcher {
	return &LinkWatcher{
		notifier: notifier,
		timeout:  30 * time.Second,
		logger:   logger.Named("notify"),
		now:      time.Now,
	}
}

// Observe records a connectivity change. Its signature matches
// ws.StatusFunc. Notifications are sent in the background.
func (lw *LinkWatcher) Observe(connected bool, reason string) {
	lw.mu.Lock()
	now := lw.now()
	elapsed := now.Sub(lw.since)

	var send func(ctx context.Context) error
	switch {
	case connected && !lw.connected:
		if lw.seenOpen {
			send = func(ctx context.Context) error { return lw.notifier.SendRestored(ctx, reason, elapsed) }
		}
		lw.seenOpen = true
		lw.connected = true
		lw.since = now
	case !connected && lw.connected:
		send = func(ctx context.Context) error { return lw.notifier.SendLost(ctx, reason, elapsed) }
		lw.connected = false
		lw.since = now
	}
	lw.mu.Unlock()

	if send == nil {
		return
	}

	lw.wg.Add(1)
	go func() {
		defer lw.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), lw.timeout)
		defer cancel()
		if err := send(ctx); err != nil {
			lw.logger.Warn("link notification failed", zap.Error(err))
		}
	}()
}

// Wait blocks until in-flight notifications finish.
func (lw *LinkWatcher) Wait() {
	lw.wg.Wait()
}
