package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/matchsync/internal/match"
)

// Config configures a Client.
type Config struct {
	BaseURL       string
	Suffixes      []string
	PlainFallback bool
	AckTimeout    time.Duration
	Supervisor    SupervisorConfig
}

// Client is the hub link used by scoring applications and observers. It
// composes the Supervisor, Router, and Correlator.
type Client struct {
	sup        *Supervisor
	router     *Router
	correlator *Correlator
	book       *match.IdentityBook
	ackTimeout time.Duration
	logger     *zap.Logger

	mu            sync.Mutex
	subscriptions []string
}

// NewClient builds a Client. Endpoints are derived from cfg.BaseURL unless
// cfg.Supervisor.Endpoints is already set.
func NewClient(cfg Config, handlers Handlers, onStatus StatusFunc, logger *zap.Logger, metrics *Metrics) (*Client, error) {
	supCfg := cfg.Supervisor
	if len(supCfg.Endpoints) == 0 {
		endpoints, err := Candidates(cfg.BaseURL, cfg.Suffixes, cfg.PlainFallback)
		if err != nil {
			return nil, err
		}
		supCfg.Endpoints = endpoints
	}

	c := &Client{
		book:       match.NewIdentityBook(),
		ackTimeout: cfg.AckTimeout,
		logger:     logger,
	}
	if c.ackTimeout <= 0 {
		c.ackTimeout = DefaultAckTimeout
	}

	c.sup = NewSupervisor(supCfg, SupervisorHooks{
		Status: onStatus,
		Frame:  c.handleFrame,
		Open:   c.resubscribe,
	}, logger, metrics)
	c.correlator = NewCorrelator(c.sup, logger, metrics)
	c.router = NewRouter(c.sup, c.correlator, c.book, handlers, logger, metrics)

	return c, nil
}

func (c *Client) handleFrame(raw []byte) {
	c.router.HandleFrame(raw)
}

// Start connects to the hub. A failed first attempt is not fatal: the error
// is returned for reporting and reconnects continue in the background.
func (c *Client) Start(ctx context.Context) error {
	return c.sup.Start(ctx)
}

// Close rejects pending requests and disposes the connection.
func (c *Client) Close() error {
	c.correlator.Close()
	return c.sup.Close()
}

// Subscribe joins a tournament's update stream. Subscriptions are kept and
// re-sent after every reconnect; when offline, the subscription is sent on
// the next connect.
func (c *Client) Subscribe(ctx context.Context, tournamentID string) error {
	if tournamentID == "" {
		return errors.New("tournament id is required")
	}

	c.mu.Lock()
	known := false
	for _, id := range c.subscriptions {
		if id == tournamentID {
			known = true
			break
		}
	}
	if !known {
		c.subscriptions = append(c.subscriptions, tournamentID)
	}
	c.mu.Unlock()

	return c.sendSubscribe(ctx, tournamentID)
}

// Unsubscribe leaves a tournament's update stream.
func (c *Client) Unsubscribe(ctx context.Context, tournamentID string) error {
	c.mu.Lock()
	for i, id := range c.subscriptions {
		if id == tournamentID {
			c.subscriptions = append(c.subscriptions[:i], c.subscriptions[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	frame, err := EncodeUnsubscribe(tournamentID, time.Now())
	if err != nil {
		return err
	}
	if err := c.sup.Send(ctx, frame); err != nil && !errors.Is(err, ErrNotConnected) {
		return fmt.Errorf("unsubscribe %s: %w", tournamentID, err)
	}
	return nil
}

// SwitchTournament leaves every current subscription, forgets all identifier
// bindings, and subscribes to tournamentID.
func (c *Client) SwitchTournament(ctx context.Context, tournamentID string) error {
	for _, id := range c.Subscriptions() {
		if err := c.Unsubscribe(ctx, id); err != nil {
			return err
		}
	}
	c.book.Reset()
	c.logger.Info("identity bindings reset", zap.String("tournament", tournamentID))
	return c.Subscribe(ctx, tournamentID)
}

// Subscriptions returns the active tournament ids in subscription order.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.subscriptions))
	copy(out, c.subscriptions)
	return out
}

func (c *Client) sendSubscribe(ctx context.Context, tournamentID string) error {
	frame, err := EncodeSubscribe(tournamentID, time.Now())
	if err != nil {
		return err
	}
	if err := c.sup.Send(ctx, frame); err != nil {
		if errors.Is(err, ErrNotConnected) {
			c.logger.Debug("subscription deferred until connected", zap.String("tournament", tournamentID))
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", tournamentID, err)
	}
	return nil
}

func (c *Client) resubscribe() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()

	for _, id := range c.Subscriptions() {
		if err := c.sendSubscribe(ctx, id); err != nil {
			c.logger.Warn("resubscribe failed", zap.String("tournament", id), zap.Error(err))
		}
	}
}

// SubmitResult sends a result envelope and returns a Future resolving on the
// hub's inline reply or a matching match event.
func (c *Client) SubmitResult(ctx context.Context, env ResultEnvelope) (*Future, error) {
	if env.Submitter == "" {
		env.Submitter = "default"
	}
	return c.correlator.SendWithAck(ctx, env, c.ackTimeout)
}

// SubmitResultAndWait is SubmitResult followed by Future.Wait.
func (c *Client) SubmitResultAndWait(ctx context.Context, env ResultEnvelope) (Ack, error) {
	f, err := c.SubmitResult(ctx, env)
	if err != nil {
		return Ack{}, err
	}
	return f.Wait(ctx)
}

// ResetIdentities forgets every sequence/correlation binding and returns
// how many were dropped.
func (c *Client) ResetIdentities() int {
	n := c.book.Len()
	c.book.Reset()
	return n
}

// State returns the link state.
func (c *Client) State() State {
	return c.sup.State()
}

// Supervisor exposes the underlying connection supervisor.
func (c *Client) Supervisor() *Supervisor {
	return c.sup
}
