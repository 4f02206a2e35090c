package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dgnsrekt/matchsync/internal/match"
)

// DefaultAckTimeout bounds how long a submission waits for confirmation.
const DefaultAckTimeout = 15 * time.Second

// AckSource names the signal that resolved a request.
type AckSource string

const (
	AckInline AckSource = "inline"
	AckEvent  AckSource = "event"
)

// Ack is the successful resolution of a request.
type Ack struct {
	RequestID  string
	Source     AckSource
	Data       map[string]any
	Update     match.Update // set when resolved by a match event
	ReceivedAt time.Time
}

// Invoker sends a frame and routes its inline reply.
type Invoker interface {
	Invoke(ctx context.Context, requestID string, frame []byte, onReply func(Reply)) error
	ForgetReply(requestID string)
}

// Future is a pending request. It resolves exactly once.
type Future struct {
	RequestID string
	Submitter string
	IssuedAt  time.Time
	Deadline  time.Time

	ref   match.Update
	timer *time.Timer
	once  sync.Once
	done  chan struct{}
	ack   Ack
	err   error
}

// Done is closed when the future resolves.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the future resolves or ctx ends. A ctx error does not
// cancel the request.
func (f *Future) Wait(ctx context.Context) (Ack, error) {
	select {
	case <-f.done:
		return f.ack, f.err
	case <-ctx.Done():
		return Ack{}, ctx.Err()
	}
}

// Correlator pairs outbound requests with their inline reply or a later
// inbound event, whichever comes first.
type Correlator struct {
	invoker Invoker
	logger  *zap.Logger
	metrics *Metrics

	mu          sync.Mutex
	pending     map[string]*Future
	bySubmitter map[string]*Future
	closed      bool
}

// NewCorrelator creates a Correlator writing through invoker.
func NewCorrelator(invoker Invoker, logger *zap.Logger, metrics *Metrics) *Correlator {
	return &Correlator{
		invoker:     invoker,
		logger:      logger.Named("correlator"),
		metrics:     metrics,
		pending:     make(map[string]*Future),
		bySubmitter: make(map[string]*Future),
	}
}

// SendWithAck submits env and returns a Future. Only one request per
// submitter may be pending; a second fails with ErrRequestInFlight without
// touching the channel.
func (c *Correlator) SendWithAck(ctx context.Context, env ResultEnvelope, timeout time.Duration) (*Future, error) {
	if timeout <= 0 {
		timeout = DefaultAckTimeout
	}

	now := time.Now()
	f := &Future{
		RequestID: uuid.New().String(),
		Submitter: env.Submitter,
		IssuedAt:  now,
		Deadline:  now.Add(timeout),
		ref:       env.Match(),
		done:      make(chan struct{}),
	}

	frame, err := EncodeSubmitResult(f.RequestID, env, now)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrCorrelatorClosed
	}
	if existing, ok := c.bySubmitter[f.Submitter]; ok {
		c.mu.Unlock()
		c.metrics.requestOutcome("in_flight")
		c.logger.Debug("rejecting request while another is pending",
			zap.String("submitter", f.Submitter),
			zap.String("pending", existing.RequestID),
		)
		return nil, ErrRequestInFlight
	}
	c.pending[f.RequestID] = f
	c.bySubmitter[f.Submitter] = f
	f.timer = time.AfterFunc(timeout, func() {
		if c.resolve(f, Ack{}, &TimeoutError{RequestID: f.RequestID, After: timeout}) {
			c.metrics.requestOutcome("timeout")
			c.invoker.ForgetReply(f.RequestID)
			c.logger.Warn("request timed out",
				zap.String("requestId", f.RequestID),
				zap.Duration("timeout", timeout),
			)
		}
	})
	c.mu.Unlock()

	err = c.invoker.Invoke(ctx, f.RequestID, frame, func(r Reply) { c.resolveReply(f, r) })
	if err != nil {
		c.resolve(f, Ack{}, err)
		c.metrics.requestOutcome("send_failed")
		return nil, err
	}

	c.logger.Debug("request sent",
		zap.String("requestId", f.RequestID),
		zap.String("submitter", f.Submitter),
		zap.String("match", f.ref.Ref()),
	)
	return f, nil
}

func (c *Correlator) resolveReply(f *Future, r Reply) {
	var (
		ack Ack
		err error
	)
	if r.Success {
		ack = Ack{RequestID: f.RequestID, Source: AckInline, Data: r.Data, ReceivedAt: time.Now()}
	} else {
		err = &RemoteError{RequestID: f.RequestID, Message: r.Error}
	}
	if c.resolve(f, ack, err) {
		if err != nil {
			c.metrics.requestOutcome("rejected")
		} else {
			c.metrics.requestOutcome("inline")
		}
	} else {
		c.logger.Debug("late inline reply discarded", zap.String("requestId", f.RequestID))
	}
}

// ObserveUpdate resolves pending requests confirmed by an inbound match
// event: either the event echoes the request id, or it is a final result
// for the same match.
func (c *Correlator) ObserveUpdate(kind Kind, requestID string, u match.Update) {
	for _, f := range c.snapshot() {
		echoed := requestID != "" && requestID == f.RequestID
		final := (kind == KindMatchUpdated || u.Status == match.StatusFinished) && f.ref.SameMatch(u)
		if !echoed && !final {
			continue
		}
		ack := Ack{RequestID: f.RequestID, Source: AckEvent, Update: u, ReceivedAt: time.Now()}
		if c.resolve(f, ack, nil) {
			c.metrics.requestOutcome("event")
			c.invoker.ForgetReply(f.RequestID)
		}
	}
}

// ObserveError resolves the request named by a hub error event.
func (c *Correlator) ObserveError(e ServerError) {
	if e.RequestID == "" {
		return
	}
	c.mu.Lock()
	f, ok := c.pending[e.RequestID]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("error event for unknown request", zap.String("requestId", e.RequestID))
		return
	}
	if c.resolve(f, Ack{}, &RemoteError{RequestID: e.RequestID, Code: e.Code, Message: e.Message}) {
		c.metrics.requestOutcome("rejected")
		c.invoker.ForgetReply(f.RequestID)
	}
}

// Cancel rejects a pending request with context.Canceled.
func (c *Correlator) Cancel(requestID string) bool {
	c.mu.Lock()
	f, ok := c.pending[requestID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	if c.resolve(f, Ack{}, context.Canceled) {
		c.metrics.requestOutcome("cancelled")
		c.invoker.ForgetReply(requestID)
		return true
	}
	return false
}

// Pending returns the number of unresolved requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close rejects every pending request with ErrCorrelatorClosed.
func (c *Correlator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	for _, f := range c.snapshot() {
		c.resolve(f, Ack{}, ErrCorrelatorClosed)
	}
}

func (c *Correlator) snapshot() []*Future {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Future, 0, len(c.pending))
	for _, f := range c.pending {
		out = append(out, f)
	}
	return out
}

// resolve settles f once. It returns false if f was already settled.
func (c *Correlator) resolve(f *Future, ack Ack, err error) bool {
	resolved := false
	f.once.Do(func() {
		c.mu.Lock()
		delete(c.pending, f.RequestID)
		if c.bySubmitter[f.Submitter] == f {
			delete(c.bySubmitter, f.Submitter)
		}
		timer := f.timer
		c.mu.Unlock()

		if timer != nil {
			timer.Stop()
		}
		f.ack, f.err = ack, err
		close(f.done)
		resolved = true
	})
	if !resolved && !errors.Is(err, ErrCorrelatorClosed) {
		c.logger.Debug("duplicate resolution ignored", zap.String("requestId", f.RequestID))
	}
	return resolved
}
