package ws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/matchsync/internal/match"
)

// Sender writes a frame to the hub.
type Sender interface {
	Send(ctx context.Context, data []byte) error
}

// Confirmation is a subscription or registration confirmation. Update is
// set only when the payload identified a match.
type Confirmation struct {
	Kind      Kind
	Subject   string
	Update    match.Update
	HasUpdate bool
}

// Handlers are the typed callbacks for decoded events. Nil handlers are
// skipped. Handlers run on the read goroutine and must not block for long.
type Handlers struct {
	OnMatchStarted          func(match.Update)
	OnLegCompleted          func(match.Update)
	OnMatchProgress         func(match.Update)
	OnLegacyMatchUpdate     func(match.Update)
	OnMatchUpdate           func(match.Update) // every update, after the typed handler
	OnSubscriptionConfirmed func(Confirmation)
	OnRegistrationConfirmed func(Confirmation)
	OnWelcome               func(Welcome)
	OnServerError           func(ServerError)
	OnFrame                 func(kind Kind, raw []byte) // every decoded frame; data frames after their ack
}

// Router decodes inbound frames, acknowledges data frames, and dispatches
// events to handlers.
type Router struct {
	sender     Sender
	correlator *Correlator
	book       *match.IdentityBook
	handlers   Handlers
	logger     *zap.Logger
	metrics    *Metrics
	now        func() time.Time
	ackTimeout time.Duration
}

// NewRouter creates a Router. correlator and book may be nil.
func NewRouter(sender Sender, correlator *Correlator, book *match.IdentityBook, handlers Handlers, logger *zap.Logger, metrics *Metrics) *Router {
	return &Router{
		sender:     sender,
		correlator: correlator,
		book:       book,
		handlers:   handlers,
		logger:     logger.Named("router"),
		metrics:    metrics,
		now:        time.Now,
		ackTimeout: defaultWriteTimeout,
	}
}

// HandleFrame processes one raw inbound frame. It never panics.
func (r *Router) HandleFrame(raw []byte) {
	ev, err := Decode(raw)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownKind):
			r.metrics.frameDropped("unknown")
			r.logger.Info("dropping frame of unknown kind", zap.Error(err))
		default:
			r.metrics.frameDropped("malformed")
			r.logger.Warn("dropping malformed frame", zap.Error(err), zap.Int("bytes", len(raw)))
		}
		return
	}
	r.metrics.frameReceived(ev.Kind())
	if _, data := ev.(DataEvent); !data {
		r.tap(ev.Kind(), raw)
	}

	switch e := ev.(type) {
	case Welcome:
		r.logger.Info("hub welcome",
			zap.String("connectionId", e.ConnectionID),
			zap.String("message", e.Message),
		)
		if r.handlers.OnWelcome != nil {
			r.safeCall(e.Kind(), func() { r.handlers.OnWelcome(e) })
		}

	case HeartbeatAck:
		r.logger.Debug("heartbeat acknowledged", zap.Time("serverTime", e.ServerTime))

	case ServerError:
		r.logger.Warn("hub reported error",
			zap.String("code", e.Code),
			zap.String("message", e.Message),
			zap.String("requestId", e.RequestID),
		)
		if r.correlator != nil {
			r.correlator.ObserveError(e)
		}
		if r.handlers.OnServerError != nil {
			r.safeCall(e.Kind(), func() { r.handlers.OnServerError(e) })
		}

	case DataEvent:
		r.handleData(e)
	}
}

// handleData sends exactly one acknowledgment per frame: an error
// acknowledgment when extraction fails, otherwise a success acknowledgment
// before any handler runs. A handler that panics after the ack went out is
// recovered and logged; it never produces a second, error acknowledgment.
func (r *Router) handleData(e DataEvent) {
	u, err := r.extract(e)
	if err != nil {
		r.logger.Warn("rejecting frame",
			zap.String("kind", string(e.Kind())),
			zap.Error(err),
		)
		r.sendAck(e.Kind(), "", err)
		r.tap(e.Kind(), e.Raw)
		return
	}

	r.sendAck(e.Kind(), u.Ref(), nil)
	r.tap(e.Kind(), e.Raw)
	r.notify(e, u)
}

func (r *Router) tap(kind Kind, raw []byte) {
	if r.handlers.OnFrame != nil {
		r.safeCall(kind, func() { r.handlers.OnFrame(kind, raw) })
	}
}

// extract turns a data event into an update. Panics are converted to errors.
func (r *Router) extract(e DataEvent) (u match.Update, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("extract %s: %v", e.Kind(), rec)
		}
	}()

	u = match.ReconcileAt(e.Payload, r.now())
	kind := e.Kind()

	if !u.HasIdentity() && !kind.IsConfirmation() {
		return match.Update{}, ErrNoIdentity
	}

	u = u.WithSource(string(kind))
	if kind.IsLiveProgress() {
		u = u.WithStatus(match.StatusInProgress)
	}
	if kind == KindMatchUpdated {
		u = u.WithRaw(string(e.Raw))
	}

	if r.book != nil && u.HasIdentity() {
		var conflict *match.Conflict
		u, conflict = r.book.Observe(u)
		if conflict != nil {
			r.metrics.conflict()
			r.logger.Warn("identity conflict",
				zap.String("kind", string(kind)),
				zap.Error(conflict),
			)
		}
	}
	return u, nil
}

func (r *Router) sendAck(kind Kind, matchRef string, failure error) {
	var (
		frame []byte
		err   error
	)
	if failure != nil {
		frame, err = EncodeErrorAck(kind, failure.Error(), r.now())
	} else {
		frame, err = EncodeAck(kind, matchRef, r.now())
	}
	if err != nil {
		r.logger.Error("encode acknowledgment", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.ackTimeout)
	defer cancel()
	if err := r.sender.Send(ctx, frame); err != nil {
		r.logger.Warn("acknowledgment not sent",
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return
	}
	r.metrics.ackSent(failure == nil)
}

func (r *Router) notify(e DataEvent, u match.Update) {
	kind := e.Kind()

	if r.correlator != nil && u.HasIdentity() {
		r.correlator.ObserveUpdate(kind, e.RequestID, u)
	}

	var typed func(match.Update)
	switch kind {
	case KindMatchStarted:
		typed = r.handlers.OnMatchStarted
	case KindLegCompleted:
		typed = r.handlers.OnLegCompleted
	case KindMatchInProgress:
		typed = r.handlers.OnMatchProgress
	case KindMatchUpdated:
		typed = r.handlers.OnLegacyMatchUpdate
	case KindSubscriptionConfirmed, KindRegistrationConfirmed:
		r.confirm(e, u)
	}

	if typed != nil {
		r.safeCall(kind, func() { typed(u) })
	}
	if r.handlers.OnMatchUpdate != nil && u.HasIdentity() {
		r.safeCall(kind, func() { r.handlers.OnMatchUpdate(u) })
	}
}

func (r *Router) confirm(e DataEvent, u match.Update) {
	c := Confirmation{
		Kind:      e.Kind(),
		Subject:   firstNonEmpty(e.Text, firstStringField(e.Payload, "tournamentId", "subject", "id")),
		Update:    u,
		HasUpdate: u.HasIdentity(),
	}
	r.logger.Info("hub confirmation",
		zap.String("kind", string(c.Kind)),
		zap.String("subject", c.Subject),
	)

	handler := r.handlers.OnSubscriptionConfirmed
	if c.Kind == KindRegistrationConfirmed {
		handler = r.handlers.OnRegistrationConfirmed
	}
	if handler != nil {
		r.safeCall(c.Kind, func() { handler(c) })
	}
}

// safeCall runs a handler, logging and swallowing any panic.
func (r *Router) safeCall(kind Kind, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("event handler panicked",
				zap.String("kind", string(kind)),
				zap.Any("panic", rec),
			)
		}
	}()
	fn()
}
