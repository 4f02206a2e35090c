package ws

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgnsrekt/matchsync/internal/match"
)

// Kind is the envelope "type" discriminator.
type Kind string

// Inbound kinds.
const (
	KindWelcome               Kind = "welcome"
	KindSubscriptionConfirmed Kind = "subscription-confirmed"
	KindRegistrationConfirmed Kind = "registration-confirmed"
	KindMatchUpdated          Kind = "match-updated"
	KindMatchStarted          Kind = "match-started"
	KindLegCompleted          Kind = "leg-completed"
	KindMatchInProgress       Kind = "match-in-progress"
	KindHeartbeatAck          Kind = "heartbeat-ack"
	KindError                 Kind = "error"
)

// Outbound kinds.
const (
	KindHeartbeat    Kind = "heartbeat"
	KindSubscribe    Kind = "subscribe-tournament"
	KindUnsubscribe  Kind = "unsubscribe-tournament"
	KindSubmitResult Kind = "submit-result"
	KindAck          Kind = "ack"
	KindErrorAck     Kind = "ack-error"
)

// KindReply carries the inline answer to a request. It is consumed by the
// Supervisor and never reaches the Router.
const KindReply Kind = "reply"

var inboundKinds = map[Kind]bool{
	KindWelcome:               true,
	KindSubscriptionConfirmed: true,
	KindRegistrationConfirmed: true,
	KindMatchUpdated:          true,
	KindMatchStarted:          true,
	KindLegCompleted:          true,
	KindMatchInProgress:       true,
	KindHeartbeatAck:          true,
	KindError:                 true,
}

// IsInbound reports whether k belongs to the closed inbound set.
func (k Kind) IsInbound() bool { return inboundKinds[k] }

// IsDataBearing reports whether frames of this kind produce a match update.
func (k Kind) IsDataBearing() bool {
	return k.IsInbound() && k != KindWelcome && k != KindHeartbeatAck && k != KindError
}

// IsLiveProgress reports whether the kind describes a running match.
func (k Kind) IsLiveProgress() bool {
	return k == KindMatchStarted || k == KindLegCompleted || k == KindMatchInProgress
}

// IsConfirmation reports whether the kind confirms a client request.
func (k Kind) IsConfirmation() bool {
	return k == KindSubscriptionConfirmed || k == KindRegistrationConfirmed
}

// Event is one decoded inbound frame.
type Event interface {
	Kind() Kind
	isEvent()
}

// Welcome is sent by the hub once per connection.
type Welcome struct {
	ConnectionID string
	Message      string
}

// HeartbeatAck answers a heartbeat.
type HeartbeatAck struct {
	ServerTime time.Time
}

// ServerError is an application-level failure reported by the hub.
type ServerError struct {
	Code      string
	Message   string
	RequestID string
	Payload   map[string]any
}

// DataEvent is any data-bearing frame. Payload is the "data" object when
// present, else the whole envelope.
type DataEvent struct {
	kind      Kind
	RequestID string
	Text      string // plain string "data"
	Payload   map[string]any
	Envelope  map[string]any
	Raw       []byte
}

func (Welcome) Kind() Kind      { return KindWelcome }
func (HeartbeatAck) Kind() Kind { return KindHeartbeatAck }
func (ServerError) Kind() Kind  { return KindError }
func (e DataEvent) Kind() Kind  { return e.kind }

func (Welcome) isEvent()      {}
func (HeartbeatAck) isEvent() {}
func (ServerError) isEvent()  {}
func (DataEvent) isEvent()    {}

func (e ServerError) Error() string { return e.Message }

// Decode classifies a raw inbound frame.
func Decode(raw []byte) (Event, error) {
	env, err := decodeObject(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	typ, _ := env["type"].(string)
	if typ == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	kind := Kind(typ)
	if !kind.IsInbound() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, typ)
	}

	payload, _ := env["data"].(map[string]any)
	text, _ := env["data"].(string)
	requestID := stringField(env, "requestId")
	if requestID == "" {
		requestID = stringField(payload, "requestId")
	}

	switch kind {
	case KindWelcome:
		return Welcome{
			ConnectionID: firstStringField(payload, "connectionId", "clientId"),
			Message:      firstNonEmpty(stringField(payload, "message"), text),
		}, nil

	case KindHeartbeatAck:
		ack := HeartbeatAck{}
		if ms, ok := millisField(payload, "serverTime"); ok {
			ack.ServerTime = time.UnixMilli(ms)
		} else if ms, ok := millisField(env, "timestamp"); ok {
			ack.ServerTime = time.UnixMilli(ms)
		}
		return ack, nil

	case KindError:
		msg := firstNonEmpty(firstStringField(payload, "message", "error"), stringField(env, "message"), text)
		return ServerError{
			Code:      firstStringField(payload, "code"),
			Message:   msg,
			RequestID: requestID,
			Payload:   payload,
		}, nil
	}

	ev := DataEvent{
		kind:      kind,
		RequestID: requestID,
		Text:      text,
		Payload:   payload,
		Envelope:  env,
		Raw:       raw,
	}
	if ev.Payload == nil {
		ev.Payload = env
	}
	return ev, nil
}

// Reply is the inline answer to a request sent with Supervisor.Invoke.
type Reply struct {
	RequestID string         `json:"requestId"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

type frameHeader struct {
	Type      Kind   `json:"type"`
	RequestID string `json:"requestId"`
}

// peekHeader reads only the discriminator and request id.
func peekHeader(raw []byte) (frameHeader, bool) {
	var h frameHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return frameHeader{}, false
	}
	return h, true
}

func decodeReply(raw []byte) (Reply, error) {
	var r Reply
	if err := json.Unmarshal(raw, &r); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return r, nil
}

// ResultEnvelope is a result submission. Result is the human-oriented
// summary; Statistics is the optional richer sub-object.
type ResultEnvelope struct {
	Submitter  string         `json:"-"`
	Result     map[string]any `json:"result"`
	Statistics map[string]any `json:"statistics,omitempty"`
}

// Match returns the identity of the match the envelope refers to.
func (e ResultEnvelope) Match() match.Update {
	return match.Reconcile(map[string]any{"result": e.Result})
}

type outbound struct {
	Type       Kind           `json:"type"`
	RequestID  string         `json:"requestId,omitempty"`
	Data       any            `json:"data,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	Statistics map[string]any `json:"statistics,omitempty"`
	Timestamp  int64          `json:"timestamp"`
}

func encode(o outbound, now time.Time) ([]byte, error) {
	o.Timestamp = now.UnixMilli()
	data, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", o.Type, err)
	}
	return data, nil
}

// EncodeHeartbeat builds a heartbeat frame.
func EncodeHeartbeat(now time.Time) []byte {
	data, _ := encode(outbound{Type: KindHeartbeat, Data: map[string]string{"status": "alive"}}, now)
	return data
}

// EncodeSubscribe builds a tournament subscription. The payload is the plain
// tournament identifier.
func EncodeSubscribe(tournamentID string, now time.Time) ([]byte, error) {
	return encode(outbound{Type: KindSubscribe, Data: tournamentID}, now)
}

// EncodeUnsubscribe builds a tournament unsubscription.
func EncodeUnsubscribe(tournamentID string, now time.Time) ([]byte, error) {
	return encode(outbound{Type: KindUnsubscribe, Data: tournamentID}, now)
}

// EncodeAck acknowledges receipt of a data frame.
func EncodeAck(received Kind, matchRef string, now time.Time) ([]byte, error) {
	return encode(outbound{Type: KindAck, Data: map[string]string{
		"receivedType": string(received),
		"matchId":      matchRef,
	}}, now)
}

// EncodeErrorAck reports that a data frame could not be processed.
func EncodeErrorAck(received Kind, reason string, now time.Time) ([]byte, error) {
	return encode(outbound{Type: KindErrorAck, Data: map[string]string{
		"receivedType": string(received),
		"error":        reason,
	}}, now)
}

// EncodeSubmitResult builds a result submission tagged with requestID.
func EncodeSubmitResult(requestID string, env ResultEnvelope, now time.Time) ([]byte, error) {
	return encode(outbound{
		Type:       KindSubmitResult,
		RequestID:  requestID,
		Result:     env.Result,
		Statistics: env.Statistics,
	}, now)
}

func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var env map[string]any
	if err := dec.Decode(&env); err != nil {
		return nil, err
	}
	if env == nil {
		return nil, fmt.Errorf("not an object")
	}
	return env, nil
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	}
	return ""
}

func firstStringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringField(m, k); s != "" {
			return s
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func millisField(m map[string]any, key string) (int64, bool) {
	if m == nil {
		return 0, false
	}
	n, ok := m[key].(json.Number)
	if !ok {
		return 0, false
	}
	ms, err := n.Int64()
	return ms, err == nil
}
