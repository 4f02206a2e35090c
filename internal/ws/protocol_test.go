package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/matchsync/internal/match"
)

func TestDecodeClassifiesInboundKinds(t *testing.T) {
	tests := []struct {
		raw  string
		kind Kind
	}{
		{`{"type":"welcome","data":{"connectionId":"c-1","message":"hi"}}`, KindWelcome},
		{`{"type":"heartbeat-ack","data":{"serverTime":1700000000000}}`, KindHeartbeatAck},
		{`{"type":"error","data":{"code":"bad","message":"nope"}}`, KindError},
		{`{"type":"subscription-confirmed","data":"spring-open"}`, KindSubscriptionConfirmed},
		{`{"type":"registration-confirmed","data":{"matchId":4}}`, KindRegistrationConfirmed},
		{`{"type":"match-updated","data":{"matchUpdate":{"tournamentMatchId":4}}}`, KindMatchUpdated},
		{`{"type":"match-started","data":{"matchId":4}}`, KindMatchStarted},
		{`{"type":"leg-completed","data":{"matchId":4}}`, KindLegCompleted},
		{`{"type":"match-in-progress","data":{"matchId":4}}`, KindMatchInProgress},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			ev, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, ev.Kind())
		})
	}
}

func TestDecodeTypedEvents(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"welcome","data":{"connectionId":"c-1","message":"hello"}}`))
	require.NoError(t, err)
	welcome, ok := ev.(Welcome)
	require.True(t, ok)
	assert.Equal(t, "c-1", welcome.ConnectionID)
	assert.Equal(t, "hello", welcome.Message)

	ev, err = Decode([]byte(`{"type":"heartbeat-ack","data":{"serverTime":1700000000000}}`))
	require.NoError(t, err)
	hb, ok := ev.(HeartbeatAck)
	require.True(t, ok)
	assert.Equal(t, time.UnixMilli(1700000000000), hb.ServerTime)

	ev, err = Decode([]byte(`{"type":"error","requestId":"r-1","data":{"code":"rejected","message":"closed"}}`))
	require.NoError(t, err)
	se, ok := ev.(ServerError)
	require.True(t, ok)
	assert.Equal(t, "rejected", se.Code)
	assert.Equal(t, "closed", se.Message)
	assert.Equal(t, "r-1", se.RequestID)
	assert.EqualError(t, se, "closed")
}

func TestDecodeDataEvent(t *testing.T) {
	raw := `{"type":"match-updated","requestId":"r-9","data":{"matchUpdate":{"tournamentMatchId":12}}}`
	ev, err := Decode([]byte(raw))
	require.NoError(t, err)

	de, ok := ev.(DataEvent)
	require.True(t, ok)
	assert.Equal(t, "r-9", de.RequestID)
	assert.Contains(t, de.Payload, "matchUpdate")
	assert.Equal(t, raw, string(de.Raw))
}

func TestDecodeDataEventWithoutDataUsesEnvelope(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"match-started","tournamentMatchId":3}`))
	require.NoError(t, err)

	de := ev.(DataEvent)
	assert.Equal(t, json.Number("3"), de.Payload["tournamentMatchId"])
}

func TestDecodeTextPayload(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"subscription-confirmed","data":"spring-open"}`))
	require.NoError(t, err)

	de := ev.(DataEvent)
	assert.Equal(t, "spring-open", de.Text)
}

func TestDecodeUnknownKind(t *testing.T) {
	for _, raw := range []string{
		`{"type":"bracket-published","data":{}}`,
		`{"type":"heartbeat","data":{}}`, // outbound kinds are not accepted inbound
	} {
		_, err := Decode([]byte(raw))
		assert.ErrorIs(t, err, ErrUnknownKind, raw)
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`[1,2,3]`,
		`null`,
		`{"data":{}}`,
		`{"type":42}`,
		``,
	} {
		_, err := Decode([]byte(raw))
		assert.ErrorIs(t, err, ErrMalformedFrame, raw)
	}
}

func decodeFrame(t *testing.T, frame []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(frame, &m))
	return m
}

func TestEncodeAck(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	frame, err := EncodeAck(KindLegCompleted, "42", now)
	require.NoError(t, err)

	m := decodeFrame(t, frame)
	assert.Equal(t, "ack", m["type"])
	assert.Equal(t, float64(1700000000123), m["timestamp"])
	data := m["data"].(map[string]any)
	assert.Equal(t, "leg-completed", data["receivedType"])
	assert.Equal(t, "42", data["matchId"])
}

func TestEncodeErrorAck(t *testing.T) {
	frame, err := EncodeErrorAck(KindMatchStarted, "no identity", time.Now())
	require.NoError(t, err)

	m := decodeFrame(t, frame)
	assert.Equal(t, "ack-error", m["type"])
	data := m["data"].(map[string]any)
	assert.Equal(t, "match-started", data["receivedType"])
	assert.Equal(t, "no identity", data["error"])
}

func TestEncodeSubscriptionFrames(t *testing.T) {
	frame, err := EncodeSubscribe("spring-open", time.Now())
	require.NoError(t, err)
	m := decodeFrame(t, frame)
	assert.Equal(t, "subscribe-tournament", m["type"])
	assert.Equal(t, "spring-open", m["data"])

	frame, err = EncodeUnsubscribe("spring-open", time.Now())
	require.NoError(t, err)
	m = decodeFrame(t, frame)
	assert.Equal(t, "unsubscribe-tournament", m["type"])
	assert.Equal(t, "spring-open", m["data"])
}

func TestEncodeHeartbeat(t *testing.T) {
	m := decodeFrame(t, EncodeHeartbeat(time.Now()))
	assert.Equal(t, "heartbeat", m["type"])
	assert.Equal(t, map[string]any{"status": "alive"}, m["data"])
}

func TestEncodeSubmitResult(t *testing.T) {
	env := ResultEnvelope{
		Submitter:  "board-1",
		Result:     map[string]any{"tournamentMatchId": 5, "winner": 1},
		Statistics: map[string]any{"average": 88.2},
	}
	frame, err := EncodeSubmitResult("req-1", env, time.Now())
	require.NoError(t, err)

	m := decodeFrame(t, frame)
	assert.Equal(t, "submit-result", m["type"])
	assert.Equal(t, "req-1", m["requestId"])
	assert.Equal(t, float64(5), m["result"].(map[string]any)["tournamentMatchId"])
	assert.Equal(t, 88.2, m["statistics"].(map[string]any)["average"])
	assert.NotContains(t, m, "Submitter")
}

func TestResultEnvelopeMatch(t *testing.T) {
	env := ResultEnvelope{Result: map[string]any{"tournamentMatchId": 5, "uniqueId": guid}}

	u := env.Match()
	seq, ok := u.SequenceID.Get()
	require.True(t, ok)
	assert.Equal(t, int64(5), seq)
	assert.Equal(t, guid, u.CorrelationID.OrElse(""))
	assert.True(t, u.SameMatch(match.Update{SequenceID: match.Some(int64(5))}))
}

func TestKindPredicates(t *testing.T) {
	for _, k := range []Kind{KindMatchStarted, KindLegCompleted, KindMatchInProgress} {
		assert.True(t, k.IsLiveProgress(), k)
		assert.True(t, k.IsDataBearing(), k)
	}
	assert.False(t, KindMatchUpdated.IsLiveProgress())
	assert.True(t, KindMatchUpdated.IsDataBearing())
	for _, k := range []Kind{KindWelcome, KindHeartbeatAck, KindError} {
		assert.False(t, k.IsDataBearing(), k)
	}
	assert.True(t, KindSubscriptionConfirmed.IsConfirmation())
	assert.True(t, KindRegistrationConfirmed.IsConfirmation())
	assert.False(t, KindAck.IsInbound())
}
