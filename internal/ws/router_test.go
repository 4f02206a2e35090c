package ws

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/matchsync/internal/match"
)

func newTestRouter(handlers Handlers, book *match.IdentityBook) (*Router, *fakeSender, *eventLog) {
	log := &eventLog{}
	sender := &fakeSender{log: log}
	return NewRouter(sender, nil, book, handlers, zap.NewNop(), nil), sender, log
}

func TestRouterLegCompletedAcksThenNotifies(t *testing.T) {
	var got match.Update
	var log *eventLog
	handlers := Handlers{
		OnLegCompleted: func(u match.Update) {
			got = u
			log.add("typed")
		},
		OnMatchUpdate: func(match.Update) { log.add("update") },
	}
	r, sender, l := newTestRouter(handlers, nil)
	log = l

	r.HandleFrame([]byte(`{"type":"leg-completed","data":{"matchId":"` + guid + `","currentLeg":2,"totalLegs":5,"status":"Finished","player1Legs":1,"player2Legs":1}}`))

	assert.Equal(t, []string{"send:ack", "typed", "update"}, log.all())

	corr, ok := got.CorrelationID.Get()
	require.True(t, ok)
	assert.Equal(t, guid, corr)
	assert.Equal(t, match.StatusInProgress, got.Status)
	assert.Equal(t, "leg-completed", got.Source)
	assert.Equal(t, 2, got.CurrentLeg.OrElse(0))
	assert.Equal(t, 5, got.TotalLegs.OrElse(0))

	frames := sender.sent()
	require.Len(t, frames, 1)
	data := frames[0]["data"].(map[string]any)
	assert.Equal(t, "leg-completed", data["receivedType"])
	assert.Equal(t, guid, data["matchId"])
}

func TestRouterLiveProgressOverridesPayloadStatus(t *testing.T) {
	for _, kind := range []Kind{KindMatchStarted, KindLegCompleted, KindMatchInProgress} {
		t.Run(string(kind), func(t *testing.T) {
			var got []match.Update
			r, sender, _ := newTestRouter(Handlers{
				OnMatchUpdate: func(u match.Update) { got = append(got, u) },
			}, nil)

			r.HandleFrame([]byte(`{"type":"` + string(kind) + `","data":{"matchId":"` + guid +
				`","status":"Finished","legInProgress":true,"currentLeg":2,"player1Legs":1,"player2Legs":0}}`))

			require.Len(t, got, 1)
			assert.Equal(t, match.StatusInProgress, got[0].Status)
			assert.Equal(t, string(kind), got[0].Source)
			assert.Equal(t, guid, got[0].CorrelationID.OrElse(""))
			assert.Equal(t, 2, got[0].CurrentLeg.OrElse(0))

			frames := sender.sent()
			require.Len(t, frames, 1)
			assert.Equal(t, "ack", frames[0]["type"])
		})
	}
}

func TestRouterExactlyOneAckWhenHandlerPanics(t *testing.T) {
	handlers := Handlers{
		OnMatchStarted: func(match.Update) { panic("boom") },
		OnMatchUpdate:  func(match.Update) { panic("again") },
	}
	r, sender, _ := newTestRouter(handlers, nil)

	assert.NotPanics(t, func() {
		r.HandleFrame([]byte(`{"type":"match-started","data":{"tournamentMatchId":4}}`))
	})

	frames := sender.sent()
	require.Len(t, frames, 1)
	assert.Equal(t, "ack", frames[0]["type"])
}

func TestRouterErrorAckWithoutIdentity(t *testing.T) {
	called := false
	handlers := Handlers{
		OnMatchProgress: func(match.Update) { called = true },
		OnMatchUpdate:   func(match.Update) { called = true },
	}
	r, sender, _ := newTestRouter(handlers, nil)

	r.HandleFrame([]byte(`{"type":"match-in-progress","data":{"player1Legs":3}}`))

	assert.False(t, called)
	frames := sender.sent()
	require.Len(t, frames, 1)
	assert.Equal(t, "ack-error", frames[0]["type"])
	data := frames[0]["data"].(map[string]any)
	assert.Equal(t, "match-in-progress", data["receivedType"])
	assert.Equal(t, ErrNoIdentity.Error(), data["error"])
}

func TestRouterControlFramesAreNotAcked(t *testing.T) {
	var welcome Welcome
	var serverErr ServerError
	handlers := Handlers{
		OnWelcome:     func(w Welcome) { welcome = w },
		OnServerError: func(e ServerError) { serverErr = e },
	}
	r, sender, _ := newTestRouter(handlers, nil)

	r.HandleFrame([]byte(`{"type":"welcome","data":{"connectionId":"c-1","message":"hi"}}`))
	r.HandleFrame([]byte(`{"type":"heartbeat-ack","data":{"serverTime":1700000000000}}`))
	r.HandleFrame([]byte(`{"type":"error","data":{"code":"bad","message":"nope"}}`))

	assert.Empty(t, sender.sent())
	assert.Equal(t, "c-1", welcome.ConnectionID)
	assert.Equal(t, "bad", serverErr.Code)
	assert.Equal(t, "nope", serverErr.Message)
}

func TestRouterDropsUnknownAndMalformed(t *testing.T) {
	r, sender, _ := newTestRouter(Handlers{}, nil)

	for _, raw := range []string{
		`{"type":"scoreboard-reset","data":{"tournamentMatchId":1}}`,
		`{"data":{"tournamentMatchId":1}}`,
		`not json`,
		`[1,2,3]`,
		``,
	} {
		assert.NotPanics(t, func() { r.HandleFrame([]byte(raw)) }, raw)
	}
	assert.Empty(t, sender.sent())
}

func TestRouterLegacyMatchUpdatedKeepsStatusAndRaw(t *testing.T) {
	var legacy, latest match.Update
	handlers := Handlers{
		OnLegacyMatchUpdate: func(u match.Update) { legacy = u },
		OnMatchUpdate:       func(u match.Update) { latest = u },
	}
	r, sender, _ := newTestRouter(handlers, nil)

	raw := `{"type":"match-updated","data":{"matchUpdate":{"tournamentMatchId":12,"status":"Finished","winner":"Anna"}}}`
	r.HandleFrame([]byte(raw))

	assert.Equal(t, match.StatusFinished, legacy.Status)
	assert.Equal(t, "Anna", legacy.Winner.OrElse(""))
	assert.Equal(t, raw, legacy.Raw.OrElse(""))
	assert.Equal(t, legacy.Key(), latest.Key())

	frames := sender.sent()
	require.Len(t, frames, 1)
	assert.Equal(t, "12", frames[0]["data"].(map[string]any)["matchId"])
}

func TestRouterConfirmationWithoutIdentity(t *testing.T) {
	var conf Confirmation
	updates := 0
	handlers := Handlers{
		OnSubscriptionConfirmed: func(c Confirmation) { conf = c },
		OnMatchUpdate:           func(match.Update) { updates++ },
	}
	r, sender, _ := newTestRouter(handlers, nil)

	r.HandleFrame([]byte(`{"type":"subscription-confirmed","data":{"tournamentId":"cup-7"}}`))

	assert.Equal(t, KindSubscriptionConfirmed, conf.Kind)
	assert.Equal(t, "cup-7", conf.Subject)
	assert.False(t, conf.HasUpdate)
	assert.Zero(t, updates)

	frames := sender.sent()
	require.Len(t, frames, 1)
	assert.Equal(t, "ack", frames[0]["type"])
}

func TestRouterRegistrationConfirmedWithText(t *testing.T) {
	var conf Confirmation
	r, _, _ := newTestRouter(Handlers{
		OnRegistrationConfirmed: func(c Confirmation) { conf = c },
	}, nil)

	r.HandleFrame([]byte(`{"type":"registration-confirmed","data":"board-3"}`))

	assert.Equal(t, KindRegistrationConfirmed, conf.Kind)
	assert.Equal(t, "board-3", conf.Subject)
}

func TestRouterBookFillsMissingIdentifier(t *testing.T) {
	book := match.NewIdentityBook()
	var last match.Update
	r, _, _ := newTestRouter(Handlers{OnMatchUpdate: func(u match.Update) { last = u }}, book)

	r.HandleFrame([]byte(`{"type":"match-started","data":{"uniqueId":"` + guid + `","tournamentMatchId":21}}`))
	r.HandleFrame([]byte(`{"type":"leg-completed","data":{"tournamentMatchId":21,"currentLeg":3}}`))

	assert.Equal(t, guid, last.CorrelationID.OrElse(""))
	assert.Equal(t, int64(21), last.SequenceID.OrElse(0))
	assert.Equal(t, 1, book.Len())
}

func TestRouterReportsConflictWithoutRebinding(t *testing.T) {
	book := match.NewIdentityBook()
	reg := newTestRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	var last match.Update
	r := NewRouter(&fakeSender{}, nil, book, Handlers{OnMatchUpdate: func(u match.Update) { last = u }}, zap.NewNop(), metrics)

	r.HandleFrame([]byte(`{"type":"match-started","data":{"uniqueId":"` + guid + `","tournamentMatchId":21}}`))
	r.HandleFrame([]byte(`{"type":"match-started","data":{"uniqueId":"other-guid-0000-0000-0000-000000000000","tournamentMatchId":21}}`))

	assert.Equal(t, "other-guid-0000-0000-0000-000000000000", last.CorrelationID.OrElse(""))

	// The original binding still fills in a bare sequence id.
	r.HandleFrame([]byte(`{"type":"leg-completed","data":{"tournamentMatchId":21,"currentLeg":2}}`))
	assert.Equal(t, guid, last.CorrelationID.OrElse(""))
	assert.Equal(t, 1.0, counterValue(t, reg, "matchsync_router_identity_conflicts_total"))
}

func TestRouterFrameTapRunsAfterAck(t *testing.T) {
	var log *eventLog
	var kinds []Kind
	handlers := Handlers{
		OnFrame: func(kind Kind, _ []byte) {
			kinds = append(kinds, kind)
			log.add("frame")
		},
		OnMatchUpdate: func(match.Update) { log.add("update") },
	}
	r, _, l := newTestRouter(handlers, nil)
	log = l

	r.HandleFrame([]byte(`{"type":"welcome","data":{"connectionId":"c-1"}}`))
	r.HandleFrame([]byte(`{"type":"match-started","data":{"tournamentMatchId":4}}`))

	assert.Equal(t, []Kind{KindWelcome, KindMatchStarted}, kinds)
	assert.Equal(t, []string{"frame", "send:ack", "frame", "update"}, log.all())
}

func TestRouterSendFailureStillNotifies(t *testing.T) {
	notified := false
	r := NewRouter(&fakeSender{err: errors.New("closed")}, nil, nil,
		Handlers{OnMatchUpdate: func(match.Update) { notified = true }}, zap.NewNop(), nil)

	r.HandleFrame([]byte(`{"type":"match-started","data":{"tournamentMatchId":4}}`))

	assert.True(t, notified)
}
