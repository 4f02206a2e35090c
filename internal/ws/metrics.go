package ws

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus collectors for the hub link. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	connectionState  prometheus.Gauge       // 1 while open
	connectAttempts  *prometheus.CounterVec // by result: success, failure
	reconnects       prometheus.Counter     // reconnect timers fired
	framesReceived   *prometheus.CounterVec // by kind
	framesDropped    *prometheus.CounterVec // by reason: malformed, unknown
	acksSent         *prometheus.CounterVec // by result: ok, error
	requests         *prometheus.CounterVec // by outcome: inline, event, timeout, rejected, in_flight, cancelled
	identityConflict prometheus.Counter
}

// NewMetrics creates and registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "matchsync",
			Subsystem: "hub",
			Name:      "connected",
			Help:      "Whether the hub connection is open (1) or not (0)",
		}),
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matchsync",
			Subsystem: "hub",
			Name:      "connect_attempts_total",
			Help:      "Connection attempts per candidate endpoint",
		}, []string{"result"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "matchsync",
			Subsystem: "hub",
			Name:      "reconnects_total",
			Help:      "Reconnect timers fired",
		}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matchsync",
			Subsystem: "router",
			Name:      "frames_received_total",
			Help:      "Decoded inbound frames by kind",
		}, []string{"kind"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matchsync",
			Subsystem: "router",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped before dispatch",
		}, []string{"reason"}),
		acksSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matchsync",
			Subsystem: "router",
			Name:      "acks_sent_total",
			Help:      "Acknowledgments sent for data frames",
		}, []string{"result"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matchsync",
			Subsystem: "correlator",
			Name:      "requests_total",
			Help:      "Correlated requests by outcome",
		}, []string{"outcome"}),
		identityConflict: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "matchsync",
			Subsystem: "router",
			Name:      "identity_conflicts_total",
			Help:      "Updates that disagreed with a recorded identifier binding",
		}),
	}

	collectors := []prometheus.Collector{
		m.connectionState, m.connectAttempts, m.reconnects, m.framesReceived,
		m.framesDropped, m.acksSent, m.requests, m.identityConflict,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) setConnected(open bool) {
	if m == nil {
		return
	}
	if open {
		m.connectionState.Set(1)
	} else {
		m.connectionState.Set(0)
	}
}

func (m *Metrics) connectAttempt(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.connectAttempts.WithLabelValues("success").Inc()
	} else {
		m.connectAttempts.WithLabelValues("failure").Inc()
	}
}

func (m *Metrics) reconnectFired() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) frameReceived(kind Kind) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) frameDropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) ackSent(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.acksSent.WithLabelValues("ok").Inc()
	} else {
		m.acksSent.WithLabelValues("error").Inc()
	}
}

func (m *Metrics) requestOutcome(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) conflict() {
	if m == nil {
		return
	}
	m.identityConflict.Inc()
}
