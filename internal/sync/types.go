package sync

import "github.com/dgnsrekt/matchsync/internal/match"

// MatchSnapshot represents complete state for a new subscriber connection.
type MatchSnapshot struct {
	BroadcasterID string         `json:"broadcaster_id"`
	Timestamp     int64          `json:"timestamp"`
	Sequence      uint64         `json:"sequence"`
	Connected     bool           `json:"connected"`
	Matches       []match.Update `json:"matches"`
}

// MatchEvent carries one reconciled update.
type MatchEvent struct {
	BroadcasterID string       `json:"broadcaster_id"`
	Timestamp     int64        `json:"timestamp"`
	Sequence      uint64       `json:"sequence"`
	Update        match.Update `json:"update"`
}

// StatusEvent reports a change in hub connectivity.
type StatusEvent struct {
	BroadcasterID string `json:"broadcaster_id"`
	Timestamp     int64  `json:"timestamp"`
	Sequence      uint64 `json:"sequence"`
	Connected     bool   `json:"connected"`
	Message       string `json:"message"`
}
