package match

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Status is the lifecycle state of a match as reported by a producer.
type Status string

const (
	StatusUnknown    Status = ""
	StatusNotStarted Status = "NotStarted"
	StatusInProgress Status = "InProgress"
	StatusFinished   Status = "Finished"
)

// statusAliases maps normalized producer spellings to a Status.
var statusAliases = map[string]Status{
	"notstarted": StatusNotStarted,
	"pending":    StatusNotStarted,
	"scheduled":  StatusNotStarted,
	"waiting":    StatusNotStarted,
	"0":          StatusNotStarted,
	"inprogress": StatusInProgress,
	"live":       StatusInProgress,
	"running":    StatusInProgress,
	"started":    StatusInProgress,
	"playing":    StatusInProgress,
	"active":     StatusInProgress,
	"1":          StatusInProgress,
	"finished":   StatusFinished,
	"completed":  StatusFinished,
	"complete":   StatusFinished,
	"done":       StatusFinished,
	"ended":      StatusFinished,
	"2":          StatusFinished,
}

// ParseStatus normalizes a producer status value. Case, spaces, hyphens and
// underscores are ignored.
func ParseStatus(s string) (Status, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("-", "", "_", "", " ", "").Replace(key)
	st, ok := statusAliases[key]
	return st, ok
}

// Side holds the per-player portion of a match.
type Side struct {
	Name  Optional[string] `json:"name"`
	Sets  Optional[int]    `json:"sets"`
	Legs  Optional[int]    `json:"legs"`
	Score Optional[int]    `json:"score"` // remaining points in the running leg
}

// LegResult is one finished leg.
type LegResult struct {
	Leg          int                     `json:"leg"`
	Winner       Optional[int]           `json:"winner"` // 1 or 2
	Player1Darts Optional[int]           `json:"player1Darts"`
	Player2Darts Optional[int]           `json:"player2Darts"`
	Checkout     Optional[int]           `json:"checkout"`
	Duration     Optional[time.Duration] `json:"duration"`
}

// Update is the canonical observed state of a match at one point in time.
//
// Values are never modified after construction. The With* methods return
// modified copies; leg results are only reachable through LegResults, which
// copies.
type Update struct {
	CorrelationID Optional[string] `json:"correlationId"`
	SequenceID    Optional[int64]  `json:"sequenceId"`
	ClassID       Optional[string] `json:"classId"`
	GroupID       Optional[string] `json:"groupId"`
	GroupName     Optional[string] `json:"groupName"`
	MatchKind     Optional[string] `json:"matchKind"`

	Player1 Side `json:"player1"`
	Player2 Side `json:"player2"`

	Status     Status    `json:"status"`
	Source     string    `json:"source"`
	ObservedAt time.Time `json:"observedAt"`

	CurrentLeg    Optional[int]           `json:"currentLeg"`
	TotalLegs     Optional[int]           `json:"totalLegs"`
	LegInProgress Optional[bool]          `json:"legInProgress"`
	Duration      Optional[time.Duration] `json:"duration"`
	Winner        Optional[string]        `json:"winner"`

	// Raw carries the full inbound envelope for the legacy match-updated kind.
	Raw Optional[string] `json:"raw"`

	legResults []LegResult
}

// LegResults returns a copy of the per-leg results.
func (u Update) LegResults() []LegResult {
	if len(u.legResults) == 0 {
		return nil
	}
	out := make([]LegResult, len(u.legResults))
	copy(out, u.legResults)
	return out
}

// HasIdentity reports whether at least one identifier is present.
func (u Update) HasIdentity() bool {
	return u.CorrelationID.IsSet() || u.SequenceID.IsSet()
}

// Ref returns the preferred textual identifier: the correlation id when
// present, else the sequence id.
func (u Update) Ref() string {
	if id, ok := u.CorrelationID.Get(); ok {
		return id
	}
	if seq, ok := u.SequenceID.Get(); ok {
		return strconv.FormatInt(seq, 10)
	}
	return ""
}

// Key is a stable map key for the match. Updates for the same match seen
// only through different identifiers produce different keys unless an
// IdentityBook filled in the counterpart.
func (u Update) Key() string {
	if id, ok := u.CorrelationID.Get(); ok {
		return "c:" + id
	}
	if seq, ok := u.SequenceID.Get(); ok {
		return "s:" + strconv.FormatInt(seq, 10)
	}
	return ""
}

// SameMatch reports whether both updates share an identifier.
func (u Update) SameMatch(other Update) bool {
	if a, ok := u.CorrelationID.Get(); ok {
		if b, ok := other.CorrelationID.Get(); ok && a == b {
			return true
		}
	}
	if a, ok := u.SequenceID.Get(); ok {
		if b, ok := other.SequenceID.Get(); ok && a == b {
			return true
		}
	}
	return false
}

// WithStatus returns a copy with the given status.
func (u Update) WithStatus(s Status) Update {
	u.Status = s
	return u.normalize()
}

// WithSource returns a copy stamped with the producing event kind.
func (u Update) WithSource(source string) Update {
	u.Source = source
	return u
}

// WithRaw returns a copy carrying auxiliary raw text.
func (u Update) WithRaw(raw string) Update {
	u.Raw = Some(raw)
	return u
}

func (u Update) withIdentity(correlationID Optional[string], sequenceID Optional[int64]) Update {
	u.CorrelationID = correlationID
	u.SequenceID = sequenceID
	return u
}

// normalize enforces that a finished match has no running leg.
func (u Update) normalize() Update {
	if u.Status == StatusFinished && u.LegInProgress.IsSet() {
		u.LegInProgress = Some(false)
	}
	return u
}

// MarshalJSON includes the leg results.
func (u Update) MarshalJSON() ([]byte, error) {
	type alias Update
	return json.Marshal(struct {
		alias
		LegResults []LegResult `json:"legResults,omitempty"`
	}{alias(u), u.legResults})
}
