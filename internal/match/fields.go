package match

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Field spellings, in priority order. New producer conventions are added
// here, not in the extraction code.
var (
	correlationKeys = []string{"uniqueId", "matchUniqueId", "correlationId", "matchGuid"}
	sequenceKeys    = []string{"tournamentMatchId", "sequenceId", "matchNumber", "matchId"}
	genericIDKeys   = []string{"id", "matchId"}
	containerKeys   = []string{"matchUpdate", "result"}
)

// fieldSpec names one logical field and the spellings accepted for it.
type fieldSpec struct {
	name      string
	spellings []string
}

var (
	classIDField   = fieldSpec{"classId", []string{"classId", "tournamentClassId", "class"}}
	groupIDField   = fieldSpec{"groupId", []string{"groupId", "tournamentGroupId"}}
	groupNameField = fieldSpec{"groupName", []string{"groupName", "group", "poolName"}}
	matchKindField = fieldSpec{"matchKind", []string{"matchType", "matchKind", "phase", "round", "roundName"}}
	statusField    = fieldSpec{"status", []string{"status", "matchStatus", "state"}}

	p1NameField  = fieldSpec{"player1Name", []string{"player1Name", "player1", "homePlayer", "p1Name"}}
	p2NameField  = fieldSpec{"player2Name", []string{"player2Name", "player2", "awayPlayer", "p2Name"}}
	p1SetsField  = fieldSpec{"player1Sets", []string{"player1Sets", "setsPlayer1", "p1Sets", "homeSets"}}
	p2SetsField  = fieldSpec{"player2Sets", []string{"player2Sets", "setsPlayer2", "p2Sets", "awaySets"}}
	p1LegsField  = fieldSpec{"player1Legs", []string{"player1Legs", "legsPlayer1", "player1LegsWon", "p1Legs", "homeLegs"}}
	p2LegsField  = fieldSpec{"player2Legs", []string{"player2Legs", "legsPlayer2", "player2LegsWon", "p2Legs", "awayLegs"}}
	p1ScoreField = fieldSpec{"player1Score", []string{"player1Score", "player1Remaining", "p1Score", "homeScore"}}
	p2ScoreField = fieldSpec{"player2Score", []string{"player2Score", "player2Remaining", "p2Score", "awayScore"}}

	currentLegField    = fieldSpec{"currentLeg", []string{"currentLeg", "legNumber", "currentLegNumber"}}
	totalLegsField     = fieldSpec{"totalLegs", []string{"totalLegs", "legsTotal", "bestOfLegs"}}
	legInProgressField = fieldSpec{"legInProgress", []string{"legInProgress", "isLegInProgress", "inProgress"}}
	durationField      = fieldSpec{"duration", []string{"duration", "durationSeconds", "matchDuration"}}
	winnerField        = fieldSpec{"winner", []string{"winner", "winnerName", "winnerId"}}
	legResultsField    = fieldSpec{"legResults", []string{"legResults", "legs", "legHistory"}}

	legNumberField   = fieldSpec{"leg", []string{"leg", "legNumber", "number"}}
	legWinnerField   = fieldSpec{"winner", []string{"winner", "winnerSide", "wonBy"}}
	legP1DartsField  = fieldSpec{"player1Darts", []string{"player1Darts", "p1Darts", "dartsPlayer1"}}
	legP2DartsField  = fieldSpec{"player2Darts", []string{"player2Darts", "p2Darts", "dartsPlayer2"}}
	legCheckoutField = fieldSpec{"checkout", []string{"checkout", "checkoutScore", "finish"}}
)

// sources is an ordered list of objects searched for a field.
type sources []map[string]any

func (s sources) lookup(f fieldSpec) (any, bool) {
	for _, src := range s {
		if src == nil {
			continue
		}
		for _, key := range f.spellings {
			if v, ok := src[key]; ok && v != nil {
				return v, true
			}
		}
	}
	return nil, false
}

func (s sources) str(f fieldSpec) Optional[string] {
	v, ok := s.lookup(f)
	if !ok {
		return None[string]()
	}
	if str, ok := asString(v); ok && str != "" {
		return Some(str)
	}
	return None[string]()
}

func (s sources) integer(f fieldSpec) Optional[int] {
	v, ok := s.lookup(f)
	if !ok {
		return None[int]()
	}
	if n, ok := asInt(v); ok {
		return Some(int(n))
	}
	return None[int]()
}

func (s sources) boolean(f fieldSpec) Optional[bool] {
	v, ok := s.lookup(f)
	if !ok {
		return None[bool]()
	}
	if b, ok := asBool(v); ok {
		return Some(b)
	}
	return None[bool]()
}

func (s sources) duration(f fieldSpec) Optional[time.Duration] {
	v, ok := s.lookup(f)
	if !ok {
		return None[time.Duration]()
	}
	if d, ok := asDuration(v); ok {
		return Some(d)
	}
	return None[time.Duration]()
}

// asObject returns v as a JSON object.
func asObject(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok && m != nil
}

// asString accepts text, numbers, and objects carrying a "name".
func asString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case map[string]any:
		if name, ok := t["name"].(string); ok {
			return strings.TrimSpace(name), true
		}
	}
	return "", false
}

// asInt accepts integral numbers and numeric text.
func asInt(v any) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
		if f, err := t.Float64(); err == nil {
			return floatToInt(f)
		}
	case float64:
		return floatToInt(t)
	case int:
		return int64(t), true
	case int64:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

func floatToInt(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

func asBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return b, err == nil
	default:
		if n, ok := asInt(v); ok && (n == 0 || n == 1) {
			return n == 1, true
		}
	}
	return false, false
}

// asDuration reads whole seconds, "mm:ss", or Go duration text.
func asDuration(v any) (time.Duration, bool) {
	if n, ok := asInt(v); ok && n >= 0 {
		return time.Duration(n) * time.Second, true
	}
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d, true
	}
	var total int64
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n < 0 {
			return 0, false
		}
		total = total*60 + n
	}
	return time.Duration(total) * time.Second, true
}
