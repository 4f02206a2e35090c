package match

import (
	"reflect"
	"strings"
	"time"
)

// A generic id that is neither numeric nor at least this long and hyphenated
// is ignored. The threshold separates GUID-style correlation ids from other
// text; it has no documented origin and should be treated as fragile.
const guidMinLength = 30

// Reconcile extracts a canonical Update from an inbound payload, stamping it
// with the local clock. It never panics and never fails: fields that cannot
// be found are left unset, and callers check HasIdentity.
func Reconcile(msg map[string]any) Update {
	return ReconcileAt(msg, time.Now())
}

// ReconcileAt is Reconcile with an explicit observation time.
func ReconcileAt(msg map[string]any, observedAt time.Time) Update {
	container := locateContainer(msg)
	nested, _ := asObject(container["result"])

	// Field lookups search the container first, then one level down, then
	// the outer message.
	srcs := sources{container, nested}
	if !sameObject(container, msg) {
		srcs = append(srcs, msg)
	}

	u := Update{ObservedAt: observedAt}
	u.CorrelationID, u.SequenceID = resolveIdentity(container, nested)

	u.ClassID = srcs.str(classIDField)
	u.GroupID = srcs.str(groupIDField)
	u.GroupName = srcs.str(groupNameField)
	u.MatchKind = srcs.str(matchKindField)

	if st, ok := srcs.str(statusField).Get(); ok {
		if parsed, ok := ParseStatus(st); ok {
			u.Status = parsed
		}
	}

	u.Player1 = Side{
		Name:  srcs.str(p1NameField),
		Sets:  srcs.integer(p1SetsField),
		Legs:  srcs.integer(p1LegsField),
		Score: srcs.integer(p1ScoreField),
	}
	u.Player2 = Side{
		Name:  srcs.str(p2NameField),
		Sets:  srcs.integer(p2SetsField),
		Legs:  srcs.integer(p2LegsField),
		Score: srcs.integer(p2ScoreField),
	}

	u.CurrentLeg = srcs.integer(currentLegField)
	u.TotalLegs = srcs.integer(totalLegsField)
	u.LegInProgress = srcs.boolean(legInProgressField)
	u.Duration = srcs.duration(durationField)
	u.Winner = srcs.str(winnerField)
	u.legResults = extractLegResults(srcs)

	return u.normalize()
}

// locateContainer prefers a nested matchUpdate object, then a nested result
// object, then the message itself.
func locateContainer(msg map[string]any) map[string]any {
	if msg == nil {
		return map[string]any{}
	}
	for _, key := range containerKeys {
		if obj, ok := asObject(msg[key]); ok {
			return obj
		}
	}
	return msg
}

// resolveIdentity applies the identifier rules in order: explicit
// correlation keys, explicit sequence keys, then the generic-id fallback.
func resolveIdentity(container, nested map[string]any) (Optional[string], Optional[int64]) {
	correlation := None[string]()
	sequence := None[int64]()

	for _, src := range []map[string]any{container, nested} {
		if s, ok := firstString(src, correlationKeys); ok {
			correlation = Some(s)
			break
		}
	}

	var generic string
	for _, src := range []map[string]any{container, nested} {
		if n, ok := firstInt(src, sequenceKeys); ok {
			sequence = Some(n)
			break
		}
	}

	if !sequence.IsSet() {
		for _, src := range []map[string]any{container, nested} {
			if s, ok := firstString(src, genericIDKeys); ok {
				generic = s
				break
			}
		}
	}

	if generic != "" {
		if n, ok := asInt(generic); ok {
			sequence = Some(n)
		} else if !correlation.IsSet() && looksLikeGUID(generic) {
			correlation = Some(generic)
		}
	}

	return correlation, sequence
}

func looksLikeGUID(s string) bool {
	return strings.Contains(s, "-") && len(s) > guidMinLength
}

func firstString(src map[string]any, keys []string) (string, bool) {
	if src == nil {
		return "", false
	}
	for _, key := range keys {
		if _, isObj := src[key].(map[string]any); isObj {
			continue
		}
		if s, ok := asString(src[key]); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

func firstInt(src map[string]any, keys []string) (int64, bool) {
	if src == nil {
		return 0, false
	}
	for _, key := range keys {
		if n, ok := asInt(src[key]); ok {
			return n, true
		}
	}
	return 0, false
}

func extractLegResults(srcs sources) []LegResult {
	v, ok := srcs.lookup(legResultsField)
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []LegResult
	for i, item := range items {
		obj, ok := asObject(item)
		if !ok {
			continue
		}
		leg := sources{obj}
		lr := LegResult{
			Leg:          leg.integer(legNumberField).OrElse(i + 1),
			Winner:       leg.integer(legWinnerField),
			Player1Darts: leg.integer(legP1DartsField),
			Player2Darts: leg.integer(legP2DartsField),
			Checkout:     leg.integer(legCheckoutField),
			Duration:     leg.duration(durationField),
		}
		out = append(out, lr)
	}
	return out
}

// sameObject reports whether a and b are the same map.
func sameObject(a, b map[string]any) bool {
	return reflect.ValueOf(a).UnsafePointer() == reflect.ValueOf(b).UnsafePointer()
}
