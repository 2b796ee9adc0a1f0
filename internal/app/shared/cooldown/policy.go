package cooldown

import (
	"time"

	"econcore/internal/domain/ledger"
	"econcore/internal/domain/outcome"
)

// RemainingForAction reports whole seconds left on gate for rec, rounded up.
// ok is false when the action is ready.
func RemainingForAction(rec ledger.AccountRecord, gate outcome.Gate, now time.Time) (int, bool) {
	lastAt, stamped := rec.LastAction(gate.Action)
	if !stamped {
		return 0, false
	}
	remaining := gate.Remaining(lastAt, now)
	if remaining <= 0 {
		return 0, false
	}
	remainingSeconds := int((remaining + time.Second - 1) / time.Second)
	if remainingSeconds < 1 {
		remainingSeconds = 1
	}
	return remainingSeconds, true
}

func RemainingByAction(rec ledger.AccountRecord, gates []outcome.Gate, now time.Time) map[string]int {
	out := map[string]int{}
	for _, gate := range gates {
		if remaining, ok := RemainingForAction(rec, gate, now); ok {
			out[gate.Action] = remaining
		}
	}
	return out
}

// Check returns a *outcome.CooldownActiveError while gate is closed for rec.
func Check(rec ledger.AccountRecord, gate outcome.Gate, now time.Time) error {
	lastAt, _ := rec.LastAction(gate.Action)
	return gate.Check(lastAt, now)
}
