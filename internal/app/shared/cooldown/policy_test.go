package cooldown

import (
	"errors"
	"testing"
	"time"

	"econcore/internal/domain/ledger"
	"econcore/internal/domain/outcome"
)

func TestRemainingForAction_RoundsUp(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := ledger.NewAccount("a", 0, t0)
	rec.StampCooldown("beg", t0)
	gate := outcome.Gate{Action: "beg", Duration: time.Minute}

	got, ok := RemainingForAction(rec, gate, t0.Add(59*time.Second+time.Millisecond))
	if !ok || got != 1 {
		t.Fatalf("expected 1s remaining, got %d ok=%v", got, ok)
	}
	if _, ok := RemainingForAction(rec, gate, t0.Add(time.Minute)); ok {
		t.Fatalf("expected gate ready at exactly the duration")
	}
}

func TestRemainingByAction_SkipsReadyAndUnstamped(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := ledger.NewAccount("a", 0, t0)
	rec.StampCooldown("daily", t0)
	rec.StampCooldown("beg", t0.Add(-time.Hour))

	got := RemainingByAction(rec, []outcome.Gate{
		{Action: "daily", Duration: 24 * time.Hour},
		{Action: "beg", Duration: time.Minute},
		{Action: "gamble", Duration: time.Minute},
	}, t0.Add(time.Hour))
	if len(got) != 1 || got["daily"] != 23*3600 {
		t.Fatalf("unexpected remaining map: %v", got)
	}
}

func TestCheck_ReturnsTypedError(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := ledger.NewAccount("a", 0, t0)
	gate := outcome.Gate{Action: "gamble", Duration: 2 * time.Minute}
	if err := Check(rec, gate, t0); err != nil {
		t.Fatalf("unstamped action should be ready: %v", err)
	}
	rec.StampCooldown("gamble", t0)
	err := Check(rec, gate, t0.Add(30*time.Second))
	var cd *outcome.CooldownActiveError
	if !errors.As(err, &cd) || cd.Remaining != 90*time.Second {
		t.Fatalf("expected 90s cooldown error, got %v", err)
	}
}
