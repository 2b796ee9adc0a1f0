package outcome

import (
	"errors"
	"time"
)

var ErrCooldownActive = errors.New("cooldown active")

type CooldownActiveError struct {
	Action    string
	Remaining time.Duration
}

func (e *CooldownActiveError) Error() string {
	return ErrCooldownActive.Error() + ": " + e.Action
}

func (e *CooldownActiveError) Unwrap() error {
	return ErrCooldownActive
}

// RemainingSeconds rounds up so a client never retries a second early.
func (e *CooldownActiveError) RemainingSeconds() int {
	secs := int((e.Remaining + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Gate restricts an action to once per Duration.
type Gate struct {
	Action   string
	Duration time.Duration
}

func (g Gate) Ready(last, now time.Time) bool {
	if last.IsZero() {
		return true
	}
	return now.Sub(last) >= g.Duration
}

func (g Gate) Remaining(last, now time.Time) time.Duration {
	if last.IsZero() {
		return 0
	}
	remaining := g.Duration - now.Sub(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Check returns a *CooldownActiveError while the gate is closed.
func (g Gate) Check(last, now time.Time) error {
	if g.Ready(last, now) {
		return nil
	}
	return &CooldownActiveError{Action: g.Action, Remaining: g.Remaining(last, now)}
}
