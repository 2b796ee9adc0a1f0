package economy

import (
	"context"
	"fmt"
	"strings"

	"econcore/internal/app/ports"
	"econcore/internal/app/shared/cooldown"
	"econcore/internal/domain/ledger"
	"econcore/internal/domain/outcome"
	"econcore/internal/domain/session"
)

const (
	Heads = "heads"
	Tails = "tails"
)

var coinSides = []outcome.Weighted[string]{
	{Value: Heads, Weight: 1},
	{Value: Tails, Weight: 1},
}

// Coinflip holds a coinflip lock session for the length of the round, so a
// second flip by the same subject conflicts instead of racing.
func (e *Engine) Coinflip(ctx context.Context, subjectID string, bet int64, call string) (GambleResult, error) {
	res, err := e.coinflip(ctx, subjectID, bet, call)
	return res, e.observe(FlowCoinflip, err)
}

func (e *Engine) coinflip(ctx context.Context, subjectID string, bet int64, call string) (GambleResult, error) {
	call = strings.ToLower(strings.TrimSpace(call))
	if call != Heads && call != Tails {
		return GambleResult{}, fmt.Errorf("%w: call heads or tails", ports.ErrInvalidRequest)
	}
	if err := e.checkBet(bet); err != nil {
		return GambleResult{}, err
	}
	lock, err := e.Sessions.Create(ctx, session.NewEntry{
		Kind:         session.KindCoinflip,
		Participants: []string{subjectID},
		TTL:          e.Tuning.TTL(session.KindCoinflip),
	})
	if err != nil {
		return GambleResult{}, err
	}
	defer func() {
		if err := e.Sessions.Delete(context.WithoutCancel(ctx), lock.ID); err != nil {
			e.Logger.Warn("release coinflip lock", "subject", subjectID, "err", err)
		}
	}()

	return e.gamble(ctx, FlowCoinflip, subjectID, bet, func() (string, int64, error) {
		side, _, err := outcome.Sample(e.Random, coinSides)
		if err != nil {
			return "", 0, err
		}
		if side == call {
			return side, bet, nil
		}
		return side, -bet, nil
	})
}

// Slots pays bet times the multiplier of a weighted symbol; the delta is the
// payout minus the stake.
func (e *Engine) Slots(ctx context.Context, subjectID string, bet int64) (GambleResult, error) {
	res, err := e.slots(ctx, subjectID, bet)
	return res, e.observe(FlowSlots, err)
}

func (e *Engine) slots(ctx context.Context, subjectID string, bet int64) (GambleResult, error) {
	if err := e.checkBet(bet); err != nil {
		return GambleResult{}, err
	}
	table := make([]outcome.Weighted[int], len(e.Tuning.Slots))
	for i, s := range e.Tuning.Slots {
		table[i] = outcome.Weighted[int]{Value: i, Weight: s.Weight}
	}
	return e.gamble(ctx, FlowSlots, subjectID, bet, func() (string, int64, error) {
		idx, _, err := outcome.Sample(e.Random, table)
		if err != nil {
			return "", 0, err
		}
		slot := e.Tuning.Slots[idx]
		return slot.Symbol, outcome.MulFloor(bet, slot.Multiplier) - bet, nil
	})
}

// gamble checks the shared gamble cooldown and that the stake is covered,
// draws, and books the signed result in one apply.
func (e *Engine) gamble(ctx context.Context, flow, subjectID string, bet int64, draw func() (string, int64, error)) (GambleResult, error) {
	now := e.Now()
	var res GambleResult
	rec, err := e.apply(ctx, subjectID, now, func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
		if err := cooldown.Check(r, e.gate(ActionGamble), now); err != nil {
			return r, err
		}
		if r.Liquid < bet {
			return r, ledger.ErrInsufficientFunds
		}
		symbol, delta, err := draw()
		if err != nil {
			return r, err
		}
		if err := settleStake(&r, delta); err != nil {
			return r, err
		}
		r.StampCooldown(ActionGamble, now)
		res = GambleResult{Outcome: symbol, Delta: delta}
		return r, nil
	})
	if err != nil {
		return GambleResult{}, err
	}
	res.Balance = rec.Liquid
	e.settled(flow, subjectID, res.Delta, "outcome", res.Outcome)
	return res, nil
}
