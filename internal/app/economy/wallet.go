package economy

import (
	"context"
	"errors"
	"fmt"

	"econcore/internal/app/ports"
	"econcore/internal/app/shared/cooldown"
	"econcore/internal/config"
	"econcore/internal/domain/ledger"
	"econcore/internal/domain/outcome"
)

func (e *Engine) Balance(ctx context.Context, subjectID string) (ledger.AccountRecord, error) {
	rec, err := e.Ledger.Get(ctx, subjectID)
	return rec, e.observe(FlowBalance, err)
}

// Daily pays base plus a streak bonus once per cooldown. Claiming again within
// the grace window extends the streak; otherwise it restarts at one.
func (e *Engine) Daily(ctx context.Context, subjectID string) (Reward, error) {
	now := e.Now()
	tun := e.Tuning.Daily
	var out Reward
	rec, err := e.apply(ctx, subjectID, now, func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
		if err := cooldown.Check(r, e.gate(ActionDaily), now); err != nil {
			return r, err
		}
		if last, ok := r.LastAction(ActionDaily); ok && now.Sub(last) <= tun.StreakGrace {
			r.Progression.DailyStreak++
		} else {
			r.Progression.DailyStreak = 1
		}
		amount := tun.Base + int64(min(r.Progression.DailyStreak, tun.StreakCap))*tun.StreakStep
		if err := r.Credit(amount); err != nil {
			return r, err
		}
		r.StampCooldown(ActionDaily, now)
		out = Reward{Amount: amount, Streak: r.Progression.DailyStreak}
		return r, nil
	})
	if err != nil {
		return Reward{}, e.observe(FlowDaily, err)
	}
	out.Balance = rec.Liquid
	e.settled(FlowDaily, subjectID, out.Amount, "streak", out.Streak)
	return out, e.observe(FlowDaily, nil)
}

func (e *Engine) Beg(ctx context.Context, subjectID string) (Reward, error) {
	now := e.Now()
	var out Reward
	rec, err := e.apply(ctx, subjectID, now, func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
		if err := cooldown.Check(r, e.gate(ActionBeg), now); err != nil {
			return r, err
		}
		amount := outcome.IntBetween(e.Random, e.Tuning.Beg.Min, e.Tuning.Beg.Max)
		if err := r.Credit(amount); err != nil {
			return r, err
		}
		r.StampCooldown(ActionBeg, now)
		out = Reward{Amount: amount}
		return r, nil
	})
	if err != nil {
		return Reward{}, e.observe(FlowBeg, err)
	}
	out.Balance = rec.Liquid
	e.settled(FlowBeg, subjectID, out.Amount)
	return out, e.observe(FlowBeg, nil)
}

// Deposit moves liquid funds to the bank; amount All moves everything.
func (e *Engine) Deposit(ctx context.Context, subjectID string, amount int64) (BankResult, error) {
	return e.bank(ctx, subjectID, amount, true)
}

func (e *Engine) Withdraw(ctx context.Context, subjectID string, amount int64) (BankResult, error) {
	return e.bank(ctx, subjectID, amount, false)
}

func (e *Engine) bank(ctx context.Context, subjectID string, amount int64, deposit bool) (BankResult, error) {
	if amount <= 0 && amount != All {
		return BankResult{}, e.observe(FlowBank, ledger.ErrInvalidAmount)
	}
	var moved int64
	rec, err := e.apply(ctx, subjectID, e.Now(), func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
		moved = amount
		if deposit {
			if moved == All {
				moved = r.Liquid
			}
			if err := r.Deposit(moved); err != nil {
				return r, err
			}
			return r, nil
		}
		if moved == All {
			moved = r.Banked
		}
		if err := r.Withdraw(moved); err != nil {
			return r, err
		}
		return r, nil
	})
	if err != nil {
		return BankResult{}, e.observe(FlowBank, err)
	}
	return BankResult{Moved: moved, Liquid: rec.Liquid, Banked: rec.Banked}, e.observe(FlowBank, nil)
}

// Pay sends money to another subject under the pay fee policy.
func (e *Engine) Pay(ctx context.Context, fromID, toID string, amount int64) (TransferResult, error) {
	res, err := e.transfer(ctx, config.TransferPay, fromID, toID, amount)
	if err == nil {
		e.settled(FlowTransfer, fromID, -(res.Amount + res.Fee), "to", toID, "fee", res.Fee)
	}
	return res, e.observe(FlowTransfer, err)
}

// transfer debits amount plus fee from the sender, then credits amount to the
// receiver. A failed credit is compensated by refunding the sender.
func (e *Engine) transfer(ctx context.Context, kind, fromID, toID string, amount int64) (TransferResult, error) {
	if fromID == toID {
		return TransferResult{}, ErrSelfTarget
	}
	if amount <= 0 {
		return TransferResult{}, ledger.ErrInvalidAmount
	}
	now := e.Now()
	fee := outcome.FeeFor(amount, e.Tuning.FeeBasisPoints(kind))
	sender, err := e.apply(ctx, fromID, now, func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
		if err := r.Debit(amount + fee); err != nil {
			return r, err
		}
		return r, nil
	})
	if err != nil {
		return TransferResult{}, err
	}
	receiver, err := e.apply(ctx, toID, now, func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
		if err := r.Credit(amount); err != nil {
			return r, err
		}
		return r, nil
	})
	if err != nil {
		return TransferResult{}, e.refund(ctx, fromID, amount+fee, err)
	}
	return TransferResult{Amount: amount, Fee: fee, SenderBalance: sender.Liquid, ReceiverBalance: receiver.Liquid}, nil
}

func (e *Engine) refund(ctx context.Context, subjectID string, amount int64, cause error) error {
	_, err := e.Ledger.Apply(ctx, subjectID, func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
		if err := r.Credit(amount); err != nil {
			return r, err
		}
		return r, nil
	})
	if err != nil {
		e.Logger.Error("refund failed", "subject", subjectID, "amount", amount, "err", err)
		return errors.Join(cause, fmt.Errorf("refund %s: %w", subjectID, err))
	}
	return cause
}

func (e *Engine) Borrow(ctx context.Context, subjectID string, amount int64) (LoanResult, error) {
	policy := e.Tuning.Loan
	if amount <= 0 || amount > policy.MaxPrincipal {
		return LoanResult{}, e.observe(FlowLoan, fmt.Errorf("%w: loan must be in [1, %d]", ports.ErrInvalidRequest, policy.MaxPrincipal))
	}
	now := e.Now()
	rec, err := e.apply(ctx, subjectID, now, func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
		if err := r.Borrow(amount, now, policy.Term); err != nil {
			return r, err
		}
		return r, nil
	})
	if err != nil {
		return LoanResult{}, e.observe(FlowLoan, err)
	}
	e.settled(FlowLoan, subjectID, amount)
	return LoanResult{Amount: amount, Outstanding: rec.OutstandingDebt(), DueAt: rec.Debt.DueAt, Balance: rec.Liquid}, e.observe(FlowLoan, nil)
}

// Repay pays down at most what is owed; amount All pays everything owed.
func (e *Engine) Repay(ctx context.Context, subjectID string, amount int64) (LoanResult, error) {
	if amount <= 0 && amount != All {
		return LoanResult{}, e.observe(FlowLoan, ledger.ErrInvalidAmount)
	}
	var paid int64
	rec, err := e.apply(ctx, subjectID, e.Now(), func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
		want := amount
		if want == All {
			want = r.OutstandingDebt()
			if want == 0 {
				return r, ledger.ErrNoDebt
			}
		}
		var err error
		paid, err = r.Repay(want)
		return r, err
	})
	if err != nil {
		return LoanResult{}, e.observe(FlowLoan, err)
	}
	e.settled(FlowLoan, subjectID, -paid)
	out := LoanResult{Amount: paid, Outstanding: rec.OutstandingDebt(), Balance: rec.Liquid}
	if rec.Debt != nil && !rec.Debt.Settled {
		out.DueAt = rec.Debt.DueAt
	}
	return out, e.observe(FlowLoan, nil)
}

func (e *Engine) Buy(ctx context.Context, subjectID, itemID string) (PurchaseResult, error) {
	item, ok := e.Tuning.Item(itemID)
	if !ok {
		return PurchaseResult{}, e.observe(FlowShop, fmt.Errorf("%w: %s", ErrUnknownItem, itemID))
	}
	now := e.Now()
	var bought ledger.InventoryItem
	rec, err := e.apply(ctx, subjectID, now, func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
		if err := r.Debit(item.Price); err != nil {
			return r, err
		}
		bought = r.AddItem(item.ID, now, item.Lifetime)
		return r, nil
	})
	if err != nil {
		return PurchaseResult{}, e.observe(FlowShop, err)
	}
	e.settled(FlowShop, subjectID, -item.Price, "item", item.ID)
	return PurchaseResult{Item: bought, Price: item.Price, Balance: rec.Liquid}, e.observe(FlowShop, nil)
}

// Gift hands the soonest-expiring active copy of itemID to another subject,
// charging the gift fee on the item's shop price.
func (e *Engine) Gift(ctx context.Context, fromID, toID, itemID string) (GiftResult, error) {
	res, err := e.gift(ctx, fromID, toID, itemID)
	return res, e.observe(FlowGift, err)
}

func (e *Engine) gift(ctx context.Context, fromID, toID, itemID string) (GiftResult, error) {
	if fromID == toID {
		return GiftResult{}, ErrSelfTarget
	}
	item, ok := e.Tuning.Item(itemID)
	if !ok {
		return GiftResult{}, fmt.Errorf("%w: %s", ErrUnknownItem, itemID)
	}
	now := e.Now()
	fee := outcome.FeeFor(item.Price, e.Tuning.FeeBasisPoints(config.TransferGift))
	var moved ledger.InventoryItem
	_, err := e.apply(ctx, fromID, now, func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
		taken, err := r.TakeItem(itemID, now)
		if err != nil {
			return r, err
		}
		if fee > 0 {
			if err := r.Debit(fee); err != nil {
				return r, err
			}
		}
		moved = taken
		return r, nil
	})
	if err != nil {
		return GiftResult{}, err
	}
	_, err = e.apply(ctx, toID, now, func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
		r.AdoptItem(moved)
		return r, nil
	})
	if err != nil {
		_, rerr := e.Ledger.Apply(ctx, fromID, func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
			r.AdoptItem(moved)
			if fee > 0 {
				if err := r.Credit(fee); err != nil {
					return r, err
				}
				return r, nil
			}
			return r, nil
		})
		if rerr != nil {
			e.Logger.Error("gift rollback failed", "subject", fromID, "item", itemID, "err", rerr)
			return GiftResult{}, errors.Join(err, rerr)
		}
		return GiftResult{}, err
	}
	e.settled(FlowGift, fromID, -fee, "to", toID, "item", itemID)
	return GiftResult{Item: moved, Fee: fee}, nil
}

func (e *Engine) Profile(ctx context.Context, subjectID string) (Profile, error) {
	rec, err := e.Ledger.Get(ctx, subjectID)
	if err != nil {
		return Profile{}, e.observe(FlowBalance, err)
	}
	now := e.Now()
	out := Profile{
		Account:     rec,
		Cooldowns:   cooldown.RemainingByAction(rec, e.gates(rec), now),
		ActiveItems: []ledger.InventoryItem{},
	}
	for _, it := range rec.Inventory {
		if now.Before(it.ExpiresAt) {
			out.ActiveItems = append(out.ActiveItems, it)
		}
	}
	return out, e.observe(FlowBalance, nil)
}
