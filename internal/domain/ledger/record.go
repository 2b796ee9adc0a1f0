package ledger

import (
	"fmt"
	"time"
)

const experiencePerLevel = 100

func NewAccount(subjectID string, startingBalance int64, now time.Time) AccountRecord {
	if startingBalance < 0 {
		startingBalance = 0
	}
	return AccountRecord{
		SubjectID:   subjectID,
		Liquid:      startingBalance,
		Cooldowns:   map[string]time.Time{},
		Progression: Progression{Level: 1},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy so a mutation can never alias the stored record.
func (r AccountRecord) Clone() AccountRecord {
	out := r
	if r.Debt != nil {
		d := *r.Debt
		out.Debt = &d
	}
	if r.Cooldowns != nil {
		out.Cooldowns = make(map[string]time.Time, len(r.Cooldowns))
		for k, v := range r.Cooldowns {
			out.Cooldowns[k] = v
		}
	}
	if r.Inventory != nil {
		out.Inventory = append([]InventoryItem(nil), r.Inventory...)
	}
	return out
}

// Validate reports whether the record may be committed.
func (r AccountRecord) Validate() error {
	if r.Liquid < 0 {
		return fmt.Errorf("liquid balance %d: %w", r.Liquid, ErrInsufficientFunds)
	}
	if r.Banked < 0 {
		return fmt.Errorf("banked balance %d: %w", r.Banked, ErrInsufficientFunds)
	}
	return nil
}

func (r *AccountRecord) Credit(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	r.Liquid += amount
	return nil
}

func (r *AccountRecord) Debit(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if r.Liquid < amount {
		return ErrInsufficientFunds
	}
	r.Liquid -= amount
	return nil
}

func (r *AccountRecord) Deposit(amount int64) error {
	if err := r.Debit(amount); err != nil {
		return err
	}
	r.Banked += amount
	return nil
}

func (r *AccountRecord) Withdraw(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if r.Banked < amount {
		return ErrInsufficientFunds
	}
	r.Banked -= amount
	r.Liquid += amount
	return nil
}

func (r AccountRecord) LastAction(action string) (time.Time, bool) {
	at, ok := r.Cooldowns[action]
	return at, ok && !at.IsZero()
}

func (r *AccountRecord) StampCooldown(action string, now time.Time) {
	if r.Cooldowns == nil {
		r.Cooldowns = map[string]time.Time{}
	}
	r.Cooldowns[action] = now
}

func (r *AccountRecord) AddItem(itemID string, now time.Time, lifetime time.Duration) InventoryItem {
	item := InventoryItem{ItemID: itemID, AcquiredAt: now, ExpiresAt: now.Add(lifetime)}
	r.Inventory = append(r.Inventory, item)
	return item
}

func (r *AccountRecord) AdoptItem(item InventoryItem) {
	r.Inventory = append(r.Inventory, item)
}

func (r AccountRecord) HasActiveItem(itemID string, now time.Time) bool {
	for _, item := range r.Inventory {
		if item.ItemID == itemID && now.Before(item.ExpiresAt) {
			return true
		}
	}
	return false
}

// TakeItem removes the active entry of itemID that expires soonest.
func (r *AccountRecord) TakeItem(itemID string, now time.Time) (InventoryItem, error) {
	idx := -1
	for i, item := range r.Inventory {
		if item.ItemID != itemID || !now.Before(item.ExpiresAt) {
			continue
		}
		if idx < 0 || item.ExpiresAt.Before(r.Inventory[idx].ExpiresAt) {
			idx = i
		}
	}
	if idx < 0 {
		return InventoryItem{}, fmt.Errorf("%s: %w", itemID, ErrItemNotOwned)
	}
	taken := r.Inventory[idx]
	r.Inventory = append(r.Inventory[:idx], r.Inventory[idx+1:]...)
	return taken, nil
}

func (r *AccountRecord) PruneExpired(now time.Time) int {
	kept := r.Inventory[:0]
	removed := 0
	for _, item := range r.Inventory {
		if now.Before(item.ExpiresAt) {
			kept = append(kept, item)
			continue
		}
		removed++
	}
	if len(kept) == 0 {
		r.Inventory = nil
	} else {
		r.Inventory = kept
	}
	return removed
}

func (r AccountRecord) OutstandingDebt() int64 {
	if r.Debt == nil || r.Debt.Settled {
		return 0
	}
	return r.Debt.Principal
}

func (r *AccountRecord) Borrow(amount int64, now time.Time, term time.Duration) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if r.OutstandingDebt() > 0 {
		return ErrDebtOutstanding
	}
	r.Debt = &Debt{Principal: amount, TakenAt: now, DueAt: now.Add(term)}
	r.Liquid += amount
	return nil
}

// Repay pays down the debt by at most amount and returns what was paid.
func (r *AccountRecord) Repay(amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	owed := r.OutstandingDebt()
	if owed == 0 {
		return 0, ErrNoDebt
	}
	pay := min(amount, owed)
	if err := r.Debit(pay); err != nil {
		return 0, err
	}
	r.Debt.Principal -= pay
	if r.Debt.Principal == 0 {
		r.Debt.Settled = true
	}
	return pay, nil
}

func (r *AccountRecord) RecordWin(amount int64) {
	r.Stats.Attempts++
	r.Stats.Wins++
	r.Stats.Winnings += amount
}

func (r *AccountRecord) RecordLoss(amount int64) {
	r.Stats.Attempts++
	r.Stats.Losses++
	r.Stats.LossesAmount += amount
}

func (r *AccountRecord) RecordPush() {
	r.Stats.Attempts++
}

// AddExperience adds xp and applies level-ups; it returns the levels gained.
func (r *AccountRecord) AddExperience(xp int64) int {
	if xp <= 0 {
		return 0
	}
	if r.Progression.Level < 1 {
		r.Progression.Level = 1
	}
	r.Progression.Experience += xp
	gained := 0
	for {
		need := int64(r.Progression.Level) * experiencePerLevel
		if r.Progression.Experience < need {
			break
		}
		r.Progression.Experience -= need
		r.Progression.Level++
		gained++
	}
	return gained
}
