package ledger

import (
	"errors"
	"time"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrItemNotOwned      = errors.New("item not owned")
	ErrDebtOutstanding   = errors.New("debt outstanding")
	ErrNoDebt            = errors.New("no outstanding debt")
)

// AccountRecord is the single durable entity of the economy. Balances are in
// whole currency units and are never negative once committed.
type AccountRecord struct {
	SubjectID   string               `json:"subject_id"`
	Liquid      int64                `json:"liquid"`
	Banked      int64                `json:"banked"`
	Debt        *Debt                `json:"debt,omitempty"`
	Cooldowns   map[string]time.Time `json:"cooldowns,omitempty"`
	Inventory   []InventoryItem      `json:"inventory,omitempty"`
	Stats       Stats                `json:"stats"`
	Progression Progression          `json:"progression"`
	Partner     string               `json:"partner,omitempty"`
	Version     int64                `json:"version"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

type Debt struct {
	Principal int64     `json:"principal"`
	TakenAt   time.Time `json:"taken_at"`
	DueAt     time.Time `json:"due_at"`
	Settled   bool      `json:"settled"`
}

type InventoryItem struct {
	ItemID     string    `json:"item_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type Stats struct {
	Attempts     int64 `json:"attempts"`
	Wins         int64 `json:"wins"`
	Losses       int64 `json:"losses"`
	Winnings     int64 `json:"winnings"`
	LossesAmount int64 `json:"losses_amount"`
}

type Progression struct {
	Level          int   `json:"level"`
	Experience     int64 `json:"experience"`
	WorkSeq        int64 `json:"work_seq"`
	WorkStreak     int   `json:"work_streak"`
	LastShiftHours int   `json:"last_shift_hours,omitempty"`
	DailyStreak    int   `json:"daily_streak"`
}

// Mutation computes the next state of a record. It receives a private copy and
// returns either the replacement record or an error that aborts the commit.
type Mutation func(rec AccountRecord) (AccountRecord, error)
