package economy

import (
	"time"

	"econcore/internal/domain/cards"
	"econcore/internal/domain/ledger"
	"econcore/internal/domain/session"
	"econcore/internal/domain/workflow"
)

type Reward struct {
	Amount  int64 `json:"amount"`
	Balance int64 `json:"balance"`
	Streak  int   `json:"streak,omitempty"`
}

type BankResult struct {
	Moved  int64 `json:"moved"`
	Liquid int64 `json:"liquid"`
	Banked int64 `json:"banked"`
}

type TransferResult struct {
	Amount          int64 `json:"amount"`
	Fee             int64 `json:"fee"`
	SenderBalance   int64 `json:"sender_balance"`
	ReceiverBalance int64 `json:"receiver_balance"`
}

type LoanResult struct {
	Amount      int64     `json:"amount"`
	Outstanding int64     `json:"outstanding"`
	DueAt       time.Time `json:"due_at,omitzero"`
	Balance     int64     `json:"balance"`
}

type PurchaseResult struct {
	Item    ledger.InventoryItem `json:"item"`
	Price   int64                `json:"price"`
	Balance int64                `json:"balance"`
}

type GiftResult struct {
	Item ledger.InventoryItem `json:"item"`
	Fee  int64                `json:"fee"`
}

type Profile struct {
	Account     ledger.AccountRecord   `json:"account"`
	Cooldowns   map[string]int         `json:"cooldowns"`
	ActiveItems []ledger.InventoryItem `json:"active_items"`
}

// WorkStep is returned by every intermediate stage of the work pipeline.
type WorkStep struct {
	Token      string         `json:"token"`
	Stage      workflow.Stage `json:"stage"`
	JobID      string         `json:"job_id"`
	ShiftID    string         `json:"shift_id,omitempty"`
	Prompt     string         `json:"prompt,omitempty"`
	Options    []string       `json:"options,omitempty"`
	TasksDone  int            `json:"tasks_done"`
	TasksTotal int            `json:"tasks_total"`
	Qualities  []string       `json:"qualities,omitempty"`
}

type WorkPayout struct {
	Token        string    `json:"token"`
	Base         int64     `json:"base"`
	Multipliers  []float64 `json:"multipliers"`
	Pay          int64     `json:"pay"`
	Balance      int64     `json:"balance"`
	Streak       int       `json:"streak"`
	Level        int       `json:"level"`
	LevelsGained int       `json:"levels_gained"`
}

type BlackjackState string

const (
	BlackjackActing  BlackjackState = "acting"
	BlackjackSettled BlackjackState = "settled"
)

type BlackjackView struct {
	SessionID   string         `json:"session_id,omitempty"`
	State       BlackjackState `json:"state"`
	Bet         int64          `json:"bet"`
	Player      cards.Hand     `json:"player"`
	PlayerValue int            `json:"player_value"`
	Dealer      cards.Hand     `json:"dealer"`
	DealerValue int            `json:"dealer_value,omitempty"`
	Result      cards.Result   `json:"result,omitempty"`
	Delta       int64          `json:"delta"`
	Balance     int64          `json:"balance,omitempty"`
}

type GambleResult struct {
	Outcome string `json:"outcome"`
	Delta   int64  `json:"delta"`
	Balance int64  `json:"balance"`
}

type NegotiationStatus string

const (
	StatusPending   NegotiationStatus = "pending"
	StatusAccepted  NegotiationStatus = "accepted"
	StatusDeclined  NegotiationStatus = "declined"
	StatusCancelled NegotiationStatus = "cancelled"
)

type Negotiation struct {
	SessionID    string            `json:"session_id"`
	Kind         session.Kind      `json:"kind"`
	Status       NegotiationStatus `json:"status"`
	Initiator    string            `json:"initiator"`
	Counterparty string            `json:"counterparty"`
	ExpiresAt    time.Time         `json:"expires_at,omitzero"`
	Duel         *DuelOutcome      `json:"duel,omitempty"`
}

type DuelOutcome struct {
	Winner string `json:"winner"`
	Loser  string `json:"loser"`
	Stake  int64  `json:"stake"`
}

// TradeTerms are written from the initiator's side: what they give and what
// they ask for.
type TradeTerms struct {
	OfferMoney   int64  `json:"offer_money,omitempty"`
	OfferItem    string `json:"offer_item,omitempty"`
	RequestMoney int64  `json:"request_money,omitempty"`
	RequestItem  string `json:"request_item,omitempty"`
}

// Mirror is the same exchange seen from the other side.
func (t TradeTerms) Mirror() TradeTerms {
	return TradeTerms{
		OfferMoney:   t.RequestMoney,
		OfferItem:    t.RequestItem,
		RequestMoney: t.OfferMoney,
		RequestItem:  t.OfferItem,
	}
}

func (t TradeTerms) empty() bool {
	return t.OfferMoney == 0 && t.OfferItem == "" && t.RequestMoney == 0 && t.RequestItem == ""
}

type DuelTerms struct {
	Stake int64 `json:"stake"`
}
