// Package economy runs every flow of the economy on top of the ledger, the
// session registry and the outcome rules. Intermediate stages never touch the
// ledger; each flow settles with one or more ledger applies.
package economy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"econcore/internal/app/ports"
	"econcore/internal/app/shared/keylock"
	"econcore/internal/config"
	"econcore/internal/domain/ledger"
	"econcore/internal/domain/outcome"
	"econcore/internal/domain/workflow"
)

// Cooldown stamps kept on the account record.
const (
	ActionBeg    = "beg"
	ActionDaily  = "daily"
	ActionGamble = "gamble"
	ActionDuel   = "duel"
	ActionWork   = "work"
)

// Flow names reported to metrics.
const (
	FlowBalance   = "balance"
	FlowDaily     = "daily"
	FlowBeg       = "beg"
	FlowBank      = "bank"
	FlowTransfer  = "transfer"
	FlowLoan      = "loan"
	FlowShop      = "shop"
	FlowGift      = "gift"
	FlowWork      = "work"
	FlowBlackjack = "blackjack"
	FlowCoinflip  = "coinflip"
	FlowSlots     = "slots"
	FlowTrade     = "trade"
	FlowDuel      = "duel"
	FlowMarriage  = "marriage"
	FlowAdmin     = "admin"
)

// All selects the whole available amount in Deposit, Withdraw and Repay.
const All int64 = -1

var (
	ErrSelfTarget  = fmt.Errorf("%w: cannot target yourself", ports.ErrInvalidRequest)
	ErrUnknownItem = fmt.Errorf("%w: unknown item", ports.ErrInvalidRequest)
	ErrBetRange    = fmt.Errorf("%w: bet out of range", ports.ErrInvalidRequest)
)

type Deps struct {
	Ledger   ports.LedgerStore
	Sessions ports.SessionRegistry
	Tuning   config.Tuning
	Tokens   workflow.Codec
	Random   outcome.Source
	Metrics  ports.FlowMetrics
	Logger   *slog.Logger
	Now      func() time.Time
}

type Engine struct {
	Deps
	locks *keylock.Map
}

func New(d Deps) *Engine {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{Deps: d, locks: keylock.New()}
}

// apply drops expired inventory before every mutation.
func (e *Engine) apply(ctx context.Context, subjectID string, now time.Time, fn ledger.Mutation) (ledger.AccountRecord, error) {
	return e.Ledger.Apply(ctx, subjectID, func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
		r.PruneExpired(now)
		return fn(r)
	})
}

func (e *Engine) gate(action string) outcome.Gate {
	cd := e.Tuning.Cooldowns
	switch action {
	case ActionBeg:
		return outcome.Gate{Action: action, Duration: cd.Beg}
	case ActionDaily:
		return outcome.Gate{Action: action, Duration: cd.Daily}
	case ActionGamble:
		return outcome.Gate{Action: action, Duration: cd.Gamble}
	case ActionDuel:
		return outcome.Gate{Action: action, Duration: cd.Duel}
	default:
		return outcome.Gate{Action: action}
	}
}

// workGate lasts as long as the last shift worked.
func workGate(rec ledger.AccountRecord) outcome.Gate {
	return outcome.Gate{Action: ActionWork, Duration: time.Duration(rec.Progression.LastShiftHours) * time.Hour}
}

func (e *Engine) gates(rec ledger.AccountRecord) []outcome.Gate {
	return []outcome.Gate{
		e.gate(ActionBeg),
		e.gate(ActionDaily),
		e.gate(ActionGamble),
		e.gate(ActionDuel),
		workGate(rec),
	}
}

func (e *Engine) checkBet(bet int64) error {
	if bet < e.Tuning.Betting.Min || bet > e.Tuning.Betting.Max {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrBetRange, bet, e.Tuning.Betting.Min, e.Tuning.Betting.Max)
	}
	return nil
}

// observe records the outcome of a flow and passes err through.
func (e *Engine) observe(flow string, err error) error {
	switch {
	case err == nil:
		if e.Metrics != nil {
			e.Metrics.RecordSuccess(flow)
		}
	case isConflict(err):
		if e.Metrics != nil {
			e.Metrics.RecordConflict(flow)
		}
	default:
		if e.Metrics != nil {
			e.Metrics.RecordFailure(flow)
		}
		if !isExpected(err) {
			e.Logger.Error("flow failed", "flow", flow, "err", err)
		}
	}
	return err
}

func (e *Engine) settled(flow, subjectID string, delta int64, attrs ...any) {
	e.Logger.Info("settled", append([]any{"flow", flow, "subject", subjectID, "delta", delta}, attrs...)...)
}

func isConflict(err error) bool {
	return errors.Is(err, ports.ErrSessionConflict) ||
		errors.Is(err, ports.ErrConflict) ||
		errors.Is(err, ports.ErrCooldownActive)
}

// isExpected covers errors that are answers to the caller, not faults.
func isExpected(err error) bool {
	for _, target := range []error{
		ports.ErrInvalidRequest,
		ports.ErrInsufficientFunds,
		ports.ErrUnauthorized,
		ports.ErrInvalidTransition,
		ports.ErrSessionNotFound,
		ports.ErrSessionExpired,
		workflow.ErrMalformedToken,
		ledger.ErrInvalidAmount,
		ledger.ErrItemNotOwned,
		ledger.ErrDebtOutstanding,
		ledger.ErrNoDebt,
		context.Canceled,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
