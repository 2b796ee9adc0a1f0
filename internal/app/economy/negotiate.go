package economy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"econcore/internal/app/ports"
	"econcore/internal/app/shared/cooldown"
	"econcore/internal/config"
	"econcore/internal/domain/ledger"
	"econcore/internal/domain/outcome"
	"econcore/internal/domain/session"
)

var (
	ErrAlreadyMarried = fmt.Errorf("%w: already married", ports.ErrInvalidRequest)
	ErrNotMarried     = fmt.Errorf("%w: not married", ports.ErrInvalidRequest)
)

var duelSides = []outcome.Weighted[int]{
	{Value: 0, Weight: 1},
	{Value: 1, Weight: 1},
}

// ProposeTrade offers terms to toID. If toID already offered the mirror image
// of these terms to fromID, the trade executes immediately.
func (e *Engine) ProposeTrade(ctx context.Context, fromID, toID string, terms TradeTerms) (Negotiation, error) {
	n, err := e.proposeTrade(ctx, fromID, toID, terms)
	return n, e.observe(FlowTrade, err)
}

func (e *Engine) proposeTrade(ctx context.Context, fromID, toID string, terms TradeTerms) (Negotiation, error) {
	if terms.empty() || terms.OfferMoney < 0 || terms.RequestMoney < 0 {
		return Negotiation{}, fmt.Errorf("%w: trade needs non-negative, non-empty terms", ports.ErrInvalidRequest)
	}
	for _, id := range []string{terms.OfferItem, terms.RequestItem} {
		if _, ok := e.Tuning.Item(id); id != "" && !ok {
			return Negotiation{}, fmt.Errorf("%w: %s", ErrUnknownItem, id)
		}
	}
	mirror := terms.Mirror()
	return e.propose(ctx, session.KindTrade, fromID, toID, terms, func(existing session.Entry) bool {
		var held TradeTerms
		return json.Unmarshal(existing.Payload, &held) == nil && held == mirror
	})
}

// ChallengeDuel stakes money on a coin toss against toID. A mirrored challenge
// with the same stake is accepted on the spot.
func (e *Engine) ChallengeDuel(ctx context.Context, fromID, toID string, stake int64) (Negotiation, error) {
	n, err := e.challengeDuel(ctx, fromID, toID, stake)
	return n, e.observe(FlowDuel, err)
}

func (e *Engine) challengeDuel(ctx context.Context, fromID, toID string, stake int64) (Negotiation, error) {
	if err := e.checkBet(stake); err != nil {
		return Negotiation{}, err
	}
	rec, err := e.Ledger.Get(ctx, fromID)
	if err != nil {
		return Negotiation{}, err
	}
	if err := cooldown.Check(rec, e.gate(ActionDuel), e.Now()); err != nil {
		return Negotiation{}, err
	}
	if rec.Liquid < stake {
		return Negotiation{}, ledger.ErrInsufficientFunds
	}
	return e.propose(ctx, session.KindDuel, fromID, toID, DuelTerms{Stake: stake}, func(existing session.Entry) bool {
		var held DuelTerms
		return json.Unmarshal(existing.Payload, &held) == nil && held.Stake == stake
	})
}

// ProposeMarriage asks toID to marry fromID. Two crossing proposals marry the
// pair without a separate accept.
func (e *Engine) ProposeMarriage(ctx context.Context, fromID, toID string) (Negotiation, error) {
	n, err := e.proposeMarriage(ctx, fromID, toID)
	return n, e.observe(FlowMarriage, err)
}

func (e *Engine) proposeMarriage(ctx context.Context, fromID, toID string) (Negotiation, error) {
	for _, id := range []string{fromID, toID} {
		rec, err := e.Ledger.Get(ctx, id)
		if err != nil {
			return Negotiation{}, err
		}
		if rec.Partner != "" {
			return Negotiation{}, fmt.Errorf("%w: %s", ErrAlreadyMarried, id)
		}
		ring := e.Tuning.MarriageItem
		if id == fromID && ring != "" && !rec.HasActiveItem(ring, e.Now()) {
			return Negotiation{}, fmt.Errorf("%s: %w", ring, ledger.ErrItemNotOwned)
		}
	}
	return e.propose(ctx, session.KindMarriage, fromID, toID, struct{}{}, func(session.Entry) bool {
		return true
	})
}

func (e *Engine) propose(ctx context.Context, kind session.Kind, fromID, toID string, terms any, mirror func(session.Entry) bool) (Negotiation, error) {
	if fromID == toID {
		return Negotiation{}, ErrSelfTarget
	}
	payload, err := json.Marshal(terms)
	if err != nil {
		return Negotiation{}, fmt.Errorf("encode terms: %w", err)
	}
	entry, matched, err := e.Sessions.Propose(ctx, session.NewEntry{
		Kind:         kind,
		Participants: []string{fromID, toID},
		Payload:      payload,
		TTL:          e.Tuning.TTL(kind),
	}, mirror)
	if err != nil {
		return Negotiation{}, err
	}
	if !matched {
		return negotiationOf(entry, StatusPending), nil
	}
	return e.execute(ctx, entry)
}

// Respond lets the counterparty accept or decline a pending negotiation.
func (e *Engine) Respond(ctx context.Context, subjectID, sessionID string, accept bool) (Negotiation, error) {
	entry, err := e.Sessions.Get(ctx, sessionID)
	if err != nil {
		return Negotiation{}, e.observe(FlowTrade, err)
	}
	flow := flowOf(entry.Kind)
	if !entry.Kind.Negotiation() {
		return Negotiation{}, e.observe(flow, ports.ErrSessionNotFound)
	}
	if entry.Counterparty() != subjectID {
		return Negotiation{}, e.observe(flow, ports.ErrUnauthorized)
	}
	if accept && entry.Kind == session.KindDuel {
		// The duel stays pending while the responder is cooling down.
		rec, err := e.Ledger.Get(ctx, subjectID)
		if err != nil {
			return Negotiation{}, e.observe(flow, err)
		}
		if err := cooldown.Check(rec, e.gate(ActionDuel), e.Now()); err != nil {
			return Negotiation{}, e.observe(flow, err)
		}
	}
	entry, err = e.Sessions.Take(ctx, sessionID)
	if err != nil {
		return Negotiation{}, e.observe(flow, err)
	}
	if !accept {
		return negotiationOf(entry, StatusDeclined), e.observe(flow, nil)
	}
	n, err := e.execute(ctx, entry)
	return n, e.observe(flow, err)
}

// Cancel lets the initiator withdraw a pending negotiation.
func (e *Engine) Cancel(ctx context.Context, subjectID, sessionID string) (Negotiation, error) {
	entry, err := e.Sessions.Get(ctx, sessionID)
	if err != nil {
		return Negotiation{}, e.observe(FlowTrade, err)
	}
	flow := flowOf(entry.Kind)
	if !entry.Kind.Negotiation() {
		return Negotiation{}, e.observe(flow, ports.ErrSessionNotFound)
	}
	if entry.Initiator() != subjectID {
		return Negotiation{}, e.observe(flow, ports.ErrUnauthorized)
	}
	if entry, err = e.Sessions.Take(ctx, sessionID); err != nil {
		return Negotiation{}, e.observe(flow, err)
	}
	return negotiationOf(entry, StatusCancelled), e.observe(flow, nil)
}

// Pending lists the open negotiations subjectID takes part in.
func (e *Engine) Pending(ctx context.Context, subjectID string) ([]Negotiation, error) {
	out := []Negotiation{}
	for _, kind := range []session.Kind{session.KindTrade, session.KindDuel, session.KindMarriage} {
		entry, err := e.Sessions.FindByParticipant(ctx, kind, subjectID)
		if errors.Is(err, ports.ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, negotiationOf(entry, StatusPending))
	}
	return out, nil
}

func (e *Engine) Divorce(ctx context.Context, subjectID string) error {
	var partner string
	_, err := e.apply(ctx, subjectID, e.Now(), func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
		if r.Partner == "" {
			return r, ErrNotMarried
		}
		partner = r.Partner
		r.Partner = ""
		return r, nil
	})
	if err != nil {
		return e.observe(FlowMarriage, err)
	}
	_, err = e.apply(ctx, partner, e.Now(), func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
		if r.Partner == subjectID {
			r.Partner = ""
		}
		return r, nil
	})
	return e.observe(FlowMarriage, err)
}

// execute runs the effect of an accepted negotiation. The entry has already
// been removed from the registry.
func (e *Engine) execute(ctx context.Context, entry session.Entry) (Negotiation, error) {
	n := negotiationOf(entry, StatusAccepted)
	var err error
	switch entry.Kind {
	case session.KindTrade:
		var terms TradeTerms
		if err = json.Unmarshal(entry.Payload, &terms); err == nil {
			err = e.executeTrade(ctx, entry.Initiator(), entry.Counterparty(), terms)
		}
	case session.KindDuel:
		var terms DuelTerms
		if err = json.Unmarshal(entry.Payload, &terms); err == nil {
			n.Duel, err = e.executeDuel(ctx, entry.Initiator(), entry.Counterparty(), terms.Stake)
		}
	case session.KindMarriage:
		err = e.executeMarriage(ctx, entry.Initiator(), entry.Counterparty())
	default:
		err = ports.ErrSessionNotFound
	}
	if err != nil {
		return Negotiation{}, err
	}
	return n, nil
}

// executeTrade collects what the initiator gives, then settles the
// counterparty in one apply, then hands the initiator their side. A failure
// on the counterparty returns the initiator's goods.
func (e *Engine) executeTrade(ctx context.Context, initiator, counterparty string, terms TradeTerms) error {
	now := e.Now()
	bp := e.Tuning.FeeBasisPoints(config.TransferTrade)
	initiatorFee := outcome.FeeFor(terms.OfferMoney, bp)
	counterpartyFee := outcome.FeeFor(terms.RequestMoney, bp)

	var given ledger.InventoryItem
	_, err := e.apply(ctx, initiator, now, func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
		if terms.OfferMoney > 0 {
			if err := r.Debit(terms.OfferMoney + initiatorFee); err != nil {
				return r, err
			}
		}
		if terms.OfferItem != "" {
			item, err := r.TakeItem(terms.OfferItem, now)
			if err != nil {
				return r, err
			}
			given = item
		}
		return r, nil
	})
	if err != nil {
		return err
	}

	var received ledger.InventoryItem
	_, err = e.apply(ctx, counterparty, now, func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
		if terms.RequestMoney > 0 {
			if err := r.Debit(terms.RequestMoney + counterpartyFee); err != nil {
				return r, err
			}
		}
		if terms.RequestItem != "" {
			item, err := r.TakeItem(terms.RequestItem, now)
			if err != nil {
				return r, err
			}
			received = item
		}
		if terms.OfferMoney > 0 {
			if err := r.Credit(terms.OfferMoney); err != nil {
				return r, err
			}
		}
		if terms.OfferItem != "" {
			r.AdoptItem(given)
		}
		return r, nil
	})
	if err != nil {
		_, rerr := e.Ledger.Apply(ctx, initiator, func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
			if terms.OfferItem != "" {
				r.AdoptItem(given)
			}
			if terms.OfferMoney > 0 {
				if err := r.Credit(terms.OfferMoney + initiatorFee); err != nil {
					return r, err
				}
				return r, nil
			}
			return r, nil
		})
		if rerr != nil {
			e.Logger.Error("trade rollback failed", "subject", initiator, "err", rerr)
			return errors.Join(err, rerr)
		}
		return err
	}

	_, err = e.apply(ctx, initiator, now, func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
		if terms.RequestMoney > 0 {
			if err := r.Credit(terms.RequestMoney); err != nil {
				return r, err
			}
		}
		if terms.RequestItem != "" {
			r.AdoptItem(received)
		}
		return r, nil
	})
	if err != nil {
		e.Logger.Error("trade incomplete", "initiator", initiator, "counterparty", counterparty, "err", err)
		return err
	}
	e.settled(FlowTrade, initiator, terms.RequestMoney-terms.OfferMoney-initiatorFee, "counterparty", counterparty)
	return nil
}

// executeDuel tosses a coin and collects the stake from the loser before
// paying the winner, so a loser who can no longer cover it voids the duel.
func (e *Engine) executeDuel(ctx context.Context, initiator, counterparty string, stake int64) (*DuelOutcome, error) {
	side, _, err := outcome.Sample(e.Random, duelSides)
	if err != nil {
		return nil, err
	}
	winner, loser := initiator, counterparty
	if side == 1 {
		winner, loser = counterparty, initiator
	}
	now := e.Now()
	_, err = e.apply(ctx, loser, now, func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
		if err := settleStake(&r, -stake); err != nil {
			return r, err
		}
		r.StampCooldown(ActionDuel, now)
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	_, err = e.apply(ctx, winner, now, func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
		if err := settleStake(&r, stake); err != nil {
			return r, err
		}
		r.StampCooldown(ActionDuel, now)
		return r, nil
	})
	if err != nil {
		return nil, e.refund(ctx, loser, stake, err)
	}
	e.settled(FlowDuel, winner, stake, "loser", loser)
	return &DuelOutcome{Winner: winner, Loser: loser, Stake: stake}, nil
}

// executeMarriage spends the initiator's ring and links both records.
func (e *Engine) executeMarriage(ctx context.Context, initiator, counterparty string) error {
	now := e.Now()
	ringID := e.Tuning.MarriageItem
	var ring ledger.InventoryItem
	_, err := e.apply(ctx, initiator, now, func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
		if r.Partner != "" {
			return r, fmt.Errorf("%w: %s", ErrAlreadyMarried, initiator)
		}
		if ringID != "" {
			item, err := r.TakeItem(ringID, now)
			if err != nil {
				return r, err
			}
			ring = item
		}
		r.Partner = counterparty
		return r, nil
	})
	if err != nil {
		return err
	}
	_, err = e.apply(ctx, counterparty, now, func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
		if r.Partner != "" {
			return r, fmt.Errorf("%w: %s", ErrAlreadyMarried, counterparty)
		}
		r.Partner = initiator
		return r, nil
	})
	if err != nil {
		_, rerr := e.Ledger.Apply(ctx, initiator, func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
			r.Partner = ""
			if ringID != "" {
				r.AdoptItem(ring)
			}
			return r, nil
		})
		if rerr != nil {
			e.Logger.Error("marriage rollback failed", "subject", initiator, "err", rerr)
			return errors.Join(err, rerr)
		}
		return err
	}
	e.settled(FlowMarriage, initiator, 0, "partner", counterparty)
	return nil
}

func negotiationOf(entry session.Entry, status NegotiationStatus) Negotiation {
	n := Negotiation{
		SessionID:    entry.ID,
		Kind:         entry.Kind,
		Status:       status,
		Initiator:    entry.Initiator(),
		Counterparty: entry.Counterparty(),
	}
	if status == StatusPending {
		n.ExpiresAt = entry.ExpiresAt
	}
	return n
}

func flowOf(kind session.Kind) string {
	switch kind {
	case session.KindDuel:
		return FlowDuel
	case session.KindMarriage:
		return FlowMarriage
	default:
		return FlowTrade
	}
}
