package economy

import (
	"context"
	"encoding/json"
	"fmt"

	"econcore/internal/app/ports"
	"econcore/internal/app/shared/cooldown"
	"econcore/internal/domain/cards"
	"econcore/internal/domain/ledger"
	"econcore/internal/domain/outcome"
	"econcore/internal/domain/session"
)

type blackjackHand struct {
	Bet    int64      `json:"bet"`
	Player cards.Hand `json:"player"`
	Dealer cards.Hand `json:"dealer"`
	Deck   cards.Deck `json:"deck"`
}

// Deal opens a hand. A natural settles at once; otherwise the hand waits in
// the session registry for Hit or Stand.
func (e *Engine) Deal(ctx context.Context, subjectID string, bet int64) (BlackjackView, error) {
	unlock := e.locks.Lock(string(session.KindBlackjack) + ":" + subjectID)
	defer unlock()
	view, err := e.deal(ctx, subjectID, bet)
	return view, e.observe(FlowBlackjack, err)
}

func (e *Engine) deal(ctx context.Context, subjectID string, bet int64) (BlackjackView, error) {
	if err := e.checkBet(bet); err != nil {
		return BlackjackView{}, err
	}
	if open, err := e.Sessions.FindByParticipant(ctx, session.KindBlackjack, subjectID); err == nil {
		return BlackjackView{}, fmt.Errorf("%w: hand %s still open", ports.ErrSessionConflict, open.ID)
	}
	rec, err := e.Ledger.Get(ctx, subjectID)
	if err != nil {
		return BlackjackView{}, err
	}
	if err := cooldown.Check(rec, e.gate(ActionGamble), e.Now()); err != nil {
		return BlackjackView{}, err
	}
	if rec.Liquid < bet {
		return BlackjackView{}, ledger.ErrInsufficientFunds
	}

	h := blackjackHand{Bet: bet, Deck: cards.NewDeck(e.Random)}
	for i := 0; i < cards.NaturalCardSize; i++ {
		for _, hand := range []*cards.Hand{&h.Player, &h.Dealer} {
			c, err := h.Deck.Draw()
			if err != nil {
				return BlackjackView{}, err
			}
			*hand = append(*hand, c)
		}
	}
	if h.Player.Natural() {
		return e.settleBlackjack(ctx, subjectID, "", h)
	}

	payload, err := json.Marshal(h)
	if err != nil {
		return BlackjackView{}, fmt.Errorf("encode hand: %w", err)
	}
	entry, err := e.Sessions.Create(ctx, session.NewEntry{
		Kind:         session.KindBlackjack,
		Participants: []string{subjectID},
		Payload:      payload,
		TTL:          e.Tuning.TTL(session.KindBlackjack),
	})
	if err != nil {
		return BlackjackView{}, err
	}
	return actingView(entry.ID, h), nil
}

func (e *Engine) Hit(ctx context.Context, subjectID string) (BlackjackView, error) {
	unlock := e.locks.Lock(string(session.KindBlackjack) + ":" + subjectID)
	defer unlock()
	view, err := e.hit(ctx, subjectID)
	return view, e.observe(FlowBlackjack, err)
}

func (e *Engine) hit(ctx context.Context, subjectID string) (BlackjackView, error) {
	entry, h, err := e.openHand(ctx, subjectID)
	if err != nil {
		return BlackjackView{}, err
	}
	c, err := h.Deck.Draw()
	if err != nil {
		return BlackjackView{}, err
	}
	h.Player = append(h.Player, c)
	if h.Player.Busted() || h.Player.Value() == cards.BustLimit {
		return e.standOn(ctx, subjectID, entry.ID, h)
	}
	payload, err := json.Marshal(h)
	if err != nil {
		return BlackjackView{}, fmt.Errorf("encode hand: %w", err)
	}
	if _, err := e.Sessions.Update(ctx, entry.ID, payload); err != nil {
		return BlackjackView{}, err
	}
	return actingView(entry.ID, h), nil
}

func (e *Engine) Stand(ctx context.Context, subjectID string) (BlackjackView, error) {
	unlock := e.locks.Lock(string(session.KindBlackjack) + ":" + subjectID)
	defer unlock()
	view, err := e.stand(ctx, subjectID)
	return view, e.observe(FlowBlackjack, err)
}

func (e *Engine) stand(ctx context.Context, subjectID string) (BlackjackView, error) {
	entry, h, err := e.openHand(ctx, subjectID)
	if err != nil {
		return BlackjackView{}, err
	}
	return e.standOn(ctx, subjectID, entry.ID, h)
}

// standOn claims the session before touching the ledger so a hand settles
// at most once. A busted player skips the dealer's turn.
func (e *Engine) standOn(ctx context.Context, subjectID, sessionID string, h blackjackHand) (BlackjackView, error) {
	if _, err := e.Sessions.Take(ctx, sessionID); err != nil {
		return BlackjackView{}, err
	}
	if !h.Player.Busted() {
		dealer, err := cards.PlayDealer(h.Dealer, &h.Deck)
		if err != nil {
			return BlackjackView{}, err
		}
		h.Dealer = dealer
	}
	return e.settleBlackjack(ctx, subjectID, sessionID, h)
}

func (e *Engine) settleBlackjack(ctx context.Context, subjectID, sessionID string, h blackjackHand) (BlackjackView, error) {
	result := cards.Settle(h.Player, h.Dealer)
	if h.Player.Natural() && len(h.Player) == cards.NaturalCardSize {
		result = cards.ResultNatural
		if h.Dealer.Natural() {
			result = cards.ResultPush
		}
	}
	now := e.Now()
	var delta int64
	rec, err := e.apply(ctx, subjectID, now, func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
		switch {
		case result == cards.ResultNatural:
			delta = outcome.MulFloor(h.Bet, e.Tuning.Blackjack.NaturalMultiplier)
		case result.PlayerWon():
			delta = h.Bet
		case result.PlayerLost():
			delta = -h.Bet
		default:
			delta = 0
		}
		if err := settleStake(&r, delta); err != nil {
			return r, err
		}
		r.StampCooldown(ActionGamble, now)
		return r, nil
	})
	if err != nil {
		return BlackjackView{}, err
	}
	e.settled(FlowBlackjack, subjectID, delta, "result", result)
	return BlackjackView{
		SessionID:   sessionID,
		State:       BlackjackSettled,
		Bet:         h.Bet,
		Player:      h.Player,
		PlayerValue: h.Player.Value(),
		Dealer:      h.Dealer,
		DealerValue: h.Dealer.Value(),
		Result:      result,
		Delta:       delta,
		Balance:     rec.Liquid,
	}, nil
}

func (e *Engine) openHand(ctx context.Context, subjectID string) (session.Entry, blackjackHand, error) {
	entry, err := e.Sessions.FindByParticipant(ctx, session.KindBlackjack, subjectID)
	if err != nil {
		return session.Entry{}, blackjackHand{}, err
	}
	var h blackjackHand
	if err := json.Unmarshal(entry.Payload, &h); err != nil {
		return session.Entry{}, blackjackHand{}, fmt.Errorf("decode hand %s: %w", entry.ID, err)
	}
	return entry, h, nil
}

// actingView hides the dealer's hole card.
func actingView(sessionID string, h blackjackHand) BlackjackView {
	return BlackjackView{
		SessionID:   sessionID,
		State:       BlackjackActing,
		Bet:         h.Bet,
		Player:      h.Player,
		PlayerValue: h.Player.Value(),
		Dealer:      h.Dealer[:1],
	}
}

// settleStake books a signed gamble result and its statistics. Losses need
// the stake in liquid funds.
func settleStake(r *ledger.AccountRecord, delta int64) error {
	switch {
	case delta > 0:
		if err := r.Credit(delta); err != nil {
			return err
		}
		r.RecordWin(delta)
	case delta < 0:
		if err := r.Debit(-delta); err != nil {
			return err
		}
		r.RecordLoss(-delta)
	default:
		r.RecordPush()
	}
	return nil
}
