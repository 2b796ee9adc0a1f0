// Package cards implements the draw-and-respond card game rules.
package cards

import (
	"errors"
	"fmt"
)

const (
	BustLimit       = 21
	DealerStandsAt  = 17
	NaturalCardSize = 2
)

var ErrDeckEmpty = errors.New("deck empty")

// Card ranks run 1 (ace) to 13 (king).
type Card struct {
	Rank int    `json:"rank"`
	Suit string `json:"suit"`
}

var suits = [...]string{"spades", "hearts", "diamonds", "clubs"}

func (c Card) String() string {
	names := map[int]string{1: "A", 11: "J", 12: "Q", 13: "K"}
	if n, ok := names[c.Rank]; ok {
		return n + "-" + c.Suit
	}
	return fmt.Sprintf("%d-%s", c.Rank, c.Suit)
}

func (c Card) points() int {
	switch {
	case c.Rank == 1:
		return 11
	case c.Rank >= 10:
		return 10
	default:
		return c.Rank
	}
}

type Hand []Card

// Value counts aces as 11 and downgrades them to 1 one at a time while the
// total would bust.
func (h Hand) Value() int {
	total, aces := 0, 0
	for _, c := range h {
		total += c.points()
		if c.Rank == 1 {
			aces++
		}
	}
	for total > BustLimit && aces > 0 {
		total -= 10
		aces--
	}
	return total
}

func (h Hand) Busted() bool {
	return h.Value() > BustLimit
}

func (h Hand) Natural() bool {
	return len(h) == NaturalCardSize && h.Value() == BustLimit
}

type Shuffler interface {
	IntN(n int) int
}

type Deck []Card

func NewDeck(src Shuffler) Deck {
	d := make(Deck, 0, 52)
	for _, s := range suits {
		for r := 1; r <= 13; r++ {
			d = append(d, Card{Rank: r, Suit: s})
		}
	}
	for i := len(d) - 1; i > 0; i-- {
		j := src.IntN(i + 1)
		d[i], d[j] = d[j], d[i]
	}
	return d
}

func (d *Deck) Draw() (Card, error) {
	if len(*d) == 0 {
		return Card{}, ErrDeckEmpty
	}
	c := (*d)[0]
	*d = (*d)[1:]
	return c, nil
}

// PlayDealer draws until the dealer total first reaches 17 or more.
func PlayDealer(dealer Hand, deck *Deck) (Hand, error) {
	for dealer.Value() < DealerStandsAt {
		c, err := deck.Draw()
		if err != nil {
			return dealer, err
		}
		dealer = append(dealer, c)
	}
	return dealer, nil
}

type Result string

const (
	ResultPlayerWins Result = "player_wins"
	ResultDealerWins Result = "dealer_wins"
	ResultPush       Result = "push"
	ResultNatural    Result = "natural"
	ResultPlayerBust Result = "player_bust"
	ResultDealerBust Result = "dealer_bust"
)

// Settle applies the precedence: player bust, then dealer bust, then the
// higher total, with equal totals pushing.
func Settle(player, dealer Hand) Result {
	switch {
	case player.Busted():
		return ResultPlayerBust
	case dealer.Busted():
		return ResultDealerBust
	case player.Value() > dealer.Value():
		return ResultPlayerWins
	case player.Value() < dealer.Value():
		return ResultDealerWins
	default:
		return ResultPush
	}
}

func (r Result) PlayerWon() bool {
	return r == ResultPlayerWins || r == ResultDealerBust || r == ResultNatural
}

func (r Result) PlayerLost() bool {
	return r == ResultDealerWins || r == ResultPlayerBust
}
