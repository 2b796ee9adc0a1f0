package cards

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func c(rank int) Card { return Card{Rank: rank, Suit: "spades"} }

func TestHandValueSoftAces(t *testing.T) {
	cases := []struct {
		name string
		hand Hand
		want int
	}{
		{"ace king", Hand{c(1), c(13)}, 21},
		{"two aces", Hand{c(1), c(1)}, 12},
		{"ace downgrades", Hand{c(1), c(9), c(5)}, 15},
		{"three aces and nine", Hand{c(1), c(1), c(1), c(9)}, 12},
		{"bust stays bust", Hand{c(10), c(12), c(5)}, 25},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.hand.Value())
		})
	}
}

func TestNatural(t *testing.T) {
	assert.True(t, Hand{c(1), c(12)}.Natural())
	assert.False(t, Hand{c(7), c(7), c(7)}.Natural())
}

func TestDealerStopsAtFirstSeventeenOrMore(t *testing.T) {
	src := rand.New(rand.NewPCG(3, 5))
	for i := 0; i < 500; i++ {
		deck := NewDeck(src)
		start := Hand{c(10), c(5)}
		before := len(deck)

		got, err := PlayDealer(start, &deck)
		require.NoError(t, err)

		drawn := len(got) - len(start)
		require.Equal(t, before-drawn, len(deck))
		assert.GreaterOrEqual(t, got.Value(), DealerStandsAt)
		for k := len(start); k < len(got); k++ {
			// every prefix before the last draw was still under 17
			assert.Less(t, got[:k].Value(), DealerStandsAt)
		}
	}
}

func TestDealerDoesNotDrawAtSeventeen(t *testing.T) {
	deck := NewDeck(rand.New(rand.NewPCG(1, 1)))
	got, err := PlayDealer(Hand{c(10), c(7)}, &deck)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Len(t, deck, 52)
}

func TestSettlePrecedence(t *testing.T) {
	bust := Hand{c(10), c(10), c(5)}
	assert.Equal(t, ResultPlayerBust, Settle(bust, bust), "player bust wins over dealer bust")
	assert.Equal(t, ResultDealerBust, Settle(Hand{c(10), c(2)}, bust))
	assert.Equal(t, ResultPlayerWins, Settle(Hand{c(10), c(9)}, Hand{c(10), c(8)}))
	assert.Equal(t, ResultDealerWins, Settle(Hand{c(10), c(7)}, Hand{c(10), c(8)}))
	assert.Equal(t, ResultPush, Settle(Hand{c(10), c(8)}, Hand{c(9), c(9)}))
}

func TestDeckIsFullAndDrawEmpties(t *testing.T) {
	deck := NewDeck(rand.New(rand.NewPCG(9, 9)))
	seen := map[Card]bool{}
	for len(deck) > 0 {
		card, err := deck.Draw()
		require.NoError(t, err)
		seen[card] = true
	}
	assert.Len(t, seen, 52)
	_, err := deck.Draw()
	assert.ErrorIs(t, err, ErrDeckEmpty)
}
