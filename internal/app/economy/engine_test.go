package economy

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"econcore/internal/adapter/metrics/inmemory"
	ledgermem "econcore/internal/adapter/repo/memory"
	sessionmem "econcore/internal/adapter/session/memory"
	"econcore/internal/app/ports"
	"econcore/internal/config"
	"econcore/internal/domain/cards"
	"econcore/internal/domain/ledger"
	"econcore/internal/domain/outcome"
	"econcore/internal/domain/workflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// scriptedSource replays queued draws and falls back to zero.
type scriptedSource struct {
	mu     sync.Mutex
	floats []float64
	ints   []int
}

func (s *scriptedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.floats) == 0 {
		return 0
	}
	f := s.floats[0]
	s.floats = s.floats[1:]
	return f
}

func (s *scriptedSource) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ints) == 0 {
		return 0
	}
	v := s.ints[0]
	s.ints = s.ints[1:]
	return min(v, n-1)
}

func (s *scriptedSource) queueFloats(fs ...float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.floats = append(s.floats, fs...)
}

func (s *scriptedSource) queueInts(is ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ints = append(s.ints, is...)
}

// stackDeck queues the shuffle picks that make the next deck start with top.
func (s *scriptedSource) stackDeck(top ...cards.Card) {
	var ordered cards.Deck
	for _, suit := range []string{"spades", "hearts", "diamonds", "clubs"} {
		for r := 1; r <= 13; r++ {
			ordered = append(ordered, cards.Card{Rank: r, Suit: suit})
		}
	}
	target := append(cards.Deck(nil), top...)
	for _, c := range ordered {
		if !slices.Contains(top, c) {
			target = append(target, c)
		}
	}
	cur := append(cards.Deck(nil), ordered...)
	picks := make([]int, 0, len(cur)-1)
	for i := len(cur) - 1; i > 0; i-- {
		j := slices.Index(cur[:i+1], target[i])
		picks = append(picks, j)
		cur[i], cur[j] = cur[j], cur[i]
	}
	s.queueInts(picks...)
}

type fixture struct {
	engine   *Engine
	ledger   *ledgermem.Store
	sessions *sessionmem.Registry
	metrics  *inmemory.Recorder
	random   *scriptedSource
	clock    *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := &testClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	tuning := config.DefaultTuning()
	codec, err := workflow.NewCodec([]byte("test-secret"))
	require.NoError(t, err)
	f := &fixture{
		ledger:   ledgermem.NewStore(ledgermem.Options{StartingBalance: tuning.StartingBalance, Now: clk.Now}),
		sessions: sessionmem.New(sessionmem.Options{Now: clk.Now}),
		metrics:  inmemory.NewRecorder(),
		random:   &scriptedSource{},
		clock:    clk,
	}
	f.engine = New(Deps{
		Ledger:   f.ledger,
		Sessions: f.sessions,
		Tuning:   tuning,
		Tokens:   codec,
		Random:   f.random,
		Metrics:  f.metrics,
		Now:      clk.Now,
	})
	return f
}

func (f *fixture) record(t *testing.T, subjectID string) ledger.AccountRecord {
	t.Helper()
	rec, err := f.ledger.Get(context.Background(), subjectID)
	require.NoError(t, err)
	return rec
}

func (f *fixture) seed(t *testing.T, subjectID string, liquid int64) {
	t.Helper()
	rec := ledger.NewAccount(subjectID, liquid, f.clock.Now())
	rec.Version = 1
	f.ledger.SeedState(rec)
}

func requireCooldown(t *testing.T, err error, action string, seconds int) {
	t.Helper()
	var cd *outcome.CooldownActiveError
	require.True(t, errors.As(err, &cd), "want cooldown error, got %v", err)
	assert.Equal(t, action, cd.Action)
	assert.Equal(t, seconds, cd.RemainingSeconds())
}

func TestDailyStreakGrowsWithinGraceAndResets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.engine.Daily(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(220), r.Amount)
	assert.Equal(t, int64(720), r.Balance)

	_, err = f.engine.Daily(ctx, "u1")
	requireCooldown(t, err, ActionDaily, 24*60*60)

	f.clock.Advance(24 * time.Hour)
	r, err = f.engine.Daily(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, r.Streak)
	assert.Equal(t, int64(240), r.Amount)

	f.clock.Advance(72 * time.Hour)
	r, err = f.engine.Daily(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, r.Streak)
	assert.Equal(t, int64(220), r.Amount)
}

func TestBegCooldownReportsRemainingSeconds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.random.queueInts(9)

	r, err := f.engine.Beg(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), r.Amount)

	f.clock.Advance(20*time.Second + time.Millisecond)
	_, err = f.engine.Beg(ctx, "u1")
	require.ErrorIs(t, err, ports.ErrCooldownActive)
	requireCooldown(t, err, ActionBeg, 40)
	assert.Equal(t, int64(510), f.record(t, "u1").Liquid)

	snap := f.metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.ByFlow[FlowBeg].Success)
	assert.Equal(t, uint64(1), snap.ByFlow[FlowBeg].Conflict)

	f.clock.Advance(40 * time.Second)
	_, err = f.engine.Beg(ctx, "u1")
	require.NoError(t, err)
}

func TestBankMovesFundsAndSupportsAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.Deposit(ctx, "u1", 200)
	require.NoError(t, err)
	assert.Equal(t, BankResult{Moved: 200, Liquid: 300, Banked: 200}, res)

	_, err = f.engine.Withdraw(ctx, "u1", 201)
	require.ErrorIs(t, err, ports.ErrInsufficientFunds)

	res, err = f.engine.Deposit(ctx, "u1", All)
	require.NoError(t, err)
	assert.Equal(t, BankResult{Moved: 300, Liquid: 0, Banked: 500}, res)

	res, err = f.engine.Withdraw(ctx, "u1", All)
	require.NoError(t, err)
	assert.Equal(t, int64(500), res.Liquid)

	_, err = f.engine.Deposit(ctx, "u1", 0)
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func TestPayChargesFee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.Pay(ctx, "a", "b", 200)
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Fee)
	assert.Equal(t, int64(290), res.SenderBalance)
	assert.Equal(t, int64(700), res.ReceiverBalance)

	_, err = f.engine.Pay(ctx, "a", "b", 290)
	require.ErrorIs(t, err, ports.ErrInsufficientFunds)
	assert.Equal(t, int64(290), f.record(t, "a").Liquid)

	_, err = f.engine.Pay(ctx, "a", "a", 1)
	require.ErrorIs(t, err, ports.ErrInvalidRequest)
}

type failingLedger struct {
	ports.LedgerStore
	failFor string
}

var errLedgerDown = errors.New("ledger down")

func (l failingLedger) Apply(ctx context.Context, subjectID string, fn ledger.Mutation) (ledger.AccountRecord, error) {
	if subjectID == l.failFor {
		return ledger.AccountRecord{}, errLedgerDown
	}
	return l.LedgerStore.Apply(ctx, subjectID, fn)
}

func TestPayRefundsSenderWhenCreditFails(t *testing.T) {
	f := newFixture(t)
	f.engine.Ledger = failingLedger{LedgerStore: f.ledger, failFor: "b"}

	_, err := f.engine.Pay(context.Background(), "a", "b", 200)
	require.ErrorIs(t, err, errLedgerDown)
	assert.Equal(t, int64(500), f.record(t, "a").Liquid)
	assert.Equal(t, uint64(1), f.metrics.Snapshot().ByFlow[FlowTransfer].Failure)
}

func TestLoanBorrowAndRepay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.Borrow(ctx, "u1", 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), res.Balance)
	assert.Equal(t, f.clock.Now().Add(72*time.Hour), res.DueAt)

	_, err = f.engine.Borrow(ctx, "u1", 10)
	require.ErrorIs(t, err, ledger.ErrDebtOutstanding)

	res, err = f.engine.Repay(ctx, "u1", 400)
	require.NoError(t, err)
	assert.Equal(t, int64(600), res.Outstanding)

	res, err = f.engine.Repay(ctx, "u1", All)
	require.NoError(t, err)
	assert.Equal(t, int64(600), res.Amount)
	assert.Zero(t, res.Outstanding)
	assert.Equal(t, int64(500), res.Balance)

	_, err = f.engine.Repay(ctx, "u1", All)
	require.ErrorIs(t, err, ledger.ErrNoDebt)

	_, err = f.engine.Borrow(ctx, "u1", 5001)
	require.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestBuyGiftAndExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bought, err := f.engine.Buy(ctx, "a", "rose")
	require.NoError(t, err)
	assert.Equal(t, int64(460), bought.Balance)

	_, err = f.engine.Buy(ctx, "a", "yacht")
	require.ErrorIs(t, err, ErrUnknownItem)

	g, err := f.engine.Gift(ctx, "a", "b", "rose")
	require.NoError(t, err)
	assert.Equal(t, bought.Item, g.Item)
	assert.Empty(t, f.record(t, "a").Inventory)

	p, err := f.engine.Profile(ctx, "b")
	require.NoError(t, err)
	require.Len(t, p.ActiveItems, 1)

	_, err = f.engine.Gift(ctx, "a", "b", "rose")
	require.ErrorIs(t, err, ledger.ErrItemNotOwned)

	f.clock.Advance(24 * time.Hour)
	p, err = f.engine.Profile(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, p.ActiveItems)
	_, err = f.engine.Gift(ctx, "b", "a", "rose")
	require.ErrorIs(t, err, ledger.ErrItemNotOwned)
}

func TestProfileListsOpenCooldowns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.Beg(ctx, "u1")
	require.NoError(t, err)
	f.clock.Advance(15 * time.Second)

	p, err := f.engine.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{ActionBeg: 45}, p.Cooldowns)
}

func TestResetAllStartsEveryoneFresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.Daily(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, f.engine.ResetAll(ctx, "ops"))

	rec := f.record(t, "u1")
	assert.Equal(t, int64(500), rec.Liquid)
	assert.Empty(t, rec.Cooldowns)
	_, err = f.engine.Daily(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.metrics.Snapshot().ByFlow[FlowAdmin].Success)
}
