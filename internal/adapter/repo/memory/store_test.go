package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"econcore/internal/app/ports"
	"econcore/internal/domain/ledger"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time {
	return time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
}

func credit(n int64) ledger.Mutation {
	return func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
		if err := r.Credit(n); err != nil {
			return r, err
		}
		return r, nil
	}
}

func TestGetCreatesDefaultAccount(t *testing.T) {
	s := NewStore(Options{StartingBalance: 500, Now: fixedNow})
	rec, err := s.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", rec.SubjectID)
	assert.Equal(t, int64(500), rec.Liquid)
	assert.Equal(t, int64(1), rec.Version)
	assert.Equal(t, 1, s.Len())

	again, err := s.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, rec, again)
}

func TestConcurrentAppliesLoseNoUpdates(t *testing.T) {
	s := NewStore(Options{StartingBalance: 0, Now: fixedNow})
	const n = 500
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Apply(context.Background(), "hot", credit(1))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := s.Get(context.Background(), "hot")
	require.NoError(t, err)
	assert.Equal(t, int64(n), rec.Liquid)
	assert.Equal(t, int64(n), rec.Version)
}

func TestApplyRejectsNegativeBalances(t *testing.T) {
	s := NewStore(Options{StartingBalance: 10, Now: fixedNow})
	ctx := context.Background()

	_, err := s.Apply(ctx, "u1", func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
		r.Liquid -= 11
		return r, nil
	})
	require.ErrorIs(t, err, ports.ErrInsufficientFunds)

	_, err = s.Apply(ctx, "u1", func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
		r.Banked = -1
		return r, nil
	})
	require.ErrorIs(t, err, ports.ErrInsufficientFunds)

	rec, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), rec.Liquid)
	assert.Equal(t, int64(0), rec.Banked)
}

func TestMutationErrorLeavesRecordUntouched(t *testing.T) {
	s := NewStore(Options{StartingBalance: 10, Now: fixedNow})
	ctx := context.Background()
	before, err := s.Get(ctx, "u1")
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = s.Apply(ctx, "u1", func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
		r.StampCooldown("beg", fixedNow())
		r.Liquid = 9999
		return r, boom
	})
	require.ErrorIs(t, err, boom)

	after, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

type failingPersister struct {
	fail bool
}

func (p *failingPersister) Persist(map[string]ledger.AccountRecord) error {
	if p.fail {
		return errors.New("disk full")
	}
	return nil
}

func TestPersistFailureRollsBack(t *testing.T) {
	p := &failingPersister{}
	s := NewStore(Options{StartingBalance: 10, Now: fixedNow, Persister: p})
	ctx := context.Background()
	_, err := s.Get(ctx, "u1")
	require.NoError(t, err)

	p.fail = true
	_, err = s.Apply(ctx, "u1", credit(5))
	require.Error(t, err)
	_, err = s.Apply(ctx, "u2", credit(5))
	require.Error(t, err)
	require.Error(t, s.ResetAll(ctx))

	p.fail = false
	rec, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), rec.Liquid)
	assert.Equal(t, 1, s.Len())
}

func TestResetAllNeverSplitsAnApply(t *testing.T) {
	s := NewStore(Options{StartingBalance: 0, Now: fixedNow})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 300; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Apply(ctx, "u1", credit(1))
			assert.NoError(t, err)
		}()
		if i == 150 {
			require.NoError(t, s.ResetAll(ctx))
		}
	}
	wg.Wait()

	rec, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	// Every apply since the last reset bumped the version and the balance
	// together; a straddling apply would break the pairing.
	assert.Equal(t, rec.Version, rec.Liquid)
}

func TestNoLostUpdatesProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("final balance equals sum of concurrent credits", prop.ForAll(
		func(amounts []int64) bool {
			s := NewStore(Options{StartingBalance: 100, Now: fixedNow})
			var wg sync.WaitGroup
			var want int64 = 100
			for _, a := range amounts {
				want += a
				wg.Add(1)
				go func(a int64) {
					defer wg.Done()
					_, _ = s.Apply(context.Background(), "p", credit(a))
				}(a)
			}
			wg.Wait()
			rec, err := s.Get(context.Background(), "p")
			return err == nil && rec.Liquid == want
		},
		gen.SliceOf(gen.Int64Range(1, 1000)),
	))

	properties.TestingRun(t)
}
