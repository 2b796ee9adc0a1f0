package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"econcore/internal/app/ports"
	"econcore/internal/app/shared/keylock"
	"econcore/internal/domain/ledger"
)

// Persister makes a full ledger snapshot durable. It is called with the
// store's write lock held and must not retain the map.
type Persister interface {
	Persist(accounts map[string]ledger.AccountRecord) error
}

type Options struct {
	StartingBalance int64
	Now             func() time.Time
	Persister       Persister
	Initial         map[string]ledger.AccountRecord
}

// Store serialises read-modify-write per subject with a keyed lock, so
// applies on different subjects only meet at the commit step.
type Store struct {
	reset    sync.RWMutex
	mu       sync.RWMutex
	locks    *keylock.Map
	accounts map[string]ledger.AccountRecord
	starting int64
	now      func() time.Time
	persist  Persister
}

var _ ports.LedgerStore = (*Store)(nil)

func NewStore(opts Options) *Store {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	accounts := make(map[string]ledger.AccountRecord, len(opts.Initial))
	for id, rec := range opts.Initial {
		accounts[id] = rec.Clone()
	}
	return &Store{
		locks:    keylock.New(),
		accounts: accounts,
		starting: opts.StartingBalance,
		now:      now,
		persist:  opts.Persister,
	}
}

func (s *Store) SeedState(rec ledger.AccountRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[rec.SubjectID] = rec.Clone()
}

func (s *Store) Get(ctx context.Context, subjectID string) (ledger.AccountRecord, error) {
	if subjectID == "" {
		return ledger.AccountRecord{}, ports.ErrInvalidRequest
	}
	s.mu.RLock()
	rec, ok := s.accounts[subjectID]
	s.mu.RUnlock()
	if ok {
		return rec.Clone(), nil
	}
	return s.Apply(ctx, subjectID, func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
		return r, nil
	})
}

func (s *Store) Apply(ctx context.Context, subjectID string, fn ledger.Mutation) (ledger.AccountRecord, error) {
	if subjectID == "" || fn == nil {
		return ledger.AccountRecord{}, ports.ErrInvalidRequest
	}
	if err := ctx.Err(); err != nil {
		return ledger.AccountRecord{}, err
	}

	s.reset.RLock()
	defer s.reset.RUnlock()
	unlock := s.locks.Lock(subjectID)
	defer unlock()

	s.mu.RLock()
	cur, existed := s.accounts[subjectID]
	s.mu.RUnlock()

	now := s.now()
	if !existed {
		cur = ledger.NewAccount(subjectID, s.starting, now)
	}
	next, err := fn(cur.Clone())
	if err != nil {
		return ledger.AccountRecord{}, err
	}
	if err := next.Validate(); err != nil {
		return ledger.AccountRecord{}, err
	}
	next.SubjectID = subjectID
	next.CreatedAt = cur.CreatedAt
	next.Version = cur.Version + 1
	next.UpdatedAt = now

	if err := s.commit(subjectID, next, cur, existed); err != nil {
		return ledger.AccountRecord{}, err
	}
	return next.Clone(), nil
}

func (s *Store) commit(subjectID string, next, prev ledger.AccountRecord, existed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[subjectID] = next
	if s.persist == nil {
		return nil
	}
	if err := s.persist.Persist(s.accounts); err != nil {
		if existed {
			s.accounts[subjectID] = prev
		} else {
			delete(s.accounts, subjectID)
		}
		return fmt.Errorf("persist ledger: %w", err)
	}
	return nil
}

func (s *Store) ResetAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.reset.Lock()
	defer s.reset.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.accounts
	s.accounts = map[string]ledger.AccountRecord{}
	if s.persist == nil {
		return nil
	}
	if err := s.persist.Persist(s.accounts); err != nil {
		s.accounts = prev
		return fmt.Errorf("persist ledger reset: %w", err)
	}
	return nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}
