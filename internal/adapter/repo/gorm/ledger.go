package gormrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"econcore/internal/adapter/repo/gorm/model"
	"econcore/internal/app/ports"
	"econcore/internal/app/shared/keylock"
	"econcore/internal/domain/ledger"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultMaxAttempts = 8
	retryBaseDelay     = 2 * time.Millisecond
)

type LedgerOptions struct {
	StartingBalance int64
	Now             func() time.Time
	MaxAttempts     int
}

// Ledger stores one row per subject and commits with compare-and-swap on
// (incarnation, version). Applies inside this process are also serialised per
// subject, so CAS retries only happen against other processes or a reset.
type Ledger struct {
	db          *gorm.DB
	reset       sync.RWMutex
	locks       *keylock.Map
	starting    int64
	now         func() time.Time
	maxAttempts int
}

var _ ports.LedgerStore = (*Ledger)(nil)

func NewLedger(db *gorm.DB, opts LedgerOptions) *Ledger {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	return &Ledger{
		db:          db,
		locks:       keylock.New(),
		starting:    opts.StartingBalance,
		now:         opts.Now,
		maxAttempts: opts.MaxAttempts,
	}
}

func (l *Ledger) Get(ctx context.Context, subjectID string) (ledger.AccountRecord, error) {
	if subjectID == "" {
		return ledger.AccountRecord{}, ports.ErrInvalidRequest
	}
	row, found, err := l.load(ctx, subjectID)
	if err != nil {
		return ledger.AccountRecord{}, err
	}
	if found {
		return decodeRecord(row)
	}
	return l.Apply(ctx, subjectID, func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
		return r, nil
	})
}

func (l *Ledger) Apply(ctx context.Context, subjectID string, fn ledger.Mutation) (ledger.AccountRecord, error) {
	if subjectID == "" || fn == nil {
		return ledger.AccountRecord{}, ports.ErrInvalidRequest
	}
	l.reset.RLock()
	defer l.reset.RUnlock()
	unlock := l.locks.Lock(subjectID)
	defer unlock()

	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := backoff(ctx, attempt); err != nil {
				return ledger.AccountRecord{}, err
			}
		}
		next, err := l.tryApply(ctx, subjectID, fn)
		if errors.Is(err, ports.ErrConflict) {
			continue
		}
		return next, err
	}
	return ledger.AccountRecord{}, fmt.Errorf("apply %s after %d attempts: %w", subjectID, l.maxAttempts, ports.ErrConflict)
}

func (l *Ledger) tryApply(ctx context.Context, subjectID string, fn ledger.Mutation) (ledger.AccountRecord, error) {
	row, found, err := l.load(ctx, subjectID)
	if err != nil {
		return ledger.AccountRecord{}, err
	}
	now := l.now()
	var cur ledger.AccountRecord
	if found {
		if cur, err = decodeRecord(row); err != nil {
			return ledger.AccountRecord{}, err
		}
	} else {
		cur = ledger.NewAccount(subjectID, l.starting, now)
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

	raw, err := json.Marshal(next)
	if err != nil {
		return ledger.AccountRecord{}, fmt.Errorf("encode account %s: %w", subjectID, err)
	}

	db := l.db.WithContext(ctx)
	if !found {
		res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.LedgerAccount{
			SubjectID:   subjectID,
			Incarnation: uuid.NewString(),
			Version:     next.Version,
			Record:      string(raw),
			UpdatedAt:   now,
		})
		if res.Error != nil {
			return ledger.AccountRecord{}, fmt.Errorf("insert account %s: %w", subjectID, res.Error)
		}
		if res.RowsAffected == 0 {
			return ledger.AccountRecord{}, ports.ErrConflict
		}
		return next, nil
	}

	res := db.Model(&model.LedgerAccount{}).
		Where("subject_id = ? AND incarnation = ? AND version = ?", subjectID, row.Incarnation, row.Version).
		Updates(map[string]any{
			"version":    next.Version,
			"record":     string(raw),
			"updated_at": now,
		})
	if res.Error != nil {
		return ledger.AccountRecord{}, fmt.Errorf("update account %s: %w", subjectID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ledger.AccountRecord{}, ports.ErrConflict
	}
	return next, nil
}

// ResetAll drops every row. A recreated account gets a fresh incarnation, so
// an apply that read a row before the reset cannot commit onto its successor.
func (l *Ledger) ResetAll(ctx context.Context) error {
	l.reset.Lock()
	defer l.reset.Unlock()
	if err := l.db.WithContext(ctx).Exec("DELETE FROM " + model.TableNameLedgerAccount).Error; err != nil {
		return fmt.Errorf("reset ledger: %w", err)
	}
	return nil
}

func (l *Ledger) load(ctx context.Context, subjectID string) (model.LedgerAccount, bool, error) {
	var row model.LedgerAccount
	err := l.db.WithContext(ctx).Where("subject_id = ?", subjectID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.LedgerAccount{}, false, nil
	}
	if err != nil {
		return model.LedgerAccount{}, false, fmt.Errorf("load account %s: %w", subjectID, err)
	}
	return row, true, nil
}

func decodeRecord(row model.LedgerAccount) (ledger.AccountRecord, error) {
	var rec ledger.AccountRecord
	if err := json.Unmarshal([]byte(row.Record), &rec); err != nil {
		return ledger.AccountRecord{}, fmt.Errorf("decode account %s: %w", row.SubjectID, err)
	}
	rec.SubjectID = row.SubjectID
	rec.Version = row.Version
	if rec.Cooldowns == nil {
		rec.Cooldowns = map[string]time.Time{}
	}
	return rec, nil
}

func backoff(ctx context.Context, attempt int) error {
	d := retryBaseDelay << min(attempt, 6)
	d += time.Duration(rand.Int64N(int64(d)))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
