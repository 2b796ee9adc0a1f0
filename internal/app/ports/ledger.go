package ports

import (
	"context"

	"econcore/internal/domain/ledger"
)

// LedgerStore is the only component allowed to mutate balances.
//
// Apply is atomic with respect to every other Apply on the same subject and
// returns only after the new record is durable. A mutation error leaves the
// stored record untouched. ResetAll replaces the whole repository; an Apply
// lands entirely before or entirely after it.
type LedgerStore interface {
	Get(ctx context.Context, subjectID string) (ledger.AccountRecord, error)
	Apply(ctx context.Context, subjectID string, fn ledger.Mutation) (ledger.AccountRecord, error)
	ResetAll(ctx context.Context) error
}
