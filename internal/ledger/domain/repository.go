package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// AccountRepository persists ledger accounts. Implementations must honor an
// ambient transaction carried in the context.
type AccountRepository interface {
	// GetOrCreate returns the account for (ref, asset), creating it with a
	// zero balance on first touch.
	GetOrCreate(ctx context.Context, ref AccountRef, asset string) (*Account, error)
	// GetWithLock loads an account under a row lock for update.
	GetWithLock(ctx context.Context, id uint) (*Account, error)
	// Save persists a balance mutation.
	Save(ctx context.Context, account *Account) error
	// Find returns the account for (ref, asset) or nil when absent.
	Find(ctx context.Context, ref AccountRef, asset string) (*Account, error)
	// SystemBalances returns the balances of all system accounts for an asset.
	SystemBalances(ctx context.Context, asset string) (map[SystemAccountType]decimal.Decimal, error)
}

// EntryRepository appends immutable ledger entries.
type EntryRepository interface {
	SaveAll(ctx context.Context, entries []*Entry) error
	ListByAccount(ctx context.Context, accountID uint, limit, offset int) ([]*Entry, int64, error)
}
