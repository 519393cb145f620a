// Package application implements the ledger's transactional primitives:
// credit, debit, atomic multi-leg transactions and balance reads.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/idgen"

	"github.com/novastate/novacore/internal/ledger/domain"
	"github.com/novastate/novacore/internal/rules"
)

// TxManager scopes a function to one database transaction. When the context
// already carries a transaction the function joins it instead of opening a
// nested one.
type TxManager interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service is the ledger facade used by the treasury router and quest engine.
type Service struct {
	accounts domain.AccountRepository
	entries  domain.EntryRepository
	txm      TxManager
	policy   *rules.Policy
	logger   *slog.Logger
}

func NewService(
	accounts domain.AccountRepository,
	entries domain.EntryRepository,
	txm TxManager,
	policy *rules.Policy,
	logger *slog.Logger,
) *Service {
	return &Service{
		accounts: accounts,
		entries:  entries,
		txm:      txm,
		policy:   policy,
		logger:   logger.With("module", "ledger"),
	}
}

// Credit adds amount to the (user, asset) account and appends one entry.
func (s *Service) Credit(ctx context.Context, userID uint64, asset string, amount decimal.Decimal, kind domain.EntryKind, sourceApp string, ref domain.Reference, meta map[string]any) (*domain.Entry, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("credit amount must be positive, got %s", amount)
	}
	return s.adjust(ctx, domain.UserRef(userID), asset, amount, kind, sourceApp, ref, meta)
}

// Debit subtracts amount from the (user, asset) account. It fails with
// ErrInsufficientFunds when the balance would go negative on an account that
// does not allow it.
func (s *Service) Debit(ctx context.Context, userID uint64, asset string, amount decimal.Decimal, kind domain.EntryKind, sourceApp string, ref domain.Reference, meta map[string]any) (*domain.Entry, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("debit amount must be positive, got %s", amount)
	}
	return s.adjust(ctx, domain.UserRef(userID), asset, amount.Neg(), kind, sourceApp, ref, meta)
}

func (s *Service) adjust(ctx context.Context, target domain.AccountRef, asset string, signed decimal.Decimal, kind domain.EntryKind, sourceApp string, ref domain.Reference, meta map[string]any) (*domain.Entry, error) {
	var entry *domain.Entry
	err := s.txm.Transaction(ctx, func(txCtx context.Context) error {
		account, err := s.accounts.GetOrCreate(txCtx, target, asset)
		if err != nil {
			return err
		}
		locked, err := s.accounts.GetWithLock(txCtx, account.ID)
		if err != nil {
			return err
		}
		next := locked.Balance.Add(signed)
		if next.IsNegative() && !locked.AllowsNegative(s.policy.TreasuryUserID) {
			return domain.ErrInsufficientFunds
		}
		locked.Balance = next
		if err := s.accounts.Save(txCtx, locked); err != nil {
			return err
		}
		entry = &domain.Entry{
			TransactionID: fmt.Sprintf("TX%d", idgen.GenID()),
			AccountID:     locked.ID,
			Asset:         asset,
			Amount:        signed,
			Kind:          kind,
			SourceApp:     sourceApp,
			ReferenceID:   ref.ID,
			ReferenceType: ref.Type,
			Metadata:      meta,
		}
		return s.entries.SaveAll(txCtx, []*domain.Entry{entry})
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Apply commits a balanced multi-leg transaction atomically. Accounts are
// locked in ascending row id order so concurrent composites serialize
// without deadlocking on shared accounts.
func (s *Service) Apply(ctx context.Context, legs []domain.Leg, asset, sourceApp string, ref domain.Reference) (string, error) {
	if len(legs) == 0 {
		return "", fmt.Errorf("transaction requires at least one leg")
	}
	if !domain.BalancedPerAsset(legs) {
		return "", domain.ErrUnbalancedLegs
	}

	txID := fmt.Sprintf("TX%d", idgen.GenID())
	err := s.txm.Transaction(ctx, func(txCtx context.Context) error {
		// Resolve every target first; creation is idempotent under the
		// unique (owner, asset) index.
		ids := make([]uint, 0, len(legs))
		byLeg := make([]uint, len(legs))
		seen := make(map[uint]bool, len(legs))
		for i, leg := range legs {
			account, err := s.accounts.GetOrCreate(txCtx, leg.Target, asset)
			if err != nil {
				return err
			}
			byLeg[i] = account.ID
			if !seen[account.ID] {
				seen[account.ID] = true
				ids = append(ids, account.ID)
			}
		}

		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		locked := make(map[uint]*domain.Account, len(ids))
		for _, id := range ids {
			account, err := s.accounts.GetWithLock(txCtx, id)
			if err != nil {
				return err
			}
			locked[id] = account
		}

		for i, leg := range legs {
			account := locked[byLeg[i]]
			account.Balance = account.Balance.Add(leg.Amount)
		}
		for _, id := range ids {
			account := locked[id]
			if account.Balance.IsNegative() && !account.AllowsNegative(s.policy.TreasuryUserID) {
				return domain.ErrInsufficientFunds
			}
			if err := s.accounts.Save(txCtx, account); err != nil {
				return err
			}
		}

		entries := make([]*domain.Entry, len(legs))
		for i, leg := range legs {
			entries[i] = &domain.Entry{
				TransactionID: txID,
				AccountID:     byLeg[i],
				Asset:         asset,
				Amount:        leg.Amount,
				Kind:          leg.Kind,
				SourceApp:     sourceApp,
				ReferenceID:   ref.ID,
				ReferenceType: ref.Type,
				Metadata:      leg.Metadata,
			}
		}
		return s.entries.SaveAll(txCtx, entries)
	})
	if err != nil {
		return "", err
	}
	return txID, nil
}

// Balance returns the (user, asset) balance, zero when the account does not
// exist yet.
func (s *Service) Balance(ctx context.Context, userID uint64, asset string) (decimal.Decimal, error) {
	account, err := s.accounts.Find(ctx, domain.UserRef(userID), asset)
	if err != nil {
		return decimal.Zero, err
	}
	if account == nil {
		return decimal.Zero, nil
	}
	return account.Balance, nil
}

// SystemBalances returns the balances of all system accounts for an asset.
func (s *Service) SystemBalances(ctx context.Context, asset string) (map[domain.SystemAccountType]decimal.Decimal, error) {
	return s.accounts.SystemBalances(ctx, asset)
}
