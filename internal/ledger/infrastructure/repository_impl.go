// Package infrastructure provides the gorm-backed ledger repositories and
// the transaction manager shared by the engines built on the ledger.
package infrastructure

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/contextx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/novastate/novacore/internal/ledger/domain"
)

// baseRepository resolves the ambient transaction handle from the context.
type baseRepository struct {
	db *gorm.DB
}

func (r *baseRepository) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.db
}

// TransactionManager runs a function inside one database transaction. A
// context already carrying a transaction joins it, so composite operations
// (treasury flow + ledger legs, quest reward + counter) commit as one unit.
type TransactionManager struct {
	db *gorm.DB
}

func NewTransactionManager(db *gorm.DB) *TransactionManager {
	return &TransactionManager{db: db}
}

func (tm *TransactionManager) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok && tx != nil {
		return fn(ctx)
	}
	return tm.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(contextx.WithTx(ctx, tx))
	})
}

// --- Account Repository ---

type GormAccountRepository struct {
	baseRepository
}

func NewGormAccountRepository(db *gorm.DB) domain.AccountRepository {
	return &GormAccountRepository{baseRepository{db: db}}
}

func refQuery(q *gorm.DB, ref domain.AccountRef, asset string) *gorm.DB {
	q = q.Where("asset = ?", asset)
	if ref.UserID != nil {
		return q.Where("user_id = ?", *ref.UserID)
	}
	return q.Where("system_type = ?", *ref.System)
}

func (r *GormAccountRepository) Find(ctx context.Context, ref domain.AccountRef, asset string) (*domain.Account, error) {
	var account domain.Account
	err := refQuery(r.getDB(ctx).WithContext(ctx), ref, asset).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *GormAccountRepository) GetOrCreate(ctx context.Context, ref domain.AccountRef, asset string) (*domain.Account, error) {
	account, err := r.Find(ctx, ref, asset)
	if err != nil {
		return nil, err
	}
	if account != nil {
		return account, nil
	}

	account = &domain.Account{
		UserID:     ref.UserID,
		SystemType: ref.System,
		Asset:      asset,
		Balance:    decimal.Zero,
	}
	if ref.System != nil {
		account.Label = string(*ref.System)
	}
	if err := r.getDB(ctx).WithContext(ctx).Create(account).Error; err != nil {
		// Lost a create race under the unique (owner, asset) index; the
		// winner's row is authoritative.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return r.Find(ctx, ref, asset)
		}
		return nil, err
	}
	return account, nil
}

func (r *GormAccountRepository) GetWithLock(ctx context.Context, id uint) (*domain.Account, error) {
	var account domain.Account
	if err := r.getDB(ctx).WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&account, id).Error; err != nil {
		return nil, fmt.Errorf("account lock failed: %w", err)
	}
	return &account, nil
}

func (r *GormAccountRepository) Save(ctx context.Context, account *domain.Account) error {
	return r.getDB(ctx).WithContext(ctx).Save(account).Error
}

func (r *GormAccountRepository) SystemBalances(ctx context.Context, asset string) (map[domain.SystemAccountType]decimal.Decimal, error) {
	var accounts []*domain.Account
	err := r.getDB(ctx).WithContext(ctx).
		Where("system_type IS NOT NULL AND asset = ?", asset).
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	balances := make(map[domain.SystemAccountType]decimal.Decimal, len(accounts))
	for _, account := range accounts {
		balances[*account.SystemType] = account.Balance
	}
	return balances, nil
}

// --- Entry Repository ---

type GormEntryRepository struct {
	baseRepository
}

func NewGormEntryRepository(db *gorm.DB) domain.EntryRepository {
	return &GormEntryRepository{baseRepository{db: db}}
}

func (r *GormEntryRepository) SaveAll(ctx context.Context, entries []*domain.Entry) error {
	return r.getDB(ctx).WithContext(ctx).Create(&entries).Error
}

func (r *GormEntryRepository) ListByAccount(ctx context.Context, accountID uint, limit, offset int) ([]*domain.Entry, int64, error) {
	query := r.getDB(ctx).WithContext(ctx).Model(&domain.Entry{}).Where("account_id = ?", accountID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []*domain.Entry
	if err := query.Order("id DESC").Offset(offset).Limit(limit).Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
