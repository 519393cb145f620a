package infrastructure

import (
	"context"
	"errors"

	"github.com/wyfcoding/pkg/contextx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/novastate/novacore/internal/abuse/domain"
)

type baseRepository struct {
	db *gorm.DB
}

func (r *baseRepository) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.db.WithContext(ctx)
}

type GormProfileRepository struct {
	baseRepository
}

func NewGormProfileRepository(db *gorm.DB) *GormProfileRepository {
	return &GormProfileRepository{baseRepository{db: db}}
}

func (r *GormProfileRepository) GetForUpdate(ctx context.Context, userID uint64) (*domain.Profile, error) {
	var profile domain.Profile
	err := r.getDB(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

func (r *GormProfileRepository) Get(ctx context.Context, userID uint64) (*domain.Profile, error) {
	var profile domain.Profile
	err := r.getDB(ctx).Where("user_id = ?", userID).First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

func (r *GormProfileRepository) Create(ctx context.Context, profile *domain.Profile) error {
	return r.getDB(ctx).Create(profile).Error
}

func (r *GormProfileRepository) Save(ctx context.Context, profile *domain.Profile) error {
	return r.getDB(ctx).Save(profile).Error
}

type GormSignalRepository struct {
	baseRepository
}

func NewGormSignalRepository(db *gorm.DB) *GormSignalRepository {
	return &GormSignalRepository{baseRepository{db: db}}
}

func (r *GormSignalRepository) Save(ctx context.Context, signal *domain.Signal) error {
	return r.getDB(ctx).Create(signal).Error
}

func (r *GormSignalRepository) ListByUser(ctx context.Context, userID uint64, limit int) ([]*domain.Signal, error) {
	var signals []*domain.Signal
	err := r.getDB(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&signals).Error
	return signals, err
}
