// Package infrastructure implements the treasury flow repository over gorm.
package infrastructure

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/contextx"
	"gorm.io/gorm"

	"github.com/novastate/novacore/internal/treasury/domain"
)

type baseRepository struct {
	db *gorm.DB
}

func (r *baseRepository) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.db
}

type GormFlowRepository struct {
	baseRepository
}

func NewGormFlowRepository(db *gorm.DB) domain.FlowRepository {
	return &GormFlowRepository{baseRepository{db: db}}
}

func (r *GormFlowRepository) Save(ctx context.Context, flow *domain.Flow) error {
	return r.getDB(ctx).WithContext(ctx).Create(flow).Error
}

func (r *GormFlowRepository) GetByReference(ctx context.Context, refID, refType string) (*domain.Flow, error) {
	var flow domain.Flow
	err := r.getDB(ctx).WithContext(ctx).
		Where("reference_id = ? AND reference_type = ?", refID, refType).
		First(&flow).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrFlowNotFound
	}
	if err != nil {
		return nil, err
	}
	return &flow, nil
}

func (r *GormFlowRepository) List(ctx context.Context, filter domain.FlowFilter) ([]*domain.Flow, int64, error) {
	query := r.getDB(ctx).WithContext(ctx).Model(&domain.Flow{})
	if filter.Since != nil {
		query = query.Where("created_at >= ?", *filter.Since)
	}
	if filter.App != "" {
		query = query.Where("app = ?", filter.App)
	}
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var flows []*domain.Flow
	if err := query.Order("id DESC").Offset(filter.Offset).Limit(filter.Limit).Find(&flows).Error; err != nil {
		return nil, 0, err
	}
	return flows, total, nil
}

func (r *GormFlowRepository) SumGrossSince(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	return r.sum(ctx, "COALESCE(SUM(gross), 0)", "created_at >= ?", since)
}

func (r *GormFlowRepository) SumBurned(ctx context.Context) (decimal.Decimal, error) {
	var out decimal.Decimal
	err := r.getDB(ctx).WithContext(ctx).Model(&domain.Flow{}).
		Select("COALESCE(SUM(burn_amount), 0)").
		Scan(&out).Error
	return out, err
}

func (r *GormFlowRepository) sum(ctx context.Context, selectExpr, cond string, args ...any) (decimal.Decimal, error) {
	var out decimal.Decimal
	err := r.getDB(ctx).WithContext(ctx).Model(&domain.Flow{}).
		Select(selectExpr).
		Where(cond, args...).
		Scan(&out).Error
	return out, err
}

func (r *GormFlowRepository) RevenueByApp(ctx context.Context, since *time.Time) ([]domain.AppRevenue, error) {
	return r.revenueBy(ctx, "app", since)
}

func (r *GormFlowRepository) RevenueByKind(ctx context.Context, since *time.Time) ([]domain.AppRevenue, error) {
	return r.revenueBy(ctx, "kind", since)
}

func (r *GormFlowRepository) revenueBy(ctx context.Context, column string, since *time.Time) ([]domain.AppRevenue, error) {
	query := r.getDB(ctx).WithContext(ctx).Model(&domain.Flow{}).
		Select(column + " AS `key`, SUM(gross) AS gross, COUNT(*) AS flows").
		Group(column).
		Order("gross DESC")
	if since != nil {
		query = query.Where("created_at >= ?", *since)
	}

	var out []domain.AppRevenue
	if err := query.Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *GormFlowRepository) DailyRevenueByApp(ctx context.Context, since time.Time) ([]domain.DayRevenue, error) {
	return r.dailyRevenueBy(ctx, "app", since)
}

func (r *GormFlowRepository) DailyRevenueByKind(ctx context.Context, since time.Time) ([]domain.DayRevenue, error) {
	return r.dailyRevenueBy(ctx, "kind", since)
}

func (r *GormFlowRepository) dailyRevenueBy(ctx context.Context, column string, since time.Time) ([]domain.DayRevenue, error) {
	var out []domain.DayRevenue
	err := r.getDB(ctx).WithContext(ctx).Model(&domain.Flow{}).
		Select("DATE(created_at) AS day, "+column+" AS `key`, SUM(gross) AS gross").
		Where("created_at >= ?", since).
		Group("DATE(created_at), " + column).
		Order("day ASC").
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
