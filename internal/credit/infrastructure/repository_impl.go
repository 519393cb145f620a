// Package infrastructure implements the credit repositories over gorm.
package infrastructure

import (
	"context"
	"errors"
	"time"

	"github.com/wyfcoding/pkg/contextx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/novastate/novacore/internal/credit/domain"
	"github.com/novastate/novacore/internal/rules"
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

// --- Score Repository ---

type GormScoreRepository struct {
	baseRepository
}

func NewGormScoreRepository(db *gorm.DB) domain.ScoreRepository {
	return &GormScoreRepository{baseRepository{db: db}}
}

func (r *GormScoreRepository) GetForUpdate(ctx context.Context, userID uint64) (*domain.CitizenScore, error) {
	var score domain.CitizenScore
	err := r.getDB(ctx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&score).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &score, nil
}

func (r *GormScoreRepository) Get(ctx context.Context, userID uint64) (*domain.CitizenScore, error) {
	var score domain.CitizenScore
	err := r.getDB(ctx).WithContext(ctx).Where("user_id = ?", userID).First(&score).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &score, nil
}

func (r *GormScoreRepository) Create(ctx context.Context, score *domain.CitizenScore) error {
	return r.getDB(ctx).WithContext(ctx).Create(score).Error
}

func (r *GormScoreRepository) Save(ctx context.Context, score *domain.CitizenScore) error {
	return r.getDB(ctx).WithContext(ctx).Save(score).Error
}

func (r *GormScoreRepository) TopByCredit(ctx context.Context, tier *rules.Tier, limit int) ([]*domain.CitizenScore, error) {
	query := r.getDB(ctx).WithContext(ctx).Model(&domain.CitizenScore{})
	if tier != nil {
		query = query.Where("tier = ?", *tier)
	}

	var scores []*domain.CitizenScore
	err := query.Order("nova_credit DESC, user_id ASC").Limit(limit).Find(&scores).Error
	if err != nil {
		return nil, err
	}
	return scores, nil
}

func (r *GormScoreRepository) CountByTier(ctx context.Context) ([]domain.TierDistribution, error) {
	var out []domain.TierDistribution
	err := r.getDB(ctx).WithContext(ctx).Model(&domain.CitizenScore{}).
		Select("tier, COUNT(*) AS count").
		Group("tier").
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *GormScoreRepository) CountRiskAtLeast(ctx context.Context, threshold float64) (int64, error) {
	var count int64
	err := r.getDB(ctx).WithContext(ctx).Model(&domain.CitizenScore{}).
		Where("risk_score > ?", threshold).
		Count(&count).Error
	return count, err
}

func (r *GormScoreRepository) RiskBuckets(ctx context.Context) (map[domain.RiskFlagSeverity]int64, error) {
	type bucket struct {
		Level string
		Count int64
	}
	var out []bucket
	err := r.getDB(ctx).WithContext(ctx).Model(&domain.CitizenScore{}).
		Select(`CASE
			WHEN risk_score >= 0.75 THEN 'CRITICAL'
			WHEN risk_score >= 0.5 THEN 'HIGH'
			WHEN risk_score >= 0.25 THEN 'MED'
			ELSE 'LOW'
		END AS level, COUNT(*) AS count`).
		Group("level").
		Scan(&out).Error
	if err != nil {
		return nil, err
	}

	buckets := map[domain.RiskFlagSeverity]int64{
		domain.SeverityLow:      0,
		domain.SeverityMedium:   0,
		domain.SeverityHigh:     0,
		domain.SeverityCritical: 0,
	}
	for _, b := range out {
		buckets[domain.RiskFlagSeverity(b.Level)] = b.Count
	}
	return buckets, nil
}

// MedianNovaCredit computes the true median over the current score set.
func (r *GormScoreRepository) MedianNovaCredit(ctx context.Context) (float64, error) {
	var count int64
	db := r.getDB(ctx).WithContext(ctx).Model(&domain.CitizenScore{})
	if err := db.Count(&count).Error; err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}

	var values []int
	limit := 1
	if count%2 == 0 {
		limit = 2
	}
	err := r.getDB(ctx).WithContext(ctx).Model(&domain.CitizenScore{}).
		Order("nova_credit ASC").
		Offset(int((count-1)/2)).
		Limit(limit).
		Pluck("nova_credit", &values).Error
	if err != nil {
		return 0, err
	}
	sum := 0
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values)), nil
}

func (r *GormScoreRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.getDB(ctx).WithContext(ctx).Model(&domain.CitizenScore{}).Count(&count).Error
	return count, err
}

// --- Change Repository ---

type GormChangeRepository struct {
	baseRepository
}

func NewGormChangeRepository(db *gorm.DB) domain.ChangeRepository {
	return &GormChangeRepository{baseRepository{db: db}}
}

func (r *GormChangeRepository) Save(ctx context.Context, change *domain.ScoreChange) error {
	return r.getDB(ctx).WithContext(ctx).Create(change).Error
}

func (r *GormChangeRepository) GetByReference(ctx context.Context, sourceApp, refID, refType string) (*domain.ScoreChange, error) {
	var change domain.ScoreChange
	err := r.getDB(ctx).WithContext(ctx).
		Where("source_app = ? AND reference_id = ? AND reference_type = ?", sourceApp, refID, refType).
		First(&change).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &change, nil
}

func (r *GormChangeRepository) ListByUser(ctx context.Context, userID uint64, limit, offset int) ([]*domain.ScoreChange, int64, error) {
	query := r.getDB(ctx).WithContext(ctx).Model(&domain.ScoreChange{}).Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var changes []*domain.ScoreChange
	if err := query.Order("id DESC").Offset(offset).Limit(limit).Find(&changes).Error; err != nil {
		return nil, 0, err
	}
	return changes, total, nil
}

func (r *GormChangeRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.getDB(ctx).WithContext(ctx).Model(&domain.ScoreChange{}).
		Where("created_at >= ?", since).
		Count(&count).Error
	return count, err
}

// --- Flag Repository ---

type GormFlagRepository struct {
	baseRepository
}

func NewGormFlagRepository(db *gorm.DB) domain.FlagRepository {
	return &GormFlagRepository{baseRepository{db: db}}
}

func (r *GormFlagRepository) Save(ctx context.Context, flag *domain.RiskFlag) error {
	return r.getDB(ctx).WithContext(ctx).Save(flag).Error
}

func (r *GormFlagRepository) ListActiveByUser(ctx context.Context, userID uint64) ([]*domain.RiskFlag, error) {
	var flags []*domain.RiskFlag
	err := r.getDB(ctx).WithContext(ctx).
		Where("user_id = ? AND active = ?", userID, true).
		Find(&flags).Error
	if err != nil {
		return nil, err
	}
	return flags, nil
}
