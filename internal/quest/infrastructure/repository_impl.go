package infrastructure

import (
	"context"
	"errors"
	"time"

	"github.com/wyfcoding/pkg/contextx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/novastate/novacore/internal/quest/domain"
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

type GormQuestRepository struct {
	baseRepository
}

func NewGormQuestRepository(db *gorm.DB) *GormQuestRepository {
	return &GormQuestRepository{baseRepository{db: db}}
}

func (r *GormQuestRepository) Create(ctx context.Context, quests []*domain.UserQuest) error {
	return r.getDB(ctx).Create(quests).Error
}

func (r *GormQuestRepository) GetByUUIDForUpdate(ctx context.Context, questUUID string) (*domain.UserQuest, error) {
	var quest domain.UserQuest
	err := r.getDB(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("quest_uuid = ?", questUUID).
		First(&quest).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &quest, nil
}

func (r *GormQuestRepository) GetByIDForUpdate(ctx context.Context, id uint) (*domain.UserQuest, error) {
	var quest domain.UserQuest
	err := r.getDB(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&quest).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &quest, nil
}

func (r *GormQuestRepository) Save(ctx context.Context, quest *domain.UserQuest) error {
	return r.getDB(ctx).Save(quest).Error
}

func (r *GormQuestRepository) ListByUserAndDay(ctx context.Context, userID uint64, day string) ([]*domain.UserQuest, error) {
	var quests []*domain.UserQuest
	err := r.getDB(ctx).
		Where("user_id = ? AND slot_key LIKE ?", userID, day+":%").
		Order("slot ASC").
		Find(&quests).Error
	return quests, err
}

func (r *GormQuestRepository) ListActiveByUser(ctx context.Context, userID uint64) ([]*domain.UserQuest, error) {
	var quests []*domain.UserQuest
	err := r.getDB(ctx).
		Where("user_id = ? AND status IN ?", userID,
			[]domain.Status{domain.StatusAssigned, domain.StatusSubmitted, domain.StatusUnderReview}).
		Order("expires_at ASC").
		Find(&quests).Error
	return quests, err
}

func (r *GormQuestRepository) ListUnderReview(ctx context.Context, limit int) ([]*domain.UserQuest, error) {
	var quests []*domain.UserQuest
	err := r.getDB(ctx).
		Where("status = ?", domain.StatusUnderReview).
		Order("submitted_at ASC").
		Limit(limit).
		Find(&quests).Error
	return quests, err
}

func (r *GormQuestRepository) HasCompleted(ctx context.Context, userID uint64, questID string) (bool, error) {
	var count int64
	err := r.getDB(ctx).
		Model(&domain.UserQuest{}).
		Where("user_id = ? AND quest_id = ? AND status = ?", userID, questID, domain.StatusApproved).
		Count(&count).Error
	return count > 0, err
}

func (r *GormQuestRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	result := r.getDB(ctx).
		Model(&domain.UserQuest{}).
		Where("status = ? AND expires_at < ?", domain.StatusAssigned, now).
		Update("status", domain.StatusExpired)
	return result.RowsAffected, result.Error
}

type GormCounterRepository struct {
	baseRepository
}

func NewGormCounterRepository(db *gorm.DB) *GormCounterRepository {
	return &GormCounterRepository{baseRepository{db: db}}
}

func (r *GormCounterRepository) GetForUpdate(ctx context.Context, day string) (*domain.DailyCounter, error) {
	var counter domain.DailyCounter
	err := r.getDB(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("day = ?", day).
		First(&counter).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &counter, nil
}

func (r *GormCounterRepository) Save(ctx context.Context, counter *domain.DailyCounter) error {
	return r.getDB(ctx).Save(counter).Error
}
