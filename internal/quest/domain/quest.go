// Package domain defines the daily quest aggregate and its state machine.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/novastate/novacore/internal/rules"
)

var (
	ErrNotFound     = errors.New("quest not found")
	ErrInvalidState = errors.New("quest is not in a state that allows this operation")
	ErrExpired      = errors.New("quest has expired")
	ErrValidation   = errors.New("proof validation failed")
)

type Status string

const (
	StatusAssigned    Status = "ASSIGNED"
	StatusSubmitted   Status = "SUBMITTED"
	StatusUnderReview Status = "UNDER_REVIEW"
	StatusApproved    Status = "APPROVED"
	StatusRejected    Status = "REJECTED"
	StatusExpired     Status = "EXPIRED"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired
}

// UserQuest is one assigned quest instance. SlotKey is "<day>:<slot>" and is
// unique per user, which makes daily assignment idempotent at the store.
type UserQuest struct {
	gorm.Model
	UserID            uint64           `gorm:"column:user_id;not null;uniqueIndex:ux_user_quests_slot,priority:1;index:idx_user_quests_user"`
	QuestUUID         string           `gorm:"column:quest_uuid;type:varchar(36);not null;uniqueIndex:ux_user_quests_uuid"`
	QuestID           string           `gorm:"column:quest_id;type:varchar(64);not null"`
	Slot              rules.QuestSlot  `gorm:"column:slot;type:varchar(16);not null"`
	SlotKey           string           `gorm:"column:slot_key;type:varchar(32);not null;uniqueIndex:ux_user_quests_slot,priority:2"`
	Title             string           `gorm:"column:title;type:varchar(255);not null"`
	Description       string           `gorm:"column:description;type:text"`
	Status            Status           `gorm:"column:status;type:varchar(16);not null;index:idx_user_quests_status"`
	BaseRewardNCR     decimal.Decimal  `gorm:"column:base_reward_ncr;type:decimal(30,8);not null"`
	BaseRewardXP      int              `gorm:"column:base_reward_xp;not null"`
	FinalRewardNCR    *decimal.Decimal `gorm:"column:final_reward_ncr;type:decimal(30,8)"`
	FinalRewardXP     *int             `gorm:"column:final_reward_xp"`
	CappedNCR         *decimal.Decimal `gorm:"column:capped_ncr;type:decimal(30,8)"`
	FinalScore        *int             `gorm:"column:final_score"`
	ProofType         rules.ProofType  `gorm:"column:proof_type;type:varchar(16);not null"`
	ProofRef          *string          `gorm:"column:proof_ref;type:text"`
	AbuseRiskSnapshot *float64         `gorm:"column:abuse_risk_snapshot"`
	HouseEdgeSnapshot *float64         `gorm:"column:house_edge_snapshot"`
	DecisionReason    *string          `gorm:"column:decision_reason;type:varchar(255)"`
	DecidedBy         *uint64          `gorm:"column:decided_by"`
	AssignedAt        time.Time        `gorm:"column:assigned_at;not null"`
	ExpiresAt         time.Time        `gorm:"column:expires_at;not null;index:idx_user_quests_expires"`
	SubmittedAt       *time.Time       `gorm:"column:submitted_at"`
	ResolvedAt        *time.Time       `gorm:"column:resolved_at"`
	Metadata          map[string]any   `gorm:"column:metadata;serializer:json"`
}

func (UserQuest) TableName() string {
	return "user_quests"
}

// SlotKeyFor builds the per-day slot key, e.g. "2026-08-31:MONEY".
func SlotKeyFor(day time.Time, slot rules.QuestSlot) string {
	return day.Format("2006-01-02") + ":" + string(slot)
}

// DailyCounter tracks NCR minted by quest rewards for one calendar day. The
// row is locked FOR UPDATE while a reward is being computed so the cap step
// applies to a consistent projected total.
type DailyCounter struct {
	gorm.Model
	Day       string          `gorm:"column:day;type:varchar(10);not null;uniqueIndex:ux_quest_daily_counters_day"`
	IssuedNCR decimal.Decimal `gorm:"column:issued_ncr;type:decimal(30,8);not null"`
}

func (DailyCounter) TableName() string {
	return "quest_daily_counters"
}

type QuestRepository interface {
	Create(ctx context.Context, quests []*UserQuest) error
	GetByUUIDForUpdate(ctx context.Context, questUUID string) (*UserQuest, error)
	GetByIDForUpdate(ctx context.Context, id uint) (*UserQuest, error)
	Save(ctx context.Context, quest *UserQuest) error
	ListByUserAndDay(ctx context.Context, userID uint64, day string) ([]*UserQuest, error)
	ListActiveByUser(ctx context.Context, userID uint64) ([]*UserQuest, error)
	ListUnderReview(ctx context.Context, limit int) ([]*UserQuest, error)
	HasCompleted(ctx context.Context, userID uint64, questID string) (bool, error)
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

type CounterRepository interface {
	GetForUpdate(ctx context.Context, day string) (*DailyCounter, error)
	Save(ctx context.Context, counter *DailyCounter) error
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, key string, event any) error
	PublishInTx(ctx context.Context, tx any, topic string, key string, event any) error
}
