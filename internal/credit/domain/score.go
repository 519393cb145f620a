// Package domain holds the citizen score aggregate and its immutable change
// log.
package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/novastate/novacore/internal/rules"
)

var (
	ErrNotFound  = errors.New("citizen score not found")
	ErrDuplicate = errors.New("behavior event already processed")
)

const (
	// InitialNovaCredit is the score every citizen starts from.
	InitialNovaCredit = 500
	// InitialReputation is the neutral starting reputation.
	InitialReputation = 0.5

	MinNovaCredit = 0
	MaxNovaCredit = 1000
)

// CitizenScore is the per-citizen behavior aggregate. It is mutated in place
// under a row lock; every mutation appends a ScoreChange.
type CitizenScore struct {
	gorm.Model
	UserID          uint64     `gorm:"column:user_id;uniqueIndex;not null"`
	NovaCredit      int        `gorm:"column:nova_credit;not null;default:500"`
	Tier            rules.Tier `gorm:"column:tier;type:varchar(16);not null;default:'SOLID'"`
	RiskScore       float64    `gorm:"column:risk_score;not null;default:0"`
	ReputationScore float64    `gorm:"column:reputation_score;not null;default:0.5"`
	PositiveStreak  int        `gorm:"column:positive_streak;not null;default:0"`
	NegativeStreak  int        `gorm:"column:negative_streak;not null;default:0"`
	TotalPositive   int64      `gorm:"column:total_positive;not null;default:0"`
	TotalNegative   int64      `gorm:"column:total_negative;not null;default:0"`
	LastPositiveAt  *time.Time `gorm:"column:last_positive_at"`
	LastNegativeAt  *time.Time `gorm:"column:last_negative_at"`
}

func (CitizenScore) TableName() string { return "citizen_scores" }

// NewCitizenScore returns the default aggregate for a first-touch citizen.
func NewCitizenScore(userID uint64) *CitizenScore {
	return &CitizenScore{
		UserID:          userID,
		NovaCredit:      InitialNovaCredit,
		Tier:            rules.TierOf(InitialNovaCredit),
		RiskScore:       0,
		ReputationScore: InitialReputation,
	}
}

// ScoreChange is one immutable score mutation record.
type ScoreChange struct {
	gorm.Model
	UserID        uint64              `gorm:"column:user_id;index;not null"`
	Delta         int                 `gorm:"column:delta;not null"`
	OldScore      int                 `gorm:"column:old_score;not null"`
	NewScore      int                 `gorm:"column:new_score;not null"`
	Category      rules.EventCategory `gorm:"column:category;type:varchar(32);not null"`
	Reason        string              `gorm:"column:reason;type:varchar(255)"`
	SourceApp     string              `gorm:"column:source_app;type:varchar(64);uniqueIndex:ux_score_changes_ref"`
	ReferenceID   *string             `gorm:"column:reference_id;type:varchar(64);uniqueIndex:ux_score_changes_ref"`
	ReferenceType *string             `gorm:"column:reference_type;type:varchar(32);uniqueIndex:ux_score_changes_ref"`
	WeightApplied float64             `gorm:"column:weight_applied;not null"`
	BaseDelta     int                 `gorm:"column:base_delta;not null"`
	Context       map[string]any      `gorm:"column:context;serializer:json"`
}

func (ScoreChange) TableName() string { return "score_changes" }

// RiskFlagSeverity grades a risk flag.
type RiskFlagSeverity string

const (
	SeverityLow      RiskFlagSeverity = "LOW"
	SeverityMedium   RiskFlagSeverity = "MED"
	SeverityHigh     RiskFlagSeverity = "HIGH"
	SeverityCritical RiskFlagSeverity = "CRITICAL"
)

// RiskFlag is a moderator- or detector-created marker on a citizen.
type RiskFlag struct {
	gorm.Model
	UserID      uint64           `gorm:"column:user_id;index;not null"`
	FlagType    string           `gorm:"column:flag_type;type:varchar(64);not null"`
	Severity    RiskFlagSeverity `gorm:"column:severity;type:varchar(16);not null"`
	Description string           `gorm:"column:description;type:text"`
	Active      bool             `gorm:"column:active;not null;default:true"`
	Resolution  string           `gorm:"column:resolution;type:text"`
}

func (RiskFlag) TableName() string { return "risk_flags" }

// RiskLevelOf buckets a risk score by quartile.
func RiskLevelOf(risk float64) RiskFlagSeverity {
	switch {
	case risk >= 0.75:
		return SeverityCritical
	case risk >= 0.5:
		return SeverityHigh
	case risk >= 0.25:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// TierDistribution is one bucket of the admin stats payload.
type TierDistribution struct {
	Tier  rules.Tier `json:"tier"`
	Count int64      `json:"count"`
}

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	Rank       int        `json:"rank"`
	UserID     uint64     `json:"user_id"`
	Username   string     `json:"username"`
	NovaCredit int        `json:"nova_credit"`
	Tier       rules.Tier `json:"tier"`
}

// ScoreRepository persists citizen scores under the engine's transaction.
type ScoreRepository interface {
	// GetForUpdate loads the aggregate under a row lock, or nil when absent.
	GetForUpdate(ctx context.Context, userID uint64) (*CitizenScore, error)
	Get(ctx context.Context, userID uint64) (*CitizenScore, error)
	Create(ctx context.Context, score *CitizenScore) error
	Save(ctx context.Context, score *CitizenScore) error

	TopByCredit(ctx context.Context, tier *rules.Tier, limit int) ([]*CitizenScore, error)
	CountByTier(ctx context.Context) ([]TierDistribution, error)
	CountRiskAtLeast(ctx context.Context, threshold float64) (int64, error)
	RiskBuckets(ctx context.Context) (map[RiskFlagSeverity]int64, error)
	MedianNovaCredit(ctx context.Context) (float64, error)
	Count(ctx context.Context) (int64, error)
}

// ChangeRepository appends and reads the immutable change log.
type ChangeRepository interface {
	Save(ctx context.Context, change *ScoreChange) error
	GetByReference(ctx context.Context, sourceApp, refID, refType string) (*ScoreChange, error)
	ListByUser(ctx context.Context, userID uint64, limit, offset int) ([]*ScoreChange, int64, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
}

// FlagRepository persists risk flags.
type FlagRepository interface {
	Save(ctx context.Context, flag *RiskFlag) error
	ListActiveByUser(ctx context.Context, userID uint64) ([]*RiskFlag, error)
}

// EventPublisher publishes score events, transactionally when inside a
// database transaction.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, key string, event any) error
	PublishInTx(ctx context.Context, tx any, topic string, key string, event any) error
}

// UserDirectory resolves display names for leaderboards.
type UserDirectory interface {
	Usernames(ctx context.Context, userIDs []uint64) (map[uint64]string, error)
}
