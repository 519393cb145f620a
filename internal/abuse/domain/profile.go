// Package domain defines the per-user abuse risk profile and its signals.
package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Signal types the guard accepts. Severity is a free scale where 10 is the
// strongest signal a single event can carry.
type SignalType string

const (
	SignalManualFlag     SignalType = "MANUAL_FLAG"
	SignalRapidFire      SignalType = "RAPID_FIRE"
	SignalDuplicateProof SignalType = "DUPLICATE_PROOF"
	SignalChargeback     SignalType = "CHARGEBACK"
	SignalSelfDealing    SignalType = "SELF_DEALING"
)

const MaxSeverity = 10.0

// Profile is the rolling risk state for one user. RiskScore stays in [0,1]
// and decays toward zero with the configured half-life.
type Profile struct {
	gorm.Model
	UserID        uint64     `gorm:"column:user_id;not null;uniqueIndex:ux_abuse_profiles_user"`
	RiskScore     float64    `gorm:"column:risk_score;not null;default:0"`
	RecentEvents  int        `gorm:"column:recent_events;not null;default:0"`
	LastEventAt   *time.Time `gorm:"column:last_event_at"`
	LastDecayedAt time.Time  `gorm:"column:last_decayed_at;not null"`
}

func (Profile) TableName() string {
	return "abuse_profiles"
}

// Signal is the append-only record of one registered abuse event.
type Signal struct {
	gorm.Model
	UserID     uint64         `gorm:"column:user_id;not null;index:idx_abuse_signals_user"`
	SignalType SignalType     `gorm:"column:signal_type;type:varchar(32);not null"`
	Severity   float64        `gorm:"column:severity;not null"`
	RiskAfter  float64        `gorm:"column:risk_after;not null"`
	Metadata   map[string]any `gorm:"column:metadata;serializer:json"`
}

func (Signal) TableName() string {
	return "abuse_signals"
}

type ProfileRepository interface {
	GetForUpdate(ctx context.Context, userID uint64) (*Profile, error)
	Get(ctx context.Context, userID uint64) (*Profile, error)
	Create(ctx context.Context, profile *Profile) error
	Save(ctx context.Context, profile *Profile) error
}

type SignalRepository interface {
	Save(ctx context.Context, signal *Signal) error
	ListByUser(ctx context.Context, userID uint64, limit int) ([]*Signal, error)
}
