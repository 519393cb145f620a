package rules

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

// Policy carries the operational knobs that are environment dependent rather
// than part of the rule catalogue.
type Policy struct {
	// TreasuryUserID is the state treasury's ledger user. Its account may go
	// negative when quest rewards are minted.
	TreasuryUserID uint64 `env:"NCR_TREASURY_USER_ID" envDefault:"1"`

	// TreasuryDailyLimit caps NCR minted by quests per calendar day.
	TreasuryDailyLimit decimal.Decimal `env:"TREASURY_DAILY_LIMIT" envDefault:"1000"`

	// Quest routing thresholds over the 0..100 quality score.
	AutoApproveThreshold float64 `env:"AUTO_APPROVE_THRESHOLD" envDefault:"70"`
	AutoRejectThreshold  float64 `env:"AUTO_REJECT_THRESHOLD" envDefault:"30"`

	// RiskBlockThreshold blocks auto approval at or above this abuse risk.
	RiskBlockThreshold float64 `env:"RISK_BLOCK_THRESHOLD" envDefault:"0.6"`

	// Streak policy: +StreakStep to the multiplier per StreakEvery consecutive
	// positive events, capped at StreakCap. Returns 1.0 at streak zero.
	StreakStep  float64 `env:"STREAK_STEP" envDefault:"0.05"`
	StreakEvery int     `env:"STREAK_EVERY" envDefault:"3"`
	StreakCap   float64 `env:"STREAK_CAP" envDefault:"2.0"`

	// AbuseHalfLife is the decay half-life of the rolling risk profile.
	AbuseHalfLife time.Duration `env:"ABUSE_HALF_LIFE" envDefault:"72h"`

	// AdminUserIDs may call admin endpoints.
	AdminUserIDs []uint64 `env:"ADMIN_USER_IDS" envSeparator:","`
}

// LoadPolicy parses the policy from the environment.
func LoadPolicy() (*Policy, error) {
	var p Policy
	if err := env.Parse(&p); err != nil {
		return nil, fmt.Errorf("parse policy config: %w", err)
	}
	if p.AutoRejectThreshold >= p.AutoApproveThreshold {
		return nil, fmt.Errorf("auto reject threshold %.1f must be below auto approve threshold %.1f",
			p.AutoRejectThreshold, p.AutoApproveThreshold)
	}
	return &p, nil
}

// StreakMultiplier is the monotone step function applied to positive deltas.
func (p *Policy) StreakMultiplier(positiveStreak int) float64 {
	if positiveStreak <= 0 || p.StreakEvery <= 0 {
		return 1.0
	}
	m := 1.0 + p.StreakStep*float64(positiveStreak/p.StreakEvery)
	if m > p.StreakCap {
		return p.StreakCap
	}
	return m
}

// IsAdmin reports whether the user is a configured admin.
func (p *Policy) IsAdmin(userID uint64) bool {
	for _, id := range p.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
