package application

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"gorm.io/gorm"

	"github.com/novastate/novacore/internal/abuse/domain"
	"github.com/novastate/novacore/internal/rules"
)

// smoothingAlpha controls how strongly a single signal moves the risk score
// toward its severity level.
const smoothingAlpha = 0.3

var nowFunc = time.Now

type TxManager interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Guard maintains per-user rolling risk profiles and exposes the damping
// factor consumed by quest reward computation and HITL triage.
type Guard struct {
	profiles domain.ProfileRepository
	signals  domain.SignalRepository
	txm      TxManager
	policy   *rules.Policy
	logger   *slog.Logger
}

func NewGuard(profiles domain.ProfileRepository, signals domain.SignalRepository, txm TxManager, policy *rules.Policy, logger *slog.Logger) *Guard {
	return &Guard{profiles: profiles, signals: signals, txm: txm, policy: policy, logger: logger}
}

// RegisterEvent folds one abuse signal into the user's risk profile. The
// stored score is first decayed to now, then raised by a severity-weighted
// fraction of the remaining headroom, so repeated signals compound toward 1
// while a quiet user drifts back toward zero.
func (g *Guard) RegisterEvent(ctx context.Context, userID uint64, signalType domain.SignalType, severity float64, meta map[string]any) (*domain.Profile, error) {
	severity = clamp(severity, 0, domain.MaxSeverity)

	var profile *domain.Profile
	err := g.txm.Transaction(ctx, func(txCtx context.Context) error {
		var err error
		profile, err = g.getOrCreateForUpdate(txCtx, userID)
		if err != nil {
			return err
		}

		now := nowFunc()
		g.decayTo(profile, now)

		target := severity / domain.MaxSeverity
		profile.RiskScore = clamp(profile.RiskScore+(1-profile.RiskScore)*target*smoothingAlpha, 0, 1)
		profile.RecentEvents++
		profile.LastEventAt = &now

		if err := g.profiles.Save(txCtx, profile); err != nil {
			return err
		}
		return g.signals.Save(txCtx, &domain.Signal{
			UserID:     userID,
			SignalType: signalType,
			Severity:   severity,
			RiskAfter:  profile.RiskScore,
			Metadata:   meta,
		})
	})
	if err != nil {
		return nil, err
	}

	g.logger.Info("abuse signal registered",
		"user_id", userID,
		"signal_type", signalType,
		"severity", severity,
		"risk_score", profile.RiskScore)
	return profile, nil
}

// GetOrCreateProfile returns the user's profile with decay applied as of now.
// The decayed value is persisted so reads converge the stored score too.
func (g *Guard) GetOrCreateProfile(ctx context.Context, userID uint64) (*domain.Profile, error) {
	profile, err := g.profiles.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		profile = newProfile(userID)
		if err := g.profiles.Create(ctx, profile); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return g.profiles.Get(ctx, userID)
			}
			return nil, err
		}
		return profile, nil
	}

	now := nowFunc()
	if decayed := g.decayTo(profile, now); decayed {
		if err := g.profiles.Save(ctx, profile); err != nil {
			g.logger.Warn("failed to persist decayed risk score", "user_id", userID, "error", err)
		}
	}
	return profile, nil
}

// RiskScore is a read-only convenience that never fails the caller: lookup
// errors fall back to zero risk.
func (g *Guard) RiskScore(ctx context.Context, userID uint64) float64 {
	profile, err := g.GetOrCreateProfile(ctx, userID)
	if err != nil {
		g.logger.Warn("abuse profile lookup failed, assuming zero risk", "user_id", userID, "error", err)
		return 0
	}
	return profile.RiskScore
}

// RecentSignals lists the newest signals for moderator review.
func (g *Guard) RecentSignals(ctx context.Context, userID uint64, limit int) ([]*domain.Signal, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return g.signals.ListByUser(ctx, userID, limit)
}

func (g *Guard) getOrCreateForUpdate(ctx context.Context, userID uint64) (*domain.Profile, error) {
	profile, err := g.profiles.GetForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile != nil {
		return profile, nil
	}
	profile = newProfile(userID)
	if err := g.profiles.Create(ctx, profile); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return g.profiles.GetForUpdate(ctx, userID)
		}
		return nil, err
	}
	return profile, nil
}

// decayTo applies half-life decay between LastDecayedAt and now. Returns true
// when the score actually changed.
func (g *Guard) decayTo(profile *domain.Profile, now time.Time) bool {
	elapsed := now.Sub(profile.LastDecayedAt)
	if elapsed <= 0 {
		return false
	}
	profile.LastDecayedAt = now
	if profile.RiskScore <= 0 {
		return false
	}
	halfLives := elapsed.Hours() / g.policy.AbuseHalfLife.Hours()
	before := profile.RiskScore
	profile.RiskScore *= math.Pow(0.5, halfLives)
	if profile.RiskScore < 1e-4 {
		profile.RiskScore = 0
		profile.RecentEvents = 0
	}
	return profile.RiskScore != before
}

func newProfile(userID uint64) *domain.Profile {
	return &domain.Profile{
		UserID:        userID,
		RiskScore:     0,
		LastDecayedAt: nowFunc(),
	}
}

// RiskFactor maps a risk score to the reward damping fraction: no damping
// below 0.3, rising linearly to 0.7 at a score of 0.7, saturating at 0.9.
func RiskFactor(riskScore float64) float64 {
	switch {
	case riskScore < 0.3:
		return 0
	case riskScore < 0.7:
		return (riskScore - 0.3) / 0.4 * 0.7
	case riskScore < 0.9:
		return 0.7 + (riskScore-0.7)/0.2*0.2
	default:
		return 0.9
	}
}

// Damp applies risk damping to a base reward value.
func Damp(base float64, riskScore float64) float64 {
	return base * (1 - RiskFactor(riskScore))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
