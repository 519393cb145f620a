// Package application implements the credit engine: the event-driven state
// machine over the citizen score aggregate with weighting, streaks, tier
// transitions and risk/reputation side effects.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wyfcoding/pkg/contextx"
	"gorm.io/gorm"

	"github.com/novastate/novacore/internal/credit/domain"
	"github.com/novastate/novacore/internal/rules"
)

// TopicScoreChanged carries one event per committed score change.
const TopicScoreChanged = "nova.score.changed"

var nowFunc = time.Now

// TxManager scopes a function to one database transaction.
type TxManager interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Engine processes behavior events into score mutations.
type Engine struct {
	scores    domain.ScoreRepository
	changes   domain.ChangeRepository
	txm       TxManager
	rules     *rules.Handle
	policy    *rules.Policy
	publisher domain.EventPublisher
	logger    *slog.Logger
}

func NewEngine(
	scores domain.ScoreRepository,
	changes domain.ChangeRepository,
	txm TxManager,
	rulesHandle *rules.Handle,
	policy *rules.Policy,
	publisher domain.EventPublisher,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		scores:    scores,
		changes:   changes,
		txm:       txm,
		rules:     rulesHandle,
		policy:    policy,
		publisher: publisher,
		logger:    logger.With("module", "credit_engine"),
	}
}

// ProcessEvent applies one behavior event in a single transaction: weight
// and streak resolution, clamped score mutation, tier recomputation,
// risk/reputation adjustment and the immutable change record.
func (e *Engine) ProcessEvent(ctx context.Context, event domain.BehaviorEvent) (*domain.ProcessResult, error) {
	snapshot := e.rules.Current()

	weight, known := snapshot.CategoryWeightOf(event.Category)
	if !known {
		e.logger.WarnContext(ctx, "unknown event category, falling back to ECONOMIC",
			"category", event.Category, "event_type", event.EventType)
		event.Category = rules.CategoryEconomic
	}

	var result *domain.ProcessResult
	err := e.txm.Transaction(ctx, func(txCtx context.Context) error {
		score, err := e.getOrCreateForUpdate(txCtx, event.ActorID)
		if err != nil {
			return err
		}

		multiplier := 1.0
		if weight.Weight > 0 {
			multiplier = e.policy.StreakMultiplier(score.PositiveStreak)
		}
		// Truncation toward zero, per the scoring contract.
		delta := int(float64(event.BaseDelta) * weight.Weight * multiplier)

		oldScore := score.NovaCredit
		oldTier := score.Tier
		newScore := clampInt(oldScore+delta, domain.MinNovaCredit, domain.MaxNovaCredit)

		score.NovaCredit = newScore
		score.Tier = rules.TierOf(newScore)
		score.RiskScore = clampFloat(score.RiskScore+weight.RiskImpact, 0, 1)
		score.ReputationScore = clampFloat(score.ReputationScore+weight.ReputationImpact, 0, 1)
		applyStreak(score, delta)

		if err := e.scores.Save(txCtx, score); err != nil {
			return err
		}

		change := &domain.ScoreChange{
			UserID:        event.ActorID,
			Delta:         delta,
			OldScore:      oldScore,
			NewScore:      newScore,
			Category:      event.Category,
			Reason:        event.Reason,
			SourceApp:     event.SourceApp,
			WeightApplied: weight.Weight,
			BaseDelta:     event.BaseDelta,
			Context:       event.Context,
		}
		if event.EventID != nil {
			refType := "behavior_event"
			change.ReferenceID = event.EventID
			change.ReferenceType = &refType
		}
		if err := e.changes.Save(txCtx, change); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.ErrDuplicate
			}
			return err
		}

		result = &domain.ProcessResult{
			UserID:           event.ActorID,
			Delta:            delta,
			OldScore:         oldScore,
			NewScore:         newScore,
			OldTier:          oldTier,
			NewTier:          score.Tier,
			TierChanged:      oldTier != score.Tier,
			StreakMultiplier: multiplier,
		}
		if result.TierChanged {
			if rules.TierFloor(score.Tier) > rules.TierFloor(oldTier) {
				result.Message = fmt.Sprintf("promoted to %s", score.Tier)
			} else {
				result.Message = fmt.Sprintf("demoted to %s", score.Tier)
			}
		}

		return e.publisher.PublishInTx(txCtx, contextx.GetTx(txCtx), TopicScoreChanged,
			fmt.Sprintf("%d", event.ActorID), result)
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicate) && event.EventID != nil {
			// Idempotent retry: the first processing won.
			e.logger.WarnContext(ctx, "behavior event already processed",
				"source_app", event.SourceApp, "event_id", *event.EventID)
			return e.resultFromExisting(ctx, event)
		}
		return nil, err
	}

	if result.TierChanged {
		e.logger.InfoContext(ctx, "tier changed",
			"user_id", event.ActorID, "old_tier", result.OldTier, "new_tier", result.NewTier)
	}
	return result, nil
}

// NormalizeAndProcess resolves a raw event type through the mapping table
// and processes it. Unmapped types default to (ECONOMIC, +1).
func (e *Engine) NormalizeAndProcess(ctx context.Context, userID uint64, eventType, sourceApp string, eventID *string, eventContext map[string]any) (*domain.ProcessResult, error) {
	mapping, known := e.rules.Current().MappingOf(eventType)
	if !known {
		e.logger.WarnContext(ctx, "unmapped event type, defaulting to ECONOMIC +1",
			"event_type", eventType, "source_app", sourceApp)
	}
	return e.ProcessEvent(ctx, domain.BehaviorEvent{
		ActorID:   userID,
		EventType: eventType,
		Category:  mapping.Category,
		BaseDelta: mapping.BaseDelta,
		SourceApp: sourceApp,
		Reason:    eventType,
		EventID:   eventID,
		Context:   eventContext,
	})
}

func (e *Engine) getOrCreateForUpdate(ctx context.Context, userID uint64) (*domain.CitizenScore, error) {
	score, err := e.scores.GetForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if score != nil {
		return score, nil
	}

	score = domain.NewCitizenScore(userID)
	if err := e.scores.Create(ctx, score); err != nil {
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, err
		}
		// Lost the create race; lock the winner's row.
	}
	return e.scores.GetForUpdate(ctx, userID)
}

func (e *Engine) resultFromExisting(ctx context.Context, event domain.BehaviorEvent) (*domain.ProcessResult, error) {
	change, err := e.changes.GetByReference(ctx, event.SourceApp, *event.EventID, "behavior_event")
	if err != nil {
		return nil, err
	}
	oldTier := rules.TierOf(change.OldScore)
	newTier := rules.TierOf(change.NewScore)
	return &domain.ProcessResult{
		UserID:      change.UserID,
		Delta:       change.Delta,
		OldScore:    change.OldScore,
		NewScore:    change.NewScore,
		OldTier:     oldTier,
		NewTier:     newTier,
		TierChanged: oldTier != newTier,
	}, nil
}

func applyStreak(score *domain.CitizenScore, delta int) {
	now := nowFunc()
	switch {
	case delta > 0:
		score.PositiveStreak++
		score.NegativeStreak = 0
		score.TotalPositive++
		score.LastPositiveAt = &now
	case delta < 0:
		score.NegativeStreak++
		score.PositiveStreak = 0
		score.TotalNegative++
		score.LastNegativeAt = &now
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
