package application

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/novastate/novacore/internal/credit/domain"
	"github.com/novastate/novacore/internal/rules"
)

type fakeScoreRepo struct {
	scores map[uint64]*domain.CitizenScore
	nextID uint
}

func newFakeScoreRepo() *fakeScoreRepo {
	return &fakeScoreRepo{scores: map[uint64]*domain.CitizenScore{}, nextID: 1}
}

func (r *fakeScoreRepo) GetForUpdate(_ context.Context, userID uint64) (*domain.CitizenScore, error) {
	return r.scores[userID], nil
}

func (r *fakeScoreRepo) Get(_ context.Context, userID uint64) (*domain.CitizenScore, error) {
	score, ok := r.scores[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return score, nil
}

func (r *fakeScoreRepo) Create(_ context.Context, score *domain.CitizenScore) error {
	if _, ok := r.scores[score.UserID]; ok {
		return gorm.ErrDuplicatedKey
	}
	score.ID = r.nextID
	r.nextID++
	r.scores[score.UserID] = score
	return nil
}

func (r *fakeScoreRepo) Save(_ context.Context, score *domain.CitizenScore) error {
	r.scores[score.UserID] = score
	return nil
}

func (r *fakeScoreRepo) TopByCredit(context.Context, *rules.Tier, int) ([]*domain.CitizenScore, error) {
	return nil, nil
}

func (r *fakeScoreRepo) CountByTier(context.Context) ([]domain.TierDistribution, error) {
	return nil, nil
}

func (r *fakeScoreRepo) CountRiskAtLeast(context.Context, float64) (int64, error) { return 0, nil }

func (r *fakeScoreRepo) RiskBuckets(context.Context) (map[domain.RiskFlagSeverity]int64, error) {
	return nil, nil
}

func (r *fakeScoreRepo) MedianNovaCredit(context.Context) (float64, error) { return 0, nil }

func (r *fakeScoreRepo) Count(context.Context) (int64, error) {
	return int64(len(r.scores)), nil
}

func (r *fakeScoreRepo) snapshot() map[uint64]*domain.CitizenScore {
	out := make(map[uint64]*domain.CitizenScore, len(r.scores))
	for id, score := range r.scores {
		copied := *score
		out[id] = &copied
	}
	return out
}

type changeKey struct {
	sourceApp, refID, refType string
}

type fakeChangeRepo struct {
	changes []*domain.ScoreChange
	byRef   map[changeKey]*domain.ScoreChange
}

func newFakeChangeRepo() *fakeChangeRepo {
	return &fakeChangeRepo{byRef: map[changeKey]*domain.ScoreChange{}}
}

func (r *fakeChangeRepo) Save(_ context.Context, change *domain.ScoreChange) error {
	if change.ReferenceID != nil && change.ReferenceType != nil {
		key := changeKey{change.SourceApp, *change.ReferenceID, *change.ReferenceType}
		if _, ok := r.byRef[key]; ok {
			return gorm.ErrDuplicatedKey
		}
		r.byRef[key] = change
	}
	change.ID = uint(len(r.changes) + 1)
	r.changes = append(r.changes, change)
	return nil
}

func (r *fakeChangeRepo) GetByReference(_ context.Context, sourceApp, refID, refType string) (*domain.ScoreChange, error) {
	change, ok := r.byRef[changeKey{sourceApp, refID, refType}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return change, nil
}

func (r *fakeChangeRepo) ListByUser(_ context.Context, userID uint64, limit, offset int) ([]*domain.ScoreChange, int64, error) {
	var out []*domain.ScoreChange
	for _, c := range r.changes {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeChangeRepo) CountSince(context.Context, time.Time) (int64, error) {
	return int64(len(r.changes)), nil
}

type fakePublisher struct {
	topics []string
	events []any
}

func (p *fakePublisher) Publish(_ context.Context, topic string, _ string, event any) error {
	p.topics = append(p.topics, topic)
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) PublishInTx(_ context.Context, _ any, topic string, _ string, event any) error {
	p.topics = append(p.topics, topic)
	p.events = append(p.events, event)
	return nil
}

// fakeTxManager restores the score map when the transaction function fails,
// mirroring a database rollback.
type fakeTxManager struct {
	scores *fakeScoreRepo
}

func (m *fakeTxManager) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	before := m.scores.snapshot()
	if err := fn(ctx); err != nil {
		m.scores.scores = before
		return err
	}
	return nil
}

type engineFixture struct {
	engine  *Engine
	scores  *fakeScoreRepo
	changes *fakeChangeRepo
	events  *fakePublisher
	policy  *rules.Policy
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	scores := newFakeScoreRepo()
	changes := newFakeChangeRepo()
	events := &fakePublisher{}
	policy := &rules.Policy{StreakStep: 0.05, StreakEvery: 3, StreakCap: 2.0}
	engine := NewEngine(
		scores,
		changes,
		&fakeTxManager{scores: scores},
		rules.NewHandle(rules.DefaultSnapshot()),
		policy,
		events,
		slog.New(slog.DiscardHandler),
	)
	return &engineFixture{engine: engine, scores: scores, changes: changes, events: events, policy: policy}
}

func (f *engineFixture) seed(userID uint64, credit int) *domain.CitizenScore {
	score := domain.NewCitizenScore(userID)
	score.NovaCredit = credit
	score.Tier = rules.TierOf(credit)
	score.ID = f.scores.nextID
	f.scores.nextID++
	f.scores.scores[userID] = score
	return score
}

func civicEvent(userID uint64, base int) domain.BehaviorEvent {
	return domain.BehaviorEvent{
		ActorID:   userID,
		EventType: "REPORT_CONFIRMED",
		Category:  rules.CategoryCivic,
		BaseDelta: base,
		SourceApp: "moderation",
		Reason:    "REPORT_CONFIRMED",
	}
}

func TestProcessEventCreatesAggregateOnFirstTouch(t *testing.T) {
	f := newEngineFixture(t)

	result, err := f.engine.ProcessEvent(context.Background(), civicEvent(7, 10))
	require.NoError(t, err)

	// CIVIC weight 1.5 on a fresh 500 aggregate.
	assert.Equal(t, 15, result.Delta)
	assert.Equal(t, 500, result.OldScore)
	assert.Equal(t, 515, result.NewScore)
	assert.Equal(t, rules.TierSolid, result.NewTier)
	assert.False(t, result.TierChanged)

	score := f.scores.scores[7]
	require.NotNil(t, score)
	assert.Equal(t, 515, score.NovaCredit)
	assert.Equal(t, 1, score.PositiveStreak)
	assert.InDelta(t, 0.51, score.ReputationScore, 1e-9)
	assert.Zero(t, score.RiskScore)

	require.Len(t, f.events.topics, 1)
	assert.Equal(t, TopicScoreChanged, f.events.topics[0])
}

func TestCrossingTierBoundaryPromotes(t *testing.T) {
	f := newEngineFixture(t)
	f.seed(42, 699)

	result, err := f.engine.ProcessEvent(context.Background(), domain.BehaviorEvent{
		ActorID:   42,
		EventType: "TIP_SENT",
		Category:  rules.CategoryEconomic,
		BaseDelta: 1,
		SourceApp: "flirtmarket",
	})
	require.NoError(t, err)

	assert.Equal(t, 700, result.NewScore)
	assert.Equal(t, rules.TierSolid, result.OldTier)
	assert.Equal(t, rules.TierElite, result.NewTier)
	assert.True(t, result.TierChanged)
	assert.Equal(t, "promoted to ELITE", result.Message)
}

func TestFallingBelowTierBoundaryDemotes(t *testing.T) {
	f := newEngineFixture(t)
	f.seed(42, 700)

	result, err := f.engine.ProcessEvent(context.Background(), domain.BehaviorEvent{
		ActorID:   42,
		EventType: "SPAM_DETECTED",
		Category:  rules.CategorySocialNegative,
		BaseDelta: 2,
		SourceApp: "moderation",
	})
	require.NoError(t, err)

	// SOCIAL_NEGATIVE weight -1.5 on base 2 gives -3.
	assert.Equal(t, -3, result.Delta)
	assert.Equal(t, 697, result.NewScore)
	assert.True(t, result.TierChanged)
	assert.Equal(t, "demoted to SOLID", result.Message)
}

func TestStreakMultiplierGrowsWithConsecutivePositives(t *testing.T) {
	f := newEngineFixture(t)

	var last *domain.ProcessResult
	for i := 0; i < 10; i++ {
		result, err := f.engine.ProcessEvent(context.Background(), domain.BehaviorEvent{
			ActorID:   5,
			EventType: "PURCHASE_COMPLETED",
			Category:  rules.CategoryEconomic,
			BaseDelta: 2,
			SourceApp: "flirtmarket",
		})
		require.NoError(t, err)
		last = result
	}

	// The tenth event sees a streak of nine: 1 + 0.05*(9/3) = 1.15, and
	// int(2 * 1.0 * 1.15) truncates back to 2.
	assert.InDelta(t, 1.15, last.StreakMultiplier, 1e-9)
	assert.Equal(t, 2, last.Delta)

	score := f.scores.scores[5]
	assert.Equal(t, 10, score.PositiveStreak)
	assert.Zero(t, score.NegativeStreak)
	assert.Equal(t, int64(10), score.TotalPositive)
	assert.Equal(t, 520, score.NovaCredit)
}

func TestNegativeEventSkipsMultiplierAndBreaksStreak(t *testing.T) {
	f := newEngineFixture(t)
	score := f.seed(9, 500)
	score.PositiveStreak = 6

	result, err := f.engine.ProcessEvent(context.Background(), domain.BehaviorEvent{
		ActorID:   9,
		EventType: "CHARGEBACK",
		Category:  rules.CategoryRiskNegative,
		BaseDelta: 10,
		SourceApp: "flirtmarket",
	})
	require.NoError(t, err)

	assert.Equal(t, -20, result.Delta)
	assert.InDelta(t, 1.0, result.StreakMultiplier, 1e-9)

	score = f.scores.scores[9]
	assert.Zero(t, score.PositiveStreak)
	assert.Equal(t, 1, score.NegativeStreak)
	assert.InDelta(t, 0.05, score.RiskScore, 1e-9)
}

func TestScoreClampsAtUpperBound(t *testing.T) {
	f := newEngineFixture(t)
	f.seed(3, 995)

	result, err := f.engine.ProcessEvent(context.Background(), civicEvent(3, 10))
	require.NoError(t, err)

	assert.Equal(t, 1000, result.NewScore)
	assert.Equal(t, rules.TierLegend, result.NewTier)
}

func TestScoreClampsAtLowerBound(t *testing.T) {
	f := newEngineFixture(t)
	f.seed(3, 5)

	result, err := f.engine.ProcessEvent(context.Background(), domain.BehaviorEvent{
		ActorID:   3,
		EventType: "RULE_VIOLATION",
		Category:  rules.CategoryRiskNegative,
		BaseDelta: 8,
		SourceApp: "moderation",
	})
	require.NoError(t, err)

	assert.Equal(t, 0, result.NewScore)
	assert.Equal(t, rules.TierGhost, result.NewTier)
}

func TestDuplicateEventIDReplaysOriginalResult(t *testing.T) {
	f := newEngineFixture(t)
	eventID := "evt-001"
	event := domain.BehaviorEvent{
		ActorID:   11,
		EventType: "TIP_SENT",
		Category:  rules.CategoryEconomic,
		BaseDelta: 4,
		SourceApp: "flirtmarket",
		EventID:   &eventID,
	}

	first, err := f.engine.ProcessEvent(context.Background(), event)
	require.NoError(t, err)

	second, err := f.engine.ProcessEvent(context.Background(), event)
	require.NoError(t, err)

	assert.Equal(t, first.Delta, second.Delta)
	assert.Equal(t, first.OldScore, second.OldScore)
	assert.Equal(t, first.NewScore, second.NewScore)

	// The score moved once and only one change record was written.
	assert.Equal(t, first.NewScore, f.scores.scores[11].NovaCredit)
	assert.Len(t, f.changes.changes, 1)
	assert.Len(t, f.events.topics, 1)
}

func TestUnknownCategoryFallsBackToEconomic(t *testing.T) {
	f := newEngineFixture(t)

	result, err := f.engine.ProcessEvent(context.Background(), domain.BehaviorEvent{
		ActorID:   2,
		EventType: "MYSTERY",
		Category:  rules.EventCategory("MYSTERY"),
		BaseDelta: 3,
		SourceApp: "unknown-app",
	})
	require.NoError(t, err)

	// ECONOMIC weight 1.0 applies.
	assert.Equal(t, 3, result.Delta)
	require.Len(t, f.changes.changes, 1)
	assert.Equal(t, rules.CategoryEconomic, f.changes.changes[0].Category)
}

func TestNormalizeAndProcessResolvesMappedTypes(t *testing.T) {
	f := newEngineFixture(t)

	result, err := f.engine.NormalizeAndProcess(context.Background(), 8, "REPORT_CONFIRMED", "moderation", nil, nil)
	require.NoError(t, err)

	// REPORT_CONFIRMED maps to (CIVIC, +5); weight 1.5 gives +7.
	assert.Equal(t, 7, result.Delta)
}

func TestNormalizeAndProcessDefaultsUnmappedTypes(t *testing.T) {
	f := newEngineFixture(t)

	result, err := f.engine.NormalizeAndProcess(context.Background(), 8, "NEVER_SEEN", "someapp", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Delta)
	assert.Equal(t, 501, result.NewScore)
}
