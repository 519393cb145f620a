package application

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	abusedomain "github.com/novastate/novacore/internal/abuse/domain"
	creditdomain "github.com/novastate/novacore/internal/credit/domain"
	ledgerdomain "github.com/novastate/novacore/internal/ledger/domain"
	"github.com/novastate/novacore/internal/quest/domain"
	"github.com/novastate/novacore/internal/rules"
)

type fakeQuestRepo struct {
	quests []*domain.UserQuest
	nextID uint
}

func newFakeQuestRepo() *fakeQuestRepo { return &fakeQuestRepo{nextID: 1} }

func (r *fakeQuestRepo) Create(_ context.Context, quests []*domain.UserQuest) error {
	for _, q := range quests {
		for _, existing := range r.quests {
			if existing.UserID == q.UserID && existing.SlotKey == q.SlotKey {
				return gorm.ErrDuplicatedKey
			}
		}
	}
	for _, q := range quests {
		q.ID = r.nextID
		r.nextID++
		r.quests = append(r.quests, q)
	}
	return nil
}

func (r *fakeQuestRepo) GetByUUIDForUpdate(_ context.Context, questUUID string) (*domain.UserQuest, error) {
	for _, q := range r.quests {
		if q.QuestUUID == questUUID {
			return q, nil
		}
	}
	return nil, nil
}

func (r *fakeQuestRepo) GetByIDForUpdate(_ context.Context, id uint) (*domain.UserQuest, error) {
	for _, q := range r.quests {
		if q.ID == id {
			return q, nil
		}
	}
	return nil, nil
}

func (r *fakeQuestRepo) Save(_ context.Context, quest *domain.UserQuest) error {
	for i, q := range r.quests {
		if q.ID == quest.ID {
			r.quests[i] = quest
			return nil
		}
	}
	r.quests = append(r.quests, quest)
	return nil
}

func (r *fakeQuestRepo) ListByUserAndDay(_ context.Context, userID uint64, day string) ([]*domain.UserQuest, error) {
	var out []*domain.UserQuest
	for _, q := range r.quests {
		if q.UserID == userID && strings.HasPrefix(q.SlotKey, day+":") {
			out = append(out, q)
		}
	}
	return out, nil
}

func (r *fakeQuestRepo) ListActiveByUser(_ context.Context, userID uint64) ([]*domain.UserQuest, error) {
	var out []*domain.UserQuest
	for _, q := range r.quests {
		if q.UserID == userID && !q.Status.Terminal() {
			out = append(out, q)
		}
	}
	return out, nil
}

func (r *fakeQuestRepo) ListUnderReview(_ context.Context, limit int) ([]*domain.UserQuest, error) {
	var out []*domain.UserQuest
	for _, q := range r.quests {
		if q.Status == domain.StatusUnderReview && len(out) < limit {
			out = append(out, q)
		}
	}
	return out, nil
}

func (r *fakeQuestRepo) HasCompleted(_ context.Context, userID uint64, questID string) (bool, error) {
	for _, q := range r.quests {
		if q.UserID == userID && q.QuestID == questID && q.Status == domain.StatusApproved {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeQuestRepo) ExpireOverdue(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for _, q := range r.quests {
		if q.Status == domain.StatusAssigned && now.After(q.ExpiresAt) {
			q.Status = domain.StatusExpired
			n++
		}
	}
	return n, nil
}

type fakeCounterRepo struct {
	counters map[string]*domain.DailyCounter
}

func newFakeCounterRepo() *fakeCounterRepo {
	return &fakeCounterRepo{counters: map[string]*domain.DailyCounter{}}
}

func (r *fakeCounterRepo) GetForUpdate(_ context.Context, day string) (*domain.DailyCounter, error) {
	return r.counters[day], nil
}

func (r *fakeCounterRepo) Save(_ context.Context, counter *domain.DailyCounter) error {
	r.counters[counter.Day] = counter
	return nil
}

func (r *fakeCounterRepo) issued(day string) decimal.Decimal {
	if c, ok := r.counters[day]; ok {
		return c.IssuedNCR
	}
	return decimal.Zero
}

type ledgerCall struct {
	legs      []ledgerdomain.Leg
	asset     string
	sourceApp string
	ref       ledgerdomain.Reference
}

type fakeLedger struct {
	calls []ledgerCall
	err   error
}

func (l *fakeLedger) Apply(_ context.Context, legs []ledgerdomain.Leg, asset, sourceApp string, ref ledgerdomain.Reference) (string, error) {
	if l.err != nil {
		return "", l.err
	}
	l.calls = append(l.calls, ledgerCall{legs: legs, asset: asset, sourceApp: sourceApp, ref: ref})
	return "tx-1", nil
}

type fakeCreditEngine struct {
	events []creditdomain.BehaviorEvent
}

func (e *fakeCreditEngine) ProcessEvent(_ context.Context, event creditdomain.BehaviorEvent) (*creditdomain.ProcessResult, error) {
	e.events = append(e.events, event)
	return &creditdomain.ProcessResult{UserID: event.ActorID, Delta: event.BaseDelta}, nil
}

type guardCall struct {
	userID     uint64
	signalType abusedomain.SignalType
	severity   float64
}

type fakeGuard struct {
	risk  map[uint64]float64
	calls []guardCall
}

func (g *fakeGuard) RiskScore(_ context.Context, userID uint64) float64 {
	return g.risk[userID]
}

func (g *fakeGuard) RegisterEvent(_ context.Context, userID uint64, signalType abusedomain.SignalType, severity float64, _ map[string]any) (*abusedomain.Profile, error) {
	g.calls = append(g.calls, guardCall{userID: userID, signalType: signalType, severity: severity})
	return &abusedomain.Profile{UserID: userID}, nil
}

type fakeQuestPublisher struct {
	topics []string
	keys   []string
}

func (p *fakeQuestPublisher) Publish(_ context.Context, topic string, key string, _ any) error {
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, key)
	return nil
}

func (p *fakeQuestPublisher) PublishInTx(_ context.Context, _ any, topic string, key string, _ any) error {
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, key)
	return nil
}

type passthroughTxManager struct{}

func (passthroughTxManager) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func testCatalogue() []rules.QuestDefinition {
	return []rules.QuestDefinition{
		{
			QuestID:       "daily-tip",
			Slot:          rules.SlotMoney,
			Title:         "Send a tip",
			ProofType:     rules.ProofText,
			ProofMinLen:   10,
			BaseRewardNCR: decimal.NewFromInt(5),
			BaseRewardXP:  25,
			ScoreCategory: rules.CategoryEconomic,
			Scoring:       rules.AIScoring{BaseScore: 40, LengthTarget: 100, LengthBonus: 20, Keywords: []string{"receipt"}, KeywordBonus: 10},
		},
		{
			QuestID:       "share-content",
			Slot:          rules.SlotSkill,
			Title:         "Publish and share content",
			ProofType:     rules.ProofLink,
			ProofMinLen:   12,
			BaseRewardNCR: decimal.NewFromInt(200),
			BaseRewardXP:  40,
			ScoreCategory: rules.CategoryCreative,
			Scoring:       rules.AIScoring{BaseScore: 50, LengthTarget: 80, LengthBonus: 20},
		},
		{
			QuestID:       "report-scam",
			Slot:          rules.SlotIntegrity,
			Title:         "Report a scam",
			ProofType:     rules.ProofText,
			ProofMinLen:   10,
			BaseRewardNCR: decimal.NewFromInt(10),
			BaseRewardXP:  30,
			ForceReview:   true,
			ScoreCategory: rules.CategoryCivic,
			Scoring:       rules.AIScoring{BaseScore: 40, LengthTarget: 120, LengthBonus: 30},
		},
	}
}

type questFixture struct {
	svc      *Service
	quests   *fakeQuestRepo
	counters *fakeCounterRepo
	ledger   *fakeLedger
	credit   *fakeCreditEngine
	guard    *fakeGuard
	events   *fakeQuestPublisher
	policy   *rules.Policy
}

func newQuestFixture(t *testing.T) *questFixture {
	t.Helper()
	snapshot := rules.DefaultSnapshot()
	snapshot.QuestCatalogue = testCatalogue()

	f := &questFixture{
		quests:   newFakeQuestRepo(),
		counters: newFakeCounterRepo(),
		ledger:   &fakeLedger{},
		credit:   &fakeCreditEngine{},
		guard:    &fakeGuard{risk: map[uint64]float64{}},
		events:   &fakeQuestPublisher{},
		policy: &rules.Policy{
			TreasuryUserID:       1,
			TreasuryDailyLimit:   decimal.NewFromInt(1000),
			AutoApproveThreshold: 70,
			AutoRejectThreshold:  30,
			RiskBlockThreshold:   0.7,
		},
	}
	f.svc = NewService(
		f.quests,
		f.counters,
		passthroughTxManager{},
		f.ledger,
		f.credit,
		f.guard,
		f.events,
		rules.NewHandle(snapshot),
		f.policy,
		slog.New(slog.DiscardHandler),
	)
	return f
}

func freezeNow(t *testing.T, at time.Time) {
	t.Helper()
	prev := nowFunc
	nowFunc = func() time.Time { return at }
	t.Cleanup(func() { nowFunc = prev })
}

func (f *questFixture) assignToday(t *testing.T, userID uint64) map[rules.QuestSlot]*domain.UserQuest {
	t.Helper()
	assigned, err := f.svc.EnsureDailyQuests(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, assigned, len(rules.QuestSlots))
	bySlot := map[rules.QuestSlot]*domain.UserQuest{}
	for _, q := range assigned {
		bySlot[q.Slot] = q
	}
	return bySlot
}

var testDay = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

func TestEnsureDailyQuestsAssignsOnePerSlot(t *testing.T) {
	f := newQuestFixture(t)
	freezeNow(t, testDay)

	bySlot := f.assignToday(t, 7)

	for _, slot := range rules.QuestSlots {
		q := bySlot[slot]
		require.NotNil(t, q, "slot %s", slot)
		assert.Equal(t, domain.StatusAssigned, q.Status)
		assert.Equal(t, domain.SlotKeyFor(testDay, slot), q.SlotKey)
		assert.Equal(t, testDay.Add(24*time.Hour), q.ExpiresAt)
		assert.NotEmpty(t, q.QuestUUID)
	}
}

func TestEnsureDailyQuestsIsIdempotentWithinDay(t *testing.T) {
	f := newQuestFixture(t)
	freezeNow(t, testDay)

	first := f.assignToday(t, 7)
	second := f.assignToday(t, 7)

	for _, slot := range rules.QuestSlots {
		assert.Equal(t, first[slot].QuestUUID, second[slot].QuestUUID)
	}
	assert.Len(t, f.quests.quests, len(rules.QuestSlots))
}

func TestSubmitProofAutoApprovesAndPays(t *testing.T) {
	f := newQuestFixture(t)
	freezeNow(t, testDay)
	f.guard.risk[7] = 0.1
	quest := f.assignToday(t, 7)[rules.SlotMoney]
	aiScore := 85

	updated, err := f.svc.SubmitProof(context.Background(), SubmitProofCommand{
		UserID:    7,
		QuestUUID: quest.QuestUUID,
		ProofType: rules.ProofText,
		ProofRef:  "sent a 10 NCR tip to @performer, receipt attached",
		AIScore:   &aiScore,
		Source:    "flirtmarket",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusApproved, updated.Status)
	assert.Equal(t, 85, *updated.FinalScore)
	assert.InDelta(t, 1.0, *updated.HouseEdgeSnapshot, 1e-9)
	assert.True(t, updated.FinalRewardNCR.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, 25, *updated.FinalRewardXP)
	assert.True(t, updated.CappedNCR.IsZero())

	require.Len(t, f.ledger.calls, 1)
	call := f.ledger.calls[0]
	assert.Equal(t, ledgerdomain.AssetNCR, call.asset)
	assert.Equal(t, "quest_reward", call.sourceApp)
	assert.Equal(t, quest.QuestUUID, call.ref.ID)
	require.Len(t, call.legs, 2)
	assert.True(t, call.legs[0].Amount.Equal(decimal.NewFromInt(5)))
	assert.True(t, call.legs[1].Amount.Equal(decimal.NewFromInt(-5)))
	assert.Equal(t, uint64(1), *call.legs[1].Target.UserID)

	require.Len(t, f.credit.events, 1)
	event := f.credit.events[0]
	assert.Equal(t, 25, event.BaseDelta)
	assert.Equal(t, rules.CategoryEconomic, event.Category)
	assert.Equal(t, "quest:"+quest.QuestUUID, *event.EventID)

	assert.True(t, f.counters.issued(testDay.Format("2006-01-02")).Equal(decimal.NewFromInt(5)))
	assert.Equal(t, []string{TopicQuestResolved}, f.events.topics)
}

func TestSubmitProofCappedNearDailyLimit(t *testing.T) {
	f := newQuestFixture(t)
	freezeNow(t, testDay)
	day := testDay.Format("2006-01-02")
	f.counters.counters[day] = &domain.DailyCounter{Day: day, IssuedNCR: decimal.NewFromInt(900)}
	quest := f.assignToday(t, 7)[rules.SlotSkill]
	aiScore := 90

	updated, err := f.svc.SubmitProof(context.Background(), SubmitProofCommand{
		UserID:    7,
		QuestUUID: quest.QuestUUID,
		ProofType: rules.ProofLink,
		ProofRef:  "https://example.com/posts/123",
		AIScore:   &aiScore,
		Source:    "flirtmarket",
	})
	require.NoError(t, err)

	// Projected 1100 of 1000 puts the ratio at 1.1, stepping the
	// multiplier down to 0.1: 200 damped pays 20 and withholds 180.
	assert.Equal(t, domain.StatusApproved, updated.Status)
	assert.True(t, updated.FinalRewardNCR.Equal(decimal.NewFromInt(20)), "got %s", updated.FinalRewardNCR)
	assert.True(t, updated.CappedNCR.Equal(decimal.NewFromInt(180)), "got %s", updated.CappedNCR)
	assert.True(t, f.counters.issued(day).Equal(decimal.NewFromInt(920)))
}

func TestSubmitProofLowQualityAutoRejects(t *testing.T) {
	f := newQuestFixture(t)
	freezeNow(t, testDay)
	quest := f.assignToday(t, 7)[rules.SlotMoney]
	aiScore := 10

	updated, err := f.svc.SubmitProof(context.Background(), SubmitProofCommand{
		UserID:    7,
		QuestUUID: quest.QuestUUID,
		ProofType: rules.ProofText,
		ProofRef:  "did the thing i promise",
		AIScore:   &aiScore,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusRejected, updated.Status)
	assert.Empty(t, f.ledger.calls)
	assert.Empty(t, f.credit.events)
	require.Len(t, f.guard.calls, 1)
	assert.Equal(t, abusedomain.SignalManualFlag, f.guard.calls[0].signalType)
	assert.InDelta(t, 2.0, f.guard.calls[0].severity, 1e-9)
	assert.Equal(t, []string{TopicQuestResolved}, f.events.topics)
}

func TestSubmitProofMidQualityRoutesToReview(t *testing.T) {
	f := newQuestFixture(t)
	freezeNow(t, testDay)
	quest := f.assignToday(t, 7)[rules.SlotMoney]
	aiScore := 50

	updated, err := f.svc.SubmitProof(context.Background(), SubmitProofCommand{
		UserID:    7,
		QuestUUID: quest.QuestUUID,
		ProofType: rules.ProofText,
		ProofRef:  "completed the daily tip quest",
		AIScore:   &aiScore,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusUnderReview, updated.Status)
	assert.Empty(t, f.ledger.calls)
	assert.Empty(t, f.events.topics)
	// The cap counter only moves when a reward commits.
	assert.True(t, f.counters.issued(testDay.Format("2006-01-02")).IsZero())
}

func TestSubmitProofHighRiskBlocksAutoApproval(t *testing.T) {
	f := newQuestFixture(t)
	freezeNow(t, testDay)
	f.guard.risk[7] = 0.8
	quest := f.assignToday(t, 7)[rules.SlotMoney]
	aiScore := 95

	updated, err := f.svc.SubmitProof(context.Background(), SubmitProofCommand{
		UserID:    7,
		QuestUUID: quest.QuestUUID,
		ProofType: rules.ProofText,
		ProofRef:  "sent the tip, receipt attached",
		AIScore:   &aiScore,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusUnderReview, updated.Status)
	assert.Empty(t, f.ledger.calls)
}

func TestForceReviewOverridesAutoApproval(t *testing.T) {
	f := newQuestFixture(t)
	freezeNow(t, testDay)
	quest := f.assignToday(t, 7)[rules.SlotIntegrity]
	aiScore := 95

	updated, err := f.svc.SubmitProof(context.Background(), SubmitProofCommand{
		UserID:    7,
		QuestUUID: quest.QuestUUID,
		ProofType: rules.ProofText,
		ProofRef:  "reported account @scammer for fake payment links",
		AIScore:   &aiScore,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusUnderReview, updated.Status)
	assert.Empty(t, f.ledger.calls)
}

func TestSubmitProofPastTTLExpires(t *testing.T) {
	f := newQuestFixture(t)
	freezeNow(t, testDay)
	quest := f.assignToday(t, 7)[rules.SlotMoney]

	freezeNow(t, testDay.Add(25*time.Hour))
	_, err := f.svc.SubmitProof(context.Background(), SubmitProofCommand{
		UserID:    7,
		QuestUUID: quest.QuestUUID,
		ProofType: rules.ProofText,
		ProofRef:  "too late but here it is",
	})
	require.ErrorIs(t, err, domain.ErrExpired)

	stored, err := f.quests.GetByUUIDForUpdate(context.Background(), quest.QuestUUID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, stored.Status)
}

func TestSubmitProofValidation(t *testing.T) {
	f := newQuestFixture(t)
	freezeNow(t, testDay)
	bySlot := f.assignToday(t, 7)

	cases := []struct {
		name string
		cmd  SubmitProofCommand
	}{
		{"wrong proof type", SubmitProofCommand{
			UserID: 7, QuestUUID: bySlot[rules.SlotMoney].QuestUUID,
			ProofType: rules.ProofLink, ProofRef: "https://example.com/proof",
		}},
		{"too short", SubmitProofCommand{
			UserID: 7, QuestUUID: bySlot[rules.SlotMoney].QuestUUID,
			ProofType: rules.ProofText, ProofRef: "short",
		}},
		{"link without scheme", SubmitProofCommand{
			UserID: 7, QuestUUID: bySlot[rules.SlotSkill].QuestUUID,
			ProofType: rules.ProofLink, ProofRef: "example.com/posts/123",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.SubmitProof(context.Background(), tc.cmd)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestSubmitProofRejectsForeignQuest(t *testing.T) {
	f := newQuestFixture(t)
	freezeNow(t, testDay)
	quest := f.assignToday(t, 7)[rules.SlotMoney]

	_, err := f.svc.SubmitProof(context.Background(), SubmitProofCommand{
		UserID:    8,
		QuestUUID: quest.QuestUUID,
		ProofType: rules.ProofText,
		ProofRef:  "not my quest but trying anyway",
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSubmitProofRejectsResubmission(t *testing.T) {
	f := newQuestFixture(t)
	freezeNow(t, testDay)
	quest := f.assignToday(t, 7)[rules.SlotMoney]
	aiScore := 85

	cmd := SubmitProofCommand{
		UserID:    7,
		QuestUUID: quest.QuestUUID,
		ProofType: rules.ProofText,
		ProofRef:  "sent the tip, receipt attached",
		AIScore:   &aiScore,
	}
	_, err := f.svc.SubmitProof(context.Background(), cmd)
	require.NoError(t, err)

	_, err = f.svc.SubmitProof(context.Background(), cmd)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func (f *questFixture) submitForReview(t *testing.T, userID uint64) *domain.UserQuest {
	t.Helper()
	quest := f.assignToday(t, userID)[rules.SlotMoney]
	aiScore := 50
	updated, err := f.svc.SubmitProof(context.Background(), SubmitProofCommand{
		UserID:    userID,
		QuestUUID: quest.QuestUUID,
		ProofType: rules.ProofText,
		ProofRef:  "completed the daily tip quest",
		AIScore:   &aiScore,
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusUnderReview, updated.Status)
	return updated
}

func TestDecideApprovedPaysSnapshottedReward(t *testing.T) {
	f := newQuestFixture(t)
	freezeNow(t, testDay)
	quest := f.submitForReview(t, 7)
	snapshotNCR := *quest.FinalRewardNCR

	reason := "proof checks out"
	decided, err := f.svc.Decide(context.Background(), quest.ID, 99, domain.StatusApproved, &reason)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusApproved, decided.Status)
	assert.Equal(t, uint64(99), *decided.DecidedBy)
	assert.Equal(t, "proof checks out", *decided.DecisionReason)
	require.NotNil(t, decided.ResolvedAt)

	require.Len(t, f.ledger.calls, 1)
	assert.True(t, f.ledger.calls[0].legs[0].Amount.Equal(snapshotNCR))
	assert.Equal(t, "quest_hitl_approved", f.ledger.calls[0].sourceApp)
	assert.True(t, f.counters.issued(testDay.Format("2006-01-02")).Equal(snapshotNCR))
	assert.Equal(t, []string{TopicQuestResolved}, f.events.topics)
}

func TestDecideRejectedFlagsUser(t *testing.T) {
	f := newQuestFixture(t)
	freezeNow(t, testDay)
	quest := f.submitForReview(t, 7)

	decided, err := f.svc.Decide(context.Background(), quest.ID, 99, domain.StatusRejected, nil)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusRejected, decided.Status)
	assert.Empty(t, f.ledger.calls)
	assert.Empty(t, f.credit.events)
	require.Len(t, f.guard.calls, 1)
	assert.Equal(t, abusedomain.SignalManualFlag, f.guard.calls[0].signalType)
	assert.InDelta(t, 5.0, f.guard.calls[0].severity, 1e-9)
}

func TestDecideValidatesDecision(t *testing.T) {
	f := newQuestFixture(t)
	freezeNow(t, testDay)
	quest := f.submitForReview(t, 7)

	_, err := f.svc.Decide(context.Background(), quest.ID, 99, domain.StatusExpired, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDecideRequiresReviewState(t *testing.T) {
	f := newQuestFixture(t)
	freezeNow(t, testDay)
	quest := f.assignToday(t, 7)[rules.SlotMoney]

	_, err := f.svc.Decide(context.Background(), quest.ID, 99, domain.StatusApproved, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestExpireOverdueSweepsAssignedQuests(t *testing.T) {
	f := newQuestFixture(t)
	freezeNow(t, testDay)
	f.assignToday(t, 7)

	freezeNow(t, testDay.Add(25*time.Hour))
	count, err := f.svc.ExpireOverdue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(len(rules.QuestSlots)), count)

	active, err := f.svc.ListActive(context.Background(), 7)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestScoreProofFallback(t *testing.T) {
	scoring := rules.AIScoring{BaseScore: 40, LengthTarget: 100, LengthBonus: 20, Keywords: []string{"receipt"}, KeywordBonus: 10}

	// 50 characters of 100 earns half the length bonus.
	half := strings.Repeat("x", 50)
	assert.Equal(t, 50, scoreProof(scoring, half))

	// Keyword match adds its bonus on top, case-insensitively.
	withKeyword := strings.Repeat("x", 43) + "Receipt"
	assert.Equal(t, 60, scoreProof(scoring, withKeyword))

	// Saturates at the length target and clamps to 100.
	assert.Equal(t, 60, scoreProof(scoring, strings.Repeat("x", 500)))
	assert.Equal(t, 100, scoreProof(rules.AIScoring{BaseScore: 150}, "anything"))
}

func TestHouseEdgeCombinesQualityAndRisk(t *testing.T) {
	assert.InDelta(t, 1.0, houseEdge(85, 0.1), 1e-9)
	assert.InDelta(t, 0.9, houseEdge(60, 0.2), 1e-9)
	assert.InDelta(t, 0.75, houseEdge(40, 0), 1e-9)
	assert.InDelta(t, 0.5, houseEdge(10, 0), 1e-9)
	// Risk factor 0.35 at a risk score of 0.5.
	assert.InDelta(t, 0.65, houseEdge(85, 0.5), 1e-9)
	assert.InDelta(t, 0.1, houseEdge(100, 0.95), 1e-9)
}

func TestCapMultiplierSteps(t *testing.T) {
	cases := []struct {
		ratio, want float64
	}{
		{0.1, 1.0},
		{0.69, 1.0},
		{0.70, 0.8},
		{0.85, 0.8},
		{0.90, 0.6},
		{0.95, 0.6},
		{0.99, 0.3},
		{1.0, 0.3},
		{1.05, 0.1},
		{1.1, 0.1},
		{1.2, 0.05},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.want, capMultiplier(tc.ratio), 1e-9, "ratio %v", tc.ratio)
	}
}
