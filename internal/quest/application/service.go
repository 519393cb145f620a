package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/contextx"
	"gorm.io/gorm"

	abuseapp "github.com/novastate/novacore/internal/abuse/application"
	abusedomain "github.com/novastate/novacore/internal/abuse/domain"
	creditdomain "github.com/novastate/novacore/internal/credit/domain"
	ledgerdomain "github.com/novastate/novacore/internal/ledger/domain"
	"github.com/novastate/novacore/internal/quest/domain"
	"github.com/novastate/novacore/internal/rules"
)

// TopicQuestResolved receives an event whenever a quest reaches a terminal
// state other than EXPIRED.
const TopicQuestResolved = "nova.quest.resolved"

const (
	questTTL = 24 * time.Hour

	sourceQuestReward       = "quest_reward"
	sourceQuestHITLApproved = "quest_hitl_approved"

	rejectSeverityAuto = 2.0
	rejectSeverityHITL = 5.0

	referenceTypeQuest = "USER_QUEST"
)

var nowFunc = time.Now

type Ledger interface {
	Apply(ctx context.Context, legs []ledgerdomain.Leg, asset, sourceApp string, ref ledgerdomain.Reference) (string, error)
}

type CreditEngine interface {
	ProcessEvent(ctx context.Context, event creditdomain.BehaviorEvent) (*creditdomain.ProcessResult, error)
}

type AbuseGuard interface {
	RiskScore(ctx context.Context, userID uint64) float64
	RegisterEvent(ctx context.Context, userID uint64, signalType abusedomain.SignalType, severity float64, meta map[string]any) (*abusedomain.Profile, error)
}

type TxManager interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service drives the daily quest lifecycle: assignment, proof submission,
// HITL arbitration and expiry.
type Service struct {
	quests    domain.QuestRepository
	counters  domain.CounterRepository
	txm       TxManager
	ledger    Ledger
	credit    CreditEngine
	guard     AbuseGuard
	publisher domain.EventPublisher
	rules     *rules.Handle
	policy    *rules.Policy
	logger    *slog.Logger
}

func NewService(
	quests domain.QuestRepository,
	counters domain.CounterRepository,
	txm TxManager,
	ledger Ledger,
	credit CreditEngine,
	guard AbuseGuard,
	publisher domain.EventPublisher,
	rulesHandle *rules.Handle,
	policy *rules.Policy,
	logger *slog.Logger,
) *Service {
	return &Service{
		quests:    quests,
		counters:  counters,
		txm:       txm,
		ledger:    ledger,
		credit:    credit,
		guard:     guard,
		publisher: publisher,
		rules:     rulesHandle,
		policy:    policy,
		logger:    logger,
	}
}

// EnsureDailyQuests returns today's quests for the user, assigning one per
// slot on first call. Repeat calls within the same day return the same rows,
// including any already resolved.
func (s *Service) EnsureDailyQuests(ctx context.Context, userID uint64) ([]*domain.UserQuest, error) {
	now := nowFunc().UTC()
	day := now.Format("2006-01-02")

	existing, err := s.quests.ListByUserAndDay(ctx, userID, day)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	snapshot := s.rules.Current()
	var assigned []*domain.UserQuest
	for _, slot := range rules.QuestSlots {
		def, ok, err := s.pickDefinition(ctx, snapshot, userID, slot, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.logger.Warn("no eligible quest definition for slot", "user_id", userID, "slot", slot)
			continue
		}
		assigned = append(assigned, &domain.UserQuest{
			UserID:        userID,
			QuestUUID:     uuid.NewString(),
			QuestID:       def.QuestID,
			Slot:          slot,
			SlotKey:       domain.SlotKeyFor(now, slot),
			Title:         def.Title,
			Description:   def.Description,
			Status:        domain.StatusAssigned,
			BaseRewardNCR: def.BaseRewardNCR,
			BaseRewardXP:  def.BaseRewardXP,
			ProofType:     def.ProofType,
			AssignedAt:    now,
			ExpiresAt:     now.Add(questTTL),
		})
	}
	if len(assigned) == 0 {
		return nil, nil
	}

	err = s.txm.Transaction(ctx, func(txCtx context.Context) error {
		return s.quests.Create(txCtx, assigned)
	})
	if err != nil {
		// A concurrent call won the slot-key race. Its rows are ours too.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return s.quests.ListByUserAndDay(ctx, userID, day)
		}
		return nil, err
	}

	s.logger.Info("daily quests assigned", "user_id", userID, "day", day, "count", len(assigned))
	return assigned, nil
}

// pickDefinition rotates through the slot's catalogue by day so users see
// variety, skipping one-time quests the user already completed.
func (s *Service) pickDefinition(ctx context.Context, snapshot *rules.Snapshot, userID uint64, slot rules.QuestSlot, now time.Time) (rules.QuestDefinition, bool, error) {
	defs := snapshot.DefinitionsBySlot(slot)
	var eligible []rules.QuestDefinition
	for _, def := range defs {
		if def.OneTimeOnly {
			done, err := s.quests.HasCompleted(ctx, userID, def.QuestID)
			if err != nil {
				return rules.QuestDefinition{}, false, err
			}
			if done {
				continue
			}
		}
		eligible = append(eligible, def)
	}
	if len(eligible) == 0 {
		return rules.QuestDefinition{}, false, nil
	}
	dayOrdinal := int(now.Unix() / 86400)
	return eligible[dayOrdinal%len(eligible)], true, nil
}

// ListActive returns the user's non-terminal quests.
func (s *Service) ListActive(ctx context.Context, userID uint64) ([]*domain.UserQuest, error) {
	return s.quests.ListActiveByUser(ctx, userID)
}

// ListReviewQueue returns quests awaiting a moderator decision.
func (s *Service) ListReviewQueue(ctx context.Context, limit int) ([]*domain.UserQuest, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.quests.ListUnderReview(ctx, limit)
}

// SubmitProofCommand carries one proof submission.
type SubmitProofCommand struct {
	UserID    uint64
	QuestUUID string
	ProofType rules.ProofType
	ProofRef  string
	AIScore   *int
	Source    string
	Meta      map[string]any
}

// SubmitProof validates the proof, scores it, computes the damped and capped
// reward, and routes the quest to auto approval, auto rejection or the HITL
// queue. The whole decision commits as one transaction.
func (s *Service) SubmitProof(ctx context.Context, cmd SubmitProofCommand) (*domain.UserQuest, error) {
	snapshot := s.rules.Current()

	var quest *domain.UserQuest
	err := s.txm.Transaction(ctx, func(txCtx context.Context) error {
		var err error
		quest, err = s.quests.GetByUUIDForUpdate(txCtx, cmd.QuestUUID)
		if err != nil {
			return err
		}
		if quest == nil || quest.UserID != cmd.UserID {
			return domain.ErrNotFound
		}
		if quest.Status != domain.StatusAssigned {
			return fmt.Errorf("%w: quest is %s", domain.ErrInvalidState, quest.Status)
		}

		now := nowFunc().UTC()
		if now.After(quest.ExpiresAt) {
			quest.Status = domain.StatusExpired
			if err := s.quests.Save(txCtx, quest); err != nil {
				return err
			}
			return domain.ErrExpired
		}

		def, ok := snapshot.Definition(quest.QuestID)
		if !ok {
			return fmt.Errorf("%w: quest definition %s missing from catalogue", domain.ErrValidation, quest.QuestID)
		}
		if err := validateProof(def, cmd.ProofType, cmd.ProofRef); err != nil {
			return err
		}

		quality := scoreProof(def.Scoring, cmd.ProofRef)
		if cmd.AIScore != nil {
			quality = clampInt(*cmd.AIScore, 0, 100)
		}
		risk := s.guard.RiskScore(txCtx, cmd.UserID)
		edge := houseEdge(quality, risk)

		finalNCR, cappedNCR, err := s.applyTreasuryCap(txCtx, quest.BaseRewardNCR, edge, now)
		if err != nil {
			return err
		}
		finalXP := int(math.Round(float64(quest.BaseRewardXP) * edge))

		quest.FinalScore = &quality
		quest.AbuseRiskSnapshot = &risk
		quest.HouseEdgeSnapshot = &edge
		quest.FinalRewardNCR = &finalNCR
		quest.FinalRewardXP = &finalXP
		quest.CappedNCR = &cappedNCR
		quest.ProofRef = &cmd.ProofRef
		quest.SubmittedAt = &now
		if cmd.Meta != nil {
			quest.Metadata = cmd.Meta
		}

		switch {
		case float64(quality) >= s.policy.AutoApproveThreshold &&
			risk < s.policy.RiskBlockThreshold && !def.ForceReview:
			quest.Status = domain.StatusApproved
			quest.ResolvedAt = &now
			if err := s.payReward(txCtx, quest, def, sourceQuestReward, cmd.Source); err != nil {
				return err
			}
			if err := s.commitIssuance(txCtx, finalNCR, now); err != nil {
				return err
			}
		case float64(quality) < s.policy.AutoRejectThreshold:
			quest.Status = domain.StatusRejected
			quest.ResolvedAt = &now
			if _, err := s.guard.RegisterEvent(txCtx, cmd.UserID, abusedomain.SignalManualFlag, rejectSeverityAuto,
				map[string]any{"quest_uuid": quest.QuestUUID, "quality": quality}); err != nil {
				return err
			}
		default:
			quest.Status = domain.StatusUnderReview
		}

		if err := s.quests.Save(txCtx, quest); err != nil {
			return err
		}
		if quest.Status.Terminal() {
			return s.publishResolved(txCtx, quest)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("quest proof submitted",
		"user_id", cmd.UserID,
		"quest_uuid", quest.QuestUUID,
		"status", quest.Status,
		"quality", deref(quest.FinalScore),
		"final_ncr", decimalOrZero(quest.FinalRewardNCR),
		"capped_ncr", decimalOrZero(quest.CappedNCR))
	return quest, nil
}

// Decide resolves an UNDER_REVIEW quest. Approval pays the snapshotted reward
// and posts the XP event; rejection feeds a moderate abuse signal.
func (s *Service) Decide(ctx context.Context, questID uint, adminID uint64, decision domain.Status, reason *string) (*domain.UserQuest, error) {
	if decision != domain.StatusApproved && decision != domain.StatusRejected {
		return nil, fmt.Errorf("%w: decision must be APPROVED or REJECTED", domain.ErrValidation)
	}

	snapshot := s.rules.Current()
	var quest *domain.UserQuest
	err := s.txm.Transaction(ctx, func(txCtx context.Context) error {
		var err error
		quest, err = s.quests.GetByIDForUpdate(txCtx, questID)
		if err != nil {
			return err
		}
		if quest == nil {
			return domain.ErrNotFound
		}
		if quest.Status != domain.StatusUnderReview {
			return fmt.Errorf("%w: quest is %s", domain.ErrInvalidState, quest.Status)
		}

		now := nowFunc().UTC()
		quest.Status = decision
		quest.DecidedBy = &adminID
		quest.DecisionReason = reason
		quest.ResolvedAt = &now

		if decision == domain.StatusApproved {
			def, ok := snapshot.Definition(quest.QuestID)
			if !ok {
				return fmt.Errorf("%w: quest definition %s missing from catalogue", domain.ErrValidation, quest.QuestID)
			}
			if err := s.payReward(txCtx, quest, def, sourceQuestHITLApproved, sourceQuestHITLApproved); err != nil {
				return err
			}
			if err := s.commitIssuance(txCtx, decimalOrZero(quest.FinalRewardNCR), now); err != nil {
				return err
			}
		} else {
			if _, err := s.guard.RegisterEvent(txCtx, quest.UserID, abusedomain.SignalManualFlag, rejectSeverityHITL,
				map[string]any{"quest_uuid": quest.QuestUUID, "admin_id": adminID}); err != nil {
				return err
			}
		}

		if err := s.quests.Save(txCtx, quest); err != nil {
			return err
		}
		return s.publishResolved(txCtx, quest)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("quest decided",
		"quest_id", questID,
		"quest_uuid", quest.QuestUUID,
		"admin_id", adminID,
		"decision", decision)
	return quest, nil
}

// ExpireOverdue sweeps ASSIGNED quests past their TTL into EXPIRED.
func (s *Service) ExpireOverdue(ctx context.Context) (int64, error) {
	count, err := s.quests.ExpireOverdue(ctx, nowFunc().UTC())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.logger.Info("expired overdue quests", "count", count)
	}
	return count, nil
}

// RunExpirySweeper loops ExpireOverdue until ctx is cancelled.
func (s *Service) RunExpirySweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ExpireOverdue(ctx); err != nil {
				s.logger.Error("quest expiry sweep failed", "error", err)
			}
		}
	}
}

// applyTreasuryCap locks today's issuance counter, projects the damped reward
// on top of what is already minted, and returns the capped final amount plus
// the portion withheld by the cap. The counter itself is only advanced when
// the reward commits.
func (s *Service) applyTreasuryCap(ctx context.Context, base decimal.Decimal, edge float64, now time.Time) (finalNCR, cappedNCR decimal.Decimal, err error) {
	damped := base.Mul(decimal.NewFromFloat(edge)).RoundBank(8)
	if !damped.IsPositive() {
		return decimal.Zero, decimal.Zero, nil
	}

	counter, err := s.getOrCreateCounter(ctx, now)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	projected := counter.IssuedNCR.Add(damped)
	ratio, _ := projected.Div(s.policy.TreasuryDailyLimit).Float64()
	mult := capMultiplier(ratio)
	finalNCR = damped.Mul(decimal.NewFromFloat(mult)).RoundBank(8)
	cappedNCR = damped.Sub(finalNCR)
	if mult < 1.0 {
		s.logger.Warn("quest reward capped by daily treasury limit",
			"issued", counter.IssuedNCR, "projected", projected, "multiplier", mult)
	}
	return finalNCR, cappedNCR, nil
}

// commitIssuance adds the minted amount to today's locked counter.
func (s *Service) commitIssuance(ctx context.Context, minted decimal.Decimal, now time.Time) error {
	if !minted.IsPositive() {
		return nil
	}
	counter, err := s.getOrCreateCounter(ctx, now)
	if err != nil {
		return err
	}
	counter.IssuedNCR = counter.IssuedNCR.Add(minted)
	return s.counters.Save(ctx, counter)
}

func (s *Service) getOrCreateCounter(ctx context.Context, now time.Time) (*domain.DailyCounter, error) {
	day := now.Format("2006-01-02")
	counter, err := s.counters.GetForUpdate(ctx, day)
	if err != nil {
		return nil, err
	}
	if counter == nil {
		counter = &domain.DailyCounter{Day: day, IssuedNCR: decimal.Zero}
		if err := s.counters.Save(ctx, counter); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return s.counters.GetForUpdate(ctx, day)
			}
			return nil, err
		}
	}
	return counter, nil
}

// payReward mints finalNCR to the user from the treasury account and posts
// the XP behavior event through the credit engine.
func (s *Service) payReward(ctx context.Context, quest *domain.UserQuest, def rules.QuestDefinition, ledgerSource, eventSource string) error {
	finalNCR := decimalOrZero(quest.FinalRewardNCR)
	if finalNCR.IsPositive() {
		legs := []ledgerdomain.Leg{
			{
				Target: ledgerdomain.UserRef(quest.UserID),
				Amount: finalNCR,
				Kind:   ledgerdomain.EntryEarn,
			},
			{
				Target: ledgerdomain.UserRef(s.policy.TreasuryUserID),
				Amount: finalNCR.Neg(),
				Kind:   ledgerdomain.EntrySpend,
			},
		}
		ref := ledgerdomain.Reference{ID: quest.QuestUUID, Type: referenceTypeQuest}
		if _, err := s.ledger.Apply(ctx, legs, ledgerdomain.AssetNCR, ledgerSource, ref); err != nil {
			return err
		}
	}

	finalXP := deref(quest.FinalRewardXP)
	if finalXP > 0 {
		eventID := "quest:" + quest.QuestUUID
		_, err := s.credit.ProcessEvent(ctx, creditdomain.BehaviorEvent{
			ActorID:   quest.UserID,
			EventType: "QUEST_COMPLETED",
			Category:  def.ScoreCategory,
			BaseDelta: finalXP,
			SourceApp: eventSource,
			Reason:    "quest reward: " + quest.Title,
			EventID:   &eventID,
			Context:   map[string]any{"quest_uuid": quest.QuestUUID, "quest_id": quest.QuestID},
		})
		if err != nil && !errors.Is(err, creditdomain.ErrDuplicate) {
			return err
		}
	}
	return nil
}

func (s *Service) publishResolved(ctx context.Context, quest *domain.UserQuest) error {
	event := map[string]any{
		"quest_uuid":  quest.QuestUUID,
		"quest_id":    quest.QuestID,
		"user_id":     quest.UserID,
		"slot":        quest.Slot,
		"status":      quest.Status,
		"final_score": quest.FinalScore,
		"final_ncr":   quest.FinalRewardNCR,
		"final_xp":    quest.FinalRewardXP,
		"capped_ncr":  quest.CappedNCR,
		"resolved_at": quest.ResolvedAt,
	}
	return s.publisher.PublishInTx(ctx, contextx.GetTx(ctx), TopicQuestResolved, quest.QuestUUID, event)
}

func validateProof(def rules.QuestDefinition, proofType rules.ProofType, proofRef string) error {
	if proofType != def.ProofType {
		return fmt.Errorf("%w: expected proof type %s, got %s", domain.ErrValidation, def.ProofType, proofType)
	}
	trimmed := strings.TrimSpace(proofRef)
	if len(trimmed) < def.ProofMinLen {
		return fmt.Errorf("%w: proof must be at least %d characters", domain.ErrValidation, def.ProofMinLen)
	}
	if def.ProofType == rules.ProofLink &&
		!strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		return fmt.Errorf("%w: link proof must be an http(s) URL", domain.ErrValidation)
	}
	return nil
}

// scoreProof is the rule-based fallback scorer used when the caller supplies
// no quality score.
func scoreProof(scoring rules.AIScoring, proofRef string) int {
	score := scoring.BaseScore
	if scoring.LengthTarget > 0 {
		frac := float64(len(proofRef)) / float64(scoring.LengthTarget)
		if frac > 1 {
			frac = 1
		}
		score += scoring.LengthBonus * frac
	}
	lower := strings.ToLower(proofRef)
	for _, kw := range scoring.Keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			score += scoring.KeywordBonus
		}
	}
	return clampInt(int(math.Round(score)), 0, 100)
}

// houseEdge combines proof quality and abuse risk into the reward fraction.
func houseEdge(quality int, risk float64) float64 {
	var qualityMult float64
	switch {
	case quality >= 70:
		qualityMult = 1.0
	case quality >= 50:
		qualityMult = 0.9
	case quality >= 30:
		qualityMult = 0.75
	default:
		qualityMult = 0.5
	}
	return qualityMult * (1 - abuseapp.RiskFactor(risk))
}

// capMultiplier steps the reward down as projected daily issuance approaches
// and passes the limit.
func capMultiplier(ratio float64) float64 {
	switch {
	case ratio < 0.70:
		return 1.0
	case ratio <= 0.85:
		return 0.8
	case ratio <= 0.95:
		return 0.6
	case ratio <= 1.0:
		return 0.3
	case ratio <= 1.1:
		return 0.1
	default:
		return 0.05
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

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func decimalOrZero(p *decimal.Decimal) decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	return *p
}
