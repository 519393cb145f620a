// Package rules holds the behavioral and economic rule set of the state:
// category weights, event type mappings, tier privileges, treasury split
// configuration and the daily quest catalogue. The whole set is an immutable
// Snapshot swapped atomically on reload, so engines never observe a half
// updated rule table.
package rules

import (
	"strings"
	"sync/atomic"

	"github.com/shopspring/decimal"
)

// EventCategory classifies behavior events for score weighting.
type EventCategory string

const (
	CategoryEconomic       EventCategory = "ECONOMIC"
	CategorySocialPositive EventCategory = "SOCIAL_POSITIVE"
	CategorySocialNegative EventCategory = "SOCIAL_NEGATIVE"
	CategoryCivic          EventCategory = "CIVIC"
	CategoryCreative       EventCategory = "CREATIVE"
	CategoryIntegrity      EventCategory = "INTEGRITY"
	CategoryRiskNegative   EventCategory = "RISK_NEGATIVE"
)

// CategoryWeight describes how one event category moves the citizen score
// and its risk/reputation side channels.
type CategoryWeight struct {
	Weight           float64
	RiskImpact       float64
	ReputationImpact float64
}

// EventMapping resolves a raw event type to a category and base delta.
type EventMapping struct {
	Category  EventCategory
	BaseDelta int
}

// Tier buckets of the nova credit range.
type Tier string

const (
	TierGhost  Tier = "GHOST"
	TierGrey   Tier = "GREY"
	TierSolid  Tier = "SOLID"
	TierElite  Tier = "ELITE"
	TierLegend Tier = "LEGEND"
)

// tierBound is the inclusive lower bound of each tier, ascending.
type tierBound struct {
	Tier Tier
	Min  int
}

var tierBounds = []tierBound{
	{TierGhost, 0},
	{TierGrey, 200},
	{TierSolid, 400},
	{TierElite, 700},
	{TierLegend, 900},
}

// TierOf maps a nova credit value to its tier.
func TierOf(score int) Tier {
	tier := TierGhost
	for _, b := range tierBounds {
		if score >= b.Min {
			tier = b.Tier
		}
	}
	return tier
}

// NextTier returns the next tier above t and its lower bound.
// For the top tier it returns ("", 0, false).
func NextTier(t Tier) (Tier, int, bool) {
	for i, b := range tierBounds {
		if b.Tier == t && i+1 < len(tierBounds) {
			return tierBounds[i+1].Tier, tierBounds[i+1].Min, true
		}
	}
	return "", 0, false
}

// TierFloor returns the inclusive lower bound of a tier.
func TierFloor(t Tier) int {
	for _, b := range tierBounds {
		if b.Tier == t {
			return b.Min
		}
	}
	return 0
}

// TierPrivileges lists the per-tier entitlements.
type TierPrivileges struct {
	WithdrawLimitDaily     decimal.Decimal `json:"withdraw_limit_daily"`
	TransferLimitDaily     decimal.Decimal `json:"transfer_limit_daily"`
	CanCreateContent       bool            `json:"can_create_content"`
	CanHostRooms           bool            `json:"can_host_rooms"`
	PrioritySupport        bool            `json:"priority_support"`
	AIModelTier            string          `json:"ai_model_tier"`
	TransactionFeeDiscount float64         `json:"transaction_fee_discount"`
}

// Pool identifies a tax destination pool.
type Pool string

const (
	PoolGrowth        Pool = "GROWTH"
	PoolPerformerPool Pool = "PERFORMER_POOL"
	PoolDevFund       Pool = "DEV_FUND"
	PoolBurn          Pool = "BURN"
)

// SplitConfig is one resolved treasury split: a tax rate plus the pool
// ratios the tax is divided into. Ratios sum to 1.
type SplitConfig struct {
	TaxRate decimal.Decimal
	Split   map[Pool]decimal.Decimal
}

// TreasuryConfig carries the default split and per (app, kind) overrides,
// keyed by the uppercased "APP:KIND" tuple.
type TreasuryConfig struct {
	Default   SplitConfig
	Overrides map[string]SplitConfig
}

// Resolve returns the split config for (app, kind). The second return is
// false when no override matched and the default was used.
func (c TreasuryConfig) Resolve(app, kind string) (SplitConfig, bool) {
	key := strings.ToUpper(app) + ":" + strings.ToUpper(kind)
	if cfg, ok := c.Overrides[key]; ok {
		return cfg, true
	}
	return c.Default, false
}

// QuestSlot is one of the three daily quest slots.
type QuestSlot string

const (
	SlotMoney     QuestSlot = "MONEY"
	SlotSkill     QuestSlot = "SKILL"
	SlotIntegrity QuestSlot = "INTEGRITY"
)

// QuestSlots in assignment order.
var QuestSlots = []QuestSlot{SlotMoney, SlotSkill, SlotIntegrity}

// ProofType constrains what a quest submission must attach.
type ProofType string

const (
	ProofText       ProofType = "TEXT"
	ProofLink       ProofType = "LINK"
	ProofScreenshot ProofType = "SCREENSHOT"
)

// AIScoring is the rule-based fallback scorer for a quest definition, used
// when the caller supplies no model score.
type AIScoring struct {
	// BaseScore is awarded for any structurally valid proof.
	BaseScore float64
	// LengthTarget is the proof length at which the length bonus saturates.
	LengthTarget int
	// LengthBonus is the maximum bonus granted for proof length.
	LengthBonus float64
	// Keywords each add KeywordBonus when present in the proof.
	Keywords     []string
	KeywordBonus float64
}

// QuestDefinition is one entry of the static quest catalogue.
type QuestDefinition struct {
	QuestID       string
	Slot          QuestSlot
	Title         string
	Description   string
	ProofType     ProofType
	ProofMinLen   int
	BaseRewardNCR decimal.Decimal
	BaseRewardXP  int
	OneTimeOnly   bool
	ForceReview   bool
	// ScoreCategory classifies the behavior event posted on completion.
	ScoreCategory EventCategory
	Scoring       AIScoring
}

// Snapshot is one immutable rule set. Engines hold a *Handle and read the
// current snapshot per operation.
type Snapshot struct {
	CategoryWeights   map[EventCategory]CategoryWeight
	EventTypeMappings map[string]EventMapping
	TierPrivileges    map[Tier]TierPrivileges
	Treasury          TreasuryConfig
	QuestCatalogue    []QuestDefinition
}

// CategoryWeightOf resolves a category weight. Unknown categories fall back
// to ECONOMIC; the second return reports whether the lookup hit.
func (s *Snapshot) CategoryWeightOf(category EventCategory) (CategoryWeight, bool) {
	if w, ok := s.CategoryWeights[category]; ok {
		return w, true
	}
	return s.CategoryWeights[CategoryEconomic], false
}

// MappingOf resolves an event type mapping. Unmapped types default to
// (ECONOMIC, +1); the second return reports whether the lookup hit.
func (s *Snapshot) MappingOf(eventType string) (EventMapping, bool) {
	if m, ok := s.EventTypeMappings[eventType]; ok {
		return m, true
	}
	return EventMapping{Category: CategoryEconomic, BaseDelta: 1}, false
}

// DefinitionsBySlot returns the catalogue entries for one slot.
func (s *Snapshot) DefinitionsBySlot(slot QuestSlot) []QuestDefinition {
	var defs []QuestDefinition
	for _, d := range s.QuestCatalogue {
		if d.Slot == slot {
			defs = append(defs, d)
		}
	}
	return defs
}

// Definition looks up a catalogue entry by quest id.
func (s *Snapshot) Definition(questID string) (QuestDefinition, bool) {
	for _, d := range s.QuestCatalogue {
		if d.QuestID == questID {
			return d, true
		}
	}
	return QuestDefinition{}, false
}

// Handle is an atomically swappable pointer to the current Snapshot.
type Handle struct {
	ptr atomic.Pointer[Snapshot]
}

// NewHandle creates a handle seeded with the given snapshot.
func NewHandle(s *Snapshot) *Handle {
	h := &Handle{}
	h.ptr.Store(s)
	return h
}

// Current returns the live snapshot.
func (h *Handle) Current() *Snapshot { return h.ptr.Load() }

// Swap installs a new snapshot atomically.
func (h *Handle) Swap(s *Snapshot) { h.ptr.Store(s) }
