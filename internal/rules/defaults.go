package rules

import "github.com/shopspring/decimal"

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// DefaultSnapshot builds the built-in rule set. A reload path may parse the
// same structure from configuration and Swap it in.
func DefaultSnapshot() *Snapshot {
	return &Snapshot{
		CategoryWeights:   defaultCategoryWeights(),
		EventTypeMappings: defaultEventTypeMappings(),
		TierPrivileges:    defaultTierPrivileges(),
		Treasury:          defaultTreasuryConfig(),
		QuestCatalogue:    defaultQuestCatalogue(),
	}
}

func defaultCategoryWeights() map[EventCategory]CategoryWeight {
	return map[EventCategory]CategoryWeight{
		CategoryEconomic:       {Weight: 1.0, RiskImpact: 0, ReputationImpact: 0.001},
		CategorySocialPositive: {Weight: 1.2, RiskImpact: -0.005, ReputationImpact: 0.005},
		CategorySocialNegative: {Weight: -1.5, RiskImpact: 0.01, ReputationImpact: -0.01},
		CategoryCivic:          {Weight: 1.5, RiskImpact: -0.01, ReputationImpact: 0.01},
		CategoryCreative:       {Weight: 1.3, RiskImpact: 0, ReputationImpact: 0.005},
		CategoryIntegrity:      {Weight: 1.4, RiskImpact: -0.02, ReputationImpact: 0.01},
		CategoryRiskNegative:   {Weight: -2.0, RiskImpact: 0.05, ReputationImpact: -0.02},
	}
}

func defaultEventTypeMappings() map[string]EventMapping {
	return map[string]EventMapping{
		"TIP_SENT":           {Category: CategoryEconomic, BaseDelta: 1},
		"PURCHASE_COMPLETED": {Category: CategoryEconomic, BaseDelta: 2},
		"SUBSCRIPTION_PAID":  {Category: CategoryEconomic, BaseDelta: 3},
		"CONTENT_PUBLISHED":  {Category: CategoryCreative, BaseDelta: 3},
		"ROOM_HOSTED":        {Category: CategorySocialPositive, BaseDelta: 2},
		"HELPFUL_VOTE":       {Category: CategorySocialPositive, BaseDelta: 1},
		"REPORT_CONFIRMED":   {Category: CategoryCivic, BaseDelta: 5},
		"QUEST_COMPLETED":    {Category: CategoryIntegrity, BaseDelta: 2},
		// Negative categories carry the sign in their weight; base deltas
		// here stay positive magnitudes.
		"CHARGEBACK":     {Category: CategoryRiskNegative, BaseDelta: 10},
		"SPAM_DETECTED":  {Category: CategorySocialNegative, BaseDelta: 5},
		"RULE_VIOLATION": {Category: CategoryRiskNegative, BaseDelta: 8},
	}
}

func defaultTierPrivileges() map[Tier]TierPrivileges {
	return map[Tier]TierPrivileges{
		TierGhost: {
			WithdrawLimitDaily: d("0"),
			TransferLimitDaily: d("10"),
		},
		TierGrey: {
			WithdrawLimitDaily: d("50"),
			TransferLimitDaily: d("100"),
			AIModelTier:        "basic",
		},
		TierSolid: {
			WithdrawLimitDaily: d("500"),
			TransferLimitDaily: d("1000"),
			CanCreateContent:   true,
			AIModelTier:        "standard",
		},
		TierElite: {
			WithdrawLimitDaily:     d("5000"),
			TransferLimitDaily:     d("10000"),
			CanCreateContent:       true,
			CanHostRooms:           true,
			PrioritySupport:        true,
			AIModelTier:            "advanced",
			TransactionFeeDiscount: 0.25,
		},
		TierLegend: {
			WithdrawLimitDaily:     d("50000"),
			TransferLimitDaily:     d("100000"),
			CanCreateContent:       true,
			CanHostRooms:           true,
			PrioritySupport:        true,
			AIModelTier:            "frontier",
			TransactionFeeDiscount: 0.5,
		},
	}
}

func defaultTreasuryConfig() TreasuryConfig {
	defaultSplit := SplitConfig{
		TaxRate: d("0.20"),
		Split: map[Pool]decimal.Decimal{
			PoolGrowth:        d("0.40"),
			PoolPerformerPool: d("0.30"),
			PoolDevFund:       d("0.20"),
			PoolBurn:          d("0.10"),
		},
	}
	return TreasuryConfig{
		Default: defaultSplit,
		Overrides: map[string]SplitConfig{
			"FLIRTMARKET:SUBSCRIPTION": {
				TaxRate: d("0.25"),
				Split: map[Pool]decimal.Decimal{
					PoolGrowth:        d("0.50"),
					PoolPerformerPool: d("0.20"),
					PoolDevFund:       d("0.20"),
					PoolBurn:          d("0.10"),
				},
			},
			"ARENA:ENTRY_FEE": {
				TaxRate: d("0.30"),
				Split: map[Pool]decimal.Decimal{
					PoolGrowth:        d("0.30"),
					PoolPerformerPool: d("0.40"),
					PoolDevFund:       d("0.10"),
					PoolBurn:          d("0.20"),
				},
			},
		},
	}
}

func defaultQuestCatalogue() []QuestDefinition {
	return []QuestDefinition{
		{
			QuestID:       "money_first_tip",
			Slot:          SlotMoney,
			Title:         "Send your first tip",
			Description:   "Tip any performer at least 1 NCR and link the receipt.",
			ProofType:     ProofLink,
			ProofMinLen:   8,
			BaseRewardNCR: d("5"),
			BaseRewardXP:  25,
			OneTimeOnly:   true,
			ScoreCategory: CategoryEconomic,
			Scoring:       AIScoring{BaseScore: 40, LengthTarget: 64, LengthBonus: 30, Keywords: []string{"tip", "ncr"}, KeywordBonus: 15},
		},
		{
			QuestID:       "money_daily_spend",
			Slot:          SlotMoney,
			Title:         "Keep the economy moving",
			Description:   "Complete any purchase today and attach the order reference.",
			ProofType:     ProofLink,
			ProofMinLen:   8,
			BaseRewardNCR: d("3"),
			BaseRewardXP:  15,
			ScoreCategory: CategoryEconomic,
			Scoring:       AIScoring{BaseScore: 45, LengthTarget: 48, LengthBonus: 30, Keywords: []string{"order"}, KeywordBonus: 20},
		},
		{
			QuestID:       "skill_publish",
			Slot:          SlotSkill,
			Title:         "Publish something",
			Description:   "Publish a piece of content and describe what you made.",
			ProofType:     ProofText,
			ProofMinLen:   32,
			BaseRewardNCR: d("4"),
			BaseRewardXP:  20,
			ScoreCategory: CategoryCreative,
			Scoring:       AIScoring{BaseScore: 35, LengthTarget: 200, LengthBonus: 40, Keywords: []string{"published", "created"}, KeywordBonus: 10},
		},
		{
			QuestID:       "skill_teach",
			Slot:          SlotSkill,
			Title:         "Teach a citizen",
			Description:   "Help another citizen learn something and summarize the session.",
			ProofType:     ProofText,
			ProofMinLen:   48,
			BaseRewardNCR: d("6"),
			BaseRewardXP:  30,
			ForceReview:   true,
			ScoreCategory: CategorySocialPositive,
			Scoring:       AIScoring{BaseScore: 30, LengthTarget: 240, LengthBonus: 40, Keywords: []string{"helped", "taught"}, KeywordBonus: 15},
		},
		{
			QuestID:       "integrity_report",
			Slot:          SlotIntegrity,
			Title:         "Flag a violation",
			Description:   "Report a rule violation with enough detail to act on.",
			ProofType:     ProofText,
			ProofMinLen:   24,
			BaseRewardNCR: d("2"),
			BaseRewardXP:  20,
			ScoreCategory: CategoryCivic,
			Scoring:       AIScoring{BaseScore: 40, LengthTarget: 160, LengthBonus: 35, Keywords: []string{"report", "violation"}, KeywordBonus: 12},
		},
		{
			QuestID:       "integrity_verify",
			Slot:          SlotIntegrity,
			Title:         "Verify your profile",
			Description:   "Complete profile verification and attach the confirmation.",
			ProofType:     ProofScreenshot,
			ProofMinLen:   8,
			BaseRewardNCR: d("10"),
			BaseRewardXP:  50,
			OneTimeOnly:   true,
			ScoreCategory: CategoryIntegrity,
			Scoring:       AIScoring{BaseScore: 50, LengthTarget: 32, LengthBonus: 25, Keywords: []string{"verified"}, KeywordBonus: 25},
		},
	}
}
