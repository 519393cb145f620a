package domain

import "github.com/novastate/novacore/internal/rules"

// BehaviorEvent is one scored citizen action.
type BehaviorEvent struct {
	ActorID   uint64
	EventType string
	Category  rules.EventCategory
	BaseDelta int
	SourceApp string
	Reason    string
	// EventID is the caller's dedupe reference. Events sharing
	// (SourceApp, EventID) are processed once.
	EventID *string
	Context map[string]any
}

// ProcessResult reports how one event moved the aggregate.
type ProcessResult struct {
	UserID           uint64     `json:"user_id"`
	Delta            int        `json:"delta"`
	OldScore         int        `json:"old_score"`
	NewScore         int        `json:"new_score"`
	OldTier          rules.Tier `json:"old_tier"`
	NewTier          rules.Tier `json:"new_tier"`
	TierChanged      bool       `json:"tier_changed"`
	StreakMultiplier float64    `json:"streak_multiplier"`
	Message          string     `json:"message,omitempty"`
}
