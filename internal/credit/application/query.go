package application

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/novastate/novacore/internal/credit/domain"
	"github.com/novastate/novacore/internal/rules"
)

// LeaderboardCache fronts the ranked read with a short-TTL cache.
type LeaderboardCache interface {
	Get(ctx context.Context, key string) ([]domain.LeaderboardEntry, bool)
	Set(ctx context.Context, key string, entries []domain.LeaderboardEntry)
}

// CreditProfile is the citizen-facing read model.
type CreditProfile struct {
	UserID           uint64                  `json:"user_id"`
	NovaCredit       int                     `json:"nova_credit"`
	Tier             rules.Tier              `json:"tier"`
	RiskScore        float64                 `json:"risk_score"`
	ReputationScore  float64                 `json:"reputation_score"`
	PositiveStreak   int                     `json:"positive_streak"`
	NegativeStreak   int                     `json:"negative_streak"`
	TotalPositive    int64                   `json:"total_positive"`
	TotalNegative    int64                   `json:"total_negative"`
	RiskLevel        domain.RiskFlagSeverity `json:"risk_level"`
	Privileges       rules.TierPrivileges    `json:"privileges"`
	ProgressToNext   float64                 `json:"progress_to_next_tier"`
	NextTier         rules.Tier              `json:"next_tier,omitempty"`
	CreditToNextTier int                     `json:"credit_to_next_tier"`
	LastPositiveAt   *time.Time              `json:"last_positive_at,omitempty"`
	LastNegativeAt   *time.Time              `json:"last_negative_at,omitempty"`
	CreatedAt        time.Time               `json:"created_at"`
	UpdatedAt        time.Time               `json:"updated_at"`
}

// Stats is the admin aggregate payload.
type Stats struct {
	Citizens         int64                             `json:"citizens"`
	TierDistribution []domain.TierDistribution         `json:"tier_distribution"`
	RiskBuckets      map[domain.RiskFlagSeverity]int64 `json:"risk_buckets"`
	EventsLast24h    int64                             `json:"events_last_24h"`
	EventsLast7d     int64                             `json:"events_last_7d"`
	AtRiskCitizens   int64                             `json:"at_risk_citizens"`
	GhostCitizens    int64                             `json:"ghost_citizens"`
	MedianNovaCredit float64                           `json:"median_nova_credit"`
}

// QueryService serves the credit read endpoints.
type QueryService struct {
	scores  domain.ScoreRepository
	changes domain.ChangeRepository
	flags   domain.FlagRepository
	users   domain.UserDirectory
	cache   LeaderboardCache
	rules   *rules.Handle
	logger  *slog.Logger
}

func NewQueryService(
	scores domain.ScoreRepository,
	changes domain.ChangeRepository,
	flags domain.FlagRepository,
	users domain.UserDirectory,
	cache LeaderboardCache,
	rulesHandle *rules.Handle,
	logger *slog.Logger,
) *QueryService {
	return &QueryService{
		scores:  scores,
		changes: changes,
		flags:   flags,
		users:   users,
		cache:   cache,
		rules:   rulesHandle,
		logger:  logger.With("module", "credit_query"),
	}
}

// GetProfile returns the credit profile, materializing the default aggregate
// for citizens without events yet.
func (s *QueryService) GetProfile(ctx context.Context, userID uint64) (*CreditProfile, error) {
	score, err := s.scores.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if score == nil {
		score = domain.NewCitizenScore(userID)
	}

	profile := &CreditProfile{
		UserID:          score.UserID,
		NovaCredit:      score.NovaCredit,
		Tier:            score.Tier,
		RiskScore:       score.RiskScore,
		ReputationScore: score.ReputationScore,
		PositiveStreak:  score.PositiveStreak,
		NegativeStreak:  score.NegativeStreak,
		TotalPositive:   score.TotalPositive,
		TotalNegative:   score.TotalNegative,
		RiskLevel:       domain.RiskLevelOf(score.RiskScore),
		Privileges:      s.rules.Current().TierPrivileges[score.Tier],
		LastPositiveAt:  score.LastPositiveAt,
		LastNegativeAt:  score.LastNegativeAt,
		CreatedAt:       score.CreatedAt,
		UpdatedAt:       score.UpdatedAt,
	}

	if next, nextFloor, ok := rules.NextTier(score.Tier); ok {
		floor := rules.TierFloor(score.Tier)
		profile.NextTier = next
		profile.CreditToNextTier = nextFloor - score.NovaCredit
		profile.ProgressToNext = float64(score.NovaCredit-floor) / float64(nextFloor-floor)
	} else {
		profile.ProgressToNext = 1
	}
	return profile, nil
}

// GetHistory returns a page of the citizen's score change log.
func (s *QueryService) GetHistory(ctx context.Context, userID uint64, page, perPage int) ([]*domain.ScoreChange, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 || perPage > 100 {
		perPage = 20
	}
	return s.changes.ListByUser(ctx, userID, perPage, (page-1)*perPage)
}

// GetLeaderboard returns the ranked citizens, optionally within one tier.
func (s *QueryService) GetLeaderboard(ctx context.Context, tier *rules.Tier, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	cacheKey := leaderboardCacheKey(tier, limit)
	if entries, ok := s.cache.Get(ctx, cacheKey); ok {
		return entries, nil
	}

	scores, err := s.scores.TopByCredit(ctx, tier, limit)
	if err != nil {
		return nil, err
	}

	ids := make([]uint64, len(scores))
	for i, score := range scores {
		ids[i] = score.UserID
	}
	usernames, err := s.users.Usernames(ctx, ids)
	if err != nil {
		s.logger.WarnContext(ctx, "username lookup failed, serving ids only", "error", err)
		usernames = map[uint64]string{}
	}

	entries := make([]domain.LeaderboardEntry, len(scores))
	for i, score := range scores {
		entries[i] = domain.LeaderboardEntry{
			Rank:       i + 1,
			UserID:     score.UserID,
			Username:   usernames[score.UserID],
			NovaCredit: score.NovaCredit,
			Tier:       score.Tier,
		}
	}
	s.cache.Set(ctx, cacheKey, entries)
	return entries, nil
}

func leaderboardCacheKey(tier *rules.Tier, limit int) string {
	key := "all"
	if tier != nil {
		key = string(*tier)
	}
	return "credit:leaderboard:" + key + ":" + strconv.Itoa(limit)
}

// GetStats returns the admin aggregates.
func (s *QueryService) GetStats(ctx context.Context) (*Stats, error) {
	citizens, err := s.scores.Count(ctx)
	if err != nil {
		return nil, err
	}
	tiers, err := s.scores.CountByTier(ctx)
	if err != nil {
		return nil, err
	}
	buckets, err := s.scores.RiskBuckets(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	events24h, err := s.changes.CountSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	events7d, err := s.changes.CountSince(ctx, now.AddDate(0, 0, -7))
	if err != nil {
		return nil, err
	}
	atRisk, err := s.scores.CountRiskAtLeast(ctx, 0.6)
	if err != nil {
		return nil, err
	}
	median, err := s.scores.MedianNovaCredit(ctx)
	if err != nil {
		return nil, err
	}

	var ghosts int64
	for _, t := range tiers {
		if t.Tier == rules.TierGhost {
			ghosts = t.Count
		}
	}

	return &Stats{
		Citizens:         citizens,
		TierDistribution: tiers,
		RiskBuckets:      buckets,
		EventsLast24h:    events24h,
		EventsLast7d:     events7d,
		AtRiskCitizens:   atRisk,
		GhostCitizens:    ghosts,
		MedianNovaCredit: median,
	}, nil
}

// CreateRiskFlag records a moderator-created risk flag.
func (s *QueryService) CreateRiskFlag(ctx context.Context, userID uint64, flagType string, severity domain.RiskFlagSeverity, description string) (*domain.RiskFlag, error) {
	flag := &domain.RiskFlag{
		UserID:      userID,
		FlagType:    flagType,
		Severity:    severity,
		Description: description,
		Active:      true,
	}
	if err := s.flags.Save(ctx, flag); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "risk flag created",
		"user_id", userID, "flag_type", flagType, "severity", severity)
	return flag, nil
}
