package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	ledgerdomain "github.com/novastate/novacore/internal/ledger/domain"
	"github.com/novastate/novacore/internal/treasury/domain"
)

// Balances is the slice of the ledger service the queries need.
type Balances interface {
	SystemBalances(ctx context.Context, asset string) (map[ledgerdomain.SystemAccountType]decimal.Decimal, error)
}

// Summary is the treasury overview payload.
type Summary struct {
	TotalTreasury  decimal.Decimal                                    `json:"total_treasury"`
	PoolsBalance   map[ledgerdomain.SystemAccountType]decimal.Decimal `json:"pools_balance"`
	Last24hRevenue decimal.Decimal                                    `json:"last_24h_revenue"`
	Last7dRevenue  decimal.Decimal                                    `json:"last_7d_revenue"`
	TotalBurned    decimal.Decimal                                    `json:"total_burned"`
	RevenueByApp   []domain.AppRevenue                                `json:"revenue_by_app"`
	RevenueByKind  []domain.AppRevenue                                `json:"revenue_by_kind"`
}

// QueryService serves the treasury read endpoints.
type QueryService struct {
	flows    domain.FlowRepository
	balances Balances
	logger   *slog.Logger
}

func NewQueryService(flows domain.FlowRepository, balances Balances, logger *slog.Logger) *QueryService {
	return &QueryService{
		flows:    flows,
		balances: balances,
		logger:   logger.With("module", "treasury_query"),
	}
}

// GetSummary aggregates pool balances, rolling revenue and burn totals.
func (s *QueryService) GetSummary(ctx context.Context) (*Summary, error) {
	pools, err := s.balances.SystemBalances(ctx, ledgerdomain.AssetNCR)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	poolBalances := make(map[ledgerdomain.SystemAccountType]decimal.Decimal)
	for _, t := range []ledgerdomain.SystemAccountType{
		ledgerdomain.SystemPoolGrowth,
		ledgerdomain.SystemPoolPerformer,
		ledgerdomain.SystemPoolDev,
	} {
		balance := pools[t]
		poolBalances[t] = balance
		total = total.Add(balance)
	}

	now := time.Now()
	last24h, err := s.flows.SumGrossSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	last7d, err := s.flows.SumGrossSince(ctx, now.AddDate(0, 0, -7))
	if err != nil {
		return nil, err
	}
	burned, err := s.flows.SumBurned(ctx)
	if err != nil {
		return nil, err
	}
	byApp, err := s.flows.RevenueByApp(ctx, nil)
	if err != nil {
		return nil, err
	}
	byKind, err := s.flows.RevenueByKind(ctx, nil)
	if err != nil {
		return nil, err
	}

	return &Summary{
		TotalTreasury:  total,
		PoolsBalance:   poolBalances,
		Last24hRevenue: last24h,
		Last7dRevenue:  last7d,
		TotalBurned:    burned,
		RevenueByApp:   byApp,
		RevenueByKind:  byKind,
	}, nil
}

// RangeSince translates a range token to its cutoff. Unknown tokens and
// "all" return nil.
func RangeSince(rangeToken string) *time.Time {
	now := time.Now()
	var since time.Time
	switch rangeToken {
	case "24h":
		since = now.Add(-24 * time.Hour)
	case "7d":
		since = now.AddDate(0, 0, -7)
	case "30d":
		since = now.AddDate(0, 0, -30)
	default:
		return nil
	}
	return &since
}

// ListFlows returns a filtered flow page.
func (s *QueryService) ListFlows(ctx context.Context, filter domain.FlowFilter) ([]*domain.Flow, int64, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.flows.List(ctx, filter)
}

// GetPools returns the current pool balances.
func (s *QueryService) GetPools(ctx context.Context) (map[ledgerdomain.SystemAccountType]decimal.Decimal, error) {
	return s.balances.SystemBalances(ctx, ledgerdomain.AssetNCR)
}

// RevenueChartByApp returns the per-day revenue series grouped by app.
func (s *QueryService) RevenueChartByApp(ctx context.Context, since time.Time) ([]domain.DayRevenue, error) {
	return s.flows.DailyRevenueByApp(ctx, since)
}

// RevenueChartByKind returns the per-day revenue series grouped by kind.
func (s *QueryService) RevenueChartByKind(ctx context.Context, since time.Time) ([]domain.DayRevenue, error) {
	return s.flows.DailyRevenueByKind(ctx, since)
}
