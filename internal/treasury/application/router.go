// Package application implements the treasury router: it turns one revenue
// event into a balanced ledger transaction plus an audit flow row, committed
// together.
package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/contextx"
	"gorm.io/gorm"

	ledgerdomain "github.com/novastate/novacore/internal/ledger/domain"
	"github.com/novastate/novacore/internal/rules"
	"github.com/novastate/novacore/internal/treasury/domain"
)

// ledgerScale is the fixed decimal scale of all routed amounts.
const ledgerScale = 8

// TopicFlowRouted carries one event per committed treasury flow.
const TopicFlowRouted = "nova.treasury.flow"

// Ledger is the slice of the ledger service the router needs.
type Ledger interface {
	Apply(ctx context.Context, legs []ledgerdomain.Leg, asset, sourceApp string, ref ledgerdomain.Reference) (string, error)
}

// TxManager scopes a function to one database transaction.
type TxManager interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// RouteRevenueCommand is one monetizable interaction to split.
type RouteRevenueCommand struct {
	App           string
	Kind          string
	UserID        uint64
	PerformerID   *uint64
	AgencyID      *uint64
	Gross         decimal.Decimal
	ReferenceID   string
	ReferenceType string
	Metadata      map[string]any
}

// RouterService routes revenue through the split config into the ledger.
type RouterService struct {
	flows     domain.FlowRepository
	ledger    Ledger
	txm       TxManager
	rules     *rules.Handle
	publisher domain.EventPublisher
	logger    *slog.Logger
}

func NewRouterService(
	flows domain.FlowRepository,
	ledger Ledger,
	txm TxManager,
	rulesHandle *rules.Handle,
	publisher domain.EventPublisher,
	logger *slog.Logger,
) *RouterService {
	return &RouterService{
		flows:     flows,
		ledger:    ledger,
		txm:       txm,
		rules:     rulesHandle,
		publisher: publisher,
		logger:    logger.With("module", "treasury_router"),
	}
}

// RouteRevenue splits cmd.Gross per the (app, kind) config and commits the
// ledger legs and the flow row as one transaction. When the command carries a
// reference already routed, the existing flow is returned unchanged.
func (s *RouterService) RouteRevenue(ctx context.Context, cmd RouteRevenueCommand) (*domain.Flow, error) {
	if !cmd.Gross.IsPositive() {
		return nil, errors.New("gross must be positive")
	}

	cfg, matched := s.rules.Current().Treasury.Resolve(cmd.App, cmd.Kind)
	if !matched {
		s.logger.WarnContext(ctx, "no treasury override for app/kind, using default split",
			"app", cmd.App, "kind", cmd.Kind)
	}

	flow := buildFlow(cmd, cfg)

	err := s.txm.Transaction(ctx, func(txCtx context.Context) error {
		if err := s.flows.Save(txCtx, flow); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) && flow.ReferenceID != nil {
				existing, lookupErr := s.flows.GetByReference(txCtx, *flow.ReferenceID, *flow.ReferenceType)
				if lookupErr != nil {
					return lookupErr
				}
				s.logger.WarnContext(txCtx, "revenue already routed for reference, returning existing flow",
					"reference_id", *flow.ReferenceID, "flow_id", existing.FlowID)
				flow = existing
				return nil
			}
			return err
		}

		legs := flowLegs(flow)
		if _, err := s.ledger.Apply(txCtx, legs, ledgerdomain.AssetNCR, cmd.App, ledgerdomain.Reference{ID: flow.FlowID, Type: "treasury_flow"}); err != nil {
			return err
		}

		return s.publisher.PublishInTx(txCtx, contextx.GetTx(txCtx), TopicFlowRouted, flow.FlowID, flowEvent(flow))
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "revenue routed",
		"flow_id", flow.FlowID,
		"app", flow.App,
		"kind", flow.Kind,
		"user_id", flow.UserID,
		"gross", flow.Gross,
		"tax", flow.Tax,
		"net_to_performer", flow.NetToPerformer,
		"growth", flow.GrowthAmount,
		"performer_pool", flow.PerformerPool,
		"dev", flow.DevAmount,
		"burn", flow.BurnAmount,
	)
	return flow, nil
}

// buildFlow computes the split with banker's rounding at the ledger scale.
// The burn leg absorbs the rounding remainder so the treasury identity holds
// exactly.
func buildFlow(cmd RouteRevenueCommand, cfg rules.SplitConfig) *domain.Flow {
	gross := cmd.Gross.RoundBank(ledgerScale)

	var tax, net decimal.Decimal
	if cmd.PerformerID != nil {
		tax = gross.Mul(cfg.TaxRate).RoundBank(ledgerScale)
		net = gross.Sub(tax)
	} else {
		// No recipient: the full gross is taxed.
		tax = gross
		net = decimal.Zero
	}

	growth := tax.Mul(cfg.Split[rules.PoolGrowth]).RoundBank(ledgerScale)
	performerPool := tax.Mul(cfg.Split[rules.PoolPerformerPool]).RoundBank(ledgerScale)
	dev := tax.Mul(cfg.Split[rules.PoolDevFund]).RoundBank(ledgerScale)
	burn := tax.Sub(growth).Sub(performerPool).Sub(dev)

	flow := &domain.Flow{
		FlowID:         uuid.NewString(),
		App:            cmd.App,
		Kind:           cmd.Kind,
		UserID:         cmd.UserID,
		PerformerID:    cmd.PerformerID,
		AgencyID:       cmd.AgencyID,
		Gross:          gross,
		Tax:            tax,
		NetToPerformer: net,
		GrowthAmount:   growth,
		PerformerPool:  performerPool,
		DevAmount:      dev,
		BurnAmount:     burn,
		Metadata:       cmd.Metadata,
	}
	if cmd.ReferenceID != "" {
		refID, refType := cmd.ReferenceID, cmd.ReferenceType
		flow.ReferenceID = &refID
		flow.ReferenceType = &refType
	}
	return flow
}

func flowLegs(flow *domain.Flow) []ledgerdomain.Leg {
	legs := []ledgerdomain.Leg{
		{Target: ledgerdomain.UserRef(flow.UserID), Amount: flow.Gross.Neg(), Kind: ledgerdomain.EntrySpend},
	}
	if flow.PerformerID != nil && flow.NetToPerformer.IsPositive() {
		legs = append(legs, ledgerdomain.Leg{
			Target: ledgerdomain.UserRef(*flow.PerformerID),
			Amount: flow.NetToPerformer,
			Kind:   ledgerdomain.EntryEarn,
		})
	}
	poolLegs := []struct {
		target ledgerdomain.SystemAccountType
		amount decimal.Decimal
	}{
		{ledgerdomain.SystemPoolGrowth, flow.GrowthAmount},
		{ledgerdomain.SystemPoolPerformer, flow.PerformerPool},
		{ledgerdomain.SystemPoolDev, flow.DevAmount},
	}
	for _, p := range poolLegs {
		if p.amount.IsZero() {
			continue
		}
		legs = append(legs, ledgerdomain.Leg{
			Target: ledgerdomain.SystemRef(p.target),
			Amount: p.amount,
			Kind:   ledgerdomain.EntryEarn,
		})
	}
	if !flow.BurnAmount.IsZero() {
		legs = append(legs, ledgerdomain.Leg{
			Target: ledgerdomain.SystemRef(ledgerdomain.SystemPoolBurn),
			Amount: flow.BurnAmount,
			Kind:   ledgerdomain.EntryBurn,
		})
	}
	return legs
}

func flowEvent(flow *domain.Flow) map[string]any {
	return map[string]any{
		"flow_id":          flow.FlowID,
		"app":              flow.App,
		"kind":             flow.Kind,
		"user_id":          flow.UserID,
		"gross":            flow.Gross.String(),
		"tax":              flow.Tax.String(),
		"net_to_performer": flow.NetToPerformer.String(),
		"burn":             flow.BurnAmount.String(),
	}
}
