// Package domain defines the treasury flow audit aggregate: one row per
// routed revenue event, mirroring every leg of the split.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrFlowNotFound = errors.New("treasury flow not found")

// Flow is the append-only audit row of one revenue split. The identity
// gross == tax + net_to_performer and tax == growth + performer_pool + dev +
// burn holds exactly; rounding dust is folded into burn.
type Flow struct {
	gorm.Model
	FlowID         string          `gorm:"column:flow_id;type:varchar(36);uniqueIndex;not null"`
	App            string          `gorm:"column:app;type:varchar(64);index;not null"`
	Kind           string          `gorm:"column:kind;type:varchar(64);index;not null"`
	UserID         uint64          `gorm:"column:user_id;index;not null"`
	PerformerID    *uint64         `gorm:"column:performer_id;index"`
	AgencyID       *uint64         `gorm:"column:agency_id"`
	Gross          decimal.Decimal `gorm:"column:gross;type:decimal(30,8);not null"`
	Tax            decimal.Decimal `gorm:"column:tax;type:decimal(30,8);not null"`
	NetToPerformer decimal.Decimal `gorm:"column:net_to_performer;type:decimal(30,8);not null"`
	GrowthAmount   decimal.Decimal `gorm:"column:growth_amount;type:decimal(30,8);not null"`
	PerformerPool  decimal.Decimal `gorm:"column:performer_pool_amount;type:decimal(30,8);not null"`
	DevAmount      decimal.Decimal `gorm:"column:dev_amount;type:decimal(30,8);not null"`
	BurnAmount     decimal.Decimal `gorm:"column:burn_amount;type:decimal(30,8);not null"`
	ReferenceID    *string         `gorm:"column:reference_id;type:varchar(64);uniqueIndex:ux_treasury_flow_ref"`
	ReferenceType  *string         `gorm:"column:reference_type;type:varchar(32);uniqueIndex:ux_treasury_flow_ref"`
	Metadata       map[string]any  `gorm:"column:metadata;serializer:json"`
}

func (Flow) TableName() string { return "treasury_flows" }

// AppRevenue is one aggregation bucket of the revenue breakdown.
type AppRevenue struct {
	Key   string          `json:"key"`
	Gross decimal.Decimal `json:"gross"`
	Flows int64           `json:"flows"`
}

// DayRevenue is one point of a revenue chart series.
type DayRevenue struct {
	Day   string          `json:"day"`
	Key   string          `json:"key"`
	Gross decimal.Decimal `json:"gross"`
}

// FlowFilter narrows flow listings.
type FlowFilter struct {
	Since  *time.Time
	App    string
	Kind   string
	Limit  int
	Offset int
}

// FlowRepository persists and aggregates treasury flows.
type FlowRepository interface {
	Save(ctx context.Context, flow *Flow) error
	GetByReference(ctx context.Context, refID, refType string) (*Flow, error)
	List(ctx context.Context, filter FlowFilter) ([]*Flow, int64, error)
	SumGrossSince(ctx context.Context, since time.Time) (decimal.Decimal, error)
	SumBurned(ctx context.Context) (decimal.Decimal, error)
	RevenueByApp(ctx context.Context, since *time.Time) ([]AppRevenue, error)
	RevenueByKind(ctx context.Context, since *time.Time) ([]AppRevenue, error)
	DailyRevenueByApp(ctx context.Context, since time.Time) ([]DayRevenue, error)
	DailyRevenueByKind(ctx context.Context, since time.Time) ([]DayRevenue, error)
}

// EventPublisher publishes treasury events, transactionally when inside a
// database transaction.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, key string, event any) error
	PublishInTx(ctx context.Context, tx any, topic string, key string, event any) error
}
