package domain

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// EntryKind classifies a ledger entry.
type EntryKind string

const (
	EntryEarn        EntryKind = "EARN"
	EntrySpend       EntryKind = "SPEND"
	EntryBurn        EntryKind = "BURN"
	EntryTransferIn  EntryKind = "TRANSFER_IN"
	EntryTransferOut EntryKind = "TRANSFER_OUT"
)

// Reference lets callers reconcile composite operations, e.g. the treasury
// flow a set of legs belongs to.
type Reference struct {
	ID   string
	Type string
}

// Entry is one immutable double-entry row. Entries within one transaction
// share a TransactionID and their signed amounts sum to zero per asset.
type Entry struct {
	gorm.Model
	TransactionID string          `gorm:"column:transaction_id;type:varchar(32);index;not null"`
	AccountID     uint            `gorm:"column:account_id;index;not null"`
	Asset         string          `gorm:"column:asset;type:varchar(16);not null"`
	Amount        decimal.Decimal `gorm:"column:amount;type:decimal(30,8);not null"`
	Kind          EntryKind       `gorm:"column:kind;type:varchar(16);not null"`
	SourceApp     string          `gorm:"column:source_app;type:varchar(64);index"`
	ReferenceID   string          `gorm:"column:reference_id;type:varchar(64);index:ix_ledger_entries_ref"`
	ReferenceType string          `gorm:"column:reference_type;type:varchar(32);index:ix_ledger_entries_ref"`
	Metadata      map[string]any  `gorm:"column:metadata;serializer:json"`
}

func (Entry) TableName() string { return "ledger_entries" }

// Leg is one side of a composite ledger transaction before it is resolved
// to an account row.
type Leg struct {
	Target   AccountRef
	Amount   decimal.Decimal // signed
	Kind     EntryKind
	Metadata map[string]any
}

// BalancedPerAsset verifies the double-entry invariant over a set of legs.
// All legs of a single transaction carry the same asset, so the check is a
// plain sum.
func BalancedPerAsset(legs []Leg) bool {
	sum := decimal.Zero
	for _, leg := range legs {
		sum = sum.Add(leg.Amount)
	}
	return sum.IsZero()
}
