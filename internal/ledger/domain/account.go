// Package domain holds the ledger's aggregates: accounts over (owner, asset)
// and the append-only double-entry record.
package domain

import (
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnbalancedLegs    = errors.New("transaction legs do not sum to zero")
	ErrNotFound          = errors.New("account not found")
)

// AssetNCR is the state's native token. The schema supports other assets but
// the treasury and quest flows operate on NCR only.
const AssetNCR = "NCR"

// SystemAccountType enumerates the singleton system accounts.
type SystemAccountType string

const (
	SystemAgencyTreasury SystemAccountType = "AGENCY_TREASURY"
	SystemStateTreasury  SystemAccountType = "STATE_TREASURY"
	SystemPoolGrowth     SystemAccountType = "POOL_GROWTH"
	SystemPoolPerformer  SystemAccountType = "POOL_PERFORMER"
	SystemPoolDev        SystemAccountType = "POOL_DEV"
	SystemPoolBurn       SystemAccountType = "POOL_BURN"
)

// Account is one (owner, asset) balance row. Exactly one of UserID and
// SystemType is set; system accounts are lazily created singletons.
type Account struct {
	gorm.Model
	UserID     *uint64            `gorm:"column:user_id;uniqueIndex:ux_ledger_user_asset"`
	SystemType *SystemAccountType `gorm:"column:system_type;type:varchar(32);uniqueIndex:ux_ledger_system_asset"`
	Asset      string             `gorm:"column:asset;type:varchar(16);not null;uniqueIndex:ux_ledger_user_asset;uniqueIndex:ux_ledger_system_asset"`
	Balance    decimal.Decimal    `gorm:"column:balance;type:decimal(30,8);default:0;not null"`
	Label      string             `gorm:"column:label;type:varchar(64)"`
}

func (Account) TableName() string { return "ledger_accounts" }

// IsSystem reports whether this is a system account.
func (a *Account) IsSystem() bool { return a.SystemType != nil }

// AllowsNegative reports whether the account may be driven below zero.
// Only the burn sink and the configured state treasury user qualify.
func (a *Account) AllowsNegative(treasuryUserID uint64) bool {
	if a.SystemType != nil && *a.SystemType == SystemPoolBurn {
		return true
	}
	return a.UserID != nil && *a.UserID == treasuryUserID
}

// AccountRef addresses an account by owner without knowing its row id.
type AccountRef struct {
	UserID *uint64
	System *SystemAccountType
}

// UserRef addresses a citizen account.
func UserRef(userID uint64) AccountRef { return AccountRef{UserID: &userID} }

// SystemRef addresses a system account.
func SystemRef(t SystemAccountType) AccountRef { return AccountRef{System: &t} }
