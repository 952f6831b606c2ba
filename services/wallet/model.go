package wallet

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Kind string

const (
	KindCredit Kind = "credit"
	KindDebit  Kind = "debit"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCommitted Status = "committed"
	StatusFailed    Status = "failed"
)

// Transfer is an outbox row. It is written in the same transaction as the
// ledger entry that caused it and settled against the Ledger Service after
// commit. ReferenceID is the causing entry id.
type Transfer struct {
	ID          string            `gorm:"column:id;primaryKey;type:varchar(32)"`
	ReferenceID string            `gorm:"column:reference_id;type:varchar(64);not null;uniqueIndex"`
	UserID      string            `gorm:"column:user_id;type:varchar(64);not null;index"`
	PlanID      string            `gorm:"column:plan_id;type:varchar(32);not null"`
	Currency    string            `gorm:"column:currency;type:varchar(16);not null"`
	Amount      decimal.Decimal   `gorm:"column:amount;type:numeric(30,10);not null"`
	Kind        Kind              `gorm:"column:kind;type:varchar(8);not null"`
	Status      Status            `gorm:"column:status;type:varchar(16);not null;index"`
	Attempts    int               `gorm:"column:attempts;not null;default:0"`
	Error       string            `gorm:"column:error;type:text"`
	Metadata    datatypes.JSONMap `gorm:"column:metadata"`
	SettledAt   *time.Time        `gorm:"column:settled_at"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (Transfer) TableName() string { return "wallet_transfers" }
