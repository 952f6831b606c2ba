package position

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusRequested               Status = "REQUESTED"
	StatusLocked                  Status = "LOCKED"
	StatusExtendToNextCycle       Status = "EXTEND_TO_NEXT_CYCLE"
	StatusExtendFromPreviousCycle Status = "EXTEND_FROM_PREVIOUS_CYCLE"
	StatusPendingRelease          Status = "PENDING_RELEASE"
	StatusReleased                Status = "RELEASED"
	StatusUserCanceled            Status = "USER_CANCELED"
	StatusAdminRejected           Status = "ADMIN_REJECTED"
)

// EarnsReward reports whether announcements update a position in this status.
func (s Status) EarnsReward() bool {
	switch s {
	case StatusLocked, StatusExtendToNextCycle, StatusPendingRelease, StatusReleased:
		return true
	}
	return false
}

// Position is the consolidated view of one user's participation in one plan.
type Position struct {
	ID                              string          `gorm:"column:id;primaryKey;type:varchar(32)"`
	UserID                          string          `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex:uq_position_user_plan,priority:1"`
	PlanID                          string          `gorm:"column:plan_id;type:varchar(32);not null;uniqueIndex:uq_position_user_plan,priority:2;index"`
	Status                          Status          `gorm:"column:status;type:varchar(32);not null"`
	LockedAmount                    decimal.Decimal `gorm:"column:locked_amount;type:numeric(30,10);not null;default:0"`
	RewardAmount                    decimal.Decimal `gorm:"column:reward_amount;type:numeric(30,10);not null;default:0"`
	EarlyEndedAmount                decimal.Decimal `gorm:"column:early_ended_amount;type:numeric(30,10);not null;default:0"`
	ExtendedFromPreviousCycleAmount decimal.Decimal `gorm:"column:extended_from_previous_cycle_amount;type:numeric(30,10);not null;default:0"`
	NextCycleID                     *string         `gorm:"column:next_cycle_id;type:varchar(32);uniqueIndex"`
	CreatedAt                       time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (Position) TableName() string { return "positions" }

type RequestType string

const (
	RequestTypeStake    RequestType = "STAKE"
	RequestTypeEarlyEnd RequestType = "EARLY_END"
	RequestTypeExtend   RequestType = "EXTEND"
	RequestTypeEnd      RequestType = "END"
	RequestTypeRelease  RequestType = "RELEASE"
	RequestTypeCancel   RequestType = "CANCEL"
	RequestTypeReject   RequestType = "REJECT"
)

// Request is the audit trail of changes applied to a position.
type Request struct {
	ID         string          `gorm:"column:id;primaryKey;type:varchar(32)"`
	PositionID string          `gorm:"column:position_id;type:varchar(32);not null;index"`
	Type       RequestType     `gorm:"column:type;type:varchar(32);not null"`
	Amount     decimal.Decimal `gorm:"column:amount;type:numeric(30,10);not null"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (Request) TableName() string { return "position_requests" }

type WalletTransactionType string

const (
	WalletTransactionReward    WalletTransactionType = "REWARD"
	WalletTransactionPrincipal WalletTransactionType = "PRINCIPAL"
)

// WalletTransaction joins a position to the wallet transfer that paid it.
// At most one exists per (position, type).
type WalletTransaction struct {
	ID               string                `gorm:"column:id;primaryKey;type:varchar(32)"`
	PositionID       string                `gorm:"column:position_id;type:varchar(32);not null;uniqueIndex:uq_position_wallet_tx,priority:1"`
	Type             WalletTransactionType `gorm:"column:type;type:varchar(16);not null;uniqueIndex:uq_position_wallet_tx,priority:2"`
	Amount           decimal.Decimal       `gorm:"column:amount;type:numeric(30,10);not null"`
	WalletTransferID string                `gorm:"column:wallet_transfer_id;type:varchar(32);not null"`
	CreatedAt        time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (WalletTransaction) TableName() string { return "position_wallet_transactions" }

// Models lists every table owned by this package.
func Models() []any {
	return []any{&Position{}, &Request{}, &WalletTransaction{}}
}
