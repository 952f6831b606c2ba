package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type EntryType string

const (
	TypeStake           EntryType = "STAKE"
	TypeFetchedReward   EntryType = "FETCHED_REWARD"
	TypeAnnouncedReward EntryType = "ANNOUNCED_REWARD"
	TypePaidReward      EntryType = "PAID_REWARD"
	TypeGiveReward      EntryType = "GIVE_REWARD"
	TypeExtendIn        EntryType = "EXTEND_IN"
	TypeRelease         EntryType = "RELEASE"

	// Unstake has a plan chain for end-of-plan unstakes only; instant-end
	// unstakes are user-only deltas parented to their request.
	TypeUnstake EntryType = "UNSTAKE"

	// user-only
	TypeEarlyEndRequest EntryType = "EARLY_END_REQUEST"
	TypeExtendOut       EntryType = "EXTEND_OUT"
	TypeDeactivator     EntryType = "DEACTIVATOR"
	TypeUserCanceled    EntryType = "USER_CANCELED"
	TypeAdminRejected   EntryType = "ADMIN_REJECTED"
)

func (t EntryType) String() string { return string(t) }

// PlanLedgerEntry is one immutable element of a (plan, type) chain. Amount is
// the running total of the chain, never a delta.
type PlanLedgerEntry struct {
	ID           string          `gorm:"column:id;primaryKey;type:varchar(32)"`
	PlanID       string          `gorm:"column:plan_id;type:varchar(32);not null;uniqueIndex:uq_plan_ledger_chain,priority:1"`
	Type         EntryType       `gorm:"column:type;type:varchar(32);not null;uniqueIndex:uq_plan_ledger_chain,priority:2"`
	CreatedAt    time.Time       `gorm:"column:created_at;not null;uniqueIndex:uq_plan_ledger_chain,priority:3"`
	Amount       decimal.Decimal `gorm:"column:amount;type:numeric(30,10);not null"`
	ParentID     *string         `gorm:"column:parent_id;type:varchar(32);index"`
	Description  string          `gorm:"column:description;type:varchar(255)"`
	PreviousHash string          `gorm:"column:previous_hash;type:char(64)"`
	Hash         string          `gorm:"column:hash;type:char(64);not null"`
}

func (PlanLedgerEntry) TableName() string { return "plan_ledger_entries" }

// UserLedgerEntry is one immutable element of a (user, plan, type) chain.
// PlanLedgerEntryID points at the plan-level entry that caused it.
type UserLedgerEntry struct {
	ID                string          `gorm:"column:id;primaryKey;type:varchar(32)"`
	UserID            string          `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex:uq_user_ledger_chain,priority:1"`
	PlanID            string          `gorm:"column:plan_id;type:varchar(32);not null;uniqueIndex:uq_user_ledger_chain,priority:2;index"`
	Type              EntryType       `gorm:"column:type;type:varchar(32);not null;uniqueIndex:uq_user_ledger_chain,priority:3"`
	CreatedAt         time.Time       `gorm:"column:created_at;not null;uniqueIndex:uq_user_ledger_chain,priority:4"`
	Amount            decimal.Decimal `gorm:"column:amount;type:numeric(30,10);not null"`
	ParentID          *string         `gorm:"column:parent_id;type:varchar(32);index"`
	PlanLedgerEntryID *string         `gorm:"column:plan_ledger_entry_id;type:varchar(32);index"`
	Description       string          `gorm:"column:description;type:varchar(255)"`
	PreviousHash      string          `gorm:"column:previous_hash;type:char(64)"`
	Hash              string          `gorm:"column:hash;type:char(64);not null"`
}

func (UserLedgerEntry) TableName() string { return "user_ledger_entries" }

func (m *PlanLedgerEntry) HashFields() map[string]string {
	return map[string]string{
		"id":            m.ID,
		"plan_id":       m.PlanID,
		"type":          m.Type.String(),
		"amount":        m.Amount.String(),
		"parent_id":     deref(m.ParentID),
		"description":   m.Description,
		"created_at":    m.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash": m.PreviousHash,
	}
}

func (m *PlanLedgerEntry) GenerateHash() string {
	return hashFields(m.HashFields())
}

func (m *UserLedgerEntry) HashFields() map[string]string {
	return map[string]string{
		"id":                   m.ID,
		"user_id":              m.UserID,
		"plan_id":              m.PlanID,
		"type":                 m.Type.String(),
		"amount":               m.Amount.String(),
		"parent_id":            deref(m.ParentID),
		"plan_ledger_entry_id": deref(m.PlanLedgerEntryID),
		"description":          m.Description,
		"created_at":           m.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash":        m.PreviousHash,
	}
}

func (m *UserLedgerEntry) GenerateHash() string {
	return hashFields(m.HashFields())
}

func hashFields(fields map[string]string) string {
	var keys []string
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	joined := strings.Join(parts, "|")
	hash := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(hash[:])
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Total is the running total of the chain head, zero for an empty chain.
func (m *PlanLedgerEntry) Total() decimal.Decimal {
	if m == nil {
		return decimal.Zero
	}
	return m.Amount
}

func (m *UserLedgerEntry) Total() decimal.Decimal {
	if m == nil {
		return decimal.Zero
	}
	return m.Amount
}

func idOf(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

// Models lists every table owned by this package.
func Models() []any {
	return []any{&PlanLedgerEntry{}, &UserLedgerEntry{}}
}
