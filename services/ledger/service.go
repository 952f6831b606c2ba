package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"staking-controlplane/pkg/db/option"
	"staking-controlplane/pkg/db/pagination"
	"staking-controlplane/pkg/repository"
	"staking-controlplane/pkg/util"
	"staking-controlplane/services/internal/errs"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Service is the arena of plan and user chains. Entries are addressed by id;
// the current state of a chain is its head, the newest entry of (owner, type).
type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	plans repository.Repository[PlanLedgerEntry]
	users repository.Repository[UserLedgerEntry]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		plans: repository.ProvideStore[PlanLedgerEntry](p.DB),
		users: repository.ProvideStore[UserLedgerEntry](p.DB),
	}
}

// WithTrx binds the ledger to an open transaction.
func (s *Service) WithTrx(tx *gorm.DB) *Service {
	return &Service{
		db:    tx,
		node:  s.node,
		plans: s.plans.WithTrx(tx),
		users: s.users.WithTrx(tx),
	}
}

var (
	newestFirst = option.WithSortBy(option.QuerySortBy{
		SortBy:  "created_at",
		OrderBy: "desc",
		Allow: map[string]bool{
			"created_at": true,
		},
	})
	oldestFirst = option.WithSortBy(option.QuerySortBy{
		SortBy:  "created_at",
		OrderBy: "asc",
		Allow: map[string]bool{
			"created_at": true,
		},
	})
)

func (s *Service) PlanHead(ctx context.Context, planID string, t EntryType) (*PlanLedgerEntry, error) {
	return s.plans.FindOne(ctx, &PlanLedgerEntry{PlanID: planID, Type: t}, newestFirst)
}

func (s *Service) PlanEntryAt(ctx context.Context, planID string, t EntryType, at time.Time) (*PlanLedgerEntry, error) {
	return s.plans.FindOne(ctx, &PlanLedgerEntry{PlanID: planID, Type: t, CreatedAt: util.Timestamp(at)})
}

// PlanHeadAtOrBefore returns the newest entry of the chain created at or before at.
func (s *Service) PlanHeadAtOrBefore(ctx context.Context, planID string, t EntryType, at time.Time) (*PlanLedgerEntry, error) {
	return s.plans.FindOne(ctx, &PlanLedgerEntry{PlanID: planID, Type: t},
		option.ApplyOperator(option.Condition{Field: "created_at", Operator: option.LTE, Value: util.Timestamp(at)}),
		newestFirst,
	)
}

func (s *Service) PlanEntries(ctx context.Context, planID string, t EntryType) ([]*PlanLedgerEntry, error) {
	return s.plans.Find(ctx, &PlanLedgerEntry{PlanID: planID, Type: t}, oldestFirst)
}

func (s *Service) PlanEntry(ctx context.Context, id string) (*PlanLedgerEntry, error) {
	return s.plans.FindOne(ctx, &PlanLedgerEntry{ID: id})
}

func (s *Service) UserHead(ctx context.Context, userID, planID string, t EntryType) (*UserLedgerEntry, error) {
	return s.users.FindOne(ctx, &UserLedgerEntry{UserID: userID, PlanID: planID, Type: t}, newestFirst)
}

func (s *Service) UserEntryAt(ctx context.Context, userID, planID string, t EntryType, at time.Time) (*UserLedgerEntry, error) {
	return s.users.FindOne(ctx, &UserLedgerEntry{UserID: userID, PlanID: planID, Type: t, CreatedAt: util.Timestamp(at)})
}

func (s *Service) UserEntries(ctx context.Context, userID, planID string, t EntryType) ([]*UserLedgerEntry, error) {
	return s.users.Find(ctx, &UserLedgerEntry{UserID: userID, PlanID: planID, Type: t}, oldestFirst)
}

func (s *Service) UserEntry(ctx context.Context, id string) (*UserLedgerEntry, error) {
	return s.users.FindOne(ctx, &UserLedgerEntry{ID: id})
}

// UserEntriesOf lists the user entries caused by one plan entry.
func (s *Service) UserEntriesOf(ctx context.Context, planEntryID string) ([]*UserLedgerEntry, error) {
	return s.users.Find(ctx, &UserLedgerEntry{PlanLedgerEntryID: &planEntryID})
}

const childlessUserEntry = `NOT EXISTS (SELECT 1 FROM user_ledger_entries c
	WHERE c.parent_id = user_ledger_entries.id
	AND c.user_id = user_ledger_entries.user_id
	AND c.plan_id = user_ledger_entries.plan_id
	AND c.type = user_ledger_entries.type)`

// UserHeads returns the head of every user's (plan, type) chain ordered by
// user id. With a page limit it returns up to limit+1 heads so the caller can
// tell whether more remain.
func (s *Service) UserHeads(ctx context.Context, planID string, t EntryType, page pagination.Pagination) ([]*UserLedgerEntry, error) {
	var heads []*UserLedgerEntry
	query := s.db.WithContext(ctx).Model(&UserLedgerEntry{}).
		Where("plan_id = ? AND type = ?", planID, t).
		Where(childlessUserEntry)
	query = option.ApplyPagination(page, "user_id")(query)

	if err := query.Find(&heads).Error; err != nil {
		return nil, err
	}
	return heads, nil
}

type PlanAppend struct {
	PlanID      string
	Type        EntryType
	Amount      decimal.Decimal
	At          time.Time
	Description string
}

// AppendPlan adds a new head to the (plan, type) chain. At must be strictly
// after the current head: an equal instant is AlreadyCreated, an older one
// TooLate.
func (s *Service) AppendPlan(ctx context.Context, in PlanAppend) (*PlanLedgerEntry, error) {
	if in.Amount.Sign() < 0 {
		return nil, errs.InvalidAmount(fmt.Sprintf("Running total of %s can not be negative.", in.Type))
	}

	head, err := s.PlanHead(ctx, in.PlanID, in.Type)
	if err != nil {
		return nil, err
	}

	at := util.Timestamp(in.At)
	entry := &PlanLedgerEntry{
		ID:          s.node.Generate().String(),
		PlanID:      in.PlanID,
		Type:        in.Type,
		CreatedAt:   at,
		Amount:      in.Amount,
		Description: in.Description,
	}
	if head != nil {
		if err := checkOrder(head.CreatedAt, at, fmt.Sprintf("%s entry of plan %q", in.Type, in.PlanID)); err != nil {
			return nil, err
		}
		entry.ParentID = idOf(head.ID)
		entry.PreviousHash = head.Hash
	}
	entry.Hash = entry.GenerateHash()

	if err := s.plans.Create(ctx, entry); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errs.AlreadyCreated(fmt.Sprintf("%s entry of plan %q", in.Type, in.PlanID))
		}
		return nil, err
	}
	return entry, nil
}

type UserAppend struct {
	UserID string
	PlanID string
	Type   EntryType
	Amount decimal.Decimal
	At     time.Time
	// Parent overrides the chain head as parent, e.g. an Unstake points at its request.
	Parent      *UserLedgerEntry
	PlanEntry   *PlanLedgerEntry
	Description string
}

func (s *Service) AppendUser(ctx context.Context, in UserAppend) (*UserLedgerEntry, error) {
	if in.Amount.Sign() < 0 {
		return nil, errs.InvalidAmount(fmt.Sprintf("Running total of %s can not be negative.", in.Type))
	}

	head, err := s.UserHead(ctx, in.UserID, in.PlanID, in.Type)
	if err != nil {
		return nil, err
	}

	at := util.Timestamp(in.At)
	what := fmt.Sprintf("%s entry of user %q in plan %q", in.Type, in.UserID, in.PlanID)
	if head != nil {
		if err := checkOrder(head.CreatedAt, at, what); err != nil {
			return nil, err
		}
	}

	parent := in.Parent
	if parent == nil {
		parent = head
	}

	entry := &UserLedgerEntry{
		ID:          s.node.Generate().String(),
		UserID:      in.UserID,
		PlanID:      in.PlanID,
		Type:        in.Type,
		CreatedAt:   at,
		Amount:      in.Amount,
		Description: in.Description,
	}
	if parent != nil {
		entry.ParentID = idOf(parent.ID)
		entry.PreviousHash = parent.Hash
	}
	if in.PlanEntry != nil {
		entry.PlanLedgerEntryID = idOf(in.PlanEntry.ID)
	}
	entry.Hash = entry.GenerateHash()

	if err := s.users.Create(ctx, entry); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errs.AlreadyCreated(what)
		}
		return nil, err
	}
	return entry, nil
}

func checkOrder(head, at time.Time, what string) error {
	switch {
	case at.Equal(head):
		return errs.AlreadyCreated(what)
	case at.Before(head):
		return errs.TooLate(fmt.Sprintf("%s at %s precedes the chain head at %s.", what,
			at.Format(time.RFC3339Nano), head.UTC().Format(time.RFC3339Nano)))
	}
	return nil
}
