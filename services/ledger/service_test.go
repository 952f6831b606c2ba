package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"staking-controlplane/pkg/db/option"
	"staking-controlplane/pkg/db/pagination"
	"staking-controlplane/pkg/repository"
	"staking-controlplane/services/internal/errs"
	"staking-controlplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type repoMock[T any] struct {
	withTrxFn     func(tx *gorm.DB) repository.Repository[T]
	findFn        func(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	findOneFn     func(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	createFn      func(ctx context.Context, resource *T) error
	updateFn      func(ctx context.Context, resourceID string, resource any) error
	batchCreateFn func(ctx context.Context, resources []*T) error
	batchUpdateFn func(ctx context.Context, resources []*T) error
	countFn       func(ctx context.Context, query *T) (int64, error)
}

func (m *repoMock[T]) WithTrx(tx *gorm.DB) repository.Repository[T] {
	if m.withTrxFn != nil {
		return m.withTrxFn(tx)
	}
	return m
}

func (m *repoMock[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	if m.findFn != nil {
		return m.findFn(ctx, query, opts...)
	}
	return nil, nil
}

func (m *repoMock[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	if m.findOneFn != nil {
		return m.findOneFn(ctx, query, opts...)
	}
	return nil, nil
}

func (m *repoMock[T]) Create(ctx context.Context, resource *T) error {
	if m.createFn != nil {
		return m.createFn(ctx, resource)
	}
	return nil
}

func (m *repoMock[T]) Update(ctx context.Context, resourceID string, resource any) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, resourceID, resource)
	}
	return nil
}

func (m *repoMock[T]) BatchCreate(ctx context.Context, resources []*T) error {
	if m.batchCreateFn != nil {
		return m.batchCreateFn(ctx, resources)
	}
	return nil
}

func (m *repoMock[T]) BatchUpdate(ctx context.Context, resources []*T) error {
	if m.batchUpdateFn != nil {
		return m.batchUpdateFn(ctx, resources)
	}
	return nil
}

func (m *repoMock[T]) Count(ctx context.Context, query *T) (int64, error) {
	if m.countFn != nil {
		return m.countFn(ctx, query)
	}
	return 0, nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := testutil.NewTestDB(t, &PlanLedgerEntry{}, &UserLedgerEntry{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewService(ServiceParams{DB: db, Node: node})
}

func TestNewService(t *testing.T) {
	svc := newTestService(t)

	require.NotNil(t, svc.plans)
	require.NotNil(t, svc.users)
}

func TestAppendPlanChainsRunningTotals(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	first, err := svc.AppendPlan(ctx, PlanAppend{PlanID: "p1", Type: TypeFetchedReward, Amount: decimal.NewFromInt(20), At: at})
	require.NoError(t, err)
	require.Nil(t, first.ParentID)
	require.Empty(t, first.PreviousHash)

	second, err := svc.AppendPlan(ctx, PlanAppend{PlanID: "p1", Type: TypeFetchedReward, Amount: decimal.NewFromInt(30), At: at.Add(time.Hour)})
	require.NoError(t, err)
	require.Equal(t, first.ID, *second.ParentID)
	require.Equal(t, first.Hash, second.PreviousHash)

	head, err := svc.PlanHead(ctx, "p1", TypeFetchedReward)
	require.NoError(t, err)
	require.Equal(t, second.ID, head.ID)
	require.True(t, head.Amount.Equal(decimal.NewFromInt(30)))

	before, err := svc.PlanHeadAtOrBefore(ctx, "p1", TypeFetchedReward, at.Add(30*time.Minute))
	require.NoError(t, err)
	require.Equal(t, first.ID, before.ID)

	valid, err := svc.VerifyPlanChain(ctx, "p1", TypeFetchedReward)
	require.NoError(t, err)
	require.True(t, valid)
}

func TestAppendPlanRejectsDuplicateAndOlderInstants(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.AppendPlan(ctx, PlanAppend{PlanID: "p1", Type: TypeAnnouncedReward, Amount: decimal.NewFromInt(1), At: at})
	require.NoError(t, err)

	_, err = svc.AppendPlan(ctx, PlanAppend{PlanID: "p1", Type: TypeAnnouncedReward, Amount: decimal.NewFromInt(2), At: at})
	require.ErrorIs(t, err, errs.ErrAlreadyCreated)

	_, err = svc.AppendPlan(ctx, PlanAppend{PlanID: "p1", Type: TypeAnnouncedReward, Amount: decimal.NewFromInt(2), At: at.Add(-time.Minute)})
	require.ErrorIs(t, err, errs.ErrTooLate)

	_, err = svc.AppendPlan(ctx, PlanAppend{PlanID: "p1", Type: TypeAnnouncedReward, Amount: decimal.NewFromInt(-1), At: at.Add(time.Minute)})
	require.ErrorIs(t, err, errs.ErrInvalidAmount)

	entries, err := svc.PlanEntries(ctx, "p1", TypeAnnouncedReward)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestUserHeadsPaginatesByUser(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	for i, user := range []string{"u1", "u2", "u3"} {
		for step := 1; step <= 2; step++ {
			_, err := svc.AppendUser(ctx, UserAppend{
				UserID: user,
				PlanID: "p1",
				Type:   TypeStake,
				Amount: decimal.NewFromInt(int64(10*(i+1) + step)),
				At:     at.Add(time.Duration(step) * time.Minute),
			})
			require.NoError(t, err)
		}
	}

	heads, err := svc.UserHeads(ctx, "p1", TypeStake, pagination.Pagination{})
	require.NoError(t, err)
	require.Len(t, heads, 3)
	require.Equal(t, "u1", heads[0].UserID)
	require.True(t, heads[0].Amount.Equal(decimal.NewFromInt(12)))

	page, err := svc.UserHeads(ctx, "p1", TypeStake, pagination.Pagination{Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)

	cursor, err := pagination.EncodeCursor(pagination.Cursor{ID: "u1"})
	require.NoError(t, err)
	rest, err := svc.UserHeads(ctx, "p1", TypeStake, pagination.Pagination{Cursor: cursor, Limit: 5})
	require.NoError(t, err)
	require.Len(t, rest, 2)
	require.Equal(t, "u2", rest[0].UserID)
}

func TestAppendUserWithExplicitParent(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	request, err := svc.AppendUser(ctx, UserAppend{UserID: "u1", PlanID: "p1", Type: TypeEarlyEndRequest, Amount: decimal.NewFromInt(5), At: at})
	require.NoError(t, err)

	unstake, err := svc.AppendUser(ctx, UserAppend{UserID: "u1", PlanID: "p1", Type: TypeUnstake, Amount: decimal.NewFromInt(5), At: at, Parent: request})
	require.NoError(t, err)
	require.Equal(t, request.ID, *unstake.ParentID)
	require.Equal(t, request.Hash, unstake.PreviousHash)

	valid, err := svc.VerifyUserChain(ctx, "u1", "p1", TypeUnstake)
	require.NoError(t, err)
	require.True(t, valid)
}

func TestVerifyPlanChainDetectsTampering(t *testing.T) {
	first := &PlanLedgerEntry{
		ID:        "entry-1",
		PlanID:    "p1",
		Type:      TypeStake,
		Amount:    decimal.NewFromInt(100),
		CreatedAt: time.Now(),
	}
	first.Hash = first.GenerateHash()

	second := &PlanLedgerEntry{
		ID:           "entry-2",
		PlanID:       "p1",
		Type:         TypeStake,
		Amount:       decimal.NewFromInt(150),
		ParentID:     &first.ID,
		PreviousHash: first.Hash,
		CreatedAt:    first.CreatedAt.Add(time.Minute),
	}
	second.Hash = second.GenerateHash()

	svc := &Service{
		plans: &repoMock[PlanLedgerEntry]{
			findFn: func(ctx context.Context, _ *PlanLedgerEntry, opts ...option.QueryOption) ([]*PlanLedgerEntry, error) {
				return []*PlanLedgerEntry{first, second}, nil
			},
		},
	}

	valid, err := svc.VerifyPlanChain(context.Background(), "p1", TypeStake)
	require.NoError(t, err)
	require.True(t, valid)

	second.Amount = decimal.NewFromInt(1500)
	valid, err = svc.VerifyPlanChain(context.Background(), "p1", TypeStake)
	require.NoError(t, err)
	require.False(t, valid)
}

func TestVerifyConservation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	planEntry, err := svc.AppendPlan(ctx, PlanAppend{PlanID: "p1", Type: TypeStake, Amount: decimal.NewFromInt(22), At: at})
	require.NoError(t, err)
	for user, amount := range map[string]int64{"u1": 10, "u2": 12} {
		_, err := svc.AppendUser(ctx, UserAppend{UserID: user, PlanID: "p1", Type: TypeStake, Amount: decimal.NewFromInt(amount), At: at, PlanEntry: planEntry})
		require.NoError(t, err)
	}
	require.NoError(t, svc.VerifyConservation(ctx, "p1", TypeStake, decimal.Zero))

	skewed, err := svc.AppendPlan(ctx, PlanAppend{PlanID: "p1", Type: TypeStake, Amount: decimal.NewFromInt(30), At: at.Add(time.Minute)})
	require.NoError(t, err)
	_, err = svc.AppendUser(ctx, UserAppend{UserID: "u1", PlanID: "p1", Type: TypeStake, Amount: decimal.NewFromInt(17), At: at.Add(time.Minute), PlanEntry: skewed})
	require.NoError(t, err)

	err = svc.VerifyConservation(ctx, "p1", TypeStake, decimal.Zero)
	var ce *ConservationError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, skewed.ID, ce.PlanEntryID)
}
