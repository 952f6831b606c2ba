package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"staking-controlplane/pkg/config"
	"staking-controlplane/pkg/db/option"
	"staking-controlplane/pkg/repository"
	"staking-controlplane/services/internal/errs"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	ledgerv1 "github.com/smallbiznis/go-genproto/smallbiznis/ledger/v1"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"
)

// LedgerClient is the part of the Ledger Service used to move assets.
type LedgerClient interface {
	AddEntry(ctx context.Context, in *ledgerv1.AddEntryRequest, opts ...grpc.CallOption) (*ledgerv1.LedgerEntry, error)
}

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	ledger    LedgerClient
	transfers repository.Repository[Transfer]

	tenantID    string
	scale       int32
	concurrency int
}

type Params struct {
	fx.In
	Config *config.Config
	DB     *gorm.DB
	Node   *snowflake.Node
	Ledger LedgerClient
}

func NewService(p Params) *Service {
	scale := p.Config.Staking.WalletScale
	if scale <= 0 {
		scale = 8
	}
	return &Service{
		db:          p.DB,
		node:        p.Node,
		ledger:      p.Ledger,
		transfers:   repository.ProvideStore[Transfer](p.DB),
		tenantID:    p.Config.Platform.ID,
		scale:       scale,
		concurrency: 8,
	}
}

func (s *Service) WithTrx(tx *gorm.DB) *Service {
	c := *s
	c.db = tx
	c.transfers = s.transfers.WithTrx(tx)
	return &c
}

type TransferRequest struct {
	ReferenceID string
	UserID      string
	PlanID      string
	Currency    string
	Amount      decimal.Decimal
	Kind        Kind
}

// Enqueue writes a pending transfer. Call it on a transactional Service so
// the row commits together with the ledger entry it settles.
func (s *Service) Enqueue(ctx context.Context, req TransferRequest) (*Transfer, error) {
	if req.Amount.Sign() <= 0 {
		return nil, errs.InvalidAmount(errs.ReasonAmountTooLow)
	}

	t := &Transfer{
		ID:          s.node.Generate().String(),
		ReferenceID: req.ReferenceID,
		UserID:      req.UserID,
		PlanID:      req.PlanID,
		Currency:    req.Currency,
		Amount:      req.Amount,
		Kind:        req.Kind,
		Status:      StatusPending,
		Metadata: map[string]any{
			"plan_id":  req.PlanID,
			"currency": req.Currency,
			"amount":   req.Amount.String(),
		},
	}
	if err := s.transfers.Create(ctx, t); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errs.AlreadyCreated(fmt.Sprintf("Wallet transfer for %s", req.ReferenceID))
		}
		return nil, err
	}
	return t, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Transfer, error) {
	return s.transfers.FindOne(ctx, &Transfer{ID: id})
}

// Settle pushes one transfer to the Ledger Service. A transfer the Ledger
// Service already knows by reference counts as settled.
func (s *Service) Settle(ctx context.Context, id string) error {
	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("wallet transfer %s not found", id)
	}
	if t.Status == StatusCommitted {
		return nil
	}

	zapLog := zap.L().With(
		zap.String("transfer_id", t.ID),
		zap.String("reference_id", t.ReferenceID),
		zap.String("user_id", t.UserID),
	)

	_, err = s.ledger.AddEntry(ctx, s.entryRequest(t))
	if err != nil && !isDuplicateReference(err) {
		zapLog.Warn("wallet transfer failed", zap.Int("attempts", t.Attempts+1), zap.Error(err))
		if uerr := s.transfers.Update(ctx, t.ID, map[string]any{
			"attempts": t.Attempts + 1,
			"error":    err.Error(),
			"status":   StatusFailed,
		}); uerr != nil {
			zapLog.Error("failed to record wallet transfer failure", zap.Error(uerr))
		}
		return errs.FailedAssetTransfer(err)
	}

	now := time.Now().UTC()
	if err := s.transfers.Update(ctx, t.ID, map[string]any{
		"attempts":   t.Attempts + 1,
		"error":      "",
		"status":     StatusCommitted,
		"settled_at": now,
	}); err != nil {
		return err
	}

	zapLog.Info("wallet transfer settled", zap.String("amount", t.Amount.String()), zap.String("kind", string(t.Kind)))
	return nil
}

// SettlePending retries every unsettled transfer, oldest first, and returns
// how many were committed.
func (s *Service) SettlePending(ctx context.Context, limit int) (int, error) {
	pending, err := s.transfers.Find(ctx, &Transfer{},
		func(db *gorm.DB) *gorm.DB {
			return db.Where("status IN ?", []Status{StatusPending, StatusFailed})
		},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "ASC"}),
		option.WithLimit(limit),
	)
	if err != nil {
		return 0, err
	}

	results := make([]error, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, t := range pending {
		g.Go(func() error {
			results[i] = s.Settle(gctx, t.ID)
			return nil
		})
	}
	_ = g.Wait()

	settled := 0
	for _, err := range results {
		if err == nil {
			settled++
		}
	}
	return settled, errors.Join(results...)
}

func (s *Service) entryRequest(t *Transfer) *ledgerv1.AddEntryRequest {
	entryType := ledgerv1.EntryType_CREDIT
	if t.Kind == KindDebit {
		entryType = ledgerv1.EntryType_DEBIT
	}

	return &ledgerv1.AddEntryRequest{
		TenantId:    s.tenantID,
		MemberId:    t.UserID,
		Type:        entryType,
		Amount:      MinorUnits(t.Amount, s.scale),
		ReferenceId: t.ReferenceID,
		Metadata: map[string]string{
			"plan_id":  t.PlanID,
			"currency": t.Currency,
			"amount":   t.Amount.String(),
		},
	}
}

// MinorUnits converts an amount into the integer units the Ledger Service
// stores. Digits beyond scale are truncated.
func MinorUnits(amount decimal.Decimal, scale int32) int64 {
	return amount.Shift(scale).Truncate(0).IntPart()
}

func isDuplicateReference(err error) bool {
	if status.Code(err) == codes.AlreadyExists {
		return true
	}
	return strings.Contains(err.Error(), "reference_id already exists")
}
