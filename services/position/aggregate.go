package position

import (
	"context"
	"errors"
	"fmt"

	"staking-controlplane/pkg/errutil"
	"staking-controlplane/pkg/repository"
	"staking-controlplane/services/internal/errs"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrPositionNotFound = errors.New("position not found")
	ErrInvalidStatus    = errors.New("position status does not allow the change")
	ErrAlreadyLinked    = errors.New("position already linked to a next cycle")
	ErrNegativeBalance  = errors.New("position amount would become negative")
)

// Aggregate is the optional second store maintained next to the ledger
// chains. Jobs call it after their chain writes, inside the same transaction.
type Aggregate interface {
	Enabled() bool
	WithTrx(tx *gorm.DB) Aggregate
	Stake(ctx context.Context, userID, planID string, amount decimal.Decimal) error
	MarkExtending(ctx context.Context, userID, planID string) error
	ApplyReward(ctx context.Context, userID, planID string, reward decimal.Decimal) error
	// EnsureRewardUnpaid fails with errs.ErrAlreadyCreated when a reward
	// join-record already exists for the position.
	EnsureRewardUnpaid(ctx context.Context, userID, planID string) error
	RecordRewardPayment(ctx context.Context, userID, planID string, amount decimal.Decimal, transferID string) error
	Extend(ctx context.Context, userID, fromPlanID, toPlanID string, amount decimal.Decimal) error
	EarlyEnd(ctx context.Context, userID, planID string, amount, forfeitedReward decimal.Decimal) error
	// EndStaking marks the part of the position that does not roll over as
	// waiting for release.
	EndStaking(ctx context.Context, userID, planID string, unstaked decimal.Decimal) error
	Release(ctx context.Context, userID, planID string, amount decimal.Decimal, transferID string) error
	// Withdraw returns principal before the plan starts. A position left
	// empty moves to status.
	Withdraw(ctx context.Context, userID, planID string, amount decimal.Decimal, status Status) error
}

type Store struct {
	node *snowflake.Node

	positions repository.Repository[Position]
	requests  repository.Repository[Request]
	wallets   repository.Repository[WalletTransaction]
	db        *gorm.DB
}

func NewStore(db *gorm.DB, node *snowflake.Node) *Store {
	return &Store{
		node:      node,
		positions: repository.ProvideStore[Position](db),
		requests:  repository.ProvideStore[Request](db),
		wallets:   repository.ProvideStore[WalletTransaction](db),
		db:        db,
	}
}

func (s *Store) Enabled() bool { return true }

func (s *Store) WithTrx(tx *gorm.DB) Aggregate {
	return &Store{
		node:      s.node,
		positions: s.positions.WithTrx(tx),
		requests:  s.requests.WithTrx(tx),
		wallets:   s.wallets.WithTrx(tx),
		db:        tx,
	}
}

func (s *Store) Get(ctx context.Context, userID, planID string) (*Position, error) {
	return s.positions.FindOne(ctx, &Position{UserID: userID, PlanID: planID})
}

func (s *Store) mustGet(ctx context.Context, userID, planID string) (*Position, error) {
	p, err := s.Get(ctx, userID, planID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: user %q plan %q", ErrPositionNotFound, userID, planID)
	}
	return p, nil
}

func (s *Store) Stake(ctx context.Context, userID, planID string, amount decimal.Decimal) error {
	p, err := s.Get(ctx, userID, planID)
	if err != nil {
		return err
	}

	if p == nil {
		p = &Position{
			ID:           s.node.Generate().String(),
			UserID:       userID,
			PlanID:       planID,
			Status:       StatusLocked,
			LockedAmount: amount,
		}
		if err := s.positions.Create(ctx, p); err != nil {
			return err
		}
	} else {
		switch p.Status {
		case StatusRequested, StatusLocked, StatusExtendFromPreviousCycle, StatusUserCanceled, StatusAdminRejected:
		default:
			return fmt.Errorf("%w: stake into %s position %s", ErrInvalidStatus, p.Status, p.ID)
		}
		if err := s.positions.Update(ctx, p.ID, map[string]any{
			"locked_amount": p.LockedAmount.Add(amount),
			"status":        StatusLocked,
		}); err != nil {
			return err
		}
	}

	return s.audit(ctx, p.ID, RequestTypeStake, amount)
}

// MarkExtending records the user's intent to roll the position into the next cycle.
func (s *Store) MarkExtending(ctx context.Context, userID, planID string) error {
	p, err := s.mustGet(ctx, userID, planID)
	if err != nil {
		return err
	}
	switch p.Status {
	case StatusExtendToNextCycle:
		return nil
	case StatusLocked:
	default:
		return fmt.Errorf("%w: extend %s position %s", ErrInvalidStatus, p.Status, p.ID)
	}
	return s.positions.Update(ctx, p.ID, map[string]any{"status": StatusExtendToNextCycle})
}

func (s *Store) ApplyReward(ctx context.Context, userID, planID string, reward decimal.Decimal) error {
	p, err := s.mustGet(ctx, userID, planID)
	if err != nil {
		return err
	}
	if !p.Status.EarnsReward() {
		return nil
	}
	if reward.Sign() < 0 {
		return fmt.Errorf("%w: reward %s", ErrNegativeBalance, reward)
	}
	return s.positions.Update(ctx, p.ID, map[string]any{"reward_amount": reward})
}

func (s *Store) EnsureRewardUnpaid(ctx context.Context, userID, planID string) error {
	p, err := s.Get(ctx, userID, planID)
	if err != nil || p == nil {
		return err
	}

	paid, err := s.wallets.FindOne(ctx, &WalletTransaction{PositionID: p.ID, Type: WalletTransactionReward})
	if err != nil {
		return err
	}
	if paid != nil {
		return errutil.Conflict(fmt.Sprintf("Reward of position %s is already paid by transfer %s.", p.ID, paid.WalletTransferID), errs.ErrAlreadyCreated)
	}
	return nil
}

func (s *Store) RecordRewardPayment(ctx context.Context, userID, planID string, amount decimal.Decimal, transferID string) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: reward payment %s", ErrNegativeBalance, amount)
	}

	p, err := s.mustGet(ctx, userID, planID)
	if err != nil {
		return err
	}

	if err := s.wallets.Create(ctx, &WalletTransaction{
		ID:               s.node.Generate().String(),
		PositionID:       p.ID,
		Type:             WalletTransactionReward,
		Amount:           amount,
		WalletTransferID: transferID,
	}); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return errutil.Conflict(fmt.Sprintf("Reward of position %s is already paid.", p.ID), errs.ErrAlreadyCreated)
		}
		return err
	}

	return s.positions.Update(ctx, p.ID, map[string]any{"reward_amount": decimal.Zero})
}

func (s *Store) Extend(ctx context.Context, userID, fromPlanID, toPlanID string, amount decimal.Decimal) error {
	ending, err := s.mustGet(ctx, userID, fromPlanID)
	if err != nil {
		return err
	}
	if ending.Status != StatusExtendToNextCycle {
		return fmt.Errorf("%w: extend %s position %s", ErrInvalidStatus, ending.Status, ending.ID)
	}
	if ending.NextCycleID != nil {
		return fmt.Errorf("%w: %s -> %s", ErrAlreadyLinked, ending.ID, *ending.NextCycleID)
	}
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: extend %s", ErrNegativeBalance, amount)
	}

	successor, err := s.Get(ctx, userID, toPlanID)
	if err != nil {
		return err
	}
	if successor == nil {
		successor = &Position{
			ID:                              s.node.Generate().String(),
			UserID:                          userID,
			PlanID:                          toPlanID,
			Status:                          StatusExtendFromPreviousCycle,
			LockedAmount:                    amount,
			ExtendedFromPreviousCycleAmount: amount,
		}
		if err := s.positions.Create(ctx, successor); err != nil {
			return err
		}
	} else {
		if err := s.positions.Update(ctx, successor.ID, map[string]any{
			"status":                              StatusExtendFromPreviousCycle,
			"locked_amount":                       successor.LockedAmount.Add(amount),
			"extended_from_previous_cycle_amount": successor.ExtendedFromPreviousCycleAmount.Add(amount),
		}); err != nil {
			return err
		}
	}

	res := s.db.WithContext(ctx).Model(&Position{}).
		Where("id = ? AND next_cycle_id IS NULL", ending.ID).
		Update("next_cycle_id", successor.ID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyLinked, ending.ID)
	}

	return s.audit(ctx, successor.ID, RequestTypeExtend, amount)
}

func (s *Store) EarlyEnd(ctx context.Context, userID, planID string, amount, forfeitedReward decimal.Decimal) error {
	p, err := s.mustGet(ctx, userID, planID)
	if err != nil {
		return err
	}
	switch p.Status {
	case StatusLocked, StatusExtendToNextCycle:
	default:
		return fmt.Errorf("%w: early end of %s position %s", ErrInvalidStatus, p.Status, p.ID)
	}

	locked := p.LockedAmount.Sub(amount)
	if amount.Sign() <= 0 || locked.Sign() < 0 {
		return fmt.Errorf("%w: locked %s minus %s", ErrNegativeBalance, p.LockedAmount, amount)
	}

	reward := p.RewardAmount.Sub(forfeitedReward)
	if reward.Sign() < 0 {
		reward = decimal.Zero
	}

	status := p.Status
	if locked.IsZero() {
		status = StatusReleased
	}

	if err := s.audit(ctx, p.ID, RequestTypeEarlyEnd, amount); err != nil {
		return err
	}

	return s.positions.Update(ctx, p.ID, map[string]any{
		"locked_amount":      locked,
		"early_ended_amount": p.EarlyEndedAmount.Add(amount),
		"reward_amount":      reward,
		"status":             status,
	})
}

func (s *Store) EndStaking(ctx context.Context, userID, planID string, unstaked decimal.Decimal) error {
	p, err := s.mustGet(ctx, userID, planID)
	if err != nil {
		return err
	}

	status := p.Status
	switch p.Status {
	case StatusLocked, StatusExtendFromPreviousCycle:
		status = StatusPendingRelease
	case StatusExtendToNextCycle:
	default:
		return fmt.Errorf("%w: end %s position %s", ErrInvalidStatus, p.Status, p.ID)
	}
	if unstaked.Sign() <= 0 || unstaked.GreaterThan(p.LockedAmount) {
		return fmt.Errorf("%w: locked %s minus %s", ErrNegativeBalance, p.LockedAmount, unstaked)
	}

	if err := s.audit(ctx, p.ID, RequestTypeEnd, unstaked); err != nil {
		return err
	}
	return s.positions.Update(ctx, p.ID, map[string]any{"status": status})
}

func (s *Store) Release(ctx context.Context, userID, planID string, amount decimal.Decimal, transferID string) error {
	p, err := s.mustGet(ctx, userID, planID)
	if err != nil {
		return err
	}
	switch p.Status {
	case StatusPendingRelease, StatusExtendToNextCycle:
	default:
		return fmt.Errorf("%w: release %s position %s", ErrInvalidStatus, p.Status, p.ID)
	}

	locked := p.LockedAmount.Sub(amount)
	if amount.Sign() <= 0 || locked.Sign() < 0 {
		return fmt.Errorf("%w: locked %s minus %s", ErrNegativeBalance, p.LockedAmount, amount)
	}

	if err := s.wallets.Create(ctx, &WalletTransaction{
		ID:               s.node.Generate().String(),
		PositionID:       p.ID,
		Type:             WalletTransactionPrincipal,
		Amount:           amount,
		WalletTransferID: transferID,
	}); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return errutil.Conflict(fmt.Sprintf("Principal of position %s is already released.", p.ID), errs.ErrAlreadyCreated)
		}
		return err
	}

	status := p.Status
	if status == StatusPendingRelease {
		status = StatusReleased
	}
	if err := s.audit(ctx, p.ID, RequestTypeRelease, amount); err != nil {
		return err
	}
	return s.positions.Update(ctx, p.ID, map[string]any{
		"locked_amount": locked,
		"status":        status,
	})
}

func (s *Store) Withdraw(ctx context.Context, userID, planID string, amount decimal.Decimal, status Status) error {
	p, err := s.mustGet(ctx, userID, planID)
	if err != nil {
		return err
	}
	switch p.Status {
	case StatusRequested, StatusLocked, StatusExtendToNextCycle, StatusExtendFromPreviousCycle:
	default:
		return fmt.Errorf("%w: withdraw from %s position %s", ErrInvalidStatus, p.Status, p.ID)
	}

	locked := p.LockedAmount.Sub(amount)
	if amount.Sign() <= 0 || locked.Sign() < 0 {
		return fmt.Errorf("%w: locked %s minus %s", ErrNegativeBalance, p.LockedAmount, amount)
	}

	t := RequestTypeCancel
	if status == StatusAdminRejected {
		t = RequestTypeReject
	}
	if err := s.audit(ctx, p.ID, t, amount); err != nil {
		return err
	}

	next := p.Status
	if locked.IsZero() {
		next = status
	}
	return s.positions.Update(ctx, p.ID, map[string]any{
		"locked_amount": locked,
		"status":        next,
	})
}

func (s *Store) audit(ctx context.Context, positionID string, t RequestType, amount decimal.Decimal) error {
	return s.requests.Create(ctx, &Request{
		ID:         s.node.Generate().String(),
		PositionID: positionID,
		Type:       t,
		Amount:     amount,
	})
}

// Noop is the aggregate used while dual-write is off.
type Noop struct{}

func (Noop) Enabled() bool { return false }

func (n Noop) WithTrx(*gorm.DB) Aggregate { return n }

func (Noop) Stake(context.Context, string, string, decimal.Decimal) error { return nil }

func (Noop) MarkExtending(context.Context, string, string) error { return nil }

func (Noop) ApplyReward(context.Context, string, string, decimal.Decimal) error { return nil }

func (Noop) EnsureRewardUnpaid(context.Context, string, string) error { return nil }

func (Noop) RecordRewardPayment(context.Context, string, string, decimal.Decimal, string) error {
	return nil
}

func (Noop) Extend(context.Context, string, string, string, decimal.Decimal) error { return nil }

func (Noop) EarlyEnd(context.Context, string, string, decimal.Decimal, decimal.Decimal) error {
	return nil
}

func (Noop) EndStaking(context.Context, string, string, decimal.Decimal) error { return nil }

func (Noop) Release(context.Context, string, string, decimal.Decimal, string) error { return nil }

func (Noop) Withdraw(context.Context, string, string, decimal.Decimal, Status) error { return nil }
