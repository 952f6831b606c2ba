package plan

import (
	"context"
	"errors"
	"time"

	"staking-controlplane/pkg/db/option"
	"staking-controlplane/services/internal/errs"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Repository describes database operations available for plans.
type Repository interface {
	WithTrx(tx *gorm.DB) Repository
	Create(ctx context.Context, p *Plan) error
	// Get returns errs.ErrInvalidPlanID when the plan does not exist.
	Get(ctx context.Context, planID string) (*Plan, error)
	// Lock is Get with SELECT ... FOR UPDATE; it serializes writers of one plan.
	Lock(ctx context.Context, planID string) (*Plan, error)
	Successors(ctx context.Context, planID string) ([]*Plan, error)
	AdjustFilledCapacity(ctx context.Context, planID string, delta decimal.Decimal) error
	// ExtendCapacity grows both total and filled capacity, e.g. for principal
	// rolled over from the previous cycle.
	ExtendCapacity(ctx context.Context, planID string, delta decimal.Decimal) error
	ListStartedBefore(ctx context.Context, now time.Time, afterID string, limit int) ([]*Plan, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository returns a gorm backed Repository implementation.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithTrx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &gormRepository{db: tx}
}

func (r *gormRepository) Create(ctx context.Context, p *Plan) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *gormRepository) Get(ctx context.Context, planID string) (*Plan, error) {
	return r.get(ctx, planID)
}

func (r *gormRepository) Lock(ctx context.Context, planID string) (*Plan, error) {
	return r.get(ctx, planID, option.WithLockingUpdate())
}

func (r *gormRepository) get(ctx context.Context, planID string, opts ...option.QueryOption) (*Plan, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	query := r.db.WithContext(ctx).Where("id = ?", planID)
	for _, opt := range opts {
		query = opt(query)
	}

	var p Plan
	if err := query.Take(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.InvalidPlanID(planID)
		}
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) Successors(ctx context.Context, planID string) ([]*Plan, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var plans []*Plan
	err := r.db.WithContext(ctx).
		Where("extended_from_id = ?", planID).
		Order("id ASC").
		Find(&plans).Error
	if err != nil {
		return nil, err
	}
	return plans, nil
}

// AdjustFilledCapacity adds delta to filled_capacity unless the result would be negative.
func (r *gormRepository) AdjustFilledCapacity(ctx context.Context, planID string, delta decimal.Decimal) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}

	res := r.db.WithContext(ctx).Model(&Plan{}).
		Where("id = ? AND filled_capacity + ? >= 0", planID, delta).
		Update("filled_capacity", gorm.Expr("filled_capacity + ?", delta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errs.LowPlanCapacity(planID)
	}
	return nil
}

func (r *gormRepository) ExtendCapacity(ctx context.Context, planID string, delta decimal.Decimal) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}

	return r.db.WithContext(ctx).Model(&Plan{}).
		Where("id = ?", planID).
		Updates(map[string]any{
			"total_capacity":  gorm.Expr("CASE WHEN total_capacity > 0 THEN total_capacity + ? ELSE total_capacity END", delta),
			"filled_capacity": gorm.Expr("filled_capacity + ?", delta),
		}).Error
}

func (r *gormRepository) ListStartedBefore(ctx context.Context, now time.Time, afterID string, limit int) ([]*Plan, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	query := r.db.WithContext(ctx).
		Where("staked_at <= ?", now).
		Order("id ASC")
	if afterID != "" {
		query = query.Where("id > ?", afterID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var plans []*Plan
	if err := query.Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}
