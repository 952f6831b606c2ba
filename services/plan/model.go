package plan

import (
	"fmt"
	"time"

	"staking-controlplane/pkg/util"
	"staking-controlplane/services/internal/errs"

	"github.com/shopspring/decimal"
)

// DefaultPrecision is the smallest amount unit a plan tracks.
var DefaultPrecision = decimal.New(1, -10)

// minAnnouncementPeriod guards against a misconfigured announcement period.
const (
	minAnnouncementPeriod      = time.Minute
	fallbackAnnouncementPeriod = 24 * time.Hour
)

// Plan is a time-boxed staking campaign for one currency. It is provisioned
// elsewhere; this module only moves FilledCapacity.
type Plan struct {
	ID                       string          `gorm:"column:id;primaryKey;type:varchar(32)"`
	Name                     string          `gorm:"column:name;type:varchar(255)"`
	Currency                 string          `gorm:"column:currency;type:varchar(16);not null"`
	StakedAt                 time.Time       `gorm:"column:staked_at;not null;index"`
	StakingPeriod            time.Duration   `gorm:"column:staking_period;not null"`
	UnstakingPeriod          time.Duration   `gorm:"column:unstaking_period;not null;default:0"`
	RewardAnnouncementPeriod time.Duration   `gorm:"column:reward_announcement_period;not null"`
	MinStakingAmount         decimal.Decimal `gorm:"column:min_staking_amount;type:numeric(30,10);not null;default:0"`
	StakingPrecision         decimal.Decimal `gorm:"column:staking_precision;type:numeric(30,10);not null;default:0.0000000001"`
	TotalCapacity            decimal.Decimal `gorm:"column:total_capacity;type:numeric(30,10);not null;default:0"`
	FilledCapacity           decimal.Decimal `gorm:"column:filled_capacity;type:numeric(30,10);not null;default:0"`
	IsInstantlyUnstakable    bool            `gorm:"column:is_instantly_unstakable;not null;default:false"`
	ExtendedFromID           *string         `gorm:"column:extended_from_id;type:varchar(32);index"`
	CreatedAt                time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (Plan) TableName() string { return "plans" }

// FinalInstant is the instant of the last reward announcement, when the
// staking period ends.
func (p *Plan) FinalInstant() time.Time {
	return util.Timestamp(p.StakedAt.Add(p.StakingPeriod))
}

// IsElapsed reports whether the staking period is over at now.
func (p *Plan) IsElapsed(now time.Time) bool {
	return !now.Before(p.FinalInstant())
}

// ReleaseInstant is when principal that does not roll over becomes payable.
func (p *Plan) ReleaseInstant() time.Time {
	return util.Timestamp(p.FinalInstant().Add(p.UnstakingPeriod))
}

func (p *Plan) AnnouncementPeriod() time.Duration {
	if p.RewardAnnouncementPeriod <= minAnnouncementPeriod {
		return fallbackAnnouncementPeriod
	}
	return p.RewardAnnouncementPeriod
}

// AnnouncementInstant returns the latest announcement instant not after now:
// stakedAt + k*period, capped at the final instant.
func (p *Plan) AnnouncementInstant(now time.Time) (time.Time, error) {
	if now.Before(p.StakedAt) {
		return time.Time{}, errs.TooSoon(fmt.Sprintf("Plan %q has not started staking yet.", p.ID))
	}

	final := p.FinalInstant()
	if !now.Before(final) {
		return final, nil
	}

	period := p.AnnouncementPeriod()
	k := int64(now.Sub(p.StakedAt) / period)
	return util.Timestamp(p.StakedAt.Add(time.Duration(k) * period)), nil
}

func (p *Plan) IsFinal(instant time.Time) bool {
	return util.Timestamp(instant).Equal(p.FinalInstant())
}

func (p *Plan) Precision() decimal.Decimal {
	if p.StakingPrecision.Sign() <= 0 {
		return DefaultPrecision
	}
	return p.StakingPrecision
}

// Quantize rounds an amount down to the plan precision.
func (p *Plan) Quantize(amount decimal.Decimal) decimal.Decimal {
	return util.FloorTo(amount, p.Precision())
}

// HasCapacity reports whether amount still fits into the plan. Plans with no
// total capacity are uncapped.
func (p *Plan) HasCapacity(amount decimal.Decimal) bool {
	if p.TotalCapacity.Sign() <= 0 {
		return true
	}
	return p.FilledCapacity.Add(amount).LessThanOrEqual(p.TotalCapacity)
}
