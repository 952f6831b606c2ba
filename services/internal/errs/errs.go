// Package errs holds the staking error taxonomy. Every constructor returns an
// errutil.BaseError wrapping one of the sentinels below, so callers can branch
// with errors.Is and transports can map the status.
package errs

import (
	"errors"
	"fmt"

	"staking-controlplane/pkg/errutil"
)

var (
	ErrInvalidPlanID                = errors.New("InvalidPlanId")
	ErrInvalidAmount                = errors.New("InvalidAmount")
	ErrAlreadyCreated               = errors.New("AlreadyCreated")
	ErrTooSoon                      = errors.New("TooSoon")
	ErrTooLate                      = errors.New("TooLate")
	ErrParentIsNotCreated           = errors.New("ParentIsNotCreated")
	ErrPlanTransactionIsNotCreated  = errors.New("PlanTransactionIsNotCreated")
	ErrPlanIsNotInstantlyUnstakable = errors.New("PlanIsNotInstantlyUnstakable")
	ErrCantEndReleasedStaking       = errors.New("CantEndReleasedStaking")
	ErrUserStakingAlreadyExtended   = errors.New("UserStakingAlreadyExtended")
	ErrAdminMistake                 = errors.New("AdminMistake")
	ErrLowPlanCapacity              = errors.New("LowPlanCapacity")
	ErrFailedAssetTransfer          = errors.New("FailedAssetTransfer")
)

const (
	ReasonAmountTooLow        = "Amount is too low."
	ReasonAmountNotAcceptable = "Amount is not acceptable."
	ReasonPoolInsufficient    = "Amount is greater than the remaining reward pool."
	ReasonCapacityExceeded    = "Amount is greater than the remaining plan capacity."
	ReasonExtendAboveStake    = "Extension amount is greater than the staked amount."
	ReasonRewardDecreased     = "Fetched reward can not be lower than the previous report."
	ReasonBelowExtension      = "Remaining stake can not be lower than the extension amount."
)

func InvalidPlanID(planID string) error {
	return errutil.NotFound(fmt.Sprintf("There is no plan with id %q.", planID), ErrInvalidPlanID)
}

func InvalidAmount(reason string) error {
	return errutil.BadRequest(reason, ErrInvalidAmount)
}

func AlreadyCreated(what string) error {
	return errutil.Conflict(fmt.Sprintf("%s is already created.", what), ErrAlreadyCreated)
}

func TooSoon(msg string) error {
	return errutil.UnprocessableEntity(msg, ErrTooSoon)
}

func TooLate(msg string) error {
	return errutil.UnprocessableEntity(msg, ErrTooLate)
}

func ParentIsNotCreated(what string) error {
	return errutil.UnprocessableEntity(fmt.Sprintf("Parent %s is not created.", what), ErrParentIsNotCreated)
}

func PlanTransactionIsNotCreated(what string) error {
	return errutil.UnprocessableEntity(fmt.Sprintf("Plan %s transaction is not created.", what), ErrPlanTransactionIsNotCreated)
}

func PlanIsNotInstantlyUnstakable(planID string) error {
	return errutil.UnprocessableEntity(fmt.Sprintf("Plan %q does not allow instant end.", planID), ErrPlanIsNotInstantlyUnstakable)
}

func CantEndReleasedStaking(planID string) error {
	return errutil.UnprocessableEntity(fmt.Sprintf("Staking period of plan %q is over.", planID), ErrCantEndReleasedStaking)
}

func UserStakingAlreadyExtended(userID, planID string) error {
	return errutil.Conflict(fmt.Sprintf("Staking of user %q is already extended into plan %q.", userID, planID), ErrUserStakingAlreadyExtended)
}

func AdminMistake(msg string) error {
	return errutil.Internal(msg, ErrAdminMistake)
}

func LowPlanCapacity(planID string) error {
	return errutil.UnprocessableEntity(fmt.Sprintf("Plan %q does not have enough filled capacity.", planID), ErrLowPlanCapacity)
}

func FailedAssetTransfer(err error) error {
	return errutil.BadGateway("Asset transfer to the ledger service failed.", fmt.Errorf("%w: %w", ErrFailedAssetTransfer, err))
}

// Reason returns the human readable message of a taxonomy error.
func Reason(err error) string {
	var base errutil.BaseError
	if errors.As(err, &base) {
		return base.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// Kind names the taxonomy sentinel err wraps, or "Internal".
func Kind(err error) string {
	for _, s := range []error{
		ErrInvalidPlanID, ErrInvalidAmount, ErrAlreadyCreated, ErrTooSoon, ErrTooLate,
		ErrParentIsNotCreated, ErrPlanTransactionIsNotCreated, ErrPlanIsNotInstantlyUnstakable,
		ErrCantEndReleasedStaking, ErrUserStakingAlreadyExtended, ErrAdminMistake,
		ErrLowPlanCapacity, ErrFailedAssetTransfer,
	} {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "Internal"
}
