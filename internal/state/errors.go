package state

import "errors"

// PrecisionErrorAllowance is the fixed tolerance, in base units, for
// fixed-point rounding drift across a settlement or epoch rollover.
// It must stay exactly 2: widening it hides real shortfalls, removing it
// makes rounding-edge operations abort non-deterministically.
const PrecisionErrorAllowance = 2

// All failures below are non-retryable precondition violations. Callers are
// expected to re-fetch fresh state and re-issue, not retry blindly. Every
// failing operation leaves the aggregate unmutated.
var (
	// ErrInsufficientFunds is any balance-short withdrawal or transfer
	// beyond the precision allowance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrEpochMismatch means a stale object was presented to an operation
	// that expects it caught up to the current epoch.
	ErrEpochMismatch = errors.New("epoch mismatch")

	// ErrEpochHasNotFinishedYet is an attempt to finalize the current,
	// still-running epoch.
	ErrEpochHasNotFinishedYet = errors.New("epoch has not finished yet")

	ErrCannotUnstakeMoreThanStaked = errors.New("cannot unstake more than staked")

	// ErrInvalidProfitsOrLosses covers both-nonzero day results and losses
	// exceeding stake beyond the precision allowance.
	ErrInvalidProfitsOrLosses = errors.New("invalid profits or losses")

	// ErrCancellationWasRequested guards a position that has an exit pending.
	ErrCancellationWasRequested = errors.New("cancellation was requested")

	// ErrHouseNotActive rejects transaction batches while no funding cycle
	// is running.
	ErrHouseNotActive = errors.New("house is not active")

	// ErrVaultNotActive rejects settlement against an unfunded play balance.
	ErrVaultNotActive = errors.New("vault is not active")

	// ErrUnknownTransaction is defensive; the transaction kinds are a closed
	// set and games cannot construct others.
	ErrUnknownTransaction = errors.New("unknown transaction kind")

	// ErrInvalidFeeConfiguration rejects house creation with fee rates
	// summing to 100% or more of a bet.
	ErrInvalidFeeConfiguration = errors.New("invalid fee configuration")

	// ErrUnauthorized is returned when a presented credential does not match
	// the stored identifier for the operation.
	ErrUnauthorized = errors.New("unauthorized")
)
