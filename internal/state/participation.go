package state

import (
	"fmt"

	"github.com/google/uuid"
)

// Participation is one staker's position in one house: their stake
// lifecycle, the stake waiting for activation, and the balance ready for
// withdrawal. A position may only be mutated by operations presenting its
// lastUpdatedEpoch as the current epoch — every external operation must
// first replay missed end-of-day transitions before applying a new action.
// That replay is the single most important correctness invariant of the
// whole system and is owned by the orchestrator, not this type.
type Participation struct {
	houseID          uuid.UUID
	lastUpdatedEpoch uint64

	stake            uint64
	pendingStake     uint64
	claimableBalance uint64

	unstakeRequested bool
}

func NewParticipation(houseID uuid.UUID, epoch uint64) *Participation {
	return &Participation{
		houseID:          houseID,
		lastUpdatedEpoch: epoch,
	}
}

// HouseID returns the house this position belongs to.
func (p *Participation) HouseID() uuid.UUID {
	return p.houseID
}

// LastUpdatedEpoch returns the epoch this position has caught up through.
func (p *Participation) LastUpdatedEpoch() uint64 {
	return p.lastUpdatedEpoch
}

// Stake returns the stake counted for this position.
func (p *Participation) Stake() uint64 {
	return p.stake
}

// PendingStake returns the stake waiting for activation.
func (p *Participation) PendingStake() uint64 {
	return p.pendingStake
}

// ClaimableBalance returns the funds ready for withdrawal.
func (p *Participation) ClaimableBalance() uint64 {
	return p.claimableBalance
}

// UnstakeRequested reports whether a full exit is pending.
func (p *Participation) UnstakeRequested() bool {
	return p.unstakeRequested
}

// IsEmpty reports whether the position holds nothing and can be destroyed.
func (p *Participation) IsEmpty() bool {
	return p.stake == 0 && p.pendingStake == 0 && p.claimableBalance == 0 && !p.unstakeRequested
}

func (p *Participation) requireCaughtUp(epoch uint64) error {
	if epoch != p.lastUpdatedEpoch {
		return fmt.Errorf("participation at epoch %d, operation at %d: %w", p.lastUpdatedEpoch, epoch, ErrEpochMismatch)
	}
	return nil
}

// AddStake credits new stake to the position. While a cycle runs the stake
// parks in pendingStake and activates at the next epoch boundary; while
// inactive it counts immediately.
func (p *Participation) AddStake(epoch uint64, amount uint64, isCycleActive bool) error {
	if err := p.requireCaughtUp(epoch); err != nil {
		return err
	}
	if p.unstakeRequested {
		return fmt.Errorf("add stake: %w", ErrCancellationWasRequested)
	}

	if isCycleActive {
		p.pendingStake += amount
	} else {
		p.stake += amount
	}
	return nil
}

// Unstake requests a full exit. Pending stake was never at risk and moves
// to claimable immediately in either case. Active stake is flagged for a
// loss-adjusted sweep at epoch end while a cycle runs — the flag is only
// set when there is stake to realize — and moves to claimable directly
// while inactive. Returns the previously counted stake and the pending
// stake removed, which the caller forwards to History.ProcessUnstake.
func (p *Participation) Unstake(epoch uint64, isCycleActive bool) (prevStake, pendingStakeRemoved uint64, err error) {
	if err := p.requireCaughtUp(epoch); err != nil {
		return 0, 0, err
	}
	if p.unstakeRequested {
		return 0, 0, fmt.Errorf("unstake: %w", ErrCancellationWasRequested)
	}

	prevStake = p.stake
	if isCycleActive {
		if prevStake > 0 {
			p.unstakeRequested = true
		}
	} else {
		p.claimableBalance += p.stake
		p.stake = 0
	}

	pendingStakeRemoved = p.pendingStake
	p.claimableBalance += p.pendingStake
	p.pendingStake = 0

	return prevStake, pendingStakeRemoved, nil
}

// ProcessEndOfDay applies this position's share of one finished epoch.
// profits and losses are this participant's share — already computed by
// the caller from the pool-wide result — not the pool totals. The stake
// floors at zero within the precision allowance; a pending exit sweeps the
// post-result stake into claimable; pending stake activates. The position
// advances exactly one epoch per call because each epoch's share depends
// on the stake level at the start of that specific epoch.
func (p *Participation) ProcessEndOfDay(currentEpoch uint64, profits, losses uint64) error {
	if currentEpoch <= p.lastUpdatedEpoch {
		return fmt.Errorf("participation end of day at epoch %d, position at %d: %w",
			currentEpoch, p.lastUpdatedEpoch, ErrEpochHasNotFinishedYet)
	}
	if profits > 0 && losses > 0 {
		return fmt.Errorf("profits %d and losses %d both non-zero: %w", profits, losses, ErrInvalidProfitsOrLosses)
	}

	switch {
	case profits > 0:
		p.stake += profits
	case losses > 0:
		if losses > p.stake {
			if losses > p.stake+PrecisionErrorAllowance {
				return fmt.Errorf("loss share %d exceeds stake %d: %w", losses, p.stake, ErrInvalidProfitsOrLosses)
			}
			losses = p.stake
		}
		p.stake -= losses
	}

	if p.unstakeRequested {
		p.claimableBalance += p.stake
		p.stake = 0
		p.unstakeRequested = false
	}

	p.stake += p.pendingStake
	p.pendingStake = 0

	p.lastUpdatedEpoch++
	return nil
}

// ClaimAll drains the claimable balance. The position must be caught up.
func (p *Participation) ClaimAll(epoch uint64) (uint64, error) {
	if err := p.requireCaughtUp(epoch); err != nil {
		return 0, err
	}
	amount := p.claimableBalance
	p.claimableBalance = 0
	return amount, nil
}
