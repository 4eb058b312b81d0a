package event

import (
	"fmt"

	"github.com/google/uuid"
)

// EpochTick announces a new chain epoch. It is a global command: the
// dispatcher runs the lazy end-of-day rollover on every house. Rollovers
// also happen implicitly on any house-scoped command carrying a newer
// epoch, so ticks are a liveness aid, not a correctness requirement.
// Idempotency key: the epoch number.
type EpochTick struct {
	Epoch    uint64
	Sequence int64
}

func (e *EpochTick) IdempotencyKey() string {
	return fmt.Sprintf("epoch_tick:%d", e.Epoch)
}

func (e *EpochTick) EventType() EventType {
	return EventTypeEpochTick
}

func (e *EpochTick) HouseID() *uuid.UUID {
	return nil
}

func (e *EpochTick) SourceSequence() int64 {
	return e.Sequence
}

func (e *EpochTick) ChainEpoch() uint64 {
	return e.Epoch
}
