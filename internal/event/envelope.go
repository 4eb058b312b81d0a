package event

import "github.com/google/uuid"

// EventType discriminator for command payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeHouseCreated
	EventTypeStakePlaced
	EventTypeUnstakeRequested
	EventTypeClaimRequested
	EventTypeTransactionBatch
	EventTypeEpochTick
	EventTypeFeeWithdrawal
)

// EventEnvelope wraps every applied command in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by the dispatcher
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Command type discriminator
	EventType EventType

	// House context (nullable for global commands like epoch ticks)
	HouseID *uuid.UUID

	// Caller-supplied chain epoch the command was applied at
	Epoch uint64

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded command payload
	Payload []byte

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all command payloads implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// HouseID returns the house context (nil for global commands)
	HouseID() *uuid.UUID

	// SourceSequence returns the upstream ordering key
	SourceSequence() int64

	// ChainEpoch returns the caller-supplied epoch clock value
	ChainEpoch() uint64
}

func (et EventType) String() string {
	switch et {
	case EventTypeHouseCreated:
		return "HouseCreated"
	case EventTypeStakePlaced:
		return "StakePlaced"
	case EventTypeUnstakeRequested:
		return "UnstakeRequested"
	case EventTypeClaimRequested:
		return "ClaimRequested"
	case EventTypeTransactionBatch:
		return "TransactionBatch"
	case EventTypeEpochTick:
		return "EpochTick"
	case EventTypeFeeWithdrawal:
		return "FeeWithdrawal"
	default:
		return "Unknown"
	}
}
