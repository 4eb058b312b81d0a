package event

import "github.com/google/uuid"

// LegKind discriminates a settlement leg.
type LegKind int32

const (
	LegKindUnknown LegKind = iota
	LegKindBet
	LegKindWin
)

func (k LegKind) String() string {
	switch k {
	case LegKindBet:
		return "bet"
	case LegKindWin:
		return "win"
	default:
		return "unknown"
	}
}

// Leg is one bet or win inside a settlement batch.
type Leg struct {
	Kind   LegKind
	Amount uint64
}

// TransactionBatch is one game interaction's settlement: the typed bet/win
// legs a game reports for one participant, optionally attributed to a
// referrer for referral fees.
// Idempotency key: batch_id (UUID from the game).
type TransactionBatch struct {
	BatchID       uuid.UUID
	House         uuid.UUID
	ParticipantID uuid.UUID
	Referrer      *uuid.UUID
	Legs          []Leg
	Epoch         uint64
	Sequence      int64
}

func (t *TransactionBatch) IdempotencyKey() string {
	return t.BatchID.String()
}

func (t *TransactionBatch) EventType() EventType {
	return EventTypeTransactionBatch
}

func (t *TransactionBatch) HouseID() *uuid.UUID {
	id := t.House
	return &id
}

func (t *TransactionBatch) SourceSequence() int64 {
	return t.Sequence
}

func (t *TransactionBatch) ChainEpoch() uint64 {
	return t.Epoch
}
