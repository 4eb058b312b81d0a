package event

import (
	"fmt"

	"github.com/google/uuid"
)

// HouseCreated registers a new house aggregate. Fee rates arrive as
// rationals; the dispatcher converts them to fixed point and validates
// that they sum below 100% once, at creation.
// Idempotency key: house id.
type HouseCreated struct {
	House         uuid.UUID
	AdminID       uuid.UUID
	ProtocolID    uuid.UUID
	TargetBalance uint64

	HouseFeeNumerator      uint64
	HouseFeeDenominator    uint64
	ProtocolFeeNumerator   uint64
	ProtocolFeeDenominator uint64
	ReferralFeeNumerator   uint64
	ReferralFeeDenominator uint64

	Epoch    uint64
	Sequence int64
}

func (h *HouseCreated) IdempotencyKey() string {
	return fmt.Sprintf("house_created:%s", h.House)
}

func (h *HouseCreated) EventType() EventType {
	return EventTypeHouseCreated
}

func (h *HouseCreated) HouseID() *uuid.UUID {
	id := h.House
	return &id
}

func (h *HouseCreated) SourceSequence() int64 {
	return h.Sequence
}

func (h *HouseCreated) ChainEpoch() uint64 {
	return h.Epoch
}

// FeePot names one of the vault's fee pots.
type FeePot string

const (
	FeePotHouse    FeePot = "house"
	FeePotProtocol FeePot = "protocol"
	FeePotReferral FeePot = "referral"
)

// FeeWithdrawal drains one fee pot into the caller's wallet. The caller
// must match the pot's owner by identifier equality.
// Idempotency key: withdrawal_id.
type FeeWithdrawal struct {
	WithdrawalID uuid.UUID
	House        uuid.UUID
	CallerID     uuid.UUID
	Pot          FeePot
	Epoch        uint64
	Sequence     int64
}

func (f *FeeWithdrawal) IdempotencyKey() string {
	return f.WithdrawalID.String()
}

func (f *FeeWithdrawal) EventType() EventType {
	return EventTypeFeeWithdrawal
}

func (f *FeeWithdrawal) HouseID() *uuid.UUID {
	id := f.House
	return &id
}

func (f *FeeWithdrawal) SourceSequence() int64 {
	return f.Sequence
}

func (f *FeeWithdrawal) ChainEpoch() uint64 {
	return f.Epoch
}
