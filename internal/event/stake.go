package event

import "github.com/google/uuid"

// StakePlaced credits new stake to a participant's position.
// Idempotency key: stake_id (UUID from the host).
type StakePlaced struct {
	StakeID       uuid.UUID
	House         uuid.UUID
	ParticipantID uuid.UUID
	Amount        uint64
	Epoch         uint64
	Sequence      int64
}

func (s *StakePlaced) IdempotencyKey() string {
	return s.StakeID.String()
}

func (s *StakePlaced) EventType() EventType {
	return EventTypeStakePlaced
}

func (s *StakePlaced) HouseID() *uuid.UUID {
	id := s.House
	return &id
}

func (s *StakePlaced) SourceSequence() int64 {
	return s.Sequence
}

func (s *StakePlaced) ChainEpoch() uint64 {
	return s.Epoch
}

// UnstakeRequested requests a full exit for one participant.
// Idempotency key: request_id.
type UnstakeRequested struct {
	RequestID     uuid.UUID
	House         uuid.UUID
	ParticipantID uuid.UUID
	Epoch         uint64
	Sequence      int64
}

func (u *UnstakeRequested) IdempotencyKey() string {
	return u.RequestID.String()
}

func (u *UnstakeRequested) EventType() EventType {
	return EventTypeUnstakeRequested
}

func (u *UnstakeRequested) HouseID() *uuid.UUID {
	id := u.House
	return &id
}

func (u *UnstakeRequested) SourceSequence() int64 {
	return u.Sequence
}

func (u *UnstakeRequested) ChainEpoch() uint64 {
	return u.Epoch
}

// ClaimRequested drains a participant's claimable balance to their wallet.
// Idempotency key: claim_id.
type ClaimRequested struct {
	ClaimID       uuid.UUID
	House         uuid.UUID
	ParticipantID uuid.UUID
	Epoch         uint64
	Sequence      int64
}

func (c *ClaimRequested) IdempotencyKey() string {
	return c.ClaimID.String()
}

func (c *ClaimRequested) EventType() EventType {
	return EventTypeClaimRequested
}

func (c *ClaimRequested) HouseID() *uuid.UUID {
	id := c.House
	return &id
}

func (c *ClaimRequested) SourceSequence() int64 {
	return c.Sequence
}

func (c *ClaimRequested) ChainEpoch() uint64 {
	return c.Epoch
}
