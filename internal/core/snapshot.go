package core

import (
	"fmt"

	fpmath "HouseLedger/internal/math"
	"HouseLedger/internal/state"

	"github.com/google/uuid"
)

// HouseSnapshot is one aggregate's full serializable state.
type HouseSnapshot struct {
	ID            uuid.UUID `json:"id"`
	AdminID       uuid.UUID `json:"admin_id"`
	ProtocolID    uuid.UUID `json:"protocol_id"`
	TargetBalance uint64    `json:"target_balance"`

	HouseFeeRaw    uint64 `json:"house_fee_raw"`
	ProtocolFeeRaw uint64 `json:"protocol_fee_raw"`
	ReferralFeeRaw uint64 `json:"referral_fee_raw"`

	Vault          state.VaultSnapshot                       `json:"vault"`
	History        state.HistorySnapshot                     `json:"history"`
	Participations map[uuid.UUID]state.ParticipationSnapshot `json:"participations"`
}

// Snapshot captures the aggregate between commands.
func (h *House) Snapshot() HouseSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	participations := make(map[uuid.UUID]state.ParticipationSnapshot, len(h.participations))
	for id, p := range h.participations {
		participations[id] = p.Snapshot()
	}

	return HouseSnapshot{
		ID:             h.id,
		AdminID:        h.adminID,
		ProtocolID:     h.protocolID,
		TargetBalance:  h.targetBalance,
		HouseFeeRaw:    h.fees.HouseFeeFactor.Raw(),
		ProtocolFeeRaw: h.fees.ProtocolFeeFactor.Raw(),
		ReferralFeeRaw: h.fees.ReferralFeeFactor.Raw(),
		Vault:          h.vault.Snapshot(),
		History:        h.history.Snapshot(),
		Participations: participations,
	}
}

// SnapshotState is the dispatcher's full serializable state for warm
// restart: sequence, hash chain tip, per-partition ordering state, recent
// idempotency keys, and every house aggregate.
type SnapshotState struct {
	Sequence        int64            `json:"sequence"`
	StateHash       [32]byte         `json:"state_hash"`
	SequenceState   map[string]int64 `json:"sequence_state"`
	IdempotencyKeys []string         `json:"idempotency_keys"`
	Houses          []HouseSnapshot  `json:"houses"`
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (d *Dispatcher) CreateSnapshotState() *SnapshotState {
	houses := d.registry.All()
	houseSnaps := make([]HouseSnapshot, 0, len(houses))
	for _, h := range houses {
		houseSnaps = append(houseSnaps, h.Snapshot())
	}
	return &SnapshotState{
		Sequence:        d.sequence - 1, // last assigned sequence
		StateHash:       d.hasher.GetPrevHash(),
		SequenceState:   d.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: d.idempotency.lru.GetAllKeys(),
		Houses:          houseSnaps,
	}
}

// RestoreFromSnapshot rebuilds the dispatcher and registry from a
// snapshot. Events after the snapshot's sequence are replayed on top.
func (d *Dispatcher) RestoreFromSnapshot(snap *SnapshotState) error {
	d.sequence = snap.Sequence + 1
	d.hasher.SetPrevHash(snap.StateHash)

	for partition, nextSeq := range snap.SequenceState {
		d.sequenceValidator.SetExpectedSequence(partition, nextSeq)
	}
	d.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)

	for _, houseSnap := range snap.Houses {
		house, err := houseFromSnapshot(houseSnap, d)
		if err != nil {
			return fmt.Errorf("restore house %s: %w", houseSnap.ID, err)
		}
		d.registry.mu.Lock()
		d.registry.houses[house.id] = house
		d.registry.mu.Unlock()
	}
	return nil
}

func houseFromSnapshot(snap HouseSnapshot, d *Dispatcher) (*House, error) {
	history, err := state.HistoryFromSnapshot(snap.History)
	if err != nil {
		return nil, err
	}

	house := NewHouse(
		snap.ID, snap.AdminID, snap.ProtocolID, snap.TargetBalance,
		FeeConfig{
			HouseFeeFactor:    fpmath.RatioFromRaw(snap.HouseFeeRaw),
			ProtocolFeeFactor: fpmath.RatioFromRaw(snap.ProtocolFeeRaw),
			ReferralFeeFactor: fpmath.RatioFromRaw(snap.ReferralFeeRaw),
		},
		snap.Vault.Epoch,
		d.log,
		d.metrics,
	)
	house.vault = state.VaultFromSnapshot(snap.Vault)
	house.history = history
	for id, pSnap := range snap.Participations {
		house.participations[id] = state.ParticipationFromSnapshot(pSnap)
	}
	return house, nil
}
