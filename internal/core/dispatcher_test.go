package core_test

import (
	"encoding/json"
	"testing"
	"time"

	"HouseLedger/internal/core"
	"HouseLedger/internal/custody"
	"HouseLedger/internal/event"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type pipelineHarness struct {
	dispatcher *core.Dispatcher
	bank       *custody.Bank
	persist    chan core.CoreOutput
	projection chan core.CoreOutput
}

func newPipeline(t *testing.T, startSequence int64) *pipelineHarness {
	t.Helper()
	bank := custody.NewBank()
	persist := make(chan core.CoreOutput, 64)
	projection := make(chan core.CoreOutput, 64)
	registry := core.NewRegistry(zerolog.Nop(), nil)
	dispatcher := core.NewDispatcher(startSequence, registry, bank, persist, projection, nil, zerolog.Nop(), nil)
	return &pipelineHarness{
		dispatcher: dispatcher,
		bank:       bank,
		persist:    persist,
		projection: projection,
	}
}

func (h *pipelineHarness) drainPersist(t *testing.T) core.CoreOutput {
	t.Helper()
	select {
	case out := <-h.persist:
		return out
	default:
		t.Fatal("no output on persist channel")
		return core.CoreOutput{}
	}
}

func zeroFeeHouseCreated(houseID uuid.UUID, target uint64, seq int64) *event.HouseCreated {
	return &event.HouseCreated{
		House:         houseID,
		AdminID:       uuid.New(),
		ProtocolID:    uuid.New(),
		TargetBalance: target,

		HouseFeeNumerator:      0,
		HouseFeeDenominator:    1,
		ProtocolFeeNumerator:   0,
		ProtocolFeeDenominator: 1,
		ReferralFeeNumerator:   0,
		ReferralFeeDenominator: 1,

		Epoch:    0,
		Sequence: seq,
	}
}

// ============================================================================
// Test: pipeline sequencing and hash chain
// ============================================================================

func TestDispatcher_AppliesAndChainsCommands(t *testing.T) {
	h := newPipeline(t, 0)
	houseID := uuid.New()
	staker := uuid.New()
	h.bank.Fund(staker, 50_000)

	if err := h.dispatcher.ProcessEvent(zeroFeeHouseCreated(houseID, 100_000, 0)); err != nil {
		t.Fatalf("HouseCreated: %v", err)
	}
	created := h.drainPersist(t)

	if created.Envelope.Sequence != 0 {
		t.Errorf("first sequence = %d, want 0", created.Envelope.Sequence)
	}
	if created.Status == nil {
		t.Error("HouseCreated output missing status")
	}
	genesis := core.NewStateHasher().GetPrevHash()
	if created.Envelope.PrevHash != genesis {
		t.Error("first command must chain off the genesis hash")
	}

	stake := &event.StakePlaced{
		StakeID:       uuid.New(),
		House:         houseID,
		ParticipantID: staker,
		Amount:        50_000,
		Epoch:         0,
		Sequence:      1,
	}
	if err := h.dispatcher.ProcessEvent(stake); err != nil {
		t.Fatalf("StakePlaced: %v", err)
	}
	staked := h.drainPersist(t)

	if staked.Envelope.Sequence != 1 {
		t.Errorf("second sequence = %d, want 1", staked.Envelope.Sequence)
	}
	if staked.Envelope.PrevHash != created.Envelope.StateHash {
		t.Error("hash chain broken between consecutive commands")
	}
	if h.dispatcher.GetStateHash() != staked.Envelope.StateHash {
		t.Error("dispatcher chain tip must equal the last envelope's state hash")
	}

	// The envelope payload must round-trip back into the typed command.
	var decoded event.StakePlaced
	if err := json.Unmarshal(staked.Envelope.Payload, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.StakeID != stake.StakeID || decoded.Amount != 50_000 {
		t.Errorf("payload round-trip mismatch: %+v", decoded)
	}

	if h.bank.Wallet(staker).Balance() != 0 {
		t.Errorf("staker wallet = %d after staking 50_000, want 0", h.bank.Wallet(staker).Balance())
	}
}

// ============================================================================
// Test: idempotency
// ============================================================================

func TestDispatcher_DuplicateIsSkippedSilently(t *testing.T) {
	h := newPipeline(t, 0)
	houseID := uuid.New()
	staker := uuid.New()
	h.bank.Fund(staker, 10_000)

	if err := h.dispatcher.ProcessEvent(zeroFeeHouseCreated(houseID, 100_000, 0)); err != nil {
		t.Fatalf("HouseCreated: %v", err)
	}
	h.drainPersist(t)

	stake := &event.StakePlaced{
		StakeID:       uuid.New(),
		House:         houseID,
		ParticipantID: staker,
		Amount:        10_000,
		Epoch:         0,
		Sequence:      1,
	}
	if err := h.dispatcher.ProcessEvent(stake); err != nil {
		t.Fatalf("StakePlaced: %v", err)
	}
	h.drainPersist(t)

	// Redelivery: same idempotency key, same source sequence. Must be a
	// silent no-op, not an error, and must not emit or re-debit.
	if err := h.dispatcher.ProcessEvent(stake); err != nil {
		t.Fatalf("duplicate redelivery errored: %v", err)
	}
	select {
	case <-h.persist:
		t.Error("duplicate produced a persist output")
	default:
	}
	if got := h.dispatcher.GetSequence(); got != 2 {
		t.Errorf("sequence advanced to %d on duplicate, want 2", got)
	}
	if h.bank.Wallet(staker).Balance() != 0 {
		t.Error("duplicate stake debited the wallet again")
	}
}

// ============================================================================
// Test: source sequence validation
// ============================================================================

func TestDispatcher_SequenceGapRejected(t *testing.T) {
	h := newPipeline(t, 0)
	houseID := uuid.New()

	if err := h.dispatcher.ProcessEvent(zeroFeeHouseCreated(houseID, 100_000, 0)); err != nil {
		t.Fatalf("HouseCreated: %v", err)
	}
	h.drainPersist(t)

	// Source sequence 5 while the partition expects 1: a gap.
	gapped := &event.StakePlaced{
		StakeID:       uuid.New(),
		House:         houseID,
		ParticipantID: uuid.New(),
		Amount:        1_000,
		Epoch:         0,
		Sequence:      5,
	}
	if err := h.dispatcher.ProcessEvent(gapped); err == nil {
		t.Fatal("gapped source sequence accepted")
	}
	select {
	case <-h.persist:
		t.Error("rejected command produced a persist output")
	default:
	}

	// The partition did not advance: sequence 1 still goes through.
	h.bank.Fund(gapped.ParticipantID, 1_000)
	gapped.Sequence = 1
	if err := h.dispatcher.ProcessEvent(gapped); err != nil {
		t.Fatalf("in-order command after gap rejection: %v", err)
	}
}

func TestDispatcher_OutOfOrderNonDuplicateRejected(t *testing.T) {
	h := newPipeline(t, 0)
	houseID := uuid.New()

	if err := h.dispatcher.ProcessEvent(zeroFeeHouseCreated(houseID, 100_000, 0)); err != nil {
		t.Fatalf("HouseCreated: %v", err)
	}
	h.drainPersist(t)

	// A NEW command reusing an already-consumed source sequence is not a
	// redelivery and must be refused.
	stale := &event.StakePlaced{
		StakeID:       uuid.New(),
		House:         houseID,
		ParticipantID: uuid.New(),
		Amount:        1_000,
		Epoch:         0,
		Sequence:      0,
	}
	if err := h.dispatcher.ProcessEvent(stale); err == nil {
		t.Fatal("out-of-order non-duplicate accepted")
	}
}

// ============================================================================
// Test: partitions are independent
// ============================================================================

func TestDispatcher_PartitionsSequenceIndependently(t *testing.T) {
	h := newPipeline(t, 0)
	houseA := uuid.New()
	houseB := uuid.New()

	// Both houses start their own partition at source sequence 0.
	if err := h.dispatcher.ProcessEvent(zeroFeeHouseCreated(houseA, 100_000, 0)); err != nil {
		t.Fatalf("house A: %v", err)
	}
	if err := h.dispatcher.ProcessEvent(zeroFeeHouseCreated(houseB, 200_000, 0)); err != nil {
		t.Fatalf("house B: %v", err)
	}

	// The global partition (epoch ticks) is separate again.
	if err := h.dispatcher.ProcessEvent(&event.EpochTick{Epoch: 1, Sequence: 0}); err != nil {
		t.Fatalf("epoch tick: %v", err)
	}

	if got := h.dispatcher.GetSequence(); got != 3 {
		t.Errorf("applied 3 commands, sequence = %d", got)
	}
}

// ============================================================================
// Test: rejected domain command leaves no trace
// ============================================================================

func TestDispatcher_DomainRejectionEmitsNothing(t *testing.T) {
	h := newPipeline(t, 0)
	houseID := uuid.New()

	if err := h.dispatcher.ProcessEvent(zeroFeeHouseCreated(houseID, 100_000, 0)); err != nil {
		t.Fatalf("HouseCreated: %v", err)
	}
	h.drainPersist(t)
	<-h.projection

	tipBefore := h.dispatcher.GetStateHash()

	// Batch against an inactive house: domain validation refuses it.
	batch := &event.TransactionBatch{
		BatchID:       uuid.New(),
		House:         houseID,
		ParticipantID: uuid.New(),
		Legs:          []event.Leg{{Kind: event.LegKindBet, Amount: 500}},
		Epoch:         0,
		Sequence:      1,
	}
	if err := h.dispatcher.ProcessEvent(batch); err == nil {
		t.Fatal("batch against inactive house accepted")
	}

	if h.dispatcher.GetStateHash() != tipBefore {
		t.Error("rejected command moved the hash chain")
	}
	select {
	case <-h.persist:
		t.Error("rejected command produced a persist output")
	default:
	}
}

// ============================================================================
// Test: snapshot round trip
// ============================================================================

func TestDispatcher_SnapshotRoundTrip(t *testing.T) {
	h := newPipeline(t, 0)
	houseID := uuid.New()
	staker := uuid.New()
	h.bank.Fund(staker, 104_000)

	commands := []event.Event{
		zeroFeeHouseCreated(houseID, 100_000, 0),
		&event.StakePlaced{
			StakeID: uuid.New(), House: houseID, ParticipantID: staker,
			Amount: 100_000, Epoch: 0, Sequence: 1,
		},
		&event.EpochTick{Epoch: 1, Sequence: 0},
		&event.TransactionBatch{
			BatchID: uuid.New(), House: houseID, ParticipantID: staker,
			Legs:  []event.Leg{{Kind: event.LegKindBet, Amount: 4_000}},
			Epoch: 1, Sequence: 2,
		},
	}
	for i, cmd := range commands {
		if err := h.dispatcher.ProcessEvent(cmd); err != nil {
			t.Fatalf("command %d: %v", i, err)
		}
	}

	snap := h.dispatcher.CreateSnapshotState()
	if snap.Sequence != 3 {
		t.Fatalf("snapshot sequence = %d, want 3", snap.Sequence)
	}

	// Snapshots travel through JSON on their way to Postgres.
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	restoredSnap := &core.SnapshotState{}
	if err := json.Unmarshal(data, restoredSnap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}

	restored := newPipeline(t, 0)
	if err := restored.dispatcher.RestoreFromSnapshot(restoredSnap); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if restored.dispatcher.GetSequence() != h.dispatcher.GetSequence() {
		t.Errorf("restored sequence = %d, want %d",
			restored.dispatcher.GetSequence(), h.dispatcher.GetSequence())
	}
	if restored.dispatcher.GetStateHash() != h.dispatcher.GetStateHash() {
		t.Error("restored chain tip differs from the live one")
	}

	// The restored core continues exactly where the live one stood: the
	// house partition expects source sequence 3, and the already-processed
	// batch is recognized as a duplicate.
	dup := commands[3]
	if err := restored.dispatcher.ProcessEvent(dup); err != nil {
		t.Fatalf("redelivered batch after restore: %v", err)
	}
	if restored.dispatcher.GetSequence() != h.dispatcher.GetSequence() {
		t.Error("duplicate advanced the restored sequence")
	}

	next := &event.TransactionBatch{
		BatchID: uuid.New(), House: houseID, ParticipantID: staker,
		Legs:  []event.Leg{{Kind: event.LegKindWin, Amount: 1_000}},
		Epoch: 1, Sequence: 3,
	}
	if err := restored.dispatcher.ProcessEvent(next); err != nil {
		t.Fatalf("next command after restore: %v", err)
	}
	if restored.bank.Wallet(staker).Balance() != 1_000 {
		t.Errorf("win payout after restore = %d, want 1_000", restored.bank.Wallet(staker).Balance())
	}
}

// ============================================================================
// Test: projection channel never blocks the core
// ============================================================================

func TestDispatcher_FullProjectionChannelDropsNotBlocks(t *testing.T) {
	bank := custody.NewBank()
	persist := make(chan core.CoreOutput, 64)
	projection := make(chan core.CoreOutput) // unbuffered, no reader
	registry := core.NewRegistry(zerolog.Nop(), nil)
	dispatcher := core.NewDispatcher(0, registry, bank, persist, projection, nil, zerolog.Nop(), nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := dispatcher.ProcessEvent(zeroFeeHouseCreated(uuid.New(), 100_000, 0)); err != nil {
			t.Errorf("HouseCreated: %v", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("core blocked on a full projection channel")
	}

	if len(persist) != 1 {
		t.Errorf("persist outputs = %d, want 1", len(persist))
	}
}
