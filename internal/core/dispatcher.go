package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"HouseLedger/internal/custody"
	"HouseLedger/internal/event"
	fpmath "HouseLedger/internal/math"
	"HouseLedger/internal/observability"
	"HouseLedger/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CoreOutput is what the pipeline emits per applied command: the envelope
// for the event log plus the snapshots persistence and projections need.
type CoreOutput struct {
	Envelope *event.EventEnvelope

	// Settlement is set for transaction batches only.
	Settlement *state.Settlement

	// Position is set for commands that touched one staker's position.
	Position *StakerPosition

	// Status is set for every house-scoped command.
	Status *Status
}

// Dispatcher is the single-threaded command processor: idempotency check,
// per-partition sequence validation, dispatch to the house registry, hash
// chaining, then emission to the persist and projection channels.
type Dispatcher struct {
	sequence          int64
	registry          *Registry
	bank              *custody.Bank
	hasher            *StateHasher
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	log               zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

func NewDispatcher(
	startSequence int64,
	registry *Registry,
	bank *custody.Bank,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	log zerolog.Logger,
	metrics *observability.Metrics,
) *Dispatcher {
	return &Dispatcher{
		sequence:          startSequence,
		registry:          registry,
		bank:              bank,
		hasher:            NewStateHasher(),
		idempotency:       NewIdempotencyChecker(1_000_000, dbChecker),
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		log:               log,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// ProcessEvent is the main processing pipeline
func (d *Dispatcher) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := d.idempotency.IsDuplicate(eventType, idempotencyKey)

	// Step 2: Sequence validation
	partition := d.getPartition(evt)
	if err := d.sequenceValidator.ValidateSequence(partition, evt.SourceSequence(), isDuplicate); err != nil {
		if d.metrics != nil {
			d.metrics.CoreEventsRejected.WithLabelValues(eventType, "sequence").Inc()
		}
		return fmt.Errorf("sequence validation failed: %w", err)
	}

	if isDuplicate {
		if d.metrics != nil {
			d.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil
	}

	// Step 3: Dispatch
	output, err := d.dispatchEvent(evt)
	if err != nil {
		if d.metrics != nil {
			d.metrics.CoreEventsRejected.WithLabelValues(eventType, "validation").Inc()
		}
		return fmt.Errorf("dispatch failed: %w", err)
	}

	// Step 4: Hash chain + envelope
	stateDigest := d.computeStateDigest(output)
	prevHash := d.hasher.GetPrevHash()
	stateHash := d.hasher.ComputeHash(d.sequence, stateDigest)

	payload, err := json.Marshal(evt)
	if err != nil {
		// Commands are plain structs; a marshal failure is a programming error.
		d.log.Error().Err(err).Str("event_type", eventType).Msg("payload marshal failed")
		payload = []byte("{}")
	}

	output.Envelope = &event.EventEnvelope{
		Sequence:       d.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		HouseID:        evt.HouseID(),
		Epoch:          evt.ChainEpoch(),
		SourceSequence: evt.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	d.sequence++

	// Step 5: Emit. Persistence is a blocking send so no applied command is
	// ever lost; projections are non-blocking and may drop, they rebuild
	// from the journal.
	d.persistChan <- output
	select {
	case d.projectionChan <- output:
	default:
		if d.metrics != nil {
			d.metrics.ProjectionDrops.WithLabelValues("core").Inc()
		}
	}

	// Step 6: Mark as processed
	d.idempotency.MarkProcessed(eventType, idempotencyKey)

	if d.metrics != nil {
		d.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		d.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		d.metrics.CoreSequence.Set(float64(d.sequence))
		d.metrics.DedupLRUSize.Set(float64(d.idempotency.lru.Size()))
	}

	return nil
}

// getPartition determines the partition key for sequence validation
func (d *Dispatcher) getPartition(evt event.Event) string {
	if houseID := evt.HouseID(); houseID != nil {
		return fmt.Sprintf("house:%s", *houseID)
	}
	return "global"
}

func (d *Dispatcher) dispatchEvent(evt event.Event) (CoreOutput, error) {
	switch e := evt.(type) {
	case *event.HouseCreated:
		return d.handleHouseCreated(e)
	case *event.StakePlaced:
		return d.handleStakePlaced(e)
	case *event.UnstakeRequested:
		return d.handleUnstakeRequested(e)
	case *event.ClaimRequested:
		return d.handleClaimRequested(e)
	case *event.TransactionBatch:
		return d.handleTransactionBatch(e)
	case *event.EpochTick:
		return d.handleEpochTick(e)
	case *event.FeeWithdrawal:
		return d.handleFeeWithdrawal(e)
	default:
		return CoreOutput{}, fmt.Errorf("unknown command type: %T", evt)
	}
}

func (d *Dispatcher) handleHouseCreated(evt *event.HouseCreated) (CoreOutput, error) {
	houseRate, err := fpmath.NewRatio(evt.HouseFeeNumerator, evt.HouseFeeDenominator)
	if err != nil {
		return CoreOutput{}, fmt.Errorf("house fee rate: %w", err)
	}
	protocolRate, err := fpmath.NewRatio(evt.ProtocolFeeNumerator, evt.ProtocolFeeDenominator)
	if err != nil {
		return CoreOutput{}, fmt.Errorf("protocol fee rate: %w", err)
	}
	referralRate, err := fpmath.NewRatio(evt.ReferralFeeNumerator, evt.ReferralFeeDenominator)
	if err != nil {
		return CoreOutput{}, fmt.Errorf("referral fee rate: %w", err)
	}

	fees, err := NewFeeConfig(houseRate, protocolRate, referralRate)
	if err != nil {
		return CoreOutput{}, err
	}

	house, err := d.registry.CreateHouse(
		evt.House, evt.AdminID, evt.ProtocolID, evt.TargetBalance, fees, evt.Epoch)
	if err != nil {
		return CoreOutput{}, err
	}

	status, err := house.Status(evt.Epoch)
	if err != nil {
		return CoreOutput{}, err
	}
	return CoreOutput{Status: &status}, nil
}

func (d *Dispatcher) handleStakePlaced(evt *event.StakePlaced) (CoreOutput, error) {
	house, ok := d.registry.Get(evt.House)
	if !ok {
		return CoreOutput{}, fmt.Errorf("unknown house: %s", evt.House)
	}

	wallet := d.bank.Wallet(evt.ParticipantID)
	if err := house.Stake(evt.Epoch, evt.ParticipantID, evt.Amount, wallet); err != nil {
		return CoreOutput{}, err
	}
	return d.stakerOutput(house, evt.Epoch, evt.ParticipantID)
}

func (d *Dispatcher) handleUnstakeRequested(evt *event.UnstakeRequested) (CoreOutput, error) {
	house, ok := d.registry.Get(evt.House)
	if !ok {
		return CoreOutput{}, fmt.Errorf("unknown house: %s", evt.House)
	}

	if err := house.Unstake(evt.Epoch, evt.ParticipantID); err != nil {
		return CoreOutput{}, err
	}
	return d.stakerOutput(house, evt.Epoch, evt.ParticipantID)
}

func (d *Dispatcher) handleClaimRequested(evt *event.ClaimRequested) (CoreOutput, error) {
	house, ok := d.registry.Get(evt.House)
	if !ok {
		return CoreOutput{}, fmt.Errorf("unknown house: %s", evt.House)
	}

	wallet := d.bank.Wallet(evt.ParticipantID)
	if _, err := house.Claim(evt.Epoch, evt.ParticipantID, wallet); err != nil {
		return CoreOutput{}, err
	}
	return d.stakerOutput(house, evt.Epoch, evt.ParticipantID)
}

func (d *Dispatcher) handleTransactionBatch(evt *event.TransactionBatch) (CoreOutput, error) {
	house, ok := d.registry.Get(evt.House)
	if !ok {
		return CoreOutput{}, fmt.Errorf("unknown house: %s", evt.House)
	}

	transactions := make([]state.Transaction, 0, len(evt.Legs))
	for _, leg := range evt.Legs {
		var kind state.TransactionKind
		switch leg.Kind {
		case event.LegKindBet:
			kind = state.TransactionKindBet
		case event.LegKindWin:
			kind = state.TransactionKindWin
		default:
			return CoreOutput{}, fmt.Errorf("leg kind %d: %w", leg.Kind, state.ErrUnknownTransaction)
		}
		transactions = append(transactions, state.Transaction{Kind: kind, Amount: leg.Amount})
	}

	wallet := d.bank.Wallet(evt.ParticipantID)
	settlement, err := house.ProcessTransactionsWithReferral(
		evt.Epoch, evt.ParticipantID, transactions, wallet, evt.Referrer)
	if err != nil {
		return CoreOutput{}, err
	}

	status, err := house.Status(evt.Epoch)
	if err != nil {
		return CoreOutput{}, err
	}
	return CoreOutput{Settlement: &settlement, Status: &status}, nil
}

func (d *Dispatcher) handleEpochTick(evt *event.EpochTick) (CoreOutput, error) {
	for _, house := range d.registry.All() {
		if err := house.ProcessEndOfDay(evt.Epoch); err != nil {
			return CoreOutput{}, fmt.Errorf("house %s: %w", house.ID(), err)
		}
	}
	return CoreOutput{}, nil
}

func (d *Dispatcher) handleFeeWithdrawal(evt *event.FeeWithdrawal) (CoreOutput, error) {
	house, ok := d.registry.Get(evt.House)
	if !ok {
		return CoreOutput{}, fmt.Errorf("unknown house: %s", evt.House)
	}

	wallet := d.bank.Wallet(evt.CallerID)
	var err error
	switch evt.Pot {
	case event.FeePotHouse:
		_, err = house.WithdrawHouseFees(evt.Epoch, evt.CallerID, wallet)
	case event.FeePotProtocol:
		_, err = house.WithdrawProtocolFees(evt.Epoch, evt.CallerID, wallet)
	case event.FeePotReferral:
		_, err = house.WithdrawReferralFees(evt.Epoch, evt.CallerID, wallet)
	default:
		err = fmt.Errorf("unknown fee pot: %q", evt.Pot)
	}
	if err != nil {
		return CoreOutput{}, err
	}

	status, err := house.Status(evt.Epoch)
	if err != nil {
		return CoreOutput{}, err
	}
	return CoreOutput{Status: &status}, nil
}

func (d *Dispatcher) stakerOutput(house *House, epoch uint64, participantID uuid.UUID) (CoreOutput, error) {
	position, err := house.Position(epoch, participantID)
	if err != nil {
		return CoreOutput{}, err
	}
	status, err := house.Status(epoch)
	if err != nil {
		return CoreOutput{}, err
	}
	return CoreOutput{Position: &position, Status: &status}, nil
}

// computeStateDigest creates canonical bytes for the state hash from the
// snapshots the command produced. Epoch ticks digest every house so a
// rollover is anchored in the chain even without a house-scoped output.
func (d *Dispatcher) computeStateDigest(output CoreOutput) []byte {
	digest := make([]byte, 0, 128)

	appendStatus := func(s *Status) {
		digest = append(digest, s.HouseID[:]...)
		digest = appendUint64LE(digest, s.Epoch)
		if s.Active {
			digest = append(digest, 1)
		} else {
			digest = append(digest, 0)
		}
		digest = appendUint64LE(digest, s.ReserveBalance)
		digest = appendUint64LE(digest, s.PlayBalance)
		digest = appendUint64LE(digest, s.ActiveStake)
		digest = appendUint64LE(digest, s.InactiveStake)
		digest = appendUint64LE(digest, s.PendingUnstake)
		digest = appendUint64LE(digest, s.HouseFeePot)
		digest = appendUint64LE(digest, s.ProtocolFeePot)
	}

	if output.Status != nil {
		appendStatus(output.Status)
	} else {
		// Global command: digest all houses in id order.
		houses := d.registry.All()
		sort.Slice(houses, func(i, j int) bool {
			return houses[i].ID().String() < houses[j].ID().String()
		})
		for _, h := range houses {
			status, err := h.Status(h.Epoch())
			if err != nil {
				continue
			}
			appendStatus(&status)
		}
	}

	if output.Position != nil {
		p := output.Position
		digest = append(digest, p.ParticipantID[:]...)
		digest = appendUint64LE(digest, p.Stake)
		digest = appendUint64LE(digest, p.PendingStake)
		digest = appendUint64LE(digest, p.ClaimableBalance)
		digest = appendUint64LE(digest, p.LastUpdatedEpoch)
	}

	return digest
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// GetSequence returns the next sequence the dispatcher will assign.
func (d *Dispatcher) GetSequence() int64 {
	return d.sequence
}

// GetStateHash returns the current hash chain tip.
func (d *Dispatcher) GetStateHash() [32]byte {
	return d.hasher.GetPrevHash()
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (d *Dispatcher) WarmLRU(keys []string) {
	d.idempotency.lru.WarmFromKeys(keys)
}
