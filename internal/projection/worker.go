package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"HouseLedger/internal/observability"
)

// ProjectionOutput mirrors the dispatcher output fields the read models
// need. The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence   int64
	EventType  string
	Timestamp  int64
	House      *HouseRow
	Position   *PositionRow
	Settlement *SettlementRow
}

// HouseRow is the funding state of one house after an applied command.
type HouseRow struct {
	HouseID        string
	Epoch          uint64
	Active         bool
	TargetBalance  uint64
	ReserveBalance uint64
	PlayBalance    uint64
	ActiveStake    uint64
	InactiveStake  uint64
	PendingUnstake uint64
	HouseFeePot    uint64
	ProtocolFeePot uint64
}

// PositionRow is one staker's replayed position after an applied command.
type PositionRow struct {
	HouseID          string
	ParticipantID    string
	Stake            uint64
	PendingStake     uint64
	ClaimableBalance uint64
	UnstakeRequested bool
	LastUpdatedEpoch uint64
}

// SettlementRow is one applied bet/win batch.
type SettlementRow struct {
	HouseID       string
	BatchID       string
	ParticipantID string
	CreditAmount  uint64
	DebitAmount   uint64
	HouseFee      uint64
	ProtocolFee   uint64
	ReferralFee   uint64
	Epoch         uint64
}

// ProjectionWorker folds processed events into the read-model tables.
// The projection channel is non-blocking with drop: if this worker falls
// behind, read models go stale but the core never stalls, and they can be
// rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	metrics   *observability.Metrics
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			start := time.Now()
			if err := pw.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Sequence, err)
				// Continue — projections are eventually consistent
				// and can be rebuilt from the event log
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues("postgres").Observe(time.Since(start).Seconds())
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if output.House != nil {
		if err := pw.upsertHouse(ctx, tx, output.Sequence, output.House); err != nil {
			return fmt.Errorf("house projection: %w", err)
		}
	}
	if output.Position != nil {
		if err := pw.upsertPosition(ctx, tx, output.Sequence, output.Position); err != nil {
			return fmt.Errorf("position projection: %w", err)
		}
	}
	if output.Settlement != nil {
		if err := pw.insertSettlement(ctx, tx, output.Sequence, output.Settlement); err != nil {
			return fmt.Errorf("settlement projection: %w", err)
		}
	}

	return tx.Commit()
}

// upsertHouse writes the house row, skipping stale updates: the channel
// drops under pressure, so a redelivered or reordered row must never
// rewind the watermark.
func (pw *ProjectionWorker) upsertHouse(ctx context.Context, tx *sql.Tx, sequence int64, h *HouseRow) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.houses
			(house_id, epoch, active, target_balance, reserve_balance, play_balance,
			 active_stake, inactive_stake, pending_unstake, house_fee_pot, protocol_fee_pot,
			 as_of_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (house_id) DO UPDATE SET
			epoch = EXCLUDED.epoch,
			active = EXCLUDED.active,
			target_balance = EXCLUDED.target_balance,
			reserve_balance = EXCLUDED.reserve_balance,
			play_balance = EXCLUDED.play_balance,
			active_stake = EXCLUDED.active_stake,
			inactive_stake = EXCLUDED.inactive_stake,
			pending_unstake = EXCLUDED.pending_unstake,
			house_fee_pot = EXCLUDED.house_fee_pot,
			protocol_fee_pot = EXCLUDED.protocol_fee_pot,
			as_of_sequence = EXCLUDED.as_of_sequence,
			updated_at = NOW()
		WHERE projections.houses.as_of_sequence < EXCLUDED.as_of_sequence
	`, h.HouseID, int64(h.Epoch), h.Active, int64(h.TargetBalance), int64(h.ReserveBalance),
		int64(h.PlayBalance), int64(h.ActiveStake), int64(h.InactiveStake),
		int64(h.PendingUnstake), int64(h.HouseFeePot), int64(h.ProtocolFeePot), sequence)
	return err
}

func (pw *ProjectionWorker) upsertPosition(ctx context.Context, tx *sql.Tx, sequence int64, p *PositionRow) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.positions
			(house_id, participant_id, stake, pending_stake, claimable_balance,
			 unstake_requested, last_updated_epoch, as_of_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (house_id, participant_id) DO UPDATE SET
			stake = EXCLUDED.stake,
			pending_stake = EXCLUDED.pending_stake,
			claimable_balance = EXCLUDED.claimable_balance,
			unstake_requested = EXCLUDED.unstake_requested,
			last_updated_epoch = EXCLUDED.last_updated_epoch,
			as_of_sequence = EXCLUDED.as_of_sequence,
			updated_at = NOW()
		WHERE projections.positions.as_of_sequence < EXCLUDED.as_of_sequence
	`, p.HouseID, p.ParticipantID, int64(p.Stake), int64(p.PendingStake),
		int64(p.ClaimableBalance), p.UnstakeRequested, int64(p.LastUpdatedEpoch), sequence)
	return err
}

func (pw *ProjectionWorker) insertSettlement(ctx context.Context, tx *sql.Tx, sequence int64, s *SettlementRow) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.settlements
			(sequence, house_id, batch_id, participant_id, credit_amount, debit_amount,
			 house_fee, protocol_fee, referral_fee, epoch, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (sequence) DO NOTHING
	`, sequence, s.HouseID, s.BatchID, s.ParticipantID, int64(s.CreditAmount),
		int64(s.DebitAmount), int64(s.HouseFee), int64(s.ProtocolFee),
		int64(s.ReferralFee), int64(s.Epoch))
	return err
}

// ResetProjections truncates every read-model table. House and position
// rows repopulate when the orchestrator replays the event log through the
// core; settlements repopulate the same way.
func ResetProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.settlements`,
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.houses`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	log.Println("INFO: projections reset; replay the event log to repopulate")
	return nil
}
