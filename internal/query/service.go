package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// QueryService provides read-only access to the projection tables. All
// responses carry as_of_sequence so callers can reason about freshness:
// the read models trail the core by whatever the projection worker has
// not folded in yet.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetHouse returns one house's funding state.
func (qs *QueryService) GetHouse(ctx context.Context, houseID uuid.UUID) (*HouseResponse, error) {
	row := qs.db.QueryRowContext(ctx, `
		SELECT house_id, epoch, active, target_balance, reserve_balance, play_balance,
		       active_stake, inactive_stake, pending_unstake, house_fee_pot, protocol_fee_pot,
		       as_of_sequence
		FROM projections.houses
		WHERE house_id = $1
	`, houseID)

	var h HouseResponse
	if err := row.Scan(
		&h.HouseID, &h.Epoch, &h.Active, &h.TargetBalance, &h.ReserveBalance,
		&h.PlayBalance, &h.ActiveStake, &h.InactiveStake, &h.PendingUnstake,
		&h.HouseFeePot, &h.ProtocolFeePot, &h.AsOfSequence,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("house %s: %w", houseID, ErrNotFound)
		}
		return nil, err
	}
	return &h, nil
}

// ListHouses returns every known house.
func (qs *QueryService) ListHouses(ctx context.Context) ([]HouseResponse, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT house_id, epoch, active, target_balance, reserve_balance, play_balance,
		       active_stake, inactive_stake, pending_unstake, house_fee_pot, protocol_fee_pot,
		       as_of_sequence
		FROM projections.houses
		ORDER BY house_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var houses []HouseResponse
	for rows.Next() {
		var h HouseResponse
		if err := rows.Scan(
			&h.HouseID, &h.Epoch, &h.Active, &h.TargetBalance, &h.ReserveBalance,
			&h.PlayBalance, &h.ActiveStake, &h.InactiveStake, &h.PendingUnstake,
			&h.HouseFeePot, &h.ProtocolFeePot, &h.AsOfSequence,
		); err != nil {
			return nil, err
		}
		houses = append(houses, h)
	}

	return houses, rows.Err()
}

// GetPosition returns one staker's position in one house.
func (qs *QueryService) GetPosition(ctx context.Context, houseID, participantID uuid.UUID) (*PositionResponse, error) {
	row := qs.db.QueryRowContext(ctx, `
		SELECT stake, pending_stake, claimable_balance, unstake_requested,
		       last_updated_epoch, as_of_sequence
		FROM projections.positions
		WHERE house_id = $1 AND participant_id = $2
	`, houseID, participantID)

	p := PositionResponse{HouseID: houseID, ParticipantID: participantID}
	if err := row.Scan(
		&p.Stake, &p.PendingStake, &p.ClaimableBalance,
		&p.UnstakeRequested, &p.LastUpdatedEpoch, &p.AsOfSequence,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("position %s/%s: %w", houseID, participantID, ErrNotFound)
		}
		return nil, err
	}
	return &p, nil
}

// GetSettlements returns applied bet/win batches for a house, newest
// first, with cursor-based pagination by sequence.
func (qs *QueryService) GetSettlements(
	ctx context.Context,
	houseID uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]SettlementResponse, error) {
	query := `
		SELECT sequence, house_id, batch_id, participant_id, credit_amount, debit_amount,
		       house_fee, protocol_fee, referral_fee, epoch
		FROM projections.settlements
		WHERE house_id = $1
	`
	args := []interface{}{houseID}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var settlements []SettlementResponse
	for rows.Next() {
		var s SettlementResponse
		if err := rows.Scan(
			&s.Sequence, &s.HouseID, &s.BatchID, &s.ParticipantID,
			&s.CreditAmount, &s.DebitAmount, &s.HouseFee, &s.ProtocolFee,
			&s.ReferralFee, &s.Epoch,
		); err != nil {
			return nil, err
		}
		settlements = append(settlements, s)
	}

	return settlements, rows.Err()
}

// GetEpochResults returns per-epoch settlement aggregates for a house,
// newest epoch first, with cursor-based pagination by epoch. Intake is
// the sum of amounts the house took in, payout the sum it paid out.
func (qs *QueryService) GetEpochResults(
	ctx context.Context,
	houseID uuid.UUID,
	limit int,
	beforeEpoch *int64,
) ([]EpochResultResponse, error) {
	query := `
		SELECT epoch, COUNT(*), SUM(debit_amount), SUM(credit_amount),
		       SUM(debit_amount) - SUM(credit_amount),
		       SUM(house_fee), SUM(protocol_fee), SUM(referral_fee), MAX(sequence)
		FROM projections.settlements
		WHERE house_id = $1
	`
	args := []interface{}{houseID}
	argIdx := 2

	if beforeEpoch != nil {
		query += fmt.Sprintf(" AND epoch < $%d", argIdx)
		args = append(args, *beforeEpoch)
		argIdx++
	}

	query += " GROUP BY epoch ORDER BY epoch DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []EpochResultResponse
	for rows.Next() {
		var e EpochResultResponse
		if err := rows.Scan(
			&e.Epoch, &e.Batches, &e.TotalIntake, &e.TotalPayout,
			&e.NetResult, &e.HouseFee, &e.ProtocolFee, &e.ReferralFee,
			&e.LastSequence,
		); err != nil {
			return nil, err
		}
		results = append(results, e)
	}

	return results, rows.Err()
}

// GetJournalHistory returns journal entries touching a participant's
// accounts, newest first, with cursor-based pagination.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	participantID uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("participant:%s%%", participantID)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence, house_id,
		       debit_account, credit_account, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE debit_account LIKE $1 OR credit_account LIKE $1
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence, &e.HouseID,
			&e.DebitAccount, &e.CreditAccount, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity in the event log and flags
// house projections lagging far behind the log head.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// A house more than 10k events behind the log head has a stuck or
	// dropped projection and should be rebuilt.
	const staleLag = 10_000
	staleRows, err := qs.db.QueryContext(ctx, `
		SELECT h.house_id, h.as_of_sequence, log.head
		FROM projections.houses h
		CROSS JOIN (SELECT COALESCE(MAX(sequence), 0) AS head FROM event_log.events) log
		WHERE log.head - h.as_of_sequence > $1
	`, staleLag)
	if err != nil {
		return nil, err
	}
	defer staleRows.Close()

	for staleRows.Next() {
		var s StaleHouse
		if err := staleRows.Scan(&s.HouseID, &s.AsOfSequence, &s.LogSequence); err != nil {
			return nil, err
		}
		report.StaleHouses = append(report.StaleHouses, s)
	}
	if err := staleRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.StaleHouses) == 0
	return report, nil
}
