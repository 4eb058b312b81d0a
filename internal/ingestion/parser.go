package ingestion

import (
	"HouseLedger/internal/event"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ParseRawEvent converts a RawEvent (JSON bytes + command type string) into a
// typed event.Event. The ingestion shell validates, parses, and converts raw
// messages before sending to the deterministic core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "HouseCreated":
		return parseHouseCreated(raw.Data)
	case "StakePlaced":
		return parseStakePlaced(raw.Data)
	case "UnstakeRequested":
		return parseUnstakeRequested(raw.Data)
	case "ClaimRequested":
		return parseClaimRequested(raw.Data)
	case "TransactionBatch":
		return parseTransactionBatch(raw.Data)
	case "EpochTick":
		return parseEpochTick(raw.Data)
	case "FeeWithdrawal":
		return parseFeeWithdrawal(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers.

type houseCreatedJSON struct {
	HouseID                string `json:"house_id"`
	AdminID                string `json:"admin_id"`
	ProtocolID             string `json:"protocol_id"`
	TargetBalance          uint64 `json:"target_balance"`
	HouseFeeNumerator      uint64 `json:"house_fee_numerator"`
	HouseFeeDenominator    uint64 `json:"house_fee_denominator"`
	ProtocolFeeNumerator   uint64 `json:"protocol_fee_numerator"`
	ProtocolFeeDenominator uint64 `json:"protocol_fee_denominator"`
	ReferralFeeNumerator   uint64 `json:"referral_fee_numerator"`
	ReferralFeeDenominator uint64 `json:"referral_fee_denominator"`
	Epoch                  uint64 `json:"epoch"`
	Sequence               int64  `json:"sequence"`
}

func parseHouseCreated(data []byte) (*event.HouseCreated, error) {
	var j houseCreatedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse HouseCreated: %w", err)
	}

	houseID, err := uuid.Parse(j.HouseID)
	if err != nil {
		return nil, fmt.Errorf("parse house_id: %w", err)
	}
	adminID, err := uuid.Parse(j.AdminID)
	if err != nil {
		return nil, fmt.Errorf("parse admin_id: %w", err)
	}
	protocolID, err := uuid.Parse(j.ProtocolID)
	if err != nil {
		return nil, fmt.Errorf("parse protocol_id: %w", err)
	}

	return &event.HouseCreated{
		House:                  houseID,
		AdminID:                adminID,
		ProtocolID:             protocolID,
		TargetBalance:          j.TargetBalance,
		HouseFeeNumerator:      j.HouseFeeNumerator,
		HouseFeeDenominator:    j.HouseFeeDenominator,
		ProtocolFeeNumerator:   j.ProtocolFeeNumerator,
		ProtocolFeeDenominator: j.ProtocolFeeDenominator,
		ReferralFeeNumerator:   j.ReferralFeeNumerator,
		ReferralFeeDenominator: j.ReferralFeeDenominator,
		Epoch:                  j.Epoch,
		Sequence:               j.Sequence,
	}, nil
}

type stakePlacedJSON struct {
	StakeID       string `json:"stake_id"`
	HouseID       string `json:"house_id"`
	ParticipantID string `json:"participant_id"`
	Amount        uint64 `json:"amount"`
	Epoch         uint64 `json:"epoch"`
	Sequence      int64  `json:"sequence"`
}

func parseStakePlaced(data []byte) (*event.StakePlaced, error) {
	var j stakePlacedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse StakePlaced: %w", err)
	}
	stakeID, err := uuid.Parse(j.StakeID)
	if err != nil {
		return nil, fmt.Errorf("parse stake_id: %w", err)
	}
	houseID, err := uuid.Parse(j.HouseID)
	if err != nil {
		return nil, fmt.Errorf("parse house_id: %w", err)
	}
	participantID, err := uuid.Parse(j.ParticipantID)
	if err != nil {
		return nil, fmt.Errorf("parse participant_id: %w", err)
	}
	return &event.StakePlaced{
		StakeID:       stakeID,
		House:         houseID,
		ParticipantID: participantID,
		Amount:        j.Amount,
		Epoch:         j.Epoch,
		Sequence:      j.Sequence,
	}, nil
}

type unstakeRequestedJSON struct {
	RequestID     string `json:"request_id"`
	HouseID       string `json:"house_id"`
	ParticipantID string `json:"participant_id"`
	Epoch         uint64 `json:"epoch"`
	Sequence      int64  `json:"sequence"`
}

func parseUnstakeRequested(data []byte) (*event.UnstakeRequested, error) {
	var j unstakeRequestedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse UnstakeRequested: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	houseID, err := uuid.Parse(j.HouseID)
	if err != nil {
		return nil, fmt.Errorf("parse house_id: %w", err)
	}
	participantID, err := uuid.Parse(j.ParticipantID)
	if err != nil {
		return nil, fmt.Errorf("parse participant_id: %w", err)
	}
	return &event.UnstakeRequested{
		RequestID:     requestID,
		House:         houseID,
		ParticipantID: participantID,
		Epoch:         j.Epoch,
		Sequence:      j.Sequence,
	}, nil
}

type claimRequestedJSON struct {
	ClaimID       string `json:"claim_id"`
	HouseID       string `json:"house_id"`
	ParticipantID string `json:"participant_id"`
	Epoch         uint64 `json:"epoch"`
	Sequence      int64  `json:"sequence"`
}

func parseClaimRequested(data []byte) (*event.ClaimRequested, error) {
	var j claimRequestedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ClaimRequested: %w", err)
	}
	claimID, err := uuid.Parse(j.ClaimID)
	if err != nil {
		return nil, fmt.Errorf("parse claim_id: %w", err)
	}
	houseID, err := uuid.Parse(j.HouseID)
	if err != nil {
		return nil, fmt.Errorf("parse house_id: %w", err)
	}
	participantID, err := uuid.Parse(j.ParticipantID)
	if err != nil {
		return nil, fmt.Errorf("parse participant_id: %w", err)
	}
	return &event.ClaimRequested{
		ClaimID:       claimID,
		House:         houseID,
		ParticipantID: participantID,
		Epoch:         j.Epoch,
		Sequence:      j.Sequence,
	}, nil
}

type legJSON struct {
	Kind   string `json:"kind"` // "bet" or "win"
	Amount uint64 `json:"amount"`
}

type transactionBatchJSON struct {
	BatchID       string    `json:"batch_id"`
	HouseID       string    `json:"house_id"`
	ParticipantID string    `json:"participant_id"`
	ReferrerID    string    `json:"referrer_id,omitempty"`
	Legs          []legJSON `json:"legs"`
	Epoch         uint64    `json:"epoch"`
	Sequence      int64     `json:"sequence"`
}

func parseTransactionBatch(data []byte) (*event.TransactionBatch, error) {
	var j transactionBatchJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TransactionBatch: %w", err)
	}
	batchID, err := uuid.Parse(j.BatchID)
	if err != nil {
		return nil, fmt.Errorf("parse batch_id: %w", err)
	}
	houseID, err := uuid.Parse(j.HouseID)
	if err != nil {
		return nil, fmt.Errorf("parse house_id: %w", err)
	}
	participantID, err := uuid.Parse(j.ParticipantID)
	if err != nil {
		return nil, fmt.Errorf("parse participant_id: %w", err)
	}

	var referrer *uuid.UUID
	if j.ReferrerID != "" {
		id, err := uuid.Parse(j.ReferrerID)
		if err != nil {
			return nil, fmt.Errorf("parse referrer_id: %w", err)
		}
		referrer = &id
	}

	legs := make([]event.Leg, 0, len(j.Legs))
	for i, l := range j.Legs {
		var kind event.LegKind
		switch l.Kind {
		case "bet":
			kind = event.LegKindBet
		case "win":
			kind = event.LegKindWin
		default:
			return nil, fmt.Errorf("leg %d: unknown kind %q", i, l.Kind)
		}
		legs = append(legs, event.Leg{Kind: kind, Amount: l.Amount})
	}

	return &event.TransactionBatch{
		BatchID:       batchID,
		House:         houseID,
		ParticipantID: participantID,
		Referrer:      referrer,
		Legs:          legs,
		Epoch:         j.Epoch,
		Sequence:      j.Sequence,
	}, nil
}

type epochTickJSON struct {
	Epoch    uint64 `json:"epoch"`
	Sequence int64  `json:"sequence"`
}

func parseEpochTick(data []byte) (*event.EpochTick, error) {
	var j epochTickJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse EpochTick: %w", err)
	}
	return &event.EpochTick{
		Epoch:    j.Epoch,
		Sequence: j.Sequence,
	}, nil
}

type feeWithdrawalJSON struct {
	WithdrawalID string `json:"withdrawal_id"`
	HouseID      string `json:"house_id"`
	CallerID     string `json:"caller_id"`
	Pot          string `json:"pot"` // "house", "protocol" or "referral"
	Epoch        uint64 `json:"epoch"`
	Sequence     int64  `json:"sequence"`
}

func parseFeeWithdrawal(data []byte) (*event.FeeWithdrawal, error) {
	var j feeWithdrawalJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FeeWithdrawal: %w", err)
	}
	withdrawalID, err := uuid.Parse(j.WithdrawalID)
	if err != nil {
		return nil, fmt.Errorf("parse withdrawal_id: %w", err)
	}
	houseID, err := uuid.Parse(j.HouseID)
	if err != nil {
		return nil, fmt.Errorf("parse house_id: %w", err)
	}
	callerID, err := uuid.Parse(j.CallerID)
	if err != nil {
		return nil, fmt.Errorf("parse caller_id: %w", err)
	}

	var pot event.FeePot
	switch j.Pot {
	case "house":
		pot = event.FeePotHouse
	case "protocol":
		pot = event.FeePotProtocol
	case "referral":
		pot = event.FeePotReferral
	default:
		return nil, fmt.Errorf("unknown fee pot %q", j.Pot)
	}

	return &event.FeeWithdrawal{
		WithdrawalID: withdrawalID,
		House:        houseID,
		CallerID:     callerID,
		Pot:          pot,
		Epoch:        j.Epoch,
		Sequence:     j.Sequence,
	}, nil
}
