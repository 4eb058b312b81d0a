package query

import "github.com/google/uuid"

// HouseResponse represents one house's funding state for API queries.
type HouseResponse struct {
	HouseID        uuid.UUID `json:"house_id"`
	Epoch          int64     `json:"epoch"`
	Active         bool      `json:"active"`
	TargetBalance  int64     `json:"target_balance"`
	ReserveBalance int64     `json:"reserve_balance"`
	PlayBalance    int64     `json:"play_balance"`
	ActiveStake    int64     `json:"active_stake"`
	InactiveStake  int64     `json:"inactive_stake"`
	PendingUnstake int64     `json:"pending_unstake"`
	HouseFeePot    int64     `json:"house_fee_pot"`
	ProtocolFeePot int64     `json:"protocol_fee_pot"`
	AsOfSequence   int64     `json:"as_of_sequence"`
}

// PositionResponse represents one staker's position for API queries.
type PositionResponse struct {
	HouseID          uuid.UUID `json:"house_id"`
	ParticipantID    uuid.UUID `json:"participant_id"`
	Stake            int64     `json:"stake"`
	PendingStake     int64     `json:"pending_stake"`
	ClaimableBalance int64     `json:"claimable_balance"`
	UnstakeRequested bool      `json:"unstake_requested"`
	LastUpdatedEpoch int64     `json:"last_updated_epoch"`
	AsOfSequence     int64     `json:"as_of_sequence"`
}

// SettlementResponse represents one applied bet/win batch for API queries.
type SettlementResponse struct {
	Sequence      int64     `json:"sequence"`
	HouseID       uuid.UUID `json:"house_id"`
	BatchID       uuid.UUID `json:"batch_id"`
	ParticipantID uuid.UUID `json:"participant_id"`
	CreditAmount  int64     `json:"credit_amount"`
	DebitAmount   int64     `json:"debit_amount"`
	HouseFee      int64     `json:"house_fee"`
	ProtocolFee   int64     `json:"protocol_fee"`
	ReferralFee   int64     `json:"referral_fee"`
	Epoch         int64     `json:"epoch"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	HouseID       string `json:"house_id"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Amount        int64  `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// EpochResultResponse aggregates one epoch's settlement activity for a
// house. NetResult is positive when the house took in more than it paid
// out over the epoch, before fees.
type EpochResultResponse struct {
	Epoch        int64 `json:"epoch"`
	Batches      int64 `json:"batches"`
	TotalIntake  int64 `json:"total_intake"`
	TotalPayout  int64 `json:"total_payout"`
	NetResult    int64 `json:"net_result"`
	HouseFee     int64 `json:"house_fee"`
	ProtocolFee  int64 `json:"protocol_fee"`
	ReferralFee  int64 `json:"referral_fee"`
	LastSequence int64 `json:"last_sequence"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool         `json:"is_healthy"`
	HashChainBreaks []int64      `json:"hash_chain_breaks,omitempty"`
	StaleHouses     []StaleHouse `json:"stale_houses,omitempty"`
}

// StaleHouse is a house projection lagging far behind the event log.
type StaleHouse struct {
	HouseID      uuid.UUID `json:"house_id"`
	AsOfSequence int64     `json:"as_of_sequence"`
	LogSequence  int64     `json:"log_sequence"`
}
