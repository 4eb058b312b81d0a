package ingestion_test

import (
	"testing"

	"HouseLedger/internal/event"
	"HouseLedger/internal/ingestion"

	"github.com/google/uuid"
)

func raw(data string) ingestion.RawEvent {
	return ingestion.RawEvent{Data: []byte(data)}
}

func TestParseHouseCreated(t *testing.T) {
	houseID := uuid.New()
	adminID := uuid.New()
	protocolID := uuid.New()
	data := `{
		"house_id": "` + houseID.String() + `",
		"admin_id": "` + adminID.String() + `",
		"protocol_id": "` + protocolID.String() + `",
		"target_balance": 100000,
		"house_fee_numerator": 1, "house_fee_denominator": 100,
		"protocol_fee_numerator": 1, "protocol_fee_denominator": 200,
		"referral_fee_numerator": 0, "referral_fee_denominator": 1,
		"epoch": 3,
		"sequence": 42
	}`

	parsed, err := ingestion.ParseRawEvent(raw(data), "HouseCreated")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	created, ok := parsed.(*event.HouseCreated)
	if !ok {
		t.Fatalf("wrong type %T", parsed)
	}
	if created.House != houseID || created.AdminID != adminID || created.ProtocolID != protocolID {
		t.Error("identifier mismatch")
	}
	if created.TargetBalance != 100_000 || created.Epoch != 3 || created.Sequence != 42 {
		t.Errorf("fields: %+v", created)
	}
	if created.HouseFeeNumerator != 1 || created.HouseFeeDenominator != 100 {
		t.Errorf("house fee: %d/%d", created.HouseFeeNumerator, created.HouseFeeDenominator)
	}
	if created.IdempotencyKey() != "house_created:"+houseID.String() {
		t.Errorf("idempotency key: %s", created.IdempotencyKey())
	}
}

func TestParseStakePlaced(t *testing.T) {
	stakeID := uuid.New()
	houseID := uuid.New()
	participantID := uuid.New()
	data := `{
		"stake_id": "` + stakeID.String() + `",
		"house_id": "` + houseID.String() + `",
		"participant_id": "` + participantID.String() + `",
		"amount": 25000,
		"epoch": 7,
		"sequence": 11
	}`

	parsed, err := ingestion.ParseRawEvent(raw(data), "StakePlaced")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	stake := parsed.(*event.StakePlaced)
	if stake.StakeID != stakeID || stake.House != houseID || stake.ParticipantID != participantID {
		t.Error("identifier mismatch")
	}
	if stake.Amount != 25_000 || stake.ChainEpoch() != 7 || stake.SourceSequence() != 11 {
		t.Errorf("fields: %+v", stake)
	}
}

func TestParseTransactionBatch(t *testing.T) {
	batchID := uuid.New()
	houseID := uuid.New()
	participantID := uuid.New()
	referrerID := uuid.New()
	data := `{
		"batch_id": "` + batchID.String() + `",
		"house_id": "` + houseID.String() + `",
		"participant_id": "` + participantID.String() + `",
		"referrer_id": "` + referrerID.String() + `",
		"legs": [
			{"kind": "bet", "amount": 10000},
			{"kind": "win", "amount": 20000}
		],
		"epoch": 1,
		"sequence": 99
	}`

	parsed, err := ingestion.ParseRawEvent(raw(data), "TransactionBatch")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	batch := parsed.(*event.TransactionBatch)
	if batch.BatchID != batchID || batch.House != houseID {
		t.Error("identifier mismatch")
	}
	if batch.Referrer == nil || *batch.Referrer != referrerID {
		t.Error("referrer lost")
	}
	if len(batch.Legs) != 2 {
		t.Fatalf("legs: %d", len(batch.Legs))
	}
	if batch.Legs[0].Kind != event.LegKindBet || batch.Legs[0].Amount != 10_000 {
		t.Errorf("leg 0: %+v", batch.Legs[0])
	}
	if batch.Legs[1].Kind != event.LegKindWin || batch.Legs[1].Amount != 20_000 {
		t.Errorf("leg 1: %+v", batch.Legs[1])
	}
}

func TestParseTransactionBatchWithoutReferrer(t *testing.T) {
	data := `{
		"batch_id": "` + uuid.NewString() + `",
		"house_id": "` + uuid.NewString() + `",
		"participant_id": "` + uuid.NewString() + `",
		"legs": [{"kind": "bet", "amount": 500}],
		"epoch": 1,
		"sequence": 1
	}`

	parsed, err := ingestion.ParseRawEvent(raw(data), "TransactionBatch")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsed.(*event.TransactionBatch).Referrer != nil {
		t.Error("expected no referrer")
	}
}

func TestParseTransactionBatchRejectsUnknownLegKind(t *testing.T) {
	data := `{
		"batch_id": "` + uuid.NewString() + `",
		"house_id": "` + uuid.NewString() + `",
		"participant_id": "` + uuid.NewString() + `",
		"legs": [{"kind": "jackpot", "amount": 500}],
		"epoch": 1,
		"sequence": 1
	}`

	if _, err := ingestion.ParseRawEvent(raw(data), "TransactionBatch"); err == nil {
		t.Fatal("expected an error for an unknown leg kind")
	}
}

func TestParseEpochTick(t *testing.T) {
	parsed, err := ingestion.ParseRawEvent(raw(`{"epoch": 12, "sequence": 5}`), "EpochTick")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	tick := parsed.(*event.EpochTick)
	if tick.Epoch != 12 || tick.Sequence != 5 {
		t.Errorf("fields: %+v", tick)
	}
	if tick.HouseID() != nil {
		t.Error("epoch tick is a global command")
	}
}

func TestParseFeeWithdrawal(t *testing.T) {
	withdrawalID := uuid.New()
	data := `{
		"withdrawal_id": "` + withdrawalID.String() + `",
		"house_id": "` + uuid.NewString() + `",
		"caller_id": "` + uuid.NewString() + `",
		"pot": "referral",
		"epoch": 2,
		"sequence": 8
	}`

	parsed, err := ingestion.ParseRawEvent(raw(data), "FeeWithdrawal")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	wd := parsed.(*event.FeeWithdrawal)
	if wd.Pot != event.FeePotReferral {
		t.Errorf("pot: %s", wd.Pot)
	}
	if wd.IdempotencyKey() != withdrawalID.String() {
		t.Errorf("idempotency key: %s", wd.IdempotencyKey())
	}
}

func TestParseFeeWithdrawalRejectsUnknownPot(t *testing.T) {
	data := `{
		"withdrawal_id": "` + uuid.NewString() + `",
		"house_id": "` + uuid.NewString() + `",
		"caller_id": "` + uuid.NewString() + `",
		"pot": "jackpot",
		"epoch": 2,
		"sequence": 8
	}`
	if _, err := ingestion.ParseRawEvent(raw(data), "FeeWithdrawal"); err == nil {
		t.Fatal("expected an error for an unknown pot")
	}
}

func TestParseRejectsMalformedUUID(t *testing.T) {
	data := `{
		"stake_id": "not-a-uuid",
		"house_id": "` + uuid.NewString() + `",
		"participant_id": "` + uuid.NewString() + `",
		"amount": 1,
		"epoch": 0,
		"sequence": 1
	}`
	if _, err := ingestion.ParseRawEvent(raw(data), "StakePlaced"); err == nil {
		t.Fatal("expected an error for a malformed stake_id")
	}
}

func TestParseRejectsUnknownEventType(t *testing.T) {
	if _, err := ingestion.ParseRawEvent(raw(`{}`), "MarkPriceUpdate"); err == nil {
		t.Fatal("expected an error for an unknown event type")
	}
}
