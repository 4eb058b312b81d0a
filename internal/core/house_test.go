package core_test

import (
	"errors"
	"testing"

	"HouseLedger/internal/core"
	"HouseLedger/internal/custody"
	fpmath "HouseLedger/internal/math"
	"HouseLedger/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func mustRatio(t *testing.T, num, den uint64) fpmath.Ratio {
	t.Helper()
	r, err := fpmath.NewRatio(num, den)
	if err != nil {
		t.Fatalf("NewRatio(%d, %d): %v", num, den, err)
	}
	return r
}

func mustFees(t *testing.T, houseNum, houseDen, protoNum, protoDen, refNum, refDen uint64) core.FeeConfig {
	t.Helper()
	fees, err := core.NewFeeConfig(
		mustRatio(t, houseNum, houseDen),
		mustRatio(t, protoNum, protoDen),
		mustRatio(t, refNum, refDen),
	)
	if err != nil {
		t.Fatalf("NewFeeConfig: %v", err)
	}
	return fees
}

func newTestHouse(t *testing.T, targetBalance uint64, fees core.FeeConfig) (*core.House, uuid.UUID, uuid.UUID) {
	t.Helper()
	adminID := uuid.New()
	protocolID := uuid.New()
	house := core.NewHouse(uuid.New(), adminID, protocolID, targetBalance, fees, 0, zerolog.Nop(), nil)
	return house, adminID, protocolID
}

func zeroFees(t *testing.T) core.FeeConfig {
	t.Helper()
	return mustFees(t, 0, 1, 0, 1, 0, 1)
}

func fundedWallet(owner uuid.UUID, balance uint64) *custody.Wallet {
	w := custody.NewWallet(owner)
	w.Deposit(balance)
	return w
}

// ============================================================================
// Test: fee configuration
// ============================================================================

func TestFeeConfig_Validation(t *testing.T) {
	if _, err := core.NewFeeConfig(
		mustRatio(t, 1, 100), mustRatio(t, 1, 200), mustRatio(t, 1, 400),
	); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	// 50% + 30% + 20% == 100%: rejected at creation, not per batch.
	_, err := core.NewFeeConfig(
		mustRatio(t, 1, 2), mustRatio(t, 3, 10), mustRatio(t, 1, 5),
	)
	if !errors.Is(err, state.ErrInvalidFeeConfiguration) {
		t.Errorf("expected ErrInvalidFeeConfiguration, got %v", err)
	}

	_, err = core.NewFeeConfig(
		mustRatio(t, 3, 2), mustRatio(t, 0, 1), mustRatio(t, 0, 1),
	)
	if !errors.Is(err, state.ErrInvalidFeeConfiguration) {
		t.Errorf("rate above 100%%: expected ErrInvalidFeeConfiguration, got %v", err)
	}
}

// ============================================================================
// Test: activation lifecycle
// ============================================================================

func TestHouse_ActivatesWhenTargetReached(t *testing.T) {
	house, _, _ := newTestHouse(t, 100_000, zeroFees(t))
	staker := uuid.New()
	wallet := fundedWallet(staker, 60_000)

	if err := house.Stake(0, staker, 60_000, wallet); err != nil {
		t.Fatalf("stake failed: %v", err)
	}
	status, _ := house.Status(0)
	if status.Active {
		t.Fatal("house must not activate below target")
	}

	staker2 := uuid.New()
	wallet2 := fundedWallet(staker2, 40_000)
	if err := house.Stake(0, staker2, 40_000, wallet2); err != nil {
		t.Fatalf("stake failed: %v", err)
	}

	// Activation happens on the next epoch boundary, not mid-epoch.
	if err := house.ProcessEndOfDay(1); err != nil {
		t.Fatalf("rollover failed: %v", err)
	}
	status, _ = house.Status(1)
	if !status.Active {
		t.Fatal("house should be active after the boundary")
	}
	if status.PlayBalance != 100_000 || status.ReserveBalance != 0 {
		t.Errorf("play=%d reserve=%d", status.PlayBalance, status.ReserveBalance)
	}
	if status.ActiveStake != 100_000 {
		t.Errorf("active stake: got %d, want 100_000", status.ActiveStake)
	}
}

func TestHouse_RolloverIdempotent(t *testing.T) {
	house, _, _ := newTestHouse(t, 10_000, zeroFees(t))
	staker := uuid.New()
	house.Stake(0, staker, 10_000, fundedWallet(staker, 10_000))
	house.ProcessEndOfDay(1)

	before, _ := house.Status(1)
	if err := house.ProcessEndOfDay(1); err != nil {
		t.Fatalf("second rollover failed: %v", err)
	}
	after, _ := house.Status(1)
	if before != after {
		t.Errorf("same-epoch rollover mutated state:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestHouse_RegressedEpochRejectedWithoutEffect(t *testing.T) {
	house, _, _ := newTestHouse(t, 100_000, zeroFees(t))
	staker := uuid.New()
	player := uuid.New()
	house.Stake(0, staker, 100_000, fundedWallet(staker, 100_000))
	if err := house.ProcessEndOfDay(5); err != nil {
		t.Fatalf("activation rollover: %v", err)
	}

	// The cycle pays out a 10_000 win at epoch 5.
	_, err := house.ProcessTransactions(5, player, []state.Transaction{
		{Kind: state.TransactionKindWin, Amount: 10_000},
	}, fundedWallet(player, 0))
	if err != nil {
		t.Fatalf("settlement failed: %v", err)
	}

	// A command carrying an older epoch is rejected before anything moves.
	if err := house.ProcessEndOfDay(3); !errors.Is(err, state.ErrEpochMismatch) {
		t.Fatalf("expected ErrEpochMismatch, got %v", err)
	}

	// The aggregate is not wedged: current-epoch reads still work and the
	// running cycle is intact.
	status, err := house.Status(5)
	if err != nil {
		t.Fatalf("status after rejected command: %v", err)
	}
	if !status.Active || status.PlayBalance != 90_000 {
		t.Errorf("cycle state damaged: active=%v play=%d", status.Active, status.PlayBalance)
	}

	// The real rollover still attributes the cycle's loss to the staker.
	if err := house.ProcessEndOfDay(6); err != nil {
		t.Fatalf("loss rollover: %v", err)
	}
	pos, err := house.Position(6, staker)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.Stake != 90_000 {
		t.Errorf("stake after loss: got %d, want 90_000", pos.Stake)
	}
	if house.TotalManagedBalance() != 90_000 {
		t.Errorf("managed balance: got %d, want 90_000", house.TotalManagedBalance())
	}
}

// ============================================================================
// Test: the 100k / 20k+80k example scenario
// ============================================================================

func TestHouse_ExampleScenario(t *testing.T) {
	house, _, _ := newTestHouse(t, 100_000, mustFees(t, 1, 100, 1, 200, 0, 1))

	stakerA := uuid.New()
	stakerB := uuid.New()
	player := uuid.New()
	walletA := fundedWallet(stakerA, 20_000)
	walletB := fundedWallet(stakerB, 80_000)
	playerWallet := fundedWallet(player, 0)

	if err := house.Stake(0, stakerA, 20_000, walletA); err != nil {
		t.Fatalf("stake A: %v", err)
	}
	if err := house.Stake(0, stakerB, 80_000, walletB); err != nil {
		t.Fatalf("stake B: %v", err)
	}
	if err := house.ProcessEndOfDay(1); err != nil {
		t.Fatalf("activation rollover: %v", err)
	}

	settlement, err := house.ProcessTransactions(1, player, []state.Transaction{
		{Kind: state.TransactionKindBet, Amount: 10_000},
		{Kind: state.TransactionKindWin, Amount: 20_000},
	}, playerWallet)
	if err != nil {
		t.Fatalf("settlement failed: %v", err)
	}
	// 1% / 0.5% of the 10_000 bet leg, each floored down by the 32.32 rate.
	if settlement.HouseFee != 99 || settlement.ProtocolFee != 49 {
		t.Errorf("fees: house=%d protocol=%d, want 99/49", settlement.HouseFee, settlement.ProtocolFee)
	}
	if playerWallet.Balance() != 10_000 {
		t.Errorf("player wallet: got %d, want 10_000", playerWallet.Balance())
	}

	status, _ := house.Status(1)
	if status.PlayBalance != 89_852 {
		t.Errorf("play after settlement: got %d, want 89_852", status.PlayBalance)
	}

	if err := house.ProcessEndOfDay(2); err != nil {
		t.Fatalf("loss rollover: %v", err)
	}

	// The 10_148 pool loss splits 20/80, each share floored.
	posA, err := house.Position(2, stakerA)
	if err != nil {
		t.Fatalf("position A: %v", err)
	}
	posB, err := house.Position(2, stakerB)
	if err != nil {
		t.Fatalf("position B: %v", err)
	}
	if posA.Stake != 17_971 {
		t.Errorf("stake A: got %d, want 17_971", posA.Stake)
	}
	if posB.Stake != 71_882 {
		t.Errorf("stake B: got %d, want 71_882", posB.Stake)
	}

	lossA := 20_000 - posA.Stake
	lossB := 80_000 - posB.Stake
	if lossA+lossB > 10_148 {
		t.Errorf("loss shares %d + %d exceed the pool loss 10_148", lossA, lossB)
	}

	// 100_000 staked in, 10_000 net paid out.
	if house.TotalManagedBalance() != 90_000 {
		t.Errorf("managed balance: got %d, want 90_000", house.TotalManagedBalance())
	}
}

// ============================================================================
// Test: conservation
// ============================================================================

func TestHouse_Conservation(t *testing.T) {
	house, adminID, _ := newTestHouse(t, 50_000, mustFees(t, 1, 100, 1, 200, 0, 1))
	bank := custody.NewBank()

	stakerA := uuid.New()
	stakerB := uuid.New()
	player := uuid.New()
	bank.Fund(stakerA, 40_000)
	bank.Fund(stakerB, 30_000)
	bank.Fund(player, 25_000)
	bank.Fund(adminID, 0)
	const externalTotal = 95_000

	check := func(step string) {
		t.Helper()
		total := bank.TotalBalance() + house.TotalManagedBalance()
		if total != externalTotal {
			t.Fatalf("%s: conservation broken: bank+house = %d, want %d", step, total, externalTotal)
		}
	}

	house.Stake(0, stakerA, 30_000, bank.Wallet(stakerA))
	check("stake A")
	house.Stake(0, stakerB, 25_000, bank.Wallet(stakerB))
	check("stake B")
	house.ProcessEndOfDay(1)
	check("activation")

	house.ProcessTransactions(1, player, []state.Transaction{
		{Kind: state.TransactionKindBet, Amount: 8_000},
		{Kind: state.TransactionKindWin, Amount: 3_000},
	}, bank.Wallet(player))
	check("settlement")

	house.ProcessEndOfDay(2)
	check("rollover")

	if err := house.Unstake(2, stakerA); err != nil {
		t.Fatalf("unstake: %v", err)
	}
	check("unstake")

	house.ProcessEndOfDay(3)
	check("exit rollover")

	if _, err := house.Claim(3, stakerA, bank.Wallet(stakerA)); err != nil {
		t.Fatalf("claim: %v", err)
	}
	check("claim")

	if _, err := house.WithdrawHouseFees(3, adminID, bank.Wallet(adminID)); err != nil {
		t.Fatalf("fee withdrawal: %v", err)
	}
	check("fee withdrawal")
}

// ============================================================================
// Test: proportional fairness
// ============================================================================

func TestHouse_ProportionalFairness(t *testing.T) {
	house, _, _ := newTestHouse(t, 100_000, zeroFees(t))

	stakerA := uuid.New()
	stakerB := uuid.New()
	player := uuid.New()
	house.Stake(0, stakerA, 25_000, fundedWallet(stakerA, 25_000))
	house.Stake(0, stakerB, 75_000, fundedWallet(stakerB, 75_000))
	house.ProcessEndOfDay(1)

	// Pool profit of 10_000: the player loses a 12_000 bet net of a
	// 2_000 win.
	_, err := house.ProcessTransactions(1, player, []state.Transaction{
		{Kind: state.TransactionKindBet, Amount: 12_000},
		{Kind: state.TransactionKindWin, Amount: 2_000},
	}, fundedWallet(player, 12_000))
	if err != nil {
		t.Fatalf("settlement failed: %v", err)
	}
	house.ProcessEndOfDay(2)

	posA, _ := house.Position(2, stakerA)
	posB, _ := house.Position(2, stakerB)

	gainA := posA.Stake - 25_000
	gainB := posB.Stake - 75_000
	if gainA != 2_500 {
		t.Errorf("25%% gain: got %d, want 2_500", gainA)
	}
	if gainB != 7_500 {
		t.Errorf("75%% gain: got %d, want 7_500", gainB)
	}
	if gainA+gainB > 10_000 {
		t.Errorf("gains %d + %d exceed the pool profit", gainA, gainB)
	}
}

// ============================================================================
// Test: bankruptcy
// ============================================================================

func TestHouse_BankruptcyToExactlyZero(t *testing.T) {
	house, _, _ := newTestHouse(t, 1_000, zeroFees(t))
	staker := uuid.New()
	player := uuid.New()
	house.Stake(0, staker, 1_000, fundedWallet(staker, 1_000))
	house.ProcessEndOfDay(1)

	// The player wins the entire play balance.
	_, err := house.ProcessTransactions(1, player, []state.Transaction{
		{Kind: state.TransactionKindWin, Amount: 1_000},
	}, fundedWallet(player, 0))
	if err != nil {
		t.Fatalf("settlement failed: %v", err)
	}

	if err := house.ProcessEndOfDay(2); err != nil {
		t.Fatalf("bankruptcy rollover must not abort: %v", err)
	}
	pos, _ := house.Position(2, staker)
	if pos.Stake != 0 {
		t.Errorf("stake after bankruptcy: got %d, want exactly 0", pos.Stake)
	}
	status, _ := house.Status(2)
	if status.Active {
		t.Error("wiped pool must not re-activate")
	}
}

// ============================================================================
// Test: fee sum invariant
// ============================================================================

func TestHouse_FeeSumInvariant(t *testing.T) {
	house, _, _ := newTestHouse(t, 100_000, mustFees(t, 1, 100, 1, 200, 1, 400))
	staker := uuid.New()
	player := uuid.New()
	referrer := uuid.New()
	house.Stake(0, staker, 100_000, fundedWallet(staker, 100_000))
	house.ProcessEndOfDay(1)

	settlement, err := house.ProcessTransactionsWithReferral(1, player, []state.Transaction{
		{Kind: state.TransactionKindBet, Amount: 9_999},
	}, fundedWallet(player, 9_999), &referrer)
	if err != nil {
		t.Fatalf("settlement failed: %v", err)
	}
	if settlement.HouseFee != 99 || settlement.ProtocolFee != 49 || settlement.ReferralFee != 24 {
		t.Errorf("fees: %d/%d/%d, want 99/49/24",
			settlement.HouseFee, settlement.ProtocolFee, settlement.ReferralFee)
	}

	// Each fee floors independently, so the sum may trail the combined
	// rate by at most one unit per floor.
	combined := mustRatio(t, 1, 100)
	combined, _ = combined.Add(mustRatio(t, 1, 200))
	combined, _ = combined.Add(mustRatio(t, 1, 400))
	want := fpmath.IntMul(9_999, combined)

	got := settlement.HouseFee + settlement.ProtocolFee + settlement.ReferralFee
	if got > want {
		t.Errorf("fee sum %d exceeds combined-rate fee %d", got, want)
	}
	if want-got > 3 {
		t.Errorf("fee sum %d trails combined-rate fee %d by more than 3", got, want)
	}
}

// ============================================================================
// Test: unstake during an active cycle
// ============================================================================

func TestHouse_UnstakeDuringActiveCycleIsLossAdjusted(t *testing.T) {
	house, _, _ := newTestHouse(t, 100_000, zeroFees(t))
	staker := uuid.New()
	player := uuid.New()
	house.Stake(0, staker, 100_000, fundedWallet(staker, 100_000))
	house.ProcessEndOfDay(1)

	if err := house.Unstake(1, staker); err != nil {
		t.Fatalf("unstake: %v", err)
	}

	// The pool posts a 10_000 loss in the same epoch.
	_, err := house.ProcessTransactions(1, player, []state.Transaction{
		{Kind: state.TransactionKindWin, Amount: 10_000},
	}, fundedWallet(player, 0))
	if err != nil {
		t.Fatalf("settlement failed: %v", err)
	}
	house.ProcessEndOfDay(2)

	pos, err := house.Position(2, staker)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.ClaimableBalance != 90_000 {
		t.Errorf("claimable: got %d, want the loss-adjusted 90_000", pos.ClaimableBalance)
	}
	if pos.Stake != 0 || pos.UnstakeRequested {
		t.Errorf("stake=%d flag=%v after exit sweep", pos.Stake, pos.UnstakeRequested)
	}

	wallet := fundedWallet(staker, 0)
	amount, err := house.Claim(2, staker, wallet)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if amount != 90_000 || wallet.Balance() != 90_000 {
		t.Errorf("claimed %d, wallet %d, want 90_000", amount, wallet.Balance())
	}
}

// ============================================================================
// Test: mid-cycle stake quarantine
// ============================================================================

func TestHouse_MidCycleStakeQuarantined(t *testing.T) {
	house, _, _ := newTestHouse(t, 100_000, zeroFees(t))
	stakerA := uuid.New()
	stakerB := uuid.New()
	player := uuid.New()
	house.Stake(0, stakerA, 100_000, fundedWallet(stakerA, 100_000))
	house.ProcessEndOfDay(1)

	// B joins while the cycle runs: quarantined until the next boundary.
	if err := house.Stake(1, stakerB, 50_000, fundedWallet(stakerB, 50_000)); err != nil {
		t.Fatalf("mid-cycle stake: %v", err)
	}
	posB, _ := house.Position(1, stakerB)
	if posB.Stake != 0 || posB.PendingStake != 50_000 {
		t.Errorf("B mid-cycle: stake=%d pending=%d", posB.Stake, posB.PendingStake)
	}

	// The cycle posts a 10_000 profit that belongs to A alone.
	house.ProcessTransactions(1, player, []state.Transaction{
		{Kind: state.TransactionKindBet, Amount: 10_000},
	}, fundedWallet(player, 10_000))
	house.ProcessEndOfDay(2)

	posA, _ := house.Position(2, stakerA)
	posB, _ = house.Position(2, stakerB)
	if posA.Stake != 110_000 {
		t.Errorf("A stake: got %d, want 110_000", posA.Stake)
	}
	if posB.Stake != 50_000 || posB.PendingStake != 0 {
		t.Errorf("B stake: got %d pending %d, want 50_000/0", posB.Stake, posB.PendingStake)
	}
}

// ============================================================================
// Test: rejection paths
// ============================================================================

func TestHouse_TransactionsRejectedWhileInactive(t *testing.T) {
	house, _, _ := newTestHouse(t, 100_000, zeroFees(t))
	player := uuid.New()
	wallet := fundedWallet(player, 5_000)

	before, _ := house.Status(0)
	_, err := house.ProcessTransactions(0, player, []state.Transaction{
		{Kind: state.TransactionKindBet, Amount: 1_000},
	}, wallet)
	if !errors.Is(err, state.ErrVaultNotActive) {
		t.Fatalf("expected ErrVaultNotActive, got %v", err)
	}
	after, _ := house.Status(0)
	if before != after {
		t.Error("rejected settlement mutated the house")
	}
	if wallet.Balance() != 5_000 {
		t.Error("rejected settlement touched the wallet")
	}
}

func TestHouse_AbortedSettlementCompensatesClampedPayout(t *testing.T) {
	// The 10% fee on a 10_000 bet (999 after flooring) cannot be taken
	// once the payout drains the play balance to zero, so the batch
	// aborts after the wallet was already paid.
	house, _, _ := newTestHouse(t, 1_000, mustFees(t, 1, 10, 0, 1, 0, 1))
	staker := uuid.New()
	player := uuid.New()
	house.Stake(0, staker, 1_000, fundedWallet(staker, 1_000))
	house.ProcessEndOfDay(1)

	wallet := fundedWallet(player, 0)
	before, _ := house.Status(1)

	// Net owed 1_001 against play 1_000: within the allowance, the vault
	// pays the clamped 1_000 before the fee step fails.
	_, err := house.ProcessTransactions(1, player, []state.Transaction{
		{Kind: state.TransactionKindBet, Amount: 10_000},
		{Kind: state.TransactionKindWin, Amount: 11_001},
	}, wallet)
	if !errors.Is(err, state.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds from the fee step, got %v", err)
	}

	// The reversal withdraws the 1_000 actually transferred, not the
	// nominal 1_001 net, so the wallet ends exactly where it started.
	if wallet.Balance() != 0 {
		t.Errorf("wallet after aborted batch: got %d, want 0", wallet.Balance())
	}
	after, _ := house.Status(1)
	if before != after {
		t.Errorf("aborted batch mutated the house:\nbefore %+v\nafter  %+v", before, after)
	}
	if house.TotalManagedBalance() != 1_000 {
		t.Errorf("managed balance: got %d, want 1_000", house.TotalManagedBalance())
	}
}

func TestHouse_EnsureSufficientFunds(t *testing.T) {
	house, _, _ := newTestHouse(t, 10_000, zeroFees(t))
	staker := uuid.New()

	if err := house.EnsureSufficientFunds(0, 1); !errors.Is(err, state.ErrVaultNotActive) {
		t.Errorf("inactive: expected ErrVaultNotActive, got %v", err)
	}

	house.Stake(0, staker, 10_000, fundedWallet(staker, 10_000))
	house.ProcessEndOfDay(1)

	if err := house.EnsureSufficientFunds(1, 10_000); err != nil {
		t.Errorf("covered payout rejected: %v", err)
	}
	if err := house.EnsureSufficientFunds(1, 10_001); !errors.Is(err, state.ErrInsufficientFunds) {
		t.Errorf("uncovered payout: expected ErrInsufficientFunds, got %v", err)
	}
}

func TestHouse_FeeWithdrawalAuthorization(t *testing.T) {
	house, adminID, protocolID := newTestHouse(t, 10_000, mustFees(t, 1, 4, 1, 8, 1, 16))
	staker := uuid.New()
	player := uuid.New()
	referrer := uuid.New()
	house.Stake(0, staker, 10_000, fundedWallet(staker, 10_000))
	house.ProcessEndOfDay(1)

	house.ProcessTransactionsWithReferral(1, player, []state.Transaction{
		{Kind: state.TransactionKindBet, Amount: 1_600},
	}, fundedWallet(player, 1_600), &referrer)

	intruder := uuid.New()
	if _, err := house.WithdrawHouseFees(1, intruder, fundedWallet(intruder, 0)); !errors.Is(err, state.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := house.WithdrawProtocolFees(1, intruder, fundedWallet(intruder, 0)); !errors.Is(err, state.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}

	adminWallet := fundedWallet(adminID, 0)
	amount, err := house.WithdrawHouseFees(1, adminID, adminWallet)
	if err != nil {
		t.Fatalf("admin withdrawal: %v", err)
	}
	if amount != 400 || adminWallet.Balance() != 400 {
		t.Errorf("house fees: got %d, want 400", amount)
	}

	protocolWallet := fundedWallet(protocolID, 0)
	if amount, _ = house.WithdrawProtocolFees(1, protocolID, protocolWallet); amount != 200 {
		t.Errorf("protocol fees: got %d, want 200", amount)
	}

	// A referrer only ever drains the pot keyed by their own id.
	referrerWallet := fundedWallet(referrer, 0)
	if amount, _ = house.WithdrawReferralFees(1, referrer, referrerWallet); amount != 100 {
		t.Errorf("referral fees: got %d, want 100", amount)
	}
	otherWallet := fundedWallet(intruder, 0)
	if amount, _ = house.WithdrawReferralFees(1, intruder, otherWallet); amount != 0 {
		t.Errorf("foreign referral pot: got %d, want 0", amount)
	}
}
