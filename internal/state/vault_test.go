package state_test

import (
	"errors"
	"fmt"
	"testing"

	"HouseLedger/internal/state"

	"github.com/google/uuid"
)

// fakeWallet is a minimal counterparty for settlement tests.
type fakeWallet struct {
	balance uint64
}

func (w *fakeWallet) Withdraw(amount uint64) error {
	if w.balance < amount {
		return fmt.Errorf("wallet has %d, need %d: %w", w.balance, amount, state.ErrInsufficientFunds)
	}
	w.balance -= amount
	return nil
}

func (w *fakeWallet) Deposit(amount uint64) {
	w.balance += amount
}

// ============================================================================
// Test: deposits, withdrawals, activation
// ============================================================================

func TestVault_DepositWithdraw(t *testing.T) {
	v := state.NewVault(0)
	v.Deposit(1_000)

	if v.ReserveBalance() != 1_000 {
		t.Fatalf("reserve: got %d, want 1_000", v.ReserveBalance())
	}

	if err := v.Withdraw(400); err != nil {
		t.Fatalf("Withdraw failed: %v", err)
	}
	if v.ReserveBalance() != 600 {
		t.Errorf("reserve after withdraw: got %d, want 600", v.ReserveBalance())
	}

	err := v.Withdraw(601)
	if !errors.Is(err, state.ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestVault_Activate(t *testing.T) {
	v := state.NewVault(0)
	v.Deposit(100_000)

	if err := v.Activate(100_000); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if !v.IsActive() {
		t.Error("vault should be active")
	}
	if v.PlayBalance() != 100_000 || v.ReserveBalance() != 0 {
		t.Errorf("balances: play=%d reserve=%d", v.PlayBalance(), v.ReserveBalance())
	}
}

func TestVault_ActivateInsufficientReserve(t *testing.T) {
	v := state.NewVault(0)
	v.Deposit(50_000)

	err := v.Activate(100_000)
	if !errors.Is(err, state.ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
	if v.IsActive() {
		t.Error("vault must not be active after failed activation")
	}
}

// ============================================================================
// Test: end-of-day sweep
// ============================================================================

func TestVault_EndOfDaySweep(t *testing.T) {
	v := state.NewVault(0)
	v.Deposit(100_000)
	v.Activate(100_000)

	switched, prevEpoch, eodBalance, wasActive := v.ProcessEndOfDay(1)
	if !switched {
		t.Fatal("expected epoch switch")
	}
	if prevEpoch != 0 || eodBalance != 100_000 || !wasActive {
		t.Errorf("got prev=%d eod=%d active=%v", prevEpoch, eodBalance, wasActive)
	}
	if v.PlayBalance() != 0 || v.ReserveBalance() != 100_000 {
		t.Errorf("sweep balances: play=%d reserve=%d", v.PlayBalance(), v.ReserveBalance())
	}
	if v.IsActive() {
		t.Error("vault should be inactive after sweep")
	}
	if v.Epoch() != 1 {
		t.Errorf("epoch: got %d, want 1", v.Epoch())
	}
}

func TestVault_EndOfDayIdempotent(t *testing.T) {
	v := state.NewVault(0)
	v.Deposit(5_000)
	v.ProcessEndOfDay(1)

	before := v.TotalBalance()
	switched, _, _, _ := v.ProcessEndOfDay(1)
	if switched {
		t.Error("same-epoch end of day must be a no-op")
	}
	if v.TotalBalance() != before {
		t.Error("no-op rollover mutated balances")
	}
}

func TestVault_EndOfDayRegressedEpochIsNoOp(t *testing.T) {
	v := state.NewVault(5)
	v.Deposit(10_000)
	v.Activate(10_000)

	switched, _, _, _ := v.ProcessEndOfDay(3)
	if switched {
		t.Fatal("regressed epoch must not sweep")
	}
	if !v.IsActive() || v.PlayBalance() != 10_000 {
		t.Errorf("regressed epoch mutated the vault: active=%v play=%d",
			v.IsActive(), v.PlayBalance())
	}
	if v.Epoch() != 5 {
		t.Errorf("epoch rewound to %d", v.Epoch())
	}
}

// ============================================================================
// Test: settlement
// ============================================================================

func TestVault_SettleVaultPays(t *testing.T) {
	v := state.NewVault(0)
	v.Deposit(100_000)
	v.Activate(100_000)
	wallet := &fakeWallet{}

	// wins 20k, bets 10k: vault pays 10k
	paidOut, err := v.SettleBalanceManager(20_000, 10_000, wallet)
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if paidOut != 10_000 {
		t.Errorf("paid out: got %d, want 10_000", paidOut)
	}
	if v.PlayBalance() != 90_000 {
		t.Errorf("play: got %d, want 90_000", v.PlayBalance())
	}
	if wallet.balance != 10_000 {
		t.Errorf("wallet: got %d, want 10_000", wallet.balance)
	}
}

func TestVault_SettleCounterpartyPays(t *testing.T) {
	v := state.NewVault(0)
	v.Deposit(100_000)
	v.Activate(100_000)
	wallet := &fakeWallet{balance: 30_000}

	paidOut, err := v.SettleBalanceManager(5_000, 25_000, wallet)
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if paidOut != 0 {
		t.Errorf("intake settle reported payout %d", paidOut)
	}
	if v.PlayBalance() != 120_000 {
		t.Errorf("play: got %d, want 120_000", v.PlayBalance())
	}
	if wallet.balance != 10_000 {
		t.Errorf("wallet: got %d, want 10_000", wallet.balance)
	}
}

func TestVault_SettleCounterpartyShortfallPropagates(t *testing.T) {
	v := state.NewVault(0)
	v.Deposit(100_000)
	v.Activate(100_000)
	wallet := &fakeWallet{balance: 100}

	_, err := v.SettleBalanceManager(0, 25_000, wallet)
	if !errors.Is(err, state.ErrInsufficientFunds) {
		t.Fatalf("expected counterparty ErrInsufficientFunds, got %v", err)
	}
	if v.PlayBalance() != 100_000 {
		t.Error("failed settle must leave the play balance unchanged")
	}
	if wallet.balance != 100 {
		t.Error("failed settle must leave the wallet unchanged")
	}
}

func TestVault_SettlePrecisionAllowance(t *testing.T) {
	v := state.NewVault(0)
	v.Deposit(1_000)
	v.Activate(1_000)
	wallet := &fakeWallet{}

	// Owed 1_002 against play 1_000: within the 2-unit allowance, clamps.
	paidOut, err := v.SettleBalanceManager(1_002, 0, wallet)
	if err != nil {
		t.Fatalf("settle within allowance failed: %v", err)
	}
	if v.PlayBalance() != 0 || wallet.balance != 1_000 {
		t.Errorf("play=%d wallet=%d", v.PlayBalance(), wallet.balance)
	}
	// The reported payout is the clamped transfer, not the nominal owed.
	if paidOut != 1_000 {
		t.Errorf("paid out: got %d, want the clamped 1_000", paidOut)
	}
}

func TestVault_SettleBeyondAllowance(t *testing.T) {
	v := state.NewVault(0)
	v.Deposit(1_000)
	v.Activate(1_000)
	wallet := &fakeWallet{}

	_, err := v.SettleBalanceManager(1_003, 0, wallet)
	if !errors.Is(err, state.ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestVault_SettleInactive(t *testing.T) {
	v := state.NewVault(0)
	v.Deposit(1_000)
	wallet := &fakeWallet{}

	_, err := v.SettleBalanceManager(10, 0, wallet)
	if !errors.Is(err, state.ErrVaultNotActive) {
		t.Errorf("expected ErrVaultNotActive, got %v", err)
	}
}

// ============================================================================
// Test: fee pots
// ============================================================================

func TestVault_FeePots(t *testing.T) {
	v := state.NewVault(0)
	v.Deposit(10_000)
	v.Activate(10_000)
	referrer := uuid.New()

	if err := v.ProcessHouseFee(100); err != nil {
		t.Fatalf("house fee: %v", err)
	}
	if err := v.ProcessProtocolFee(50); err != nil {
		t.Fatalf("protocol fee: %v", err)
	}
	if err := v.ProcessReferralFee(referrer, 25); err != nil {
		t.Fatalf("referral fee: %v", err)
	}

	if v.PlayBalance() != 9_825 {
		t.Errorf("play after fees: got %d, want 9_825", v.PlayBalance())
	}
	if v.CollectedReferralFees(referrer) != 25 {
		t.Errorf("referral pot: got %d, want 25", v.CollectedReferralFees(referrer))
	}

	// Fee moves never change the vault total
	if v.TotalBalance() != 10_000 {
		t.Errorf("total: got %d, want 10_000", v.TotalBalance())
	}

	if got := v.WithdrawHouseFees(); got != 100 {
		t.Errorf("withdraw house fees: got %d, want 100", got)
	}
	if got := v.WithdrawHouseFees(); got != 0 {
		t.Errorf("empty pot: got %d, want 0", got)
	}
	if got := v.WithdrawReferralFees(referrer); got != 25 {
		t.Errorf("withdraw referral fees: got %d, want 25", got)
	}
}

func TestVault_FeeExceedsPlayBalance(t *testing.T) {
	v := state.NewVault(0)
	v.Deposit(10)
	v.Activate(10)

	err := v.ProcessHouseFee(11)
	if !errors.Is(err, state.ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
}

// ============================================================================
// Test: checkpoint / restore
// ============================================================================

func TestVault_CheckpointRestore(t *testing.T) {
	v := state.NewVault(0)
	v.Deposit(10_000)
	v.Activate(10_000)
	referrer := uuid.New()
	v.ProcessReferralFee(referrer, 10)

	cp := v.Checkpoint()

	wallet := &fakeWallet{}
	_, _ = v.SettleBalanceManager(2_000, 0, wallet)
	v.ProcessHouseFee(50)
	v.ProcessReferralFee(referrer, 5)

	v.Restore(cp)

	if v.PlayBalance() != 9_990 {
		t.Errorf("play after restore: got %d, want 9_990", v.PlayBalance())
	}
	if v.CollectedHouseFees() != 0 {
		t.Errorf("house pot after restore: got %d, want 0", v.CollectedHouseFees())
	}
	if v.CollectedReferralFees(referrer) != 10 {
		t.Errorf("referral pot after restore: got %d, want 10", v.CollectedReferralFees(referrer))
	}
}
