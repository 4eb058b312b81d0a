package state

import (
	"fmt"

	"github.com/google/uuid"
)

// BalanceManager is the counterparty side of a settlement: the custody
// account a transaction batch is netted against. Withdraw must fail with
// an ErrInsufficientFunds-wrapped error when the counterparty cannot cover
// the amount; that failure propagates uncaught and aborts the whole batch.
type BalanceManager interface {
	Withdraw(amount uint64) error
	Deposit(amount uint64)
}

// Vault is the custodian of a house's two balances plus the collected fee
// pots. The reserve holds all capital not currently deployed; the play
// balance is the funded, at-risk balance that pays out wins during an
// active cycle. reserve + play + fee pots only changes through external
// deposits, withdrawals and settlements — never through internal
// rebalancing.
type Vault struct {
	epoch  uint64
	active bool

	reserveBalance uint64
	playBalance    uint64

	collectedHouseFees    uint64
	collectedProtocolFees uint64
	collectedReferralFees map[uuid.UUID]uint64
}

func NewVault(epoch uint64) *Vault {
	return &Vault{
		epoch:                 epoch,
		collectedReferralFees: make(map[uuid.UUID]uint64),
	}
}

// Epoch returns the last epoch the vault was reconciled to.
func (v *Vault) Epoch() uint64 {
	return v.epoch
}

// IsActive reports whether the play balance is currently funded.
func (v *Vault) IsActive() bool {
	return v.active
}

// ReserveBalance returns the undeployed balance.
func (v *Vault) ReserveBalance() uint64 {
	return v.reserveBalance
}

// PlayBalance returns the at-risk balance.
func (v *Vault) PlayBalance() uint64 {
	return v.playBalance
}

// Deposit adds funds to the reserve. No failure mode.
func (v *Vault) Deposit(amount uint64) {
	v.reserveBalance += amount
}

// Withdraw removes funds from the reserve.
func (v *Vault) Withdraw(amount uint64) error {
	if v.reserveBalance < amount {
		return fmt.Errorf("withdraw %d from reserve %d: %w", amount, v.reserveBalance, ErrInsufficientFunds)
	}
	v.reserveBalance -= amount
	return nil
}

// Activate funds the play balance with target units from the reserve and
// marks the vault active for the running cycle.
func (v *Vault) Activate(target uint64) error {
	if v.reserveBalance < target {
		return fmt.Errorf("activate with target %d, reserve %d: %w", target, v.reserveBalance, ErrInsufficientFunds)
	}
	v.reserveBalance -= target
	v.playBalance += target
	v.active = true
	return nil
}

// ProcessEndOfDay reconciles the vault to currentEpoch. A no-op when the
// epoch has not advanced; a regressed epoch never sweeps. Otherwise the
// entire play balance is swept back into the reserve, the prior cycle's
// funded flag is reported, and the vault is left inactive at the new
// epoch. The swept amount is what the orchestrator measures the cycle's
// profit or loss against.
func (v *Vault) ProcessEndOfDay(currentEpoch uint64) (switched bool, prevEpoch, endOfDayPlayBalance uint64, wasActive bool) {
	if currentEpoch <= v.epoch {
		return false, v.epoch, 0, false
	}

	prevEpoch = v.epoch
	endOfDayPlayBalance = v.playBalance
	wasActive = v.active

	v.reserveBalance += v.playBalance
	v.playBalance = 0
	v.active = false
	v.epoch = currentEpoch

	return true, prevEpoch, endOfDayPlayBalance, wasActive
}

// SettleBalanceManager nets a counterparty's credit/debit totals against
// the play balance. amountOut is what the vault owes the counterparty
// (wins); amountIn is what the counterparty owes the vault (bets). A play
// balance shortfall of at most PrecisionErrorAllowance is treated as
// rounding noise and clamped; anything larger aborts. A counterparty-side
// shortfall propagates from its own Withdraw untouched. paidOut is the
// amount actually deposited to the counterparty after clamping, which a
// later abort must withdraw back rather than the nominal net.
func (v *Vault) SettleBalanceManager(amountOut, amountIn uint64, counterparty BalanceManager) (paidOut uint64, err error) {
	if !v.active {
		return 0, ErrVaultNotActive
	}

	if amountOut > amountIn {
		owed := amountOut - amountIn
		if owed > v.playBalance {
			if owed > v.playBalance+PrecisionErrorAllowance {
				return 0, fmt.Errorf("settle owed %d, play balance %d: %w", owed, v.playBalance, ErrInsufficientFunds)
			}
			owed = v.playBalance
		}
		v.playBalance -= owed
		counterparty.Deposit(owed)
		return owed, nil
	}

	owed := amountIn - amountOut
	if owed == 0 {
		return 0, nil
	}
	if err := counterparty.Withdraw(owed); err != nil {
		return 0, err
	}
	v.playBalance += owed
	return 0, nil
}

// ProcessHouseFee moves amount from the play balance into the house fee pot.
func (v *Vault) ProcessHouseFee(amount uint64) error {
	if err := v.takeFromPlay(amount); err != nil {
		return err
	}
	v.collectedHouseFees += amount
	return nil
}

// ProcessProtocolFee moves amount from the play balance into the protocol
// fee pot.
func (v *Vault) ProcessProtocolFee(amount uint64) error {
	if err := v.takeFromPlay(amount); err != nil {
		return err
	}
	v.collectedProtocolFees += amount
	return nil
}

// ProcessReferralFee moves amount from the play balance into the referrer's
// pot, creating the pot lazily.
func (v *Vault) ProcessReferralFee(referrer uuid.UUID, amount uint64) error {
	if err := v.takeFromPlay(amount); err != nil {
		return err
	}
	v.collectedReferralFees[referrer] += amount
	return nil
}

func (v *Vault) takeFromPlay(amount uint64) error {
	if v.playBalance < amount {
		return fmt.Errorf("fee %d from play balance %d: %w", amount, v.playBalance, ErrInsufficientFunds)
	}
	v.playBalance -= amount
	return nil
}

// WithdrawHouseFees drains the house fee pot. An empty pot returns zero.
func (v *Vault) WithdrawHouseFees() uint64 {
	amount := v.collectedHouseFees
	v.collectedHouseFees = 0
	return amount
}

// WithdrawProtocolFees drains the protocol fee pot.
func (v *Vault) WithdrawProtocolFees() uint64 {
	amount := v.collectedProtocolFees
	v.collectedProtocolFees = 0
	return amount
}

// WithdrawReferralFees drains a referrer's pot.
func (v *Vault) WithdrawReferralFees(referrer uuid.UUID) uint64 {
	amount := v.collectedReferralFees[referrer]
	delete(v.collectedReferralFees, referrer)
	return amount
}

// CollectedHouseFees returns the house pot without draining it.
func (v *Vault) CollectedHouseFees() uint64 {
	return v.collectedHouseFees
}

// CollectedProtocolFees returns the protocol pot without draining it.
func (v *Vault) CollectedProtocolFees() uint64 {
	return v.collectedProtocolFees
}

// CollectedReferralFees returns a referrer's pot without draining it.
func (v *Vault) CollectedReferralFees(referrer uuid.UUID) uint64 {
	return v.collectedReferralFees[referrer]
}

// TotalBalance sums reserve, play and all fee pots. Used by conservation
// checks: the total only moves through external fund movement.
func (v *Vault) TotalBalance() uint64 {
	total := v.reserveBalance + v.playBalance + v.collectedHouseFees + v.collectedProtocolFees
	for _, pot := range v.collectedReferralFees {
		total += pot
	}
	return total
}

// VaultCheckpoint is a full value copy of the vault, taken before a
// multi-step settlement so a late failure can roll every mutation back.
type VaultCheckpoint struct {
	epoch                 uint64
	active                bool
	reserveBalance        uint64
	playBalance           uint64
	collectedHouseFees    uint64
	collectedProtocolFees uint64
	collectedReferralFees map[uuid.UUID]uint64
}

// Checkpoint captures the current vault state.
func (v *Vault) Checkpoint() VaultCheckpoint {
	referral := make(map[uuid.UUID]uint64, len(v.collectedReferralFees))
	for k, val := range v.collectedReferralFees {
		referral[k] = val
	}
	return VaultCheckpoint{
		epoch:                 v.epoch,
		active:                v.active,
		reserveBalance:        v.reserveBalance,
		playBalance:           v.playBalance,
		collectedHouseFees:    v.collectedHouseFees,
		collectedProtocolFees: v.collectedProtocolFees,
		collectedReferralFees: referral,
	}
}

// Restore rewinds the vault to a previously taken checkpoint.
func (v *Vault) Restore(cp VaultCheckpoint) {
	v.epoch = cp.epoch
	v.active = cp.active
	v.reserveBalance = cp.reserveBalance
	v.playBalance = cp.playBalance
	v.collectedHouseFees = cp.collectedHouseFees
	v.collectedProtocolFees = cp.collectedProtocolFees
	v.collectedReferralFees = cp.collectedReferralFees
}
