package state

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"HouseLedger/internal/ledger"
	fpmath "HouseLedger/internal/math"
)

// TransactionKind discriminates settlement legs supplied by games.
type TransactionKind int32

const (
	TransactionKindUnknown TransactionKind = iota
	TransactionKindBet
	TransactionKindWin
)

func (k TransactionKind) String() string {
	switch k {
	case TransactionKindBet:
		return "Bet"
	case TransactionKindWin:
		return "Win"
	default:
		return "Unknown"
	}
}

// Transaction is one already-resolved game outcome: a bet the participant
// owes the vault, or a win the vault owes the participant.
type Transaction struct {
	Kind   TransactionKind
	Amount uint64
}

// Volumes carries the running totals for one funding cycle. TotalStake is
// the stake the cycle was activated with and is the denominator for every
// GGR share of that epoch; it is frozen for all mid-cycle transactions.
type Volumes struct {
	TotalStake     uint64
	TotalBetAmount uint64
	TotalWinAmount uint64
}

// EpochResult records a finished epoch's gross gaming result. At most one
// of the two fields is non-zero.
type EpochResult struct {
	DayProfits uint64
	DayLosses  uint64
}

// History is the global accounting ledger of one house: stake state across
// the active/inactive boundary, per-epoch snapshots, and the all-time
// counters. It is the arithmetic core of proportional profit/loss
// redistribution and is only ever touched under the owning house's lock.
type History struct {
	epoch    uint64
	isActive bool

	activeStake    uint64
	inactiveStake  uint64
	pendingUnstake uint64

	current Volumes

	historicVolumes map[uint64]Volumes
	activeHistory   map[uint64]bool
	eodHistory      map[uint64]EpochResult

	// All-time counters are 128-bit so decades of volume cannot wrap.
	allTimeBetAmount *big.Int
	allTimeWinAmount *big.Int
	allTimeProfits   *big.Int
	allTimeLosses    *big.Int

	accounts *ledger.Book
}

func NewHistory(epoch uint64) *History {
	return &History{
		epoch:            epoch,
		historicVolumes:  make(map[uint64]Volumes),
		activeHistory:    make(map[uint64]bool),
		eodHistory:       make(map[uint64]EpochResult),
		allTimeBetAmount: new(big.Int),
		allTimeWinAmount: new(big.Int),
		allTimeProfits:   new(big.Int),
		allTimeLosses:    new(big.Int),
		accounts:         ledger.NewBook(),
	}
}

// Epoch returns the epoch the history is reconciled to.
func (h *History) Epoch() uint64 {
	return h.epoch
}

// IsActive reports whether a funding cycle is currently running.
func (h *History) IsActive() bool {
	return h.isActive
}

// ActiveStake returns the stake frozen in the running cycle.
func (h *History) ActiveStake() uint64 {
	return h.activeStake
}

// InactiveStake returns the stake not exposed to the running cycle.
func (h *History) InactiveStake() uint64 {
	return h.inactiveStake
}

// PendingUnstake returns the stake queued to leave at epoch end.
func (h *History) PendingUnstake() uint64 {
	return h.pendingUnstake
}

// CurrentVolumes returns the running cycle's totals.
func (h *History) CurrentVolumes() Volumes {
	return h.current
}

// HistoricVolumes returns the recorded volumes for a finished epoch.
func (h *History) HistoricVolumes(epoch uint64) (Volumes, bool) {
	v, ok := h.historicVolumes[epoch]
	return v, ok
}

// EpochResultFor returns the recorded result for a finished epoch.
func (h *History) EpochResultFor(epoch uint64) (EpochResult, bool) {
	r, ok := h.eodHistory[epoch]
	return r, ok
}

// ProcessStake credits a new stake. Stake placed during an active cycle is
// never added to the currently-active pool; it always lands inactive and
// waits for the next activation.
func (h *History) ProcessStake(epoch uint64, amount uint64) error {
	if epoch != h.epoch {
		return fmt.Errorf("stake at epoch %d, history at %d: %w", epoch, h.epoch, ErrEpochMismatch)
	}
	h.inactiveStake += amount
	return nil
}

// ProcessUnstake removes a participant's position from the pool.
// stakeRemoved is active-or-settled stake: while a cycle runs it is queued
// into pendingUnstake and realized (net of the cycle's P&L) at epoch end;
// while inactive it leaves immediately. pendingStakeRemoved was never
// active and always leaves inactiveStake immediately, tolerating the
// precision allowance.
func (h *History) ProcessUnstake(epoch uint64, stakeRemoved, pendingStakeRemoved uint64) error {
	if epoch != h.epoch {
		return fmt.Errorf("unstake at epoch %d, history at %d: %w", epoch, h.epoch, ErrEpochMismatch)
	}

	if h.isActive {
		h.pendingUnstake += stakeRemoved
		if err := h.removeInactive(pendingStakeRemoved); err != nil {
			h.pendingUnstake -= stakeRemoved
			return err
		}
		return nil
	}

	return h.removeInactive(stakeRemoved + pendingStakeRemoved)
}

func (h *History) removeInactive(amount uint64) error {
	if amount > h.inactiveStake {
		if amount > h.inactiveStake+PrecisionErrorAllowance {
			return fmt.Errorf("remove %d from inactive stake %d: %w", amount, h.inactiveStake, ErrCannotUnstakeMoreThanStaked)
		}
		amount = h.inactiveStake
	}
	h.inactiveStake -= amount
	return nil
}

// MaybeActivate starts a new cycle when enough inactive stake has
// accumulated to fund the target play balance. The whole inactive pool
// moves into the active cycle and seeds the cycle's stake volume. Returns
// true when the caller must fund the vault's play balance.
func (h *History) MaybeActivate(targetBalance uint64) bool {
	if h.isActive || h.inactiveStake < targetBalance {
		return false
	}

	h.activeStake = h.inactiveStake
	h.inactiveStake = 0
	h.current.TotalStake = h.activeStake
	h.isActive = true
	return true
}

// ProcessEndOfDay closes the cycle that ran during the tracked epoch,
// applies the day's result to the active pool, actualizes queued unstakes
// at the pool-wide return, records the epoch's snapshots, and leaves the
// pool desactivated at currentEpoch. Activation for the next cycle is the
// orchestrator's separate MaybeActivate call.
func (h *History) ProcessEndOfDay(currentEpoch uint64, profits, losses uint64) error {
	if currentEpoch <= h.epoch {
		return fmt.Errorf("end of day at epoch %d, history at %d: %w", currentEpoch, h.epoch, ErrEpochHasNotFinishedYet)
	}
	if profits > 0 && losses > 0 {
		return fmt.Errorf("profits %d and losses %d both non-zero: %w", profits, losses, ErrInvalidProfitsOrLosses)
	}

	prevActive := h.activeStake

	newStake := prevActive
	switch {
	case profits > 0:
		newStake += profits
	case losses > 0:
		if losses > prevActive {
			if losses > prevActive+PrecisionErrorAllowance {
				return fmt.Errorf("losses %d exceed active stake %d: %w", losses, prevActive, ErrInvalidProfitsOrLosses)
			}
			losses = prevActive
		}
		newStake -= losses
	}

	if h.pendingUnstake > 0 {
		actualized, err := h.actualizePendingUnstake(prevActive, profits, losses)
		if err != nil {
			return err
		}
		if actualized > newStake {
			actualized = newStake
		}
		newStake -= actualized
	}

	h.historicVolumes[h.epoch] = h.current
	h.activeHistory[h.epoch] = h.isActive
	h.eodHistory[h.epoch] = EpochResult{DayProfits: profits, DayLosses: losses}

	h.allTimeProfits.Add(h.allTimeProfits, new(big.Int).SetUint64(profits))
	h.allTimeLosses.Add(h.allTimeLosses, new(big.Int).SetUint64(losses))

	h.current = Volumes{}
	h.activeStake = 0
	h.inactiveStake += newStake
	h.pendingUnstake = 0
	h.isActive = false
	h.epoch = currentEpoch

	return nil
}

// actualizePendingUnstake applies the cycle's pool-wide return to the
// queued exit amount: a staker who requested exit still bears or benefits
// from the epoch's result proportional to their share. On a full-pool
// bankruptcy the queued amount is wiped with the rest of the pool.
func (h *History) actualizePendingUnstake(prevActive, profits, losses uint64) (uint64, error) {
	pending := h.pendingUnstake

	switch {
	case prevActive == 0:
		return pending, nil
	case profits > 0:
		ratio, err := fpmath.NewRatio(profits, prevActive)
		if err != nil {
			return 0, err
		}
		return pending + fpmath.IntMul(pending, ratio), nil
	case losses > 0:
		if losses >= prevActive {
			return 0, nil
		}
		ratio, err := fpmath.NewRatio(losses, prevActive)
		if err != nil {
			return 0, err
		}
		return pending - fpmath.IntMul(pending, ratio), nil
	default:
		return pending, nil
	}
}

// CalculateGGRShare computes one participant's proportional share of a
// finished epoch's gross gaming result. Missing data, a zero stake, or an
// inactive cycle all yield a zero share; at most one of the returns is
// non-zero.
func (h *History) CalculateGGRShare(epoch uint64, accountStake uint64) (profitShare, lossShare uint64) {
	volumes, ok := h.historicVolumes[epoch]
	if !ok || accountStake == 0 || volumes.TotalStake == 0 {
		return 0, 0
	}
	if !h.activeHistory[epoch] {
		return 0, 0
	}
	result, ok := h.eodHistory[epoch]
	if !ok {
		return 0, 0
	}

	ratio, err := fpmath.NewRatio(accountStake, volumes.TotalStake)
	if err != nil {
		return 0, 0
	}

	if result.DayLosses > 0 {
		return 0, fpmath.IntMul(result.DayLosses, ratio)
	}
	return fpmath.IntMul(result.DayProfits, ratio), 0
}

// Settlement is the outcome of tallying one transaction batch: the totals
// the vault settles against the counterparty plus the fee splits computed
// on the batch's bet legs.
type Settlement struct {
	CreditAmount uint64
	DebitAmount  uint64
	HouseFee     uint64
	ProtocolFee  uint64
	ReferralFee  uint64
}

// ProcessTransactions tallies a settlement batch into the participant's
// ephemeral account and the cycle volumes, computes fees on the bet legs,
// and settles the account. The kinds are validated up front so a malformed
// batch leaves no partial effect.
func (h *History) ProcessTransactions(
	epoch uint64,
	participantID uuid.UUID,
	transactions []Transaction,
	houseFeeFactor, protocolFeeFactor fpmath.Ratio,
	referralFeeFactor *fpmath.Ratio,
) (Settlement, error) {
	if !h.isActive {
		return Settlement{}, ErrHouseNotActive
	}
	if epoch != h.epoch {
		return Settlement{}, fmt.Errorf("transactions at epoch %d, history at %d: %w", epoch, h.epoch, ErrEpochMismatch)
	}

	for _, tx := range transactions {
		if tx.Kind != TransactionKindBet && tx.Kind != TransactionKindWin {
			return Settlement{}, fmt.Errorf("kind %d: %w", tx.Kind, ErrUnknownTransaction)
		}
	}

	account := h.accounts.Get(participantID)

	var settlement Settlement
	for _, tx := range transactions {
		switch tx.Kind {
		case TransactionKindWin:
			account.AddCredit(tx.Amount)
			h.current.TotalWinAmount += tx.Amount
			h.allTimeWinAmount.Add(h.allTimeWinAmount, new(big.Int).SetUint64(tx.Amount))

		case TransactionKindBet:
			account.AddDebit(tx.Amount)
			h.current.TotalBetAmount += tx.Amount
			h.allTimeBetAmount.Add(h.allTimeBetAmount, new(big.Int).SetUint64(tx.Amount))

			// Fees accrue on bet legs only, floored per leg and per rate.
			settlement.HouseFee += fpmath.IntMul(tx.Amount, houseFeeFactor)
			settlement.ProtocolFee += fpmath.IntMul(tx.Amount, protocolFeeFactor)
			if referralFeeFactor != nil {
				settlement.ReferralFee += fpmath.IntMul(tx.Amount, *referralFeeFactor)
			}
		}
	}

	settlement.CreditAmount, settlement.DebitAmount = account.Settle()
	return settlement, nil
}

// AllTimeBetAmount returns a copy of the cumulative bet counter.
func (h *History) AllTimeBetAmount() *big.Int {
	return new(big.Int).Set(h.allTimeBetAmount)
}

// AllTimeWinAmount returns a copy of the cumulative win counter.
func (h *History) AllTimeWinAmount() *big.Int {
	return new(big.Int).Set(h.allTimeWinAmount)
}

// AllTimeProfits returns a copy of the cumulative profit counter.
func (h *History) AllTimeProfits() *big.Int {
	return new(big.Int).Set(h.allTimeProfits)
}

// AllTimeLosses returns a copy of the cumulative loss counter.
func (h *History) AllTimeLosses() *big.Int {
	return new(big.Int).Set(h.allTimeLosses)
}

// HistoryCheckpoint captures the fields a transaction settlement can
// mutate. The per-epoch maps are only appended by ProcessEndOfDay, whose
// failure paths all precede the first write, so they need no copy here.
type HistoryCheckpoint struct {
	current          Volumes
	allTimeBetAmount *big.Int
	allTimeWinAmount *big.Int
}

// Checkpoint captures the settlement-mutable state.
func (h *History) Checkpoint() HistoryCheckpoint {
	return HistoryCheckpoint{
		current:          h.current,
		allTimeBetAmount: new(big.Int).Set(h.allTimeBetAmount),
		allTimeWinAmount: new(big.Int).Set(h.allTimeWinAmount),
	}
}

// Restore rewinds the settlement-mutable state to a checkpoint.
func (h *History) Restore(cp HistoryCheckpoint) {
	h.current = cp.current
	h.allTimeBetAmount.Set(cp.allTimeBetAmount)
	h.allTimeWinAmount.Set(cp.allTimeWinAmount)
}
