package core

import (
	fpmath "HouseLedger/internal/math"
	"HouseLedger/internal/observability"
	"HouseLedger/internal/state"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ratioOne is the raw value of 1.0 in 32.32 fixed point.
const ratioOne = uint64(1) << fpmath.FractionBits

// FeeConfig holds the three independently configured fee rates applied to
// the bet legs of a settlement batch. The rates must sum to strictly less
// than 100%; this is validated once at house creation, not per batch.
type FeeConfig struct {
	HouseFeeFactor    fpmath.Ratio
	ProtocolFeeFactor fpmath.Ratio
	ReferralFeeFactor fpmath.Ratio
}

func NewFeeConfig(house, protocol, referral fpmath.Ratio) (FeeConfig, error) {
	if house.Raw() >= ratioOne || protocol.Raw() >= ratioOne || referral.Raw() >= ratioOne {
		return FeeConfig{}, fmt.Errorf("fee rate at or above 100%%: %w", state.ErrInvalidFeeConfiguration)
	}
	if house.Raw()+protocol.Raw()+referral.Raw() >= ratioOne {
		return FeeConfig{}, fmt.Errorf("fee rates sum to 100%% or more: %w", state.ErrInvalidFeeConfiguration)
	}
	return FeeConfig{
		HouseFeeFactor:    house,
		ProtocolFeeFactor: protocol,
		ReferralFeeFactor: referral,
	}, nil
}

// House is one staking-funded market-maker aggregate: a vault, the pool
// history, and every staker's participation, serialized behind one mutex.
// Every mutating entrypoint takes the caller-supplied chain epoch and runs
// the lazy end-of-day catch-up before acting; the aggregate never reads
// wall-clock time.
type House struct {
	mu sync.Mutex

	id            uuid.UUID
	adminID       uuid.UUID
	protocolID    uuid.UUID
	targetBalance uint64
	fees          FeeConfig

	vault          *state.Vault
	history        *state.History
	participations map[uuid.UUID]*state.Participation

	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewHouse(
	id, adminID, protocolID uuid.UUID,
	targetBalance uint64,
	fees FeeConfig,
	epoch uint64,
	log zerolog.Logger,
	metrics *observability.Metrics,
) *House {
	return &House{
		id:             id,
		adminID:        adminID,
		protocolID:     protocolID,
		targetBalance:  targetBalance,
		fees:           fees,
		vault:          state.NewVault(epoch),
		history:        state.NewHistory(epoch),
		participations: make(map[uuid.UUID]*state.Participation),
		log:            log.With().Str("house_id", id.String()).Logger(),
		metrics:        metrics,
	}
}

func (h *House) ID() uuid.UUID         { return h.id }
func (h *House) TargetBalance() uint64 { return h.targetBalance }

// Epoch returns the last epoch the aggregate has settled up to.
func (h *House) Epoch() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.history.Epoch()
}

// catchUp performs the lazy epoch rollover: sweep the vault, attribute the
// day's result to the pool (only when the vault was funded, so unfunded
// periods see no phantom P&L), then try to fund the next cycle. A chain
// epoch behind the aggregate is rejected before anything moves; letting
// it reach the vault would sweep the running cycle mid-flight.
func (h *House) catchUp(chainEpoch uint64) error {
	if chainEpoch < h.vault.Epoch() {
		return fmt.Errorf("chain epoch %d behind house epoch %d: %w",
			chainEpoch, h.vault.Epoch(), state.ErrEpochMismatch)
	}
	switched, prevEpoch, eodBalance, wasActive := h.vault.ProcessEndOfDay(chainEpoch)
	if switched {
		var profits, losses uint64
		if wasActive {
			if eodBalance > h.targetBalance {
				profits = eodBalance - h.targetBalance
			} else {
				losses = h.targetBalance - eodBalance
			}
		}
		if err := h.history.ProcessEndOfDay(chainEpoch, profits, losses); err != nil {
			return fmt.Errorf("epoch rollover: %w", err)
		}

		h.log.Info().
			Uint64("epoch", prevEpoch).
			Uint64("profits", profits).
			Uint64("losses", losses).
			Uint64("end_of_day_balance", eodBalance).
			Bool("was_funded", wasActive).
			Msg("epoch closed")
		if h.metrics != nil {
			h.metrics.EpochRollovers.Inc()
		}
	}

	// Funding only triggers when the reserve actually covers the target, so
	// the pool activation and the vault activation cannot diverge.
	if h.vault.ReserveBalance() >= h.targetBalance && h.history.MaybeActivate(h.targetBalance) {
		if err := h.vault.Activate(h.targetBalance); err != nil {
			return fmt.Errorf("fund play balance: %w", err)
		}
		h.log.Info().
			Uint64("epoch", h.history.Epoch()).
			Uint64("play_balance", h.vault.PlayBalance()).
			Uint64("active_stake", h.history.ActiveStake()).
			Msg("cycle activated")
		if h.metrics != nil {
			h.metrics.CycleActivations.Inc()
		}
	}
	return nil
}

// replay catches one participation up to the pool's epoch, one epoch per
// step: each epoch's share depends on the stake level at the start of that
// specific epoch, so skipped epochs cannot be collapsed.
func (h *House) replay(p *state.Participation) error {
	for p.LastUpdatedEpoch() < h.history.Epoch() {
		epoch := p.LastUpdatedEpoch()
		profitShare, lossShare := h.history.CalculateGGRShare(epoch, p.Stake())
		if err := p.ProcessEndOfDay(epoch+1, profitShare, lossShare); err != nil {
			return fmt.Errorf("replay epoch %d: %w", epoch, err)
		}
		if h.metrics != nil {
			h.metrics.ReplayedEpochs.Inc()
		}
	}
	return nil
}

func (h *House) participation(participantID uuid.UUID) *state.Participation {
	p, ok := h.participations[participantID]
	if !ok {
		p = state.NewParticipation(h.id, h.history.Epoch())
		h.participations[participantID] = p
	}
	return p
}

// Stake pulls funds from the staker's wallet into the reserve and credits
// the position. While a cycle runs the new stake is quarantined until the
// next cycle; it never joins the running cycle's P&L.
func (h *House) Stake(chainEpoch uint64, participantID uuid.UUID, amount uint64, wallet state.BalanceManager) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.catchUp(chainEpoch); err != nil {
		return err
	}
	p := h.participation(participantID)
	if err := h.replay(p); err != nil {
		return err
	}

	if err := wallet.Withdraw(amount); err != nil {
		return fmt.Errorf("stake funding: %w", err)
	}
	if err := p.AddStake(h.history.Epoch(), amount, h.history.IsActive()); err != nil {
		wallet.Deposit(amount)
		return err
	}
	// Cannot fail below: the epoch matches and the pool only grows.
	if err := h.history.ProcessStake(h.history.Epoch(), amount); err != nil {
		return err
	}
	h.vault.Deposit(amount)

	h.log.Info().
		Str("participant_id", participantID.String()).
		Uint64("amount", amount).
		Uint64("epoch", h.history.Epoch()).
		Msg("stake placed")
	if h.metrics != nil {
		h.metrics.StakeVolume.Add(float64(amount))
	}
	return nil
}

// Unstake requests a full exit. Stake that was never at risk leaves the
// pool immediately; active stake is queued and realized net of the cycle's
// result at epoch end. Funds stay in the reserve until claimed.
func (h *House) Unstake(chainEpoch uint64, participantID uuid.UUID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.catchUp(chainEpoch); err != nil {
		return err
	}
	p := h.participation(participantID)
	if err := h.replay(p); err != nil {
		return err
	}

	if p.UnstakeRequested() {
		return fmt.Errorf("unstake: %w", state.ErrCancellationWasRequested)
	}

	// The pool removal runs first: it is the step that can fail, and it
	// rolls itself back, leaving the position untouched on error.
	if err := h.history.ProcessUnstake(h.history.Epoch(), p.Stake(), p.PendingStake()); err != nil {
		return err
	}
	prevStake, pendingRemoved, err := p.Unstake(h.history.Epoch(), h.history.IsActive())
	if err != nil {
		return err
	}

	h.log.Info().
		Str("participant_id", participantID.String()).
		Uint64("stake", prevStake).
		Uint64("pending_stake", pendingRemoved).
		Bool("queued", h.history.IsActive() && prevStake > 0).
		Msg("unstake requested")
	return nil
}

// Claim drains the position's claimable balance out of the reserve into
// the staker's wallet.
func (h *House) Claim(chainEpoch uint64, participantID uuid.UUID, wallet state.BalanceManager) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.catchUp(chainEpoch); err != nil {
		return 0, err
	}
	p := h.participation(participantID)
	if err := h.replay(p); err != nil {
		return 0, err
	}

	amount := p.ClaimableBalance()
	if amount == 0 {
		return 0, nil
	}
	if err := h.vault.Withdraw(amount); err != nil {
		return 0, fmt.Errorf("claim payout: %w", err)
	}
	if _, err := p.ClaimAll(h.history.Epoch()); err != nil {
		// Unreachable after replay; put the funds back if it ever fires.
		h.vault.Deposit(amount)
		return 0, err
	}
	wallet.Deposit(amount)

	if p.IsEmpty() {
		delete(h.participations, participantID)
	}

	h.log.Info().
		Str("participant_id", participantID.String()).
		Uint64("amount", amount).
		Msg("claim paid")
	return amount, nil
}

// ProcessTransactions settles a game's bet/win batch against the play
// balance with no referral attribution.
func (h *House) ProcessTransactions(
	chainEpoch uint64,
	participantID uuid.UUID,
	transactions []state.Transaction,
	wallet state.BalanceManager,
) (state.Settlement, error) {
	return h.ProcessTransactionsWithReferral(chainEpoch, participantID, transactions, wallet, nil)
}

// ProcessTransactionsWithReferral settles a game's bet/win batch. The
// whole sequence — tally, vault settlement, three fee moves — either
// completes or aborts with zero effect: the pool and vault are
// checkpointed up front and restored on any later failure, and the wallet
// transfer is compensated.
func (h *House) ProcessTransactionsWithReferral(
	chainEpoch uint64,
	participantID uuid.UUID,
	transactions []state.Transaction,
	wallet state.BalanceManager,
	referrer *uuid.UUID,
) (state.Settlement, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.catchUp(chainEpoch); err != nil {
		return state.Settlement{}, err
	}
	if !h.vault.IsActive() {
		return state.Settlement{}, fmt.Errorf("settle transactions: %w", state.ErrVaultNotActive)
	}

	historyCp := h.history.Checkpoint()
	vaultCp := h.vault.Checkpoint()

	var referralRate *fpmath.Ratio
	if referrer != nil {
		rate := h.fees.ReferralFeeFactor
		referralRate = &rate
	}

	settlement, err := h.history.ProcessTransactions(
		h.history.Epoch(),
		participantID,
		transactions,
		h.fees.HouseFeeFactor,
		h.fees.ProtocolFeeFactor,
		referralRate,
	)
	if err != nil {
		return state.Settlement{}, err
	}

	paidOut, err := h.vault.SettleBalanceManager(settlement.CreditAmount, settlement.DebitAmount, wallet)
	if err != nil {
		h.history.Restore(historyCp)
		return state.Settlement{}, err
	}

	if err := h.applyFees(settlement, referrer); err != nil {
		h.history.Restore(historyCp)
		h.vault.Restore(vaultCp)
		h.compensateWallet(settlement, paidOut, wallet)
		return state.Settlement{}, err
	}

	h.log.Info().
		Str("participant_id", participantID.String()).
		Uint64("credit", settlement.CreditAmount).
		Uint64("debit", settlement.DebitAmount).
		Uint64("house_fee", settlement.HouseFee).
		Uint64("protocol_fee", settlement.ProtocolFee).
		Uint64("referral_fee", settlement.ReferralFee).
		Int("transactions", len(transactions)).
		Msg("batch settled")
	if h.metrics != nil {
		h.metrics.SettledBatches.Inc()
		h.metrics.BetVolume.Add(float64(settlement.DebitAmount))
		h.metrics.WinVolume.Add(float64(settlement.CreditAmount))
	}
	return settlement, nil
}

func (h *House) applyFees(settlement state.Settlement, referrer *uuid.UUID) error {
	if err := h.vault.ProcessHouseFee(settlement.HouseFee); err != nil {
		return fmt.Errorf("house fee: %w", err)
	}
	if err := h.vault.ProcessProtocolFee(settlement.ProtocolFee); err != nil {
		return fmt.Errorf("protocol fee: %w", err)
	}
	if referrer != nil {
		if err := h.vault.ProcessReferralFee(*referrer, settlement.ReferralFee); err != nil {
			return fmt.Errorf("referral fee: %w", err)
		}
	}
	return nil
}

// compensateWallet reverses the wallet transfer of a settlement whose
// later steps aborted. The payout side withdraws what the vault actually
// paid after clamping, not the nominal net. The reversal mirrors money we
// just moved, so a failure here is unreachable with a conforming wallet;
// it is still surfaced because losing it would mean phantom funds.
func (h *House) compensateWallet(settlement state.Settlement, paidOut uint64, wallet state.BalanceManager) {
	switch {
	case paidOut > 0:
		if err := wallet.Withdraw(paidOut); err != nil {
			h.log.Error().
				Err(err).
				Uint64("amount", paidOut).
				Msg("settlement reversal failed")
		}
	case settlement.DebitAmount > settlement.CreditAmount:
		wallet.Deposit(settlement.DebitAmount - settlement.CreditAmount)
	}
}

// EnsureSufficientFunds is the guard games call before interacting: it
// verifies the play balance can cover the worst-case payout.
func (h *House) EnsureSufficientFunds(chainEpoch uint64, maxPayout uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.catchUp(chainEpoch); err != nil {
		return err
	}
	if !h.vault.IsActive() {
		return fmt.Errorf("funds check: %w", state.ErrVaultNotActive)
	}
	if h.vault.PlayBalance() < maxPayout {
		return fmt.Errorf("play balance %d below max payout %d: %w",
			h.vault.PlayBalance(), maxPayout, state.ErrInsufficientFunds)
	}
	return nil
}

// ProcessEndOfDay runs the lazy rollover without any other mutation. The
// host calls it on epoch ticks; every other entrypoint performs the same
// catch-up implicitly.
func (h *House) ProcessEndOfDay(chainEpoch uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.catchUp(chainEpoch)
}

// WithdrawHouseFees drains the house operator's fee pot. Authorization is
// identifier equality against the admin recorded at creation.
func (h *House) WithdrawHouseFees(chainEpoch uint64, callerID uuid.UUID, wallet state.BalanceManager) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if callerID != h.adminID {
		return 0, fmt.Errorf("house fee withdrawal by %s: %w", callerID, state.ErrUnauthorized)
	}
	if err := h.catchUp(chainEpoch); err != nil {
		return 0, err
	}
	amount := h.vault.WithdrawHouseFees()
	if amount > 0 {
		wallet.Deposit(amount)
	}
	return amount, nil
}

// WithdrawProtocolFees drains the protocol treasury pot.
func (h *House) WithdrawProtocolFees(chainEpoch uint64, callerID uuid.UUID, wallet state.BalanceManager) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if callerID != h.protocolID {
		return 0, fmt.Errorf("protocol fee withdrawal by %s: %w", callerID, state.ErrUnauthorized)
	}
	if err := h.catchUp(chainEpoch); err != nil {
		return 0, err
	}
	amount := h.vault.WithdrawProtocolFees()
	if amount > 0 {
		wallet.Deposit(amount)
	}
	return amount, nil
}

// WithdrawReferralFees drains the caller's own referral pot; a referrer
// can only ever withdraw the pot keyed by their own identifier.
func (h *House) WithdrawReferralFees(chainEpoch uint64, callerID uuid.UUID, wallet state.BalanceManager) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.catchUp(chainEpoch); err != nil {
		return 0, err
	}
	amount := h.vault.WithdrawReferralFees(callerID)
	if amount > 0 {
		wallet.Deposit(amount)
	}
	return amount, nil
}

// StakerPosition is a read snapshot of one participation after replay.
type StakerPosition struct {
	ParticipantID    uuid.UUID
	Stake            uint64
	PendingStake     uint64
	ClaimableBalance uint64
	UnstakeRequested bool
	LastUpdatedEpoch uint64
}

// Position replays and snapshots one staker's position. Reads share the
// lazy-rollover behavior of mutations: looking at a position may close a
// finished epoch first.
func (h *House) Position(chainEpoch uint64, participantID uuid.UUID) (StakerPosition, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.catchUp(chainEpoch); err != nil {
		return StakerPosition{}, err
	}
	p, ok := h.participations[participantID]
	if !ok {
		return StakerPosition{ParticipantID: participantID, LastUpdatedEpoch: h.history.Epoch()}, nil
	}
	if err := h.replay(p); err != nil {
		return StakerPosition{}, err
	}
	return StakerPosition{
		ParticipantID:    participantID,
		Stake:            p.Stake(),
		PendingStake:     p.PendingStake(),
		ClaimableBalance: p.ClaimableBalance(),
		UnstakeRequested: p.UnstakeRequested(),
		LastUpdatedEpoch: p.LastUpdatedEpoch(),
	}, nil
}

// Status is a read snapshot of the aggregate's funding state.
type Status struct {
	HouseID        uuid.UUID
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

func (h *House) Status(chainEpoch uint64) (Status, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.catchUp(chainEpoch); err != nil {
		return Status{}, err
	}
	return Status{
		HouseID:        h.id,
		Epoch:          h.history.Epoch(),
		Active:         h.vault.IsActive(),
		TargetBalance:  h.targetBalance,
		ReserveBalance: h.vault.ReserveBalance(),
		PlayBalance:    h.vault.PlayBalance(),
		ActiveStake:    h.history.ActiveStake(),
		InactiveStake:  h.history.InactiveStake(),
		PendingUnstake: h.history.PendingUnstake(),
		HouseFeePot:    h.vault.CollectedHouseFees(),
		ProtocolFeePot: h.vault.CollectedProtocolFees(),
	}, nil
}

// TotalManagedBalance is the conservation quantity: reserve + play + all
// fee pots. Claimable balances live inside the reserve, so this figure
// only moves on explicit external fund transfers.
func (h *House) TotalManagedBalance() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.vault.TotalBalance()
}
