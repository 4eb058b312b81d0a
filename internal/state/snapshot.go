package state

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// Snapshot types mirror the aggregates with exported, JSON-serializable
// fields for warm-restart persistence. All-time counters travel as
// decimal strings because they are 128-bit.

type VaultSnapshot struct {
	Epoch                 uint64               `json:"epoch"`
	Active                bool                 `json:"active"`
	ReserveBalance        uint64               `json:"reserve_balance"`
	PlayBalance           uint64               `json:"play_balance"`
	CollectedHouseFees    uint64               `json:"collected_house_fees"`
	CollectedProtocolFees uint64               `json:"collected_protocol_fees"`
	CollectedReferralFees map[uuid.UUID]uint64 `json:"collected_referral_fees"`
}

func (v *Vault) Snapshot() VaultSnapshot {
	referral := make(map[uuid.UUID]uint64, len(v.collectedReferralFees))
	for id, amount := range v.collectedReferralFees {
		referral[id] = amount
	}
	return VaultSnapshot{
		Epoch:                 v.epoch,
		Active:                v.active,
		ReserveBalance:        v.reserveBalance,
		PlayBalance:           v.playBalance,
		CollectedHouseFees:    v.collectedHouseFees,
		CollectedProtocolFees: v.collectedProtocolFees,
		CollectedReferralFees: referral,
	}
}

func VaultFromSnapshot(snap VaultSnapshot) *Vault {
	v := NewVault(snap.Epoch)
	v.active = snap.Active
	v.reserveBalance = snap.ReserveBalance
	v.playBalance = snap.PlayBalance
	v.collectedHouseFees = snap.CollectedHouseFees
	v.collectedProtocolFees = snap.CollectedProtocolFees
	for id, amount := range snap.CollectedReferralFees {
		v.collectedReferralFees[id] = amount
	}
	return v
}

type HistorySnapshot struct {
	Epoch          uint64 `json:"epoch"`
	IsActive       bool   `json:"is_active"`
	ActiveStake    uint64 `json:"active_stake"`
	InactiveStake  uint64 `json:"inactive_stake"`
	PendingUnstake uint64 `json:"pending_unstake"`

	Current         Volumes                `json:"current"`
	HistoricVolumes map[uint64]Volumes     `json:"historic_volumes"`
	ActiveHistory   map[uint64]bool        `json:"active_history"`
	EODHistory      map[uint64]EpochResult `json:"eod_history"`

	AllTimeBetAmount string `json:"all_time_bet_amount"`
	AllTimeWinAmount string `json:"all_time_win_amount"`
	AllTimeProfits   string `json:"all_time_profits"`
	AllTimeLosses    string `json:"all_time_losses"`
}

// Snapshot captures the pool state between commands. The per-batch
// account book is always settled back to zero by then, so it is not part
// of the snapshot.
func (h *History) Snapshot() HistorySnapshot {
	snap := HistorySnapshot{
		Epoch:            h.epoch,
		IsActive:         h.isActive,
		ActiveStake:      h.activeStake,
		InactiveStake:    h.inactiveStake,
		PendingUnstake:   h.pendingUnstake,
		Current:          h.current,
		HistoricVolumes:  make(map[uint64]Volumes, len(h.historicVolumes)),
		ActiveHistory:    make(map[uint64]bool, len(h.activeHistory)),
		EODHistory:       make(map[uint64]EpochResult, len(h.eodHistory)),
		AllTimeBetAmount: h.allTimeBetAmount.String(),
		AllTimeWinAmount: h.allTimeWinAmount.String(),
		AllTimeProfits:   h.allTimeProfits.String(),
		AllTimeLosses:    h.allTimeLosses.String(),
	}
	for epoch, volumes := range h.historicVolumes {
		snap.HistoricVolumes[epoch] = volumes
	}
	for epoch, active := range h.activeHistory {
		snap.ActiveHistory[epoch] = active
	}
	for epoch, result := range h.eodHistory {
		snap.EODHistory[epoch] = result
	}
	return snap
}

func HistoryFromSnapshot(snap HistorySnapshot) (*History, error) {
	h := NewHistory(snap.Epoch)
	h.isActive = snap.IsActive
	h.activeStake = snap.ActiveStake
	h.inactiveStake = snap.InactiveStake
	h.pendingUnstake = snap.PendingUnstake
	h.current = snap.Current
	for epoch, volumes := range snap.HistoricVolumes {
		h.historicVolumes[epoch] = volumes
	}
	for epoch, active := range snap.ActiveHistory {
		h.activeHistory[epoch] = active
	}
	for epoch, result := range snap.EODHistory {
		h.eodHistory[epoch] = result
	}

	counters := []struct {
		name string
		dst  *big.Int
		src  string
	}{
		{"all_time_bet_amount", h.allTimeBetAmount, snap.AllTimeBetAmount},
		{"all_time_win_amount", h.allTimeWinAmount, snap.AllTimeWinAmount},
		{"all_time_profits", h.allTimeProfits, snap.AllTimeProfits},
		{"all_time_losses", h.allTimeLosses, snap.AllTimeLosses},
	}
	for _, c := range counters {
		if c.src == "" {
			continue
		}
		if _, ok := c.dst.SetString(c.src, 10); !ok {
			return nil, fmt.Errorf("snapshot counter %s: bad value %q", c.name, c.src)
		}
	}
	return h, nil
}

type ParticipationSnapshot struct {
	HouseID          uuid.UUID `json:"house_id"`
	LastUpdatedEpoch uint64    `json:"last_updated_epoch"`
	Stake            uint64    `json:"stake"`
	PendingStake     uint64    `json:"pending_stake"`
	ClaimableBalance uint64    `json:"claimable_balance"`
	UnstakeRequested bool      `json:"unstake_requested"`
}

func (p *Participation) Snapshot() ParticipationSnapshot {
	return ParticipationSnapshot{
		HouseID:          p.houseID,
		LastUpdatedEpoch: p.lastUpdatedEpoch,
		Stake:            p.stake,
		PendingStake:     p.pendingStake,
		ClaimableBalance: p.claimableBalance,
		UnstakeRequested: p.unstakeRequested,
	}
}

func ParticipationFromSnapshot(snap ParticipationSnapshot) *Participation {
	p := NewParticipation(snap.HouseID, snap.LastUpdatedEpoch)
	p.stake = snap.Stake
	p.pendingStake = snap.PendingStake
	p.claimableBalance = snap.ClaimableBalance
	p.unstakeRequested = snap.UnstakeRequested
	return p
}
