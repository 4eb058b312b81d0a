package custody

import (
	"fmt"
	"sync"

	"HouseLedger/internal/state"

	"github.com/google/uuid"
)

// Wallet is one participant's custody balance. It implements
// state.BalanceManager, so houses settle against it directly. The ledger
// never inspects identity: a wallet is an opaque balance tied to a
// participant-identifier key.
type Wallet struct {
	mu      sync.Mutex
	ownerID uuid.UUID
	balance uint64
}

func NewWallet(ownerID uuid.UUID) *Wallet {
	return &Wallet{ownerID: ownerID}
}

func (w *Wallet) OwnerID() uuid.UUID {
	return w.ownerID
}

func (w *Wallet) Balance() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balance
}

func (w *Wallet) Deposit(amount uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balance += amount
}

func (w *Wallet) Withdraw(amount uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if amount > w.balance {
		return fmt.Errorf("wallet %s holds %d, need %d: %w",
			w.ownerID, w.balance, amount, state.ErrInsufficientFunds)
	}
	w.balance -= amount
	return nil
}

// Bank owns every wallet, created lazily per participant.
type Bank struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]*Wallet
}

func NewBank() *Bank {
	return &Bank{wallets: make(map[uuid.UUID]*Wallet)}
}

// Wallet returns the participant's wallet, creating an empty one on first
// use.
func (b *Bank) Wallet(ownerID uuid.UUID) *Wallet {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.wallets[ownerID]
	if !ok {
		w = NewWallet(ownerID)
		b.wallets[ownerID] = w
	}
	return w
}

// Fund credits external value into a participant's wallet. This is the
// only entry point for money from outside the system.
func (b *Bank) Fund(ownerID uuid.UUID, amount uint64) {
	b.Wallet(ownerID).Deposit(amount)
}

// TotalBalance sums every wallet, for conservation checks.
func (b *Bank) TotalBalance() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var total uint64
	for _, w := range b.wallets {
		total += w.Balance()
	}
	return total
}
