package ledger

import (
	"github.com/google/uuid"
)

// Account is the ephemeral per-participant accumulator used while a single
// settlement batch is tallied. It carries the running credit (wins owed to
// the participant) and debit (bets owed to the vault) totals and is reset
// by Settle after every batch.
type Account struct {
	ParticipantID uuid.UUID
	creditAmount  uint64
	debitAmount   uint64
}

func NewAccount(participantID uuid.UUID) *Account {
	return &Account{ParticipantID: participantID}
}

// AddCredit accumulates an amount owed to the participant (a win leg).
func (a *Account) AddCredit(amount uint64) {
	a.creditAmount += amount
}

// AddDebit accumulates an amount owed to the vault (a bet leg).
func (a *Account) AddDebit(amount uint64) {
	a.debitAmount += amount
}

// CreditAmount returns the accumulated credit total.
func (a *Account) CreditAmount() uint64 {
	return a.creditAmount
}

// DebitAmount returns the accumulated debit total.
func (a *Account) DebitAmount() uint64 {
	return a.debitAmount
}

// Settle reads off the accumulated totals and resets both to zero.
// The account is ready for the next batch afterwards.
func (a *Account) Settle() (credit, debit uint64) {
	credit, debit = a.creditAmount, a.debitAmount
	a.creditAmount = 0
	a.debitAmount = 0
	return credit, debit
}

// IsSettled reports whether both totals are zero.
func (a *Account) IsSettled() bool {
	return a.creditAmount == 0 && a.debitAmount == 0
}

// Book maintains the per-participant accounts, created lazily on first use.
type Book struct {
	accounts map[uuid.UUID]*Account
}

func NewBook() *Book {
	return &Book{
		accounts: make(map[uuid.UUID]*Account),
	}
}

// Get returns the account for a participant, creating it if absent.
func (b *Book) Get(participantID uuid.UUID) *Account {
	acc, ok := b.accounts[participantID]
	if !ok {
		acc = NewAccount(participantID)
		b.accounts[participantID] = acc
	}
	return acc
}

// Len returns the number of accounts ever touched.
func (b *Book) Len() int {
	return len(b.accounts)
}
