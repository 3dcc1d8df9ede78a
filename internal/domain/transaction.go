package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LamportsPerSOL scales native balances to SOL.
const LamportsPerSOL = 1_000_000_000

// LogEvent is one push from the program log subscription.
type LogEvent struct {
	Signature string
	Slot      uint64
	Logs      []string
	Failed    bool // the transaction itself errored on chain
}

// AccountKey is an account referenced by a transaction, in message order.
type AccountKey struct {
	Address string
	Signer  bool
}

// TokenBalance is a pre or post token balance entry of a transaction.
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string
	UIAmount     decimal.Decimal
}

// ConfirmedTransaction is the subset of a confirmed ledger transaction the
// monitor needs. AccountKeys holds static keys followed by any keys loaded
// from address lookup tables (writable, then read-only).
type ConfirmedTransaction struct {
	Signature         string
	Slot              uint64
	BlockTime         *time.Time
	AccountKeys       []AccountKey
	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// FirstSigner returns the index of the first signing account.
func (tx *ConfirmedTransaction) FirstSigner() (int, bool) {
	for i, key := range tx.AccountKeys {
		if key.Signer {
			return i, true
		}
	}
	return -1, false
}

// LamportDelta returns post - pre for the account at index.
func (tx *ConfirmedTransaction) LamportDelta(index int) (int64, bool) {
	if index < 0 || index >= len(tx.PreBalances) || index >= len(tx.PostBalances) {
		return 0, false
	}
	return int64(tx.PostBalances[index]) - int64(tx.PreBalances[index]), true
}

// PreTokenBalance finds the pre-transaction token balance for an account index.
func (tx *ConfirmedTransaction) PreTokenBalance(accountIndex int) (TokenBalance, bool) {
	for _, b := range tx.PreTokenBalances {
		if b.AccountIndex == accountIndex {
			return b, true
		}
	}
	return TokenBalance{}, false
}
