package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RawTx is a parsed transaction whose block timestamp is not yet known.
// It is immutable once constructed.
type RawTx struct {
	Feepayer  string          // base58 account address of the fee payer
	Signature string          // base58 transaction signature
	Slot      uint64          // Solana slot number
	Fee       decimal.Decimal // fee in SOL (9 decimal places)
	Profit    decimal.Decimal // net WSOL balance change for the feepayer
}

// Tx is the persisted record: a RawTx enriched with its block timestamp.
// Corresponds to the txs table. Always written in bulk, never individually.
type Tx struct {
	Feepayer  string
	Signature string
	Timestamp time.Time
	Slot      uint64
	Fee       decimal.Decimal
	Profit    decimal.Decimal
}
