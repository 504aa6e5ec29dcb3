package solana

import "context"

// Commitment levels accepted by subscription requests.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// WSClient defines the Solana WebSocket subscription interface.
type WSClient interface {
	// SubscribeTransactions subscribes to transaction notifications matching the filter.
	SubscribeTransactions(ctx context.Context, filter TxFilter) (<-chan TxNotification, error)

	// SubscribeBlockMeta subscribes to per-slot block metadata notifications.
	SubscribeBlockMeta(ctx context.Context) (<-chan BlockMetaNotification, error)

	// Close closes the WebSocket connection.
	Close() error
}

// TxFilter defines the subscription filter for transaction notifications.
type TxFilter struct {
	// AccountInclude restricts the stream to transactions mentioning these accounts.
	AccountInclude []string
	// Failed includes transactions that failed on-chain. The tracker wants
	// these too: a failed arb still pays its fee.
	Failed bool
}

// TxNotification is one transaction update from the stream.
type TxNotification struct {
	Signature         string
	Slot              uint64
	Err               interface{} // non-nil if the transaction failed on-chain
	Fee               uint64      // lamports
	AccountKeys       []string    // base58; index 0 is the fee payer
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// TokenBalance is a per-account SPL token balance snapshot.
type TokenBalance struct {
	AccountIndex  int           `json:"accountIndex"`
	Mint          string        `json:"mint"`
	Owner         string        `json:"owner"`
	UITokenAmount UITokenAmount `json:"uiTokenAmount"`
}

// UITokenAmount is the human-readable amount of a token balance.
// UIAmountString avoids needing per-mint decimal metadata.
type UITokenAmount struct {
	Amount         string `json:"amount"`
	Decimals       int    `json:"decimals"`
	UIAmountString string `json:"uiAmountString"`
}

// BlockMetaNotification is one block metadata update from the stream.
// BlockTime is nil when the node has not attached a timestamp yet.
type BlockMetaNotification struct {
	Slot      uint64
	BlockTime *int64 // unix seconds
}
