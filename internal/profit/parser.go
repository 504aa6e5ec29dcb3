// Package profit derives fee/profit records from raw transaction notifications.
package profit

import (
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	"github.com/Cinglein/temporal-data/internal/domain"
	"github.com/Cinglein/temporal-data/internal/solana"
)

// WSOL is the wrapped SOL mint. The strategy bot is expected to always net
// exactly this asset.
const WSOL = "So11111111111111111111111111111111111111112"

// SOLDecimals is the lamports-to-SOL scale.
const SOLDecimals = 9

// Parse errors. ErrMissingSigner and ErrInvalidFeepayer drop the event;
// the anomaly errors are returned alongside a valid zero-profit event.
var (
	// ErrMissingSigner means the notification carried no account keys.
	ErrMissingSigner = errors.New("no signer found")

	// ErrInvalidFeepayer means the first account key is not a valid wallet
	// address (malformed base58 or an off-curve PDA, which cannot pay fees).
	ErrInvalidFeepayer = errors.New("invalid feepayer account")

	// ErrUnexpectedProfitAsset means exactly one mint changed but it was not WSOL.
	ErrUnexpectedProfitAsset = errors.New("no WSOL token balance change")

	// ErrMultipleBalanceChanges means more than one mint changed for the feepayer.
	ErrMultipleBalanceChanges = errors.New("more than one token balance change")
)

// Parse converts one transaction notification into a RawTx.
//
// If the returned error is ErrUnexpectedProfitAsset or
// ErrMultipleBalanceChanges the RawTx is still valid with zero profit; the
// caller should log the anomaly and keep the event. For any other error the
// RawTx is nil and the event must be dropped.
func Parse(notif *solana.TxNotification) (*domain.RawTx, error) {
	if len(notif.AccountKeys) == 0 {
		return nil, ErrMissingSigner
	}
	feepayer := notif.AccountKeys[0]
	if err := validateWalletAddress(feepayer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFeepayer, err)
	}

	tx := &domain.RawTx{
		Feepayer:  feepayer,
		Signature: notif.Signature,
		Slot:      notif.Slot,
		Fee:       decimal.New(int64(notif.Fee), -SOLDecimals),
		Profit:    decimal.Zero,
	}

	// Failed transactions net nothing; balances are not inspected.
	if notif.Err != nil {
		return tx, nil
	}

	profit, err := parseTokenBalances(feepayer, notif.PreTokenBalances, notif.PostTokenBalances)
	if err != nil {
		return tx, err
	}
	tx.Profit = profit
	return tx, nil
}

// parseTokenBalances diffs the feepayer's pre/post token balances and returns
// the net WSOL change. Zero when no balances changed.
func parseTokenBalances(feepayer string, pre, post []solana.TokenBalance) (decimal.Decimal, error) {
	postByMint := make(map[string]*solana.TokenBalance, len(post))
	for i := range post {
		if post[i].Owner == feepayer {
			postByMint[post[i].Mint] = &post[i]
		}
	}

	changes := make(map[string]decimal.Decimal)
	for i := range pre {
		if pre[i].Owner != feepayer {
			continue
		}
		p, ok := postByMint[pre[i].Mint]
		if !ok {
			continue
		}
		change, ok := parseChange(&pre[i], p)
		if !ok {
			continue
		}
		if !change.IsZero() {
			changes[pre[i].Mint] = change
		}
	}

	if len(changes) == 0 {
		return decimal.Zero, nil
	}
	if len(changes) > 1 {
		return decimal.Zero, ErrMultipleBalanceChanges
	}
	change, ok := changes[WSOL]
	if !ok {
		return decimal.Zero, ErrUnexpectedProfitAsset
	}
	return change, nil
}

// parseChange computes post-pre from the human-readable amount strings.
// Returns false if either amount is unparseable.
func parseChange(pre, post *solana.TokenBalance) (decimal.Decimal, bool) {
	preAmount, err := decimal.NewFromString(pre.UITokenAmount.UIAmountString)
	if err != nil {
		return decimal.Zero, false
	}
	postAmount, err := decimal.NewFromString(post.UITokenAmount.UIAmountString)
	if err != nil {
		return decimal.Zero, false
	}
	return postAmount.Sub(preAmount), true
}

// validateWalletAddress checks that an address is a 32-byte base58 key on the
// ed25519 curve. Program-derived addresses are off-curve and cannot sign.
func validateWalletAddress(address string) error {
	raw, err := base58.Decode(address)
	if err != nil {
		return fmt.Errorf("decode base58: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("key length %d, want 32", len(raw))
	}
	if _, err := new(edwards25519.Point).SetBytes(raw); err != nil {
		return fmt.Errorf("off-curve key")
	}
	return nil
}
