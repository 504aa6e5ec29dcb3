package profit

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	"github.com/Cinglein/temporal-data/internal/solana"
)

const usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

// testWallet returns a freshly generated on-curve base58 wallet address.
func testWallet(t *testing.T) string {
	t.Helper()

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return base58.Encode(pub)
}

// offCurveAddress returns a 32-byte base58 address that is not on the
// ed25519 curve, like a program-derived address.
func offCurveAddress(t *testing.T) string {
	t.Helper()

	raw := make([]byte, 32)
	for i := 0; i < 256; i++ {
		raw[0] = byte(i)
		if _, err := new(edwards25519.Point).SetBytes(raw); err != nil {
			return base58.Encode(raw)
		}
	}
	t.Fatal("no off-curve candidate found")
	return ""
}

func balance(owner, mint, amount string) solana.TokenBalance {
	return solana.TokenBalance{
		Mint:  mint,
		Owner: owner,
		UITokenAmount: solana.UITokenAmount{
			UIAmountString: amount,
		},
	}
}

func TestParse_WSOLProfit(t *testing.T) {
	wallet := testWallet(t)
	notif := &solana.TxNotification{
		Signature:         "sig1",
		Slot:              250000000,
		Fee:               5000,
		AccountKeys:       []string{wallet, usdcMint},
		PreTokenBalances:  []solana.TokenBalance{balance(wallet, WSOL, "10.0")},
		PostTokenBalances: []solana.TokenBalance{balance(wallet, WSOL, "10.5")},
	}

	tx, err := Parse(notif)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if tx.Feepayer != wallet {
		t.Errorf("expected feepayer %s, got %s", wallet, tx.Feepayer)
	}
	if tx.Signature != "sig1" {
		t.Errorf("expected signature sig1, got %s", tx.Signature)
	}
	if tx.Slot != 250000000 {
		t.Errorf("expected slot 250000000, got %d", tx.Slot)
	}
	if want := decimal.RequireFromString("0.5"); !tx.Profit.Equal(want) {
		t.Errorf("expected profit %s, got %s", want, tx.Profit)
	}
	if want := decimal.RequireFromString("0.000005"); !tx.Fee.Equal(want) {
		t.Errorf("expected fee %s, got %s", want, tx.Fee)
	}
}

func TestParse_WSOLLoss(t *testing.T) {
	wallet := testWallet(t)
	notif := &solana.TxNotification{
		Signature:         "sig2",
		Slot:              100,
		Fee:               5000,
		AccountKeys:       []string{wallet},
		PreTokenBalances:  []solana.TokenBalance{balance(wallet, WSOL, "3.25")},
		PostTokenBalances: []solana.TokenBalance{balance(wallet, WSOL, "3.0")},
	}

	tx, err := Parse(notif)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if want := decimal.RequireFromString("-0.25"); !tx.Profit.Equal(want) {
		t.Errorf("expected profit %s, got %s", want, tx.Profit)
	}
}

func TestParse_FailedTransaction(t *testing.T) {
	wallet := testWallet(t)
	notif := &solana.TxNotification{
		Signature:   "sigfail",
		Slot:        101,
		Fee:         5000,
		Err:         map[string]interface{}{"InstructionError": []interface{}{}},
		AccountKeys: []string{wallet},
		// Balances present but must be ignored for failed transactions.
		PreTokenBalances:  []solana.TokenBalance{balance(wallet, WSOL, "10.0")},
		PostTokenBalances: []solana.TokenBalance{balance(wallet, WSOL, "10.5")},
	}

	tx, err := Parse(notif)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if !tx.Profit.IsZero() {
		t.Errorf("expected zero profit for failed tx, got %s", tx.Profit)
	}
	if want := decimal.RequireFromString("0.000005"); !tx.Fee.Equal(want) {
		t.Errorf("expected fee %s, got %s", want, tx.Fee)
	}
}

func TestParse_NoBalanceChange(t *testing.T) {
	wallet := testWallet(t)
	notif := &solana.TxNotification{
		Signature:         "sig3",
		Slot:              102,
		Fee:               5000,
		AccountKeys:       []string{wallet},
		PreTokenBalances:  []solana.TokenBalance{balance(wallet, WSOL, "10.0")},
		PostTokenBalances: []solana.TokenBalance{balance(wallet, WSOL, "10.0")},
	}

	tx, err := Parse(notif)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !tx.Profit.IsZero() {
		t.Errorf("expected zero profit, got %s", tx.Profit)
	}
}

func TestParse_NonWSOLChange(t *testing.T) {
	wallet := testWallet(t)
	notif := &solana.TxNotification{
		Signature:         "sig4",
		Slot:              103,
		Fee:               5000,
		AccountKeys:       []string{wallet},
		PreTokenBalances:  []solana.TokenBalance{balance(wallet, usdcMint, "100.0")},
		PostTokenBalances: []solana.TokenBalance{balance(wallet, usdcMint, "150.0")},
	}

	tx, err := Parse(notif)
	if !errors.Is(err, ErrUnexpectedProfitAsset) {
		t.Fatalf("expected ErrUnexpectedProfitAsset, got %v", err)
	}
	if tx == nil {
		t.Fatal("expected event alongside anomaly error, got nil")
	}
	if !tx.Profit.IsZero() {
		t.Errorf("expected zero profit, got %s", tx.Profit)
	}
}

func TestParse_MultipleBalanceChanges(t *testing.T) {
	wallet := testWallet(t)
	notif := &solana.TxNotification{
		Signature:   "sig5",
		Slot:        104,
		Fee:         5000,
		AccountKeys: []string{wallet},
		PreTokenBalances: []solana.TokenBalance{
			balance(wallet, WSOL, "10.0"),
			balance(wallet, usdcMint, "100.0"),
		},
		PostTokenBalances: []solana.TokenBalance{
			balance(wallet, WSOL, "10.5"),
			balance(wallet, usdcMint, "50.0"),
		},
	}

	tx, err := Parse(notif)
	if !errors.Is(err, ErrMultipleBalanceChanges) {
		t.Fatalf("expected ErrMultipleBalanceChanges, got %v", err)
	}
	if tx == nil {
		t.Fatal("expected event alongside anomaly error, got nil")
	}
	if !tx.Profit.IsZero() {
		t.Errorf("expected zero profit, got %s", tx.Profit)
	}
}

func TestParse_OtherOwnersIgnored(t *testing.T) {
	wallet := testWallet(t)
	other := testWallet(t)
	notif := &solana.TxNotification{
		Signature:   "sig6",
		Slot:        105,
		Fee:         5000,
		AccountKeys: []string{wallet},
		PreTokenBalances: []solana.TokenBalance{
			balance(wallet, WSOL, "10.0"),
			balance(other, usdcMint, "100.0"),
		},
		PostTokenBalances: []solana.TokenBalance{
			balance(wallet, WSOL, "10.5"),
			balance(other, usdcMint, "50.0"),
		},
	}

	tx, err := Parse(notif)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if want := decimal.RequireFromString("0.5"); !tx.Profit.Equal(want) {
		t.Errorf("expected profit %s, got %s", want, tx.Profit)
	}
}

func TestParse_UnparseableAmountSkipped(t *testing.T) {
	wallet := testWallet(t)
	notif := &solana.TxNotification{
		Signature:         "sig7",
		Slot:              106,
		Fee:               5000,
		AccountKeys:       []string{wallet},
		PreTokenBalances:  []solana.TokenBalance{balance(wallet, WSOL, "")},
		PostTokenBalances: []solana.TokenBalance{balance(wallet, WSOL, "10.5")},
	}

	tx, err := Parse(notif)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !tx.Profit.IsZero() {
		t.Errorf("expected zero profit, got %s", tx.Profit)
	}
}

func TestParse_MissingSigner(t *testing.T) {
	notif := &solana.TxNotification{
		Signature: "sig8",
		Slot:      107,
		Fee:       5000,
	}

	tx, err := Parse(notif)
	if !errors.Is(err, ErrMissingSigner) {
		t.Fatalf("expected ErrMissingSigner, got %v", err)
	}
	if tx != nil {
		t.Errorf("expected nil event, got %+v", tx)
	}
}

func TestParse_InvalidFeepayer(t *testing.T) {
	cases := []struct {
		name     string
		feepayer string
	}{
		{"malformed base58", "not-base58-0OIl"},
		{"too short", base58.Encode([]byte{1, 2, 3})},
		{"off-curve", offCurveAddress(t)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			notif := &solana.TxNotification{
				Signature:   "sig9",
				Slot:        108,
				Fee:         5000,
				AccountKeys: []string{tc.feepayer},
			}

			tx, err := Parse(notif)
			if !errors.Is(err, ErrInvalidFeepayer) {
				t.Fatalf("expected ErrInvalidFeepayer, got %v", err)
			}
			if tx != nil {
				t.Errorf("expected nil event, got %+v", tx)
			}
		})
	}
}

func TestParse_ZeroFee(t *testing.T) {
	wallet := testWallet(t)
	notif := &solana.TxNotification{
		Signature:   "sig10",
		Slot:        109,
		AccountKeys: []string{wallet},
	}

	tx, err := Parse(notif)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !tx.Fee.IsZero() {
		t.Errorf("expected zero fee, got %s", tx.Fee)
	}
}
