package ingestion

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	"github.com/Cinglein/temporal-data/internal/domain"
	"github.com/Cinglein/temporal-data/internal/profit"
	"github.com/Cinglein/temporal-data/internal/solana"
)

// stubWSClient feeds notifications from in-memory channels.
type stubWSClient struct {
	txCh   chan solana.TxNotification
	metaCh chan solana.BlockMetaNotification

	mu     sync.Mutex
	filter solana.TxFilter
}

func newStubWSClient() *stubWSClient {
	return &stubWSClient{
		txCh:   make(chan solana.TxNotification, 16),
		metaCh: make(chan solana.BlockMetaNotification, 16),
	}
}

func (c *stubWSClient) SubscribeTransactions(ctx context.Context, filter solana.TxFilter) (<-chan solana.TxNotification, error) {
	c.mu.Lock()
	c.filter = filter
	c.mu.Unlock()
	return c.txCh, nil
}

func (c *stubWSClient) SubscribeBlockMeta(ctx context.Context) (<-chan solana.BlockMetaNotification, error) {
	return c.metaCh, nil
}

func (c *stubWSClient) Close() error { return nil }

// recordingSink captures resolver inserts.
type recordingSink struct {
	mu      sync.Mutex
	inserts map[uint64]int64
}

func newRecordingSink() *recordingSink {
	return &recordingSink{inserts: make(map[uint64]int64)}
}

func (s *recordingSink) Insert(slot uint64, ts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts[slot] = ts
}

func (s *recordingSink) get(slot uint64) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.inserts[slot]
	return ts, ok
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inserts)
}

func newWallet(t *testing.T) string {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return base58.Encode(pub)
}

func startSubscriber(t *testing.T, ws *stubWSClient, sink *recordingSink, queue chan *domain.RawTx, target string) (context.CancelFunc, chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	s := NewSubscriber(SubscriberOptions{
		WS:       ws,
		Resolver: sink,
		Queue:    queue,
		Target:   target,
	})
	go func() {
		errCh <- s.Run(ctx)
	}()
	return cancel, errCh
}

func TestSubscriber_TargetFilter(t *testing.T) {
	ws := newStubWSClient()
	queue := make(chan *domain.RawTx, 16)
	target := newWallet(t)

	cancel, errCh := startSubscriber(t, ws, newRecordingSink(), queue, target)
	defer cancel()

	// Wait until the subscription was established.
	deadline := time.After(2 * time.Second)
	for {
		ws.mu.Lock()
		got := ws.filter
		ws.mu.Unlock()
		if len(got.AccountInclude) > 0 {
			if got.AccountInclude[0] != target {
				t.Errorf("expected filter on %s, got %v", target, got.AccountInclude)
			}
			if !got.Failed {
				t.Error("expected failed transactions to be included")
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("subscription never established")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-errCh
}

func TestSubscriber_TransactionEnqueued(t *testing.T) {
	ws := newStubWSClient()
	queue := make(chan *domain.RawTx, 16)
	wallet := newWallet(t)

	cancel, errCh := startSubscriber(t, ws, newRecordingSink(), queue, wallet)
	defer cancel()

	ws.txCh <- solana.TxNotification{
		Signature:   "sig1",
		Slot:        100,
		Fee:         5000,
		AccountKeys: []string{wallet},
		PreTokenBalances: []solana.TokenBalance{{
			Mint: profit.WSOL, Owner: wallet,
			UITokenAmount: solana.UITokenAmount{UIAmountString: "1.0"},
		}},
		PostTokenBalances: []solana.TokenBalance{{
			Mint: profit.WSOL, Owner: wallet,
			UITokenAmount: solana.UITokenAmount{UIAmountString: "1.75"},
		}},
	}

	select {
	case tx := <-queue:
		if tx.Signature != "sig1" {
			t.Errorf("expected sig1, got %s", tx.Signature)
		}
		if tx.Slot != 100 {
			t.Errorf("expected slot 100, got %d", tx.Slot)
		}
		if want := decimal.RequireFromString("0.75"); !tx.Profit.Equal(want) {
			t.Errorf("expected profit %s, got %s", want, tx.Profit)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for queued event")
	}

	cancel()
	<-errCh
}

func TestSubscriber_AnomalyKeptWithZeroProfit(t *testing.T) {
	ws := newStubWSClient()
	queue := make(chan *domain.RawTx, 16)
	wallet := newWallet(t)

	cancel, errCh := startSubscriber(t, ws, newRecordingSink(), queue, wallet)
	defer cancel()

	// Single changed mint, but not WSOL.
	ws.txCh <- solana.TxNotification{
		Signature:   "sig2",
		Slot:        101,
		Fee:         5000,
		AccountKeys: []string{wallet},
		PreTokenBalances: []solana.TokenBalance{{
			Mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Owner: wallet,
			UITokenAmount: solana.UITokenAmount{UIAmountString: "10"},
		}},
		PostTokenBalances: []solana.TokenBalance{{
			Mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Owner: wallet,
			UITokenAmount: solana.UITokenAmount{UIAmountString: "20"},
		}},
	}

	select {
	case tx := <-queue:
		if !tx.Profit.IsZero() {
			t.Errorf("expected zero profit, got %s", tx.Profit)
		}
		if want := decimal.RequireFromString("0.000005"); !tx.Fee.Equal(want) {
			t.Errorf("expected fee %s, got %s", want, tx.Fee)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for queued event")
	}

	cancel()
	<-errCh
}

func TestSubscriber_UnparseableDropped(t *testing.T) {
	ws := newStubWSClient()
	queue := make(chan *domain.RawTx, 16)
	wallet := newWallet(t)

	cancel, errCh := startSubscriber(t, ws, newRecordingSink(), queue, wallet)
	defer cancel()

	// No account keys: the event must be dropped silently.
	ws.txCh <- solana.TxNotification{Signature: "sigbad", Slot: 102}
	// A valid follow-up proves the loop survived.
	ws.txCh <- solana.TxNotification{
		Signature:   "siggood",
		Slot:        103,
		Fee:         5000,
		AccountKeys: []string{wallet},
	}

	select {
	case tx := <-queue:
		if tx.Signature != "siggood" {
			t.Errorf("expected siggood, got %s", tx.Signature)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for queued event")
	}

	cancel()
	<-errCh
}

func TestSubscriber_BlockMetaInserted(t *testing.T) {
	ws := newStubWSClient()
	queue := make(chan *domain.RawTx, 16)
	sink := newRecordingSink()

	cancel, errCh := startSubscriber(t, ws, sink, queue, newWallet(t))
	defer cancel()

	ts := int64(1700000123)
	ws.metaCh <- solana.BlockMetaNotification{Slot: 200, BlockTime: &ts}

	deadline := time.After(2 * time.Second)
	for {
		if got, ok := sink.get(200); ok {
			if got != ts {
				t.Errorf("expected %d, got %d", ts, got)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("timestamp never inserted")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-errCh
}

func TestSubscriber_BlockMetaWithoutTimeIgnored(t *testing.T) {
	ws := newStubWSClient()
	queue := make(chan *domain.RawTx, 16)
	sink := newRecordingSink()

	cancel, errCh := startSubscriber(t, ws, sink, queue, newWallet(t))
	defer cancel()

	ws.metaCh <- solana.BlockMetaNotification{Slot: 201, BlockTime: nil}
	ts := int64(1700000456)
	ws.metaCh <- solana.BlockMetaNotification{Slot: 202, BlockTime: &ts}

	deadline := time.After(2 * time.Second)
	for sink.len() == 0 {
		select {
		case <-deadline:
			t.Fatal("marker timestamp never inserted")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if _, ok := sink.get(201); ok {
		t.Error("slot without block time must not be inserted")
	}
	if got, ok := sink.get(202); !ok || got != ts {
		t.Errorf("expected slot 202 -> %d, got %d (present=%v)", ts, got, ok)
	}

	cancel()
	<-errCh
}

func TestSubscriber_ClosesQueueOnExit(t *testing.T) {
	ws := newStubWSClient()
	queue := make(chan *domain.RawTx, 16)

	cancel, errCh := startSubscriber(t, ws, newRecordingSink(), queue, newWallet(t))
	cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("expected cancellation error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop")
	}

	select {
	case _, ok := <-queue:
		if ok {
			t.Error("expected closed queue, got event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queue was not closed")
	}
}
