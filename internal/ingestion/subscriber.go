// Package ingestion connects the event stream to durable storage: a
// Subscriber feeds parsed events and slot timestamps in, a BatchWriter
// drains them out in bulk.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/Cinglein/temporal-data/internal/domain"
	"github.com/Cinglein/temporal-data/internal/observability"
	"github.com/Cinglein/temporal-data/internal/profit"
	"github.com/Cinglein/temporal-data/internal/slottime"
	"github.com/Cinglein/temporal-data/internal/solana"
)

// QueueCapacity bounds the event queue between Subscriber and BatchWriter.
// A full queue blocks the Subscriber, which in turn stops consuming from the
// network; this is the system's only backpressure mechanism.
const QueueCapacity = 10000

// TimestampSink receives slot timestamps from the metadata stream.
type TimestampSink interface {
	Insert(slot uint64, ts int64)
}

// Compile-time interface check.
var _ TimestampSink = (*slottime.Resolver)(nil)

// Subscriber owns the WebSocket subscriptions and routes the two update
// types: block metadata into the resolver, transactions through the parser
// into the event queue.
type Subscriber struct {
	ws       solana.WSClient
	resolver TimestampSink
	queue    chan<- *domain.RawTx
	target   string
	logger   *log.Logger
}

// SubscriberOptions contains configuration for creating a Subscriber.
type SubscriberOptions struct {
	WS       solana.WSClient
	Resolver TimestampSink
	Queue    chan<- *domain.RawTx
	Target   string
	Logger   *log.Logger
}

// NewSubscriber creates a new stream subscriber.
func NewSubscriber(opts SubscriberOptions) *Subscriber {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Subscriber{
		ws:       opts.WS,
		resolver: opts.Resolver,
		queue:    opts.Queue,
		target:   opts.Target,
		logger:   logger,
	}
}

// Run subscribes to both streams and processes updates until the context is
// cancelled or a stream closes. The event queue is closed on return so the
// BatchWriter can drain and finish.
//
// No error inside the loop is allowed to terminate it: parse failures drop
// or zero out single events and are logged at that granularity.
func (s *Subscriber) Run(ctx context.Context) error {
	defer close(s.queue)

	txCh, err := s.ws.SubscribeTransactions(ctx, solana.TxFilter{
		AccountInclude: []string{s.target},
		Failed:         true,
	})
	if err != nil {
		return fmt.Errorf("subscribe transactions: %w", err)
	}
	s.logger.Printf("Subscribed to transactions for %s", s.target)

	metaCh, err := s.ws.SubscribeBlockMeta(ctx)
	if err != nil {
		return fmt.Errorf("subscribe block metadata: %w", err)
	}
	s.logger.Println("Subscribed to block metadata")

	for {
		select {
		case <-ctx.Done():
			s.logger.Println("Subscriber stopping...")
			return ctx.Err()

		case meta, ok := <-metaCh:
			if !ok {
				return errors.New("block metadata channel closed")
			}
			s.handleBlockMeta(meta)

		case notif, ok := <-txCh:
			if !ok {
				return errors.New("transaction channel closed")
			}
			if err := s.handleTransaction(ctx, notif); err != nil {
				return err
			}
		}
	}
}

// handleBlockMeta feeds one metadata update into the resolver. Updates
// without a block time cannot advance the resolver and are ignored.
func (s *Subscriber) handleBlockMeta(meta solana.BlockMetaNotification) {
	observability.RecordBlockMetaNotification()
	if meta.BlockTime == nil {
		return
	}
	s.resolver.Insert(meta.Slot, *meta.BlockTime)
	observability.UpdateHighestSlot(meta.Slot)
}

// handleTransaction parses one transaction update and enqueues the event.
// The send blocks when the queue is full. Returns an error only when the
// context is cancelled mid-send.
func (s *Subscriber) handleTransaction(ctx context.Context, notif solana.TxNotification) error {
	observability.RecordTxNotification()

	tx, err := profit.Parse(&notif)
	if err != nil {
		switch {
		case errors.Is(err, profit.ErrMissingSigner):
			observability.RecordParseError("missing_signer")
			s.logger.Printf("Dropping tx %s: %v", notif.Signature, err)
			return nil
		case errors.Is(err, profit.ErrInvalidFeepayer):
			observability.RecordParseError("invalid_feepayer")
			s.logger.Printf("Dropping tx %s: %v", notif.Signature, err)
			return nil
		case errors.Is(err, profit.ErrUnexpectedProfitAsset):
			observability.RecordParseError("unexpected_profit_asset")
			s.logger.Printf("Anomaly in tx %s: %v (profit recorded as 0)", notif.Signature, err)
		case errors.Is(err, profit.ErrMultipleBalanceChanges):
			observability.RecordParseError("multiple_balance_changes")
			s.logger.Printf("Anomaly in tx %s: %v (profit recorded as 0)", notif.Signature, err)
		default:
			observability.RecordParseError("other")
			s.logger.Printf("Error parsing tx %s: %v (profit recorded as 0)", notif.Signature, err)
		}
		if tx == nil {
			return nil
		}
	}

	select {
	case s.queue <- tx:
		observability.RecordEventQueued()
		observability.UpdateHighestSlot(tx.Slot)
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
