// Package memory provides in-memory storage implementations for testing
// and the --use-memory mode.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Cinglein/temporal-data/internal/domain"
	"github.com/Cinglein/temporal-data/internal/storage"
)

// TxStore implements storage.TxStore in memory.
type TxStore struct {
	mu  sync.RWMutex
	txs []*domain.Tx
}

// NewTxStore creates a new in-memory TxStore.
func NewTxStore() *TxStore {
	return &TxStore{}
}

// Compile-time interface check.
var _ storage.TxStore = (*TxStore)(nil)

// InsertBulk writes all records atomically.
func (s *TxStore) InsertBulk(ctx context.Context, txs []*domain.Tx) error {
	if len(txs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tx := range txs {
		cp := *tx
		s.txs = append(s.txs, &cp)
	}
	return nil
}

// GetByFeepayer retrieves records for a feepayer, ordered by slot ASC.
func (s *TxStore) GetByFeepayer(ctx context.Context, feepayer string) ([]*domain.Tx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Tx
	for _, tx := range s.txs {
		if tx.Feepayer == feepayer {
			cp := *tx
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Slot < result[j].Slot
	})
	return result, nil
}

// Count returns the total number of stored records.
func (s *TxStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.txs)), nil
}

// All returns a copy of every stored record in insertion order.
func (s *TxStore) All() []*domain.Tx {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Tx, 0, len(s.txs))
	for _, tx := range s.txs {
		cp := *tx
		result = append(result, &cp)
	}
	return result
}
