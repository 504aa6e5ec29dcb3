package storage

import (
	"context"

	"github.com/Cinglein/temporal-data/internal/domain"
)

// TxStore provides access to txs storage. The table is append-only; records
// are always written in bulk and duplicates are not rejected at this layer.
type TxStore interface {
	// InsertBulk writes all records in one atomic statement. Either the whole
	// batch lands or none of it does.
	InsertBulk(ctx context.Context, txs []*domain.Tx) error

	// GetByFeepayer retrieves records for a feepayer, ordered by slot ASC.
	GetByFeepayer(ctx context.Context, feepayer string) ([]*domain.Tx, error)

	// Count returns the total number of stored records.
	Count(ctx context.Context) (int64, error)
}
