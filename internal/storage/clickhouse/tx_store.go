package clickhouse

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Cinglein/temporal-data/internal/domain"
	"github.com/Cinglein/temporal-data/internal/storage"
)

// TxStore implements storage.TxStore using ClickHouse.
type TxStore struct {
	conn *Conn
}

// NewTxStore creates a new TxStore.
func NewTxStore(conn *Conn) *TxStore {
	return &TxStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TxStore = (*TxStore)(nil)

// InsertBulk writes all records in one native batch.
func (s *TxStore) InsertBulk(ctx context.Context, txs []*domain.Tx) error {
	if len(txs) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO txs (feepayer, signature, ts, slot, fee, profit)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, tx := range txs {
		err = batch.Append(
			tx.Feepayer, tx.Signature, tx.Timestamp,
			tx.Slot, tx.Fee, tx.Profit,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByFeepayer retrieves records for a feepayer, ordered by slot ASC.
func (s *TxStore) GetByFeepayer(ctx context.Context, feepayer string) ([]*domain.Tx, error) {
	query := `
		SELECT feepayer, signature, ts, slot, fee, profit
		FROM txs
		WHERE feepayer = ?
		ORDER BY slot ASC, ts ASC
	`

	rows, err := s.conn.Query(ctx, query, feepayer)
	if err != nil {
		return nil, fmt.Errorf("get txs by feepayer: %w", err)
	}
	defer rows.Close()

	var txs []*domain.Tx
	for rows.Next() {
		var (
			tx          domain.Tx
			fee, profit decimal.Decimal
		)
		err := rows.Scan(&tx.Feepayer, &tx.Signature, &tx.Timestamp, &tx.Slot, &fee, &profit)
		if err != nil {
			return nil, fmt.Errorf("scan tx row: %w", err)
		}
		tx.Fee = fee
		tx.Profit = profit
		txs = append(txs, &tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tx rows: %w", err)
	}

	return txs, nil
}

// Count returns the total number of stored records.
func (s *TxStore) Count(ctx context.Context) (int64, error) {
	var count uint64
	if err := s.conn.QueryRow(ctx, `SELECT COUNT(*) FROM txs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count txs: %w", err)
	}
	return int64(count), nil
}
