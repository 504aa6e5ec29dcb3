package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/Cinglein/temporal-data/internal/domain"
	"github.com/Cinglein/temporal-data/internal/storage"
)

// TxStore implements storage.TxStore using PostgreSQL.
type TxStore struct {
	pool *Pool
}

// NewTxStore creates a new TxStore.
func NewTxStore(pool *Pool) *TxStore {
	return &TxStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TxStore = (*TxStore)(nil)

// InsertBulk writes all records in one atomic UNNEST statement.
func (s *TxStore) InsertBulk(ctx context.Context, txs []*domain.Tx) error {
	if len(txs) == 0 {
		return nil
	}

	n := len(txs)
	feepayers := make([]string, n)
	signatures := make([]string, n)
	timestamps := make([]time.Time, n)
	slots := make([]int64, n)
	fees := make([]string, n)
	profits := make([]string, n)

	for i, tx := range txs {
		feepayers[i] = tx.Feepayer
		signatures[i] = tx.Signature
		timestamps[i] = tx.Timestamp
		slots[i] = int64(tx.Slot)
		// Decimals travel as strings; the cast to numeric[] keeps full precision.
		fees[i] = tx.Fee.String()
		profits[i] = tx.Profit.String()
	}

	query := `
		INSERT INTO txs (feepayer, signature, ts, slot, fee, profit)
		SELECT *
		FROM UNNEST($1::text[], $2::text[], $3::timestamptz[], $4::bigint[], $5::numeric[], $6::numeric[])
	`

	_, err := s.pool.Exec(ctx, query,
		feepayers, signatures, timestamps, slots, fees, profits,
	)
	if err != nil {
		return fmt.Errorf("insert txs: %w", err)
	}
	return nil
}

// GetByFeepayer retrieves records for a feepayer, ordered by slot ASC.
func (s *TxStore) GetByFeepayer(ctx context.Context, feepayer string) ([]*domain.Tx, error) {
	query := `
		SELECT feepayer, signature, ts, slot, fee::text, profit::text
		FROM txs
		WHERE feepayer = $1
		ORDER BY slot ASC, ts ASC
	`

	rows, err := s.pool.Query(ctx, query, feepayer)
	if err != nil {
		return nil, fmt.Errorf("get txs by feepayer: %w", err)
	}
	defer rows.Close()

	return scanTxs(rows)
}

// Count returns the total number of stored records.
func (s *TxStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM txs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count txs: %w", err)
	}
	return count, nil
}

// scanTxs scans multiple rows into a slice of Tx.
func scanTxs(rows pgx.Rows) ([]*domain.Tx, error) {
	var txs []*domain.Tx

	for rows.Next() {
		var (
			tx          domain.Tx
			slot        int64
			fee, profit string
		)

		err := rows.Scan(
			&tx.Feepayer,
			&tx.Signature,
			&tx.Timestamp,
			&slot,
			&fee,
			&profit,
		)
		if err != nil {
			return nil, fmt.Errorf("scan tx row: %w", err)
		}

		tx.Slot = uint64(slot)
		if tx.Fee, err = decimal.NewFromString(fee); err != nil {
			return nil, fmt.Errorf("parse fee %q: %w", fee, err)
		}
		if tx.Profit, err = decimal.NewFromString(profit); err != nil {
			return nil, fmt.Errorf("parse profit %q: %w", profit, err)
		}

		txs = append(txs, &tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tx rows: %w", err)
	}

	return txs, nil
}
