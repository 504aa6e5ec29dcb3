package solana

import "context"

// RPCClient defines the Solana RPC HTTP interface used by the tracker.
type RPCClient interface {
	// GetBlockTime retrieves the estimated production time of a block.
	// Returns nil if the node has no timestamp for the slot.
	GetBlockTime(ctx context.Context, slot uint64) (*int64, error)

	// GetSlot retrieves the current slot.
	GetSlot(ctx context.Context) (uint64, error)

	// GetHealth verifies the node is reachable and healthy.
	GetHealth(ctx context.Context) error
}
