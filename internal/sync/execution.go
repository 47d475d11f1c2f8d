// Copyright 2025 Certen Protocol
//
package sync

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ExecutionSource fetches an execution-layer block by hash, the same
// lookup the walker needs to filter its transactions by destination and
// blob hashes. *ethclient.Client satisfies this structurally.
type ExecutionSource interface {
	BlockByHash(ctx context.Context, hash common.Hash) (*types.Block, error)
}
