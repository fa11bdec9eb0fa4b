package storage

import (
	"context"

	"farm-log-indexer-go/internal/farm"
)

// Sink receives the farm events extracted from one batch.
type Sink interface {
	PutFarmTransactions(ctx context.Context, slot uint64, txs []farm.FarmTransaction) error
	Close() error
}

// Record is one persisted event together with the slot its batch came from.
type Record struct {
	Slot  uint64               `json:"slot"`
	Event farm.FarmTransaction `json:"event"`
}
