package indexer

import (
	"context"
	"fmt"
	"time"

	"farm-log-indexer-go/internal/farm"
	"farm-log-indexer-go/internal/logger"
	"farm-log-indexer-go/internal/storage"
)

// Source delivers batches of confirmed transactions.
type Source interface {
	FetchSlot(ctx context.Context, slot uint64) (farm.Transactions, error)
	FetchSignatures(ctx context.Context, signatures []string) (farm.Transactions, error)
}

// RetryConfig bounds retries around RPC and sink calls.
type RetryConfig struct {
	MaxRetries   int
	RetryBackoff time.Duration
}

// Pipeline runs one batch through the processor and into the sink.
type Pipeline struct {
	processor *farm.Processor
	sink      storage.Sink
	logger    *logger.Logger
	stats     *Stats
	retry     RetryConfig
}

// NewPipeline wires a processor to a sink. Sink writes are retried per retry.
func NewPipeline(processor *farm.Processor, sink storage.Sink, log *logger.Logger, retry RetryConfig) *Pipeline {
	return &Pipeline{
		processor: processor,
		sink:      sink,
		logger:    log,
		stats:     NewStats(),
		retry:     retry,
	}
}

// Stats returns the live counters shared by every batch of the pipeline.
func (p *Pipeline) Stats() *Stats {
	return p.stats
}

// Handle maps one batch and stores its events. A fatal extraction error aborts the
// whole batch and nothing is written.
func (p *Pipeline) Handle(ctx context.Context, slot uint64, batch farm.Transactions) (int, error) {
	start := time.Now()

	output, err := p.processor.MapFarmTransactions(batch)
	if err != nil {
		p.stats.recordFailure()
		return 0, fmt.Errorf("map farm transactions: %w", err)
	}

	txs, ok := output.Get()
	p.stats.recordBatch(len(batch.Transactions), txs)
	if !ok {
		p.logger.LogBatch(slot, len(batch.Transactions), 0, time.Since(start))
		return 0, nil
	}

	err = withRetry(ctx, p.retry.MaxRetries, p.retry.RetryBackoff, func(ctx context.Context) error {
		err := p.sink.PutFarmTransactions(ctx, slot, txs)
		if err != nil {
			p.logger.WithSlot(slot).WithError(err).Warn("store farm events failed")
		}
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("store farm events: %w", err)
	}

	for _, tx := range txs {
		p.logger.LogFarmEvent(slot, tx.Event)
	}
	p.logger.LogBatch(slot, len(batch.Transactions), len(txs), time.Since(start))

	return len(txs), nil
}
