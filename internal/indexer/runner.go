package indexer

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"farm-log-indexer-go/internal/farm"
	"farm-log-indexer-go/internal/logger"
)

// SlotGetter reports the current chain slot.
type SlotGetter interface {
	GetSlot(ctx context.Context) (uint64, error)
}

// RunConfig holds runtime settings for a slot range backfill.
type RunConfig struct {
	FromSlot uint64
	ToSlot   uint64 // 0 means the current slot
	Retry    RetryConfig
}

// Runner walks a slot range, one batch per block, and writes the events to the sink.
type Runner struct {
	cfg        RunConfig
	source     Source
	slots      SlotGetter
	pipeline   *Pipeline
	checkpoint Checkpointer
	logger     *logger.Logger
}

// NewRunner builds a Runner with its dependencies. checkpoint may be nil.
func NewRunner(cfg RunConfig, source Source, slots SlotGetter, pipeline *Pipeline, checkpoint Checkpointer, log *logger.Logger) *Runner {
	return &Runner{
		cfg:        cfg,
		source:     source,
		slots:      slots,
		pipeline:   pipeline,
		checkpoint: checkpoint,
		logger:     log,
	}
}

// Run executes the backfill. It stops at the first fatal extraction error.
func (r *Runner) Run(ctx context.Context) error {
	if r.source == nil {
		return fmt.Errorf("source is nil")
	}
	if r.pipeline == nil {
		return fmt.Errorf("pipeline is nil")
	}

	from := r.cfg.FromSlot
	to := r.cfg.ToSlot
	if to == 0 {
		if r.slots == nil {
			return fmt.Errorf("to slot is required without a slot getter")
		}
		err := withRetry(ctx, r.cfg.Retry.MaxRetries, r.cfg.Retry.RetryBackoff, func(ctx context.Context) error {
			var err error
			to, err = r.slots.GetSlot(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("get current slot: %w", err)
		}
	}

	if r.checkpoint != nil {
		last, ok, err := r.checkpoint.Load(ctx)
		if err != nil {
			return err
		}
		if ok && last >= from {
			from = last + 1
			r.logger.WithFields(logrus.Fields{
				"last_processed": last,
				"from":           from,
			}).Info("resume from checkpoint")
		}
	}

	if from > to {
		r.logger.WithFields(logrus.Fields{"from": from, "to": to}).Info("nothing to sync")
		return nil
	}

	r.logger.WithFields(logrus.Fields{"from": from, "to": to}).Info("backfill started")

	for slot := from; slot <= to; slot++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := r.fetchSlotWithRetry(ctx, slot)
		if err != nil {
			return fmt.Errorf("fetch slot %d: %w", slot, err)
		}

		if _, err := r.pipeline.Handle(ctx, slot, batch); err != nil {
			r.logger.LogError("runner", "handle_batch", err, logrus.Fields{"slot": slot})
			return fmt.Errorf("slot %d: %w", slot, err)
		}

		if r.checkpoint != nil {
			if err := r.checkpoint.Save(ctx, slot); err != nil {
				return err
			}
		}
	}

	r.logger.WithFields(r.pipeline.Stats().Snapshot().Fields()).Info("backfill complete")
	return nil
}

// RunSignatures processes the named transactions as one batch. The slot is recorded as 0.
func (r *Runner) RunSignatures(ctx context.Context, signatures []string) error {
	if len(signatures) == 0 {
		return fmt.Errorf("at least one signature is required")
	}

	var batch farm.Transactions
	err := withRetry(ctx, r.cfg.Retry.MaxRetries, r.cfg.Retry.RetryBackoff, func(ctx context.Context) error {
		var err error
		batch, err = r.source.FetchSignatures(ctx, signatures)
		if err != nil {
			r.logger.WithError(err).Warn("fetch signatures failed")
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("fetch signatures: %w", err)
	}

	events, err := r.pipeline.Handle(ctx, 0, batch)
	if err != nil {
		return err
	}

	r.logger.WithFields(logrus.Fields{
		"signatures": len(signatures),
		"events":     events,
	}).Info("signature batch complete")
	return nil
}

func (r *Runner) fetchSlotWithRetry(ctx context.Context, slot uint64) (farm.Transactions, error) {
	var batch farm.Transactions
	err := withRetry(ctx, r.cfg.Retry.MaxRetries, r.cfg.Retry.RetryBackoff, func(ctx context.Context) error {
		var err error
		batch, err = r.source.FetchSlot(ctx, slot)
		if err != nil {
			r.logger.WithSlot(slot).WithError(err).Warn("fetch slot failed")
		}
		return err
	})
	return batch, err
}
