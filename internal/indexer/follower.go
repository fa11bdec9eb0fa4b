package indexer

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"farm-log-indexer-go/internal/client"
	"farm-log-indexer-go/internal/farm"
	"farm-log-indexer-go/internal/logger"
)

// LogSubscriber streams logs notifications for a program.
type LogSubscriber interface {
	SubscribeToLogs(programID, commitment string, handler client.LogsHandler) (int, error)
	Done() <-chan struct{}
}

// FollowConfig holds settings for live following.
type FollowConfig struct {
	ProgramID  string
	Commitment string
	QueueSize  int
	Retry      RetryConfig
}

type notified struct {
	slot      uint64
	signature string
}

// Follower processes every transaction that mentions the program as it is confirmed.
// Each notified transaction is one batch; a fatal error drops that batch only.
type Follower struct {
	cfg        FollowConfig
	subscriber LogSubscriber
	source     Source
	pipeline   *Pipeline
	logger     *logger.Logger
	queue      chan notified
}

// NewFollower builds a follower. QueueSize defaults to 1024 pending notifications.
func NewFollower(cfg FollowConfig, subscriber LogSubscriber, source Source, pipeline *Pipeline, log *logger.Logger) *Follower {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	return &Follower{
		cfg:        cfg,
		subscriber: subscriber,
		source:     source,
		pipeline:   pipeline,
		logger:     log,
		queue:      make(chan notified, cfg.QueueSize),
	}
}

// Run subscribes and processes notifications until ctx is done or the subscription ends.
func (f *Follower) Run(ctx context.Context) error {
	if _, err := f.subscriber.SubscribeToLogs(f.cfg.ProgramID, f.cfg.Commitment, f.enqueue(ctx)); err != nil {
		return fmt.Errorf("subscribe to logs: %w", err)
	}

	f.logger.WithFields(logrus.Fields{
		"program_id": f.cfg.ProgramID,
		"commitment": f.cfg.Commitment,
	}).Info("following program logs")

	for {
		select {
		case <-ctx.Done():
			f.logger.WithFields(f.pipeline.Stats().Snapshot().Fields()).Info("follower stopped")
			return nil
		case <-f.subscriber.Done():
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("log subscription closed")
		case n := <-f.queue:
			f.process(ctx, n)
		}
	}
}

func (f *Follower) enqueue(ctx context.Context) client.LogsHandler {
	return func(notification client.LogsNotification) error {
		n := notified{
			slot:      notification.Result.Context.Slot,
			signature: notification.Result.Value.Signature,
		}
		if n.signature == "" {
			return fmt.Errorf("notification without signature")
		}
		select {
		case f.queue <- n:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (f *Follower) process(ctx context.Context, n notified) {
	log := f.logger.WithTransaction(n.signature).WithField("slot", n.slot)

	var batch farm.Transactions
	err := withRetry(ctx, f.cfg.Retry.MaxRetries, f.cfg.Retry.RetryBackoff, func(ctx context.Context) error {
		var err error
		batch, err = f.source.FetchSignatures(ctx, []string{n.signature})
		if err != nil {
			log.WithError(err).Debug("fetch notified transaction failed")
		}
		return err
	})
	if err != nil {
		if ctx.Err() == nil {
			log.WithError(err).Error("notified transaction dropped")
		}
		return
	}

	if _, err := f.pipeline.Handle(ctx, n.slot, batch); err != nil {
		log.WithError(err).Error("notified transaction dropped")
	}
}
