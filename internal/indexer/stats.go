package indexer

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"farm-log-indexer-go/internal/farm"
)

// Stats counts processed batches and extracted events.
type Stats struct {
	mu           sync.Mutex
	started      time.Time
	batches      int
	transactions int
	absent       int
	failed       int
	events       map[farm.EventKind]int
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Batches      int
	Transactions int
	Absent       int
	Failed       int
	Initialize   int
	RestartOrAdd int
	NewReward    int
	Elapsed      time.Duration
}

// NewStats starts the elapsed clock at zero counts.
func NewStats() *Stats {
	return &Stats{started: time.Now(), events: make(map[farm.EventKind]int)}
}

func (s *Stats) recordBatch(transactions int, txs []farm.FarmTransaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.batches++
	s.transactions += transactions
	if len(txs) == 0 {
		s.absent++
	}
	for _, tx := range txs {
		s.events[tx.Event.Kind()]++
	}
}

func (s *Stats) recordFailure() {
	s.mu.Lock()
	s.failed++
	s.mu.Unlock()
}

// Snapshot copies the counters under the lock.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return StatsSnapshot{
		Batches:      s.batches,
		Transactions: s.transactions,
		Absent:       s.absent,
		Failed:       s.failed,
		Initialize:   s.events[farm.KindInitialize],
		RestartOrAdd: s.events[farm.KindRestartOrAdd],
		NewReward:    s.events[farm.KindNewReward],
		Elapsed:      time.Since(s.started),
	}
}

// Fields renders the snapshot as log fields.
func (s StatsSnapshot) Fields() logrus.Fields {
	return logrus.Fields{
		"batches":        s.Batches,
		"transactions":   s.Transactions,
		"absent_batches": s.Absent,
		"failed_batches": s.Failed,
		"initialize":     s.Initialize,
		"restart_or_add": s.RestartOrAdd,
		"new_reward":     s.NewReward,
		"elapsed":        s.Elapsed.Round(time.Millisecond).String(),
	}
}

// Events is the total number of extracted events.
func (s StatsSnapshot) Events() int {
	return s.Initialize + s.RestartOrAdd + s.NewReward
}
