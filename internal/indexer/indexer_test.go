package indexer

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farm-log-indexer-go/internal/client"
	"farm-log-indexer-go/internal/farm"
	"farm-log-indexer-go/internal/logger"
)

const farmProgram = "FarmqiPv5eAj3j1GMdMCMUGXqPUvmquZtMy86QH6rzhG"

func testLogger() *logger.Logger {
	l, _ := logtest.NewNullLogger()
	l.SetLevel(logrus.DebugLevel)
	return &logger.Logger{Logger: l}
}

func restartTx(sigByte byte, start string) *farm.ConfirmedTransaction {
	return &farm.ConfirmedTransaction{
		Transaction: &farm.Transaction{
			Signatures: [][]byte{bytes.Repeat([]byte{sigByte}, 64)},
			Message: &farm.Message{AccountKeys: [][]byte{
				bytes.Repeat([]byte{1}, 32),
				bytes.Repeat([]byte{2}, 32),
			}},
		},
		Meta: &farm.TransactionMeta{LogMessages: []string{
			"Program " + farmProgram + " invoke [1]",
			"Program log: process_creator_restart: ADDR, " + start + ", 900, 2",
			"Program " + farmProgram + " success",
		}},
	}
}

func brokenInitializeTx() *farm.ConfirmedTransaction {
	tx := restartTx(9, "1")
	tx.Meta.LogMessages = []string{
		"Program " + farmProgram + " invoke [1]",
		"Program log: process_initialize reward_per_second 1, begin:1, current:1, end:2",
		"Program log: process_initialize reward_per_second 1, begin:1, current:1, end:2",
		"Program " + farmProgram + " success",
	}
	return tx
}

type fakeSource struct {
	mu        sync.Mutex
	slots     map[uint64]farm.Transactions
	sigs      map[string]*farm.ConfirmedTransaction
	failFirst int
	calls     int
}

func (f *fakeSource) FetchSlot(_ context.Context, slot uint64) (farm.Transactions, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failFirst > 0 {
		f.failFirst--
		return farm.Transactions{}, errors.New("rpc unavailable")
	}
	return f.slots[slot], nil
}

func (f *fakeSource) FetchSignatures(_ context.Context, signatures []string) (farm.Transactions, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var batch farm.Transactions
	for _, sig := range signatures {
		tx, ok := f.sigs[sig]
		if !ok {
			return farm.Transactions{}, errors.New("not found")
		}
		batch.Transactions = append(batch.Transactions, tx)
	}
	return batch, nil
}

type memorySink struct {
	mu     sync.Mutex
	writes map[uint64][]farm.FarmTransaction
	order  []uint64
}

func newMemorySink() *memorySink {
	return &memorySink{writes: make(map[uint64][]farm.FarmTransaction)}
}

func (m *memorySink) PutFarmTransactions(_ context.Context, slot uint64, txs []farm.FarmTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes[slot] = append(m.writes[slot], txs...)
	m.order = append(m.order, slot)
	return nil
}

func (m *memorySink) Close() error { return nil }

func (m *memorySink) snapshot() ([]uint64, map[uint64][]farm.FarmTransaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint64(nil), m.order...), m.writes
}

type fixedSlot uint64

func (s fixedSlot) GetSlot(context.Context) (uint64, error) { return uint64(s), nil }

func newTestPipeline(sink *memorySink) *Pipeline {
	processor := farm.NewProcessor(farmProgram, farm.ContextGrouper{}, nil)
	return NewPipeline(processor, sink, testLogger(), RetryConfig{MaxRetries: 2, RetryBackoff: time.Millisecond})
}

func TestRunnerBackfillWithCheckpoint(t *testing.T) {
	src := &fakeSource{slots: map[uint64]farm.Transactions{
		10: {Transactions: []*farm.ConfirmedTransaction{restartTx(1, "100")}},
		12: {Transactions: []*farm.ConfirmedTransaction{restartTx(2, "200"), restartTx(3, "300")}},
	}, failFirst: 1}
	sink := newMemorySink()
	pipeline := newTestPipeline(sink)
	checkpoint := NewFileCheckpoint(filepath.Join(t.TempDir(), "cp.json"), farmProgram, true)

	runner := NewRunner(RunConfig{FromSlot: 10, Retry: pipeline.retry}, src, fixedSlot(12), pipeline, checkpoint, testLogger())
	require.NoError(t, runner.Run(context.Background()))

	order, writes := sink.snapshot()
	assert.Equal(t, []uint64{10, 12}, order)
	require.Len(t, writes[12], 2)
	assert.Equal(t, uint32(300), writes[12][1].Event.(*farm.RestartOrAddEvent).StartTime)

	last, ok, err := checkpoint.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(12), last)

	snap := pipeline.Stats().Snapshot()
	assert.Equal(t, 3, snap.Batches)
	assert.Equal(t, 1, snap.Absent)
	assert.Equal(t, 3, snap.RestartOrAdd)
	assert.Equal(t, 3, snap.Events())

	// resumes after the checkpoint
	calls := src.calls
	require.NoError(t, runner.Run(context.Background()))
	assert.Equal(t, calls, src.calls)
}

func TestRunnerStopsOnFatalBatch(t *testing.T) {
	src := &fakeSource{slots: map[uint64]farm.Transactions{
		5: {Transactions: []*farm.ConfirmedTransaction{restartTx(1, "100"), brokenInitializeTx()}},
		6: {Transactions: []*farm.ConfirmedTransaction{restartTx(2, "200")}},
	}}
	sink := newMemorySink()
	checkpoint := NewFileCheckpoint(filepath.Join(t.TempDir(), "cp.json"), farmProgram, true)

	runner := NewRunner(RunConfig{FromSlot: 5, ToSlot: 6}, src, nil, newTestPipeline(sink), checkpoint, testLogger())
	err := runner.Run(context.Background())
	assert.ErrorIs(t, err, farm.ErrMissingAccount)

	order, _ := sink.snapshot()
	assert.Empty(t, order)

	_, ok, err := checkpoint.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunnerRunSignatures(t *testing.T) {
	src := &fakeSource{sigs: map[string]*farm.ConfirmedTransaction{
		"a": restartTx(1, "100"),
		"b": restartTx(2, "200"),
	}}
	sink := newMemorySink()
	runner := NewRunner(RunConfig{}, src, nil, newTestPipeline(sink), nil, testLogger())

	require.NoError(t, runner.RunSignatures(context.Background(), []string{"b", "a"}))
	_, writes := sink.snapshot()
	require.Len(t, writes[0], 2)
	assert.Equal(t, uint32(200), writes[0][0].Event.(*farm.RestartOrAddEvent).StartTime)

	assert.Error(t, runner.RunSignatures(context.Background(), nil))
}

func TestWithRetry(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), 3, time.Millisecond, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	attempts = 0
	err = withRetry(context.Background(), 1, time.Millisecond, func(context.Context) error {
		attempts++
		return errors.New("permanent")
	})
	assert.EqualError(t, err, "permanent")
	assert.Equal(t, 2, attempts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempts = 0
	err = withRetry(ctx, 5, time.Second, func(context.Context) error {
		attempts++
		return errors.New("transient")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

type memoryState struct {
	slots map[string]uint64
}

func (m *memoryState) LoadState(_ context.Context, name string) (uint64, bool, error) {
	slot, ok := m.slots[name]
	return slot, ok, nil
}

func (m *memoryState) SaveState(_ context.Context, name string, slot uint64) error {
	m.slots[name] = slot
	return nil
}

func TestCheckpoints(t *testing.T) {
	ctx := context.Background()

	disabled := NewFileCheckpoint(filepath.Join(t.TempDir(), "cp.json"), farmProgram, false)
	require.NoError(t, disabled.Save(ctx, 7))
	_, ok, err := disabled.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	path := filepath.Join(t.TempDir(), "nested", "cp.json")
	file := NewFileCheckpoint(path, farmProgram, true)
	require.NoError(t, file.Save(ctx, 9))
	require.NoError(t, file.Save(ctx, 11))
	slot, ok, err := file.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(11), slot)

	// a checkpoint written for another program is refused
	_, _, err = NewFileCheckpoint(path, "OtherProgram1111111111111111111111111111111", true).Load(ctx)
	assert.Error(t, err)

	state := NewStateCheckpoint(&memoryState{slots: map[string]uint64{}}, "farm")
	_, ok, err = state.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, state.Save(ctx, 42))
	slot, ok, err = state.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(42), slot)
}

type fakeSubscriber struct {
	handler client.LogsHandler
	ready   chan struct{}
	done    chan struct{}
}

func (f *fakeSubscriber) SubscribeToLogs(programID, _ string, handler client.LogsHandler) (int, error) {
	if programID != farmProgram {
		return 0, errors.New("unexpected program")
	}
	f.handler = handler
	close(f.ready)
	return 1, nil
}

func (f *fakeSubscriber) Done() <-chan struct{} { return f.done }

func notification(slot uint64, sig string) client.LogsNotification {
	var n client.LogsNotification
	n.Result.Context.Slot = slot
	n.Result.Value.Signature = sig
	return n
}

func TestFollowerProcessesNotifications(t *testing.T) {
	src := &fakeSource{sigs: map[string]*farm.ConfirmedTransaction{
		"ok":     restartTx(1, "100"),
		"broken": brokenInitializeTx(),
		"later":  restartTx(2, "200"),
	}}
	sink := newMemorySink()
	pipeline := newTestPipeline(sink)
	sub := &fakeSubscriber{ready: make(chan struct{}), done: make(chan struct{})}

	follower := NewFollower(FollowConfig{ProgramID: farmProgram, Retry: RetryConfig{RetryBackoff: time.Millisecond}}, sub, src, pipeline, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- follower.Run(ctx) }()

	<-sub.ready
	require.NoError(t, sub.handler(notification(50, "ok")))
	require.NoError(t, sub.handler(notification(51, "broken")))
	require.NoError(t, sub.handler(notification(52, "later")))
	assert.Error(t, sub.handler(notification(53, "")))

	require.Eventually(t, func() bool {
		order, _ := sink.snapshot()
		return len(order) == 2
	}, 5*time.Second, 10*time.Millisecond)

	order, _ := sink.snapshot()
	assert.Equal(t, []uint64{50, 52}, order)
	assert.Equal(t, 1, pipeline.Stats().Snapshot().Failed)

	cancel()
	require.NoError(t, <-errCh)
}

func TestFollowerSubscriptionClosed(t *testing.T) {
	sub := &fakeSubscriber{ready: make(chan struct{}), done: make(chan struct{})}
	close(sub.done)

	follower := NewFollower(FollowConfig{ProgramID: farmProgram}, sub, &fakeSource{}, newTestPipeline(newMemorySink()), testLogger())
	assert.Error(t, follower.Run(context.Background()))
}
