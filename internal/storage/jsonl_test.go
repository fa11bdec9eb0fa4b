package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farm-log-indexer-go/internal/farm"
)

func TestJsonlSinkAppendsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "events.jsonl")
	sink := NewJsonlSink(path)
	ctx := context.Background()

	first := []farm.FarmTransaction{
		{Event: &farm.InitializeEvent{Signature: "s1", FarmID: "f", User: "u", LpMint: "lp", RewardMints: []string{"r"}, StartTime: 1, EndTime: 2}},
		{Event: &farm.RestartOrAddEvent{Signature: "s1", FarmID: "f", User: "u", StartTime: 3, EndTime: 4}},
	}
	require.NoError(t, sink.PutFarmTransactions(ctx, 100, first))
	require.NoError(t, sink.PutFarmTransactions(ctx, 101, nil))
	require.NoError(t, sink.PutFarmTransactions(ctx, 102, []farm.FarmTransaction{
		{Event: &farm.NewRewardEvent{Signature: "s2", FarmID: "g", User: "a", StartTime: 5, EndTime: 6}},
	}))
	require.NoError(t, sink.Close())

	records, err := ReadRecords(path)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, uint64(100), records[0].Slot)
	assert.Equal(t, first[0], records[0].Event)
	assert.Equal(t, farm.KindRestartOrAdd, records[1].Event.Event.Kind())
	assert.Equal(t, uint64(102), records[2].Slot)
	assert.Equal(t, "s2", records[2].Event.Event.TxSignature())
}

func TestReadRecordsMissingFile(t *testing.T) {
	_, err := ReadRecords(filepath.Join(t.TempDir(), "nope.jsonl"))
	assert.Error(t, err)
}

// shortWriteFile writes only the first limit bytes of a write and then fails
type shortWriteFile struct {
	*os.File
	limit int
}

func (f *shortWriteFile) Write(p []byte) (int, error) {
	if len(p) <= f.limit {
		return f.File.Write(p)
	}
	n, _ := f.File.Write(p[:f.limit])
	return n, errors.New("disk full")
}

func TestJsonlSinkFailedWriteLeavesNoPartialBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	sink := NewJsonlSink(path)
	ctx := context.Background()

	require.NoError(t, sink.PutFarmTransactions(ctx, 1, []farm.FarmTransaction{
		{Event: &farm.RestartOrAddEvent{Signature: "s0", FarmID: "f", User: "u", StartTime: 1, EndTime: 2}},
	}))

	batch := []farm.FarmTransaction{
		{Event: &farm.RestartOrAddEvent{Signature: "s1", FarmID: "f", User: "u", StartTime: 3, EndTime: 4}},
		{Event: &farm.NewRewardEvent{Signature: "s1", FarmID: "f", User: "u", StartTime: 5, EndTime: 6}},
	}

	sink.open = func(path string) (appendFile, error) {
		file, err := openAppend(path)
		if err != nil {
			return nil, err
		}
		return &shortWriteFile{File: file.(*os.File), limit: 40}, nil
	}
	assert.Error(t, sink.PutFarmTransactions(ctx, 2, batch))

	records, err := ReadRecords(path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "s0", records[0].Event.Event.TxSignature())

	// retry succeeds without duplicating anything
	sink.open = openAppend
	require.NoError(t, sink.PutFarmTransactions(ctx, 2, batch))

	records, err = ReadRecords(path)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []uint64{1, 2, 2}, []uint64{records[0].Slot, records[1].Slot, records[2].Slot})
	assert.Equal(t, farm.KindNewReward, records[2].Event.Event.Kind())
}
