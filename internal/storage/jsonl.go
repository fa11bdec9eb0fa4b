package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"farm-log-indexer-go/internal/farm"
)

// appendFile is the part of *os.File the sink writes through
type appendFile interface {
	io.WriteSeeker
	Truncate(size int64) error
	Sync() error
	Close() error
}

// JsonlSink writes farm events to a JSONL file, one record per line.
// A batch is all or nothing: a failed write truncates the file back to where the batch began,
// so a retried batch is not duplicated.
type JsonlSink struct {
	path string
	mu   sync.Mutex
	open func(path string) (appendFile, error)
}

// NewJsonlSink creates a sink appending to path. The file and its directory are created on first write.
func NewJsonlSink(path string) *JsonlSink {
	return &JsonlSink{path: path, open: openAppend}
}

func openAppend(path string) (appendFile, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return file, nil
}

// PutFarmTransactions appends the events in batch order.
func (s *JsonlSink) PutFarmTransactions(_ context.Context, slot uint64, txs []farm.FarmTransaction) (err error) {
	if len(txs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, tx := range txs {
		line, err := json.Marshal(Record{Slot: slot, Event: tx})
		if err != nil {
			return fmt.Errorf("marshal farm event: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.open(s.path)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close output file: %w", cerr)
		}
	}()

	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("seek output file: %w", err)
	}

	if _, err := file.Write(buf.Bytes()); err != nil {
		return s.rollback(file, offset, fmt.Errorf("write farm events: %w", err))
	}
	if err := file.Sync(); err != nil {
		return s.rollback(file, offset, fmt.Errorf("sync output: %w", err))
	}

	return nil
}

func (s *JsonlSink) rollback(file appendFile, offset int64, cause error) error {
	if err := file.Truncate(offset); err != nil {
		return fmt.Errorf("%w (truncate to %d failed: %v)", cause, offset, err)
	}
	return cause
}

// Close implements Sink. Files are opened per batch, so there is nothing to release.
func (s *JsonlSink) Close() error {
	return nil
}

// ReadRecords loads every record from a JSONL file written by JsonlSink.
func ReadRecords(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var records []Record
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var record Record
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			return nil, fmt.Errorf("decode record %d: %w", len(records)+1, err)
		}
		records = append(records, record)
	}
	return records, scanner.Err()
}
