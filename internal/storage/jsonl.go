package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"curvePool/internal/model"
)

// JsonlStorage appends records to a JSONL file, one JSON object per line.
type JsonlStorage struct {
	path string
	mu   sync.Mutex
}

func NewJsonlStorage(path string) *JsonlStorage {
	return &JsonlStorage{path: path}
}

func (s *JsonlStorage) Path() string { return s.path }

// PutEventBatch appends a batch of pool events.
func (s *JsonlStorage) PutEventBatch(_ context.Context, events []model.PoolEvent) error {
	return appendLines(s, events, "pool event")
}

// PutLogBatch appends a batch of log records.
func (s *JsonlStorage) PutLogBatch(_ context.Context, logs []model.LogRecord) error {
	return appendLines(s, logs, "log record")
}

func appendLines[T any](s *JsonlStorage, records []T, kind string) error {
	if len(records) == 0 {
		return nil
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, record := range records {
		line, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", kind, err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write %s: %w", kind, err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

// ReadEvents loads every pool event from a JSONL file written by PutEventBatch.
// Payloads decode as generic JSON objects.
func ReadEvents(path string) ([]model.PoolEvent, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open events file: %w", err)
	}
	defer file.Close()

	var out []model.PoolEvent
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var event model.PoolEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return nil, fmt.Errorf("decode event line %d: %w", line, err)
		}
		out = append(out, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan events file: %w", err)
	}
	return out, nil
}
