package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"curvePool/internal/model"
	"curvePool/internal/storage"
)

// Sink receives committed pool events. It matches pool.EventSink.
type Sink interface {
	Publish(ctx context.Context, event model.PoolEvent) error
}

// Fanout publishes every event to each sink in order. All sinks are tried; their
// errors are joined.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, event model.PoolEvent) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes each event to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(_ context.Context, event model.PoolEvent) error {
	s.logger.Info("pool event",
		zap.String("pool_id", event.PoolID),
		zap.String("event", event.Name),
		zap.Uint64("seq", event.Seq),
		zap.Uint64("version", event.Version),
		zap.String("reserve", event.State.Reserve),
		zap.String("supply", event.State.Supply),
		zap.String("spot_price", event.State.SpotPrice),
		zap.Any("data", event.Data),
	)
	return nil
}

// BatchSink buffers events and writes them to a storage backend in batches.
type BatchSink struct {
	store     storage.Storage
	batchSize int
	logger    *zap.Logger

	mu      sync.Mutex
	pending []model.PoolEvent
	written uint64
}

// NewBatchSink writes through store once batchSize events are pending. A batch size
// below one writes every event immediately.
func NewBatchSink(store storage.Storage, batchSize int, logger *zap.Logger) *BatchSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize < 1 {
		batchSize = 1
	}
	return &BatchSink{store: store, batchSize: batchSize, logger: logger}
}

func (s *BatchSink) Publish(ctx context.Context, event model.PoolEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, event)
	if len(s.pending) < s.batchSize {
		return nil
	}
	return s.flushLocked(ctx)
}

// Flush writes any pending events.
func (s *BatchSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

// Written returns how many events reached storage.
func (s *BatchSink) Written() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

func (s *BatchSink) flushLocked(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	if err := s.store.PutEventBatch(ctx, s.pending); err != nil {
		return fmt.Errorf("write event batch: %w", err)
	}
	s.written += uint64(len(s.pending))
	s.logger.Debug("event batch written", zap.Int("events", len(s.pending)), zap.Uint64("total", s.written))
	s.pending = s.pending[:0]
	return nil
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []model.PoolEvent
}

func (r *Recorder) Publish(_ context.Context, event model.PoolEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []model.PoolEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.PoolEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Names returns the recorded event names in order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Name)
	}
	return out
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}
