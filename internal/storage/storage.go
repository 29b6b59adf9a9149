package storage

import (
	"context"

	"curvePool/internal/model"
)

// Storage is a durable sink for pool events.
type Storage interface {
	PutEventBatch(ctx context.Context, events []model.PoolEvent) error
}

// LogStorage is a sink for events in EVM log form.
type LogStorage interface {
	PutLogBatch(ctx context.Context, logs []model.LogRecord) error
}
