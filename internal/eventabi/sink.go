package eventabi

import (
	"context"
	"fmt"

	"curvePool/internal/model"
	"curvePool/internal/storage"
)

// Sink encodes every pool event as a log record and writes it to a log store.
type Sink struct {
	codec *Codec
	store storage.LogStorage
}

func NewSink(store storage.LogStorage) (*Sink, error) {
	codec, err := NewCodec()
	if err != nil {
		return nil, err
	}
	return &Sink{codec: codec, store: store}, nil
}

func (s *Sink) Publish(ctx context.Context, event model.PoolEvent) error {
	record, err := s.codec.Encode(event)
	if err != nil {
		return err
	}
	if err := s.store.PutLogBatch(ctx, []model.LogRecord{record}); err != nil {
		return fmt.Errorf("write log record: %w", err)
	}
	return nil
}
