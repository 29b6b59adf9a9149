package chain

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// HeaderSource returns block headers; *Client implements it.
type HeaderSource interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// BlockClock reports the timestamp of the latest block, so IBR ends and trade
// deadlines follow chain time rather than the local wall clock. Lookups are cached
// for refresh; on RPC failure the last block time is reused.
type BlockClock struct {
	source  HeaderSource
	refresh time.Duration
	timeout time.Duration
	logger  *zap.Logger
	wall    func() time.Time

	mu        sync.Mutex
	last      time.Time
	fetchedAt time.Time
}

func NewBlockClock(source HeaderSource, refresh time.Duration, logger *zap.Logger) *BlockClock {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlockClock{
		source:  source,
		refresh: refresh,
		timeout: 5 * time.Second,
		logger:  logger,
		wall:    time.Now,
	}
}

// Now returns the latest known block time.
func (c *BlockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.wall()
	if !c.last.IsZero() && now.Sub(c.fetchedAt) < c.refresh {
		return c.last
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	header, err := c.source.HeaderByNumber(ctx, nil)
	if err != nil {
		if c.last.IsZero() {
			c.logger.Warn("block time unavailable, using wall clock", zap.Error(err))
			return now.UTC()
		}
		c.logger.Warn("block time refresh failed", zap.Error(err), zap.Time("last", c.last))
		return c.last
	}

	c.last = time.Unix(int64(header.Time), 0).UTC()
	c.fetchedAt = now
	return c.last
}
