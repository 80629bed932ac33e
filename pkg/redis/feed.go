package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	feedChannelPrefix = "docstore:"
	publishTimeout    = 5 * time.Second
)

// ChangeFeed announces document store writes on Redis pub/sub so subscribers
// on every instance refresh their snapshots.
type ChangeFeed struct {
	client *Client
	logger *zap.Logger
}

// NewChangeFeed creates a Redis-backed change feed.
func NewChangeFeed(client *Client, logger *zap.Logger) *ChangeFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChangeFeed{client: client, logger: logger}
}

func (f *ChangeFeed) channel(collection string) string {
	return f.client.Key(feedChannelPrefix + collection)
}

// Publish announces a write to collection.
func (f *ChangeFeed) Publish(ctx context.Context, collection string) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	at := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return f.client.Publish(ctx, f.channel(collection), at).Err()
}

// Listen subscribes to collection's channel. Bursts of writes are coalesced
// into a single pending signal. Call stop to unsubscribe.
func (f *ChangeFeed) Listen(ctx context.Context, collection string) (<-chan struct{}, func(), error) {
	ctx, cancelCtx := context.WithCancel(ctx)
	pubsub := f.client.Subscribe(ctx, f.channel(collection))
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe: %w", err)
	}
	out := make(chan struct{}, 1)
	msgs := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	f.logger.Debug("change feed listening", zap.String("collection", collection))
	return out, cancelCtx, nil
}
