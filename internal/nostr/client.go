package nostr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/driftchat/driftchat/internal/config"
	"github.com/driftchat/driftchat/internal/ops"
)

// Client provides a high-level interface for interacting with Nostr relays
type Client struct {
	pool        *nostr.SimplePool
	relayConfig *config.Relays
	logger      *ops.Logger
	ctx         context.Context
}

// New creates a new Nostr client with the given configuration
func New(ctx context.Context, relayConfig *config.Relays, logger *ops.Logger) *Client {
	pool := nostr.NewSimplePool(ctx)
	return &Client{
		pool:        pool,
		relayConfig: relayConfig,
		logger:      logger.WithComponent("relay"),
		ctx:         ctx,
	}
}

// Pool returns the underlying SimplePool for advanced operations
func (c *Client) Pool() *nostr.SimplePool {
	return c.pool
}

// Query performs a one-shot historical fetch against the seed relays,
// bounded by the given timeout. A stalled relay pool that produces
// nothing before the deadline is reported as a retryable error; partial
// results received before the deadline are returned as-is.
func (c *Client) Query(ctx context.Context, filters nostr.Filters, timeout time.Duration) ([]*nostr.Event, error) {
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	events := make([]*nostr.Event, 0)
	for relayEvent := range c.pool.SubManyEose(qctx, c.Seeds(), filters) {
		if relayEvent.Event != nil {
			events = append(events, relayEvent.Event)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if errors.Is(qctx.Err(), context.DeadlineExceeded) && len(events) == 0 {
		return nil, fmt.Errorf("query timed out after %s", timeout)
	}

	return events, nil
}

// Subscribe opens a live subscription on the seed relays. The returned
// channel closes when ctx is cancelled; closing carries no further side
// effects.
func (c *Client) Subscribe(ctx context.Context, filters nostr.Filters) <-chan *nostr.Event {
	eventChan := make(chan *nostr.Event, 100)

	go func() {
		defer close(eventChan)

		count := 0
		for relayEvent := range c.pool.SubMany(ctx, c.Seeds(), filters) {
			if relayEvent.Event == nil {
				continue
			}
			count++
			select {
			case eventChan <- relayEvent.Event:
			case <-ctx.Done():
				c.logger.Debug("subscription cancelled", "events", count)
				return
			}
		}
	}()

	return eventChan
}

// Publish sends an event to the seed relays, succeeding if any accepts it
func (c *Client) Publish(ctx context.Context, event *nostr.Event) error {
	results := c.pool.PublishMany(ctx, c.Seeds(), *event)

	var lastErr error
	successCount := 0

	for result := range results {
		if result.Error != nil {
			lastErr = result.Error
		} else {
			successCount++
		}
	}

	c.logger.LogPublish(event.ID, successCount, lastErr)

	if successCount == 0 && lastErr != nil {
		return fmt.Errorf("failed to publish to any relay: %w", lastErr)
	}

	return nil
}

// Seeds returns the configured seed relays
func (c *Client) Seeds() []string {
	if c.relayConfig == nil {
		return []string{}
	}
	return c.relayConfig.Seeds
}

// QueryTimeout returns the timeout for interactive historical queries
func (c *Client) QueryTimeout() time.Duration {
	if c.relayConfig == nil || c.relayConfig.Policy.QueryTimeoutMs == 0 {
		return 5 * time.Second
	}
	return time.Duration(c.relayConfig.Policy.QueryTimeoutMs) * time.Millisecond
}

// BackgroundTimeout returns the timeout for preload and batch queries
func (c *Client) BackgroundTimeout() time.Duration {
	if c.relayConfig == nil || c.relayConfig.Policy.BackgroundTimeoutMs == 0 {
		return 15 * time.Second
	}
	return time.Duration(c.relayConfig.Policy.BackgroundTimeoutMs) * time.Millisecond
}

// Close closes all relay connections
func (c *Client) Close() {
	c.pool.Close("client shutting down")
}
