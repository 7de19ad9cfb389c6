package submission

import (
	"context"

	"github.com/roach88/answersync/internal/answer"
)

// GetCachedAnswers returns every answer awaiting sync in queue order.
func (c *Coordinator) GetCachedAnswers(ctx context.Context) ([]answer.CachedAnswer, error) {
	return c.store.GetPendingAnswers(ctx)
}

func (c *Coordinator) GetPendingCount(ctx context.Context) (int, error) {
	return c.store.GetPendingCount(ctx)
}

func (c *Coordinator) HasCachedAnswer(ctx context.Context, key answer.Key) (bool, error) {
	_, ok, err := c.store.GetAnswer(ctx, key)
	return ok, err
}

// GetCachedAnswer returns the cached answer for key, if any.
func (c *Coordinator) GetCachedAnswer(ctx context.Context, key answer.Key) (answer.CachedAnswer, bool, error) {
	return c.store.GetAnswer(ctx, key)
}

// ClearCache deletes every cached answer, for example on logout.
func (c *Coordinator) ClearCache(ctx context.Context) error {
	if err := c.store.ClearAll(ctx); err != nil {
		return err
	}
	c.metrics.SetPending(0)
	return nil
}

// GetNetworkStatus returns the last computed NetworkStatus.
func (c *Coordinator) GetNetworkStatus() answer.NetworkStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}
