package submission

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator produces submission IDs, the idempotency keys sent with every
// remote attempt of an answer.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 submission IDs.
// It is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate panics if the system random source fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// statusClock stamps every recomputed NetworkStatus with a strictly
// increasing sequence number so observers can order updates.
type statusClock struct {
	seq atomic.Int64
}

func (c *statusClock) Next() int64 {
	return c.seq.Add(1)
}
