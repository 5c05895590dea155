package health

import (
	"context"
	"fmt"
)

// Pinger is a database that supports ping.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// SQLiteChecker checks SQLite database connectivity.
type SQLiteChecker struct {
	db Pinger
}

// NewSQLiteChecker creates a new SQLite health checker.
func NewSQLiteChecker(db Pinger) *SQLiteChecker {
	return &SQLiteChecker{db: db}
}

// Name returns the checker name.
func (c *SQLiteChecker) Name() string {
	return "sqlite"
}

// Check verifies the SQLite database is accessible.
func (c *SQLiteChecker) Check(ctx context.Context) error {
	if c.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return c.db.PingContext(ctx)
}

// QueueDepth reports the dispatch queue's size and capacity.
type QueueDepth interface {
	Len() int
	Cap() int
}

// QueueChecker fails when the dispatch queue is full, because new alerts
// would then be dropped or evict queued ones.
type QueueChecker struct {
	queue QueueDepth
}

// NewQueueChecker creates a dispatch queue checker.
func NewQueueChecker(q QueueDepth) *QueueChecker {
	return &QueueChecker{queue: q}
}

// Name returns the checker name.
func (c *QueueChecker) Name() string {
	return "dispatch_queue"
}

// Check fails when the queue is at capacity.
func (c *QueueChecker) Check(context.Context) error {
	if n, capacity := c.queue.Len(), c.queue.Cap(); n >= capacity {
		return fmt.Errorf("queue full (%d/%d)", n, capacity)
	}
	return nil
}

// CheckerFunc adapts a ping function into a named Checker.
type CheckerFunc struct {
	CheckName string
	Fn        func(ctx context.Context) error
}

// Name returns the checker name.
func (c CheckerFunc) Name() string { return c.CheckName }

// Check calls Fn.
func (c CheckerFunc) Check(ctx context.Context) error { return c.Fn(ctx) }
