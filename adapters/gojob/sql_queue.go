package gojob

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-job/queue"
	jobsql "github.com/goliatone/go-job/queue/adapters/postgres"
)

const (
	DefaultQueueTable  = "relay_job_queue"
	DefaultDLQTable    = "relay_job_dlq"
	DefaultStatusTable = "relay_job_status"
	defaultQueueLease  = 5 * time.Minute
)

// SQLQueueConfig selects the tables and dialect of a database backed job
// queue. Empty fields fall back to the relay defaults.
type SQLQueueConfig struct {
	Dialect           string
	Table             string
	DLQTable          string
	StatusTable       string
	VisibilityTimeout time.Duration
	Clock             func() time.Time
}

// SQLQueue is a go-job queue stored in the relay database.
type SQLQueue struct {
	adapter *jobsql.Adapter
}

// OpenSQLQueue creates the queue tables when missing and returns the queue.
func OpenSQLQueue(ctx context.Context, db *sql.DB, cfg SQLQueueConfig) (*SQLQueue, error) {
	if db == nil {
		return nil, fmt.Errorf("gojob: queue database is required")
	}
	opts := []jobsql.Option{
		jobsql.WithTableName(firstNonEmpty(cfg.Table, DefaultQueueTable)),
		jobsql.WithDLQTableName(firstNonEmpty(cfg.DLQTable, DefaultDLQTable)),
		jobsql.WithStatusTableName(firstNonEmpty(cfg.StatusTable, DefaultStatusTable)),
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Dialect)) {
	case "", "sqlite", "sqlite3":
		opts = append(opts, jobsql.WithDialect(jobsql.DialectSQLite))
	case "postgres":
		opts = append(opts, jobsql.WithDialect(jobsql.DialectPostgres))
	default:
		return nil, fmt.Errorf("gojob: unsupported queue dialect %q", cfg.Dialect)
	}
	lease := cfg.VisibilityTimeout
	if lease <= 0 {
		lease = defaultQueueLease
	}
	opts = append(opts, jobsql.WithVisibilityTimeout(lease))
	if cfg.Clock != nil {
		opts = append(opts, jobsql.WithClock(cfg.Clock))
	}

	storage := jobsql.NewStorage(db, opts...)
	if err := storage.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("gojob: migrate queue: %w", err)
	}
	return &SQLQueue{adapter: jobsql.NewAdapter(storage)}, nil
}

// Enqueuer returns the relay enqueue side of the queue.
func (q *SQLQueue) Enqueuer() *EnqueuerAdapter {
	return NewEnqueuerAdapter(q.adapter)
}

// Dequeuer returns the relay dequeue side, applying policy to nacks.
func (q *SQLQueue) Dequeuer(policy RetryPolicy) *DequeuerAdapter {
	return NewDequeuerAdapter(q.adapter, policy)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}

var (
	_ queue.Enqueuer = (*jobsql.Adapter)(nil)
	_ queue.Dequeuer = (*jobsql.Adapter)(nil)
)
