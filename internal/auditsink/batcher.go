package auditsink

import (
	"context"
	"log/slog"
	"time"

	"github.com/ipwis/kernel/internal/logging"
)

const (
	defaultBatchSize     = 100
	defaultBufferSize    = 1000
	defaultFlushInterval = 500 * time.Millisecond
	defaultTimeout       = 5 * time.Second
	defaultMaxRetries    = 3
	defaultRetryInterval = 100 * time.Millisecond
)

// Sink is the write surface a Batcher drains into; Store satisfies it.
// Kept as an interface so scheduler wiring and tests don't need a real
// Postgres pool.
type Sink interface {
	SaveBatch(ctx context.Context, records []Record) error
}

// BatcherConfig configures a Batcher's buffering and retry behavior,
// mirroring the teacher's invocation log batcher knobs.
type BatcherConfig struct {
	BatchSize     int
	BufferSize    int
	FlushInterval time.Duration
	Timeout       time.Duration
	MaxRetries    int
	RetryInterval time.Duration
}

// Batcher accepts Records on a buffered channel and flushes them to a
// Sink in batches, by size or on a timer, with exponential-backoff
// retries on persistence failure. Grounded on the teacher's
// invocationLogBatcher (internal/executor/invocation_log_batcher.go).
type Batcher struct {
	sink          Sink
	logger        *slog.Logger
	records       chan Record
	flushInterval time.Duration
	batchSize     int
	timeout       time.Duration
	maxRetries    int
	retryInterval time.Duration
	done          chan struct{}
}

// NewBatcher constructs a Batcher and starts its flush loop immediately.
func NewBatcher(sink Sink, cfg BatcherConfig) *Batcher {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	retryInterval := cfg.RetryInterval
	if retryInterval <= 0 {
		retryInterval = defaultRetryInterval
	}

	b := &Batcher{
		sink:          sink,
		logger:        logging.Op(),
		records:       make(chan Record, bufferSize),
		flushInterval: flushInterval,
		batchSize:     batchSize,
		timeout:       timeout,
		maxRetries:    maxRetries,
		retryInterval: retryInterval,
		done:          make(chan struct{}),
	}
	go b.run()
	return b
}

// Enqueue submits a record for asynchronous persistence. If the internal
// buffer is full the record is dropped and a warning is logged, rather
// than blocking the task-completion path that calls it.
func (b *Batcher) Enqueue(r Record) {
	select {
	case b.records <- r:
	default:
		b.logger.Warn("dropping task audit record due to full buffer", "task_id", r.TaskID, "tenant", r.Tenant)
	}
}

// Shutdown closes the record channel and waits up to timeout for the
// flush loop to drain and exit.
func (b *Batcher) Shutdown(timeout time.Duration) {
	close(b.records)
	select {
	case <-b.done:
		return
	case <-time.After(timeout):
		b.logger.Warn("timeout waiting for audit batcher shutdown", "timeout", timeout)
	}
}

func (b *Batcher) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	batch := make([]Record, 0, b.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		var lastErr error
		for attempt := 0; attempt < b.maxRetries; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
			lastErr = b.sink.SaveBatch(ctx, batch)
			cancel()
			if lastErr == nil {
				break
			}
			b.logger.Warn("failed to persist task audit records, retrying",
				"error", lastErr, "count", len(batch), "attempt", attempt+1)
			time.Sleep(time.Duration(1<<uint(attempt)) * b.retryInterval)
		}
		if lastErr != nil {
			b.logger.Error("permanently failed to persist task audit records after retries",
				"error", lastErr, "count", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case r, ok := <-b.records:
			if !ok {
				flush()
				return
			}
			batch = append(batch, r)
			if len(batch) >= b.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
