package trigger

import (
	"context"
	"maps"
	"strings"
	"sync"
	"time"
)

const (
	defaultQueueSize   = 128
	defaultFireTimeout = 10 * time.Second
)

// Firer fires one trigger. *Publisher implements it.
type Firer interface {
	Fire(ctx context.Context, name string, tokens map[string]any) error
}

// Logger is the logging interface used by Queue.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// QueueOptions configures a Queue.
type QueueOptions struct {
	Size    int           // default 128
	Timeout time.Duration // per trigger, default 10s
	Logger  Logger
}

type queuedTrigger struct {
	name   string
	tokens map[string]any
}

// Queue fires triggers from its own goroutine. Fire only validates and
// enqueues, so a caller on the bridge's event loop never waits for a
// broker acknowledgement. Delivery failures are logged.
type Queue struct {
	firer   Firer
	timeout time.Duration
	logger  Logger

	mu      sync.RWMutex
	closed  bool
	pending chan queuedTrigger
	done    chan struct{}
}

// NewQueue starts the delivery goroutine for firer.
func NewQueue(firer Firer, opts QueueOptions) *Queue {
	if opts.Size <= 0 {
		opts.Size = defaultQueueSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultFireTimeout
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	q := &Queue{
		firer:   firer,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		pending: make(chan queuedTrigger, opts.Size),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for tr := range q.pending {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		if err := q.firer.Fire(ctx, tr.name, tr.tokens); err != nil {
			q.logger.Warn("firing trigger failed", "trigger", tr.name, "error", err)
		}
		cancel()
	}
}

// Fire enqueues a trigger. It returns ErrQueueFull when the queue is full
// and ErrQueueClosed after Close. tokens is copied.
func (q *Queue) Fire(_ context.Context, name string, tokens map[string]any) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.pending <- queuedTrigger{name: name, tokens: maps.Clone(tokens)}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting triggers and waits for the queued ones to be
// fired. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.pending)
	}
	q.mu.Unlock()
	<-q.done
}
