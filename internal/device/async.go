package device

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultSinkQueueSize = 256
	defaultSinkTimeout   = 5 * time.Second
)

type sinkEventKind int

const (
	eventCapability sinkEventKind = iota
	eventAvailability
	eventRemoved
)

type queuedEvent struct {
	kind       sinkEventKind
	device     *Device
	id         string
	capability string
	value      any
	available  bool
}

// AsyncOptions configures an AsyncSink.
type AsyncOptions struct {
	QueueSize int           // default 256
	Timeout   time.Duration // per event, default 5s
	Logger    Logger
}

// AsyncSink delivers events to a wrapped sink from its own goroutine.
//
// The registry calls sinks on the bridge's event loop; a sink that talks to
// Redis or SQLite is wrapped so that a slow backend never stalls it. Events
// are queued in order and dropped with a warning when the queue is full.
// Each delivery gets its own timeout context.
type AsyncSink struct {
	name    string
	sink    ValueSink
	timeout time.Duration
	logger  Logger

	mu     sync.RWMutex
	closed bool
	events chan queuedEvent
	done   chan struct{}

	dropped atomic.Uint64
}

var _ ValueSink = (*AsyncSink)(nil)

// NewAsyncSink starts the delivery goroutine for sink. name identifies the
// sink in log lines.
func NewAsyncSink(name string, sink ValueSink, opts AsyncOptions) *AsyncSink {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultSinkQueueSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultSinkTimeout
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	s := &AsyncSink{
		name:    name,
		sink:    sink,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		events:  make(chan queuedEvent, opts.QueueSize),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for ev := range s.events {
		s.deliver(ev)
	}
}

func (s *AsyncSink) deliver(ev queuedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	switch ev.kind {
	case eventCapability:
		s.sink.CapabilityChanged(ctx, ev.device, ev.capability, ev.value)
	case eventAvailability:
		s.sink.AvailabilityChanged(ctx, ev.device, ev.available)
	case eventRemoved:
		s.sink.DeviceRemoved(ctx, ev.id)
	}
}

func (s *AsyncSink) enqueue(ev queuedEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	select {
	case s.events <- ev:
	default:
		n := s.dropped.Add(1)
		s.logger.Warn("sink queue full, event dropped", "sink", s.name, "device_id", ev.id, "dropped", n)
	}
}

// CapabilityChanged implements ValueSink.
func (s *AsyncSink) CapabilityChanged(_ context.Context, d *Device, capability string, value any) {
	s.enqueue(queuedEvent{kind: eventCapability, device: d, id: d.ID, capability: capability, value: value})
}

// AvailabilityChanged implements ValueSink.
func (s *AsyncSink) AvailabilityChanged(_ context.Context, d *Device, available bool) {
	s.enqueue(queuedEvent{kind: eventAvailability, device: d, id: d.ID, available: available})
}

// DeviceRemoved implements ValueSink.
func (s *AsyncSink) DeviceRemoved(_ context.Context, id string) {
	s.enqueue(queuedEvent{kind: eventRemoved, id: id})
}

// Dropped returns the number of events discarded because the queue was full.
func (s *AsyncSink) Dropped() uint64 {
	return s.dropped.Load()
}

// Close stops accepting events and waits until the queued ones have been
// delivered. Safe to call more than once.
func (s *AsyncSink) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.mu.Unlock()
	<-s.done
}
