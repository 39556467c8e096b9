package audit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"
)

// asyncLogger implements asynchronous audit logging with ring buffer
type asyncLogger struct {
	writer Writer

	// Ring buffer
	buffer []interface{}
	size   int
	head   int
	tail   int
	mu     sync.Mutex

	// Background writer
	flushCh  chan struct{}
	doneCh   chan struct{}
	interval time.Duration

	dropped uint64
}

func newAsyncLogger(writer Writer, cfg Config) *asyncLogger {
	l := &asyncLogger{
		writer:   writer,
		buffer:   make([]interface{}, cfg.BufferSize),
		size:     cfg.BufferSize,
		flushCh:  make(chan struct{}, 1),
		doneCh:   make(chan struct{}),
		interval: cfg.FlushInterval,
	}

	go l.run()

	return l
}

// LogDecision logs one permission evaluation
func (l *asyncLogger) LogDecision(ctx context.Context, event *DecisionEvent) {
	if event.EventID == "" {
		event.EventID = generateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.EventType == "" {
		event.EventType = EventTypeDecision
	}
	if event.RequestID == "" {
		event.RequestID = getRequestID(ctx)
	}

	l.enqueue(event)
}

// LogMutation logs a policy, role, or assignment change
func (l *asyncLogger) LogMutation(ctx context.Context, event *MutationEvent) {
	if event.EventID == "" {
		event.EventID = generateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.EventType == "" {
		event.EventType = EventTypeMutation
	}
	if event.RequestID == "" {
		event.RequestID = getRequestID(ctx)
	}

	l.enqueue(event)
}

// enqueue adds an event to the ring buffer (non-blocking)
func (l *asyncLogger) enqueue(event interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer[l.tail] = event
	l.tail = (l.tail + 1) % l.size

	// Drop oldest if buffer full (overflow protection)
	if l.tail == l.head {
		l.head = (l.head + 1) % l.size
		atomic.AddUint64(&l.dropped, 1)
	}

	// Trigger flush (non-blocking)
	select {
	case l.flushCh <- struct{}{}:
	default:
	}
}

// run is the background goroutine that flushes events periodically
func (l *asyncLogger) run() {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = l.flush()
		case <-l.flushCh:
			_ = l.flush()
		case <-l.doneCh:
			_ = l.flush()
			return
		}
	}
}

// Flush flushes pending events (can be called externally)
func (l *asyncLogger) Flush() error {
	return l.flush()
}

func (l *asyncLogger) flush() error {
	l.mu.Lock()
	events := l.copyEvents()
	l.mu.Unlock()

	if len(events) == 0 {
		return nil
	}

	// Write events outside of the lock; keep going past individual
	// write failures.
	var lastErr error
	for _, event := range events {
		if err := l.writer.Write(event); err != nil {
			lastErr = err
		}
	}

	return lastErr
}

// copyEvents copies events from ring buffer and clears it
func (l *asyncLogger) copyEvents() []interface{} {
	if l.head == l.tail {
		return nil
	}

	var events []interface{}
	i := l.head
	for i != l.tail {
		events = append(events, l.buffer[i])
		i = (i + 1) % l.size
	}

	l.head = l.tail

	return events
}

// Dropped reports how many events overflowed the ring buffer
func (l *asyncLogger) Dropped() uint64 {
	return atomic.LoadUint64(&l.dropped)
}

// Close closes the logger and flushes remaining events
func (l *asyncLogger) Close() error {
	close(l.doneCh)
	time.Sleep(200 * time.Millisecond) // Give background goroutine time to flush
	return l.writer.Close()
}

func generateEventID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return "evt-" + hex.EncodeToString(b)
}

type requestIDKey struct{}

// WithRequestID attaches a request ID that audit events pick up
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func getRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
