package logging

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
)

// QueueSink is a zapcore.WriteSyncer that buffers encoded log entries in a
// bounded queue and writes them to the underlying writer from an explicit
// flush task. When the queue is full new entries are dropped and counted.
type QueueSink struct {
	queue    chan []byte
	out      io.Writer
	interval time.Duration
	clock    clock.Clock

	mu      sync.Mutex
	dropped atomic.Int64

	// state guards closed. Write holds it shared across the enqueue so
	// Close cannot drain while an entry is still on its way in.
	state  sync.RWMutex
	closed bool
}

// NewQueueSink creates a sink holding at most capacity pending entries
func NewQueueSink(out io.Writer, capacity int, interval time.Duration, clk clock.Clock) *QueueSink {
	if capacity <= 0 {
		capacity = 1024
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &QueueSink{
		queue:    make(chan []byte, capacity),
		out:      out,
		interval: interval,
		clock:    clk,
	}
}

// Write enqueues a copy of p. It never waits on the underlying writer.
func (s *QueueSink) Write(p []byte) (int, error) {
	s.state.RLock()
	defer s.state.RUnlock()

	if s.closed {
		s.dropped.Add(1)
		return len(p), nil
	}
	buf := make([]byte, len(p))
	copy(buf, p)

	select {
	case s.queue <- buf:
	default:
		s.dropped.Add(1)
	}
	return len(p), nil
}

// Sync flushes pending entries
func (s *QueueSink) Sync() error {
	return s.Flush()
}

// Flush writes every queued entry to the underlying writer
func (s *QueueSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for {
		select {
		case entry := <-s.queue:
			if _, err := s.out.Write(entry); err != nil && firstErr == nil {
				firstErr = err
			}
		default:
			return firstErr
		}
	}
}

// Run flushes the queue every interval until ctx is done
func (s *QueueSink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.interval):
			_ = s.Flush()
		}
	}
}

// Dropped returns how many entries were discarded because the queue was full
func (s *QueueSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close stops accepting entries, drains the queue and closes the writer if
// it is an io.Closer. It is safe to call more than once.
func (s *QueueSink) Close() error {
	s.state.Lock()
	already := s.closed
	s.closed = true
	s.state.Unlock()
	if already {
		return nil
	}

	err := s.Flush()

	if n := s.dropped.Load(); n > 0 {
		s.mu.Lock()
		fmt.Fprintf(s.out, "{\"level\":\"warn\",\"msg\":\"log queue overflow\",\"dropped\":%d}\n", n)
		s.mu.Unlock()
	}

	if c, ok := s.out.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
