package logging

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestQueueSink_DropsWhenFull(t *testing.T) {
	out := &syncBuffer{}
	sink := NewQueueSink(out, 2, time.Second, testclock.NewClock(time.Now()))

	for _, line := range []string{"a\n", "b\n", "c\n"} {
		n, err := sink.Write([]byte(line))
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	}

	assert.Equal(t, int64(1), sink.Dropped())
	assert.Empty(t, out.String())

	require.NoError(t, sink.Flush())
	assert.Equal(t, "a\nb\n", out.String())
}

func TestQueueSink_RunFlushesOnInterval(t *testing.T) {
	out := &syncBuffer{}
	clk := testclock.NewClock(time.Now())
	sink := NewQueueSink(out, 16, 2*time.Second, clk)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sink.Run(ctx)
		close(done)
	}()

	_, _ = sink.Write([]byte("entry\n"))
	require.NoError(t, clk.WaitAdvance(2*time.Second, time.Second, 1))

	assert.Eventually(t, func() bool {
		return out.String() == "entry\n"
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestQueueSink_CloseDrainsAndReportsDrops(t *testing.T) {
	out := &syncBuffer{}
	sink := NewQueueSink(out, 1, time.Second, testclock.NewClock(time.Now()))

	_, _ = sink.Write([]byte("kept\n"))
	_, _ = sink.Write([]byte("dropped\n"))

	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	got := out.String()
	assert.True(t, strings.HasPrefix(got, "kept\n"))
	assert.Contains(t, got, `"dropped":1`)
	assert.True(t, out.closed)

	_, _ = sink.Write([]byte("late\n"))
	assert.Equal(t, int64(2), sink.Dropped())
	assert.NotContains(t, out.String(), "late")
}

func TestQueueSink_ConcurrentCloseLosesNothingUncounted(t *testing.T) {
	out := &syncBuffer{}
	sink := NewQueueSink(out, 10000, time.Second, testclock.NewClock(time.Now()))

	const writers, perWriter = 8, 200
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < perWriter; j++ {
				_, _ = sink.Write([]byte("entry\n"))
			}
		}()
	}
	close(start)
	require.NoError(t, sink.Close())
	wg.Wait()

	written := strings.Count(out.String(), "entry\n")
	assert.Equal(t, int64(writers*perWriter), int64(written)+sink.Dropped())
}
