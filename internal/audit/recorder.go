package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls recorder buffering behavior.
type Config struct {
	BufferSize int
	DropIfFull bool
}

// Recorder forwards audit events to a sink from a background
// goroutine so the hot path never waits on audit I/O. A nil Recorder
// is valid and drops everything, which keeps call sites unconditional.
type Recorder struct {
	cfg       Config
	sink      Sink
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewRecorder starts the background drain goroutine. Close flushes
// whatever is still buffered.
func NewRecorder(cfg Config, sink Sink) *Recorder {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	r := &Recorder{
		cfg:  cfg,
		sink: sink,
		ch:   make(chan Event, cfg.BufferSize),
		done: make(chan struct{}),
	}

	r.wg.Add(1)
	go r.drain()

	return r
}

func (r *Recorder) drain() {
	defer r.wg.Done()

	for {
		select {
		case event := <-r.ch:
			r.sink.Emit(context.Background(), event)
		case <-r.done:
			for {
				select {
				case event := <-r.ch:
					r.sink.Emit(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

// Record stamps the event with the current time and queues it.
func (r *Recorder) Record(ctx context.Context, event Event) {
	if r == nil || r.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if r.cfg.DropIfFull {
		select {
		case r.ch <- event:
		case <-r.done:
		default:
			r.dropped.Add(1)
		}
		return
	}

	select {
	case r.ch <- event:
	case <-ctx.Done():
	case <-r.done:
	}
}

// Close stops the recorder after flushing buffered events.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.done)
		r.wg.Wait()
	})
}

// Dropped reports how many events were discarded because the buffer
// was full.
func (r *Recorder) Dropped() uint64 {
	if r == nil {
		return 0
	}
	return r.dropped.Load()
}
