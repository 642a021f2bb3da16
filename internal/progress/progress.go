// Package progress delivers run progress to observers.
//
// Producers call Report and never wait on a consumer. NonBlocking puts a
// bounded buffer in front of any sink and drops updates when it is full.
package progress

import (
	"sync"
	"sync/atomic"
)

// Sink receives progress in [0,1] with a human-readable message.
type Sink interface {
	Report(progress float64, message string)
}

// Func adapts a function to Sink.
type Func func(progress float64, message string)

// Report calls f.
func (f Func) Report(progress float64, message string) {
	f(progress, message)
}

// Nop discards every update.
var Nop Sink = Func(func(float64, string) {})

// Multi fans an update out to every sink in order.
type Multi []Sink

// Report forwards to each non-nil sink.
func (m Multi) Report(progress float64, message string) {
	for _, s := range m {
		if s != nil {
			s.Report(progress, message)
		}
	}
}

// Update is one progress report.
type Update struct {
	Progress float64
	Message  string
}

// Stats counts delivered and dropped updates.
type Stats struct {
	Sent    uint64
	Dropped uint64
}

// NonBlocking decouples a producer from a slow sink. Report never waits:
// when the buffer is full an update is dropped, except that the newest
// update at progress 1 is parked and delivered once the buffer drains.
type NonBlocking struct {
	sink Sink
	ch   chan Update
	kick chan struct{}
	done chan struct{}
	once sync.Once

	mu     sync.RWMutex
	closed bool

	// pmu orders sends on ch against the parked update.
	pmu     sync.Mutex
	pending *Update

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewNonBlocking starts the delivery goroutine. buffer < 1 is treated as 1.
func NewNonBlocking(sink Sink, buffer int) *NonBlocking {
	if buffer < 1 {
		buffer = 1
	}
	nb := &NonBlocking{
		sink: sink,
		ch:   make(chan Update, buffer),
		kick: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go nb.deliver()
	return nb
}

func (nb *NonBlocking) deliver() {
	defer close(nb.done)
	for {
		select {
		case u, ok := <-nb.ch:
			if !ok {
				nb.flushPending()
				return
			}
			nb.send(u)
		case <-nb.kick:
			// Everything buffered predates the parked update.
			for drained := false; !drained; {
				select {
				case u, ok := <-nb.ch:
					if !ok {
						nb.flushPending()
						return
					}
					nb.send(u)
				default:
					drained = true
				}
			}
			nb.flushPending()
		}
	}
}

func (nb *NonBlocking) send(u Update) {
	nb.sink.Report(u.Progress, u.Message)
	nb.sent.Add(1)
}

func (nb *NonBlocking) flushPending() {
	nb.pmu.Lock()
	u := nb.pending
	nb.pending = nil
	nb.pmu.Unlock()
	if u != nil {
		nb.send(*u)
	}
}

// Report enqueues an update. Reports after Close are dropped.
func (nb *NonBlocking) Report(progress float64, message string) {
	nb.mu.RLock()
	defer nb.mu.RUnlock()
	if nb.closed {
		nb.dropped.Add(1)
		return
	}

	u := Update{Progress: progress, Message: message}
	nb.pmu.Lock()
	defer nb.pmu.Unlock()
	if nb.pending == nil {
		select {
		case nb.ch <- u:
			return
		default:
		}
	}
	if progress < 1 {
		nb.dropped.Add(1)
		return
	}
	if nb.pending != nil {
		nb.dropped.Add(1)
	}
	nb.pending = &u
	select {
	case nb.kick <- struct{}{}:
	default:
	}
}

// Close flushes queued updates and stops the delivery goroutine.
func (nb *NonBlocking) Close() {
	nb.once.Do(func() {
		nb.mu.Lock()
		nb.closed = true
		close(nb.ch)
		nb.mu.Unlock()
	})
	<-nb.done
}

// Stats returns a snapshot of the counters.
func (nb *NonBlocking) Stats() Stats {
	return Stats{Sent: nb.sent.Load(), Dropped: nb.dropped.Load()}
}
