package progress

import (
	"math"
	"sync"
	"time"
)

// DefaultMilestones always pass the throttle.
var DefaultMilestones = []float64{0, 0.3, 0.5, 0.7, 0.9, 1}

const milestoneEpsilon = 1e-9

// Throttled forwards the first update at each milestone, every update at
// progress 1, and any other update only when minInterval has passed since
// the last forwarded one.
type Throttled struct {
	sink        Sink
	minInterval time.Duration
	milestones  []float64
	now         func() time.Time

	mu   sync.Mutex
	last time.Time
	seen map[int]bool
}

// NewThrottled wraps sink. A nil milestones slice selects DefaultMilestones.
func NewThrottled(sink Sink, minInterval time.Duration, milestones []float64) *Throttled {
	if milestones == nil {
		milestones = DefaultMilestones
	}
	return &Throttled{
		sink:        sink,
		minInterval: minInterval,
		milestones:  milestones,
		now:         time.Now,
		seen:        make(map[int]bool),
	}
}

// Report applies the throttle.
func (t *Throttled) Report(progress float64, message string) {
	t.mu.Lock()
	now := t.now()
	pass := false
	if progress >= 1 {
		pass = true
	} else if i := t.milestoneIndex(progress); i >= 0 && !t.seen[i] {
		t.seen[i] = true
		pass = true
	} else if t.last.IsZero() || now.Sub(t.last) >= t.minInterval {
		pass = true
	}
	if pass {
		t.last = now
	}
	t.mu.Unlock()

	if pass {
		t.sink.Report(progress, message)
	}
}

func (t *Throttled) milestoneIndex(progress float64) int {
	for i, m := range t.milestones {
		if math.Abs(progress-m) < milestoneEpsilon {
			return i
		}
	}
	return -1
}
