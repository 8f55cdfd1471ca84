package acquire

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// notifier is the buffer-ready path. The driver calls frameDone from its
// own context once per frame; the delivery engine waits on cond until a
// timestamped frame is available. One mutex guards the table, the rotating
// index and the availability count.
type notifier struct {
	mu        sync.Mutex
	cond      *sync.Cond
	table     *TimestampTable
	index     int
	available int
	closed    bool

	startWall time.Time // set once, on the first frame

	// driverRunning mirrors the driver's start/stop signals and is only
	// used for sequencing assertions.
	driverRunning bool

	rejected   uint64
	assertions uint64

	clock Clock
	log   *slog.Logger
}

func newNotifier(ringSize int, clock Clock, log *slog.Logger) *notifier {
	n := &notifier{
		table: NewTimestampTable(ringSize),
		clock: clock,
		log:   log,
	}
	n.cond = sync.NewCond(&n.mu)
	return n
}

// frameDone records the arrival time of the frame that just landed. An
// arrival for a slot whose previous time has not been consumed is rejected:
// the entry is kept, availability is unchanged and nobody is woken. The
// driver is always asked to keep notifying.
func (n *notifier) frameDone() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return false
	}

	if !n.table.Record(n.index, n.clock.Now()) {
		n.rejected++
		n.log.Debug("frame arrival rejected, slot not consumed",
			"slot", n.index,
			"rejected_total", n.rejected,
		)
		return true
	}

	if n.startWall.IsZero() {
		n.startWall = time.Now().UTC()
	}

	n.index = (n.index + 1) % n.table.Len()
	n.available++
	n.cond.Signal()
	return true
}

func (n *notifier) acquisitionStarted() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.driverRunning {
		n.assertions++
		n.log.Warn("acquisition start signalled while already started", "kind", KindProtocol)
	}
	n.driverRunning = true
	return true
}

func (n *notifier) acquisitionDone() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.driverRunning {
		n.assertions++
		n.log.Warn("acquisition stop signalled while not started", "kind", KindProtocol)
	}
	n.driverRunning = false
	return true
}

func (n *notifier) signals() Signals {
	return Signals{
		FrameDone:          n.frameDone,
		AcquisitionStarted: n.acquisitionStarted,
		AcquisitionDone:    n.acquisitionDone,
	}
}

// waitAvailable blocks until at least one timestamped frame is available,
// the notifier is closed or ctx is done.
func (n *notifier) waitAvailable(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		n.mu.Lock()
		n.cond.Broadcast()
		n.mu.Unlock()
	})
	defer stop()

	for n.available == 0 {
		if n.closed {
			return ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		n.cond.Wait()
	}
	return nil
}

// take clears the entry for slot and returns its time. consume also
// accounts for one available frame.
func (n *notifier) take(slot int, consume bool) (time.Duration, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ts, ok := n.table.Take(slot)
	if consume && n.available > 0 {
		n.available--
	}
	return ts, ok
}

func (n *notifier) startTime() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.startWall
}

func (n *notifier) close() {
	n.mu.Lock()
	n.closed = true
	n.cond.Broadcast()
	n.mu.Unlock()
}

func (n *notifier) stats() (available int, rejected, assertions uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.available, n.rejected, n.assertions
}
