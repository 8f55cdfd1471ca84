package acquire

import "time"

// NoTimestamp marks an empty table entry or an untimed frame.
const NoTimestamp time.Duration = -1

// Clock is a monotonic time source.
type Clock interface {
	Now() time.Duration
}

type monotonicClock struct {
	origin time.Time
}

// NewMonotonicClock returns a Clock measuring time since its creation.
func NewMonotonicClock() Clock {
	return monotonicClock{origin: time.Now()}
}

func (c monotonicClock) Now() time.Duration {
	return time.Since(c.origin)
}

// TimestampTable maps ring slots to the time their frame became available.
// An entry is valid from the moment its frame lands until it is taken.
// It is not safe for concurrent use; the notifier's lock guards it.
type TimestampTable struct {
	times []time.Duration
}

// NewTimestampTable returns a table of n empty entries.
func NewTimestampTable(n int) *TimestampTable {
	t := &TimestampTable{times: make([]time.Duration, n)}
	t.Reset()
	return t
}

// Len returns the number of slots.
func (t *TimestampTable) Len() int { return len(t.times) }

// Index returns the slot for a cumulative buffer number.
func (t *TimestampTable) Index(number uint32) int {
	return int(number % uint32(len(t.times)))
}

// Valid reports whether slot i holds an unconsumed time.
func (t *TimestampTable) Valid(i int) bool {
	return t.times[i] != NoTimestamp
}

// Record stores ts in slot i. It refuses to overwrite a valid entry.
func (t *TimestampTable) Record(i int, ts time.Duration) bool {
	if t.Valid(i) {
		return false
	}
	t.times[i] = ts
	return true
}

// Take returns and clears slot i.
func (t *TimestampTable) Take(i int) (time.Duration, bool) {
	if i < 0 || i >= len(t.times) {
		return NoTimestamp, false
	}
	ts := t.times[i]
	t.times[i] = NoTimestamp
	return ts, ts != NoTimestamp
}

// Reset clears every entry.
func (t *TimestampTable) Reset() {
	for i := range t.times {
		t.times[i] = NoTimestamp
	}
}

// Pending returns the number of valid entries.
func (t *TimestampTable) Pending() int {
	n := 0
	for _, ts := range t.times {
		if ts != NoTimestamp {
			n++
		}
	}
	return n
}
