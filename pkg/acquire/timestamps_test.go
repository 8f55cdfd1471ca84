package acquire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampTableCycles(t *testing.T) {
	for _, n := range []int{1, 2, 3, 7} {
		table := NewTimestampTable(n)
		require.Equal(t, n, table.Len())

		for number := uint32(0); number < 1000; number++ {
			i := table.Index(number)
			require.Equal(t, int(number%uint32(n)), i)
			require.False(t, table.Valid(i))

			ts := time.Duration(number) * time.Millisecond
			require.True(t, table.Record(i, ts))
			got, ok := table.Take(i)
			require.True(t, ok)
			require.Equal(t, ts, got)
		}
		assert.Zero(t, table.Pending())
	}
}

func TestTimestampTableRefusesValidEntry(t *testing.T) {
	table := NewTimestampTable(3)

	assert.True(t, table.Record(0, 10*time.Millisecond))
	assert.False(t, table.Record(0, 20*time.Millisecond))
	assert.Equal(t, 1, table.Pending())

	ts, ok := table.Take(0)
	assert.True(t, ok)
	assert.Equal(t, 10*time.Millisecond, ts)

	ts, ok = table.Take(0)
	assert.False(t, ok)
	assert.Equal(t, NoTimestamp, ts)

	_, ok = table.Take(5)
	assert.False(t, ok)
}

func TestTimestampTableReset(t *testing.T) {
	table := NewTimestampTable(2)
	table.Record(0, time.Second)
	table.Record(1, time.Second)
	table.Reset()
	assert.Zero(t, table.Pending())
}
