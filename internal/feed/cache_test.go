package feed

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	tx    string
	index int
}

func entryKey(e entry) string { return fmt.Sprintf("%s:%d", e.tx, e.index) }

func newEntryCache(t *testing.T, capacity int, opts ...Option) *Cache[entry] {
	t.Helper()
	c, err := New(capacity, entryKey, opts...)
	require.NoError(t, err)
	return c
}

func TestPushKeepsLastNNewestFirst(t *testing.T) {
	c := newEntryCache(t, 8, WithStrict(true))
	assert.Equal(t, Empty, c.State())

	evictions := 0
	for i := 0; i < 20; i++ {
		res, err := c.Push(entry{tx: "0xaa", index: i})
		require.NoError(t, err)
		require.True(t, res.Inserted)
		if res.Evicted {
			evictions++
		}
	}

	assert.Equal(t, 8, c.Len())
	assert.Equal(t, 12, evictions)
	assert.Equal(t, Populated, c.State())

	snap := c.Snapshot()
	require.Len(t, snap, 8)
	for i, e := range snap {
		assert.Equal(t, 19-i, e.index)
	}
	assert.False(t, c.Contains("0xaa:11"))
	assert.True(t, c.Contains("0xaa:12"))
}

func TestPushDuplicateIsNoop(t *testing.T) {
	c := newEntryCache(t, 4, WithStrict(true))

	res, err := c.Push(entry{tx: "0xbb", index: 1})
	require.NoError(t, err)
	assert.True(t, res.Inserted)

	res, err = c.Push(entry{tx: "0xbb", index: 1})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.False(t, res.Inserted)
	assert.Equal(t, 1, c.Len())
}

func TestEvictedKeyIsOldest(t *testing.T) {
	c := newEntryCache(t, 2)
	_, _ = c.Push(entry{tx: "a"})
	_, _ = c.Push(entry{tx: "b"})
	res, err := c.Push(entry{tx: "c"})
	require.NoError(t, err)
	assert.True(t, res.Evicted)
	assert.Equal(t, "a:0", res.EvictedKey)

	// an evicted key may be pushed again
	res, err = c.Push(entry{tx: "a"})
	require.NoError(t, err)
	assert.True(t, res.Inserted)
}

func TestFindFirstReturnsNewestMatch(t *testing.T) {
	c := newEntryCache(t, 5)
	for i := 0; i < 5; i++ {
		_, _ = c.Push(entry{tx: "0xcc", index: i})
	}

	got, ok := c.FindFirst(func(e entry) bool { return e.index%2 == 0 })
	require.True(t, ok)
	assert.Equal(t, 4, got.index)

	_, ok = c.FindFirst(func(e entry) bool { return e.index > 10 })
	assert.False(t, ok)
}

func TestSnapshotIsACopy(t *testing.T) {
	c := newEntryCache(t, 3)
	_, _ = c.Push(entry{tx: "x"})
	snap := c.Snapshot()
	snap[0].tx = "mutated"
	assert.Equal(t, "x", c.Snapshot()[0].tx)
}

func TestRemoveKeepsOrder(t *testing.T) {
	c := newEntryCache(t, 4, WithStrict(true))
	for i := 0; i < 6; i++ {
		_, _ = c.Push(entry{tx: "r", index: i})
	}

	assert.True(t, c.Remove("r:3"))
	assert.False(t, c.Remove("r:3"))
	assert.False(t, c.Remove("r:0"))

	snap := c.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []int{5, 4, 2}, []int{snap[0].index, snap[1].index, snap[2].index})

	_, err := c.Push(entry{tx: "r", index: 6})
	require.NoError(t, err)
	_, err = c.Push(entry{tx: "r", index: 7})
	require.NoError(t, err)
	snap = c.Snapshot()
	assert.Equal(t, []int{7, 6, 5, 4}, []int{snap[0].index, snap[1].index, snap[2].index, snap[3].index})
}

func TestNewRejectsBadCapacity(t *testing.T) {
	_, err := New(-1, entryKey)
	assert.ErrorIs(t, err, ErrInvariant)
	_, err = New(0, entryKey)
	assert.ErrorIs(t, err, ErrInvariant)
	_, err = New[entry](3, nil)
	assert.ErrorIs(t, err, ErrInvariant)
}

func TestInvariantViolation(t *testing.T) {
	lenient := newEntryCache(t, 3)
	_, _ = lenient.Push(entry{tx: "a"})
	lenient.size = 2 // corrupt the ring bookkeeping

	_, err := lenient.Push(entry{tx: "b"})
	assert.ErrorIs(t, err, ErrInvariant)
	assert.Equal(t, len(lenient.index), lenient.Len())

	strict := newEntryCache(t, 3, WithStrict(true))
	_, _ = strict.Push(entry{tx: "a"})
	strict.size = 2
	assert.Panics(t, func() { _, _ = strict.Push(entry{tx: "b"}) })
}
