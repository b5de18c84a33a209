package engine

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, count, size int) (*Pool, *fakeBufRing) {
	t.Helper()
	bufs := newFakeBufRing(count)
	pool, err := NewPool(make([]byte, count*size), count, size, bufs)
	require.NoError(t, err)
	pool.ProvideAll()
	return pool, bufs
}

func TestNewPoolRejects(t *testing.T) {
	tests := []struct {
		name        string
		mem         int
		count, size int
	}{
		{"zero entries", 64, 0, 8},
		{"not a power of two", 48, 6, 8},
		{"too many entries", 1 << 16, maxPoolEntries * 2, 1},
		{"zero size", 64, 8, 0},
		{"short region", 63, 8, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPool(make([]byte, tt.mem), tt.count, tt.size, newFakeBufRing(8))
			assert.Error(t, err)
		})
	}
}

func TestPoolProvidesEverythingOnce(t *testing.T) {
	pool, bufs := newTestPool(t, 8, 16)
	assert.Equal(t, 8, pool.Len())
	assert.Equal(t, 8, pool.Available())
	assert.Equal(t, 8, bufs.kernelOwned())
	assert.Empty(t, bufs.violations)

	seen := map[uint16]bool{}
	for i := 0; i < 8; i++ {
		id, buf, ok := bufs.take()
		require.True(t, ok)
		assert.Len(t, buf, 16)
		assert.False(t, seen[id])
		seen[id] = true
	}
	_, _, ok := bufs.take()
	assert.False(t, ok)
}

func TestPoolCheckoutRelease(t *testing.T) {
	pool, bufs := newTestPool(t, 4, 8)
	id, _, _ := bufs.take()

	slot, err := pool.Checkout(id)
	require.NoError(t, err)
	assert.Equal(t, id, slot.ID())
	assert.Equal(t, 1, pool.Borrowed())

	_, err = pool.Checkout(id)
	assert.ErrorIs(t, err, ErrSlotBorrowed)
	_, err = pool.Checkout(4)
	assert.ErrorIs(t, err, ErrSlotRange)

	b, err := pool.Bytes(slot, 5)
	require.NoError(t, err)
	assert.Len(t, b, 5)
	_, err = pool.Bytes(slot, 9)
	assert.ErrorIs(t, err, ErrSlotRange)

	require.NoError(t, pool.Release(slot))
	assert.Zero(t, pool.Borrowed())
	assert.ErrorIs(t, pool.Release(slot), ErrStaleSlot)
	_, err = pool.Bytes(slot, 1)
	assert.ErrorIs(t, err, ErrStaleSlot)
	assert.ErrorIs(t, pool.Release(Slot{}), ErrStaleSlot)
	assert.Empty(t, bufs.violations)
}

func TestPoolSlotFromEarlierBorrow(t *testing.T) {
	pool, bufs := newTestPool(t, 1, 8)
	id, _, _ := bufs.take()
	old, err := pool.Checkout(id)
	require.NoError(t, err)
	require.NoError(t, pool.Release(old))

	id, _, _ = bufs.take()
	cur, err := pool.Checkout(id)
	require.NoError(t, err)
	assert.ErrorIs(t, pool.Release(old), ErrStaleSlot, "an old slot cannot release the new borrow")
	require.NoError(t, pool.Release(cur))
}

// Random interleavings of kernel selection and release never hand a buffer
// to two owners and never lose one.
func TestPoolSingleBorrower(t *testing.T) {
	const count = 16
	pool, bufs := newTestPool(t, count, 4)
	rng := rand.New(rand.NewSource(1))
	var held []Slot

	for i := 0; i < 5000; i++ {
		if rng.Intn(2) == 0 {
			id, _, ok := bufs.take()
			if !ok {
				require.Equal(t, count, len(held))
				continue
			}
			slot, err := pool.Checkout(id)
			require.NoError(t, err)
			held = append(held, slot)
		} else if len(held) > 0 {
			j := rng.Intn(len(held))
			require.NoError(t, pool.Release(held[j]))
			held = append(held[:j], held[j+1:]...)
		}
		require.Equal(t, len(held), pool.Borrowed())
		require.Equal(t, count, pool.Borrowed()+pool.Available())
		require.Equal(t, pool.Available(), bufs.kernelOwned())
	}
	require.Empty(t, bufs.violations)
}
