package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testCell struct {
	pool    *Pool[*testCell]
	cleared bool
}

func (c *testCell) clear() {
	c.cleared = true
	c.pool.release(c)
}

func newTestPool(capacity uint) *Pool[*testCell] {
	p := NewPool("test", capacity, 0, func() *testCell { return &testCell{} })
	for _, c := range p.free {
		c.pool = p
	}
	return p
}

func TestPoolUsedPlusFreeEqualsCapacity(t *testing.T) {
	p := newTestPool(4)
	require.Equal(t, uint(4), p.Stats().CellsTotal)
	require.Equal(t, uint(0), p.Stats().CellsUsed)

	c := p.Allocate()
	stats := p.Stats()
	require.Equal(t, uint(1), stats.CellsUsed)
	require.Equal(t, uint(1), stats.CellsUsedPeak)

	c.clear()
	stats = p.Stats()
	require.Equal(t, uint(0), stats.CellsUsed)
	require.True(t, c.cleared)
}

func TestPoolPeakUsedNeverExceedsCapacity(t *testing.T) {
	p := newTestPool(2)
	a := p.Allocate()
	b := p.Allocate()
	require.Equal(t, uint(2), p.Stats().CellsUsedPeak)
	a.clear()
	b.clear()
	require.Equal(t, uint(2), p.Stats().CellsUsedPeak)
	require.LessOrEqual(t, p.Stats().CellsUsedPeak, p.Stats().CellsTotal)
}

func TestPoolAllocateBlocksWhenExhausted(t *testing.T) {
	p := newTestPool(1)
	a := p.Allocate()

	done := make(chan *testCell)
	go func() {
		done <- p.Allocate()
	}()

	select {
	case <-done:
		t.Fatal("allocate should have blocked with pool exhausted")
	case <-time.After(30 * time.Millisecond):
	}

	a.clear()
	select {
	case b := <-done:
		require.NotNil(t, b)
	case <-time.After(time.Second):
		t.Fatal("allocate never unblocked after release")
	}
}

func TestPoolConcurrentAllocateRelease(t *testing.T) {
	p := newTestPool(8)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := p.Allocate()
			time.Sleep(time.Millisecond)
			c.clear()
		}()
	}
	wg.Wait()
	require.Equal(t, uint(0), p.Stats().CellsUsed)
}
