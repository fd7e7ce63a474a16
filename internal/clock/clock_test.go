package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVirtualAfterFiresOnAdvance(t *testing.T) {
	start := time.Unix(0, 0)
	v := NewVirtual(start, nil)

	ch := v.After(5 * time.Second)

	select {
	case <-ch:
		t.Fatal("fired before advance")
	default:
	}

	v.Advance(3 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired before deadline")
	default:
	}

	v.Advance(2 * time.Second)
	select {
	case got := <-ch:
		require.Equal(t, start.Add(5*time.Second), got)
	default:
		t.Fatal("did not fire at deadline")
	}
}

func TestVirtualAfterZeroOrNegativeFiresImmediately(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0), nil)
	ch := v.After(0)
	select {
	case <-ch:
	default:
		t.Fatal("zero-duration After should fire immediately")
	}
}

func TestVirtualNowReflectsAdvances(t *testing.T) {
	start := time.Unix(100, 0)
	v := NewVirtual(start, nil)
	v.Advance(10 * time.Second)
	require.Equal(t, start.Add(10*time.Second), v.Now())
}

func TestVirtualTimerFiresOnAdvance(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0), nil)
	timer := v.NewTimer(time.Second)

	v.Advance(time.Second)
	select {
	case <-timer.C():
	default:
		t.Fatal("timer did not fire")
	}
}

func TestWallSatisfiesClock(t *testing.T) {
	var c Clock = Wall{}
	require.WithinDuration(t, time.Now(), c.Now(), time.Second)

	select {
	case <-c.After(time.Millisecond):
	case <-time.After(time.Second):
		t.Fatal("Wall.After never fired")
	}
}
