package observer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"playpipe/pipeline"
)

// recordingObserver captures notifications in arrival order, with a
// mutex since it is read by the test goroutine while the dispatcher's own
// goroutine is writing.
type recordingObserver struct {
	mu     sync.Mutex
	states []State
}

func (r *recordingObserver) NotifyState(state State) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
}
func (r *recordingObserver) NotifyTrack(pipeline.Track, string, uint32) {}
func (r *recordingObserver) NotifyMetatext(string)                      {}
func (r *recordingObserver) NotifyTime(int64, int64)                    {}
func (r *recordingObserver) NotifyStreamInfo(StreamInfo)                {}

func (r *recordingObserver) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.states))
	copy(out, r.states)
	return out
}

// TestNotificationsDeliveredInOrderFromOneGoroutine checks notifications
// issued by one caller land on the target in the order they were issued
// to the dispatcher (spec.md §5 "Observer-callback thread...
// single-threaded, cooperative").
func TestNotificationsDeliveredInOrderFromOneGoroutine(t *testing.T) {
	rec := &recordingObserver{}
	d := NewDispatcher(rec, 8, nil)
	defer d.Close()

	d.NotifyState(Playing)
	d.NotifyState(Buffering)
	d.NotifyState(Playing)
	d.NotifyState(Stopped)

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 4
	}, time.Second, time.Millisecond)

	require.Equal(t, []State{Playing, Buffering, Playing, Stopped}, rec.snapshot())
}

// TestCloseDrainsAlreadyQueuedNotifications verifies Close doesn't
// discard notifications enqueued before it was called.
func TestCloseDrainsAlreadyQueuedNotifications(t *testing.T) {
	rec := &recordingObserver{}
	d := NewDispatcher(rec, 8, nil)

	for i := 0; i < 5; i++ {
		d.NotifyState(Playing)
	}
	d.Close()

	require.Len(t, rec.snapshot(), 5)
}
