// Package observer implements the pipeline's observer-facing notifications
// (spec.md §6 "Pipeline observer") and the single-threaded, serialized
// dispatch thread spec.md §5 requires: "all observer notifications are
// dispatched here (never from audio threads) to prevent audio-thread
// priority inversion."
package observer

import (
	"context"
	"log/slog"
	"sync"

	"playpipe/pipeline"
)

// State is the playback state reported to observers (spec.md §6
// "notify_state").
type State int

const (
	Playing State = iota
	Paused
	Buffering
	Waiting
	Stopped
)

func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Buffering:
		return "buffering"
	case Waiting:
		return "waiting"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// StreamInfo mirrors the fields of MsgDecodedStream an observer cares
// about, without the message's pooling/refcounting machinery (spec.md §6
// "notify_stream_info(decoded_stream_info)").
type StreamInfo struct {
	Format       pipeline.AudioFormat
	CodecName    string
	TotalSamples int64
	StartSample  int64
	Lossless     bool
	Seekable     bool
	Live         bool
	StreamID     uint32
}

// Observer is the external collaborator the dispatch thread calls into,
// one notification at a time and always from the same goroutine (spec.md
// §6).
type Observer interface {
	NotifyState(state State)
	NotifyTrack(track pipeline.Track, mode string, pipelineID uint32)
	NotifyMetatext(text string)
	NotifyTime(secs, durationSecs int64)
	NotifyStreamInfo(info StreamInfo)
}

// Dispatcher wraps a target Observer with a bounded queue drained by a
// single dedicated goroutine, so any pipeline thread can notify without
// blocking on (or running inside) observer code. Its own methods
// implement Observer, making it a drop-in stand-in for the real target
// wherever pipeline elements hold an Observer reference.
type Dispatcher struct {
	target Observer
	log    *slog.Logger

	queue  chan func(Observer)
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher starts the dispatch goroutine. queueDepth bounds how many
// notifications may be pending before Notify* calls block; 0 uses a small
// default (notifications are infrequent compared to audio).
func NewDispatcher(target Observer, queueDepth int, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if queueDepth <= 0 {
		queueDepth = 32
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		target: target,
		log:    log,
		queue:  make(chan func(Observer), queueDepth),
		ctx:    ctx,
		cancel: cancel,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case fn := <-d.queue:
			fn(d.target)
		case <-d.ctx.Done():
			d.drain()
			return
		}
	}
}

// drain delivers whatever was already queued before Close was called:
// observers must see ordered transitions through to Stopped, never a
// notification silently dropped mid-sequence (spec.md §7 "Observers
// always see ordered... transitions, never raw error objects").
func (d *Dispatcher) drain() {
	for {
		select {
		case fn := <-d.queue:
			fn(d.target)
		default:
			return
		}
	}
}

func (d *Dispatcher) enqueue(fn func(Observer)) {
	if d.ctx.Err() != nil {
		d.log.Warn("observer: notification dropped after close")
		return
	}
	select {
	case d.queue <- fn:
	case <-d.ctx.Done():
		d.log.Warn("observer: notification dropped after close")
	}
}

func (d *Dispatcher) NotifyState(state State) {
	d.enqueue(func(o Observer) { o.NotifyState(state) })
}

func (d *Dispatcher) NotifyTrack(track pipeline.Track, mode string, pipelineID uint32) {
	d.enqueue(func(o Observer) { o.NotifyTrack(track, mode, pipelineID) })
}

func (d *Dispatcher) NotifyMetatext(text string) {
	d.enqueue(func(o Observer) { o.NotifyMetatext(text) })
}

func (d *Dispatcher) NotifyTime(secs, durationSecs int64) {
	d.enqueue(func(o Observer) { o.NotifyTime(secs, durationSecs) })
}

func (d *Dispatcher) NotifyStreamInfo(info StreamInfo) {
	d.enqueue(func(o Observer) { o.NotifyStreamInfo(info) })
}

// Close stops accepting new notifications, delivers whatever was already
// queued, and waits for the dispatch goroutine to exit.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}

var _ Observer = (*Dispatcher)(nil)
