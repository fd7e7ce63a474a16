// Package aggregator coalesces small decoded-audio fragments into larger
// ones up to a byte/jiffy ceiling, so downstream elements see fewer,
// bigger messages (spec.md §4.5, grounded on
// OpenHome/Media/Pipeline/DecodedAudioAggregator.cpp).
package aggregator

import (
	"sync"

	"playpipe/pipeline"
	"playpipe/pipeline/jiffies"
)

// Config bounds how large an aggregated message may grow before it is
// flushed downstream (spec.md §6 "Configuration").
type Config struct {
	MaxBytes   int
	MaxJiffies int64
}

// DefaultConfig matches the original's kMaxBytes (one DecodedAudio cell)
// and kMaxJiffies (200ms).
func DefaultConfig() Config {
	return Config{MaxBytes: 8 * 1024, MaxJiffies: jiffies.PerSecond / 5}
}

// Aggregator is a push-style pipeline element: Push delivers one message
// at a time and the aggregator forwards zero or more messages downstream
// via push. It also impersonates the upstream StreamHandler so
// OkToPlay/TryStop/NotifyStarving keep flowing while the aggregator sits
// in between.
type Aggregator struct {
	factory    *pipeline.Factory
	registry   *pipeline.HandlerRegistry
	downstream func(pipeline.Msg)
	cfg        Config

	mu            sync.Mutex
	streamHandler pipeline.HandlerRef
	selfRef       pipeline.HandlerRef
	streamID      uint32
	pending       *pipeline.MsgAudioPcm
	expectedFlush uint32
	format        pipeline.AudioFormat
}

// New builds an aggregator. downstream delivers a forwarded/aggregated
// message to the next element.
func New(factory *pipeline.Factory, registry *pipeline.HandlerRegistry, cfg Config, downstream func(pipeline.Msg)) *Aggregator {
	a := &Aggregator{factory: factory, registry: registry, downstream: downstream, cfg: cfg, expectedFlush: pipeline.InvalidID}
	a.selfRef = registry.Register(a)
	return a
}

// Push processes one upstream message, forwarding it (and any pending
// aggregated audio it must flush first) downstream.
func (a *Aggregator) Push(m pipeline.Msg) {
	out := m.Dispatch(&visitor{a: a})
	if out != nil {
		a.downstream(out)
	}
}

func (a *Aggregator) OkToPlay(streamID uint32) pipeline.OkToPlayResult {
	a.mu.Lock()
	ref := a.streamHandler
	a.mu.Unlock()
	h, ok := a.registry.Resolve(ref)
	if !ok {
		return pipeline.OkToPlayLater
	}
	return h.OkToPlay(streamID)
}

// TrySeek is never expected here: seeks are handled upstream of this
// element (spec.md §4.5; mirrors the original's ASSERTS()).
func (a *Aggregator) TrySeek(uint32, int64) (uint32, bool) {
	return 0, false
}

func (a *Aggregator) TryStop(streamID uint32) (uint32, bool) {
	a.mu.Lock()
	ref := a.streamHandler
	a.mu.Unlock()
	h, ok := a.registry.Resolve(ref)
	if !ok {
		return 0, false
	}
	id, ok := h.TryStop(streamID)
	if ok {
		a.mu.Lock()
		a.expectedFlush = id
		a.mu.Unlock()
	}
	return id, ok
}

func (a *Aggregator) NotifyStarving(mode string, streamID uint32, starving bool) {
	a.mu.Lock()
	ref := a.streamHandler
	a.mu.Unlock()
	if h, ok := a.registry.Resolve(ref); ok {
		h.NotifyStarving(mode, streamID, starving)
	}
}

// flushPendingLocked returns any in-progress aggregated message and
// clears it. Caller holds a.mu.
func (a *Aggregator) flushPendingLocked() *pipeline.MsgAudioPcm {
	p := a.pending
	a.pending = nil
	return p
}

func (a *Aggregator) full(bytes int, j int64) bool {
	return bytes >= a.cfg.MaxBytes || j >= a.cfg.MaxJiffies
}

// tryAggregateLocked implements the original's lazy byte-capacity merge:
// accumulate while there's room, emit the accumulated message once full
// or once a message that doesn't fit arrives. Caller holds a.mu.
func (a *Aggregator) tryAggregateLocked(m *pipeline.MsgAudioPcm) *pipeline.MsgAudioPcm {
	msgBytes := len(m.Bytes())
	if a.pending == nil {
		if a.full(msgBytes, m.Jiffies()) {
			return m
		}
		a.pending = m
		return nil
	}

	aggregatedBytes := len(a.pending.Bytes())
	if aggregatedBytes+msgBytes <= a.cfg.MaxBytes {
		if err := a.pending.Add(m); err != nil {
			// Formats diverged unexpectedly: flush what we have and
			// start a fresh run with the new message.
			out := a.pending
			a.pending = m
			return out
		}
		if a.full(len(a.pending.Bytes()), a.pending.Jiffies()) {
			out := a.pending
			a.pending = nil
			return out
		}
		return nil
	}
	out := a.pending
	a.pending = m
	return out
}

// visitor drives the element's per-variant behaviour (most variants
// simply flush any pending audio and pass through, per spec.md §4.5).
type visitor struct {
	pipeline.BaseProcessor
	a *Aggregator
}

func (v *visitor) flushThenPass(m pipeline.Msg) pipeline.Msg {
	v.a.mu.Lock()
	p := v.a.flushPendingLocked()
	v.a.mu.Unlock()
	if p != nil {
		v.a.downstream(p)
	}
	return m
}

func (v *visitor) ProcessMode(m *pipeline.MsgMode) pipeline.Msg   { return v.flushThenPass(m) }
func (v *visitor) ProcessTrack(m *pipeline.MsgTrack) pipeline.Msg { return v.flushThenPass(m) }
func (v *visitor) ProcessDrain(m *pipeline.MsgDrain) pipeline.Msg { return v.flushThenPass(m) }
func (v *visitor) ProcessDelay(m *pipeline.MsgDelay) pipeline.Msg { return v.flushThenPass(m) }
func (v *visitor) ProcessStreamInterrupted(m *pipeline.MsgStreamInterrupted) pipeline.Msg {
	return v.flushThenPass(m)
}
func (v *visitor) ProcessHalt(m *pipeline.MsgHalt) pipeline.Msg       { return v.flushThenPass(m) }
func (v *visitor) ProcessWait(m *pipeline.MsgWait) pipeline.Msg       { return v.flushThenPass(m) }
func (v *visitor) ProcessQuit(m *pipeline.MsgQuit) pipeline.Msg       { return v.flushThenPass(m) }
func (v *visitor) ProcessBitRate(m *pipeline.MsgBitRate) pipeline.Msg { return m }

func (v *visitor) ProcessEncodedStream(m *pipeline.MsgEncodedStream) pipeline.Msg {
	v.a.mu.Lock()
	p := v.a.flushPendingLocked()
	v.a.streamID = m.StreamID
	v.a.streamHandler = m.Handler
	v.a.mu.Unlock()
	if p != nil {
		v.a.downstream(p)
	}
	replaced := v.a.factory.NewEncodedStream(m.URI, m.Metadata, m.Seekable, m.Live, v.a.selfRef)
	replaced.StreamID = m.StreamID
	m.RemoveRef()
	return replaced
}

func (v *visitor) ProcessMetaText(m *pipeline.MsgMetaText) pipeline.Msg {
	v.a.mu.Lock()
	expecting := v.a.expectedFlush != pipeline.InvalidID
	v.a.mu.Unlock()
	if expecting {
		m.RemoveRef()
		return nil
	}
	return m
}

func (v *visitor) ProcessFlush(m *pipeline.MsgFlush) pipeline.Msg {
	v.a.mu.Lock()
	if p := v.a.flushPendingLocked(); p != nil {
		p.RemoveRef()
	}
	if v.a.expectedFlush == m.ID {
		v.a.expectedFlush = pipeline.InvalidID
	}
	v.a.mu.Unlock()
	return m
}

func (v *visitor) ProcessDecodedStream(m *pipeline.MsgDecodedStream) pipeline.Msg {
	v.a.mu.Lock()
	if p := v.a.flushPendingLocked(); p != nil {
		p.RemoveRef()
	}
	v.a.format = m.Format
	v.a.mu.Unlock()
	return m
}

func (v *visitor) ProcessAudioPcm(m *pipeline.MsgAudioPcm) pipeline.Msg {
	v.a.mu.Lock()
	defer v.a.mu.Unlock()
	if v.a.expectedFlush != pipeline.InvalidID {
		m.RemoveRef()
		return nil
	}
	return v.a.tryAggregateLocked(m)
}
