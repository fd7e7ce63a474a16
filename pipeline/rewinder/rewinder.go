// Package rewinder buffers recently pulled encoded audio so a codec's
// recognise attempt can be replayed verbatim if the codec declines the
// stream (spec.md §4.4, grounded on OpenHome/Media/Rewinder.cpp).
package rewinder

import (
	"sync"

	"playpipe/pipeline"
)

// Rewinder sits between the encoded reservoir it pulls from and the codec
// controller. While
// buffering is active it transparently clones every message it forwards
// into a side queue; Rewind() replays that queue before resuming the
// upstream pull, and Stop() discards it. Buffering nests (a codec may
// itself call another codec's recognise), so it is a counter, not a bool.
type Rewinder struct {
	factory  *pipeline.Factory
	upstream pipeline.Puller
	registry *pipeline.HandlerRegistry

	mu        sync.Mutex
	buffering int
	current   []pipeline.Msg
	next      []pipeline.Msg

	streamHandler pipeline.HandlerRef
	selfRef       pipeline.HandlerRef
}

// New wraps upstream. registry is the shared HandlerRegistry the
// Rewinder registers itself into, so it can interpose itself as the
// stream handler for EncodedStream messages while buffering.
func New(factory *pipeline.Factory, upstream pipeline.Puller, registry *pipeline.HandlerRegistry) *Rewinder {
	r := &Rewinder{factory: factory, upstream: upstream, registry: registry}
	return r
}

// Pull returns the next message: from the replay queue first if
// non-empty, otherwise from upstream (with buffering side-effects
// applied via the visitor below).
func (r *Rewinder) Pull() pipeline.Msg {
	for {
		r.mu.Lock()
		if len(r.current) > 0 {
			m := r.current[0]
			r.current = r.current[1:]
			r.tryBufferLocked(m)
			r.mu.Unlock()
			return m
		}
		r.mu.Unlock()

		m := r.upstream.Pull()
		if m == nil {
			return nil
		}
		r.mu.Lock()
		out := m.Dispatch(&dispatcher{r: r})
		r.mu.Unlock()
		if out != nil {
			return out
		}
	}
}

// tryBufferLocked clones m into the next-replay queue if buffering is
// active. Caller holds r.mu.
func (r *Rewinder) tryBufferLocked(m pipeline.Msg) {
	if r.buffering <= 0 {
		return
	}
	r.next = append(r.next, cloneLocked(m, r.factory))
}

func cloneLocked(m pipeline.Msg, f *pipeline.Factory) pipeline.Msg {
	if enc, ok := m.(*pipeline.MsgAudioEncoded); ok {
		return enc.Clone(f)
	}
	m.AddRef()
	return m
}

// Rewind replays everything forwarded since buffering began: the next
// queue is spliced in front of current, ready to be redelivered on the
// following Pull calls (spec.md §4.4 "recognise declines: the bytes it
// consumed are replayed").
func (r *Rewinder) Rewind() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = append(r.current, r.next...)
	r.next = nil
}

// Stop ends one level of buffering and discards anything queued for
// replay at that level (the codec accepted the stream, replay is moot).
func (r *Rewinder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.next {
		m.RemoveRef()
	}
	r.next = nil
	r.buffering--
}

// Buffer begins one level of buffering (a recognise attempt about to
// consume bytes that must be replayable).
func (r *Rewinder) Buffer() {
	r.mu.Lock()
	r.buffering++
	r.mu.Unlock()
}

// ---- stream handler forwarding: the Rewinder interposes itself while
// buffering is active so downstream OkToPlay/TrySeek/TryStop calls still
// reach the real handler (spec.md §4.4).

func (r *Rewinder) OkToPlay(streamID uint32) pipeline.OkToPlayResult {
	r.mu.Lock()
	ref := r.streamHandler
	r.mu.Unlock()
	h, ok := r.registry.Resolve(ref)
	if !ok {
		return pipeline.OkToPlayLater
	}
	return h.OkToPlay(streamID)
}

func (r *Rewinder) TrySeek(streamID uint32, byteOffset int64) (uint32, bool) {
	r.mu.Lock()
	ref := r.streamHandler
	r.mu.Unlock()
	h, ok := r.registry.Resolve(ref)
	if !ok {
		return 0, false
	}
	return h.TrySeek(streamID, byteOffset)
}

func (r *Rewinder) TryStop(streamID uint32) (uint32, bool) {
	r.mu.Lock()
	ref := r.streamHandler
	r.mu.Unlock()
	h, ok := r.registry.Resolve(ref)
	if !ok {
		return 0, false
	}
	return h.TryStop(streamID)
}

func (r *Rewinder) NotifyStarving(mode string, streamID uint32, starving bool) {
	r.mu.Lock()
	ref := r.streamHandler
	r.mu.Unlock()
	if h, ok := r.registry.Resolve(ref); ok {
		h.NotifyStarving(mode, streamID, starving)
	}
}

// dispatcher is the Rewinder's Processor: it replaces an EncodedStream's
// handler with the Rewinder itself (so seeks/stops are interceptable
// during buffering) and leaves every other variant untouched.
type dispatcher struct {
	pipeline.BaseProcessor
	r *Rewinder
}

func (d *dispatcher) ProcessTrack(m *pipeline.MsgTrack) pipeline.Msg {
	d.r.tryBufferLocked(m)
	return m
}

func (d *dispatcher) ProcessEncodedStream(m *pipeline.MsgEncodedStream) pipeline.Msg {
	d.r.streamHandler = m.Handler
	if d.r.selfRef.Valid() {
		d.r.registry.Unregister(d.r.selfRef)
	}
	d.r.selfRef = d.r.registry.Register(d.r)
	replaced := d.r.factory.NewEncodedStream(m.URI, m.Metadata, m.Seekable, m.Live, d.r.selfRef)
	replaced.StreamID = m.StreamID
	m.RemoveRef()
	d.r.buffering++
	d.r.tryBufferLocked(replaced)
	return replaced
}

func (d *dispatcher) ProcessAudioEncoded(m *pipeline.MsgAudioEncoded) pipeline.Msg {
	d.r.tryBufferLocked(m)
	return m
}

func (d *dispatcher) ProcessMetaText(m *pipeline.MsgMetaText) pipeline.Msg { return m }
func (d *dispatcher) ProcessHalt(m *pipeline.MsgHalt) pipeline.Msg         { return m }
func (d *dispatcher) ProcessFlush(m *pipeline.MsgFlush) pipeline.Msg       { return m }
func (d *dispatcher) ProcessQuit(m *pipeline.MsgQuit) pipeline.Msg         { return m }
