// Package reservoir implements the pipeline's elastic, producer/consumer
// buffer element (spec.md §4.3, §4.7): a bounded FIFO with one producer
// thread and one consumer thread, flow-controlled by byte/jiffy ceilings,
// that forwards the upstream stream-handler interface and serves seeks
// from its own buffered bytes where possible.
package reservoir

import (
	"errors"
	"sync"

	"playpipe/pipeline"
	"playpipe/pipeline/clockpuller"
)

// Sizer computes how much of the reservoir's byte and jiffy budgets a
// message consumes. Encoded reservoirs size by bytes; decoded reservoirs
// size by jiffies (spec.md §4.3 vs §4.7).
type Sizer func(pipeline.Msg) (bytes int, jiffies int64)

// Config bounds a reservoir instance (spec.md §6 "Configuration").
type Config struct {
	MaxBytes   int   // 0 = unbounded
	MaxJiffies int64 // 0 = unbounded
	MaxStreams int   // 0 = unbounded
	// Encoded marks this reservoir as operating in byte-addressable mode,
	// enabling TrySeek's local fast paths (spec.md §4.3). Decoded
	// reservoirs leave this false and always forward seeks.
	Encoded bool
	// HistoryBytes bounds how much already-consumed encoded data is kept
	// around to serve a fast backward seek.
	HistoryBytes int

	// ClockPuller and SamplePeriodJiffies wire the decoded side's clock-pull
	// hook (spec.md §4.7). Left nil/zero, a reservoir never clock-pulls;
	// only the decoded reservoir is configured with these in practice.
	ClockPuller        clockpuller.ClockPuller
	SamplePeriodJiffies int64
}

// Reservoir is the generic elastic buffer shared by the encoded and
// decoded stages.
type Reservoir struct {
	name     string
	cfg      Config
	sizer    Sizer
	factory  *pipeline.Factory
	registry *pipeline.HandlerRegistry

	mu   sync.Mutex
	cond *sync.Cond
	q    []pipeline.Msg

	bytes           int
	jiffies         int64
	streamsInFlight int
	closed          bool

	currentHandler  pipeline.HandlerRef
	currentStreamID uint32

	// Encoded-seek bookkeeping: streamByteOffset is how many bytes of the
	// current stream have already been pulled out of this reservoir;
	// history retains the most recently pulled AudioEncoded messages (up
	// to HistoryBytes) so a seek just behind the read cursor can be
	// served without involving the upstream handler.
	streamByteOffset int
	history          []*pipeline.MsgAudioEncoded
	historyBytes     int

	// clock-pull bookkeeping (spec.md §4.7): pendingClockPull latches the
	// most recent MsgMode's request, applied at the next DecodedStream;
	// active/consumedSincePeriod track the running estimation window.
	pendingClockPull    bool
	clockPullActive     bool
	consumedSincePeriod int64
}

// New builds a reservoir. sizer must be supplied by the caller (see
// ByteSizer/JiffySizer below) to match the variant this instance buffers.
func New(name string, cfg Config, sizer Sizer, factory *pipeline.Factory, registry *pipeline.HandlerRegistry) *Reservoir {
	r := &Reservoir{name: name, cfg: cfg, sizer: sizer, factory: factory, registry: registry}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// ByteSizer sizes MsgAudioEncoded by its byte length; everything else is
// zero-sized (markers don't consume the budget), for use by an encoded
// reservoir.
func ByteSizer(m pipeline.Msg) (int, int64) {
	if enc, ok := m.(*pipeline.MsgAudioEncoded); ok {
		return enc.Len(), 0
	}
	return 0, 0
}

// JiffySizer sizes AudioMsg variants (AudioPcm/Silence) by their jiffy
// length, for use by a decoded reservoir.
func JiffySizer(m pipeline.Msg) (int, int64) {
	if am, ok := m.(pipeline.AudioMsg); ok {
		return 0, am.Jiffies()
	}
	return 0, 0
}

func isStreamStart(m pipeline.Msg) (handler pipeline.HandlerRef, streamID uint32, ok bool) {
	switch v := m.(type) {
	case *pipeline.MsgEncodedStream:
		return v.Handler, v.StreamID, true
	case *pipeline.MsgDecodedStream:
		return v.Handler, v.StreamID, true
	default:
		return pipeline.HandlerRef{}, 0, false
	}
}

// Push enqueues a message, blocking while the reservoir is at its byte,
// jiffy, or concurrent-stream ceiling (spec.md §4.3 "Producer blocks...").
// A consumer-side Pull unblocks it. Push never blocks past Close.
func (r *Reservoir) Push(m pipeline.Msg) {
	b, j := r.sizer(m)
	handler, streamID, starts := isStreamStart(m)

	r.mu.Lock()
	for !r.closed {
		overBytes := r.cfg.MaxBytes > 0 && r.bytes+b > r.cfg.MaxBytes
		overJiffies := r.cfg.MaxJiffies > 0 && r.jiffies+j > r.cfg.MaxJiffies
		overStreams := starts && r.cfg.MaxStreams > 0 && r.streamsInFlight >= r.cfg.MaxStreams
		if !overBytes && !overJiffies && !overStreams {
			break
		}
		r.cond.Wait()
	}
	if r.closed {
		r.mu.Unlock()
		m.RemoveRef()
		return
	}
	if starts {
		r.streamsInFlight++
		r.currentHandler = handler
		r.currentStreamID = streamID
		// A new EncodedStream/DecodedStream cancels any seek in flight
		// and resets the byte-addressable cursor for the new stream
		// (spec.md §4.3 "A pending seek is cancelled when a new
		// EncodedStream arrives").
		r.streamByteOffset = 0
		r.dropHistoryLocked()
	}
	r.q = append(r.q, m)
	r.bytes += b
	r.jiffies += j
	r.mu.Unlock()
	r.cond.Broadcast()
}

// Pull dequeues the next message, blocking while empty. Returns nil only
// once Close has been called and the queue has drained.
func (r *Reservoir) Pull() pipeline.Msg {
	r.mu.Lock()
	for len(r.q) == 0 && !r.closed {
		r.cond.Wait()
	}
	if len(r.q) == 0 {
		r.mu.Unlock()
		return nil
	}
	m := r.q[0]
	r.q = r.q[1:]
	b, j := r.sizer(m)
	r.bytes -= b
	r.jiffies -= j
	if _, _, starts := isStreamStart(m); starts {
		r.streamsInFlight--
	}
	if r.cfg.Encoded {
		if enc, ok := m.(*pipeline.MsgAudioEncoded); ok {
			r.streamByteOffset += enc.Len()
			r.rememberLocked(enc)
		}
	}
	r.applyClockPullLocked(m)
	r.mu.Unlock()
	r.cond.Broadcast()
	return m
}

// applyClockPullLocked drives the decoded side's clock-pull hook as
// messages are consumed (spec.md §4.7): a Mode requesting clock pull
// arms it, the next DecodedStream starts (or resets, on stream turnover
// under the same still-armed mode) it, Halt/Drain stop it, and every
// kSamplePeriod jiffies of audio consumed while active reports the
// reservoir's current fill level. A no-op when this reservoir wasn't
// configured with a ClockPuller (the encoded side never is).
func (r *Reservoir) applyClockPullLocked(m pipeline.Msg) {
	if r.cfg.ClockPuller == nil {
		return
	}
	switch mm := m.(type) {
	case *pipeline.MsgMode:
		r.pendingClockPull = mm.ClockPull
	case *pipeline.MsgDecodedStream:
		switch {
		case r.pendingClockPull && r.clockPullActive:
			r.cfg.ClockPuller.Reset()
			r.consumedSincePeriod = 0
		case r.pendingClockPull:
			r.cfg.ClockPuller.Start(r.cfg.MaxJiffies)
			r.clockPullActive = true
			r.consumedSincePeriod = 0
		case r.clockPullActive:
			r.cfg.ClockPuller.Stop()
			r.clockPullActive = false
		}
	case *pipeline.MsgHalt:
		if r.clockPullActive {
			r.cfg.ClockPuller.Stop()
			r.clockPullActive = false
		}
	case *pipeline.MsgDrain:
		if r.clockPullActive {
			r.cfg.ClockPuller.Stop()
			r.clockPullActive = false
		}
	default:
		am, ok := m.(pipeline.AudioMsg)
		if !ok || !r.clockPullActive || r.cfg.SamplePeriodJiffies <= 0 {
			return
		}
		r.consumedSincePeriod += am.Jiffies()
		for r.consumedSincePeriod >= r.cfg.SamplePeriodJiffies {
			r.consumedSincePeriod -= r.cfg.SamplePeriodJiffies
			r.cfg.ClockPuller.NotifySize(r.jiffies)
		}
	}
}

// Close unblocks any blocked Push/Pull; queued messages are released.
func (r *Reservoir) Close() {
	r.mu.Lock()
	r.closed = true
	for _, m := range r.q {
		m.RemoveRef()
	}
	r.q = nil
	r.dropHistoryLocked()
	r.mu.Unlock()
	r.cond.Broadcast()
}

// Stats mirrors spec.md §4.1's pool telemetry for the reservoir's own
// fill level.
type Stats struct {
	Bytes           int
	Jiffies         int64
	StreamsInFlight int
	QueueDepth      int
}

func (r *Reservoir) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{Bytes: r.bytes, Jiffies: r.jiffies, StreamsInFlight: r.streamsInFlight, QueueDepth: len(r.q)}
}

// ---- stream-handler forwarding (spec.md §4.3) ----

func (r *Reservoir) currentHandlerLocked() (pipeline.StreamHandler, uint32, bool) {
	h, ok := r.registry.Resolve(r.currentHandler)
	return h, r.currentStreamID, ok
}

func (r *Reservoir) OkToPlay(streamID uint32) pipeline.OkToPlayResult {
	r.mu.Lock()
	h, _, ok := r.currentHandlerLocked()
	r.mu.Unlock()
	if !ok {
		return pipeline.OkToPlayLater
	}
	return h.OkToPlay(streamID)
}

func (r *Reservoir) NotifyStarving(mode string, streamID uint32, starving bool) {
	r.mu.Lock()
	h, _, ok := r.currentHandlerLocked()
	r.mu.Unlock()
	if ok {
		h.NotifyStarving(mode, streamID, starving)
	}
}

// TryStop always forwards to the current stream's handler: stopping is
// never served locally from the buffer (only seeks are).
func (r *Reservoir) TryStop() (flushID uint32, err error) {
	r.mu.Lock()
	h, streamID, ok := r.currentHandlerLocked()
	r.mu.Unlock()
	if !ok {
		return 0, errors.New("reservoir: no live stream handler")
	}
	id, ok := h.TryStop(streamID)
	if !ok {
		return 0, errors.New("reservoir: handler declined stop")
	}
	return id, nil
}

// TrySeek implements spec.md §4.3's three-way seek split: a target inside
// the retained backward-history window or the still-pending forward
// buffer is served locally (fast, no handler call); anything else is
// forwarded to the wrapped handler.
func (r *Reservoir) TrySeek(byteOffset int) (flushID uint32, err error) {
	if !r.cfg.Encoded {
		return r.forwardSeek(byteOffset)
	}

	r.mu.Lock()
	consumed := r.streamByteOffset
	ahead := r.bytes
	switch {
	case byteOffset < consumed && byteOffset >= consumed-r.historyBytes:
		id := r.factory.NextFlushID()
		r.spliceFromHistoryLocked(byteOffset)
		r.q = append([]pipeline.Msg{r.factory.NewFlush(id)}, r.q...)
		r.mu.Unlock()
		r.cond.Broadcast()
		return id, nil
	case byteOffset >= consumed && byteOffset < consumed+ahead:
		id := r.factory.NextFlushID()
		r.trimPendingToLocked(byteOffset)
		r.q = append([]pipeline.Msg{r.factory.NewFlush(id)}, r.q...)
		r.mu.Unlock()
		r.cond.Broadcast()
		return id, nil
	default:
		r.mu.Unlock()
		return r.forwardSeek(byteOffset)
	}
}

func (r *Reservoir) forwardSeek(byteOffset int) (uint32, error) {
	r.mu.Lock()
	h, streamID, ok := r.currentHandlerLocked()
	r.mu.Unlock()
	if !ok {
		return 0, errors.New("reservoir: no live stream handler")
	}
	id, ok := h.TrySeek(streamID, int64(byteOffset))
	if !ok {
		return 0, errors.New("reservoir: handler declined seek")
	}
	return id, nil
}

// ---- backward-history bookkeeping (caller holds r.mu) ----

func (r *Reservoir) rememberLocked(enc *pipeline.MsgAudioEncoded) {
	if r.cfg.HistoryBytes <= 0 {
		return
	}
	enc.AddRef()
	r.history = append(r.history, enc)
	r.historyBytes += enc.Len()
	for r.historyBytes > r.cfg.HistoryBytes && len(r.history) > 0 {
		oldest := r.history[0]
		r.history = r.history[1:]
		r.historyBytes -= oldest.Len()
		oldest.RemoveRef()
	}
}

func (r *Reservoir) dropHistoryLocked() {
	for _, h := range r.history {
		h.RemoveRef()
	}
	r.history = nil
	r.historyBytes = 0
}

// spliceFromHistoryLocked moves retained history covering [target,
// consumed) back to the front of the pending queue and rewinds the
// read-cursor bookkeeping to target.
func (r *Reservoir) spliceFromHistoryLocked(target int) {
	var replay []pipeline.Msg
	replayBytes := 0
	consumed := r.streamByteOffset
	cut := len(r.history) // history entries from cut onward are consumed by this splice
	for i := len(r.history) - 1; i >= 0 && consumed > target; i-- {
		h := r.history[i]
		segStart := consumed - h.Len()
		if segStart < target {
			// Only part of this message is needed: split off its tail
			// (from target onward) to replay, leave the head portion
			// (still valid history, it precedes target) in place.
			skip := target - segStart
			tail, err := h.Split(skip, r.factory)
			if err == nil {
				replay = append([]pipeline.Msg{tail}, replay...)
				replayBytes += tail.Len()
				r.historyBytes -= tail.Len()
				cut = i + 1 // h itself (now shrunk to the head) stays in history
			} else {
				h.AddRef()
				replay = append([]pipeline.Msg{h}, replay...)
				replayBytes += h.Len()
				r.historyBytes -= h.Len()
				cut = i
			}
			consumed = segStart
			break
		}
		h.AddRef() // moves ownership into the replayed queue
		replay = append([]pipeline.Msg{h}, replay...)
		replayBytes += h.Len()
		r.historyBytes -= h.Len()
		cut = i
		consumed = segStart
	}
	for _, h := range r.history[cut:] {
		h.RemoveRef()
	}
	r.history = r.history[:cut:cut]
	r.q = append(replay, r.q...)
	r.streamByteOffset = target
	r.bytes += replayBytes
}

// trimPendingToLocked discards/splits queued AudioEncoded messages so the
// next Pull returns data starting at byte offset `target` of the current
// stream (target is known to be >= consumed and < consumed+ahead).
func (r *Reservoir) trimPendingToLocked(target int) {
	pos := r.streamByteOffset
	out := r.q[:0:0]
	i := 0
	for ; i < len(r.q); i++ {
		enc, ok := r.q[i].(*pipeline.MsgAudioEncoded)
		if !ok {
			out = append(out, r.q[i])
			continue
		}
		segEnd := pos + enc.Len()
		if segEnd <= target {
			r.bytes -= enc.Len()
			enc.RemoveRef()
			pos = segEnd
			continue
		}
		if pos < target {
			skip := target - pos
			tail, err := enc.Split(skip, r.factory)
			if err == nil {
				r.bytes -= skip
				enc.RemoveRef()
				out = append(out, tail)
			} else {
				out = append(out, enc)
			}
		} else {
			out = append(out, enc)
		}
		pos = segEnd
		i++
		break
	}
	out = append(out, r.q[i:]...)
	r.q = out
	r.streamByteOffset = target
}
