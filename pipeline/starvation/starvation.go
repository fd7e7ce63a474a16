// Package starvation implements the pipeline's last-resort glitch-hider: a
// bounded passthrough buffer that, on underrun, synthesizes a brief
// flywheel-generated ramp-down from recently played audio instead of
// dropping straight to silence, then ramps back up once real audio
// resumes (spec.md §4.9, grounded on
// OpenHome/Media/Pipeline/StarvationRamper.cpp).
package starvation

import (
	"sync"

	"playpipe/pipeline"
	"playpipe/pipeline/ramp"
)

// State mirrors the original's State enum.
type State int

const (
	Halted State = iota
	Starting
	Running
	RampingDown
	RampingUp
)

// Observer is notified whenever the ramper's buffering status flips — the
// signal a UI uses to show a "buffering" spinner (spec.md §4.9).
type Observer interface {
	NotifyBuffering(buffering bool)
}

// Config bounds the ramper's passthrough buffer and ramp durations
// (spec.md §6 "Configuration").
type Config struct {
	MaxJiffies      int64
	MaxStreams      int
	RampDownJiffies int64
	RampUpJiffies   int64
}

type jiffied interface {
	Jiffies() int64
}

// Ramper is a pull-style element. A background goroutine drains upstream
// into a bounded buffer (the real producer/consumer split the original
// runs across two OS threads); Pull drains that buffer and, finding it
// empty, synthesizes a ramp-down rather than stalling silently.
type Ramper struct {
	factory  *pipeline.Factory
	upstream pipeline.Puller
	registry *pipeline.HandlerRegistry
	observer Observer
	cfg      Config

	mu   sync.Mutex
	cond *sync.Cond

	buf       []pipeline.Msg
	jiffies   int64
	streams   int
	closed    bool

	state    State
	mode     string
	streamID uint32
	handler  pipeline.HandlerRef
	format   pipeline.AudioFormat

	starving      bool
	buffering     bool
	pendingRampUp bool
	currentRamp   int32
	remainingRamp int64

	recent        []pipeline.Msg // trailing window of played audio, capped at cfg.RampDownJiffies
	recentJiffies int64

	rampQueue []pipeline.Msg // pending synthesized ramp-down audio + its terminating Halt
}

// New builds a Ramper and starts its background fill goroutine.
func New(factory *pipeline.Factory, upstream pipeline.Puller, registry *pipeline.HandlerRegistry, observer Observer, cfg Config) *Ramper {
	r := &Ramper{
		factory:     factory,
		upstream:    upstream,
		registry:    registry,
		observer:    observer,
		cfg:         cfg,
		state:       Halted,
		streamID:    pipeline.InvalidID,
		currentRamp: ramp.Min,
	}
	r.cond = sync.NewCond(&r.mu)
	go r.fillLoop()
	return r
}

func (r *Ramper) isFullLocked() bool {
	return r.jiffies >= r.cfg.MaxJiffies || (r.cfg.MaxStreams > 0 && r.streams >= r.cfg.MaxStreams)
}

// fillLoop is the original's PullerThread: pull upstream, block once full.
func (r *Ramper) fillLoop() {
	for {
		m := r.upstream.Pull()
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return
		}
		r.enqueueLocked(m)
		for r.isFullLocked() && !r.closed {
			r.cond.Wait()
		}
		r.mu.Unlock()
	}
}

func (r *Ramper) enqueueLocked(m pipeline.Msg) {
	r.buf = append(r.buf, m)
	if j, ok := m.(jiffied); ok {
		r.jiffies += j.Jiffies()
	}
	if _, ok := m.(*pipeline.MsgDecodedStream); ok {
		r.streams++
	}
	r.cond.Broadcast()
}

func (r *Ramper) dequeueLocked() pipeline.Msg {
	m := r.buf[0]
	r.buf = r.buf[1:]
	if j, ok := m.(jiffied); ok {
		r.jiffies -= j.Jiffies()
	}
	if _, ok := m.(*pipeline.MsgDecodedStream); ok {
		r.streams--
	}
	return m
}

func (r *Ramper) setBuffering(b bool) {
	if r.buffering != b {
		r.buffering = b
		if r.observer != nil {
			r.observer.NotifyBuffering(b)
		}
	}
}

// Pull returns the next message, synthesizing a flywheel ramp-down and a
// Halt in place of real audio if the upstream buffer has run dry.
func (r *Ramper) Pull() pipeline.Msg {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.buf) == 0 && len(r.rampQueue) == 0 {
		r.setBuffering(true)
		if r.state == Running || (r.state == RampingUp && r.currentRamp != ramp.Min) {
			r.startFlywheelRampLocked()
			r.starving = true
			if h, ok := r.registry.Resolve(r.handler); ok {
				h.NotifyStarving(r.mode, r.streamID, true)
			}
		}
	}

	if len(r.rampQueue) > 0 {
		m := r.rampQueue[0]
		r.rampQueue = r.rampQueue[1:]
		return r.dispatchOut(m)
	}
	if r.state == RampingDown {
		// The flywheel queued no audio (the ramp is shorter than one
		// sample, the format has no bit depth, or allocation failed):
		// skip straight to a Halt and prepare to ramp up from silence.
		r.state = Halted
		r.pendingRampUp = true
		return r.factory.NewHalt(r.factory.NextHaltID())
	}

	for len(r.buf) == 0 {
		r.cond.Wait()
	}
	m := r.dequeueLocked()
	if !r.isFullLocked() {
		r.cond.Broadcast()
	}
	m = m.Dispatch(&inVisitor{r: r})
	return r.dispatchOut(m)
}

// Close stops the fill goroutine; any further fillLoop wake-up exits
// instead of blocking forever.
func (r *Ramper) Close() {
	r.mu.Lock()
	r.closed = true
	r.cond.Broadcast()
	r.mu.Unlock()
}

// ---- inbound bookkeeping (spec.md §4.9, ProcessMsgIn in the original) --

type inVisitor struct {
	pipeline.BaseProcessor
	r *Ramper
}

func (v *inVisitor) ProcessMode(m *pipeline.MsgMode) pipeline.Msg {
	v.r.mode = m.Name
	v.r.newStreamLocked()
	return m
}
func (v *inVisitor) ProcessTrack(m *pipeline.MsgTrack) pipeline.Msg { v.r.newStreamLocked(); return m }
func (v *inVisitor) ProcessDrain(m *pipeline.MsgDrain) pipeline.Msg { return m }
func (v *inVisitor) ProcessDelay(m *pipeline.MsgDelay) pipeline.Msg { return m }
func (v *inVisitor) ProcessEncodedStream(m *pipeline.MsgEncodedStream) pipeline.Msg { return m }
func (v *inVisitor) ProcessAudioEncoded(*pipeline.MsgAudioEncoded) pipeline.Msg {
	panic("starvation: encoded audio must not reach the ramper")
}
func (v *inVisitor) ProcessMetaText(m *pipeline.MsgMetaText) pipeline.Msg { return m }
func (v *inVisitor) ProcessStreamInterrupted(m *pipeline.MsgStreamInterrupted) pipeline.Msg {
	return m
}
func (v *inVisitor) ProcessHalt(m *pipeline.MsgHalt) pipeline.Msg {
	v.r.state = Halted
	return m
}
func (v *inVisitor) ProcessFlush(m *pipeline.MsgFlush) pipeline.Msg { return m }
func (v *inVisitor) ProcessWait(m *pipeline.MsgWait) pipeline.Msg   { return m }
func (v *inVisitor) ProcessDecodedStream(m *pipeline.MsgDecodedStream) pipeline.Msg {
	v.r.newStreamLocked()
	v.r.streamID = m.StreamID
	v.r.handler = m.Handler
	v.r.format = m.Format
	return m
}
func (v *inVisitor) ProcessBitRate(m *pipeline.MsgBitRate) pipeline.Msg { return m }
func (v *inVisitor) ProcessAudioPcm(m *pipeline.MsgAudioPcm) pipeline.Msg {
	v.r.handleAudioInLocked()
	return m
}
func (v *inVisitor) ProcessSilence(m *pipeline.MsgSilence) pipeline.Msg {
	v.r.handleAudioInLocked()
	return m
}
func (v *inVisitor) ProcessPlayable(*pipeline.MsgPlayable) pipeline.Msg {
	panic("starvation: playable must not reach the ramper")
}
func (v *inVisitor) ProcessQuit(m *pipeline.MsgQuit) pipeline.Msg { return m }

func (r *Ramper) newStreamLocked() {
	r.state = Starting
	r.recent = nil
	r.recentJiffies = 0
	r.streamID = pipeline.InvalidID
	r.currentRamp = ramp.Max
}

func (r *Ramper) handleAudioInLocked() {
	if r.pendingRampUp {
		r.pendingRampUp = false
		r.state = RampingUp
		r.currentRamp = ramp.Min
		r.remainingRamp = r.cfg.RampUpJiffies
		return
	}
	if r.state == Starting || r.state == Halted {
		r.state = Running
	}
}

// ---- outbound bookkeeping (spec.md §4.9, ProcessMsgOut in the original) -

// dispatchOut folds ramp-up onto outgoing audio and maintains the
// recent-audio trailing window, mirroring StarvationRamper::ProcessMsgOut.
func (r *Ramper) dispatchOut(m pipeline.Msg) pipeline.Msg {
	switch out := m.(type) {
	case *pipeline.MsgHalt:
		r.state = Halted
	case *pipeline.MsgAudioPcm:
		r.processAudioOutLocked(out)
		r.setBuffering(false)
		if r.state == RampingUp && r.remainingRamp > 0 {
			if out.Jiffies() > r.remainingRamp {
				tail, err := out.SplitJiffies(r.remainingRamp, r.factory)
				if err == nil && tail != nil {
					r.enqueueAtHeadLocked(tail)
				}
			}
			tail, _ := out.SetRamp(r.currentRamp, r.remainingRamp, ramp.Up, r.factory)
			if tail != nil {
				r.enqueueAtHeadLocked(tail)
			}
			r.currentRamp = out.Ramp().End
			r.remainingRamp -= out.Jiffies()
			if r.remainingRamp <= 0 {
				r.remainingRamp = 0
				r.state = Running
			}
		}
	case *pipeline.MsgSilence:
		r.processAudioOutLocked(nil)
	}
	return m
}

func (r *Ramper) enqueueAtHeadLocked(m pipeline.Msg) {
	r.buf = append([]pipeline.Msg{m}, r.buf...)
	if j, ok := m.(jiffied); ok {
		r.jiffies += j.Jiffies()
	}
}

// processAudioOutLocked clears the starving flag on the first audio out
// after an underrun and keeps the trailing recent-audio window trimmed to
// cfg.RampDownJiffies, the seed the next flywheel ramp draws from.
func (r *Ramper) processAudioOutLocked(m pipeline.Msg) {
	if r.starving {
		r.starving = false
		if h, ok := r.registry.Resolve(r.handler); ok {
			h.NotifyStarving(r.mode, r.streamID, false)
		}
	}
	if m == nil {
		return
	}
	j, ok := m.(jiffied)
	if !ok {
		return
	}
	if pcm, ok := m.(*pipeline.MsgAudioPcm); ok {
		pcm.AddRef()
		r.recent = append(r.recent, pcm)
		r.recentJiffies += j.Jiffies()
		for r.recentJiffies > r.cfg.RampDownJiffies && len(r.recent) > 0 {
			front := r.recent[0]
			r.recent = r.recent[1:]
			r.recentJiffies -= front.(jiffied).Jiffies()
			front.RemoveRef()
		}
	}
}

// startFlywheelRampLocked builds the flywheel's seed from recently played
// audio (or pure silence if none is available) and queues the resulting
// ramp-down audio plus its terminating Halt (spec.md §4.9).
func (r *Ramper) startFlywheelRampLocked() {
	seed := r.decodeRecentSeedLocked()
	ext := Extrapolate(seed, int(samplesForJiffies(r.cfg.RampDownJiffies, r.format.SampleRate))*channelsOrOne(r.format.Channels))
	data := encodeInterleaved(ext, r.format)
	if len(data) == 0 {
		r.state = RampingDown
		return
	}
	pcm, err := r.factory.NewAudioPcm(data, r.format, 0)
	if err == nil {
		pcm.SetRamp(r.currentRamp, r.cfg.RampDownJiffies, ramp.Down, r.factory)
		r.rampQueue = append(r.rampQueue, pcm, r.factory.NewHalt(r.factory.NextHaltID()))
	}
	r.pendingRampUp = true
	r.state = RampingDown
}

func channelsOrOne(c int) int {
	if c <= 0 {
		return 1
	}
	return c
}

func samplesForJiffies(j int64, sampleRate int) int64 {
	if sampleRate == 0 {
		return 0
	}
	return j / (56448000 / int64(sampleRate))
}

// decodeRecentSeedLocked flattens the trailing recent-audio window into a
// single interleaved int32 sample slice for the flywheel to extrapolate
// from.
func (r *Ramper) decodeRecentSeedLocked() []int32 {
	var out []int32
	for _, m := range r.recent {
		pcm, ok := m.(*pipeline.MsgAudioPcm)
		if !ok {
			continue
		}
		out = append(out, decodeInterleaved(pcm.Bytes(), pcm.Format.BitDepth)...)
	}
	return out
}

// decodeInterleaved widens raw little-endian PCM bytes at the given bit
// depth into sign-extended int32 samples, one per channel per frame,
// interleaved in the original order.
func decodeInterleaved(data []byte, bitDepth int) []int32 {
	bytesPerSample := bitDepth / 8
	if bytesPerSample == 0 {
		return nil
	}
	n := len(data) / bytesPerSample
	out := make([]int32, n)
	for i := 0; i < n; i++ {
		chunk := data[i*bytesPerSample : (i+1)*bytesPerSample]
		var v int32
		for b := bytesPerSample - 1; b >= 0; b-- {
			v = v<<8 | int32(chunk[b])
		}
		shift := uint(32 - bitDepth)
		out[i] = v << shift >> shift // sign-extend from bitDepth up to 32 bits
	}
	return out
}

// encodeInterleaved narrows sign-extended int32 samples back down to raw
// little-endian PCM bytes at format's bit depth, the inverse of
// decodeInterleaved.
func encodeInterleaved(samples []int32, format pipeline.AudioFormat) []byte {
	bytesPerSample := format.BitDepth / 8
	if bytesPerSample == 0 || len(samples) == 0 {
		return nil
	}
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		for b := 0; b < bytesPerSample; b++ {
			out[i*bytesPerSample+b] = byte(s >> uint(8*b))
		}
	}
	return out
}
