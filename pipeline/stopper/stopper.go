// Package stopper implements the pipeline's authoritative play/pause/stop
// state machine, sitting between the codec side and the sink side and
// gating every transition on a ramp so audio never clicks (spec.md §4.8,
// grounded on OpenHome/Media/Pipeline/Stopper.cpp).
package stopper

import (
	"sync"

	"playpipe/pipeline"
	"playpipe/pipeline/ramp"
)

// State is one of the six states the Stopper cycles through.
type State int

const (
	Running State = iota
	RampingDown
	RampingUp
	Paused
	Stopped
	Flushing
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case RampingDown:
		return "ramping-down"
	case RampingUp:
		return "ramping-up"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	case Flushing:
		return "flushing"
	default:
		return "unknown"
	}
}

// Observer receives the three playback-state transitions a Stopper drives.
type Observer interface {
	PipelinePlaying()
	PipelinePaused()
	PipelineStopped()
}

// PlayObserver is an optional collaborator notified of the outcome of each
// OkToPlay call, and of streams that never even got a chance to play (the
// original's IStreamPlayObserver). Pass nil to New if not needed.
type PlayObserver interface {
	NotifyTrackFailed(trackID uint32)
	NotifyStreamPlayStatus(trackID, streamID uint32, result pipeline.OkToPlayResult)
}

// Stopper is a pull-style element: Pull blocks in Paused/Stopped until a
// Play or Quit call releases it, folds a ramp onto audio while transitioning,
// and impersonates the upstream handler so OkToPlay/TrySeek/TryStop keep
// reaching the real one.
type Stopper struct {
	factory     *pipeline.Factory
	upstream    pipeline.Puller
	observer    Observer
	playObs     PlayObserver
	registry    *pipeline.HandlerRegistry
	rampJiffies int64

	mu   sync.Mutex
	cond *sync.Cond

	state    State
	quit     bool
	buffering bool

	targetHaltID  uint32
	haltPending   bool
	flushStream   bool
	checkedPlay   bool

	remainingRamp int64
	currentRamp   int32

	trackID  uint32
	streamID uint32
	handler  pipeline.HandlerRef
	selfRef  pipeline.HandlerRef

	head []pipeline.Msg // messages re-injected at the head of the stream, e.g. a split ramp tail
}

// New builds a Stopper starting in the Stopped state, matching the
// original's constructor (a pipeline starts paused until something Plays
// it). playObs may be nil.
func New(factory *pipeline.Factory, upstream pipeline.Puller, registry *pipeline.HandlerRegistry, observer Observer, playObs PlayObserver, rampJiffies int64) *Stopper {
	s := &Stopper{
		factory:       factory,
		upstream:      upstream,
		observer:      observer,
		playObs:       playObs,
		registry:      registry,
		rampJiffies:   rampJiffies,
		state:         Stopped,
		targetHaltID:  pipeline.InvalidID,
		streamID:      pipeline.InvalidID,
		currentRamp:   ramp.Max,
		checkedPlay:   true, // don't OkToPlay a MsgTrack seen before any real stream
	}
	s.cond = sync.NewCond(&s.mu)
	s.selfRef = registry.Register(s)
	return s
}

// State reports the Stopper's current state, primarily for diagnostics and
// tests (mirrors the original's State() debug accessor).
func (s *Stopper) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ---- commands --------------------------------------------------------

// Play resumes playback: Running is a no-op, a ramp-down in progress
// reverses into a ramp-up from its current value, Paused begins a fresh
// ramp-up from silence. Stopped switches straight to Running with no
// ramp-up.
func (s *Stopper) Play() {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Running:
	case RampingDown:
		s.setStateLocked(RampingUp)
		s.remainingRamp = s.rampJiffies - s.remainingRamp
	case RampingUp:
	case Paused:
		s.setStateLocked(RampingUp)
		s.remainingRamp = s.rampJiffies
		s.cond.Broadcast()
	case Stopped:
		s.setStateLocked(Running)
		s.cond.Broadcast()
	case Flushing:
	}
	s.targetHaltID = pipeline.InvalidID
	if s.observer != nil {
		s.observer.PipelinePlaying()
	}
}

// BeginPause starts a ramp-down toward Paused. A no-op while quitting.
// While the upstream is still buffering there is no audio to ramp, so the
// pause takes effect immediately: Paused, with a Halt scheduled.
func (s *Stopper) BeginPause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quit {
		return
	}
	if s.buffering {
		s.handlePausedLocked(true)
		return
	}
	switch s.state {
	case Running:
		s.remainingRamp = s.rampJiffies
		s.currentRamp = ramp.Max
		s.setStateLocked(RampingDown)
	case RampingDown:
	case RampingUp:
		s.remainingRamp = s.rampJiffies - s.remainingRamp
		s.setStateLocked(RampingDown)
	case Paused, Stopped:
	case Flushing:
		s.handleStoppedLocked(false)
	}
}

// BeginStop starts a ramp-down toward Stopped, recording haltID as the
// MsgHalt this Stopper waits for before declaring itself stopped.
func (s *Stopper) BeginStop(haltID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quit {
		return
	}
	s.targetHaltID = haltID
	if s.buffering {
		s.handleStoppedLocked(true)
		return
	}
	switch s.state {
	case Running:
		s.remainingRamp = s.rampJiffies
		s.currentRamp = ramp.Max
		s.setStateLocked(RampingDown)
	case RampingDown:
	case RampingUp:
		s.remainingRamp = s.rampJiffies - s.remainingRamp
		s.setStateLocked(RampingDown)
	case Paused:
		// restart pulling, discarding data until a new stream or our target Halt
		s.cond.Broadcast()
		s.flushStream = true
	case Stopped:
	case Flushing:
		s.handlePausedLocked(true)
	}
}

// Quit forces any blocked Pull to unblock so a MsgQuit can drain through.
func (s *Stopper) Quit() {
	s.mu.Lock()
	s.quit = true
	if s.state == Stopped || s.state == Paused {
		s.flushStream = true
	}
	s.mu.Unlock()
	s.Play()
}

// ---- pull loop ---------------------------------------------------------

// Pull returns the next message, blocking while Paused/Stopped and folding
// a ramp onto audio while RampingDown/RampingUp.
func (s *Stopper) Pull() pipeline.Msg {
	for {
		s.mu.Lock()
		if s.haltPending {
			s.haltPending = false
			s.mu.Unlock()
			return s.factory.NewHalt(s.drainHaltID())
		}
		for s.state == Paused || s.state == Stopped {
			s.cond.Wait()
		}
		s.mu.Unlock()

		m := s.dequeue()
		out := m.Dispatch(&visitor{s: s})
		if out != nil {
			s.mu.Lock()
			s.buffering = false
			s.mu.Unlock()
			return out
		}
	}
}

func (s *Stopper) dequeue() pipeline.Msg {
	s.mu.Lock()
	if len(s.head) > 0 {
		m := s.head[0]
		s.head = s.head[1:]
		s.mu.Unlock()
		return m
	}
	s.mu.Unlock()
	return s.upstream.Pull()
}

// drainHaltID is only ever called right after iHaltPending was consumed, so
// the pending target id (if any) has already been cleared by its caller;
// the original always constructs a generic Halt here, not one carrying
// iTargetHaltId, so this simply mints a fresh id.
func (s *Stopper) drainHaltID() uint32 {
	return s.factory.NextHaltID()
}

func (s *Stopper) setStateLocked(st State) {
	s.state = st
}

func (s *Stopper) handlePausedLocked(haltPending bool) {
	s.setStateLocked(Paused)
	s.haltPending = haltPending
	if s.observer != nil {
		s.observer.PipelinePaused()
	}
}

func (s *Stopper) handleStoppedLocked(haltPending bool) {
	s.setStateLocked(Stopped)
	s.haltPending = haltPending
	if s.observer != nil {
		s.observer.PipelineStopped()
	}
}

func (s *Stopper) newStreamLocked() {
	s.remainingRamp = 0
	s.currentRamp = ramp.Max
	s.setStateLocked(Running)
	s.handler = pipeline.HandlerRef{}
	s.checkedPlay = false
	s.haltPending = false
	s.flushStream = false
}

// rampCompleted applies once a RampingDown/RampingUp span has fully
// consumed its jiffies (spec.md §4.8 "On ramp completion").
func (s *Stopper) rampCompleted() {
	if s.state == RampingDown {
		if s.targetHaltID == pipeline.InvalidID {
			s.handlePausedLocked(true)
		} else {
			if h, ok := s.registry.Resolve(s.handler); ok {
				h.TryStop(s.streamID)
			}
			s.setStateLocked(Running)
			s.flushStream = true
			s.haltPending = true
		}
	} else { // RampingUp
		s.setStateLocked(Running)
	}
}

// okToPlay queries the current stream's handler, driving the Flushing/
// Stopped transitions its result implies (spec.md §4.8 "On new EncodedStream").
func (s *Stopper) okToPlay() {
	h, ok := s.registry.Resolve(s.handler)
	if !ok {
		s.checkedPlay = true
		return
	}
	result := h.OkToPlay(s.streamID)
	if s.quit {
		s.setStateLocked(Flushing)
		s.flushStream = true
	} else {
		switch result {
		case pipeline.OkToPlayYes:
			if s.observer != nil {
				s.observer.PipelinePlaying()
			}
		case pipeline.OkToPlayNo:
			h.TryStop(s.streamID)
			s.setStateLocked(Flushing)
			s.flushStream = true
			s.haltPending = true
		case pipeline.OkToPlayLater:
			s.handleStoppedLocked(true)
		}
	}
	if s.playObs != nil {
		s.playObs.NotifyStreamPlayStatus(s.trackID, s.streamID, result)
	}
	s.checkedPlay = true
}

// ---- StreamHandler (impersonates the real upstream handler) -----------

func (s *Stopper) OkToPlay(uint32) pipeline.OkToPlayResult {
	panic("stopper: OkToPlay should never be called on the Stopper itself")
}

func (s *Stopper) TrySeek(uint32, int64) (uint32, bool) {
	panic("stopper: TrySeek should never be called on the Stopper itself")
}

func (s *Stopper) TryStop(uint32) (uint32, bool) {
	panic("stopper: TryStop should never be called on the Stopper itself")
}

func (s *Stopper) NotifyStarving(mode string, streamID uint32, starving bool) {
	s.mu.Lock()
	if s.state != RampingDown {
		s.buffering = true
	} else {
		if s.targetHaltID == pipeline.InvalidID {
			s.handlePausedLocked(true)
		} else {
			s.handleStoppedLocked(true)
		}
	}
	handler := s.handler
	s.mu.Unlock()
	if h, ok := s.registry.Resolve(handler); ok {
		h.NotifyStarving(mode, streamID, starving)
	}
}

// ---- message dispatch ---------------------------------------------------

type visitor struct {
	pipeline.BaseProcessor
	s *Stopper
}

func (v *visitor) processFlushable(m pipeline.Msg) pipeline.Msg {
	v.s.mu.Lock()
	flushing := v.s.flushStream
	v.s.mu.Unlock()
	if flushing {
		m.RemoveRef()
		return nil
	}
	return m
}

func (v *visitor) ProcessMode(m *pipeline.MsgMode) pipeline.Msg { return m }

// ProcessTrack checks, before moving on to a new track, that the prior
// stream (if any) was actually offered a chance to play: a CodecController
// that never recognised the format never calls OkToPlay, and the stream's
// id-provider still expects one call per stream (spec.md §4.8).
func (v *visitor) ProcessTrack(m *pipeline.MsgTrack) pipeline.Msg {
	v.s.mu.Lock()
	if !v.s.checkedPlay {
		if _, ok := v.s.registry.Resolve(v.s.handler); ok {
			v.s.okToPlay()
		} else if v.s.playObs != nil {
			v.s.playObs.NotifyTrackFailed(v.s.trackID)
			v.s.checkedPlay = true
		}
	}
	v.s.newStreamLocked()
	v.s.trackID = m.TrackID
	v.s.mu.Unlock()
	return m
}

func (v *visitor) ProcessDrain(m *pipeline.MsgDrain) pipeline.Msg { return m }
func (v *visitor) ProcessDelay(m *pipeline.MsgDelay) pipeline.Msg { return m }

func (v *visitor) ProcessEncodedStream(m *pipeline.MsgEncodedStream) pipeline.Msg {
	v.s.mu.Lock()
	if !v.s.checkedPlay {
		if _, ok := v.s.registry.Resolve(v.s.handler); ok {
			v.s.okToPlay()
		}
	}
	v.s.newStreamLocked()
	v.s.streamID = m.StreamID
	v.s.handler = m.Handler
	live := m.Live
	v.s.mu.Unlock()
	if live {
		v.s.mu.Lock()
		v.s.okToPlay()
		v.s.mu.Unlock()
	}
	m.RemoveRef()
	return nil
}

func (v *visitor) ProcessAudioEncoded(*pipeline.MsgAudioEncoded) pipeline.Msg {
	panic("stopper: encoded audio must not reach the Stopper")
}

func (v *visitor) ProcessMetaText(m *pipeline.MsgMetaText) pipeline.Msg {
	return v.processFlushable(m)
}

func (v *visitor) ProcessStreamInterrupted(m *pipeline.MsgStreamInterrupted) pipeline.Msg {
	return m
}

func (v *visitor) ProcessHalt(m *pipeline.MsgHalt) pipeline.Msg {
	v.s.mu.Lock()
	if v.s.targetHaltID != pipeline.InvalidID && v.s.targetHaltID == m.ID {
		v.s.targetHaltID = pipeline.InvalidID
		v.s.handleStoppedLocked(false)
	}
	v.s.mu.Unlock()
	return m
}

func (v *visitor) ProcessFlush(m *pipeline.MsgFlush) pipeline.Msg {
	m.RemoveRef()
	return nil
}

func (v *visitor) ProcessWait(m *pipeline.MsgWait) pipeline.Msg { return m }

func (v *visitor) ProcessDecodedStream(m *pipeline.MsgDecodedStream) pipeline.Msg {
	v.s.mu.Lock()
	if !m.Live && !v.s.checkedPlay {
		v.s.okToPlay()
	}
	v.s.mu.Unlock()
	out := v.processFlushable(m)
	if out == nil {
		return nil
	}
	replaced := v.s.factory.NewDecodedStream(m.Format, m.CodecName, m.TotalSamples, m.StartSample, m.Lossless, m.Seekable, m.Live, m.StreamID, v.s.selfRef)
	m.RemoveRef()
	return replaced
}

func (v *visitor) ProcessBitRate(m *pipeline.MsgBitRate) pipeline.Msg { return m }

func (v *visitor) ProcessAudioPcm(m *pipeline.MsgAudioPcm) pipeline.Msg {
	v.s.mu.Lock()
	state := v.s.state
	if state != RampingDown && state != RampingUp {
		v.s.mu.Unlock()
		return v.processFlushable(m)
	}
	remaining := v.s.remainingRamp
	current := v.s.currentRamp
	dir := ramp.Down
	if state == RampingUp {
		dir = ramp.Up
	}
	v.s.mu.Unlock()

	var split *pipeline.MsgAudioPcm
	if remaining > 0 {
		tail, _ := m.SetRamp(current, remaining, dir, v.s.factory)
		split = tail
	}

	v.s.mu.Lock()
	v.s.currentRamp = m.Ramp().End
	v.s.remainingRamp -= m.Jiffies()
	if v.s.remainingRamp < 0 {
		v.s.remainingRamp = 0
	}
	rampDone := v.s.remainingRamp == 0
	if split != nil {
		v.s.enqueueAtHeadLocked(split)
	}
	if rampDone {
		v.s.rampCompleted()
	}
	v.s.mu.Unlock()
	return m
}

func (s *Stopper) enqueueAtHeadLocked(m pipeline.Msg) {
	s.head = append([]pipeline.Msg{m}, s.head...)
}

func (v *visitor) ProcessSilence(m *pipeline.MsgSilence) pipeline.Msg {
	v.s.mu.Lock()
	if v.s.state == RampingDown || v.s.state == RampingUp {
		v.s.rampCompleted()
	}
	v.s.mu.Unlock()
	return v.processFlushable(m)
}

func (v *visitor) ProcessPlayable(*pipeline.MsgPlayable) pipeline.Msg {
	panic("stopper: Playable must not reach the Stopper")
}

func (v *visitor) ProcessQuit(m *pipeline.MsgQuit) pipeline.Msg {
	v.s.mu.Lock()
	handler := v.s.handler
	streamID := v.s.streamID
	v.s.mu.Unlock()
	if h, ok := v.s.registry.Resolve(handler); ok {
		h.TryStop(streamID)
	}
	return m
}
