package validator

import (
	"fmt"
	"sync"

	"playpipe/pipeline"
	"playpipe/pipeline/ramp"
)

// RampValidator is a diagnostic push element (not part of the production
// pipeline graph): it asserts every ramp it observes is self-consistent
// with the one before it — no ramp that changes direction before the
// previous one completed, no audio delivered mid-ramp-down without a matching
// ramp-up/halt in between — panicking on violation exactly like the
// original's ASSERT (spec.md §4.6, grounded on
// OpenHome/Media/Pipeline/RampValidator.h).
type RampValidator struct {
	name       string
	downstream func(pipeline.Msg)

	mu              sync.Mutex
	ramping         bool
	rampedDown      bool
	waitingForAudio bool
	dir             ramp.Direction
	lastGain        int32
}

func New(name string, downstream func(pipeline.Msg)) *RampValidator {
	return &RampValidator{name: name, downstream: downstream, lastGain: ramp.Max}
}

func (rv *RampValidator) Push(m pipeline.Msg) {
	out := m.Dispatch(&rampVisitor{rv: rv})
	if out != nil {
		rv.downstream(out)
	}
}

func (rv *RampValidator) reset() {
	rv.mu.Lock()
	defer rv.mu.Unlock()
	rv.ramping = false
	rv.rampedDown = false
	rv.waitingForAudio = false
	rv.lastGain = ramp.Max
}

// processAudio validates one audio message's ramp descriptor against the
// validator's running state, panicking on an inconsistency a correct
// pipeline should never produce.
func (rv *RampValidator) processAudio(d ramp.Descriptor) {
	rv.mu.Lock()
	defer rv.mu.Unlock()

	if rv.waitingForAudio && d.IsNone() && rv.rampedDown {
		panic(fmt.Sprintf("%s: audio delivered while ramped down and no new ramp started", rv.name))
	}
	if d.IsNone() {
		return
	}
	if rv.ramping && d.Dir != rv.dir {
		panic(fmt.Sprintf("%s: ramp direction changed from %s to %s mid-ramp", rv.name, rv.dir, d.Dir))
	}
	rv.ramping = true
	rv.dir = d.Dir
	rv.lastGain = d.End
	rv.waitingForAudio = false
	if d.Dir == ramp.Down && d.End == ramp.Min {
		rv.rampedDown = true
		rv.waitingForAudio = true
		rv.ramping = false
	}
	if d.Dir == ramp.Up && d.End == ramp.Max {
		rv.rampedDown = false
		rv.ramping = false
	}
}

type rampVisitor struct {
	pipeline.BaseProcessor
	rv *RampValidator
}

func (v *rampVisitor) ProcessMode(m *pipeline.MsgMode) pipeline.Msg { v.rv.reset(); return m }
func (v *rampVisitor) ProcessTrack(m *pipeline.MsgTrack) pipeline.Msg { v.rv.reset(); return m }
func (v *rampVisitor) ProcessDelay(m *pipeline.MsgDelay) pipeline.Msg { return m }
func (v *rampVisitor) ProcessEncodedStream(m *pipeline.MsgEncodedStream) pipeline.Msg { return m }
func (v *rampVisitor) ProcessAudioEncoded(m *pipeline.MsgAudioEncoded) pipeline.Msg   { return m }
func (v *rampVisitor) ProcessMetaText(m *pipeline.MsgMetaText) pipeline.Msg           { return m }
func (v *rampVisitor) ProcessHalt(m *pipeline.MsgHalt) pipeline.Msg                   { v.rv.reset(); return m }
func (v *rampVisitor) ProcessFlush(m *pipeline.MsgFlush) pipeline.Msg                 { v.rv.reset(); return m }
func (v *rampVisitor) ProcessWait(m *pipeline.MsgWait) pipeline.Msg                   { return m }
func (v *rampVisitor) ProcessDecodedStream(m *pipeline.MsgDecodedStream) pipeline.Msg { v.rv.reset(); return m }
func (v *rampVisitor) ProcessQuit(m *pipeline.MsgQuit) pipeline.Msg                   { return m }

func (v *rampVisitor) ProcessAudioPcm(m *pipeline.MsgAudioPcm) pipeline.Msg {
	v.rv.processAudio(m.Ramp())
	return m
}

func (v *rampVisitor) ProcessSilence(m *pipeline.MsgSilence) pipeline.Msg {
	v.rv.processAudio(m.Ramp())
	return m
}

func (v *rampVisitor) ProcessPlayable(m *pipeline.MsgPlayable) pipeline.Msg {
	return m
}
