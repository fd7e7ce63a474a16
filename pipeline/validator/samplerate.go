// Package validator implements two diagnostic/policy push elements:
// SampleRateValidator, which stops a stream the sink can't animate, and
// RampValidator, which asserts every ramp it sees is self-consistent
// (spec.md §4.6, grounded on
// OpenHome/Media/Pipeline/SampleRateValidator.cpp and RampValidator.h).
package validator

import (
	"errors"
	"sync"

	"playpipe/pipeline"
)

// ErrSampleRateUnsupported is returned by Animator.DelayJiffies when the
// sink cannot play audio at the given rate/depth/channel combination.
var ErrSampleRateUnsupported = errors.New("validator: sample rate unsupported by sink")

// Animator is the sink-facing query used to confirm a stream's format is
// playable before it reaches the sink (IPipelineAnimator in the
// original).
type Animator interface {
	DelayJiffies(sampleRate, bitDepth, channels int) (int64, error)
}

// SampleRateValidator drops audio for any stream whose format the
// animator rejects, issuing a TryStop on the stream's handler and
// discarding everything until the matching Flush arrives.
type SampleRateValidator struct {
	factory    *pipeline.Factory
	registry   *pipeline.HandlerRegistry
	downstream func(pipeline.Msg)
	animator   Animator

	mu            sync.Mutex
	flushing      bool
	targetFlushID uint32
}

func New(factory *pipeline.Factory, registry *pipeline.HandlerRegistry, animator Animator, downstream func(pipeline.Msg)) *SampleRateValidator {
	return &SampleRateValidator{factory: factory, registry: registry, animator: animator, downstream: downstream, targetFlushID: pipeline.InvalidID}
}

func (v *SampleRateValidator) Push(m pipeline.Msg) {
	out := m.Dispatch(&rateVisitor{v: v})
	if out != nil {
		v.downstream(out)
	}
}

type rateVisitor struct {
	pipeline.BaseProcessor
	v *SampleRateValidator
}

func (rv *rateVisitor) ProcessMode(m *pipeline.MsgMode) pipeline.Msg {
	rv.v.mu.Lock()
	rv.v.flushing = false
	rv.v.mu.Unlock()
	return m
}

func (rv *rateVisitor) ProcessTrack(m *pipeline.MsgTrack) pipeline.Msg {
	rv.v.mu.Lock()
	rv.v.flushing = false
	rv.v.mu.Unlock()
	return m
}

func (rv *rateVisitor) ProcessMetaText(m *pipeline.MsgMetaText) pipeline.Msg {
	return rv.v.processFlushable(m)
}

func (rv *rateVisitor) ProcessFlush(m *pipeline.MsgFlush) pipeline.Msg {
	rv.v.mu.Lock()
	defer rv.v.mu.Unlock()
	if rv.v.targetFlushID != pipeline.InvalidID && rv.v.targetFlushID == m.ID {
		rv.v.targetFlushID = pipeline.InvalidID
		rv.v.flushing = false
		m.RemoveRef()
		return nil
	}
	return m
}

func (rv *rateVisitor) ProcessDecodedStream(m *pipeline.MsgDecodedStream) pipeline.Msg {
	_, err := rv.v.animator.DelayJiffies(m.Format.SampleRate, m.Format.BitDepth, m.Format.Channels)
	rv.v.mu.Lock()
	if err != nil {
		rv.v.flushing = true
		streamID := m.StreamID
		handlerRef := m.Handler
		rv.v.mu.Unlock()
		if h, ok := rv.v.registry.Resolve(handlerRef); ok {
			h.OkToPlay(streamID)
			id, _ := h.TryStop(streamID)
			rv.v.mu.Lock()
			rv.v.targetFlushID = id
			rv.v.mu.Unlock()
		}
	} else {
		rv.v.flushing = false
		rv.v.mu.Unlock()
	}
	return rv.v.processFlushable(m)
}

func (rv *rateVisitor) ProcessAudioPcm(m *pipeline.MsgAudioPcm) pipeline.Msg {
	return rv.v.processFlushable(m)
}

func (rv *rateVisitor) ProcessSilence(m *pipeline.MsgSilence) pipeline.Msg {
	return rv.v.processFlushable(m)
}

func (rv *rateVisitor) ProcessDrain(m *pipeline.MsgDrain) pipeline.Msg               { return m }
func (rv *rateVisitor) ProcessDelay(m *pipeline.MsgDelay) pipeline.Msg               { return m }
func (rv *rateVisitor) ProcessEncodedStream(m *pipeline.MsgEncodedStream) pipeline.Msg { return m }
func (rv *rateVisitor) ProcessStreamInterrupted(m *pipeline.MsgStreamInterrupted) pipeline.Msg {
	return m
}
func (rv *rateVisitor) ProcessHalt(m *pipeline.MsgHalt) pipeline.Msg       { return m }
func (rv *rateVisitor) ProcessWait(m *pipeline.MsgWait) pipeline.Msg       { return m }
func (rv *rateVisitor) ProcessBitRate(m *pipeline.MsgBitRate) pipeline.Msg { return m }
func (rv *rateVisitor) ProcessQuit(m *pipeline.MsgQuit) pipeline.Msg       { return m }

func (v *SampleRateValidator) processFlushable(m pipeline.Msg) pipeline.Msg {
	v.mu.Lock()
	flushing := v.flushing
	v.mu.Unlock()
	if flushing {
		m.RemoveRef()
		return nil
	}
	return m
}
