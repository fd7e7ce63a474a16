// Package sink implements the pipeline's last internal stage: the sink
// animator interface external hardware/software playout exposes (spec.md
// §6 "Sink animator"), and the Stage that turns AudioPcm into Playable
// directly and materialises Silence into real samples first (spec.md §6
// "Silence is materialised to the target format at sink time"). What
// pulls MsgPlayable off the far end is the external sink thread (spec.md
// §5); this package stops at handing it a Playable.
package sink

import (
	"playpipe/pipeline"
)

// Animator is the external query a pipeline consults to learn the delay,
// in jiffies, the sink needs to animate a stream's format, or that the
// format is unsupported (spec.md §6 "Sink animator": "delay_jiffies(rate,
// depth, channels) -> jiffies | unsupported"). Shared in shape, not type,
// with validator.Animator: each package names the narrow interface it
// actually calls rather than importing the other's.
type Animator interface {
	DelayJiffies(sampleRate, bitDepth, channels int) (int64, error)
}

// Stage sits downstream of everything else in the graph, immediately
// ahead of the external sink thread.
type Stage struct {
	factory    *pipeline.Factory
	downstream func(pipeline.Msg)
}

func NewStage(factory *pipeline.Factory, downstream func(pipeline.Msg)) *Stage {
	return &Stage{factory: factory, downstream: downstream}
}

func (s *Stage) Push(m pipeline.Msg) {
	out := m.Dispatch(&visitor{s: s})
	if out != nil {
		s.downstream(out)
	}
}

type visitor struct {
	pipeline.BaseProcessor
	s *Stage
}

func (v *visitor) ProcessMode(m *pipeline.MsgMode) pipeline.Msg         { return m }
func (v *visitor) ProcessTrack(m *pipeline.MsgTrack) pipeline.Msg       { return m }
func (v *visitor) ProcessDrain(m *pipeline.MsgDrain) pipeline.Msg       { return m }
func (v *visitor) ProcessDelay(m *pipeline.MsgDelay) pipeline.Msg       { return m }
func (v *visitor) ProcessMetaText(m *pipeline.MsgMetaText) pipeline.Msg { return m }
func (v *visitor) ProcessBitRate(m *pipeline.MsgBitRate) pipeline.Msg   { return m }
func (v *visitor) ProcessHalt(m *pipeline.MsgHalt) pipeline.Msg         { return m }
func (v *visitor) ProcessFlush(m *pipeline.MsgFlush) pipeline.Msg       { return m }
func (v *visitor) ProcessWait(m *pipeline.MsgWait) pipeline.Msg         { return m }
func (v *visitor) ProcessQuit(m *pipeline.MsgQuit) pipeline.Msg         { return m }

func (v *visitor) ProcessDecodedStream(m *pipeline.MsgDecodedStream) pipeline.Msg { return m }

func (v *visitor) ProcessAudioPcm(m *pipeline.MsgAudioPcm) pipeline.Msg {
	return v.s.factory.NewPlayable(m)
}

func (v *visitor) ProcessSilence(m *pipeline.MsgSilence) pipeline.Msg {
	pcm, err := m.Materialise(m.Format, v.s.factory)
	m.RemoveRef()
	if err != nil {
		// Silence carrying an unsupported sample rate is a construction-
		// time sizing error the validator upstream should already have
		// stopped the stream for (spec.md §4.5); nothing playable to
		// produce here.
		return nil
	}
	return v.s.factory.NewPlayable(pcm)
}
