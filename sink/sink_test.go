package sink

import (
	"testing"

	"github.com/stretchr/testify/require"

	"playpipe/pipeline"
)

func newTestFactory(t *testing.T) *pipeline.Factory {
	t.Helper()
	cfg := pipeline.DefaultFactoryConfig()
	cfg.AudioPcm.CellBytes = 4096
	return pipeline.NewFactory(cfg)
}

func stereo16(rate int) pipeline.AudioFormat {
	return pipeline.AudioFormat{SampleRate: rate, BitDepth: 16, Channels: 2}
}

// TestAudioPcmBecomesPlayable verifies the stage's ordinary case: AudioPcm
// is wrapped as Playable and forwarded, nothing else.
func TestAudioPcmBecomesPlayable(t *testing.T) {
	f := newTestFactory(t)
	format := stereo16(44100)
	pcm, err := f.NewAudioPcm(make([]byte, 16), format, 0)
	require.NoError(t, err)

	var out []pipeline.Msg
	s := NewStage(f, func(m pipeline.Msg) { out = append(out, m) })
	s.Push(pcm)

	require.Len(t, out, 1)
	playable, ok := out[0].(*pipeline.MsgPlayable)
	require.True(t, ok)
	playable.RemoveRef()
}

// TestSilenceMaterialisedToPlayable verifies Silence is rendered to real
// zero samples at the sink boundary (spec.md §6) rather than passed
// through as a descriptor.
func TestSilenceMaterialisedToPlayable(t *testing.T) {
	f := newTestFactory(t)
	format := stereo16(44100)
	silence := f.NewSilence(2560, format) // 2 samples

	var out []pipeline.Msg
	s := NewStage(f, func(m pipeline.Msg) { out = append(out, m) })
	s.Push(silence)

	require.Len(t, out, 1)
	playable, ok := out[0].(*pipeline.MsgPlayable)
	require.True(t, ok)
	playable.RemoveRef()
}

// TestOtherMessagesPassThroughUnchanged checks Halt and Quit aren't
// touched by the stage.
func TestOtherMessagesPassThroughUnchanged(t *testing.T) {
	f := newTestFactory(t)

	var out []pipeline.Msg
	s := NewStage(f, func(m pipeline.Msg) { out = append(out, m) })

	halt := f.NewHalt(1)
	s.Push(halt)
	require.Len(t, out, 1)
	_, ok := out[0].(*pipeline.MsgHalt)
	require.True(t, ok)
	out[0].RemoveRef()

	quit := f.NewQuit()
	s.Push(quit)
	require.Len(t, out, 2)
	_, ok = out[1].(*pipeline.MsgQuit)
	require.True(t, ok)
	out[1].RemoveRef()
}
