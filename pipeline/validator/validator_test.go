package validator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"playpipe/pipeline"
	"playpipe/pipeline/ramp"
)

type fakeHandler struct{ stopID uint32 }

func (h fakeHandler) OkToPlay(uint32) pipeline.OkToPlayResult { return pipeline.OkToPlayYes }
func (h fakeHandler) TrySeek(uint32, int64) (uint32, bool)    { return 0, false }
func (h fakeHandler) TryStop(uint32) (uint32, bool)           { return h.stopID, true }
func (h fakeHandler) NotifyStarving(string, uint32, bool)     {}

type fakeAnimator struct {
	supported map[int]bool
}

func (a fakeAnimator) DelayJiffies(sampleRate, bitDepth, channels int) (int64, error) {
	if a.supported[sampleRate] {
		return 1000, nil
	}
	return 0, ErrSampleRateUnsupported
}

func newTestFactory(t *testing.T) *pipeline.Factory {
	t.Helper()
	cfg := pipeline.DefaultFactoryConfig()
	cfg.AudioPcm.CellBytes = 4096
	return pipeline.NewFactory(cfg)
}

func TestSampleRateValidatorDropsUnsupportedStreamUntilFlush(t *testing.T) {
	f := newTestFactory(t)
	reg := pipeline.NewHandlerRegistry()
	ref := reg.Register(fakeHandler{stopID: 55})
	var out []pipeline.Msg
	v := New(f, reg, fakeAnimator{supported: map[int]bool{44100: true}}, func(m pipeline.Msg) { out = append(out, m) })

	ds := f.NewDecodedStream(pipeline.AudioFormat{SampleRate: 96000, BitDepth: 24, Channels: 2}, "test", 0, 0, true, true, false, 1, ref)
	v.Push(ds)

	pcm, err := f.NewAudioPcm(make([]byte, 16), pipeline.AudioFormat{SampleRate: 96000, BitDepth: 16, Channels: 2}, 0)
	require.NoError(t, err)
	v.Push(pcm) // must be dropped: flushing until id 55 arrives

	for _, m := range out {
		_, isPcm := m.(*pipeline.MsgAudioPcm)
		require.False(t, isPcm)
	}

	v.Push(f.NewFlush(55))

	pcm2, err := f.NewAudioPcm(make([]byte, 16), pipeline.AudioFormat{SampleRate: 96000, BitDepth: 16, Channels: 2}, 0)
	require.NoError(t, err)
	v.Push(pcm2)

	var sawPcmAfterFlush bool
	for _, m := range out {
		if _, ok := m.(*pipeline.MsgAudioPcm); ok {
			sawPcmAfterFlush = true
		}
		m.RemoveRef()
	}
	require.True(t, sawPcmAfterFlush, "once the matching flush passes, audio should flow again")
}

func TestRampValidatorPanicsOnDirectionFlipMidRamp(t *testing.T) {
	f := newTestFactory(t)
	rv := New("test", func(pipeline.Msg) {})

	format := pipeline.AudioFormat{SampleRate: 44100, BitDepth: 16, Channels: 2}
	m1, err := f.NewAudioPcm(make([]byte, 16), format, 0)
	require.NoError(t, err)
	m1.SetRamp(ramp.Max, 10_000_000, ramp.Down, f)
	rv.Push(m1)

	m2, err := f.NewAudioPcm(make([]byte, 16), format, 0)
	require.NoError(t, err)
	m2.SetRamp(ramp.Min, 10_000_000, ramp.Up, f) // opposite direction without completing the down-ramp
	require.Panics(t, func() { rv.Push(m2) })
}
