package aggregator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"playpipe/pipeline"
)

type fakeHandler struct{}

func (fakeHandler) OkToPlay(uint32) pipeline.OkToPlayResult { return pipeline.OkToPlayYes }
func (fakeHandler) TrySeek(uint32, int64) (uint32, bool)    { return 0, false }
func (fakeHandler) TryStop(uint32) (uint32, bool)           { return 7, true }
func (fakeHandler) NotifyStarving(string, uint32, bool)     {}

func newFixture(t *testing.T) (*pipeline.Factory, *pipeline.HandlerRegistry) {
	t.Helper()
	cfg := pipeline.DefaultFactoryConfig()
	cfg.AudioPcm.CellBytes = 4 * 1024
	return pipeline.NewFactory(cfg), pipeline.NewHandlerRegistry()
}

func stereo16(rate int) pipeline.AudioFormat {
	return pipeline.AudioFormat{SampleRate: rate, BitDepth: 16, Channels: 2}
}

func TestAggregatorCoalescesSmallFragmentsUntilCeiling(t *testing.T) {
	f, reg := newFixture(t)
	var out []pipeline.Msg
	a := New(f, reg, Config{MaxBytes: 64, MaxJiffies: 1 << 40}, func(m pipeline.Msg) { out = append(out, m) })

	ref := reg.Register(fakeHandler{})
	stream := f.NewEncodedStream("x://1", "", true, false, ref)
	a.Push(stream)

	format := stereo16(44100)
	for i := 0; i < 5; i++ {
		m, err := f.NewAudioPcm(make([]byte, 16), format, int64(i*16))
		require.NoError(t, err)
		a.Push(m)
	}

	var pcmOut []*pipeline.MsgAudioPcm
	for _, m := range out {
		if p, ok := m.(*pipeline.MsgAudioPcm); ok {
			pcmOut = append(pcmOut, p)
		}
	}
	require.Len(t, pcmOut, 1, "80 bytes across 5 fragments should flush once the 64-byte ceiling is crossed")
	require.Equal(t, 64, len(pcmOut[0].Bytes()))

	for _, m := range out {
		m.RemoveRef()
	}
}

func TestAggregatorFlushesOnHalt(t *testing.T) {
	f, reg := newFixture(t)
	var out []pipeline.Msg
	a := New(f, reg, DefaultConfig(), func(m pipeline.Msg) { out = append(out, m) })

	ref := reg.Register(fakeHandler{})
	a.Push(f.NewEncodedStream("x://1", "", true, false, ref))

	format := stereo16(44100)
	m, err := f.NewAudioPcm(make([]byte, 16), format, 0)
	require.NoError(t, err)
	a.Push(m)
	a.Push(f.NewHalt(f.NextHaltID()))

	var sawPcm, sawHalt bool
	for _, out := range out {
		switch out.(type) {
		case *pipeline.MsgAudioPcm:
			sawPcm = true
		case *pipeline.MsgHalt:
			sawHalt = true
		}
		out.RemoveRef()
	}
	require.True(t, sawPcm)
	require.True(t, sawHalt)
}

func TestAggregatorDropsAudioWhileFlushPending(t *testing.T) {
	f, reg := newFixture(t)
	var out []pipeline.Msg
	a := New(f, reg, DefaultConfig(), func(m pipeline.Msg) { out = append(out, m) })

	ref := reg.Register(fakeHandler{})
	a.Push(f.NewEncodedStream("x://1", "", true, false, ref))

	id, ok := a.TryStop(1)
	require.True(t, ok)
	require.Equal(t, uint32(7), id)

	format := stereo16(44100)
	m, err := f.NewAudioPcm(make([]byte, 16), format, 0)
	require.NoError(t, err)
	a.Push(m) // must be dropped: a flush is pending

	for _, o := range out {
		_, isPcm := o.(*pipeline.MsgAudioPcm)
		require.False(t, isPcm)
		o.RemoveRef()
	}

	a.Push(f.NewFlush(id))
	require.Equal(t, pipeline.InvalidID, a.expectedFlush)
}
