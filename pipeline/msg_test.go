package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"playpipe/pipeline/ramp"
)

func testFactory(t *testing.T) *Factory {
	t.Helper()
	cfg := DefaultFactoryConfig()
	cfg.AudioPcm.CellBytes = 64 * 1024
	cfg.AudioEncoded.CellBytes = 64 * 1024
	return NewFactory(cfg)
}

func stereo16(rate int) AudioFormat {
	return AudioFormat{SampleRate: rate, BitDepth: 16, Channels: 2}
}

func TestAudioPcmRefCountReturnsToPool(t *testing.T) {
	f := testFactory(t)
	before := f.pcmPool.Stats().CellsUsed
	m, err := f.NewAudioPcm(make([]byte, 4*4), stereo16(44100), 0)
	require.NoError(t, err)
	require.Equal(t, before+1, f.pcmPool.Stats().CellsUsed)
	m.AddRef()
	m.RemoveRef()
	require.Equal(t, before+1, f.pcmPool.Stats().CellsUsed, "still one outstanding ref")
	m.RemoveRef()
	require.Equal(t, before, f.pcmPool.Stats().CellsUsed)
}

func TestAudioPcmSplitJiffiesSumsToOriginal(t *testing.T) {
	f := testFactory(t)
	format := stereo16(44100)
	samples := 100
	m, err := f.NewAudioPcm(make([]byte, samples*format.BytesPerSample()), format, 0)
	require.NoError(t, err)
	total := m.Jiffies()

	perSample, _ := jiffiesPerSample(format.SampleRate)
	at := perSample * 40 // split after 40 samples, already sample-aligned

	tail, err := m.SplitJiffies(at, f)
	require.NoError(t, err)
	require.Equal(t, total, m.Jiffies()+tail.Jiffies())
	require.Equal(t, int64(0), m.Jiffies()%perSample)
	m.RemoveRef()
	tail.RemoveRef()
}

func TestAudioPcmConcatenationRoundTrip(t *testing.T) {
	f := testFactory(t)
	format := stereo16(44100)
	orig := make([]byte, 200*format.BytesPerSample())
	for i := range orig {
		orig[i] = byte(i)
	}
	m, err := f.NewAudioPcm(orig, format, 0)
	require.NoError(t, err)

	perSample, _ := jiffiesPerSample(format.SampleRate)
	tail, err := m.SplitJiffies(perSample*77, f)
	require.NoError(t, err)

	combined := append(append([]byte{}, m.Bytes()...), tail.Bytes()...)
	require.Equal(t, orig, combined)

	require.NoError(t, m.Add(tail))
	require.Equal(t, orig, m.Bytes())
	m.RemoveRef()
}

func TestSetRampSplitsWhenMessageLongerThanRemaining(t *testing.T) {
	f := testFactory(t)
	format := stereo16(44100)
	perSample, _ := jiffiesPerSample(format.SampleRate)
	m, err := f.NewAudioPcm(make([]byte, 100*format.BytesPerSample()), format, 0)
	require.NoError(t, err)

	remaining := perSample * 40
	tail, err := m.SetRamp(ramp.Max, remaining, ramp.Down, f)
	require.NoError(t, err)
	require.NotNil(t, tail)
	require.True(t, tail.Ramp().IsNone())
	require.Equal(t, ramp.Min, m.Ramp().End)
	m.RemoveRef()
	tail.RemoveRef()
}

func TestSetRampFitsWithoutSplit(t *testing.T) {
	f := testFactory(t)
	format := stereo16(44100)
	perSample, _ := jiffiesPerSample(format.SampleRate)
	m, err := f.NewAudioPcm(make([]byte, 20*format.BytesPerSample()), format, 0)
	require.NoError(t, err)

	remaining := perSample * 100
	tail, err := m.SetRamp(ramp.Max, remaining, ramp.Down, f)
	require.NoError(t, err)
	require.Nil(t, tail)
	m.RemoveRef()
}

func TestSilenceSplitAndMaterialiseIsBitExactZero(t *testing.T) {
	f := testFactory(t)
	format := stereo16(44100)
	s := f.NewSilence(jiffiesToBytesJiffies(t, format, 100), format)
	tail, err := s.SplitJiffies(jiffiesToBytesJiffies(t, format, 40), f)
	require.NoError(t, err)
	require.Equal(t, s.Jiffies()+tail.Jiffies(), jiffiesToBytesJiffies(t, format, 100))

	pcm, err := s.Materialise(format, f)
	require.NoError(t, err)
	for _, b := range pcm.Bytes() {
		require.Equal(t, byte(0), b)
	}
	s.RemoveRef()
	tail.RemoveRef()
	pcm.RemoveRef()
}

func jiffiesToBytesJiffies(t *testing.T, f AudioFormat, samples int64) int64 {
	t.Helper()
	perSample, ok := jiffiesPerSample(f.SampleRate)
	require.True(t, ok)
	return perSample * samples
}

func TestAudioEncodedSplitIsZeroCopy(t *testing.T) {
	f := testFactory(t)
	data := []byte("the quick brown fox jumps over the lazy dog")
	m, err := f.NewAudioEncoded(data)
	require.NoError(t, err)
	tail, err := m.Split(9, f)
	require.NoError(t, err)
	require.Equal(t, "the quick", string(m.Bytes()))
	require.Equal(t, " brown fox jumps over the lazy dog", string(tail.Bytes()))
	m.RemoveRef()
	tail.RemoveRef()
}

// dispatchRecorder is a Processor that records which variant it saw, for
// visitor-dispatch tests.
type dispatchRecorder struct {
	BaseProcessor
	saw string
}

func (r *dispatchRecorder) ProcessHalt(m *MsgHalt) Msg {
	r.saw = "halt"
	return nil
}

func TestVisitorDispatchRoutesToOverriddenMethod(t *testing.T) {
	f := testFactory(t)
	h := f.NewHalt(f.NextHaltID())
	r := &dispatchRecorder{}
	out := h.Dispatch(r)
	require.Nil(t, out)
	require.Equal(t, "halt", r.saw)
	h.RemoveRef()
}

func TestVisitorDispatchPanicsOnUnhandledVariant(t *testing.T) {
	f := testFactory(t)
	m := f.NewWait()
	r := &dispatchRecorder{}
	require.Panics(t, func() {
		m.Dispatch(r)
	})
	m.RemoveRef()
}

func TestHandlerRegistryDetectsStaleHandle(t *testing.T) {
	reg := NewHandlerRegistry()
	h := &noopHandler{}
	ref := reg.Register(h)
	_, ok := reg.Resolve(ref)
	require.True(t, ok)
	reg.Unregister(ref)
	_, ok = reg.Resolve(ref)
	require.False(t, ok)
}

type noopHandler struct{}

func (noopHandler) OkToPlay(uint32) OkToPlayResult                 { return OkToPlayYes }
func (noopHandler) TrySeek(uint32, int64) (uint32, bool)           { return 0, false }
func (noopHandler) TryStop(uint32) (uint32, bool)                  { return 0, false }
func (noopHandler) NotifyStarving(string, uint32, bool)            {}
