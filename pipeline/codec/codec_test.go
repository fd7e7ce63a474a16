package codec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"playpipe/pipeline"
)

type stubPcmCodec struct {
	magic []byte
}

func (c *stubPcmCodec) Name() string { return "stub" }

func (c *stubPcmCodec) Recognise(header []byte) bool {
	return len(header) >= len(c.magic) && string(header[:len(c.magic)]) == string(c.magic)
}

func (c *stubPcmCodec) Process(ctrl Controller) error {
	ctrl.OutputDecodedStream(pipeline.AudioFormat{SampleRate: 44100, BitDepth: 16, Channels: 2}, c.Name(), 0, 0, true, false, false, 1, pipeline.HandlerRef{})
	for {
		data, err := ctrl.Read(4)
		if err != nil {
			return err
		}
		if err := ctrl.OutputPcm(data, pipeline.AudioFormat{SampleRate: 44100, BitDepth: 16, Channels: 2}, 0); err != nil {
			return err
		}
	}
}

func newTestFactory(t *testing.T) *pipeline.Factory {
	t.Helper()
	cfg := pipeline.DefaultFactoryConfig()
	cfg.AudioEncoded.CellBytes = 32 * 1024
	cfg.AudioPcm.CellBytes = 4 * 1024
	return pipeline.NewFactory(cfg)
}

func staticPuller(msgs []pipeline.Msg) pipeline.Puller {
	i := 0
	return pipeline.PullerFunc(func() pipeline.Msg {
		if i >= len(msgs) {
			return nil
		}
		m := msgs[i]
		i++
		return m
	})
}

func TestCodecControllerRecognisesAndDecodes(t *testing.T) {
	f := newTestFactory(t)
	track := f.NewTrack(pipeline.Track{URI: "x://1"})
	encStream := f.NewEncodedStream("x://1", "", false, false, pipeline.HandlerRef{})
	body, err := f.NewAudioEncoded(append([]byte("STUB"), make([]byte, 12)...))
	require.NoError(t, err)
	quit := f.NewQuit()

	var out []pipeline.Msg
	push := func(m pipeline.Msg) { out = append(out, m) }

	c := New(f, staticPuller([]pipeline.Msg{track, encStream, body, quit}), push)
	c.AddCodec(&stubPcmCodec{magic: []byte("STUB")})
	c.Run()

	var sawDecodedStream, sawPcm bool
	for _, m := range out {
		switch m.(type) {
		case *pipeline.MsgDecodedStream:
			sawDecodedStream = true
		case *pipeline.MsgAudioPcm:
			sawPcm = true
		}
		m.RemoveRef()
	}
	require.True(t, sawDecodedStream)
	require.True(t, sawPcm)
}

func TestCodecControllerDropsUnsupportedData(t *testing.T) {
	f := newTestFactory(t)
	track := f.NewTrack(pipeline.Track{URI: "x://1"})
	encStream := f.NewEncodedStream("x://1", "", false, false, pipeline.HandlerRef{})
	body, err := f.NewAudioEncoded(make([]byte, 16))
	require.NoError(t, err)
	track2 := f.NewTrack(pipeline.Track{URI: "x://2"})
	quit := f.NewQuit()

	var out []pipeline.Msg
	push := func(m pipeline.Msg) { out = append(out, m) }

	c := New(f, staticPuller([]pipeline.Msg{track, encStream, body, track2, quit}), push)
	c.AddCodec(&stubPcmCodec{magic: []byte("STUB")})
	c.Run()

	for _, m := range out {
		_, isPcm := m.(*pipeline.MsgAudioPcm)
		require.False(t, isPcm, "no codec recognised the data; no pcm should be produced")
		m.RemoveRef()
	}
}

func TestStreamingControlSignalsAreDistinctSentinels(t *testing.T) {
	require.False(t, errors.Is(ErrStreamStart, ErrStreamFlush))
	require.False(t, errors.Is(ErrStreamEnded, ErrStreamCorrupt))
}
