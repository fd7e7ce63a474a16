package rewinder

import (
	"testing"

	"github.com/stretchr/testify/require"

	"playpipe/pipeline"
)

type fakeHandler struct{}

func (fakeHandler) OkToPlay(uint32) pipeline.OkToPlayResult { return pipeline.OkToPlayYes }
func (fakeHandler) TrySeek(uint32, int64) (uint32, bool)    { return 0, false }
func (fakeHandler) TryStop(uint32) (uint32, bool)           { return 0, false }
func (fakeHandler) NotifyStarving(string, uint32, bool)     {}

func newFixture(t *testing.T) (*pipeline.Factory, *pipeline.HandlerRegistry) {
	t.Helper()
	cfg := pipeline.DefaultFactoryConfig()
	cfg.AudioEncoded.CellBytes = 1024
	return pipeline.NewFactory(cfg), pipeline.NewHandlerRegistry()
}

func queuePuller(msgs []pipeline.Msg) pipeline.Puller {
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

func TestRewinderPassesThroughWithoutBuffering(t *testing.T) {
	f, reg := newFixture(t)
	ref := reg.Register(fakeHandler{})
	stream := f.NewEncodedStream("x://1", "", true, false, ref)
	chunk, err := f.NewAudioEncoded([]byte("hello"))
	require.NoError(t, err)

	r := New(f, queuePuller([]pipeline.Msg{stream, chunk}), reg)
	got := r.Pull()
	require.IsType(t, &pipeline.MsgEncodedStream{}, got)
	got.RemoveRef()
	r.Stop() // EncodedStream always opens one buffering level

	got2 := r.Pull()
	enc, ok := got2.(*pipeline.MsgAudioEncoded)
	require.True(t, ok)
	require.Equal(t, "hello", string(enc.Bytes()))
	enc.RemoveRef()
}

func TestRewindReplaysBufferedMessages(t *testing.T) {
	f, reg := newFixture(t)
	ref := reg.Register(fakeHandler{})
	stream := f.NewEncodedStream("x://1", "", true, false, ref)
	c1, err := f.NewAudioEncoded([]byte("abc"))
	require.NoError(t, err)
	c2, err := f.NewAudioEncoded([]byte("def"))
	require.NoError(t, err)

	r := New(f, queuePuller([]pipeline.Msg{stream, c1, c2}), reg)

	s := r.Pull() // opens buffering level 1, clones itself into next
	s.RemoveRef()
	a := r.Pull() // cloned into next too
	require.Equal(t, "abc", string(a.(*pipeline.MsgAudioEncoded).Bytes()))
	a.RemoveRef()

	r.Rewind() // replay everything captured since buffering began

	replayedStream := r.Pull()
	require.IsType(t, &pipeline.MsgEncodedStream{}, replayedStream)
	replayedStream.RemoveRef()
	replayedA := r.Pull()
	require.Equal(t, "abc", string(replayedA.(*pipeline.MsgAudioEncoded).Bytes()))
	replayedA.RemoveRef()

	b := r.Pull()
	require.Equal(t, "def", string(b.(*pipeline.MsgAudioEncoded).Bytes()))
	b.RemoveRef()
}
