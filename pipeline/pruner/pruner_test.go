package pruner

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

func stereo16(rate int) pipeline.AudioFormat {
	return pipeline.AudioFormat{SampleRate: rate, BitDepth: 16, Channels: 2}
}

// TestQuietMessagesDroppedWhileBufferingThenTrackAndAudioReleased mirrors
// SuitePruner::MsgsDiscarded: Mode/Delay/EncodedStream/MetaText/Wait never
// reach the caller, while Track is held until the AudioPcm that confirms
// the track actually played.
func TestQuietMessagesDroppedWhileBufferingThenTrackAndAudioReleased(t *testing.T) {
	f := newTestFactory(t)
	format := stereo16(44100)
	reg := pipeline.NewHandlerRegistry()
	ref := reg.Register(fakeHandler{})

	mode := f.NewMode("test", true, true)
	track := f.NewTrack(pipeline.Track{URI: "x://1"})
	delay := f.NewDelay(0)
	stream := f.NewEncodedStream("x://1", "", true, false, ref)
	meta := f.NewMetaText("dummy")
	wait := f.NewWait()
	pcm, err := f.NewAudioPcm(make([]byte, 16), format, 0)
	require.NoError(t, err)

	p := New(queuePuller([]pipeline.Msg{mode, track, delay, stream, meta, wait, pcm}))

	got1 := p.Pull()
	trackOut, ok := got1.(*pipeline.MsgTrack)
	require.True(t, ok)
	trackOut.RemoveRef()

	got2 := p.Pull()
	pcmOut, ok := got2.(*pipeline.MsgAudioPcm)
	require.True(t, ok)
	pcmOut.RemoveRef()
}

type fakeHandler struct{}

func (fakeHandler) OkToPlay(uint32) pipeline.OkToPlayResult { return pipeline.OkToPlayYes }
func (fakeHandler) TrySeek(uint32, int64) (uint32, bool)    { return 0, false }
func (fakeHandler) TryStop(uint32) (uint32, bool)           { return 0, false }
func (fakeHandler) NotifyStarving(string, uint32, bool)     {}

// TestQuitFlushesPendingTrackWithoutWaitingForAudio mirrors
// SuitePruner::QuitDoesntWaitForAudio.
func TestQuitFlushesPendingTrackWithoutWaitingForAudio(t *testing.T) {
	f := newTestFactory(t)
	reg := pipeline.NewHandlerRegistry()
	ref := reg.Register(fakeHandler{})

	track := f.NewTrack(pipeline.Track{URI: "x://1"})
	stream := f.NewEncodedStream("x://1", "", true, false, ref)
	quit := f.NewQuit()

	p := New(queuePuller([]pipeline.Msg{track, stream, quit}))

	got1 := p.Pull()
	trackOut, ok := got1.(*pipeline.MsgTrack)
	require.True(t, ok)
	trackOut.RemoveRef()

	got2 := p.Pull()
	quitOut, ok := got2.(*pipeline.MsgQuit)
	require.True(t, ok)
	quitOut.RemoveRef()
}

// TestHaltPassedOnAfterFlushingPendingTrack mirrors
// SuitePruner::HaltPassedOn: a Halt arriving before any DecodedStream is
// buffered like Track, then released (along with Track) the moment audio
// proves the track real.
func TestHaltPassedOnAfterFlushingPendingTrack(t *testing.T) {
	f := newTestFactory(t)
	format := stereo16(44100)
	reg := pipeline.NewHandlerRegistry()
	ref := reg.Register(fakeHandler{})

	track := f.NewTrack(pipeline.Track{URI: "x://1"})
	stream := f.NewEncodedStream("x://1", "", true, false, ref)
	halt := f.NewHalt(1)
	pcm, err := f.NewAudioPcm(make([]byte, 16), format, 0)
	require.NoError(t, err)

	p := New(queuePuller([]pipeline.Msg{track, stream, halt, pcm}))

	got1 := p.Pull()
	trackOut, ok := got1.(*pipeline.MsgTrack)
	require.True(t, ok)
	trackOut.RemoveRef()

	got2 := p.Pull()
	haltOut, ok := got2.(*pipeline.MsgHalt)
	require.True(t, ok)
	haltOut.RemoveRef()

	got3 := p.Pull()
	pcmOut, ok := got3.(*pipeline.MsgAudioPcm)
	require.True(t, ok)
	pcmOut.RemoveRef()
}

// TestDecodedStreamPassedOnAfterFlushingPendingTrack mirrors
// SuitePruner::DecodedStreamPassedOn.
func TestDecodedStreamPassedOnAfterFlushingPendingTrack(t *testing.T) {
	f := newTestFactory(t)
	format := stereo16(44100)
	reg := pipeline.NewHandlerRegistry()
	ref := reg.Register(fakeHandler{})

	track := f.NewTrack(pipeline.Track{URI: "x://1"})
	stream := f.NewEncodedStream("x://1", "", true, false, ref)
	ds := f.NewDecodedStream(format, "pcm", 0, 0, true, true, false, 1, ref)
	pcm, err := f.NewAudioPcm(make([]byte, 16), format, 0)
	require.NoError(t, err)

	p := New(queuePuller([]pipeline.Msg{track, stream, ds, pcm}))

	got1 := p.Pull()
	trackOut, ok := got1.(*pipeline.MsgTrack)
	require.True(t, ok)
	trackOut.RemoveRef()

	got2 := p.Pull()
	dsOut, ok := got2.(*pipeline.MsgDecodedStream)
	require.True(t, ok)
	dsOut.RemoveRef()

	got3 := p.Pull()
	pcmOut, ok := got3.(*pipeline.MsgAudioPcm)
	require.True(t, ok)
	pcmOut.RemoveRef()
}

// TestFailedTrackDiscardsEverythingUntilNextTrackPlays mirrors
// SuitePruner::TrackWithoutAudioAllMsgsDiscarded: a track that reaches
// DecodedStream and Halt but never produces audio is discarded in full
// (Track, DecodedStream and Halt all vanish) the moment the next Track
// starts a fresh buffer; only the second track's events survive.
func TestFailedTrackDiscardsEverythingUntilNextTrackPlays(t *testing.T) {
	f := newTestFactory(t)
	format := stereo16(44100)
	reg := pipeline.NewHandlerRegistry()
	ref := reg.Register(fakeHandler{})

	trackA := f.NewTrack(pipeline.Track{URI: "x://a"})
	streamA := f.NewEncodedStream("x://a", "", true, false, ref)
	dsA := f.NewDecodedStream(format, "pcm", 0, 0, true, true, false, 1, ref)
	haltA := f.NewHalt(1)
	trackB := f.NewTrack(pipeline.Track{URI: "x://b"})
	streamB := f.NewEncodedStream("x://b", "", true, false, ref)
	dsB := f.NewDecodedStream(format, "pcm", 0, 0, true, true, false, 2, ref)
	pcmB, err := f.NewAudioPcm(make([]byte, 16), format, 0)
	require.NoError(t, err)

	p := New(queuePuller([]pipeline.Msg{trackA, streamA, dsA, haltA, trackB, streamB, dsB, pcmB}))

	got1 := p.Pull()
	trackOut, ok := got1.(*pipeline.MsgTrack)
	require.True(t, ok)
	require.Equal(t, "x://b", trackOut.Track.URI)
	trackOut.RemoveRef()

	got2 := p.Pull()
	dsOut, ok := got2.(*pipeline.MsgDecodedStream)
	require.True(t, ok)
	dsOut.RemoveRef()

	got3 := p.Pull()
	pcmOut, ok := got3.(*pipeline.MsgAudioPcm)
	require.True(t, ok)
	pcmOut.RemoveRef()
}

// TestSilenceUnblocksPendingTrackMsgs mirrors
// SuitePruner::SilenceUnblocksTrackMsgs.
func TestSilenceUnblocksPendingTrackMsgs(t *testing.T) {
	f := newTestFactory(t)
	format := stereo16(44100)
	reg := pipeline.NewHandlerRegistry()
	ref := reg.Register(fakeHandler{})

	track := f.NewTrack(pipeline.Track{URI: "x://1"})
	stream := f.NewEncodedStream("x://1", "", true, false, ref)
	ds := f.NewDecodedStream(format, "pcm", 0, 0, true, true, false, 1, ref)
	silence := f.NewSilence(1280, format)

	p := New(queuePuller([]pipeline.Msg{track, stream, ds, silence}))

	got1 := p.Pull()
	trackOut, ok := got1.(*pipeline.MsgTrack)
	require.True(t, ok)
	trackOut.RemoveRef()

	got2 := p.Pull()
	dsOut, ok := got2.(*pipeline.MsgDecodedStream)
	require.True(t, ok)
	dsOut.RemoveRef()

	got3 := p.Pull()
	silenceOut, ok := got3.(*pipeline.MsgSilence)
	require.True(t, ok)
	silenceOut.RemoveRef()
}
