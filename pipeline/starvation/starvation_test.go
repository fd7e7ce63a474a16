package starvation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"playpipe/pipeline"
	"playpipe/pipeline/ramp"
)

type fakeHandler struct {
	starvingCalls []bool
}

func (h *fakeHandler) OkToPlay(uint32) pipeline.OkToPlayResult { return pipeline.OkToPlayYes }
func (h *fakeHandler) TrySeek(uint32, int64) (uint32, bool)    { return 0, false }
func (h *fakeHandler) TryStop(uint32) (uint32, bool)           { return 0, false }
func (h *fakeHandler) NotifyStarving(mode string, streamID uint32, starving bool) {
	h.starvingCalls = append(h.starvingCalls, starving)
}

type captureObserver struct{ events []bool }

func (o *captureObserver) NotifyBuffering(b bool) { o.events = append(o.events, b) }

// chanPuller lets a test drive the ramper's background fill goroutine one
// message at a time: Pull blocks until the test sends the next message.
type chanPuller struct{ ch chan pipeline.Msg }

func (p chanPuller) Pull() pipeline.Msg { return <-p.ch }

func newTestFactory(t *testing.T) *pipeline.Factory {
	t.Helper()
	cfg := pipeline.DefaultFactoryConfig()
	cfg.AudioPcm.CellBytes = 4096
	return pipeline.NewFactory(cfg)
}

func stereo16(rate int) pipeline.AudioFormat {
	return pipeline.AudioFormat{SampleRate: rate, BitDepth: 16, Channels: 2}
}

// TestPassthroughWhenBufferedAudioAvailable verifies the ramper is a
// transparent passthrough as long as the background fill keeps ahead of
// Pull (spec.md §4.9 "no underrun").
func TestPassthroughWhenBufferedAudioAvailable(t *testing.T) {
	f := newTestFactory(t)
	reg := pipeline.NewHandlerRegistry()
	handler := &fakeHandler{}
	ref := reg.Register(handler)
	obs := &captureObserver{}

	format := stereo16(44100)
	ds := f.NewDecodedStream(format, "pcm", 0, 0, true, true, false, 1, ref)
	pcm, err := f.NewAudioPcm(make([]byte, 16), format, 0)
	require.NoError(t, err)

	ch := make(chan pipeline.Msg, 2)
	ch <- ds
	ch <- pcm
	r := New(f, chanPuller{ch}, reg, obs, Config{MaxJiffies: 1 << 20, RampDownJiffies: 2560, RampUpJiffies: 2560})
	defer r.Close()

	got1 := r.Pull()
	dsOut, ok := got1.(*pipeline.MsgDecodedStream)
	require.True(t, ok)
	dsOut.RemoveRef()

	got2 := r.Pull()
	pcmOut, ok := got2.(*pipeline.MsgAudioPcm)
	require.True(t, ok)
	require.Equal(t, ramp.Max, pcmOut.Ramp().End, "passthrough audio carries no ramp")
	pcmOut.RemoveRef()
	require.Empty(t, obs.events, "no buffering notification without an underrun")
}

// TestUnderrunSynthesizesRampDownHaltThenRampsUpOnResume drives the ramper
// through a real starvation episode: real audio plays (its 4 samples exceed
// the 2-sample recent-audio window, so the window ends up empty), upstream
// then stalls, Pull must synthesize a ramp-to-silence
// followed by a Halt instead of blocking forever, and audio resuming after
// the Halt must ramp back up from silence (spec.md §4.9 "flywheel").
func TestUnderrunSynthesizesRampDownHaltThenRampsUpOnResume(t *testing.T) {
	f := newTestFactory(t)
	reg := pipeline.NewHandlerRegistry()
	handler := &fakeHandler{}
	ref := reg.Register(handler)
	obs := &captureObserver{}

	format := stereo16(44100) // 1280 jiffies/sample, 4 bytes/sample
	const rampJiffies = 2560  // 2 samples

	ds := f.NewDecodedStream(format, "pcm", 0, 0, true, true, false, 1, ref)
	seedData := make([]byte, 16) // 4 samples of real (silent, but genuine) audio
	pcm, err := f.NewAudioPcm(seedData, format, 0)
	require.NoError(t, err)

	ch := make(chan pipeline.Msg, 2)
	ch <- ds
	ch <- pcm
	r := New(f, chanPuller{ch}, reg, obs, Config{MaxJiffies: 1 << 20, RampDownJiffies: rampJiffies, RampUpJiffies: rampJiffies})
	defer r.Close()

	got1 := r.Pull()
	got1.(*pipeline.MsgDecodedStream).RemoveRef()

	got2 := r.Pull()
	seedMsg := got2.(*pipeline.MsgAudioPcm)
	require.Equal(t, Running, r.state)
	seedMsg.RemoveRef()

	// Upstream has nothing more queued: the next Pull must not block on the
	// channel. It should instead synthesize a ramp-down, here from an
	// empty seed since the recent-audio window was trimmed to nothing.
	got3 := r.Pull()
	rampedDown, ok := got3.(*pipeline.MsgAudioPcm)
	require.True(t, ok, "underrun must synthesize ramp-down audio, not block")
	require.Equal(t, ramp.Min, rampedDown.Ramp().End)
	rampedDown.RemoveRef()
	require.Contains(t, handler.starvingCalls, true)
	require.Contains(t, obs.events, true)

	got4 := r.Pull()
	halt, ok := got4.(*pipeline.MsgHalt)
	require.True(t, ok)
	halt.RemoveRef()
	require.Equal(t, Halted, r.state)

	// Real audio resumes: the ramper must ramp it up from silence rather
	// than passing it straight through at full gain.
	resumeData := make([]byte, 8) // 2 samples, exactly the configured ramp-up duration
	resume, err := f.NewAudioPcm(resumeData, format, 0)
	require.NoError(t, err)
	ch <- resume

	got5 := r.Pull()
	ramped, ok := got5.(*pipeline.MsgAudioPcm)
	require.True(t, ok)
	require.Equal(t, ramp.Max, ramped.Ramp().End, "the full ramp-up completes within one 2-sample message")
	ramped.RemoveRef()
	require.Equal(t, Running, r.state)
	require.Contains(t, handler.starvingCalls, false, "starving must clear once real audio flows again")
}
