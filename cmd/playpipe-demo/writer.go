package main

import (
	"fmt"

	msdk "github.com/livekit/media-sdk"
)

// consoleWriter is the demo's msdk.PCM16Writer: instead of driving real
// playout hardware it just counts samples and periodically reports
// progress, standing in for tgPlayoutSink's WriteSample in
// tg_playout_sink.go.
type consoleWriter struct {
	rate    int
	samples int64
}

func (w *consoleWriter) String() string  { return "playpipe-demo console sink" }
func (w *consoleWriter) SampleRate() int { return w.rate }

func (w *consoleWriter) WriteSample(s msdk.PCM16Sample) error {
	w.samples += int64(len(s))
	if w.samples%44100 < int64(len(s)) {
		fmt.Printf("played %.1fs\n", float64(w.samples)/44100)
	}
	return nil
}

var _ msdk.PCM16Writer = (*consoleWriter)(nil)
