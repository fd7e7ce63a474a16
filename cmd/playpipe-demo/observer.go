package main

import (
	"github.com/livekit/protocol/logger"

	"playpipe/observer"
	"playpipe/pipeline"
)

// logObserver is the demo's observer.Observer: it just narrates
// transitions via a logger.Logger, the same field shape
// silence_filler.go threads through its handlers.
type logObserver struct {
	log logger.Logger
}

func (o *logObserver) NotifyState(state observer.State) {
	o.log.Infow("state", "state", state.String())
}

func (o *logObserver) NotifyTrack(track pipeline.Track, mode string, pipelineID uint32) {
	o.log.Infow("track", "uri", track.URI, "mode", mode, "pipeline_id", pipelineID)
}

func (o *logObserver) NotifyMetatext(text string) {
	o.log.Infow("metatext", "text", text)
}

func (o *logObserver) NotifyTime(secs, durationSecs int64) {
	o.log.Infow("time", "secs", secs, "duration_secs", durationSecs)
}

func (o *logObserver) NotifyStreamInfo(info observer.StreamInfo) {
	o.log.Infow("stream_info", "codec", info.CodecName, "sample_rate", info.Format.SampleRate, "lossless", info.Lossless)
}

var _ observer.Observer = (*logObserver)(nil)
