package sink

import (
	"encoding/binary"
	"errors"

	msdk "github.com/livekit/media-sdk"

	"playpipe/pipeline"
)

// ErrUnsupportedBitDepth is returned by PCM16Processor for any depth other
// than 16: the demo sink it adapts to only ever animates 16-bit audio, the
// way tgPlayoutSink in the teacher only ever receives msdk.PCM16Sample.
var ErrUnsupportedBitDepth = errors.New("sink: PCM16Processor only accepts 16-bit samples")

// PCM16Processor adapts a Playable's bit-depth-specialised Read callback
// onto an msdk.PCM16Writer, converting sample-interleaved little-endian
// bytes (spec.md §6 "the sink's processor callbacks... expect
// sample-interleaved bytes") into msdk.PCM16Sample the way
// bridge/pipeline/tg_playout_sink.go's WriteSample does, in reverse
// (bytes -> samples instead of samples -> bytes).
type PCM16Processor struct {
	Writer msdk.PCM16Writer

	scratch msdk.PCM16Sample
}

func (p *PCM16Processor) Process8([]byte) error  { return ErrUnsupportedBitDepth }
func (p *PCM16Processor) Process24([]byte) error { return ErrUnsupportedBitDepth }

func (p *PCM16Processor) Process16(samples []byte) error {
	n := len(samples) / 2
	if cap(p.scratch) < n {
		p.scratch = make(msdk.PCM16Sample, n)
	}
	p.scratch = p.scratch[:n]
	for i := 0; i < n; i++ {
		p.scratch[i] = int16(binary.LittleEndian.Uint16(samples[i*2 : i*2+2]))
	}
	return p.Writer.WriteSample(p.scratch)
}

var _ pipeline.SampleProcessor = (*PCM16Processor)(nil)
