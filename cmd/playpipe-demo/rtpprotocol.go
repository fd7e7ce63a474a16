package main

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"sync/atomic"

	"github.com/pion/rtp"

	"playpipe/pipeline/filler"
)

// rtpSamplesPerPacket mirrors a typical 20ms frame at 48kHz mono, the
// framing media_bridge.go and silence_filler.go use for their RTP
// traffic.
const rtpSamplesPerPacket = 960

// rtpProtocol is the demo's only registered filler.Protocol: rather than
// opening a real transport (out of scope per spec.md §1), it synthesizes
// a sine wave, frames it into rtp.Packets the way media_bridge.go frames
// outgoing audio, marshals and unmarshals each packet (so pion/rtp's
// wire codec is actually exercised, not just its struct), and feeds the
// recovered payload into the pipeline as PCM1-framed encoded bytes.
type rtpProtocol struct {
	sampleRate int
	freqHz     float64
	packets    int

	interrupted atomic.Bool
}

func newRTPProtocol(sampleRate int, freqHz float64, packets int) *rtpProtocol {
	return &rtpProtocol{sampleRate: sampleRate, freqHz: freqHz, packets: packets}
}

func (p *rtpProtocol) Stream(ctx context.Context, uri string, sink filler.EncodedSink) filler.StreamResult {
	sink.PushEncodedStream(uri, false, true)

	header := make([]byte, pcmHeaderBytes)
	copy(header, pcmMagic[:])
	binary.LittleEndian.PutUint32(header[4:8], uint32(p.sampleRate))
	header[8] = 16
	header[9] = 1
	sink.PushAudioEncoded(header)

	var ssrc uint32 = 0xC0FFEE
	var seq uint16
	var sampleIndex int

	for i := 0; i < p.packets; i++ {
		if p.interrupted.Load() {
			sink.PushHalt()
			return filler.StreamStopped
		}
		select {
		case <-ctx.Done():
			sink.PushHalt()
			return filler.StreamStopped
		default:
		}

		payload := make([]byte, rtpSamplesPerPacket*2)
		for s := 0; s < rtpSamplesPerPacket; s++ {
			angle := 2 * math.Pi * p.freqHz * float64(sampleIndex) / float64(p.sampleRate)
			sample := int16(0.2 * math.MaxInt16 * math.Sin(angle))
			binary.LittleEndian.PutUint16(payload[s*2:s*2+2], uint16(sample))
			sampleIndex++
		}

		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    96,
				SequenceNumber: seq,
				Timestamp:      uint32(sampleIndex),
				SSRC:           ssrc,
			},
			Payload: payload,
		}
		seq++

		wire, err := pkt.Marshal()
		if err != nil {
			sink.PushHalt()
			return filler.StreamUnrecoverableError
		}

		var recv rtp.Packet
		if err := recv.Unmarshal(wire); err != nil {
			sink.PushHalt()
			return filler.StreamUnrecoverableError
		}

		sink.PushAudioEncoded(recv.Payload)
	}

	sink.PushHalt()
	return filler.StreamSuccess
}

func (p *rtpProtocol) Get(io.Writer, string, int64, int64) filler.GetResult {
	return filler.GetNotSupported
}

func (p *rtpProtocol) Interrupt(enabled bool) {
	p.interrupted.Store(enabled)
}

var _ filler.Protocol = (*rtpProtocol)(nil)
