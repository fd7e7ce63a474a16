package main

import (
	"encoding/binary"
	"errors"

	"playpipe/pipeline"
	"playpipe/pipeline/codec"
)

// pcmHeaderBytes is the demo wire header rtpProtocol prefixes every
// stream with: a 4-byte magic, then sample rate, bit depth and channel
// count, so pcmCodec can recognise and decode it without any real codec
// library (spec.md §1 Non-goals excludes concrete codecs; only the
// codec.Codec interface they plug into is in scope).
const pcmHeaderBytes = 10

var pcmMagic = [4]byte{'P', 'C', 'M', '1'}

// pcmCodec is the demo's only registered codec.Codec: it recognises the
// rtpProtocol wire header and republishes the remaining bytes as PCM16
// decoded audio unchanged, the simplest possible stand-in for a real
// decoder (spec.md §4.4's controller drives any Codec identically).
type pcmCodec struct {
	streamID uint32
}

func (pcmCodec) Name() string { return "pcm" }

func (pcmCodec) Recognise(header []byte) bool {
	if len(header) < 4 {
		return false
	}
	return header[0] == pcmMagic[0] && header[1] == pcmMagic[1] && header[2] == pcmMagic[2] && header[3] == pcmMagic[3]
}

func (c pcmCodec) Process(ctl codec.Controller) error {
	hdr, err := ctl.Read(pcmHeaderBytes)
	if err != nil {
		return err
	}
	if !c.Recognise(hdr) {
		return errors.New("pcmcodec: missing magic after recognise")
	}
	format := pipeline.AudioFormat{
		SampleRate: int(binary.LittleEndian.Uint32(hdr[4:8])),
		BitDepth:   int(hdr[8]),
		Channels:   int(hdr[9]),
	}
	ctl.OutputDecodedStream(format, c.Name(), 0, 0, true, false, true, c.streamID, pipeline.HandlerRef{})

	const chunkBytes = 4096
	for {
		data, err := ctl.Read(chunkBytes)
		if err != nil {
			return err
		}
		cp := make([]byte, len(data))
		copy(cp, data)
		if err := ctl.OutputPcm(cp, format, 0); err != nil {
			return err
		}
	}
}

var _ codec.Codec = pcmCodec{}
