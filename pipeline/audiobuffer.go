package pipeline

import "fmt"

// AudioFormat describes the numeric parameters of a decoded stream: sample
// rate, bit depth and channel count are constant within a stream per
// spec.md §3.
type AudioFormat struct {
	SampleRate int
	BitDepth   int
	Channels   int
}

// BytesPerSample is the interleaved-frame size in bytes (all channels, one
// sample period).
func (f AudioFormat) BytesPerSample() int {
	return (f.BitDepth / 8) * f.Channels
}

// audioBuffer is the pooled byte buffer backing AudioPcm and (once
// materialised) Silence messages — the Go analogue of ohPipeline's
// DecodedAudio. It is ref-counted independently of any Msg that points
// into it, so a zero-copy split just takes a new reference and adjusts
// offset/length (spec.md §4.1 rationale).
type audioBuffer struct {
	refCount
	pool *Pool[*audioBuffer]
	data []byte // fixed-capacity backing store, reused across allocations
	n    int    // bytes actually populated
}

func newAudioBuffer(maxBytes int) *audioBuffer {
	return &audioBuffer{data: make([]byte, maxBytes)}
}

func (b *audioBuffer) clear() {
	b.n = 0
	b.pool.release(b)
}

// fill copies src into the buffer's backing store. Errors if src is larger
// than the buffer's fixed capacity — a pool-sizing error, escalated per
// spec.md §7.1.
func (b *audioBuffer) fill(src []byte) error {
	if len(src) > cap(b.data) {
		return fmt.Errorf("audiobuffer: %d bytes exceeds cell capacity %d", len(src), cap(b.data))
	}
	b.data = b.data[:len(src)]
	copy(b.data, src)
	b.n = len(src)
	return nil
}

func (b *audioBuffer) bytes() []byte {
	return b.data[:b.n]
}

// NewAudioBufferPool builds the pool of pre-allocated audio-data cells that
// MsgAudioPcm and MsgSilence share, configured with (capacity, cellBytes)
// per spec.md §4.1.
func NewAudioBufferPool(capacity uint, cellBytes uint) *Pool[*audioBuffer] {
	p := NewPool("audio-buffer", capacity, cellBytes, func() *audioBuffer {
		return newAudioBuffer(int(cellBytes))
	})
	// Back-reference so clear() can release to the right pool without a
	// closure per cell (keeps allocation at construction time only).
	for _, c := range p.free {
		c.pool = p
	}
	return p
}
