// Package codec implements the codec controller: it accumulates encoded
// bytes up to a recognise window, asks each registered codec in turn
// whether it recognises the stream, then hands control to the winner
// until the stream ends, is flushed, or a new track starts (spec.md
// §4.4, grounded on OpenHome/Media/Codec/CodecController.cpp).
package codec

import (
	"errors"
	"sync"

	"playpipe/pipeline"
)

// Streaming-control signals a Codec's Process loop and the controller's
// Read calls use in place of CodecController.cpp's C++ exceptions
// (CodecStreamStart/Flush/Ended/Corrupt), per DESIGN NOTES §9.
var (
	ErrStreamStart   = errors.New("codec: new track started")
	ErrStreamFlush   = errors.New("codec: flush requested")
	ErrStreamEnded   = errors.New("codec: quit requested")
	ErrStreamCorrupt = errors.New("codec: active codec rejected stream data")
)

// Codec recognises and decodes one encoded format.
type Codec interface {
	Name() string
	// Recognise inspects up to RecogniseBytes of header and reports
	// whether this codec can decode the stream.
	Recognise(header []byte) bool
	// Process runs on the controller's decode goroutine, reading via c
	// until it returns one of the streaming-control errors above (which
	// it must propagate unchanged) or a genuine decode error.
	Process(c Controller) error
}

// Controller is the narrow interface a Codec uses to pull more encoded
// bytes and push decoded output downstream (ICodecController in the
// original).
type Controller interface {
	// Read blocks until n encoded bytes are available and returns them,
	// or a streaming-control error if the stream ends/flushes/restarts
	// first.
	Read(n int) ([]byte, error)
	OutputDecodedStream(format pipeline.AudioFormat, codecName string, totalSamples, startSample int64, lossless, seekable, live bool, streamID uint32, handler pipeline.HandlerRef)
	OutputPcm(data []byte, format pipeline.AudioFormat, trackOffset int64) error
}

// RecogniseBytes bounds how much header data a codec gets to inspect,
// mirroring CodecController.cpp's kMaxRecogniseBytes.
const RecogniseBytes = 6 * 1024

// CodecController drives the recognise/decode loop on its own goroutine,
// pulling from upstream and pushing decoded output downstream.
type CodecController struct {
	factory  *pipeline.Factory
	upstream pipeline.Puller
	push     func(pipeline.Msg)

	codecs []Codec
	active Codec

	mu         sync.Mutex
	pending    *pipeline.MsgAudioEncoded // accumulated bytes not yet consumed by the active codec
	streamID   uint32
	handlerRef pipeline.HandlerRef
	lastFormat pipeline.AudioFormat

	quit   bool
	signal error // not written: the visitor reports control signals through pullOne's return value
}

// New builds a controller. push delivers a message to the next
// downstream element (spec.md's element chaining convention).
func New(factory *pipeline.Factory, upstream pipeline.Puller, push func(pipeline.Msg)) *CodecController {
	return &CodecController{factory: factory, upstream: upstream, push: push}
}

// AddCodec registers a codec; recognise order follows registration
// order, matching the original's vector iteration.
func (c *CodecController) AddCodec(codec Codec) {
	c.codecs = append(c.codecs, codec)
}

// Run drives the controller until a MsgQuit is seen. Intended to run on
// its own goroutine (CodecController.cpp's dedicated "CDEC" thread).
func (c *CodecController) Run() {
	for !c.quit {
		c.active = nil

		// Phase 1: discard everything until a track starts a new
		// recognise cycle.
		if err := c.pullUntilSignal(); err != nil && !errors.Is(err, ErrStreamStart) {
			continue
		}

		// Phase 2: accumulate bytes up to the recognise window.
		for c.pendingBytes() < RecogniseBytes {
			if err := c.pullOne(); err != nil {
				break
			}
		}
		if c.pendingBytes() == 0 {
			continue
		}

		header := c.peekHeader(RecogniseBytes)
		c.active = nil
		for _, codec := range c.codecs {
			if codec.Recognise(header) {
				c.active = codec
				break
			}
		}
		if c.active == nil {
			// Unsupported data: drop everything accumulated and let the
			// next track try again (spec.md §7.2 concrete scenario).
			c.discardPending()
			continue
		}
		c.active.Process(c)
	}
}

// pullUntilSignal pulls and dispatches messages until one raises a
// streaming-control signal, which it then returns.
func (c *CodecController) pullUntilSignal() error {
	for {
		if err := c.pullOne(); err != nil {
			return err
		}
	}
}

// pullOne pulls a single upstream message, dispatches it to the visitor,
// and returns any streaming-control signal it raised.
func (c *CodecController) pullOne() error {
	m := c.upstream.Pull()
	if m == nil {
		c.quit = true
		return ErrStreamEnded
	}
	v := &visitor{c: c}
	m.Dispatch(v)
	if v.err != nil {
		err := v.err
		return err
	}
	return nil
}

func (c *CodecController) pendingBytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return 0
	}
	return c.pending.Len()
}

// peekHeader copies up to n bytes of the accumulated pending data,
// mirroring CopyTo's non-destructive read into a recognise buffer.
func (c *CodecController) peekHeader(n int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return nil
	}
	b := c.pending.Bytes()
	if len(b) > n {
		b = b[:n]
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (c *CodecController) discardPending() {
	c.mu.Lock()
	p := c.pending
	c.pending = nil
	c.mu.Unlock()
	if p != nil {
		p.RemoveRef()
	}
}

// Read implements Controller: it blocks until n bytes of encoded data
// have been accumulated, splitting the excess back into pending.
func (c *CodecController) Read(n int) ([]byte, error) {
	for c.pendingBytes() < n {
		if err := c.pullOne(); err != nil {
			return nil, err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var remaining *pipeline.MsgAudioEncoded
	if c.pending.Len() > n {
		tail, err := c.pending.Split(n, c.factory)
		if err != nil {
			return nil, err
		}
		remaining = tail
	}
	out := append([]byte{}, c.pending.Bytes()...)
	c.pending.RemoveRef()
	c.pending = remaining
	return out, nil
}

func (c *CodecController) OutputDecodedStream(format pipeline.AudioFormat, codecName string, totalSamples, startSample int64, lossless, seekable, live bool, streamID uint32, handler pipeline.HandlerRef) {
	c.lastFormat = format
	c.push(c.factory.NewDecodedStream(format, codecName, totalSamples, startSample, lossless, seekable, live, streamID, handler))
}

func (c *CodecController) OutputPcm(data []byte, format pipeline.AudioFormat, trackOffset int64) error {
	m, err := c.factory.NewAudioPcm(data, format, trackOffset)
	if err != nil {
		return err
	}
	c.push(m)
	return nil
}

// accumulate appends freshly pulled encoded bytes onto the pending
// buffer (CodecController.cpp's ProcessMsg(MsgAudioEncoded*) + Add()).
func (c *CodecController) accumulate(m *pipeline.MsgAudioEncoded) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		c.pending = m
		return
	}
	if err := c.pending.Add(m); err != nil {
		// Pathological: formats/buffers mismatch: drop the new data, the
		// active codec sees a short read and fails the stream instead of
		// wedging the decode thread.
		m.RemoveRef()
	}
}

// visitor is the CodecController's Processor: MsgTrack/MsgFlush/MsgQuit
// raise the corresponding streaming-control signal instead of throwing
// (DESIGN NOTES §9); everything else is either accumulated or forwarded.
type visitor struct {
	pipeline.BaseProcessor
	c   *CodecController
	err error
}

func (v *visitor) ProcessTrack(m *pipeline.MsgTrack) pipeline.Msg {
	v.c.push(m)
	v.err = ErrStreamStart
	return nil
}

func (v *visitor) ProcessEncodedStream(m *pipeline.MsgEncodedStream) pipeline.Msg {
	v.c.streamID = m.StreamID
	v.c.handlerRef = m.Handler
	v.c.push(m)
	return nil
}

func (v *visitor) ProcessAudioEncoded(m *pipeline.MsgAudioEncoded) pipeline.Msg {
	v.c.accumulate(m)
	return nil
}

func (v *visitor) ProcessMetaText(m *pipeline.MsgMetaText) pipeline.Msg {
	v.c.push(m)
	return nil
}

func (v *visitor) ProcessHalt(m *pipeline.MsgHalt) pipeline.Msg {
	v.c.push(m)
	return nil
}

func (v *visitor) ProcessFlush(m *pipeline.MsgFlush) pipeline.Msg {
	v.c.push(m)
	v.err = ErrStreamFlush
	return nil
}

func (v *visitor) ProcessQuit(m *pipeline.MsgQuit) pipeline.Msg {
	v.c.quit = true
	v.c.push(m)
	v.err = ErrStreamEnded
	return nil
}
