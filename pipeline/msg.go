// Package pipeline implements the audio processing graph's message model:
// a sealed family of ref-counted, pool-backed message variants dispatched
// through a per-element visitor (spec.md §3, §4.1, §4.2, §9).
package pipeline

import (
	"fmt"

	"playpipe/pipeline/ramp"
)

// Msg is the sealed family every pipeline stage exchanges. Concrete types
// are all declared in this package; Dispatch replaces downcasting with
// closed-variant dispatch (spec.md §4.2, DESIGN NOTES §9).
type Msg interface {
	AddRef()
	RemoveRef()
	// Dispatch hands this message to the matching Processor method and
	// returns whatever that method returns (a possibly different message,
	// or nil if the message was absorbed).
	Dispatch(Processor) Msg
	sealed()
}

// AudioMsg is implemented by the two variants that carry actual sample
// audio and participate in ramping/splitting: AudioPcm and Silence.
type AudioMsg interface {
	Msg
	Jiffies() int64
	Ramp() ramp.Descriptor
}

// Processor is the per-element visitor spec.md §4.2 describes: elements
// declare which variants they consume by overriding the matching method;
// everything else falls through to BaseProcessor's "unexpected ⇒ panic".
type Processor interface {
	ProcessMode(*MsgMode) Msg
	ProcessTrack(*MsgTrack) Msg
	ProcessDrain(*MsgDrain) Msg
	ProcessDelay(*MsgDelay) Msg
	ProcessEncodedStream(*MsgEncodedStream) Msg
	ProcessAudioEncoded(*MsgAudioEncoded) Msg
	ProcessMetaText(*MsgMetaText) Msg
	ProcessStreamInterrupted(*MsgStreamInterrupted) Msg
	ProcessDecodedStream(*MsgDecodedStream) Msg
	ProcessBitRate(*MsgBitRate) Msg
	ProcessAudioPcm(*MsgAudioPcm) Msg
	ProcessSilence(*MsgSilence) Msg
	ProcessPlayable(*MsgPlayable) Msg
	ProcessHalt(*MsgHalt) Msg
	ProcessFlush(*MsgFlush) Msg
	ProcessWait(*MsgWait) Msg
	ProcessQuit(*MsgQuit) Msg
}

// unexpected builds the panic value BaseProcessor raises for a variant an
// element never declared it handles.
func unexpected(variant string) string {
	return fmt.Sprintf("pipeline: unexpected message variant %s for this element", variant)
}

// BaseProcessor gives every method of Processor a default "unexpected ⇒
// panic" implementation. Elements embed it and override only the variants
// they consume (spec.md §4.2).
type BaseProcessor struct{}

func (BaseProcessor) ProcessMode(*MsgMode) Msg                             { panic(unexpected("Mode")) }
func (BaseProcessor) ProcessTrack(*MsgTrack) Msg                           { panic(unexpected("Track")) }
func (BaseProcessor) ProcessDrain(*MsgDrain) Msg                           { panic(unexpected("Drain")) }
func (BaseProcessor) ProcessDelay(*MsgDelay) Msg                           { panic(unexpected("Delay")) }
func (BaseProcessor) ProcessEncodedStream(*MsgEncodedStream) Msg           { panic(unexpected("EncodedStream")) }
func (BaseProcessor) ProcessAudioEncoded(*MsgAudioEncoded) Msg             { panic(unexpected("AudioEncoded")) }
func (BaseProcessor) ProcessMetaText(*MsgMetaText) Msg                     { panic(unexpected("MetaText")) }
func (BaseProcessor) ProcessStreamInterrupted(*MsgStreamInterrupted) Msg   { panic(unexpected("StreamInterrupted")) }
func (BaseProcessor) ProcessDecodedStream(*MsgDecodedStream) Msg           { panic(unexpected("DecodedStream")) }
func (BaseProcessor) ProcessBitRate(*MsgBitRate) Msg                       { panic(unexpected("BitRate")) }
func (BaseProcessor) ProcessAudioPcm(*MsgAudioPcm) Msg                     { panic(unexpected("AudioPcm")) }
func (BaseProcessor) ProcessSilence(*MsgSilence) Msg                       { panic(unexpected("Silence")) }
func (BaseProcessor) ProcessPlayable(*MsgPlayable) Msg                     { panic(unexpected("Playable")) }
func (BaseProcessor) ProcessHalt(*MsgHalt) Msg                             { panic(unexpected("Halt")) }
func (BaseProcessor) ProcessFlush(*MsgFlush) Msg                           { panic(unexpected("Flush")) }
func (BaseProcessor) ProcessWait(*MsgWait) Msg                             { panic(unexpected("Wait")) }
func (BaseProcessor) ProcessQuit(*MsgQuit) Msg                             { panic(unexpected("Quit")) }

// ---- Mode ------------------------------------------------------------

type MsgMode struct {
	refCount
	pool *Pool[*MsgMode]

	Name          string
	SupportsPause bool
	SupportsNext  bool
	// ClockPull marks a mode whose decoded reservoir should run a clock
	// puller observer for the duration of this stream (spec.md §4.7): the
	// only hook by which downstream hardware clock-rate estimation feeds
	// back into rate adaptation. Most modes leave this false.
	ClockPull bool
}

func (m *MsgMode) sealed()                     {}
func (m *MsgMode) Dispatch(p Processor) Msg    { return p.ProcessMode(m) }
func (m *MsgMode) clear()                      { *m = MsgMode{pool: m.pool}; m.pool.release(m) }

// ---- Track ------------------------------------------------------------

// Track is track metadata carried by MsgTrack.
type Track struct {
	URI      string
	Metadata string
}

type MsgTrack struct {
	refCount
	pool *Pool[*MsgTrack]

	Track   Track
	TrackID uint32
}

func (m *MsgTrack) sealed()                  {}
func (m *MsgTrack) Dispatch(p Processor) Msg { return p.ProcessTrack(m) }
func (m *MsgTrack) clear()                   { *m = MsgTrack{pool: m.pool}; m.pool.release(m) }

// ---- Drain ------------------------------------------------------------

type MsgDrain struct {
	refCount
	pool *Pool[*MsgDrain]

	Completed func()
}

func (m *MsgDrain) sealed()                  {}
func (m *MsgDrain) Dispatch(p Processor) Msg { return p.ProcessDrain(m) }
func (m *MsgDrain) clear()                   { *m = MsgDrain{pool: m.pool}; m.pool.release(m) }

// ---- Delay ------------------------------------------------------------

type MsgDelay struct {
	refCount
	pool *Pool[*MsgDelay]

	Jiffies int64
}

func (m *MsgDelay) sealed()                  {}
func (m *MsgDelay) Dispatch(p Processor) Msg { return p.ProcessDelay(m) }
func (m *MsgDelay) clear()                   { *m = MsgDelay{pool: m.pool}; m.pool.release(m) }

// ---- EncodedStream ------------------------------------------------------

type MsgEncodedStream struct {
	refCount
	pool *Pool[*MsgEncodedStream]

	URI      string
	Metadata string
	StreamID uint32
	Seekable bool
	Live     bool
	Handler  HandlerRef
}

func (m *MsgEncodedStream) sealed()                  {}
func (m *MsgEncodedStream) Dispatch(p Processor) Msg { return p.ProcessEncodedStream(m) }
func (m *MsgEncodedStream) clear()                   { *m = MsgEncodedStream{pool: m.pool}; m.pool.release(m) }

// ---- AudioEncoded -------------------------------------------------------

// MsgAudioEncoded carries an opaque, pool-backed encoded byte buffer that
// may be split/concatenated without copy (spec.md §3).
type MsgAudioEncoded struct {
	refCount
	pool *Pool[*MsgAudioEncoded]

	buf    *audioBuffer
	offset int
	length int
}

func (m *MsgAudioEncoded) sealed()                  {}
func (m *MsgAudioEncoded) Dispatch(p Processor) Msg { return p.ProcessAudioEncoded(m) }

func (m *MsgAudioEncoded) clear() {
	if m.buf != nil {
		m.buf.RemoveRef()
	}
	*m = MsgAudioEncoded{pool: m.pool}
	m.pool.release(m)
}

// Clone returns an independent message instance covering the same bytes,
// sharing the underlying buffer via an added reference. Unlike AddRef,
// the clone has its own offset/length: a later Split of either instance
// does not affect the other (pipeline/rewinder relies on this to keep a
// replay copy stable while the original continues downstream).
func (m *MsgAudioEncoded) Clone(f *Factory) *MsgAudioEncoded {
	c := f.encodedPool.Allocate()
	c.init(func() { c.clear() })
	m.buf.AddRef()
	c.buf = m.buf
	c.offset = m.offset
	c.length = m.length
	return c
}

// Bytes returns the slice of encoded bytes this message currently covers.
func (m *MsgAudioEncoded) Bytes() []byte {
	return m.buf.bytes()[m.offset : m.offset+m.length]
}

func (m *MsgAudioEncoded) Len() int { return m.length }

// Split divides the message at byte offset `at`, returning the tail as a
// new message sharing the same underlying buffer via an added reference
// (zero-copy, spec.md §3/§4.1 rationale).
func (m *MsgAudioEncoded) Split(at int, f *Factory) (*MsgAudioEncoded, error) {
	if at <= 0 || at >= m.length {
		return nil, fmt.Errorf("pipeline: AudioEncoded split at %d out of range [1,%d)", at, m.length)
	}
	tail := f.encodedPool.Allocate()
	tail.init(func() { tail.clear() })
	m.buf.AddRef()
	tail.buf = m.buf
	tail.offset = m.offset + at
	tail.length = m.length - at
	m.length = at
	return tail, nil
}

// ---- MetaText -----------------------------------------------------------

type MsgMetaText struct {
	refCount
	pool *Pool[*MsgMetaText]

	Text string
}

func (m *MsgMetaText) sealed()                  {}
func (m *MsgMetaText) Dispatch(p Processor) Msg { return p.ProcessMetaText(m) }
func (m *MsgMetaText) clear()                   { *m = MsgMetaText{pool: m.pool}; m.pool.release(m) }

// ---- StreamInterrupted ---------------------------------------------------

type MsgStreamInterrupted struct {
	refCount
	pool *Pool[*MsgStreamInterrupted]
}

func (m *MsgStreamInterrupted) sealed()                  {}
func (m *MsgStreamInterrupted) Dispatch(p Processor) Msg { return p.ProcessStreamInterrupted(m) }
func (m *MsgStreamInterrupted) clear()                   { *m = MsgStreamInterrupted{pool: m.pool}; m.pool.release(m) }

// ---- DecodedStream --------------------------------------------------------

type MsgDecodedStream struct {
	refCount
	pool *Pool[*MsgDecodedStream]

	Format      AudioFormat
	CodecName   string
	TotalSamples int64
	StartSample  int64
	Lossless     bool
	Seekable     bool
	Live         bool
	StreamID     uint32
	Handler      HandlerRef
}

func (m *MsgDecodedStream) sealed()                  {}
func (m *MsgDecodedStream) Dispatch(p Processor) Msg { return p.ProcessDecodedStream(m) }
func (m *MsgDecodedStream) clear()                   { *m = MsgDecodedStream{pool: m.pool}; m.pool.release(m) }

// ---- BitRate ---------------------------------------------------------------

type MsgBitRate struct {
	refCount
	pool *Pool[*MsgBitRate]

	BitsPerSecond int
}

func (m *MsgBitRate) sealed()                  {}
func (m *MsgBitRate) Dispatch(p Processor) Msg { return p.ProcessBitRate(m) }
func (m *MsgBitRate) clear()                   { *m = MsgBitRate{pool: m.pool}; m.pool.release(m) }

// ---- AudioPcm ---------------------------------------------------------------

// MsgAudioPcm carries decoded PCM samples, a ramp descriptor and a
// track-relative start offset; splittable on sample boundaries
// (spec.md §3).
type MsgAudioPcm struct {
	refCount
	pool *Pool[*MsgAudioPcm]

	buf    *audioBuffer
	offset int // bytes
	length int // bytes

	Format      AudioFormat
	rampD       ramp.Descriptor
	TrackOffset int64 // jiffies, position of first sample within the track
}

func (m *MsgAudioPcm) sealed()                  {}
func (m *MsgAudioPcm) Dispatch(p Processor) Msg { return p.ProcessAudioPcm(m) }

func (m *MsgAudioPcm) clear() {
	if m.buf != nil {
		m.buf.RemoveRef()
	}
	*m = MsgAudioPcm{pool: m.pool}
	m.pool.release(m)
}

func (m *MsgAudioPcm) Ramp() ramp.Descriptor { return m.rampD }

func (m *MsgAudioPcm) Bytes() []byte {
	return m.buf.bytes()[m.offset : m.offset+m.length]
}

// Jiffies returns the duration of this message's audio in jiffies.
func (m *MsgAudioPcm) Jiffies() int64 {
	bps := m.Format.BytesPerSample()
	if bps == 0 {
		return 0
	}
	samples := int64(m.length / bps)
	perSample, _ := jiffiesPerSample(m.Format.SampleRate)
	return samples * perSample
}

// SetRamp folds a new ramp onto this message per spec.md §3: if the
// message's jiffies exceed `remaining`, it splits and the returned tail
// carries ramp ≡ none, leaving m with the requested ramp over its
// (possibly now shorter) span.
func (m *MsgAudioPcm) SetRamp(current int32, remaining int64, dir ramp.Direction, f *Factory) (tail *MsgAudioPcm, err error) {
	total := m.Jiffies()
	desc, consumed := ramp.Set(current, remaining, dir, total)
	m.rampD = desc
	if consumed >= total {
		return nil, nil
	}
	splitAt := jiffiesToBytes(consumed, m.Format)
	t, err := m.splitBytes(splitAt, f)
	if err != nil {
		return nil, err
	}
	m.rampD = desc
	t.rampD = ramp.Descriptor{} // none
	return t, nil
}

// splitBytes divides the message at a byte offset that must already be
// sample-aligned, returning the tail as a new zero-copy-shared message.
func (m *MsgAudioPcm) splitBytes(at int, f *Factory) (*MsgAudioPcm, error) {
	bps := m.Format.BytesPerSample()
	if bps == 0 || at%bps != 0 {
		return nil, fmt.Errorf("pipeline: AudioPcm split at %d not sample-aligned (bps=%d)", at, bps)
	}
	if at <= 0 || at >= m.length {
		return nil, fmt.Errorf("pipeline: AudioPcm split at %d out of range [1,%d)", at, m.length)
	}
	tail := f.pcmPool.Allocate()
	tail.init(func() { tail.clear() })
	m.buf.AddRef()
	tail.buf = m.buf
	tail.Format = m.Format
	tail.offset = m.offset + at
	tail.length = m.length - at
	tail.TrackOffset = m.TrackOffset + bytesToJiffies(at, m.Format)
	totalJ := m.Jiffies()
	atJ := bytesToJiffies(at, m.Format)
	_, tail.rampD = ramp.Split(m.rampD, atJ, totalJ)
	m.rampD, _ = ramp.Split(m.rampD, atJ, totalJ)
	m.length = at
	return tail, nil
}

// SplitJiffies splits at the given jiffy offset, rounding down to the
// nearest whole sample, per spec.md §3/§8 (split durations sum to the
// original; each piece a multiple of one sample).
func (m *MsgAudioPcm) SplitJiffies(at int64, f *Factory) (*MsgAudioPcm, error) {
	perSample, ok := jiffiesPerSample(m.Format.SampleRate)
	if !ok || perSample == 0 {
		return nil, fmt.Errorf("pipeline: unsupported sample rate %d", m.Format.SampleRate)
	}
	samples := at / perSample
	byteOff := int(samples) * m.Format.BytesPerSample()
	return m.splitBytes(byteOff, f)
}

// Add appends `next` onto m in place, provided their ramps are adjacent
// (spec.md §3 invariant). next is consumed (its ref released) on success.
func (m *MsgAudioPcm) Add(next *MsgAudioPcm) error {
	if m.Format != next.Format {
		return fmt.Errorf("pipeline: cannot concatenate AudioPcm with differing formats")
	}
	if !ramp.CanConcat(m.rampD, next.rampD) {
		return fmt.Errorf("pipeline: cannot concatenate AudioPcm with non-adjacent ramps")
	}
	// Only adjacent-in-buffer fragments can merge without a copy. The
	// aggregator merges separately decoded messages, which live in
	// different buffers and take the copy path below.
	if next.buf == m.buf && m.offset+m.length == next.offset {
		m.length += next.length
	} else {
		// Cross-buffer concatenation: copy next's bytes onto the tail of
		// m's backing store if m ends where the buffer's data ends and
		// there is room, else refuse.
		end := m.offset + m.length
		if end != m.buf.n || end+next.length > cap(m.buf.data) {
			return fmt.Errorf("pipeline: AudioPcm concatenation exceeds cell capacity")
		}
		m.buf.data = m.buf.data[:end+next.length]
		copy(m.buf.data[end:], next.Bytes())
		m.buf.n = end + next.length
		m.length += next.length
	}
	if !next.rampD.IsNone() || !m.rampD.IsNone() {
		m.rampD = ramp.New(m.rampD.Dir, m.rampD.Start, next.rampD.End)
	}
	next.RemoveRef()
	return nil
}

// ---- Silence -----------------------------------------------------------

// MsgSilence is ramp-capable zero audio, lazily materialised as PCM only
// when it reaches the sink (spec.md §3 "Silence").
type MsgSilence struct {
	refCount
	pool *Pool[*MsgSilence]

	lengthJiffies int64
	Format        AudioFormat
	rampD         ramp.Descriptor
}

func (m *MsgSilence) sealed()                  {}
func (m *MsgSilence) Dispatch(p Processor) Msg { return p.ProcessSilence(m) }
func (m *MsgSilence) clear()                   { *m = MsgSilence{pool: m.pool}; m.pool.release(m) }

func (m *MsgSilence) Jiffies() int64         { return m.lengthJiffies }
func (m *MsgSilence) Ramp() ramp.Descriptor  { return m.rampD }

// SplitJiffies divides the silence span at `at` jiffies, rounded down to a
// sample boundary if a format is already known.
func (m *MsgSilence) SplitJiffies(at int64, f *Factory) (*MsgSilence, error) {
	if at <= 0 || at >= m.lengthJiffies {
		return nil, fmt.Errorf("pipeline: Silence split at %d out of range [1,%d)", at, m.lengthJiffies)
	}
	if m.Format.SampleRate != 0 {
		perSample, ok := jiffiesPerSample(m.Format.SampleRate)
		if ok && perSample > 0 {
			at = (at / perSample) * perSample
			if at <= 0 {
				return nil, fmt.Errorf("pipeline: Silence split rounds to zero")
			}
		}
	}
	tail := f.silencePool.Allocate()
	tail.init(func() { tail.clear() })
	tail.Format = m.Format
	tail.lengthJiffies = m.lengthJiffies - at
	head, tailRamp := ramp.Split(m.rampD, at, m.lengthJiffies)
	m.rampD = head
	tail.rampD = tailRamp
	m.lengthJiffies = at
	return tail, nil
}

// Materialise renders this span of silence as a real MsgAudioPcm in the
// given format, applying its ramp. Used at the sink boundary (spec.md §6
// "Silence is materialised to the target format at sink time").
func (m *MsgSilence) Materialise(f AudioFormat, factory *Factory) (*MsgAudioPcm, error) {
	perSample, ok := jiffiesPerSample(f.SampleRate)
	if !ok || perSample == 0 {
		return nil, fmt.Errorf("pipeline: unsupported sample rate %d", f.SampleRate)
	}
	samples := m.lengthJiffies / perSample
	bps := f.BytesPerSample()
	pcm, err := factory.NewAudioPcm(make([]byte, int(samples)*bps), f, 0)
	if err != nil {
		return nil, err
	}
	pcm.rampD = m.rampD
	return pcm, nil
}

// ---- Playable ------------------------------------------------------------

// SampleProcessor is the sink's bit-depth-specialised consumer callback
// interface (spec.md §3 "Playable", §6 "process_8/16/24").
type SampleProcessor interface {
	Process8(samples []byte) error
	Process16(samples []byte) error
	Process24(samples []byte) error
}

// MsgPlayable is the terminal form passed to the sink.
type MsgPlayable struct {
	refCount
	pool *Pool[*MsgPlayable]

	buf    *audioBuffer
	offset int
	length int

	BitDepth int
}

func (m *MsgPlayable) sealed()                  {}
func (m *MsgPlayable) Dispatch(p Processor) Msg { return p.ProcessPlayable(m) }

func (m *MsgPlayable) clear() {
	if m.buf != nil {
		m.buf.RemoveRef()
	}
	*m = MsgPlayable{pool: m.pool}
	m.pool.release(m)
}

// Read feeds this message's bytes to the bit-depth-appropriate processor
// callback (spec.md §6).
func (m *MsgPlayable) Read(p SampleProcessor) error {
	data := m.buf.bytes()[m.offset : m.offset+m.length]
	switch m.BitDepth {
	case 8:
		return p.Process8(data)
	case 16:
		return p.Process16(data)
	case 24:
		return p.Process24(data)
	default:
		return fmt.Errorf("pipeline: unsupported playable bit depth %d", m.BitDepth)
	}
}

// ---- Halt ------------------------------------------------------------

// MsgHalt is a boundary marker meaning "no audio for a while"; its ID
// matches a prior BeginStop request, or is issued spontaneously by the
// Stopper/StarvationRamper (spec.md §3, §8).
type MsgHalt struct {
	refCount
	pool *Pool[*MsgHalt]

	ID uint32
}

func (m *MsgHalt) sealed()                  {}
func (m *MsgHalt) Dispatch(p Processor) Msg { return p.ProcessHalt(m) }
func (m *MsgHalt) clear()                   { *m = MsgHalt{pool: m.pool}; m.pool.release(m) }

// ---- Flush ------------------------------------------------------------

// MsgFlush is a discard-marker matched by ID to a prior TryStop/TrySeek
// (spec.md §3, §8).
type MsgFlush struct {
	refCount
	pool *Pool[*MsgFlush]

	ID uint32
}

func (m *MsgFlush) sealed()                  {}
func (m *MsgFlush) Dispatch(p Processor) Msg { return p.ProcessFlush(m) }
func (m *MsgFlush) clear()                   { *m = MsgFlush{pool: m.pool}; m.pool.release(m) }

// ---- Wait ------------------------------------------------------------

type MsgWait struct {
	refCount
	pool *Pool[*MsgWait]
}

func (m *MsgWait) sealed()                  {}
func (m *MsgWait) Dispatch(p Processor) Msg { return p.ProcessWait(m) }
func (m *MsgWait) clear()                   { *m = MsgWait{pool: m.pool}; m.pool.release(m) }

// ---- Quit ------------------------------------------------------------

// MsgQuit is the terminal sentinel: shut down on arrival (spec.md §3).
type MsgQuit struct {
	refCount
	pool *Pool[*MsgQuit]
}

func (m *MsgQuit) sealed()                  {}
func (m *MsgQuit) Dispatch(p Processor) Msg { return p.ProcessQuit(m) }
func (m *MsgQuit) clear()                   { *m = MsgQuit{pool: m.pool}; m.pool.release(m) }

// ---- helpers --------------------------------------------------------

func jiffiesPerSample(sampleRate int) (int64, bool) {
	return perSampleJiffies(sampleRate)
}

func jiffiesToBytes(j int64, f AudioFormat) int {
	perSample, ok := jiffiesPerSample(f.SampleRate)
	if !ok || perSample == 0 {
		return 0
	}
	samples := j / perSample
	return int(samples) * f.BytesPerSample()
}

func bytesToJiffies(b int, f AudioFormat) int64 {
	bps := f.BytesPerSample()
	if bps == 0 {
		return 0
	}
	samples := int64(b / bps)
	perSample, _ := jiffiesPerSample(f.SampleRate)
	return samples * perSample
}
