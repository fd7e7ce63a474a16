package pipeline

import "fmt"

// PoolConfig sizes one variant's pool: its cell capacity and, for the two
// byte-buffer-backed variants, the maximum cell payload in bytes
// (spec.md §4.1, §6 "Configuration").
type PoolConfig struct {
	Capacity  uint
	CellBytes uint
}

// FactoryConfig sizes every message pool the pipeline owns. Allocating
// from an exhausted pool blocks until a cell is released (see
// Pool.Allocate); nothing panics on exhaustion, so an undersized Factory
// shows up as a stall.
type FactoryConfig struct {
	Mode              PoolConfig
	Track             PoolConfig
	Drain             PoolConfig
	Delay             PoolConfig
	EncodedStream     PoolConfig
	AudioEncoded      PoolConfig
	MetaText          PoolConfig
	StreamInterrupted PoolConfig
	DecodedStream     PoolConfig
	BitRate           PoolConfig
	AudioPcm          PoolConfig
	Silence           PoolConfig
	Playable          PoolConfig
	Halt              PoolConfig
	Flush             PoolConfig
	Wait              PoolConfig
	Quit              PoolConfig
}

// DefaultFactoryConfig returns reasonable defaults matching a typical
// single-track playback working set.
func DefaultFactoryConfig() FactoryConfig {
	small := PoolConfig{Capacity: 4}
	audio := PoolConfig{Capacity: 64, CellBytes: 8 * 1024}
	encoded := PoolConfig{Capacity: 64, CellBytes: 64 * 1024}
	return FactoryConfig{
		Mode:              small,
		Track:             small,
		Drain:             small,
		Delay:             small,
		EncodedStream:     small,
		AudioEncoded:      encoded,
		MetaText:          small,
		StreamInterrupted: small,
		DecodedStream:     small,
		BitRate:           small,
		AudioPcm:          audio,
		Silence:           small,
		Playable:          audio,
		Halt:              small,
		Flush:             small,
		Wait:              small,
		Quit:              PoolConfig{Capacity: 1},
	}
}

// Factory is the pipeline's MsgFactory: it owns every variant's pool and
// is the only place new messages are allocated (spec.md §3 "Entity
// lifecycles", §9).
type Factory struct {
	trackIDs  *IDProvider
	streamIDs *IDProvider
	haltIDs   *IDProvider
	flushIDs  *IDProvider

	modePool          *Pool[*MsgMode]
	trackPool         *Pool[*MsgTrack]
	drainPool         *Pool[*MsgDrain]
	delayPool         *Pool[*MsgDelay]
	encodedStreamPool *Pool[*MsgEncodedStream]
	encodedPool       *Pool[*MsgAudioEncoded]
	metaTextPool      *Pool[*MsgMetaText]
	interruptedPool   *Pool[*MsgStreamInterrupted]
	decodedStreamPool *Pool[*MsgDecodedStream]
	bitRatePool       *Pool[*MsgBitRate]
	pcmPool           *Pool[*MsgAudioPcm]
	silencePool       *Pool[*MsgSilence]
	playablePool      *Pool[*MsgPlayable]
	haltPool          *Pool[*MsgHalt]
	flushPool         *Pool[*MsgFlush]
	waitPool          *Pool[*MsgWait]
	quitPool          *Pool[*MsgQuit]

	encodedBufPool *Pool[*audioBuffer]
	pcmBufPool     *Pool[*audioBuffer]
}

// NewFactory builds every pool up front, per spec.md §3 "Pools: created at
// pipeline construction with fixed capacity per variant; destroyed on
// teardown."
func NewFactory(cfg FactoryConfig) *Factory {
	f := &Factory{
		trackIDs:  NewIDProvider(),
		streamIDs: NewIDProvider(),
		haltIDs:   NewIDProvider(),
		flushIDs:  NewIDProvider(),
	}
	f.modePool = NewPool("msg-mode", cfg.Mode.Capacity, 0, func() *MsgMode { return &MsgMode{} })
	linkPool(f.modePool, func(m *MsgMode, p *Pool[*MsgMode]) { m.pool = p })

	f.trackPool = NewPool("msg-track", cfg.Track.Capacity, 0, func() *MsgTrack { return &MsgTrack{} })
	linkPool(f.trackPool, func(m *MsgTrack, p *Pool[*MsgTrack]) { m.pool = p })

	f.drainPool = NewPool("msg-drain", cfg.Drain.Capacity, 0, func() *MsgDrain { return &MsgDrain{} })
	linkPool(f.drainPool, func(m *MsgDrain, p *Pool[*MsgDrain]) { m.pool = p })

	f.delayPool = NewPool("msg-delay", cfg.Delay.Capacity, 0, func() *MsgDelay { return &MsgDelay{} })
	linkPool(f.delayPool, func(m *MsgDelay, p *Pool[*MsgDelay]) { m.pool = p })

	f.encodedStreamPool = NewPool("msg-encoded-stream", cfg.EncodedStream.Capacity, 0, func() *MsgEncodedStream { return &MsgEncodedStream{} })
	linkPool(f.encodedStreamPool, func(m *MsgEncodedStream, p *Pool[*MsgEncodedStream]) { m.pool = p })

	f.encodedBufPool = NewAudioBufferPool(cfg.AudioEncoded.Capacity, cfg.AudioEncoded.CellBytes)
	f.encodedPool = NewPool("msg-audio-encoded", cfg.AudioEncoded.Capacity, 0, func() *MsgAudioEncoded { return &MsgAudioEncoded{} })
	linkPool(f.encodedPool, func(m *MsgAudioEncoded, p *Pool[*MsgAudioEncoded]) { m.pool = p })

	f.metaTextPool = NewPool("msg-meta-text", cfg.MetaText.Capacity, 0, func() *MsgMetaText { return &MsgMetaText{} })
	linkPool(f.metaTextPool, func(m *MsgMetaText, p *Pool[*MsgMetaText]) { m.pool = p })

	f.interruptedPool = NewPool("msg-stream-interrupted", cfg.StreamInterrupted.Capacity, 0, func() *MsgStreamInterrupted { return &MsgStreamInterrupted{} })
	linkPool(f.interruptedPool, func(m *MsgStreamInterrupted, p *Pool[*MsgStreamInterrupted]) { m.pool = p })

	f.decodedStreamPool = NewPool("msg-decoded-stream", cfg.DecodedStream.Capacity, 0, func() *MsgDecodedStream { return &MsgDecodedStream{} })
	linkPool(f.decodedStreamPool, func(m *MsgDecodedStream, p *Pool[*MsgDecodedStream]) { m.pool = p })

	f.bitRatePool = NewPool("msg-bit-rate", cfg.BitRate.Capacity, 0, func() *MsgBitRate { return &MsgBitRate{} })
	linkPool(f.bitRatePool, func(m *MsgBitRate, p *Pool[*MsgBitRate]) { m.pool = p })

	f.pcmBufPool = NewAudioBufferPool(cfg.AudioPcm.Capacity, cfg.AudioPcm.CellBytes)
	f.pcmPool = NewPool("msg-audio-pcm", cfg.AudioPcm.Capacity, 0, func() *MsgAudioPcm { return &MsgAudioPcm{} })
	linkPool(f.pcmPool, func(m *MsgAudioPcm, p *Pool[*MsgAudioPcm]) { m.pool = p })

	f.silencePool = NewPool("msg-silence", cfg.Silence.Capacity, 0, func() *MsgSilence { return &MsgSilence{} })
	linkPool(f.silencePool, func(m *MsgSilence, p *Pool[*MsgSilence]) { m.pool = p })

	f.playablePool = NewPool("msg-playable", cfg.Playable.Capacity, 0, func() *MsgPlayable { return &MsgPlayable{} })
	linkPool(f.playablePool, func(m *MsgPlayable, p *Pool[*MsgPlayable]) { m.pool = p })

	f.haltPool = NewPool("msg-halt", cfg.Halt.Capacity, 0, func() *MsgHalt { return &MsgHalt{} })
	linkPool(f.haltPool, func(m *MsgHalt, p *Pool[*MsgHalt]) { m.pool = p })

	f.flushPool = NewPool("msg-flush", cfg.Flush.Capacity, 0, func() *MsgFlush { return &MsgFlush{} })
	linkPool(f.flushPool, func(m *MsgFlush, p *Pool[*MsgFlush]) { m.pool = p })

	f.waitPool = NewPool("msg-wait", cfg.Wait.Capacity, 0, func() *MsgWait { return &MsgWait{} })
	linkPool(f.waitPool, func(m *MsgWait, p *Pool[*MsgWait]) { m.pool = p })

	f.quitPool = NewPool("msg-quit", cfg.Quit.Capacity, 0, func() *MsgQuit { return &MsgQuit{} })
	linkPool(f.quitPool, func(m *MsgQuit, p *Pool[*MsgQuit]) { m.pool = p })

	return f
}

// linkPool back-fills each pre-allocated cell's pool pointer so clear()
// can release to the right pool, without a per-cell closure allocation.
func linkPool[T cell](p *Pool[T], setPool func(T, *Pool[T])) {
	for _, c := range p.free {
		setPool(c, p)
	}
}

// Stats returns telemetry for every pool the factory owns (spec.md §4.1).
func (f *Factory) Stats() []Stats {
	return []Stats{
		f.modePool.Stats(), f.trackPool.Stats(), f.drainPool.Stats(), f.delayPool.Stats(),
		f.encodedStreamPool.Stats(), f.encodedPool.Stats(), f.encodedBufPool.Stats(),
		f.metaTextPool.Stats(), f.interruptedPool.Stats(), f.decodedStreamPool.Stats(),
		f.bitRatePool.Stats(), f.pcmPool.Stats(), f.pcmBufPool.Stats(), f.silencePool.Stats(),
		f.playablePool.Stats(), f.haltPool.Stats(), f.flushPool.Stats(), f.waitPool.Stats(),
		f.quitPool.Stats(),
	}
}

// NextTrackID, NextStreamID, NextHaltID hand out ids from the factory's
// monotonic sequences (spec.md §3).
func (f *Factory) NextTrackID() uint32  { return f.trackIDs.Next() }
func (f *Factory) NextStreamID() uint32 { return f.streamIDs.Next() }
func (f *Factory) NextHaltID() uint32   { return f.haltIDs.Next() }
func (f *Factory) NextFlushID() uint32  { return f.flushIDs.Next() }

func (f *Factory) NewMode(name string, supportsPause, supportsNext bool) *MsgMode {
	return f.NewModeClockPull(name, supportsPause, supportsNext, false)
}

// NewModeClockPull is NewMode plus the clock-pull flag (spec.md §4.7).
func (f *Factory) NewModeClockPull(name string, supportsPause, supportsNext, clockPull bool) *MsgMode {
	m := f.modePool.Allocate()
	m.init(func() { m.clear() })
	m.Name = name
	m.SupportsPause = supportsPause
	m.SupportsNext = supportsNext
	m.ClockPull = clockPull
	return m
}

func (f *Factory) NewTrack(t Track) *MsgTrack {
	m := f.trackPool.Allocate()
	m.init(func() { m.clear() })
	m.Track = t
	m.TrackID = f.NextTrackID()
	return m
}

func (f *Factory) NewDrain(completed func()) *MsgDrain {
	m := f.drainPool.Allocate()
	m.init(func() { m.clear() })
	m.Completed = completed
	return m
}

func (f *Factory) NewDelay(j int64) *MsgDelay {
	m := f.delayPool.Allocate()
	m.init(func() { m.clear() })
	m.Jiffies = j
	return m
}

func (f *Factory) NewEncodedStream(uri, metadata string, seekable, live bool, handler HandlerRef) *MsgEncodedStream {
	m := f.encodedStreamPool.Allocate()
	m.init(func() { m.clear() })
	m.URI = uri
	m.Metadata = metadata
	m.StreamID = f.NextStreamID()
	m.Seekable = seekable
	m.Live = live
	m.Handler = handler
	return m
}

func (f *Factory) NewAudioEncoded(data []byte) (*MsgAudioEncoded, error) {
	buf := f.encodedBufPool.Allocate()
	buf.init(func() { buf.clear() })
	if err := buf.fill(data); err != nil {
		buf.RemoveRef()
		return nil, err
	}
	m := f.encodedPool.Allocate()
	m.init(func() { m.clear() })
	m.buf = buf
	m.offset = 0
	m.length = len(data)
	return m, nil
}

func (f *Factory) NewMetaText(text string) *MsgMetaText {
	m := f.metaTextPool.Allocate()
	m.init(func() { m.clear() })
	m.Text = text
	return m
}

func (f *Factory) NewStreamInterrupted() *MsgStreamInterrupted {
	m := f.interruptedPool.Allocate()
	m.init(func() { m.clear() })
	return m
}

func (f *Factory) NewDecodedStream(format AudioFormat, codecName string, totalSamples, startSample int64, lossless, seekable, live bool, streamID uint32, handler HandlerRef) *MsgDecodedStream {
	m := f.decodedStreamPool.Allocate()
	m.init(func() { m.clear() })
	m.Format = format
	m.CodecName = codecName
	m.TotalSamples = totalSamples
	m.StartSample = startSample
	m.Lossless = lossless
	m.Seekable = seekable
	m.Live = live
	m.StreamID = streamID
	m.Handler = handler
	return m
}

func (f *Factory) NewBitRate(bps int) *MsgBitRate {
	m := f.bitRatePool.Allocate()
	m.init(func() { m.clear() })
	m.BitsPerSecond = bps
	return m
}

// NewAudioPcm builds a new MsgAudioPcm from raw interleaved PCM bytes.
func (f *Factory) NewAudioPcm(data []byte, format AudioFormat, trackOffset int64) (*MsgAudioPcm, error) {
	bps := format.BytesPerSample()
	if bps == 0 || len(data)%bps != 0 {
		return nil, fmt.Errorf("pipeline: AudioPcm payload %d bytes not a multiple of frame size %d", len(data), bps)
	}
	buf := f.pcmBufPool.Allocate()
	buf.init(func() { buf.clear() })
	if err := buf.fill(data); err != nil {
		buf.RemoveRef()
		return nil, err
	}
	m := f.pcmPool.Allocate()
	m.init(func() { m.clear() })
	m.buf = buf
	m.offset = 0
	m.length = len(data)
	m.Format = format
	m.TrackOffset = trackOffset
	return m, nil
}

func (f *Factory) NewSilence(lengthJiffies int64, format AudioFormat) *MsgSilence {
	m := f.silencePool.Allocate()
	m.init(func() { m.clear() })
	m.lengthJiffies = lengthJiffies
	m.Format = format
	return m
}

// NewPlayable wraps pcm as the terminal sink-bound form.
func (f *Factory) NewPlayable(pcm *MsgAudioPcm) *MsgPlayable {
	m := f.playablePool.Allocate()
	m.init(func() { m.clear() })
	pcm.buf.AddRef()
	m.buf = pcm.buf
	m.offset = pcm.offset
	m.length = pcm.length
	m.BitDepth = pcm.Format.BitDepth
	return m
}

func (f *Factory) NewHalt(id uint32) *MsgHalt {
	m := f.haltPool.Allocate()
	m.init(func() { m.clear() })
	m.ID = id
	return m
}

func (f *Factory) NewFlush(id uint32) *MsgFlush {
	m := f.flushPool.Allocate()
	m.init(func() { m.clear() })
	m.ID = id
	return m
}

func (f *Factory) NewWait() *MsgWait {
	m := f.waitPool.Allocate()
	m.init(func() { m.clear() })
	return m
}

func (f *Factory) NewQuit() *MsgQuit {
	m := f.quitPool.Allocate()
	m.init(func() { m.clear() })
	return m
}
