// Package filler implements the source side of the pipeline: a
// protocol manager that tries each registered transport in turn for a
// track's URI, and a filler thread that walks a playlist through it,
// pushing encoded messages upstream of the codec controller (spec.md
// §4.11, §5 "Filler thread", §6 "Protocol"/"URI provider").
package filler

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"playpipe/pipeline"
)

// StreamResult is what a Protocol reports back from Stream.
type StreamResult int

const (
	StreamSuccess StreamResult = iota
	StreamNotSupported
	StreamStopped
	StreamRecoverableError
	StreamUnrecoverableError
)

func (r StreamResult) String() string {
	switch r {
	case StreamSuccess:
		return "success"
	case StreamNotSupported:
		return "not_supported"
	case StreamStopped:
		return "stopped"
	case StreamRecoverableError:
		return "recoverable_error"
	case StreamUnrecoverableError:
		return "unrecoverable_error"
	default:
		return "unknown"
	}
}

// GetResult is what a Protocol reports back from Get.
type GetResult int

const (
	GetSuccess GetResult = iota
	GetNotSupported
	GetUnrecoverableError
)

// EncodedSink is the narrow surface a Protocol pushes encoded content
// through; it hides the pipeline Factory and handler-ref plumbing from
// protocol implementations (spec.md §4.11 "A successful protocol pushes
// EncodedStream/AudioEncoded/MetaText/Halt into the pipeline").
type EncodedSink interface {
	PushEncodedStream(metadata string, seekable, live bool)
	PushAudioEncoded(data []byte)
	PushMetaText(text string)
	PushHalt()
}

// Protocol streams a URI's encoded bytes into the pipeline, or satisfies
// a byte-range Get for seek support (spec.md §6 "Protocol").
type Protocol interface {
	Stream(ctx context.Context, uri string, sink EncodedSink) StreamResult
	Get(w io.Writer, uri string, offset, length int64) GetResult
	// Interrupt(true) must promptly unblock any in-progress Stream/Get
	// call with an unrecoverable error; Interrupt(false) clears it.
	Interrupt(enabled bool)
}

// URIProvider supplies tracks to the filler (spec.md §6 "URI provider").
// NullTrackID marks "before the start of the playlist", the id a filler
// passes to the first NextTrackID call.
type URIProvider interface {
	NullTrackID() uint32
	NextTrackID(afterID uint32) (track pipeline.Track, id uint32, ok bool)
	PrevTrackID(beforeID uint32) (track pipeline.Track, id uint32, ok bool)
}

// ProtocolManager tries each registered Protocol in turn until one
// accepts the URI (spec.md §4.11 "iterates its registered protocols in
// order").
type ProtocolManager struct {
	mu        sync.Mutex
	protocols []Protocol
	active    Protocol
}

func NewProtocolManager() *ProtocolManager { return &ProtocolManager{} }

func (m *ProtocolManager) Register(p Protocol) {
	m.mu.Lock()
	m.protocols = append(m.protocols, p)
	m.mu.Unlock()
}

// Stream tries each protocol in registration order, skipping past
// NotSupported, and returns the first other result.
func (m *ProtocolManager) Stream(ctx context.Context, uri string, sink EncodedSink) StreamResult {
	m.mu.Lock()
	protocols := append([]Protocol(nil), m.protocols...)
	m.mu.Unlock()

	for _, p := range protocols {
		m.mu.Lock()
		m.active = p
		m.mu.Unlock()
		if res := p.Stream(ctx, uri, sink); res != StreamNotSupported {
			return res
		}
	}
	m.mu.Lock()
	m.active = nil
	m.mu.Unlock()
	return StreamNotSupported
}

// Get mirrors Stream's protocol-selection logic for byte-range reads.
func (m *ProtocolManager) Get(w io.Writer, uri string, offset, length int64) GetResult {
	m.mu.Lock()
	protocols := append([]Protocol(nil), m.protocols...)
	m.mu.Unlock()

	for _, p := range protocols {
		if res := p.Get(w, uri, offset, length); res != GetNotSupported {
			return res
		}
	}
	return GetNotSupported
}

// Interrupt forwards to whichever protocol is currently mid-Stream/Get,
// if any.
func (m *ProtocolManager) Interrupt(enabled bool) {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active != nil {
		active.Interrupt(enabled)
	}
}

// Filler walks the URIProvider's playlist through the ProtocolManager on
// its own goroutine, track after track, until the provider is exhausted
// or Quit is called (spec.md §5 "Filler thread").
type Filler struct {
	factory  *pipeline.Factory
	registry *pipeline.HandlerRegistry
	push     func(pipeline.Msg)
	provider URIProvider
	mgr      *ProtocolManager
	log      *slog.Logger

	mu       sync.Mutex
	quit     bool
	streamID uint32
	ref      pipeline.HandlerRef

	done chan struct{}
}

func New(factory *pipeline.Factory, registry *pipeline.HandlerRegistry, push func(pipeline.Msg), provider URIProvider, mgr *ProtocolManager, log *slog.Logger) *Filler {
	if log == nil {
		log = slog.Default()
	}
	f := &Filler{
		factory:  factory,
		registry: registry,
		push:     push,
		provider: provider,
		mgr:      mgr,
		log:      log,
		done:     make(chan struct{}),
	}
	f.ref = registry.Register(f)
	go f.run()
	return f
}

func (f *Filler) run() {
	defer close(f.done)
	id := f.provider.NullTrackID()
	for {
		f.mu.Lock()
		quit := f.quit
		f.mu.Unlock()
		if quit {
			return
		}

		track, nextID, ok := f.provider.NextTrackID(id)
		if !ok {
			f.log.Debug("filler: uri provider exhausted")
			return
		}
		id = nextID

		f.mu.Lock()
		f.streamID = id
		f.mu.Unlock()

		f.push(f.factory.NewTrack(track))
		sink := &encodedSink{factory: f.factory, push: f.push, uri: track.URI, handler: f.ref}
		result := f.mgr.Stream(context.Background(), track.URI, sink)

		switch result {
		case StreamSuccess:
		case StreamStopped:
			f.log.Debug("filler: stream stopped externally", "uri", track.URI)
		case StreamNotSupported:
			f.log.Warn("filler: no protocol accepted uri", "uri", track.URI)
		case StreamRecoverableError:
			f.log.Warn("filler: recoverable streaming error, advancing to next track", "uri", track.URI)
		case StreamUnrecoverableError:
			f.log.Warn("filler: unrecoverable streaming error, advancing to next track", "uri", track.URI)
		}
	}
}

// Quit stops the filler thread ahead of its next track boundary and
// interrupts any in-flight protocol call so it unblocks promptly, then
// waits for the thread to actually exit.
func (f *Filler) Quit() {
	f.mu.Lock()
	f.quit = true
	f.mu.Unlock()
	f.mgr.Interrupt(true)
	<-f.done
}

// ---- StreamHandler impersonation ---------------------------------
//
// The Filler registers itself as the handler carried by every
// EncodedStream it emits, so a downstream Stopper's stop commands route
// back here and become protocol Interrupt calls; seek requests are
// declined (spec.md §6 "Stream handler").

func (f *Filler) OkToPlay(uint32) pipeline.OkToPlayResult { return pipeline.OkToPlayYes }

func (f *Filler) TrySeek(streamID uint32, byteOffset int64) (uint32, bool) {
	// Byte-range seeking needs a protocol willing to restart from an
	// offset; the filler has no opinion on that, so it declines and lets
	// the caller fall back to track-level seek.
	return pipeline.InvalidID, false
}

func (f *Filler) TryStop(streamID uint32) (uint32, bool) {
	id := f.factory.NextFlushID()
	f.mgr.Interrupt(true)
	return id, true
}

func (f *Filler) NotifyStarving(mode string, streamID uint32, starving bool) {
	if starving {
		f.log.Warn("filler: starvation reported downstream", "mode", mode, "streamId", streamID)
	}
}

// encodedSink adapts a Protocol's narrow push calls onto pipeline
// messages carrying this track's URI and handler ref.
type encodedSink struct {
	factory *pipeline.Factory
	push    func(pipeline.Msg)
	uri     string
	handler pipeline.HandlerRef
}

func (s *encodedSink) PushEncodedStream(metadata string, seekable, live bool) {
	s.push(s.factory.NewEncodedStream(s.uri, metadata, seekable, live, s.handler))
}

func (s *encodedSink) PushAudioEncoded(data []byte) {
	m, err := s.factory.NewAudioEncoded(data)
	if err != nil {
		// Pool exhaustion is a construction-time sizing error (spec.md
		// §7.1); there is nothing corrective to do at this call site.
		return
	}
	s.push(m)
}

func (s *encodedSink) PushMetaText(text string) {
	s.push(s.factory.NewMetaText(text))
}

func (s *encodedSink) PushHalt() {
	s.push(s.factory.NewHalt(s.factory.NextHaltID()))
}
