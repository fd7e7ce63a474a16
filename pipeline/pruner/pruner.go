// Package pruner implements the element that hides inaudible tracks from
// observers: a track whose codec never produced audio (or Silence) is
// never reported as having played at all (spec.md §4.10, grounded on
// OpenHome/Media/Pruner.h and OpenHome/Media/Tests/TestPruner.cpp).
package pruner

import "playpipe/pipeline"

// Pruner is a pull-style element sitting directly downstream of the
// starvation ramper: it holds the messages that announce a new track (Track,
// DecodedStream, Halt) until audio or Silence confirms the track actually
// played. If the track turns over (a new Track arrives) or the pipeline
// quits before that happens, the held messages are resolved without ever
// reporting a "playing" event for a track nobody heard.
type Pruner struct {
	upstream pipeline.Puller

	buffering bool
	pending   []pipeline.Msg

	queued []pipeline.Msg // buffered messages already released, awaiting Pull
}

func New(upstream pipeline.Puller) *Pruner {
	return &Pruner{upstream: upstream}
}

// Pull returns the next message, resolving the pending-track buffer as
// necessary before doing so.
func (p *Pruner) Pull() pipeline.Msg {
	for {
		if len(p.queued) > 0 {
			m := p.queued[0]
			p.queued = p.queued[1:]
			return m
		}
		m := p.upstream.Pull()
		out := m.Dispatch(&visitor{p: p})
		if out != nil {
			return out
		}
		// out == nil means the message was swallowed outright (the quiet
		// types dropped while buffering) or fully absorbed into the
		// pending buffer; loop to pull the next one.
	}
}

// discardPending releases every ref held by the pending buffer without
// forwarding any of it downstream.
func (p *Pruner) discardPending() {
	for _, m := range p.pending {
		m.RemoveRef()
	}
	p.pending = nil
}

// flushPending moves the pending buffer (in order) to the front of the
// queue to be returned by subsequent Pulls, and stops buffering.
func (p *Pruner) flushPending() {
	if len(p.pending) > 0 {
		p.queued = append(p.queued, p.pending...)
		p.pending = nil
	}
	p.buffering = false
}

type visitor struct {
	pipeline.BaseProcessor
	p *Pruner
}

// startBuffering begins a new pending-track buffer, discarding whatever
// was left over from a track that never produced audio.
func (v *visitor) startBuffering(m pipeline.Msg) pipeline.Msg {
	if v.p.buffering {
		v.p.discardPending()
	}
	v.p.buffering = true
	v.p.pending = append(v.p.pending, m)
	return nil
}

func (v *visitor) ProcessTrack(m *pipeline.MsgTrack) pipeline.Msg { return v.startBuffering(m) }

func (v *visitor) ProcessDecodedStream(m *pipeline.MsgDecodedStream) pipeline.Msg {
	if v.p.buffering {
		v.p.pending = append(v.p.pending, m)
		return nil
	}
	return m
}

func (v *visitor) ProcessHalt(m *pipeline.MsgHalt) pipeline.Msg {
	if v.p.buffering {
		v.p.pending = append(v.p.pending, m)
		return nil
	}
	return m
}

// quiet types are dropped while a track's audio is still unconfirmed
// (their information is moot if the track turns out inaudible) and pass
// straight through once it is confirmed.
func (v *visitor) quiet(m pipeline.Msg) pipeline.Msg {
	if v.p.buffering {
		m.RemoveRef()
		return nil
	}
	return m
}

func (v *visitor) ProcessMode(m *pipeline.MsgMode) pipeline.Msg  { return v.quiet(m) }
func (v *visitor) ProcessDrain(m *pipeline.MsgDrain) pipeline.Msg { return v.quiet(m) }
func (v *visitor) ProcessDelay(m *pipeline.MsgDelay) pipeline.Msg { return v.quiet(m) }
func (v *visitor) ProcessEncodedStream(m *pipeline.MsgEncodedStream) pipeline.Msg {
	return v.quiet(m)
}
func (v *visitor) ProcessAudioEncoded(*pipeline.MsgAudioEncoded) pipeline.Msg {
	panic("pruner: encoded audio must not reach the pruner")
}
func (v *visitor) ProcessMetaText(m *pipeline.MsgMetaText) pipeline.Msg { return v.quiet(m) }
func (v *visitor) ProcessStreamInterrupted(m *pipeline.MsgStreamInterrupted) pipeline.Msg {
	return v.quiet(m)
}
func (v *visitor) ProcessFlush(m *pipeline.MsgFlush) pipeline.Msg     { return v.quiet(m) }
func (v *visitor) ProcessWait(m *pipeline.MsgWait) pipeline.Msg       { return v.quiet(m) }
func (v *visitor) ProcessBitRate(m *pipeline.MsgBitRate) pipeline.Msg { return v.quiet(m) }

// releaseAfterFlush flushes whatever was held, in order, and queues m to
// follow it — m must come out after the buffer it unblocks, never ahead
// of it.
func (v *visitor) releaseAfterFlush(m pipeline.Msg) pipeline.Msg {
	v.p.flushPending()
	v.p.queued = append(v.p.queued, m)
	return nil
}

// ProcessAudioPcm and ProcessSilence are the only events that confirm a
// track actually played: they flush whatever was being held, in order,
// ahead of themselves.
func (v *visitor) ProcessAudioPcm(m *pipeline.MsgAudioPcm) pipeline.Msg {
	return v.releaseAfterFlush(m)
}

func (v *visitor) ProcessSilence(m *pipeline.MsgSilence) pipeline.Msg {
	return v.releaseAfterFlush(m)
}

func (v *visitor) ProcessPlayable(*pipeline.MsgPlayable) pipeline.Msg {
	panic("pruner: playable must not reach the pruner")
}

// ProcessQuit never waits for audio that will never come: it flushes
// whatever was pending, then passes itself straight through too.
func (v *visitor) ProcessQuit(m *pipeline.MsgQuit) pipeline.Msg {
	return v.releaseAfterFlush(m)
}
