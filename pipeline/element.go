package pipeline

// Puller is the upstream-facing side of every pipeline element: pulling
// the next message, blocking if none is ready. Every staged element
// (reservoir, rewinder, codec controller, aggregator, ...) both consumes
// a Puller and exposes itself as one, chaining element-to-element exactly
// the way spec.md §2 describes the pipeline's message flow.
type Puller interface {
	Pull() Msg
}

// PullerFunc adapts a plain function to a Puller.
type PullerFunc func() Msg

func (f PullerFunc) Pull() Msg { return f() }
