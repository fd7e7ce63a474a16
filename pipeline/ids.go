package pipeline

import "sync/atomic"

// InvalidID is the sentinel value meaning "no id" / "invalid", for stream
// ids, flush ids and track ids alike (spec.md §3: "a stream id of
// 0/UINT_MAX sentinels invalid" — this implementation uses 0 uniformly).
const InvalidID uint32 = 0

// IDProvider hands out monotonically increasing small integers from a
// single sequence. Track ids, stream ids and flush ids each come from
// their own IDProvider; Halt ids come from a separate sequence per
// spec.md §3.
type IDProvider struct {
	next uint32
}

// NewIDProvider returns a provider whose first Next() is 1 (0 stays
// reserved for InvalidID).
func NewIDProvider() *IDProvider {
	return &IDProvider{next: 0}
}

// FlushIDProvider is the single monotonic sequence every reservoir/seek
// point draws Flush ids from (spec.md §3: ids are assigned from a single
// id-provider per concern).
type FlushIDProvider = IDProvider

// NewFlushIDProvider is an alias of NewIDProvider for call-site clarity.
func NewFlushIDProvider() *FlushIDProvider {
	return NewIDProvider()
}

// Next returns the next id in the sequence; it never returns InvalidID.
func (p *IDProvider) Next() uint32 {
	return atomic.AddUint32(&p.next, 1)
}
