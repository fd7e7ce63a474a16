// Package clockpuller declares the external hook by which downstream
// hardware clock-rate estimation feeds back into the decoded reservoir's
// rate adaptation (spec.md §4.7, §6 "Clock puller"). The decoded
// reservoir owns the wiring (when to Start/Stop/Reset it and how often to
// report); this package only names the narrow contract a real
// implementation (e.g. an ALSA/CoreAudio rate estimator) must satisfy.
package clockpuller

// ClockPuller is told the reservoir's expected steady-state fill level at
// Start, and is then fed the actual fill level via NotifySize once per
// kSamplePeriod jiffies of audio consumed, so it can estimate how fast
// the downstream clock is really running relative to the decoder's.
type ClockPuller interface {
	// Start begins pulling; expectedFillJiffies is the fill level the
	// reservoir targets in steady state.
	Start(expectedFillJiffies int64)
	// Stop ends pulling (on Halt or Drain). A later Start begins a fresh
	// estimation run.
	Stop()
	// Reset clears accumulated estimation state without stopping, for a
	// new stream under the same still-active mode.
	Reset()
	// NotifySize reports the reservoir's current fill level in jiffies.
	NotifySize(jiffies int64)
}

// Null is a ClockPuller that does nothing; it's the reservoir's default
// when no mode ever requests clock pulling.
type Null struct{}

func (Null) Start(int64)     {}
func (Null) Stop()           {}
func (Null) Reset()          {}
func (Null) NotifySize(int64) {}
