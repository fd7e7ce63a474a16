package main

import (
	"fmt"

	"playpipe/config"
	"playpipe/sink"
	"playpipe/pipeline/validator"
)

// animator is the demo's stand-in for real playout hardware: it accepts
// any format within the configured maxima whose sample rate is in the
// supported-rate table, and reports a fixed pipeline
// delay, satisfying both validator.Animator (the sample-rate gate ahead
// of the aggregator) and sink.Animator.
type animator struct {
	cfg         config.Config
	delayJiffies int64
}

func newAnimator(cfg config.Config, delayJiffies int64) *animator {
	return &animator{cfg: cfg, delayJiffies: delayJiffies}
}

func (a *animator) DelayJiffies(sampleRate, bitDepth, channels int) (int64, error) {
	if sampleRate <= 0 || sampleRate > a.cfg.MaxSampleRate {
		return 0, fmt.Errorf("animator: sample rate %d exceeds maximum %d", sampleRate, a.cfg.MaxSampleRate)
	}
	if bitDepth <= 0 || bitDepth > a.cfg.MaxBitDepth {
		return 0, fmt.Errorf("animator: bit depth %d exceeds maximum %d", bitDepth, a.cfg.MaxBitDepth)
	}
	if channels <= 0 || channels > a.cfg.MaxChannels {
		return 0, fmt.Errorf("animator: channel count %d exceeds maximum %d", channels, a.cfg.MaxChannels)
	}
	supported := false
	for _, r := range config.SupportedSampleRates() {
		if r == sampleRate {
			supported = true
			break
		}
	}
	if !supported {
		return 0, fmt.Errorf("animator: sample rate %d not in supported table", sampleRate)
	}
	return a.delayJiffies, nil
}

var (
	_ validator.Animator = (*animator)(nil)
	_ sink.Animator      = (*animator)(nil)
)
