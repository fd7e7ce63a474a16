// Package config loads the YAML-described configuration a pipeline is
// constructed from: every per-variant pool capacity, every element's
// ceilings and ramp durations, and the sample-rate/bit-depth/channel
// limits a demo animator enforces (spec.md §6 "Configuration"). Modeled
// directly on bridge/config.go's staged yamlConfig-then-defaults-then-
// validate pattern.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"playpipe/pipeline"
	"playpipe/pipeline/aggregator"
	"playpipe/pipeline/jiffies"
	"playpipe/pipeline/reservoir"
	"playpipe/pipeline/starvation"
)

// Config is the fully resolved, validated pipeline construction
// configuration. Pools, the reservoirs, Aggregator and Starvation map to
// constructor arguments of the pipeline/* packages; the remaining fields
// are consumed by the caller (the demo converts them or hands them to its
// animator), and PrefetchTimeout is not read by any package.
type Config struct {
	Pools pipeline.FactoryConfig

	EncodedReservoir reservoir.Config
	DecodedReservoir reservoir.Config

	Aggregator aggregator.Config

	StopperRampDuration time.Duration

	Starvation starvation.Config

	// ClockPullSamplePeriod is how often, in wall-clock terms, the
	// decoded reservoir's clock-pull hook reports fill level while armed
	// (spec.md §4.7 "kSamplePeriod"). The caller converts it to jiffies
	// when building the decoded reservoir, which counts consumed audio in
	// jiffies.
	ClockPullSamplePeriod time.Duration

	// MaxSampleRate/MaxBitDepth/MaxChannels bound what a demo animator
	// advertises as playable (spec.md §6 "audio sample-rate/bit-depth/
	// channel maxima").
	MaxSampleRate int
	MaxBitDepth   int
	MaxChannels   int

	// PrefetchTimeout is loaded and validated (it must be positive) but
	// no prefetch wait in this module reads it.
	PrefetchTimeout time.Duration
}

// SupportedSampleRates is derived, not configured: it's exactly the rates
// the jiffies table knows how to convert (spec.md §6 "supported sample
// rates").
func SupportedSampleRates() []int { return jiffies.SupportedRates() }

type yamlConfig struct {
	Pools struct {
		SmallCapacity   int `yaml:"small_capacity"`
		AudioCapacity   int `yaml:"audio_capacity"`
		AudioCellBytes  int `yaml:"audio_cell_bytes"`
		EncodedCapacity int `yaml:"encoded_capacity"`
		EncodedCellBytes int `yaml:"encoded_cell_bytes"`
	} `yaml:"pools"`

	Reservoir struct {
		EncodedMaxBytes     int `yaml:"encoded_max_bytes"`
		EncodedHistoryBytes int `yaml:"encoded_history_bytes"`
		EncodedMaxStreams   int `yaml:"encoded_max_streams"`
		DecodedMaxJiffiesMs int `yaml:"decoded_max_jiffies_ms"`
		DecodedMaxStreams   int `yaml:"decoded_max_streams"`
	} `yaml:"reservoir"`

	Aggregator struct {
		MaxBytes     int `yaml:"max_bytes"`
		MaxJiffiesMs int `yaml:"max_jiffies_ms"`
	} `yaml:"aggregator"`

	Stopper struct {
		RampMs int `yaml:"ramp_ms"`
	} `yaml:"stopper"`

	Starvation struct {
		MaxJiffiesMs    int `yaml:"max_jiffies_ms"`
		MaxStreams      int `yaml:"max_streams"`
		RampDownMs      int `yaml:"ramp_down_ms"`
		RampUpMs        int `yaml:"ramp_up_ms"`
	} `yaml:"starvation"`

	ClockPull struct {
		SamplePeriodMs int `yaml:"sample_period_ms"`
	} `yaml:"clock_pull"`

	Audio struct {
		MaxSampleRate int `yaml:"max_sample_rate"`
		MaxBitDepth   int `yaml:"max_bit_depth"`
		MaxChannels   int `yaml:"max_channels"`
	} `yaml:"audio"`

	PrefetchTimeoutMs int `yaml:"prefetch_timeout_ms"`
}

// Default matches a typical single-track playback working set: small
// pools for marker messages, larger pools for audio, generous ceilings.
func Default() Config {
	return Config{
		Pools:                 pipeline.DefaultFactoryConfig(),
		EncodedReservoir:      reservoir.Config{MaxBytes: 1 << 20, MaxStreams: 4, Encoded: true, HistoryBytes: 64 * 1024},
		DecodedReservoir:      reservoir.Config{MaxJiffies: jiffies.PerSecond, MaxStreams: 4},
		Aggregator:            aggregator.DefaultConfig(),
		StopperRampDuration:   20 * time.Millisecond,
		Starvation:            starvation.Config{MaxJiffies: jiffies.PerSecond / 2, MaxStreams: 4, RampDownJiffies: jiffies.PerSecond / 50, RampUpJiffies: jiffies.PerSecond / 20},
		ClockPullSamplePeriod: 100 * time.Millisecond,
		MaxSampleRate:         192000,
		MaxBitDepth:           24,
		MaxChannels:           8,
		PrefetchTimeout:       5 * time.Second,
	}
}

// Load reads and validates a YAML configuration file, starting from
// Default and overriding only the fields present in the file — exactly
// bridge/config.go's LoadConfig shape.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if yc.Pools.SmallCapacity > 0 {
		small := pipeline.PoolConfig{Capacity: uint(yc.Pools.SmallCapacity)}
		cfg.Pools.Mode, cfg.Pools.Track, cfg.Pools.Drain, cfg.Pools.Delay = small, small, small, small
		cfg.Pools.EncodedStream, cfg.Pools.MetaText, cfg.Pools.StreamInterrupted = small, small, small
		cfg.Pools.DecodedStream, cfg.Pools.BitRate, cfg.Pools.Silence = small, small, small
		cfg.Pools.Halt, cfg.Pools.Flush, cfg.Pools.Wait, cfg.Pools.Quit = small, small, small, small
	}
	if yc.Pools.AudioCapacity > 0 || yc.Pools.AudioCellBytes > 0 {
		audio := cfg.Pools.AudioPcm
		if yc.Pools.AudioCapacity > 0 {
			audio.Capacity = uint(yc.Pools.AudioCapacity)
		}
		if yc.Pools.AudioCellBytes > 0 {
			audio.CellBytes = uint(yc.Pools.AudioCellBytes)
		}
		cfg.Pools.AudioPcm = audio
		cfg.Pools.Playable = audio
	}
	if yc.Pools.EncodedCapacity > 0 {
		cfg.Pools.AudioEncoded.Capacity = uint(yc.Pools.EncodedCapacity)
	}
	if yc.Pools.EncodedCellBytes > 0 {
		cfg.Pools.AudioEncoded.CellBytes = uint(yc.Pools.EncodedCellBytes)
	}

	if yc.Reservoir.EncodedMaxBytes > 0 {
		cfg.EncodedReservoir.MaxBytes = yc.Reservoir.EncodedMaxBytes
	}
	if yc.Reservoir.EncodedHistoryBytes > 0 {
		cfg.EncodedReservoir.HistoryBytes = yc.Reservoir.EncodedHistoryBytes
	}
	if yc.Reservoir.EncodedMaxStreams > 0 {
		cfg.EncodedReservoir.MaxStreams = yc.Reservoir.EncodedMaxStreams
	}
	if yc.Reservoir.DecodedMaxJiffiesMs > 0 {
		cfg.DecodedReservoir.MaxJiffies = msToJiffies(yc.Reservoir.DecodedMaxJiffiesMs)
	}
	if yc.Reservoir.DecodedMaxStreams > 0 {
		cfg.DecodedReservoir.MaxStreams = yc.Reservoir.DecodedMaxStreams
	}

	if yc.Aggregator.MaxBytes > 0 {
		cfg.Aggregator.MaxBytes = yc.Aggregator.MaxBytes
	}
	if yc.Aggregator.MaxJiffiesMs > 0 {
		cfg.Aggregator.MaxJiffies = msToJiffies(yc.Aggregator.MaxJiffiesMs)
	}

	if yc.Stopper.RampMs > 0 {
		cfg.StopperRampDuration = time.Duration(yc.Stopper.RampMs) * time.Millisecond
	}

	if yc.Starvation.MaxJiffiesMs > 0 {
		cfg.Starvation.MaxJiffies = msToJiffies(yc.Starvation.MaxJiffiesMs)
	}
	if yc.Starvation.MaxStreams > 0 {
		cfg.Starvation.MaxStreams = yc.Starvation.MaxStreams
	}
	if yc.Starvation.RampDownMs > 0 {
		cfg.Starvation.RampDownJiffies = msToJiffies(yc.Starvation.RampDownMs)
	}
	if yc.Starvation.RampUpMs > 0 {
		cfg.Starvation.RampUpJiffies = msToJiffies(yc.Starvation.RampUpMs)
	}

	if yc.ClockPull.SamplePeriodMs > 0 {
		cfg.ClockPullSamplePeriod = time.Duration(yc.ClockPull.SamplePeriodMs) * time.Millisecond
	}

	if yc.Audio.MaxSampleRate > 0 {
		cfg.MaxSampleRate = yc.Audio.MaxSampleRate
	}
	if yc.Audio.MaxBitDepth > 0 {
		cfg.MaxBitDepth = yc.Audio.MaxBitDepth
	}
	if yc.Audio.MaxChannels > 0 {
		cfg.MaxChannels = yc.Audio.MaxChannels
	}

	if yc.PrefetchTimeoutMs > 0 {
		cfg.PrefetchTimeout = time.Duration(yc.PrefetchTimeoutMs) * time.Millisecond
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func msToJiffies(ms int) int64 {
	return int64(ms) * (jiffies.PerSecond / 1000)
}

func (c Config) validate() error {
	if c.MaxChannels <= 0 {
		return errors.New("config: audio.max_channels must be positive")
	}
	if c.MaxBitDepth != 8 && c.MaxBitDepth != 16 && c.MaxBitDepth != 24 {
		return fmt.Errorf("config: audio.max_bit_depth must be 8, 16 or 24, got %d", c.MaxBitDepth)
	}
	if c.Starvation.RampUpJiffies <= 0 || c.Starvation.RampDownJiffies <= 0 {
		return errors.New("config: starvation ramp durations must be positive")
	}
	if c.PrefetchTimeout <= 0 {
		return errors.New("config: prefetch_timeout_ms must be positive")
	}
	return nil
}
