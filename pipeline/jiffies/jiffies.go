// Package jiffies defines the pipeline's fixed-point, sample-rate-agnostic
// time unit and the per-rate conversion table it is built from.
package jiffies

// PerSecond is a common multiple of every supported sample rate, so that
// an integer number of samples at any supported rate is an integer number
// of jiffies. It is lcm(352800, 384000), twice the least common multiple
// of the rates in the table below, and matches the constant the pipeline
// this package models was built around.
const PerSecond = 56448000

// PerMillisecond is PerSecond expressed per millisecond.
const PerMillisecond = PerSecond / 1000

// MinSplit is the smallest granularity (in jiffies) a split is guaranteed to
// land on a whole-sample boundary for every supported rate: 40ms.
const MinSplit = PerSecond / 25

// perSample holds the jiffies-per-sample constant for every rate the
// pipeline accepts. Values come from PerSecond / rate and are always exact
// integers by construction of PerSecond.
var perSample = map[int]int64{
	7350:   PerSecond / 7350,
	8000:   PerSecond / 8000,
	11025:  PerSecond / 11025,
	12000:  PerSecond / 12000,
	14700:  PerSecond / 14700,
	16000:  PerSecond / 16000,
	22050:  PerSecond / 22050,
	24000:  PerSecond / 24000,
	29400:  PerSecond / 29400,
	32000:  PerSecond / 32000,
	44100:  PerSecond / 44100,
	48000:  PerSecond / 48000,
	88200:  PerSecond / 88200,
	96000:  PerSecond / 96000,
	176400: PerSecond / 176400,
	192000: PerSecond / 192000,
}

// PerSample returns the number of jiffies occupied by a single sample at
// the given rate, and whether that rate is supported.
func PerSample(sampleRate int) (int64, bool) {
	v, ok := perSample[sampleRate]
	return v, ok
}

// SupportedRates returns every rate registered in the table, in no
// particular order.
func SupportedRates() []int {
	rates := make([]int, 0, len(perSample))
	for r := range perSample {
		rates = append(rates, r)
	}
	return rates
}

// FromSamples converts a sample count at sampleRate into jiffies.
func FromSamples(samples int64, sampleRate int) int64 {
	jps, ok := perSample[sampleRate]
	if !ok {
		return 0
	}
	return samples * jps
}

// ToSamples converts jiffies at sampleRate into a whole number of samples,
// returning the leftover jiffies that didn't fill a whole sample.
func ToSamples(j int64, sampleRate int) (samples int64, remainder int64) {
	jps, ok := perSample[sampleRate]
	if !ok || jps == 0 {
		return 0, j
	}
	return j / jps, j % jps
}

// FromMillis converts a millisecond duration into jiffies.
func FromMillis(ms int64) int64 {
	return ms * PerMillisecond
}
