package pipeline

import "playpipe/pipeline/jiffies"

// perSampleJiffies exposes the jiffies package's per-rate table to msg.go
// without forcing every call site to import the subpackage directly.
func perSampleJiffies(sampleRate int) (int64, bool) {
	return jiffies.PerSample(sampleRate)
}
