package starvation

// ConvolutionModel and FeedbackModel implement the two linear-prediction
// building blocks the flywheel ramp generator is built from (spec.md §4.9,
// grounded on OpenHome/Media/FlywheelRamper.h). Both operate on fixed-point
// 32-bit samples scaled by a shift count rather than floats, matching the
// original's integer-only audio path.
//
// ConvolutionModel computes a plain FIR: out[n] = sum_k coeff[k]*in[n-k].
// FeedbackModel computes an IIR that folds its own output back in:
// out[n] = in[n] + sum_k coeff[k]*out[n-k-1]. The flywheel ramp generator
// uses a FeedbackModel seeded with genuine recent audio to extrapolate a
// plausible continuation once real audio runs out, then ramps that
// continuation down to silence.
const coeffScaleShift = 23

// Model is the shared coefficient/scaling state both convolution and
// feedback evaluate against.
type Model struct {
	coeffs        []int32
	coeffScaling  uint
	dataInScaling uint
	dataOutScaling uint
}

func newModel(coeffs []int32, coeffScaling, dataInScaling, dataOutScaling uint) Model {
	c := make([]int32, len(coeffs))
	copy(c, coeffs)
	return Model{coeffs: c, coeffScaling: coeffScaling, dataInScaling: dataInScaling, dataOutScaling: dataOutScaling}
}

func (m Model) scaleShift() int {
	return int(m.coeffScaling) + int(m.dataInScaling) - int(m.dataOutScaling)
}

func shiftSample(v int64, shift int) int32 {
	if shift >= 0 {
		return int32(v >> uint(shift))
	}
	return int32(v << uint(-shift))
}

// ConvolutionModel is a finite-impulse-response filter: each output sample
// depends only on input samples, never on prior output.
type ConvolutionModel struct {
	Model
}

func NewConvolutionModel(coeffs []int32, coeffScaling, dataInScaling, dataOutScaling uint) *ConvolutionModel {
	return &ConvolutionModel{newModel(coeffs, coeffScaling, dataInScaling, dataOutScaling)}
}

// Process returns count output samples computed over in, treating samples
// before index 0 as zero (matching the original's zero-padded history).
func (c *ConvolutionModel) Process(in []int32, count int) []int32 {
	shift := c.scaleShift()
	out := make([]int32, count)
	for n := 0; n < count; n++ {
		var acc int64
		for k, coeff := range c.coeffs {
			idx := n - k
			if idx < 0 || idx >= len(in) {
				continue
			}
			acc += int64(coeff) * int64(in[idx])
		}
		out[n] = shiftSample(acc, shift)
	}
	return out
}

// FeedbackModel is an infinite-impulse-response filter: each output sample
// folds in its own prior outputs, which is what lets it keep generating
// plausible audio once the genuine input block has been exhausted (spec.md
// §4.9 "flywheel").
type FeedbackModel struct {
	Model
}

func NewFeedbackModel(coeffs []int32, coeffScaling, dataInScaling, dataOutScaling uint) *FeedbackModel {
	return &FeedbackModel{newModel(coeffs, coeffScaling, dataInScaling, dataOutScaling)}
}

// Process returns count output samples. For n within range(in), out[n]
// starts from in[n]; once in is exhausted, out[n] is pure feedback,
// extrapolating the waveform forward — the mechanism the flywheel relies
// on to synthesize its ramp-down seed.
func (f *FeedbackModel) Process(in []int32, count int) []int32 {
	shift := f.scaleShift()
	out := make([]int32, count)
	for n := 0; n < count; n++ {
		var acc int64
		if n < len(in) {
			acc = int64(in[n]) << uint(f.dataInScaling)
		}
		for k, coeff := range f.coeffs {
			idx := n - k - 1
			if idx < 0 {
				continue
			}
			acc += int64(coeff) * int64(out[idx])
		}
		out[n] = shiftSample(acc, shift)
	}
	return out
}

// defaultFeedbackCoeffs is a single-pole decay: each sample is ~96% of the
// one before it, scaled by coeffScaleShift. This is the flywheel's "keep
// doing roughly what you were doing, but quieter" extrapolation — a
// deliberately simple stand-in for the original's tuned multi-tap
// coefficients, since no production coefficient table survived into the
// distillation this repo is grounded on.
// 0.96 in Q9.23 fixed point (0.96 * 2^23, truncated).
const decayCoeff23 int32 = 8053063

var defaultFeedbackCoeffs = []int32{decayCoeff23}

// Extrapolate generates count samples of plausible continuation audio from
// a seed of genuine recent samples, for one channel.
func Extrapolate(seed []int32, count int) []int32 {
	fb := NewFeedbackModel(defaultFeedbackCoeffs, coeffScaleShift, 0, 0)
	return fb.Process(seed, len(seed)+count)[len(seed):]
}
