package ramp_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"playpipe/pipeline/ramp"
)

func TestValueAtEndpoints(t *testing.T) {
	d := ramp.New(ramp.Down, ramp.Max, ramp.Min)
	require.Equal(t, ramp.Max, ramp.ValueAt(d, 0, 1000))
	require.Equal(t, ramp.Min, ramp.ValueAt(d, 1000, 1000))
	require.Equal(t, float64(0), ramp.Multiplier(ramp.ValueAt(d, 1000, 1000)))
}

func TestMultiplierAtMinIsBitExactZero(t *testing.T) {
	require.Equal(t, float64(0), ramp.Multiplier(ramp.Min))
	require.Equal(t, float64(1), ramp.Multiplier(ramp.Max))
}

func TestSetSplitsWhenLongerThanRemaining(t *testing.T) {
	d, consumed := ramp.Set(ramp.Max, 100, ramp.Down, 300)
	require.Equal(t, int64(100), consumed)
	require.Equal(t, ramp.Min, d.End)
	require.NoError(t, d.Validate())
}

func TestSetFitsEntirelyWithinRemaining(t *testing.T) {
	d, consumed := ramp.Set(ramp.Max, 300, ramp.Down, 100)
	require.Equal(t, int64(100), consumed)
	require.NotEqual(t, ramp.Min, d.End) // only 1/3 of the way there
	require.NoError(t, d.Validate())
}

func TestSplitPreservesAdjacency(t *testing.T) {
	d := ramp.New(ramp.Down, ramp.Max, ramp.Min)
	head, tail := ramp.Split(d, 250, 1000)
	require.True(t, ramp.CanConcat(head, tail))
	require.NoError(t, head.Validate())
	require.NoError(t, tail.Validate())
}

func TestCanConcatNoneWithNone(t *testing.T) {
	require.True(t, ramp.CanConcat(ramp.Descriptor{}, ramp.Descriptor{}))
}

func TestCanConcatRejectsMismatchedEndpoints(t *testing.T) {
	a := ramp.New(ramp.Down, ramp.Max, 500)
	b := ramp.New(ramp.Down, 400, ramp.Min)
	require.False(t, ramp.CanConcat(a, b))
}

func TestValidateRejectsUpRampWithFallingGain(t *testing.T) {
	d := ramp.Descriptor{Dir: ramp.Up, Start: ramp.Max, End: ramp.Min}
	require.Error(t, d.Validate())
}
