package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().validate())
}

func TestLoadOverridesOnlyPresentFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "playpipe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pools:
  audio_capacity: 128
  audio_cell_bytes: 16384
reservoir:
  decoded_max_jiffies_ms: 500
starvation:
  max_streams: 8
audio:
  max_sample_rate: 48000
prefetch_timeout_ms: 2000
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	def := Default()

	require.EqualValues(t, 128, cfg.Pools.AudioPcm.Capacity)
	require.EqualValues(t, 16384, cfg.Pools.AudioPcm.CellBytes)
	require.EqualValues(t, 128, cfg.Pools.Playable.Capacity)

	require.Equal(t, msToJiffies(500), cfg.DecodedReservoir.MaxJiffies)

	require.Equal(t, 8, cfg.Starvation.MaxStreams)
	require.Equal(t, def.Starvation.RampUpJiffies, cfg.Starvation.RampUpJiffies)
	require.Equal(t, def.Starvation.RampDownJiffies, cfg.Starvation.RampDownJiffies)

	require.Equal(t, 48000, cfg.MaxSampleRate)
	require.Equal(t, def.MaxBitDepth, cfg.MaxBitDepth)

	require.Equal(t, 2000*1_000_000, int(cfg.PrefetchTimeout))

	require.Equal(t, def.EncodedReservoir, cfg.EncodedReservoir)
	require.Equal(t, def.Aggregator, cfg.Aggregator)
	require.Equal(t, def.StopperRampDuration, cfg.StopperRampDuration)
}

func TestLoadRejectsUnreadableFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsInvalidBitDepth(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "playpipe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
audio:
  max_bit_depth: 12
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestSupportedSampleRatesNonEmpty(t *testing.T) {
	require.NotEmpty(t, SupportedSampleRates())
	require.Contains(t, SupportedSampleRates(), 44100)
}
