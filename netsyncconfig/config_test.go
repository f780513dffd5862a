package netsyncconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadWithNoPathReturnsDefaults(t *testing.T) {
	t.Setenv(EnvOverridePath, "")
	opts, err := Load("")
	require.NoError(t, err)
	require.Equal(t, DefaultOptions(), opts)
}

func TestLoadOverlaysFileOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "netsync.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"max_players": 8, "frame_delay": 3}`), 0o644))

	opts, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8, opts.MaxPlayers)
	require.Equal(t, 3, opts.FrameDelay)
	require.Equal(t, DefaultOptions().PredictionFrames, opts.PredictionFrames)
}

func TestLoadHonorsEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "netsync.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"max_players": 3}`), 0o644))
	t.Setenv(EnvOverridePath, path)

	opts, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 3, opts.MaxPlayers)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "netsync.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"max_players": 0}`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateRejectsQueueLengthNotExceedingPredictionFrames(t *testing.T) {
	o := DefaultOptions()
	o.InputQueueLength = o.PredictionFrames
	require.Error(t, o.Validate())
}

func TestValidateRejectsInvertedFrameAdvantageBounds(t *testing.T) {
	o := DefaultOptions()
	o.MinFrameAdvantage = 10
	o.MaxFrameAdvantage = 1
	require.Error(t, o.Validate())
}
