package yolo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigManagerLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.yaml")
	cm := NewConfigManager(path)

	require.NoError(t, cm.LoadOrCreate())
	require.FileExists(t, path)
	require.Equal(t, DefaultAppConfig(), cm.Config())

	cm.Config().Camera.URL = "0"
	cm.Config().Detection.WithConfThreshold(0.5)
	require.NoError(t, cm.SaveConfig())

	reloaded := NewConfigManager(path)
	require.NoError(t, reloaded.LoadOrCreate())
	require.Equal(t, "0", reloaded.Config().Camera.URL)
	require.InDelta(t, 0.5, reloaded.Config().Detection.ConfThreshold, 1e-6)
}

func TestConfigManagerPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte("camera:\n  max_attempts: 2\n"), 0644))

	cm := NewConfigManager(path)
	require.NoError(t, cm.LoadConfig())
	require.Equal(t, 2, cm.Config().Camera.MaxAttempts)
	// 未出现的字段保持默认
	require.Equal(t, 1280, cm.Config().UI.MaxSide)
	require.Equal(t, "output.mp4", cm.Config().Video.OutputPath)
}

func TestConfigManagerBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte("camera: [\n"), 0644))
	require.Error(t, NewConfigManager(path).LoadOrCreate())
}
