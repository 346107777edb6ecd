package config

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swdee/go-peoplecount/bus"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
device: "Kamerotski"
counting:
  left: 100
  right: 500
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Kamerotski", cfg.Device)
	assert.Equal(t, 100, cfg.Counting.Left)
	assert.Equal(t, 500, cfg.Counting.Right)
	assert.Equal(t, 50, cfg.Tracking.MaxDisappeared)
	assert.Equal(t, 50.0, cfg.Tracking.MaxDistance)
	assert.Equal(t, 45.0, cfg.Correlation.AngleOffset)
	assert.Equal(t, 80.0, cfg.Correlation.DistanceOffset)
	assert.Equal(t, 0.7, cfg.Composite.ScoreThreshold)
	assert.Equal(t, 10, cfg.Composite.StableFrames)
	assert.Equal(t, 0, cfg.Filter.PersonClass)
	assert.Equal(t, 25, cfg.Filter.UmbrellaClass)
	assert.Equal(t, 640, cfg.Frame.Width)
	assert.Equal(t, 360, cfg.Frame.Height)
	assert.Equal(t, 60*time.Second, cfg.Report.Interval)
	assert.Equal(t, "file", cfg.Source.Type)
	assert.Equal(t, path, cfg.GetPath())
}

func TestLoadResolvesLabels(t *testing.T) {
	dir := t.TempDir()
	labels := filepath.Join(dir, "labels.txt")
	require.NoError(t, os.WriteFile(labels, []byte("background\nperson\ncar\numbrella\n"), 0644))

	path := writeConfig(t, `
filter:
  labels_file: "`+labels+`"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Filter.PersonClass)
	assert.Equal(t, 3, cfg.Filter.UmbrellaClass)
	assert.Equal(t, bus.SubjectDetections, cfg.Source.Subject)

	path = writeConfig(t, `
filter:
  labels_file: "`+labels+`"
  umbrella_label: "parasol"
`)

	_, err = Load(path)
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestLoadCorridorDefaultsToFrameWidth(t *testing.T) {
	path := writeConfig(t, `
frame:
  width: 1280
  height: 720
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.Counting.Left)
	assert.Equal(t, 1280, cfg.Counting.Right)
}

func TestLoadNonExistent(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoadRejectsInvalidCorridor(t *testing.T) {
	path := writeConfig(t, `
counting:
  left: 400
  right: 200
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
	assert.Contains(t, err.Error(), "corridor")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		valid  bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"negative left", func(c *Config) { c.Counting.Left = -1 }, false},
		{"zero height", func(c *Config) { c.Frame.Height = 0 }, false},
		{"confidence above one", func(c *Config) { c.Filter.MinConfidence = 1.5 }, false},
		{"unknown source", func(c *Config) { c.Source.Type = "rtsp" }, false},
		{"report without target", func(c *Config) { c.Report.Enabled = true }, false},
		{"report with url", func(c *Config) {
			c.Report.Enabled = true
			c.Report.URL = "http://localhost/api"
		}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.modify(cfg)

			err := cfg.Validate()
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalid)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Default()
	cfg.Device = "gate-1"
	cfg.Counting.Left = 120
	cfg.Report.Interval = 5 * time.Minute
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.SetPath(path)

	require.NoError(t, cfg.Save())

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should be renamed away")

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gate-1", loaded.Device)
	assert.Equal(t, 120, loaded.Counting.Left)
	assert.Equal(t, 5*time.Minute, loaded.Report.Interval)
	assert.Equal(t, cfg.Server.AllowedOrigins, loaded.Server.AllowedOrigins)
	assert.Equal(t, cfg.PipelineSettings(), loaded.PipelineSettings())
}

func TestSaveWithoutPath(t *testing.T) {
	assert.Error(t, Default().Save())
}

func TestPipelineSettings(t *testing.T) {
	cfg := Default()
	cfg.Composite.Disabled = true
	cfg.Counting.ExcludeComposites = true
	cfg.Logging.Verbose = true

	s := cfg.PipelineSettings()

	assert.False(t, s.EnableComposites)
	assert.False(t, s.CountComposites)
	assert.True(t, s.Verbose)
	assert.Equal(t, float32(0.4), s.Filter.MinConfidence)
	assert.Equal(t, 640, s.CorridorRight)
}

func TestWatchReloads(t *testing.T) {
	path := writeConfig(t, "device: before\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	changed := make(chan string, 4)
	cfg.OnChange(func(c *Config) {
		c.mu.RLock()
		defer c.mu.RUnlock()
		select {
		case changed <- c.Device:
		default:
		}
	})

	stop := make(chan struct{})
	defer close(stop)

	require.NoError(t, cfg.Watch(stop))

	require.NoError(t, os.WriteFile(path, []byte("device: after\n"), 0644))

	select {
	case device := <-changed:
		assert.Equal(t, "after", device)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

// syncBuffer is a bytes.Buffer safe for the watcher goroutine to log into
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestReloadLogsThroughInjectedLogger(t *testing.T) {
	path := writeConfig(t, "device: before\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	out := &syncBuffer{}
	cfg.SetLogger(slog.New(slog.NewTextHandler(out, nil)))

	stop := make(chan struct{})
	defer close(stop)

	require.NoError(t, cfg.Watch(stop))

	// an invalid corridor fails the reload and keeps the old values
	require.NoError(t, os.WriteFile(path,
		[]byte("device: after\ncounting:\n  left: 500\n  right: 100\n"), 0644))

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Failed to reload config")
	}, 5*time.Second, 20*time.Millisecond)

	assert.Contains(t, out.String(), "component=config")

	cfg.mu.RLock()
	defer cfg.mu.RUnlock()
	assert.Equal(t, "before", cfg.Device)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", ParseLevel("debug").String())
	assert.Equal(t, "WARN", ParseLevel("warning").String())
	assert.Equal(t, "INFO", ParseLevel("bogus").String())
}
