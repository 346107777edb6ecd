// Package config loads, validates, saves and watches the YAML configuration
// of the people counter
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/swdee/go-peoplecount/bus"
	"github.com/swdee/go-peoplecount/pipeline"
	"github.com/swdee/go-peoplecount/postprocess"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned when the configuration fails validation
var ErrInvalid = errors.New("invalid configuration")

// Config represents the people counter configuration
type Config struct {
	Device      string            `yaml:"device"`
	Source      SourceConfig      `yaml:"source"`
	Frame       FrameConfig       `yaml:"frame"`
	Filter      FilterConfig      `yaml:"filter"`
	Tracking    TrackingConfig    `yaml:"tracking"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Composite   CompositeConfig   `yaml:"composite"`
	Counting    CountingConfig    `yaml:"counting"`
	Report      ReportConfig      `yaml:"report"`
	Store       StoreConfig       `yaml:"store"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`

	// Internal fields
	mu       sync.RWMutex    `yaml:"-"`
	path     string          `yaml:"-"`
	watchers []func(*Config) `yaml:"-"`
	log      *slog.Logger    `yaml:"-"`
}

// SourceConfig selects where detections are read from
type SourceConfig struct {
	Type    string `yaml:"type"` // file or nats
	Path    string `yaml:"path,omitempty"`
	NATSURL string `yaml:"nats_url,omitempty"`
	Subject string `yaml:"subject,omitempty"`
	Video   string `yaml:"video,omitempty"`
}

// FrameConfig holds the default frame dimensions
type FrameConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// FilterConfig holds detection filter thresholds
type FilterConfig struct {
	// LabelsFile is the detector's label list, one per line.  When set the
	// person and umbrella classes are resolved from PersonLabel and
	// UmbrellaLabel
	LabelsFile    string  `yaml:"labels_file,omitempty"`
	PersonLabel   string  `yaml:"person_label,omitempty"`
	UmbrellaLabel string  `yaml:"umbrella_label,omitempty"`
	PersonClass   int     `yaml:"person_class"`
	UmbrellaClass int     `yaml:"umbrella_class"`
	MinConfidence float64 `yaml:"min_confidence"`
	MinArea       int     `yaml:"min_area"`
	MaxArea       int     `yaml:"max_area"`
	MinAspect     float64 `yaml:"min_aspect"`
	MaxAspect     float64 `yaml:"max_aspect"`
	NMSThreshold  float64 `yaml:"nms_threshold"`
}

// TrackingConfig holds the centroid tracker settings
type TrackingConfig struct {
	MaxDisappeared int     `yaml:"max_disappeared"`
	MaxDistance    float64 `yaml:"max_distance"`
}

// CorrelationConfig holds the person and umbrella correlation limits
type CorrelationConfig struct {
	AngleOffset    float64 `yaml:"angle_offset"`
	DistanceOffset float64 `yaml:"distance_offset"`
	MinScore       float64 `yaml:"min_score"`
}

// CompositeConfig holds the composite entity settings
type CompositeConfig struct {
	Disabled       bool    `yaml:"disabled"`
	ScoreThreshold float64 `yaml:"score_threshold"`
	StableFrames   int     `yaml:"stable_frames"`
	MaxDistance    float64 `yaml:"max_distance"`
}

// CountingConfig holds the crossing counter corridor
type CountingConfig struct {
	Left              int  `yaml:"left"`
	Right             int  `yaml:"right"`
	ExcludeComposites bool `yaml:"exclude_composites"`
}

// ReportConfig holds the periodic counter reporting settings
type ReportConfig struct {
	Enabled     bool          `yaml:"enabled"`
	URL         string        `yaml:"url,omitempty"`
	NATSSubject string        `yaml:"nats_subject,omitempty"`
	Interval    time.Duration `yaml:"interval"`
	Timeout     time.Duration `yaml:"timeout"`
}

// StoreConfig holds the sqlite history settings
type StoreConfig struct {
	Path             string        `yaml:"path,omitempty"`
	KeepEvents       int           `yaml:"keep_events"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

// ServerConfig holds the status API settings
type ServerConfig struct {
	Addr           string   `yaml:"addr,omitempty"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Verbose bool   `yaml:"verbose"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	c := &Config{}
	c.setDefaults()
	return c
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.path = path
	cfg.setDefaults()

	if err := cfg.resolveLabels(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration for values the pipeline cannot work with
func (c *Config) Validate() error {

	var errs []error

	if c.Frame.Width <= 0 || c.Frame.Height <= 0 {
		errs = append(errs, fmt.Errorf("frame size %dx%d must be positive",
			c.Frame.Width, c.Frame.Height))
	}

	if c.Counting.Left < 0 || c.Counting.Right <= c.Counting.Left {
		errs = append(errs, fmt.Errorf("counting corridor [%d,%d] must satisfy 0 <= left < right",
			c.Counting.Left, c.Counting.Right))
	}

	if c.Tracking.MaxDisappeared < 0 {
		errs = append(errs, fmt.Errorf("max_disappeared %d must not be negative",
			c.Tracking.MaxDisappeared))
	}

	if c.Filter.MinConfidence < 0 || c.Filter.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("min_confidence %v must be within [0,1]",
			c.Filter.MinConfidence))
	}

	if c.Composite.ScoreThreshold < 0 || c.Composite.ScoreThreshold > 1 {
		errs = append(errs, fmt.Errorf("composite score_threshold %v must be within [0,1]",
			c.Composite.ScoreThreshold))
	}

	switch c.Source.Type {
	case "file", "nats":
	default:
		errs = append(errs, fmt.Errorf("unknown source type %q", c.Source.Type))
	}

	if c.Report.Enabled && c.Report.URL == "" && c.Report.NATSSubject == "" {
		errs = append(errs, errors.New("report enabled without url or nats_subject"))
	}

	if len(errs) == 0 {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// Save saves the configuration to its YAML file
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveUnlocked()
}

// saveUnlocked saves without acquiring lock (caller must hold lock)
func (c *Config) saveUnlocked() error {
	if c.path == "" {
		return errors.New("config has no file path")
	}

	data, err := yaml.Marshal(c.copyUnlocked())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := "# People counter configuration\n\n"
	data = append([]byte(header), data...)

	// Atomic write
	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return os.Rename(tmpPath, c.path)
}

// copyUnlocked returns a copy of the exported fields
func (c *Config) copyUnlocked() *Config {
	return &Config{
		Device:      c.Device,
		Source:      c.Source,
		Frame:       c.Frame,
		Filter:      c.Filter,
		Tracking:    c.Tracking,
		Correlation: c.Correlation,
		Composite:   c.Composite,
		Counting:    c.Counting,
		Report:      c.Report,
		Store:       c.Store,
		Server:      c.Server,
		Logging:     c.Logging,
	}
}

// Watch starts watching for configuration file changes until stop is closed.
// The directory is watched so editors that replace the file are noticed
func (c *Config) Watch(stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	path := c.GetPath()
	name := filepath.Clean(path)

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-stop:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != name {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					time.Sleep(100 * time.Millisecond) // Debounce
					c.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger().Error("Config watch error", "error", err)
			}
		}
	}()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config: %w", err)
	}

	return nil
}

// SetLogger sets the logger used by the watcher and reload
func (c *Config) SetLogger(l *slog.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = l.With("component", "config")
}

// logger returns the injected logger or the default one
func (c *Config) logger() *slog.Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.log == nil {
		return slog.Default().With("component", "config")
	}

	return c.log
}

// OnChange registers a callback for config changes
func (c *Config) OnChange(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

// reload reloads the configuration from disk, keeping the current values
// when the new file fails to load
func (c *Config) reload() {
	newCfg, err := Load(c.GetPath())
	if err != nil {
		c.logger().Error("Failed to reload config", "error", err)
		return
	}

	c.mu.Lock()
	c.Device = newCfg.Device
	c.Source = newCfg.Source
	c.Frame = newCfg.Frame
	c.Filter = newCfg.Filter
	c.Tracking = newCfg.Tracking
	c.Correlation = newCfg.Correlation
	c.Composite = newCfg.Composite
	c.Counting = newCfg.Counting
	c.Report = newCfg.Report
	c.Store = newCfg.Store
	c.Server = newCfg.Server
	c.Logging = newCfg.Logging
	watchers := c.watchers
	c.mu.Unlock()

	c.logger().Info("Configuration reloaded")

	for _, fn := range watchers {
		fn(c)
	}
}

// SetPath sets the path for the config file (used for saving)
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// GetPath returns the current config file path
func (c *Config) GetPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// PipelineSettings converts the configuration into pipeline settings
func (c *Config) PipelineSettings() pipeline.Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return pipeline.Settings{
		MaxDisappeared:          c.Tracking.MaxDisappeared,
		MaxDistance:             c.Tracking.MaxDistance,
		AngleLimit:              c.Correlation.AngleOffset,
		DistanceLimit:           c.Correlation.DistanceOffset,
		MinCorrelationScore:     c.Correlation.MinScore,
		EnableComposites:        !c.Composite.Disabled,
		CompositeScoreThreshold: c.Composite.ScoreThreshold,
		CompositeStableFrames:   c.Composite.StableFrames,
		CompositeMaxDistance:    c.Composite.MaxDistance,
		CorridorLeft:            c.Counting.Left,
		CorridorRight:           c.Counting.Right,
		CountComposites:         !c.Counting.ExcludeComposites,
		PersonClass:             c.Filter.PersonClass,
		UmbrellaClass:           c.Filter.UmbrellaClass,
		Filter: postprocess.Filter{
			MinConfidence: float32(c.Filter.MinConfidence),
			MinArea:       c.Filter.MinArea,
			MaxArea:       c.Filter.MaxArea,
			MinAspect:     c.Filter.MinAspect,
			MaxAspect:     c.Filter.MaxAspect,
			NMSThreshold:  float32(c.Filter.NMSThreshold),
		},
		FrameWidth:  c.Frame.Width,
		FrameHeight: c.Frame.Height,
		Verbose:     c.Logging.Verbose,
	}
}

// NewLogger returns a slog logger configured by the logging section.  The
// LOG_LEVEL environment variable overrides the configured level
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	c.mu.RLock()
	level := c.Logging.Level
	format := c.Logging.Format
	c.mu.RUnlock()

	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel converts a level name into a slog level, defaulting to info
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// resolveLabels sets the person and umbrella classes from the labels file
func (c *Config) resolveLabels() error {

	if c.Filter.LabelsFile == "" {
		return nil
	}

	labels, err := postprocess.LoadLabels(c.Filter.LabelsFile)
	if err != nil {
		return fmt.Errorf("failed to load labels: %w", err)
	}

	if c.Filter.PersonClass, err = postprocess.ClassID(labels, c.Filter.PersonLabel); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if c.Filter.UmbrellaClass, err = postprocess.ClassID(labels, c.Filter.UmbrellaLabel); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	return nil
}

// setDefaults sets default values for unset fields
func (c *Config) setDefaults() {
	defaults := pipeline.DefaultSettings()

	if c.Device == "" {
		c.Device = "default"
	}
	if c.Source.Type == "" {
		c.Source.Type = "file"
	}
	if c.Source.Subject == "" {
		c.Source.Subject = bus.SubjectDetections
	}
	if c.Frame.Width == 0 {
		c.Frame.Width = defaults.FrameWidth
	}
	if c.Frame.Height == 0 {
		c.Frame.Height = defaults.FrameHeight
	}
	if c.Filter.PersonLabel == "" {
		c.Filter.PersonLabel = "person"
	}
	if c.Filter.UmbrellaLabel == "" {
		c.Filter.UmbrellaLabel = "umbrella"
	}
	if c.Filter.UmbrellaClass == 0 {
		c.Filter.UmbrellaClass = defaults.UmbrellaClass
	}
	if c.Filter.MinConfidence == 0 {
		c.Filter.MinConfidence = float64(defaults.Filter.MinConfidence)
	}
	if c.Filter.MinArea == 0 {
		c.Filter.MinArea = defaults.Filter.MinArea
	}
	if c.Filter.MaxArea == 0 {
		c.Filter.MaxArea = defaults.Filter.MaxArea
	}
	if c.Filter.MinAspect == 0 {
		c.Filter.MinAspect = defaults.Filter.MinAspect
	}
	if c.Filter.MaxAspect == 0 {
		c.Filter.MaxAspect = defaults.Filter.MaxAspect
	}
	if c.Filter.NMSThreshold == 0 {
		c.Filter.NMSThreshold = float64(defaults.Filter.NMSThreshold)
	}
	if c.Tracking.MaxDisappeared == 0 {
		c.Tracking.MaxDisappeared = defaults.MaxDisappeared
	}
	if c.Tracking.MaxDistance == 0 {
		c.Tracking.MaxDistance = defaults.MaxDistance
	}
	if c.Correlation.AngleOffset == 0 {
		c.Correlation.AngleOffset = defaults.AngleLimit
	}
	if c.Correlation.DistanceOffset == 0 {
		c.Correlation.DistanceOffset = defaults.DistanceLimit
	}
	if c.Correlation.MinScore == 0 {
		c.Correlation.MinScore = defaults.MinCorrelationScore
	}
	if c.Composite.ScoreThreshold == 0 {
		c.Composite.ScoreThreshold = defaults.CompositeScoreThreshold
	}
	if c.Composite.StableFrames == 0 {
		c.Composite.StableFrames = defaults.CompositeStableFrames
	}
	if c.Composite.MaxDistance == 0 {
		c.Composite.MaxDistance = defaults.CompositeMaxDistance
	}
	if c.Counting.Right == 0 {
		c.Counting.Right = c.Frame.Width
	}
	if c.Report.Interval == 0 {
		c.Report.Interval = 60 * time.Second
	}
	if c.Report.Timeout == 0 {
		c.Report.Timeout = 30 * time.Second
	}
	if c.Store.KeepEvents == 0 {
		c.Store.KeepEvents = 10000
	}
	if c.Store.SnapshotInterval == 0 {
		c.Store.SnapshotInterval = time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}
