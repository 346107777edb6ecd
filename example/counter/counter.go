package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/swdee/go-peoplecount/bus"
	"github.com/swdee/go-peoplecount/config"
	"github.com/swdee/go-peoplecount/pipeline"
	"github.com/swdee/go-peoplecount/render"
	"github.com/swdee/go-peoplecount/report"
	"github.com/swdee/go-peoplecount/server"
	"github.com/swdee/go-peoplecount/source"
	"github.com/swdee/go-peoplecount/store"
	"gocv.io/x/gocv"
)

// Timing is a struct to hold timers used for finding execution time
// for various parts of the process
type Timing struct {
	ProcessStart  time.Time
	SourceEnd     time.Time
	PipelineEnd   time.Time
	RenderingEnd  time.Time
	ProcessEnd    time.Time
	FramesHandled int
}

// Counter wires a detection source through the tracking pipeline to the
// reporter, store, status API and an optional annotated video output
type Counter struct {
	cfg *config.Config
	log *slog.Logger

	pipe     *pipeline.Pipeline
	src      source.Source
	bus      *bus.Bus
	reporter *report.Reporter
	natsSink *report.NATSSink
	store    *store.Store
	server   *server.Server

	// settings carries reloaded configuration to the frame loop
	settings chan pipeline.Settings

	video  *gocv.VideoCapture
	writer *gocv.VideoWriter
	window *gocv.Window
	img    gocv.Mat
	opts   render.Options

	snapshotInterval time.Duration
	keepEvents       int
	lastSnapshot     time.Time
}

// Options are the command line overrides
type Options struct {
	ConfigFile     string
	VideoFile      string
	DetectionsFile string
	OutputFile     string
	Show           bool
	Verbose        bool
}

// loadConfig loads the config file or falls back to the defaults
func loadConfig(path string) (*config.Config, error) {

	if path == "" {
		return config.Default(), nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// NewCounter builds all components from the configuration
func NewCounter(ctx context.Context, opts Options) (*Counter, error) {

	cfg, err := loadConfig(opts.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}

	if opts.DetectionsFile != "" {
		cfg.Source.Type = "file"
		cfg.Source.Path = opts.DetectionsFile
	}

	if opts.VideoFile != "" {
		cfg.Source.Video = opts.VideoFile
	}

	if opts.Verbose {
		cfg.Logging.Verbose = true
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	cfg.SetLogger(logger)

	c := &Counter{
		cfg:      cfg,
		log:      logger.With("component", "counter-app"),
		settings: make(chan pipeline.Settings, 1),
		img:      gocv.NewMat(),
		opts:     render.DefaultOptions(),

		snapshotInterval: cfg.Store.SnapshotInterval,
		keepEvents:       cfg.Store.KeepEvents,
	}

	c.pipe = pipeline.New(cfg.PipelineSettings())
	c.pipe.SetLogger(logger)

	if err := c.openBus(); err != nil {
		c.Close()
		return nil, err
	}

	if err := c.openSource(); err != nil {
		c.Close()
		return nil, err
	}

	if err := c.openReporter(ctx); err != nil {
		c.Close()
		return nil, err
	}

	if cfg.Store.Path != "" {
		c.store, err = store.Open(ctx, cfg.Store.Path)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("error opening store: %w", err)
		}
		c.store.SetLogger(logger)
	}

	if cfg.Server.Addr != "" {
		srvOpts := server.Options{
			Addr:           cfg.Server.Addr,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}
		if c.store != nil {
			srvOpts.Store = c.store
		}
		if c.reporter != nil {
			srvOpts.ReportStatus = c.reporter.Status
		}
		c.server = server.New(srvOpts)
		c.server.SetLogger(logger)
	}

	if err := c.openVideo(opts); err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}

// openBus connects to NATS when the source or reporter needs it
func (c *Counter) openBus() error {

	cfg := c.cfg

	natsReport := cfg.Report.Enabled && cfg.Report.NATSSubject != ""

	if cfg.Source.Type != "nats" && !natsReport {
		return nil
	}

	b, err := bus.New(bus.Config{URL: cfg.Source.NATSURL}, c.log)
	if err != nil {
		return fmt.Errorf("error connecting to NATS: %w", err)
	}

	c.bus = b

	return nil
}

// openSource opens the detections source
func (c *Counter) openSource() error {

	cfg := c.cfg

	switch cfg.Source.Type {
	case "nats":
		src, err := source.NewNATSSource(c.bus.Conn(), cfg.Source.Subject)
		if err != nil {
			return err
		}
		c.src = src
		c.log.Info("Reading detections from NATS", "subject", cfg.Source.Subject,
			"url", c.bus.ClientURL())

	default:
		src, err := source.OpenFile(cfg.Source.Path)
		if err != nil {
			return err
		}
		c.src = src
		c.log.Info("Reading detections from file", "path", cfg.Source.Path)
	}

	return nil
}

// openReporter creates the reporter and tests its sinks
func (c *Counter) openReporter(ctx context.Context) error {

	cfg := c.cfg.Report

	if !cfg.Enabled {
		return nil
	}

	var sinks []report.Sink

	if cfg.URL != "" {
		sinks = append(sinks, report.NewHTTPSink(cfg.URL, nil))
	}

	if cfg.NATSSubject != "" {
		c.natsSink = report.NewNATSSink(c.bus.Conn(), cfg.NATSSubject, bus.SubjectEvents)
		sinks = append(sinks, c.natsSink)
	}

	c.reporter = report.New(c.cfg.Device, cfg.Interval, cfg.Timeout, sinks...)
	c.reporter.SetLogger(slog.Default())

	if err := c.reporter.TestConnection(ctx); err != nil {
		// the endpoint may come up later, keep counting
		c.log.Warn("Report connection test failed", "error", err)
	}

	return nil
}

// openVideo opens the optional source video, output writer and window
func (c *Counter) openVideo(opts Options) error {

	if c.cfg.Source.Video == "" {
		return nil
	}

	video, err := gocv.VideoCaptureFile(c.cfg.Source.Video)
	if err != nil {
		return fmt.Errorf("error opening video: %w", err)
	}

	c.video = video

	if opts.OutputFile != "" {
		width := int(video.Get(gocv.VideoCaptureFrameWidth))
		height := int(video.Get(gocv.VideoCaptureFrameHeight))
		fps := video.Get(gocv.VideoCaptureFPS)

		if fps <= 0 {
			fps = 30
		}

		c.writer, err = gocv.VideoWriterFile(opts.OutputFile, "mp4v", fps, width, height, true)
		if err != nil {
			return fmt.Errorf("error creating video writer: %w", err)
		}
	}

	if opts.Show {
		c.window = gocv.NewWindow("People Counter")
	}

	return nil
}

// Close releases all resources
func (c *Counter) Close() {

	if c.src != nil {
		c.src.Close()
	}
	if c.store != nil {
		c.store.Close()
	}
	if c.bus != nil {
		c.bus.Close()
	}
	if c.writer != nil {
		c.writer.Close()
	}
	if c.video != nil {
		c.video.Close()
	}
	if c.window != nil {
		c.window.Close()
	}

	c.img.Close()
}

// watchConfig hands reloaded settings to the frame loop
func (c *Counter) watchConfig(stop <-chan struct{}) {

	if c.cfg.GetPath() == "" {
		return
	}

	c.cfg.OnChange(func(cfg *config.Config) {
		s := cfg.PipelineSettings()

		// keep only the latest settings
		select {
		case <-c.settings:
		default:
		}
		c.settings <- s
	})

	if err := c.cfg.Watch(stop); err != nil {
		c.log.Warn("Config hot reload disabled", "error", err)
	}
}

// Run processes frames until the source ends or the context is cancelled
func (c *Counter) Run(ctx context.Context) error {

	var wg sync.WaitGroup

	runCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		wg.Wait()
	}()

	c.watchConfig(runCtx.Done())

	if c.reporter != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.reporter.Run(runCtx)
		}()
	}

	if c.server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.server.Run(runCtx); err != nil {
				c.log.Error("Server failed", "error", err)
			}
		}()
	}

	var resets <-chan struct{}
	if c.server != nil {
		resets = c.server.Resets()
	}

	timing := &Timing{}
	start := time.Now()

	for {
		select {
		case <-runCtx.Done():
			return nil

		case <-resets:
			c.pipe.Reset()

		case s := <-c.settings:
			c.pipe.Apply(s)

		default:
		}

		timing.ProcessStart = time.Now()

		frame, err := c.src.Next(runCtx)

		if errors.Is(err, source.ErrEndOfStream) {
			c.log.Info("End of detections", "frames", timing.FramesHandled,
				"elapsed", time.Since(start), "stats", c.pipe.Stats())
			return nil
		}

		if runCtx.Err() != nil {
			return nil
		}

		if err != nil {
			c.log.Warn("Skipping unreadable frame", "error", err)
			continue
		}

		timing.SourceEnd = time.Now()

		if c.video != nil && frame.Width == 0 {
			frame.Width = int(c.video.Get(gocv.VideoCaptureFrameWidth))
			frame.Height = int(c.video.Get(gocv.VideoCaptureFrameHeight))
		}

		res := c.pipe.Process(frame)
		timing.PipelineEnd = time.Now()

		c.publish(runCtx, res)
		c.renderFrame(frame, res)

		timing.ProcessEnd = time.Now()
		timing.FramesHandled++

		c.log.Debug("Frame processed", "seq", frame.Seq,
			"pipeline", timing.PipelineEnd.Sub(timing.SourceEnd),
			"total", timing.ProcessEnd.Sub(timing.ProcessStart))
	}
}

// publish hands a frame's result to the reporter, store and server
func (c *Counter) publish(ctx context.Context, res pipeline.Result) {

	if c.reporter != nil {
		c.pipe.AckDelta(c.reporter.TakeAck())
		c.reporter.Update(c.pipe.Stats())
	}

	if c.natsSink != nil {
		if err := c.natsSink.PublishEvents(res.Events); err != nil {
			c.log.Warn("Failed to publish events", "error", err)
		}
	}

	if c.store != nil {
		if err := c.store.SaveEvents(ctx, res.Events); err != nil {
			c.log.Warn("Failed to store events", "error", err)
		}

		if time.Since(c.lastSnapshot) >= c.snapshotInterval {
			c.lastSnapshot = time.Now()

			if err := c.store.SaveSnapshot(ctx, res.Time, c.pipe.Statistics()); err != nil {
				c.log.Warn("Failed to store snapshot", "error", err)
			}

			if _, err := c.store.Prune(ctx, c.keepEvents); err != nil {
				c.log.Warn("Failed to prune events", "error", err)
			}
		}
	}

	if c.server != nil {
		c.server.Publish(res, c.pipe.Statistics())
	}
}

// renderFrame draws the result on the matching video frame
func (c *Counter) renderFrame(frame pipeline.Frame, res pipeline.Result) {

	if c.video == nil {
		return
	}

	if ok := c.video.Read(&c.img); !ok || c.img.Empty() {
		return
	}

	render.Frame(&c.img, res, frame.Detections, c.opts)

	if c.writer != nil {
		if err := c.writer.Write(c.img); err != nil {
			c.log.Warn("Failed to write video frame", "error", err)
		}
	}

	if c.window != nil {
		c.window.IMShow(c.img)
		c.window.WaitKey(1)
	}

	if c.server != nil {
		buf, err := gocv.IMEncode(".jpg", c.img)
		if err != nil {
			c.log.Warn("Failed to encode frame", "error", err)
			return
		}
		c.server.SetFrame(append([]byte(nil), buf.GetBytes()...))
		buf.Close()
	}
}

func main() {

	// read in cli flags
	configFile := flag.String("c", "", "YAML configuration file")
	vidFile := flag.String("v", "", "Video file the detections were made on, enables rendering")
	detFile := flag.String("d", "", "JSON lines detections file to replay")
	outFile := flag.String("o", "", "Write the annotated video to this file")
	show := flag.Bool("show", false, "Show the annotated video in a window")
	verbose := flag.Bool("verbose", false, "Log every lifecycle event and crossing detail")

	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	counter, err := NewCounter(ctx, Options{
		ConfigFile:     *configFile,
		VideoFile:      *vidFile,
		DetectionsFile: *detFile,
		OutputFile:     *outFile,
		Show:           *show,
		Verbose:        *verbose,
	})

	if err != nil {
		slog.Error("Error starting people counter", "error", err)
		os.Exit(1)
	}

	err = counter.Run(ctx)
	counter.Close()

	if err != nil {
		slog.Error("People counter stopped", "error", err)
		os.Exit(1)
	}
}
