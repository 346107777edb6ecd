// Package server exposes the live counters, tracked entities and events over
// an HTTP API with a websocket push of stats and an optional MJPEG stream
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/swdee/go-peoplecount/pipeline"
	"github.com/swdee/go-peoplecount/report"
	"github.com/swdee/go-peoplecount/tracker"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
	streamInterval    = 50 * time.Millisecond
	boundary          = "frame"
)

// EventStore is the persistent event history queried by /api/events
type EventStore interface {
	RecentEvents(ctx context.Context, limit int, crossingsOnly bool) ([]pipeline.Event, error)
}

// Options configure the server
type Options struct {
	// Addr to listen on, eg ":8080"
	Addr string
	// AllowedOrigins for CORS and websocket connections, empty allows all
	AllowedOrigins []string
	// Store serves the event history when set, otherwise recent events are
	// served from memory
	Store EventStore
	// ReportStatus returns the reporter status when reporting is enabled
	ReportStatus func() report.Status
}

// Server is the status API.  The frame loop hands results over with Publish
// and receives reset requests from Resets
type Server struct {
	opts   Options
	state  state
	hub    *Hub
	resets chan struct{}
	router chi.Router
	log    *slog.Logger
}

// New returns a Server with its routes configured
func New(opts Options) *Server {

	s := &Server{
		opts:   opts,
		resets: make(chan struct{}, 1),
		log:    slog.Default().With("component", "server"),
	}

	s.hub = NewHub(s.checkOrigin)
	s.router = s.routes()

	return s
}

// SetLogger sets the logger
func (s *Server) SetLogger(l *slog.Logger) {
	s.log = l.With("component", "server")
	s.hub.logger = l.With("component", "websocket-hub")
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Resets delivers reset requests made through the API.  The frame loop
// applies them between frames
func (s *Server) Resets() <-chan struct{} {
	return s.resets
}

// Publish makes a frame result available to the API and pushes the stats and
// events to websocket clients
func (s *Server) Publish(res pipeline.Result, st pipeline.Statistics) {

	s.state.publish(res, st)

	if s.hub.ClientCount() == 0 {
		return
	}

	for _, e := range res.Events {
		s.hub.Broadcast(Message{Type: MessageTypeEvent, Timestamp: e.Time, Data: e})
	}

	s.hub.Broadcast(Message{Type: MessageTypeStats, Timestamp: res.Time, Data: st})
}

// SetFrame publishes the latest JPEG encoded frame for the MJPEG stream
func (s *Server) SetFrame(jpeg []byte) {
	s.state.setFrame(jpeg)
}

// Run serves until the context is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()

	go s.hub.Run(hubCtx)

	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		s.log.Info("HTTP server listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}

		s.log.Info("HTTP server stopped")
		return nil
	}
}

// routes builds the router
func (s *Server) routes() chi.Router {

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Get("/stream", s.handleStream)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/entities", s.handleEntities)
		r.Get("/entities/{id}", s.handleEntity)
		r.Get("/correlations", s.handleCorrelations)
		r.Get("/events", s.handleEvents)
		r.Post("/reset", s.handleReset)
		r.Get("/ws", s.hub.HandleWebSocket)
	})

	return r
}

// checkOrigin applies the allowed origins to websocket upgrades
func (s *Server) checkOrigin(r *http.Request) bool {

	origin := r.Header.Get("Origin")

	if origin == "" || len(s.opts.AllowedOrigins) == 0 {
		return true
	}

	for _, o := range s.opts.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}

	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {

	_, st, updated, received := s.state.snapshot()

	resp := map[string]interface{}{
		"status":  "ok",
		"frames":  st.Frames,
		"clients": s.hub.ClientCount(),
	}

	if received {
		resp["last_frame"] = updated
	}

	ok(w, resp)
}

// statsResponse is returned by /api/stats
type statsResponse struct {
	pipeline.Statistics
	CorridorLeft  int            `json:"corridor_left"`
	CorridorRight int            `json:"corridor_right"`
	Report        *report.Status `json:"report,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {

	res, st, _, _ := s.state.snapshot()

	resp := statsResponse{
		Statistics:    st,
		CorridorLeft:  res.CorridorLeft,
		CorridorRight: res.CorridorRight,
	}

	if s.opts.ReportStatus != nil {
		rs := s.opts.ReportStatus()
		resp.Report = &rs
	}

	ok(w, resp)
}

// entities returns all entity snapshots of the latest result
func entities(res pipeline.Result) []tracker.EntitySnapshot {

	out := make([]tracker.EntitySnapshot, 0,
		len(res.Persons)+len(res.Umbrellas)+len(res.Composites))

	out = append(out, res.Persons...)
	out = append(out, res.Umbrellas...)
	out = append(out, res.Composites...)

	return out
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {

	res, _, _, _ := s.state.snapshot()
	all := entities(res)

	if name := r.URL.Query().Get("kind"); name != "" {

		kind, err := tracker.ParseKind(name)
		if err != nil {
			badRequest(w, err.Error())
			return
		}

		filtered := make([]tracker.EntitySnapshot, 0, len(all))
		for _, e := range all {
			if e.Kind == kind {
				filtered = append(filtered, e)
			}
		}
		all = filtered
	}

	list(w, all, len(all))
}

func (s *Server) handleEntity(w http.ResponseWriter, r *http.Request) {

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		badRequest(w, "invalid entity id")
		return
	}

	res, _, _, _ := s.state.snapshot()

	for _, e := range entities(res) {
		if e.ID == id {
			ok(w, e)
			return
		}
	}

	notFound(w, fmt.Sprintf("entity %d not found", id))
}

func (s *Server) handleCorrelations(w http.ResponseWriter, r *http.Request) {

	res, _, _, _ := s.state.snapshot()

	pairs := res.Correlations
	if pairs == nil {
		pairs = []tracker.Correlation{}
	}

	list(w, pairs, len(pairs))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {

	limit := defaultEventLimit

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(w, "invalid limit")
			return
		}
		limit = min(n, maxEventLimit)
	}

	crossings := r.URL.Query().Get("crossings") == "true"

	if s.opts.Store == nil {
		events := s.state.recent(limit, crossings)
		list(w, events, len(events))
		return
	}

	events, err := s.opts.Store.RecentEvents(r.Context(), limit, crossings)
	if err != nil {
		s.log.Error("Failed to query events", "error", err)
		internalError(w, "failed to query events")
		return
	}

	list(w, events, len(events))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {

	select {
	case s.resets <- struct{}{}:
	default:
		// a reset is already pending
	}

	s.log.Info("Reset requested", "remote", r.RemoteAddr)

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reset queued"}, nil)
}

// handleStream serves the latest frames as multipart MJPEG
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		internalError(w, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	w.Header().Set("Cache-Control", "no-cache")

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	var lastSeq uint64

	for {
		if jpeg, seq := s.state.frame(); seq != lastSeq && len(jpeg) > 0 {

			lastSeq = seq

			_, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n",
				boundary, len(jpeg))
			if err == nil {
				_, err = w.Write(jpeg)
			}
			if err == nil {
				_, err = w.Write([]byte("\r\n"))
			}
			if err != nil {
				return
			}

			flusher.Flush()
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
