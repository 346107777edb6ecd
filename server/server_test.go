package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swdee/go-peoplecount/counter"
	"github.com/swdee/go-peoplecount/pipeline"
	"github.com/swdee/go-peoplecount/report"
	"github.com/swdee/go-peoplecount/tracker"
)

// envelope decodes a response with typed data
type envelope[T any] struct {
	Success bool       `json:"success"`
	Data    T          `json:"data"`
	Error   *ErrorInfo `json:"error"`
	Meta    *Meta      `json:"meta"`
}

func get[T any](t *testing.T, srv *httptest.Server, path string) (int, envelope[T]) {
	t.Helper()

	resp, err := srv.Client().Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope[T]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))

	return resp.StatusCode, env
}

func sampleResult() (pipeline.Result, pipeline.Statistics) {

	stats := counter.Stats{Delta: 1, Total: 1, TotalDown: 1}

	res := pipeline.Result{
		Frame: 12,
		Time:  time.Unix(1700000000, 0),
		Persons: []tracker.EntitySnapshot{
			{ID: 0, Kind: tracker.Person, Centroid: tracker.Point{X: 120, Y: 150}},
		},
		Umbrellas: []tracker.EntitySnapshot{
			{ID: 1, Kind: tracker.Umbrella, Centroid: tracker.Point{X: 120, Y: 100}},
		},
		Composites: []tracker.EntitySnapshot{
			{ID: 4, Kind: tracker.Composite, Components: []int64{2, 3}},
		},
		Correlations: []tracker.Correlation{
			{PersonID: 0, PersonScore: 0.4, UmbrellaID: 1, UmbrellaScore: 0.4},
		},
		Stats: stats,
		Events: []pipeline.Event{
			{ID: "a", Type: pipeline.EventRegistered, EntityID: 1, Kind: tracker.Umbrella},
			{ID: "b", Type: pipeline.EventEnter, EntityID: 0, Direction: counter.Enter, Stats: &stats},
		},
		CorridorLeft:  0,
		CorridorRight: 640,
	}

	st := pipeline.Statistics{
		Stats:      stats,
		Persons:    1,
		Umbrellas:  1,
		Composites: 1,
		Objects:    3,
		NextID:     5,
		Frames:     12,
	}

	return res, st
}

func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server) {

	s := New(opts)
	res, st := sampleResult()
	s.Publish(res, st)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return s, srv
}

func TestHealth(t *testing.T) {

	_, srv := newTestServer(t, Options{})

	code, env := get[map[string]interface{}](t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	assert.Equal(t, "ok", env.Data["status"])
	assert.EqualValues(t, 12, env.Data["frames"])
}

func TestStats(t *testing.T) {

	_, srv := newTestServer(t, Options{
		ReportStatus: func() report.Status {
			return report.Status{Device: "door1", Sent: 2}
		},
	})

	code, env := get[statsResponse](t, srv, "/api/stats")
	require.Equal(t, http.StatusOK, code)

	assert.Equal(t, 1, env.Data.TotalDown)
	assert.Equal(t, 3, env.Data.Objects)
	assert.Equal(t, 640, env.Data.CorridorRight)
	require.NotNil(t, env.Data.Report)
	assert.Equal(t, "door1", env.Data.Report.Device)
}

func TestEntities(t *testing.T) {

	_, srv := newTestServer(t, Options{})

	_, all := get[[]tracker.EntitySnapshot](t, srv, "/api/entities")
	assert.Len(t, all.Data, 3)
	assert.Equal(t, 3, all.Meta.Total)

	_, comps := get[[]tracker.EntitySnapshot](t, srv, "/api/entities?kind=composite")
	require.Len(t, comps.Data, 1)
	assert.Equal(t, []int64{2, 3}, comps.Data[0].Components)

	code, bad := get[interface{}](t, srv, "/api/entities?kind=car")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, bad.Success)

	code, one := get[tracker.EntitySnapshot](t, srv, "/api/entities/1")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, tracker.Umbrella, one.Data.Kind)

	code, missing := get[interface{}](t, srv, "/api/entities/99")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", missing.Error.Code)

	code, _ = get[interface{}](t, srv, "/api/entities/abc")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCorrelations(t *testing.T) {

	_, srv := newTestServer(t, Options{})

	_, env := get[[]tracker.Correlation](t, srv, "/api/correlations")
	require.Len(t, env.Data, 1)
	assert.Equal(t, int64(1), env.Data[0].UmbrellaID)
}

func TestEventsFromMemory(t *testing.T) {

	_, srv := newTestServer(t, Options{})

	_, all := get[[]pipeline.Event](t, srv, "/api/events")
	require.Len(t, all.Data, 2)
	assert.Equal(t, "b", all.Data[0].ID)

	_, crossings := get[[]pipeline.Event](t, srv, "/api/events?crossings=true&limit=5")
	require.Len(t, crossings.Data, 1)
	assert.Equal(t, pipeline.EventEnter, crossings.Data[0].Type)

	code, _ := get[interface{}](t, srv, "/api/events?limit=-1")
	assert.Equal(t, http.StatusBadRequest, code)
}

// fakeStore records the query it receives
type fakeStore struct {
	limit     int
	crossings bool
}

func (f *fakeStore) RecentEvents(ctx context.Context, limit int, crossingsOnly bool) ([]pipeline.Event, error) {
	f.limit = limit
	f.crossings = crossingsOnly
	return []pipeline.Event{{ID: "stored"}}, nil
}

func TestEventsFromStore(t *testing.T) {

	store := &fakeStore{}
	_, srv := newTestServer(t, Options{Store: store})

	_, env := get[[]pipeline.Event](t, srv, "/api/events?limit=5000&crossings=true")
	require.Len(t, env.Data, 1)
	assert.Equal(t, "stored", env.Data[0].ID)
	assert.Equal(t, maxEventLimit, store.limit)
	assert.True(t, store.crossings)
}

func TestResetQueued(t *testing.T) {

	s, srv := newTestServer(t, Options{})

	for i := 0; i < 2; i++ {
		resp, err := srv.Client().Post(srv.URL+"/api/reset", "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	}

	// repeated requests collapse into a single pending reset
	select {
	case <-s.Resets():
	default:
		t.Fatal("expected a queued reset")
	}

	select {
	case <-s.Resets():
		t.Fatal("expected only one queued reset")
	default:
	}
}

func TestWebSocketPushesStats(t *testing.T) {

	s, srv := newTestServer(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.hub.ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	res, st := sampleResult()
	res.Events = nil
	s.Publish(res, st)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var msg struct {
		Type MessageType         `json:"type"`
		Data pipeline.Statistics `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))

	assert.Equal(t, MessageTypeStats, msg.Type)
	assert.Equal(t, 3, msg.Data.Objects)
}

func TestStreamServesFrame(t *testing.T) {

	s, srv := newTestServer(t, Options{})
	s.SetFrame([]byte("jpegdata"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream", nil)
	require.NoError(t, err)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Contains(t, resp.Header.Get("Content-Type"), "multipart/x-mixed-replace")

	reader := bufio.NewReader(resp.Body)
	found := false

	for !found {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		found = strings.Contains(line, "jpegdata")
	}

	assert.True(t, found)
}

func TestWebSocketShutdownWhilePinging(t *testing.T) {

	s, srv := newTestServer(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		s.hub.Run(ctx)
		close(hubDone)
	}()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.hub.ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	// keep pings flowing until the server closes the connection
	pingErr := make(chan error, 1)
	go func() {
		for {
			if err := conn.WriteJSON(Message{Type: MessageTypePing}); err != nil {
				pingErr <- err
				return
			}
		}
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-hubDone:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	assert.Equal(t, 0, s.hub.ClientCount())

	// drain until the close frame or a read error, pongs may be queued ahead
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				t.Fatalf("expected the server to close the connection, got %v", err)
			}
			break
		}
	}

	select {
	case <-pingErr:
	case <-time.After(2 * time.Second):
		t.Fatal("pings kept succeeding after shutdown")
	}
}
