package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rgstephens/gdo-bridge/internal/comms"
	"github.com/rgstephens/gdo-bridge/internal/door"
	"github.com/rgstephens/gdo-bridge/internal/rolling"
	"github.com/rgstephens/gdo-bridge/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeController struct {
	mu     sync.Mutex
	ready  bool
	err    error
	calls  []string
	status comms.Status
}

func (f *fakeController) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, call)
	return nil
}

func (f *fakeController) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeController) Open(context.Context) error  { return f.record("open") }
func (f *fakeController) Close(context.Context) error { return f.record("close") }
func (f *fakeController) SetLock(_ context.Context, locked bool) error {
	return f.record(fmt.Sprintf("lock=%t", locked))
}
func (f *fakeController) SetLight(_ context.Context, on bool) error {
	return f.record(fmt.Sprintf("light=%t", on))
}
func (f *fakeController) RequestStatus(context.Context) error { return f.record("status") }

func (f *fakeController) Status(context.Context) (comms.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, nil
}

func (f *fakeController) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func openDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestServer(t *testing.T, opts Options) (*Server, *fakeController, *storage.DB) {
	t.Helper()
	ctl := &fakeController{ready: true}
	db := openDB(t)
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.NewRegistry()
	}
	return NewServer(opts, ctl, db, nil), ctl, db
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
}

func TestHealthAndReadiness(t *testing.T) {
	s, ctl, _ := newTestServer(t, Options{})

	assert.Equal(t, http.StatusOK, do(t, s, "GET", "/healthz", "").Code)

	ctl.ready = false
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, "GET", "/readyz", "").Code)
	ctl.ready = true
	assert.Equal(t, http.StatusOK, do(t, s, "GET", "/readyz", "").Code)
}

func TestActuationEndpoints(t *testing.T) {
	s, ctl, db := newTestServer(t, Options{})

	for _, tc := range []struct {
		path, body string
	}{
		{"/api/door/open", ""},
		{"/api/door/close", ""},
		{"/api/door/lock", `{"locked":true}`},
		{"/api/door/light", `{"on":false}`},
		{"/api/door/status", ""},
	} {
		rec := do(t, s, "POST", tc.path, tc.body)
		assert.Equal(t, http.StatusOK, rec.Code, tc.path)
	}
	assert.Equal(t, []string{"open", "close", "lock=true", "light=false", "status"}, ctl.Calls())

	typ := storage.EventTypeCommand
	logs, err := db.GetEventLogs(storage.EventLogFilter{EventType: &typ})
	require.NoError(t, err)
	require.Len(t, logs, 5)
	assert.Equal(t, "Request status", logs[0].Message)
	assert.Contains(t, string(logs[2].Details), `"locked":true`)
}

func TestActuationBadBody(t *testing.T) {
	s, ctl, _ := newTestServer(t, Options{})
	assert.Equal(t, http.StatusBadRequest, do(t, s, "POST", "/api/door/lock", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, "POST", "/api/door/light", `nope`).Code)
	assert.Empty(t, ctl.Calls())
}

func TestActuationErrors(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("open door: %w", comms.ErrQueueFull), http.StatusServiceUnavailable},
		{comms.ErrNotReady, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		s, ctl, db := newTestServer(t, Options{})
		ctl.err = tc.err
		rec := do(t, s, "POST", "/api/door/open", "")
		assert.Equal(t, tc.code, rec.Code, tc.err.Error())

		typ := storage.EventTypeError
		logs, err := db.GetEventLogs(storage.EventLogFilter{EventType: &typ})
		require.NoError(t, err)
		assert.Len(t, logs, 1)
	}
}

func TestRateLimit(t *testing.T) {
	s, ctl, _ := newTestServer(t, Options{RatePerSecond: 0.001, Burst: 2})
	assert.Equal(t, http.StatusOK, do(t, s, "POST", "/api/door/open", "").Code)
	assert.Equal(t, http.StatusOK, do(t, s, "POST", "/api/door/status", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, s, "POST", "/api/door/close", "").Code)
	assert.Len(t, ctl.Calls(), 2)

	// reads are not limited
	assert.Equal(t, http.StatusOK, do(t, s, "GET", "/api/door", "").Code)
}

func TestRequestID(t *testing.T) {
	s, _, _ := newTestServer(t, Options{})

	rec := do(t, s, "GET", "/api/version", "")
	assert.Len(t, rec.Header().Get(requestIDHeader), 36)

	req := httptest.NewRequest("GET", "/api/version", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
}

func TestStatusUsesController(t *testing.T) {
	s, ctl, _ := newTestServer(t, Options{})
	ctl.status = comms.Status{
		Door:     door.State{Active: true, CurrentState: door.CurrentOpen, Light: true},
		Identity: rolling.State{DeviceID: 0x123539, Counter: 42},
		Queued:   2,
	}

	var got StatusResponse
	decode(t, do(t, s, "GET", "/api/status", ""), &got)
	assert.True(t, got.Ready)
	assert.True(t, got.Live)
	assert.Equal(t, door.CurrentOpen, got.Door.CurrentState)
	require.NotNil(t, got.Identity)
	assert.Equal(t, uint32(42), got.Identity.Counter)
	assert.Equal(t, 2, got.Queued)
	assert.False(t, got.Matter.Enabled)
}

func TestStatusJSON(t *testing.T) {
	s, ctl, _ := newTestServer(t, Options{DeviceName: "Bay 2"})
	ctl.status = comms.Status{Door: door.State{CurrentState: door.CurrentClosing, CurrentLock: door.Locked, Light: true}}

	var full map[string]interface{}
	decode(t, do(t, s, "GET", "/status.json", ""), &full)
	assert.Equal(t, "Bay 2", full["deviceName"])
	assert.Equal(t, "Closing", full["garageDoorState"])
	assert.Equal(t, "Secured", full["garageLockState"])
	assert.Equal(t, true, full["garageLightOn"])
	assert.Equal(t, false, full["garageObstructed"])

	var partial map[string]interface{}
	decode(t, do(t, s, "GET", "/status.json?doorstate&lighton", ""), &partial)
	assert.Len(t, partial, 2)
	assert.Equal(t, "Closing", partial["garageDoorState"])
}

func TestSetGDOForm(t *testing.T) {
	s, ctl, _ := newTestServer(t, Options{})

	form := url.Values{"lighton": {"1"}, "lockstate": {"0"}, "doorstate": {"1"}}
	req := httptest.NewRequest("POST", "/setgdo", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"open", "lock=false", "light=true"}, ctl.Calls())

	req = httptest.NewRequest("POST", "/setgdo", strings.NewReader("lighton=maybe"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest("POST", "/setgdo", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDoorEventsPersistAndSnapshot(t *testing.T) {
	s, ctl, db := newTestServer(t, Options{})
	ctl.ready = false

	sink := door.EventSink(s.recordDoorEvent)
	sink.DoorActive(true)
	sink.CurrentDoorState(door.CurrentStopped)
	sink.Motion(true)

	var got door.State
	decode(t, do(t, s, "GET", "/api/door", ""), &got)
	assert.Equal(t, door.CurrentStopped, got.CurrentState, "mirror serves while not ready")
	assert.True(t, got.Motion)

	src := storage.EventSourceDoor
	logs, err := db.GetEventLogs(storage.EventLogFilter{Source: &src})
	require.NoError(t, err)
	assert.Len(t, logs, 3)

	// a restarted server starts from the snapshot
	s2 := NewServer(Options{Gatherer: prometheus.NewRegistry()}, &fakeController{}, db, nil)
	assert.Equal(t, door.CurrentStopped, s2.Mirror().CurrentState)
	assert.True(t, s2.Mirror().Active)
}

func TestLogsEndpoint(t *testing.T) {
	s, _, db := newTestServer(t, Options{})
	require.NoError(t, db.LogEvent(storage.EventSourceSystem, storage.EventTypeInfo, "boot", nil))
	require.NoError(t, db.LogEvent(storage.EventSourceUser, storage.EventTypeCommand, "Open door", nil))

	var logs []storage.EventLog
	decode(t, do(t, s, "GET", "/api/logs?source=system", ""), &logs)
	require.Len(t, logs, 1)
	assert.Equal(t, "boot", logs[0].Message)

	decode(t, do(t, s, "GET", "/api/logs?limit=1", ""), &logs)
	require.Len(t, logs, 1)
	assert.Equal(t, "Open door", logs[0].Message)

	assert.Equal(t, http.StatusBadRequest, do(t, s, "GET", "/api/logs?since=yesterday", "").Code)

	rec := do(t, s, "GET", "/api/logs?source=matter", "")
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	comms.NewMetrics(reg).QueueDepth.Set(3)
	s, _, _ := newTestServer(t, Options{Gatherer: reg})

	rec := do(t, s, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gdo_queue_depth 3")
}

func TestPairingWithoutBridge(t *testing.T) {
	s, _, _ := newTestServer(t, Options{})
	var got PairingResponse
	decode(t, do(t, s, "GET", "/api/pairing", ""), &got)
	assert.False(t, got.Commissioned)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, "DELETE", "/api/pairing", "").Code)
}

func TestWebSocketPushesDoorEvents(t *testing.T) {
	s, _, _ := newTestServer(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.hub.Run(ctx) }()
	go func() { defer wg.Done(); s.broadcastEvents(ctx) }()

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	defer func() {
		cancel()
		wg.Wait()
	}()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	var first map[string]interface{}
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "door_state", first["type"])

	require.Eventually(t, func() bool { return s.hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	door.EventSink(s.Notify).Light(true)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string     `json:"type"`
		Data door.Event `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "door_event", msg.Type)
	assert.Equal(t, door.EventLight, msg.Data.Kind)
	assert.Equal(t, true, msg.Data.Value)
}
