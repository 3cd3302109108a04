package matter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rgstephens/gdo-bridge/internal/door"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeActuator struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeActuator) record(s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s)
	return nil
}

func (f *fakeActuator) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeActuator) Open(context.Context) error  { return f.record("open") }
func (f *fakeActuator) Close(context.Context) error { return f.record("close") }
func (f *fakeActuator) SetLock(_ context.Context, on bool) error {
	if on {
		return f.record("lock")
	}
	return f.record("unlock")
}
func (f *fakeActuator) SetLight(_ context.Context, on bool) error {
	if on {
		return f.record("light on")
	}
	return f.record("light off")
}
func (f *fakeActuator) RequestStatus(context.Context) error { return f.record("status") }

// fakeService stands in for the Matter.js bridge
type fakeService struct {
	mu       sync.Mutex
	states   []DoorState
	commands chan Event
}

func newFakeService(t *testing.T) (*fakeService, *httptest.Server) {
	t.Helper()
	fs := &fakeService{commands: make(chan Event, 4)}
	upgrader := websocket.Upgrader{}

	r := mux.NewRouter()
	r.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(StatusResponse{Running: true})
	}).Methods(http.MethodGet)
	r.HandleFunc("/state", func(w http.ResponseWriter, r *http.Request) {
		var st DoorState
		if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fs.mu.Lock()
		fs.states = append(fs.states, st)
		fs.mu.Unlock()
	}).Methods(http.MethodPost)
	r.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		go func() {
			// returns once the client hangs up
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
		for ev := range fs.commands {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	})

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		close(fs.commands)
		srv.CloseClientConnections()
		srv.Close()
	})
	return fs, srv
}

func (fs *fakeService) last() (DoorState, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.states) == 0 {
		return DoorState{}, false
	}
	return fs.states[len(fs.states)-1], true
}

func TestBridgePushesStateAndServesCommands(t *testing.T) {
	fs, srv := newFakeService(t)
	b := NewBridge(Options{URL: srv.URL, Name: "Bay 1", ReconnectDelay: 10 * time.Millisecond})
	act := &fakeActuator{}
	b.SetActuator(act)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	sink := door.EventSink(b.Notify)
	sink.DoorActive(true)
	sink.CurrentDoorState(door.CurrentOpening)
	sink.Light(true)

	require.Eventually(t, func() bool {
		st, ok := fs.last()
		return ok && st.CurrentState == "Opening" && st.Light && st.Active
	}, 2*time.Second, 5*time.Millisecond)
	st, _ := fs.last()
	assert.Equal(t, "Bay 1", st.Name)

	fs.commands <- Event{Type: EventTypeCommand, Data: map[string]interface{}{"type": "door", "action": "close"}}
	fs.commands <- Event{Type: EventTypeCommand, Data: map[string]interface{}{"type": "light", "value": false}}
	require.Eventually(t, func() bool { return len(act.Calls()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"close", "light off"}, act.Calls())

	cancel()
	require.NoError(t, <-done)
}

func TestBridgeNotReady(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	b := NewBridge(Options{URL: srv.URL, ReadyTimeout: 50 * time.Millisecond})
	err := b.Run(context.Background())
	assert.ErrorContains(t, err, "service not ready")
}

func TestNotifyCoalesces(t *testing.T) {
	b := NewBridge(Options{URL: "http://127.0.0.1:0"})
	for i := 0; i < 10; i++ {
		b.Notify(door.Event{Kind: door.EventLight, Value: i%2 == 0})
	}
	assert.Len(t, b.dirty, 1)
	assert.False(t, b.Snapshot().Light)
}

func TestHandleCommand(t *testing.T) {
	cases := []struct {
		cmd  Command
		want string
	}{
		{Command{Type: CommandDoor, Action: "open"}, "open"},
		{Command{Type: CommandDoor, Value: float64(1)}, "close"},
		{Command{Type: CommandDoor, Value: "0"}, "open"},
		{Command{Type: CommandLock, Value: "secured"}, "lock"},
		{Command{Type: CommandLock, Value: false}, "unlock"},
		{Command{Type: CommandLight, Value: float64(1)}, "light on"},
		{Command{Type: CommandLight, Value: "off"}, "light off"},
		{Command{Type: CommandStatus}, "status"},
	}
	for _, tc := range cases {
		act := &fakeActuator{}
		b := NewBridge(Options{})
		b.SetActuator(act)
		require.NoError(t, b.HandleCommand(context.Background(), tc.cmd), "%+v", tc.cmd)
		assert.Equal(t, []string{tc.want}, act.Calls(), "%+v", tc.cmd)
	}

	b := NewBridge(Options{})
	assert.ErrorIs(t, b.HandleCommand(context.Background(), Command{Type: CommandStatus}), ErrNoActuator)
	b.SetActuator(&fakeActuator{})
	assert.Error(t, b.HandleCommand(context.Background(), Command{Type: "thermostat"}))
	assert.Error(t, b.HandleCommand(context.Background(), Command{Type: CommandLight, Value: "dim"}))
}

func TestFromDoor(t *testing.T) {
	got := FromDoor("Garage", door.State{
		Active:       true,
		CurrentState: door.CurrentStopped,
		TargetState:  door.TargetOpen,
		CurrentLock:  door.Locked,
		TargetLock:   door.Locked,
		Motion:       true,
	})
	assert.Equal(t, DoorState{
		Name:         "Garage",
		Active:       true,
		CurrentState: "Stopped",
		TargetState:  "Open",
		CurrentLock:  "Locked",
		TargetLock:   "Locked",
		Motion:       true,
	}, got)
}

func TestProcessLifecycle(t *testing.T) {
	p := NewCommandProcess(t.TempDir(), "sleep", "30")
	require.NoError(t, p.Start(context.Background()))
	assert.True(t, p.IsRunning())
	assert.Error(t, p.Start(context.Background()), "already running")

	require.NoError(t, p.Stop())
	assert.False(t, p.IsRunning())
}

func TestProcessMissingDir(t *testing.T) {
	p := NewProcess("/nonexistent/matter-bridge")
	assert.ErrorContains(t, p.Start(context.Background()), "bridge directory not found")
}
