// Package matter exposes the garage door to HomeKit through the Matter.js
// bridge service: door state is pushed over HTTP and HomeKit commands come
// back as websocket events.
package matter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rgstephens/gdo-bridge/internal/door"
	"github.com/rgstephens/gdo-bridge/internal/log"
)

// ErrNoActuator is returned for commands arriving before SetActuator.
var ErrNoActuator = errors.New("matter: no actuator set")

// Actuator carries out HomeKit commands. comms.Worker satisfies it.
type Actuator interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error
	SetLock(ctx context.Context, locked bool) error
	SetLight(ctx context.Context, on bool) error
	RequestStatus(ctx context.Context) error
}

// Options configures a Bridge
type Options struct {
	URL            string        // base URL of the bridge service
	Dir            string        // bridge checkout to run; empty means the service runs elsewhere
	Name           string        // accessory name
	ReadyTimeout   time.Duration // how long Run waits for the service
	ReconnectDelay time.Duration
}

// Bridge manages communication with the Matter.js service
type Bridge struct {
	opts       Options
	process    *Process
	wsConn     *websocket.Conn
	wsMu       sync.Mutex
	httpClient *http.Client
	eventChan  chan Event

	actMu    sync.RWMutex
	actuator Actuator

	stateMu sync.Mutex
	state   door.State
	dirty   chan struct{}
}

// NewBridge creates a new Matter bridge client
func NewBridge(opts Options) *Bridge {
	if opts.Name == "" {
		opts.Name = "Garage Door"
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 30 * time.Second
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	return &Bridge{
		opts: opts,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		eventChan: make(chan Event, 100),
		dirty:     make(chan struct{}, 1),
	}
}

// Notify mirrors one door notification and schedules a push. It never
// blocks; pushes are coalesced.
func (b *Bridge) Notify(ev door.Event) {
	b.stateMu.Lock()
	b.state.Apply(ev)
	b.stateMu.Unlock()

	select {
	case b.dirty <- struct{}{}:
	default:
	}
}

// Snapshot returns the door as the bridge last saw it
func (b *Bridge) Snapshot() DoorState {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return FromDoor(b.opts.Name, b.state)
}

// SetActuator sets the target for incoming commands
func (b *Bridge) SetActuator(a Actuator) {
	b.actMu.Lock()
	defer b.actMu.Unlock()
	b.actuator = a
}

// Events returns the event channel
func (b *Bridge) Events() <-chan Event {
	return b.eventChan
}

// Run starts the service if configured to, pushes door state whenever it
// changes and serves commands until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	if b.opts.Dir != "" {
		b.process = NewProcess(b.opts.Dir)
		if err := b.process.Start(ctx); err != nil {
			return fmt.Errorf("failed to start process: %w", err)
		}
	}
	defer b.Stop()

	if err := b.waitForReady(ctx); err != nil {
		return fmt.Errorf("service not ready: %w", err)
	}
	log.Info("Matter bridge ready at %s", b.opts.URL)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.connectWebSocket(ctx)
	}()
	defer wg.Wait()

	// push whatever we already know
	b.pushState(ctx)
	for {
		select {
		case <-ctx.Done():
			b.closeConn()
			return nil
		case <-b.dirty:
			b.pushState(ctx)
		}
	}
}

func (b *Bridge) pushState(ctx context.Context) {
	st := b.Snapshot()
	if err := b.UpdateState(ctx, st); err != nil && ctx.Err() == nil {
		log.Warn("Failed to push door state to Matter bridge: %v", err)
	}
}

func (b *Bridge) closeConn() {
	b.wsMu.Lock()
	defer b.wsMu.Unlock()
	if b.wsConn != nil {
		b.wsConn.Close()
	}
}

// Stop closes the event stream and stops the service process
func (b *Bridge) Stop() {
	b.closeConn()
	if b.process != nil {
		b.process.Stop()
	}
}

// GetStatus retrieves the current status
func (b *Bridge) GetStatus(ctx context.Context) (*StatusResponse, error) {
	var status StatusResponse
	if err := b.do(ctx, http.MethodGet, "/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetPairingInfo retrieves pairing information
func (b *Bridge) GetPairingInfo(ctx context.Context) (*PairingInfo, error) {
	var info PairingInfo
	if err := b.do(ctx, http.MethodGet, "/pairing", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// UpdateState sends the door accessory state to the Matter bridge
func (b *Bridge) UpdateState(ctx context.Context, state DoorState) error {
	log.Debug("Sending to Matter bridge: door=%s target=%s lock=%s light=%t motion=%t",
		state.CurrentState, state.TargetState, state.CurrentLock, state.Light, state.Motion)

	jsonData, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return b.do(ctx, http.MethodPost, "/state", jsonData, nil)
}

// Decommission decommissions the Matter device (factory reset)
func (b *Bridge) Decommission(ctx context.Context) error {
	return b.do(ctx, http.MethodDelete, "/pairing", nil, nil)
}

func (b *Bridge) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.opts.URL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: unexpected status: %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// IsRunning returns true if the bridge process is running
func (b *Bridge) IsRunning() bool {
	if b.process == nil {
		return false
	}
	return b.process.IsRunning()
}

// waitForReady waits for the service to be ready
func (b *Bridge) waitForReady(ctx context.Context) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	timeout := time.NewTimer(b.opts.ReadyTimeout)
	defer timeout.Stop()

	for {
		status, err := b.GetStatus(ctx)
		if err == nil && status.Running {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return fmt.Errorf("timeout waiting for service")
		case <-ticker.C:
		}
	}
}

// connectWebSocket keeps the event stream connected until ctx is done
func (b *Bridge) connectWebSocket(ctx context.Context) {
	wsURL := "ws" + strings.TrimPrefix(b.opts.URL, "http") + "/events"

	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err == nil {
			b.wsMu.Lock()
			b.wsConn = conn
			b.wsMu.Unlock()

			// Run may have closed an older conn already
			if ctx.Err() != nil {
				conn.Close()
			}
			b.readWebSocket(ctx, conn)

			b.wsMu.Lock()
			b.wsConn = nil
			b.wsMu.Unlock()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(b.opts.ReconnectDelay):
		}
	}
}

// readWebSocket reads events from the WebSocket
func (b *Bridge) readWebSocket(ctx context.Context, conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var event Event
		if err := json.Unmarshal(message, &event); err != nil {
			continue
		}

		if event.Type == EventTypeCommand {
			var cmd Command
			if cmdData, err := json.Marshal(event.Data); err == nil {
				if json.Unmarshal(cmdData, &cmd) == nil {
					if err := b.HandleCommand(ctx, cmd); err != nil {
						log.Warn("Matter command %s/%s failed: %v", cmd.Type, cmd.Action, err)
					}
				}
			}
		}

		select {
		case b.eventChan <- event:
		default:
			// Channel full, drop event
		}
	}
}

// HandleCommand maps a HomeKit command onto the actuator
func (b *Bridge) HandleCommand(ctx context.Context, cmd Command) error {
	b.actMu.RLock()
	a := b.actuator
	b.actMu.RUnlock()
	if a == nil {
		return ErrNoActuator
	}

	log.Info("Matter command: type=%s action=%s value=%v", cmd.Type, cmd.Action, cmd.Value)
	switch cmd.Type {
	case CommandDoor:
		switch cmd.Action {
		case "open":
			return a.Open(ctx)
		case "close":
			return a.Close(ctx)
		}
		// HomeKit sends the target door state as 0=open 1=closed
		if v, ok := asInt(cmd.Value); ok {
			if v == 0 {
				return a.Open(ctx)
			}
			return a.Close(ctx)
		}
	case CommandLock:
		if on, ok := asBool(cmd.Value); ok {
			return a.SetLock(ctx, on)
		}
	case CommandLight:
		if on, ok := asBool(cmd.Value); ok {
			return a.SetLight(ctx, on)
		}
	case CommandStatus:
		return a.RequestStatus(ctx)
	}
	return fmt.Errorf("unsupported command %s/%s value %v", cmd.Type, cmd.Action, cmd.Value)
}

func asBool(v interface{}) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case float64:
		return x != 0, true
	case string:
		switch strings.ToLower(x) {
		case "on", "locked", "secured":
			return true, true
		case "off", "unlocked", "unsecured":
			return false, true
		}
		b, err := strconv.ParseBool(x)
		return b, err == nil
	}
	return false, false
}

func asInt(v interface{}) (int, bool) {
	switch x := v.(type) {
	case float64:
		return int(x), true
	case string:
		n, err := strconv.Atoi(x)
		return n, err == nil
	}
	return 0, false
}
