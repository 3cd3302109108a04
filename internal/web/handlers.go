package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rgstephens/gdo-bridge/internal/comms"
	"github.com/rgstephens/gdo-bridge/internal/door"
	"github.com/rgstephens/gdo-bridge/internal/log"
	"github.com/rgstephens/gdo-bridge/internal/rolling"
	"github.com/rgstephens/gdo-bridge/internal/storage"
)

// Version information, set via ldflags at build time
var (
	Version   = "dev"
	BuildDate = "unknown"
)

// StatusResponse represents the overall system status
type StatusResponse struct {
	Ready    bool           `json:"ready"`
	Live     bool           `json:"live"` // false when Door comes from the last snapshot
	Door     door.State     `json:"door"`
	Identity *rolling.State `json:"identity,omitempty"`
	Queued   int            `json:"queued"`
	Matter   MatterStatus   `json:"matter"`
	Uptime   int64          `json:"uptime"`
}

// MatterStatus represents Matter bridge status
type MatterStatus struct {
	Enabled      bool   `json:"enabled"`
	Running      bool   `json:"running"`
	Commissioned bool   `json:"commissioned"`
	FabricID     string `json:"fabric_id,omitempty"`
}

// LockRequest sets the remote lockout
type LockRequest struct {
	Locked *bool `json:"locked"`
}

// LightRequest switches the light
type LightRequest struct {
	On *bool `json:"on"`
}

// PairingResponse represents Matter pairing info
type PairingResponse struct {
	QRCode         string `json:"qr_code"`
	ManualPairCode string `json:"manual_pair_code"`
	Commissioned   bool   `json:"commissioned"`
}

// VersionResponse represents version info
type VersionResponse struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date"`
}

// currentDoor asks the worker and falls back to the mirrored snapshot
func (s *Server) currentDoor(ctx context.Context) (comms.Status, bool) {
	if s.ctl.Ready() {
		st, err := s.ctl.Status(ctx)
		if err == nil {
			return st, true
		}
		log.Debug("Door status unavailable, using snapshot: %v", err)
	}
	return comms.Status{Door: s.Mirror()}, false
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !s.ctl.Ready() {
		writeError(w, http.StatusServiceUnavailable, "Waiting for boot sync")
		return
	}
	writeJSON(w, map[string]string{"status": "ready"})
}

// handleStatus returns overall system status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, live := s.currentDoor(r.Context())
	status := StatusResponse{
		Ready:  s.ctl.Ready(),
		Live:   live,
		Door:   st.Door,
		Queued: st.Queued,
		Uptime: int64(time.Since(s.started).Seconds()),
	}
	if live {
		id := st.Identity
		status.Identity = &id
	}

	if s.bridge != nil {
		status.Matter.Enabled = true
		status.Matter.Running = s.bridge.IsRunning()
		if status.Matter.Running {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			if matterStatus, err := s.bridge.GetStatus(ctx); err == nil {
				status.Matter.Commissioned = matterStatus.Commissioned
				status.Matter.FabricID = matterStatus.FabricID
			}
		}
	}

	writeJSON(w, status)
}

// handleGetDoor returns the door state only
func (s *Server) handleGetDoor(w http.ResponseWriter, r *http.Request) {
	st, _ := s.currentDoor(r.Context())
	writeJSON(w, st.Door)
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	s.actuate(w, r, "Open door", nil, s.ctl.Open)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	s.actuate(w, r, "Close door", nil, s.ctl.Close)
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	var req LockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Locked == nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	locked := *req.Locked
	s.actuate(w, r, "Set lock", map[string]interface{}{"locked": locked}, func(ctx context.Context) error {
		return s.ctl.SetLock(ctx, locked)
	})
}

func (s *Server) handleLight(w http.ResponseWriter, r *http.Request) {
	var req LightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.On == nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	on := *req.On
	s.actuate(w, r, "Set light", map[string]interface{}{"on": on}, func(ctx context.Context) error {
		return s.ctl.SetLight(ctx, on)
	})
}

func (s *Server) handleRequestStatus(w http.ResponseWriter, r *http.Request) {
	s.actuate(w, r, "Request status", nil, s.ctl.RequestStatus)
}

// actuate runs one command against the controller, logs it and writes the reply
func (s *Server) actuate(w http.ResponseWriter, r *http.Request, what string, details map[string]interface{}, fn func(context.Context) error) {
	l := reqLog(r)
	if details == nil {
		details = map[string]interface{}{}
	}
	details["request_id"] = RequestID(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := fn(ctx); err != nil {
		l.Warn("%s failed: %v", what, err)
		details["error"] = err.Error()
		s.store.LogEvent(storage.EventSourceUser, storage.EventTypeError, what+" failed", details)
		writeError(w, statusFor(err), err.Error())
		return
	}

	l.Info("%s requested", what)
	s.store.LogEvent(storage.EventSourceUser, storage.EventTypeCommand, what, details)
	writeJSON(w, map[string]string{"status": "ok"})
}

// statusFor maps controller errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, comms.ErrQueueFull),
		errors.Is(err, comms.ErrNotReady),
		errors.Is(err, comms.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// statusJSONFields maps the status page query keys to reply fields
var statusJSONFields = map[string]string{
	"uptime":      "upTime",
	"doorstate":   "garageDoorState",
	"lockstate":   "garageLockState",
	"lighton":     "garageLightOn",
	"obstruction": "garageObstructed",
	"motion":      "garageMotion",
}

// handleStatusJSON serves the status page poll. With query keys only those
// fields are returned.
func (s *Server) handleStatusJSON(w http.ResponseWriter, r *http.Request) {
	st, _ := s.currentDoor(r.Context())

	lockState := "Unsecured"
	if st.Door.CurrentLock == door.Locked {
		lockState = "Secured"
	}

	full := map[string]interface{}{
		"deviceName":       s.opts.DeviceName,
		"firmwareVersion":  Version,
		"upTime":           time.Since(s.started).Milliseconds(),
		"garageDoorState":  st.Door.CurrentState.String(),
		"garageLockState":  lockState,
		"garageLightOn":    st.Door.Light,
		"garageObstructed": false,
		"garageMotion":     st.Door.Motion,
		"paired":           false,
	}
	if s.bridge != nil && s.bridge.IsRunning() {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if ms, err := s.bridge.GetStatus(ctx); err == nil {
			full["paired"] = ms.Commissioned
		}
	}

	query := r.URL.Query()
	if len(query) == 0 {
		writeJSON(w, full)
		return
	}
	partial := map[string]interface{}{}
	for key := range query {
		if field, ok := statusJSONFields[strings.ToLower(key)]; ok {
			partial[field] = full[field]
		}
	}
	writeJSON(w, partial)
}

// handleSetGDO accepts the status page form: doorstate, lockstate and
// lighton, each "1" or "0"
func (s *Server) handleSetGDO(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 16); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		writeError(w, http.StatusBadRequest, "Invalid form")
		return
	}

	type change struct {
		what string
		fn   func(context.Context) error
	}
	var changes []change

	for _, key := range []string{"doorstate", "lockstate", "lighton"} {
		raw := r.FormValue(key)
		if raw == "" {
			continue
		}
		on, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid value for "+key)
			return
		}
		switch key {
		case "doorstate":
			if on {
				changes = append(changes, change{"Open door", s.ctl.Open})
			} else {
				changes = append(changes, change{"Close door", s.ctl.Close})
			}
		case "lockstate":
			changes = append(changes, change{"Set lock", func(ctx context.Context) error { return s.ctl.SetLock(ctx, on) }})
		case "lighton":
			changes = append(changes, change{"Set light", func(ctx context.Context) error { return s.ctl.SetLight(ctx, on) }})
		}
	}
	if len(changes) == 0 {
		writeError(w, http.StatusBadRequest, "Nothing to set")
		return
	}

	for _, c := range changes {
		if err := c.fn(r.Context()); err != nil {
			reqLog(r).Warn("%s failed: %v", c.what, err)
			writeError(w, statusFor(err), err.Error())
			return
		}
		s.store.LogEvent(storage.EventSourceUser, storage.EventTypeCommand, c.what,
			map[string]interface{}{"request_id": RequestID(r.Context()), "via": "setgdo"})
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleGetPairing returns Matter pairing information
func (s *Server) handleGetPairing(w http.ResponseWriter, r *http.Request) {
	response := PairingResponse{}

	if s.bridge == nil || !s.bridge.IsRunning() {
		writeJSON(w, response)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	info, err := s.bridge.GetPairingInfo(ctx)
	if err != nil {
		log.Debug("Failed to get pairing info: %v", err)
		writeJSON(w, response)
		return
	}

	response.QRCode = info.QRCode
	response.ManualPairCode = info.ManualPairCode
	if status, err := s.bridge.GetStatus(ctx); err == nil {
		response.Commissioned = status.Commissioned
	}

	writeJSON(w, response)
}

// handleDecommission decommissions the Matter device
func (s *Server) handleDecommission(w http.ResponseWriter, r *http.Request) {
	if s.bridge == nil || !s.bridge.IsRunning() {
		writeError(w, http.StatusServiceUnavailable, "Matter bridge is not running")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := s.bridge.Decommission(ctx); err != nil {
		log.Error("Failed to decommission device: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to decommission device")
		return
	}

	s.store.LogEvent(storage.EventSourceUser, storage.EventTypeConnection,
		"Matter device decommissioned - ready for re-pairing", nil)
	s.hub.Broadcast(map[string]interface{}{
		"type": "matter_decommissioned",
	})

	writeJSON(w, map[string]string{"status": "ok"})
}

// handleGetLogs returns event logs
func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	filter := storage.EventLogFilter{
		Limit: 100,
	}

	q := r.URL.Query()
	if limitStr := q.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}
	if offsetStr := q.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}
	if source := q.Get("source"); source != "" {
		src := storage.EventSource(source)
		filter.Source = &src
	}
	if eventType := q.Get("type"); eventType != "" {
		et := storage.EventType(eventType)
		filter.EventType = &et
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.Since = &t
	}

	logs, err := s.store.GetEventLogs(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get logs")
		return
	}
	if logs == nil {
		logs = []storage.EventLog{}
	}

	writeJSON(w, logs)
}

// handleVersion returns version information
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, VersionResponse{
		Version:   Version,
		BuildDate: BuildDate,
	})
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
