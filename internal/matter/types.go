package matter

import (
	"time"

	"github.com/rgstephens/gdo-bridge/internal/door"
)

// DoorState is the garage door accessory as pushed to the Matter bridge
type DoorState struct {
	Name            string `json:"name"`
	Active          bool   `json:"active"`
	CurrentState    string `json:"currentState"`
	TargetState     string `json:"targetState"`
	CurrentLock     string `json:"currentLock"`
	TargetLock      string `json:"targetLock"`
	Light           bool   `json:"light"`
	Motion          bool   `json:"motion"`
	HasMotionSensor bool   `json:"hasMotionSensor"`
}

// FromDoor converts the mirrored door into the bridge representation
func FromDoor(name string, s door.State) DoorState {
	return DoorState{
		Name:            name,
		Active:          s.Active,
		CurrentState:    s.CurrentState.String(),
		TargetState:     s.TargetState.String(),
		CurrentLock:     s.CurrentLock.String(),
		TargetLock:      s.TargetLock.String(),
		Light:           s.Light,
		Motion:          s.Motion,
		HasMotionSensor: s.HasMotionSensor,
	}
}

// Command represents a command from HomeKit via Matter
type Command struct {
	Type   string      `json:"type"`
	Action string      `json:"action"`
	Value  interface{} `json:"value"`
}

// Command types
const (
	CommandDoor   = "door"
	CommandLock   = "lock"
	CommandLight  = "light"
	CommandStatus = "status"
)

// StatusResponse represents the Matter bridge status
type StatusResponse struct {
	Running        bool      `json:"running"`
	Commissioned   bool      `json:"commissioned"`
	FabricID       string    `json:"fabric_id,omitempty"`
	NodeID         string    `json:"node_id,omitempty"`
	ConnectedPeers int       `json:"connected_peers"`
	Uptime         int64     `json:"uptime"`
	LastUpdate     time.Time `json:"last_update"`
}

// PairingInfo represents Matter pairing information
type PairingInfo struct {
	QRCode         string `json:"qr_code"`
	ManualPairCode string `json:"manual_pair_code"`
	SetupURL       string `json:"setup_url,omitempty"`
}

// Event represents an event from the Matter bridge
type Event struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventType constants
const (
	EventTypeCommand      = "command"
	EventTypeCommissioned = "commissioned"
	EventTypeConnection   = "connection"
	EventTypeError        = "error"
	EventTypeMatterEvent  = "matter_event"
)
