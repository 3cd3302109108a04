// Package door mirrors the physical door, lock, light and motion sensor as
// reported by the head unit, and tells a Notifier about every visible change.
package door

import (
	"fmt"
	"time"
)

// CurrentState is where the door is.
type CurrentState int

const (
	CurrentOpen CurrentState = iota
	CurrentClosed
	CurrentOpening
	CurrentClosing
	CurrentStopped
)

var currentNames = []string{"Open", "Closed", "Opening", "Closing", "Stopped"}

func (s CurrentState) String() string {
	if s < 0 || int(s) >= len(currentNames) {
		return fmt.Sprintf("CurrentState(%d)", int(s))
	}
	return currentNames[s]
}

// MarshalText renders the state name in JSON.
func (s CurrentState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a state name.
func (s *CurrentState) UnmarshalText(b []byte) error {
	for i, n := range currentNames {
		if n == string(b) {
			*s = CurrentState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown door state %q", b)
}

// TargetState is where the door is headed.
type TargetState int

const (
	TargetOpen TargetState = iota
	TargetClosed
)

func (s TargetState) String() string {
	if s == TargetOpen {
		return "Open"
	}
	return "Closed"
}

// MarshalText renders the state name in JSON.
func (s TargetState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a state name.
func (s *TargetState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "Open":
		*s = TargetOpen
	case "Closed":
		*s = TargetClosed
	default:
		return fmt.Errorf("unknown target state %q", b)
	}
	return nil
}

// Lock is the remote-lockout state.
type Lock int

const (
	Unlocked Lock = iota
	Locked
)

func (l Lock) String() string {
	if l == Locked {
		return "Locked"
	}
	return "Unlocked"
}

// MarshalText renders the lock name in JSON.
func (l Lock) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// UnmarshalText parses a lock name.
func (l *Lock) UnmarshalText(b []byte) error {
	switch string(b) {
	case "Locked":
		*l = Locked
	case "Unlocked":
		*l = Unlocked
	default:
		return fmt.Errorf("unknown lock state %q", b)
	}
	return nil
}

// LockFrom maps a boolean to a Lock.
func LockFrom(locked bool) Lock {
	if locked {
		return Locked
	}
	return Unlocked
}

// State is a copy of the mirrored door.
type State struct {
	Active          bool         `json:"active"`
	CurrentState    CurrentState `json:"current_state"`
	TargetState     TargetState  `json:"target_state"`
	CurrentLock     Lock         `json:"current_lock"`
	TargetLock      Lock         `json:"target_lock"`
	Light           bool         `json:"light"`
	Motion          bool         `json:"motion"`
	HasMotionSensor bool         `json:"has_motion_sensor"`
	MotionTimer     time.Time    `json:"motion_timer,omitempty"`
}
