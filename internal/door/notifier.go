package door

import "time"

// Notifier receives one call per observable change. Implementations must
// return quickly; the scheduling loop calls them inline.
type Notifier interface {
	DoorActive(active bool)
	TargetDoorState(s TargetState)
	CurrentDoorState(s CurrentState)
	Light(on bool)
	TargetLock(l Lock)
	CurrentLock(l Lock)
	Motion(detected bool)
	MotionSensorAdded()
}

// EventKind names a notification.
type EventKind string

const (
	EventActive            EventKind = "active"
	EventTargetDoorState   EventKind = "target_door_state"
	EventCurrentDoorState  EventKind = "current_door_state"
	EventLight             EventKind = "light"
	EventTargetLock        EventKind = "target_lock"
	EventCurrentLock       EventKind = "current_lock"
	EventMotion            EventKind = "motion"
	EventMotionSensorAdded EventKind = "motion_sensor_added"
)

// Event is a notification as a value.
type Event struct {
	Kind  EventKind   `json:"kind"`
	Value interface{} `json:"value,omitempty"`
	Time  time.Time   `json:"time"`
}

// EventSink adapts a function to Notifier, one Event per call.
type EventSink func(Event)

func (f EventSink) emit(kind EventKind, v interface{}) {
	f(Event{Kind: kind, Value: v, Time: time.Now()})
}

func (f EventSink) DoorActive(active bool)          { f.emit(EventActive, active) }
func (f EventSink) TargetDoorState(s TargetState)   { f.emit(EventTargetDoorState, s) }
func (f EventSink) CurrentDoorState(s CurrentState) { f.emit(EventCurrentDoorState, s) }
func (f EventSink) Light(on bool)                   { f.emit(EventLight, on) }
func (f EventSink) TargetLock(l Lock)               { f.emit(EventTargetLock, l) }
func (f EventSink) CurrentLock(l Lock)              { f.emit(EventCurrentLock, l) }
func (f EventSink) Motion(detected bool)            { f.emit(EventMotion, detected) }
func (f EventSink) MotionSensorAdded()              { f.emit(EventMotionSensorAdded, true) }

// Notifiers fans every call out to each member in order.
type Notifiers []Notifier

func (ns Notifiers) DoorActive(active bool) {
	for _, n := range ns {
		n.DoorActive(active)
	}
}

func (ns Notifiers) TargetDoorState(s TargetState) {
	for _, n := range ns {
		n.TargetDoorState(s)
	}
}

func (ns Notifiers) CurrentDoorState(s CurrentState) {
	for _, n := range ns {
		n.CurrentDoorState(s)
	}
}

func (ns Notifiers) Light(on bool) {
	for _, n := range ns {
		n.Light(on)
	}
}

func (ns Notifiers) TargetLock(l Lock) {
	for _, n := range ns {
		n.TargetLock(l)
	}
}

func (ns Notifiers) CurrentLock(l Lock) {
	for _, n := range ns {
		n.CurrentLock(l)
	}
}

func (ns Notifiers) Motion(detected bool) {
	for _, n := range ns {
		n.Motion(detected)
	}
}

func (ns Notifiers) MotionSensorAdded() {
	for _, n := range ns {
		n.MotionSensorAdded()
	}
}

// Apply folds an event into s, for sinks that keep their own mirror.
func (s *State) Apply(ev Event) {
	switch ev.Kind {
	case EventActive:
		s.Active, _ = ev.Value.(bool)
	case EventTargetDoorState:
		s.TargetState, _ = ev.Value.(TargetState)
	case EventCurrentDoorState:
		s.CurrentState, _ = ev.Value.(CurrentState)
	case EventLight:
		s.Light, _ = ev.Value.(bool)
	case EventTargetLock:
		s.TargetLock, _ = ev.Value.(Lock)
	case EventCurrentLock:
		s.CurrentLock, _ = ev.Value.(Lock)
	case EventMotion:
		s.Motion, _ = ev.Value.(bool)
	case EventMotionSensorAdded:
		s.HasMotionSensor = true
	}
}
