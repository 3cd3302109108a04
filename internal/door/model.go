package door

import (
	"time"

	"github.com/rgstephens/gdo-bridge/internal/log"
	"github.com/rgstephens/gdo-bridge/internal/secplus"
)

// DefaultMotionHold is how long motion stays set after the last motion frame.
// The sensor repeats every ~5s while motion continues.
const DefaultMotionHold = 5 * time.Second

// Model is the single mirrored door. It is owned by one goroutine; nothing
// here locks.
type Model struct {
	state      State
	notify     Notifier
	now        func() time.Time
	motionHold time.Duration
}

// ModelOption configures a Model.
type ModelOption func(*Model)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ModelOption {
	return func(m *Model) { m.now = now }
}

// WithMotionHold sets the motion expiry window.
func WithMotionHold(d time.Duration) ModelOption {
	return func(m *Model) { m.motionHold = d }
}

// NewModel returns an inactive model reporting to n.
func NewModel(n Notifier, opts ...ModelOption) *Model {
	if n == nil {
		n = Notifiers(nil)
	}
	m := &Model{
		state: State{
			CurrentState: CurrentClosed,
			TargetState:  TargetClosed,
		},
		notify:     n,
		now:        time.Now,
		motionHold: DefaultMotionHold,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns a copy of the mirrored state.
func (m *Model) State() State {
	return m.state
}

// ApplyStatus folds a head unit status report into the model.
func (m *Model) ApplyStatus(st secplus.StatusData) {
	switch st.Door {
	case secplus.DoorOpen:
		m.state.CurrentState, m.state.TargetState = CurrentOpen, TargetOpen
	case secplus.DoorClosed:
		m.state.CurrentState, m.state.TargetState = CurrentClosed, TargetClosed
	case secplus.DoorStopped:
		// a stopped door is treated as resuming towards open
		m.state.CurrentState, m.state.TargetState = CurrentStopped, TargetOpen
	case secplus.DoorOpening:
		m.state.CurrentState, m.state.TargetState = CurrentOpening, TargetOpen
	case secplus.DoorClosing:
		m.state.CurrentState, m.state.TargetState = CurrentClosing, TargetClosed
	default:
		log.Error("Got door state unknown")
	}

	if !m.state.Active {
		log.Info("activating door")
		m.state.Active = true
		m.notify.DoorActive(true)
		if m.state.CurrentState == CurrentOpening || m.state.CurrentState == CurrentOpen {
			m.state.TargetState = TargetOpen
		} else {
			m.state.TargetState = TargetClosed
		}
	}

	log.Debug("door target %s current %s", m.state.TargetState, m.state.CurrentState)
	m.notify.TargetDoorState(m.state.TargetState)
	m.notify.CurrentDoorState(m.state.CurrentState)

	if st.Light != m.state.Light {
		log.Info("Light status %s", onOff(st.Light))
		m.state.Light = st.Light
		m.notify.Light(st.Light)
	}

	lock := LockFrom(st.Lock)
	m.state.CurrentLock, m.state.TargetLock = lock, lock
	m.notify.TargetLock(lock)
	m.notify.CurrentLock(lock)
}

// ApplyLockCommand folds a lock command seen on the bus into the target lock.
// It reports whether the target changed.
func (m *Model) ApplyLockCommand(op secplus.LockState) bool {
	lock := m.state.TargetLock
	switch op {
	case secplus.LockOff:
		lock = Unlocked
	case secplus.LockOn:
		lock = Locked
	case secplus.LockToggle:
		if lock == Locked {
			lock = Unlocked
		} else {
			lock = Locked
		}
	}
	return m.SetTargetLock(lock)
}

// ApplyLightCommand folds a light command seen on the bus into the light flag.
// It reports whether the flag changed.
func (m *Model) ApplyLightCommand(op secplus.LightState) bool {
	on := m.state.Light
	switch op {
	case secplus.LightOff:
		on = false
	case secplus.LightOn:
		on = true
	case secplus.LightToggle, secplus.LightToggle2:
		on = !m.state.Light
	}
	return m.SetLight(on)
}

// ApplyMotion records a motion frame and slides the expiry forward.
func (m *Model) ApplyMotion() {
	if !m.state.HasMotionSensor {
		log.Info("Detected new motion sensor, enabling service")
		m.state.HasMotionSensor = true
		m.notify.MotionSensorAdded()
	}

	m.state.MotionTimer = m.now().Add(m.motionHold)
	if !m.state.Motion {
		m.state.Motion = true
		m.notify.Motion(true)
	}
}

// ExpireMotion clears motion once now is past the motion timer. It reports
// whether motion was cleared.
func (m *Model) ExpireMotion(now time.Time) bool {
	if !m.state.Motion || !now.After(m.state.MotionTimer) {
		return false
	}
	m.state.Motion = false
	m.notify.Motion(false)
	return true
}

// SetTargetLock sets the target lock, notifying only on change.
func (m *Model) SetTargetLock(l Lock) bool {
	if l == m.state.TargetLock {
		return false
	}
	log.Info("Lock target %s", l)
	m.state.TargetLock = l
	m.notify.TargetLock(l)
	return true
}

// SetLight sets the light flag, notifying only on change.
func (m *Model) SetLight(on bool) bool {
	if on == m.state.Light {
		return false
	}
	log.Info("Light %s", onOff(on))
	m.state.Light = on
	m.notify.Light(on)
	return true
}

func onOff(on bool) string {
	if on {
		return "On"
	}
	return "Off"
}
