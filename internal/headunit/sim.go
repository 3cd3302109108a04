// Package headunit simulates a garage door opener head unit on a bus.SimLine.
// It answers status and openings requests, runs door travel, applies lock
// and light commands and rejects replayed rolling codes.
package headunit

import (
	"context"
	"sync"
	"time"

	"github.com/rgstephens/gdo-bridge/internal/bus"
	"github.com/rgstephens/gdo-bridge/internal/log"
	"github.com/rgstephens/gdo-bridge/internal/secplus"
)

// DefaultTravelTime is how long the simulated door takes to open or close.
const DefaultTravelTime = 3 * time.Second

// DeviceID is the id the simulated head unit transmits with.
const DeviceID = 0x0a1539

// State is what the head unit itself believes.
type State struct {
	Door     secplus.DoorState `json:"door"`
	Light    bool              `json:"light"`
	Lock     bool              `json:"lock"`
	Openings uint32            `json:"openings"`
	Rejected int               `json:"rejected"`
}

// Sim is a simulated head unit. Run drives it; the other methods are safe
// to call from any goroutine.
type Sim struct {
	line   *bus.SimLine
	codec  secplus.Codec
	reader *secplus.Reader
	travel time.Duration
	tick   time.Duration
	now    func() time.Time

	mu       sync.Mutex
	state    State
	arriveAt time.Time
	txCount  uint32
	lastSeen map[uint32]uint32
}

// Option configures a Sim.
type Option func(*Sim)

// WithTravelTime sets the door travel duration.
func WithTravelTime(d time.Duration) Option {
	return func(s *Sim) { s.travel = d }
}

// WithCodec replaces the plain codec.
func WithCodec(c secplus.Codec) Option {
	return func(s *Sim) { s.codec = c }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Sim) { s.now = now }
}

// New returns a head unit with the door closed, light off and unlocked.
func New(line *bus.SimLine, opts ...Option) *Sim {
	s := &Sim{
		line:     line,
		codec:    secplus.PlainCodec{},
		reader:   secplus.NewReader(),
		travel:   DefaultTravelTime,
		tick:     20 * time.Millisecond,
		now:      time.Now,
		state:    State{Door: secplus.DoorClosed},
		lastSeen: make(map[uint32]uint32),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run services the line until ctx is done.
func (s *Sim) Run(ctx context.Context) error {
	log.Info("head unit simulator running, travel time %s", s.travel)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.line.Written():
			s.Poll()
		case now := <-ticker.C:
			s.Advance(now)
		}
	}
}

// Poll reads everything the controller wrote and reacts to it.
func (s *Sim) Poll() {
	for _, b := range s.line.TakeWritten() {
		frame, ok := s.reader.PushByte(b)
		if !ok {
			continue
		}
		d, err := s.codec.Decode(frame)
		if err != nil {
			log.Warn("head unit: bad frame: %v", err)
			continue
		}
		s.handle(d)
	}
}

func (s *Sim) handle(d secplus.Decoded) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// a press and its release share a counter, so only going backwards is a replay
	if last, ok := s.lastSeen[d.DeviceID]; ok && d.Counter < last {
		s.state.Rejected++
		log.Warn("head unit: rejecting %s from 0x%06x, counter %d behind %d", d.Command, d.DeviceID, d.Counter, last)
		return
	}
	s.lastSeen[d.DeviceID] = d.Counter

	switch d.Command {
	case secplus.CmdGetStatus:
		s.sendStatus()

	case secplus.CmdGetOpenings:
		s.send(secplus.CmdOpenings, secplus.OpeningsData{Count: s.state.Openings})

	case secplus.CmdDoorAction:
		act, ok := d.Payload.(secplus.DoorActionData)
		if !ok || act.Pressed {
			return
		}
		if s.doorAction(act.Action) {
			s.sendStatus()
		}

	case secplus.CmdLock:
		lk, ok := d.Payload.(secplus.LockData)
		if !ok {
			return
		}
		switch lk.Lock {
		case secplus.LockOff:
			s.state.Lock = false
		case secplus.LockOn:
			s.state.Lock = true
		case secplus.LockToggle:
			s.state.Lock = !s.state.Lock
		}
		s.sendStatus()

	case secplus.CmdLight:
		lt, ok := d.Payload.(secplus.LightData)
		if !ok {
			return
		}
		switch lt.Light {
		case secplus.LightOff:
			s.state.Light = false
		case secplus.LightOn:
			s.state.Light = true
		default:
			s.state.Light = !s.state.Light
		}
		s.sendStatus()

	default:
		log.Debug("head unit: ignoring %s", d.Command)
	}
}

// doorAction starts, reverses or stops travel. It reports whether the
// door state changed.
func (s *Sim) doorAction(action secplus.DoorAction) bool {
	cur := s.state.Door
	if action == secplus.ActionToggle {
		switch cur {
		case secplus.DoorClosed, secplus.DoorClosing, secplus.DoorStopped:
			action = secplus.ActionOpen
		default:
			action = secplus.ActionClose
		}
	}

	switch action {
	case secplus.ActionOpen:
		if cur == secplus.DoorOpen || cur == secplus.DoorOpening {
			return false
		}
		if s.state.Lock {
			log.Info("head unit: remote lockout active, ignoring open")
			return false
		}
		s.move(secplus.DoorOpening)
	case secplus.ActionClose:
		if cur == secplus.DoorClosed || cur == secplus.DoorClosing {
			return false
		}
		s.move(secplus.DoorClosing)
	case secplus.ActionStop:
		if cur != secplus.DoorOpening && cur != secplus.DoorClosing {
			return false
		}
		s.state.Door = secplus.DoorStopped
		s.arriveAt = time.Time{}
	default:
		return false
	}
	return true
}

func (s *Sim) move(to secplus.DoorState) {
	s.state.Door = to
	s.arriveAt = s.now().Add(s.travel)
	// the opener switches its light on whenever the motor runs
	s.state.Light = true
}

// Advance finishes door travel that is due at now.
func (s *Sim) Advance(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.arriveAt.IsZero() || now.Before(s.arriveAt) {
		return
	}
	s.arriveAt = time.Time{}
	switch s.state.Door {
	case secplus.DoorOpening:
		s.state.Door = secplus.DoorOpen
	case secplus.DoorClosing:
		s.state.Door = secplus.DoorClosed
		s.state.Openings++
	default:
		return
	}
	s.sendStatus()
}

// PressLight simulates the wall panel light button. Only the toggle echo is
// sent; listeners are expected to ask for status.
func (s *Sim) PressLight() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Light = !s.state.Light
	s.send(secplus.CmdLight, secplus.LightData{Light: secplus.LightToggle})
}

// PressLock simulates the wall panel lock button.
func (s *Sim) PressLock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Lock = !s.state.Lock
	s.send(secplus.CmdLock, secplus.LockData{Lock: secplus.LockToggle})
}

// Motion simulates the motion sensor firing.
func (s *Sim) Motion() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.send(secplus.CmdMotion, secplus.MotionData{})
}

// Hold keeps the bus asserted from the head unit side.
func (s *Sim) Hold(hold bool) {
	s.line.SetRemoteHold(hold)
}

// State returns what the head unit believes.
func (s *Sim) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Sim) sendStatus() {
	s.send(secplus.CmdStatus, secplus.StatusData{Door: s.state.Door, Light: s.state.Light, Lock: s.state.Lock})
}

func (s *Sim) send(cmd secplus.Command, payload secplus.Payload) {
	frame, err := s.codec.Encode(secplus.NewPacket(cmd, payload, DeviceID), s.txCount)
	if err != nil {
		log.Error("head unit: encode %s: %v", cmd, err)
		return
	}
	s.txCount++
	s.line.Inject(frame)
}
