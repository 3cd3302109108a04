// Package rolling persists the anti-replay counter and the device id that
// every authenticated transmission carries.
package rolling

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/rgstephens/gdo-bridge/internal/log"
	"github.com/rgstephens/gdo-bridge/internal/storage"
)

// ErrPersist wraps a failed counter or id write. It is a warning: the
// in-memory state is still valid.
var ErrPersist = errors.New("rolling: persist failed")

// KV is the persistent store the counter lives in.
type KV interface {
	Read(key string) (uint32, bool, error)
	Write(key string, value uint32) error
}

// State is the device identity and the next counter value to transmit with.
type State struct {
	DeviceID uint32 `json:"device_id"`
	Counter  uint32 `json:"counter"`
}

// Store owns the rolling state. The counter never decreases.
type Store struct {
	kv    KV
	mu    sync.Mutex
	state State
	newID func() uint32
}

// NewStore returns a store backed by kv. Call Load before use.
func NewStore(kv KV) *Store {
	return &Store{kv: kv, newID: randomDeviceID}
}

// randomDeviceID mirrors the opener's id layout: 12 random bits over a fixed 0x539 suffix.
func randomDeviceID() uint32 {
	return uint32(rand.Intn(0xffe)+1)<<12 | 0x539
}

// Load reads the persisted id and counter. A missing or zero id is generated
// and written immediately. Read failures are fatal to startup.
func (s *Store) Load() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok, err := s.kv.Read(storage.KeyDeviceID)
	if err != nil {
		return State{}, fmt.Errorf("load device id: %w", err)
	}
	if !ok || id == 0 {
		log.Info("device id not found, generating")
		id = s.newID()
		if err := s.kv.Write(storage.KeyDeviceID, id); err != nil {
			return State{}, fmt.Errorf("store device id: %w", err)
		}
	}

	counter, _, err := s.kv.Read(storage.KeyRolling)
	if err != nil {
		return State{}, fmt.Errorf("load rolling counter: %w", err)
	}

	s.state = State{DeviceID: id, Counter: counter}
	log.Info("device id 0x%06x rolling counter %d", id, counter)
	return s.state, nil
}

// State returns the current id and counter.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// DeviceID returns the persisted device id.
func (s *Store) DeviceID() uint32 {
	return s.State().DeviceID
}

// Counter returns the value the next authenticated frame is encoded with.
func (s *Store) Counter() uint32 {
	return s.State().Counter
}

// Advance increments the counter and writes it before returning. On a write
// failure the in-memory counter has still advanced and the returned error
// wraps ErrPersist.
func (s *Store) Advance() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Counter++
	if err := s.kv.Write(storage.KeyRolling, s.state.Counter); err != nil {
		return s.state, fmt.Errorf("%w: counter %d: %v", ErrPersist, s.state.Counter, err)
	}
	return s.state, nil
}
