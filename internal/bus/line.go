package bus

import (
	"errors"
	"sync"
)

// ErrLineEmpty is returned by ReadByte when nothing is buffered.
var ErrLineEmpty = errors.New("bus: no data buffered")

// Line is the physical half-duplex connection to the head unit: a byte
// oriented serial channel plus raw pin access for bus arbitration.
type Line interface {
	// Assert drives the bus to its active level.
	Assert()
	// Release stops driving the bus.
	Release()
	// Sensed reports whether some party is asserting the bus right now.
	Sensed() bool
	// Buffered returns the number of received bytes waiting to be read.
	Buffered() int
	ReadByte() (byte, error)
	Write(p []byte) (int, error)
}

// SimLine is an in-memory Line. The controller uses the Line methods; the
// other side (a simulated head unit or a test) injects bytes, drains what the
// controller wrote, and can hold the bus to provoke collisions.
type SimLine struct {
	mu         sync.Mutex
	asserted   bool
	remoteHold bool
	asserts    int
	rx         []byte
	tx         []byte
	written    chan struct{}
}

// NewSimLine returns an idle line.
func NewSimLine() *SimLine {
	return &SimLine{written: make(chan struct{}, 1)}
}

// Assert implements Line.
func (l *SimLine) Assert() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.asserted = true
	l.asserts++
}

// Release implements Line.
func (l *SimLine) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.asserted = false
}

// Sensed implements Line. Only the remote side can be sensed once we released.
func (l *SimLine) Sensed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remoteHold
}

// Buffered implements Line.
func (l *SimLine) Buffered() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rx)
}

// ReadByte implements Line.
func (l *SimLine) ReadByte() (byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.rx) == 0 {
		return 0, ErrLineEmpty
	}
	b := l.rx[0]
	l.rx = l.rx[1:]
	return b, nil
}

// Write implements Line.
func (l *SimLine) Write(p []byte) (int, error) {
	l.mu.Lock()
	l.tx = append(l.tx, p...)
	l.mu.Unlock()

	select {
	case l.written <- struct{}{}:
	default:
	}
	return len(p), nil
}

// Inject queues bytes for the controller to receive.
func (l *SimLine) Inject(p []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rx = append(l.rx, p...)
}

// SetRemoteHold makes the far side keep asserting the bus.
func (l *SimLine) SetRemoteHold(hold bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remoteHold = hold
}

// TakeWritten returns and clears everything the controller wrote.
func (l *SimLine) TakeWritten() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.tx
	l.tx = nil
	return out
}

// Written signals, coalesced, that the controller wrote bytes.
func (l *SimLine) Written() <-chan struct{} {
	return l.written
}

// Asserted reports whether the controller is currently driving the bus.
func (l *SimLine) Asserted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.asserted
}

// AssertCount returns how many times the controller asserted the bus.
func (l *SimLine) AssertCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.asserts
}
