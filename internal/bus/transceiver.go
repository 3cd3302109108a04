// Package bus arbitrates the shared half-duplex line to the head unit and
// turns inbound bytes into decoded packets.
package bus

import (
	"fmt"
	"sync"
	"time"

	"github.com/rgstephens/gdo-bridge/internal/rolling"
	"github.com/rgstephens/gdo-bridge/internal/secplus"
)

// Result is the outcome of one transmit attempt.
type Result int

const (
	// Sent means the frame went out.
	Sent Result = iota
	// Collision means another party held the bus; nothing was written.
	Collision
	// Abandoned means the packet could not be encoded and must not be retried.
	Abandoned
	// Failed means the line rejected the write; the attempt may be retried.
	Failed
)

func (r Result) String() string {
	switch r {
	case Sent:
		return "sent"
	case Collision:
		return "collision"
	case Abandoned:
		return "abandoned"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Done reports whether the action should leave the transmit queue.
func (r Result) Done() bool {
	return r == Sent || r == Abandoned
}

// PacketAction is one unit of outbound work.
type PacketAction struct {
	Packet         secplus.Packet
	AdvanceCounter bool
}

// Counter supplies the rolling code. rolling.Store satisfies it.
type Counter interface {
	Counter() uint32
	Advance() (rolling.State, error)
}

// Timing is the physical-layer contract of the bus.
type Timing struct {
	Assert time.Duration // hold the bus before releasing
	Settle time.Duration // wait after releasing before sensing
	Guard  time.Duration // quiet time after writing a frame
	LED    time.Duration // activity indicator on-time
}

// DefaultTiming matches the opener's wall-control timing.
var DefaultTiming = Timing{
	Assert: 1300 * time.Microsecond,
	Settle: 130 * time.Microsecond,
	Guard:  100 * time.Microsecond,
	LED:    500 * time.Millisecond,
}

// Indicator shows bus activity, e.g. a status LED.
type Indicator interface {
	Flash(d time.Duration)
}

// LED is an Indicator that remembers until when it is lit.
type LED struct {
	mu    sync.Mutex
	until time.Time
}

// Flash implements Indicator.
func (l *LED) Flash(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.until = time.Now().Add(d)
}

// Lit reports whether the LED is on at now.
func (l *LED) Lit(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return now.Before(l.until)
}

// Transceiver owns the line. It is not safe for concurrent use; the comms
// worker is its only caller.
type Transceiver struct {
	line      Line
	codec     secplus.Codec
	reader    *secplus.Reader
	counter   Counter
	timing    Timing
	indicator Indicator
	wait      func(time.Duration)
}

// Option configures a Transceiver.
type Option func(*Transceiver)

// WithIndicator sets the activity indicator.
func WithIndicator(ind Indicator) Option {
	return func(t *Transceiver) { t.indicator = ind }
}

// WithWait replaces the busy-wait used for bus timing.
func WithWait(wait func(time.Duration)) Option {
	return func(t *Transceiver) { t.wait = wait }
}

// NewTransceiver builds a transceiver over line.
func NewTransceiver(line Line, codec secplus.Codec, counter Counter, timing Timing, opts ...Option) *Transceiver {
	t := &Transceiver{
		line:      line,
		codec:     codec,
		reader:    secplus.NewReader(),
		counter:   counter,
		timing:    timing,
		indicator: &LED{},
		wait:      SpinWait,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SpinWait busy-waits for at least d. Sleeping would overshoot the
// tens-of-microseconds tolerance of the bus.
func SpinWait(d time.Duration) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
	}
}

// TryTransmit asserts the bus, releases it and checks whether anyone else is
// still holding it. On a clear bus it encodes the packet with the current
// counter, writes it and, if requested, advances and persists the counter.
//
// The returned error is set for Abandoned (wraps secplus.ErrEncode), Failed,
// and for a Sent whose counter write failed (wraps rolling.ErrPersist).
func (t *Transceiver) TryTransmit(a PacketAction) (Result, error) {
	t.indicator.Flash(t.timing.LED)

	t.line.Assert()
	t.wait(t.timing.Assert)
	t.line.Release()
	t.wait(t.timing.Settle)

	if t.line.Sensed() {
		return Collision, nil
	}

	frame, err := t.codec.Encode(a.Packet, t.counter.Counter())
	if err != nil {
		return Abandoned, fmt.Errorf("encode %s: %w", a.Packet, err)
	}

	if _, err := t.line.Write(frame); err != nil {
		return Failed, fmt.Errorf("write %s: %w", a.Packet, err)
	}
	t.wait(t.timing.Guard)

	if a.AdvanceCounter {
		if _, err := t.counter.Advance(); err != nil {
			return Sent, err
		}
	}
	return Sent, nil
}

// Pending reports whether inbound bytes are waiting.
func (t *Transceiver) Pending() bool {
	return t.line.Buffered() > 0
}

// PollReceive feeds buffered bytes to the framer until a frame completes or
// the buffer is empty. It never blocks. A frame that fails to decode is
// returned as an error; the framer has already reset.
func (t *Transceiver) PollReceive() (secplus.Decoded, bool, error) {
	for t.line.Buffered() > 0 {
		b, err := t.line.ReadByte()
		if err != nil {
			return secplus.Decoded{}, false, err
		}
		frame, ok := t.reader.PushByte(b)
		if !ok {
			continue
		}
		d, err := t.codec.Decode(frame)
		if err != nil {
			return secplus.Decoded{}, false, err
		}
		return d, true, nil
	}
	return secplus.Decoded{}, false, nil
}
