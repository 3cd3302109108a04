// Package comms runs the Security+2.0 conversation with the head unit: the
// transmit queue, the receive/transmit scheduling step, receive dispatch into
// the door model, the command API and the boot sync.
package comms

import (
	"errors"
	"fmt"
	"time"

	"github.com/rgstephens/gdo-bridge/internal/bus"
	"github.com/rgstephens/gdo-bridge/internal/door"
	"github.com/rgstephens/gdo-bridge/internal/log"
	"github.com/rgstephens/gdo-bridge/internal/rolling"
	"github.com/rgstephens/gdo-bridge/internal/secplus"
)

// DefaultSyncDelay separates the two boot sync frames.
const DefaultSyncDelay = 100 * time.Millisecond

// Transceiver is the bus as the controller uses it. bus.Transceiver satisfies it.
type Transceiver interface {
	TryTransmit(a bus.PacketAction) (bus.Result, error)
	Pending() bool
	PollReceive() (secplus.Decoded, bool, error)
}

// Identity supplies the device id and the current rolling counter.
type Identity interface {
	DeviceID() uint32
	Counter() uint32
}

// Controller owns the queue, the door model and the bus. It has no locks:
// exactly one goroutine may call it, see Worker.
type Controller struct {
	bus       Transceiver
	ids       Identity
	model     *door.Model
	queue     *Queue
	metrics   *Metrics
	syncDelay time.Duration
	sleep     func(time.Duration)
	ready     bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithQueueCapacity sets the transmit queue size.
func WithQueueCapacity(n int) Option {
	return func(c *Controller) { c.queue = NewQueue(n) }
}

// WithMetrics attaches prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithSyncDelay sets the pause between the two boot sync frames.
func WithSyncDelay(d time.Duration) Option {
	return func(c *Controller) { c.syncDelay = d }
}

// WithSleep replaces time.Sleep for the sync delay.
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *Controller) { c.sleep = sleep }
}

// NewController wires the scheduling core together.
func NewController(t Transceiver, ids Identity, model *door.Model, opts ...Option) *Controller {
	c := &Controller{
		bus:       t,
		ids:       ids,
		model:     model,
		queue:     NewQueue(DefaultQueueCapacity),
		metrics:   NewMetrics(nil),
		syncDelay: DefaultSyncDelay,
		sleep:     time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Step runs one scheduling step. Pending inbound bytes win: they are decoded
// and dispatched and nothing is transmitted in the same step. Otherwise the
// queue head is attempted and dropped only once it is done with.
func (c *Controller) Step() {
	if c.bus.Pending() {
		c.receive()
		return
	}

	a, ok := c.queue.Peek()
	if !ok {
		return
	}
	if c.transmit(a).Done() {
		c.queue.Drop()
	}
	c.metrics.QueueDepth.Set(float64(c.queue.Len()))
}

// transmit makes one attempt and logs the outcome.
func (c *Controller) transmit(a bus.PacketAction) bus.Result {
	res, err := c.bus.TryTransmit(a)
	c.metrics.TransmitTotal.WithLabelValues(res.String()).Inc()

	switch res {
	case bus.Collision:
		log.Info("Collision detected, waiting to send packet")
	case bus.Abandoned:
		log.Error("Could not encode packet, dropping it: %v", err)
	case bus.Failed:
		log.Error("transmit failed, will retry: %v", err)
	case bus.Sent:
		if errors.Is(err, rolling.ErrPersist) {
			c.metrics.PersistFailures.Inc()
			log.Warn("rolling counter not persisted: %v", err)
		}
		log.Debug("tx %s", a.Packet)
	}
	c.metrics.RollingCounter.Set(float64(c.ids.Counter()))
	return res
}

func (c *Controller) receive() {
	d, ok, err := c.bus.PollReceive()
	if err != nil {
		c.metrics.DecodeErrors.Inc()
		log.Warn("dropping undecodable frame: %v", err)
		return
	}
	if ok {
		c.dispatch(d)
	}
}

// dispatch folds one decoded packet into the door model.
func (c *Controller) dispatch(d secplus.Decoded) {
	log.Debug("rx %s counter %d", d.Packet, d.Counter)
	c.metrics.ReceiveTotal.WithLabelValues(d.Command.String()).Inc()

	switch d.Command {
	case secplus.CmdStatus:
		st, ok := d.Payload.(secplus.StatusData)
		if !ok {
			break
		}
		c.model.ApplyStatus(st)
		return

	case secplus.CmdLock:
		lk, ok := d.Payload.(secplus.LockData)
		if !ok {
			break
		}
		c.model.ApplyLockCommand(lk.Lock)
		c.requestStatusInternal()
		return

	case secplus.CmdLight:
		lt, ok := d.Payload.(secplus.LightData)
		if !ok {
			break
		}
		// toggles make the outcome uncertain, so always reconcile
		c.model.ApplyLightCommand(lt.Light)
		c.requestStatusInternal()
		return

	case secplus.CmdMotion:
		log.Info("Motion detected")
		c.model.ApplyMotion()
		// motion often switches the light on
		c.requestStatusInternal()
		return

	default:
		log.Info("Support for %s packet unimplemented. Ignoring.", d.Command)
		return
	}

	log.Warn("%s packet with unexpected payload %T, ignoring", d.Command, d.Payload)
}

func (c *Controller) requestStatusInternal() {
	if err := c.RequestStatus(); err != nil {
		log.Warn("status request not queued: %v", err)
	}
}

func (c *Controller) enqueue(what string, actions ...bus.PacketAction) error {
	if err := c.queue.PushAll(actions...); err != nil {
		c.metrics.QueueRejected.Inc()
		return fmt.Errorf("%s: %w", what, err)
	}
	c.metrics.QueueDepth.Set(float64(c.queue.Len()))
	return nil
}

func (c *Controller) packet(cmd secplus.Command, payload secplus.Payload) secplus.Packet {
	return secplus.NewPacket(cmd, payload, c.ids.DeviceID())
}

// doorActions is one simulated button press: pressed without advancing the
// counter, then released with it.
func (c *Controller) doorActions(action secplus.DoorAction) []bus.PacketAction {
	id := c.ids.DeviceID()
	return []bus.PacketAction{
		{Packet: secplus.DoorActionPacket(id, action, true), AdvanceCounter: false},
		{Packet: secplus.DoorActionPacket(id, action, false), AdvanceCounter: true},
	}
}

func (c *Controller) statusRequest() bus.PacketAction {
	return bus.PacketAction{Packet: c.packet(secplus.CmdGetStatus, secplus.NoData{}), AdvanceCounter: true}
}

// OpenDoor queues an Open press unless the door is already opening.
func (c *Controller) OpenDoor() error {
	log.Info("open door req")
	if c.model.State().CurrentState == door.CurrentOpening {
		log.Info("door already opening; ignored req")
		return nil
	}
	return c.enqueue("open door", c.doorActions(secplus.ActionOpen)...)
}

// CloseDoor queues a Close press unless the door is already closing. An
// opening door is stopped first.
func (c *Controller) CloseDoor() error {
	log.Info("close door req")
	current := c.model.State().CurrentState
	if current == door.CurrentClosing {
		log.Info("door already closing; ignored req")
		return nil
	}

	var actions []bus.PacketAction
	if current == door.CurrentOpening {
		actions = append(actions, c.doorActions(secplus.ActionStop)...)
	}
	actions = append(actions, c.doorActions(secplus.ActionClose)...)
	return c.enqueue("close door", actions...)
}

// SetLock queues a lock command and a status request, then records the new
// target lock optimistically.
func (c *Controller) SetLock(locked bool) error {
	op := secplus.LockOff
	if locked {
		op = secplus.LockOn
	}
	err := c.enqueue("set lock",
		bus.PacketAction{Packet: c.packet(secplus.CmdLock, secplus.LockData{Lock: op}), AdvanceCounter: true},
		c.statusRequest(),
	)
	if err != nil {
		return err
	}
	c.model.SetTargetLock(door.LockFrom(locked))
	return nil
}

// SetLight queues a light command and a status request, then records the
// light flag optimistically.
func (c *Controller) SetLight(on bool) error {
	op := secplus.LightOff
	if on {
		op = secplus.LightOn
	}
	err := c.enqueue("set light",
		bus.PacketAction{Packet: c.packet(secplus.CmdLight, secplus.LightData{Light: op}), AdvanceCounter: true},
		c.statusRequest(),
	)
	if err != nil {
		return err
	}
	c.model.SetLight(on)
	return nil
}

// RequestStatus queues a status request.
func (c *Controller) RequestStatus() error {
	return c.enqueue("request status", c.statusRequest())
}

// Sync primes the head unit after boot: an openings request, a short pause,
// then a status request, both sent inline rather than queued. The controller
// reports ready afterwards whatever the outcome.
func (c *Controller) Sync() {
	log.Info("Syncing rolling code counter after reboot...")

	c.transmit(bus.PacketAction{Packet: c.packet(secplus.CmdGetOpenings, secplus.NoData{}), AdvanceCounter: true})
	c.sleep(c.syncDelay)
	c.transmit(c.statusRequest())

	c.ready = true
}

// Ready reports whether Sync has been attempted.
func (c *Controller) Ready() bool { return c.ready }

// ExpireMotion clears motion once its timer has passed.
func (c *Controller) ExpireMotion(now time.Time) {
	c.model.ExpireMotion(now)
}

// State returns a copy of the door model.
func (c *Controller) State() door.State { return c.model.State() }

// Queued returns the pending actions in order.
func (c *Controller) Queued() []bus.PacketAction { return c.queue.Items() }

// Identity returns the device id and counter.
func (c *Controller) Identity() rolling.State {
	return rolling.State{DeviceID: c.ids.DeviceID(), Counter: c.ids.Counter()}
}
