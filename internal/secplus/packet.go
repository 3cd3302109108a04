package secplus

import "fmt"

// Payload is the command-specific data of a packet. Exactly one variant
// belongs to each command; see PayloadFor.
type Payload interface {
	// word packs the payload into the 32-bit data word of a frame.
	word() (uint32, error)
}

// NoData is the payload of commands that carry nothing.
type NoData struct{}

// DoorActionData simulates a wall-button press or release.
type DoorActionData struct {
	Action  DoorAction
	Pressed bool
	ID      uint8
}

// LockData carries a remote-lockout operation.
type LockData struct {
	Lock LockState
}

// LightData carries a light operation.
type LightData struct {
	Light LightState
}

// StatusData is the head unit's authoritative state report.
type StatusData struct {
	Door  DoorState
	Light bool
	Lock  bool
}

// MotionData marks a motion sensor event. It has no fields.
type MotionData struct{}

// OpeningsData reports the opener's lifetime cycle count.
type OpeningsData struct {
	Count uint32
}

func (NoData) word() (uint32, error)     { return 0, nil }
func (MotionData) word() (uint32, error) { return 0, nil }

func (d DoorActionData) word() (uint32, error) {
	if d.Action > ActionStop {
		return 0, fmt.Errorf("%w: door action %d", ErrEncode, d.Action)
	}
	if d.ID > 3 {
		return 0, fmt.Errorf("%w: button id %d", ErrEncode, d.ID)
	}
	w := uint32(d.Action) | uint32(d.ID)<<24
	if d.Pressed {
		w |= 1 << 8
	}
	return w, nil
}

func (d LockData) word() (uint32, error) {
	if d.Lock > LockToggle {
		return 0, fmt.Errorf("%w: lock state %d", ErrEncode, d.Lock)
	}
	return uint32(d.Lock), nil
}

func (d LightData) word() (uint32, error) {
	if d.Light > LightToggle2 {
		return 0, fmt.Errorf("%w: light state %d", ErrEncode, d.Light)
	}
	return uint32(d.Light), nil
}

func (d StatusData) word() (uint32, error) {
	if d.Door > DoorClosing {
		return 0, fmt.Errorf("%w: door state %d", ErrEncode, d.Door)
	}
	w := uint32(d.Door) & 0x0f
	if d.Lock {
		w |= 1 << 8
	}
	if d.Light {
		w |= 1 << 9
	}
	return w, nil
}

func (d OpeningsData) word() (uint32, error) { return d.Count, nil }

// PayloadFor unpacks a data word into the variant that belongs to cmd.
func PayloadFor(cmd Command, w uint32) Payload {
	switch cmd {
	case CmdDoorAction:
		return DoorActionData{
			Action:  DoorAction(w & 0xff),
			Pressed: (w>>8)&0x01 == 1,
			ID:      uint8((w >> 24) & 0x03),
		}
	case CmdLock:
		return LockData{Lock: LockState(w & 0x03)}
	case CmdLight:
		return LightData{Light: LightState(w & 0x03)}
	case CmdStatus:
		return StatusData{
			Door:  DoorState(w & 0x0f),
			Lock:  (w>>8)&0x01 == 1,
			Light: (w>>9)&0x01 == 1,
		}
	case CmdMotion:
		return MotionData{}
	case CmdOpenings:
		return OpeningsData{Count: w}
	default:
		return NoData{}
	}
}

// matches reports whether p is the variant that belongs to cmd.
func matches(cmd Command, p Payload) bool {
	switch cmd {
	case CmdDoorAction:
		_, ok := p.(DoorActionData)
		return ok
	case CmdLock:
		_, ok := p.(LockData)
		return ok
	case CmdLight:
		_, ok := p.(LightData)
		return ok
	case CmdStatus:
		_, ok := p.(StatusData)
		return ok
	case CmdMotion:
		_, ok := p.(MotionData)
		return ok
	case CmdOpenings:
		_, ok := p.(OpeningsData)
		return ok
	default:
		_, ok := p.(NoData)
		return ok
	}
}

// Packet is a logical command addressed from a device id. Treat as immutable.
type Packet struct {
	Command  Command
	Payload  Payload
	DeviceID uint32
}

// NewPacket builds a packet; a nil payload means NoData.
func NewPacket(cmd Command, payload Payload, deviceID uint32) Packet {
	if payload == nil {
		payload = NoData{}
	}
	return Packet{Command: cmd, Payload: payload, DeviceID: deviceID}
}

// DoorActionPacket builds one half of a button press/release pair.
func DoorActionPacket(deviceID uint32, action DoorAction, pressed bool) Packet {
	return NewPacket(CmdDoorAction, DoorActionData{Action: action, Pressed: pressed, ID: 1}, deviceID)
}

// Validate checks the packet can be put on the wire.
func (p Packet) Validate() error {
	if p.DeviceID == 0 {
		return fmt.Errorf("%w: zero device id", ErrEncode)
	}
	if !p.Command.Known() {
		return fmt.Errorf("%w: unknown command %s", ErrEncode, p.Command)
	}
	if p.Payload == nil || !matches(p.Command, p.Payload) {
		return fmt.Errorf("%w: payload %T does not belong to %s", ErrEncode, p.Payload, p.Command)
	}
	return nil
}

func (p Packet) String() string {
	return fmt.Sprintf("%s{id=0x%06x %+v}", p.Command, p.DeviceID, p.Payload)
}

// Decoded is a packet received from the wire with the counter it was sent with.
type Decoded struct {
	Packet
	Counter uint32
}
