// Package secplus holds the Security+2.0 vocabulary shared by the bus
// transceiver, the door model and the head unit simulator: command codes,
// payload variants, logical packets, the byte framer and the codec contract.
package secplus

import "fmt"

// FrameLen is the length of one wire frame including the preamble.
const FrameLen = 19

// Preamble starts every frame on the wire.
var Preamble = [3]byte{0x55, 0x01, 0x00}

// Command is the 12-bit command code of a packet.
type Command uint16

const (
	CmdUnknown     Command = 0x000
	CmdGetStatus   Command = 0x080
	CmdStatus      Command = 0x081
	CmdObst1       Command = 0x084
	CmdObst2       Command = 0x085
	CmdPair3       Command = 0x0a0
	CmdPair3Resp   Command = 0x0a1
	CmdLearn2      Command = 0x181
	CmdLock        Command = 0x18c
	CmdDoorAction  Command = 0x280
	CmdLight       Command = 0x281
	CmdMotorOn     Command = 0x284
	CmdMotion      Command = 0x285
	CmdLearn1      Command = 0x391
	CmdPing        Command = 0x392
	CmdPingResp    Command = 0x393
	CmdPair2       Command = 0x400
	CmdPair2Resp   Command = 0x401
	CmdSetTTC      Command = 0x402
	CmdCancelTTC   Command = 0x408
	CmdTTC         Command = 0x40a
	CmdGetOpenings Command = 0x48b
	CmdOpenings    Command = 0x48c
)

var commandNames = map[Command]string{
	CmdUnknown:     "Unknown",
	CmdGetStatus:   "GetStatus",
	CmdStatus:      "Status",
	CmdObst1:       "Obst1",
	CmdObst2:       "Obst2",
	CmdPair3:       "Pair3",
	CmdPair3Resp:   "Pair3Resp",
	CmdLearn2:      "Learn2",
	CmdLock:        "Lock",
	CmdDoorAction:  "DoorAction",
	CmdLight:       "Light",
	CmdMotorOn:     "MotorOn",
	CmdMotion:      "Motion",
	CmdLearn1:      "Learn1",
	CmdPing:        "Ping",
	CmdPingResp:    "PingResp",
	CmdPair2:       "Pair2",
	CmdPair2Resp:   "Pair2Resp",
	CmdSetTTC:      "SetTTC",
	CmdCancelTTC:   "CancelTTC",
	CmdTTC:         "TTC",
	CmdGetOpenings: "GetOpenings",
	CmdOpenings:    "Openings",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(0x%03x)", uint16(c))
}

// Known reports whether c is a documented command code.
func (c Command) Known() bool {
	_, ok := commandNames[c]
	return ok && c != CmdUnknown
}

// DoorState is the door position reported by the head unit.
type DoorState uint8

const (
	DoorUnknown DoorState = iota
	DoorOpen
	DoorClosed
	DoorStopped
	DoorOpening
	DoorClosing
)

func (s DoorState) String() string {
	switch s {
	case DoorOpen:
		return "Open"
	case DoorClosed:
		return "Closed"
	case DoorStopped:
		return "Stopped"
	case DoorOpening:
		return "Opening"
	case DoorClosing:
		return "Closing"
	default:
		return "Unknown"
	}
}

// DoorAction is the button action carried by a DoorAction packet.
type DoorAction uint8

const (
	ActionClose DoorAction = iota
	ActionOpen
	ActionToggle
	ActionStop
)

func (a DoorAction) String() string {
	switch a {
	case ActionClose:
		return "Close"
	case ActionOpen:
		return "Open"
	case ActionToggle:
		return "Toggle"
	case ActionStop:
		return "Stop"
	default:
		return fmt.Sprintf("DoorAction(%d)", uint8(a))
	}
}

// LockState is the operation carried by a Lock packet.
type LockState uint8

const (
	LockOff LockState = iota
	LockOn
	LockToggle
)

func (s LockState) String() string {
	switch s {
	case LockOff:
		return "Off"
	case LockOn:
		return "On"
	case LockToggle:
		return "Toggle"
	default:
		return fmt.Sprintf("LockState(%d)", uint8(s))
	}
}

// LightState is the operation carried by a Light packet.
type LightState uint8

const (
	LightOff LightState = iota
	LightOn
	LightToggle
	LightToggle2
)

func (s LightState) String() string {
	switch s {
	case LightOff:
		return "Off"
	case LightOn:
		return "On"
	case LightToggle:
		return "Toggle"
	case LightToggle2:
		return "Toggle2"
	default:
		return fmt.Sprintf("LightState(%d)", uint8(s))
	}
}
