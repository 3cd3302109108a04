package secplus

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Codec turns logical packets into wire frames and back. The proprietary
// rolling-code bit format lives behind this interface.
type Codec interface {
	Encode(p Packet, counter uint32) ([]byte, error)
	Decode(frame []byte) (Decoded, error)
}

// Reader accumulates bytes from the line until a whole frame is seen.
// It is not safe for concurrent use.
type Reader struct {
	window  uint32
	reading bool
	buf     [FrameLen]byte
	n       int
}

// NewReader returns a reader waiting for a preamble.
func NewReader() *Reader {
	return &Reader{}
}

// PushByte feeds one byte. It returns a copy of the frame and true when the
// byte completes a frame, after which the reader starts hunting again.
func (r *Reader) PushByte(b byte) ([]byte, bool) {
	if !r.reading {
		r.window = (r.window<<8 | uint32(b)) & 0xffffff
		if r.window == uint32(Preamble[0])<<16|uint32(Preamble[1])<<8|uint32(Preamble[2]) {
			copy(r.buf[:], Preamble[:])
			r.n = len(Preamble)
			r.reading = true
		}
		return nil, false
	}

	r.buf[r.n] = b
	r.n++
	if r.n < FrameLen {
		return nil, false
	}

	frame := make([]byte, FrameLen)
	copy(frame, r.buf[:])
	r.Reset()
	return frame, true
}

// Reset drops any partial frame.
func (r *Reader) Reset() {
	r.window = 0
	r.reading = false
	r.n = 0
}

// PlainCodec is a development codec with the Security+2.0 frame shape but a
// plain little-endian body and a CRC-32 derived check word. The simulator and
// tests speak it; real hardware needs the rolling-code codec.
//
//	0..2   preamble 55 01 00
//	3..6   counter
//	7..10  device id
//	11..12 command
//	13..16 data word
//	17..18 low 16 bits of CRC-32/IEEE over bytes 0..16
type PlainCodec struct{}

// Encode implements Codec.
func (PlainCodec) Encode(p Packet, counter uint32) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	w, err := p.Payload.word()
	if err != nil {
		return nil, err
	}

	frame := make([]byte, FrameLen)
	copy(frame, Preamble[:])
	binary.LittleEndian.PutUint32(frame[3:7], counter)
	binary.LittleEndian.PutUint32(frame[7:11], p.DeviceID)
	binary.LittleEndian.PutUint16(frame[11:13], uint16(p.Command)&0x0fff)
	binary.LittleEndian.PutUint32(frame[13:17], w)
	binary.LittleEndian.PutUint16(frame[17:19], uint16(crc32.ChecksumIEEE(frame[:17])))
	return frame, nil
}

// Decode implements Codec.
func (PlainCodec) Decode(frame []byte) (Decoded, error) {
	if len(frame) != FrameLen {
		return Decoded{}, fmt.Errorf("%w: length %d", ErrDecode, len(frame))
	}
	if frame[0] != Preamble[0] || frame[1] != Preamble[1] || frame[2] != Preamble[2] {
		return Decoded{}, fmt.Errorf("%w: bad preamble", ErrDecode)
	}
	if got, want := binary.LittleEndian.Uint16(frame[17:19]), uint16(crc32.ChecksumIEEE(frame[:17])); got != want {
		return Decoded{}, fmt.Errorf("%w: check word %04x, want %04x", ErrDecode, got, want)
	}

	cmd := Command(binary.LittleEndian.Uint16(frame[11:13]) & 0x0fff)
	return Decoded{
		Packet: Packet{
			Command:  cmd,
			Payload:  PayloadFor(cmd, binary.LittleEndian.Uint32(frame[13:17])),
			DeviceID: binary.LittleEndian.Uint32(frame[7:11]),
		},
		Counter: binary.LittleEndian.Uint32(frame[3:7]),
	}, nil
}
