//go:build unix

package erspan

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Tunnel header layout. All fields are big-endian.
//
//	GRE (8 bytes)
//	 0  2  flags            0x1000 (S bit, sequence present)
//	 2  2  protocol         0x22EB (ERSPAN Type III)
//	 4  4  sequence
//
//	ERSPAN Type III (12 bytes)
//	 8  2  ver(4) | vlan(12)              ver = 2, vlan = 0
//	10  2  cos(3) | bso(2) | t(1) | span(10)
//	12  4  timestamp                      100 microsecond ticks
//	16  2  security group tag
//	18  2  p(1) | ft(5) | hwid(6) | d(1) | gra(2) | o(1)
const (
	GREHeaderLength    = 8
	ERSPANHeaderLength = 12
	HeaderLength       = GREHeaderLength + ERSPANHeaderLength

	// MaxFrameLength is the largest captured frame carried in one datagram. Longer frames are truncated.
	MaxFrameLength = 65535

	// EthernetTypeERSPANType3 is the GRE protocol type of ERSPAN Type III.
	EthernetTypeERSPANType3 = 0x22eb

	greFlagsSequence = 0x1000
	erspanVersion    = 2

	maxSpanID     = 0x03ff
	maxHardwareID = 0x3f

	timestampTick = 100 * time.Microsecond
)

const (
	offsetGREFlags    = 0
	offsetGREProtocol = 2
	offsetSequence    = 4
	offsetVersionVLAN = 8
	offsetSpanID      = 10
	offsetTimestamp   = 12
	offsetSGT         = 16
	offsetHardwareID  = 18
)

// Header is the decoded form of a GRE + ERSPAN Type III header pair.
type Header struct {
	GREFlags    uint16
	GREProtocol uint16
	Sequence    uint32

	Version          uint8
	VLAN             uint16
	COS              uint8
	BSO              uint8
	Truncated        bool
	SpanID           uint16
	Timestamp        uint32
	SecurityGroupTag uint16
	Platform         bool
	FrameType        uint8
	HardwareID       uint8
	Direction        bool
	Granularity      uint8
	Optional         bool
}

// BuildHeader serializes the tunnel header into the front of buf and returns the header length.
func BuildHeader(buf []byte, seq uint32, spanID, securityGroupTag uint16, hardwareID uint8) (int, error) {
	if len(buf) < HeaderLength {
		return 0, errors.Wrapf(ErrBufferTooShort, "got %d bytes", len(buf))
	}
	if spanID > maxSpanID {
		return 0, errors.Wrapf(ErrOutOfRange, "span ID %d does not fit in 10 bits", spanID)
	}
	if hardwareID > maxHardwareID {
		return 0, errors.Wrapf(ErrOutOfRange, "hardware ID %d does not fit in 6 bits", hardwareID)
	}

	binary.BigEndian.PutUint16(buf[offsetGREFlags:], greFlagsSequence)
	binary.BigEndian.PutUint16(buf[offsetGREProtocol:], EthernetTypeERSPANType3)
	binary.BigEndian.PutUint32(buf[offsetSequence:], seq)

	binary.BigEndian.PutUint16(buf[offsetVersionVLAN:], erspanVersion<<12)
	binary.BigEndian.PutUint16(buf[offsetSpanID:], spanID)
	binary.BigEndian.PutUint32(buf[offsetTimestamp:], 0)
	binary.BigEndian.PutUint16(buf[offsetSGT:], securityGroupTag)
	binary.BigEndian.PutUint16(buf[offsetHardwareID:], uint16(hardwareID)<<4)

	return HeaderLength, nil
}

// UpdateHeader advances the sequence field and/or rewrites the timestamp
// field of an already serialized header in place. No other byte is touched.
func UpdateHeader(buf []byte, enableSequence, enableTimestamp bool, start, now time.Time) {
	if enableSequence {
		seq := binary.BigEndian.Uint32(buf[offsetSequence:])
		binary.BigEndian.PutUint32(buf[offsetSequence:], seq+1)
	}
	if enableTimestamp {
		binary.BigEndian.PutUint32(buf[offsetTimestamp:], timestampTicks(start, now))
	}
}

// timestampTicks truncates to whole microseconds first, then to 100 microsecond ticks.
func timestampTicks(start, now time.Time) uint32 {
	elapsed := now.Sub(start).Microseconds()
	return uint32(elapsed / 100)
}

// ParseHeader decodes the tunnel header at the front of raw.
func ParseHeader(raw []byte) (*Header, error) {
	if len(raw) < HeaderLength {
		return nil, fmt.Errorf("Too short data for GRE/ERSPAN header: %d", len(raw))
	}

	verVLAN := binary.BigEndian.Uint16(raw[offsetVersionVLAN:])
	span := binary.BigEndian.Uint16(raw[offsetSpanID:])
	hw := binary.BigEndian.Uint16(raw[offsetHardwareID:])

	hdr := Header{
		GREFlags:    binary.BigEndian.Uint16(raw[offsetGREFlags:]),
		GREProtocol: binary.BigEndian.Uint16(raw[offsetGREProtocol:]),
		Sequence:    binary.BigEndian.Uint32(raw[offsetSequence:]),

		Version:          uint8(verVLAN >> 12),
		VLAN:             verVLAN & 0x0fff,
		COS:              uint8(span >> 13),
		BSO:              uint8(span>>11) & 0x03,
		Truncated:        span&0x0400 != 0,
		SpanID:           span & maxSpanID,
		Timestamp:        binary.BigEndian.Uint32(raw[offsetTimestamp:]),
		SecurityGroupTag: binary.BigEndian.Uint16(raw[offsetSGT:]),
		Platform:         hw&0x8000 != 0,
		FrameType:        uint8(hw>>10) & 0x1f,
		HardwareID:       uint8(hw>>4) & maxHardwareID,
		Direction:        hw&0x0008 != 0,
		Granularity:      uint8(hw>>1) & 0x03,
		Optional:         hw&0x0001 != 0,
	}

	return &hdr, nil
}
