// Package codec implements the length-prefixed, checksummed framing
// protocol used by every transport listener.
//
// Wire layout, little-endian unless stated:
//
//	+--------+--------------+-------------------+-------------+
//	| Header | PayloadLen   | Payload            | Checksum    |
//	| 1 + 3  | 4 bytes      | PayloadLen bytes   | 2 bytes     |
//	+--------+--------------+-------------------+-------------+
//	Header = Version(1 byte) || Reserved(3 bytes zero)
//
// PayloadLen and Checksum are big-endian on the wire, matching the
// teacher's tcp_sender/tcp_receiver length-prefix convention
// (internal/transport/tcp_sender.go writes lengths with binary.BigEndian).
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/deb2000-sudo/connrelay/pkg/models"
)

const (
	headerSize   = 4 // version(1) + reserved(3)
	lengthSize   = 4
	checksumSize = 2
)

// Sentinel frame errors. Wrap with fmt.Errorf("...: %w", ...) at call sites
// when more context is useful; callers match with errors.Is.
var (
	ErrVersionUnsupported = errors.New("codec: unsupported protocol version")
	ErrLengthExceedsLimit = errors.New("codec: payload length exceeds configured limit")
	ErrChecksumMismatch   = errors.New("codec: checksum mismatch")
	ErrShortRead          = errors.New("codec: short read")
)

// Serializer converts a Message to/from the payload bytes carried in a
// frame. Pluggable; the default implementation is JSON, matching
// encoding/json use throughout internal/transport.
type Serializer interface {
	Marshal(m *models.Message) ([]byte, error)
	Unmarshal(data []byte, m *models.Message) error
}

// ChecksumCalculator computes a checksum over arbitrary bytes. Pluggable;
// the default is a 16-bit fold of CRC-32-IEEE.
type ChecksumCalculator interface {
	Checksum(data []byte) uint16
}

// Config holds the limits and plugins a Codec is constructed with. These
// are supplied explicitly by the caller rather than read from a global
// singleton; callers build a Codec from it with New and hand that Codec to
// the transport listeners.
type Config struct {
	AcceptedVersions []uint8
	MaxPacketSize    uint32
	Serializer       Serializer
	Checksum         ChecksumCalculator
}

// DefaultConfig returns the configuration used when a caller does not
// supply its own: JSON payloads, CRC16 checksums, versions {0x01, 0x02},
// 128MiB cap.
func DefaultConfig() Config {
	return Config{
		AcceptedVersions: []uint8{0x01, 0x02},
		MaxPacketSize:    128 * 1024 * 1024,
		Serializer:       JSONSerializer{},
		Checksum:         CRC16{},
	}
}

func (c *Config) normalize() {
	if len(c.AcceptedVersions) == 0 {
		c.AcceptedVersions = []uint8{0x01, 0x02}
	}
	if c.MaxPacketSize == 0 {
		c.MaxPacketSize = 128 * 1024 * 1024
	}
	if c.Serializer == nil {
		c.Serializer = JSONSerializer{}
	}
	if c.Checksum == nil {
		c.Checksum = CRC16{}
	}
}

func (c *Config) acceptsVersion(v uint8) bool {
	for _, accepted := range c.AcceptedVersions {
		if accepted == v {
			return true
		}
	}
	return false
}

// Codec encodes and decodes framed packets using the configured serializer
// and checksum calculator. It is safe for concurrent use: all state lives
// in the immutable Config.
type Codec struct {
	cfg Config
}

// New constructs a Codec from cfg, filling unset fields with defaults.
func New(cfg Config) *Codec {
	cfg.normalize()
	return &Codec{cfg: cfg}
}

// Encode serializes msg into a length-prefixed, checksummed frame ready to
// write to a transport.
func (c *Codec) Encode(version uint8, msg *models.Message) ([]byte, error) {
	payload, err := c.cfg.Serializer.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("codec encode: marshal payload: %w", err)
	}
	if uint32(len(payload)) > c.cfg.MaxPacketSize {
		return nil, ErrLengthExceedsLimit
	}

	buf := make([]byte, headerSize+lengthSize+len(payload)+checksumSize)
	buf[0] = version
	// buf[1:4] reserved, left zero
	binary.BigEndian.PutUint32(buf[headerSize:headerSize+lengthSize], uint32(len(payload)))
	copy(buf[headerSize+lengthSize:], payload)

	sum := c.cfg.Checksum.Checksum(buf[:headerSize+lengthSize+len(payload)])
	binary.BigEndian.PutUint16(buf[len(buf)-checksumSize:], sum)

	return buf, nil
}

// Decode reads exactly one frame from r: the read loop uses a "read exactly
// N bytes" strategy (io.ReadFull), since a zero-length read is a clean
// remote close and a partial read must keep looping rather than be treated
// as EOF. The second return value is the total on-wire length of the frame
// just consumed (via FrameLen), so callers can account bytes-in without
// re-marshaling the message.
func (c *Codec) Decode(r io.Reader) (*models.Message, int, error) {
	head := make([]byte, headerSize+lengthSize)
	if _, err := io.ReadFull(r, head); err != nil {
		if err == io.EOF {
			return nil, 0, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return nil, 0, fmt.Errorf("%w: %v", ErrShortRead, err)
		}
		return nil, 0, err
	}

	version := head[0]
	if !c.cfg.acceptsVersion(version) {
		return nil, 0, ErrVersionUnsupported
	}

	payloadLen := binary.BigEndian.Uint32(head[headerSize:])
	if payloadLen > c.cfg.MaxPacketSize {
		return nil, 0, ErrLengthExceedsLimit
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, 0, fmt.Errorf("%w: payload: %v", ErrShortRead, err)
	}

	checksumBytes := make([]byte, checksumSize)
	if _, err := io.ReadFull(r, checksumBytes); err != nil {
		return nil, 0, fmt.Errorf("%w: checksum: %v", ErrShortRead, err)
	}
	wantSum := binary.BigEndian.Uint16(checksumBytes)

	gotSum := c.cfg.Checksum.Checksum(append(head, payload...))
	if gotSum != wantSum {
		return nil, 0, ErrChecksumMismatch
	}

	var msg models.Message
	if err := c.cfg.Serializer.Unmarshal(payload, &msg); err != nil {
		return nil, 0, fmt.Errorf("codec decode: unmarshal payload: %w", err)
	}
	return &msg, FrameLen(int(payloadLen)), nil
}

// FrameLen returns the total on-wire length of a frame carrying a payload of
// the given length, for callers that need to account bytes consumed on a
// failed decode without re-parsing.
func FrameLen(payloadLen int) int {
	return headerSize + lengthSize + payloadLen + checksumSize
}
