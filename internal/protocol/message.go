// Package protocol implements the wire codec shared by the server and
// client: parsing and serializing the seven message kinds that make up
// the control-channel and data-channel protocol.
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// Kind is the single byte at offset 1 that identifies a message's payload
// layout. Offset 0 is always the constant zero byte.
type Kind byte

const (
	KindHello      Kind = 1
	KindConnection Kind = 2
	KindInfoFile   Kind = 3
	KindOk         Kind = 4
	KindEnd        Kind = 5
	KindFile       Kind = 6
	KindAck        Kind = 7
)

// NameFieldSize is the fixed width, in bytes, of the zero-padded filename
// field in an InfoFile message.
const NameFieldSize = 15

// Sentinel Logic errors from the codec. Use errors.Is to test for these;
// errors returned by Decode wrap one of them with positional context.
var (
	ErrTooShort    = errors.New("message too short")
	ErrUnknownKind = errors.New("unknown message kind")
	ErrMalformed   = errors.New("malformed message")
)

// Message is implemented by every concrete message type. Encode returns
// the wire representation, leading zero byte included.
type Message interface {
	Kind() Kind
	Encode() []byte
}

type Hello struct{}

func (Hello) Kind() Kind    { return KindHello }
func (Hello) Encode() []byte { return []byte{0, byte(KindHello)} }

type Connection struct {
	Port uint32
}

func (Connection) Kind() Kind { return KindConnection }
func (c Connection) Encode() []byte {
	buf := make([]byte, 6)
	buf[1] = byte(KindConnection)
	binary.BigEndian.PutUint32(buf[2:6], c.Port)
	return buf
}

// InfoFile carries the uploaded file's metadata: a name truncated/padded
// to NameFieldSize bytes and a 64-bit size.
type InfoFile struct {
	Filename string
	FileSize uint64
}

func (InfoFile) Kind() Kind { return KindInfoFile }
func (i InfoFile) Encode() []byte {
	buf := make([]byte, 25)
	buf[1] = byte(KindInfoFile)
	name := []byte(i.Filename)
	if len(name) > NameFieldSize {
		name = name[:NameFieldSize]
	}
	// Left-pad with zero bytes: the name occupies the tail of the field.
	copy(buf[2+NameFieldSize-len(name):2+NameFieldSize], name)
	binary.BigEndian.PutUint64(buf[17:25], i.FileSize)
	return buf
}

type Ok struct{}

func (Ok) Kind() Kind    { return KindOk }
func (Ok) Encode() []byte { return []byte{0, byte(KindOk)} }

type End struct{}

func (End) Kind() Kind    { return KindEnd }
func (End) Encode() []byte { return []byte{0, byte(KindEnd)} }

// File carries one chunk of the upload. Len must equal len(Data); Decode
// validates this invariant even though it trusts the transport-reported
// datagram length when slicing Data out of the buffer.
type File struct {
	Seq  uint32
	Len  uint16
	Data []byte
}

func (File) Kind() Kind { return KindFile }
func (f File) Encode() []byte {
	buf := make([]byte, 8+len(f.Data))
	buf[1] = byte(KindFile)
	binary.BigEndian.PutUint32(buf[2:6], f.Seq)
	binary.BigEndian.PutUint16(buf[6:8], f.Len)
	copy(buf[8:], f.Data)
	return buf
}

type Ack struct {
	Seq uint32
}

func (Ack) Kind() Kind { return KindAck }
func (a Ack) Encode() []byte {
	buf := make([]byte, 6)
	buf[1] = byte(KindAck)
	binary.BigEndian.PutUint32(buf[2:6], a.Seq)
	return buf
}

// Decode parses the first n bytes of buf into a Message. n is the number
// of bytes actually read off the transport (a UDP datagram length or a
// TCP Read's return value), which may be smaller than len(buf).
func Decode(buf []byte, n int) (Message, error) {
	if n < 2 {
		return nil, errors.Wrapf(ErrTooShort, "need at least 2 bytes, got %d", n)
	}
	bs := buf[:n]
	kind := Kind(bs[1])
	switch kind {
	case KindHello:
		return Hello{}, nil
	case KindConnection:
		if n < 6 {
			return nil, errors.Wrapf(ErrTooShort, "connection message needs 6 bytes, got %d", n)
		}
		return Connection{Port: binary.BigEndian.Uint32(bs[2:6])}, nil
	case KindInfoFile:
		if n < 25 {
			return nil, errors.Wrapf(ErrTooShort, "info_file message needs 25 bytes, got %d", n)
		}
		nameField := bs[2:17]
		// Encode left-pads the name, so strip the leading padding as well
		// as any trailing NULs.
		trimmed := bytes.TrimLeft(trimTrailingNuls(nameField), "\x00")
		if !utf8.Valid(trimmed) || !isASCII(trimmed) {
			return nil, errors.Wrapf(ErrMalformed, "filename field is not valid ASCII")
		}
		size := binary.BigEndian.Uint64(bs[17:25])
		return InfoFile{Filename: string(trimmed), FileSize: size}, nil
	case KindOk:
		return Ok{}, nil
	case KindEnd:
		return End{}, nil
	case KindFile:
		if n < 8 {
			return nil, errors.Wrapf(ErrTooShort, "file message needs at least 8 bytes, got %d", n)
		}
		seq := binary.BigEndian.Uint32(bs[2:6])
		lenField := binary.BigEndian.Uint16(bs[6:8])
		data := bs[8:n]
		if int(lenField) != len(data) {
			return nil, errors.Wrapf(ErrMalformed, "file len field %d does not match data length %d", lenField, len(data))
		}
		// Copy out: bs aliases a caller-owned buffer that will be reused.
		owned := make([]byte, len(data))
		copy(owned, data)
		return File{Seq: seq, Len: lenField, Data: owned}, nil
	case KindAck:
		if n < 6 {
			return nil, errors.Wrapf(ErrTooShort, "ack message needs 6 bytes, got %d", n)
		}
		return Ack{Seq: binary.BigEndian.Uint32(bs[2:6])}, nil
	default:
		return nil, errors.Wrapf(ErrUnknownKind, "kind byte 0x%02x", byte(kind))
	}
}

func trimTrailingNuls(b []byte) []byte {
	i := len(b)
	for i > 0 && b[i-1] == 0 {
		i--
	}
	return b[:i]
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c > 127 {
			return false
		}
	}
	return true
}

// String is a debugging aid, not part of the wire contract.
func (f File) String() string {
	return fmt.Sprintf("File{seq=%d len=%d}", f.Seq, f.Len)
}
