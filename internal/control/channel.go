// Package control implements the TCP control channel: a thin framing
// layer on top of a net.Conn that reads exactly one protocol.Message per
// Receive call and writes exactly one message per Send call.
package control

import (
	"io"
	"net"

	"github.com/pkg/errors"

	"github.com/luiz787/udp-file-transfer/internal/protocol"
)

// bufSize is the control channel's read buffer. It bounds the largest
// single message this channel can receive in one call.
const bufSize = 1024

// ErrClosed is returned by Receive when the peer has closed its side of
// the connection (a zero-byte read).
var ErrClosed = errors.New("control channel closed")

// Channel is owned exclusively by the session worker that created it; it
// is not safe for concurrent use by multiple goroutines.
type Channel struct {
	conn net.Conn
	buf  []byte
}

// New wraps conn in a Channel. conn is not closed by the Channel; the
// caller remains responsible for its lifecycle.
func New(conn net.Conn) *Channel {
	return &Channel{conn: conn, buf: make([]byte, bufSize)}
}

// Receive reads one message off the underlying connection. A zero-byte
// read, whatever error comes with it, or io.EOF (peer close) returns
// ErrClosed; a real net.Conn delivers a close as (0, io.EOF) rather than
// (0, nil), so both must be checked. Any other read error (one that comes
// with a non-zero byte count) is returned wrapped with context. A successfully
// read but malformed message returns the protocol package's Logic error,
// wrapped with context.
func (c *Channel) Receive() (protocol.Message, error) {
	n, err := c.conn.Read(c.buf)
	if n == 0 || errors.Is(err, io.EOF) {
		return nil, ErrClosed
	}
	if err != nil {
		return nil, errors.Wrap(err, "control channel read")
	}
	msg, err := protocol.Decode(c.buf, n)
	if err != nil {
		return nil, errors.Wrap(err, "control channel decode")
	}
	return msg, nil
}

// Send writes one message's encoding in a single Write call.
func (c *Channel) Send(msg protocol.Message) (int, error) {
	encoded := msg.Encode()
	n, err := c.conn.Write(encoded)
	if err != nil {
		return n, errors.Wrap(err, "control channel write")
	}
	return n, nil
}

// Close closes the underlying connection.
func (c *Channel) Close() error {
	return c.conn.Close()
}

// RemoteAddr returns the underlying connection's remote address.
func (c *Channel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
