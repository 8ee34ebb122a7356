// Package framing implements the length-prefixed wire format shared by the
// chat and presence protocols: a 4-byte big-endian length followed by that
// many bytes of UTF-8 JSON text.
package framing

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"
)

const (
	// MaxMessageSize caps the declared payload length. A prefix above this is
	// a protocol violation and the connection must be dropped without reading
	// the body.
	MaxMessageSize = 100 << 20

	// DefaultTimeout is the read timeout for a single framed message.
	DefaultTimeout = 10 * time.Second
)

// ErrOversized is returned when a length prefix declares more than
// MaxMessageSize bytes.
var ErrOversized = fmt.Errorf("framing: message exceeds %d bytes", MaxMessageSize)

// Send marshals v to JSON and writes it with its length prefix. Prefix and
// body go out in a single Write so they cannot be observed interleaved on a
// stream shared between goroutines.
func Send(conn net.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("framing: marshal: %w", err)
	}

	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)

	if _, err := conn.Write(buf); err != nil {
		return fmt.Errorf("framing: write: %w", err)
	}
	return nil
}

// Receive reads one framed message and returns the raw payload bytes.
// A clean peer close before any prefix byte yields io.EOF; a truncated prefix
// or body yields io.ErrUnexpectedEOF. The read deadline is cleared before
// returning so the connection can be reused for a later blocking read.
func Receive(conn net.Conn, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
		defer conn.SetReadDeadline(time.Time{})
	}

	var prefix [4]byte
	if _, err := io.ReadFull(conn, prefix[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length > MaxMessageSize {
		return nil, ErrOversized
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(conn, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}
