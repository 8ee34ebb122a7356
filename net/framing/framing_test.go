package framing

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testMsg struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

func TestRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	sent := testMsg{Type: "chat", Content: "hello, world"}
	go func() {
		if err := Send(a, &sent); err != nil {
			t.Errorf("Send: %v", err)
		}
	}()

	raw, err := Receive(b, DefaultTimeout)
	require.NoError(t, err)

	var got testMsg
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, sent, got)
}

func TestCleanCloseReturnsEOF(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	go a.Close()

	_, err := Receive(b, DefaultTimeout)
	require.ErrorIs(t, err, io.EOF)
}

func TestTruncatedPrefix(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	go func() {
		a.Write([]byte{0x00, 0x01})
		a.Close()
	}()

	_, err := Receive(b, DefaultTimeout)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestOversizedLengthDropsWithoutReading(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], 200<<20)
	go a.Write(prefix[:])

	// The declared 200 MiB body is never written; Receive must still return
	// promptly because it rejects the prefix before reading the body.
	_, err := Receive(b, time.Second)
	require.ErrorIs(t, err, ErrOversized)
}

func TestTruncatedBody(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	go func() {
		var prefix [4]byte
		binary.BigEndian.PutUint32(prefix[:], 10)
		a.Write(prefix[:])
		a.Write([]byte("abc"))
		a.Close()
	}()

	_, err := Receive(b, DefaultTimeout)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReceiveTimeout(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	_, err := Receive(b, 50*time.Millisecond)
	require.Error(t, err)
	ne, ok := err.(net.Error)
	require.True(t, ok, "expected a net.Error, got %T", err)
	require.True(t, ne.Timeout())
}
