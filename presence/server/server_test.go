package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"peerchat/net/framing"
	"peerchat/presence/protocol"
	"peerchat/presence/store"
)

func startServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	users := store.NewMemory()
	s, err := New("127.0.0.1", 0, users)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(func() {
		cancel()
		s.Stop()
	})
	return s, users
}

// roundTrip sends one request and returns the decoded reply, or nil when the
// request type has no reply.
func roundTrip(t *testing.T, s *Server, req *protocol.Request, wantReply bool) *protocol.Response {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, framing.Send(conn, req))
	if !wantReply {
		return nil
	}

	raw, err := framing.Receive(conn, framing.DefaultTimeout)
	require.NoError(t, err)
	resp, err := protocol.DecodeResponse(raw)
	require.NoError(t, err)
	return resp
}

func TestRegisterAndQuery(t *testing.T) {
	s, _ := startServer(t)

	resp := roundTrip(t, s, &protocol.Request{
		Type:     protocol.TypeRegister,
		Username: "alice",
		Port:     9001,
		Address:  "10.0.0.5",
	}, true)
	require.Equal(t, protocol.TypeRegisterResponse, resp.Type)
	require.True(t, resp.Success)

	resp = roundTrip(t, s, &protocol.Request{Type: protocol.TypeQuery}, true)
	require.Equal(t, protocol.TypeOnlineUsers, resp.Type)
	require.Equal(t, []protocol.UserInfo{{Username: "alice", Address: "10.0.0.5", Port: 9001}}, resp.Users)
}

func TestRegisterMissingFields(t *testing.T) {
	s, _ := startServer(t)

	resp := roundTrip(t, s, &protocol.Request{Type: protocol.TypeRegister, Username: "alice"}, true)
	require.False(t, resp.Success)
	require.Equal(t, "missing required fields", resp.Reason)

	resp = roundTrip(t, s, &protocol.Request{Type: protocol.TypeQuery}, true)
	require.Empty(t, resp.Users)
}

func TestHeartbeatTouchesOnlyRegisteredUsers(t *testing.T) {
	s, users := startServer(t)

	then := time.Now().Add(-time.Minute)
	require.NoError(t, users.Put("alice", store.Registration{Address: "10.0.0.5", Port: 9001, LastSeen: then}))

	roundTrip(t, s, &protocol.Request{Type: protocol.TypeHeartbeat, Username: "alice"}, false)
	require.Eventually(t, func() bool {
		reg, err := users.Get("alice")
		return err == nil && reg.LastSeen.After(then)
	}, 2*time.Second, 20*time.Millisecond)

	// A heartbeat from an unknown user never creates a registration.
	roundTrip(t, s, &protocol.Request{Type: protocol.TypeHeartbeat, Username: "stranger"}, false)
	time.Sleep(100 * time.Millisecond)
	_, err := users.Get("stranger")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestUnregister(t *testing.T) {
	s, users := startServer(t)
	require.NoError(t, users.Put("alice", store.Registration{Address: "10.0.0.5", Port: 9001, LastSeen: time.Now()}))

	roundTrip(t, s, &protocol.Request{Type: protocol.TypeUnregister, Username: "alice"}, false)

	require.Eventually(t, func() bool {
		_, err := users.Get("alice")
		return err == store.ErrNotFound
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSweepDeletesStaleEntries(t *testing.T) {
	s, users := startServer(t)

	now := time.Now()
	require.NoError(t, users.Put("stale", store.Registration{Address: "10.0.0.5", Port: 9001, LastSeen: now.Add(-2 * time.Minute)}))
	require.NoError(t, users.Put("fresh", store.Registration{Address: "10.0.0.6", Port: 9002, LastSeen: now}))

	s.sweepOnce(now)

	_, err := users.Get("stale")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = users.Get("fresh")
	require.NoError(t, err)
}
