package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"peerchat/presence/server"
	"peerchat/presence/store"
)

func startServer(t *testing.T) *server.Server {
	t.Helper()
	s, err := server.New("127.0.0.1", 0, store.NewMemory())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(func() {
		cancel()
		s.Stop()
	})
	return s
}

func TestRegisterAndDiscover(t *testing.T) {
	s := startServer(t)
	ctx := context.Background()

	alice := New("alice", 9001, s.Addr().String())
	require.NoError(t, alice.Register(ctx))
	defer alice.Unregister()

	// Alice filters herself out of the result.
	users, err := alice.OnlineUsers()
	require.NoError(t, err)
	require.Empty(t, users)

	bob := New("bob", 9002, s.Addr().String())
	require.NoError(t, bob.Register(ctx))
	defer bob.Unregister()

	users, err = alice.OnlineUsers()
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, "bob", users[0].Username)
	require.Equal(t, 9002, users[0].Port)
	// The address was derived from bob's register connection.
	require.Equal(t, "127.0.0.1", users[0].Address)
}

func TestRegisterRefusedOnMissingPort(t *testing.T) {
	s := startServer(t)

	c := New("alice", 0, s.Addr().String())
	err := c.Register(context.Background())
	require.ErrorContains(t, err, "missing required fields")
}

func TestRegisterUnreachableServer(t *testing.T) {
	c := New("alice", 9001, "127.0.0.1:1") // nothing listens there
	require.Error(t, c.Register(context.Background()))
}
