// Package client is the thin rendezvous client a node uses to register
// itself and discover peers through the presence server.
package client

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	log "github.com/sirupsen/logrus"

	"peerchat/helper/timer"
	"peerchat/net/framing"
	"peerchat/presence/protocol"
)

const (
	heartbeatInterval = 20 * time.Second
	dialTimeout       = 5 * time.Second
)

// Client talks to one presence server on behalf of one user.
type Client struct {
	username   string
	port       int // the user's chat listening port
	serverAddr string

	registered atomic.Bool
	stop       context.CancelFunc
	sg         singleflight.Group
}

func New(username string, port int, serverAddr string) *Client {
	return &Client{
		username:   username,
		port:       port,
		serverAddr: serverAddr,
	}
}

// Register announces the user to the presence server and, on success, starts
// the background heartbeat loop. The user's reachable address is derived from
// the register connection's own local endpoint, falling back to loopback when
// the OS reports the unspecified address.
func (c *Client) Register(ctx context.Context) error {
	conn, err := net.DialTimeout("tcp", c.serverAddr, dialTimeout)
	if err != nil {
		return fmt.Errorf("presence client: connect %s: %w", c.serverAddr, err)
	}
	defer conn.Close()

	address := "127.0.0.1"
	if tcpAddr, ok := conn.LocalAddr().(*net.TCPAddr); ok && !tcpAddr.IP.IsUnspecified() {
		address = tcpAddr.IP.String()
	}

	err = framing.Send(conn, &protocol.Request{
		Type:     protocol.TypeRegister,
		Username: c.username,
		Port:     c.port,
		Address:  address,
	})
	if err != nil {
		return fmt.Errorf("presence client: register: %w", err)
	}

	raw, err := framing.Receive(conn, framing.DefaultTimeout)
	if err != nil {
		return fmt.Errorf("presence client: register reply: %w", err)
	}
	resp, err := protocol.DecodeResponse(raw)
	if err != nil {
		return fmt.Errorf("presence client: register reply: %w", err)
	}
	if resp.Type != protocol.TypeRegisterResponse || !resp.Success {
		reason := resp.Reason
		if reason == "" {
			reason = "unknown error"
		}
		return fmt.Errorf("presence client: registration refused: %s", reason)
	}

	c.registered.Store(true)

	hctx, cancel := context.WithCancel(ctx)
	c.stop = cancel
	go func() {
		err := timer.RunWithTicker(hctx, timer.Interval{Duration: heartbeatInterval}, c.sendHeartbeat)
		log.Debugf("presence client: heartbeat loop stopped: %v", err)
	}()

	log.Infof("presence client: registered %s as %s:%d", c.username, address, c.port)
	return nil
}

// sendHeartbeat is best-effort: failures are logged and swallowed, never
// retried more aggressively.
func (c *Client) sendHeartbeat(context.Context) error {
	err := c.send(&protocol.Request{Type: protocol.TypeHeartbeat, Username: c.username})
	if err != nil {
		log.Warnf("presence client: heartbeat failed: %v", err)
	}
	return nil
}

// OnlineUsers queries the presence server and returns everyone except the
// caller. Concurrent calls collapse into a single query.
func (c *Client) OnlineUsers() ([]protocol.UserInfo, error) {
	v, err, _ := c.sg.Do("query", func() (any, error) {
		conn, err := net.DialTimeout("tcp", c.serverAddr, dialTimeout)
		if err != nil {
			return nil, fmt.Errorf("presence client: connect %s: %w", c.serverAddr, err)
		}
		defer conn.Close()

		if err := framing.Send(conn, &protocol.Request{Type: protocol.TypeQuery}); err != nil {
			return nil, fmt.Errorf("presence client: query: %w", err)
		}
		raw, err := framing.Receive(conn, framing.DefaultTimeout)
		if err != nil {
			return nil, fmt.Errorf("presence client: query reply: %w", err)
		}
		resp, err := protocol.DecodeResponse(raw)
		if err != nil {
			return nil, fmt.Errorf("presence client: query reply: %w", err)
		}
		if resp.Type != protocol.TypeOnlineUsers {
			return nil, fmt.Errorf("presence client: expected online_users, got %q", resp.Type)
		}

		users := make([]protocol.UserInfo, 0, len(resp.Users))
		for _, u := range resp.Users {
			if u.Username == c.username {
				continue
			}
			users = append(users, u)
		}
		return users, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]protocol.UserInfo), nil
}

// Unregister stops the heartbeat loop and best-effort removes the
// registration.
func (c *Client) Unregister() {
	if c.stop != nil {
		c.stop()
	}
	if !c.registered.CompareAndSwap(true, false) {
		return
	}

	if err := c.send(&protocol.Request{Type: protocol.TypeUnregister, Username: c.username}); err != nil {
		log.Warnf("presence client: unregister failed: %v", err)
		return
	}
	log.Infof("presence client: unregistered %s", c.username)
}

// send delivers one request over a fresh connection, expecting no reply.
func (c *Client) send(req *protocol.Request) error {
	conn, err := net.DialTimeout("tcp", c.serverAddr, dialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	return framing.Send(conn, req)
}
