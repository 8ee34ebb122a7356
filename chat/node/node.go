// Package node implements the per-process membership and messaging engine:
// it accepts peer connections, performs the join handshake, broadcasts chat
// text and tracks peer liveness.
package node

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	log "github.com/sirupsen/logrus"

	"peerchat/chat/protocol"
	"peerchat/helper/timer"
	"peerchat/net/framing"
)

const (
	monitorInterval = 10 * time.Second // liveness monitor cycle
	staleAfter      = 15 * time.Second // age past which a peer gets re-probed
	probeTimeout    = 5 * time.Second  // connect timeout for probes and sends
)

// Callbacks are the collaborator hooks the engine publishes to. Any of them
// may be nil.
type Callbacks struct {
	// Display receives human-readable text for the front end.
	Display func(text string)
	// Status receives peer status transitions.
	Status func(username string, status Status)
	// FileChunk receives file_chunk messages verbatim for the file-transfer
	// collaborator.
	FileChunk func(msg *protocol.Message)
}

// Node is a running chat engine instance.
type Node struct {
	Username string

	registry *Registry
	listener net.Listener
	port     int
	cb       Callbacks
	running  atomic.Bool
	sg       singleflight.Group
}

// New binds the listening socket and returns a ready-to-run node. A bind
// failure is returned to the caller and is fatal: the node has no identity
// without a listening port. Port 0 requests an OS-assigned port.
func New(username, host string, port int, cb Callbacks) (*Node, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("node: bind %s:%d: %w", host, port, err)
	}

	n := &Node{
		Username: username,
		registry: NewRegistry(),
		listener: l,
		port:     l.Addr().(*net.TCPAddr).Port,
		cb:       cb,
	}
	n.running.Store(true)

	log.Infof("node %q listening on %s", username, l.Addr())
	return n, nil
}

// Port returns the actual listening port.
func (n *Node) Port() int { return n.port }

// Peers returns a snapshot of the full registry.
func (n *Node) Peers() map[string]Peer { return n.registry.Snapshot() }

// OnlinePeers returns the subset of the registry currently marked online.
func (n *Node) OnlinePeers() map[string]Peer {
	out := make(map[string]Peer)
	for username, p := range n.registry.Snapshot() {
		if p.Status == StatusOnline {
			out[username] = p
		}
	}
	return out
}

// ObservePeer records out-of-band evidence of a peer, such as a multicast
// announcement. Known peers are touched; unknown ones are created online.
// Evidence about the local user is ignored.
func (n *Node) ObservePeer(username, address string, port int) {
	if username == n.Username {
		return
	}
	if prev, ok := n.registry.Touch(username, time.Now()); ok {
		if prev != StatusOnline {
			n.emitStatus(username, StatusOnline)
		}
		return
	}
	n.registry.Upsert(username, Peer{
		Address:  address,
		Port:     port,
		LastSeen: time.Now(),
		Status:   StatusOnline,
	})
	n.emitStatus(username, StatusOnline)
}

// Run serves inbound connections and drives the liveness monitor until the
// context is cancelled.
func (n *Node) Run(ctx context.Context) error {
	wg, cctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		return n.acceptLoop(cctx)
	})

	wg.Go(func() error {
		return timer.RunWithTicker(cctx, timer.Interval{Duration: monitorInterval}, n.probeStale)
	})

	return wg.Wait()
}

func (n *Node) acceptLoop(ctx context.Context) error {
	// Closing the listener is the only way to unblock Accept.
	go func() {
		<-ctx.Done()
		n.listener.Close()
	}()

	var tempDelay time.Duration
	for n.running.Load() {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if !n.running.Load() {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := time.Second; tempDelay > max {
					tempDelay = max
				}
				log.Warnf("node: accept error: %v; retrying in %v", err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0
		go n.handleConn(conn)
	}
	return nil
}

// SendTo opens a fresh connection to addr, delivers one message and closes.
// This is also the raw send primitive used by the file-transfer collaborator.
func (n *Node) SendTo(addr string, msg *protocol.Message) error {
	conn, err := net.DialTimeout("tcp", addr, probeTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	return framing.Send(conn, msg)
}

// Broadcast sends a chat message to every known peer over ephemeral
// connections. A failed send marks the peer offline; the entry is retained so
// a later heartbeat or probe can bring it back.
func (n *Node) Broadcast(text string) {
	msg := &protocol.Message{Type: protocol.TypeChat, Username: n.Username, Content: text}

	for username, peer := range n.registry.Snapshot() {
		if err := n.SendTo(peer.Addr(), msg); err != nil {
			n.notify(fmt.Sprintf("Error sending message to %s: %v", username, err))
			if prev, ok := n.registry.MarkOffline(username); ok && prev != StatusOffline {
				n.emitStatus(username, StatusOffline)
			}
		}
	}
}

// JoinNetwork joins an existing network through one known peer: a strict
// two-round-trip handshake (join/welcome, then request_peers/peer_list) over
// a single connection.
func (n *Node) JoinNetwork(host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, probeTimeout)
	if err != nil {
		return fmt.Errorf("node: join %s: %w", addr, err)
	}
	defer conn.Close()

	err = framing.Send(conn, &protocol.Message{
		Type:     protocol.TypeJoin,
		Username: n.Username,
		Port:     n.port,
	})
	if err != nil {
		return fmt.Errorf("node: join %s: %w", addr, err)
	}

	welcome, err := n.receiveReply(conn, protocol.TypeWelcome)
	if err != nil {
		return fmt.Errorf("node: join %s: %w", addr, err)
	}

	now := time.Now()
	n.registry.Upsert(welcome.Username, Peer{
		Address:  host,
		Port:     welcome.Port,
		LastSeen: now,
		Status:   StatusOnline,
	})
	n.emitStatus(welcome.Username, StatusOnline)
	n.notify(fmt.Sprintf("Successfully joined the network through %s.", welcome.Username))

	// Same connection: pull the acceptor's current peer snapshot.
	if err := framing.Send(conn, &protocol.Message{Type: protocol.TypeRequestPeers}); err != nil {
		return fmt.Errorf("node: request_peers %s: %w", addr, err)
	}
	peerList, err := n.receiveReply(conn, protocol.TypePeerList)
	if err != nil {
		return fmt.Errorf("node: request_peers %s: %w", addr, err)
	}

	for _, p := range peerList.Peers {
		if p.Username == n.Username {
			continue
		}
		n.registry.Upsert(p.Username, Peer{
			Address:  p.Address,
			Port:     p.Port,
			LastSeen: now,
			Status:   StatusOnline,
		})
	}
	n.notify(fmt.Sprintf("Received list of existing peers: %d peers found.", len(peerList.Peers)))
	return nil
}

func (n *Node) receiveReply(conn net.Conn, want string) (*protocol.Message, error) {
	raw, err := framing.Receive(conn, framing.DefaultTimeout)
	if err != nil {
		return nil, err
	}
	msg, err := protocol.Decode(raw)
	if err != nil {
		return nil, err
	}
	if msg.Type != want {
		return nil, fmt.Errorf("expected %s reply, got %q", want, msg.Type)
	}
	return msg, nil
}

// Disconnect leaves the network: best-effort leave fan-out to every peer,
// then the listening socket is closed to unblock the accept loop. Safe to
// call more than once.
func (n *Node) Disconnect() {
	if !n.running.CompareAndSwap(true, false) {
		return
	}

	msg := &protocol.Message{Type: protocol.TypeLeave, Username: n.Username}
	for username, peer := range n.registry.Snapshot() {
		if err := n.SendTo(peer.Addr(), msg); err != nil {
			log.Debugf("node: leave notification to %s failed: %v", username, err)
		}
	}

	n.listener.Close()
	log.Infof("node %q disconnected", n.Username)
}

func (n *Node) notify(text string) {
	if n.cb.Display != nil {
		n.cb.Display(text)
	}
}

func (n *Node) emitStatus(username string, status Status) {
	if n.cb.Status != nil {
		n.cb.Status(username, status)
	}
}
