package node

import (
	"context"
	"fmt"
	"net"
	"time"

	"peerchat/chat/protocol"
	"peerchat/net/framing"
)

// probeStale is the liveness monitor body, run every monitorInterval. Fresh
// entries are skipped; each stale one gets an out-of-band heartbeat probe on
// its own goroutine so one unreachable peer cannot delay the rest of the
// cycle. singleflight collapses a probe that is still in flight when the next
// cycle finds the same peer stale again.
func (n *Node) probeStale(context.Context) error {
	now := time.Now()

	for username, peer := range n.registry.Snapshot() {
		if now.Sub(peer.LastSeen) <= staleAfter {
			continue
		}
		username, peer := username, peer
		go func() {
			n.sg.Do(username, func() (any, error) {
				n.probe(username, peer)
				return nil, nil
			})
		}()
	}
	return nil
}

// probe re-validates one stale peer. Success forces the peer online and
// advances LastSeen; any failure marks it offline but never deletes the
// entry - only an explicit leave does that.
func (n *Node) probe(username string, peer Peer) {
	conn, err := net.DialTimeout("tcp", peer.Addr(), probeTimeout)
	if err == nil {
		err = framing.Send(conn, &protocol.Message{
			Type:     protocol.TypeHeartbeat,
			Username: n.Username,
		})
		conn.Close()
	}

	if err != nil {
		if prev, ok := n.registry.MarkOffline(username); ok && prev != StatusOffline {
			n.notify(fmt.Sprintf("%s appears to be offline.", username))
			n.emitStatus(username, StatusOffline)
		}
		return
	}

	if prev, ok := n.registry.Touch(username, time.Now()); ok && prev != StatusOnline {
		n.emitStatus(username, StatusOnline)
	}
}
