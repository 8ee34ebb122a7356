package node

import (
	"fmt"
	"io"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"peerchat/chat/protocol"
	"peerchat/net/framing"
)

// handleConn serves one inbound connection. A peer may send several messages
// over the same connection (the join handshake does); each one is decoded,
// validated and dispatched in turn. Any framing or protocol error ends the
// connection.
func (n *Node) handleConn(conn net.Conn) {
	defer conn.Close()

	sourceAddr, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		log.Errorf("node: unparseable remote address %q: %v", conn.RemoteAddr(), err)
		return
	}

	// Username observed on this connection, used to exclude the requester
	// from peer_list replies.
	var remoteUser string

	for n.running.Load() {
		raw, err := framing.Receive(conn, framing.DefaultTimeout)
		if err != nil {
			if err != io.EOF {
				log.Debugf("node: connection from %s ended: %v", conn.RemoteAddr(), err)
			}
			return
		}

		msg, err := protocol.Decode(raw)
		if err != nil {
			log.Warnf("node: dropping connection from %s: %v", conn.RemoteAddr(), err)
			return
		}
		if msg.Username != "" {
			remoteUser = msg.Username
		}

		n.dispatch(conn, sourceAddr, remoteUser, msg)
	}
}

func (n *Node) dispatch(conn net.Conn, sourceAddr, remoteUser string, msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeJoin:
		// The joiner's reachable address is the connection's observed source
		// IP; the payload only supplies its listening port.
		n.registry.Upsert(msg.Username, Peer{
			Address:  sourceAddr,
			Port:     msg.Port,
			LastSeen: time.Now(),
			Status:   StatusOnline,
		})
		err := framing.Send(conn, &protocol.Message{
			Type:     protocol.TypeWelcome,
			Username: n.Username,
			Port:     n.port,
		})
		if err != nil {
			log.Warnf("node: welcome to %s failed: %v", msg.Username, err)
		}
		n.notify(fmt.Sprintf("%s joined the network.", msg.Username))
		n.emitStatus(msg.Username, StatusOnline)

	case protocol.TypeChat:
		n.notify(fmt.Sprintf("%s: %s", msg.Username, msg.Content))

	case protocol.TypeHeartbeat:
		// Heartbeats never create entries; unknown senders are ignored.
		if prev, ok := n.registry.Touch(msg.Username, time.Now()); ok && prev != StatusOnline {
			n.emitStatus(msg.Username, StatusOnline)
		}

	case protocol.TypeLeave:
		if n.registry.Delete(msg.Username) {
			n.notify(fmt.Sprintf("%s left the network.", msg.Username))
		}

	case protocol.TypeRequestPeers:
		peers := make([]protocol.PeerInfo, 0)
		for username, p := range n.registry.Snapshot() {
			if username == remoteUser {
				continue
			}
			peers = append(peers, protocol.PeerInfo{
				Username: username,
				Address:  p.Address,
				Port:     p.Port,
			})
		}
		if err := framing.Send(conn, &protocol.Message{Type: protocol.TypePeerList, Peers: peers}); err != nil {
			log.Warnf("node: peer_list reply to %s failed: %v", conn.RemoteAddr(), err)
		}

	case protocol.TypeFileChunk:
		// Not interpreted here; forwarded verbatim to the collaborator with
		// the sender filled in from the sending user.
		if msg.Sender == "" || msg.Sender == "You" {
			msg.Sender = msg.Username
			if msg.Sender == "" {
				msg.Sender = "Unknown"
			}
		}
		if n.cb.FileChunk != nil {
			n.cb.FileChunk(msg)
		}

	case protocol.TypeWelcome, protocol.TypePeerList:
		// Replies are only valid inside JoinNetwork; unsolicited copies are
		// ignored.
		log.Debugf("node: unsolicited %s from %s", msg.Type, sourceAddr)

	default:
		n.notify(fmt.Sprintf("Unknown message type %q from %s", msg.Type, sourceAddr))
	}
}
