// Package protocol defines the node-to-node message set. Every message
// carries a type tag; Decode rejects unknown or structurally invalid messages
// before they reach a handler.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message types exchanged between nodes.
const (
	TypeJoin         = "join"          // join{username,port} -> welcome
	TypeWelcome      = "welcome"       // welcome{username,port}
	TypeChat         = "chat"          // chat{username,content}, no reply
	TypeHeartbeat    = "heartbeat"     // heartbeat{username}, no reply
	TypeLeave        = "leave"         // leave{username}, no reply
	TypeRequestPeers = "request_peers" // request_peers{} -> peer_list
	TypePeerList     = "peer_list"     // peer_list{peers}
	TypeFileChunk    = "file_chunk"    // opaque, forwarded to the file-transfer collaborator
)

// PeerInfo is one entry of a peer_list gossip snapshot.
type PeerInfo struct {
	Username string `json:"username"`
	Address  string `json:"address"`
	Port     int    `json:"port"`
}

// Message is the closed union of all node protocol messages. Which fields are
// meaningful depends on Type.
type Message struct {
	Type     string     `json:"type"`
	Username string     `json:"username,omitempty"`
	Port     int        `json:"port,omitempty"`
	Content  string     `json:"content,omitempty"`
	Peers    []PeerInfo `json:"peers,omitempty"`

	// File transfer fields, not interpreted by the membership engine.
	TransferID string `json:"transfer_id,omitempty"`
	Filename   string `json:"filename,omitempty"`
	Data       string `json:"data,omitempty"`
	IsLast     bool   `json:"is_last,omitempty"`
	Sender     string `json:"sender,omitempty"`
}

// Decode parses and validates one wire payload.
func Decode(raw []byte) (*Message, error) {
	m := &Message{}
	if err := json.Unmarshal(raw, m); err != nil {
		return nil, fmt.Errorf("protocol: malformed message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks that the fields required by the message type are present.
func (m *Message) Validate() error {
	switch m.Type {
	case TypeJoin, TypeWelcome:
		if m.Username == "" || m.Port <= 0 {
			return fmt.Errorf("protocol: %s requires username and port", m.Type)
		}
	case TypeChat, TypeHeartbeat, TypeLeave:
		if m.Username == "" {
			return fmt.Errorf("protocol: %s requires username", m.Type)
		}
	case TypeRequestPeers, TypePeerList:
		// No required fields; an empty peer list is valid.
	case TypeFileChunk:
		if m.TransferID == "" || m.Filename == "" {
			return fmt.Errorf("protocol: file_chunk requires transfer_id and filename")
		}
	default:
		return fmt.Errorf("protocol: unknown message type %q", m.Type)
	}
	return nil
}
