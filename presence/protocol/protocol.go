// Package protocol defines the rendezvous request/response message set.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Request types accepted by the presence server.
const (
	TypeRegister   = "register"   // register{username,port,address} -> register_response
	TypeQuery      = "query"      // query{} -> online_users
	TypeHeartbeat  = "heartbeat"  // heartbeat{username}, no reply
	TypeUnregister = "unregister" // unregister{username}, no reply
)

// Response types sent by the presence server.
const (
	TypeRegisterResponse = "register_response"
	TypeOnlineUsers      = "online_users"
)

// UserInfo is one entry of an online_users reply.
type UserInfo struct {
	Username string `json:"username"`
	Address  string `json:"address"`
	Port     int    `json:"port"`
}

// Request is the closed union of client-to-server messages.
type Request struct {
	Type     string `json:"type"`
	Username string `json:"username,omitempty"`
	Port     int    `json:"port,omitempty"`
	Address  string `json:"address,omitempty"`
}

// Response is the closed union of server-to-client messages.
type Response struct {
	Type    string     `json:"type"`
	Success bool       `json:"success"`
	Reason  string     `json:"reason,omitempty"`
	Users   []UserInfo `json:"users,omitempty"`
}

// DecodeRequest parses and validates one inbound request. A register with
// missing fields is NOT rejected here: the server answers it with an explicit
// success:false response instead of dropping the connection.
func DecodeRequest(raw []byte) (*Request, error) {
	r := &Request{}
	if err := json.Unmarshal(raw, r); err != nil {
		return nil, fmt.Errorf("protocol: malformed request: %w", err)
	}
	switch r.Type {
	case TypeRegister, TypeQuery:
	case TypeHeartbeat, TypeUnregister:
		if r.Username == "" {
			return nil, fmt.Errorf("protocol: %s requires username", r.Type)
		}
	default:
		return nil, fmt.Errorf("protocol: unknown request type %q", r.Type)
	}
	return r, nil
}

// DecodeResponse parses and validates one server reply.
func DecodeResponse(raw []byte) (*Response, error) {
	r := &Response{}
	if err := json.Unmarshal(raw, r); err != nil {
		return nil, fmt.Errorf("protocol: malformed response: %w", err)
	}
	switch r.Type {
	case TypeRegisterResponse, TypeOnlineUsers:
	default:
		return nil, fmt.Errorf("protocol: unknown response type %q", r.Type)
	}
	return r, nil
}
