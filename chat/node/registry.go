package node

import (
	"net"
	"strconv"
	"sync"
	"time"
)

// Status is the locally observed liveness of a remote peer.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Peer is one registry record. Port is the peer's listening port, not the
// ephemeral source port of any single connection.
type Peer struct {
	Address  string
	Port     int
	LastSeen time.Time
	Status   Status
}

// Addr returns the peer's dialable "host:port" address.
func (p Peer) Addr() string {
	return net.JoinHostPort(p.Address, strconv.Itoa(p.Port))
}

// Registry is the mutex-guarded username -> Peer map. The lock is held only
// for map access; network fan-out always iterates over a Snapshot taken and
// released first, so a slow peer can never stall other message handling.
type Registry struct {
	mu    sync.Mutex
	peers map[string]Peer
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]Peer)}
}

func (r *Registry) Get(username string) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[username]
	return p, ok
}

func (r *Registry) Upsert(username string, p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[username] = p
}

// Delete removes an entry and reports whether it was present. Only an
// explicit leave or local shutdown reaches here; staleness never deletes.
func (r *Registry) Delete(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.peers[username]
	delete(r.peers, username)
	return ok
}

// Touch records positive liveness evidence for a known peer: LastSeen
// advances and the peer is forced online. It reports the previous status and
// whether the peer was known; unknown peers are left untouched.
func (r *Registry) Touch(username string, now time.Time) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[username]
	if !ok {
		return "", false
	}
	prev := p.Status
	p.LastSeen = now
	p.Status = StatusOnline
	r.peers[username] = p
	return prev, true
}

// MarkOffline flips a known peer to offline, retaining the entry.
func (r *Registry) MarkOffline(username string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[username]
	if !ok {
		return "", false
	}
	prev := p.Status
	p.Status = StatusOffline
	r.peers[username] = p
	return prev, true
}

// Snapshot returns a defensive copy of the whole map.
func (r *Registry) Snapshot() map[string]Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Peer, len(r.peers))
	for username, p := range r.peers {
		out[username] = p
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}
