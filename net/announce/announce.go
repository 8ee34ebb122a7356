// Package announce broadcasts CBOR-encoded presence datagrams on a multicast
// group so nodes on the same LAN can find each other without a rendezvous
// server.
package announce

import (
	"context"
	"fmt"
	"net"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

// DefaultGroup is the multicast group announcements go to unless the
// configuration overrides it.
const DefaultGroup = "239.255.70.77:9999"

// Announcement advertises one node's listening endpoint. The sender's IP is
// taken from the datagram's source address, not the payload.
type Announcement struct {
	Username string `cbor:"1,keyasint,omitempty"`
	Port     int    `cbor:"2,keyasint,omitempty"`
}

// Announcer publishes and receives announcements on one multicast group.
type Announcer struct {
	rc *net.UDPConn
	wc *net.UDPConn
}

// New joins the multicast group for reading and opens a write connection to
// it.
func New(group string) (*Announcer, error) {
	addr, err := net.ResolveUDPAddr("udp", group)
	if err != nil {
		return nil, fmt.Errorf("announce: resolve %s: %w", group, err)
	}

	rc, err := net.ListenMulticastUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("announce: join %s: %w", group, err)
	}

	wc, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("announce: dial %s: %w", group, err)
	}

	return &Announcer{rc: rc, wc: wc}, nil
}

// Publish sends one announcement datagram.
func (a *Announcer) Publish(ann *Announcement) error {
	raw, err := cbor.Marshal(ann)
	if err != nil {
		return err
	}
	if _, err := a.wc.Write(raw); err != nil {
		return fmt.Errorf("announce: publish: %w", err)
	}
	return nil
}

// Listen delivers inbound announcements to handle, along with the sender's
// source IP, until the context is cancelled. Malformed datagrams are dropped.
func (a *Announcer) Listen(ctx context.Context, handle func(sourceAddr string, ann *Announcement)) error {
	go func() {
		<-ctx.Done()
		a.rc.Close()
	}()

	buf := make([]byte, 1500)
	for {
		n, src, err := a.rc.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return err
			}
		}

		ann := &Announcement{}
		if err := cbor.Unmarshal(buf[:n], ann); err != nil {
			log.Debugf("announce: malformed datagram from %s: %v", src, err)
			continue
		}
		if ann.Username == "" || ann.Port <= 0 {
			continue
		}
		handle(src.IP.String(), ann)
	}
}

func (a *Announcer) Close() error {
	a.rc.Close()
	return a.wc.Close()
}
