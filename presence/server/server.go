// Package server implements the rendezvous ("presence") service: a separate
// long-running process nodes register with to find each other by username
// instead of by IP:port.
package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"

	"peerchat/helper/timer"
	"peerchat/net/framing"
	"peerchat/presence/protocol"
	"peerchat/presence/store"
)

const (
	// DefaultPort is the conventional presence server port.
	DefaultPort = 7000

	sweepInterval = 30 * time.Second
	staleAfter    = 60 * time.Second
)

// Server is a running presence service.
type Server struct {
	listener net.Listener
	users    store.Store
	running  atomic.Bool
}

// New binds the listening socket. A bind failure is fatal and returned to the
// caller. The store may be persistent; registrations loaded from disk age out
// through the normal sweep.
func New(host string, port int, users store.Store) (*Server, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("presence: bind %s:%d: %w", host, port, err)
	}

	log.Infof("presence server listening on %s", l.Addr())
	s := &Server{listener: l, users: users}
	s.running.Store(true)
	return s, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Run accepts connections and drives the staleness sweep until the context is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	wg, cctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		return s.acceptLoop(cctx)
	})

	wg.Go(func() error {
		return timer.RunWithTicker(cctx, timer.Interval{Duration: sweepInterval}, func(context.Context) error {
			s.sweepOnce(time.Now())
			return nil
		})
	})

	return wg.Wait()
}

// Stop makes the accept loop exit. Run returns shortly after.
func (s *Server) Stop() {
	if s.running.CompareAndSwap(true, false) {
		s.listener.Close()
	}
}

func (s *Server) acceptLoop(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	var tempDelay time.Duration
	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if !s.running.Load() {
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
				log.Warnf("presence: accept error: %v; retrying in %v", err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0
		go s.handleConn(conn)
	}
	return nil
}

// handleConn processes exactly one request, then closes.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	raw, err := framing.Receive(conn, framing.DefaultTimeout)
	if err != nil {
		if err != io.EOF {
			log.Debugf("presence: connection from %s ended: %v", conn.RemoteAddr(), err)
		}
		return
	}

	req, err := protocol.DecodeRequest(raw)
	if err != nil {
		log.Warnf("presence: dropping connection from %s: %v", conn.RemoteAddr(), err)
		return
	}

	switch req.Type {
	case protocol.TypeRegister:
		s.register(conn, req)
	case protocol.TypeQuery:
		s.query(conn)
	case protocol.TypeHeartbeat:
		s.heartbeat(req.Username)
	case protocol.TypeUnregister:
		s.unregister(req.Username)
	}
}

func (s *Server) register(conn net.Conn, req *protocol.Request) {
	if req.Username == "" || req.Port <= 0 {
		err := framing.Send(conn, &protocol.Response{
			Type:    protocol.TypeRegisterResponse,
			Success: false,
			Reason:  "missing required fields",
		})
		if err != nil {
			log.Warnf("presence: register rejection reply failed: %v", err)
		}
		return
	}

	err := s.users.Put(req.Username, store.Registration{
		Address:  req.Address,
		Port:     req.Port,
		LastSeen: time.Now(),
	})
	if err != nil {
		log.Errorf("presence: storing registration for %q: %v", req.Username, err)
		return
	}

	if err := framing.Send(conn, &protocol.Response{Type: protocol.TypeRegisterResponse, Success: true}); err != nil {
		log.Warnf("presence: register reply to %q failed: %v", req.Username, err)
		return
	}
	log.Infof("presence: registered %s at %s:%d", req.Username, req.Address, req.Port)
}

func (s *Server) query(conn net.Conn) {
	all, err := s.users.All()
	if err != nil {
		log.Errorf("presence: listing users: %v", err)
		return
	}

	users := make([]protocol.UserInfo, 0, len(all))
	for username, reg := range all {
		users = append(users, protocol.UserInfo{
			Username: username,
			Address:  reg.Address,
			Port:     reg.Port,
		})
	}

	if err := framing.Send(conn, &protocol.Response{Type: protocol.TypeOnlineUsers, Success: true, Users: users}); err != nil {
		log.Warnf("presence: query reply failed: %v", err)
	}
}

// heartbeat touches an existing registration. It never re-creates one: a user
// swept out must register again.
func (s *Server) heartbeat(username string) {
	reg, err := s.users.Get(username)
	if err != nil {
		return
	}
	reg.LastSeen = time.Now()
	if err := s.users.Put(username, reg); err != nil {
		log.Errorf("presence: touching %q: %v", username, err)
	}
}

func (s *Server) unregister(username string) {
	if err := s.users.Delete(username); err != nil {
		log.Errorf("presence: unregistering %q: %v", username, err)
		return
	}
	log.Infof("presence: unregistered %s", username)
}

// sweepOnce silently deletes every registration stale for more than
// staleAfter. Unlike the node registry, presence entries ARE garbage
// collected purely by staleness: the server has no way to probe users.
func (s *Server) sweepOnce(now time.Time) {
	all, err := s.users.All()
	if err != nil {
		log.Errorf("presence: sweep: %v", err)
		return
	}

	for username, reg := range all {
		if now.Sub(reg.LastSeen) <= staleAfter {
			continue
		}
		if err := s.users.Delete(username); err != nil {
			log.Errorf("presence: sweeping %q: %v", username, err)
			continue
		}
		log.Infof("presence: removed stale user %s", username)
	}
}
