package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"

	"peerchat/chat/filetransfer"
	"peerchat/chat/node"
	"peerchat/chat/protocol"
	"peerchat/config"
	"peerchat/helper/timer"
	"peerchat/net/announce"
	"peerchat/presence/client"
)

const announceInterval = 10 * time.Second

// RunChat starts a chat node and serves a line-based front end on stdin until
// /quit, EOF or context cancellation.
func RunChat(ctx context.Context, cfg *config.Config, joinAddr string) {
	username := cfg.Chat.Username
	if username == "" {
		log.Fatal("No username configured; set chat.username in the config file")
	}

	display := func(text string) { fmt.Println(text) }

	// The chunk callback closes over ft, which needs the node's send
	// primitive; wire the node first.
	var ft *filetransfer.Manager

	n, err := node.New(username, cfg.Chat.Host, cfg.Chat.Port, node.Callbacks{
		Display: display,
		Status: func(peer string, status node.Status) {
			display(fmt.Sprintf("* %s is now %s", peer, status))
		},
		FileChunk: func(msg *protocol.Message) { ft.HandleChunk(msg) },
	})
	if err != nil {
		log.Fatalf("Failed to start node: %v", err)
	}

	ft, err = filetransfer.New(username, n.SendTo, cfg.Chat.Downloads, display)
	if err != nil {
		log.Fatalf("Failed to set up file transfer: %v", err)
	}

	display(fmt.Sprintf("P2P chat started on port %d\nYour username: %s", n.Port(), username))

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg, wctx := errgroup.WithContext(cctx)

	wg.Go(func() error {
		return n.Run(wctx)
	})

	if cfg.Discovery.Multicast {
		ann, err := announce.New(cfg.Discovery.Group)
		if err != nil {
			log.Fatalf("Failed to join discovery group: %v", err)
		}
		defer ann.Close()

		wg.Go(func() error {
			return ann.Listen(wctx, func(sourceAddr string, a *announce.Announcement) {
				n.ObservePeer(a.Username, sourceAddr, a.Port)
			})
		})
		wg.Go(func() error {
			return timer.RunWithTicker(wctx, timer.Interval{Duration: announceInterval, Jitter: time.Second}, func(context.Context) error {
				if err := ann.Publish(&announce.Announcement{Username: username, Port: n.Port()}); err != nil {
					log.Warnf("Announcement failed: %v", err)
				}
				return nil
			})
		})
	}

	if cfg.Presence.Server != "" {
		pc := client.New(username, n.Port(), cfg.Presence.Server)
		if err := pc.Register(wctx); err != nil {
			log.Warnf("Presence registration failed: %v", err)
		} else {
			defer pc.Unregister()
			users, err := pc.OnlineUsers()
			if err != nil {
				log.Warnf("Presence query failed: %v", err)
			}
			for _, u := range users {
				if err := n.JoinNetwork(u.Address, u.Port); err != nil {
					log.Warnf("Failed to join via %s: %v", u.Username, err)
				}
			}
		}
	}

	if joinAddr != "" {
		host, portStr, err := net.SplitHostPort(joinAddr)
		if err != nil {
			log.Fatalf("Invalid join address %q: %v", joinAddr, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			log.Fatalf("Invalid join port %q: %v", portStr, err)
		}
		if err := n.JoinNetwork(host, port); err != nil {
			log.Errorf("Failed to join network via %s: %v", joinAddr, err)
		}
	}

	wg.Go(func() error {
		defer cancel()
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			switch {
			case line == "":
			case line == "/quit":
				return nil
			case line == "/peers":
				for peer, p := range n.Peers() {
					display(fmt.Sprintf("  %s  %s  %s", peer, p.Addr(), p.Status))
				}
			case strings.HasPrefix(line, "/send "):
				fields := strings.Fields(line)
				if len(fields) != 3 {
					display("Usage: /send <file> <username>")
					continue
				}
				peer, ok := n.Peers()[fields[2]]
				if !ok {
					display(fmt.Sprintf("Unknown peer %q", fields[2]))
					continue
				}
				if err := ft.SendFile(fields[1], peer.Addr()); err != nil {
					display(fmt.Sprintf("File send failed: %v", err))
				}
			default:
				n.Broadcast(line)
				display(fmt.Sprintf("You: %s", line))
			}
		}
		return scanner.Err()
	})

	if err := wg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("Chat node stopped: %v", err)
	}
	n.Disconnect()
}
