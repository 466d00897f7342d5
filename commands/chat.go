package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"peerchat/config"
	"peerchat/swarm/messenger"
	"peerchat/swarm/node"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
)

const chatHelp = `commands:
  /list                  show live peers
  /queued                show peers with undelivered messages
  /blocked               show blocked peers
  /chat <peer>           start a session with peer
  /leave                 end the session
  /block <peer>          refuse all traffic with peer
  /unblock <peer>
  /mute <peer> <secs>    hide messages from peer for a while
  /unmute <peer>
  /exit`

// RunChat runs a peer with an interactive console on in/out.
func RunChat(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) {
	l, err := net.Listen("tcp", cfg.Network.ListenAddress)
	if err != nil {
		log.Fatalf("Failed to create peer listener: %v", err)
	}

	n, err := node.New(cfg, l, clock.New())
	if err != nil {
		log.Fatalf("Failed to create node: %v", err)
	}
	defer func() {
		if err := n.Close(); err != nil {
			log.Errorf("Failed to close stores: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- n.Run(ctx) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	c := &console{node: n, out: out}
	fmt.Fprintln(out, chatHelp)

	for {
		select {
		case err := <-runErr:
			if err != nil {
				log.Errorf("Peer stopped: %v", err)
			}
			return
		case ntc := <-n.Notices():
			fmt.Fprintln(out, ntc)
		case line, ok := <-lines:
			if !ok || c.handle(ctx, line) {
				cancel()
				<-runErr
				return
			}
		}
	}
}

type console struct {
	node *node.Node
	out  io.Writer
}

// handle executes one console line and reports whether the console should exit.
func (c *console) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	if !strings.HasPrefix(line, "/") {
		peer := c.node.Session()
		if peer == "" {
			fmt.Fprintln(c.out, "no active chat, use /chat <peer>")
			return false
		}
		c.send(ctx, peer, line)
		return false
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/exit":
		return true
	case "/list":
		c.list()
	case "/queued":
		c.queued()
	case "/blocked":
		blocked := c.node.Access.Blocked()
		if len(blocked) == 0 {
			fmt.Fprintln(c.out, "nobody is blocked")
			return false
		}
		fmt.Fprintln(c.out, strings.Join(blocked, " "))
	case "/leave":
		c.node.EndSession()
	case "/chat":
		if len(args) != 1 {
			fmt.Fprintln(c.out, "usage: /chat <peer>")
			return false
		}
		if live := c.node.StartSession(ctx, args[0]); !live {
			fmt.Fprintf(c.out, "%s is offline, messages will be queued\n", args[0])
		} else {
			fmt.Fprintf(c.out, "chatting with %s\n", args[0])
		}
	case "/block":
		if len(args) != 1 {
			fmt.Fprintln(c.out, "usage: /block <peer>")
			return false
		}
		c.node.Block(ctx, args[0])
		if c.node.Session() == args[0] {
			c.node.EndSession()
		}
	case "/unblock":
		if len(args) != 1 {
			fmt.Fprintln(c.out, "usage: /unblock <peer>")
			return false
		}
		c.node.Unblock(args[0])
	case "/mute":
		if len(args) != 2 {
			fmt.Fprintln(c.out, "usage: /mute <peer> <secs>")
			return false
		}
		secs, err := strconv.Atoi(args[1])
		if err != nil || secs <= 0 {
			fmt.Fprintf(c.out, "invalid duration %q\n", args[1])
			return false
		}
		c.node.Mute(args[0], time.Duration(secs)*time.Second)
	case "/unmute":
		if len(args) != 1 {
			fmt.Fprintln(c.out, "usage: /unmute <peer>")
			return false
		}
		c.node.Unmute(args[0])
	default:
		fmt.Fprintln(c.out, chatHelp)
	}
	return false
}

func (c *console) send(ctx context.Context, peer string, text string) {
	_, err := c.node.SendOrQueue(ctx, peer, text)
	switch {
	case errors.Is(err, messenger.ErrBlocked):
		fmt.Fprintf(c.out, "%s is blocked\n", peer)
	case err != nil:
		fmt.Fprintf(c.out, "message not sent: %v\n", err)
	}
}

func (c *console) list() {
	snap := c.node.Presence.Snapshot()
	if len(snap) == 0 {
		fmt.Fprintln(c.out, "nobody is online")
		return
	}
	for _, id := range snap.IDs() {
		status := ""
		switch {
		case c.node.Access.IsBlocked(id):
			status = " (blocked)"
		case c.node.Access.IsMuted(id):
			status = " (muted)"
		}
		if n := len(c.node.Queue.Pending(id)); n > 0 {
			status += fmt.Sprintf(" [%d queued]", n)
		}
		fmt.Fprintf(c.out, "%s\t%s%s\n", id, snap[id], status)
	}
}

func (c *console) queued() {
	peers := c.node.Queue.Peers()
	if len(peers) == 0 {
		fmt.Fprintln(c.out, "no queued messages")
		return
	}
	sort.Strings(peers)
	for _, p := range peers {
		status := "offline"
		if _, live := c.node.Presence.Lookup(p); live {
			status = "online"
		}
		fmt.Fprintf(c.out, "%s\t%d queued (%s)\n", p, len(c.node.Queue.Pending(p)), status)
	}
}
