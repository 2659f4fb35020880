package main

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

type statsSource interface {
	GetStats() string
}

type historySource interface {
	Recent(n int) []string
}

// control serves management commands on a unix socket:
// "stats", "events [n]" and "shutdown".
type control struct {
	log      *slog.Logger
	srv      statsSource
	history  historySource
	shutdown func()
}

func (c *control) serve(ctx context.Context, path string) error {
	// Remove existing socket file
	os.Remove(path)

	listener, err := net.Listen("unix", path)
	if err != nil {
		// the chat server runs fine without it
		c.log.Warn("Failed to create control socket", "path", path, "error", err)
		return nil
	}
	defer os.Remove(path)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	c.log.Info("Control socket listening", "path", path)
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			continue
		}
		go c.handle(conn)
	}
}

func (c *control) handle(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return
	}
	parts := strings.Fields(line)
	if len(parts) == 0 {
		conn.Write([]byte("ERROR|Invalid command\n"))
		return
	}

	switch parts[0] {
	case "stats":
		conn.Write([]byte("OK|" + c.srv.GetStats() + "\n"))

	case "events":
		n := 0
		if len(parts) > 1 {
			if n, err = strconv.Atoi(parts[1]); err != nil || n < 0 {
				conn.Write([]byte("ERROR|Invalid count\n"))
				return
			}
		}
		var b strings.Builder
		for _, l := range c.history.Recent(n) {
			b.WriteString(l)
			b.WriteByte('\n')
		}
		b.WriteString("OK\n")
		conn.Write([]byte(b.String()))

	case "shutdown":
		conn.Write([]byte("OK|Shutting down\n"))
		c.log.Info("Shutdown requested over control socket")
		c.shutdown()

	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
}
