// Package switchctl is the control adapter for the telephony switch.
//
// The switch exposes two channels: an inbound command channel (a text
// protocol with authentication, one request/response at a time) and an
// outbound event stream (channel events keyed by call id). The adapter
// carries no business logic: commands are plain request/response pairs with
// a timeout and a boolean-or-error outcome, and events are normalized into
// bus events and routed to the owning session.
//
// When both channels are connected the inbound channel is preferred for
// command dispatch; the outbound channel is used for event consumption.
package switchctl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

const (
	// connectTimeout bounds the TCP dial plus authentication handshake.
	connectTimeout = 5 * time.Second

	// idleTimeout is the per-command response deadline.
	idleTimeout = 30 * time.Second
)

// ErrNotConnected is returned when a command is issued with no live
// command channel.
var ErrNotConnected = errors.New("switchctl: not connected")

// CommandError is a structured failure returned by the switch. The core
// never interprets free-form success strings; anything that is not "+OK" is
// a CommandError.
type CommandError struct {
	// Code is the switch's machine-readable failure code (e.g.
	// "NO_SUCH_CHANNEL", "DESTINATION_BUSY").
	Code string

	// Message is the human-readable remainder of the error line.
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("switchctl: command failed: %s %s", e.Code, e.Message)
}

// Config holds connection settings for the switch control channels.
type Config struct {
	// Addr is the host:port of the switch control socket.
	Addr string

	// Password authenticates the command channel.
	Password string
}

// Client is the switch control adapter. One Client may be shared across
// sessions; commands are serialized FIFO at the adapter. All methods are
// safe for concurrent use.
type Client struct {
	cfg Config

	// cmdMu serializes command dispatch so request/response pairs never
	// interleave on the wire.
	cmdMu sync.Mutex

	mu     sync.Mutex
	conn   net.Conn
	rd     *bufio.Reader
	closed bool
}

// NewClient creates a Client for the given switch. The client does not
// connect until [Client.Connect] is called.
func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg}
}

// Connect dials the command channel and authenticates. Safe to call again
// after a connection loss.
func (c *Client) Connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", c.cfg.Addr)
	if err != nil {
		return fmt.Errorf("switchctl: dial %s: %w", c.cfg.Addr, err)
	}

	rd := bufio.NewReader(conn)

	// The switch greets with "auth/request"; reply with the password.
	_ = conn.SetDeadline(time.Now().Add(connectTimeout))
	greeting, err := readBlock(rd)
	if err != nil {
		conn.Close()
		return fmt.Errorf("switchctl: read greeting: %w", err)
	}
	if !strings.Contains(greeting, "auth/request") {
		conn.Close()
		return fmt.Errorf("switchctl: unexpected greeting %q", firstLine(greeting))
	}
	if _, err := fmt.Fprintf(conn, "auth %s\n\n", c.cfg.Password); err != nil {
		conn.Close()
		return fmt.Errorf("switchctl: send auth: %w", err)
	}
	reply, err := readBlock(rd)
	if err != nil {
		conn.Close()
		return fmt.Errorf("switchctl: read auth reply: %w", err)
	}
	if !strings.HasPrefix(replyText(reply), "+OK") {
		conn.Close()
		return fmt.Errorf("switchctl: authentication rejected: %s", firstLine(reply))
	}
	_ = conn.SetDeadline(time.Time{})

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.rd = rd
	c.mu.Unlock()

	slog.Info("switchctl: command channel connected", "addr", c.cfg.Addr)
	return nil
}

// Connected reports whether the command channel is live.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.closed
}

// command sends one verb with arguments and waits for the reply block.
// Replies starting "+OK" succeed; "-ERR <code> <message...>" produce a
// *CommandError; anything else is a protocol error.
func (c *Client) command(ctx context.Context, verb string, args ...string) (string, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	conn, rd := c.conn, c.rd
	c.mu.Unlock()
	if conn == nil {
		return "", ErrNotConnected
	}

	deadline := time.Now().Add(idleTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	defer conn.SetDeadline(time.Time{})

	line := verb
	if len(args) > 0 {
		line += " " + strings.Join(args, " ")
	}
	if _, err := fmt.Fprintf(conn, "command %s\n\n", line); err != nil {
		c.dropConn(conn)
		return "", fmt.Errorf("switchctl: send %s: %w", verb, err)
	}

	reply, err := readBlock(rd)
	if err != nil {
		c.dropConn(conn)
		return "", fmt.Errorf("switchctl: read %s reply: %w", verb, err)
	}

	text := replyText(reply)
	switch {
	case strings.HasPrefix(text, "+OK"):
		return strings.TrimSpace(strings.TrimPrefix(text, "+OK")), nil
	case strings.HasPrefix(text, "-ERR"):
		rest := strings.TrimSpace(strings.TrimPrefix(text, "-ERR"))
		code, msg, _ := strings.Cut(rest, " ")
		return "", &CommandError{Code: code, Message: msg}
	default:
		return "", fmt.Errorf("switchctl: unrecognised reply to %s: %q", verb, firstLine(text))
	}
}

// dropConn closes and clears the connection if it is still current.
func (c *Client) dropConn(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
		c.rd = nil
	}
	conn.Close()
}

// Close shuts the command channel. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		c.rd = nil
		return err
	}
	return nil
}

// readBlock reads lines until a blank line, returning the joined block.
func readBlock(rd *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			return "", err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if sb.Len() == 0 {
				continue
			}
			return sb.String(), nil
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(line)
	}
}

// replyText extracts the reply body: blocks may carry a "Reply-Text:" header
// or be the bare text.
func replyText(block string) string {
	for line := range strings.Lines(block) {
		line = strings.TrimRight(line, "\n")
		if after, ok := strings.CutPrefix(line, "Reply-Text:"); ok {
			return strings.TrimSpace(after)
		}
	}
	return strings.TrimSpace(block)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
