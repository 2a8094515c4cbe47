package session

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/voxsec/voxsec/internal/audio"
)

// The media stream is one TCP connection per call, opened by the switch
// after a start-media-stream command. The switch sends a single textual
// preamble line
//
//	stream <call-uuid> <encoding> <rate>
//
// and receives "+OK" (or "-ERR <reason>") back. After the handshake both
// directions carry 20 ms audio frames, each prefixed with a 2-byte
// big-endian payload length.

const (
	// maxFramePayload bounds one media frame. 20 ms of PCM16 at 48 kHz is
	// 1920 bytes; anything near the limit is a framing error.
	maxFramePayload = 8192

	// mediaHandshakeTimeout bounds the preamble exchange.
	mediaHandshakeTimeout = 5 * time.Second

	// attachRetries and attachRetryDelay bound the late-registration window
	// for a media connection arriving before its session is registered.
	attachRetries    = 5
	attachRetryDelay = 20 * time.Millisecond
)

// mediaConn wraps one framed media stream. Reads are single-threaded (the
// ingress loop); writes are serialized by a mutex because the pacer and the
// teardown path may race.
type mediaConn struct {
	conn net.Conn
	rd   *bufio.Reader

	wmu sync.Mutex
}

func newMediaConn(conn net.Conn) *mediaConn {
	return &mediaConn{conn: conn, rd: bufio.NewReader(conn)}
}

// readFrame reads one length-prefixed frame payload.
func (m *mediaConn) readFrame() ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(m.rd, hdr[:]); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint16(hdr[:]))
	if n == 0 || n > maxFramePayload {
		return nil, fmt.Errorf("session: media frame length %d out of range", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(m.rd, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// writeFrame writes one length-prefixed frame payload.
func (m *mediaConn) writeFrame(payload []byte) error {
	if len(payload) > maxFramePayload {
		return fmt.Errorf("session: media frame length %d out of range", len(payload))
	}
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(payload)))

	m.wmu.Lock()
	defer m.wmu.Unlock()
	if _, err := m.conn.Write(hdr[:]); err != nil {
		return err
	}
	_, err := m.conn.Write(payload)
	return err
}

func (m *mediaConn) Close() error { return m.conn.Close() }

// preamble is the parsed media handshake line.
type preamble struct {
	CallUUID   string
	Encoding   audio.Encoding
	SampleRate int
}

// parsePreamble parses "stream <uuid> <encoding> <rate>".
func parsePreamble(line string) (preamble, error) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) != 4 || fields[0] != "stream" {
		return preamble{}, fmt.Errorf("session: malformed media preamble %q", line)
	}
	enc := audio.Encoding(fields[2])
	if !enc.IsValid() {
		return preamble{}, fmt.Errorf("session: unknown media encoding %q", fields[2])
	}
	rate, err := strconv.Atoi(fields[3])
	if err != nil || rate <= 0 {
		return preamble{}, fmt.Errorf("session: bad media sample rate %q", fields[3])
	}
	return preamble{CallUUID: fields[1], Encoding: enc, SampleRate: rate}, nil
}

// MediaServer accepts per-call media streams from the switch and attaches
// each to its owning session.
type MediaServer struct {
	addr     string
	registry *Registry

	mu sync.Mutex
	ln net.Listener
}

// NewMediaServer creates a MediaServer resolving sessions through registry.
func NewMediaServer(addr string, registry *Registry) *MediaServer {
	return &MediaServer{addr: addr, registry: registry}
}

// Addr returns the bound listen address, valid after Listen.
func (s *MediaServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// Listen binds the media port. Separate from Serve so callers can learn the
// bound address (":0" in tests) before the switch is told to connect.
func (s *MediaServer) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("session: media listen %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	return nil
}

// Serve accepts media connections until ctx is cancelled. Listen must have
// been called.
func (s *MediaServer) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("session: media server not listening")
	}

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("session: media accept: %w", err)
		}
		go s.handle(ctx, conn)
	}
}

// handle runs the handshake for one media connection and hands it to the
// owning session.
func (s *MediaServer) handle(ctx context.Context, conn net.Conn) {
	mc := newMediaConn(conn)

	_ = conn.SetDeadline(time.Now().Add(mediaHandshakeTimeout))
	line, err := mc.rd.ReadString('\n')
	if err != nil {
		slog.Warn("session: media preamble read failed", "err", err)
		conn.Close()
		return
	}
	pre, err := parsePreamble(line)
	if err != nil {
		slog.Warn("session: media preamble rejected", "err", err)
		fmt.Fprintf(conn, "-ERR bad preamble\n")
		conn.Close()
		return
	}

	sess, ok := s.lookup(pre.CallUUID)
	if !ok {
		slog.Warn("session: media stream for unknown call", "call_uuid", pre.CallUUID)
		fmt.Fprintf(conn, "-ERR unknown call\n")
		conn.Close()
		return
	}

	if _, err := fmt.Fprintf(conn, "+OK\n"); err != nil {
		conn.Close()
		return
	}
	_ = conn.SetDeadline(time.Time{})

	sess.attachMedia(ctx, mc, pre.Encoding, pre.SampleRate)
}

// lookup resolves a session, retrying briefly to tolerate a media stream
// racing the session's registration.
func (s *MediaServer) lookup(callUUID string) (*Session, bool) {
	for attempt := 0; ; attempt++ {
		if sess, ok := s.registry.Get(callUUID); ok {
			return sess, true
		}
		if attempt >= attachRetries {
			return nil, false
		}
		time.Sleep(attachRetryDelay)
	}
}

// Close shuts the listener. Idempotent.
func (s *MediaServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		err := s.ln.Close()
		s.ln = nil
		return err
	}
	return nil
}
