package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"snapcrop/src/logutil"
)

const (
	residentHost = "127.0.0.1"
	pingRequest  = "PING\n"
	pongResponse = "PONG\n"

	defaultPortStart = 49600
	defaultPortEnd   = 49650
)

// PortRange returns the control-connection TCP port range. Overridable
// with SNAPCROP_PORT_START and SNAPCROP_PORT_END, clamped to
// [1024, 65535].
func PortRange() (int, int) {
	start := defaultPortStart
	end := defaultPortEnd
	if v := os.Getenv("SNAPCROP_PORT_START"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			start = n
		}
	}
	if v := os.Getenv("SNAPCROP_PORT_END"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			end = n
		}
	}
	if start < 1024 {
		start = 1024
	}
	if end > 65535 {
		end = 65535
	}
	if end < start {
		start, end = end, start
	}
	return start, end
}

// Conn is one accepted control request awaiting its response.
type Conn struct {
	c   net.Conn
	req Request
	w   *bufio.Writer
}

func (c *Conn) Request() Request { return c.req }

// Respond writes the single JSON response line and leaves the connection
// open for the caller to close.
func (c *Conn) Respond(resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	if _, err := c.w.Write(append(data, '\n')); err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *Conn) Close() error { return c.c.Close() }

// Server accepts control connections on the loopback interface. It binds
// only the start port of the configured range; a bind failure there means
// another resident instance owns it.
type Server struct {
	lis      net.Listener
	incoming chan *Conn
	port     int
}

func NewServer() *Server {
	return &Server{incoming: make(chan *Conn, 8)}
}

func (s *Server) Start(ctx context.Context) error {
	if s.lis != nil {
		return nil
	}
	start, _ := PortRange()
	addr := fmt.Sprintf("%s:%d", residentHost, start)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}
	s.lis = lis
	s.port = start
	logger := logutil.WithComponent("ipc")
	logger.Info().Str("addr", addr).Msg("Control listener bound")
	go s.acceptLoop(ctx)
	return nil
}

// Port returns the bound port (0 if not started).
func (s *Server) Port() int { return s.port }

func (s *Server) acceptLoop(ctx context.Context) {
	log := logutil.WithComponent("ipc")
	for {
		c, err := s.lis.Accept()
		if err != nil {
			return
		}
		_ = c.SetDeadline(time.Now().Add(3 * time.Second))
		br := bufio.NewReader(c)
		line, err := br.ReadString('\n')
		if err != nil {
			_ = c.Close()
			continue
		}
		bw := bufio.NewWriter(c)

		// Liveness probe from a second instance's pre-flight check.
		if line == pingRequest {
			_, _ = bw.WriteString(pongResponse)
			_ = bw.Flush()
			_ = c.Close()
			continue
		}

		var req Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			log.Warn().Err(err).Msg("Malformed control request")
			conn := &Conn{c: c, w: bw}
			_ = conn.Respond(Fail("malformed request: " + err.Error()))
			_ = c.Close()
			continue
		}

		_ = c.SetDeadline(time.Time{})
		select {
		case s.incoming <- &Conn{c: c, req: req, w: bw}:
		case <-ctx.Done():
			_ = c.Close()
			return
		}
	}
}

// Next blocks for the next accepted request.
func (s *Server) Next(ctx context.Context) (*Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case conn := <-s.incoming:
		return conn, nil
	}
}

// Incoming exposes the accept channel for select-based loops.
func (s *Server) Incoming() <-chan *Conn { return s.incoming }

func (s *Server) Close() error {
	if s.lis != nil {
		_ = s.lis.Close()
		s.lis = nil
	}
	return nil
}
