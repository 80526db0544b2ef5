package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"gpsrelay/internal/core/lifecycle"
)

type streamConn struct {
	net.Conn
	id       string
	tag      string
	protocol string
}

func (c *streamConn) ID() string           { return c.id }
func (c *streamConn) Tag() string          { return c.tag }
func (c *streamConn) Protocol() string     { return c.protocol }
func (c *streamConn) Kind() lifecycle.Kind { return lifecycle.KindStream }

// TCPServer serves one protocol on a TCP port. Each connection is read by
// its own goroutine, so frames of one connection are dispatched in order.
type TCPServer struct {
	addr        string
	idleTimeout time.Duration
	handler     *Handler
	tracker     *lifecycle.Tracker
	logger      *slog.Logger

	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu    sync.Mutex
	conns map[string]*streamConn
}

func NewTCPServer(addr string, idleTimeout time.Duration, handler *Handler, tracker *lifecycle.Tracker, logger *slog.Logger) *TCPServer {
	return &TCPServer{
		addr:        addr,
		idleTimeout: idleTimeout,
		handler:     handler,
		tracker:     tracker,
		logger:      logger.With("component", "tcp", "protocol", handler.Protocol()),
		conns:       make(map[string]*streamConn),
	}
}

func (s *TCPServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP server: %w", err)
	}
	s.listener = listener

	ctx, s.cancel = context.WithCancel(ctx)
	s.logger.Info("TCP server listening", "addr", listener.Addr().String())

	s.wg.Add(1)
	go s.acceptConnections(ctx)
	return nil
}

// Addr is the bound listener address.
func (s *TCPServer) Addr() net.Addr {
	return s.listener.Addr()
}

// Stop closes the listener and every open connection, then waits for the
// connection goroutines to finish their current frame. Outcomes of frames
// still in flight are discarded.
func (s *TCPServer) Stop() {
	if s.listener == nil {
		return
	}
	s.listener.Close()

	s.mu.Lock()
	for _, c := range s.conns {
		s.tracker.Close(c)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.cancel()
}

func (s *TCPServer) acceptConnections(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("error accepting connection", "error", err)
			continue
		}

		id, tag := connID()
		c := &streamConn{Conn: conn, id: id, tag: tag, protocol: s.handler.Protocol()}

		s.mu.Lock()
		s.conns[id] = c
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(ctx, c)
	}
}

func (s *TCPServer) handleConnection(ctx context.Context, c *streamConn) {
	defer s.wg.Done()
	defer func() {
		c.Close()
		s.mu.Lock()
		delete(s.conns, c.id)
		s.mu.Unlock()
		s.tracker.Disconnect(c)
	}()

	s.tracker.Connect(c)
	sess := newSession(c)

	scanner := bufio.NewScanner(c)
	scanner.Split(splitFrames)
	for {
		if err := c.SetReadDeadline(time.Now().Add(s.idleTimeout)); err != nil {
			s.tracker.Error(c, err)
			return
		}
		if !scanner.Scan() {
			s.readFailed(c, scanner.Err())
			return
		}
		frame := bytes.TrimSpace(scanner.Bytes())
		if len(frame) == 0 {
			continue
		}
		s.handler.handle(ctx, sess, frame)
	}
}

func (s *TCPServer) readFailed(c *streamConn, err error) {
	var netErr net.Error
	switch {
	case err == nil, errors.Is(err, net.ErrClosed):
	case errors.As(err, &netErr) && netErr.Timeout():
		s.tracker.Idle(c)
	default:
		s.tracker.Error(c, err)
	}
}

// splitFrames splits the stream on the '#' frame terminator.
func splitFrames(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, '#'); i >= 0 {
		return i + 1, data[:i+1], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
