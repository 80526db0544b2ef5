package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"gpsrelay/internal/core/lifecycle"
)

const (
	maxDatagram   = 2048
	peerQueueSize = 64

	minReadBackoff = 5 * time.Millisecond
	maxReadBackoff = time.Second
)

// datagramConn is the single tracker connection of a UDP socket.
type datagramConn struct {
	pc       net.PacketConn
	id       string
	tag      string
	protocol string
}

func (c *datagramConn) ID() string           { return c.id }
func (c *datagramConn) Tag() string          { return c.tag }
func (c *datagramConn) Protocol() string     { return c.protocol }
func (c *datagramConn) Kind() lifecycle.Kind { return lifecycle.KindDatagram }
func (c *datagramConn) Close() error         { return c.pc.Close() }

type peer struct {
	frames  chan []byte
	session *session
}

// UDPServer serves one protocol on a UDP port. Datagrams from one peer are
// handled in arrival order by that peer's goroutine; different peers run in
// parallel. A peer idle for the idle timeout is released.
type UDPServer struct {
	addr        string
	idleTimeout time.Duration
	handler     *Handler
	tracker     *lifecycle.Tracker
	logger      *slog.Logger

	conn   *datagramConn
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	peers map[string]*peer
}

func NewUDPServer(addr string, idleTimeout time.Duration, handler *Handler, tracker *lifecycle.Tracker, logger *slog.Logger) *UDPServer {
	return &UDPServer{
		addr:        addr,
		idleTimeout: idleTimeout,
		handler:     handler,
		tracker:     tracker,
		logger:      logger.With("component", "udp", "protocol", handler.Protocol()),
		peers:       make(map[string]*peer),
	}
}

func (s *UDPServer) Start(ctx context.Context) error {
	pc, err := net.ListenPacket("udp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to start UDP server: %w", err)
	}

	id, tag := connID()
	s.conn = &datagramConn{pc: pc, id: id, tag: tag, protocol: s.handler.Protocol()}
	s.tracker.Connect(s.conn)

	ctx, s.cancel = context.WithCancel(ctx)
	s.logger.Info("UDP server listening", "addr", pc.LocalAddr().String())

	s.wg.Add(1)
	go s.readLoop(ctx)
	return nil
}

func (s *UDPServer) Addr() net.Addr {
	return s.conn.pc.LocalAddr()
}

func (s *UDPServer) Stop() {
	if s.conn == nil {
		return
	}
	s.conn.Close()
	s.tracker.Disconnect(s.conn)
	s.cancel()
	s.wg.Wait()
}

func (s *UDPServer) readLoop(ctx context.Context) {
	defer s.wg.Done()
	buf := make([]byte, maxDatagram)
	var backoff time.Duration
	for {
		n, addr, err := s.conn.pc.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.tracker.Error(s.conn, err)
			backoff = nextBackoff(backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		frame := make([]byte, n)
		copy(frame, buf[:n])
		s.enqueue(ctx, addr.String(), frame)
	}
}

func (s *UDPServer) enqueue(ctx context.Context, key string, frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.peers[key]
	if !ok {
		p = &peer{frames: make(chan []byte, peerQueueSize), session: newSession(s.conn)}
		s.peers[key] = p
		s.wg.Add(1)
		go s.servePeer(ctx, key, p)
	}

	select {
	case p.frames <- frame:
	default:
		s.logger.Warn(s.conn.Tag()+" peer queue full, datagram dropped", "peer", key)
	}
}

func (s *UDPServer) servePeer(ctx context.Context, key string, p *peer) {
	defer s.wg.Done()
	timer := time.NewTimer(s.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-p.frames:
			s.handler.handle(ctx, p.session, frame)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.idleTimeout)
		case <-timer.C:
			if s.release(key, p) {
				return
			}
			timer.Reset(s.idleTimeout)
		}
	}
}

// release removes an idle peer unless a datagram arrived meanwhile.
func (s *UDPServer) release(key string, p *peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(p.frames) > 0 {
		return false
	}
	delete(s.peers, key)
	return true
}

// Peers is the number of peers with a live queue.
func (s *UDPServer) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// nextBackoff doubles the delay between failed reads, up to maxReadBackoff.
func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return minReadBackoff
	}
	if d *= 2; d > maxReadBackoff {
		return maxReadBackoff
	}
	return d
}
