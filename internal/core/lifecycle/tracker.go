// Package lifecycle tracks transport connections from connect to close and
// applies the device-status side effects of each transition.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Kind distinguishes how a connection maps onto device presence.
type Kind int

const (
	// KindStream is a persistent connection such as TCP.
	KindStream Kind = iota
	// KindDatagram has no handshake and is never force-closed.
	KindDatagram
	// KindHTTP is request scoped; it never owns device presence.
	KindHTTP
)

func (k Kind) String() string {
	switch k {
	case KindStream:
		return "stream"
	case KindDatagram:
		return "datagram"
	case KindHTTP:
		return "http"
	default:
		return "unknown"
	}
}

type State int

const (
	StateActive State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the transport handle the tracker acts on.
type Conn interface {
	ID() string
	// Tag is the short "[xxxxxxxx]" form used in log lines.
	Tag() string
	Protocol() string
	Kind() Kind
	Close() error
}

// ActiveDevices clears the "actively connected" marker of a device.
type ActiveDevices interface {
	ClearActive(ctx context.Context, deviceID string) error
}

type ConnectionState struct {
	ID           string
	Tag          string
	Protocol     string
	Kind         Kind
	State        State
	DeviceID     string
	ConnectedAt  time.Time
	LastActivity time.Time
}

type Tracker struct {
	devices        ActiveDevices
	connectionless map[string]struct{}
	storeTimeout   time.Duration
	logger         *slog.Logger
	now            func() time.Time
	onCount        func(int)

	mu    sync.Mutex
	conns map[string]*ConnectionState
}

type Option func(*Tracker)

// WithStoreTimeout bounds the ClearActive call made on disconnect.
func WithStoreTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.storeTimeout = d }
}

// WithCountObserver is called with the number of live connections after
// every connect and disconnect.
func WithCountObserver(fn func(int)) Option {
	return func(t *Tracker) { t.onCount = fn }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker. Protocols named in connectionless never
// clear the active marker on disconnect.
func NewTracker(devices ActiveDevices, connectionless []string, logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		devices:        devices,
		connectionless: make(map[string]struct{}, len(connectionless)),
		storeTimeout:   5 * time.Second,
		logger:         logger.With("component", "lifecycle"),
		now:            time.Now,
		conns:          make(map[string]*ConnectionState),
	}
	for _, p := range connectionless {
		t.connectionless[p] = struct{}{}
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) Connect(conn Conn) {
	now := t.now()
	t.mu.Lock()
	t.conns[conn.ID()] = &ConnectionState{
		ID:           conn.ID(),
		Tag:          conn.Tag(),
		Protocol:     conn.Protocol(),
		Kind:         conn.Kind(),
		State:        StateActive,
		ConnectedAt:  now,
		LastActivity: now,
	}
	count := len(t.conns)
	t.mu.Unlock()

	t.observe(count)
	if conn.Kind() != KindDatagram {
		t.logger.Info(conn.Tag()+" connected", "conn", conn.ID(), "protocol", conn.Protocol())
	}
}

// Touch records activity on the connection.
func (t *Tracker) Touch(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if state, ok := t.conns[connID]; ok {
		state.LastActivity = t.now()
	}
}

// BindDevice associates the device last identified on the connection.
func (t *Tracker) BindDevice(connID, deviceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if state, ok := t.conns[connID]; ok {
		state.DeviceID = deviceID
		state.LastActivity = t.now()
	}
}

// Alive reports whether the connection is still active. A connection that
// is closing or already released is not alive.
func (t *Tracker) Alive(connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.conns[connID]
	return ok && state.State == StateActive
}

// State returns a copy of the connection state.
func (t *Tracker) State(connID string) (ConnectionState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.conns[connID]
	if !ok {
		return ConnectionState{}, false
	}
	return *state, true
}

func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// Idle handles a read idle timeout. Stream connections are closed; datagram
// connections are left open.
func (t *Tracker) Idle(conn Conn) {
	t.logger.Info(conn.Tag()+" timed out", "conn", conn.ID(), "protocol", conn.Protocol())
	t.close(conn)
}

// Error logs the root cause of err and closes the connection.
func (t *Tracker) Error(conn Conn, err error) {
	t.logger.Warn(conn.Tag()+" error", "conn", conn.ID(), "protocol", conn.Protocol(), "error", RootCause(err))
	t.close(conn)
}

// Close tears a connection down on server shutdown. Dispatches still in
// flight on it see Alive return false.
func (t *Tracker) Close(conn Conn) {
	t.logger.Debug(conn.Tag()+" closing", "conn", conn.ID(), "protocol", conn.Protocol())
	t.close(conn)
}

func (t *Tracker) close(conn Conn) {
	if conn.Kind() == KindDatagram {
		return
	}

	t.mu.Lock()
	state, ok := t.conns[conn.ID()]
	if ok {
		if state.State != StateActive {
			t.mu.Unlock()
			return
		}
		state.State = StateClosing
	}
	t.mu.Unlock()

	if err := conn.Close(); err != nil {
		t.logger.Debug(conn.Tag()+" close failed", "conn", conn.ID(), "error", err)
	}
}

// Disconnect releases the connection state. For stream connections of a
// protocol with real sessions, the bound device is marked inactive.
func (t *Tracker) Disconnect(conn Conn) {
	t.mu.Lock()
	state, ok := t.conns[conn.ID()]
	if ok {
		state.State = StateClosed
		delete(t.conns, conn.ID())
	}
	count := len(t.conns)
	t.mu.Unlock()

	t.observe(count)
	t.logger.Info(conn.Tag()+" disconnected", "conn", conn.ID(), "protocol", conn.Protocol())

	if !ok || state.DeviceID == "" || !t.ownsPresence(conn) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.storeTimeout)
	defer cancel()
	if err := t.devices.ClearActive(ctx, state.DeviceID); err != nil {
		t.logger.Warn(conn.Tag()+" failed to clear active device",
			"conn", conn.ID(), "device", state.DeviceID, "error", err)
	}
}

func (t *Tracker) ownsPresence(conn Conn) bool {
	if conn.Kind() != KindStream {
		return false
	}
	_, exempt := t.connectionless[conn.Protocol()]
	return !exempt
}

func (t *Tracker) observe(count int) {
	if t.onCount != nil {
		t.onCount(count)
	}
}

// RootCause follows the Unwrap chain to the innermost error.
func RootCause(err error) error {
	for err != nil {
		next := errors.Unwrap(err)
		if next == nil || next == err {
			return err
		}
		err = next
	}
	return err
}
