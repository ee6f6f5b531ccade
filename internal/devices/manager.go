package devices

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/connection"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/monitor"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/types"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/watch"
	"go.uber.org/zap"
)

const (
	EventConnected    = "device_connected"
	EventDisconnected = "device_disconnected"
	EventMonitorState = "monitor_state"
)

// Event reports a change of the device session.
type Event struct {
	Type       string            `json:"type"`
	Connected  bool              `json:"connected"`
	Monitoring bool              `json:"monitoring"`
	Info       *types.DeviceInfo `json:"info,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

type Status struct {
	Transport  string            `json:"transport"`
	Connected  bool              `json:"connected"`
	Monitoring bool              `json:"monitoring"`
	Polling    bool              `json:"polling"`
	Info       *types.DeviceInfo `json:"info,omitempty"`
	Poller     monitor.Stats     `json:"poller"`
}

// Manager owns the device session: the active connection, the monitoring
// switch and the poll loop. Polling runs only while connected and monitoring.
type Manager struct {
	dialer   *Dialer
	registry *monitor.Registry
	table    *watch.Table
	poller   *monitor.Poller
	logger   *zap.Logger

	// connectMu serializes dials; mu guards the session state
	connectMu  sync.Mutex
	mu         sync.Mutex
	conn       connection.Connection
	monitoring bool

	listenersMu sync.RWMutex
	listeners   []func(Event)
}

func NewManager(dialer *Dialer, registry *monitor.Registry, table *watch.Table, opts monitor.Options, logger *zap.Logger) *Manager {
	m := &Manager{
		dialer:   dialer,
		registry: registry,
		table:    table,
		logger:   logger,
	}
	m.poller = monitor.NewPoller(registry, sessionReader{m}, opts, logger)
	return m
}

// OnEvent registers fn for session events.
func (m *Manager) OnEvent(fn func(Event)) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Connect dials the device. A previous connection whose transport died is
// torn down first. The dial itself runs without the session lock so status
// queries and polling are not held up by a slow device.
func (m *Manager) Connect(ctx context.Context) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	if m.conn != nil && m.conn.Connected() {
		m.mu.Unlock()
		return nil
	}
	lost := m.conn != nil
	if lost {
		if err := m.dropLocked(); err != nil {
			m.logger.Debug("Close of dead connection failed", zap.Error(err))
		}
	}
	monitoring := m.monitoring
	m.mu.Unlock()

	if lost {
		m.logger.Warn("Replacing dead device connection")
		m.emit(Event{Type: EventDisconnected, Monitoring: monitoring, Reason: "connection lost"})
	}

	conn, err := m.dialer.Dial()
	if err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}
	if err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect device: %w", err)
	}

	m.mu.Lock()
	m.conn = conn
	info := conn.DeviceInfo()
	m.table.SetOrder(info.Endianness())
	m.table.SetStale(false)
	m.reconcileLocked()
	monitoring = m.monitoring
	m.mu.Unlock()

	m.logger.Info("Device connected",
		zap.String("transport", m.dialer.Transport()),
		zap.String("endianness", string(info.Endianness())))

	m.emit(Event{Type: EventConnected, Connected: true, Monitoring: monitoring, Info: info})
	return nil
}

// Disconnect stops polling and closes the connection. Watch entries keep
// their last values and are marked stale.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if m.conn == nil {
		m.mu.Unlock()
		return nil
	}
	err := m.dropLocked()
	monitoring := m.monitoring
	m.mu.Unlock()

	m.logger.Info("Device disconnected")
	m.emit(Event{Type: EventDisconnected, Monitoring: monitoring, Reason: "requested"})
	return err
}

// SetMonitoring switches live value polling on or off. Switching off waits
// for the running dispatch, so it must not be called from a value listener.
func (m *Manager) SetMonitoring(on bool) {
	m.mu.Lock()
	changed := m.monitoring != on
	m.monitoring = on
	m.reconcileLocked()
	connected := m.conn != nil
	m.mu.Unlock()

	if changed {
		m.logger.Info("Monitoring switched", zap.Bool("active", on))
		m.emit(Event{Type: EventMonitorState, Connected: connected, Monitoring: on})
	}
}

func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil && m.conn.Connected()
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	s := Status{
		Transport:  m.dialer.Transport(),
		Connected:  m.conn != nil && m.conn.Connected(),
		Monitoring: m.monitoring,
	}
	if m.conn != nil {
		s.Info = m.conn.DeviceInfo()
	}
	m.mu.Unlock()

	s.Poller = m.poller.Stats()
	s.Polling = s.Poller.Running
	return s
}

// Write edits a watched value on the device.
func (m *Manager) Write(ctx context.Context, name, input string) error {
	conn := m.current()
	if conn == nil {
		return connection.ErrNotConnected
	}
	return m.table.Write(ctx, conn, name, input)
}

// ReadMemory reads raw device memory outside the poll loop.
func (m *Manager) ReadMemory(ctx context.Context, address, size int) ([]byte, error) {
	conn := m.current()
	if conn == nil {
		return nil, connection.ErrNotConnected
	}
	return conn.ReadMemoryArea(ctx, address, size)
}

// Poll runs one poll cycle immediately. It reports false when polling is not
// active or a cycle is already running.
func (m *Manager) Poll() bool {
	return m.poller.Tick()
}

// StopAll stops polling and disconnects the device
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	m.monitoring = false
	m.mu.Unlock()
	return m.Disconnect()
}

func (m *Manager) current() connection.Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

// reconcileLocked starts or stops the poller to match the session state.
func (m *Manager) reconcileLocked() {
	want := m.conn != nil && m.conn.Connected() && m.monitoring
	switch {
	case want && !m.poller.IsRunning():
		if err := m.poller.Start(); err != nil {
			m.logger.Error("Failed to start poller", zap.Error(err))
		}
	case !want && m.poller.IsRunning():
		m.poller.Stop()
	}
}

func (m *Manager) dropLocked() error {
	m.poller.Stop()
	err := m.conn.Close()
	m.conn = nil
	m.table.SetStale(true)
	return err
}

// connectionLost tears down a session whose transport failed underneath the
// poll loop.
func (m *Manager) connectionLost(conn connection.Connection, cause error) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	if err := m.dropLocked(); err != nil {
		m.logger.Debug("Close after connection loss failed", zap.Error(err))
	}
	monitoring := m.monitoring
	m.mu.Unlock()

	m.logger.Warn("Device connection lost", zap.Error(cause))
	m.emit(Event{Type: EventDisconnected, Monitoring: monitoring, Reason: cause.Error()})
}

func (m *Manager) emit(e Event) {
	e.Timestamp = time.Now()

	m.listenersMu.RLock()
	listeners := m.listeners
	m.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(e)
	}
}

// sessionReader lets one poller outlive individual connections.
type sessionReader struct {
	m *Manager
}

func (r sessionReader) ReadMemoryArea(ctx context.Context, address, size int) ([]byte, error) {
	conn := r.m.current()
	if conn == nil {
		return nil, connection.ErrNotConnected
	}

	data, err := conn.ReadMemoryArea(ctx, address, size)
	if err != nil && !conn.Connected() && !errors.Is(err, context.Canceled) {
		// Stop waits for the poll loop, so tear down from another goroutine.
		go r.m.connectionLost(conn, err)
	}
	return data, err
}
