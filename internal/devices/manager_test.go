package devices

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/config"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/connection"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/monitor"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/symbols"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/types"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/watch"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
	ch     chan Event
}

func (l *eventLog) record(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e.Type)
	l.mu.Unlock()
	select {
	case l.ch <- e:
	default:
	}
}

func (l *eventLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func newTestManager(t *testing.T) (*Manager, *Dialer, *watch.Table, *eventLog) {
	t.Helper()
	logger := zap.NewNop()
	dialer, err := NewDialer(config.DeviceConfig{Transport: "simulator", MemorySize: 256, Endianness: "LE"}, logger)
	if err != nil {
		t.Fatal(err)
	}

	syms := []types.Symbol{{Name: "Speed", Location: types.LocationMarker, Address: 2, Type: types.TypeU16}}
	offsets := types.MemoryAreaOffsets{types.LocationMarker: {Offset: 16, Size: 64}}

	registry := monitor.NewRegistry()
	table := watch.NewTable(registry, symbols.NewResolver(syms, offsets), logger)
	m := NewManager(dialer, registry, table, monitor.Options{Interval: time.Hour}, logger)
	t.Cleanup(func() { m.StopAll(context.Background()) })

	log := &eventLog{ch: make(chan Event, 8)}
	m.OnEvent(log.record)
	return m, dialer, table, log
}

func TestManagerPollsOnlyWhenConnectedAndMonitoring(t *testing.T) {
	m, _, _, log := newTestManager(t)
	ctx := context.Background()

	if m.Status().Polling {
		t.Fatal("polling before connect")
	}
	m.SetMonitoring(true)
	if m.Status().Polling {
		t.Fatal("polling while disconnected")
	}
	if err := m.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if !m.Status().Polling {
		t.Fatal("not polling while connected and monitoring")
	}
	m.SetMonitoring(false)
	if m.Status().Polling {
		t.Fatal("polling with monitoring off")
	}
	m.SetMonitoring(true)
	if err := m.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if s := m.Status(); s.Polling || s.Connected || !s.Monitoring {
		t.Fatalf("status after disconnect = %+v", s)
	}

	want := []string{EventMonitorState, EventConnected, EventMonitorState, EventMonitorState, EventDisconnected}
	if diff := cmp.Diff(want, log.types()); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestManagerLiveValues(t *testing.T) {
	m, dialer, table, _ := newTestManager(t)
	ctx := context.Background()

	table.Add("Speed", "")
	dialer.Simulator().Poke(18, []byte{0xE8, 0x03})

	if err := m.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	m.SetMonitoring(true)
	if !m.Poll() {
		t.Fatal("Poll did not run")
	}
	e, _ := table.Get("Speed")
	if e.Value != "1000" {
		t.Fatalf("value = %q, want 1000", e.Value)
	}

	if err := m.Write(ctx, "Speed", "42"); err != nil {
		t.Fatal(err)
	}
	m.Poll()
	if e, _ := table.Get("Speed"); e.Value != "42" {
		t.Fatalf("value after write = %q", e.Value)
	}

	mem, err := m.ReadMemory(ctx, 18, 2)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{42, 0}, mem); diff != "" {
		t.Errorf("memory (-want +got):\n%s", diff)
	}

	m.Disconnect()
	if e, _ := table.Get("Speed"); e.Value != "42" || !e.Stale {
		t.Fatalf("entry after disconnect = %+v", e)
	}
	if err := m.Write(ctx, "Speed", "1"); !errors.Is(err, connection.ErrNotConnected) {
		t.Errorf("write while disconnected: %v", err)
	}
	if _, err := m.ReadMemory(ctx, 0, 1); !errors.Is(err, connection.ErrNotConnected) {
		t.Errorf("read while disconnected: %v", err)
	}
}

func TestManagerDetectsLostConnection(t *testing.T) {
	m, dialer, table, log := newTestManager(t)
	table.Add("Speed", "")

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	m.SetMonitoring(true)
	<-log.ch
	<-log.ch

	// the device goes away underneath the session
	dialer.Simulator().Close()
	m.Poll()

	select {
	case e := <-log.ch:
		if e.Type != EventDisconnected || e.Reason == "" {
			t.Fatalf("event = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connection loss not reported")
	}
	if m.Connected() || m.Status().Polling {
		t.Fatal("session still active after loss")
	}

	// reconnecting reuses the simulator
	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !m.Status().Polling {
		t.Fatal("polling not resumed after reconnect")
	}
}

func TestConnectReplacesDeadConnection(t *testing.T) {
	m, dialer, table, log := newTestManager(t)
	table.Add("Speed", "")
	ctx := context.Background()

	if err := m.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	m.SetMonitoring(true)
	before := m.Status().Poller.Generation

	// transport gone, but no poll has noticed it yet
	dialer.Simulator().Close()
	if err := m.Connect(ctx); err != nil {
		t.Fatal(err)
	}

	s := m.Status()
	if !s.Connected || !s.Polling {
		t.Fatalf("status after reconnect = %+v", s)
	}
	if s.Poller.Generation <= before {
		t.Errorf("poller generation = %d, want > %d", s.Poller.Generation, before)
	}

	want := []string{EventConnected, EventMonitorState, EventDisconnected, EventConnected}
	if diff := cmp.Diff(want, log.types()); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}

	dialer.Simulator().Poke(18, []byte{7, 0})
	m.Poll()
	if e, _ := table.Get("Speed"); e.Value != "7" || e.Stale {
		t.Errorf("entry after reconnect = %+v", e)
	}
}

func TestNewDialerRejectsUnknownTransport(t *testing.T) {
	if _, err := NewDialer(config.DeviceConfig{Transport: "carrier-pigeon"}, zap.NewNop()); err == nil {
		t.Fatal("unknown transport accepted")
	}
}
