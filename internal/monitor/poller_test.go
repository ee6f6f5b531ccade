package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
)

// fakeMemory serves reads from a byte slice and records every request.
type fakeMemory struct {
	mu     sync.Mutex
	memory []byte
	reads  []Range
	fail   map[int]error
}

func newFakeMemory(size int) *fakeMemory {
	m := &fakeMemory{memory: make([]byte, size), fail: map[int]error{}}
	for i := range m.memory {
		m.memory[i] = byte(i)
	}
	return m
}

func (m *fakeMemory) ReadMemoryArea(ctx context.Context, address, size int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads = append(m.reads, Range{Address: address, Size: size})
	if err := m.fail[address]; err != nil {
		return nil, err
	}
	out := make([]byte, size)
	copy(out, m.memory[address:address+size])
	return out, nil
}

func (m *fakeMemory) Reads() []Range {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Range(nil), m.reads...)
}

// gatedReader blocks every read until release is closed.
type gatedReader struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedReader() *gatedReader {
	return &gatedReader{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedReader) ReadMemoryArea(ctx context.Context, address, size int) ([]byte, error) {
	g.once.Do(func() { close(g.started) })
	<-g.release
	return make([]byte, size), nil
}

// manual returns options whose ticker never fires during a test.
func manual() Options {
	return Options{Interval: time.Hour, ReadTimeout: time.Second}
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestPollerIssuesMergedReads(t *testing.T) {
	reg := NewRegistry()
	mem := newFakeMemory(32)
	var a, b, c recorder
	mustRegister(t, reg, "watch", 0, 4, a.callback)
	mustRegister(t, reg, "watch", 2, 4, b.callback)
	mustRegister(t, reg, "watch", 10, 2, c.callback)

	p := NewPoller(reg, mem, manual(), zap.NewNop())
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	if !p.Tick() {
		t.Fatal("Tick did not run")
	}

	want := []Range{{Address: 0, Size: 6}, {Address: 10, Size: 2}}
	if diff := cmp.Diff(want, mem.Reads()); diff != "" {
		t.Fatalf("reads (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]byte{{0, 1, 2, 3}}, a.got); diff != "" {
		t.Errorf("a (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]byte{{2, 3, 4, 5}}, b.got); diff != "" {
		t.Errorf("b (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]byte{{10, 11}}, c.got); diff != "" {
		t.Errorf("c (-want +got):\n%s", diff)
	}
	if s := p.Stats(); s.Cycles != 1 || s.Reads != 2 {
		t.Errorf("stats = %+v", s)
	}
}

func TestPollerDiscardsReadsCompletingAfterStop(t *testing.T) {
	reg := NewRegistry()
	gate := newGatedReader()
	called := make(chan []byte, 1)
	mustRegister(t, reg, "watch", 0, 4, func(data []byte) { called <- data })

	p := NewPoller(reg, gate, manual(), zap.NewNop())
	p.Start()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Tick()
	}()

	waitFor(t, gate.started, "read to be issued")
	p.Stop()
	close(gate.release)
	waitFor(t, done, "cycle to finish")

	select {
	case data := <-called:
		t.Fatalf("stale read dispatched: %v", data)
	default:
	}
	if s := p.Stats(); s.Discarded != 1 {
		t.Errorf("discarded = %d, want 1", s.Discarded)
	}
}

func TestPollerSkipsTickWhileCycleInFlight(t *testing.T) {
	reg := NewRegistry()
	gate := newGatedReader()
	mustRegister(t, reg, "watch", 0, 1, func([]byte) {})

	p := NewPoller(reg, gate, manual(), zap.NewNop())
	p.Start()
	defer p.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Tick()
	}()
	waitFor(t, gate.started, "first read")

	if p.Tick() {
		t.Fatal("second Tick ran while first was in flight")
	}
	close(gate.release)
	waitFor(t, done, "first cycle")

	if s := p.Stats(); s.Skipped != 1 || s.Cycles != 1 {
		t.Errorf("stats = %+v, want 1 skipped and 1 cycle", s)
	}
	if !p.Tick() {
		t.Error("Tick after completion did not run")
	}
}

func TestPollerContinuesAfterReadFailure(t *testing.T) {
	reg := NewRegistry()
	mem := newFakeMemory(64)
	mem.fail[0] = errors.New("timeout")
	var bad, good recorder
	mustRegister(t, reg, "watch", 0, 2, bad.callback)
	mustRegister(t, reg, "watch", 20, 2, good.callback)

	p := NewPoller(reg, mem, manual(), zap.NewNop())
	p.Start()
	defer p.Stop()

	p.Tick()
	p.Tick()

	if len(bad.got) != 0 {
		t.Errorf("failed range dispatched %v", bad.got)
	}
	if len(good.got) != 2 {
		t.Errorf("healthy range dispatched %d times, want 2", len(good.got))
	}
	if s := p.Stats(); s.ReadErrors != 2 || s.Cycles != 2 {
		t.Errorf("stats = %+v", s)
	}
}

func TestPollerTicker(t *testing.T) {
	reg := NewRegistry()
	mem := newFakeMemory(8)
	got := make(chan struct{}, 16)
	mustRegister(t, reg, "watch", 1, 1, func([]byte) {
		select {
		case got <- struct{}{}:
		default:
		}
	})

	p := NewPoller(reg, mem, Options{Interval: 5 * time.Millisecond}, zap.NewNop())
	p.Start()
	defer p.Stop()

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("ticker never dispatched")
	}
}

func TestPollerRestartAfterStop(t *testing.T) {
	reg := NewRegistry()
	mem := newFakeMemory(8)
	var rec recorder
	mustRegister(t, reg, "watch", 0, 1, rec.callback)

	p := NewPoller(reg, mem, manual(), zap.NewNop())
	p.Start()
	p.Stop()
	if p.Tick() {
		t.Fatal("Tick ran on a stopped poller")
	}
	p.Stop() // second Stop is a no-op

	p.Start()
	defer p.Stop()
	if !p.Tick() {
		t.Fatal("Tick did not run after restart")
	}
	if len(rec.got) != 1 {
		t.Fatalf("dispatches = %d, want 1", len(rec.got))
	}
	if p.Stats().Generation != 3 {
		t.Errorf("generation = %d, want 3", p.Stats().Generation)
	}
}

func TestPollerCallbackMayMutateRegistry(t *testing.T) {
	reg := NewRegistry()
	mem := newFakeMemory(16)
	var later recorder
	var self Handle
	self = mustRegister(t, reg, "watch", 0, 1, func([]byte) {
		reg.Unregister(self)
		if _, err := reg.Register("watch", 8, 1, later.callback); err != nil {
			t.Errorf("Register from callback: %v", err)
		}
	})

	p := NewPoller(reg, mem, manual(), zap.NewNop())
	p.Start()
	defer p.Stop()

	p.Tick()
	if len(later.got) != 0 {
		t.Fatal("registration made during dispatch ran in the same cycle")
	}
	p.Tick()
	if diff := cmp.Diff([][]byte{{8}}, later.got); diff != "" {
		t.Fatalf("later (-want +got):\n%s", diff)
	}
}

func TestPollerCallbackStopsPollingAsync(t *testing.T) {
	reg := NewRegistry()
	mem := newFakeMemory(8)
	p := NewPoller(reg, mem, manual(), zap.NewNop())

	stopped := make(chan struct{})
	mustRegister(t, reg, "watch", 0, 1, func([]byte) {
		// Stop waits for dispatch, so it must not run on this goroutine
		go func() {
			p.Stop()
			close(stopped)
		}()
	})

	p.Start()
	if !p.Tick() {
		t.Fatal("Tick did not run")
	}
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop from callback did not complete")
	}
	if p.IsRunning() {
		t.Error("poller still running")
	}
}
