package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/types"
)

const DefaultSimulatorMemory = 4096

// Simulator is an in-memory device used for offline work and tests.
type Simulator struct {
	mu        sync.Mutex
	memory    []byte
	info      types.DeviceInfo
	connected bool
	latency   time.Duration
	failure   error
}

func NewSimulator(size int, info types.DeviceInfo) *Simulator {
	if size <= 0 {
		size = DefaultSimulatorMemory
	}
	if info.Arch == "" {
		info.Arch = "simulator"
	}
	info.Memory = size
	return &Simulator{
		memory: make([]byte, size),
		info:   info,
	}
}

func (s *Simulator) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

func (s *Simulator) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Simulator) DeviceInfo() *types.DeviceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	info := s.info
	return &info
}

// SetLatency delays every read and write by d.
func (s *Simulator) SetLatency(d time.Duration) {
	s.mu.Lock()
	s.latency = d
	s.mu.Unlock()
}

// SetFailure makes every read and write fail with err until cleared with nil.
func (s *Simulator) SetFailure(err error) {
	s.mu.Lock()
	s.failure = err
	s.mu.Unlock()
}

// Poke writes memory directly, regardless of connection state.
func (s *Simulator) Poke(address int, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.memory[address:], data)
}

// Peek reads memory directly, regardless of connection state.
func (s *Simulator) Peek(address, size int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, size)
	copy(out, s.memory[address:])
	return out
}

func (s *Simulator) ReadMemoryArea(ctx context.Context, address, size int) ([]byte, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return nil, err
	}
	if err := CheckRange(address, size, len(s.memory)); err != nil {
		return nil, err
	}

	out := make([]byte, size)
	copy(out, s.memory[address:address+size])
	return out, nil
}

func (s *Simulator) WriteMemoryArea(ctx context.Context, address int, data []byte) error {
	if err := s.wait(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return err
	}
	if err := CheckRange(address, len(data), len(s.memory)); err != nil {
		return err
	}

	copy(s.memory[address:], data)
	return nil
}

func (s *Simulator) WriteMemoryAreaMasked(ctx context.Context, address int, values, masks []byte) error {
	if len(values) != len(masks) {
		return fmt.Errorf("masked write: %d values, %d masks", len(values), len(masks))
	}
	if err := s.wait(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return err
	}
	if err := CheckRange(address, len(values), len(s.memory)); err != nil {
		return err
	}

	Merge(s.memory[address:address+len(values)], values, masks)
	return nil
}

// usable must be called with mu held.
func (s *Simulator) usable() error {
	if !s.connected {
		return ErrNotConnected
	}
	return s.failure
}

func (s *Simulator) wait(ctx context.Context) error {
	s.mu.Lock()
	d := s.latency
	s.mu.Unlock()

	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
