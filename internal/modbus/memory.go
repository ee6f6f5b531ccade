package modbus

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/connection"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/types"
	"go.uber.org/zap"
)

const maxRegisterSpace = 0x10000 * 2

type Config struct {
	Address string
	UnitID  uint8
	Timeout time.Duration
	// Size is the PLC memory image in bytes, mapped two bytes per holding
	// register starting at BaseRegister.
	Size         int
	BaseRegister uint16
	Endianness   types.Endianness
}

// MemoryConnection exposes a PLC memory image over Modbus TCP holding
// registers. Byte 2n is the high byte of register BaseRegister+n.
type MemoryConnection struct {
	client *Client
	cfg    Config
	logger *zap.Logger

	mu   sync.Mutex
	info *types.DeviceInfo
}

var _ connection.Connection = (*MemoryConnection)(nil)

func NewMemoryConnection(cfg Config, logger *zap.Logger) *MemoryConnection {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	limit := maxRegisterSpace - 2*int(cfg.BaseRegister)
	if cfg.Size <= 0 || cfg.Size > limit {
		cfg.Size = limit
	}
	if cfg.Endianness == "" {
		cfg.Endianness = types.LittleEndian
	}

	return &MemoryConnection{
		client: NewClient(cfg.Address, cfg.Timeout),
		cfg:    cfg,
		logger: logger,
	}
}

func (m *MemoryConnection) Connect(ctx context.Context) error {
	if err := m.client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", m.cfg.Address, err)
	}

	m.mu.Lock()
	m.info = &types.DeviceInfo{
		Arch:           "modbus-tcp",
		Memory:         m.cfg.Size,
		IsLittleEndian: m.cfg.Endianness != types.BigEndian,
	}
	m.mu.Unlock()

	m.logger.Info("Modbus device connected",
		zap.String("address", m.cfg.Address),
		zap.Uint8("unit_id", m.cfg.UnitID),
		zap.Int("memory", m.cfg.Size))

	return nil
}

func (m *MemoryConnection) Close() error {
	m.mu.Lock()
	m.info = nil
	m.mu.Unlock()
	return m.client.Close()
}

func (m *MemoryConnection) Connected() bool {
	return m.client.Connected()
}

func (m *MemoryConnection) DeviceInfo() *types.DeviceInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.info == nil || !m.client.Connected() {
		return nil
	}
	info := *m.info
	return &info
}

func (m *MemoryConnection) ReadMemoryArea(ctx context.Context, address, size int) ([]byte, error) {
	if err := connection.CheckRange(address, size, m.cfg.Size); err != nil {
		return nil, err
	}

	first, count := span(address, size)
	buf, err := m.readRegisters(ctx, first, count)
	if err != nil {
		return nil, err
	}

	lo := address - 2*first
	return buf[lo : lo+size], nil
}

func (m *MemoryConnection) WriteMemoryArea(ctx context.Context, address int, data []byte) error {
	if err := connection.CheckRange(address, len(data), m.cfg.Size); err != nil {
		return err
	}

	first, count := span(address, len(data))
	lo := address - 2*first

	var buf []byte
	if lo != 0 || len(data)%2 != 0 {
		// partial registers at either end: read-modify-write
		existing, err := m.readRegisters(ctx, first, count)
		if err != nil {
			return err
		}
		buf = existing
	} else {
		buf = make([]byte, 2*count)
	}
	copy(buf[lo:], data)

	regs := make([]uint16, count)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(buf[2*i:])
	}

	for start := 0; start < count; start += MaxWriteRegisters {
		end := min(start+MaxWriteRegisters, count)
		addr := m.register(first + start)
		if err := m.client.WriteMultipleRegisters(ctx, m.cfg.UnitID, addr, regs[start:end]); err != nil {
			return fmt.Errorf("write registers %d..%d: %w", addr, int(addr)+end-start-1, err)
		}
	}
	return nil
}

func (m *MemoryConnection) WriteMemoryAreaMasked(ctx context.Context, address int, values, masks []byte) error {
	if len(values) != len(masks) {
		return fmt.Errorf("masked write: %d values, %d masks", len(values), len(masks))
	}
	if err := connection.CheckRange(address, len(values), m.cfg.Size); err != nil {
		return err
	}

	first, count := span(address, len(values))
	lo := address - 2*first

	vbuf := make([]byte, 2*count)
	mbuf := make([]byte, 2*count)
	copy(vbuf[lo:], values)
	copy(mbuf[lo:], masks)

	for i := 0; i < count; i++ {
		mask := binary.BigEndian.Uint16(mbuf[2*i:])
		if mask == 0 {
			continue
		}
		value := binary.BigEndian.Uint16(vbuf[2*i:])
		addr := m.register(first + i)
		if err := m.client.MaskWriteRegister(ctx, m.cfg.UnitID, addr, ^mask, value&mask); err != nil {
			return fmt.Errorf("mask write register %d: %w", addr, err)
		}
	}
	return nil
}

func (m *MemoryConnection) readRegisters(ctx context.Context, first, count int) ([]byte, error) {
	buf := make([]byte, 0, 2*count)
	for start := 0; start < count; start += MaxReadRegisters {
		n := min(MaxReadRegisters, count-start)
		addr := m.register(first + start)
		regs, err := m.client.ReadHoldingRegisters(ctx, m.cfg.UnitID, addr, uint16(n))
		if err != nil {
			return nil, fmt.Errorf("read registers %d..%d: %w", addr, int(addr)+n-1, err)
		}
		for _, r := range regs {
			buf = binary.BigEndian.AppendUint16(buf, r)
		}
	}
	return buf, nil
}

func (m *MemoryConnection) register(index int) uint16 {
	return m.cfg.BaseRegister + uint16(index)
}

// span returns the first register index and register count covering
// [address, address+size).
func span(address, size int) (first, count int) {
	first = address / 2
	last := (address + size - 1) / 2
	return first, last - first + 1
}
