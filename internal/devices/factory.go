package devices

import (
	"fmt"
	"strings"
	"sync"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/config"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/connection"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/modbus"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/types"
	"go.uber.org/zap"
)

// Dialer builds connections from the device configuration. The simulator is
// created once so its memory survives reconnects.
type Dialer struct {
	cfg    config.DeviceConfig
	logger *zap.Logger

	once sync.Once
	sim  *connection.Simulator
}

func NewDialer(cfg config.DeviceConfig, logger *zap.Logger) (*Dialer, error) {
	switch cfg.Transport {
	case "simulator", "modbus":
	default:
		return nil, fmt.Errorf("unknown transport: %s", cfg.Transport)
	}
	return &Dialer{cfg: cfg, logger: logger}, nil
}

func (d *Dialer) Transport() string {
	return d.cfg.Transport
}

func (d *Dialer) endianness() types.Endianness {
	if strings.EqualFold(d.cfg.Endianness, string(types.BigEndian)) {
		return types.BigEndian
	}
	return types.LittleEndian
}

// Dial returns an unconnected connection.
func (d *Dialer) Dial() (connection.Connection, error) {
	switch d.cfg.Transport {
	case "simulator":
		return d.Simulator(), nil
	case "modbus":
		return modbus.NewMemoryConnection(modbus.Config{
			Address:      d.cfg.Address,
			UnitID:       d.cfg.UnitID,
			Timeout:      d.cfg.Timeout,
			Size:         d.cfg.MemorySize,
			BaseRegister: d.cfg.Modbus.BaseRegister,
			Endianness:   d.endianness(),
		}, d.logger), nil
	default:
		return nil, fmt.Errorf("unknown transport: %s", d.cfg.Transport)
	}
}

// Simulator returns the shared simulator, creating it on first use.
func (d *Dialer) Simulator() *connection.Simulator {
	d.once.Do(func() {
		d.sim = connection.NewSimulator(d.cfg.MemorySize, types.DeviceInfo{
			Arch:           "simulator",
			Version:        "1.0",
			IsLittleEndian: d.endianness() == types.LittleEndian,
		})
		d.sim.SetLatency(d.cfg.Simulator.Latency)
	})
	return d.sim
}
