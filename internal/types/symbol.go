package types

import "fmt"

// Location is a device memory area.
type Location string

const (
	LocationControl Location = "control"
	LocationInput   Location = "input"
	LocationOutput  Location = "output"
	LocationSystem  Location = "system"
	LocationMarker  Location = "marker"
	LocationTimer   Location = "timer"
	LocationCounter Location = "counter"
)

// Per-unit sizes of the timer and counter areas.
const (
	TimerStride   = 9
	CounterStride = 5
)

func (l Location) Valid() bool {
	switch l {
	case LocationControl, LocationInput, LocationOutput, LocationSystem,
		LocationMarker, LocationTimer, LocationCounter:
		return true
	}
	return false
}

// Stride is the number of bytes one address unit occupies in the area.
func (l Location) Stride() int {
	switch l {
	case LocationTimer:
		return TimerStride
	case LocationCounter:
		return CounterStride
	default:
		return 1
	}
}

type MemoryArea struct {
	Offset int `json:"offset" yaml:"offset" toml:"offset"`
	Size   int `json:"size" yaml:"size" toml:"size"`
}

// MemoryAreaOffsets maps each area to its place in the flat device memory.
// Overlap is not checked here; the device firmware is authoritative.
type MemoryAreaOffsets map[Location]MemoryArea

// Offset returns the base address of the area, 0 when it is not declared.
func (o MemoryAreaOffsets) Offset(l Location) int {
	return o[l].Offset
}

func (o MemoryAreaOffsets) Validate() error {
	for loc, area := range o {
		if !loc.Valid() {
			return fmt.Errorf("unknown memory area: %q", loc)
		}
		if area.Offset < 0 || area.Size < 0 {
			return fmt.Errorf("memory area %s: negative offset or size", loc)
		}
	}
	return nil
}

// Symbol is a named, typed reference into device memory.
// Address may carry a bit in its fractional part (3.2 = byte 3, bit 2).
type Symbol struct {
	Name     string   `json:"name" yaml:"name" toml:"name"`
	Location Location `json:"location" yaml:"location" toml:"location"`
	Address  float64  `json:"address" yaml:"address" toml:"address"`
	Type     TypeTag  `json:"type" yaml:"type" toml:"type"`
	Bit      *int     `json:"bit,omitempty" yaml:"bit,omitempty" toml:"bit,omitempty"`
	Capacity int      `json:"capacity,omitempty" yaml:"capacity,omitempty" toml:"capacity,omitempty"`
	Comment  string   `json:"comment,omitempty" yaml:"comment,omitempty" toml:"comment,omitempty"`
}
