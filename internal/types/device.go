package types

import "encoding/binary"

type Endianness string

const (
	LittleEndian Endianness = "LE"
	BigEndian    Endianness = "BE"
)

// ByteOrder defaults to little-endian for anything that is not "BE".
func (e Endianness) ByteOrder() binary.ByteOrder {
	if e == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// DeviceInfo is what a connected PLC reports about itself.
type DeviceInfo struct {
	Arch           string            `json:"arch"`
	Version        string            `json:"version"`
	Program        int               `json:"program"`
	Memory         int               `json:"memory"`
	Stack          int               `json:"stack"`
	IsLittleEndian bool              `json:"is_little_endian"`
	Offsets        MemoryAreaOffsets `json:"offsets,omitempty"`
}

// Endianness of a nil DeviceInfo is little-endian.
func (d *DeviceInfo) Endianness() Endianness {
	if d == nil || d.IsLittleEndian {
		return LittleEndian
	}
	return BigEndian
}
