package connection

import (
	"context"
	"errors"
	"fmt"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/types"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrOutOfRange   = errors.New("address out of range")
)

// Connection is a live link to a PLC's memory image.
type Connection interface {
	Connect(ctx context.Context) error
	Close() error
	Connected() bool
	// DeviceInfo is nil until the first successful Connect.
	DeviceInfo() *types.DeviceInfo

	ReadMemoryArea(ctx context.Context, address, size int) ([]byte, error)
	WriteMemoryArea(ctx context.Context, address int, data []byte) error
	// WriteMemoryAreaMasked replaces only the bits set in masks:
	// new = (old &^ mask) | (value & mask), byte by byte.
	WriteMemoryAreaMasked(ctx context.Context, address int, values, masks []byte) error
}

// CheckRange validates an access of size bytes at address against a memory of
// the given length.
func CheckRange(address, size, memory int) error {
	if address < 0 || size <= 0 || address+size > memory {
		return fmt.Errorf("[%d, %d) of %d bytes: %w", address, address+size, memory, ErrOutOfRange)
	}
	return nil
}

// Merge applies a masked write to old in place.
func Merge(old, values, masks []byte) {
	for i := range old {
		old[i] = (old[i] &^ masks[i]) | (values[i] & masks[i])
	}
}
