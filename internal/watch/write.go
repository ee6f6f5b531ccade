package watch

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/codec"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/symbols"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/types"
	"go.uber.org/zap"
)

// Device is the part of a connection needed to edit values.
type Device interface {
	ReadMemoryArea(ctx context.Context, address, size int) ([]byte, error)
	WriteMemoryArea(ctx context.Context, address int, data []byte) error
	WriteMemoryAreaMasked(ctx context.Context, address int, values, masks []byte) error
}

// Write encodes input for the named row and writes it to dev. Bits are
// written with a mask so neighbouring bits are untouched. Strings use the
// capacity currently stored on the device, but the text never exceeds the
// symbol's own storage even when the device claims more.
func (t *Table) Write(ctx context.Context, dev Device, name, input string) error {
	t.mu.Lock()
	i := t.find(name)
	if i < 0 {
		t.mu.Unlock()
		return fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	resolved := t.rows[i].resolved
	order := t.order
	t.mu.Unlock()

	if resolved == nil {
		return fmt.Errorf("%q: %w", name, ErrUnresolved)
	}
	addr := *resolved

	var err error
	switch addr.Kind {
	case symbols.KindBit:
		err = writeBit(ctx, dev, addr, input)
	case symbols.KindString:
		err = writeString(ctx, dev, addr, input, order)
	case symbols.KindNumeric:
		err = writeNumeric(ctx, dev, addr, input, order)
	default:
		err = fmt.Errorf("kind %s: %w", addr.Kind, codec.ErrUnsupported)
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}

	t.logger.Info("Watch value written",
		zap.String("name", name),
		zap.Int("address", addr.Absolute),
		zap.String("type", string(addr.Tag)))
	return nil
}

func writeBit(ctx context.Context, dev Device, addr symbols.ResolvedAddress, input string) error {
	on, err := codec.ParseBool(input)
	if err != nil {
		return err
	}
	value, mask, err := codec.EncodeBit(addr.Bit, on)
	if err != nil {
		return err
	}
	return dev.WriteMemoryAreaMasked(ctx, addr.Absolute, []byte{value}, []byte{mask})
}

func writeString(ctx context.Context, dev Device, addr symbols.ResolvedAddress, input string, order types.Endianness) error {
	if addr.Tag.IsConstant() {
		return codec.ErrConstantEdit
	}

	header, err := dev.ReadMemoryArea(ctx, addr.Absolute, addr.Tag.HeaderSize())
	if err != nil {
		return fmt.Errorf("read string header: %w", err)
	}
	capacity, _, ok := codec.StringHeader(addr.Tag, header, order)
	if !ok {
		return fmt.Errorf("short string header: %w", codec.ErrInvalidInput)
	}
	// uninitialised memory reports zero capacity
	if capacity == 0 {
		capacity = addr.Capacity
	}
	// never write past the symbol's storage
	if len(input) > addr.Capacity {
		input = input[:addr.Capacity]
	}

	data, err := codec.EncodeString(addr.Tag, input, capacity, order)
	if err != nil {
		return err
	}
	return dev.WriteMemoryArea(ctx, addr.Absolute, data)
}

func writeNumeric(ctx context.Context, dev Device, addr symbols.ResolvedAddress, input string, order types.Endianness) error {
	data, err := codec.Encode(addr.Tag, input, order)
	if err != nil {
		return err
	}
	if addr.Tag.Canonical() == types.TypeHex {
		if len(data) > addr.Size {
			return fmt.Errorf("%d bytes into %d: %w", len(data), addr.Size, codec.ErrOutOfRange)
		}
		padded := make([]byte, addr.Size)
		copy(padded[addr.Size-len(data):], data)
		data = padded
	}
	return dev.WriteMemoryArea(ctx, addr.Absolute, data)
}
