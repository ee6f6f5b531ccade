package codec

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/types"
)

var (
	ErrConstantEdit = errors.New("Edit rejected: constant")
	ErrOutOfRange   = errors.New("value out of range")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnsupported  = errors.New("unsupported type")
)

// Encode parses user input and encodes it at the exact width of tag.
func Encode(tag types.TypeTag, input string, order types.Endianness) ([]byte, error) {
	tag = tag.Canonical()
	input = strings.TrimSpace(input)

	switch {
	case tag.IsConstant():
		return nil, ErrConstantEdit
	case tag.IsString():
		return nil, fmt.Errorf("%s: use EncodeString: %w", tag, ErrUnsupported)
	case tag == types.TypeHex:
		return parseHex(input)
	case tag == types.TypeBit:
		on, err := ParseBool(input)
		if err != nil {
			return nil, err
		}
		return EncodeValue(tag, on, order)
	case tag == types.TypeF32 || tag == types.TypeF64:
		f, err := strconv.ParseFloat(input, 64)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", input, ErrInvalidInput)
		}
		return EncodeValue(tag, f, order)
	case tag == types.TypeU8 || tag == types.TypeU16 || tag == types.TypeU32:
		u, err := strconv.ParseUint(input, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", input, ErrInvalidInput)
		}
		return EncodeValue(tag, u, order)
	case tag == types.TypeI8 || tag == types.TypeI16 || tag == types.TypeI32:
		i, err := strconv.ParseInt(input, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", input, ErrInvalidInput)
		}
		return EncodeValue(tag, i, order)
	default:
		return nil, fmt.Errorf("%q: %w", tag, ErrUnsupported)
	}
}

// EncodeValue encodes a Go number or bool. Single-byte types ignore order.
func EncodeValue(tag types.TypeTag, v any, order types.Endianness) ([]byte, error) {
	tag = tag.Canonical()
	bo := order.ByteOrder()
	buf := make([]byte, tag.Width())

	switch tag {
	case types.TypeBit:
		on, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("bit needs bool, got %T: %w", v, ErrInvalidInput)
		}
		if on {
			buf[0] = 1
		}
		return buf, nil
	case types.TypeF32:
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		if !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
			return nil, fmt.Errorf("%v: %w", f, ErrOutOfRange)
		}
		bo.PutUint32(buf, math.Float32bits(float32(f)))
		return buf, nil
	case types.TypeF64:
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		bo.PutUint64(buf, math.Float64bits(f))
		return buf, nil
	case types.TypeU8, types.TypeU16, types.TypeU32:
		u, err := toUint(v, uint64(1)<<(8*len(buf))-1)
		if err != nil {
			return nil, err
		}
		putUint(buf, u, bo)
		return buf, nil
	case types.TypeI8, types.TypeI16, types.TypeI32:
		bits := 8 * len(buf)
		i, err := toInt(v, -(int64(1) << (bits - 1)), int64(1)<<(bits-1)-1)
		if err != nil {
			return nil, err
		}
		putUint(buf, uint64(i), bo)
		return buf, nil
	default:
		return nil, fmt.Errorf("%q: %w", tag, ErrUnsupported)
	}
}

func putUint(buf []byte, u uint64, bo binary.ByteOrder) {
	switch len(buf) {
	case 1:
		buf[0] = byte(u)
	case 2:
		bo.PutUint16(buf, uint16(u))
	case 4:
		bo.PutUint32(buf, uint32(u))
	}
}

// EncodeBit returns the value and mask bytes for a masked single-bit write.
func EncodeBit(bit int, on bool) (value, mask byte, err error) {
	if bit < 0 || bit > 7 {
		return 0, 0, fmt.Errorf("bit %d: %w", bit, ErrOutOfRange)
	}
	mask = 1 << uint(bit)
	if on {
		value = mask
	}
	return value, mask, nil
}

// EncodeString truncates text to capacity bytes and prepends the header.
// capacity must be the value currently reported by the device.
func EncodeString(tag types.TypeTag, text string, capacity int, order types.Endianness) ([]byte, error) {
	tag = tag.Canonical()
	if tag.IsConstant() {
		return nil, ErrConstantEdit
	}
	if !tag.IsString() {
		return nil, fmt.Errorf("%q: %w", tag, ErrUnsupported)
	}
	if capacity < 0 || capacity > tag.MaxCapacity() {
		return nil, fmt.Errorf("capacity %d: %w", capacity, ErrOutOfRange)
	}

	data := []byte(text)
	if len(data) > capacity {
		data = data[:capacity]
	}

	header := tag.HeaderSize()
	buf := make([]byte, header+len(data))
	if header == 2 {
		buf[0] = byte(capacity)
		buf[1] = byte(len(data))
	} else {
		bo := order.ByteOrder()
		bo.PutUint16(buf[0:2], uint16(capacity))
		bo.PutUint16(buf[2:4], uint16(len(data)))
	}
	copy(buf[header:], data)
	return buf, nil
}

// ParseBool accepts 1/0, true/false, on/off (any case).
func ParseBool(input string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "1", "true", "on":
		return true, nil
	case "0", "false", "off":
		return false, nil
	}
	return false, fmt.Errorf("%q: %w", input, ErrInvalidInput)
}

func parseHex(input string) ([]byte, error) {
	s := strings.ReplaceAll(input, " ", "")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) == 0 {
		return nil, fmt.Errorf("%q: %w", input, ErrInvalidInput)
	}
	return b, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("%T: %w", v, ErrInvalidInput)
}

func toInt(v any, lo, hi int64) (int64, error) {
	var i int64
	switch n := v.(type) {
	case int:
		i = int64(n)
	case int8:
		i = int64(n)
	case int16:
		i = int64(n)
	case int32:
		i = int64(n)
	case int64:
		i = n
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("%d: %w", n, ErrOutOfRange)
		}
		i = int64(n)
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v: %w", n, ErrInvalidInput)
		}
		if n < float64(lo) || n > float64(hi) {
			return 0, fmt.Errorf("%v: %w", n, ErrOutOfRange)
		}
		i = int64(n)
	default:
		return 0, fmt.Errorf("%T: %w", v, ErrInvalidInput)
	}
	if i < lo || i > hi {
		return 0, fmt.Errorf("%d: %w", i, ErrOutOfRange)
	}
	return i, nil
}

func toUint(v any, hi uint64) (uint64, error) {
	var u uint64
	switch n := v.(type) {
	case uint:
		u = uint64(n)
	case uint8:
		u = uint64(n)
	case uint16:
		u = uint64(n)
	case uint32:
		u = uint64(n)
	case uint64:
		u = n
	case int:
		if n < 0 {
			return 0, fmt.Errorf("%d: %w", n, ErrOutOfRange)
		}
		u = uint64(n)
	case int64:
		if n < 0 {
			return 0, fmt.Errorf("%d: %w", n, ErrOutOfRange)
		}
		u = uint64(n)
	case float64:
		if n < 0 || n != math.Trunc(n) || n > float64(hi) {
			return 0, fmt.Errorf("%v: %w", n, ErrOutOfRange)
		}
		u = uint64(n)
	default:
		return 0, fmt.Errorf("%T: %w", v, ErrInvalidInput)
	}
	if u > hi {
		return 0, fmt.Errorf("%d: %w", u, ErrOutOfRange)
	}
	return u, nil
}
