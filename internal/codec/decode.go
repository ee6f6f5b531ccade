package codec

import (
	"math"
	"unicode/utf8"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/symbols"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/types"
)

// DecodeResolved decodes buf according to the variant of addr.
func DecodeResolved(addr symbols.ResolvedAddress, buf []byte, order types.Endianness) Value {
	switch addr.Kind {
	case symbols.KindBit:
		return decodeBit(buf, addr.Bit)
	case symbols.KindString:
		return decodeString(addr.Tag.Canonical(), buf, order)
	case symbols.KindNumeric:
		return Decode(addr.Tag, buf, symbols.NoBit, order)
	default:
		return unavailable(addr.Tag)
	}
}

// Decode never fails: short buffers and unknown tags yield an invalid Value.
// bit is only consulted for the bit tag.
func Decode(tag types.TypeTag, buf []byte, bit int, order types.Endianness) Value {
	tag = tag.Canonical()
	bo := order.ByteOrder()

	if w := tag.Width(); w > 0 && len(buf) < w {
		return unavailable(tag)
	}

	switch tag {
	case types.TypeBit:
		return decodeBit(buf, bit)
	case types.TypeU8:
		return Value{Tag: tag, Raw: uint64(buf[0]), Valid: true}
	case types.TypeI8:
		return Value{Tag: tag, Raw: int64(int8(buf[0])), Valid: true}
	case types.TypeU16:
		return Value{Tag: tag, Raw: uint64(bo.Uint16(buf)), Valid: true}
	case types.TypeI16:
		return Value{Tag: tag, Raw: int64(int16(bo.Uint16(buf))), Valid: true}
	case types.TypeU32:
		return Value{Tag: tag, Raw: uint64(bo.Uint32(buf)), Valid: true}
	case types.TypeI32:
		return Value{Tag: tag, Raw: int64(int32(bo.Uint32(buf))), Valid: true}
	case types.TypeF32:
		return Value{Tag: tag, Raw: float64(math.Float32frombits(bo.Uint32(buf))), Valid: true}
	case types.TypeF64:
		return Value{Tag: tag, Raw: math.Float64frombits(bo.Uint64(buf)), Valid: true}
	case types.TypeHex:
		out := make([]byte, len(buf))
		copy(out, buf)
		return Value{Tag: tag, Raw: out, Valid: true}
	case types.TypeStr8, types.TypeStr16, types.TypeCStr8, types.TypeCStr16:
		return decodeString(tag, buf, order)
	default:
		return unavailable(tag)
	}
}

func decodeBit(buf []byte, bit int) Value {
	if len(buf) < 1 || bit < 0 || bit > 7 {
		return unavailable(types.TypeBit)
	}
	return Value{Tag: types.TypeBit, Raw: (buf[0]>>uint(bit))&1 == 1, Valid: true}
}

// StringHeader reads capacity and length from a string header.
func StringHeader(tag types.TypeTag, buf []byte, order types.Endianness) (capacity, length int, ok bool) {
	header := tag.HeaderSize()
	if header == 0 || len(buf) < header {
		return 0, 0, false
	}
	if header == 2 {
		return int(buf[0]), int(buf[1]), true
	}
	bo := order.ByteOrder()
	return int(bo.Uint16(buf[0:2])), int(bo.Uint16(buf[2:4])), true
}

func decodeString(tag types.TypeTag, buf []byte, order types.Endianness) Value {
	capacity, length, ok := StringHeader(tag, buf, order)
	if !ok {
		return unavailable(tag)
	}
	header := tag.HeaderSize()
	n := min(length, capacity, len(buf)-header)
	data := buf[header : header+n]

	if utf8.Valid(data) {
		return Value{Tag: tag, Raw: string(data), Valid: true}
	}
	// lossy Latin-1 fallback: one rune per byte
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return Value{Tag: tag, Raw: string(runes), Valid: true}
}
