package codec

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/symbols"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/types"
)

func TestNumericRoundTrip(t *testing.T) {
	tests := []struct {
		tag   types.TypeTag
		value any
	}{
		{types.TypeBit, true},
		{types.TypeBit, false},
		{types.TypeU8, uint64(0)},
		{types.TypeByte, uint64(255)},
		{types.TypeI8, int64(-128)},
		{types.TypeI8, int64(127)},
		{types.TypeInt, int64(-12345)},
		{types.TypeI16, int64(32767)},
		{types.TypeU16, uint64(65535)},
		{types.TypeDint, int64(math.MinInt32)},
		{types.TypeI32, int64(123456789)},
		{types.TypeU32, uint64(math.MaxUint32)},
		{types.TypeReal, float64(1)},
		{types.TypeF32, float64(-273.5)},
		{types.TypeF64, 3.141592653589793},
		{types.TypeF64, -1e300},
	}
	for _, order := range []types.Endianness{types.LittleEndian, types.BigEndian} {
		for _, tt := range tests {
			t.Run(string(order)+"/"+string(tt.tag), func(t *testing.T) {
				buf, err := EncodeValue(tt.tag, tt.value, order)
				if err != nil {
					t.Fatalf("EncodeValue(%v): %v", tt.value, err)
				}
				if len(buf) != tt.tag.Width() {
					t.Fatalf("encoded width = %d, want %d", len(buf), tt.tag.Width())
				}
				got := Decode(tt.tag, buf, 0, order)
				if !got.Valid {
					t.Fatalf("Decode returned invalid value for %x", buf)
				}
				if diff := cmp.Diff(tt.value, got.Raw); diff != "" {
					t.Errorf("round trip mismatch (-want +got):\n%s", diff)
				}
			})
		}
	}
}

func TestEncodeFromInput(t *testing.T) {
	tests := []struct {
		tag   types.TypeTag
		input string
		order types.Endianness
		want  []byte
	}{
		{types.TypeReal, "1", types.LittleEndian, []byte{0x00, 0x00, 0x80, 0x3F}},
		{types.TypeReal, "1", types.BigEndian, []byte{0x3F, 0x80, 0x00, 0x00}},
		{types.TypeU16, "0x1234", types.LittleEndian, []byte{0x34, 0x12}},
		{types.TypeI16, "-2", types.BigEndian, []byte{0xFF, 0xFE}},
		{types.TypeU8, "200", types.BigEndian, []byte{200}},
		{types.TypeBit, "on", types.LittleEndian, []byte{1}},
		{types.TypeHex, "0x0A0B", types.LittleEndian, []byte{0x0A, 0x0B}},
		{types.TypeHex, "F", types.LittleEndian, []byte{0x0F}},
	}
	for _, tt := range tests {
		t.Run(string(tt.tag)+"="+tt.input, func(t *testing.T) {
			got, err := Encode(tt.tag, tt.input, tt.order)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Encode mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodeRejects(t *testing.T) {
	tests := []struct {
		tag   types.TypeTag
		input string
		want  error
	}{
		{types.TypeU8, "256", ErrOutOfRange},
		{types.TypeU8, "-1", ErrInvalidInput},
		{types.TypeI8, "128", ErrOutOfRange},
		{types.TypeI16, "abc", ErrInvalidInput},
		{types.TypeF32, "1e40", ErrOutOfRange},
		{types.TypeBit, "maybe", ErrInvalidInput},
		{types.TypeCStr8, "hello", ErrConstantEdit},
		{types.TypeCStr16, "hello", ErrConstantEdit},
		{types.TypeStr8, "hello", ErrUnsupported},
		{types.TypeHex, "zz", ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(string(tt.tag)+"="+tt.input, func(t *testing.T) {
			_, err := Encode(tt.tag, tt.input, types.LittleEndian)
			if !errors.Is(err, tt.want) {
				t.Errorf("Encode(%q) error = %v, want %v", tt.input, err, tt.want)
			}
		})
	}
}

func TestConstantEditMessage(t *testing.T) {
	_, err := EncodeString(types.TypeCStr8, "x", 8, types.LittleEndian)
	if err == nil || err.Error() != "Edit rejected: constant" {
		t.Fatalf("EncodeString(cstr8) error = %v", err)
	}
}

func TestDecodeDisplay(t *testing.T) {
	tests := []struct {
		name  string
		tag   types.TypeTag
		buf   []byte
		bit   int
		order types.Endianness
		want  string
	}{
		{"real one", types.TypeReal, []byte{0x00, 0x00, 0x80, 0x3F}, 0, types.LittleEndian, "1.000"},
		{"real big endian", types.TypeReal, []byte{0x3F, 0x80, 0x00, 0x00}, 0, types.BigEndian, "1.000"},
		{"bit on", types.TypeBit, []byte{0b0000_1000}, 3, types.LittleEndian, "ON"},
		{"bit off", types.TypeBit, []byte{0b1111_0111}, 3, types.LittleEndian, "OFF"},
		{"bit without index", types.TypeBit, []byte{0xFF}, symbols.NoBit, types.LittleEndian, Unavailable},
		{"i8", types.TypeI8, []byte{0xFF}, 0, types.LittleEndian, "-1"},
		{"u32", types.TypeU32, []byte{1, 0, 0, 0}, 0, types.LittleEndian, "1"},
		{"hex", types.TypeHex, []byte{0xDE, 0xAD}, 0, types.LittleEndian, "0xDEAD"},
		{"short i16", types.TypeI16, []byte{1}, 0, types.LittleEndian, Unavailable},
		{"short f64", types.TypeF64, []byte{1, 2, 3, 4}, 0, types.LittleEndian, Unavailable},
		{"empty u8", types.TypeU8, nil, 0, types.LittleEndian, Unavailable},
		{"unknown tag", "u128", []byte{1, 2}, 0, types.LittleEndian, Unavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decode(tt.tag, tt.buf, tt.bit, tt.order).String()
			if got != tt.want {
				t.Errorf("Decode().String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeStrings(t *testing.T) {
	tests := []struct {
		name  string
		tag   types.TypeTag
		buf   []byte
		order types.Endianness
		want  string
	}{
		{"str8", types.TypeStr8, []byte{8, 5, 'h', 'e', 'l', 'l', 'o', 0, 0, 0}, types.LittleEndian, `"hello"`},
		{"length clamped to capacity", types.TypeStr8, []byte{3, 5, 'h', 'e', 'l', 'l', 'o'}, types.LittleEndian, `"hel"`},
		{"length clamped to buffer", types.TypeCStr8, []byte{10, 10, 'a', 'b'}, types.LittleEndian, `"ab"`},
		{"utf8", types.TypeStr8, []byte{4, 3, 0xE2, 0x82, 0xAC, 0}, types.LittleEndian, `"€"`},
		{"latin1 fallback", types.TypeStr8, []byte{4, 2, 0xE9, 0x41}, types.LittleEndian, `"éA"`},
		{"str16 little endian", types.TypeStr16, []byte{4, 0, 2, 0, 'o', 'k', 0, 0}, types.LittleEndian, `"ok"`},
		{"str16 big endian", types.TypeCStr16, []byte{0, 4, 0, 2, 'o', 'k', 0, 0}, types.BigEndian, `"ok"`},
		{"empty string", types.TypeStr8, []byte{4, 0}, types.LittleEndian, `""`},
		{"short header", types.TypeStr16, []byte{4, 0, 2}, types.LittleEndian, Unavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decode(tt.tag, tt.buf, symbols.NoBit, tt.order).String()
			if got != tt.want {
				t.Errorf("Decode().String() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEncodeStringTruncatesToCapacity(t *testing.T) {
	input := "Grüße aus der Fabrik"
	encoded := []byte(input)

	for _, tt := range []struct {
		tag      types.TypeTag
		capacity int
	}{
		{types.TypeStr8, 6},
		{types.TypeStr8, 255},
		{types.TypeStr16, 4},
	} {
		buf, err := EncodeString(tt.tag, input, tt.capacity, types.LittleEndian)
		if err != nil {
			t.Fatalf("EncodeString(%s, %d): %v", tt.tag, tt.capacity, err)
		}
		capacity, length, ok := StringHeader(tt.tag, buf, types.LittleEndian)
		if !ok {
			t.Fatalf("header missing in %x", buf)
		}
		wantLen := min(len(encoded), tt.capacity)
		if capacity != tt.capacity || length != wantLen {
			t.Errorf("%s header = (%d, %d), want (%d, %d)", tt.tag, capacity, length, tt.capacity, wantLen)
		}
		if diff := cmp.Diff(encoded[:wantLen], buf[tt.tag.HeaderSize():]); diff != "" {
			t.Errorf("%s data mismatch (-want +got):\n%s", tt.tag, diff)
		}
	}
}

func TestEncodeStringRejectsBadCapacity(t *testing.T) {
	if _, err := EncodeString(types.TypeStr8, "x", 300, types.LittleEndian); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("capacity 300 error = %v", err)
	}
	if _, err := EncodeString(types.TypeU8, "x", 3, types.LittleEndian); !errors.Is(err, ErrUnsupported) {
		t.Errorf("u8 error = %v", err)
	}
}

func TestEncodeBitIsolation(t *testing.T) {
	for bit := 0; bit < 8; bit++ {
		for _, on := range []bool{true, false} {
			value, mask, err := EncodeBit(bit, on)
			if err != nil {
				t.Fatal(err)
			}
			if mask != 1<<uint(bit) {
				t.Fatalf("bit %d: mask = %08b", bit, mask)
			}
			if value&^mask != 0 {
				t.Fatalf("bit %d: value %08b sets bits outside mask", bit, value)
			}
			// apply to every possible byte: only the target bit may change
			for old := 0; old < 256; old++ {
				next := byte(old)&^mask | value&mask
				if (next^byte(old))&^mask != 0 {
					t.Fatalf("bit %d changed sibling bits: %08b -> %08b", bit, old, next)
				}
			}
		}
	}
	if _, _, err := EncodeBit(8, true); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("EncodeBit(8) error = %v", err)
	}
}

func TestDecodeResolvedVariants(t *testing.T) {
	bit := symbols.ResolvedAddress{Kind: symbols.KindBit, Tag: types.TypeBit, Bit: 3, Size: 1}
	if got := DecodeResolved(bit, []byte{0x08}, types.LittleEndian).String(); got != "ON" {
		t.Errorf("bit variant = %s", got)
	}
	str := symbols.ResolvedAddress{Kind: symbols.KindString, Tag: types.TypeStr8, Bit: symbols.NoBit, Size: 4}
	if got := DecodeResolved(str, []byte{2, 2, 'o', 'k'}, types.LittleEndian).String(); got != `"ok"` {
		t.Errorf("string variant = %s", got)
	}
	num := symbols.ResolvedAddress{Kind: symbols.KindNumeric, Tag: types.TypeU16, Bit: symbols.NoBit, Size: 2}
	if got := DecodeResolved(num, []byte{0, 1}, types.BigEndian).String(); got != "1" {
		t.Errorf("numeric variant = %s", got)
	}
	bogus := symbols.ResolvedAddress{Kind: symbols.Kind(42), Tag: types.TypeU8}
	if got := DecodeResolved(bogus, []byte{1}, types.LittleEndian); got.Valid {
		t.Errorf("unknown kind decoded to %v", got)
	}
}
