package types

import (
	"fmt"
	"strings"
)

// TypeTag is the declared type of a symbol or watch entry.
type TypeTag string

const (
	TypeBit    TypeTag = "bit"
	TypeByte   TypeTag = "byte"
	TypeU8     TypeTag = "u8"
	TypeI8     TypeTag = "i8"
	TypeInt    TypeTag = "int"
	TypeI16    TypeTag = "i16"
	TypeU16    TypeTag = "u16"
	TypeDint   TypeTag = "dint"
	TypeI32    TypeTag = "i32"
	TypeU32    TypeTag = "u32"
	TypeReal   TypeTag = "real"
	TypeF32    TypeTag = "f32"
	TypeF64    TypeTag = "f64"
	TypeHex    TypeTag = "hex"
	TypeStr8   TypeTag = "str8"
	TypeStr16  TypeTag = "str16"
	TypeCStr8  TypeTag = "cstr8"
	TypeCStr16 TypeTag = "cstr16"
)

// DefaultStringCapacity is used for string symbols that do not declare a capacity.
const DefaultStringCapacity = 32

var typeAliases = map[TypeTag]TypeTag{
	TypeByte: TypeU8,
	TypeInt:  TypeI16,
	TypeDint: TypeI32,
	TypeReal: TypeF32,
}

var typeWidths = map[TypeTag]int{
	TypeBit: 1,
	TypeU8:  1,
	TypeI8:  1,
	TypeI16: 2,
	TypeU16: 2,
	TypeI32: 4,
	TypeU32: 4,
	TypeF32: 4,
	TypeF64: 8,
	TypeHex: 1,
}

// ParseTypeTag accepts any spelling of a known tag, including aliases.
// The empty string is valid and means "infer from the symbol".
func ParseTypeTag(s string) (TypeTag, error) {
	tag := TypeTag(strings.ToLower(strings.TrimSpace(s)))
	if tag == "" {
		return "", nil
	}
	if !tag.Valid() {
		return "", fmt.Errorf("unknown type: %q", s)
	}
	return tag, nil
}

// Canonical folds aliases (byte, int, dint, real) into their sized names.
func (t TypeTag) Canonical() TypeTag {
	if c, ok := typeAliases[t]; ok {
		return c
	}
	return t
}

func (t TypeTag) Valid() bool {
	c := t.Canonical()
	if _, ok := typeWidths[c]; ok {
		return true
	}
	return c.IsString()
}

// Width returns the fixed byte width of the tag, or 0 for strings and unknown tags.
func (t TypeTag) Width() int {
	return typeWidths[t.Canonical()]
}

func (t TypeTag) IsString() bool {
	switch t.Canonical() {
	case TypeStr8, TypeStr16, TypeCStr8, TypeCStr16:
		return true
	}
	return false
}

// IsConstant reports whether values of this type are read-only on the device.
func (t TypeTag) IsConstant() bool {
	c := t.Canonical()
	return c == TypeCStr8 || c == TypeCStr16
}

// HeaderSize is the capacity+length header of a string tag (0 for non-strings).
func (t TypeTag) HeaderSize() int {
	switch t.Canonical() {
	case TypeStr8, TypeCStr8:
		return 2
	case TypeStr16, TypeCStr16:
		return 4
	}
	return 0
}

// MaxCapacity is the largest content capacity the string header can express.
func (t TypeTag) MaxCapacity() int {
	switch t.HeaderSize() {
	case 2:
		return 0xFF
	case 4:
		return 0xFFFF
	}
	return 0
}

// StringSize returns header + capacity for string tags.
func (t TypeTag) StringSize(capacity int) int {
	if capacity <= 0 {
		capacity = DefaultStringCapacity
	}
	if limit := t.MaxCapacity(); capacity > limit {
		capacity = limit
	}
	return t.HeaderSize() + capacity
}
