// Package symbols maps symbolic names and raw address references onto
// absolute device memory addresses.
package symbols

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/types"
)

// Kind tags the variant of a ResolvedAddress.
type Kind int

const (
	KindNumeric Kind = iota
	KindBit
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindBit:
		return "bit"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// NoBit marks an address without a bit index.
const NoBit = -1

type ResolvedAddress struct {
	Kind     Kind          `json:"kind"`
	Tag      types.TypeTag `json:"tag"`
	Absolute int           `json:"absolute"`
	Bit      int           `json:"bit"`
	Size     int           `json:"size"`
	Capacity int           `json:"capacity,omitempty"`
}

func (r ResolvedAddress) HasBit() bool {
	return r.Kind == KindBit && r.Bit >= 0 && r.Bit <= 7
}

// Resolver is immutable; build a new one whenever symbols or offsets change.
type Resolver struct {
	symbols map[string]types.Symbol
	offsets types.MemoryAreaOffsets
}

func NewResolver(symbols []types.Symbol, offsets types.MemoryAreaOffsets) *Resolver {
	r := &Resolver{
		symbols: make(map[string]types.Symbol, len(symbols)),
		offsets: make(types.MemoryAreaOffsets, len(offsets)),
	}
	for _, s := range symbols {
		r.symbols[s.Name] = s
	}
	for k, v := range offsets {
		r.offsets[k] = v
	}
	return r
}

func (r *Resolver) Lookup(name string) (types.Symbol, bool) {
	s, ok := r.symbols[name]
	return s, ok
}

// Resolve uses the declared type of the symbol.
func (r *Resolver) Resolve(name string) (ResolvedAddress, bool) {
	return r.ResolveAs(name, "")
}

// ResolveAs resolves name with tag overriding the declared type.
// An empty tag infers the type from the symbol.
func (r *Resolver) ResolveAs(name string, tag types.TypeTag) (ResolvedAddress, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ResolvedAddress{}, false
	}
	if tag != "" && !tag.Valid() {
		return ResolvedAddress{}, false
	}
	if sym, ok := r.symbols[name]; ok {
		return r.resolveSymbol(sym, tag.Canonical())
	}
	return r.resolveRaw(name, tag.Canonical())
}

func (r *Resolver) resolveSymbol(sym types.Symbol, tag types.TypeTag) (ResolvedAddress, bool) {
	if !sym.Location.Valid() || sym.Address < 0 || math.IsNaN(sym.Address) {
		return ResolvedAddress{}, false
	}
	declared := sym.Type.Canonical()
	override := tag != ""
	if !override {
		tag = declared
	}
	if tag == "" {
		tag = types.TypeU8
	}

	whole := math.Floor(sym.Address)
	absolute := r.offsets.Offset(sym.Location) + int(whole)*sym.Location.Stride()

	switch {
	case tag == types.TypeBit || (!override && sym.Bit != nil):
		// an explicit bit makes any symbol a single bit unless a type is forced
		tag = types.TypeBit
		bit := int(math.Round((sym.Address - whole) * 10))
		if sym.Bit != nil {
			bit = *sym.Bit
		}
		if bit < 0 || bit > 7 {
			return ResolvedAddress{}, false
		}
		return ResolvedAddress{Kind: KindBit, Tag: tag, Absolute: absolute, Bit: bit, Size: 1}, true

	case tag.IsString():
		capacity := sym.Capacity
		if capacity <= 0 {
			capacity = types.DefaultStringCapacity
		}
		size := tag.StringSize(capacity)
		return ResolvedAddress{
			Kind:     KindString,
			Tag:      tag,
			Absolute: absolute,
			Bit:      NoBit,
			Size:     size,
			Capacity: size - tag.HeaderSize(),
		}, true

	case tag == types.TypeHex:
		// hex views the symbol's own storage
		size := declared.Width()
		if declared.IsString() {
			size = declared.StringSize(sym.Capacity)
		}
		if declared == types.TypeBit || size <= 0 {
			size = 1
		}
		return ResolvedAddress{Kind: KindNumeric, Tag: tag, Absolute: absolute, Bit: NoBit, Size: size}, true

	default:
		size := tag.Width()
		if size <= 0 {
			size = 1
		}
		return ResolvedAddress{Kind: KindNumeric, Tag: tag, Absolute: absolute, Bit: NoBit, Size: size}, true
	}
}

// Raw references: [area][width]number[.bit] or #number for absolute addresses.
var rawAddressPattern = regexp.MustCompile(`^(?i)(?:(#)|([KXIYQSMTC])?([BWD])?)(\d+)(?:\.(\d+))?$`)

var rawAreas = map[byte]types.Location{
	'K': types.LocationControl,
	'X': types.LocationInput,
	'I': types.LocationInput,
	'Y': types.LocationOutput,
	'Q': types.LocationOutput,
	'S': types.LocationSystem,
	'M': types.LocationMarker,
	'T': types.LocationTimer,
	'C': types.LocationCounter,
}

var rawWidths = map[byte]types.TypeTag{
	'B': types.TypeU8,
	'W': types.TypeI16,
	'D': types.TypeI32,
}

// ParseRawAddress is exported for the memory view, which accepts the same syntax.
func (r *Resolver) ParseRawAddress(ref string) (ResolvedAddress, bool) {
	return r.resolveRaw(strings.TrimSpace(ref), "")
}

func (r *Resolver) resolveRaw(ref string, tag types.TypeTag) (ResolvedAddress, bool) {
	m := rawAddressPattern.FindStringSubmatch(ref)
	if m == nil {
		return ResolvedAddress{}, false
	}
	unit, err := strconv.Atoi(m[4])
	if err != nil {
		return ResolvedAddress{}, false
	}

	absolute := unit
	if m[1] == "" && m[2] != "" {
		loc := rawAreas[strings.ToUpper(m[2])[0]]
		absolute = r.offsets.Offset(loc) + unit*loc.Stride()
	}

	bit := NoBit
	if m[5] != "" {
		b, err := strconv.Atoi(m[5])
		if err != nil || b > 7 {
			return ResolvedAddress{}, false
		}
		bit = b
	}

	if tag == "" {
		switch {
		case bit != NoBit:
			tag = types.TypeBit
		case m[3] != "":
			tag = rawWidths[strings.ToUpper(m[3])[0]]
		default:
			tag = types.TypeU8
		}
	}

	switch {
	case tag == types.TypeBit:
		if bit == NoBit {
			bit = 0
		}
		return ResolvedAddress{Kind: KindBit, Tag: tag, Absolute: absolute, Bit: bit, Size: 1}, true
	case tag.IsString():
		size := tag.StringSize(types.DefaultStringCapacity)
		return ResolvedAddress{
			Kind:     KindString,
			Tag:      tag,
			Absolute: absolute,
			Bit:      NoBit,
			Size:     size,
			Capacity: size - tag.HeaderSize(),
		}, true
	default:
		size := tag.Width()
		if tag == types.TypeHex && m[3] != "" {
			size = rawWidths[strings.ToUpper(m[3])[0]].Width()
		}
		if size <= 0 {
			size = 1
		}
		return ResolvedAddress{Kind: KindNumeric, Tag: tag, Absolute: absolute, Bit: NoBit, Size: size}, true
	}
}
