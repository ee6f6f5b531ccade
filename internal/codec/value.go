// Package codec converts raw device bytes to typed watch values and back.
// Every function is pure: results depend only on the arguments.
package codec

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/types"
)

// Unavailable is shown when the bytes on hand cannot be decoded.
const Unavailable = "N/A"

// Value is a decoded watch value. Raw holds one of:
// bool (bit), int64 (signed), uint64 (unsigned), float64 (floats),
// string (strings) or []byte (hex).
type Value struct {
	Tag   types.TypeTag
	Raw   any
	Valid bool
}

func unavailable(tag types.TypeTag) Value {
	return Value{Tag: tag}
}

// String renders the value for display.
func (v Value) String() string {
	if !v.Valid {
		return Unavailable
	}
	switch raw := v.Raw.(type) {
	case bool:
		if raw {
			return "ON"
		}
		return "OFF"
	case int64:
		return strconv.FormatInt(raw, 10)
	case uint64:
		return strconv.FormatUint(raw, 10)
	case float64:
		return strconv.FormatFloat(raw, 'f', 3, 64)
	case string:
		return `"` + raw + `"`
	case []byte:
		return "0x" + strings.ToUpper(hex.EncodeToString(raw))
	default:
		return Unavailable
	}
}
