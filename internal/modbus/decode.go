// Package modbus implements the RTU and TCP polling drivers of spec.md
// §4.2/§4.3: per-device scheduling, failure/backoff/auto-recovery state,
// endianness-aware register decoding and calibration. The on-wire framing
// and CRC are delegated to github.com/simonvetter/modbus, per spec.md §1's
// "use a standard Modbus library" instruction; this package owns only the
// polling policy and the decode/calibrate/enqueue pipeline on top of it.
package modbus

import (
	"fmt"
	"math"

	"github.com/GifariKemal/iiot-gateway-core/internal/model"
)

func swapBytes(w uint16) uint16 { return (w << 8) | (w >> 8) }

func reverseWords(words []uint16) []uint16 {
	out := make([]uint16, len(words))
	for i, w := range words {
		out[len(words)-1-i] = w
	}
	return out
}

func byteSwapWords(words []uint16) []uint16 {
	out := make([]uint16, len(words))
	for i, w := range words {
		out[i] = swapBytes(w)
	}
	return out
}

// assemble concatenates words big-endian-first ([w0 is most significant])
// into a single unsigned integer, per spec.md §4.2's BE description.
func assemble(words []uint16) uint64 {
	var v uint64
	for _, w := range words {
		v = (v << 16) | uint64(w)
	}
	return v
}

// orderWords reorders and byte-swaps raw words per the data type's
// endianness variant, immediately before assembly.
func orderWords(dt model.DataType, words []uint16) []uint16 {
	switch {
	case isLEBS(dt):
		return reverseWords(byteSwapWords(words))
	case isLE(dt):
		return reverseWords(words)
	case isBEBS(dt):
		return byteSwapWords(words)
	default: // BE
		return words
	}
}

func isLE(dt model.DataType) bool {
	switch dt {
	case model.TypeInt32LE, model.TypeUint32LE, model.TypeFloat32LE,
		model.TypeInt64LE, model.TypeUint64LE, model.TypeDouble64LE:
		return true
	}
	return false
}

func isBEBS(dt model.DataType) bool {
	switch dt {
	case model.TypeInt32BEBS, model.TypeUint32BEBS, model.TypeFloat32BEBS,
		model.TypeInt64BEBS, model.TypeUint64BEBS, model.TypeDouble64BEBS:
		return true
	}
	return false
}

func isLEBS(dt model.DataType) bool {
	switch dt {
	case model.TypeInt32LEBS, model.TypeUint32LEBS, model.TypeFloat32LEBS,
		model.TypeInt64LEBS, model.TypeUint64LEBS, model.TypeDouble64LEBS:
		return true
	}
	return false
}

// Decode turns the raw register words returned by a Modbus read into a
// float64 raw value (pre-calibration), per spec.md §4.2 "Decoding".
func Decode(dt model.DataType, words []uint16) (float64, error) {
	span := dt.Span()
	if span == 0 {
		return 0, fmt.Errorf("modbus: unknown data type %q", dt)
	}
	if len(words) != span {
		return 0, fmt.Errorf("modbus: data type %q needs %d words, got %d", dt, span, len(words))
	}

	switch dt {
	case model.TypeBool, model.TypeBinary:
		if words[0] != 0 {
			return 1, nil
		}
		return 0, nil
	case model.TypeUint16:
		return float64(words[0]), nil
	case model.TypeInt16:
		return float64(int16(words[0])), nil
	}

	ordered := orderWords(dt, words)
	raw := assemble(ordered)

	switch dt {
	case model.TypeUint32BE, model.TypeUint32LE, model.TypeUint32BEBS, model.TypeUint32LEBS:
		return float64(uint32(raw)), nil
	case model.TypeInt32BE, model.TypeInt32LE, model.TypeInt32BEBS, model.TypeInt32LEBS:
		return float64(int32(uint32(raw))), nil
	case model.TypeFloat32BE, model.TypeFloat32LE, model.TypeFloat32BEBS, model.TypeFloat32LEBS:
		return float64(math.Float32frombits(uint32(raw))), nil
	case model.TypeUint64BE, model.TypeUint64LE, model.TypeUint64BEBS, model.TypeUint64LEBS:
		return float64(raw), nil
	case model.TypeInt64BE, model.TypeInt64LE, model.TypeInt64BEBS, model.TypeInt64LEBS:
		return float64(int64(raw)), nil
	case model.TypeDouble64BE, model.TypeDouble64LE, model.TypeDouble64BEBS, model.TypeDouble64LEBS:
		return math.Float64frombits(raw), nil
	default:
		return 0, fmt.Errorf("modbus: unsupported data type %q", dt)
	}
}

// Encode is Decode's inverse: it turns a raw (pre-calibration) value back
// into the register words a device would hold, used for write paths
// (subscribe-to-write, §4.6) and for the endianness round-trip property of
// spec.md §8.
func Encode(dt model.DataType, value float64) ([]uint16, error) {
	span := dt.Span()
	if span == 0 {
		return nil, fmt.Errorf("modbus: unknown data type %q", dt)
	}

	switch dt {
	case model.TypeBool, model.TypeBinary:
		if value != 0 {
			return []uint16{1}, nil
		}
		return []uint16{0}, nil
	case model.TypeUint16:
		return []uint16{uint16(value)}, nil
	case model.TypeInt16:
		return []uint16{uint16(int16(value))}, nil
	}

	var raw uint64
	switch dt {
	case model.TypeUint32BE, model.TypeUint32LE, model.TypeUint32BEBS, model.TypeUint32LEBS:
		raw = uint64(uint32(value))
	case model.TypeInt32BE, model.TypeInt32LE, model.TypeInt32BEBS, model.TypeInt32LEBS:
		raw = uint64(uint32(int32(value)))
	case model.TypeFloat32BE, model.TypeFloat32LE, model.TypeFloat32BEBS, model.TypeFloat32LEBS:
		raw = uint64(math.Float32bits(float32(value)))
	case model.TypeUint64BE, model.TypeUint64LE, model.TypeUint64BEBS, model.TypeUint64LEBS:
		raw = uint64(value)
	case model.TypeInt64BE, model.TypeInt64LE, model.TypeInt64BEBS, model.TypeInt64LEBS:
		raw = uint64(int64(value))
	case model.TypeDouble64BE, model.TypeDouble64LE, model.TypeDouble64BEBS, model.TypeDouble64LEBS:
		raw = math.Float64bits(value)
	default:
		return nil, fmt.Errorf("modbus: unsupported data type %q", dt)
	}

	be := make([]uint16, span)
	for i := span - 1; i >= 0; i-- {
		be[i] = uint16(raw)
		raw >>= 16
	}

	switch {
	case isLEBS(dt):
		return reverseWords(byteSwapWords(be)), nil
	case isLE(dt):
		return reverseWords(be), nil
	case isBEBS(dt):
		return byteSwapWords(be), nil
	default:
		return be, nil
	}
}
