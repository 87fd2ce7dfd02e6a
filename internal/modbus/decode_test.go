package modbus

import (
	"math"
	"testing"

	"github.com/GifariKemal/iiot-gateway-core/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSingleWordTypes(t *testing.T) {
	v, err := Decode(model.TypeUint16, []uint16{500})
	require.NoError(t, err)
	assert.Equal(t, 500.0, v)

	v, err = Decode(model.TypeInt16, []uint16{uint16(int16(-12))})
	require.NoError(t, err)
	assert.Equal(t, -12.0, v)

	v, err = Decode(model.TypeBool, []uint16{1})
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	v, err = Decode(model.TypeBool, []uint16{0})
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
}

func TestDecodeBERequiresWordOrder(t *testing.T) {
	// 0x0001 0x0000 as BE assembles to 0x00010000 = 65536.
	v, err := Decode(model.TypeUint32BE, []uint16{0x0001, 0x0000})
	require.NoError(t, err)
	assert.Equal(t, float64(65536), v)
}

func TestDecodeLEReversesWords(t *testing.T) {
	// Same words, LE reverses order before BE assembly: 0x0000 0x0001 => 1.
	v, err := Decode(model.TypeUint32LE, []uint16{0x0001, 0x0000})
	require.NoError(t, err)
	assert.Equal(t, float64(1), v)
}

func TestDecodeFloat32Roundtrips(t *testing.T) {
	words, err := Encode(model.TypeFloat32BE, 3.25)
	require.NoError(t, err)
	v, err := Decode(model.TypeFloat32BE, words)
	require.NoError(t, err)
	assert.InDelta(t, 3.25, v, 1e-6)
}

func TestDecodeWrongSpanErrors(t *testing.T) {
	_, err := Decode(model.TypeUint32BE, []uint16{1})
	assert.Error(t, err)
}

// TestEndiannessRoundTrip is spec.md §8's "Endianness round-trip": encoding
// V under variant X and decoding it under X recovers V exactly, for all
// four variants and both 32- and 64-bit spans.
func TestEndiannessRoundTrip(t *testing.T) {
	variants := []model.DataType{
		model.TypeUint32BE, model.TypeUint32LE, model.TypeUint32BEBS, model.TypeUint32LEBS,
		model.TypeUint64BE, model.TypeUint64LE, model.TypeUint64BEBS, model.TypeUint64LEBS,
	}
	values := []float64{0, 1, 255, 65535, 123456789}

	for _, dt := range variants {
		for _, v := range values {
			words, err := Encode(dt, v)
			require.NoError(t, err)
			got, err := Decode(dt, words)
			require.NoError(t, err)
			assert.Equal(t, v, got, "variant %s value %v", dt, v)
		}
	}
}

func TestEndiannessRoundTripFloat(t *testing.T) {
	variants := []model.DataType{
		model.TypeFloat32BE, model.TypeFloat32LE, model.TypeFloat32BEBS, model.TypeFloat32LEBS,
	}
	for _, dt := range variants {
		words, err := Encode(dt, 12.5)
		require.NoError(t, err)
		got, err := Decode(dt, words)
		require.NoError(t, err)
		assert.InDelta(t, 12.5, got, 1e-4)
	}
}

func TestCalibrationIdempotenceForUnityParameters(t *testing.T) {
	reg := model.RegisterDefinition{Scale: 1.0, Offset: 0.0}
	for _, raw := range []float64{0, 1, -42.5, math.Pi} {
		assert.Equal(t, raw, reg.Calibrate(raw))
	}
}
