package pointcloud

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchema_Layout(t *testing.T) {
	s := NewSchema([3]float64{0.01, 0.01, 0.001}, [3]float64{1000, 2000, 0})
	assert.Equal(t, 13, s.Stride())
	assert.Equal(t, 3, s.Len())

	require.NoError(t, s.AddAttribute(Attribute{Name: "Intensity", Type: TypeUint16}))
	require.NoError(t, s.AddAttribute(Attribute{Name: "gpstime", Type: TypeFloat64}))
	assert.Equal(t, 13+2+8, s.Stride())

	a, ok := s.Lookup("GPSTIME")
	require.True(t, ok)
	assert.Equal(t, 15, a.Position())

	err := s.AddAttribute(Attribute{Name: "intensity", Type: TypeUint8})
	require.ErrorIs(t, err, ErrDuplicateAttribute)

	err = s.AddAttribute(Attribute{Name: "bad"})
	require.ErrorIs(t, err, ErrInvalidAttribute)

	_, err = s.Handle("missing")
	require.ErrorIs(t, err, ErrUnknownAttribute)

	assert.Equal(t, [3]float64{0.01, 0.01, 0.001}, s.Scale())
	assert.Equal(t, [3]float64{1000, 2000, 0}, s.Offset())
}

func TestSchema_Extends(t *testing.T) {
	base := StandardSchema([3]float64{0.01, 0.01, 0.01}, [3]float64{})
	wider := base.Clone()
	require.NoError(t, wider.AddAttribute(Attribute{Name: "HAG", Type: TypeFloat32}))

	assert.True(t, wider.Extends(base))
	assert.False(t, base.Extends(wider))
	assert.False(t, base.Has("HAG"), "clone must not share attributes")

	other := NewSchema([3]float64{0.001, 0.01, 0.01}, [3]float64{})
	assert.False(t, other.Extends(NewSchema([3]float64{0.01, 0.01, 0.01}, [3]float64{})))
}

func TestParseAttributeType(t *testing.T) {
	tests := map[string]AttributeType{
		"uchar": TypeUint8, "int8": TypeInt8, "ushort": TypeUint16, "int16": TypeInt16,
		"uint": TypeUint32, "int32": TypeInt32, "ulong": TypeUint64, "int64": TypeInt64,
		"float": TypeFloat32, "double": TypeFloat64, " Float64 ": TypeFloat64,
	}
	for name, want := range tests {
		got, err := ParseAttributeType(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := ParseAttributeType("complex")
	require.ErrorIs(t, err, ErrUnknownType)

	typ, err := AttributeTypeFromCode(10)
	require.NoError(t, err)
	assert.Equal(t, TypeFloat64, typ)
	_, err = AttributeTypeFromCode(0)
	require.ErrorIs(t, err, ErrUnknownType)
}
