package pointcloud

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoint_Values(t *testing.T) {
	s := StandardSchema([3]float64{0.01, 0.01, 0.01}, [3]float64{500000, 4000000, 0})
	p := NewPoint(s)

	p.SetXYZ(500123.456, 4000001.01, 12.347)
	assert.InDelta(t, 500123.46, p.X(), 1e-6)
	assert.InDelta(t, 4000001.01, p.Y(), 1e-6)
	assert.InDelta(t, 12.35, p.Z(), 1e-6)

	require.NoError(t, p.Set(AttrClassification, 2))
	require.NoError(t, p.Set(AttrIntensity, 70000))
	require.NoError(t, p.Set(AttrScanAngle, -12.5))
	require.NoError(t, p.Set(AttrGPSTime, 1234.5678))

	v, ok := p.Get(AttrClassification)
	require.True(t, ok)
	assert.Equal(t, 2.0, v)

	v, _ = p.Get(AttrIntensity)
	assert.Equal(t, 65535.0, v, "uint16 saturates")

	v, _ = p.Get(AttrScanAngle)
	assert.InDelta(t, -12.498, v, 0.006)

	v, _ = p.Get(AttrGPSTime)
	assert.Equal(t, 1234.5678, v)

	_, ok = p.Get("nope")
	assert.False(t, ok)
	require.ErrorIs(t, p.Set("nope", 1), ErrUnknownAttribute)
}

func TestPoint_Withheld(t *testing.T) {
	p := NewPoint(NewSchema([3]float64{1, 1, 1}, [3]float64{}))
	assert.False(t, p.Withheld())
	p.SetWithheld(true)
	assert.True(t, p.Withheld())
	p.SetWithheld(false)
	assert.False(t, p.Withheld())
}

func TestPoint_Convert(t *testing.T) {
	src := NewSchema([3]float64{0.01, 0.01, 0.01}, [3]float64{})
	require.NoError(t, src.AddAttribute(Attribute{Name: AttrIntensity, Type: TypeUint16}))

	dst := NewSchema([3]float64{0.001, 0.001, 0.001}, [3]float64{10, 10, 0})
	require.NoError(t, dst.AddAttribute(Attribute{Name: AttrClassification, Type: TypeUint8, Default: 1}))
	require.NoError(t, dst.AddAttribute(Attribute{Name: AttrIntensity, Type: TypeUint32}))

	p := NewPoint(src)
	p.SetXYZ(11.5, 12.25, 3)
	p.SetWithheld(true)
	require.NoError(t, p.Set(AttrIntensity, 400))

	q := NewPoint(dst)
	p.Convert(q)
	assert.InDelta(t, 11.5, q.X(), 1e-9)
	assert.InDelta(t, 12.25, q.Y(), 1e-9)
	assert.InDelta(t, 3.0, q.Z(), 1e-9)
	assert.True(t, q.Withheld())
	c, _ := q.Get(AttrClassification)
	assert.Equal(t, 1.0, c)
	i, _ := q.Get(AttrIntensity)
	assert.Equal(t, 400.0, i)
}
