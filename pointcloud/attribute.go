package pointcloud

import (
	"fmt"
	"strings"
)

// AttributeType is the storage type of an attribute.
type AttributeType uint8

const (
	TypeUint8 AttributeType = iota + 1
	TypeInt8
	TypeUint16
	TypeInt16
	TypeUint32
	TypeInt32
	TypeUint64
	TypeInt64
	TypeFloat32
	TypeFloat64
)

var typeNames = map[AttributeType]string{
	TypeUint8:   "uint8",
	TypeInt8:    "int8",
	TypeUint16:  "uint16",
	TypeInt16:   "int16",
	TypeUint32:  "uint32",
	TypeInt32:   "int32",
	TypeUint64:  "uint64",
	TypeInt64:   "int64",
	TypeFloat32: "float",
	TypeFloat64: "double",
}

// Size returns the number of bytes a value of this type occupies.
func (t AttributeType) Size() int {
	switch t {
	case TypeUint8, TypeInt8:
		return 1
	case TypeUint16, TypeInt16:
		return 2
	case TypeUint32, TypeInt32, TypeFloat32:
		return 4
	case TypeUint64, TypeInt64, TypeFloat64:
		return 8
	default:
		return 0
	}
}

func (t AttributeType) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("AttributeType(%d)", uint8(t))
}

// IsInteger reports whether values of this type are rounded on write.
func (t AttributeType) IsInteger() bool {
	return t != TypeFloat32 && t != TypeFloat64 && t != 0
}

// ParseAttributeType parses a type name. Both "float"/"double" and
// "float32"/"float64" spellings are accepted, as are "char"/"uchar",
// "short"/"ushort", "int"/"uint" and "long"/"ulong".
func ParseAttributeType(s string) (AttributeType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "uint8", "uchar":
		return TypeUint8, nil
	case "int8", "char":
		return TypeInt8, nil
	case "uint16", "ushort":
		return TypeUint16, nil
	case "int16", "short":
		return TypeInt16, nil
	case "uint32", "uint":
		return TypeUint32, nil
	case "int32", "int":
		return TypeInt32, nil
	case "uint64", "ulong":
		return TypeUint64, nil
	case "int64", "long":
		return TypeInt64, nil
	case "float", "float32":
		return TypeFloat32, nil
	case "double", "float64":
		return TypeFloat64, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// AttributeTypeFromCode maps the numeric data type codes used by extra-bytes
// descriptors (1=uint8 ... 10=double) to an AttributeType.
func AttributeTypeFromCode(code int) (AttributeType, error) {
	if code < int(TypeUint8) || code > int(TypeFloat64) {
		return 0, fmt.Errorf("%w: code %d", ErrUnknownType, code)
	}
	return AttributeType(code), nil
}

// Attribute describes one field of a point record. The stored value of a
// scaled attribute is (v - Offset) / Scale.
type Attribute struct {
	Name        string
	Type        AttributeType
	Scale       float64
	Offset      float64
	Description string
	// Default is written into the field when a record gains this attribute
	// through migration.
	Default float64

	pos int
}

// Position returns the byte offset of the attribute inside a record.
func (a Attribute) Position() int { return a.pos }

func (a Attribute) scale() float64 {
	if a.Scale == 0 {
		return 1
	}
	return a.Scale
}

// Standard attribute names.
const (
	AttrX               = "X"
	AttrY               = "Y"
	AttrZ               = "Z"
	AttrIntensity       = "Intensity"
	AttrReturnNumber    = "ReturnNumber"
	AttrNumberOfReturns = "NumberOfReturns"
	AttrClassification  = "Classification"
	AttrUserData        = "UserData"
	AttrPointSourceID   = "PointSourceID"
	AttrScanAngle       = "ScanAngle"
	AttrGPSTime         = "gpstime"
	AttrScannerChannel  = "ScannerChannel"
	AttrR               = "R"
	AttrG               = "G"
	AttrB               = "B"
	AttrNIR             = "NIR"
)

// StandardAttributes returns the attributes of a typical airborne scan record.
func StandardAttributes() []Attribute {
	return []Attribute{
		{Name: AttrIntensity, Type: TypeUint16},
		{Name: AttrReturnNumber, Type: TypeUint8, Default: 1},
		{Name: AttrNumberOfReturns, Type: TypeUint8, Default: 1},
		{Name: AttrClassification, Type: TypeUint8},
		{Name: AttrUserData, Type: TypeUint8},
		{Name: AttrPointSourceID, Type: TypeUint16},
		{Name: AttrScanAngle, Type: TypeInt16, Scale: 0.006},
		{Name: AttrGPSTime, Type: TypeFloat64},
	}
}
