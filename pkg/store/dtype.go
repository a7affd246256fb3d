package store

import "fmt"

// DType is the element type of a dataset.
type DType uint8

const (
	Float32 DType = iota + 1
	Bool
)

// Size returns the encoded size of one element in bytes.
func (d DType) Size() int {
	switch d {
	case Float32:
		return 4
	case Bool:
		return 1
	default:
		return 0
	}
}

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Bool:
		return "bool"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
}

func (d DType) valid() bool {
	return d.Size() > 0
}
