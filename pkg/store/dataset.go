package store

import (
	"fmt"
	"math"
)

// Dataset is an N-dimensional array stored as one chunk per element of
// axis 0.
type Dataset struct {
	file     *File
	name     string
	dtype    DType
	shape    []int
	maxShape []int
	chunks   []int64
}

// Name returns the dataset name.
func (d *Dataset) Name() string {
	return d.name
}

// DType returns the element type.
func (d *Dataset) DType() DType {
	return d.dtype
}

// Shape returns a copy of the current dimensions.
func (d *Dataset) Shape() []int {
	return append([]int(nil), d.shape...)
}

// MaxShape returns a copy of the declared maximum dimensions.
func (d *Dataset) MaxShape() []int {
	return append([]int(nil), d.maxShape...)
}

// Len returns the size of axis 0.
func (d *Dataset) Len() int {
	return d.shape[0]
}

// ElemShape returns the dimensions of one element of axis 0.
func (d *Dataset) ElemShape() []int {
	return append([]int(nil), d.shape[1:]...)
}

// elemCount is the number of values in one element of axis 0.
func (d *Dataset) elemCount() int {
	n := 1
	for _, s := range d.shape[1:] {
		n *= s
	}
	return n
}

func (d *Dataset) chunkSize() int {
	return d.elemCount() * d.dtype.Size()
}

func (d *Dataset) checkAppend(dtype DType, n int) error {
	if d.file.closed {
		return ErrClosed
	}
	if !d.file.writable {
		return ErrReadOnly
	}
	if d.dtype != dtype {
		return fmt.Errorf("%w: dataset %s holds %v, got %v", ErrDType, d.name, d.dtype, dtype)
	}
	if n != d.elemCount() {
		return fmt.Errorf("%w: dataset %s element has %d values, got %d", ErrShapeMismatch, d.name, d.elemCount(), n)
	}
	if d.maxShape[0] != Unlimited && d.shape[0] >= d.maxShape[0] {
		return fmt.Errorf("%w: dataset %s is limited to %d", ErrMaxShape, d.name, d.maxShape[0])
	}
	return nil
}

func (d *Dataset) appendChunk(data []byte) error {
	off, err := d.file.writeChunk(data)
	if err != nil {
		return fmt.Errorf("failed to append to %s: %w", d.name, err)
	}
	d.chunks = append(d.chunks, off)
	d.shape[0]++
	return nil
}

// dropLast forgets the last element. The chunk bytes stay in the file and
// are overwritten by the next append.
func (d *Dataset) dropLast() {
	if d.shape[0] == 0 {
		return
	}
	last := d.chunks[len(d.chunks)-1]
	d.chunks = d.chunks[:len(d.chunks)-1]
	d.shape[0]--
	if last+int64(d.chunkSize()) == d.file.end {
		d.file.end = last
	}
}

// AppendFloat32 grows axis 0 by one element holding values in row-major
// order.
func (d *Dataset) AppendFloat32(values []float32) error {
	if err := d.checkAppend(Float32, len(values)); err != nil {
		return err
	}
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		order.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return d.appendChunk(buf)
}

// AppendBool grows axis 0 by one element holding values in row-major order.
func (d *Dataset) AppendBool(values []bool) error {
	if err := d.checkAppend(Bool, len(values)); err != nil {
		return err
	}
	buf := make([]byte, len(values))
	for i, v := range values {
		if v {
			buf[i] = 1
		}
	}
	return d.appendChunk(buf)
}

func (d *Dataset) checkRead(dtype DType, indices []int) error {
	if d.file.closed {
		return ErrClosed
	}
	if d.dtype != dtype {
		return fmt.Errorf("%w: dataset %s holds %v, read as %v", ErrDType, d.name, d.dtype, dtype)
	}
	for _, i := range indices {
		if i < 0 || i >= d.shape[0] {
			return fmt.Errorf("%w: %d not in [0, %d) for %s", ErrIndexRange, i, d.shape[0], d.name)
		}
	}
	return nil
}

// GatherFloat32 reads the listed elements of axis 0 and returns them
// concatenated in the order given.
func (d *Dataset) GatherFloat32(indices []int) ([]float32, error) {
	if err := d.checkRead(Float32, indices); err != nil {
		return nil, err
	}
	n := d.elemCount()
	out := make([]float32, 0, len(indices)*n)
	for _, i := range indices {
		buf, err := d.file.readChunk(d.chunks[i], d.chunkSize())
		if err != nil {
			return nil, fmt.Errorf("failed to read %s[%d]: %w", d.name, i, err)
		}
		for k := 0; k < n; k++ {
			out = append(out, math.Float32frombits(order.Uint32(buf[k*4:])))
		}
	}
	return out, nil
}

// GatherBool reads the listed elements of axis 0 and returns them
// concatenated in the order given.
func (d *Dataset) GatherBool(indices []int) ([]bool, error) {
	if err := d.checkRead(Bool, indices); err != nil {
		return nil, err
	}
	n := d.elemCount()
	out := make([]bool, 0, len(indices)*n)
	for _, i := range indices {
		buf, err := d.file.readChunk(d.chunks[i], d.chunkSize())
		if err != nil {
			return nil, fmt.Errorf("failed to read %s[%d]: %w", d.name, i, err)
		}
		for _, b := range buf {
			out = append(out, b != 0)
		}
	}
	return out, nil
}
