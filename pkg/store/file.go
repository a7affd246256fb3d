package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
)

const (
	magic         = "MRIMASK1"
	formatVersion = 1
	headerSize    = 32
)

var order = binary.LittleEndian

// File is an open store. A File is either created for writing with Create
// or opened read-only with Open. It is not safe for concurrent use.
type File struct {
	path     string
	f        *os.File
	writable bool
	closed   bool

	datasets []*Dataset
	byName   map[string]*Dataset

	// end is the offset just past the last chunk. The index is written
	// there on Flush and is overwritten by later chunks.
	end int64
}

// Create makes a new store at path. It fails with ErrExists when anything
// already exists at path; existing files are never truncated or appended to.
func Create(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrExists, path)
		}
		return nil, err
	}

	sf := &File{
		path:     path,
		f:        f,
		writable: true,
		byName:   make(map[string]*Dataset),
		end:      headerSize,
	}
	if err := sf.Flush(); err != nil {
		f.Close()
		return nil, err
	}
	return sf, nil
}

// Open opens an existing store read-only.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	sf := &File{
		path:   path,
		f:      f,
		byName: make(map[string]*Dataset),
	}
	if err := sf.readIndex(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sf, nil
}

// Path returns the file path the store was opened with.
func (f *File) Path() string {
	return f.path
}

// IsWritable reports whether the store was created for writing.
func (f *File) IsWritable() bool {
	return f.writable
}

// Datasets returns dataset names in creation order.
func (f *File) Datasets() []string {
	names := make([]string, len(f.datasets))
	for i, ds := range f.datasets {
		names[i] = ds.name
	}
	return names
}

// Has reports whether a dataset named name exists.
func (f *File) Has(name string) bool {
	_, ok := f.byName[name]
	return ok
}

// Dataset returns the dataset named name.
func (f *File) Dataset(name string) (*Dataset, error) {
	if f.closed {
		return nil, ErrClosed
	}
	ds, ok := f.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return ds, nil
}

// CreateDataset declares a new dataset. shape[0] must be 0; the dataset
// grows along axis 0 by appending. maxShape has the same rank as shape,
// maxShape[0] is either Unlimited or a bound, and the remaining dimensions
// must equal shape[1:].
func (f *File) CreateDataset(name string, dtype DType, shape, maxShape []int) (*Dataset, error) {
	if f.closed {
		return nil, ErrClosed
	}
	if !f.writable {
		return nil, ErrReadOnly
	}
	if name == "" || len(name) > 0xffff {
		return nil, fmt.Errorf("invalid dataset name %q", name)
	}
	if _, ok := f.byName[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDatasetExists, name)
	}
	if !dtype.valid() {
		return nil, fmt.Errorf("%w: %v", ErrDType, dtype)
	}
	if len(shape) == 0 || len(shape) > 0xff {
		return nil, fmt.Errorf("invalid rank %d", len(shape))
	}
	if len(maxShape) != len(shape) {
		return nil, fmt.Errorf("%w: max shape rank %d, shape rank %d", ErrShapeMismatch, len(maxShape), len(shape))
	}
	if shape[0] != 0 {
		return nil, fmt.Errorf("initial length must be 0, got %d", shape[0])
	}
	if maxShape[0] < Unlimited {
		return nil, fmt.Errorf("invalid max length %d", maxShape[0])
	}
	for i := 1; i < len(shape); i++ {
		if shape[i] <= 0 {
			return nil, fmt.Errorf("dimension %d must be positive, got %d", i, shape[i])
		}
		if maxShape[i] != shape[i] {
			return nil, fmt.Errorf("%w: dimension %d is fixed at %d, max shape says %d",
				ErrShapeMismatch, i, shape[i], maxShape[i])
		}
	}

	ds := &Dataset{
		file:     f,
		name:     name,
		dtype:    dtype,
		shape:    append([]int(nil), shape...),
		maxShape: append([]int(nil), maxShape...),
	}
	f.datasets = append(f.datasets, ds)
	f.byName[name] = ds
	return ds, nil
}

// Flush writes the chunk index and header and syncs the file.
func (f *File) Flush() error {
	if f.closed {
		return ErrClosed
	}
	if !f.writable {
		return nil
	}

	index := f.encodeIndex()
	if _, err := f.f.WriteAt(index, f.end); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	if err := f.f.Truncate(f.end + int64(len(index))); err != nil {
		return fmt.Errorf("failed to truncate store: %w", err)
	}

	header := make([]byte, headerSize)
	copy(header, magic)
	order.PutUint16(header[8:], formatVersion)
	order.PutUint32(header[12:], crc32.ChecksumIEEE(index))
	order.PutUint64(header[16:], uint64(f.end))
	order.PutUint64(header[24:], uint64(len(index)))
	if _, err := f.f.WriteAt(header, 0); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	return f.f.Sync()
}

// Close flushes a writable store and releases the file. Closing twice is a
// no-op.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	var flushErr error
	if f.writable {
		flushErr = f.Flush()
	}
	f.closed = true
	closeErr := f.f.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// writeChunk appends data after the last chunk and returns its offset.
func (f *File) writeChunk(data []byte) (int64, error) {
	off := f.end
	if _, err := f.f.WriteAt(data, off); err != nil {
		return 0, err
	}
	f.end += int64(len(data))
	return off, nil
}

func (f *File) readChunk(off int64, size int) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := f.f.ReadAt(buf, off); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: chunk at %d truncated", ErrCorrupt, off)
		}
		return nil, err
	}
	return buf, nil
}

// encodeIndex serializes every dataset's metadata and chunk offsets.
func (f *File) encodeIndex() []byte {
	var buf bytes.Buffer
	put := func(v interface{}) {
		// Writes into a bytes.Buffer cannot fail.
		_ = binary.Write(&buf, order, v)
	}

	put(uint32(len(f.datasets)))
	for _, ds := range f.datasets {
		put(uint16(len(ds.name)))
		buf.WriteString(ds.name)
		put(uint8(ds.dtype))
		put(uint8(len(ds.shape)))
		for _, d := range ds.shape {
			put(int64(d))
		}
		for _, d := range ds.maxShape {
			put(int64(d))
		}
		put(uint64(len(ds.chunks)))
		for _, off := range ds.chunks {
			put(uint64(off))
		}
	}
	return buf.Bytes()
}

func (f *File) readIndex() error {
	header := make([]byte, headerSize)
	if _, err := f.f.ReadAt(header, 0); err != nil {
		if err == io.EOF {
			return ErrNotStore
		}
		return err
	}
	if string(header[:8]) != magic {
		return ErrNotStore
	}
	if v := order.Uint16(header[8:]); v != formatVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrNotStore, v)
	}
	sum := order.Uint32(header[12:])
	indexOff := int64(order.Uint64(header[16:]))
	indexLen := int64(order.Uint64(header[24:]))

	info, err := f.f.Stat()
	if err != nil {
		return err
	}
	if indexOff < headerSize || indexLen < 4 || indexOff+indexLen > info.Size() {
		return fmt.Errorf("%w: index out of bounds", ErrCorrupt)
	}

	index := make([]byte, indexLen)
	if _, err := f.f.ReadAt(index, indexOff); err != nil {
		return err
	}
	if crc32.ChecksumIEEE(index) != sum {
		return fmt.Errorf("%w: index checksum mismatch", ErrCorrupt)
	}
	f.end = indexOff

	return f.decodeIndex(bytes.NewReader(index))
}

func (f *File) decodeIndex(r *bytes.Reader) error {
	get := func(v interface{}) error {
		if err := binary.Read(r, order, v); err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return nil
	}

	var count uint32
	if err := get(&count); err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		var nameLen uint16
		if err := get(&nameLen); err != nil {
			return err
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}

		var dtype, rank uint8
		if err := get(&dtype); err != nil {
			return err
		}
		if err := get(&rank); err != nil {
			return err
		}
		shape := make([]int64, rank)
		maxShape := make([]int64, rank)
		if err := get(shape); err != nil {
			return err
		}
		if err := get(maxShape); err != nil {
			return err
		}

		var nChunks uint64
		if err := get(&nChunks); err != nil {
			return err
		}
		if rank == 0 || nChunks != uint64(shape[0]) || nChunks > uint64(r.Len()/8) {
			return fmt.Errorf("%w: dataset %s has %d chunks for length %d", ErrCorrupt, name, nChunks, shape[0])
		}
		chunks := make([]uint64, nChunks)
		if err := get(chunks); err != nil {
			return err
		}

		ds := &Dataset{
			file:  f,
			name:  string(name),
			dtype: DType(dtype),
		}
		if !ds.dtype.valid() {
			return fmt.Errorf("%w: dataset %s has unknown dtype %d", ErrCorrupt, name, dtype)
		}
		for k := range shape {
			ds.shape = append(ds.shape, int(shape[k]))
			ds.maxShape = append(ds.maxShape, int(maxShape[k]))
		}
		for _, off := range chunks {
			if int64(off) < headerSize || int64(off)+int64(ds.chunkSize()) > f.end {
				return fmt.Errorf("%w: dataset %s chunk offset %d out of bounds", ErrCorrupt, name, off)
			}
			ds.chunks = append(ds.chunks, int64(off))
		}

		if _, dup := f.byName[ds.name]; dup {
			return fmt.Errorf("%w: duplicate dataset %s", ErrCorrupt, name)
		}
		f.datasets = append(f.datasets, ds)
		f.byName[ds.name] = ds
	}
	return nil
}
