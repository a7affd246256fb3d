package store

import (
	"fmt"

	"mrimask/internal/models"
)

// Dataset names used by PairedStore.
const (
	ImageDataset = "image"
	LabelDataset = "label"
)

// PairedStore holds co-indexed image and label datasets of shape (N, H, W).
// A created store starts uninitialized; the first Append fixes (H, W) and
// declares both datasets with max shape (Unlimited, H, W).
type PairedStore struct {
	file  *File
	image *Dataset
	label *Dataset
}

// CreatePaired creates a new, uninitialized paired store at path. It fails
// with ErrExists when path already exists.
func CreatePaired(path string) (*PairedStore, error) {
	f, err := Create(path)
	if err != nil {
		return nil, err
	}
	return &PairedStore{file: f}, nil
}

// OpenPaired opens a paired store read-only. A store that was created but
// never appended to opens as empty.
func OpenPaired(path string) (*PairedStore, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}

	p := &PairedStore{file: f}
	if !f.Has(ImageDataset) && !f.Has(LabelDataset) {
		return p, nil
	}

	if p.image, err = f.Dataset(ImageDataset); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if p.label, err = f.Dataset(LabelDataset); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := p.validate(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func (p *PairedStore) validate() error {
	if p.image.DType() != Float32 || p.label.DType() != Bool {
		return fmt.Errorf("%w: expected float32 image and bool label, got %v and %v",
			ErrCorrupt, p.image.DType(), p.label.DType())
	}
	is, ls := p.image.Shape(), p.label.Shape()
	if len(is) != 3 || len(ls) != 3 {
		return fmt.Errorf("%w: expected rank 3 datasets, got %v and %v", ErrCorrupt, is, ls)
	}
	if is[0] != ls[0] {
		return fmt.Errorf("%w: image has %d entries, label has %d", ErrCorrupt, is[0], ls[0])
	}
	if is[1] != ls[1] || is[2] != ls[2] {
		return fmt.Errorf("%w: image is %dx%d, label is %dx%d", ErrCorrupt, is[1], is[2], ls[1], ls[2])
	}
	return nil
}

// Path returns the store path.
func (p *PairedStore) Path() string {
	return p.file.Path()
}

// Initialized reports whether the element shape has been fixed.
func (p *PairedStore) Initialized() bool {
	return p.image != nil
}

// Len returns the number of pairs.
func (p *PairedStore) Len() int {
	if p.image == nil {
		return 0
	}
	return p.image.Len()
}

// Dims returns (H, W), or zeros before the first append.
func (p *PairedStore) Dims() (height, width int) {
	if p.image == nil {
		return 0, 0
	}
	s := p.image.Shape()
	return s[1], s[2]
}

func (p *PairedStore) initialize(height, width int) error {
	var err error
	shape := []int{0, height, width}
	maxShape := []int{Unlimited, height, width}
	if p.image, err = p.file.CreateDataset(ImageDataset, Float32, shape, maxShape); err != nil {
		return err
	}
	if p.label, err = p.file.CreateDataset(LabelDataset, Bool, shape, maxShape); err != nil {
		return err
	}
	return nil
}

// Append adds one (image, mask) pair. Both datasets grow by exactly one.
// A pair whose dimensions differ from the first pair fails with
// ErrShapeMismatch and nothing is written.
func (p *PairedStore) Append(img *models.CalibratedImage, mask *models.Mask) error {
	if p.file.closed {
		return ErrClosed
	}
	if !p.file.writable {
		return ErrReadOnly
	}

	h, w := img.Height(), img.Width()
	if mask.Height != h || mask.Width != w {
		return fmt.Errorf("%w: image is %dx%d, mask is %dx%d", ErrShapeMismatch, h, w, mask.Height, mask.Width)
	}

	if !p.Initialized() {
		if err := p.initialize(h, w); err != nil {
			return err
		}
	} else if sh, sw := p.Dims(); sh != h || sw != w {
		return fmt.Errorf("%w: store holds %dx%d slices, got %dx%d", ErrShapeMismatch, sh, sw, h, w)
	}

	if err := p.image.AppendFloat32(img.Float32()); err != nil {
		return err
	}
	if err := p.label.AppendBool(mask.Data); err != nil {
		p.image.dropLast()
		return err
	}
	return nil
}

// Gather reads the pairs at indices, in the order given.
func (p *PairedStore) Gather(indices []int) (*models.ImageBatch, *models.LabelBatch, error) {
	h, w := p.Dims()
	images := &models.ImageBatch{N: len(indices), H: h, W: w}
	labels := &models.LabelBatch{N: len(indices), H: h, W: w}
	if len(indices) == 0 {
		return images, labels, nil
	}
	if !p.Initialized() {
		return nil, nil, fmt.Errorf("%w: store is empty", ErrIndexRange)
	}

	var err error
	if images.Data, err = p.image.GatherFloat32(indices); err != nil {
		return nil, nil, err
	}
	if labels.Data, err = p.label.GatherBool(indices); err != nil {
		return nil, nil, err
	}
	return images, labels, nil
}

// Flush persists everything appended so far.
func (p *PairedStore) Flush() error {
	return p.file.Flush()
}

// Close flushes a writable store and releases it.
func (p *PairedStore) Close() error {
	return p.file.Close()
}
