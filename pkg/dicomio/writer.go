package dicomio

import (
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
	"gonum.org/v1/gonum/mat"
)

// WriteOption configures WriteSlice.
type WriteOption func(*writeOptions)

type writeOptions struct {
	rescale   bool
	slope     float64
	intercept float64
}

// WithRescale stores RescaleSlope and RescaleIntercept in the file.
func WithRescale(slope, intercept float64) WriteOption {
	return func(o *writeOptions) {
		o.rescale = true
		o.slope = slope
		o.intercept = intercept
	}
}

type tagValue struct {
	t tag.Tag
	v interface{}
}

// WriteSlice writes raw as a single-frame 16-bit MONOCHROME2 DICOM file.
// Values are clamped to [0, 65535]. It is used to produce synthetic slices
// for fixtures and demos.
func WriteSlice(path string, raw *mat.Dense, opts ...WriteOption) error {
	o := &writeOptions{}
	for _, opt := range opts {
		opt(o)
	}

	rows, cols := raw.Dims()
	native := frame.NewNativeFrame[uint16](16, rows, cols, rows*cols, 1)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			v := math.Max(0, math.Min(65535, math.Round(raw.At(y, x))))
			native.RawData[y*cols+x] = uint16(v)
		}
	}

	pixelData := dicom.PixelDataInfo{
		Frames: []*frame.Frame{
			{
				Encapsulated: false,
				NativeData:   native,
			},
		},
	}

	values := []tagValue{
		{tag.MediaStorageSOPClassUID, []string{"1.2.840.10008.5.1.4.1.1.4"}},
		{tag.MediaStorageSOPInstanceUID, []string{"1.2.826.0.1.3680043.8.498.1"}},
		{tag.TransferSyntaxUID, []string{"1.2.840.10008.1.2.1"}},
		{tag.SOPClassUID, []string{"1.2.840.10008.5.1.4.1.1.4"}},
		{tag.Modality, []string{"MR"}},
		{tag.Rows, []int{rows}},
		{tag.Columns, []int{cols}},
		{tag.BitsAllocated, []int{16}},
		{tag.BitsStored, []int{16}},
		{tag.HighBit, []int{15}},
		{tag.PixelRepresentation, []int{0}},
		{tag.SamplesPerPixel, []int{1}},
		{tag.PhotometricInterpretation, []string{"MONOCHROME2"}},
	}
	if o.rescale {
		values = append(values,
			tagValue{tag.RescaleIntercept, []string{strconv.FormatFloat(o.intercept, 'f', -1, 64)}},
			tagValue{tag.RescaleSlope, []string{strconv.FormatFloat(o.slope, 'f', -1, 64)}},
		)
	}
	values = append(values, tagValue{tag.PixelData, pixelData})

	elements := make([]*dicom.Element, 0, len(values))
	for _, tv := range values {
		el, err := dicom.NewElement(tv.t, tv.v)
		if err != nil {
			return fmt.Errorf("failed to build element %v: %w", tv.t, err)
		}
		elements = append(elements, el)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := dicom.Write(f, dicom.Dataset{Elements: elements}); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
