package dataset

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"mrimask/internal/models"
	"mrimask/pkg/contour"
	"mrimask/pkg/dicomio"
	"mrimask/pkg/remap"
	"mrimask/pkg/store"
)

// fixture lays out contour and image trees in a temporary directory
type fixture struct {
	t        *testing.T
	contours string
	images   string
	link     string
	out      string
	links    [][2]string
}

func newFixture(t *testing.T) *fixture {
	root := t.TempDir()
	return &fixture{
		t:        t,
		contours: filepath.Join(root, "contourfiles"),
		images:   filepath.Join(root, "dicoms"),
		link:     filepath.Join(root, "link.csv"),
		out:      filepath.Join(root, "corpus.store"),
	}
}

func (f *fixture) write(path, body string) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		f.t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		f.t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func (f *fixture) addLink(imagingID, contourID string) {
	f.links = append(f.links, [2]string{imagingID, contourID})
}

func (f *fixture) writeLink() {
	var sb strings.Builder
	sb.WriteString("patient_id,original_id\n")
	for _, l := range f.links {
		fmt.Fprintf(&sb, "%s,%s\n", l[0], l[1])
	}
	f.write(f.link, sb.String())
}

func (f *fixture) addContour(subject, name, body string) {
	f.write(filepath.Join(f.contours, subject, "i-contours", name), body)
}

// addFakeImage writes "height width value" for textLoader.
func (f *fixture) addFakeImage(imagingID, slice string, height, width int, value float64) {
	f.write(filepath.Join(f.images, imagingID, slice+".dcm"), fmt.Sprintf("%d %d %v", height, width, value))
}

// textLoader reads the stand-in image files written by addFakeImage and
// records the order of loads.
type textLoader struct {
	loaded []string
}

func (l *textLoader) Load(path string) (*models.CalibratedImage, error) {
	l.loaded = append(l.loaded, path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &dicomio.DecodeError{Path: path, Err: err}
	}
	var h, w int
	var v float64
	if _, err := fmt.Sscan(string(data), &h, &w, &v); err != nil {
		return nil, &dicomio.DecodeError{Path: path, Err: err}
	}
	px := make([]float64, h*w)
	for i := range px {
		px[i] = v
	}
	return &models.CalibratedImage{Pixels: mat.NewDense(h, w, px)}, nil
}

func quietBuilder(loader dicomio.Loader) *Builder {
	opts := []Option{WithLogger(log.New(io.Discard, "", 0))}
	if loader != nil {
		opts = append(opts, WithLoader(loader))
	}
	return NewBuilder(nil, opts...)
}

const square = "2 2\n6 2\n6 6\n2 6\n"

func TestSliceIndex(t *testing.T) {
	cases := map[string]string{
		"IM-0001-0048-icontour-manual.txt": "48",
		"IM-0001-0080-icontour-manual.txt": "80",
		"IM-0001-0100-icontour-manual.txt": "100",
		"IM-0001-0000-icontour-manual.txt": "0",
		"IM-0001-1234":                     "1234",
	}
	for name, want := range cases {
		got, err := SliceIndex(name, 8, 12)
		if err != nil {
			t.Errorf("SliceIndex(%q) failed: %v", name, err)
			continue
		}
		if got != want {
			t.Errorf("SliceIndex(%q): expected %q, got %q", name, want, got)
		}
	}

	for _, name := range []string{"IM-0001", "IM-0001-00a8-x.txt"} {
		if _, err := SliceIndex(name, 8, 12); !errors.Is(err, ErrSliceIndex) {
			t.Errorf("SliceIndex(%q): expected ErrSliceIndex, got %v", name, err)
		}
	}
}

// TestBuildEndToEnd writes a real DICOM slice and checks the stored pair
func TestBuildEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.addLink("SCD0000101", "SC-HF-I-1")
	f.writeLink()
	f.addContour("SC-HF-I-1", "IM-0001-0048-icontour-manual.txt", square)

	height, width := 10, 12
	raw := mat.NewDense(height, width, nil)
	raw.Apply(func(i, j int, _ float64) float64 { return float64(i + j) }, raw)
	if err := os.MkdirAll(filepath.Join(f.images, "SCD0000101"), 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := dicomio.WriteSlice(filepath.Join(f.images, "SCD0000101", "48.dcm"), raw, dicomio.WithRescale(2, 1)); err != nil {
		t.Fatalf("WriteSlice failed: %v", err)
	}

	summary, err := quietBuilder(nil).Build(f.contours, f.images, f.link, f.out)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if summary.Slices != 1 || summary.Subjects != 1 || summary.Height != height || summary.Width != width {
		t.Errorf("Unexpected summary %+v", summary)
	}

	ps, err := store.OpenPaired(f.out)
	if err != nil {
		t.Fatalf("OpenPaired failed: %v", err)
	}
	defer ps.Close()

	if ps.Len() != 1 {
		t.Fatalf("Expected 1 entry, got %d", ps.Len())
	}
	if h, w := ps.Dims(); h != height || w != width {
		t.Fatalf("Expected (1, %d, %d), got (1, %d, %d)", height, width, h, w)
	}

	images, labels, err := ps.Gather([]int{0})
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if got := images.At(0, 3, 5); got != float32((3+5)*2+1) {
		t.Errorf("Expected calibrated pixel %d, got %v", (3+5)*2+1, got)
	}

	set := 0
	for _, v := range labels.Slice(0) {
		if v {
			set++
		}
	}
	if set != 25 {
		t.Errorf("Expected 25 mask pixels for a 5x5 square, got %d", set)
	}
	if !labels.At(0, 4, 4) || labels.At(0, 8, 8) {
		t.Error("Mask does not match the contour")
	}
}

// TestBuildTwice makes sure the second build fails and leaves the store alone
func TestBuildTwice(t *testing.T) {
	f := newFixture(t)
	f.addLink("IMG1", "C1")
	f.writeLink()
	f.addContour("C1", "IM-0001-0001-icontour-manual.txt", square)
	f.addFakeImage("IMG1", "1", 8, 8, 5)

	b := quietBuilder(&textLoader{})
	if _, err := b.Build(f.contours, f.images, f.link, f.out); err != nil {
		t.Fatalf("First build failed: %v", err)
	}
	before, err := os.ReadFile(f.out)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	_, err = b.Build(f.contours, f.images, f.link, f.out)
	if !errors.Is(err, store.ErrExists) {
		t.Fatalf("Expected ErrExists, got %v", err)
	}

	after, err := os.ReadFile(f.out)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Error("Second build modified the existing store")
	}
}

// TestBuildOrder checks sorted traversal and the file filters
func TestBuildOrder(t *testing.T) {
	f := newFixture(t)
	f.addLink("IMG-B", "B")
	f.addLink("IMG-A", "A")
	f.writeLink()

	f.addContour("B", "IM-0001-0002-icontour-manual.txt", square)
	f.addContour("A", "IM-0001-0010-icontour-manual.txt", square)
	f.addContour("A", "IM-0001-0003-icontour-manual.txt", square)
	f.addContour("A", ".IM-0001-0004-icontour-manual.txt", square)
	f.addContour("A", "IM-0001-0005-icontour-manual.csv", square)
	f.write(filepath.Join(f.contours, "stray.txt"), "not a subject")

	f.addFakeImage("IMG-A", "3", 8, 8, 0)
	f.addFakeImage("IMG-A", "10", 8, 8, 1)
	f.addFakeImage("IMG-B", "2", 8, 8, 2)

	loader := &textLoader{}
	summary, err := quietBuilder(loader).Build(f.contours, f.images, f.link, f.out)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if summary.Slices != 3 || summary.Subjects != 2 {
		t.Errorf("Unexpected summary %+v", summary)
	}

	want := []string{
		filepath.Join(f.images, "IMG-A", "3.dcm"),
		filepath.Join(f.images, "IMG-A", "10.dcm"),
		filepath.Join(f.images, "IMG-B", "2.dcm"),
	}
	if len(loader.loaded) != len(want) {
		t.Fatalf("Expected %d loads, got %v", len(want), loader.loaded)
	}
	for i := range want {
		if loader.loaded[i] != want[i] {
			t.Errorf("Load %d: expected %s, got %s", i, want[i], loader.loaded[i])
		}
	}

	ps, err := store.OpenPaired(f.out)
	if err != nil {
		t.Fatalf("OpenPaired failed: %v", err)
	}
	defer ps.Close()
	images, _, err := ps.Gather([]int{0, 1, 2})
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for k, v := range []float32{0, 1, 2} {
		if images.At(k, 0, 0) != v {
			t.Errorf("Entry %d: expected value %v, got %v", k, v, images.At(k, 0, 0))
		}
	}
}

// TestBuildMissingLink aborts on an unknown subject and keeps the prefix
func TestBuildMissingLink(t *testing.T) {
	f := newFixture(t)
	f.addLink("IMG-A", "A")
	f.writeLink()
	f.addContour("A", "IM-0001-0001-icontour-manual.txt", square)
	f.addContour("B", "IM-0001-0001-icontour-manual.txt", square)
	f.addFakeImage("IMG-A", "1", 8, 8, 1)

	_, err := quietBuilder(&textLoader{}).Build(f.contours, f.images, f.link, f.out)
	if !errors.Is(err, remap.ErrLookup) {
		t.Fatalf("Expected ErrLookup, got %v", err)
	}
	if !strings.Contains(err.Error(), `"B"`) {
		t.Errorf("Expected error to name subject B, got %v", err)
	}

	ps, err := store.OpenPaired(f.out)
	if err != nil {
		t.Fatalf("Partial store should be readable: %v", err)
	}
	defer ps.Close()
	if ps.Len() != 1 {
		t.Errorf("Expected the first subject's slice to remain, got %d entries", ps.Len())
	}
}

func TestBuildShapeMismatch(t *testing.T) {
	f := newFixture(t)
	f.addLink("IMG-A", "A")
	f.addLink("IMG-B", "B")
	f.writeLink()
	f.addContour("A", "IM-0001-0001-icontour-manual.txt", square)
	f.addContour("B", "IM-0001-0001-icontour-manual.txt", square)
	f.addFakeImage("IMG-A", "1", 8, 8, 1)
	f.addFakeImage("IMG-B", "1", 8, 10, 1)

	_, err := quietBuilder(&textLoader{}).Build(f.contours, f.images, f.link, f.out)
	if !errors.Is(err, store.ErrShapeMismatch) {
		t.Fatalf("Expected ErrShapeMismatch, got %v", err)
	}
}

func TestBuildMissingImage(t *testing.T) {
	f := newFixture(t)
	f.addLink("IMG-A", "A")
	f.writeLink()
	f.addContour("A", "IM-0001-0001-icontour-manual.txt", square)

	_, err := quietBuilder(&textLoader{}).Build(f.contours, f.images, f.link, f.out)
	if !errors.Is(err, dicomio.ErrDecode) {
		t.Fatalf("Expected ErrDecode, got %v", err)
	}
}

func TestBuildBadContour(t *testing.T) {
	f := newFixture(t)
	f.addLink("IMG-A", "A")
	f.writeLink()
	f.addContour("A", "IM-0001-0001-icontour-manual.txt", "1 1\n7\n")
	f.addFakeImage("IMG-A", "1", 8, 8, 1)

	_, err := quietBuilder(&textLoader{}).Build(f.contours, f.images, f.link, f.out)
	if !errors.Is(err, contour.ErrParse) {
		t.Fatalf("Expected ErrParse, got %v", err)
	}
}

func TestPreview(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 3; i++ {
		f.addContour("A", fmt.Sprintf("IM-0001-%04d-icontour-manual.txt", i), square)
		f.addFakeImage("IMG-A", fmt.Sprint(i), 8, 8, float64(i))
	}

	b := quietBuilder(&textLoader{})
	pairs, err := b.Preview(filepath.Join(f.contours, "A"), filepath.Join(f.images, "IMG-A"), 2)
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("Expected 2 pairs, got %d", len(pairs))
	}
	if pairs[0].SliceIndex != "1" || pairs[1].SliceIndex != "2" {
		t.Errorf("Unexpected slice order %s, %s", pairs[0].SliceIndex, pairs[1].SliceIndex)
	}
	if pairs[0].Mask.Count() != 25 {
		t.Errorf("Expected 25 mask pixels, got %d", pairs[0].Mask.Count())
	}

	all, err := b.Preview(filepath.Join(f.contours, "A"), filepath.Join(f.images, "IMG-A"), 0)
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 pairs without a limit, got %d", len(all))
	}
}
