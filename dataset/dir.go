package dataset

import (
	iface "CDEvalServer/interface"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"
	"gorgonia.org/tensor"
)

const (
	DirA     = "A"
	DirB     = "B"
	DirLabel = "label"
)

var imageExts = []string{".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff"}

// Dir loads image pairs from root/A and root/B with masks from root/label.
// Files are matched by name and served in name order. The last batch may be
// smaller than batchSize.
type Dir struct {
	Root      string
	BatchSize int
	Workers   int
	names     []string
}

func NewDir(root string, batchSize, workers int) (*Dir, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if workers <= 0 {
		workers = 1
	}
	entries, err := os.ReadDir(filepath.Join(root, DirA))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !slices.Contains(imageExts, strings.ToLower(filepath.Ext(e.Name()))) {
			continue
		}
		for _, sub := range []string{DirB, DirLabel} {
			if _, err := os.Stat(filepath.Join(root, sub, e.Name())); err != nil {
				return nil, fmt.Errorf("%s has no counterpart in %s: %w", e.Name(), sub, err)
			}
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return &Dir{Root: root, BatchSize: batchSize, Workers: workers, names: names}, nil
}

func (d *Dir) Len() int {
	return (len(d.names) + d.BatchSize - 1) / d.BatchSize
}

func (d *Dir) Names() []string {
	return slices.Clone(d.names)
}

func (d *Dir) All() iter.Seq2[iface.Batch, error] {
	return func(yield func(iface.Batch, error) bool) {
		for start := 0; start < len(d.names); start += d.BatchSize {
			end := min(start+d.BatchSize, len(d.names))
			batch, err := d.load(d.names[start:end])
			if !yield(batch, err) || err != nil {
				return
			}
		}
	}
}

type sample struct {
	a, b, gt []float32
	c, h, w  int
}

func (d *Dir) load(names []string) (iface.Batch, error) {
	samples := make([]sample, len(names))
	var g errgroup.Group
	g.SetLimit(d.Workers)
	for i, name := range names {
		g.Go(func() error {
			s, err := d.readSample(name)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			samples[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return iface.Batch{}, err
	}

	first := samples[0]
	n, c, h, w := len(samples), first.c, first.h, first.w
	a := make([]float32, 0, n*c*h*w)
	b := make([]float32, 0, n*c*h*w)
	gt := make([]float32, 0, n*2*h*w)
	for i, s := range samples {
		if s.c != c || s.h != h || s.w != w {
			return iface.Batch{}, fmt.Errorf("%s is %dx%dx%d, batch expects %dx%dx%d", names[i], s.c, s.h, s.w, c, h, w)
		}
		a = append(a, s.a...)
		b = append(b, s.b...)
		gt = append(gt, s.gt...)
	}
	return iface.Batch{
		A:      tensor.New(tensor.WithShape(n, c, h, w), tensor.WithBacking(a)),
		B:      tensor.New(tensor.WithShape(n, c, h, w), tensor.WithBacking(b)),
		GT:     tensor.New(tensor.WithShape(n, 2, h, w), tensor.WithBacking(gt)),
		Device: iface.CpuDevice,
	}, nil
}

func (d *Dir) readSample(name string) (sample, error) {
	a, c, h, w, err := readImage(filepath.Join(d.Root, DirA, name))
	if err != nil {
		return sample{}, err
	}
	b, cb, hb, wb, err := readImage(filepath.Join(d.Root, DirB, name))
	if err != nil {
		return sample{}, err
	}
	if cb != c || hb != h || wb != w {
		return sample{}, errors.New("image pair sizes differ")
	}
	gt, hl, wl, err := readLabel(filepath.Join(d.Root, DirLabel, name))
	if err != nil {
		return sample{}, err
	}
	if hl != h || wl != w {
		return sample{}, errors.New("label size differs from image size")
	}
	return sample{a: a, b: b, gt: gt, c: c, h: h, w: w}, nil
}

func decode(path string, flags gocv.IMReadFlag) (gocv.Mat, error) {
	mat := gocv.IMRead(path, flags)
	if mat.Empty() {
		_ = mat.Close()
		return gocv.Mat{}, fmt.Errorf("decoded image %s is empty or unsupported format", path)
	}
	return mat, nil
}

// readImage returns the image as RGB CHW float32 scaled to [0, 1].
func readImage(path string) ([]float32, int, int, int, error) {
	bgr, err := decode(path, gocv.IMReadColor)
	if err != nil {
		return nil, 0, 0, 0, err
	}
	defer bgr.Close()
	// opencv decodes to BGR
	mat := gocv.NewMat()
	defer mat.Close()
	if err := gocv.CvtColor(bgr, &mat, gocv.ColorBGRToRGB); err != nil {
		return nil, 0, 0, 0, fmt.Errorf("convert %s to RGB: %w", path, err)
	}
	c, h, w := mat.Channels(), mat.Rows(), mat.Cols()
	raw := mat.ToBytes()
	out := make([]float32, c*h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for ch := 0; ch < c; ch++ {
				out[(ch*h+y)*w+x] = float32(raw[(y*w+x)*c+ch]) / 255
			}
		}
	}
	return out, c, h, w, nil
}

// readLabel returns a one-hot (2, H, W) mask; pixels above 127 are positive.
func readLabel(path string) ([]float32, int, int, error) {
	mat, err := decode(path, gocv.IMReadGrayScale)
	if err != nil {
		return nil, 0, 0, err
	}
	defer mat.Close()
	h, w := mat.Rows(), mat.Cols()
	raw := mat.ToBytes()
	out := make([]float32, 2*h*w)
	for i, v := range raw[:h*w] {
		if v > 127 {
			out[h*w+i] = 1
		} else {
			out[i] = 1
		}
	}
	return out, h, w, nil
}
