package engine

import (
	iface "CDEvalServer/interface"
	"CDEvalServer/metric"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gocv.io/x/gocv"
	"gorgonia.org/tensor"
)

// imageName builds "<name>_<value>_<name>_<value>....png" in configured order.
func imageName(names []string, ms iface.MetricSet) string {
	parts := make([]string, 0, len(names))
	for _, key := range names {
		parts = append(parts, fmt.Sprintf("%s_%.3f", key, ms[key]))
	}
	return strings.Join(parts, "_") + imageExt
}

// gridStrip lays the (N, C, H, W) maps out one per row and returns an
// interleaved 3-channel byte image. Single-channel maps are replicated.
func gridStrip(out *tensor.Dense, padding int, padValue float64) (rows, cols int, buf []byte, err error) {
	shape := out.Shape()
	if len(shape) != 4 || (shape[1] != 1 && shape[1] != 3) {
		return 0, 0, nil, fmt.Errorf("grid input must be (N, 1|3, H, W), got %v", shape)
	}
	vals, err := metric.Float64s(out)
	if err != nil {
		return 0, 0, nil, err
	}
	n, c, h, w := shape[0], shape[1], shape[2], shape[3]
	tileH, tileW := h+padding, w+padding
	rows, cols = n*tileH+padding, tileW+padding
	buf = make([]byte, rows*cols*3)
	pad := toByte(padValue)
	for i := range buf {
		buf[i] = pad
	}
	for s := 0; s < n; s++ {
		top := s*tileH + padding
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dst := ((top+y)*cols + padding + x) * 3
				for ch := 0; ch < 3; ch++ {
					srcCh := ch
					if c == 1 {
						srcCh = 0
					}
					buf[dst+ch] = toByte(vals[((s*c+srcCh)*h+y)*w+x])
				}
			}
		}
	}
	return rows, cols, buf, nil
}

func toByte(v float64) byte {
	v = math.Max(0, math.Min(1, v))
	return byte(math.Round(v * 255))
}

// saveOutputImages writes the batch's class maps as one vertical strip named
// after the batch metrics. A file with the same name is overwritten.
func saveOutputImages(root string, names []string, ms iface.MetricSet, out *tensor.Dense) (string, error) {
	if err := os.MkdirAll(root, os.ModePerm); err != nil {
		return "", err
	}
	rows, cols, buf, err := gridStrip(out, gridPadding, gridPadValue)
	if err != nil {
		return "", err
	}
	mat, err := gocv.NewMatFromBytes(rows, cols, gocv.MatTypeCV8UC3, buf)
	if err != nil {
		return "", err
	}
	defer mat.Close()
	path := filepath.Join(root, imageName(names, ms))
	ok := gocv.IMWrite(path, mat)
	// mat shares buf's memory
	runtime.KeepAlive(buf)
	if !ok {
		return "", fmt.Errorf("failed to write image %s", path)
	}
	return path, nil
}
