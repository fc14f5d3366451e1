package engine

import (
	"CDEvalServer/metric"
	"fmt"

	"gorgonia.org/tensor"
)

// argmaxKeepDim reduces (N, K, H, W) scores to a (N, 1, H, W) class-index map
// stored in the scores' dtype.
func argmaxKeepDim(pred *tensor.Dense) (*tensor.Dense, error) {
	shape := pred.Shape()
	if len(shape) != 4 {
		return nil, fmt.Errorf("prediction must be (N, K, H, W), got %v", shape)
	}
	pred, err := metric.Materialize(pred)
	if err != nil {
		return nil, err
	}
	idx, err := pred.Argmax(1)
	if err != nil {
		return nil, fmt.Errorf("argmax: %w", err)
	}
	classes, err := metric.Float64s(idx)
	if err != nil {
		return nil, err
	}
	n, h, w := shape[0], shape[2], shape[3]
	return fromFloat64s(pred.Dtype(), []int{n, 1, h, w}, classes)
}

// positiveChannel returns gt[:, 1, :, :] as an (N, H, W) tensor.
func positiveChannel(gt *tensor.Dense) (*tensor.Dense, error) {
	shape := gt.Shape()
	if len(shape) != 4 || shape[1] < 2 {
		return nil, fmt.Errorf("ground truth must be (N, C>=2, H, W), got %v", shape)
	}
	vals, err := metric.Float64s(gt)
	if err != nil {
		return nil, err
	}
	n, c, plane := shape[0], shape[1], shape[2]*shape[3]
	out := make([]float64, 0, n*plane)
	for s := 0; s < n; s++ {
		start := (s*c + 1) * plane
		out = append(out, vals[start:start+plane]...)
	}
	return fromFloat64s(gt.Dtype(), []int{n, shape[2], shape[3]}, out)
}

func fromFloat64s(dt tensor.Dtype, shape []int, vals []float64) (*tensor.Dense, error) {
	switch dt {
	case tensor.Float32:
		buf := make([]float32, len(vals))
		for i, v := range vals {
			buf[i] = float32(v)
		}
		return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(buf)), nil
	case tensor.Float64:
		return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(vals)), nil
	default:
		return nil, fmt.Errorf("unsupported dtype %v", dt)
	}
}
