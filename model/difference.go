package model

import (
	iface "CDEvalServer/interface"
	"CDEvalServer/metric"
	"fmt"

	"gorgonia.org/tensor"
)

// Difference is a baseline change detector: a pixel is scored as changed by
// the mean absolute difference across channels, against a fixed threshold.
// Output channel 0 holds the threshold, channel 1 the difference.
type Difference struct {
	Threshold float32
	mode      iface.Mode
	device    iface.Device
}

func NewDifference(threshold float32) *Difference {
	return &Difference{Threshold: threshold, mode: iface.Training, device: iface.CpuDevice}
}

func (d *Difference) Mode() iface.Mode {
	return d.mode
}

func (d *Difference) SetMode(mode iface.Mode) {
	d.mode = mode
}

func (d *Difference) To(device iface.Device) error {
	if device != iface.CpuDevice {
		return fmt.Errorf("difference model runs on %s only, got %s", iface.CpuDevice, device)
	}
	d.device = device
	return nil
}

func (d *Difference) Forward(batch iface.Batch) (*tensor.Dense, error) {
	if err := batch.On(d.device); err != nil {
		return nil, err
	}
	a, b := batch.A, batch.B
	if err := sameShape(a, b); err != nil {
		return nil, err
	}
	av, err := float32s(a)
	if err != nil {
		return nil, err
	}
	bv, err := float32s(b)
	if err != nil {
		return nil, err
	}
	shape := a.Shape()
	n, c, plane := shape[0], shape[1], shape[2]*shape[3]
	out := make([]float32, n*2*plane)
	for s := 0; s < n; s++ {
		for px := 0; px < plane; px++ {
			var diff float32
			for ch := 0; ch < c; ch++ {
				i := (s*c+ch)*plane + px
				v := av[i] - bv[i]
				if v < 0 {
					v = -v
				}
				diff += v
			}
			out[(s*2)*plane+px] = d.Threshold
			out[(s*2+1)*plane+px] = diff / float32(c)
		}
	}
	return tensor.New(tensor.WithShape(n, 2, shape[2], shape[3]), tensor.WithBacking(out)), nil
}

func sameShape(a, b *tensor.Dense) error {
	if a == nil || b == nil {
		return fmt.Errorf("nil input tensor")
	}
	if len(a.Shape()) != 4 || !a.Shape().Eq(b.Shape()) {
		return fmt.Errorf("inputs must share an (N, C, H, W) shape, got %v and %v", a.Shape(), b.Shape())
	}
	if a.Shape()[1] == 0 {
		return fmt.Errorf("inputs have no channels")
	}
	return nil
}

func float32s(t *tensor.Dense) ([]float32, error) {
	t, err := metric.Materialize(t)
	if err != nil {
		return nil, err
	}
	if d, ok := t.Data().([]float32); ok {
		return d, nil
	}
	vals, err := metric.Float64s(t)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(vals))
	for i, v := range vals {
		out[i] = float32(v)
	}
	return out, nil
}
