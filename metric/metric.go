package metric

import (
	iface "CDEvalServer/interface"
	"fmt"

	"gorgonia.org/tensor"
)

const (
	Precision = "precision"
	Recall    = "recall"
	F1        = "f1"
	IoU       = "iou"
	OA        = "oa"
	Kappa     = "kappa"
)

func Names() []string {
	return []string{Precision, Recall, F1, IoU, OA, Kappa}
}

// Confusion is a binary confusion matrix over the positive ("changed") class.
type Confusion struct {
	TP, FP, FN, TN int64
}

func (c Confusion) Total() int64 {
	return c.TP + c.FP + c.FN + c.TN
}

func ratio(num, denom float64) float64 {
	if denom == 0 {
		return 0
	}
	return num / denom
}

func (c Confusion) Precision() float64 {
	return ratio(float64(c.TP), float64(c.TP+c.FP))
}

func (c Confusion) Recall() float64 {
	return ratio(float64(c.TP), float64(c.TP+c.FN))
}

func (c Confusion) F1() float64 {
	return ratio(float64(2*c.TP), float64(2*c.TP+c.FP+c.FN))
}

func (c Confusion) IoU() float64 {
	return ratio(float64(c.TP), float64(c.TP+c.FP+c.FN))
}

// OA is the overall pixel accuracy.
func (c Confusion) OA() float64 {
	return ratio(float64(c.TP+c.TN), float64(c.Total()))
}

// Kappa is Cohen's kappa between prediction and ground truth.
func (c Confusion) Kappa() float64 {
	total := float64(c.Total())
	if total == 0 {
		return 0
	}
	po := c.OA()
	pe := (float64(c.TP+c.FP)*float64(c.TP+c.FN) + float64(c.FN+c.TN)*float64(c.FP+c.TN)) / (total * total)
	if pe == 1 {
		return 0
	}
	return (po - pe) / (1 - pe)
}

func (c Confusion) MetricSet() iface.MetricSet {
	return iface.MetricSet{
		Precision: c.Precision(),
		Recall:    c.Recall(),
		F1:        c.F1(),
		IoU:       c.IoU(),
		OA:        c.OA(),
		Kappa:     c.Kappa(),
	}
}

// NewConfusion counts pixels; values above 0.5 are positive in both tensors.
func NewConfusion(pred, target *tensor.Dense) (Confusion, error) {
	p, err := Float64s(pred)
	if err != nil {
		return Confusion{}, fmt.Errorf("prediction: %w", err)
	}
	t, err := Float64s(target)
	if err != nil {
		return Confusion{}, fmt.Errorf("target: %w", err)
	}
	if len(p) != len(t) {
		return Confusion{}, fmt.Errorf("size mismatch: prediction %v has %d elements, target %v has %d",
			pred.Shape(), len(p), target.Shape(), len(t))
	}
	var c Confusion
	for i := range p {
		pp, tp := p[i] > 0.5, t[i] > 0.5
		switch {
		case pp && tp:
			c.TP++
		case pp && !tp:
			c.FP++
		case !pp && tp:
			c.FN++
		default:
			c.TN++
		}
	}
	return c, nil
}

// GetMetric is the default iface.MetricFunc.
func GetMetric(pred, target *tensor.Dense) (iface.MetricSet, error) {
	c, err := NewConfusion(pred, target)
	if err != nil {
		return nil, err
	}
	return c.MetricSet(), nil
}

// Materialize returns t itself, or a contiguous copy when t is a view or a
// transposed tensor whose backing array is not in logical order.
func Materialize(t *tensor.Dense) (*tensor.Dense, error) {
	if t == nil {
		return nil, fmt.Errorf("nil tensor")
	}
	if !t.IsMaterializable() {
		return t, nil
	}
	m, ok := t.Materialize().(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("materialize %v: unexpected tensor type", t.Shape())
	}
	return m, nil
}

// Float64s copies the tensor's elements, in logical row-major order, into a
// flat float64 slice.
func Float64s(t *tensor.Dense) ([]float64, error) {
	t, err := Materialize(t)
	if err != nil {
		return nil, err
	}
	switch d := t.Data().(type) {
	case []float32:
		out := make([]float64, len(d))
		for i, v := range d {
			out[i] = float64(v)
		}
		return out, nil
	case []float64:
		return append([]float64(nil), d...), nil
	case []int:
		out := make([]float64, len(d))
		for i, v := range d {
			out[i] = float64(v)
		}
		return out, nil
	case float32:
		return []float64{float64(d)}, nil
	case float64:
		return []float64{d}, nil
	case int:
		return []float64{float64(d)}, nil
	default:
		return nil, fmt.Errorf("unsupported dtype %v", t.Dtype())
	}
}
