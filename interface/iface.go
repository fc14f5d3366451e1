package iface

import (
	"iter"

	"gorgonia.org/tensor"
)

// Model compares the batch's two image stacks and returns per-class scores of
// shape (N, K, H, W). Forward fails with ErrDeviceMismatch when the batch is
// not on the model's device.
type Model interface {
	Forward(batch Batch) (*tensor.Dense, error)
	Mode() Mode
	SetMode(mode Mode)
	To(device Device) error
}

// GradToggler is implemented by models that track gradients.
// SetGradEnabled returns the previous state so callers can restore it.
type GradToggler interface {
	SetGradEnabled(enabled bool) bool
}

// Loader yields a finite, restartable sequence of batches.
type Loader interface {
	Len() int
	All() iter.Seq2[Batch, error]
}

type MetricFunc func(pred, target *tensor.Dense) (MetricSet, error)

type LossFunc func(pred, gt *tensor.Dense) (float64, error)

type Writer interface {
	AddScalar(tag string, value float64, step int) error
}
