package engine

import (
	iface "CDEvalServer/interface"
	"errors"
)

const (
	// LossTag is the scalar tag the mean evaluation loss is logged under.
	LossTag = "test/loss"

	imageExt     = ".png"
	gridPadding  = 0
	gridPadValue = 1.0
)

var (
	ErrNoBatches     = errors.New("data loader yielded no batches")
	ErrMetricMissing = errors.New("metric missing from batch result")
)

// Options 控制一次评估的可选行为
type Options struct {
	// Writer receives the mean loss; ignored unless Loss is also set.
	Writer     iface.Writer
	Step       int
	Loss       iface.LossFunc
	SaveImages bool
	// Metric defaults to metric.GetMetric.
	Metric iface.MetricFunc
	// OnBatch runs after each batch has been accumulated (and exported).
	// A non-nil error aborts the evaluation.
	OnBatch func(index int, metrics iface.MetricSet) error
}
