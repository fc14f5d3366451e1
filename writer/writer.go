package writer

import (
	iface "CDEvalServer/interface"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// Log writes scalars as structured log lines.
type Log struct {
	log *zap.Logger
}

func NewLog(l *zap.Logger) *Log {
	return &Log{log: l}
}

func (w *Log) AddScalar(tag string, value float64, step int) error {
	w.log.Info("scalar", zap.String("tag", tag), zap.Float64("value", value), zap.Int("step", step))
	return nil
}

// Multi fans a scalar out to every writer, even when some of them fail.
type Multi []iface.Writer

func (m Multi) AddScalar(tag string, value float64, step int) error {
	var result *multierror.Error
	for i, w := range m {
		if w == nil {
			continue
		}
		if err := w.AddScalar(tag, value, step); err != nil {
			result = multierror.Append(result, fmt.Errorf("writer %d: %w", i, err))
		}
	}
	return result.ErrorOrNil()
}
