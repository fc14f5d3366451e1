package engine

import (
	"CDEvalServer/config"
	iface "CDEvalServer/interface"
	"CDEvalServer/logger"
	"CDEvalServer/metric"
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Evaluate runs model over every batch of loader and returns the per-metric
// mean over batches. The model is left in training mode on return, on every
// path. Calls must not overlap on the same model.
func Evaluate(ctx context.Context, model iface.Model, loader iface.Loader, cfg *config.Config, opts Options) (iface.MetricSet, error) {
	log := logger.Named("engine")
	device := cfg.Model.Device
	computeMetric := opts.Metric
	if computeMetric == nil {
		computeMetric = metric.GetMetric
	}

	model.SetMode(iface.Inference)
	defer model.SetMode(iface.Training)
	if err := model.To(device); err != nil {
		return nil, fmt.Errorf("move model to %s: %w", device, err)
	}
	if g, ok := model.(iface.GradToggler); ok {
		prev := g.SetGradEnabled(false)
		defer g.SetGradEnabled(prev)
	}

	metricAll := iface.NewMetricSet(cfg.Eval.Metric)
	lossAll := 0.0
	count := 0
	log.Info("evaluation started",
		zap.String("device", string(device)),
		zap.Int("batches", loader.Len()),
		zap.Strings("metrics", cfg.Eval.Metric),
		zap.Bool("saveImages", opts.SaveImages))

	for data, err := range loader.All() {
		if err != nil {
			return nil, fmt.Errorf("load batch %d: %w", count, err)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch := data.To(device)
		output, err := model.Forward(batch)
		if err != nil {
			return nil, fmt.Errorf("forward batch %d: %w", count, err)
		}
		if opts.Loss != nil {
			loss, err := opts.Loss(output, batch.GT)
			if err != nil {
				return nil, fmt.Errorf("loss batch %d: %w", count, err)
			}
			lossAll += loss
		}
		outTensor, err := argmaxKeepDim(output)
		if err != nil {
			return nil, fmt.Errorf("reduce batch %d: %w", count, err)
		}
		gtTensor, err := positiveChannel(batch.GT)
		if err != nil {
			return nil, fmt.Errorf("ground truth batch %d: %w", count, err)
		}
		batchMetric, err := computeMetric(outTensor, gtTensor)
		if err != nil {
			return nil, fmt.Errorf("metric batch %d: %w", count, err)
		}
		if metricAll, err = AddMetric(metricAll, batchMetric); err != nil {
			return nil, fmt.Errorf("batch %d: %w", count, err)
		}
		if opts.SaveImages {
			path, err := saveOutputImages(cfg.Eval.SaveImageRoot, cfg.Eval.Metric, batchMetric, outTensor)
			if err != nil {
				return nil, fmt.Errorf("save images batch %d: %w", count, err)
			}
			log.Debug("saved batch visualization", zap.Int("batch", count), zap.String("path", path))
		}
		if opts.OnBatch != nil {
			if err := opts.OnBatch(count, batchMetric); err != nil {
				return nil, err
			}
		}
		count++
	}

	if count == 0 {
		return nil, ErrNoBatches
	}
	if declared := loader.Len(); declared != count {
		log.Warn("loader length disagrees with batches iterated, averaging over iterated count",
			zap.Int("declared", declared), zap.Int("iterated", count))
	}

	metricAvg := make(iface.MetricSet, len(metricAll))
	for k, v := range metricAll {
		metricAvg[k] = v / float64(count)
	}
	if opts.Writer != nil && opts.Loss != nil {
		if err := opts.Writer.AddScalar(LossTag, lossAll/float64(count), opts.Step); err != nil {
			return nil, fmt.Errorf("write %s: %w", LossTag, err)
		}
	}
	fields := make([]zap.Field, 0, len(metricAvg)+1)
	fields = append(fields, zap.Int("batches", count))
	for _, k := range metricAvg.Keys() {
		fields = append(fields, zap.Float64(k, metricAvg[k]))
	}
	log.Info("evaluation finished", fields...)
	return metricAvg, nil
}

// AddMetric adds mb into ma key by key and returns ma. Every key of ma must be
// present in mb; extra keys in mb are ignored.
func AddMetric(ma, mb iface.MetricSet) (iface.MetricSet, error) {
	var missing []string
	for _, k := range ma.Keys() {
		if _, ok := mb[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return ma, fmt.Errorf("%w: %s", ErrMetricMissing, strings.Join(missing, ", "))
	}
	for k, v := range ma {
		ma[k] = mb[k] + v
	}
	return ma, nil
}
