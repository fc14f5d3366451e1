package config

import (
	iface "CDEvalServer/interface"
	"CDEvalServer/metric"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("Test Defaults", func(t *testing.T) {
		cfg, err := Parse([]byte("{}"))
		require.NoError(t, err)
		assert.Equal(t, iface.CpuDevice, cfg.Model.Device)
		assert.Equal(t, "difference", cfg.Model.Name)
		assert.Equal(t, []string{metric.Precision, metric.Recall, metric.F1, metric.IoU}, cfg.Eval.Metric)
		assert.Equal(t, 1, cfg.Data.BatchSize)
		assert.Positive(t, cfg.Data.Workers)
		assert.Equal(t, 8080, cfg.Server.HTTPPort)
		assert.Equal(t, 50051, cfg.Server.RPCPort)
	})

	t.Run("Test Values", func(t *testing.T) {
		cfg, err := Parse([]byte(`
model:
  device: cuda
eval:
  metric: [f1, kappa]
  saveImages: true
  saveImageRoot: /tmp/out
data:
  batchSize: 8
`))
		require.NoError(t, err)
		assert.Equal(t, iface.CudaDevice, cfg.Model.Device)
		assert.Equal(t, []string{metric.F1, metric.Kappa}, cfg.Eval.Metric)
		assert.True(t, cfg.Eval.SaveImages)
		assert.Equal(t, 8, cfg.Data.BatchSize)
	})

	t.Run("Test Bad YAML", func(t *testing.T) {
		_, err := Parse([]byte("model: ["))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Model.Device = "tpu"
	cfg.Eval.Metric = []string{metric.F1, "auc", metric.F1}
	cfg.Eval.SaveImages = true
	cfg.Model.Name = "remote"

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownMetric))
	for _, want := range []string{"tpu", "auc", "duplicate metric", "saveImageRoot", "remoteURL"} {
		assert.Contains(t, err.Error(), want)
	}

	assert.NoError(t, Default().Validate())
}

func TestLoad(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data:\n  root: ./data\n"), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "./data", cfg.Data.Root)
}
