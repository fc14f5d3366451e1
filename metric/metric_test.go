package metric

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func dense(shape []int, data []float32) *tensor.Dense {
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

func TestConfusion(t *testing.T) {
	pred := dense([]int{1, 1, 3, 3}, []float32{1, 0, 0, 1, 0, 0, 1, 0, 0})
	target := dense([]int{1, 3, 3}, []float32{1, 0, 0, 1, 1, 0, 1, 0, 0})

	t.Run("Test Counts", func(t *testing.T) {
		c, err := NewConfusion(pred, target)
		require.NoError(t, err)
		assert.Equal(t, Confusion{TP: 3, FP: 0, FN: 1, TN: 5}, c)
	})

	t.Run("Test GetMetric", func(t *testing.T) {
		ms, err := GetMetric(pred, target)
		require.NoError(t, err)
		assert.ElementsMatch(t, Names(), ms.Keys())
		assert.InDelta(t, 1.0, ms[Precision], 1e-9)
		assert.InDelta(t, 0.75, ms[Recall], 1e-9)
		assert.InDelta(t, 6.0/7.0, ms[F1], 1e-9)
		assert.InDelta(t, 0.75, ms[IoU], 1e-9)
		assert.InDelta(t, 8.0/9.0, ms[OA], 1e-9)
		// pe = (3*4 + 6*5) / 81
		pe := 42.0 / 81.0
		assert.InDelta(t, (8.0/9.0-pe)/(1-pe), ms[Kappa], 1e-9)
	})

	t.Run("Test Size Mismatch", func(t *testing.T) {
		_, err := GetMetric(pred, dense([]int{1, 2, 2}, []float32{0, 0, 0, 0}))
		assert.Error(t, err)
	})
}

func TestFloat64s(t *testing.T) {
	full := tensor.New(tensor.WithShape(2, 2, 1, 2), tensor.WithBacking([]float32{0, 1, 2, 3, 4, 5, 6, 7}))

	t.Run("Test Dense", func(t *testing.T) {
		vals, err := Float64s(full)
		require.NoError(t, err)
		assert.Equal(t, []float64{0, 1, 2, 3, 4, 5, 6, 7}, vals)
	})

	t.Run("Test View", func(t *testing.T) {
		v, err := full.Slice(nil, tensor.S(1))
		require.NoError(t, err)
		view := v.(*tensor.Dense)
		require.True(t, view.IsView())
		vals, err := Float64s(view)
		require.NoError(t, err)
		assert.Equal(t, []float64{2, 3, 6, 7}, vals)
	})

	t.Run("Test Metric On View", func(t *testing.T) {
		// channel 0 is all ones, channel 1 all zeros
		scores := dense([]int{2, 2, 1, 2}, []float32{1, 1, 0, 0, 1, 1, 0, 0})
		v, err := scores.Slice(nil, tensor.S(1))
		require.NoError(t, err)
		c, err := NewConfusion(v.(*tensor.Dense), dense([]int{2, 1, 2}, []float32{1, 1, 1, 1}))
		require.NoError(t, err)
		assert.Equal(t, Confusion{FN: 4}, c)
	})
}

func TestConfusion_ZeroDenominators(t *testing.T) {
	c := Confusion{TN: 4}
	assert.Equal(t, 0.0, c.Precision())
	assert.Equal(t, 0.0, c.Recall())
	assert.Equal(t, 0.0, c.F1())
	assert.Equal(t, 0.0, c.IoU())
	assert.Equal(t, 1.0, c.OA())
	assert.Equal(t, 0.0, c.Kappa())
	assert.Equal(t, 0.0, Confusion{}.Kappa())
}

func TestCrossEntropy(t *testing.T) {
	t.Run("Test Uniform Scores", func(t *testing.T) {
		pred := dense([]int{1, 2, 1, 2}, []float32{0, 0, 0, 0})
		gt := dense([]int{1, 2, 1, 2}, []float32{1, 0, 0, 1})
		loss, err := CrossEntropy(pred, gt)
		require.NoError(t, err)
		assert.InDelta(t, math.Log(2), loss, 1e-9)
	})

	t.Run("Test Confident Scores", func(t *testing.T) {
		pred := dense([]int{1, 2, 1, 2}, []float32{10, -10, -10, 10})
		gt := dense([]int{1, 2, 1, 2}, []float32{1, 0, 0, 1})
		loss, err := CrossEntropy(pred, gt)
		require.NoError(t, err)
		assert.Less(t, loss, 1e-6)
	})

	t.Run("Test Shape Mismatch", func(t *testing.T) {
		pred := dense([]int{1, 2, 1, 2}, []float32{0, 0, 0, 0})
		gt := dense([]int{1, 1, 2, 2}, []float32{0, 0, 0, 0})
		_, err := CrossEntropy(pred, gt)
		assert.Error(t, err)
	})
}
