package iface

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"gorgonia.org/tensor"
)

type Device string

const (
	CpuDevice  Device = "cpu"
	CudaDevice Device = "cuda"
	DmlDevice  Device = "dml"
	RocmDevice Device = "rocm"
)

func ParseDevice(s string) (Device, error) {
	switch d := Device(s); d {
	case CpuDevice, CudaDevice, DmlDevice, RocmDevice:
		return d, nil
	case "":
		return CpuDevice, nil
	default:
		return "", fmt.Errorf("unsupported device: %s", s)
	}
}

// Mode 模型当前所处的模式
type Mode int

const (
	Training  Mode = 0x3001
	Inference Mode = 0x3002
)

func (m Mode) String() string {
	switch m {
	case Training:
		return "training"
	case Inference:
		return "inference"
	default:
		return fmt.Sprintf("Mode(%#x)", int(m))
	}
}

// Batch holds one pair of image stacks and their ground truth.
// A and B are (N, C, H, W); GT is (N, 2, H, W) with channel 1 the positive mask.
type Batch struct {
	A      *tensor.Dense
	B      *tensor.Dense
	GT     *tensor.Dense
	Device Device
}

var ErrDeviceMismatch = errors.New("batch and model are on different devices")

// To relocates the batch. Tensors are host resident, so this only retags them;
// a model must reject a batch that is not on its own device (see On).
func (b Batch) To(device Device) Batch {
	b.Device = device
	return b
}

// On checks that the batch lives on device. An unset device means cpu.
func (b Batch) On(device Device) error {
	have := b.Device
	if have == "" {
		have = CpuDevice
	}
	if have != device {
		return fmt.Errorf("%w: batch on %s, model on %s", ErrDeviceMismatch, have, device)
	}
	return nil
}

func (b Batch) Size() int {
	if b.A == nil || b.A.Dims() == 0 {
		return 0
	}
	return b.A.Shape()[0]
}

// MetricSet maps a metric name to a value, or to a running sum while accumulating.
type MetricSet map[string]float64

func NewMetricSet(names []string) MetricSet {
	ms := make(MetricSet, len(names))
	for _, n := range names {
		ms[n] = 0.0
	}
	return ms
}

func (ms MetricSet) Clone() MetricSet {
	return maps.Clone(ms)
}

func (ms MetricSet) Keys() []string {
	return slices.Sorted(maps.Keys(ms))
}
