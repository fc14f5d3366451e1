package model

import (
	iface "CDEvalServer/interface"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"gorgonia.org/tensor"
)

type ForwardRequest struct {
	Device string    `json:"device"`
	Mode   string    `json:"mode"`
	Shape  []int     `json:"shape"`
	A      []float32 `json:"a"`
	B      []float32 `json:"b"`
}

type ForwardResponse struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Remote forwards image pairs to an HTTP inference endpoint at URL + "/forward".
type Remote struct {
	URL    string
	client *resty.Client
	mode   iface.Mode
	device iface.Device
}

func NewRemote(url string, timeout time.Duration) *Remote {
	return &Remote{
		URL:    strings.TrimRight(url, "/"),
		client: resty.New().SetTimeout(timeout),
		mode:   iface.Training,
		device: iface.CpuDevice,
	}
}

func (r *Remote) Mode() iface.Mode {
	return r.mode
}

func (r *Remote) SetMode(mode iface.Mode) {
	r.mode = mode
}

// To only records the device; placement is up to the remote side.
func (r *Remote) To(device iface.Device) error {
	r.device = device
	return nil
}

func (r *Remote) Forward(batch iface.Batch) (*tensor.Dense, error) {
	if err := batch.On(r.device); err != nil {
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
	reqBody := ForwardRequest{
		Device: string(r.device),
		Mode:   r.mode.String(),
		Shape:  []int(a.Shape()),
		A:      av,
		B:      bv,
	}
	var respBody ForwardResponse
	var errBody errorResponse
	resp, err := r.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		SetResult(&respBody).
		SetError(&errBody).
		Post(r.URL + "/forward")
	if err != nil {
		return nil, fmt.Errorf("remote forward: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("remote forward: server returned %s: %s", resp.Status(), errBody.Error)
	}
	shape := respBody.Shape
	if len(shape) != 4 || shape[0] != reqBody.Shape[0] || shape[2] != reqBody.Shape[2] || shape[3] != reqBody.Shape[3] {
		return nil, fmt.Errorf("remote forward: unexpected output shape %v for input %v", shape, reqBody.Shape)
	}
	if want := shape[0] * shape[1] * shape[2] * shape[3]; len(respBody.Data) != want {
		return nil, fmt.Errorf("remote forward: got %d values for shape %v", len(respBody.Data), shape)
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(respBody.Data)), nil
}
