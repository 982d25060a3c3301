package tensor

import (
	"fmt"
)

// Device represents the compute device for tensor operations.
type Device int

// Supported compute devices.
const (
	CPU Device = iota
	WebGPU
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "CPU"
	case WebGPU:
		return "WebGPU"
	default:
		return "Unknown"
	}
}

// RawTensor is a dense row-major float32 tensor.
//
// Values are always held as float32; the precision tag records whether they
// have been rounded to the float16 grid.
type RawTensor struct {
	data      []float32
	shape     Shape
	stride    []int
	precision Precision
	device    Device
}

// NewRaw creates a zero-filled RawTensor with the given shape.
func NewRaw(shape Shape, precision Precision, device Device) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	return &RawTensor{
		data:      make([]float32, shape.NumElements()),
		shape:     shape.Clone(),
		stride:    shape.ComputeStrides(),
		precision: precision,
		device:    device,
	}, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Strides returns the tensor's memory strides.
func (r *RawTensor) Strides() []int {
	return r.stride
}

// Precision returns the precision tag.
func (r *RawTensor) Precision() Precision {
	return r.precision
}

// Device returns the tensor's compute device.
func (r *RawTensor) Device() Device {
	return r.device
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return len(r.data)
}

// ByteSize returns the storage size in bytes at the tensor's precision.
func (r *RawTensor) ByteSize() int {
	return len(r.data) * r.precision.ElementSize()
}

// Data returns the underlying slice. Writes through it are visible to the tensor.
func (r *RawTensor) Data() []float32 {
	return r.data
}

// At returns the element at the given multi-dimensional index.
func (r *RawTensor) At(idx ...int) float32 {
	return r.data[r.offset(idx)]
}

// Set writes v at the given multi-dimensional index.
func (r *RawTensor) Set(v float32, idx ...int) {
	r.data[r.offset(idx)] = v
}

func (r *RawTensor) offset(idx []int) int {
	if len(idx) != len(r.shape) {
		panic(fmt.Sprintf("tensor: index rank %d does not match shape %v", len(idx), r.shape))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= r.shape[i] {
			panic(fmt.Sprintf("tensor: index %v out of range for shape %v", idx, r.shape))
		}
		off += v * r.stride[i]
	}
	return off
}

// Row returns the contiguous slice addressed by a prefix index,
// e.g. Row(b, s) on a [B, S, H, D] tensor returns the H*D values of (b, s).
func (r *RawTensor) Row(prefix ...int) []float32 {
	if len(prefix) >= len(r.shape) {
		panic(fmt.Sprintf("tensor: row prefix %v too long for shape %v", prefix, r.shape))
	}
	off := 0
	for i, v := range prefix {
		if v < 0 || v >= r.shape[i] {
			panic(fmt.Sprintf("tensor: row prefix %v out of range for shape %v", prefix, r.shape))
		}
		off += v * r.stride[i]
	}
	return r.data[off : off+r.stride[len(prefix)-1]]
}

// Clone returns a deep copy.
func (r *RawTensor) Clone() *RawTensor {
	data := make([]float32, len(r.data))
	copy(data, r.data)
	return &RawTensor{
		data:      data,
		shape:     r.shape.Clone(),
		stride:    append([]int(nil), r.stride...),
		precision: r.precision,
		device:    r.device,
	}
}

// Reshape returns a tensor sharing data with r under a new shape.
func (r *RawTensor) Reshape(shape Shape) (*RawTensor, error) {
	if shape.NumElements() != len(r.data) {
		return nil, fmt.Errorf("cannot reshape %v to %v", r.shape, shape)
	}
	return &RawTensor{
		data:      r.data,
		shape:     shape.Clone(),
		stride:    shape.ComputeStrides(),
		precision: r.precision,
		device:    r.device,
	}, nil
}

// Round rounds the data in place to the tensor's precision and returns r.
func (r *RawTensor) Round() *RawTensor {
	r.precision.RoundSlice(r.data)
	return r
}

// WithPrecision returns a copy re-tagged (and rounded) at p.
func (r *RawTensor) WithPrecision(p Precision) *RawTensor {
	out := r.Clone()
	out.precision = p
	return out.Round()
}

// View wraps data without copying. The caller keeps ownership of data and
// must not write through it while the view is in use.
func View(data []float32, shape Shape, precision Precision, device Device) (*RawTensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("view: data length %d does not match shape %v", len(data), shape)
	}
	return &RawTensor{
		data:      data,
		shape:     shape.Clone(),
		stride:    shape.ComputeStrides(),
		precision: precision,
		device:    device,
	}, nil
}
