package tensor

import (
	"fmt"
	"math"
	"math/rand"
)

// NewTensor creates a tensor with the given shape, dtype and backing data.
// Passing nil data allocates a zero-filled backing slice.
func NewTensor(shape []int, dtype DType, device DeviceType, data interface{}) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	if device != CPU {
		return nil, fmt.Errorf("device %s is not available in this build, only CPU is supported", device)
	}

	t := &Tensor{
		Shape:    append([]int{}, shape...),
		Strides:  calculateStrides(shape),
		DType:    dtype,
		Device:   device,
		NumElems: calculateNumElements(shape),
	}

	if data == nil {
		switch dtype {
		case Float32:
			t.Data = make([]float32, t.NumElems)
		case Int32:
			t.Data = make([]int32, t.NumElems)
		default:
			return nil, fmt.Errorf("unsupported dtype: %s", dtype)
		}
		return t, nil
	}

	if err := t.setData(data); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tensor) setData(data interface{}) error {
	switch d := data.(type) {
	case []float32:
		if t.DType != Float32 {
			return fmt.Errorf("data type []float32 does not match tensor dtype %s", t.DType)
		}
		if len(d) != t.NumElems {
			return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
		}
		t.Data = d
	case []int32:
		if t.DType != Int32 {
			return fmt.Errorf("data type []int32 does not match tensor dtype %s", t.DType)
		}
		if len(d) != t.NumElems {
			return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
		}
		t.Data = d
	default:
		return fmt.Errorf("unsupported data type %T", data)
	}
	return nil
}

// SetData replaces the backing data in place, keeping shape and dtype
func (t *Tensor) SetData(data interface{}) error {
	return t.setData(data)
}

// Zeros creates a zero-filled tensor
func Zeros(shape []int, dtype DType, device DeviceType) (*Tensor, error) {
	return NewTensor(shape, dtype, device, nil)
}

// Ones creates a tensor filled with ones
func Ones(shape []int, dtype DType, device DeviceType) (*Tensor, error) {
	t, err := NewTensor(shape, dtype, device, nil)
	if err != nil {
		return nil, err
	}
	switch dtype {
	case Float32:
		data := t.Data.([]float32)
		for i := range data {
			data[i] = 1
		}
	case Int32:
		data := t.Data.([]int32)
		for i := range data {
			data[i] = 1
		}
	}
	return t, nil
}

// RandomNormal creates a Float32 tensor with normally distributed values
func RandomNormal(rng *rand.Rand, shape []int, mean, std float32, device DeviceType) (*Tensor, error) {
	t, err := NewTensor(shape, Float32, device, nil)
	if err != nil {
		return nil, err
	}
	data := t.Data.([]float32)
	for i := range data {
		data[i] = mean + std*float32(rng.NormFloat64())
	}
	return t, nil
}

// RandomUniform creates a Float32 tensor with values drawn from U(-bound, bound).
// This is the Xavier/Glorot initialization used for weight matrices.
func RandomUniform(rng *rand.Rand, shape []int, bound float64, device DeviceType) (*Tensor, error) {
	t, err := NewTensor(shape, Float32, device, nil)
	if err != nil {
		return nil, err
	}
	data := t.Data.([]float32)
	for i := range data {
		data[i] = float32((rng.Float64()*2.0 - 1.0) * bound)
	}
	return t, nil
}

// XavierBound returns the Glorot uniform bound for a fanIn x fanOut weight
func XavierBound(fanIn, fanOut int) float64 {
	return math.Sqrt(6.0 / float64(fanIn+fanOut))
}

// FromScalar creates a scalar-shaped [1] tensor holding a single value
func FromScalar(value float64, dtype DType, device DeviceType) *Tensor {
	t, _ := NewTensor([]int{1}, dtype, device, nil)
	switch dtype {
	case Float32:
		t.Data.([]float32)[0] = float32(value)
	case Int32:
		t.Data.([]int32)[0] = int32(value)
	}
	return t
}
