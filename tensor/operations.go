package tensor

import (
	"fmt"
)

func checkCompatibility(t1, t2 *Tensor) error {
	if t1.DType != t2.DType {
		return fmt.Errorf("dtype mismatch: %s vs %s", t1.DType, t2.DType)
	}
	if t1.Device != t2.Device {
		return fmt.Errorf("device mismatch: %s vs %s", t1.Device, t2.Device)
	}
	if len(t1.Shape) != len(t2.Shape) {
		return fmt.Errorf("shape mismatch: %v vs %v", t1.Shape, t2.Shape)
	}
	for i := range t1.Shape {
		if t1.Shape[i] != t2.Shape[i] {
			return fmt.Errorf("shape mismatch: %v vs %v", t1.Shape, t2.Shape)
		}
	}
	return nil
}

// Add performs elementwise addition of two same-shaped Float32 tensors
func Add(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, fmt.Errorf("add failed: %v", err)
	}
	out, err := Zeros(t1.Shape, t1.DType, t1.Device)
	if err != nil {
		return nil, err
	}
	a := t1.Data.([]float32)
	b := t2.Data.([]float32)
	c := out.Data.([]float32)
	for i := range c {
		c[i] = a[i] + b[i]
	}
	return out, nil
}

// Sub performs elementwise subtraction of two same-shaped Float32 tensors
func Sub(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, fmt.Errorf("sub failed: %v", err)
	}
	out, err := Zeros(t1.Shape, t1.DType, t1.Device)
	if err != nil {
		return nil, err
	}
	a := t1.Data.([]float32)
	b := t2.Data.([]float32)
	c := out.Data.([]float32)
	for i := range c {
		c[i] = a[i] - b[i]
	}
	return out, nil
}

// Mul performs elementwise multiplication of two same-shaped Float32 tensors
func Mul(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, fmt.Errorf("mul failed: %v", err)
	}
	out, err := Zeros(t1.Shape, t1.DType, t1.Device)
	if err != nil {
		return nil, err
	}
	a := t1.Data.([]float32)
	b := t2.Data.([]float32)
	c := out.Data.([]float32)
	for i := range c {
		c[i] = a[i] * b[i]
	}
	return out, nil
}

// Scale multiplies every element of a Float32 tensor by a scalar
func Scale(t *Tensor, factor float64) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("scale requires Float32 tensor, got %s", t.DType)
	}
	out, err := Zeros(t.Shape, t.DType, t.Device)
	if err != nil {
		return nil, err
	}
	a := t.Data.([]float32)
	c := out.Data.([]float32)
	f := float32(factor)
	for i := range c {
		c[i] = a[i] * f
	}
	return out, nil
}
