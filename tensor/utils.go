package tensor

import (
	"fmt"
	"math"
)

// Clone returns a deep copy of the tensor data. Gradient state and graph
// links are not copied.
func (t *Tensor) Clone() (*Tensor, error) {
	out, err := NewTensor(t.Shape, t.DType, t.Device, nil)
	if err != nil {
		return nil, err
	}
	switch t.DType {
	case Float32:
		copy(out.Data.([]float32), t.Data.([]float32))
	case Int32:
		copy(out.Data.([]int32), t.Data.([]int32))
	}
	return out, nil
}

// GetFloat32Data returns the backing slice of a Float32 tensor
func (t *Tensor) GetFloat32Data() ([]float32, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("tensor dtype is %s, not Float32", t.DType)
	}
	return t.Data.([]float32), nil
}

// GetInt32Data returns the backing slice of an Int32 tensor
func (t *Tensor) GetInt32Data() ([]int32, error) {
	if t.DType != Int32 {
		return nil, fmt.Errorf("tensor dtype is %s, not Int32", t.DType)
	}
	return t.Data.([]int32), nil
}

// Item returns the value of a single-element tensor
func (t *Tensor) Item() (float64, error) {
	if t.NumElems != 1 {
		return 0, fmt.Errorf("item requires a single-element tensor, got %d elements", t.NumElems)
	}
	switch t.DType {
	case Float32:
		return float64(t.Data.([]float32)[0]), nil
	case Int32:
		return float64(t.Data.([]int32)[0]), nil
	}
	return 0, fmt.Errorf("unsupported dtype: %s", t.DType)
}

// Equal reports whether two tensors have identical shape, dtype and data
func (t *Tensor) Equal(other *Tensor) bool {
	if err := checkCompatibility(t, other); err != nil {
		return false
	}
	switch t.DType {
	case Float32:
		a := t.Data.([]float32)
		b := other.Data.([]float32)
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
	case Int32:
		a := t.Data.([]int32)
		b := other.Data.([]int32)
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
	}
	return true
}

// SetGrad replaces the accumulated gradient. The gradient must match the
// tensor's shape and dtype.
func (t *Tensor) SetGrad(g *Tensor) error {
	if g == nil {
		t.grad = nil
		return nil
	}
	if err := checkCompatibility(t, g); err != nil {
		return fmt.Errorf("gradient does not match tensor: %v", err)
	}
	t.grad = g
	return nil
}

// ZeroGrad clears accumulated gradients on the given tensors
func ZeroGrad(tensors []*Tensor) {
	for _, t := range tensors {
		t.grad = nil
	}
}

// GradNorm computes the global L2 norm over all parameter gradients
func GradNorm(params []*Tensor) float64 {
	total := 0.0
	for _, p := range params {
		if p.grad == nil {
			continue
		}
		data := p.grad.Data.([]float32)
		for _, g := range data {
			total += float64(g) * float64(g)
		}
	}
	return math.Sqrt(total)
}

// ClipGradNorm rescales all gradients so their global L2 norm does not
// exceed maxNorm, and returns the pre-clip norm.
func ClipGradNorm(params []*Tensor, maxNorm float64) float64 {
	norm := GradNorm(params)
	if norm > maxNorm && norm > 0 {
		scale := float32(maxNorm / norm)
		for _, p := range params {
			if p.grad == nil {
				continue
			}
			data := p.grad.Data.([]float32)
			for i := range data {
				data[i] *= scale
			}
		}
	}
	return norm
}
