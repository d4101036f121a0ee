package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

func general(t *Tensor, rows, cols int) blas32.General {
	return blas32.General{
		Rows:   rows,
		Cols:   cols,
		Stride: cols,
		Data:   t.Data.([]float32),
	}
}

// MatMul computes the product of two 2D Float32 tensors via BLAS
func MatMul(t1, t2 *Tensor) (*Tensor, error) {
	if t1.DType != Float32 || t2.DType != Float32 {
		return nil, fmt.Errorf("matmul requires Float32 tensors, got %s and %s", t1.DType, t2.DType)
	}
	if len(t1.Shape) != 2 || len(t2.Shape) != 2 {
		return nil, fmt.Errorf("matmul requires 2D tensors, got shapes %v and %v", t1.Shape, t2.Shape)
	}
	if t1.Shape[1] != t2.Shape[0] {
		return nil, fmt.Errorf("matmul dimension mismatch: %v x %v", t1.Shape, t2.Shape)
	}

	m, k, n := t1.Shape[0], t1.Shape[1], t2.Shape[1]
	out, err := Zeros([]int{m, n}, Float32, t1.Device)
	if err != nil {
		return nil, err
	}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, general(t1, m, k), general(t2, k, n), 0, general(out, m, n))
	return out, nil
}

// matMulTransA computes t1^T x t2 for 2D Float32 tensors
func matMulTransA(t1, t2 *Tensor) (*Tensor, error) {
	if t1.Shape[0] != t2.Shape[0] {
		return nil, fmt.Errorf("matmul dimension mismatch: %v^T x %v", t1.Shape, t2.Shape)
	}
	m, k, n := t1.Shape[1], t1.Shape[0], t2.Shape[1]
	out, err := Zeros([]int{m, n}, Float32, t1.Device)
	if err != nil {
		return nil, err
	}
	blas32.Gemm(blas.Trans, blas.NoTrans, 1, general(t1, k, m), general(t2, k, n), 0, general(out, m, n))
	return out, nil
}

// matMulTransB computes t1 x t2^T for 2D Float32 tensors
func matMulTransB(t1, t2 *Tensor) (*Tensor, error) {
	if t1.Shape[1] != t2.Shape[1] {
		return nil, fmt.Errorf("matmul dimension mismatch: %v x %v^T", t1.Shape, t2.Shape)
	}
	m, k, n := t1.Shape[0], t1.Shape[1], t2.Shape[0]
	out, err := Zeros([]int{m, n}, Float32, t1.Device)
	if err != nil {
		return nil, err
	}
	blas32.Gemm(blas.NoTrans, blas.Trans, 1, general(t1, m, k), general(t2, n, k), 0, general(out, m, n))
	return out, nil
}

// Reshape returns a view-copy of the tensor with a new shape of equal size
func (t *Tensor) Reshape(newShape []int) (*Tensor, error) {
	if err := validateShape(newShape); err != nil {
		return nil, err
	}
	if calculateNumElements(newShape) != t.NumElems {
		return nil, fmt.Errorf("cannot reshape %v (%d elements) to %v (%d elements)",
			t.Shape, t.NumElems, newShape, calculateNumElements(newShape))
	}
	return &Tensor{
		Shape:    append([]int{}, newShape...),
		Strides:  calculateStrides(newShape),
		DType:    t.DType,
		Device:   t.Device,
		Data:     t.Data,
		NumElems: t.NumElems,
	}, nil
}

// Stack concatenates same-shaped tensors along a new leading dimension.
// A batch of n tensors of shape S becomes one tensor of shape [n, S...].
func Stack(tensors []*Tensor) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, fmt.Errorf("cannot stack zero tensors")
	}
	first := tensors[0]
	for i, t := range tensors[1:] {
		if err := checkCompatibility(first, t); err != nil {
			return nil, fmt.Errorf("stack element %d: %v", i+1, err)
		}
	}

	outShape := append([]int{len(tensors)}, first.Shape...)
	out, err := Zeros(outShape, first.DType, first.Device)
	if err != nil {
		return nil, err
	}

	switch first.DType {
	case Float32:
		dst := out.Data.([]float32)
		for i, t := range tensors {
			copy(dst[i*first.NumElems:(i+1)*first.NumElems], t.Data.([]float32))
		}
	case Int32:
		dst := out.Data.([]int32)
		for i, t := range tensors {
			copy(dst[i*first.NumElems:(i+1)*first.NumElems], t.Data.([]int32))
		}
	default:
		return nil, fmt.Errorf("unsupported dtype for stack: %s", first.DType)
	}
	return out, nil
}
