package tensor

import (
	"math"
	"math/rand"
	"testing"
)

const gradTol = 1e-2 // finite differences in float32 are noisy

// numericalGrad perturbs one element of a leaf tensor and measures the
// change in a scalar-valued forward function.
func numericalGrad(t *testing.T, leaf *Tensor, idx int, forward func() *Tensor) float64 {
	t.Helper()
	const eps = 1e-3
	data := leaf.Data.([]float32)

	orig := data[idx]
	data[idx] = orig + eps
	up, err := forward().Item()
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	data[idx] = orig - eps
	down, err := forward().Item()
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	data[idx] = orig
	return (up - down) / (2 * eps)
}

func TestBackwardRequiresScalar(t *testing.T) {
	a, _ := Zeros([]int{2, 2}, Float32, CPU)
	a.SetRequiresGrad(true)
	out, err := ReLUAutograd(a)
	if err != nil {
		t.Fatalf("ReLUAutograd failed: %v", err)
	}
	if err := out.Backward(); err == nil {
		t.Error("expected error for non-scalar backward")
	}
}

func TestMatMulBackward(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	a, _ := RandomNormal(rng, []int{2, 3}, 0, 1, CPU)
	b, _ := RandomNormal(rng, []int{3, 2}, 0, 1, CPU)
	labels, _ := NewTensor([]int{2}, Int32, CPU, []int32{0, 1})
	a.SetRequiresGrad(true)
	b.SetRequiresGrad(true)

	forward := func() *Tensor {
		prod, err := MatMulAutograd(a, b)
		if err != nil {
			t.Fatalf("MatMulAutograd failed: %v", err)
		}
		loss, err := SoftmaxCrossEntropyAutograd(prod, labels)
		if err != nil {
			t.Fatalf("SoftmaxCrossEntropyAutograd failed: %v", err)
		}
		return loss
	}

	loss := forward()
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	if a.Grad() == nil || b.Grad() == nil {
		t.Fatal("expected gradients on both operands")
	}

	aGrad := a.Grad().Data.([]float32)
	for idx := 0; idx < a.NumElems; idx++ {
		want := numericalGrad(t, a, idx, forward)
		if math.Abs(float64(aGrad[idx])-want) > gradTol {
			t.Errorf("a grad[%d]: analytic %f vs numeric %f", idx, aGrad[idx], want)
		}
	}
	bGrad := b.Grad().Data.([]float32)
	for idx := 0; idx < b.NumElems; idx++ {
		want := numericalGrad(t, b, idx, forward)
		if math.Abs(float64(bGrad[idx])-want) > gradTol {
			t.Errorf("b grad[%d]: analytic %f vs numeric %f", idx, bGrad[idx], want)
		}
	}
}

func TestBiasAddBackwardReducesRows(t *testing.T) {
	x, _ := NewTensor([]int{2, 2}, Float32, CPU, []float32{1, 2, 3, 4})
	bias, _ := NewTensor([]int{2}, Float32, CPU, []float32{0.5, -0.5})
	labels, _ := NewTensor([]int{2}, Int32, CPU, []int32{1, 0})
	bias.SetRequiresGrad(true)

	forward := func() *Tensor {
		sum, err := AddAutograd(x, bias)
		if err != nil {
			t.Fatalf("AddAutograd failed: %v", err)
		}
		loss, err := SoftmaxCrossEntropyAutograd(sum, labels)
		if err != nil {
			t.Fatalf("SoftmaxCrossEntropyAutograd failed: %v", err)
		}
		return loss
	}

	loss := forward()
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	grad := bias.Grad()
	if grad == nil {
		t.Fatal("expected bias gradient")
	}
	if len(grad.Shape) != 1 || grad.Shape[0] != 2 {
		t.Fatalf("bias gradient shape %v, expected [2]", grad.Shape)
	}
	gd := grad.Data.([]float32)
	for idx := range gd {
		want := numericalGrad(t, bias, idx, forward)
		if math.Abs(float64(gd[idx])-want) > gradTol {
			t.Errorf("bias grad[%d]: analytic %f vs numeric %f", idx, gd[idx], want)
		}
	}
}

func TestGatherBackwardScattersIntoTable(t *testing.T) {
	table, _ := NewTensor([]int{3, 2}, Float32, CPU, []float32{1, 2, 3, 4, 5, 6})
	table.SetRequiresGrad(true)
	idx, _ := NewTensor([]int{2, 2}, Int32, CPU, []int32{0, 2, 2, 1})
	labels, _ := NewTensor([]int{4}, Int32, CPU, []int32{0, 1, 0, 1})

	emb, err := GatherAutograd(table, idx)
	if err != nil {
		t.Fatalf("GatherAutograd failed: %v", err)
	}
	if len(emb.Shape) != 3 || emb.Shape[2] != 2 {
		t.Fatalf("expected shape [2 2 2], got %v", emb.Shape)
	}

	flat, err := ReshapeAutograd(emb, []int{4, 2})
	if err != nil {
		t.Fatalf("ReshapeAutograd failed: %v", err)
	}
	loss, err := SoftmaxCrossEntropyAutograd(flat, labels)
	if err != nil {
		t.Fatalf("SoftmaxCrossEntropyAutograd failed: %v", err)
	}
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	grad := table.Grad()
	if grad == nil {
		t.Fatal("expected table gradient")
	}
	// row 2 was gathered twice, so its gradient accumulates two contributions;
	// every gathered row must carry some gradient
	gd := grad.Data.([]float32)
	for row := 0; row < 3; row++ {
		var norm float64
		for d := 0; d < 2; d++ {
			norm += math.Abs(float64(gd[row*2+d]))
		}
		if norm == 0 {
			t.Errorf("row %d: expected nonzero gradient", row)
		}
	}
}

func TestGatherIndexOutOfRange(t *testing.T) {
	table, _ := Zeros([]int{3, 2}, Float32, CPU)
	idx, _ := NewTensor([]int{1}, Int32, CPU, []int32{3})
	if _, err := GatherAutograd(table, idx); err == nil {
		t.Error("expected error for out-of-range index")
	}
}

func TestAttnPoolForward(t *testing.T) {
	// identical steps give uniform attention and reproduce the step value
	emb, _ := NewTensor([]int{1, 3, 2}, Float32, CPU, []float32{1, 2, 1, 2, 1, 2})
	query, _ := NewTensor([]int{2}, Float32, CPU, []float32{0.3, -0.7})

	pooled, attn, err := AttnPoolAutograd(emb, query)
	if err != nil {
		t.Fatalf("AttnPoolAutograd failed: %v", err)
	}

	ad := attn.Data.([]float32)
	for i, v := range ad {
		if math.Abs(float64(v)-1.0/3.0) > 1e-6 {
			t.Errorf("attention weight %d: expected uniform 1/3, got %f", i, v)
		}
	}
	pd := pooled.Data.([]float32)
	if math.Abs(float64(pd[0])-1) > 1e-6 || math.Abs(float64(pd[1])-2) > 1e-6 {
		t.Errorf("pooled output %v, expected [1 2]", pd)
	}
}

func TestAttnPoolBackward(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	emb, _ := RandomNormal(rng, []int{2, 3, 4}, 0, 1, CPU)
	query, _ := RandomNormal(rng, []int{4}, 0, 1, CPU)
	head, _ := RandomNormal(rng, []int{4, 2}, 0, 1, CPU)
	labels, _ := NewTensor([]int{2}, Int32, CPU, []int32{1, 0})
	emb.SetRequiresGrad(true)
	query.SetRequiresGrad(true)

	forward := func() *Tensor {
		pooled, _, err := AttnPoolAutograd(emb, query)
		if err != nil {
			t.Fatalf("AttnPoolAutograd failed: %v", err)
		}
		logits, err := MatMulAutograd(pooled, head)
		if err != nil {
			t.Fatalf("MatMulAutograd failed: %v", err)
		}
		loss, err := SoftmaxCrossEntropyAutograd(logits, labels)
		if err != nil {
			t.Fatalf("SoftmaxCrossEntropyAutograd failed: %v", err)
		}
		return loss
	}

	loss := forward()
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	for name, leaf := range map[string]*Tensor{"emb": emb, "query": query} {
		grad := leaf.Grad()
		if grad == nil {
			t.Fatalf("%s: expected gradient", name)
		}
		gd := grad.Data.([]float32)
		for idx := 0; idx < leaf.NumElems; idx++ {
			want := numericalGrad(t, leaf, idx, forward)
			if math.Abs(float64(gd[idx])-want) > gradTol {
				t.Errorf("%s grad[%d]: analytic %f vs numeric %f", name, idx, gd[idx], want)
			}
		}
	}
}

func TestConcatBackwardSplitsColumns(t *testing.T) {
	a, _ := NewTensor([]int{2, 1}, Float32, CPU, []float32{1, 2})
	b, _ := NewTensor([]int{2, 2}, Float32, CPU, []float32{3, 4, 5, 6})
	labels, _ := NewTensor([]int{2}, Int32, CPU, []int32{0, 2})
	a.SetRequiresGrad(true)
	b.SetRequiresGrad(true)

	out, err := ConcatAutograd(a, b)
	if err != nil {
		t.Fatalf("ConcatAutograd failed: %v", err)
	}
	if out.Shape[0] != 2 || out.Shape[1] != 3 {
		t.Fatalf("expected shape [2 3], got %v", out.Shape)
	}
	want := []float32{1, 3, 4, 2, 5, 6}
	for i, v := range out.Data.([]float32) {
		if v != want[i] {
			t.Errorf("element %d: expected %f, got %f", i, want[i], v)
		}
	}

	loss, err := SoftmaxCrossEntropyAutograd(out, labels)
	if err != nil {
		t.Fatalf("SoftmaxCrossEntropyAutograd failed: %v", err)
	}
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	if a.Grad() == nil || b.Grad() == nil {
		t.Fatal("expected gradients on both parts")
	}
	if a.Grad().Shape[1] != 1 || b.Grad().Shape[1] != 2 {
		t.Errorf("gradient shapes %v and %v, expected [2 1] and [2 2]", a.Grad().Shape, b.Grad().Shape)
	}
}

func TestCrossEntropyKnownValue(t *testing.T) {
	// uniform logits over 4 classes: loss is exactly ln(4)
	logits, _ := Zeros([]int{3, 4}, Float32, CPU)
	labels, _ := NewTensor([]int{3}, Int32, CPU, []int32{0, 1, 3})

	loss, err := SoftmaxCrossEntropyAutograd(logits, labels)
	if err != nil {
		t.Fatalf("SoftmaxCrossEntropyAutograd failed: %v", err)
	}
	val, _ := loss.Item()
	if math.Abs(val-math.Log(4)) > 1e-6 {
		t.Errorf("expected ln(4)=%f, got %f", math.Log(4), val)
	}
}

func TestCrossEntropyLabelOutOfRange(t *testing.T) {
	logits, _ := Zeros([]int{1, 2}, Float32, CPU)
	labels, _ := NewTensor([]int{1}, Int32, CPU, []int32{5})
	if _, err := SoftmaxCrossEntropyAutograd(logits, labels); err == nil {
		t.Error("expected error for out-of-range label")
	}
}

func TestGradDisabledBuildsNoGraph(t *testing.T) {
	a, _ := Zeros([]int{2, 2}, Float32, CPU)
	a.SetRequiresGrad(true)
	labels, _ := NewTensor([]int{2}, Int32, CPU, []int32{0, 1})

	prev := SetGradEnabled(false)
	defer SetGradEnabled(prev)

	loss, err := SoftmaxCrossEntropyAutograd(a, labels)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	if loss.Creator() != nil {
		t.Error("no graph should be built while gradients are disabled")
	}
	if err := loss.Backward(); err == nil {
		t.Error("backward without a graph should fail")
	}
}
