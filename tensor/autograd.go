package tensor

import (
	"fmt"
	"math"
)

func anyRequiresGrad(tensors ...*Tensor) bool {
	for _, t := range tensors {
		if t.requiresGrad || t.creator != nil {
			return true
		}
	}
	return false
}

// attach links an operation to its output when graph construction is active
func attach(out *Tensor, op Operation) {
	if GradEnabled() && anyRequiresGrad(op.Inputs()...) {
		out.creator = op
		out.requiresGrad = true
	}
}

func (t *Tensor) accumulateGrad(g *Tensor) error {
	if t.grad == nil {
		clone, err := g.Clone()
		if err != nil {
			return err
		}
		t.grad = clone
		return nil
	}
	sum, err := Add(t.grad, g)
	if err != nil {
		return fmt.Errorf("gradient accumulation failed: %v", err)
	}
	t.grad = sum
	return nil
}

// Backward runs reverse-mode differentiation from a scalar tensor,
// accumulating gradients into every reachable tensor that requires them.
func (t *Tensor) Backward() error {
	if t.NumElems != 1 {
		return fmt.Errorf("backward requires a scalar tensor, got shape %v", t.Shape)
	}
	if t.creator == nil {
		return fmt.Errorf("backward called on a tensor with no computation graph")
	}

	// Post-order DFS gives children before parents; walking the reverse
	// visits each node only after its output gradient is complete.
	var order []*Tensor
	visited := make(map[*Tensor]bool)
	var visit func(n *Tensor)
	visit = func(n *Tensor) {
		if visited[n] || n.creator == nil {
			return
		}
		visited[n] = true
		for _, in := range n.creator.Inputs() {
			visit(in)
		}
		order = append(order, n)
	}
	visit(t)

	seed, err := Ones(t.Shape, Float32, t.Device)
	if err != nil {
		return err
	}
	t.grad = seed

	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		if node.grad == nil {
			continue
		}
		grads, err := node.creator.Backward(node.grad)
		if err != nil {
			return err
		}
		inputs := node.creator.Inputs()
		if len(grads) != len(inputs) {
			return fmt.Errorf("operation returned %d gradients for %d inputs", len(grads), len(inputs))
		}
		for j, in := range inputs {
			if grads[j] == nil {
				continue
			}
			if !in.requiresGrad && in.creator == nil {
				continue
			}
			if err := in.accumulateGrad(grads[j]); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddOp adds two tensors; the second operand may be a bias vector matching
// the last dimension of the first.
type AddOp struct {
	a, b *Tensor
}

func (op *AddOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *AddOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	gradA, err := gradOut.Clone()
	if err != nil {
		return nil, err
	}
	if len(op.a.Shape) == len(op.b.Shape) {
		gradB, err := gradOut.Clone()
		if err != nil {
			return nil, err
		}
		return []*Tensor{gradA, gradB}, nil
	}
	// bias broadcast: reduce the gradient over all leading dimensions
	cols := op.b.NumElems
	gradB, err := Zeros(op.b.Shape, Float32, op.b.Device)
	if err != nil {
		return nil, err
	}
	g := gradOut.Data.([]float32)
	gb := gradB.Data.([]float32)
	for i, v := range g {
		gb[i%cols] += v
	}
	return []*Tensor{gradA, gradB}, nil
}

// AddAutograd adds b to a with gradient tracking. b must either match a's
// shape exactly or be a 1D bias matching a's last dimension.
func AddAutograd(a, b *Tensor) (*Tensor, error) {
	if a.DType != Float32 || b.DType != Float32 {
		return nil, fmt.Errorf("add requires Float32 tensors, got %s and %s", a.DType, b.DType)
	}

	var out *Tensor
	if len(a.Shape) == len(b.Shape) {
		var err error
		out, err = Add(a, b)
		if err != nil {
			return nil, err
		}
	} else if len(b.Shape) == 1 && b.Shape[0] == a.Shape[len(a.Shape)-1] {
		var err error
		out, err = Zeros(a.Shape, Float32, a.Device)
		if err != nil {
			return nil, err
		}
		ad := a.Data.([]float32)
		bd := b.Data.([]float32)
		od := out.Data.([]float32)
		cols := b.Shape[0]
		for i, v := range ad {
			od[i] = v + bd[i%cols]
		}
	} else {
		return nil, fmt.Errorf("add shape mismatch: %v vs %v", a.Shape, b.Shape)
	}

	attach(out, &AddOp{a: a, b: b})
	return out, nil
}

// MulOp multiplies two same-shaped tensors elementwise
type MulOp struct {
	a, b *Tensor
}

func (op *MulOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *MulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	gradA, err := Mul(gradOut, op.b)
	if err != nil {
		return nil, err
	}
	gradB, err := Mul(gradOut, op.a)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

// MulAutograd multiplies a and b elementwise with gradient tracking
func MulAutograd(a, b *Tensor) (*Tensor, error) {
	out, err := Mul(a, b)
	if err != nil {
		return nil, err
	}
	attach(out, &MulOp{a: a, b: b})
	return out, nil
}

// MatMulOp multiplies two 2D tensors
type MatMulOp struct {
	a, b *Tensor
}

func (op *MatMulOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *MatMulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	gradA, err := matMulTransB(gradOut, op.b) // dL/dA = dL/dY x B^T
	if err != nil {
		return nil, err
	}
	gradB, err := matMulTransA(op.a, gradOut) // dL/dB = A^T x dL/dY
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

// MatMulAutograd computes a x b with gradient tracking
func MatMulAutograd(a, b *Tensor) (*Tensor, error) {
	out, err := MatMul(a, b)
	if err != nil {
		return nil, err
	}
	attach(out, &MatMulOp{a: a, b: b})
	return out, nil
}

// ReLUOp applies max(0, x)
type ReLUOp struct {
	x *Tensor
}

func (op *ReLUOp) Inputs() []*Tensor { return []*Tensor{op.x} }

func (op *ReLUOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grad, err := Zeros(op.x.Shape, Float32, op.x.Device)
	if err != nil {
		return nil, err
	}
	xd := op.x.Data.([]float32)
	gd := gradOut.Data.([]float32)
	out := grad.Data.([]float32)
	for i := range out {
		if xd[i] > 0 {
			out[i] = gd[i]
		}
	}
	return []*Tensor{grad}, nil
}

// ReLUAutograd applies the rectified linear unit with gradient tracking
func ReLUAutograd(x *Tensor) (*Tensor, error) {
	if x.DType != Float32 {
		return nil, fmt.Errorf("relu requires Float32 tensor, got %s", x.DType)
	}
	out, err := Zeros(x.Shape, Float32, x.Device)
	if err != nil {
		return nil, err
	}
	xd := x.Data.([]float32)
	od := out.Data.([]float32)
	for i, v := range xd {
		if v > 0 {
			od[i] = v
		}
	}
	attach(out, &ReLUOp{x: x})
	return out, nil
}

// ReshapeOp changes tensor shape without touching data
type ReshapeOp struct {
	x *Tensor
}

func (op *ReshapeOp) Inputs() []*Tensor { return []*Tensor{op.x} }

func (op *ReshapeOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grad, err := gradOut.Reshape(op.x.Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{grad}, nil
}

// ReshapeAutograd reshapes x with gradient tracking. The result shares no
// graph state with other views of the same data.
func ReshapeAutograd(x *Tensor, newShape []int) (*Tensor, error) {
	view, err := x.Reshape(newShape)
	if err != nil {
		return nil, err
	}
	// copy so gradient accumulation on the view cannot alias the source
	out, err := view.Clone()
	if err != nil {
		return nil, err
	}
	attach(out, &ReshapeOp{x: x})
	return out, nil
}

// ConcatOp joins 2D tensors along the column dimension
type ConcatOp struct {
	parts []*Tensor
}

func (op *ConcatOp) Inputs() []*Tensor { return op.parts }

func (op *ConcatOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	rows := gradOut.Shape[0]
	totalCols := gradOut.Shape[1]
	gd := gradOut.Data.([]float32)

	grads := make([]*Tensor, len(op.parts))
	colOffset := 0
	for i, p := range op.parts {
		cols := p.Shape[1]
		g, err := Zeros(p.Shape, Float32, p.Device)
		if err != nil {
			return nil, err
		}
		pg := g.Data.([]float32)
		for r := 0; r < rows; r++ {
			copy(pg[r*cols:(r+1)*cols], gd[r*totalCols+colOffset:r*totalCols+colOffset+cols])
		}
		grads[i] = g
		colOffset += cols
	}
	return grads, nil
}

// ConcatAutograd joins 2D tensors with equal row counts along columns
func ConcatAutograd(parts ...*Tensor) (*Tensor, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("cannot concat zero tensors")
	}
	rows := parts[0].Shape[0]
	totalCols := 0
	for i, p := range parts {
		if p.DType != Float32 || len(p.Shape) != 2 {
			return nil, fmt.Errorf("concat part %d: requires 2D Float32 tensor, got %s %v", i, p.DType, p.Shape)
		}
		if p.Shape[0] != rows {
			return nil, fmt.Errorf("concat part %d: row count %d does not match %d", i, p.Shape[0], rows)
		}
		totalCols += p.Shape[1]
	}

	out, err := Zeros([]int{rows, totalCols}, Float32, parts[0].Device)
	if err != nil {
		return nil, err
	}
	od := out.Data.([]float32)
	colOffset := 0
	for _, p := range parts {
		cols := p.Shape[1]
		pd := p.Data.([]float32)
		for r := 0; r < rows; r++ {
			copy(od[r*totalCols+colOffset:r*totalCols+colOffset+cols], pd[r*cols:(r+1)*cols])
		}
		colOffset += cols
	}

	attach(out, &ConcatOp{parts: parts})
	return out, nil
}

// GatherOp looks up embedding rows by integer index
type GatherOp struct {
	table *Tensor
	idx   *Tensor
}

func (op *GatherOp) Inputs() []*Tensor { return []*Tensor{op.table, op.idx} }

func (op *GatherOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grad, err := Zeros(op.table.Shape, Float32, op.table.Device)
	if err != nil {
		return nil, err
	}
	dim := op.table.Shape[1]
	gd := gradOut.Data.([]float32)
	tg := grad.Data.([]float32)
	indices := op.idx.Data.([]int32)
	for i, ix := range indices {
		src := gd[i*dim : (i+1)*dim]
		dst := tg[int(ix)*dim : (int(ix)+1)*dim]
		for j, v := range src {
			dst[j] += v
		}
	}
	return []*Tensor{grad, nil}, nil
}

// GatherAutograd selects rows of a [vocab, dim] table by an Int32 index
// tensor, producing a tensor shaped idx.Shape + [dim]. Index gradients are
// not defined; only the table receives gradients.
func GatherAutograd(table, idx *Tensor) (*Tensor, error) {
	if table.DType != Float32 || len(table.Shape) != 2 {
		return nil, fmt.Errorf("gather requires a 2D Float32 table, got %s %v", table.DType, table.Shape)
	}
	if idx.DType != Int32 {
		return nil, fmt.Errorf("gather requires Int32 indices, got %s", idx.DType)
	}

	vocab, dim := table.Shape[0], table.Shape[1]
	outShape := append(append([]int{}, idx.Shape...), dim)
	out, err := Zeros(outShape, Float32, table.Device)
	if err != nil {
		return nil, err
	}
	td := table.Data.([]float32)
	od := out.Data.([]float32)
	for i, ix := range idx.Data.([]int32) {
		if ix < 0 || int(ix) >= vocab {
			return nil, fmt.Errorf("gather index %d out of range [0, %d)", ix, vocab)
		}
		copy(od[i*dim:(i+1)*dim], td[int(ix)*dim:(int(ix)+1)*dim])
	}

	attach(out, &GatherOp{table: table, idx: idx})
	return out, nil
}

// AttnPoolOp collapses a [batch, steps, dim] sequence to [batch, dim] using
// a learned query vector: scores are scaled dot products against the query,
// attention weights their softmax, and the output the attention-weighted sum.
type AttnPoolOp struct {
	emb   *Tensor
	query *Tensor
	attn  *Tensor // cached weights, [batch, steps]
	scale float32
}

func (op *AttnPoolOp) Inputs() []*Tensor { return []*Tensor{op.emb, op.query} }

func (op *AttnPoolOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	batch, steps, dim := op.emb.Shape[0], op.emb.Shape[1], op.emb.Shape[2]
	ed := op.emb.Data.([]float32)
	qd := op.query.Data.([]float32)
	ad := op.attn.Data.([]float32)
	gd := gradOut.Data.([]float32)

	gradEmb, err := Zeros(op.emb.Shape, Float32, op.emb.Device)
	if err != nil {
		return nil, err
	}
	gradQuery, err := Zeros(op.query.Shape, Float32, op.query.Device)
	if err != nil {
		return nil, err
	}
	ge := gradEmb.Data.([]float32)
	gq := gradQuery.Data.([]float32)

	for b := 0; b < batch; b++ {
		// dL/da[t] = <dL/dout, emb[t]>
		dA := make([]float32, steps)
		for t := 0; t < steps; t++ {
			var sum float32
			for d := 0; d < dim; d++ {
				sum += gd[b*dim+d] * ed[(b*steps+t)*dim+d]
			}
			dA[t] = sum
		}
		// softmax jacobian: dL/ds[t] = a[t] * (dA[t] - sum_u a[u]*dA[u])
		var inner float32
		for t := 0; t < steps; t++ {
			inner += ad[b*steps+t] * dA[t]
		}
		for t := 0; t < steps; t++ {
			dS := ad[b*steps+t] * (dA[t] - inner)
			for d := 0; d < dim; d++ {
				ge[(b*steps+t)*dim+d] += ad[b*steps+t]*gd[b*dim+d] + dS*qd[d]*op.scale
				gq[d] += dS * ed[(b*steps+t)*dim+d] * op.scale
			}
		}
	}
	return []*Tensor{gradEmb, gradQuery}, nil
}

// AttnPoolAutograd pools a [batch, steps, dim] tensor over its step
// dimension with attention computed against a [dim] query vector. It
// returns the pooled [batch, dim] tensor and a detached [batch, steps]
// attention map for inspection.
func AttnPoolAutograd(emb, query *Tensor) (*Tensor, *Tensor, error) {
	if emb.DType != Float32 || len(emb.Shape) != 3 {
		return nil, nil, fmt.Errorf("attention pooling requires a 3D Float32 tensor, got %s %v", emb.DType, emb.Shape)
	}
	if query.DType != Float32 || len(query.Shape) != 1 || query.Shape[0] != emb.Shape[2] {
		return nil, nil, fmt.Errorf("attention query must be [dim=%d] Float32, got %s %v", emb.Shape[2], query.DType, query.Shape)
	}

	batch, steps, dim := emb.Shape[0], emb.Shape[1], emb.Shape[2]
	scale := float32(1.0 / math.Sqrt(float64(dim)))
	ed := emb.Data.([]float32)
	qd := query.Data.([]float32)

	attn, err := Zeros([]int{batch, steps}, Float32, emb.Device)
	if err != nil {
		return nil, nil, err
	}
	out, err := Zeros([]int{batch, dim}, Float32, emb.Device)
	if err != nil {
		return nil, nil, err
	}
	ad := attn.Data.([]float32)
	od := out.Data.([]float32)

	for b := 0; b < batch; b++ {
		// scaled dot-product scores with max subtraction for stability
		maxScore := float32(math.Inf(-1))
		for t := 0; t < steps; t++ {
			var s float32
			for d := 0; d < dim; d++ {
				s += ed[(b*steps+t)*dim+d] * qd[d]
			}
			s *= scale
			ad[b*steps+t] = s
			if s > maxScore {
				maxScore = s
			}
		}
		var denom float32
		for t := 0; t < steps; t++ {
			e := float32(math.Exp(float64(ad[b*steps+t] - maxScore)))
			ad[b*steps+t] = e
			denom += e
		}
		for t := 0; t < steps; t++ {
			ad[b*steps+t] /= denom
			for d := 0; d < dim; d++ {
				od[b*dim+d] += ad[b*steps+t] * ed[(b*steps+t)*dim+d]
			}
		}
	}

	attach(out, &AttnPoolOp{emb: emb, query: query, attn: attn, scale: scale})

	attnView, err := attn.Clone()
	if err != nil {
		return nil, nil, err
	}
	return out, attnView, nil
}

// SoftmaxCrossEntropyOp computes mean cross entropy over class logits
type SoftmaxCrossEntropyOp struct {
	logits *Tensor
	labels *Tensor
	probs  *Tensor
}

func (op *SoftmaxCrossEntropyOp) Inputs() []*Tensor { return []*Tensor{op.logits, op.labels} }

func (op *SoftmaxCrossEntropyOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	n, classes := op.logits.Shape[0], op.logits.Shape[1]
	scale := gradOut.Data.([]float32)[0] / float32(n)

	grad, err := Zeros(op.logits.Shape, Float32, op.logits.Device)
	if err != nil {
		return nil, err
	}
	gd := grad.Data.([]float32)
	pd := op.probs.Data.([]float32)
	labels := op.labels.Data.([]int32)
	copy(gd, pd)
	for i := 0; i < n; i++ {
		gd[i*classes+int(labels[i])] -= 1
	}
	for i := range gd {
		gd[i] *= scale
	}
	return []*Tensor{grad, nil}, nil
}

// SoftmaxCrossEntropyAutograd computes the mean softmax cross entropy of
// [n, classes] logits against [n] Int32 class indices, returning a scalar.
func SoftmaxCrossEntropyAutograd(logits, labels *Tensor) (*Tensor, error) {
	if logits.DType != Float32 || len(logits.Shape) != 2 {
		return nil, fmt.Errorf("cross entropy requires 2D Float32 logits, got %s %v", logits.DType, logits.Shape)
	}
	if labels.DType != Int32 || len(labels.Shape) != 1 {
		return nil, fmt.Errorf("cross entropy requires 1D Int32 labels, got %s %v", labels.DType, labels.Shape)
	}
	n, classes := logits.Shape[0], logits.Shape[1]
	if labels.Shape[0] != n {
		return nil, fmt.Errorf("cross entropy batch mismatch: %d logits rows vs %d labels", n, labels.Shape[0])
	}

	probs, err := Zeros(logits.Shape, Float32, logits.Device)
	if err != nil {
		return nil, err
	}
	ld := logits.Data.([]float32)
	pd := probs.Data.([]float32)
	labelData := labels.Data.([]int32)

	var total float64
	for i := 0; i < n; i++ {
		if labelData[i] < 0 || int(labelData[i]) >= classes {
			return nil, fmt.Errorf("cross entropy label %d out of range [0, %d)", labelData[i], classes)
		}
		row := ld[i*classes : (i+1)*classes]
		maxLogit := row[0]
		for _, v := range row[1:] {
			if v > maxLogit {
				maxLogit = v
			}
		}
		var denom float64
		for j, v := range row {
			e := math.Exp(float64(v - maxLogit))
			pd[i*classes+j] = float32(e)
			denom += e
		}
		for j := range row {
			pd[i*classes+j] /= float32(denom)
		}
		total -= math.Log(float64(pd[i*classes+int(labelData[i])]))
	}

	out := FromScalar(total/float64(n), Float32, logits.Device)
	attach(out, &SoftmaxCrossEntropyOp{logits: logits, labels: labels, probs: probs})
	return out, nil
}
