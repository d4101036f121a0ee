package model

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-multitask/tensor"
)

// Global random source for deterministic weight initialization
var globalRng = rand.New(rand.NewSource(1))

// SetRandomSeed sets the global random seed for deterministic weight
// initialization and dropout masks
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// Config describes the reference network's dimensions. All fields are
// required and validated at construction.
type Config struct {
	Device    tensor.DeviceType
	EmbedDim  int
	HiddenDim int
	Dropout   float64 // applied to the trunk activation in training mode

	// vocabulary sizes for the id sequences and the segment feature
	CamVocab     int
	CateVocab    int
	BrandVocab   int
	PriceVocab   int
	SegmentVocab int

	// class counts per prediction task
	NumCMS        int
	NumGender     int
	NumAge        int
	NumPValue     int
	NumShopping   int
	NumConversion int
}

func (c Config) validate() error {
	dims := map[string]int{
		"EmbedDim": c.EmbedDim, "HiddenDim": c.HiddenDim,
		"CamVocab": c.CamVocab, "CateVocab": c.CateVocab,
		"BrandVocab": c.BrandVocab, "PriceVocab": c.PriceVocab,
		"SegmentVocab": c.SegmentVocab,
		"NumCMS":       c.NumCMS, "NumGender": c.NumGender, "NumAge": c.NumAge,
		"NumPValue": c.NumPValue, "NumShopping": c.NumShopping,
		"NumConversion": c.NumConversion,
	}
	for name, v := range dims {
		if v <= 0 {
			return fmt.Errorf("model config %s must be positive, got %d", name, v)
		}
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("model config Dropout must be in [0, 1), got %f", c.Dropout)
	}
	return nil
}

type embedding struct {
	name  string
	table *tensor.Tensor
	query *tensor.Tensor // attention-pooling query, nil for the segment table
}

type head struct {
	name   string
	weight *tensor.Tensor
	bias   *tensor.Tensor
}

// Network is the reference Model implementation: per-feature embedding
// tables with attention pooling, a shared ReLU trunk, and one linear head
// per task.
type Network struct {
	config   Config
	cam      embedding
	cate     embedding
	brand    embedding
	price    embedding
	segment  embedding
	trunkW   *tensor.Tensor
	trunkB   *tensor.Tensor
	heads    [6]head // cms, gender, age, pvalue, shopping, conversion
	training bool
}

func newEmbedding(name string, vocab, dim int, withQuery bool, device tensor.DeviceType) (embedding, error) {
	table, err := tensor.RandomNormal(globalRng, []int{vocab, dim}, 0, 0.1, device)
	if err != nil {
		return embedding{}, fmt.Errorf("embedding %s: %v", name, err)
	}
	table.SetRequiresGrad(true)
	e := embedding{name: name, table: table}
	if withQuery {
		query, err := tensor.RandomNormal(globalRng, []int{dim}, 0, 0.1, device)
		if err != nil {
			return embedding{}, fmt.Errorf("embedding %s query: %v", name, err)
		}
		query.SetRequiresGrad(true)
		e.query = query
	}
	return e, nil
}

func newHead(name string, in, out int, device tensor.DeviceType) (head, error) {
	weight, err := tensor.RandomUniform(globalRng, []int{in, out}, tensor.XavierBound(in, out), device)
	if err != nil {
		return head{}, fmt.Errorf("head %s: %v", name, err)
	}
	weight.SetRequiresGrad(true)
	bias, err := tensor.Zeros([]int{out}, tensor.Float32, device)
	if err != nil {
		return head{}, fmt.Errorf("head %s bias: %v", name, err)
	}
	bias.SetRequiresGrad(true)
	return head{name: name, weight: weight, bias: bias}, nil
}

// NewNetwork builds the reference network on the configured device
func NewNetwork(config Config) (*Network, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	n := &Network{config: config, training: true}
	var err error
	if n.cam, err = newEmbedding("cam", config.CamVocab, config.EmbedDim, true, config.Device); err != nil {
		return nil, err
	}
	if n.cate, err = newEmbedding("cate", config.CateVocab, config.EmbedDim, true, config.Device); err != nil {
		return nil, err
	}
	if n.brand, err = newEmbedding("brand", config.BrandVocab, config.EmbedDim, true, config.Device); err != nil {
		return nil, err
	}
	if n.price, err = newEmbedding("price", config.PriceVocab, config.EmbedDim, true, config.Device); err != nil {
		return nil, err
	}
	if n.segment, err = newEmbedding("segment", config.SegmentVocab, config.EmbedDim, false, config.Device); err != nil {
		return nil, err
	}

	trunkIn := 5 * config.EmbedDim // four pooled sequences plus the segment row
	trunkW, err := tensor.RandomUniform(globalRng, []int{trunkIn, config.HiddenDim},
		tensor.XavierBound(trunkIn, config.HiddenDim), config.Device)
	if err != nil {
		return nil, fmt.Errorf("trunk weight: %v", err)
	}
	trunkW.SetRequiresGrad(true)
	trunkB, err := tensor.Zeros([]int{config.HiddenDim}, tensor.Float32, config.Device)
	if err != nil {
		return nil, fmt.Errorf("trunk bias: %v", err)
	}
	trunkB.SetRequiresGrad(true)
	n.trunkW, n.trunkB = trunkW, trunkB

	taskClasses := []struct {
		name    string
		classes int
	}{
		{"cms", config.NumCMS},
		{"gender", config.NumGender},
		{"age", config.NumAge},
		{"pvalue", config.NumPValue},
		{"shopping", config.NumShopping},
		{"conversion", config.NumConversion},
	}
	for i, task := range taskClasses {
		h, err := newHead(task.name, config.HiddenDim, task.classes, config.Device)
		if err != nil {
			return nil, err
		}
		n.heads[i] = h
	}
	return n, nil
}

func (n *Network) pool(e embedding, seq *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if seq.DType != tensor.Int32 || len(seq.Shape) != 2 {
		return nil, nil, fmt.Errorf("%s sequence must be 2D Int32, got %s %v", e.name, seq.DType, seq.Shape)
	}
	emb, err := tensor.GatherAutograd(e.table, seq)
	if err != nil {
		return nil, nil, fmt.Errorf("%s embedding lookup: %v", e.name, err)
	}
	pooled, attn, err := tensor.AttnPoolAutograd(emb, e.query)
	if err != nil {
		return nil, nil, fmt.Errorf("%s attention pooling: %v", e.name, err)
	}
	return pooled, attn, nil
}

// Forward runs one batched pass over the four sequences and segment ids
func (n *Network) Forward(cam, cate, brand, price, segment *tensor.Tensor) (*Output, error) {
	pooledCam, attnCam, err := n.pool(n.cam, cam)
	if err != nil {
		return nil, err
	}
	pooledCate, attnCate, err := n.pool(n.cate, cate)
	if err != nil {
		return nil, err
	}
	pooledBrand, attnBrand, err := n.pool(n.brand, brand)
	if err != nil {
		return nil, err
	}
	pooledPrice, attnPrice, err := n.pool(n.price, price)
	if err != nil {
		return nil, err
	}

	if segment.DType != tensor.Int32 || len(segment.Shape) != 1 {
		return nil, fmt.Errorf("segment must be 1D Int32, got %s %v", segment.DType, segment.Shape)
	}
	segRows, err := tensor.GatherAutograd(n.segment.table, segment)
	if err != nil {
		return nil, fmt.Errorf("segment embedding lookup: %v", err)
	}

	x, err := tensor.ConcatAutograd(pooledCam, pooledCate, pooledBrand, pooledPrice, segRows)
	if err != nil {
		return nil, fmt.Errorf("feature concat: %v", err)
	}

	pre, err := tensor.MatMulAutograd(x, n.trunkW)
	if err != nil {
		return nil, fmt.Errorf("trunk projection: %v", err)
	}
	pre, err = tensor.AddAutograd(pre, n.trunkB)
	if err != nil {
		return nil, fmt.Errorf("trunk bias: %v", err)
	}
	h, err := tensor.ReLUAutograd(pre)
	if err != nil {
		return nil, fmt.Errorf("trunk activation: %v", err)
	}

	if n.training && n.config.Dropout > 0 {
		h, err = n.applyDropout(h)
		if err != nil {
			return nil, fmt.Errorf("trunk dropout: %v", err)
		}
	}

	var logits [6]*tensor.Tensor
	for i, hd := range n.heads {
		out, err := tensor.MatMulAutograd(h, hd.weight)
		if err != nil {
			return nil, fmt.Errorf("%s head: %v", hd.name, err)
		}
		out, err = tensor.AddAutograd(out, hd.bias)
		if err != nil {
			return nil, fmt.Errorf("%s head bias: %v", hd.name, err)
		}
		logits[i] = out
	}

	attnMap, err := stackAttention(attnCam, attnCate, attnBrand, attnPrice)
	if err != nil {
		return nil, fmt.Errorf("attention map: %v", err)
	}

	return &Output{
		CMS:        logits[0],
		Gender:     logits[1],
		Age:        logits[2],
		PValue:     logits[3],
		Shopping:   logits[4],
		Conversion: logits[5],
		AttnMap:    attnMap,
	}, nil
}

// applyDropout multiplies the activation by an inverted-dropout mask so
// evaluation needs no rescaling
func (n *Network) applyDropout(h *tensor.Tensor) (*tensor.Tensor, error) {
	mask, err := tensor.Zeros(h.Shape, tensor.Float32, h.Device)
	if err != nil {
		return nil, err
	}
	keep := 1 - n.config.Dropout
	scale := float32(1 / keep)
	md := mask.Data.([]float32)
	for i := range md {
		if globalRng.Float64() < keep {
			md[i] = scale
		}
	}
	return tensor.MulAutograd(h, mask)
}

// stackAttention rearranges per-feature [batch, steps] attention weights
// into one detached [batch, features, steps] tensor
func stackAttention(maps ...*tensor.Tensor) (*tensor.Tensor, error) {
	batch, steps := maps[0].Shape[0], maps[0].Shape[1]
	out, err := tensor.Zeros([]int{batch, len(maps), steps}, tensor.Float32, maps[0].Device)
	if err != nil {
		return nil, err
	}
	od := out.Data.([]float32)
	for f, m := range maps {
		if m.Shape[0] != batch || m.Shape[1] != steps {
			return nil, fmt.Errorf("attention map %d has shape %v, expected [%d %d]", f, m.Shape, batch, steps)
		}
		md := m.Data.([]float32)
		for b := 0; b < batch; b++ {
			copy(od[(b*len(maps)+f)*steps:(b*len(maps)+f+1)*steps], md[b*steps:(b+1)*steps])
		}
	}
	return out, nil
}

// Parameters returns all trainable tensors
func (n *Network) Parameters() []*tensor.Tensor {
	params := make([]*tensor.Tensor, 0, len(n.NamedParameters()))
	for _, np := range n.NamedParameters() {
		params = append(params, np.Tensor)
	}
	return params
}

// NamedParameters returns trainable tensors with stable checkpoint names
func (n *Network) NamedParameters() []NamedParameter {
	params := []NamedParameter{
		{"embedding.cam", n.cam.table},
		{"attention.cam.query", n.cam.query},
		{"embedding.cate", n.cate.table},
		{"attention.cate.query", n.cate.query},
		{"embedding.brand", n.brand.table},
		{"attention.brand.query", n.brand.query},
		{"embedding.price", n.price.table},
		{"attention.price.query", n.price.query},
		{"embedding.segment", n.segment.table},
		{"trunk.weight", n.trunkW},
		{"trunk.bias", n.trunkB},
	}
	for _, hd := range n.heads {
		params = append(params,
			NamedParameter{fmt.Sprintf("head.%s.weight", hd.name), hd.weight},
			NamedParameter{fmt.Sprintf("head.%s.bias", hd.name), hd.bias})
	}
	return params
}

// NumParameters returns the total trainable element count
func (n *Network) NumParameters() int {
	total := 0
	for _, p := range n.Parameters() {
		total += p.NumElems
	}
	return total
}

// Train enables training behavior (dropout active)
func (n *Network) Train() { n.training = true }

// Eval enables evaluation behavior (dropout off)
func (n *Network) Eval() { n.training = false }

// IsTraining reports whether the network is in training mode
func (n *Network) IsTraining() bool { return n.training }
