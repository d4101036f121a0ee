package model

import (
	"testing"

	"github.com/tsawler/go-multitask/tensor"
)

func testConfig() Config {
	return Config{
		Device:        tensor.CPU,
		EmbedDim:      8,
		HiddenDim:     16,
		Dropout:       0.1,
		CamVocab:      20,
		CateVocab:     30,
		BrandVocab:    25,
		PriceVocab:    10,
		SegmentVocab:  5,
		NumCMS:        13,
		NumGender:     3,
		NumAge:        7,
		NumPValue:     4,
		NumShopping:   3,
		NumConversion: 2,
	}
}

func testInputs(t *testing.T, batch, steps int) (cam, cate, brand, price, segment *tensor.Tensor) {
	t.Helper()
	seq := func(vocab int) *tensor.Tensor {
		data := make([]int32, batch*steps)
		for i := range data {
			data[i] = int32(i % vocab)
		}
		s, err := tensor.NewTensor([]int{batch, steps}, tensor.Int32, tensor.CPU, data)
		if err != nil {
			t.Fatalf("failed to create sequence: %v", err)
		}
		return s
	}
	segData := make([]int32, batch)
	for i := range segData {
		segData[i] = int32(i % 5)
	}
	seg, err := tensor.NewTensor([]int{batch}, tensor.Int32, tensor.CPU, segData)
	if err != nil {
		t.Fatalf("failed to create segment: %v", err)
	}
	return seq(20), seq(25), seq(25), seq(10), seg
}

func TestNetworkForwardShapes(t *testing.T) {
	SetRandomSeed(11)
	net, err := NewNetwork(testConfig())
	if err != nil {
		t.Fatalf("NewNetwork failed: %v", err)
	}

	batch, steps := 4, 6
	cam, cate, brand, price, segment := testInputs(t, batch, steps)
	out, err := net.Forward(cam, cate, brand, price, segment)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	tests := []struct {
		name    string
		tensor  *tensor.Tensor
		classes int
	}{
		{"cms", out.CMS, 13},
		{"gender", out.Gender, 3},
		{"age", out.Age, 7},
		{"pvalue", out.PValue, 4},
		{"shopping", out.Shopping, 3},
		{"conversion", out.Conversion, 2},
	}
	for _, tt := range tests {
		if len(tt.tensor.Shape) != 2 || tt.tensor.Shape[0] != batch || tt.tensor.Shape[1] != tt.classes {
			t.Errorf("%s output shape %v, expected [%d %d]", tt.name, tt.tensor.Shape, batch, tt.classes)
		}
	}

	if len(out.AttnMap.Shape) != 3 || out.AttnMap.Shape[0] != batch || out.AttnMap.Shape[1] != 4 || out.AttnMap.Shape[2] != steps {
		t.Errorf("attention map shape %v, expected [%d 4 %d]", out.AttnMap.Shape, batch, steps)
	}
	// attention rows are probability distributions
	ad := out.AttnMap.Data.([]float32)
	for row := 0; row < batch*4; row++ {
		var sum float32
		for s := 0; s < steps; s++ {
			sum += ad[row*steps+s]
		}
		if sum < 0.999 || sum > 1.001 {
			t.Errorf("attention row %d sums to %f, expected 1", row, sum)
		}
	}
}

func TestNetworkDeterministicInit(t *testing.T) {
	SetRandomSeed(42)
	a, err := NewNetwork(testConfig())
	if err != nil {
		t.Fatalf("NewNetwork failed: %v", err)
	}
	SetRandomSeed(42)
	b, err := NewNetwork(testConfig())
	if err != nil {
		t.Fatalf("NewNetwork failed: %v", err)
	}

	ap, bp := a.NamedParameters(), b.NamedParameters()
	if len(ap) != len(bp) {
		t.Fatalf("parameter count mismatch: %d vs %d", len(ap), len(bp))
	}
	for i := range ap {
		if !ap[i].Tensor.Equal(bp[i].Tensor) {
			t.Errorf("parameter %s differs across identically seeded networks", ap[i].Name)
		}
	}
}

func TestNetworkEvalIsDeterministic(t *testing.T) {
	SetRandomSeed(7)
	net, err := NewNetwork(testConfig())
	if err != nil {
		t.Fatalf("NewNetwork failed: %v", err)
	}
	net.Eval()
	if net.IsTraining() {
		t.Fatal("expected eval mode")
	}

	cam, cate, brand, price, segment := testInputs(t, 3, 5)
	first, err := net.Forward(cam, cate, brand, price, segment)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	second, err := net.Forward(cam, cate, brand, price, segment)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if !first.Conversion.Equal(second.Conversion) {
		t.Error("eval-mode forward passes must be identical")
	}
}

func TestNetworkRejectsBadInputs(t *testing.T) {
	SetRandomSeed(1)
	net, err := NewNetwork(testConfig())
	if err != nil {
		t.Fatalf("NewNetwork failed: %v", err)
	}

	cam, cate, brand, price, _ := testInputs(t, 2, 4)
	badSegment, _ := tensor.Zeros([]int{2, 1}, tensor.Int32, tensor.CPU)
	if _, err := net.Forward(cam, cate, brand, price, badSegment); err == nil {
		t.Error("expected error for 2D segment tensor")
	}

	floatSeq, _ := tensor.Zeros([]int{2, 4}, tensor.Float32, tensor.CPU)
	_, _, _, _, segment := testInputs(t, 2, 4)
	if _, err := net.Forward(floatSeq, cate, brand, price, segment); err == nil {
		t.Error("expected error for Float32 sequence tensor")
	}
}

func TestNetworkConfigValidation(t *testing.T) {
	cfg := testConfig()
	cfg.HiddenDim = 0
	if _, err := NewNetwork(cfg); err == nil {
		t.Error("expected error for zero hidden dimension")
	}

	cfg = testConfig()
	cfg.Dropout = 1.0
	if _, err := NewNetwork(cfg); err == nil {
		t.Error("expected error for dropout of 1")
	}
}

func TestNetworkParameterCount(t *testing.T) {
	SetRandomSeed(2)
	net, err := NewNetwork(testConfig())
	if err != nil {
		t.Fatalf("NewNetwork failed: %v", err)
	}

	named := net.NamedParameters()
	seen := make(map[string]bool)
	total := 0
	for _, np := range named {
		if seen[np.Name] {
			t.Errorf("duplicate parameter name %s", np.Name)
		}
		seen[np.Name] = true
		if !np.Tensor.RequiresGrad() {
			t.Errorf("parameter %s does not require gradients", np.Name)
		}
		total += np.Tensor.NumElems
	}
	if net.NumParameters() != total {
		t.Errorf("NumParameters %d does not match sum %d", net.NumParameters(), total)
	}
}
