// Package model defines the forward-pass contract for multi-task
// user-attribute prediction and a reference attention-pooling network
// implementing it. The trainer consumes models only through the Model
// interface, so the network can be swapped without touching the
// training loop.
package model

import (
	"github.com/tsawler/go-multitask/tensor"
)

// Output bundles the six per-task prediction tensors, in fixed task order,
// together with an attention map for inspection. Outputs are consumed
// immediately by the loss and never retained across batches.
type Output struct {
	CMS        *tensor.Tensor // customer segment logits [batch, classes]
	Gender     *tensor.Tensor
	Age        *tensor.Tensor
	PValue     *tensor.Tensor // purchase-value tier logits
	Shopping   *tensor.Tensor // shopping-style tier logits
	Conversion *tensor.Tensor // primary target logits
	AttnMap    *tensor.Tensor // [batch, features, steps], detached
}

// NamedParameter pairs a trainable tensor with its checkpoint name
type NamedParameter struct {
	Name   string
	Tensor *tensor.Tensor
}

// Model maps four behavioral sequences plus a segment feature to six task
// predictions. Implementations must live on a single compute device and
// support a train/eval mode toggle.
type Model interface {
	// Forward runs one batched pass. Sequence tensors are Int32 [batch,
	// steps] id sequences; segment is Int32 [batch].
	Forward(cam, cate, brand, price, segment *tensor.Tensor) (*Output, error)

	// Parameters returns all trainable tensors
	Parameters() []*tensor.Tensor

	// NamedParameters returns trainable tensors with stable names for
	// checkpoint round-trips
	NamedParameters() []NamedParameter

	Train() // enables training behavior (dropout active)
	Eval()  // enables evaluation behavior (dropout off)
	IsTraining() bool
}
