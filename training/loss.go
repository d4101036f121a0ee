package training

import (
	"github.com/tsawler/go-multitask/tensor"
)

// Loss combines per-task classification losses for the five auxiliary
// labels plus the primary conversion loss into one scalar. The caller
// flattens the primary pair to ([examples, classes], [examples]) before
// invoking; auxiliary pairs are flattened here.
type Loss interface {
	Forward(
		cmsOut, cmsLabel,
		genderOut, genderLabel,
		ageOut, ageLabel,
		pvalueOut, pvalueLabel,
		shoppingOut, shoppingLabel,
		convOut, convLabel *tensor.Tensor,
	) (*tensor.Tensor, error)
}

// MultiTaskLoss sums the per-task softmax cross entropies. Equal task
// weighting keeps the composite scalar a plain sum.
type MultiTaskLoss struct{}

// NewMultiTaskLoss creates the composite loss
func NewMultiTaskLoss() *MultiTaskLoss {
	return &MultiTaskLoss{}
}

// taskLoss flattens one (prediction, label) pair and computes its cross
// entropy. Predictions of rank > 2 collapse to [examples, classes];
// labels collapse to a 1D index sequence.
func (mtl *MultiTaskLoss) taskLoss(name string, pred, label *tensor.Tensor) (*tensor.Tensor, error) {
	if len(pred.Shape) < 2 {
		return nil, &ShapeError{Tensor: name, Expected: []int{-1, -1}, Actual: pred.Shape}
	}
	classes := pred.Shape[len(pred.Shape)-1]
	examples := pred.NumElems / classes

	flatPred, err := tensor.ReshapeAutograd(pred, []int{examples, classes})
	if err != nil {
		return nil, &ShapeError{Tensor: name, Expected: []int{examples, classes}, Actual: pred.Shape}
	}
	flatLabel, err := label.Reshape([]int{label.NumElems})
	if err != nil {
		return nil, &ShapeError{Tensor: name + " labels", Expected: []int{label.NumElems}, Actual: label.Shape}
	}
	if flatLabel.NumElems != examples {
		return nil, &ShapeError{Tensor: name, Expected: []int{examples, classes}, Actual: append([]int{flatLabel.NumElems}, classes)}
	}

	loss, err := tensor.SoftmaxCrossEntropyAutograd(flatPred, flatLabel)
	if err != nil {
		return nil, &DataError{Reason: name + " loss: " + err.Error()}
	}
	return loss, nil
}

// Forward computes the composite scalar over all six tasks
func (mtl *MultiTaskLoss) Forward(
	cmsOut, cmsLabel,
	genderOut, genderLabel,
	ageOut, ageLabel,
	pvalueOut, pvalueLabel,
	shoppingOut, shoppingLabel,
	convOut, convLabel *tensor.Tensor,
) (*tensor.Tensor, error) {
	pairs := []struct {
		name  string
		pred  *tensor.Tensor
		label *tensor.Tensor
	}{
		{"cms", cmsOut, cmsLabel},
		{"gender", genderOut, genderLabel},
		{"age", ageOut, ageLabel},
		{"pvalue", pvalueOut, pvalueLabel},
		{"shopping", shoppingOut, shoppingLabel},
		{"conversion", convOut, convLabel},
	}

	var total *tensor.Tensor
	for _, pair := range pairs {
		loss, err := mtl.taskLoss(pair.name, pair.pred, pair.label)
		if err != nil {
			return nil, err
		}
		if total == nil {
			total = loss
			continue
		}
		total, err = tensor.AddAutograd(total, loss)
		if err != nil {
			return nil, err
		}
	}
	return total, nil
}
