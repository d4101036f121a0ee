package training

import (
	"fmt"

	"github.com/tsawler/go-multitask/tensor"
)

// Canonical batch field names. Features first, labels after.
const (
	FieldCamSequential   = "cam_sequential"
	FieldCateSequential  = "cate_sequential"
	FieldBrandSequential = "brand_sequential"
	FieldPriceSequential = "price_sequential"
	FieldSegment         = "segment"

	FieldCMS      = "cms"
	FieldGender   = "gender"
	FieldAge      = "age"
	FieldPValue   = "pvalue"
	FieldShopping = "shopping"
	FieldLabel    = "label" // primary conversion target
)

// RequiredFields lists every field a record must supply for collation
var RequiredFields = []string{
	FieldCamSequential,
	FieldCateSequential,
	FieldBrandSequential,
	FieldPriceSequential,
	FieldSegment,
	FieldCMS,
	FieldGender,
	FieldAge,
	FieldPValue,
	FieldShopping,
	FieldLabel,
}

// Record holds one example's named tensors before collation
type Record map[string]*tensor.Tensor

// Batch is the canonical collated form every iterator produces: one
// batched tensor per field, first dimension equal to the batch size.
// Batches are created fresh per step and discarded after it.
type Batch struct {
	Size   int
	fields map[string]*tensor.Tensor
}

// Field returns the batched tensor for a named field
func (b *Batch) Field(name string) (*tensor.Tensor, error) {
	t, ok := b.fields[name]
	if !ok {
		return nil, &DataError{Reason: fmt.Sprintf("batch is missing required field %s", name)}
	}
	return t, nil
}

// NewBatch wraps pre-collated field tensors into a Batch, verifying that
// every required field is present and agrees on batch size
func NewBatch(fields map[string]*tensor.Tensor) (*Batch, error) {
	size := -1
	for _, name := range RequiredFields {
		t, ok := fields[name]
		if !ok {
			return nil, &DataError{Reason: fmt.Sprintf("batch is missing required field %s", name)}
		}
		if len(t.Shape) == 0 {
			return nil, &DataError{Reason: fmt.Sprintf("batch field %s has no batch dimension", name)}
		}
		if size == -1 {
			size = t.Shape[0]
		} else if t.Shape[0] != size {
			return nil, &DataError{Reason: fmt.Sprintf(
				"batch field %s has batch dimension %d, expected %d", name, t.Shape[0], size)}
		}
	}
	return &Batch{Size: size, fields: fields}, nil
}

// Collate stacks a list of per-example records into one Batch. Every
// record must supply all required fields with matching shapes; collation
// happens at the iterator boundary so the Trainer always sees one batch
// shape regardless of mode.
func Collate(records []Record) (*Batch, error) {
	if len(records) == 0 {
		return nil, &DataError{Reason: "cannot collate an empty record list"}
	}

	fields := make(map[string]*tensor.Tensor, len(RequiredFields))
	for _, name := range RequiredFields {
		column := make([]*tensor.Tensor, len(records))
		for i, rec := range records {
			t, ok := rec[name]
			if !ok {
				return nil, &DataError{Reason: fmt.Sprintf("record %d is missing required field %s", i, name)}
			}
			column[i] = t
		}
		stacked, err := tensor.Stack(column)
		if err != nil {
			return nil, &DataError{Reason: fmt.Sprintf("collating field %s: %v", name, err)}
		}
		// scalar per-record fields (segment, labels) collapse to a 1D
		// column instead of keeping a trailing singleton dimension
		if len(column[0].Shape) == 1 && column[0].Shape[0] == 1 {
			stacked, err = stacked.Reshape([]int{len(records)})
			if err != nil {
				return nil, &DataError{Reason: fmt.Sprintf("collating field %s: %v", name, err)}
			}
		}
		fields[name] = stacked
	}
	return NewBatch(fields)
}
