package training

import (
	"errors"
	"testing"

	"github.com/tsawler/go-multitask/tensor"
)

// testRecord builds one un-collated example: [3] id sequences plus
// single-element segment and label fields.
func testRecord(t *testing.T, cam int32) Record {
	t.Helper()
	seq := func(base int32) *tensor.Tensor {
		return int32Tensor(t, []int{3}, []int32{base, base + 1, base + 2})
	}
	one := func(v int32) *tensor.Tensor {
		return int32Tensor(t, []int{1}, []int32{v})
	}
	return Record{
		FieldCamSequential:   seq(cam),
		FieldCateSequential:  seq(1),
		FieldBrandSequential: seq(2),
		FieldPriceSequential: seq(3),
		FieldSegment:         one(0),
		FieldCMS:             one(1),
		FieldGender:          one(0),
		FieldAge:             one(2),
		FieldPValue:          one(0),
		FieldShopping:        one(1),
		FieldLabel:           one(0),
	}
}

func TestNewBatchMissingField(t *testing.T) {
	fields := map[string]*tensor.Tensor{
		FieldCamSequential: int32Tensor(t, []int{1, 3}, []int32{1, 2, 3}),
	}

	_, err := NewBatch(fields)
	var dataErr *DataError
	if !errors.As(err, &dataErr) {
		t.Fatalf("expected DataError for missing field, got %v", err)
	}
}

func TestNewBatchInconsistentBatchDim(t *testing.T) {
	batch := testBatch(t)
	fields := make(map[string]*tensor.Tensor)
	for _, name := range RequiredFields {
		f, err := batch.Field(name)
		if err != nil {
			t.Fatalf("reading field %s: %v", name, err)
		}
		fields[name] = f
	}
	// one field with a conflicting leading dimension
	fields[FieldSegment] = int32Tensor(t, []int{3}, []int32{0, 1, 2})

	_, err := NewBatch(fields)
	var dataErr *DataError
	if !errors.As(err, &dataErr) {
		t.Fatalf("expected DataError for inconsistent batch dimension, got %v", err)
	}
}

func TestBatchFieldMissing(t *testing.T) {
	batch := testBatch(t)
	if _, err := batch.Field("no_such_field"); err == nil {
		t.Error("expected error for unknown field name")
	}
}

func TestCollateShapes(t *testing.T) {
	records := []Record{testRecord(t, 4), testRecord(t, 7)}

	batch, err := Collate(records)
	if err != nil {
		t.Fatalf("collate failed: %v", err)
	}
	if batch.Size != 2 {
		t.Errorf("expected batch size 2, got %d", batch.Size)
	}

	cam, err := batch.Field(FieldCamSequential)
	if err != nil {
		t.Fatalf("reading cam field: %v", err)
	}
	if len(cam.Shape) != 2 || cam.Shape[0] != 2 || cam.Shape[1] != 3 {
		t.Errorf("expected cam shape [2 3], got %v", cam.Shape)
	}
	vals, err := cam.GetInt32Data()
	if err != nil {
		t.Fatalf("reading cam data: %v", err)
	}
	want := []int32{4, 5, 6, 7, 8, 9}
	for i := range want {
		if vals[i] != want[i] {
			t.Errorf("cam value %d: expected %d, got %d", i, want[i], vals[i])
		}
	}

	// single-element record fields collapse to one dimension
	segment, err := batch.Field(FieldSegment)
	if err != nil {
		t.Fatalf("reading segment field: %v", err)
	}
	if len(segment.Shape) != 1 || segment.Shape[0] != 2 {
		t.Errorf("expected segment shape [2], got %v", segment.Shape)
	}
	label, err := batch.Field(FieldLabel)
	if err != nil {
		t.Fatalf("reading label field: %v", err)
	}
	if len(label.Shape) != 1 || label.Shape[0] != 2 {
		t.Errorf("expected label shape [2], got %v", label.Shape)
	}
}

func TestCollateEmptyRecordList(t *testing.T) {
	_, err := Collate(nil)
	var dataErr *DataError
	if !errors.As(err, &dataErr) {
		t.Fatalf("expected DataError for empty record list, got %v", err)
	}
}

func TestCollateMissingField(t *testing.T) {
	rec := testRecord(t, 0)
	delete(rec, FieldGender)

	_, err := Collate([]Record{rec})
	var dataErr *DataError
	if !errors.As(err, &dataErr) {
		t.Fatalf("expected DataError for record missing a field, got %v", err)
	}
}

func TestCollateShapeMismatch(t *testing.T) {
	a := testRecord(t, 0)
	b := testRecord(t, 1)
	b[FieldCamSequential] = int32Tensor(t, []int{4}, []int32{1, 2, 3, 4})

	_, err := Collate([]Record{a, b})
	var dataErr *DataError
	if !errors.As(err, &dataErr) {
		t.Fatalf("expected DataError for mismatched sequence lengths, got %v", err)
	}
}
