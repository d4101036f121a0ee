package training

import (
	"errors"
	"testing"
)

func testDataset(t *testing.T, n int) SliceDataset {
	t.Helper()
	records := make(SliceDataset, n)
	for i := range records {
		records[i] = testRecord(t, int32(i))
	}
	return records
}

func TestDataLoaderBatching(t *testing.T) {
	loader, err := NewDataLoader(testDataset(t, 5), 2, false)
	if err != nil {
		t.Fatalf("building loader: %v", err)
	}
	if loader.Len() != 3 {
		t.Errorf("expected 3 batches per epoch, got %d", loader.Len())
	}

	loader.Reset()
	sizes := []int{}
	for {
		batch, err := loader.Next()
		if err != nil {
			t.Fatalf("next failed: %v", err)
		}
		if batch == nil {
			break
		}
		sizes = append(sizes, batch.Size)
	}

	want := []int{2, 2, 1}
	if len(sizes) != len(want) {
		t.Fatalf("expected %d batches, got %d", len(want), len(sizes))
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("batch %d: expected size %d, got %d", i, want[i], sizes[i])
		}
	}

	// exhausted iterator keeps returning nil until reset
	batch, err := loader.Next()
	if err != nil || batch != nil {
		t.Errorf("expected nil batch after epoch end, got %v, %v", batch, err)
	}
}

func TestDataLoaderPreservesOrderWithoutShuffle(t *testing.T) {
	loader, err := NewDataLoader(testDataset(t, 4), 2, false)
	if err != nil {
		t.Fatalf("building loader: %v", err)
	}

	loader.Reset()
	var first []int32
	for {
		batch, err := loader.Next()
		if err != nil {
			t.Fatalf("next failed: %v", err)
		}
		if batch == nil {
			break
		}
		cam, err := batch.Field(FieldCamSequential)
		if err != nil {
			t.Fatalf("reading cam field: %v", err)
		}
		vals, err := cam.GetInt32Data()
		if err != nil {
			t.Fatalf("reading cam data: %v", err)
		}
		for row := 0; row < batch.Size; row++ {
			first = append(first, vals[row*3])
		}
	}

	for i, v := range first {
		if v != int32(i) {
			t.Errorf("example %d: expected cam id %d, got %d", i, i, v)
		}
	}
}

func TestDataLoaderShuffleCoversAllExamples(t *testing.T) {
	SetRandomSeed(3)
	loader, err := NewDataLoader(testDataset(t, 6), 2, true)
	if err != nil {
		t.Fatalf("building loader: %v", err)
	}

	loader.Reset()
	seen := make(map[int32]bool)
	for {
		batch, err := loader.Next()
		if err != nil {
			t.Fatalf("next failed: %v", err)
		}
		if batch == nil {
			break
		}
		cam, err := batch.Field(FieldCamSequential)
		if err != nil {
			t.Fatalf("reading cam field: %v", err)
		}
		vals, err := cam.GetInt32Data()
		if err != nil {
			t.Fatalf("reading cam data: %v", err)
		}
		for row := 0; row < batch.Size; row++ {
			seen[vals[row*3]] = true
		}
	}

	if len(seen) != 6 {
		t.Errorf("expected every example exactly once per epoch, saw %d of 6", len(seen))
	}
}

func TestDataLoaderRejectsBadBatchSize(t *testing.T) {
	_, err := NewDataLoader(testDataset(t, 2), 0, false)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError for zero batch size, got %v", err)
	}
}

func TestSliceDatasetOutOfRange(t *testing.T) {
	ds := testDataset(t, 2)
	if _, err := ds.Get(2); err == nil {
		t.Error("expected error for out-of-range index")
	}
	if _, err := ds.Get(-1); err == nil {
		t.Error("expected error for negative index")
	}
}
