package training

import (
	"fmt"
	"sync"
)

// Dataset is the random-access source a DataLoader batches from
type Dataset interface {
	// Len returns the total number of examples
	Len() int

	// Get returns the record at an index
	Get(idx int) (Record, error)
}

// BatchIterator is the iterator protocol the Trainer consumes: a finite
// sequence of canonical Batches, restartable once per epoch via Reset.
type BatchIterator interface {
	// Reset rewinds the iterator for a new epoch
	Reset()

	// Next returns the next collated batch, or nil at end of epoch
	Next() (*Batch, error)

	// Len returns the number of batches per epoch
	Len() int
}

// DataLoader batches a Dataset into canonical Batches, optionally
// shuffling example order each epoch. Collation of per-example records
// happens here, at the iterator boundary, never inside the Trainer.
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	indices   []int
	position  int
	mutex     sync.Mutex
}

// NewDataLoader creates a DataLoader over a dataset
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool) (*DataLoader, error) {
	if batchSize <= 0 {
		return nil, &ConfigError{Field: "batchSize", Reason: fmt.Sprintf("must be positive, got %d", batchSize)}
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}
	return &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		indices:   indices,
	}, nil
}

// Len returns the number of batches in an epoch
func (dl *DataLoader) Len() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// Reset rewinds the loader and reshuffles example order if enabled
func (dl *DataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	dl.position = 0
	if dl.shuffle {
		for i := len(dl.indices) - 1; i > 0; i-- {
			j := globalRng.Intn(i + 1)
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		}
	}
}

// Next returns the next collated batch, or nil once the epoch is complete
func (dl *DataLoader) Next() (*Batch, error) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	if dl.position >= len(dl.indices) {
		return nil, nil
	}

	batchEnd := dl.position + dl.batchSize
	if batchEnd > len(dl.indices) {
		batchEnd = len(dl.indices)
	}
	batchIndices := dl.indices[dl.position:batchEnd]
	dl.position = batchEnd

	records := make([]Record, len(batchIndices))
	for i, idx := range batchIndices {
		rec, err := dl.dataset.Get(idx)
		if err != nil {
			return nil, &DataError{Reason: fmt.Sprintf("loading example %d: %v", idx, err)}
		}
		records[i] = rec
	}
	return Collate(records)
}

// SliceDataset adapts an in-memory record slice to the Dataset interface
type SliceDataset []Record

func (s SliceDataset) Len() int { return len(s) }

func (s SliceDataset) Get(idx int) (Record, error) {
	if idx < 0 || idx >= len(s) {
		return nil, fmt.Errorf("index %d out of range [0, %d)", idx, len(s))
	}
	return s[idx], nil
}
