package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tsawler/go-multitask/optimizer"
)

// Format defines the serialization format
type Format int

const (
	FormatJSON Format = iota
	FormatBinary
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "JSON"
	case FormatBinary:
		return "Binary"
	default:
		return "Unknown"
	}
}

// FormatForPath picks the format from the file extension. ".bin" and
// ".pb" select the compact binary encoding; everything else is JSON.
func FormatForPath(path string) Format {
	switch filepath.Ext(path) {
	case ".bin", ".pb":
		return FormatBinary
	default:
		return FormatJSON
	}
}

// Checkpoint represents a complete model state including weights,
// optimizer state, and training metadata
type Checkpoint struct {
	Weights []WeightTensor `json:"weights"`

	// Training state
	TrainingState TrainingState `json:"training_state"`

	// Optimizer state (if available)
	OptimizerState *optimizer.State `json:"optimizer_state,omitempty"`

	// Metadata
	Metadata Metadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// TrainingState captures the training progress at save time
type TrainingState struct {
	Epoch         int     `json:"epoch"`
	Step          uint64  `json:"step"`
	BestLoss      float64 `json:"best_loss"`
	Seed          int64   `json:"seed"`
	Deterministic bool    `json:"deterministic"`
}

// Metadata contains checkpoint provenance
type Metadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// Saver handles saving and loading model checkpoints in various formats
type Saver struct {
	format Format
}

// NewSaver creates a new checkpoint saver for the specified format
func NewSaver(format Format) *Saver {
	return &Saver{
		format: format,
	}
}

// Save writes a complete model checkpoint to path. The file is
// overwritten if it exists; callers enforce the save-on-improvement
// policy.
func (s *Saver) Save(checkpoint *Checkpoint, path string) error {
	// Ensure metadata is set
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "go-multitask"
		checkpoint.Metadata.Version = "1.0.0"
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	switch s.format {
	case FormatJSON:
		return s.saveJSON(checkpoint, path)
	case FormatBinary:
		return s.saveBinary(checkpoint, path)
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", s.format.String())
	}
}

// Load reads a model checkpoint from path
func (s *Saver) Load(path string) (*Checkpoint, error) {
	switch s.format {
	case FormatJSON:
		return s.loadJSON(path)
	case FormatBinary:
		return s.loadBinary(path)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", s.format.String())
	}
}

// saveJSON saves checkpoint in JSON format
func (s *Saver) saveJSON(checkpoint *Checkpoint, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %v", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ") // Pretty print JSON

	if err := encoder.Encode(checkpoint); err != nil {
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}

	return nil
}

// loadJSON loads checkpoint from JSON format
func (s *Saver) loadJSON(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %v", err)
	}
	defer file.Close()

	var checkpoint Checkpoint
	decoder := json.NewDecoder(file)

	if err := decoder.Decode(&checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}

	return &checkpoint, nil
}

// saveBinary saves checkpoint in the compact wire format
func (s *Saver) saveBinary(checkpoint *Checkpoint, path string) error {
	buf, err := encodeCheckpoint(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %v", err)
	}
	return nil
}

// loadBinary loads checkpoint from the compact wire format
func (s *Saver) loadBinary(path string) (*Checkpoint, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %v", err)
	}
	checkpoint, err := decodeCheckpoint(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}
	return checkpoint, nil
}
