package optimizer

import (
	"fmt"

	"github.com/tsawler/go-multitask/tensor"
)

// Optimizer defines the common interface for all optimizers.
// State save/restore enables checkpoint round-trips of moment estimates.
type Optimizer interface {
	// Step performs a single optimization step over the tracked parameters
	Step() error

	// ZeroGrad clears accumulated gradients on all tracked parameters
	ZeroGrad()

	// GetLR returns the current learning rate
	GetLR() float64

	// SetLR sets the learning rate
	SetLR(lr float64)

	// GetStepCount returns the number of optimization steps taken
	GetStepCount() uint64

	// GetState extracts optimizer state for checkpointing
	GetState() (*State, error)

	// LoadState restores optimizer state from a checkpoint
	LoadState(state *State) error
}

// State is the serializable form of an optimizer's internal state
type State struct {
	Type       string             `json:"type"` // "Adam", "ScheduledAdam", ...
	Parameters map[string]float64 `json:"parameters"`
	StateData  []StateTensor      `json:"state_data"`
}

// StateTensor holds one internal state tensor (moment estimate, etc.)
type StateTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"` // "m", "v", ...
}

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *State) error {
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}

func stateTensorFor(name, stateType string, t *tensor.Tensor) (StateTensor, error) {
	data, err := t.GetFloat32Data()
	if err != nil {
		return StateTensor{}, fmt.Errorf("state tensor %s: %v", name, err)
	}
	return StateTensor{
		Name:      name,
		Shape:     append([]int{}, t.Shape...),
		Data:      append([]float32{}, data...),
		StateType: stateType,
	}, nil
}
