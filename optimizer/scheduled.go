package optimizer

import (
	"fmt"
	"math"
)

// ScheduledAdam wraps a base optimizer with the transformer warm-up
// learning-rate schedule:
//
//	lr = hidden_dim^-0.5 * min(step^-0.5, step * warm_steps^-1.5)
//
// The rate rises linearly for the first warmSteps steps, then decays with
// the inverse square root of the step count. The step counter starts at 1;
// a counter of 0 would make the schedule undefined.
type ScheduledAdam struct {
	base      Optimizer
	hiddenDim int
	warmSteps int
	stepNum   uint64
}

// NewScheduledAdam wraps base with the warm-up schedule
func NewScheduledAdam(base Optimizer, hiddenDim, warmSteps int) (*ScheduledAdam, error) {
	if hiddenDim <= 0 {
		return nil, fmt.Errorf("hidden dimension must be positive, got %d", hiddenDim)
	}
	if warmSteps <= 0 {
		return nil, fmt.Errorf("warm-up steps must be positive, got %d", warmSteps)
	}
	return &ScheduledAdam{
		base:      base,
		hiddenDim: hiddenDim,
		warmSteps: warmSteps,
	}, nil
}

// LearningRate returns the scheduled rate for a given step count (step >= 1)
func (s *ScheduledAdam) LearningRate(step uint64) float64 {
	fs := float64(step)
	decay := 1.0 / math.Sqrt(fs)
	warm := fs * math.Pow(float64(s.warmSteps), -1.5)
	return math.Min(decay, warm) / math.Sqrt(float64(s.hiddenDim))
}

// Step advances the schedule, applies the new rate to the wrapped
// optimizer, and delegates the parameter update. Failures from the wrapped
// optimizer propagate unchanged.
func (s *ScheduledAdam) Step() error {
	s.stepNum++
	s.base.SetLR(s.LearningRate(s.stepNum))
	return s.base.Step()
}

// ZeroGrad clears accumulated gradients on the wrapped optimizer's parameters
func (s *ScheduledAdam) ZeroGrad() {
	s.base.ZeroGrad()
}

// GetLR returns the learning rate most recently applied to the base optimizer
func (s *ScheduledAdam) GetLR() float64 {
	return s.base.GetLR()
}

// SetLR is accepted for interface compatibility but the next Step
// recomputes the rate from the schedule.
func (s *ScheduledAdam) SetLR(lr float64) {
	s.base.SetLR(lr)
}

// GetStepCount returns the schedule's step counter
func (s *ScheduledAdam) GetStepCount() uint64 {
	return s.stepNum
}

// GetState extracts the schedule counter together with the wrapped
// optimizer's state
func (s *ScheduledAdam) GetState() (*State, error) {
	state, err := s.base.GetState()
	if err != nil {
		return nil, err
	}
	state.Type = "ScheduledAdam"
	state.Parameters["schedule_step"] = float64(s.stepNum)
	state.Parameters["hidden_dim"] = float64(s.hiddenDim)
	state.Parameters["warm_steps"] = float64(s.warmSteps)
	return state, nil
}

// LoadState restores the schedule counter and the wrapped optimizer's state
func (s *ScheduledAdam) LoadState(state *State) error {
	if err := validateStateType("ScheduledAdam", state); err != nil {
		return err
	}
	if step, ok := state.Parameters["schedule_step"]; ok {
		s.stepNum = uint64(step)
	}
	inner := &State{
		Type:       "Adam",
		Parameters: state.Parameters,
		StateData:  state.StateData,
	}
	return s.base.LoadState(inner)
}
