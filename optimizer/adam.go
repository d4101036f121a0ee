package optimizer

import (
	"fmt"
	"math"
	"sync"

	"github.com/tsawler/go-multitask/tensor"
)

// Adam implements the Adam optimizer over CPU parameter tensors
type Adam struct {
	parameters []*tensor.Tensor
	lr         float64
	beta1      float64
	beta2      float64
	eps        float64
	step       uint64
	m          map[*tensor.Tensor]*tensor.Tensor // first moment estimates
	v          map[*tensor.Tensor]*tensor.Tensor // second moment estimates
	mutex      sync.RWMutex
}

// NewAdam creates an Adam optimizer. Moment estimates are allocated up
// front for every parameter that requires gradients.
func NewAdam(parameters []*tensor.Tensor, lr, beta1, beta2, eps float64) (*Adam, error) {
	adam := &Adam{
		parameters: parameters,
		lr:         lr,
		beta1:      beta1,
		beta2:      beta2,
		eps:        eps,
		m:          make(map[*tensor.Tensor]*tensor.Tensor),
		v:          make(map[*tensor.Tensor]*tensor.Tensor),
	}

	for i, param := range parameters {
		if !param.RequiresGrad() {
			continue
		}
		m, err := tensor.Zeros(param.Shape, param.DType, param.Device)
		if err != nil {
			return nil, fmt.Errorf("first moment initialization for parameter %d failed: %v", i, err)
		}
		v, err := tensor.Zeros(param.Shape, param.DType, param.Device)
		if err != nil {
			return nil, fmt.Errorf("second moment initialization for parameter %d failed: %v", i, err)
		}
		adam.m[param] = m
		adam.v[param] = v
	}
	return adam, nil
}

// Step performs a single optimization step
func (adam *Adam) Step() error {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()

	adam.step++

	// bias correction factors
	bias1 := 1.0 - math.Pow(adam.beta1, float64(adam.step))
	bias2 := 1.0 - math.Pow(adam.beta2, float64(adam.step))

	for i, param := range adam.parameters {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}

		grad, err := param.Grad().GetFloat32Data()
		if err != nil {
			return fmt.Errorf("parameter %d gradient: %v", i, err)
		}
		data, err := param.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("parameter %d data: %v", i, err)
		}
		m := adam.m[param].Data.([]float32)
		v := adam.v[param].Data.([]float32)

		b1 := float32(adam.beta1)
		b2 := float32(adam.beta2)
		for j := range data {
			g := grad[j]
			m[j] = b1*m[j] + (1-b1)*g
			v[j] = b2*v[j] + (1-b2)*g*g
			mHat := float64(m[j]) / bias1
			vHat := float64(v[j]) / bias2
			data[j] -= float32(adam.lr * mHat / (math.Sqrt(vHat) + adam.eps))
		}
	}
	return nil
}

// ZeroGrad clears accumulated gradients on all tracked parameters
func (adam *Adam) ZeroGrad() {
	tensor.ZeroGrad(adam.parameters)
}

// GetLR returns the current learning rate
func (adam *Adam) GetLR() float64 {
	adam.mutex.RLock()
	defer adam.mutex.RUnlock()
	return adam.lr
}

// SetLR sets the learning rate
func (adam *Adam) SetLR(lr float64) {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()
	adam.lr = lr
}

// GetStepCount returns the number of optimization steps taken
func (adam *Adam) GetStepCount() uint64 {
	adam.mutex.RLock()
	defer adam.mutex.RUnlock()
	return adam.step
}

// GetState extracts moment estimates and hyperparameters for checkpointing
func (adam *Adam) GetState() (*State, error) {
	adam.mutex.RLock()
	defer adam.mutex.RUnlock()

	state := &State{
		Type: "Adam",
		Parameters: map[string]float64{
			"lr":    adam.lr,
			"beta1": adam.beta1,
			"beta2": adam.beta2,
			"eps":   adam.eps,
			"step":  float64(adam.step),
		},
	}
	for i, param := range adam.parameters {
		if !param.RequiresGrad() {
			continue
		}
		mt, err := stateTensorFor(fmt.Sprintf("m_%d", i), "m", adam.m[param])
		if err != nil {
			return nil, err
		}
		vt, err := stateTensorFor(fmt.Sprintf("v_%d", i), "v", adam.v[param])
		if err != nil {
			return nil, err
		}
		state.StateData = append(state.StateData, mt, vt)
	}
	return state, nil
}

// LoadState restores moment estimates and the step counter
func (adam *Adam) LoadState(state *State) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}

	adam.mutex.Lock()
	defer adam.mutex.Unlock()

	byName := make(map[string]StateTensor, len(state.StateData))
	for _, st := range state.StateData {
		byName[st.Name] = st
	}

	for i, param := range adam.parameters {
		if !param.RequiresGrad() {
			continue
		}
		for prefix, dst := range map[string]*tensor.Tensor{"m": adam.m[param], "v": adam.v[param]} {
			st, ok := byName[fmt.Sprintf("%s_%d", prefix, i)]
			if !ok {
				return fmt.Errorf("missing %s state for parameter %d", prefix, i)
			}
			if len(st.Data) != dst.NumElems {
				return fmt.Errorf("state %s_%d has %d elements, parameter expects %d", prefix, i, len(st.Data), dst.NumElems)
			}
			copy(dst.Data.([]float32), st.Data)
		}
	}

	if step, ok := state.Parameters["step"]; ok {
		adam.step = uint64(step)
	}
	if lr, ok := state.Parameters["lr"]; ok {
		adam.lr = lr
	}
	return nil
}
