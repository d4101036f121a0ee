package training

import (
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/tsawler/go-multitask/checkpoints"
	"github.com/tsawler/go-multitask/model"
	"github.com/tsawler/go-multitask/optimizer"
	"github.com/tsawler/go-multitask/tensor"
)

// Mode selects which lifecycle a Trainer runs: training with validation,
// standalone evaluation, or checkpoint-driven inference over a test set.
type Mode int

const (
	ModeTrain Mode = iota
	ModeEvaluate
	ModeInference
)

func (m Mode) String() string {
	switch m {
	case ModeTrain:
		return "train"
	case ModeEvaluate:
		return "evaluate"
	case ModeInference:
		return "inference"
	default:
		return "unknown"
	}
}

// Trainer orchestrates the full training lifecycle: per-epoch batch
// processing, scheduled optimization with gradient clipping, loss
// aggregation, and checkpointing on best validation loss. One batch is
// fully processed before the next begins; there is no overlap.
type Trainer struct {
	params    Params
	mode      Mode
	device    tensor.DeviceType
	trainIter BatchIterator
	validIter BatchIterator
	testIter  BatchIterator

	model     model.Model
	optimizer *optimizer.ScheduledAdam
	criterion Loss

	metrics       []EpochMetrics
	bestValidLoss float64
}

// NewTrainer validates the configuration, builds the model on the
// configured device, and wires the scheduled optimizer and composite
// loss. Training mode requires train and validation iterators; inference
// mode requires a test iterator.
func NewTrainer(params Params, mode Mode, trainIter, validIter, testIter BatchIterator) (*Trainer, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	device, err := ResolveDevice(params.Device)
	if err != nil {
		return nil, err
	}

	switch mode {
	case ModeTrain:
		if trainIter == nil {
			return nil, &ConfigError{Field: "trainIter", Reason: "required in train mode"}
		}
		if validIter == nil {
			return nil, &ConfigError{Field: "validIter", Reason: "required in train mode"}
		}
	case ModeEvaluate:
		if validIter == nil {
			return nil, &ConfigError{Field: "validIter", Reason: "required in evaluate mode"}
		}
	case ModeInference:
		if testIter == nil {
			return nil, &ConfigError{Field: "testIter", Reason: "required in inference mode"}
		}
	default:
		return nil, &ConfigError{Field: "mode", Reason: fmt.Sprintf("unknown mode %d", mode)}
	}

	cfg := params.modelConfig()
	cfg.Device = device
	net, err := model.NewNetwork(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "building model")
	}

	adam, err := optimizer.NewAdam(net.Parameters(), 0, 0.9, 0.98, 1e-9)
	if err != nil {
		return nil, errors.Wrap(err, "building optimizer")
	}
	sched, err := optimizer.NewScheduledAdam(adam, params.HiddenDim, params.WarmSteps)
	if err != nil {
		return nil, errors.Wrap(err, "building schedule")
	}

	return &Trainer{
		params:        params,
		mode:          mode,
		device:        device,
		trainIter:     trainIter,
		validIter:     validIter,
		testIter:      testIter,
		model:         net,
		optimizer:     sched,
		criterion:     NewMultiTaskLoss(),
		bestValidLoss: math.Inf(1),
	}, nil
}

// Model exposes the trained model for inspection after a run
func (t *Trainer) Model() model.Model {
	return t.model
}

// Metrics returns the per-epoch summaries accumulated so far
func (t *Trainer) Metrics() []EpochMetrics {
	return t.metrics
}

// BestValidLoss returns the lowest validation loss observed so far
func (t *Trainer) BestValidLoss() float64 {
	return t.bestValidLoss
}

// batchLoss runs one forward pass and composite-loss computation over a
// collated batch. The primary conversion pair is flattened here to
// ([examples, classes], [examples]) to match the flattening the loss
// applies to auxiliary tasks.
func (t *Trainer) batchLoss(batch *Batch) (*tensor.Tensor, error) {
	fields := make(map[string]*tensor.Tensor, len(RequiredFields))
	for _, name := range RequiredFields {
		f, err := batch.Field(name)
		if err != nil {
			return nil, err
		}
		if f.Device != t.device {
			return nil, &DeviceError{Reason: fmt.Sprintf(
				"batch field %s is on %s, model is on %s", name, f.Device, t.device)}
		}
		fields[name] = f
	}

	// The system this replaces fed the price sequence into the brand
	// input; both fields are carried so the caller decides which one the
	// model sees.
	brandIn := fields[FieldBrandSequential]
	if t.params.BrandFromPrice {
		brandIn = fields[FieldPriceSequential]
	}

	out, err := t.model.Forward(
		fields[FieldCamSequential],
		fields[FieldCateSequential],
		brandIn,
		fields[FieldPriceSequential],
		fields[FieldSegment],
	)
	if err != nil {
		return nil, errors.Wrap(err, "forward pass")
	}

	conv := out.Conversion
	if len(conv.Shape) < 2 {
		return nil, &ShapeError{Tensor: "conversion", Expected: []int{-1, -1}, Actual: conv.Shape}
	}
	classes := conv.Shape[len(conv.Shape)-1]
	rows := conv.NumElems / classes
	flatConv, err := tensor.ReshapeAutograd(conv, []int{rows, classes})
	if err != nil {
		return nil, errors.Wrap(err, "flattening conversion output")
	}
	convLabel := fields[FieldLabel]
	flatLabel, err := convLabel.Reshape([]int{convLabel.NumElems})
	if err != nil {
		return nil, errors.Wrap(err, "flattening conversion labels")
	}
	if flatLabel.NumElems != rows {
		return nil, &ShapeError{
			Tensor:   "conversion",
			Expected: []int{rows, classes},
			Actual:   []int{flatLabel.NumElems, classes},
		}
	}

	return t.criterion.Forward(
		out.CMS, fields[FieldCMS],
		out.Gender, fields[FieldGender],
		out.Age, fields[FieldAge],
		out.PValue, fields[FieldPValue],
		out.Shopping, fields[FieldShopping],
		flatConv, flatLabel,
	)
}

// Train runs the configured number of epochs: per batch it zeroes
// gradients, computes the composite loss, backpropagates, clips the
// global gradient norm, and takes one scheduled optimizer step. After
// each epoch it evaluates on the validation iterator and persists the
// model iff validation loss strictly improved.
func (t *Trainer) Train() error {
	if t.mode != ModeTrain {
		return &ConfigError{Field: "mode", Reason: fmt.Sprintf("trainer was constructed for %s mode", t.mode)}
	}

	fmt.Printf("Training on %s\n", DescribeDevice())
	numParams := 0
	for _, p := range t.model.Parameters() {
		numParams += p.NumElems
	}
	fmt.Printf("The model has %d trainable parameters\n", numParams)

	for epoch := 0; epoch < t.params.NumEpoch; epoch++ {
		start := time.Now()
		t.model.Train()
		t.trainIter.Reset()

		var epochLoss float64
		batchCount := 0
		for {
			batch, err := t.trainIter.Next()
			if err != nil {
				return errors.Wrapf(err, "epoch %d batch %d", epoch+1, batchCount+1)
			}
			if batch == nil {
				break
			}

			t.optimizer.ZeroGrad()
			loss, err := t.batchLoss(batch)
			if err != nil {
				return errors.Wrapf(err, "epoch %d batch %d", epoch+1, batchCount+1)
			}
			val, err := loss.Item()
			if err != nil {
				return errors.Wrap(err, "reading loss value")
			}
			// a corrupted batch must abort the epoch: skipping it would
			// desynchronize the optimizer step count from the warm-up
			// schedule
			if math.IsNaN(val) || math.IsInf(val, 0) {
				return errors.Errorf("epoch %d batch %d: non-finite loss %f", epoch+1, batchCount+1, val)
			}
			if err := loss.Backward(); err != nil {
				return errors.Wrapf(err, "epoch %d batch %d backward pass", epoch+1, batchCount+1)
			}
			tensor.ClipGradNorm(t.model.Parameters(), t.params.Clip)
			if err := t.optimizer.Step(); err != nil {
				return errors.Wrapf(err, "epoch %d batch %d optimizer step", epoch+1, batchCount+1)
			}

			epochLoss += val
			batchCount++
		}
		if batchCount == 0 {
			return &DataError{Reason: "training iterator produced no batches"}
		}
		trainLoss := epochLoss / float64(batchCount)

		validLoss, err := t.Evaluate()
		if err != nil {
			return errors.Wrapf(err, "epoch %d validation", epoch+1)
		}

		if validLoss < t.bestValidLoss {
			t.bestValidLoss = validLoss
			if err := t.saveCheckpoint(epoch, validLoss); err != nil {
				return err
			}
		}

		duration := time.Since(start)
		mins, secs := epochTime(duration)
		fmt.Printf("Epoch: %02d | Epoch Time: %dm %ds\n", epoch+1, mins, secs)
		fmt.Printf("\tTrain Loss: %.3f | Val. Loss: %.3f\n", trainLoss, validLoss)

		t.metrics = append(t.metrics, EpochMetrics{
			Epoch:      epoch + 1,
			TrainLoss:  trainLoss,
			ValidLoss:  validLoss,
			Duration:   duration,
			BatchCount: batchCount,
		})
	}
	return nil
}

// Evaluate computes the mean composite loss over the validation iterator
// with the model in evaluation mode and gradient tracking disabled. No
// parameter updates occur.
func (t *Trainer) Evaluate() (float64, error) {
	if t.validIter == nil {
		return 0, &ConfigError{Field: "validIter", Reason: "no validation iterator configured"}
	}
	return t.meanLoss(t.validIter, "validation")
}

// Inference loads the best checkpoint into the model and reports the
// mean composite loss over the test iterator.
func (t *Trainer) Inference() (float64, error) {
	if t.testIter == nil {
		return 0, &ConfigError{Field: "testIter", Reason: "no test iterator configured"}
	}
	if err := t.loadCheckpoint(); err != nil {
		return 0, err
	}

	testLoss, err := t.meanLoss(t.testIter, "test")
	if err != nil {
		return 0, err
	}
	fmt.Printf("Test Loss: %.3f\n", testLoss)
	return testLoss, nil
}

func (t *Trainer) meanLoss(iter BatchIterator, name string) (float64, error) {
	t.model.Eval()
	prev := tensor.SetGradEnabled(false)
	defer tensor.SetGradEnabled(prev)

	iter.Reset()
	var total float64
	batchCount := 0
	for {
		batch, err := iter.Next()
		if err != nil {
			return 0, errors.Wrapf(err, "%s batch %d", name, batchCount+1)
		}
		if batch == nil {
			break
		}
		loss, err := t.batchLoss(batch)
		if err != nil {
			return 0, errors.Wrapf(err, "%s batch %d", name, batchCount+1)
		}
		val, err := loss.Item()
		if err != nil {
			return 0, errors.Wrap(err, "reading loss value")
		}
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return 0, errors.Errorf("%s batch %d: non-finite loss %f", name, batchCount+1, val)
		}
		total += val
		batchCount++
	}
	// guard the mean explicitly: an empty iterator must surface as a
	// data problem, not an arithmetic fault
	if batchCount == 0 {
		return 0, &DataError{Reason: fmt.Sprintf("%s iterator produced no batches", name)}
	}
	return total / float64(batchCount), nil
}

func (t *Trainer) saveCheckpoint(epoch int, validLoss float64) error {
	named := t.model.NamedParameters()
	weights := make([]checkpoints.WeightTensor, 0, len(named))
	for _, np := range named {
		data, err := np.Tensor.GetFloat32Data()
		if err != nil {
			return &CheckpointError{Path: t.params.SaveModel, Err: err}
		}
		weights = append(weights, checkpoints.WeightTensor{
			Name:  np.Name,
			Shape: append([]int{}, np.Tensor.Shape...),
			Data:  append([]float32{}, data...),
		})
	}

	optState, err := t.optimizer.GetState()
	if err != nil {
		return &CheckpointError{Path: t.params.SaveModel, Err: err}
	}

	ckpt := &checkpoints.Checkpoint{
		Weights:        weights,
		OptimizerState: optState,
		TrainingState: checkpoints.TrainingState{
			Epoch:         epoch + 1,
			Step:          t.optimizer.GetStepCount(),
			BestLoss:      validLoss,
			Seed:          t.params.Seed,
			Deterministic: t.params.Deterministic,
		},
	}

	saver := checkpoints.NewSaver(checkpoints.FormatForPath(t.params.SaveModel))
	if err := saver.Save(ckpt, t.params.SaveModel); err != nil {
		return &CheckpointError{Path: t.params.SaveModel, Err: err}
	}
	return nil
}

func (t *Trainer) loadCheckpoint() error {
	saver := checkpoints.NewSaver(checkpoints.FormatForPath(t.params.SaveModel))
	ckpt, err := saver.Load(t.params.SaveModel)
	if err != nil {
		return &CheckpointError{Path: t.params.SaveModel, Err: err}
	}

	byName := make(map[string]*tensor.Tensor)
	for _, np := range t.model.NamedParameters() {
		byName[np.Name] = np.Tensor
	}
	for _, w := range ckpt.Weights {
		param, ok := byName[w.Name]
		if !ok {
			return &CheckpointError{Path: t.params.SaveModel,
				Err: fmt.Errorf("checkpoint weight %s has no matching model parameter", w.Name)}
		}
		if len(w.Data) != param.NumElems {
			return &ShapeError{Tensor: w.Name, Expected: param.Shape, Actual: w.Shape}
		}
		data, err := param.GetFloat32Data()
		if err != nil {
			return &CheckpointError{Path: t.params.SaveModel, Err: err}
		}
		copy(data, w.Data)
	}

	if ckpt.OptimizerState != nil {
		if err := t.optimizer.LoadState(ckpt.OptimizerState); err != nil {
			return &CheckpointError{Path: t.params.SaveModel, Err: err}
		}
	}
	return nil
}
