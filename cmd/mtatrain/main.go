package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"

	"github.com/tsawler/go-multitask/tensor"
	"github.com/tsawler/go-multitask/training"
)

func main() {
	mode := flag.String("mode", "train", "run mode: train, evaluate or inference")
	device := flag.String("device", "cpu", "compute device")
	hiddenDim := flag.Int("hidden-dim", 64, "trunk width, also keys the warm-up schedule")
	embedDim := flag.Int("embed-dim", 32, "embedding width per feature")
	warmSteps := flag.Int("warm-steps", 400, "learning-rate warm-up steps")
	clip := flag.Float64("clip", 5.0, "maximum global gradient norm")
	epochs := flag.Int("epochs", 5, "training epochs")
	dropout := flag.Float64("dropout", 0.1, "trunk dropout probability")
	savePath := flag.String("save-model", "model.json", "checkpoint path (.bin or .pb for binary)")
	batchSize := flag.Int("batch-size", 32, "examples per batch")
	examples := flag.Int("examples", 2048, "synthetic training examples to generate")
	seqLen := flag.Int("seq-len", 16, "behavior sequence length")
	seed := flag.Int64("seed", 1, "random seed for data and initialization")
	flag.Parse()

	if err := run(*mode, *device, *hiddenDim, *embedDim, *warmSteps, *clip,
		*epochs, *dropout, *savePath, *batchSize, *examples, *seqLen, *seed); err != nil {
		fmt.Fprintf(os.Stderr, "mtatrain: %v\n", err)
		os.Exit(1)
	}
}

func run(mode, device string, hiddenDim, embedDim, warmSteps int, clip float64,
	epochs int, dropout float64, savePath string, batchSize, examples, seqLen int, seed int64) error {

	training.SetRandomSeed(seed)

	params := training.Params{
		Device:         device,
		HiddenDim:      hiddenDim,
		WarmSteps:      warmSteps,
		Clip:           clip,
		NumEpoch:       epochs,
		SaveModel:      savePath,
		BrandFromPrice: true,
		Seed:           seed,
		EmbedDim:       embedDim,
		Dropout:        dropout,
		CamVocab:       200,
		CateVocab:      100,
		BrandVocab:     150,
		PriceVocab:     50,
		SegmentVocab:   20,
		NumCMS:         13,
		NumGender:      3,
		NumAge:         7,
		NumPValue:      4,
		NumShopping:    4,
		NumConversion:  2,
	}

	rng := rand.New(rand.NewSource(seed))

	var runMode training.Mode
	switch mode {
	case "train":
		runMode = training.ModeTrain
	case "evaluate":
		runMode = training.ModeEvaluate
	case "inference":
		runMode = training.ModeInference
	default:
		return fmt.Errorf("unknown mode %q, want train, evaluate or inference", mode)
	}

	var trainLoader, validLoader, testLoader training.BatchIterator
	var err error
	switch runMode {
	case training.ModeTrain:
		trainLoader, err = loader(rng, examples, seqLen, batchSize, true, params)
		if err != nil {
			return err
		}
		validLoader, err = loader(rng, examples/4, seqLen, batchSize, false, params)
		if err != nil {
			return err
		}
	case training.ModeEvaluate:
		validLoader, err = loader(rng, examples/4, seqLen, batchSize, false, params)
		if err != nil {
			return err
		}
	case training.ModeInference:
		testLoader, err = loader(rng, examples/4, seqLen, batchSize, false, params)
		if err != nil {
			return err
		}
	}

	trainer, err := training.NewTrainer(params, runMode, trainLoader, validLoader, testLoader)
	if err != nil {
		return err
	}

	switch runMode {
	case training.ModeTrain:
		if err := trainer.Train(); err != nil {
			return err
		}
		fmt.Printf("Best validation loss: %.3f (checkpoint at %s)\n", trainer.BestValidLoss(), savePath)
	case training.ModeEvaluate:
		loss, err := trainer.Evaluate()
		if err != nil {
			return err
		}
		fmt.Printf("Validation Loss: %.3f\n", loss)
	case training.ModeInference:
		if _, err := trainer.Inference(); err != nil {
			return err
		}
	}
	return nil
}

func loader(rng *rand.Rand, n, seqLen, batchSize int, shuffle bool, params training.Params) (*training.DataLoader, error) {
	dataset, err := syntheticDataset(rng, n, seqLen, params)
	if err != nil {
		return nil, err
	}
	return training.NewDataLoader(dataset, batchSize, shuffle)
}

// syntheticDataset generates random id sequences and labels inside the
// configured vocabulary and class ranges so every mode can run without
// an external data source.
func syntheticDataset(rng *rand.Rand, n, seqLen int, params training.Params) (training.SliceDataset, error) {
	seq := func(vocab int) (*tensor.Tensor, error) {
		ids := make([]int32, seqLen)
		for i := range ids {
			ids[i] = int32(rng.Intn(vocab))
		}
		return tensor.NewTensor([]int{seqLen}, tensor.Int32, tensor.CPU, ids)
	}
	one := func(classes int) (*tensor.Tensor, error) {
		return tensor.NewTensor([]int{1}, tensor.Int32, tensor.CPU, []int32{int32(rng.Intn(classes))})
	}

	// fixed field order keeps generation deterministic for a given seed
	builders := []struct {
		field string
		build func() (*tensor.Tensor, error)
	}{
		{training.FieldCamSequential, func() (*tensor.Tensor, error) { return seq(params.CamVocab) }},
		{training.FieldCateSequential, func() (*tensor.Tensor, error) { return seq(params.CateVocab) }},
		{training.FieldBrandSequential, func() (*tensor.Tensor, error) { return seq(params.BrandVocab) }},
		{training.FieldPriceSequential, func() (*tensor.Tensor, error) { return seq(params.PriceVocab) }},
		{training.FieldSegment, func() (*tensor.Tensor, error) { return one(params.SegmentVocab) }},
		{training.FieldCMS, func() (*tensor.Tensor, error) { return one(params.NumCMS) }},
		{training.FieldGender, func() (*tensor.Tensor, error) { return one(params.NumGender) }},
		{training.FieldAge, func() (*tensor.Tensor, error) { return one(params.NumAge) }},
		{training.FieldPValue, func() (*tensor.Tensor, error) { return one(params.NumPValue) }},
		{training.FieldShopping, func() (*tensor.Tensor, error) { return one(params.NumShopping) }},
		{training.FieldLabel, func() (*tensor.Tensor, error) { return one(params.NumConversion) }},
	}

	records := make(training.SliceDataset, n)
	for i := range records {
		rec := training.Record{}
		for _, b := range builders {
			t, err := b.build()
			if err != nil {
				return nil, fmt.Errorf("generating %s for example %d: %v", b.field, i, err)
			}
			rec[b.field] = t
		}
		records[i] = rec
	}
	return records, nil
}
