package training

import (
	"math/rand"

	"github.com/tsawler/go-multitask/model"
)

// Global random source for shuffling. Seeded once by SetRandomSeed.
var globalRng = rand.New(rand.NewSource(1))

// SetRandomSeed seeds every random source the training stack uses: batch
// shuffling here and weight initialization / dropout in the model package.
// Call it once at process start before constructing a Trainer.
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
	model.SetRandomSeed(seed)
}

// Params is the immutable configuration record for one training run. It
// is validated once before Trainer construction and never mutated after.
type Params struct {
	Device    string  // compute device name, currently only "cpu"
	HiddenDim int     // trunk width; also keys the warm-up schedule
	WarmSteps int     // warm-up length of the learning-rate schedule
	Clip      float64 // maximum global gradient norm per step
	NumEpoch  int     // fixed epoch count for training mode
	SaveModel string  // checkpoint path, written on best validation loss

	// BrandFromPrice feeds the price sequence into the model's brand
	// input, reproducing the behavior of the system this replaces. Set
	// false to feed the batch's own brand_sequential field instead.
	BrandFromPrice bool

	Seed          int64 // recorded in checkpoints for reproducibility
	Deterministic bool

	// reference model dimensions
	EmbedDim      int
	Dropout       float64
	CamVocab      int
	CateVocab     int
	BrandVocab    int
	PriceVocab    int
	SegmentVocab  int
	NumCMS        int
	NumGender     int
	NumAge        int
	NumPValue     int
	NumShopping   int
	NumConversion int
}

// Validate checks that every consumed field is present and sane
func (p Params) Validate() error {
	if p.Device == "" {
		return &ConfigError{Field: "Device", Reason: "must be set"}
	}
	if p.HiddenDim <= 0 {
		return &ConfigError{Field: "HiddenDim", Reason: "must be positive"}
	}
	if p.WarmSteps <= 0 {
		return &ConfigError{Field: "WarmSteps", Reason: "must be positive"}
	}
	if p.Clip <= 0 {
		return &ConfigError{Field: "Clip", Reason: "must be positive"}
	}
	if p.NumEpoch <= 0 {
		return &ConfigError{Field: "NumEpoch", Reason: "must be positive"}
	}
	if p.SaveModel == "" {
		return &ConfigError{Field: "SaveModel", Reason: "must be set"}
	}
	if p.EmbedDim <= 0 {
		return &ConfigError{Field: "EmbedDim", Reason: "must be positive"}
	}
	for field, v := range map[string]int{
		"CamVocab": p.CamVocab, "CateVocab": p.CateVocab,
		"BrandVocab": p.BrandVocab, "PriceVocab": p.PriceVocab,
		"SegmentVocab": p.SegmentVocab,
		"NumCMS":       p.NumCMS, "NumGender": p.NumGender, "NumAge": p.NumAge,
		"NumPValue": p.NumPValue, "NumShopping": p.NumShopping,
		"NumConversion": p.NumConversion,
	} {
		if v <= 0 {
			return &ConfigError{Field: field, Reason: "must be positive"}
		}
	}
	return nil
}

func (p Params) modelConfig() model.Config {
	return model.Config{
		EmbedDim:      p.EmbedDim,
		HiddenDim:     p.HiddenDim,
		Dropout:       p.Dropout,
		CamVocab:      p.CamVocab,
		CateVocab:     p.CateVocab,
		BrandVocab:    p.BrandVocab,
		PriceVocab:    p.PriceVocab,
		SegmentVocab:  p.SegmentVocab,
		NumCMS:        p.NumCMS,
		NumGender:     p.NumGender,
		NumAge:        p.NumAge,
		NumPValue:     p.NumPValue,
		NumShopping:   p.NumShopping,
		NumConversion: p.NumConversion,
	}
}
