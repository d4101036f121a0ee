package training

import (
	"errors"
	"testing"
)

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Params)
		wantField string
	}{
		{"valid", func(p *Params) {}, ""},
		{"missing device", func(p *Params) { p.Device = "" }, "Device"},
		{"zero hidden dim", func(p *Params) { p.HiddenDim = 0 }, "HiddenDim"},
		{"negative warm steps", func(p *Params) { p.WarmSteps = -1 }, "WarmSteps"},
		{"zero clip", func(p *Params) { p.Clip = 0 }, "Clip"},
		{"zero epochs", func(p *Params) { p.NumEpoch = 0 }, "NumEpoch"},
		{"missing save path", func(p *Params) { p.SaveModel = "" }, "SaveModel"},
		{"zero embed dim", func(p *Params) { p.EmbedDim = 0 }, "EmbedDim"},
		{"zero cam vocab", func(p *Params) { p.CamVocab = 0 }, "CamVocab"},
		{"zero conversion classes", func(p *Params) { p.NumConversion = 0 }, "NumConversion"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := testParams(t)
			tt.mutate(&params)

			err := params.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if cfgErr.Field != tt.wantField {
				t.Errorf("expected error on field %s, got %s", tt.wantField, cfgErr.Field)
			}
		})
	}
}
