package checkpoints

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/tsawler/go-multitask/optimizer"
)

// Binary checkpoints use the protobuf wire format so they stay readable
// by any protobuf toolchain. Field numbers are fixed; unknown fields are
// skipped on read so older builds can open newer checkpoints.
//
//	Checkpoint:     1=weights (repeated)  2=training_state  3=optimizer_state  4=metadata
//	WeightTensor:   1=name  2=shape (packed varint)  3=data (packed fixed32)
//	TrainingState:  1=epoch  2=step  3=best_loss (double)  4=seed  5=deterministic
//	OptimizerState: 1=type  2=parameters (repeated entry)  3=state_data (repeated)
//	ParamEntry:     1=key  2=value (double)
//	StateTensor:    1=name  2=shape (packed varint)  3=data (packed fixed32)  4=state_type
//	Metadata:       1=version  2=framework  3=created_at (unix nanos)  4=description
const (
	fieldCkptWeights        = 1
	fieldCkptTrainingState  = 2
	fieldCkptOptimizerState = 3
	fieldCkptMetadata       = 4

	fieldTensorName      = 1
	fieldTensorShape     = 2
	fieldTensorData      = 3
	fieldTensorStateType = 4

	fieldStateEpoch         = 1
	fieldStateStep          = 2
	fieldStateBestLoss      = 3
	fieldStateSeed          = 4
	fieldStateDeterministic = 5

	fieldOptType       = 1
	fieldOptParameters = 2
	fieldOptStateData  = 3

	fieldParamKey   = 1
	fieldParamValue = 2

	fieldMetaVersion     = 1
	fieldMetaFramework   = 2
	fieldMetaCreatedAt   = 3
	fieldMetaDescription = 4
)

func encodeCheckpoint(ckpt *Checkpoint) ([]byte, error) {
	var buf []byte
	for i := range ckpt.Weights {
		sub := encodeWeightTensor(ckpt.Weights[i].Name, ckpt.Weights[i].Shape, ckpt.Weights[i].Data, "")
		buf = protowire.AppendTag(buf, fieldCkptWeights, protowire.BytesType)
		buf = protowire.AppendBytes(buf, sub)
	}

	buf = protowire.AppendTag(buf, fieldCkptTrainingState, protowire.BytesType)
	buf = protowire.AppendBytes(buf, encodeTrainingState(&ckpt.TrainingState))

	if ckpt.OptimizerState != nil {
		buf = protowire.AppendTag(buf, fieldCkptOptimizerState, protowire.BytesType)
		buf = protowire.AppendBytes(buf, encodeOptimizerState(ckpt.OptimizerState))
	}

	buf = protowire.AppendTag(buf, fieldCkptMetadata, protowire.BytesType)
	buf = protowire.AppendBytes(buf, encodeMetadata(&ckpt.Metadata))

	return buf, nil
}

func decodeCheckpoint(buf []byte) (*Checkpoint, error) {
	ckpt := &Checkpoint{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		buf = buf[n:]

		switch num {
		case fieldCkptWeights:
			sub, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			buf = buf[n:]
			name, shape, data, _, err := decodeTensor(sub)
			if err != nil {
				return nil, fmt.Errorf("weight tensor: %v", err)
			}
			ckpt.Weights = append(ckpt.Weights, WeightTensor{Name: name, Shape: shape, Data: data})

		case fieldCkptTrainingState:
			sub, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			buf = buf[n:]
			state, err := decodeTrainingState(sub)
			if err != nil {
				return nil, fmt.Errorf("training state: %v", err)
			}
			ckpt.TrainingState = *state

		case fieldCkptOptimizerState:
			sub, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			buf = buf[n:]
			state, err := decodeOptimizerState(sub)
			if err != nil {
				return nil, fmt.Errorf("optimizer state: %v", err)
			}
			ckpt.OptimizerState = state

		case fieldCkptMetadata:
			sub, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			buf = buf[n:]
			meta, err := decodeMetadata(sub)
			if err != nil {
				return nil, fmt.Errorf("metadata: %v", err)
			}
			ckpt.Metadata = *meta

		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			buf = buf[n:]
		}
	}
	return ckpt, nil
}

func encodeWeightTensor(name string, shape []int, data []float32, stateType string) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldTensorName, protowire.BytesType)
	buf = protowire.AppendString(buf, name)

	buf = protowire.AppendTag(buf, fieldTensorShape, protowire.BytesType)
	buf = protowire.AppendBytes(buf, appendPackedVarints(nil, shape))

	buf = protowire.AppendTag(buf, fieldTensorData, protowire.BytesType)
	buf = protowire.AppendBytes(buf, appendPackedFixed32(nil, data))

	if stateType != "" {
		buf = protowire.AppendTag(buf, fieldTensorStateType, protowire.BytesType)
		buf = protowire.AppendString(buf, stateType)
	}
	return buf
}

func decodeTensor(buf []byte) (name string, shape []int, data []float32, stateType string, err error) {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return "", nil, nil, "", protowire.ParseError(n)
		}
		buf = buf[n:]

		switch num {
		case fieldTensorName:
			v, n := protowire.ConsumeString(buf)
			if n < 0 {
				return "", nil, nil, "", protowire.ParseError(n)
			}
			buf = buf[n:]
			name = v
		case fieldTensorShape:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return "", nil, nil, "", protowire.ParseError(n)
			}
			buf = buf[n:]
			shape, err = consumePackedVarints(v)
			if err != nil {
				return "", nil, nil, "", err
			}
		case fieldTensorData:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return "", nil, nil, "", protowire.ParseError(n)
			}
			buf = buf[n:]
			data, err = consumePackedFixed32(v)
			if err != nil {
				return "", nil, nil, "", err
			}
		case fieldTensorStateType:
			v, n := protowire.ConsumeString(buf)
			if n < 0 {
				return "", nil, nil, "", protowire.ParseError(n)
			}
			buf = buf[n:]
			stateType = v
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return "", nil, nil, "", protowire.ParseError(n)
			}
			buf = buf[n:]
		}
	}
	return name, shape, data, stateType, nil
}

func encodeTrainingState(ts *TrainingState) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldStateEpoch, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(ts.Epoch))
	buf = protowire.AppendTag(buf, fieldStateStep, protowire.VarintType)
	buf = protowire.AppendVarint(buf, ts.Step)
	buf = protowire.AppendTag(buf, fieldStateBestLoss, protowire.Fixed64Type)
	buf = protowire.AppendFixed64(buf, math.Float64bits(ts.BestLoss))
	buf = protowire.AppendTag(buf, fieldStateSeed, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(ts.Seed))
	if ts.Deterministic {
		buf = protowire.AppendTag(buf, fieldStateDeterministic, protowire.VarintType)
		buf = protowire.AppendVarint(buf, 1)
	}
	return buf
}

func decodeTrainingState(buf []byte) (*TrainingState, error) {
	ts := &TrainingState{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		buf = buf[n:]

		switch num {
		case fieldStateEpoch:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			buf = buf[n:]
			ts.Epoch = int(v)
		case fieldStateStep:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			buf = buf[n:]
			ts.Step = v
		case fieldStateBestLoss:
			v, n := protowire.ConsumeFixed64(buf)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			buf = buf[n:]
			ts.BestLoss = math.Float64frombits(v)
		case fieldStateSeed:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			buf = buf[n:]
			ts.Seed = int64(v)
		case fieldStateDeterministic:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			buf = buf[n:]
			ts.Deterministic = v != 0
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			buf = buf[n:]
		}
	}
	return ts, nil
}

func encodeOptimizerState(state *optimizer.State) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldOptType, protowire.BytesType)
	buf = protowire.AppendString(buf, state.Type)

	for key, value := range state.Parameters {
		var entry []byte
		entry = protowire.AppendTag(entry, fieldParamKey, protowire.BytesType)
		entry = protowire.AppendString(entry, key)
		entry = protowire.AppendTag(entry, fieldParamValue, protowire.Fixed64Type)
		entry = protowire.AppendFixed64(entry, math.Float64bits(value))

		buf = protowire.AppendTag(buf, fieldOptParameters, protowire.BytesType)
		buf = protowire.AppendBytes(buf, entry)
	}

	for i := range state.StateData {
		st := &state.StateData[i]
		sub := encodeWeightTensor(st.Name, st.Shape, st.Data, st.StateType)
		buf = protowire.AppendTag(buf, fieldOptStateData, protowire.BytesType)
		buf = protowire.AppendBytes(buf, sub)
	}
	return buf
}

func decodeOptimizerState(buf []byte) (*optimizer.State, error) {
	state := &optimizer.State{Parameters: make(map[string]float64)}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		buf = buf[n:]

		switch num {
		case fieldOptType:
			v, n := protowire.ConsumeString(buf)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			buf = buf[n:]
			state.Type = v
		case fieldOptParameters:
			sub, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			buf = buf[n:]
			key, value, err := decodeParamEntry(sub)
			if err != nil {
				return nil, err
			}
			state.Parameters[key] = value
		case fieldOptStateData:
			sub, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			buf = buf[n:]
			name, shape, data, stateType, err := decodeTensor(sub)
			if err != nil {
				return nil, fmt.Errorf("state tensor: %v", err)
			}
			state.StateData = append(state.StateData, optimizer.StateTensor{
				Name:      name,
				Shape:     shape,
				Data:      data,
				StateType: stateType,
			})
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			buf = buf[n:]
		}
	}
	return state, nil
}

func decodeParamEntry(buf []byte) (string, float64, error) {
	var key string
	var value float64
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return "", 0, protowire.ParseError(n)
		}
		buf = buf[n:]

		switch num {
		case fieldParamKey:
			v, n := protowire.ConsumeString(buf)
			if n < 0 {
				return "", 0, protowire.ParseError(n)
			}
			buf = buf[n:]
			key = v
		case fieldParamValue:
			v, n := protowire.ConsumeFixed64(buf)
			if n < 0 {
				return "", 0, protowire.ParseError(n)
			}
			buf = buf[n:]
			value = math.Float64frombits(v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return "", 0, protowire.ParseError(n)
			}
			buf = buf[n:]
		}
	}
	return key, value, nil
}

func encodeMetadata(meta *Metadata) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldMetaVersion, protowire.BytesType)
	buf = protowire.AppendString(buf, meta.Version)
	buf = protowire.AppendTag(buf, fieldMetaFramework, protowire.BytesType)
	buf = protowire.AppendString(buf, meta.Framework)
	buf = protowire.AppendTag(buf, fieldMetaCreatedAt, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(meta.CreatedAt.UnixNano()))
	if meta.Description != "" {
		buf = protowire.AppendTag(buf, fieldMetaDescription, protowire.BytesType)
		buf = protowire.AppendString(buf, meta.Description)
	}
	return buf
}

func decodeMetadata(buf []byte) (*Metadata, error) {
	meta := &Metadata{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		buf = buf[n:]

		switch num {
		case fieldMetaVersion:
			v, n := protowire.ConsumeString(buf)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			buf = buf[n:]
			meta.Version = v
		case fieldMetaFramework:
			v, n := protowire.ConsumeString(buf)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			buf = buf[n:]
			meta.Framework = v
		case fieldMetaCreatedAt:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			buf = buf[n:]
			meta.CreatedAt = time.Unix(0, int64(v))
		case fieldMetaDescription:
			v, n := protowire.ConsumeString(buf)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			buf = buf[n:]
			meta.Description = v
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			buf = buf[n:]
		}
	}
	return meta, nil
}

func appendPackedVarints(buf []byte, vals []int) []byte {
	for _, v := range vals {
		buf = protowire.AppendVarint(buf, uint64(v))
	}
	return buf
}

func consumePackedVarints(buf []byte) ([]int, error) {
	var vals []int
	for len(buf) > 0 {
		v, n := protowire.ConsumeVarint(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		buf = buf[n:]
		vals = append(vals, int(v))
	}
	return vals, nil
}

func appendPackedFixed32(buf []byte, vals []float32) []byte {
	for _, v := range vals {
		buf = protowire.AppendFixed32(buf, math.Float32bits(v))
	}
	return buf
}

func consumePackedFixed32(buf []byte) ([]float32, error) {
	vals := make([]float32, 0, len(buf)/4)
	for len(buf) > 0 {
		v, n := protowire.ConsumeFixed32(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		buf = buf[n:]
		vals = append(vals, math.Float32frombits(v))
	}
	return vals, nil
}
