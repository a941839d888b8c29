package gomlx

import (
	"bytes"
	"encoding/gob"

	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// encodedModel is the gob-friendly serialization of a subset of the model variables.
type encodedModel struct {
	StateDim, NumMoves int
	Variables          []encodedVariable
}

// encodedVariable holds the value of one variable: only one of Float32 or Int64 is set.
type encodedVariable struct {
	Scope, Name string
	Trainable   bool
	Dimensions  []int
	Float32     []float32
	Int64       []int64
}

// MarshalParameters implements ai.Learner: it serializes the trainable variables.
func (m *FNN) MarshalParameters() ([]byte, error) {
	return m.marshalVariables(true)
}

// MarshalOptimizer implements ai.Learner: it serializes the non-trainable variables, which include
// the optimizer moments and the global step.
func (m *FNN) MarshalOptimizer() ([]byte, error) {
	return m.marshalVariables(false)
}

// UnmarshalParameters implements ai.Learner. It fails if the serialized model has different dimensions.
func (m *FNN) UnmarshalParameters(data []byte) error {
	return m.unmarshalVariables(data, true)
}

// UnmarshalOptimizer implements ai.Learner.
func (m *FNN) UnmarshalOptimizer(data []byte) error {
	return m.unmarshalVariables(data, false)
}

func (m *FNN) marshalVariables(trainable bool) ([]byte, error) {
	m.muLearning.RLock()
	defer m.muLearning.RUnlock()
	encoded := encodedModel{StateDim: m.stateDim, NumMoves: m.numMoves}
	var err error
	m.ctx.EnumerateVariables(func(v *context.Variable) {
		if err != nil || v.Trainable != trainable {
			return
		}
		value := v.Value()
		ev := encodedVariable{
			Scope:      v.Scope(),
			Name:       v.Name(),
			Trainable:  v.Trainable,
			Dimensions: value.Shape().Dimensions,
		}
		switch value.DType() {
		case dtypes.Float32:
			ev.Float32 = tensors.CopyFlatData[float32](value)
		case dtypes.Int64:
			ev.Int64 = tensors.CopyFlatData[int64](value)
		default:
			err = errors.Errorf("variable %s/%s has unsupported dtype %s", v.Scope(), v.Name(), value.DType())
			return
		}
		encoded.Variables = append(encoded.Variables, ev)
	})
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err = gob.NewEncoder(&buf).Encode(&encoded); err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s variables", m)
	}
	return buf.Bytes(), nil
}

func (m *FNN) unmarshalVariables(data []byte, trainable bool) error {
	var encoded encodedModel
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&encoded); err != nil {
		return errors.Wrapf(err, "failed to decode %s variables", m)
	}
	if encoded.StateDim != m.stateDim || encoded.NumMoves != m.numMoves {
		return errors.Errorf("%s variables are for state=%d/moves=%d, but model is state=%d/moves=%d",
			m, encoded.StateDim, encoded.NumMoves, m.stateDim, m.numMoves)
	}

	// Build all tensors before changing anything, so a malformed input leaves the model untouched.
	values := make([]*tensors.Tensor, len(encoded.Variables))
	for ii, ev := range encoded.Variables {
		if ev.Trainable != trainable {
			return errors.Errorf("variable %s/%s has trainable=%v, expected %v", ev.Scope, ev.Name, ev.Trainable, trainable)
		}
		size := 1
		for _, dim := range ev.Dimensions {
			size *= dim
		}
		switch {
		case ev.Float32 != nil && len(ev.Float32) == size:
			values[ii] = tensors.FromFlatDataAndDimensions(ev.Float32, ev.Dimensions...)
		case ev.Int64 != nil && len(ev.Int64) == size:
			values[ii] = tensors.FromFlatDataAndDimensions(ev.Int64, ev.Dimensions...)
		default:
			return errors.Errorf("variable %s/%s has inconsistent shape %v", ev.Scope, ev.Name, ev.Dimensions)
		}
		if v := m.ctx.GetVariableByScopeAndName(ev.Scope, ev.Name); v != nil && !v.Shape().Equal(values[ii].Shape()) {
			return errors.Errorf("variable %s/%s is shaped %s, but model expects %s",
				ev.Scope, ev.Name, values[ii].Shape(), v.Shape())
		}
	}

	m.muLearning.Lock()
	defer m.muLearning.Unlock()
	for ii, ev := range encoded.Variables {
		if v := m.ctx.GetVariableByScopeAndName(ev.Scope, ev.Name); v != nil {
			v.SetValue(values[ii])
			continue
		}
		m.ctx.InAbsPath(ev.Scope).VariableWithValue(ev.Name, values[ii]).SetTrainable(ev.Trainable)
	}
	return nil
}
