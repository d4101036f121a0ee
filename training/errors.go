package training

import (
	"fmt"
)

// The error taxonomy below covers every unrecoverable condition the
// training loop can detect. All of them abort the current run; none are
// retried. Callers can match them with errors.As through any wrapping.

// ConfigError reports a missing or invalid configuration field
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: field %s: %s", e.Field, e.Reason)
}

// DataError reports an empty iterator or a malformed batch record
type DataError struct {
	Reason string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data error: %s", e.Reason)
}

// ShapeError reports a tensor shape mismatch between prediction and label
type ShapeError struct {
	Tensor   string
	Expected []int
	Actual   []int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("shape error: tensor %s: expected shape %v, got %v", e.Tensor, e.Expected, e.Actual)
}

// DeviceError reports a tensor or parameter placement mismatch
type DeviceError struct {
	Reason string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device error: %s", e.Reason)
}

// CheckpointError reports an unreadable or unwritable checkpoint path
type CheckpointError struct {
	Path string
	Err  error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint error: %s: %v", e.Path, e.Err)
}

func (e *CheckpointError) Unwrap() error {
	return e.Err
}
