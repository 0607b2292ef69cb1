package seqdecoder

import (
	"fmt"

	"github.com/pkg/errors"
)

// MissingConfigError is returned by test and predict runs when the model
// directory holds no hyperparameters.
type MissingConfigError struct {
	ModelDir string
	Err      error
}

func (err *MissingConfigError) Error() string {
	return fmt.Sprintf("no hyperparameters found in %s, train a model first: %v", err.ModelDir, err.Err)
}

func (err *MissingConfigError) Cause() error  { return err.Err }
func (err *MissingConfigError) Unwrap() error { return err.Err }

// ErrNoCheckpoint is returned by test and predict runs when the model
// directory holds hyperparameters but no trained weights.
var ErrNoCheckpoint = errors.New("no checkpoint found")
