package corpus

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrShortRecord is the cause of a MalformedRecordError for a line with fewer
// values than the configured width. Short lines are a precondition violation:
// the corpus is expected to be padded upstream.
var ErrShortRecord = errors.New("record shorter than the configured width")

// MalformedRecordError is returned when a line cannot be parsed into a record.
type MalformedRecordError struct {
	Split string // split name, or the file name for inference inputs
	Line  int    // 1-based line number
	Err   error
}

func (err *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record in %s at line %d: %v", err.Split, err.Line, err.Err)
}

func (err *MalformedRecordError) Cause() error  { return err.Err }
func (err *MalformedRecordError) Unwrap() error { return err.Err }

// ShapeMismatchError is returned when the input and target files of a split do
// not have the same number of lines.
type ShapeMismatchError struct {
	Split       string
	InputLines  int
	TargetLines int
}

func (err *ShapeMismatchError) Error() string {
	return fmt.Sprintf("corpus %s has %d input lines but %d target lines", err.Split, err.InputLines, err.TargetLines)
}
