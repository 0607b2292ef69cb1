package corpus

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// SOS and EOS share the same id. No distinct end marker is emitted downstream.
const (
	SOS = 0
	EOS = 0
)

// Record is one parsed example.
type Record struct {
	Line    int       // 1-based line in the source files
	Input   []float32 // exactly hidden_size values
	Target  []int     // exactly length tokens. nil for inference records
	Shifted []int     // [SOS] + Target[:len-1]. nil for inference records
}

// ParseInput parses a whitespace separated line of floats, keeping the first
// width values.
func ParseInput(s string, width int) ([]float32, error) {
	fields := strings.Fields(s)
	if len(fields) < width {
		return nil, errors.Wrapf(ErrShortRecord, "input has %d values, want %d", len(fields), width)
	}
	retVal := make([]float32, width)
	for i := range retVal {
		f, err := strconv.ParseFloat(fields[i], 32)
		if err != nil {
			return nil, errors.Wrapf(err, "input value %d", i)
		}
		retVal[i] = float32(f)
	}
	return retVal, nil
}

// ParseTarget parses a whitespace separated line of token ids, keeping the
// first length tokens.
func ParseTarget(s string, length int) ([]int, error) {
	fields := strings.Fields(s)
	if len(fields) < length {
		return nil, errors.Wrapf(ErrShortRecord, "target has %d tokens, want %d", len(fields), length)
	}
	retVal := make([]int, length)
	for i := range retVal {
		tok, err := strconv.Atoi(fields[i])
		if err != nil {
			return nil, errors.Wrapf(err, "target token %d", i)
		}
		if tok < 0 {
			return nil, errors.Errorf("target token %d is negative (%d)", i, tok)
		}
		retVal[i] = tok
	}
	return retVal, nil
}

// Shift returns the teacher forcing input for target: the start token followed
// by every target token but the last.
func Shift(target []int) []int {
	if len(target) == 0 {
		return nil
	}
	retVal := make([]int, len(target))
	retVal[0] = SOS
	copy(retVal[1:], target[:len(target)-1])
	return retVal
}

// ParseRecord parses one line pair of the named split.
func ParseRecord(split string, line int, input, target string, hiddenSize, length int) (Record, error) {
	in, err := ParseInput(input, hiddenSize)
	if err != nil {
		return Record{}, &MalformedRecordError{Split: split, Line: line, Err: err}
	}
	tgt, err := ParseTarget(target, length)
	if err != nil {
		return Record{}, &MalformedRecordError{Split: split, Line: line, Err: err}
	}
	return Record{
		Line:    line,
		Input:   in,
		Target:  tgt,
		Shifted: Shift(tgt),
	}, nil
}
