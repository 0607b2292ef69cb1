package seqdecoder

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Mode selects what a Driver run does.
type Mode int

const (
	Train Mode = iota
	Test
	Predict
	MAXMODE
)

var modeNames = [...]string{"train", "test", "predict"}

func (m Mode) String() string {
	if m < 0 || m >= MAXMODE {
		return "Mode(" + strconv.Itoa(int(m)) + ")"
	}
	return modeNames[m]
}

// ParseMode parses a mode name as given on the command line.
func ParseMode(s string) (Mode, error) {
	for i, name := range modeNames {
		if strings.EqualFold(s, name) {
			return Mode(i), nil
		}
	}
	return MAXMODE, errors.Errorf("unknown mode %q, want one of %s", s, strings.Join(modeNames[:], ", "))
}

// State is the state of a Driver.
//
//	train:   Idle -> TrainingCycle -> EvaluationCycle -> (TrainingCycle | Done)
//	test:    Idle -> SingleEvaluation -> Done
//	predict: Idle -> BatchPredict -> Done
type State int

const (
	Idle State = iota
	TrainingCycle
	EvaluationCycle
	SingleEvaluation
	BatchPredict
	Done
)

var stateNames = [...]string{"Idle", "TrainingCycle", "EvaluationCycle", "SingleEvaluation", "BatchPredict", "Done"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
	return stateNames[s]
}
