package seqdecoder

import (
	"encoding/csv"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gorgonia.org/vecf32"
)

// MetricsFileName is the evaluation history written into the model directory.
const MetricsFileName = "metrics.csv"

// Statistics is the per-cycle history of a run.
type Statistics struct {
	Cycles    []int
	Steps     []int
	TrainLoss []float32 // mean training loss of the cycle. 0 for evaluation only runs
	EvalLoss  []float32

	dumped int // rows already appended to the metrics file
}

func makeStatistics() Statistics {
	return Statistics{
		Cycles:    make([]int, 0, 64),
		Steps:     make([]int, 0, 64),
		TrainLoss: make([]float32, 0, 64),
		EvalLoss:  make([]float32, 0, 64),
	}
}

func (s *Statistics) update(cycle, step int, trainLoss, evalLoss float32) {
	s.Cycles = append(s.Cycles, cycle)
	s.Steps = append(s.Steps, step)
	s.TrainLoss = append(s.TrainLoss, trainLoss)
	s.EvalLoss = append(s.EvalLoss, evalLoss)
}

// Len is the number of recorded cycles.
func (s *Statistics) Len() int { return len(s.Cycles) }

// Best returns the cycle with the lowest evaluation loss. ok is false when
// nothing has been recorded.
func (s *Statistics) Best() (cycle int, loss float32, ok bool) {
	if len(s.EvalLoss) == 0 {
		return 0, 0, false
	}
	i := vecf32.Argmin(s.EvalLoss)
	return s.Cycles[i], s.EvalLoss[i], true
}

// Dump appends the rows recorded since the last Dump to filename as CSV. The
// header is written when the file is created, so the history of earlier runs
// over the same model directory is kept.
func (s *Statistics) Dump(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return errors.WithStack(err)
	}
	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write([]string{"cycle", "step", "train_loss", "eval_loss"}); err != nil {
			return errors.WithStack(err)
		}
	}
	records := make([][]string, 0, len(s.Cycles)-s.dumped)
	for i := s.dumped; i < len(s.Cycles); i++ {
		records = append(records, []string{
			strconv.Itoa(s.Cycles[i]),
			strconv.Itoa(s.Steps[i]),
			strconv.FormatFloat(float64(s.TrainLoss[i]), 'f', 6, 32),
			strconv.FormatFloat(float64(s.EvalLoss[i]), 'f', 6, 32),
		})
	}
	if err := w.WriteAll(records); err != nil {
		return errors.WithStack(err)
	}
	if err := f.Close(); err != nil {
		return errors.WithStack(err)
	}
	s.dumped = len(s.Cycles)
	return nil
}
