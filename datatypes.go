package seqdecoder

import (
	"io"

	"github.com/gorgonia/seqdecoder/corpus"
	"github.com/gorgonia/seqdecoder/hparams"
	"github.com/sirupsen/logrus"
)

// Options configures a run of the Driver.
type Options struct {
	Mode Mode

	// Params is the configuration given on the command line. In train mode it is
	// the fresh configuration; in test and predict modes only its directories
	// and batch size are used and the stored hyperparameters drive the model.
	Params  hparams.Params
	Restore bool // train mode: reconcile with the stored hyperparameters and resume from the checkpoint

	PredictFrom string // predict mode input file
	PredictTo   string // predict mode output file. Defaults to PredictFrom + ".result"

	// extensions
	Logger        logrus.FieldLogger
	OutputEncoder OutputEncoder
}

// Adapter is the decoder model as seen by the driver.
type Adapter interface {
	// Train takes one optimization step and returns the batch loss.
	Train(b *corpus.Batch) (loss float32, err error)
	// Evaluate returns the mean loss of the batch without updating the model.
	Evaluate(b *corpus.Batch) (loss float32, err error)
	Decoder

	Step() int
	LearningRate() float64

	// Save writes a checkpoint into the model directory.
	Save(modelDir string) error
	// Load restores the checkpoint of the model directory. It reports false if
	// there is none.
	Load(modelDir string) (bool, error)

	io.Closer
}

// Decoder decodes one token sequence per example of a batch.
type Decoder interface {
	Decode(b *corpus.Batch) ([][]int, error)
}

// AdapterFactory creates an adapter for the given hyperparameters.
type AdapterFactory func(p hparams.Params) (Adapter, error)

// OutputEncoder encodes the state of a run after every evaluation.
//
// An example OutputEncoder is the GIF progress renderer. Another example would be a logger.
type OutputEncoder interface {
	Encode(rs RunState) error
	Flush() error
}

// RunState is the view of a run given to an OutputEncoder.
type RunState interface {
	Name() string
	State() State
	Cycle() int
	Cycles() int
	Step() int
	History() Statistics
}

// MultiEncoder returns an OutputEncoder that hands every run state to each of
// encs in turn. Every encoder is flushed even if an earlier one fails.
func MultiEncoder(encs ...OutputEncoder) OutputEncoder {
	return multiEncoder(encs)
}

type multiEncoder []OutputEncoder

func (m multiEncoder) Encode(rs RunState) error {
	for _, enc := range m {
		if err := enc.Encode(rs); err != nil {
			return err
		}
	}
	return nil
}

func (m multiEncoder) Flush() error {
	var first error
	for _, enc := range m {
		if err := enc.Flush(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
