package hparams

import "github.com/pkg/errors"

// Params is the flat set of hyperparameters shared by every mode of a run.
// The JSON names are the keys written to hparams.json.
type Params struct {
	HiddenSize  int     `json:"hidden_size"` // input feature width, also the decoder width
	B           int     `json:"B"`           // branch width; determines Length
	WeightDecay float64 `json:"weight_decay"`
	VocabSize   int     `json:"vocab_size"`

	TrainEpochs   int `json:"train_epochs"`
	EvalFrequency int `json:"eval_frequency"` // epochs per training cycle
	BatchSize     int `json:"batch_size"`

	LR             float64 `json:"lr"`
	Optimizer      string  `json:"optimizer"`
	StartDecayStep int     `json:"start_decay_step"`
	DecaySteps     int     `json:"decay_steps"`
	DecayFactor    float64 `json:"decay_factor"`
	MaxGradNorm    float64 `json:"max_gradient_norm"`
	TimeMajor      bool    `json:"time_major"`

	DataDir  string `json:"data_dir"`
	ModelDir string `json:"model_dir"`

	TrainSamples    int   `json:"train_samples"` // shuffle buffer bound for the train split
	TestSamples     int   `json:"test_samples"`  // evaluation batch size
	LogEveryN       int   `json:"log_every_n"`
	CheckpointEvery int   `json:"checkpoint_every"` // in cycles. 0 checkpoints only at the end of a run
	Seed            int64 `json:"seed"`

	Length int `json:"length"` // derived, see Derive
}

// Defaults returns the hyperparameters of the reference configuration.
func Defaults() Params {
	return Params{
		HiddenSize:  32,
		B:           5,
		WeightDecay: 1e-4,
		VocabSize:   26,

		TrainEpochs:   1000,
		EvalFrequency: 10,
		BatchSize:     128,

		LR:             1.0,
		Optimizer:      "adam",
		StartDecayStep: 100,
		DecaySteps:     1000,
		DecayFactor:    0.9,
		MaxGradNorm:    5.0,

		DataDir:  "data",
		ModelDir: "model",

		TrainSamples:    500,
		TestSamples:     100,
		LogEveryN:       100,
		CheckpointEvery: 1,

		Length: SequenceLength(5),
	}
}

// SequenceLength is the target length for a branch width of b.
func SequenceLength(b int) int { return 4 * b * 2 }

// Derive returns p with its computed fields filled in.
func (p Params) Derive() Params {
	p.Length = SequenceLength(p.B)
	return p
}

// Cycles is the number of train/evaluate cycles a training run performs.
func (p Params) Cycles() int {
	if p.EvalFrequency < 1 {
		return 0
	}
	return p.TrainEpochs / p.EvalFrequency
}

// Optimizers lists the accepted values of the optimizer field.
var Optimizers = []string{"adam", "sgd", "momentum", "rmsprop", "adagrad"}

// Validate checks that p can drive a run.
func (p Params) Validate() error {
	switch {
	case p.HiddenSize < 1:
		return errors.Errorf("hidden_size must be positive, got %d", p.HiddenSize)
	case p.B < 1:
		return errors.Errorf("B must be positive, got %d", p.B)
	case p.VocabSize < 1:
		return errors.Errorf("vocab_size must be positive, got %d", p.VocabSize)
	case p.BatchSize < 1:
		return errors.Errorf("batch_size must be positive, got %d", p.BatchSize)
	case p.EvalFrequency < 1:
		return errors.Errorf("eval_frequency must be at least 1, got %d", p.EvalFrequency)
	case p.TrainEpochs < 0:
		return errors.Errorf("train_epochs must not be negative, got %d", p.TrainEpochs)
	case p.TrainSamples < 1:
		return errors.Errorf("train_samples must be positive, got %d", p.TrainSamples)
	case p.TestSamples < 1:
		return errors.Errorf("test_samples must be positive, got %d", p.TestSamples)
	case p.CheckpointEvery < 0:
		return errors.Errorf("checkpoint_every must not be negative, got %d", p.CheckpointEvery)
	case p.DecaySteps < 1:
		return errors.Errorf("decay_steps must be positive, got %d", p.DecaySteps)
	case p.Length < 1:
		return errors.Errorf("length must be positive, got %d", p.Length)
	}
	for _, o := range Optimizers {
		if o == p.Optimizer {
			return nil
		}
	}
	return errors.Errorf("unknown optimizer %q", p.Optimizer)
}
