package seqnet

import (
	"math"

	"github.com/gorgonia/seqdecoder/hparams"
)

// Config configures the decoder network
type Config struct {
	HiddenSize int // input feature width and decoder width
	VocabSize  int
	Length     int // decoded sequence length

	BatchSize int // rows of the training graph

	LearnRate      float64
	Optimizer      string
	StartDecayStep int
	DecaySteps     int
	DecayFactor    float64
	L2             float64 // L2 regularization
	Clip           float64 // maximum global norm of the gradients. 0 disables clipping
}

// ConfFromParams maps run hyperparameters onto the network configuration.
func ConfFromParams(p hparams.Params) Config {
	return Config{
		HiddenSize: p.HiddenSize,
		VocabSize:  p.VocabSize,
		Length:     p.Length,
		BatchSize:  p.BatchSize,

		LearnRate:      p.LR,
		Optimizer:      p.Optimizer,
		StartDecayStep: p.StartDecayStep,
		DecaySteps:     p.DecaySteps,
		DecayFactor:    p.DecayFactor,
		L2:             p.WeightDecay,
		Clip:           p.MaxGradNorm,
	}
}

func (conf Config) IsValid() bool {
	return conf.HiddenSize >= 1 &&
		conf.VocabSize >= 1 &&
		conf.Length >= 1 &&
		conf.BatchSize >= 1 &&
		conf.LearnRate > 0 &&
		conf.DecaySteps >= 1
}

// Rate is the learning rate at the given global step. The rate is constant
// until StartDecayStep and then decays by DecayFactor every DecaySteps steps.
func (conf Config) Rate(step int) float64 {
	if step < conf.StartDecayStep {
		return conf.LearnRate
	}
	k := (step - conf.StartDecayStep) / conf.DecaySteps
	return conf.LearnRate * math.Pow(conf.DecayFactor, float64(k))
}
