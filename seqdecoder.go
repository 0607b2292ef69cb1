package seqdecoder

import (
	"context"
	"math/rand"
	"path/filepath"

	"github.com/gorgonia/seqdecoder/corpus"
	"github.com/gorgonia/seqdecoder/hparams"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/vecf32"
)

// Driver is the top level structure and the entry point of the API. It runs
// one mode over a model directory: training cycles, a single evaluation, or
// batch prediction.
//
// Only one Driver may write to a model directory at a time. This is not
// enforced.
type Driver struct {
	// state
	state  State
	cycle  int
	model  Adapter
	stats  Statistics
	params hparams.Params // the effective hyperparameters of the run

	examples   int     // training examples consumed
	evalPasses int     // evaluation passes completed
	evalLoss   float32 // loss of the last evaluation pass

	outPath  string
	outLines int

	rng *rand.Rand // train shuffle source, seeded once per run

	// config
	opts     Options
	schedule Schedule
	factory  AdapterFactory

	// io
	log    logrus.FieldLogger
	outEnc OutputEncoder
}

// New creates a Driver. The adapter is created by factory when Run knows the
// effective hyperparameters.
func New(opts Options, factory AdapterFactory) (*Driver, error) {
	if opts.Mode < 0 || opts.Mode >= MAXMODE {
		return nil, errors.Errorf("invalid mode %v", opts.Mode)
	}
	if factory == nil {
		return nil, errors.New("no adapter factory")
	}
	if opts.Mode == Predict && opts.PredictFrom == "" {
		return nil, errors.New("predict mode needs an input file")
	}
	retVal := &Driver{
		opts:    opts,
		factory: factory,
		stats:   makeStatistics(),
		log:     opts.Logger,
		outEnc:  opts.OutputEncoder,
		params:  opts.Params,
	}
	if retVal.log == nil {
		retVal.log = logrus.StandardLogger()
	}
	retVal.log = retVal.log.WithField("mode", opts.Mode.String())
	return retVal, nil
}

// Run runs the configured mode to completion. The context is checked between
// batches; a cancelled run stops at a batch boundary and the last checkpoint
// stays the resume point.
func (d *Driver) Run(ctx context.Context) (err error) {
	if d.state != Idle {
		return errors.Errorf("driver already ran (state %v)", d.state)
	}
	defer func() {
		if d.model == nil {
			return
		}
		if cerr := d.model.Close(); cerr != nil && err == nil {
			err = errors.WithMessage(cerr, "closing model")
		}
	}()

	switch d.opts.Mode {
	case Train:
		err = d.train(ctx)
	case Test:
		err = d.test(ctx)
	case Predict:
		err = d.predict(ctx)
	default:
		err = errors.Errorf("invalid mode %v", d.opts.Mode)
	}
	if err != nil {
		return err
	}
	d.state = Done
	if d.outEnc != nil {
		return errors.WithMessage(d.outEnc.Flush(), "flushing output")
	}
	return nil
}

func (d *Driver) train(ctx context.Context) error {
	p := d.opts.Params.Derive()
	path := hparams.Path(p.ModelDir)
	if d.opts.Restore {
		raw, err := hparams.RestoreRaw(path)
		switch {
		case err == nil:
			if p, err = hparams.Reconcile(p, raw); err != nil {
				return err
			}
			d.log.WithField("path", path).Info("restored hyperparameters")
		case errors.Is(err, hparams.ErrConfigNotFound):
			d.log.WithField("path", path).Warn("no hyperparameters to restore, starting fresh")
		default:
			return err
		}
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if err := hparams.Persist(path, p); err != nil {
		return err
	}
	d.params = p
	d.schedule = ScheduleFor(p)
	d.rng = corpus.NewRand(p.Seed)

	var err error
	if d.model, err = d.factory(p); err != nil {
		return errors.WithMessage(err, "creating model")
	}
	if d.opts.Restore {
		found, err := d.model.Load(p.ModelDir)
		if err != nil {
			return errors.WithMessage(err, "restoring checkpoint")
		}
		if found {
			d.log.WithField("step", d.model.Step()).Info("resuming from checkpoint")
		} else {
			d.log.WithField("model_dir", p.ModelDir).Warn("no checkpoint to restore, training from scratch")
		}
	}

	d.log.WithFields(logrus.Fields{
		"cycles":         d.schedule.Cycles,
		"eval_frequency": p.EvalFrequency,
		"checkpoints":    d.schedule.Checkpoints(),
	}).Info("training")

	for d.cycle = 0; d.cycle < d.schedule.Cycles; d.cycle++ {
		d.state = TrainingCycle
		trainLoss, err := d.trainCycle(ctx)
		if err != nil {
			return errors.WithMessagef(err, "cycle %d", d.cycle)
		}
		if d.schedule.Checkpoint(d.cycle) {
			if err = d.model.Save(p.ModelDir); err != nil {
				return errors.WithMessagef(err, "checkpointing cycle %d", d.cycle)
			}
			d.log.WithFields(logrus.Fields{"cycle": d.cycle, "step": d.model.Step()}).Info("checkpoint saved")
		}

		d.state = EvaluationCycle
		evalLoss, err := d.evaluate(ctx)
		if err != nil {
			return errors.WithMessagef(err, "evaluating cycle %d", d.cycle)
		}
		if err = d.record(trainLoss, evalLoss); err != nil {
			return err
		}
	}
	if best, loss, ok := d.stats.Best(); ok {
		d.log.WithFields(logrus.Fields{"cycle": best, "eval_loss": loss}).Info("best evaluation")
	}
	return nil
}

// trainCycle runs eval_frequency epochs of training and returns the mean batch loss.
func (d *Driver) trainCycle(ctx context.Context) (float32, error) {
	p := d.params
	batches := corpus.Build(corpus.SplitOpener(p.DataDir, corpus.Train), corpus.Train, p, p.EvalFrequency, d.rng)
	defer batches.Close()

	losses := make([]float32, 0, 64)
	for batches.Next() {
		if err := ctx.Err(); err != nil {
			return 0, errors.WithStack(err)
		}
		lr := d.model.LearningRate()
		loss, err := d.model.Train(batches.Batch())
		if err != nil {
			return 0, err
		}
		losses = append(losses, loss)
		if step := d.model.Step(); p.LogEveryN > 0 && step%p.LogEveryN == 0 {
			d.log.WithFields(logrus.Fields{
				"cycle":         d.cycle,
				"step":          step,
				"learning_rate": lr,
				"cross_entropy": loss,
			}).Info("train")
		}
	}
	if err := batches.Err(); err != nil {
		return 0, err
	}
	d.examples += batches.Records()
	if len(losses) == 0 {
		return 0, errors.Errorf("no training examples in %s", p.DataDir)
	}
	return vecf32.Sum(losses) / float32(len(losses)), nil
}

// evaluate runs one pass over the test split and returns the mean loss,
// weighting every batch by its size.
func (d *Driver) evaluate(ctx context.Context) (float32, error) {
	p := d.params
	batches := corpus.Build(corpus.SplitOpener(p.DataDir, corpus.Test), corpus.Test, p, 1, nil)
	defer batches.Close()

	weighted := make([]float32, 0, 8)
	for batches.Next() {
		if err := ctx.Err(); err != nil {
			return 0, errors.WithStack(err)
		}
		b := batches.Batch()
		loss, err := d.model.Evaluate(b)
		if err != nil {
			return 0, err
		}
		weighted = append(weighted, loss*float32(b.Size()))
	}
	if err := batches.Err(); err != nil {
		return 0, err
	}
	n := batches.Records()
	if n == 0 {
		return 0, errors.Errorf("no test examples in %s", p.DataDir)
	}
	d.evalPasses++
	d.evalLoss = vecf32.Sum(weighted) / float32(n)
	d.log.WithFields(logrus.Fields{
		"cycle":     d.cycle,
		"step":      d.model.Step(),
		"examples":  n,
		"eval_loss": d.evalLoss,
	}).Info("evaluation")
	return d.evalLoss, nil
}

// record appends the cycle to the history, dumps it into the model directory
// and hands the run to the output encoder.
func (d *Driver) record(trainLoss, evalLoss float32) error {
	d.stats.update(d.cycle, d.model.Step(), trainLoss, evalLoss)
	if err := d.stats.Dump(filepath.Join(d.params.ModelDir, MetricsFileName)); err != nil {
		return errors.WithMessage(err, "writing metrics")
	}
	if d.outEnc != nil {
		if err := d.outEnc.Encode(d); err != nil {
			return errors.WithMessage(err, "encoding output")
		}
	}
	return nil
}

// restore loads the stored hyperparameters and the checkpoint for test and
// predict runs. Directories and the batch size come from the command line.
func (d *Driver) restore() error {
	dir := d.opts.Params.ModelDir
	p, err := hparams.Restore(hparams.Path(dir))
	if errors.Is(err, hparams.ErrConfigNotFound) {
		return &MissingConfigError{ModelDir: dir, Err: err}
	}
	if err != nil {
		return err
	}
	p.DataDir = d.opts.Params.DataDir
	p.ModelDir = dir
	if d.opts.Mode == Predict {
		p.BatchSize = d.opts.Params.BatchSize
	}
	if err = p.Validate(); err != nil {
		return errors.WithMessage(err, "stored hyperparameters")
	}
	d.params = p

	if d.model, err = d.factory(p); err != nil {
		return errors.WithMessage(err, "creating model")
	}
	found, err := d.model.Load(dir)
	if err != nil {
		return errors.WithMessage(err, "restoring checkpoint")
	}
	if !found {
		return errors.Wrapf(ErrNoCheckpoint, "%s", dir)
	}
	d.log.WithField("step", d.model.Step()).Info("restored model")
	return nil
}

func (d *Driver) test(ctx context.Context) error {
	if err := d.restore(); err != nil {
		return err
	}
	d.state = SingleEvaluation
	loss, err := d.evaluate(ctx)
	if err != nil {
		return err
	}
	return d.record(0, loss)
}

func (d *Driver) predict(ctx context.Context) error {
	if err := d.restore(); err != nil {
		return err
	}
	d.state = BatchPredict
	var err error
	if d.outPath, d.outLines, err = PredictFromFile(ctx, d.model, d.params, d.opts.PredictFrom, d.opts.PredictTo, d.log); err != nil {
		return err
	}
	d.log.WithFields(logrus.Fields{"path": d.outPath, "lines": d.outLines}).Info("predictions written")
	return nil
}

// Params returns the effective hyperparameters of the run.
func (d *Driver) Params() hparams.Params { return d.params }

// Examples is the number of training examples consumed so far.
func (d *Driver) Examples() int { return d.examples }

// EvalPasses is the number of completed evaluation passes.
func (d *Driver) EvalPasses() int { return d.evalPasses }

// EvalLoss is the loss of the last evaluation pass.
func (d *Driver) EvalLoss() float32 { return d.evalLoss }

// Output returns the path and line count of the predictions.
func (d *Driver) Output() (path string, lines int) { return d.outPath, d.outLines }

/* RunState */

func (d *Driver) Name() string { return filepath.Base(d.params.ModelDir) }

func (d *Driver) State() State { return d.state }

func (d *Driver) Cycle() int { return d.cycle }

func (d *Driver) Cycles() int { return d.schedule.Cycles }

func (d *Driver) Step() int {
	if d.model == nil {
		return 0
	}
	return d.model.Step()
}

func (d *Driver) History() Statistics { return d.stats }
