package seqdecoder

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/gorgonia/seqdecoder/corpus"
	"github.com/gorgonia/seqdecoder/hparams"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter records what the driver asks of it. Decode echoes the integer
// part of every input feature.
type fakeAdapter struct {
	p hparams.Params

	trained   []int // batch sizes
	lines     []int // line numbers of the trained records, in order
	evaluated []int
	decoded   []int
	step      int
	saves     int
	loaded    bool
	closed    bool
	failEval  bool
}

func (a *fakeAdapter) Train(b *corpus.Batch) (float32, error) {
	if b.Targets == nil {
		return 0, errors.New("no targets")
	}
	a.trained = append(a.trained, b.Size())
	a.lines = append(a.lines, b.Lines...)
	a.step++
	return 1 / float32(a.step), nil
}

func (a *fakeAdapter) Evaluate(b *corpus.Batch) (float32, error) {
	if a.failEval {
		return 0, errors.New("evaluation failed")
	}
	a.evaluated = append(a.evaluated, b.Size())
	return 0.5, nil
}

func (a *fakeAdapter) Decode(b *corpus.Batch) ([][]int, error) {
	a.decoded = append(a.decoded, b.Size())
	inputs := b.Inputs.Data().([]float32)
	w := b.Inputs.Shape()[1]
	out := make([][]int, b.Size())
	for i := range out {
		for _, x := range inputs[i*w : (i+1)*w] {
			out[i] = append(out[i], int(x))
		}
	}
	return out, nil
}

func (a *fakeAdapter) Step() int             { return a.step }
func (a *fakeAdapter) LearningRate() float64 { return a.p.LR }

func (a *fakeAdapter) Save(dir string) error {
	a.saves++
	return ioutil.WriteFile(filepath.Join(dir, "fake.ckpt"), []byte(strconv.Itoa(a.step)), 0644)
}

func (a *fakeAdapter) Load(dir string) (bool, error) {
	bs, err := ioutil.ReadFile(filepath.Join(dir, "fake.ckpt"))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if a.step, err = strconv.Atoi(string(bs)); err != nil {
		return false, err
	}
	a.loaded = true
	return true, nil
}

func (a *fakeAdapter) Close() error { a.closed = true; return nil }

type fakeFactory struct {
	made []*fakeAdapter
}

func (f *fakeFactory) new(p hparams.Params) (Adapter, error) {
	a := &fakeAdapter{p: p}
	f.made = append(f.made, a)
	return a, nil
}

func (f *fakeFactory) last() *fakeAdapter { return f.made[len(f.made)-1] }

type countingEncoder struct {
	states  []State
	cycles  []int
	flushed int
}

func (e *countingEncoder) Encode(rs RunState) error {
	e.states = append(e.states, rs.State())
	e.cycles = append(e.cycles, rs.Cycle())
	return nil
}

func (e *countingEncoder) Flush() error { e.flushed++; return nil }

func writeSplit(t *testing.T, dir string, split corpus.Split, inputs, targets []string) {
	t.Helper()
	in, tgt := split.Files(dir)
	require.NoError(t, ioutil.WriteFile(in, []byte(strings.Join(inputs, "\n")+"\n"), 0644))
	require.NoError(t, ioutil.WriteFile(tgt, []byte(strings.Join(targets, "\n")+"\n"), 0644))
}

// setup writes a corpus with hidden_size 2 and B 1 and returns matching params.
func setup(t *testing.T) hparams.Params {
	t.Helper()
	dataDir := t.TempDir()
	writeSplit(t, dataDir, corpus.Train,
		[]string{"1 2", "3 4", "5 6"},
		[]string{"1 2 3 4 5 6 7 8", "2 3 4 5 6 7 8 9", "3 4 5 6 7 8 9 1"},
	)
	writeSplit(t, dataDir, corpus.Test,
		[]string{"1 1", "2 2"},
		[]string{"1 1 1 1 1 1 1 1", "2 2 2 2 2 2 2 2"},
	)

	p := hparams.Defaults()
	p.HiddenSize = 2
	p.B = 1
	p.VocabSize = 10
	p.BatchSize = 3
	p.TrainEpochs = 1
	p.EvalFrequency = 1
	p.TrainSamples = 3
	p.TestSamples = 100
	p.Seed = 1337
	p.DataDir = dataDir
	p.ModelDir = filepath.Join(t.TempDir(), "model")
	return p
}

func quietLogger() (logrus.FieldLogger, *test.Hook) {
	l, hook := test.NewNullLogger()
	l.SetLevel(logrus.DebugLevel)
	return l, hook
}

func TestTrainEndToEnd(t *testing.T) {
	p := setup(t)
	log, hook := quietLogger()
	enc := new(countingEncoder)
	f := new(fakeFactory)
	d, err := New(Options{Mode: Train, Params: p, Logger: log, OutputEncoder: enc}, f.new)
	require.NoError(t, err)
	if err = d.Run(context.Background()); err != nil {
		t.Fatalf("%+v", err)
	}

	a := f.last()
	assert.Equal(t, []int{3}, a.trained, "one epoch of 3 examples in one batch")
	assert.Equal(t, 3, d.Examples())
	assert.Equal(t, 1, d.EvalPasses())
	assert.Equal(t, []int{2}, a.evaluated)
	assert.InDelta(t, 0.5, d.EvalLoss(), 1e-6)
	assert.Equal(t, 1, a.saves)
	assert.True(t, a.closed)
	assert.Equal(t, Done, d.State())

	stored, err := hparams.Restore(hparams.Path(p.ModelDir))
	require.NoError(t, err)
	assert.Equal(t, 8, stored.Length)
	assert.Equal(t, 8, a.p.Length)

	_, err = os.Stat(filepath.Join(p.ModelDir, MetricsFileName))
	assert.NoError(t, err)
	assert.Equal(t, []State{EvaluationCycle}, enc.states)
	assert.Equal(t, 1, enc.flushed)

	var sawCheckpoint bool
	for _, e := range hook.AllEntries() {
		if e.Message == "checkpoint saved" {
			sawCheckpoint = true
		}
	}
	assert.True(t, sawCheckpoint)
}

func TestTrainCycles(t *testing.T) {
	p := setup(t)
	p.TrainEpochs = 6
	p.EvalFrequency = 2
	p.CheckpointEvery = 2
	log, _ := quietLogger()
	enc := new(countingEncoder)
	f := new(fakeFactory)
	d, err := New(Options{Mode: Train, Params: p, Logger: log, OutputEncoder: enc}, f.new)
	require.NoError(t, err)
	require.NoError(t, d.Run(context.Background()))

	a := f.last()
	// 2 epochs of 3 examples per cycle, 3 cycles
	assert.Equal(t, []int{3, 3, 3, 3, 3, 3}, a.trained)
	assert.Equal(t, 18, d.Examples())
	assert.Equal(t, 3, d.EvalPasses())
	assert.Equal(t, 2, a.saves, "after cycle 1 and after the last cycle")
	assert.Equal(t, []int{0, 1, 2}, enc.cycles)

	h := d.History()
	assert.Equal(t, []int{0, 1, 2}, h.Cycles)
	assert.Equal(t, []int{2, 4, 6}, h.Steps)
	assert.InDelta(t, (1.0+0.5)/2, h.TrainLoss[0], 1e-6)
}

func TestTrainReshufflesEveryCycle(t *testing.T) {
	p := setup(t)
	var inputs, targets []string
	for i := 0; i < 20; i++ {
		inputs = append(inputs, "1 2")
		targets = append(targets, "1 2 3 4 5 6 7 8")
	}
	writeSplit(t, p.DataDir, corpus.Train, inputs, targets)
	p.TrainEpochs = 2
	p.EvalFrequency = 1
	p.BatchSize = 20
	p.TrainSamples = 100
	p.Seed = 42
	log, _ := quietLogger()
	f := new(fakeFactory)
	d, err := New(Options{Mode: Train, Params: p, Logger: log}, f.new)
	require.NoError(t, err)
	require.NoError(t, d.Run(context.Background()))

	a := f.last()
	require.Equal(t, []int{20, 20}, a.trained)
	assert.NotEqual(t, a.lines[:20], a.lines[20:], "every cycle draws a new permutation")
}

func TestMetricsSurviveLaterRuns(t *testing.T) {
	p := setup(t)
	p.TrainEpochs = 3
	log, _ := quietLogger()
	f := new(fakeFactory)
	d, err := New(Options{Mode: Train, Params: p, Logger: log}, f.new)
	require.NoError(t, err)
	require.NoError(t, d.Run(context.Background()))

	d, err = New(Options{Mode: Test, Params: p, Logger: log}, f.new)
	require.NoError(t, err)
	require.NoError(t, d.Run(context.Background()))

	d, err = New(Options{Mode: Train, Params: p, Restore: true, Logger: log}, f.new)
	require.NoError(t, err)
	require.NoError(t, d.Run(context.Background()))

	records := readMetrics(t, filepath.Join(p.ModelDir, MetricsFileName))
	require.Len(t, records, 1+3+1+3, "header, 3 training cycles, the test pass, 3 resumed cycles")
	assert.Equal(t, []string{"cycle", "step", "train_loss", "eval_loss"}, records[0])
	var steps []string
	for _, r := range records[1:] {
		steps = append(steps, r[1])
	}
	assert.Equal(t, []string{"1", "2", "3", "3", "4", "5", "6"}, steps)
	assert.Equal(t, "0.000000", records[4][2], "the test pass has no training loss")
}

func TestTrainRestore(t *testing.T) {
	p := setup(t)
	p.LR = 0.5
	log, _ := quietLogger()
	f := new(fakeFactory)
	d, err := New(Options{Mode: Train, Params: p, Logger: log}, f.new)
	require.NoError(t, err)
	require.NoError(t, d.Run(context.Background()))

	fresh := p
	fresh.LR = 0.1
	d, err = New(Options{Mode: Train, Params: fresh, Restore: true, Logger: log}, f.new)
	require.NoError(t, err)
	require.NoError(t, d.Run(context.Background()))

	a := f.last()
	assert.True(t, a.loaded)
	assert.Equal(t, 0.5, a.p.LR, "restored value wins")
	assert.Equal(t, 2, a.step, "resumed from step 1")
	assert.Equal(t, 8, d.Params().Length)
}

func TestTrainRestoreNothing(t *testing.T) {
	p := setup(t)
	log, hook := quietLogger()
	f := new(fakeFactory)
	d, err := New(Options{Mode: Train, Params: p, Restore: true, Logger: log}, f.new)
	require.NoError(t, err)
	require.NoError(t, d.Run(context.Background()))
	assert.False(t, f.last().loaded)

	var warnings int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings++
		}
	}
	assert.Equal(t, 2, warnings)
}

func TestTrainInvalidParams(t *testing.T) {
	p := setup(t)
	p.Optimizer = "lbfgs"
	log, _ := quietLogger()
	f := new(fakeFactory)
	d, err := New(Options{Mode: Train, Params: p, Logger: log}, f.new)
	require.NoError(t, err)
	assert.Error(t, d.Run(context.Background()))
	assert.Empty(t, f.made)
	_, err = os.Stat(hparams.Path(p.ModelDir))
	assert.True(t, os.IsNotExist(err))
}

func TestTrainMalformed(t *testing.T) {
	p := setup(t)
	writeSplit(t, p.DataDir, corpus.Train,
		[]string{"1 2", "3 x", "5 6"},
		[]string{"1 2 3 4 5 6 7 8", "2 3 4 5 6 7 8 9", "3 4 5 6 7 8 9 1"},
	)
	log, _ := quietLogger()
	f := new(fakeFactory)
	d, err := New(Options{Mode: Train, Params: p, Logger: log}, f.new)
	require.NoError(t, err)
	err = d.Run(context.Background())
	var malformed *corpus.MalformedRecordError
	require.True(t, errors.As(err, &malformed), "got %v", err)
	assert.Equal(t, 2, malformed.Line)
	assert.Equal(t, 0, f.last().saves)
	assert.True(t, f.last().closed)

	// hyperparameters are persisted before any training
	_, err = hparams.Restore(hparams.Path(p.ModelDir))
	assert.NoError(t, err)
}

func TestEvaluationFailureKeepsCheckpoint(t *testing.T) {
	p := setup(t)
	log, _ := quietLogger()
	f := &fakeFactory{}
	factory := func(p hparams.Params) (Adapter, error) {
		a, err := f.new(p)
		a.(*fakeAdapter).failEval = true
		return a, err
	}
	d, err := New(Options{Mode: Train, Params: p, Logger: log}, factory)
	require.NoError(t, err)
	assert.Error(t, d.Run(context.Background()))
	assert.Equal(t, 1, f.last().saves)
	_, err = os.Stat(filepath.Join(p.ModelDir, "fake.ckpt"))
	assert.NoError(t, err)
}

func TestTrainCancelled(t *testing.T) {
	p := setup(t)
	log, _ := quietLogger()
	f := new(fakeFactory)
	d, err := New(Options{Mode: Train, Params: p, Logger: log}, f.new)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = d.Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Empty(t, f.last().trained)
}

func TestMissingConfig(t *testing.T) {
	for _, mode := range []Mode{Test, Predict} {
		t.Run(mode.String(), func(t *testing.T) {
			p := setup(t)
			log, _ := quietLogger()
			f := new(fakeFactory)
			d, err := New(Options{Mode: mode, Params: p, PredictFrom: filepath.Join(p.DataDir, "test.input"), Logger: log}, f.new)
			require.NoError(t, err)
			err = d.Run(context.Background())

			var missing *MissingConfigError
			require.True(t, errors.As(err, &missing), "got %v", err)
			assert.Equal(t, p.ModelDir, missing.ModelDir)
			assert.True(t, errors.Is(err, hparams.ErrConfigNotFound))
			assert.Empty(t, f.made, "no further work")
		})
	}
}

func TestNoCheckpoint(t *testing.T) {
	p := setup(t)
	require.NoError(t, hparams.Persist(hparams.Path(p.ModelDir), p.Derive()))
	log, _ := quietLogger()
	f := new(fakeFactory)
	d, err := New(Options{Mode: Test, Params: p, Logger: log}, f.new)
	require.NoError(t, err)
	err = d.Run(context.Background())
	assert.True(t, errors.Is(err, ErrNoCheckpoint), "got %v", err)
	assert.True(t, f.last().closed)
}

func TestTestMode(t *testing.T) {
	p := setup(t)
	log, _ := quietLogger()
	f := new(fakeFactory)
	d, err := New(Options{Mode: Train, Params: p, Logger: log}, f.new)
	require.NoError(t, err)
	require.NoError(t, d.Run(context.Background()))

	q := p
	q.HiddenSize = 99 // ignored, the stored hyperparameters drive the run
	d, err = New(Options{Mode: Test, Params: q, Logger: log}, f.new)
	require.NoError(t, err)
	require.NoError(t, d.Run(context.Background()))

	a := f.last()
	assert.True(t, a.loaded)
	assert.Empty(t, a.trained)
	assert.Equal(t, []int{2}, a.evaluated)
	assert.Equal(t, 1, d.EvalPasses())
	assert.Equal(t, 2, d.Params().HiddenSize)
	assert.Equal(t, Done, d.State())
}

func TestPredictMode(t *testing.T) {
	p := setup(t)
	log, _ := quietLogger()
	f := new(fakeFactory)
	d, err := New(Options{Mode: Train, Params: p, Logger: log}, f.new)
	require.NoError(t, err)
	require.NoError(t, d.Run(context.Background()))

	from := filepath.Join(t.TempDir(), "queries")
	require.NoError(t, ioutil.WriteFile(from, []byte("7 8\n9 10\n"), 0644))
	q := p
	q.BatchSize = 1
	d, err = New(Options{Mode: Predict, Params: q, PredictFrom: from, Logger: log}, f.new)
	require.NoError(t, err)
	require.NoError(t, d.Run(context.Background()))

	path, lines := d.Output()
	assert.Equal(t, from+ResultSuffix, path)
	assert.Equal(t, 2, lines)
	assert.Equal(t, []int{1, 1}, f.last().decoded)
	bs, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "7 8\n9 10\n", string(bs))
}

func TestNewInvalid(t *testing.T) {
	f := new(fakeFactory)
	_, err := New(Options{Mode: MAXMODE}, f.new)
	assert.Error(t, err)
	_, err = New(Options{Mode: Train}, nil)
	assert.Error(t, err)
	_, err = New(Options{Mode: Predict}, f.new)
	assert.Error(t, err)
}

func TestRunTwice(t *testing.T) {
	p := setup(t)
	log, _ := quietLogger()
	f := new(fakeFactory)
	d, err := New(Options{Mode: Train, Params: p, Logger: log}, f.new)
	require.NoError(t, err)
	require.NoError(t, d.Run(context.Background()))
	assert.Error(t, d.Run(context.Background()))
}
