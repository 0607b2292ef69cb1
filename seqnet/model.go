package seqnet

import (
	"github.com/chewxy/math32"
	"github.com/gorgonia/seqdecoder/corpus"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
	"gorgonia.org/vecf32"
)

// Model is the decoder network. It keeps one training graph sized by the batch
// size and lazily built forward graphs, one per batch size seen in evaluation
// and decoding. The forward graphs receive a copy of the trained weights.
//
// A Model is not safe for concurrent use.
type Model struct {
	Config

	weights []*tensor.Dense // canonical values, paramNames order
	version int             // bumped whenever weights change

	train   *net
	solver  G.Solver
	rate    float64 // rate the solver was built with
	step    int
	pending bool // train graph holds updates not yet in weights

	fwd map[int]*net
}

// New returns a model with freshly initialized weights.
func New(conf Config) (*Model, error) {
	if !conf.IsValid() {
		return nil, errors.Errorf("invalid network configuration %+v", conf)
	}
	if _, err := newSolver(conf.Optimizer, conf.LearnRate, conf); err != nil {
		return nil, err
	}
	retVal := &Model{
		Config: conf,
		fwd:    make(map[int]*net),
	}
	for _, s := range conf.paramShapes() {
		backing := G.GlorotN(1.0)(Float, s...)
		retVal.weights = append(retVal.weights, tensor.New(tensor.WithShape(s...), tensor.WithBacking(backing)))
	}
	return retVal, nil
}

func newSolver(name string, rate float64, conf Config) (G.Solver, error) {
	opts := []G.SolverOpt{G.WithLearnRate(rate)}
	if conf.L2 > 0 {
		opts = append(opts, G.WithL2Reg(conf.L2))
	}
	switch name {
	case "adam":
		return G.NewAdamSolver(opts...), nil
	case "sgd":
		return G.NewVanillaSolver(opts...), nil
	case "momentum":
		return G.NewMomentum(opts...), nil
	case "rmsprop":
		return G.NewRMSPropSolver(opts...), nil
	case "adagrad":
		return G.NewAdaGradSolver(opts...), nil
	}
	return nil, errors.Errorf("unknown optimizer %q", name)
}

// Step is the number of training steps taken so far.
func (m *Model) Step() int { return m.step }

// LearningRate is the rate the next training step will use.
func (m *Model) LearningRate() float64 { return m.Rate(m.step) }

// Train takes one optimization step on the batch and returns its loss. The
// batch may be smaller than the configured batch size.
func (m *Model) Train(b *corpus.Batch) (float32, error) {
	if b.TargetsIn == nil || b.Targets == nil {
		return 0, errors.New("training batch has no targets")
	}
	n := b.Size()
	if n > m.BatchSize {
		return 0, errors.Errorf("batch of %d exceeds batch size %d", n, m.BatchSize)
	}
	if m.train == nil {
		var err error
		if m.train, err = newNet(m.Config, m.BatchSize, false); err != nil {
			return 0, err
		}
	}
	if m.train.version != m.version {
		m.train.copyWeights(m.weights, m.version)
	}
	if err := m.fill(m.train, b, true); err != nil {
		return 0, err
	}

	if rate := m.Rate(m.step); m.solver == nil || rate != m.rate {
		var err error
		if m.solver, err = newSolver(m.Optimizer, rate, m.Config); err != nil {
			return 0, err
		}
		m.rate = rate
	}

	defer m.train.reset()
	cost, err := m.train.run()
	if err != nil {
		return 0, err
	}
	if err = checkFinite(cost); err != nil {
		return cost, errors.WithMessagef(err, "step %d", m.step)
	}
	grads := G.NodesToValueGrads(m.train.learnables)
	if err = clipGrads(grads, m.Clip); err != nil {
		return cost, err
	}
	if err = m.solver.Step(grads); err != nil {
		return cost, errors.WithStack(err)
	}
	m.step++
	m.pending = true
	return cost, nil
}

// Evaluate returns the mean per-token loss of the batch.
func (m *Model) Evaluate(b *corpus.Batch) (float32, error) {
	if b.TargetsIn == nil || b.Targets == nil {
		return 0, errors.New("evaluation batch has no targets")
	}
	d, err := m.forward(b.Size())
	if err != nil {
		return 0, err
	}
	if err = m.fill(d, b, true); err != nil {
		return 0, err
	}
	defer d.reset()
	cost, err := d.run()
	if err != nil {
		return 0, err
	}
	return cost, checkFinite(cost)
}

// Decode greedily decodes Length tokens for every example of the batch. Each
// position is fed the token decoded at the previous position.
func (m *Model) Decode(b *corpus.Batch) ([][]int, error) {
	n := b.Size()
	d, err := m.forward(n)
	if err != nil {
		return nil, err
	}
	if err = m.fill(d, b, false); err != nil {
		return nil, err
	}

	out := make([][]int, n)
	for i := range out {
		out[i] = make([]int, m.Length)
	}
	prev := d.prevT.Data().([]float32)
	for t := 0; t < m.Length; t++ {
		if t > 0 {
			for i := 0; i < n; i++ {
				row := i*m.Length + t
				setOneHot(prev[row*m.VocabSize:(row+1)*m.VocabSize], out[i][t-1])
			}
		}
		if _, err = d.run(); err != nil {
			d.reset()
			return nil, err
		}
		for i := 0; i < n; i++ {
			out[i][t] = vecf32.Argmax(d.probs(i*m.Length + t))
		}
		d.reset()
	}
	return out, nil
}

// forward returns the forward graph for n examples holding the current weights.
func (m *Model) forward(n int) (*net, error) {
	if n < 1 {
		return nil, errors.New("empty batch")
	}
	m.flush()
	d, ok := m.fwd[n]
	if !ok {
		var err error
		if d, err = newNet(m.Config, n, true); err != nil {
			return nil, err
		}
		m.fwd[n] = d
	}
	if d.version != m.version {
		d.copyWeights(m.weights, m.version)
	}
	return d, nil
}

// flush moves pending training updates into the canonical weights.
func (m *Model) flush() {
	if !m.pending {
		return
	}
	m.train.readWeights(m.weights)
	m.version++
	m.train.version = m.version
	m.pending = false
}

// fill writes the batch into the input buffers of d. Rows past the batch are
// zeroed and masked out. Without targets every position is fed SOS and the
// loss inputs are zero.
func (m *Model) fill(d *net, b *corpus.Batch, withTargets bool) error {
	n := b.Size()
	if n > d.n {
		return errors.Errorf("batch of %d does not fit a graph of %d", n, d.n)
	}
	if s := b.Inputs.Shape(); s.Dims() != 2 || s[1] != m.HiddenSize {
		return errors.Errorf("inputs have shape %v, want (n, %d)", s, m.HiddenSize)
	}
	L, V, H := m.Length, m.VocabSize, m.HiddenSize

	d.featuresT.Zero()
	d.prevT.Zero()
	d.targetT.Zero()
	d.maskT.Zero()

	inputs := b.Inputs.Data().([]float32)
	features := d.featuresT.Data().([]float32)
	prev := d.prevT.Data().([]float32)
	for i := 0; i < n; i++ {
		x := inputs[i*H : (i+1)*H]
		for t := 0; t < L; t++ {
			row := i*L + t
			copy(features[row*H:(row+1)*H], x)
			setOneHot(prev[row*V:(row+1)*V], corpus.SOS)
		}
	}
	if !withTargets {
		return nil
	}

	if s := b.Targets.Shape(); s.Dims() != 2 || s[1] != L {
		return errors.Errorf("targets have shape %v, want (n, %d)", s, L)
	}
	targetsIn := b.TargetsIn.Data().([]int)
	targets := b.Targets.Data().([]int)
	target := d.targetT.Data().([]float32)
	mask := d.maskT.Data().([]float32)
	w := 1 / float32(n*L)
	for row := 0; row < n*L; row++ {
		if err := checkToken(targetsIn[row], V); err != nil {
			return err
		}
		if err := checkToken(targets[row], V); err != nil {
			return err
		}
		setOneHot(prev[row*V:(row+1)*V], targetsIn[row])
		setOneHot(target[row*V:(row+1)*V], targets[row])
		mask[row] = w
	}
	return nil
}

// Close releases every graph.
func (m *Model) Close() error {
	var allErrs manyErr
	if m.train != nil {
		if err := m.train.Close(); err != nil {
			allErrs = append(allErrs, err)
		}
	}
	for _, d := range m.fwd {
		if err := d.Close(); err != nil {
			allErrs = append(allErrs, err)
		}
	}
	if len(allErrs) > 0 {
		return allErrs
	}
	return nil
}

func checkFinite(cost float32) error {
	if math32.IsNaN(cost) || math32.IsInf(cost, 0) {
		return errors.Errorf("loss is not finite (%v)", cost)
	}
	return nil
}

func checkToken(tok, vocab int) error {
	if tok < 0 || tok >= vocab {
		return errors.Errorf("token %d is outside the vocabulary of %d", tok, vocab)
	}
	return nil
}

// clipGrads rescales grads in place so that their global norm is at most
// maxNorm.
func clipGrads(grads []G.ValueGrad, maxNorm float64) error {
	if maxNorm <= 0 {
		return nil
	}
	data := make([][]float32, len(grads))
	for i, vg := range grads {
		g, err := vg.Grad()
		if err != nil {
			return errors.WithStack(err)
		}
		var ok bool
		if data[i], ok = g.Data().([]float32); !ok {
			return errors.Errorf("expected []float32 gradient, got %T", g.Data())
		}
	}
	clipByGlobalNorm(data, float32(maxNorm))
	return nil
}

// clipByGlobalNorm scales every vector of vs by maxNorm/norm when the norm of
// their concatenation exceeds maxNorm. It returns the norm before clipping.
func clipByGlobalNorm(vs [][]float32, maxNorm float32) float32 {
	var sq float32
	for _, v := range vs {
		for _, x := range v {
			sq += x * x
		}
	}
	norm := math32.Sqrt(sq)
	if norm <= maxNorm {
		return norm
	}
	scale := maxNorm / norm
	for _, v := range vs {
		for i := range v {
			v[i] *= scale
		}
	}
	return norm
}
