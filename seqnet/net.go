package seqnet

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

var Float = G.Float32

// paramNames lists the learnables in checkpoint order.
var paramNames = []string{"Wx", "We", "Wp", "Wo"}

// paramShapes returns the shapes of the learnables, in paramNames order.
func (conf Config) paramShapes() []tensor.Shape {
	return []tensor.Shape{
		{conf.HiddenSize, conf.HiddenSize}, // input features
		{conf.VocabSize, conf.HiddenSize},  // previous token embedding
		{conf.Length, conf.HiddenSize},     // position embedding
		{conf.HiddenSize, conf.VocabSize},  // output projection
	}
}

// net is one fixed-shape graph of the decoder. Every example occupies Length
// consecutive rows, one per output position.
//
// For position t of example i:
//
//	h      = tanh(x_i·Wx + onehot(prev_{i,t})·We + onehot(t)·Wp)
//	logits = h·Wo
type net struct {
	Config
	n    int // examples per run
	rows int // n * Length

	g *G.ExprGraph
	m G.VM

	features *G.Node // (rows, HiddenSize), features repeated per position
	prev     *G.Node // (rows, VocabSize), one-hot of the teacher forcing token
	pos      *G.Node // (rows, Length), one-hot of the position
	target   *G.Node // (rows, VocabSize), one-hot of the target token
	mask     *G.Node // (rows), weight of each row in the loss

	learnables G.Nodes

	probsValue G.Value
	costValue  G.Value

	// host side buffers bound to the input nodes
	featuresT, prevT, posT, targetT, maskT *tensor.Dense

	version int // weights version this graph holds
}

func newNet(conf Config, n int, fwdOnly bool) (*net, error) {
	retVal := &net{
		Config:  conf,
		n:       n,
		rows:    n * conf.Length,
		version: -1,
	}
	if err := retVal.init(fwdOnly); err != nil {
		return nil, err
	}
	return retVal, nil
}

func (d *net) init(fwdOnly bool) error {
	d.g = G.NewGraph()
	rows := d.rows

	d.featuresT = tensor.New(tensor.WithShape(rows, d.HiddenSize), tensor.Of(Float))
	d.prevT = tensor.New(tensor.WithShape(rows, d.VocabSize), tensor.Of(Float))
	d.posT = tensor.New(tensor.WithShape(rows, d.Length), tensor.Of(Float))
	d.targetT = tensor.New(tensor.WithShape(rows, d.VocabSize), tensor.Of(Float))
	d.maskT = tensor.New(tensor.WithShape(rows), tensor.Of(Float))

	pos := d.posT.Data().([]float32)
	for r := 0; r < rows; r++ {
		pos[r*d.Length+r%d.Length] = 1
	}

	d.features = G.NewMatrix(d.g, Float, G.WithShape(rows, d.HiddenSize), G.WithName("Features"), G.WithValue(d.featuresT))
	d.prev = G.NewMatrix(d.g, Float, G.WithShape(rows, d.VocabSize), G.WithName("Prev"), G.WithValue(d.prevT))
	d.pos = G.NewMatrix(d.g, Float, G.WithShape(rows, d.Length), G.WithName("Position"), G.WithValue(d.posT))
	d.target = G.NewMatrix(d.g, Float, G.WithShape(rows, d.VocabSize), G.WithName("Target"), G.WithValue(d.targetT))
	d.mask = G.NewVector(d.g, Float, G.WithShape(rows), G.WithName("Mask"), G.WithValue(d.maskT))

	shapes := d.paramShapes()
	d.learnables = make(G.Nodes, len(paramNames))
	for i, name := range paramNames {
		d.learnables[i] = G.NewMatrix(d.g, Float, G.WithShape(shapes[i]...), G.WithName(name), G.WithInit(G.Zeroes()))
	}
	wx, we, wp, wo := d.learnables[0], d.learnables[1], d.learnables[2], d.learnables[3]

	var m maebe
	h := m.add(m.linear(d.features, wx), m.linear(d.prev, we))
	h = m.add(h, m.linear(d.pos, wp))
	h = m.tanh(h)
	logits := m.linear(h, wo)
	probs := m.softmax(logits)
	cost := m.xent(probs, d.target, d.mask)
	if m.err != nil {
		return m.err
	}
	G.Read(probs, &d.probsValue)
	G.Read(cost, &d.costValue)

	if fwdOnly {
		d.m = G.NewTapeMachine(d.g)
		return nil
	}
	if _, err := G.Grad(cost, d.learnables...); err != nil {
		return errors.WithStack(err)
	}
	d.m = G.NewTapeMachine(d.g, G.BindDualValues(d.learnables...))
	return nil
}

// bind copies the input buffers into the graph's input nodes.
func (d *net) bind() error {
	inputs := []struct {
		n *G.Node
		v *tensor.Dense
	}{
		{d.features, d.featuresT},
		{d.prev, d.prevT},
		{d.pos, d.posT},
		{d.target, d.targetT},
		{d.mask, d.maskT},
	}
	for _, in := range inputs {
		if err := G.Let(in.n, in.v); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

// run executes the graph once and returns the cost.
func (d *net) run() (float32, error) {
	if err := d.bind(); err != nil {
		return 0, err
	}
	if err := d.m.RunAll(); err != nil {
		return 0, errors.WithStack(err)
	}
	cost, ok := d.costValue.Data().(float32)
	if !ok {
		return 0, errors.Errorf("unexpected cost %v", d.costValue)
	}
	return cost, nil
}

func (d *net) reset() { d.m.Reset() }

// probs returns the output distribution of a row after run.
func (d *net) probs(row int) []float32 {
	data := d.probsValue.Data().([]float32)
	return data[row*d.VocabSize : (row+1)*d.VocabSize]
}

// copyWeights copies src into the learnables of d.
func (d *net) copyWeights(src []*tensor.Dense, version int) {
	for i, n := range d.learnables {
		copy(n.Value().Data().([]float32), src[i].Data().([]float32))
	}
	d.version = version
}

// readWeights copies the learnables of d into dst.
func (d *net) readWeights(dst []*tensor.Dense) {
	for i, n := range d.learnables {
		copy(dst[i].Data().([]float32), n.Value().Data().([]float32))
	}
}

func (d *net) Close() error { return d.m.Close() }
