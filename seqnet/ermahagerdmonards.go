package seqnet

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
)

type maebe struct {
	err error
}

// generic monad... may be useful
func (m *maebe) do(f func() (*G.Node, error)) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = f(); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

// linear is a bias free projection. Biases come from the position embedding.
func (m *maebe) linear(input, w *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Mul(input, w) })
}

func (m *maebe) add(a, b *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Add(a, b) })
}

func (m *maebe) tanh(input *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Tanh(input) })
}

func (m *maebe) softmax(input *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.SoftMax(input) })
}

// xent is the masked mean cross entropy of probs against one-hot targets.
// mask holds the weight of every row; padding rows weigh 0.
func (m *maebe) xent(probs, target, mask *G.Node) (retVal *G.Node) {
	var eps *G.Node
	switch Float {
	case G.Float32:
		eps = G.NewConstant(float32(1e-7))
	case G.Float64:
		eps = G.NewConstant(float64(1e-7))
	}
	logp := m.do(func() (*G.Node, error) { return G.Add(probs, eps) })
	logp = m.do(func() (*G.Node, error) { return G.Log(logp) })
	picked := m.do(func() (*G.Node, error) { return G.HadamardProd(logp, target) })
	rows := m.do(func() (*G.Node, error) { return G.Sum(picked, 1) })
	rows = m.do(func() (*G.Node, error) { return G.Neg(rows) })
	weighted := m.do(func() (*G.Node, error) { return G.HadamardProd(rows, mask) })
	return m.do(func() (*G.Node, error) { return G.Sum(weighted) })
}
