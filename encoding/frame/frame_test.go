package frame

import (
	"testing"

	"github.com/gorgonia/seqdecoder"
	"github.com/stretchr/testify/assert"
)

type runState struct {
	state         seqdecoder.State
	cycle, cycles int
	history       seqdecoder.Statistics
}

func (rs runState) Name() string                   { return "model" }
func (rs runState) State() seqdecoder.State        { return rs.state }
func (rs runState) Cycle() int                     { return rs.cycle }
func (rs runState) Cycles() int                    { return rs.cycles }
func (rs runState) Step() int                      { return 42 }
func (rs runState) History() seqdecoder.Statistics { return rs.history }

func history() seqdecoder.Statistics {
	return seqdecoder.Statistics{
		Cycles:    []int{0, 1, 2},
		Steps:     []int{14, 28, 42},
		TrainLoss: []float32{3, 2, 1.5},
		EvalLoss:  []float32{2.5, 1.75, 2},
	}
}

func TestText(t *testing.T) {
	rs := runState{state: seqdecoder.EvaluationCycle, cycle: 2, cycles: 5, history: history()}
	assert.Equal(t, []string{
		"model",
		"Cycle 3/5, Step 42",
		"EvaluationCycle",
		"train 1.5000 eval 2.0000",
		"best 1.7500 at cycle 1",
	}, Text(rs))

	rs = runState{state: seqdecoder.Idle}
	assert.Equal(t, []string{"model", "Step 42", "Idle"}, Text(rs))
}

func countBlack(rs runState, r *Renderer) int {
	im := r.Render(rs)
	var n int
	for _, px := range im.Pix {
		if px == 0 {
			n++
		}
	}
	return n
}

func TestRender(t *testing.T) {
	r := New(1000, 1000)
	rs := runState{state: seqdecoder.EvaluationCycle, cycle: 2, cycles: 5, history: history()}
	im := r.Render(rs)
	assert.Equal(t, r.W, im.Bounds().Dx())
	assert.Equal(t, r.H, im.Bounds().Dy())
	assert.True(t, r.W < 1000 && r.H < 1000)

	// the frame size is fixed by the first render
	im2 := r.Render(runState{})
	assert.Equal(t, im.Bounds(), im2.Bounds())

	// the curve adds ink
	empty := runState{state: seqdecoder.EvaluationCycle, cycle: 2, cycles: 5}
	assert.Greater(t, countBlack(rs, r), countBlack(empty, r))
}

func TestRenderClipped(t *testing.T) {
	r := New(20, 30)
	im := r.Render(runState{history: history()})
	assert.Equal(t, 30, im.Bounds().Dx())
	assert.Equal(t, 20, im.Bounds().Dy())
}
