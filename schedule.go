package seqdecoder

import (
	"fmt"

	"github.com/awalterschulze/gographviz"
	"github.com/gorgonia/seqdecoder/hparams"
)

// Schedule is the plan of a training run: Cycles train/evaluate cycles of
// EvalFrequency epochs each, checkpointing every CheckpointEvery cycles.
type Schedule struct {
	Cycles          int
	EvalFrequency   int
	CheckpointEvery int // 0 checkpoints only after the last cycle
}

// ScheduleFor returns the schedule of a training run with p.
func ScheduleFor(p hparams.Params) Schedule {
	return Schedule{
		Cycles:          p.Cycles(),
		EvalFrequency:   p.EvalFrequency,
		CheckpointEvery: p.CheckpointEvery,
	}
}

// Checkpoint reports whether a checkpoint is written after the training phase
// of cycle (0-based). The last cycle always checkpoints.
func (s Schedule) Checkpoint(cycle int) bool {
	if cycle == s.Cycles-1 {
		return true
	}
	return s.CheckpointEvery > 0 && (cycle+1)%s.CheckpointEvery == 0
}

// Checkpoints is the number of checkpoints the schedule writes.
func (s Schedule) Checkpoints() (n int) {
	for c := 0; c < s.Cycles; c++ {
		if s.Checkpoint(c) {
			n++
		}
	}
	return n
}

// ToDot renders the schedule as a Graphviz digraph.
func (s Schedule) ToDot() string {
	g := gographviz.NewGraph()
	if err := g.SetName("Schedule"); err != nil {
		panic(err)
	}
	if err := g.SetDir(true); err != nil {
		panic(err)
	}
	g.AddAttr("Schedule", "rankdir", "LR")

	g.AddNode("Schedule", "Idle", map[string]string{"shape": "circle"})
	prev := "Idle"
	for c := 0; c < s.Cycles; c++ {
		train := fmt.Sprintf("Train%d", c)
		eval := fmt.Sprintf("Eval%d", c)
		g.AddNode("Schedule", train, map[string]string{
			"shape": "box",
			"label": fmt.Sprintf(`"cycle %d\ntrain %d epochs"`, c, s.EvalFrequency),
		})
		g.AddEdge(prev, train, true, nil)
		if s.Checkpoint(c) {
			ckpt := fmt.Sprintf("Checkpoint%d", c)
			g.AddNode("Schedule", ckpt, map[string]string{"shape": "cylinder", "label": `"checkpoint"`})
			g.AddEdge(train, ckpt, true, nil)
			train = ckpt
		}
		g.AddNode("Schedule", eval, map[string]string{
			"shape": "box",
			"label": fmt.Sprintf(`"cycle %d\nevaluate"`, c),
		})
		g.AddEdge(train, eval, true, nil)
		prev = eval
	}
	g.AddNode("Schedule", "Done", map[string]string{"shape": "doublecircle"})
	g.AddEdge(prev, "Done", true, nil)
	return g.String()
}
