package seqnet

import (
	"encoding/gob"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// CheckpointName is the file the model state is saved to inside a model directory.
const CheckpointName = "checkpoint.gob"

type checkpoint struct {
	Step    int
	Weights []*tensor.Dense
}

// Save writes the weights and the global step into dir. The checkpoint is
// written to a temporary file and renamed into place.
func (m *Model) Save(dir string) error {
	m.flush()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.WithStack(err)
	}
	f, err := ioutil.TempFile(dir, "."+CheckpointName+".*")
	if err != nil {
		return errors.WithStack(err)
	}
	tmp := f.Name()
	enc := gob.NewEncoder(f)
	if err = enc.Encode(checkpoint{Step: m.step, Weights: m.weights}); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "encoding checkpoint")
	}
	if err = f.Close(); err != nil {
		os.Remove(tmp)
		return errors.WithStack(err)
	}
	if err = os.Rename(tmp, filepath.Join(dir, CheckpointName)); err != nil {
		os.Remove(tmp)
		return errors.WithStack(err)
	}
	return nil
}

// Load restores the weights and the global step from dir. It reports false,
// leaving the model untouched, when dir holds no checkpoint.
func (m *Model) Load(dir string) (bool, error) {
	f, err := os.Open(filepath.Join(dir, CheckpointName))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.WithStack(err)
	}
	defer f.Close()

	var ckpt checkpoint
	dec := gob.NewDecoder(f)
	if err = dec.Decode(&ckpt); err != nil {
		return false, errors.Wrap(err, "decoding checkpoint")
	}
	shapes := m.paramShapes()
	if len(ckpt.Weights) != len(shapes) {
		return false, errors.Errorf("checkpoint has %d weights, want %d", len(ckpt.Weights), len(shapes))
	}
	for i, w := range ckpt.Weights {
		if !w.Shape().Eq(shapes[i]) {
			return false, errors.Errorf("checkpoint weight %s has shape %v, want %v", paramNames[i], w.Shape(), shapes[i])
		}
		if w.Dtype() != Float {
			return false, errors.Errorf("checkpoint weight %s is %v, want %v", paramNames[i], w.Dtype(), Float)
		}
	}

	m.weights = ckpt.Weights
	m.step = ckpt.Step
	m.pending = false
	m.version++
	m.solver = nil
	return true, nil
}
