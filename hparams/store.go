package hparams

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// FileName is the name of the hyperparameter file inside a model directory.
const FileName = "hparams.json"

// ErrConfigNotFound is returned by Restore when there is no hyperparameter file.
var ErrConfigNotFound = errors.New("hyperparameter file not found")

// Path returns the location of the hyperparameter file in modelDir.
func Path(modelDir string) string { return filepath.Join(modelDir, FileName) }

// Raw is a restored hyperparameter file, keyed by option name. Only the keys
// actually present in the file are in the map.
type Raw map[string]json.RawMessage

// Persist writes p to path, replacing any existing file. The file is written
// to a temporary sibling first so a crash never leaves a truncated file.
func Persist(path string, p Params) error {
	bs, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}
	bs = append(bs, '\n')

	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0755); err != nil {
		return errors.WithStack(err)
	}
	f, err := ioutil.TempFile(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.WithStack(err)
	}
	tmp := f.Name()
	if _, err = f.Write(bs); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.WithStack(err)
	}
	if err = f.Close(); err != nil {
		os.Remove(tmp)
		return errors.WithStack(err)
	}
	if err = os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.WithStack(err)
	}
	return nil
}

// RestoreRaw reads the hyperparameter file at path without interpreting it.
func RestoreRaw(path string) (Raw, error) {
	bs, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrConfigNotFound, "%s", path)
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var raw Raw
	if err = json.Unmarshal(bs, &raw); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", path)
	}
	return raw, nil
}

// Restore reads the hyperparameters stored at path verbatim.
func Restore(path string) (Params, error) {
	raw, err := RestoreRaw(path)
	if err != nil {
		return Params{}, err
	}
	return raw.Params()
}

// Params decodes the raw mapping. Unknown keys are ignored.
func (r Raw) Params() (p Params, err error) {
	bs, err := json.Marshal(r)
	if err != nil {
		return p, errors.WithStack(err)
	}
	if err = json.Unmarshal(bs, &p); err != nil {
		return p, errors.Wrap(err, "decoding hyperparameters")
	}
	return p, nil
}

// Reconcile returns fresh with every key present in restored overwritten by the
// restored value. The derived length is never taken from restored: it is
// recomputed from the fresh B.
func Reconcile(fresh Params, restored Raw) (Params, error) {
	bs, err := json.Marshal(fresh)
	if err != nil {
		return fresh, errors.WithStack(err)
	}
	merged := make(Raw)
	if err = json.Unmarshal(bs, &merged); err != nil {
		return fresh, errors.WithStack(err)
	}
	for k, v := range restored {
		if k == "length" {
			continue
		}
		if _, ok := merged[k]; !ok {
			continue // not a hyperparameter
		}
		merged[k] = v
	}
	retVal, err := merged.Params()
	if err != nil {
		return fresh, err
	}
	retVal.Length = SequenceLength(fresh.B)
	return retVal, nil
}
