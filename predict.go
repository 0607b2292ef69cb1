package seqdecoder

import (
	"bufio"
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorgonia/seqdecoder/corpus"
	"github.com/gorgonia/seqdecoder/hparams"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ResultSuffix is appended to the input path when no output path is given.
const ResultSuffix = ".result"

// PredictFromFile decodes every line of the file at from and writes one line of
// space separated tokens per input line, in input order, to to. The output is
// written to a temporary file next to to and renamed into place once every
// line is written, so a failed run never leaves a partial result.
//
// Inputs are batched by p.BatchSize. It returns the output path and the
// number of lines written.
func PredictFromFile(ctx context.Context, dec Decoder, p hparams.Params, from, to string, log logrus.FieldLogger) (string, int, error) {
	if to == "" {
		to = from + ResultSuffix
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	batches := corpus.BuildInputs(corpus.InputsOpener(from), p)
	defer batches.Close()

	f, err := ioutil.TempFile(filepath.Dir(to), "."+filepath.Base(to)+".*")
	if err != nil {
		return to, 0, errors.WithStack(err)
	}
	tmp := f.Name()
	fail := func(err error) (string, int, error) {
		f.Close()
		os.Remove(tmp)
		return to, 0, err
	}

	w := bufio.NewWriter(f)
	var lines int
	for batches.Next() {
		if err = ctx.Err(); err != nil {
			return fail(errors.WithStack(err))
		}
		b := batches.Batch()
		out, err := dec.Decode(b)
		if err != nil {
			return fail(errors.WithMessagef(err, "decoding lines %d-%d of %s", b.Lines[0], b.Lines[len(b.Lines)-1], from))
		}
		if len(out) != b.Size() {
			return fail(errors.Errorf("decoder returned %d sequences for a batch of %d", len(out), b.Size()))
		}
		for i, seq := range out {
			line := formatTokens(seq)
			log.WithField("line", b.Lines[i]).Debug(line)
			if _, err = w.WriteString(line); err != nil {
				return fail(errors.WithStack(err))
			}
			if err = w.WriteByte('\n'); err != nil {
				return fail(errors.WithStack(err))
			}
			lines++
		}
	}
	if err = batches.Err(); err != nil {
		return fail(err)
	}
	if err = w.Flush(); err != nil {
		return fail(errors.WithStack(err))
	}
	if err = f.Close(); err != nil {
		os.Remove(tmp)
		return to, 0, errors.WithStack(err)
	}
	if err = os.Rename(tmp, to); err != nil {
		os.Remove(tmp)
		return to, 0, errors.WithStack(err)
	}
	return to, lines, nil
}

func formatTokens(seq []int) string {
	var buf strings.Builder
	for i, tok := range seq {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(strconv.Itoa(tok))
	}
	return buf.String()
}
