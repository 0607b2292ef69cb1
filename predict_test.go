package seqdecoder

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/gorgonia/seqdecoder/corpus"
	"github.com/gorgonia/seqdecoder/hparams"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingDecoder struct{ after int }

func (d *failingDecoder) Decode(b *corpus.Batch) ([][]int, error) {
	if d.after == 0 {
		return nil, errors.New("boom")
	}
	d.after--
	return make([][]int, b.Size()), nil
}

func predictParams(batchSize int) hparams.Params {
	p := hparams.Defaults()
	p.HiddenSize = 2
	p.BatchSize = batchSize
	return p.Derive()
}

func TestPredict(t *testing.T) {
	dir := t.TempDir()
	from := filepath.Join(dir, "in.txt")
	require.NoError(t, ioutil.WriteFile(from, []byte("1 2\n3 4 5\n"), 0644))

	a := new(fakeAdapter)
	log, _ := quietLogger()
	to, lines, err := PredictFromFile(context.Background(), a, predictParams(1), from, "", log)
	require.NoError(t, err)
	assert.Equal(t, from+".result", to)
	assert.Equal(t, 2, lines)
	assert.Equal(t, []int{1, 1}, a.decoded)

	bs, err := ioutil.ReadFile(to)
	require.NoError(t, err)
	assert.Equal(t, "1 2\n3 4\n", string(bs))
}

func TestPredictOrder(t *testing.T) {
	dir := t.TempDir()
	from := filepath.Join(dir, "in.txt")
	to := filepath.Join(dir, "out.txt")
	require.NoError(t, ioutil.WriteFile(from, []byte("1 1\n2 2\n3 3\n4 4\n5 5\n"), 0644))

	a := new(fakeAdapter)
	_, lines, err := PredictFromFile(context.Background(), a, predictParams(2), from, to, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, lines)
	assert.Equal(t, []int{2, 2, 1}, a.decoded)

	bs, err := ioutil.ReadFile(to)
	require.NoError(t, err)
	assert.Equal(t, "1 1\n2 2\n3 3\n4 4\n5 5\n", string(bs))
}

func TestPredictAllOrNothing(t *testing.T) {
	dir := t.TempDir()
	from := filepath.Join(dir, "in.txt")
	require.NoError(t, ioutil.WriteFile(from, []byte("1 1\n2 2\n3 3\n"), 0644))

	_, _, err := PredictFromFile(context.Background(), &failingDecoder{after: 1}, predictParams(1), from, "", nil)
	assert.Error(t, err)

	infos, err := ioutil.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, infos, 1, "no result and no temporary file left behind")
	assert.Equal(t, "in.txt", infos[0].Name())
}

func TestPredictMalformed(t *testing.T) {
	dir := t.TempDir()
	from := filepath.Join(dir, "in.txt")
	require.NoError(t, ioutil.WriteFile(from, []byte("1 1\n2\n"), 0644))

	_, _, err := PredictFromFile(context.Background(), new(fakeAdapter), predictParams(4), from, "", nil)
	var malformed *corpus.MalformedRecordError
	require.True(t, errors.As(err, &malformed), "got %v", err)
	assert.Equal(t, 2, malformed.Line)
	assert.True(t, errors.Is(err, corpus.ErrShortRecord))
}

func TestPredictMissingInput(t *testing.T) {
	dir := t.TempDir()
	_, _, err := PredictFromFile(context.Background(), new(fakeAdapter), predictParams(1), filepath.Join(dir, "nope"), "", nil)
	assert.Error(t, err)
}

func TestFormatTokens(t *testing.T) {
	assert.Equal(t, "", formatTokens(nil))
	assert.Equal(t, "7", formatTokens([]int{7}))
	assert.Equal(t, "0 12 3", formatTokens([]int{0, 12, 3}))
}
