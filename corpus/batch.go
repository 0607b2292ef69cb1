package corpus

import (
	"math/rand"
	"time"

	"github.com/gorgonia/seqdecoder/hparams"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Batch is a rectangular stack of records.
type Batch struct {
	Inputs    *tensor.Dense // float32, (n, hidden_size)
	TargetsIn *tensor.Dense // int, (n, length). nil for inference batches
	Targets   *tensor.Dense // int, (n, length). nil for inference batches
	Lines     []int         // source line of each row
}

// Size is the number of examples in the batch.
func (b *Batch) Size() int { return len(b.Lines) }

// MakeBatch stacks records into a batch. All records must have the same widths.
func MakeBatch(recs []Record) (*Batch, error) {
	if len(recs) == 0 {
		return nil, errors.New("cannot make an empty batch")
	}
	n := len(recs)
	hidden := len(recs[0].Input)
	length := len(recs[0].Target)

	inputs := make([]float32, 0, n*hidden)
	lines := make([]int, 0, n)
	var targetsIn, targets []int
	if length > 0 {
		targetsIn = make([]int, 0, n*length)
		targets = make([]int, 0, n*length)
	}
	for _, rec := range recs {
		if len(rec.Input) != hidden || len(rec.Target) != length || len(rec.Shifted) != length {
			return nil, errors.Errorf("ragged record at line %d", rec.Line)
		}
		inputs = append(inputs, rec.Input...)
		targetsIn = append(targetsIn, rec.Shifted...)
		targets = append(targets, rec.Target...)
		lines = append(lines, rec.Line)
	}

	retVal := &Batch{
		Inputs: tensor.New(tensor.WithShape(n, hidden), tensor.WithBacking(inputs)),
		Lines:  lines,
	}
	if length > 0 {
		retVal.TargetsIn = tensor.New(tensor.WithShape(n, length), tensor.WithBacking(targetsIn))
		retVal.Targets = tensor.New(tensor.WithShape(n, length), tensor.WithBacking(targets))
	}
	return retVal, nil
}

// Batches is a lazy sequence of batches, read with the Next/Batch/Err idiom.
type Batches struct {
	open      Opener
	name      string
	hidden    int
	length    int // 0 for inference
	size      int
	epochs    int
	shuf      *Shuffler
	inference bool

	epoch   int
	src     Stream
	pending []Record
	cur     *Batch
	records int
	err     error
	done    bool
}

// Build returns the batches of a split. The train split is shuffled through a
// buffer of train_samples records and batched by batch_size; the test split
// keeps its order and is batched by test_samples. The split is read epochs
// times; batches run across epoch boundaries so only the final batch may be
// short.
//
// The train shuffle draws from r. Callers that build the train split more than
// once should share one r so that every build sees a fresh permutation; a nil r
// is seeded from p.Seed.
func Build(open Opener, split Split, p hparams.Params, epochs int, r *rand.Rand) *Batches {
	b := &Batches{
		open:   open,
		name:   string(split),
		hidden: p.HiddenSize,
		length: p.Length,
		size:   p.TestSamples,
		epochs: epochs,
	}
	if split == Train {
		b.size = p.BatchSize
		if r == nil {
			r = NewRand(p.Seed)
		}
		b.shuf = NewShuffler(p.TrainSamples, r)
	}
	return b
}

// BuildInputs returns the batches of an input-only stream, in order, batched by
// batch_size.
func BuildInputs(open Opener, p hparams.Params) *Batches {
	return &Batches{
		open:      open,
		hidden:    p.HiddenSize,
		size:      p.BatchSize,
		epochs:    1,
		inference: true,
	}
}

// NewRand returns the shuffle source for a seed. A zero seed seeds from the
// clock.
func NewRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// Next prepares the next batch. It returns false when the sequence is exhausted
// or an error occurred.
func (b *Batches) Next() bool {
	if b.err != nil || b.done {
		return false
	}
	b.pending = b.pending[:0]
	for len(b.pending) < b.size {
		rec, ok, err := b.nextRecord()
		if err != nil {
			b.fail(err)
			return false
		}
		if !ok {
			b.done = true
			break
		}
		b.pending = append(b.pending, rec)
	}
	if len(b.pending) == 0 {
		return false
	}
	if b.cur, b.err = MakeBatch(b.pending); b.err != nil {
		return false
	}
	b.records += len(b.pending)
	return true
}

// Batch returns the current batch.
func (b *Batches) Batch() *Batch { return b.cur }

// Records is the number of records delivered so far.
func (b *Batches) Records() int { return b.records }

// Err returns the first error encountered.
func (b *Batches) Err() error { return b.err }

// Close releases the underlying stream.
func (b *Batches) Close() error {
	if b.src == nil {
		return nil
	}
	err := b.src.Close()
	b.src = nil
	return errors.WithStack(err)
}

func (b *Batches) fail(err error) {
	b.err = err
	b.Close()
}

// nextRecord returns the next record in delivery order.
func (b *Batches) nextRecord() (Record, bool, error) {
	for b.epoch < b.epochs {
		var rec Record
		var ok bool
		var err error
		if b.shuf != nil {
			rec, ok, err = b.shuf.Next(b.read)
		} else {
			rec, ok, err = b.read()
		}
		if err != nil || ok {
			return rec, ok, err
		}
		// end of epoch
		if err = b.Close(); err != nil {
			return Record{}, false, err
		}
		b.epoch++
	}
	return Record{}, false, nil
}

// read parses the next line of the current epoch's stream, opening it if need be.
func (b *Batches) read() (Record, bool, error) {
	if b.src == nil {
		src, err := b.open()
		if err != nil {
			return Record{}, false, err
		}
		b.src = src
		if b.name == "" {
			b.name = src.Name()
		}
	}
	if !b.src.Next() {
		if err := b.src.Err(); err != nil {
			return Record{}, false, err
		}
		return Record{}, false, nil
	}
	input, target := b.src.Pair()
	line := b.src.Line()
	if b.inference {
		in, err := ParseInput(input, b.hidden)
		if err != nil {
			return Record{}, false, &MalformedRecordError{Split: b.name, Line: line, Err: err}
		}
		return Record{Line: line, Input: in}, true, nil
	}
	rec, err := ParseRecord(b.name, line, input, target, b.hidden, b.length)
	return rec, err == nil, err
}
