package corpus

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Split is a named partition of the corpus.
type Split string

const (
	Train Split = "train"
	Test  Split = "test"
)

// Files returns the input and target file names of the split under dataDir.
func (s Split) Files(dataDir string) (input, target string) {
	return filepath.Join(dataDir, string(s)+".input"), filepath.Join(dataDir, string(s)+".target")
}

const maxLineSize = 16 << 20

// Stream is a lazy, finite sequence of raw lines. Input-only streams return an
// empty target.
type Stream interface {
	Next() bool
	Pair() (input, target string)
	Line() int // 1-based number of the current line
	Name() string
	Err() error
	Close() error
}

// Opener opens a fresh Stream. Streams are restarted by reopening them.
type Opener func() (Stream, error)

// Pairs reads the input and target files of a split in lock-step.
type Pairs struct {
	split         Split
	in, tgt       *os.File
	inSc, tgtSc   *bufio.Scanner
	line          int
	input, target string
	err           error
}

// OpenSplit opens {split}.input and {split}.target under dataDir.
func OpenSplit(dataDir string, split Split) (*Pairs, error) {
	inName, tgtName := split.Files(dataDir)
	in, err := os.Open(inName)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	tgt, err := os.Open(tgtName)
	if err != nil {
		in.Close()
		return nil, errors.WithStack(err)
	}
	return &Pairs{
		split: split,
		in:    in,
		tgt:   tgt,
		inSc:  newScanner(in),
		tgtSc: newScanner(tgt),
	}, nil
}

// SplitOpener returns an Opener for the split under dataDir.
func SplitOpener(dataDir string, split Split) Opener {
	return func() (Stream, error) { return OpenSplit(dataDir, split) }
}

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	return sc
}

// Next advances both files by one line.
func (p *Pairs) Next() bool {
	if p.err != nil {
		return false
	}
	okIn := p.inSc.Scan()
	okTgt := p.tgtSc.Scan()
	if err := firstErr(p.inSc.Err(), p.tgtSc.Err()); err != nil {
		p.err = errors.Wrapf(err, "reading %s", p.split)
		return false
	}
	switch {
	case okIn && okTgt:
		p.line++
		p.input, p.target = p.inSc.Text(), p.tgtSc.Text()
		return true
	case !okIn && !okTgt:
		return false
	}

	// one of the files ran out early. Count the rest of the other one.
	inLines, tgtLines := p.line, p.line
	if okIn {
		inLines += 1 + drain(p.inSc)
	} else {
		tgtLines += 1 + drain(p.tgtSc)
	}
	p.err = &ShapeMismatchError{Split: string(p.split), InputLines: inLines, TargetLines: tgtLines}
	return false
}

func (p *Pairs) Pair() (input, target string) { return p.input, p.target }
func (p *Pairs) Line() int                    { return p.line }
func (p *Pairs) Name() string                 { return string(p.split) }
func (p *Pairs) Err() error                   { return p.err }

// Close closes both files.
func (p *Pairs) Close() error {
	return firstErr(p.in.Close(), p.tgt.Close())
}

// Lines reads an input-only file, one example per line.
type Lines struct {
	name string
	f    *os.File
	sc   *bufio.Scanner
	line int
	text string
	err  error
}

// OpenInputs opens an inference input file.
func OpenInputs(path string) (*Lines, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Lines{name: filepath.Base(path), f: f, sc: newScanner(f)}, nil
}

// InputsOpener returns an Opener for the inference input file at path.
func InputsOpener(path string) Opener {
	return func() (Stream, error) { return OpenInputs(path) }
}

func (l *Lines) Next() bool {
	if l.err != nil {
		return false
	}
	if !l.sc.Scan() {
		if err := l.sc.Err(); err != nil {
			l.err = errors.Wrapf(err, "reading %s", l.name)
		}
		return false
	}
	l.line++
	l.text = l.sc.Text()
	return true
}

func (l *Lines) Pair() (input, target string) { return l.text, "" }
func (l *Lines) Line() int                    { return l.line }
func (l *Lines) Name() string                 { return l.name }
func (l *Lines) Err() error                   { return l.err }
func (l *Lines) Close() error                 { return l.f.Close() }

func drain(sc *bufio.Scanner) (n int) {
	for sc.Scan() {
		n++
	}
	return n
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
