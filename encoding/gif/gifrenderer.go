package gif

import (
	"image/gif"
	"io"

	"github.com/gorgonia/seqdecoder"
	"github.com/gorgonia/seqdecoder/encoding/frame"
	"github.com/pkg/errors"
)

// Encoder renders one frame per evaluation of a run and writes them as an
// animated GIF on Flush. It implements seqdecoder.OutputEncoder.
type Encoder struct {
	io.Writer
	*frame.Renderer

	out *gif.GIF
}

// NewGifEncoder with height and width
func NewGifEncoder(w io.Writer, h, wd int) *Encoder {
	return &Encoder{
		Writer:   w,
		Renderer: frame.New(h, wd),
		out:      &gif.GIF{LoopCount: -1},
	}
}

// Encode a run
func (enc *Encoder) Encode(rs seqdecoder.RunState) error {
	var delay int
	if rs.Cycle() == rs.Cycles()-1 || rs.State() == seqdecoder.SingleEvaluation {
		delay = 300 // linger on the final frame
	}
	enc.out.Image = append(enc.out.Image, enc.Render(rs))
	enc.out.Delay = append(enc.out.Delay, delay)
	return nil
}

// Frames is the number of frames encoded so far.
func (enc *Encoder) Frames() int { return len(enc.out.Image) }

// Flush writes the gif into the writer
func (enc *Encoder) Flush() error {
	if len(enc.out.Image) == 0 {
		return nil
	}
	return errors.WithStack(gif.EncodeAll(enc.Writer, enc.out))
}
