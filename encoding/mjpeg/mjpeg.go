// Package mjpeg serves the progress of a run as a live MJPEG stream.
package mjpeg

import (
	"bytes"
	"image/jpeg"
	"net/http"

	"github.com/gorgonia/seqdecoder"
	"github.com/gorgonia/seqdecoder/encoding/frame"
	"github.com/mattn/go-mjpeg"
	"github.com/pkg/errors"
)

// Encoder pushes a frame to every connected client on each evaluation. It
// implements seqdecoder.OutputEncoder and http.Handler.
type Encoder struct {
	*frame.Renderer

	stream *mjpeg.Stream
	last   []byte
}

func (e *Encoder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.stream.ServeHTTP(w, r)
}

// NewEncoder with height and width
func NewEncoder(h, w int) *Encoder {
	return &Encoder{
		Renderer: frame.New(h, w),
		stream:   mjpeg.NewStream(),
	}
}

// Encode a run
func (enc *Encoder) Encode(rs seqdecoder.RunState) error {
	var b bytes.Buffer
	if err := jpeg.Encode(&b, enc.Render(rs), nil); err != nil {
		return errors.WithStack(err)
	}
	enc.last = b.Bytes()
	return errors.WithStack(enc.stream.Update(enc.last))
}

// Last returns the last JPEG frame pushed to the stream.
func (enc *Encoder) Last() []byte { return enc.last }

func (enc *Encoder) Flush() error { return nil }
