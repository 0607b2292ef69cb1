// Package frame draws the progress of a run: a few lines of text and the
// curve of the evaluation loss so far.
package frame

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/golang/freetype/truetype"
	"github.com/gorgonia/seqdecoder"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/math/fixed"
	"gorgonia.org/vecf32"
)

var regular *truetype.Font

const (
	dpi             = 144.0
	fontsize        = 12.0
	lineheight      = 1.2
	dummyLongString = `Cycle 100000/100000, Step 10000000`

	textLines = 5
	plotLines = 4
)

func init() {
	var err error
	if regular, err = truetype.Parse(gomono.TTF); err != nil {
		panic(err)
	}
}

// Palette is the palette of every rendered frame.
var Palette = color.Palette{
	color.Gray{0},
	color.Gray{253},
}

// Renderer draws RunStates. The frame size is fixed by the first render.
type Renderer struct {
	H, W int
	font.Drawer

	face font.Face

	maxH, maxW  int // maxHeight and maxWidth
	padH, padW  int // padding so everything don't start at the topleft
	initialized bool
}

// New returns a renderer whose frames are at most h by w pixels.
func New(h, w int) *Renderer {
	return &Renderer{
		H:    -1,
		W:    -1,
		maxH: h,
		maxW: w,
		padH: 10,
		padW: 10,

		Drawer: font.Drawer{
			Src: image.Black,
		},
	}
}

func (r *Renderer) init() {
	r.face = truetype.NewFace(regular, &truetype.Options{
		Size:    fontsize,
		DPI:     dpi,
		Hinting: font.HintingFull,
	})
	r.Drawer.Src = image.Black
	r.Drawer.Face = r.face

	dy := lineHeight()
	w := font.MeasureString(r.Face, dummyLongString).Ceil() + 2*r.padW
	h := (textLines+plotLines)*dy + 2*r.padH

	w = minInt(w, r.maxW)
	h = minInt(h, r.maxH)
	if w == r.maxW {
		r.padW = 0
	}
	if h == r.maxH {
		r.padH = 0
	}
	r.H = h
	r.W = w
	r.initialized = true
}

// Text returns the lines of text describing rs.
func Text(rs seqdecoder.RunState) []string {
	h := rs.History()
	retVal := make([]string, 0, textLines)
	retVal = append(retVal, rs.Name())
	if rs.Cycles() > 0 {
		retVal = append(retVal, fmt.Sprintf("Cycle %d/%d, Step %d", rs.Cycle()+1, rs.Cycles(), rs.Step()))
	} else {
		retVal = append(retVal, fmt.Sprintf("Step %d", rs.Step()))
	}
	retVal = append(retVal, rs.State().String())
	if n := h.Len(); n > 0 {
		retVal = append(retVal, fmt.Sprintf("train %.4f eval %.4f", h.TrainLoss[n-1], h.EvalLoss[n-1]))
	}
	if cycle, loss, ok := h.Best(); ok {
		retVal = append(retVal, fmt.Sprintf("best %.4f at cycle %d", loss, cycle))
	}
	return retVal
}

// Render draws rs into a new frame.
func (r *Renderer) Render(rs seqdecoder.RunState) *image.Paletted {
	if !r.initialized {
		r.init()
	}
	im := image.NewPaletted(image.Rect(0, 0, r.W, r.H), Palette)
	draw.Draw(im, im.Bounds(), image.White, image.Point{}, draw.Src)
	r.Dst = im

	dy := lineHeight()
	y := r.padH + dy
	for _, s := range Text(rs) {
		r.Dot = fixed.P(r.padW, y)
		r.DrawString(s)
		y += dy
	}

	top := r.padH + textLines*dy
	plot := image.Rect(r.padW, top, r.W-r.padW, minInt(top+plotLines*dy, r.H-r.padH))
	drawCurve(im, plot, rs.History().EvalLoss)
	return im
}

// drawCurve draws the axes of plot and the polyline of vals scaled to fit.
func drawCurve(im *image.Paletted, plot image.Rectangle, vals []float32) {
	if plot.Dx() < 2 || plot.Dy() < 2 {
		return
	}
	line(im, plot.Min.X, plot.Min.Y, plot.Min.X, plot.Max.Y-1)
	line(im, plot.Min.X, plot.Max.Y-1, plot.Max.X-1, plot.Max.Y-1)
	if len(vals) == 0 {
		return
	}

	lo, hi := vecf32.MinOf(vals), vecf32.MaxOf(vals)
	w, h := plot.Dx()-1, plot.Dy()-1
	point := func(i int) (int, int) {
		x := plot.Min.X
		if len(vals) > 1 {
			x += i * w / (len(vals) - 1)
		}
		y := plot.Min.Y + h/2
		if hi > lo {
			y = plot.Min.Y + int(float32(h)*(hi-vals[i])/(hi-lo))
		}
		return x, y
	}
	x0, y0 := point(0)
	im.SetColorIndex(x0, y0, 0)
	for i := 1; i < len(vals); i++ {
		x1, y1 := point(i)
		line(im, x0, y0, x1, y1)
		x0, y0 = x1, y1
	}
}

func line(im *image.Paletted, x0, y0, x1, y1 int) {
	steps := maxInt(absInt(x1-x0), absInt(y1-y0))
	if steps == 0 {
		im.SetColorIndex(x0, y0, 0)
		return
	}
	for s := 0; s <= steps; s++ {
		x := x0 + (x1-x0)*s/steps
		y := y0 + (y1-y0)*s/steps
		im.SetColorIndex(x, y, 0)
	}
}

func lineHeight() int { return int(math.Ceil(fontsize * lineheight * dpi / 72)) }

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func absInt(a int) int {
	if a < 0 {
		return -a
	}
	return a
}
