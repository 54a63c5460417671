package overlay

import (
	"image"
	"image/color"

	"github.com/andresmejia3/moodlens/internal/emotion"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Layout of the label box and confidence bar, in pixels from the top-left corner.
const (
	Margin      = 40
	BoxTop      = 20
	BoxHeight   = 24
	BoxPad      = 8
	BarGap      = 6
	BarHeight   = 10
	BarMax      = 200
	BorderWidth = 6
)

var (
	trackColor = color.RGBA{R: 60, G: 60, B: 60, A: 255}
	textColor  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Draw paints the cached result onto img in place: an emotion-colored label box with the
// caption, a confidence bar and a full-frame border. A nil result leaves img untouched.
func Draw(img *image.RGBA, res *emotion.Result) {
	if img == nil || res == nil {
		return
	}
	c := emotion.ColorFor(res.Dominant)
	caption := res.Text()

	textW := font.MeasureString(basicfont.Face7x13, caption).Ceil()
	box := image.Rect(Margin, BoxTop, Margin+textW+2*BoxPad, BoxTop+BoxHeight)
	fillRect(img, box, c)
	drawText(img, caption, box.Min.X+BoxPad, box.Max.Y-BoxPad, textColor)

	barTop := box.Max.Y + BarGap
	maxLen := BarMax
	if avail := img.Bounds().Dx() - 2*Margin; avail < maxLen {
		maxLen = avail
	}
	fillRect(img, image.Rect(Margin, barTop, Margin+maxLen, barTop+BarHeight), trackColor)
	fillRect(img, image.Rect(Margin, barTop, Margin+BarLength(res.Confidence, maxLen), barTop+BarHeight), c)

	DrawBorder(img, c, BorderWidth)
}

// BarLength maps a confidence percentage linearly onto [0, max] pixels.
func BarLength(confidence float64, max int) int {
	if max <= 0 || confidence <= 0 {
		return 0
	}
	if confidence >= 100 {
		return max
	}
	return int(confidence / 100 * float64(max))
}

// DrawBorder strokes the frame edge with width pixels of c.
func DrawBorder(img *image.RGBA, c color.RGBA, width int) {
	b := img.Bounds()
	fillRect(img, image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+width), c)
	fillRect(img, image.Rect(b.Min.X, b.Max.Y-width, b.Max.X, b.Max.Y), c)
	fillRect(img, image.Rect(b.Min.X, b.Min.Y, b.Min.X+width, b.Max.Y), c)
	fillRect(img, image.Rect(b.Max.X-width, b.Min.Y, b.Max.X, b.Max.Y), c)
}

// DrawMessage writes a one-line status message (idle hint, fatal error) at the bottom left.
func DrawMessage(img *image.RGBA, msg string, c color.RGBA) {
	b := img.Bounds()
	w := font.MeasureString(basicfont.Face7x13, msg).Ceil()
	bg := image.Rect(b.Min.X+10, b.Max.Y-34, b.Min.X+10+w+2*BoxPad, b.Max.Y-10)
	fillRect(img, bg, color.RGBA{A: 255})
	drawText(img, msg, bg.Min.X+BoxPad, bg.Max.Y-BoxPad, c)
}

func drawText(img *image.RGBA, s string, x, y int, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// fillRect writes c into every pixel of rect, clipped to the image bounds.
func fillRect(img *image.RGBA, rect image.Rectangle, c color.RGBA) {
	// Clip rect to image bounds to prevent panics
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return
	}
	stride := img.Stride
	pix := img.Pix
	imgMinX, imgMinY := img.Rect.Min.X, img.Rect.Min.Y
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		rowStart := (y-imgMinY)*stride + (rect.Min.X-imgMinX)*4
		for x := 0; x < rect.Dx(); x++ {
			off := rowStart + x*4
			pix[off] = c.R
			pix[off+1] = c.G
			pix[off+2] = c.B
			pix[off+3] = c.A
		}
	}
}
