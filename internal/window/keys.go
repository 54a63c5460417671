package window

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/andresmejia3/moodlens/internal/overlay"
	"github.com/andresmejia3/moodlens/internal/session"
)

// Action is a user command issued from the keyboard.
type Action int

const (
	None Action = iota
	Start
	Stop
	Snapshot
	Quit
)

// ActionFor maps a WaitKey code onto an Action. Esc quits like q.
func ActionFor(key int) Action {
	if key < 0 {
		return None
	}
	switch key & 0xff {
	case 's', 'S':
		return Start
	case 'x', 'X':
		return Stop
	case 'p', 'P':
		return Snapshot
	case 'q', 'Q', 27:
		return Quit
	}
	return None
}

var (
	hintColor  = color.RGBA{R: 230, G: 230, B: 230, A: 255}
	errorColor = color.RGBA{R: 255, G: 90, B: 90, A: 255}
	idleFill   = color.RGBA{R: 20, G: 20, B: 20, A: 255}
)

// IdleFrame is what the video window shows while no session is running: the last error
// if the previous session failed, otherwise the key hints.
func IdleFrame(w, h int, v session.View) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(idleFill), image.Point{}, draw.Src)
	if v.LastError != "" {
		overlay.DrawMessage(img, "Error: "+v.LastError, errorColor)
		return img
	}
	overlay.DrawMessage(img, "s: start  x: stop  p: snapshot  q: quit", hintColor)
	return img
}
