package emotion

import "image/color"

// NeutralColor is used for neutral faces and for any label missing from the palette.
var NeutralColor = color.RGBA{R: 160, G: 160, B: 160, A: 255}

var palette = map[string]color.RGBA{
	Angry:    {R: 220, G: 40, B: 40, A: 255},
	Disgust:  {R: 110, G: 160, B: 40, A: 255},
	Fear:     {R: 150, G: 60, B: 200, A: 255},
	Happy:    {R: 40, G: 200, B: 80, A: 255},
	Sad:      {R: 50, G: 110, B: 230, A: 255},
	Surprise: {R: 250, G: 190, B: 30, A: 255},
	Neutral:  NeutralColor,
}

// ColorFor returns the overlay color for a label.
func ColorFor(label string) color.RGBA {
	if c, ok := palette[label]; ok {
		return c
	}
	return NeutralColor
}
