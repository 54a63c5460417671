package overlay

import (
	"image"
	"image/color"
	"sort"

	"github.com/andresmejia3/moodlens/internal/emotion"
	"golang.org/x/image/draw"
)

var chartBackground = color.RGBA{R: 24, G: 24, B: 24, A: 255}

// DrawChart renders a bar chart of label counts into img. Known labels keep a fixed
// order; anything else is appended alphabetically.
func DrawChart(img *image.RGBA, counts map[string]int) {
	fillRect(img, img.Bounds(), chartBackground)

	labels := ChartLabels(counts)
	if len(labels) == 0 {
		return
	}
	max := 0
	for _, l := range labels {
		if counts[l] > max {
			max = counts[l]
		}
	}

	b := img.Bounds()
	slot := b.Dx() / len(labels)
	plotTop := b.Min.Y + 10
	plotBottom := b.Max.Y - 22
	plotH := plotBottom - plotTop
	for i, l := range labels {
		x0 := b.Min.X + i*slot + slot/6
		x1 := b.Min.X + (i+1)*slot - slot/6
		h := 0
		if max > 0 {
			h = counts[l] * plotH / max
		}
		fillRect(img, image.Rect(x0, plotBottom-h, x1, plotBottom), emotion.ColorFor(l))
		name := l
		if len(name) > 7 {
			name = name[:7]
		}
		drawText(img, name, x0, b.Max.Y-6, textColor)
	}
}

// ChartLabels returns the labels the chart draws, in order.
func ChartLabels(counts map[string]int) []string {
	var out []string
	known := map[string]bool{}
	for _, l := range emotion.Labels {
		known[l] = true
		if counts[l] > 0 {
			out = append(out, l)
		}
	}
	var extra []string
	for l, n := range counts {
		if !known[l] && n > 0 {
			extra = append(extra, l)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

// Thumbnail crops region out of img and scales it to a size x size square. An empty
// region (no face located) thumbnails the whole frame.
func Thumbnail(img *image.RGBA, region image.Rectangle, size int) *image.RGBA {
	src := region.Intersect(img.Bounds())
	if src.Empty() {
		src = img.Bounds()
	}
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)
	return dst
}
