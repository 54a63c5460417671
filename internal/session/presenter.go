package session

import "image"

// Tee presents every frame to each presenter in order. The first error ends the fan-out
// for that frame and is returned.
func Tee(ps ...Presenter) Presenter {
	var out tee
	for _, p := range ps {
		if p != nil {
			out = append(out, p)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

type tee []Presenter

func (t tee) Present(img *image.RGBA, v View) error {
	for _, p := range t {
		if err := p.Present(img, v); err != nil {
			return err
		}
	}
	return nil
}
