package types

import (
	"image"
	"time"
)

// Frame is a single camera tick. It is owned by the loop iteration that read it.
type Frame struct {
	Index      int         // 1-based position within the session
	Data       []byte      // Encoded JPEG as delivered by the camera
	Image      *image.RGBA // Decoded pixels; overlays are drawn here in place
	CapturedAt time.Time
}

// Region is the face box reported by the worker, in frame pixels.
type Region struct {
	X int `msgpack:"x" json:"x"`
	Y int `msgpack:"y" json:"y"`
	W int `msgpack:"w" json:"w"`
	H int `msgpack:"h" json:"h"`
}

// Rect converts the region to an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// AnalyzeResponse matches the msgpack/JSON structure coming back from the emotion worker.
type AnalyzeResponse struct {
	Status   string             `msgpack:"status" json:"status"`
	Dominant string             `msgpack:"dominant_emotion" json:"dominant_emotion"`
	Emotion  map[string]float64 `msgpack:"emotion" json:"emotion"`
	Region   Region             `msgpack:"region" json:"region"`
	Error    string             `msgpack:"error" json:"error"`
}
