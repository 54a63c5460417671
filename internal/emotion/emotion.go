package emotion

import (
	"fmt"
	"image"
	"sort"
)

// The categories DeepFace reports for the emotion action.
const (
	Angry    = "angry"
	Disgust  = "disgust"
	Fear     = "fear"
	Happy    = "happy"
	Sad      = "sad"
	Surprise = "surprise"
	Neutral  = "neutral"
)

// Labels lists every known category in a stable order (used by charts and exports).
var Labels = []string{Angry, Disgust, Fear, Happy, Sad, Surprise, Neutral}

// Result is a single classification returned by the inference service.
type Result struct {
	Dominant   string             `json:"dominant"`
	Confidence float64            `json:"confidence"` // percent, 0-100
	Scores     map[string]float64 `json:"scores,omitempty"`
	Region     image.Rectangle    `json:"region"`
	// Raw is the label the classifier reported before any override rule ran.
	Raw string `json:"raw,omitempty"`
}

// NewResult builds a Result from a dominant label and its per-class scores.
// The confidence is looked up from the scores; a missing score yields 0.
func NewResult(dominant string, scores map[string]float64, region image.Rectangle) Result {
	return Result{
		Dominant:   dominant,
		Confidence: scores[dominant],
		Scores:     scores,
		Region:     region,
		Raw:        dominant,
	}
}

// FromScores picks the highest-confidence category as dominant.
func FromScores(scores map[string]float64, region image.Rectangle) (Result, error) {
	if len(scores) == 0 {
		return Result{}, fmt.Errorf("no emotion scores")
	}
	return NewResult(Ranked(scores)[0].Label, scores, region), nil
}

// Score pairs a category with its confidence.
type Score struct {
	Label      string
	Confidence float64
}

// Ranked returns the scores ordered by confidence, highest first. Ties are broken by label.
func Ranked(scores map[string]float64) []Score {
	out := make([]Score, 0, len(scores))
	for l, c := range scores {
		out = append(out, Score{Label: l, Confidence: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence == out[j].Confidence {
			return out[i].Label < out[j].Label
		}
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// Text is the overlay caption, e.g. "happy (80.0%)".
func (r Result) Text() string {
	return fmt.Sprintf("%s (%.1f%%)", r.Dominant, r.Confidence)
}

// Overridden reports whether a post-processing rule replaced the classifier's label.
func (r Result) Overridden() bool {
	return r.Raw != "" && r.Raw != r.Dominant
}
