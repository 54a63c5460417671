package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/andresmejia3/moodlens/internal/emotion"
	"github.com/andresmejia3/moodlens/internal/types"
)

// --- Emotion (/analyze) ---
type EmoResp struct {
	DominantEmotion string             `json:"dominant_emotion"`
	Emotion         map[string]float64 `json:"emotion"`
	Region          types.Region       `json:"region"`
	Error           string             `json:"error,omitempty"`
}

// EmotionService classifies frames through a remote DeepFace HTTP service.
type EmotionService struct {
	http *HTTP
	url  string
}

func NewEmotionService(h *HTTP, url string) *EmotionService {
	return &EmotionService{http: h, url: url}
}

// Analyze uploads the JPEG frame and decodes the classification.
func (s *EmotionService) Analyze(ctx context.Context, frame types.Frame) (emotion.Result, error) {
	out, err := s.http.Emotion(ctx, s.url, frame.Data)
	if err != nil {
		return emotion.Result{}, err
	}
	if out.Error != "" {
		return emotion.Result{}, fmt.Errorf("emotion service: %s", out.Error)
	}
	if out.DominantEmotion == "" {
		return emotion.FromScores(out.Emotion, out.Region.Rect())
	}
	return emotion.NewResult(out.DominantEmotion, out.Emotion, out.Region.Rect()), nil
}

func (h *HTTP) Emotion(ctx context.Context, url string, jpeg []byte) (*EmoResp, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	fw, err := w.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, err
	}
	if _, err = fw.Write(jpeg); err != nil {
		return nil, err
	}
	if err = w.WriteField("enforce_detection", "false"); err != nil {
		return nil, err
	}
	if err = w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/analyze", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := h.c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("emotion %s: %s", resp.Status, string(body))
	}

	var out EmoResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("emotion decode: %w", err)
	}
	return &out, nil
}
