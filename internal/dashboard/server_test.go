package dashboard

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andresmejia3/moodlens/internal/camera"
	"github.com/andresmejia3/moodlens/internal/emotion"
	"github.com/andresmejia3/moodlens/internal/session"
	"github.com/gin-gonic/gin"
)

// The controller is the dashboard's session.
var _ Session = (*session.Controller)(nil)
var _ session.Presenter = (*Hub)(nil)

type fakeSession struct {
	mu       sync.Mutex
	startErr error
	snapErr  error
	started  int
	stopped  int
	view     session.View
	faces    [][]byte
	csv      string
}

func (f *fakeSession) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	if f.startErr != nil {
		f.view.LastError = f.startErr.Error()
		return f.startErr
	}
	f.view.State = session.Running
	return nil
}

func (f *fakeSession) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	f.view.State = session.Idle
}

func (f *fakeSession) Snapshot(context.Context) (string, error) {
	if f.snapErr != nil {
		return "", f.snapErr
	}
	return "/snaps/snapshot_1.jpg", nil
}

func (f *fakeSession) View() session.View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

func (f *fakeSession) Faces() [][]byte { return f.faces }

func (f *fakeSession) ExportCSV(w io.Writer) error {
	_, err := io.WriteString(w, f.csv)
	return err
}

func newTestServer(sess Session) (*Server, *Hub) {
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	return New(context.Background(), sess, hub, Options{}), hub
}

func do(s *Server, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestStartStopState(t *testing.T) {
	fs := &fakeSession{view: session.View{SessionID: "abc"}}
	s, _ := newTestServer(fs)

	w := do(s, http.MethodPost, "/api/start")
	if w.Code != http.StatusOK {
		t.Fatalf("start status = %d: %s", w.Code, w.Body)
	}

	w = do(s, http.MethodGet, "/api/state")
	var v map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("state is not JSON: %v", err)
	}
	if v["state"] != "running" || v["session_id"] != "abc" {
		t.Errorf("Unexpected state %v", v)
	}

	w = do(s, http.MethodPost, "/api/stop")
	if w.Code != http.StatusOK || fs.stopped != 1 {
		t.Errorf("stop status = %d, stops = %d", w.Code, fs.stopped)
	}
}

func TestStartCameraUnavailable(t *testing.T) {
	fs := &fakeSession{startErr: fmt.Errorf("open /dev/video9: %w", camera.ErrDeviceUnavailable)}
	s, _ := newTestServer(fs)

	w := do(s, http.MethodPost, "/api/start")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if !strings.Contains(w.Body.String(), "camera device unavailable") {
		t.Errorf("Body should carry the error: %s", w.Body)
	}

	// The banner on the page shows the stored error.
	w = do(s, http.MethodGet, "/")
	if !strings.Contains(w.Body.String(), "camera device unavailable") {
		t.Error("Index page should surface the last error")
	}
}

func TestSnapshot(t *testing.T) {
	s, _ := newTestServer(&fakeSession{})
	w := do(s, http.MethodPost, "/api/snapshot")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "snapshot_1.jpg") {
		t.Errorf("snapshot = %d %s", w.Code, w.Body)
	}

	s, _ = newTestServer(&fakeSession{snapErr: session.ErrNoFrame})
	if w := do(s, http.MethodPost, "/api/snapshot"); w.Code != http.StatusConflict {
		t.Errorf("snapshot without frame = %d, want 409", w.Code)
	}

	s, _ = newTestServer(&fakeSession{snapErr: errors.New("disk full")})
	if w := do(s, http.MethodPost, "/api/snapshot"); w.Code != http.StatusInternalServerError {
		t.Errorf("snapshot failure = %d, want 500", w.Code)
	}
}

func TestLogCSV(t *testing.T) {
	csv := "Time,Emotion\n2025-01-31 14:25:01,happy\n"
	s, _ := newTestServer(&fakeSession{csv: csv})
	w := do(s, http.MethodGet, "/api/log.csv")
	if w.Code != http.StatusOK || w.Body.String() != csv {
		t.Errorf("log.csv = %d %q", w.Code, w.Body)
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), "emotion_log.csv") {
		t.Error("Expected attachment filename")
	}
}

func TestChartPNG(t *testing.T) {
	fs := &fakeSession{view: session.View{Summary: map[string]int{emotion.Happy: 3, emotion.Sad: 1}}}
	s, _ := newTestServer(fs)
	w := do(s, http.MethodGet, "/api/chart.png")
	if w.Code != http.StatusOK {
		t.Fatalf("chart status = %d", w.Code)
	}
	img, err := png.Decode(w.Body)
	if err != nil {
		t.Fatalf("chart is not a PNG: %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, chartWidth, chartHeight) {
		t.Errorf("chart bounds = %v", img.Bounds())
	}
}

func TestFaces(t *testing.T) {
	fs := &fakeSession{faces: [][]byte{[]byte("jpeg-0"), []byte("jpeg-1")}}
	s, _ := newTestServer(fs)

	w := do(s, http.MethodGet, "/api/faces/1")
	if w.Code != http.StatusOK || w.Body.String() != "jpeg-1" || w.Header().Get("Content-Type") != "image/jpeg" {
		t.Errorf("face 1 = %d %q %s", w.Code, w.Body, w.Header().Get("Content-Type"))
	}
	for _, p := range []string{"/api/faces/2", "/api/faces/-1", "/api/faces/x"} {
		if w := do(s, http.MethodGet, p); w.Code != http.StatusNotFound {
			t.Errorf("%s = %d, want 404", p, w.Code)
		}
	}
}

func TestIndexRendersCurrentResult(t *testing.T) {
	cur := emotion.Result{Dominant: emotion.Happy, Confidence: 88.25}
	fs := &fakeSession{view: session.View{Current: &cur, Faces: 2}}
	s, _ := newTestServer(fs)
	w := do(s, http.MethodGet, "/")
	body := w.Body.String()
	if w.Code != http.StatusOK {
		t.Fatalf("index = %d", w.Code)
	}
	if !strings.Contains(body, "happy 88.2%") && !strings.Contains(body, "happy 88.3%") {
		t.Errorf("Index missing current result")
	}
	if !strings.Contains(body, "/api/faces/1") {
		t.Error("Index missing face gallery")
	}
}

func TestStreamDeliversFrames(t *testing.T) {
	s, hub := newTestServer(&fakeSession{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	hub.Publish([]byte("frame-bytes"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/stream.mjpg", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Errorf("Content-Type = %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	var part bytes.Buffer
	for !strings.Contains(part.String(), "frame-bytes") {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("stream ended early: %v (read %q)", err, part.String())
		}
		part.WriteString(line)
	}
	if !strings.Contains(part.String(), "--frame") || !strings.Contains(part.String(), "Content-Type: image/jpeg") {
		t.Errorf("Malformed part: %q", part.String())
	}
	if hub.Viewers() != 1 {
		t.Errorf("Viewers = %d, want 1", hub.Viewers())
	}
}

func TestHubDropsForSlowViewers(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe()
	hub.Publish([]byte("a"))
	hub.Publish([]byte("b")) // buffer full, dropped
	if got := <-ch; string(got) != "a" {
		t.Errorf("got %q, want a", got)
	}
	if string(hub.Latest()) != "b" {
		t.Errorf("Latest = %q, want b", hub.Latest())
	}
	hub.Unsubscribe(ch)
	if hub.Viewers() != 0 {
		t.Error("Unsubscribe should remove the viewer")
	}
}
