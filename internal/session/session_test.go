package session

import (
	"bytes"
	"context"
	"errors"
	"image"
	"os"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andresmejia3/moodlens/internal/camera"
	"github.com/andresmejia3/moodlens/internal/emotion"
	"github.com/andresmejia3/moodlens/internal/snapshot"
	"github.com/andresmejia3/moodlens/internal/speech"
	"github.com/andresmejia3/moodlens/internal/types"
)

// --- fakes ---

type fakeCamera struct {
	mu      sync.Mutex
	openErr error
	limit   int // frames before ErrFrameRead; 0 means endless
	delay   time.Duration
	opens   int
	closes  int
	next    int
}

func (f *fakeCamera) Open(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	return f.openErr
}

func (f *fakeCamera) Read() (types.Frame, error) {
	f.mu.Lock()
	if f.limit > 0 && f.next >= f.limit {
		f.mu.Unlock()
		return types.Frame{}, camera.ErrFrameRead
	}
	f.next++
	idx := f.next
	endless := f.limit == 0
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	} else if endless {
		time.Sleep(time.Millisecond)
	}
	return types.Frame{Index: idx, Image: image.NewRGBA(image.Rect(0, 0, 64, 48)), CapturedAt: time.Now()}, nil
}

func (f *fakeCamera) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeCamera) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens, f.closes
}

type fakeAnalyzer struct {
	mu      sync.Mutex
	calls   int
	results []emotion.Result
	errs    map[int]error // keyed by 1-based call number
}

func (a *fakeAnalyzer) Analyze(context.Context, types.Frame) (emotion.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if err := a.errs[a.calls]; err != nil {
		return emotion.Result{}, err
	}
	if len(a.results) == 0 {
		return emotion.NewResult(emotion.Happy, map[string]float64{emotion.Happy: 90}, image.Rect(10, 10, 30, 30)), nil
	}
	return a.results[(a.calls-1)%len(a.results)], nil
}

func (a *fakeAnalyzer) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type presenterFunc func(img *image.RGBA, v View) error

func (f presenterFunc) Present(img *image.RGBA, v View) error { return f(img, v) }

type recordingSink struct {
	mu      sync.Mutex
	started int
	stopped int
	entries []LogEntry
	snaps   []string
	fail    bool
}

func (s *recordingSink) SessionStarted(context.Context, string, time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started++
	return nil
}

func (s *recordingSink) Record(_ context.Context, _ string, e LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	if s.fail {
		return errors.New("sink down")
	}
	return nil
}

func (s *recordingSink) SnapshotSaved(_ context.Context, _ string, path string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, path)
	return nil
}

func (s *recordingSink) SessionStopped(context.Context, string, time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
	return nil
}

// blockingSink holds Record until released and reports the context it was handed.
type blockingSink struct {
	recordingSink
	entered chan struct{}
	release chan struct{}
	ctxErr  chan error
}

func (s *blockingSink) Record(ctx context.Context, id string, e LogEntry) error {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	<-s.release
	select {
	case s.ctxErr <- ctx.Err():
	default:
	}
	return s.recordingSink.Record(ctx, id, e)
}

type recordingSpeaker struct {
	mu   sync.Mutex
	said []string
}

func (r *recordingSpeaker) Say(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.said = append(r.said, text)
	return nil
}

// stopAfter returns a presenter that stops c once it has seen n frames.
func stopAfter(c **Controller, n int, seen *[]View) Presenter {
	return presenterFunc(func(_ *image.RGBA, v View) error {
		*seen = append(*seen, v)
		if len(*seen) == n {
			(*c).Stop()
		}
		return nil
	})
}

// --- units ---

func TestThrottleDue(t *testing.T) {
	th := Throttle{Interval: 5}
	var due []int
	for i := 1; i <= 12; i++ {
		if th.Due(i) {
			due = append(due, i)
		}
	}
	if !reflect.DeepEqual(due, []int{5, 10}) {
		t.Errorf("Due frames = %v, want [5 10]", due)
	}

	every := Throttle{Interval: 1}
	for i := 1; i <= 3; i++ {
		if !every.Due(i) {
			t.Errorf("Interval 1 should analyze frame %d", i)
		}
	}
	if !(Throttle{}).Due(7) {
		t.Error("Zero interval should behave like 1")
	}
}

func TestLogOrderingAndExport(t *testing.T) {
	var l Log
	base := time.Date(2025, 1, 31, 14, 25, 1, 0, time.UTC)
	l.Record(base, emotion.Happy, 80)
	l.Record(base.Add(2*time.Second), emotion.Sad, 70)
	// clock stepped backwards
	e := l.Record(base.Add(time.Second), emotion.Neutral, 55)

	if !e.Time.Equal(base.Add(2 * time.Second)) {
		t.Errorf("Backwards timestamp was not clamped: %v", e.Time)
	}
	entries := l.Entries()
	for i := 1; i < len(entries); i++ {
		if entries[i].Time.Before(entries[i-1].Time) {
			t.Fatalf("Log out of order at %d", i)
		}
	}

	var buf bytes.Buffer
	if err := l.Export(&buf); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	want := "Time,Emotion\n" +
		"2025-01-31 14:25:01,happy\n" +
		"2025-01-31 14:25:03,sad\n" +
		"2025-01-31 14:25:03,neutral\n"
	if buf.String() != want {
		t.Errorf("CSV = %q, want %q", buf.String(), want)
	}

	sum := l.Summarize()
	if sum[emotion.Happy] != 1 || sum[emotion.Sad] != 1 || sum[emotion.Neutral] != 1 {
		t.Errorf("Summary = %v", sum)
	}
}

func TestExportEmptyLogHasHeader(t *testing.T) {
	var l Log
	var buf bytes.Buffer
	if err := l.Export(&buf); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "Time,Emotion\n" {
		t.Errorf("Empty export = %q", buf.String())
	}
}

func TestRecentFacesFIFO(t *testing.T) {
	r := NewRecentFaces(FacesCapacity)
	for i := 0; i < 7; i++ {
		r.Push([]byte{byte(i)})
	}
	items := r.Items()
	if len(items) != FacesCapacity {
		t.Fatalf("Len = %d, want %d", len(items), FacesCapacity)
	}
	for i, it := range items {
		if it[0] != byte(i+2) {
			t.Errorf("items[%d] = %d, want %d (oldest evicted first)", i, it[0], i+2)
		}
	}
}

// --- controller ---

func TestControllerThrottlesInference(t *testing.T) {
	cam := &fakeCamera{}
	an := &fakeAnalyzer{}
	var c *Controller
	var seen []View
	c = New(Options{Camera: cam, Analyzer: an, Interval: 5})
	c.SetPresenter(stopAfter(&c, 10, &seen))

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	if got := an.count(); got != 2 {
		t.Errorf("Analyzer called %d times, want 2", got)
	}
	if got := len(c.Entries()); got != 2 {
		t.Errorf("Log has %d entries, want 2", got)
	}
	if len(seen) != 10 {
		t.Fatalf("Presented %d frames, want 10", len(seen))
	}
	for i, v := range seen {
		hasResult := v.Current != nil
		if want := i+1 >= 5; hasResult != want {
			t.Errorf("Frame %d: cached result present = %v, want %v", i+1, hasResult, want)
		}
	}
	if c.State() != Idle {
		t.Error("Controller should be idle after stop")
	}
	if _, closes := cam.counts(); closes != 1 {
		t.Errorf("Camera closed %d times, want 1", closes)
	}
}

func TestControllerCameraOpenFailure(t *testing.T) {
	cam := &fakeCamera{openErr: camera.ErrDeviceUnavailable}
	c := New(Options{Camera: cam, Analyzer: &fakeAnalyzer{}})

	err := c.Start(context.Background())
	if !errors.Is(err, camera.ErrDeviceUnavailable) {
		t.Fatalf("Start error = %v", err)
	}
	v := c.View()
	if v.State != Idle {
		t.Error("Failed start must leave the controller idle")
	}
	if v.LastError == "" {
		t.Error("LastError should describe the camera failure")
	}
}

func TestControllerReadFailureEndsSession(t *testing.T) {
	cam := &fakeCamera{limit: 3}
	c := New(Options{Camera: cam, Analyzer: &fakeAnalyzer{}, Interval: 1})

	err := c.Run(context.Background())
	if !errors.Is(err, camera.ErrFrameRead) {
		t.Fatalf("Run error = %v, want ErrFrameRead", err)
	}
	v := c.View()
	if v.State != Idle || !strings.Contains(v.LastError, "grab frame") {
		t.Errorf("Unexpected view after read failure: %+v", v)
	}
	if v.Entries != 3 {
		t.Errorf("Entries = %d, want 3", v.Entries)
	}
}

func TestControllerStopReleasesCamera(t *testing.T) {
	cam := &fakeCamera{}
	sink := &recordingSink{}
	c := New(Options{Camera: cam, Analyzer: &fakeAnalyzer{}, Interval: 2, Sinks: []Sink{sink}})

	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Starting twice is a no-op.
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for c.View().Frames < 5 {
		if time.Now().After(deadline) {
			t.Fatal("Loop never produced frames")
		}
		time.Sleep(time.Millisecond)
	}

	c.Stop()
	if err := c.Wait(); err != nil {
		t.Fatalf("Wait returned %v", err)
	}
	c.Stop() // idle stop is a no-op

	opens, closes := cam.counts()
	if opens != 1 || closes != 1 {
		t.Errorf("opens=%d closes=%d, want 1/1", opens, closes)
	}
	if c.State() != Idle {
		t.Error("Expected idle after stop")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.started != 1 || sink.stopped != 1 {
		t.Errorf("Sink saw %d starts and %d stops", sink.started, sink.stopped)
	}
}

func TestControllerContextCancelStops(t *testing.T) {
	cam := &fakeCamera{}
	c := New(Options{Camera: cam, Analyzer: &fakeAnalyzer{}})
	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := c.Wait(); err != nil {
		t.Fatalf("Wait returned %v", err)
	}
	if _, closes := cam.counts(); closes != 1 {
		t.Error("Camera not released on cancellation")
	}
}

func TestControllerOverrideAndSpeech(t *testing.T) {
	region := image.Rect(0, 0, 20, 20)
	an := &fakeAnalyzer{results: []emotion.Result{
		emotion.NewResult(emotion.Sad, map[string]float64{emotion.Sad: 40}, region),
		emotion.NewResult(emotion.Happy, map[string]float64{emotion.Happy: 90}, region),
		emotion.NewResult(emotion.Sad, map[string]float64{emotion.Sad: 75}, region),
		emotion.NewResult(emotion.Sad, map[string]float64{emotion.Sad: 80}, region),
	}}
	spk := &recordingSpeaker{}
	cam := &fakeCamera{limit: 4}
	c := New(Options{
		Camera:   cam,
		Analyzer: an,
		Interval: 1,
		Override: emotion.DefaultOverride(),
		Notifier: speech.NewNotifier(spk, ""),
	})

	_ = c.Run(context.Background())

	var labels []string
	for _, e := range c.Entries() {
		labels = append(labels, e.Label)
	}
	if want := []string{"happy", "happy", "sad", "sad"}; !reflect.DeepEqual(labels, want) {
		t.Errorf("Logged %v, want %v", labels, want)
	}
	if want := []string{"happy", "sad"}; !reflect.DeepEqual(spk.said, want) {
		t.Errorf("Spoke %v, want %v", spk.said, want)
	}
	if cur := c.View().Current; cur == nil || cur.Raw != emotion.Sad {
		t.Errorf("Current result should keep the raw label, got %+v", cur)
	}
}

func TestControllerInferenceFailureKeepsPrevious(t *testing.T) {
	an := &fakeAnalyzer{errs: map[int]error{2: errors.New("no face detected")}}
	cam := &fakeCamera{}
	var c *Controller
	var seen []View
	c = New(Options{Camera: cam, Analyzer: an, Interval: 1})
	c.SetPresenter(stopAfter(&c, 2, &seen))

	if err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(c.Entries()) != 1 {
		t.Errorf("Failed inference must not be logged, got %d entries", len(c.Entries()))
	}
	last := seen[1]
	if last.Current == nil || last.Current.Dominant != emotion.Happy {
		t.Error("Previous result should still be displayed after a failure")
	}
	if last.Warning == "" {
		t.Error("Warning should be surfaced")
	}
}

func TestControllerSinksAndGallery(t *testing.T) {
	sink := &recordingSink{fail: true}
	cam := &fakeCamera{limit: 7}
	c := New(Options{Camera: cam, Analyzer: &fakeAnalyzer{}, Interval: 1, Sinks: []Sink{sink}})

	_ = c.Run(context.Background())

	if len(sink.entries) != 7 {
		t.Errorf("Sink got %d entries, want 7 (failures are best-effort)", len(sink.entries))
	}
	faces := c.Faces()
	if len(faces) != FacesCapacity {
		t.Fatalf("Gallery holds %d faces, want %d", len(faces), FacesCapacity)
	}
	if _, _, err := image.Decode(bytes.NewReader(faces[0])); err != nil {
		t.Errorf("Thumbnail is not a decodable image: %v", err)
	}
}

func TestControllerSnapshot(t *testing.T) {
	dir := t.TempDir()
	sink := &recordingSink{}
	c := New(Options{
		Camera:    &fakeCamera{limit: 1},
		Analyzer:  &fakeAnalyzer{},
		Snapshots: snapshot.NewWriter(dir),
		Sinks:     []Sink{sink},
	})

	if _, err := c.Snapshot(context.Background()); !errors.Is(err, ErrNoFrame) {
		t.Fatalf("Snapshot before any frame = %v, want ErrNoFrame", err)
	}

	_ = c.Run(context.Background())

	path, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Snapshot file missing: %v", err)
	}
	if len(sink.snaps) != 1 || sink.snaps[0] != path {
		t.Errorf("Sink snapshots = %v", sink.snaps)
	}
}

func TestPresenterClosedEndsQuietly(t *testing.T) {
	c := New(Options{
		Camera:    &fakeCamera{},
		Analyzer:  &fakeAnalyzer{},
		Presenter: presenterFunc(func(*image.RGBA, View) error { return ErrClosed }),
	})
	if err := c.Run(context.Background()); err != nil {
		t.Errorf("Closed surface should not be an error, got %v", err)
	}
	if c.View().LastError != "" {
		t.Error("LastError should stay empty")
	}
}

func TestTeeStopsAtFirstError(t *testing.T) {
	var calls []string
	mk := func(name string, err error) Presenter {
		return presenterFunc(func(*image.RGBA, View) error {
			calls = append(calls, name)
			return err
		})
	}
	p := Tee(mk("a", nil), nil, mk("b", ErrClosed), mk("c", nil))
	if err := p.Present(image.NewRGBA(image.Rect(0, 0, 1, 1)), View{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Tee error = %v", err)
	}
	if !reflect.DeepEqual(calls, []string{"a", "b"}) {
		t.Errorf("Presented to %v", calls)
	}
}

func TestControllerStartRightAfterStop(t *testing.T) {
	cam := &fakeCamera{delay: 50 * time.Millisecond}
	c := New(Options{Camera: cam, Analyzer: &fakeAnalyzer{}, Interval: 100})

	if err := c.Start(t.Context()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond) // loop is inside a slow Read
	c.Stop()
	if err := c.Start(t.Context()); err != nil {
		t.Fatalf("Start after Stop failed: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if got := c.State(); got != Running {
		t.Fatalf("State = %v after Stop+Start, want running", got)
	}
	opens, closes := cam.counts()
	if opens != 2 || closes != 1 {
		t.Errorf("opens=%d closes=%d, want 2 and 1", opens, closes)
	}

	c.Stop()
	c.Wait()
	if _, closes := cam.counts(); closes != 2 {
		t.Errorf("Camera closed %d times, want 2", closes)
	}
}

func TestControllerStopDoesNotCancelSinkWrites(t *testing.T) {
	sink := &blockingSink{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
		ctxErr:  make(chan error, 1),
	}
	c := New(Options{Camera: &fakeCamera{}, Analyzer: &fakeAnalyzer{}, Interval: 1, Sinks: []Sink{sink}})

	if err := c.Start(t.Context()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	select {
	case <-sink.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("Record was never called")
	}
	c.Stop()
	close(sink.release)

	if err := <-sink.ctxErr; err != nil {
		t.Errorf("Sink context was cancelled by Stop: %v", err)
	}
	c.Wait()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.started != 1 || sink.stopped != 1 {
		t.Errorf("started=%d stopped=%d, want 1 and 1", sink.started, sink.stopped)
	}
}
