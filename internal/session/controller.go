// Package session runs the capture, classify, annotate and present loop for one user
// session and keeps the session's state: the emotion log, the last result and the recent
// faces gallery.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/andresmejia3/moodlens/internal/camera"
	"github.com/andresmejia3/moodlens/internal/emotion"
	"github.com/andresmejia3/moodlens/internal/overlay"
	"github.com/andresmejia3/moodlens/internal/snapshot"
	"github.com/andresmejia3/moodlens/internal/speech"
	"github.com/andresmejia3/moodlens/internal/types"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrNoFrame is returned by Snapshot before any frame has been rendered.
	ErrNoFrame = errors.New("no frame captured yet")
	// ErrClosed is returned by a Presenter whose surface has gone away. The session ends
	// without recording an error.
	ErrClosed = errors.New("presentation surface closed")
)

// SinkTimeout bounds each sink call. Sink calls are detached from the session context so
// that Stop never interrupts a write in flight.
const SinkTimeout = 5 * time.Second

// Analyzer classifies a single frame.
type Analyzer interface {
	Analyze(ctx context.Context, frame types.Frame) (emotion.Result, error)
}

// Presenter receives every annotated frame, whether or not it was analyzed.
type Presenter interface {
	Present(img *image.RGBA, v View) error
}

// Sink receives session events for persistence or publication. Sinks are best-effort:
// a failing sink is logged and never stops the loop.
type Sink interface {
	SessionStarted(ctx context.Context, id string, at time.Time) error
	Record(ctx context.Context, id string, e LogEntry) error
	SnapshotSaved(ctx context.Context, id, path string, at time.Time) error
	SessionStopped(ctx context.Context, id string, at time.Time) error
}

// Saver persists a rendered frame.
type Saver interface {
	Save(img image.Image, at time.Time) (string, error)
}

// Options wires a Controller. Camera and Analyzer are required.
type Options struct {
	Camera    camera.Source
	Analyzer  Analyzer
	Interval  int
	Override  emotion.OverrideRule
	Notifier  *speech.Notifier
	Snapshots Saver
	Presenter Presenter
	Sinks     []Sink
	ThumbSize int
	Clock     func() time.Time
}

// View is a read-only copy of the session state for presentation surfaces.
type View struct {
	SessionID  string          `json:"session_id"`
	State      State           `json:"state"`
	Current    *emotion.Result `json:"current,omitempty"`
	Summary    map[string]int  `json:"summary"`
	Entries    int             `json:"entries"`
	Faces      int             `json:"faces"`
	Frames     int             `json:"frames"`
	Inferences int             `json:"inferences"`
	StartedAt  time.Time       `json:"started_at,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
	Warning    string          `json:"warning,omitempty"`
}

// Controller owns one session. The log and gallery live as long as the Controller;
// Start and Stop only move it between Idle and Running.
type Controller struct {
	id        string
	cam       camera.Source
	analyzer  Analyzer
	throttle  Throttle
	override  emotion.OverrideRule
	notifier  *speech.Notifier
	saver     Saver
	presenter Presenter
	sinks     []Sink
	thumbSize int
	now       func() time.Time

	log   *Log
	faces *RecentFaces

	opMu sync.Mutex // serializes Start

	mu         sync.RWMutex
	state      State
	run        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	frames     int
	inferences int
	current    *emotion.Result
	last       *image.RGBA
	startedAt  time.Time
	lastErr    string
	warning    string
}

// New builds an idle Controller.
func New(opts Options) *Controller {
	if opts.Notifier == nil {
		opts.Notifier = speech.NewNotifier(nil, "")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.ThumbSize <= 0 {
		opts.ThumbSize = 96
	}
	if opts.Interval < 1 {
		opts.Interval = 1
	}
	done := make(chan struct{})
	close(done)
	return &Controller{
		id:        uuid.NewString(),
		cam:       opts.Camera,
		analyzer:  opts.Analyzer,
		throttle:  Throttle{Interval: opts.Interval},
		override:  opts.Override,
		notifier:  opts.Notifier,
		saver:     opts.Snapshots,
		presenter: opts.Presenter,
		sinks:     opts.Sinks,
		thumbSize: opts.ThumbSize,
		now:       opts.Clock,
		log:       &Log{},
		faces:     NewRecentFaces(FacesCapacity),
		done:      done,
	}
}

// ID returns the session identifier used by sinks.
func (c *Controller) ID() string { return c.id }

// SetPresenter replaces the presenter. Only call it while Idle.
func (c *Controller) SetPresenter(p Presenter) {
	c.mu.Lock()
	c.presenter = p
	c.mu.Unlock()
}

// Start opens the camera and runs the loop in the background. ctx bounds the session:
// cancelling it stops the loop like Stop does. Starting a running session is a no-op.
func (c *Controller) Start(ctx context.Context) error {
	runCtx, err := c.begin(ctx)
	if err != nil || runCtx == nil {
		return err
	}
	go c.loop(runCtx)
	return nil
}

// Run is Start followed by waiting for the loop to end. It returns the fatal error that
// ended the session, or nil when it was stopped.
func (c *Controller) Run(ctx context.Context) error {
	runCtx, err := c.begin(ctx)
	if err != nil {
		return err
	}
	if runCtx == nil {
		return c.Wait()
	}
	return c.loop(runCtx)
}

// Stop requests the loop to end. The camera is released within one frame. Stopping an
// idle session is a no-op. Stop never blocks, so presenters may call it from Present.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Running {
		return
	}
	c.cancel()
}

// Wait blocks until the current loop (if any) has ended and returns its LastError.
func (c *Controller) Wait() error {
	c.mu.RLock()
	done := c.done
	c.mu.RUnlock()
	<-done

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastErr != "" {
		return errors.New(c.lastErr)
	}
	return nil
}

// State returns Idle or Running.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) begin(ctx context.Context) (context.Context, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.RLock()
	state, run, done := c.state, c.run, c.done
	c.mu.RUnlock()
	if state == Running {
		if run.Err() == nil {
			return nil, nil
		}
		// Stopped but still draining the last iteration: let it release the camera first.
		<-done
	}

	if err := c.cam.Open(ctx); err != nil {
		c.mu.Lock()
		c.lastErr = err.Error()
		c.mu.Unlock()
		log.WithError(err).Error("Camera open failed")
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	started := c.now()

	c.mu.Lock()
	c.state = Running
	c.run = runCtx
	c.cancel = cancel
	c.done = make(chan struct{})
	c.frames = 0
	c.startedAt = started
	c.lastErr = ""
	c.warning = ""
	c.mu.Unlock()

	c.notifier.Reset()
	c.eachSink(runCtx, func(ctx context.Context, s Sink) {
		if err := s.SessionStarted(ctx, c.id, started); err != nil {
			log.WithError(err).WithField("session", c.id).Warn("Sink rejected session start")
		}
	})
	log.WithFields(log.Fields{"session": c.id, "interval": c.throttle.Interval}).Info("Session started")
	return runCtx, nil
}

// loop is the per-frame pipeline: acquire, maybe classify, annotate, present.
func (c *Controller) loop(ctx context.Context) (err error) {
	defer func() { c.finish(err) }()

	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, rerr := c.cam.Read()
		if rerr != nil {
			if ctx.Err() != nil {
				return nil
			}
			return rerr
		}
		// A stop that landed while waiting on the camera drops the frame.
		if ctx.Err() != nil {
			return nil
		}

		c.mu.Lock()
		c.frames++
		n := c.frames
		c.mu.Unlock()

		if c.throttle.Due(n) {
			c.infer(ctx, frame)
		}

		c.mu.Lock()
		overlay.Draw(frame.Image, c.current)
		c.last = frame.Image
		p := c.presenter
		c.mu.Unlock()

		if p == nil {
			continue
		}
		if perr := p.Present(frame.Image, c.View()); perr != nil {
			if errors.Is(perr, ErrClosed) {
				return nil
			}
			return fmt.Errorf("present frame: %w", perr)
		}
	}
}

func (c *Controller) infer(ctx context.Context, frame types.Frame) {
	res, err := c.analyzer.Analyze(ctx, frame)

	c.mu.Lock()
	c.inferences++
	if err != nil {
		c.warning = err.Error()
		c.mu.Unlock()
		if ctx.Err() == nil {
			log.WithError(err).WithField("frame", frame.Index).Warn("Inference failed; keeping previous result")
		}
		return
	}
	res = c.override.Apply(res)
	entry := c.log.Record(c.now(), res.Dominant, res.Confidence)
	c.current = &res
	c.warning = ""
	c.mu.Unlock()

	log.WithFields(log.Fields{
		"label":      res.Dominant,
		"confidence": fmt.Sprintf("%.1f", res.Confidence),
		"raw":        res.Raw,
	}).Debug("Classified frame")

	// The frame has not been annotated yet, so the thumbnail is a clean crop.
	if frame.Image != nil {
		thumb := overlay.Thumbnail(frame.Image, res.Region, c.thumbSize)
		if data, err := snapshot.EncodeJPEG(thumb); err == nil {
			c.faces.Push(data)
		} else {
			log.WithError(err).Warn("Thumbnail encode failed")
		}
	}

	c.eachSink(ctx, func(ctx context.Context, s Sink) {
		if err := s.Record(ctx, c.id, entry); err != nil {
			log.WithError(err).WithField("session", c.id).Warn("Sink rejected log entry")
		}
	})

	if _, err := c.notifier.Notify(ctx, res.Dominant); err != nil {
		log.WithError(err).Warn("Speech failed")
	}
}

func (c *Controller) finish(err error) {
	if cerr := c.cam.Close(); cerr != nil {
		log.WithError(cerr).Warn("Camera close failed")
	}

	stopped := c.now()
	c.mu.Lock()
	c.state = Idle
	c.cancel()
	if err != nil {
		c.lastErr = err.Error()
	}
	done := c.done
	c.mu.Unlock()

	c.eachSink(context.Background(), func(ctx context.Context, s Sink) {
		if serr := s.SessionStopped(ctx, c.id, stopped); serr != nil {
			log.WithError(serr).WithField("session", c.id).Warn("Sink rejected session stop")
		}
	})

	if err != nil {
		log.WithError(err).WithField("session", c.id).Error("Session ended")
	} else {
		log.WithField("session", c.id).Info("Session stopped")
	}
	close(done)
}

// eachSink calls fn for every sink with a context that keeps ctx's values but not its
// cancellation, bounded by SinkTimeout.
func (c *Controller) eachSink(ctx context.Context, fn func(context.Context, Sink)) {
	for _, s := range c.sinks {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), SinkTimeout)
		fn(sctx, s)
		cancel()
	}
}

// Snapshot saves the most recent annotated frame and returns its path.
func (c *Controller) Snapshot(ctx context.Context) (string, error) {
	if c.saver == nil {
		return "", errors.New("snapshots are not configured")
	}
	c.mu.RLock()
	img := c.last
	var cp *image.RGBA
	if img != nil {
		cp = &image.RGBA{Pix: append([]byte(nil), img.Pix...), Stride: img.Stride, Rect: img.Rect}
	}
	c.mu.RUnlock()
	if cp == nil {
		return "", ErrNoFrame
	}

	at := c.now()
	path, err := c.saver.Save(cp, at)
	if err != nil {
		return "", err
	}
	c.eachSink(ctx, func(ctx context.Context, s Sink) {
		if serr := s.SnapshotSaved(ctx, c.id, path, at); serr != nil {
			log.WithError(serr).Warn("Sink rejected snapshot")
		}
	})
	log.WithField("path", path).Info("Snapshot saved")
	return path, nil
}

// View returns a consistent copy of the session state.
func (c *Controller) View() View {
	c.mu.RLock()
	v := View{
		SessionID:  c.id,
		State:      c.state,
		Frames:     c.frames,
		Inferences: c.inferences,
		StartedAt:  c.startedAt,
		LastError:  c.lastErr,
		Warning:    c.warning,
	}
	if c.current != nil {
		cur := *c.current
		v.Current = &cur
	}
	c.mu.RUnlock()

	v.Summary = c.log.Summarize()
	v.Entries = c.log.Len()
	v.Faces = c.faces.Len()
	return v
}

// Entries returns a copy of the emotion log.
func (c *Controller) Entries() []LogEntry { return c.log.Entries() }

// Faces returns the recent face thumbnails as JPEG, oldest first.
func (c *Controller) Faces() [][]byte { return c.faces.Items() }

// ExportCSV writes the emotion log as CSV.
func (c *Controller) ExportCSV(w io.Writer) error { return c.log.Export(w) }
