// Package window is the desktop surface: an OpenCV window showing the annotated stream and
// a second window with the emotion chart, driven from the keyboard.
package window

import (
	"context"
	"errors"
	"image"
	"runtime"

	"github.com/andresmejia3/moodlens/internal/overlay"
	"github.com/andresmejia3/moodlens/internal/session"
	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

func init() {
	// HighGUI must be driven from the main thread on some platforms.
	runtime.LockOSThread()
}

// Controller is the part of session.Controller the window drives.
type Controller interface {
	Run(ctx context.Context) error
	Stop()
	Snapshot(ctx context.Context) (string, error)
	View() session.View
}

// Options sizes the windows.
type Options struct {
	Width, Height int
	// ChartEvery redraws the analytics window every n presented frames.
	ChartEvery int
}

type Surface struct {
	ctrl  Controller
	opts  Options
	video *gocv.Window
	stats *gocv.Window
	chart *image.RGBA
	shown int
	quit  bool
}

// New opens both windows. Close releases them.
func New(ctrl Controller, opts Options) *Surface {
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 640, 480
	}
	if opts.ChartEvery <= 0 {
		opts.ChartEvery = 15
	}
	return &Surface{
		ctrl:  ctrl,
		opts:  opts,
		video: gocv.NewWindow("moodlens"),
		stats: gocv.NewWindow("moodlens analytics"),
		chart: image.NewRGBA(image.Rect(0, 0, 480, 240)),
	}
}

func (s *Surface) Close() {
	s.video.Close()
	s.stats.Close()
}

// Loop runs the surface until q is pressed, a window is closed, or ctx ends. While idle it
// shows the key hints (or the last error); s runs a session that presents into the window.
func (s *Surface) Loop(ctx context.Context) error {
	s.drawChart(s.ctrl.View())
	for !s.quit && ctx.Err() == nil {
		v := s.ctrl.View()
		if err := s.show(s.video, IdleFrame(s.opts.Width, s.opts.Height, v)); err != nil {
			return err
		}
		switch ActionFor(s.video.WaitKey(30)) {
		case Start:
			if err := s.ctrl.Run(ctx); err != nil {
				log.WithError(err).Error("Session ended with an error")
			}
			s.drawChart(s.ctrl.View())
		case Snapshot:
			s.snapshot(ctx)
		case Quit:
			s.quit = true
		}
		if !s.video.IsOpen() {
			s.quit = true
		}
	}
	return nil
}

// Present shows one annotated frame and handles keys pressed while running.
func (s *Surface) Present(img *image.RGBA, v session.View) error {
	if err := s.show(s.video, img); err != nil {
		return err
	}
	s.shown++
	if s.shown%s.opts.ChartEvery == 0 {
		s.drawChart(v)
	}

	switch ActionFor(s.video.WaitKey(1)) {
	case Stop:
		s.ctrl.Stop()
	case Snapshot:
		s.snapshot(context.Background())
	case Quit:
		s.quit = true
		return session.ErrClosed
	}
	if !s.video.IsOpen() {
		s.quit = true
		return session.ErrClosed
	}
	return nil
}

func (s *Surface) snapshot(ctx context.Context) {
	path, err := s.ctrl.Snapshot(ctx)
	if errors.Is(err, session.ErrNoFrame) {
		log.Warn("Nothing to snapshot yet")
		return
	}
	if err != nil {
		log.WithError(err).Warn("Snapshot failed")
		return
	}
	log.WithField("path", path).Info("Snapshot saved")
}

func (s *Surface) drawChart(v session.View) {
	overlay.DrawChart(s.chart, v.Summary)
	if err := s.show(s.stats, s.chart); err != nil {
		log.WithError(err).Warn("Analytics window update failed")
	}
}

func (s *Surface) show(w *gocv.Window, img *image.RGBA) error {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return err
	}
	defer mat.Close()
	w.IMShow(mat)
	return nil
}
