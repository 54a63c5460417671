// Package recorder writes the annotated session stream to a video file through an ffmpeg
// encoder.
package recorder

import (
	"context"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/andresmejia3/moodlens/internal/session"
	"github.com/andresmejia3/moodlens/internal/utils"
	log "github.com/sirupsen/logrus"
)

// Recorder is a session.Presenter that pipes raw RGBA frames into ffmpeg. The encoder is
// started on the first frame, sized after it. Recording is best-effort: encoder failures
// are logged and the session keeps running.
type Recorder struct {
	ctx  context.Context
	path string
	fps  int

	newCmd func(ctx context.Context, path string, fps, w, h int) *utils.SafeCommand
	cmd    *utils.SafeCommand
	in     io.WriteCloser
	size   image.Point
	frames int
	failed bool
}

func New(ctx context.Context, path string, fps int) *Recorder {
	if fps <= 0 {
		fps = 30
	}
	return &Recorder{ctx: ctx, path: path, fps: fps, newCmd: utils.NewFFmpegEncoder}
}

func (r *Recorder) Present(img *image.RGBA, _ session.View) error {
	if r.failed {
		return nil
	}
	size := img.Bounds().Size()
	if r.cmd == nil {
		if err := r.start(size); err != nil {
			r.fail("Failed to start recorder", err)
			return nil
		}
	}
	if size != r.size {
		log.WithFields(log.Fields{"want": r.size, "got": size}).Warn("Frame size changed, frame not recorded")
		return nil
	}
	if err := r.write(img); err != nil {
		r.fail("Recorder write failed", err)
		return nil
	}
	r.frames++
	return nil
}

func (r *Recorder) start(size image.Point) error {
	cmd := r.newCmd(r.ctx, r.path, r.fps, size.X, size.Y)
	in, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	r.cmd, r.in, r.size = cmd, in, size
	log.WithFields(log.Fields{"path": r.path, "size": fmt.Sprintf("%dx%d", size.X, size.Y)}).Info("Recording session")
	return nil
}

func (r *Recorder) write(img *image.RGBA) error {
	rowLen := r.size.X * 4
	if img.Stride == rowLen {
		_, err := r.in.Write(img.Pix[:rowLen*r.size.Y])
		return err
	}
	// Sub-images carry a wider stride; write row by row.
	for y := 0; y < r.size.Y; y++ {
		off := y * img.Stride
		if _, err := r.in.Write(img.Pix[off : off+rowLen]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recorder) fail(msg string, err error) {
	r.failed = true
	fields := log.Fields{"path": r.path}
	if r.cmd != nil && r.cmd.Stderr.Len() > 0 {
		fields["ffmpeg"] = strings.TrimSpace(r.cmd.Stderr.String())
	}
	log.WithError(err).WithFields(fields).Warn(msg)
}

// Frames returns how many frames were handed to the encoder.
func (r *Recorder) Frames() int { return r.frames }

// Close flushes the encoder and waits for the file to be finalized.
func (r *Recorder) Close() error {
	if r.cmd == nil {
		return nil
	}
	r.in.Close()
	if err := r.cmd.Wait(); err != nil {
		return fmt.Errorf("encoder: %w: %s", err, strings.TrimSpace(r.cmd.Stderr.String()))
	}
	return nil
}
