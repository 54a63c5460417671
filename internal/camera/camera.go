// Package camera turns a webcam into an ordered stream of decoded frames.
//
// Frames are produced by an ffmpeg subprocess writing MJPEG to stdout; the stream is split
// on JPEG SOI/EOI markers and each token is decoded into an *image.RGBA that overlays can
// draw on directly.
package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"io"
	"sync"
	"time"

	"github.com/andresmejia3/moodlens/internal/types"
	"github.com/andresmejia3/moodlens/internal/utils"
	log "github.com/sirupsen/logrus"
)

const megabyte = 1024 * 1024

var (
	// ErrDeviceUnavailable means the camera could not be opened. Fatal to the session.
	ErrDeviceUnavailable = errors.New("camera device unavailable")
	// ErrFrameRead means the camera stopped delivering frames mid-session.
	ErrFrameRead = errors.New("failed to grab frame")
)

// Source yields ordered frames from a camera device.
type Source interface {
	Open(ctx context.Context) error
	Read() (types.Frame, error)
	Close() error
}

// Config selects the device and capture format.
type Config struct {
	Index       int           `mapstructure:"index" yaml:"index"`
	Device      string        `mapstructure:"device" yaml:"device"` // overrides Index when set
	Format      string        `mapstructure:"format" yaml:"format"`
	Width       int           `mapstructure:"width" yaml:"width"`
	Height      int           `mapstructure:"height" yaml:"height"`
	FPS         int           `mapstructure:"fps" yaml:"fps"`
	OpenTimeout time.Duration `mapstructure:"open_timeout" yaml:"open_timeout"`
}

// DeviceName resolves the ffmpeg device string for this config.
func (c Config) DeviceName() string {
	if c.Device != "" {
		return c.Device
	}
	return utils.DeviceName(c.Format, c.Index)
}

// FFmpegSource reads frames from an ffmpeg image2pipe process.
type FFmpegSource struct {
	cfg Config

	mu     sync.Mutex
	cancel context.CancelFunc
	cmd    *utils.SafeCommand
	out    io.ReadCloser
	frames chan chunk
	index  int
}

// chunk is one JPEG token, or the terminal scanner error.
type chunk struct {
	data []byte
	err  error
}

// NewFFmpegSource prepares a source; nothing is started until Open.
func NewFFmpegSource(cfg Config) *FFmpegSource {
	if cfg.Format == "" {
		cfg.Format = "v4l2"
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 5 * time.Second
	}
	return &FFmpegSource{cfg: cfg}
}

// Open starts ffmpeg and waits for the first frame. A device that produces nothing within
// the open timeout (or an ffmpeg that exits) is reported as ErrDeviceUnavailable.
func (s *FFmpegSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := utils.NewFFmpegCaptureCmd(runCtx, utils.CaptureSpec{
		Format: s.cfg.Format,
		Device: s.cfg.DeviceName(),
		Width:  s.cfg.Width,
		Height: s.cfg.Height,
		FPS:    s.cfg.FPS,
	})
	out, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	s.cancel = cancel
	s.cmd = cmd
	s.out = out
	s.frames = make(chan chunk, 1)
	s.index = 0
	go pump(out, s.frames)

	// Block until the first frame so a missing device surfaces here, not on the first Read.
	select {
	case c, ok := <-s.frames:
		if !ok || c.err != nil {
			s.closeLocked()
			return fmt.Errorf("%w: %s: %s", ErrDeviceUnavailable, s.cfg.DeviceName(), bytes.TrimSpace(cmd.Stderr.Bytes()))
		}
		// Put it back for the first Read.
		s.frames = prepend(c, s.frames)
	case <-time.After(s.cfg.OpenTimeout):
		s.closeLocked()
		return fmt.Errorf("%w: no frame from %s within %s", ErrDeviceUnavailable, s.cfg.DeviceName(), s.cfg.OpenTimeout)
	case <-ctx.Done():
		s.closeLocked()
		return ctx.Err()
	}

	log.WithFields(log.Fields{"device": s.cfg.DeviceName(), "format": s.cfg.Format}).Info("camera opened")
	return nil
}

// pump splits the ffmpeg output into JPEG tokens and forwards copies on frames.
func pump(r io.Reader, frames chan<- chunk) {
	defer close(frames)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)
	for scanner.Scan() {
		buf := make([]byte, len(scanner.Bytes()))
		copy(buf, scanner.Bytes())
		frames <- chunk{data: buf}
	}
	if err := scanner.Err(); err != nil {
		frames <- chunk{err: err}
	}
}

// Read blocks until the next frame is available and decodes it.
func (s *FFmpegSource) Read() (types.Frame, error) {
	s.mu.Lock()
	frames := s.frames
	s.mu.Unlock()
	if frames == nil {
		return types.Frame{}, fmt.Errorf("%w: camera not open", ErrFrameRead)
	}

	c, ok := <-frames
	if !ok {
		return types.Frame{}, fmt.Errorf("%w: stream ended", ErrFrameRead)
	}
	if c.err != nil {
		return types.Frame{}, fmt.Errorf("%w: %v", ErrFrameRead, c.err)
	}

	img, err := DecodeJPEG(c.data)
	if err != nil {
		return types.Frame{}, fmt.Errorf("%w: %v", ErrFrameRead, err)
	}

	s.mu.Lock()
	s.index++
	idx := s.index
	s.mu.Unlock()

	return types.Frame{Index: idx, Data: c.data, Image: img, CapturedAt: time.Now()}, nil
}

// Close stops ffmpeg and releases the device. Safe to call more than once.
func (s *FFmpegSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *FFmpegSource) closeLocked() error {
	if s.cmd == nil {
		return nil
	}
	s.cancel()
	s.out.Close() // Unblocks the scanner so pump exits
	// Drain so pump is never stuck on a send.
	go func(ch chan chunk) {
		for range ch {
		}
	}(s.frames)
	err := s.cmd.Wait()
	s.cmd = nil
	s.frames = nil
	log.WithField("device", s.cfg.DeviceName()).Info("camera released")
	// A killed ffmpeg is the expected outcome of Close.
	var exitErr interface{ ExitCode() int }
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// prepend returns a channel that yields first, then everything from rest.
func prepend(first chunk, rest chan chunk) chan chunk {
	out := make(chan chunk, 1)
	out <- first
	go func() {
		defer close(out)
		for b := range rest {
			out <- b
		}
	}()
	return out
}

// DecodeJPEG decodes a frame and converts it to RGBA so overlays can write pixels directly.
func DecodeJPEG(data []byte) (*image.RGBA, error) {
	src, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if rgba, ok := src.(*image.RGBA); ok {
		return rgba, nil
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst, nil
}
