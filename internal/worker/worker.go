package worker

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/moodlens/internal/emotion"
	"github.com/andresmejia3/moodlens/internal/types"
	"github.com/andresmejia3/moodlens/internal/utils" // Using the SafeCommand wrapper
	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrTimeout is returned when the worker does not answer within ReadTimeout.
var ErrTimeout = errors.New("emotion worker timed out")

// Config controls how the Python emotion worker is spawned and queried.
type Config struct {
	Python          string        `mapstructure:"python" yaml:"python"`
	Script          string        `mapstructure:"script" yaml:"script"`
	DetectorBackend string        `mapstructure:"detector_backend" yaml:"detector_backend"`
	DownscaleWidth  int           `mapstructure:"downscale_width" yaml:"downscale_width"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
}

// analyzeRequest is what the worker receives for every frame.
type analyzeRequest struct {
	Frame            []byte `msgpack:"frame"`
	EnforceDetection bool   `msgpack:"enforce_detection"`
	DownscaleWidth   int    `msgpack:"downscale_width"`
	DetectorBackend  string `msgpack:"detector_backend"`
}

// PythonWorker owns one DeepFace process. Calls are serialized; the process is
// respawned lazily after a crash or timeout.
type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	cfg    Config
	ctx    context.Context
	mu     sync.Mutex
	broken bool
}

// NewPythonWorker starts the worker process. ctx bounds the process lifetime.
func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	w := &PythonWorker{ID: id, cfg: cfg, ctx: ctx}
	if err := w.spawn(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *PythonWorker) spawn() error {
	py := utils.NewSafeCommand(w.ctx, w.cfg.Python, "-u", w.cfg.Script)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, wr, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{wr}

	stdin, err := py.StdinPipe()
	if err != nil {
		wr.Close() // Prevent FD leak
		r.Close()  // Close read-end too!
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		wr.Close() // Close write end if start fails
		r.Close()  // Close read-end too!
		return fmt.Errorf("worker %d failed to start: %w", w.ID, err)
	}

	// Close the write-end in the parent so only the child holds it
	wr.Close()

	w.Cmd = py
	w.Stdin = stdin
	w.DataPipe = r
	w.broken = false
	log.WithFields(log.Fields{"worker": w.ID, "script": w.cfg.Script}).Info("emotion worker started")
	return nil
}

// Analyze sends one frame to the worker and returns its classification.
// DeepFace runs with enforce_detection disabled, so frames without a confidently located
// face still produce a best-effort guess instead of an error.
func (w *PythonWorker) Analyze(ctx context.Context, frame types.Frame) (emotion.Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.broken && w.Cmd != nil {
		log.WithField("worker", w.ID).Warn("respawning emotion worker")
		w.closeLocked()
		if err := w.spawn(); err != nil {
			return emotion.Result{}, err
		}
	}

	req, err := msgpack.Marshal(analyzeRequest{
		Frame:            frame.Data,
		EnforceDetection: false,
		DownscaleWidth:   w.cfg.DownscaleWidth,
		DetectorBackend:  w.cfg.DetectorBackend,
	})
	if err != nil {
		return emotion.Result{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	type reply struct {
		body []byte
		err  error
	}
	// A timed-out call leaves this goroutine behind; it must keep using the pipes of the
	// process it started with, not those of a respawned one.
	stdin, pipe := w.Stdin, w.DataPipe
	done := make(chan reply, 1)
	go func() {
		body, err := communicate(stdin, pipe, req)
		done <- reply{body, err}
	}()

	var timeout <-chan time.Time
	if w.cfg.ReadTimeout > 0 {
		timer := time.NewTimer(w.cfg.ReadTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case r := <-done:
		if r.err != nil {
			// The pipe is in an unknown state; start fresh next time.
			w.broken = true
			return emotion.Result{}, r.err
		}
		return decodeResponse(r.body)
	case <-timeout:
		w.broken = true
		return emotion.Result{}, fmt.Errorf("%w after %s", ErrTimeout, w.cfg.ReadTimeout)
	case <-ctx.Done():
		w.broken = true
		return emotion.Result{}, ctx.Err()
	}
}

// Communicate writes one length-prefixed message and reads one length-prefixed reply.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	w.mu.Lock()
	stdin, pipe := w.Stdin, w.DataPipe
	w.mu.Unlock()
	return communicate(stdin, pipe, data)
}

func communicate(stdin io.Writer, pipe io.Reader, data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := stdin.Write(data); err != nil {
		return nil, err
	}

	// Read Result from the dedicated data pipe, so stray prints never corrupt it.
	header := make([]byte, 4)
	if _, err := io.ReadFull(pipe, header); err != nil {
		return nil, err // This is where we catch an import crash in the worker
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(pipe, respBody)
	return respBody, err
}

func decodeResponse(body []byte) (emotion.Result, error) {
	var resp types.AnalyzeResponse
	if err := msgpack.Unmarshal(body, &resp); err != nil {
		return emotion.Result{}, fmt.Errorf("malformed worker response: %w", err)
	}
	if resp.Status != "ok" {
		msg := resp.Error
		if msg == "" {
			msg = "unknown failure"
		}
		return emotion.Result{}, fmt.Errorf("python worker error: %s", msg)
	}
	if resp.Dominant == "" {
		return emotion.FromScores(resp.Emotion, resp.Region.Rect())
	}
	return emotion.NewResult(resp.Dominant, resp.Emotion, resp.Region.Rect()), nil
}

// Close stops the process and releases both pipes.
func (w *PythonWorker) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeLocked()
}

func (w *PythonWorker) closeLocked() {
	if w.Stdin != nil {
		w.Stdin.Close()
	}
	if w.DataPipe != nil {
		w.DataPipe.Close()
	}
	if w.Cmd != nil {
		if w.broken && w.Cmd.Process != nil {
			w.Cmd.Process.Kill()
		}
		w.Cmd.Wait()
	}
}
