package utils

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (worker logs)
// This ensures we don't lose critical crash information if a subprocess dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command and attaches a buffer to its Stderr pipe
// It prepares the command for execution but does not start it.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// ShowError prints a formatted error box and dumps subprocess logs if a SafeCommand is provided.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 MOODLENS ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	// If we have a SafeCommand and it captured logs, print them.
	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nSUBPROCESS LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// Die is the unified exit strategy for commands that cannot continue.
func Die(context string, err error, s *SafeCommand) {
	ShowError(context, err, s)
	os.Exit(1)
}

// --- 2. Camera Engine ---

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// SplitJpeg is the custom splitter for bufio.Scanner
// It locates the Start Of Image (FFD8) and End Of Image (FFD9) markers to extract full JPEG frames.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], JpegEOI)
	if end == -1 {
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// CaptureSpec describes how ffmpeg should open the camera.
type CaptureSpec struct {
	Format string // ffmpeg input format: v4l2, avfoundation, dshow
	Device string // device path or name understood by the input format
	Width  int
	Height int
	FPS    int
}

// NewFFmpegCaptureCmd creates a camera decoder pipe.
// It configures FFmpeg to read the device and output raw MJPEG frames to Stdout.
func NewFFmpegCaptureCmd(ctx context.Context, spec CaptureSpec) *SafeCommand {
	args := []string{"-hide_banner", "-loglevel", "error", "-f", spec.Format}
	if spec.FPS > 0 {
		args = append(args, "-framerate", fmt.Sprint(spec.FPS))
	}
	if spec.Width > 0 && spec.Height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", spec.Width, spec.Height))
	}
	// Using -vcodec mjpeg ensures we get JPEGs Go can split
	args = append(args, "-i", spec.Device, "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-")
	return NewSafeCommand(ctx, "ffmpeg", args...)
}

// NewFFmpegEncoder creates an encoder that reads raw RGBA frames of width x height from
// Stdin and writes an H.264 MP4 to outputPath.
func NewFFmpegEncoder(ctx context.Context, outputPath string, fps, width, height int) *SafeCommand {
	return NewSafeCommand(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", fmt.Sprint(fps),
		"-i", "-",
		"-c:v", "libx264", "-pix_fmt", "yuv420p", "-preset", "veryfast",
		outputPath,
	)
}

// DeviceName maps a camera index to the device string expected by the ffmpeg input format.
func DeviceName(format string, index int) string {
	switch format {
	case "avfoundation":
		return fmt.Sprintf("%d:none", index)
	case "dshow":
		return fmt.Sprintf("video=%d", index)
	default:
		return fmt.Sprintf("/dev/video%d", index)
	}
}

// FmtDuration renders a duration as HH:MM:SS.
func FmtDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
