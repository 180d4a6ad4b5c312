package video

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/plantguard/edge/internal/logger"
)

// FFmpeg wraps the ffmpeg binary.
type FFmpeg struct {
	logger *logger.Logger
	path   string
}

// NewFFmpeg locates ffmpeg. An explicit path is used as is; otherwise the
// usual locations are probed.
func NewFFmpeg(path string, log *logger.Logger) (*FFmpeg, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	f := &FFmpeg{logger: log}

	candidates := []string{"ffmpeg", "/usr/bin/ffmpeg", "/usr/local/bin/ffmpeg"}
	if path != "" {
		candidates = []string{path}
	}
	for _, p := range candidates {
		if err := exec.Command(p, "-version").Run(); err == nil {
			f.path = p
			break
		}
	}
	if f.path == "" {
		return nil, fmt.Errorf("ffmpeg not found (tried %s)", strings.Join(candidates, ", "))
	}

	if version, err := f.Version(); err == nil {
		log.Info("FFmpeg found", "path", f.path, "version", version)
	}
	return f, nil
}

// Version returns the first line of ffmpeg -version.
func (f *FFmpeg) Version() (string, error) {
	output, err := exec.Command(f.path, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("failed to get ffmpeg version: %w", err)
	}
	lines := strings.Split(string(output), "\n")
	if len(lines) > 0 {
		return strings.TrimSpace(lines[0]), nil
	}
	return "unknown", nil
}

// BuildCommand builds an ffmpeg command bound to ctx.
func (f *FFmpeg) BuildCommand(ctx context.Context, args []string) *exec.Cmd {
	return exec.CommandContext(ctx, f.path, args...)
}

// StreamConfig describes a decoded raw stream.
type StreamConfig struct {
	Input     string
	Width     int
	Height    int
	FrameRate int
}

// rawVideoArgs decodes Input to packed RGB24 frames of a fixed size on
// stdout, throttled to FrameRate.
func rawVideoArgs(cfg StreamConfig) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if strings.HasPrefix(cfg.Input, "rtsp://") || strings.HasPrefix(cfg.Input, "rtsps://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	filters := []string{}
	if cfg.FrameRate > 0 {
		filters = append(filters, "fps="+strconv.Itoa(cfg.FrameRate))
	}
	filters = append(filters, fmt.Sprintf("scale=%d:%d", cfg.Width, cfg.Height))

	return append(args,
		"-i", cfg.Input,
		"-an",
		"-vf", strings.Join(filters, ","),
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-",
	)
}

// OpenStream starts ffmpeg on cfg.Input and returns a source that always
// yields the newest decoded frame.
func (f *FFmpeg) OpenStream(ctx context.Context, cfg StreamConfig) (*StreamSource, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("stream size must be positive, got %dx%d", cfg.Width, cfg.Height)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	cmd := f.BuildCommand(runCtx, rawVideoArgs(cfg))
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open ffmpeg stdout: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &limitedWriter{w: &stderr, n: 4096}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	f.logger.Info("Video stream started",
		"width", cfg.Width,
		"height", cfg.Height,
		"frame_rate", cfg.FrameRate,
	)

	wait := func() error {
		err := cmd.Wait()
		if err != nil && stderr.Len() > 0 {
			return fmt.Errorf("ffmpeg exited: %w (%s)", err, strings.TrimSpace(stderr.String()))
		}
		return err
	}
	return newStreamSource(stdout, cfg.Width, cfg.Height, cancel, wait, f.logger), nil
}

// limitedWriter keeps the first n bytes and discards the rest.
type limitedWriter struct {
	w interface{ Write([]byte) (int, error) }
	n int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if l.n > 0 {
		k := min(len(p), l.n)
		l.n -= k
		_, _ = l.w.Write(p[:k])
	}
	return len(p), nil
}
