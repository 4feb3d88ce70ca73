package filehandler

import (
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Thumbnail frame defaults. Downstream consumers size their layouts around a
// 320px-wide still taken two seconds in, so these are fixed rather than configurable.
const (
	// DefaultFrameTimestamp is the seek position, in seconds, of the captured frame.
	DefaultFrameTimestamp = "2"

	// DefaultFrameWidth is the output width in pixels. Height follows the source aspect ratio.
	DefaultFrameWidth = 320

	// FrameJPEGQuality is ffmpeg's -q:v for MJPEG output (2 is near-lossless).
	FrameJPEGQuality = 2
)

// ErrNoFrame is returned when ffmpeg exits cleanly but writes no image, which
// happens when the seek position is past the end of the video.
var ErrNoFrame = errors.New("ffmpeg produced no frame")

// FrameOptions controls single-frame extraction.
type FrameOptions struct {
	// Timestamp is the seek position in seconds, passed to ffmpeg -ss as-is.
	Timestamp string
	// Width is the output width in pixels; height is derived from the aspect ratio.
	Width int
}

// DefaultFrameOptions returns the fixed thumbnail parameters.
func DefaultFrameOptions() FrameOptions {
	return FrameOptions{Timestamp: DefaultFrameTimestamp, Width: DefaultFrameWidth}
}

// FFmpegExtractor captures still frames by running the ffmpeg binary.
type FFmpegExtractor struct {
	// Path is the ffmpeg executable.
	Path string
}

// NewFFmpegExtractor resolves the ffmpeg binary from FFMPEG_PATH, falling back
// to a PATH lookup. Lambda container images ship ffmpeg at a fixed location, so
// FFMPEG_PATH is normally set there.
func NewFFmpegExtractor() (*FFmpegExtractor, error) {
	path, err := ResolveFFmpegPath()
	if err != nil {
		return nil, err
	}
	return &FFmpegExtractor{Path: path}, nil
}

// ResolveFFmpegPath returns the ffmpeg executable to use.
func ResolveFFmpegPath() (string, error) {
	if p := os.Getenv("FFMPEG_PATH"); p != "" {
		info, err := os.Stat(p)
		if err != nil {
			return "", fmt.Errorf("FFMPEG_PATH %s: %w", p, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("FFMPEG_PATH %s is a directory", p)
		}
		return p, nil
	}
	p, err := exec.LookPath("ffmpeg")
	if err != nil {
		return "", fmt.Errorf("ffmpeg not found in PATH: set FFMPEG_PATH or install ffmpeg (apt install ffmpeg)")
	}
	return p, nil
}

// CheckFFmpegAvailable returns nil if an ffmpeg binary can be resolved.
func CheckFFmpegAvailable() error {
	path, err := ResolveFFmpegPath()
	if err != nil {
		return err
	}
	log.Debug().Str("path", path).Msg("ffmpeg found")
	return nil
}

// IsFFmpegAvailable is the boolean form of CheckFFmpegAvailable.
func IsFFmpegAvailable() bool {
	return CheckFFmpegAvailable() == nil
}

// ExtractFrame writes one JPEG frame of inputPath to outputPath. It blocks until
// ffmpeg exits; cancelling ctx kills the process. The output is verified to
// exist and be non-empty, so a clean exit without a frame is still an error.
func (e *FFmpegExtractor) ExtractFrame(ctx context.Context, inputPath, outputPath string, opts FrameOptions) error {
	if opts.Width <= 0 {
		return fmt.Errorf("invalid frame width %d", opts.Width)
	}

	args := buildFrameArgs(inputPath, outputPath, opts)
	log.Debug().
		Str("input", inputPath).
		Str("output", outputPath).
		Strs("args", args).
		Msg("Extracting frame with ffmpeg")

	start := time.Now()
	cmd := exec.CommandContext(ctx, e.Path, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ffmpeg interrupted: %w", ctxErr)
		}
		return fmt.Errorf("ffmpeg frame extraction failed: %w: %s", err, strings.TrimSpace(string(output)))
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w at %ss: %s", ErrNoFrame, opts.Timestamp, strings.TrimSpace(string(output)))
		}
		return fmt.Errorf("stat frame: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w at %ss: empty output file", ErrNoFrame, opts.Timestamp)
	}

	log.Debug().
		Str("output", outputPath).
		Int64("size", info.Size()).
		Dur("duration", time.Since(start)).
		Msg("Frame extracted")
	return nil
}

// buildFrameArgs assembles the ffmpeg command line:
//
//	ffmpeg -hide_banner -loglevel error -ss 2 -i in.mp4 -frames:v 1 -vf scale=320:-1 -q:v 2 -f image2 -y out.jpg
//
// -ss before -i seeks on the input, which avoids decoding everything up to the timestamp.
func buildFrameArgs(inputPath, outputPath string, opts FrameOptions) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-ss", opts.Timestamp,
		"-i", inputPath,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=%d:-1", opts.Width),
		"-q:v", strconv.Itoa(FrameJPEGQuality),
		"-f", "image2",
		"-y", outputPath,
	}
}

// ThumbnailDimensions reads the JPEG header of path and returns its size.
func ThumbnailDimensions(path string) (width, height int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open thumbnail: %w", err)
	}
	defer f.Close()

	cfg, err := jpeg.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("decode thumbnail header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}
