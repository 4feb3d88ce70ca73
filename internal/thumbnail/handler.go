// Package thumbnail turns a finalized video upload into a JPEG still stored
// next to the source object.
//
// One Handle call processes one upload event, strictly in sequence:
//
//  1. Skip anything whose content type is not video/*
//  2. Download the video to the scratch directory
//  3. Extract one frame (2s in, 320px wide) with ffmpeg
//  4. Upload {dir}/{name}_thumb.jpg as image/jpeg
//  5. Remove both scratch files, whatever happened above
//
// There are no retries. Failures are returned to the caller, which for the
// Lambda means the platform's own error and retry channel.
package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fpang/video-thumbnailer/internal/filehandler"
	"github.com/fpang/video-thumbnailer/internal/metrics"
	"github.com/fpang/video-thumbnailer/internal/store"
)

// Failure classes. Returned errors wrap one of these together with the cause.
var (
	ErrInvalidEvent = errors.New("invalid upload event")
	ErrDownload     = errors.New("download failed")
	ErrExtract      = errors.New("frame extraction failed")
	ErrUpload       = errors.New("upload failed")
)

// UploadEvent describes a newly finalized object.
type UploadEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
}

// Result reports what a Handle call did.
type Result struct {
	Skipped       bool          `json:"skipped"`
	Bucket        string        `json:"bucket"`
	SourceKey     string        `json:"sourceKey"`
	ThumbnailKey  string        `json:"thumbnailKey,omitempty"`
	ThumbnailSize int64         `json:"thumbnailSize,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// ObjectStore moves objects between the store and local files.
type ObjectStore interface {
	Download(ctx context.Context, bucket, key, localPath string) error
	Upload(ctx context.Context, bucket, key, localPath, contentType string) error
}

// FrameExtractor writes one still frame of a local video to outputPath.
// It must block until the frame is written or extraction has failed.
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, inputPath, outputPath string, opts filehandler.FrameOptions) error
}

// Ledger records generated thumbnails. Implemented by store.ThumbnailStore.
type Ledger interface {
	PutThumbnail(ctx context.Context, rec *store.ThumbnailRecord) error
}

// Handler runs the thumbnail pipeline. Store and Extractor are required;
// everything else is optional.
type Handler struct {
	Store     ObjectStore
	Extractor FrameExtractor

	// Ledger, if set, receives a record per uploaded thumbnail. Ledger
	// failures are logged and never fail the invocation.
	Ledger Ledger

	// TempDir is the scratch directory. Defaults to os.TempDir().
	TempDir string

	// Frame holds the extraction parameters. Defaults to filehandler.DefaultFrameOptions().
	Frame filehandler.FrameOptions

	// MetricsNamespace enables CloudWatch EMF output when non-empty.
	MetricsNamespace string
	// MetricsOutput is where EMF documents go. Defaults to stdout.
	MetricsOutput io.Writer
}

// NewHandler returns a Handler with default scratch directory and frame options.
func NewHandler(objects ObjectStore, extractor FrameExtractor) *Handler {
	return &Handler{
		Store:     objects,
		Extractor: extractor,
		TempDir:   os.TempDir(),
		Frame:     filehandler.DefaultFrameOptions(),
	}
}

// Handle processes a single upload event. A non-video event is a successful
// no-op with Result.Skipped set and no store calls.
func (h *Handler) Handle(ctx context.Context, event UploadEvent) (Result, error) {
	start := time.Now()
	res := Result{Bucket: event.Bucket, SourceKey: event.Name}

	logger := log.With().
		Str("bucket", event.Bucket).
		Str("key", event.Name).
		Str("contentType", event.ContentType).
		Logger()

	if !IsVideo(event.ContentType) {
		if strings.TrimSpace(event.ContentType) == "" {
			logger.Warn().Msg("Upload event has no content type, skipping")
		} else {
			logger.Info().Msg("Not a video file, skipping")
		}
		res.Skipped = true
		res.Duration = time.Since(start)
		h.emit("skipped", res, 0)
		return res, nil
	}

	if err := validate(event); err != nil {
		logger.Error().Err(err).Msg("Rejecting upload event")
		return h.fail(res, start, "invalid", err)
	}

	tempDir := h.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	frame := h.Frame
	if frame.Width == 0 {
		frame = filehandler.DefaultFrameOptions()
	}

	videoPath := filepath.Join(tempDir, baseName(event.Name))
	thumbPath := filepath.Join(tempDir, ThumbnailFileName(event.Name))
	thumbKey := ThumbnailKey(event.Name)
	res.ThumbnailKey = thumbKey

	// Both scratch files are released on every return path, including a
	// partially written download or frame.
	defer removeTemp(logger, videoPath)
	defer removeTemp(logger, thumbPath)

	if err := h.Store.Download(ctx, event.Bucket, event.Name, videoPath); err != nil {
		logger.Error().Err(err).Msg("Failed to download video")
		return h.fail(res, start, "download", fmt.Errorf("%w: %w", ErrDownload, err))
	}
	var sourceBytes int64
	if info, err := os.Stat(videoPath); err == nil {
		sourceBytes = info.Size()
	}
	logger.Info().Str("localPath", videoPath).Int64("size", sourceBytes).Msg("Video downloaded")

	if err := h.Extractor.ExtractFrame(ctx, videoPath, thumbPath, frame); err != nil {
		logger.Error().Err(err).Msg("Failed to extract thumbnail frame")
		return h.fail(res, start, "extract", fmt.Errorf("%w: %w", ErrExtract, err))
	}
	rec := &store.ThumbnailRecord{
		Bucket:       event.Bucket,
		SourceKey:    event.Name,
		ThumbnailKey: thumbKey,
		ContentType:  ThumbnailContentType,
	}
	if info, err := os.Stat(thumbPath); err == nil {
		rec.Size = info.Size()
	}
	if w, hgt, err := filehandler.ThumbnailDimensions(thumbPath); err == nil {
		rec.Width, rec.Height = w, hgt
	} else {
		logger.Debug().Err(err).Msg("Could not read thumbnail dimensions")
	}
	logger.Info().Str("localPath", thumbPath).Int64("size", rec.Size).Int("width", rec.Width).Int("height", rec.Height).Msg("Thumbnail created")

	if err := h.Store.Upload(ctx, event.Bucket, thumbKey, thumbPath, ThumbnailContentType); err != nil {
		logger.Error().Err(err).Str("thumbKey", thumbKey).Msg("Failed to upload thumbnail")
		return h.fail(res, start, "upload", fmt.Errorf("%w: %w", ErrUpload, err))
	}
	res.ThumbnailSize = rec.Size
	res.Duration = time.Since(start)

	logger.Info().
		Str("thumbKey", thumbKey).
		Int64("thumbSize", rec.Size).
		Dur("duration", res.Duration).
		Msg("Thumbnail uploaded")

	if h.Ledger != nil {
		if err := h.Ledger.PutThumbnail(ctx, rec); err != nil {
			logger.Warn().Err(err).Msg("Failed to record thumbnail in ledger")
		}
	}

	h.emit("generated", res, sourceBytes)
	return res, nil
}

func (h *Handler) fail(res Result, start time.Time, stage string, err error) (Result, error) {
	res.Duration = time.Since(start)
	h.emitFailure(stage, res)
	return res, err
}

func validate(event UploadEvent) error {
	if event.Bucket == "" {
		return fmt.Errorf("%w: empty bucket", ErrInvalidEvent)
	}
	if event.Name == "" || strings.HasSuffix(event.Name, "/") {
		return fmt.Errorf("%w: object name %q is not a file", ErrInvalidEvent, event.Name)
	}
	switch path.Base(event.Name) {
	case ".", "..", "/":
		return fmt.Errorf("%w: object name %q is not a file", ErrInvalidEvent, event.Name)
	}
	return nil
}

// removeTemp deletes a scratch file. A missing file is expected on early
// failures; any other error is logged and otherwise ignored so it cannot mask
// the pipeline result.
func removeTemp(logger zerolog.Logger, p string) {
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn().Err(err).Str("path", p).Msg("Failed to remove temp file")
	}
}

func (h *Handler) recorder() *metrics.Recorder {
	if h.MetricsNamespace == "" {
		return nil
	}
	if h.MetricsOutput != nil {
		return metrics.NewWithWriter(h.MetricsNamespace, h.MetricsOutput)
	}
	return metrics.New(h.MetricsNamespace)
}

func (h *Handler) emit(outcome string, res Result, sourceBytes int64) {
	r := h.recorder()
	if r == nil {
		return
	}
	r.Dimension("Operation", "videoThumbnail").
		Property("bucket", res.Bucket).
		Property("key", res.SourceKey).
		Property("outcome", outcome)
	if res.Skipped {
		r.Count("ThumbnailsSkipped")
	} else {
		r.Count("ThumbnailsGenerated").
			Metric("ThumbnailMs", float64(res.Duration.Milliseconds()), metrics.UnitMilliseconds).
			Metric("SourceBytes", float64(sourceBytes), metrics.UnitBytes).
			Metric("ThumbnailBytes", float64(res.ThumbnailSize), metrics.UnitBytes)
	}
	r.Flush()
}

func (h *Handler) emitFailure(stage string, res Result) {
	r := h.recorder()
	if r == nil {
		return
	}
	r.Dimension("Operation", "videoThumbnail").
		Count("ThumbnailFailures").
		Metric("ThumbnailMs", float64(res.Duration.Milliseconds()), metrics.UnitMilliseconds).
		Property("bucket", res.Bucket).
		Property("key", res.SourceKey).
		Property("stage", stage).
		Flush()
}
