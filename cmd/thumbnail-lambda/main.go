// Package main provides the Lambda entry point for video thumbnail generation.
//
// The function is subscribed to s3:ObjectCreated:* notifications on the media
// bucket. For every new video it downloads the object to /tmp, extracts a
// 320px-wide JPEG at the 2-second mark with ffmpeg, and uploads it next to the
// source as {name}_thumb.jpg. Non-video objects, including the thumbnails this
// function writes, are skipped.
//
// It also accepts a direct invoke with {"bucket", "name", "contentType"}.
//
// Container: includes ffmpeg (FFMPEG_PATH)
// Memory: 1 GB
// Timeout: 2 minutes
package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/video-thumbnailer/internal/lambdaboot"
	"github.com/fpang/video-thumbnailer/internal/logging"
	"github.com/fpang/video-thumbnailer/internal/thumbnail"
)

// function holds the process-wide state built once at cold start.
type function struct {
	handler   *thumbnail.Handler
	resolver  contentTypeResolver
	coldStart bool
}

func main() {
	initStart := time.Now()
	logging.Init()

	cfg := lambdaboot.LoadConfig()
	awsCfg := lambdaboot.InitAWS()
	objects := lambdaboot.InitS3(awsCfg)
	extractor := lambdaboot.InitExtractor()
	ledger := lambdaboot.InitLedgerOptional(awsCfg, cfg.TableName)
	lambdaboot.InitTempDir(cfg.TempDir)

	fn := &function{
		handler:   lambdaboot.NewHandler(objects, extractor, ledger, cfg),
		resolver:  objects,
		coldStart: true,
	}

	lambdaboot.StartupLog("thumbnail-lambda", cfg, extractor, ledger).
		InitDuration(time.Since(initStart)).
		Log()

	lambda.Start(fn.handle)
}

// handle processes every upload event in the payload in order. Failures are
// joined and returned so the platform records the invocation as failed and
// applies its own retry policy.
func (fn *function) handle(ctx context.Context, payload json.RawMessage) error {
	if fn.coldStart {
		fn.coldStart = false
		log.Info().Str("function", "thumbnail-lambda").Msg("Cold start, first invocation")
	}

	uploads, decodeErr := decodeUploadEvents(ctx, payload, fn.resolver)
	if decodeErr != nil {
		log.Error().Err(decodeErr).Msg("Failed to decode some events")
	}

	errs := []error{decodeErr}
	for _, ev := range uploads {
		res, err := fn.handler.Handle(ctx, ev)
		if err != nil {
			log.Error().Err(err).Str("bucket", ev.Bucket).Str("key", ev.Name).Msg("Thumbnail generation failed")
			errs = append(errs, err)
			continue
		}
		if !res.Skipped {
			log.Info().
				Str("key", res.SourceKey).
				Str("thumbKey", res.ThumbnailKey).
				Dur("duration", res.Duration).
				Msg("Thumbnail generation complete")
		}
	}
	return errors.Join(errs...)
}
