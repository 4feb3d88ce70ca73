package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog/log"

	"github.com/fpang/video-thumbnailer/internal/thumbnail"
)

// s3TestEvent is the Event value S3 sends once when a notification is configured.
const s3TestEvent = "s3:TestEvent"

// contentTypeResolver looks up an object's stored content type.
type contentTypeResolver interface {
	ContentType(ctx context.Context, bucket, key string) (string, error)
}

// invocation is the union of the payloads this function accepts: an S3 event
// notification, S3's configuration test event, or a single upload event sent
// by a direct invoke.
type invocation struct {
	Records []events.S3EventRecord `json:"Records"`
	Event   string                 `json:"Event"`
	thumbnail.UploadEvent
}

// decodeUploadEvents turns a raw invocation payload into upload events.
//
// S3 notifications carry neither a decoded key nor a content type, so keys are
// URL-decoded and content types are fetched with HeadObject. Keys ending in
// the thumbnail suffix are this function's own output and are typed as JPEG
// without a lookup. Records that are not object creations are dropped, and the
// s3:TestEvent payload yields no events. A record that cannot be resolved is left
// out of the result and reported in the joined error, so the remaining
// records still run.
func decodeUploadEvents(ctx context.Context, payload json.RawMessage, resolver contentTypeResolver) ([]thumbnail.UploadEvent, error) {
	var inv invocation
	if err := json.Unmarshal(payload, &inv); err != nil {
		return nil, fmt.Errorf("decode invocation payload: %w", err)
	}

	if inv.Event == s3TestEvent {
		log.Debug().Str("bucket", inv.Bucket).Msg("Ignoring S3 test event")
		return nil, nil
	}

	if len(inv.Records) == 0 {
		if inv.Bucket == "" && inv.Name == "" {
			return nil, fmt.Errorf("payload is neither an S3 notification nor an upload event")
		}
		return []thumbnail.UploadEvent{inv.UploadEvent}, nil
	}

	out := make([]thumbnail.UploadEvent, 0, len(inv.Records))
	var errs []error
	for _, rec := range inv.Records {
		if rec.EventName != "" && !strings.HasPrefix(rec.EventName, "ObjectCreated:") {
			log.Debug().Str("eventName", rec.EventName).Str("key", rec.S3.Object.Key).Msg("Ignoring non-create S3 event")
			continue
		}

		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			errs = append(errs, fmt.Errorf("decode S3 key %q: %w", rec.S3.Object.Key, err))
			continue
		}
		bucket := rec.S3.Bucket.Name

		if strings.HasSuffix(key, thumbnail.ThumbnailSuffix) {
			out = append(out, thumbnail.UploadEvent{
				Bucket:      bucket,
				Name:        key,
				ContentType: thumbnail.ThumbnailContentType,
			})
			continue
		}

		contentType, err := resolver.ContentType(ctx, bucket, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, thumbnail.UploadEvent{
			Bucket:      bucket,
			Name:        key,
			ContentType: contentType,
		})
	}
	return out, errors.Join(errs...)
}
