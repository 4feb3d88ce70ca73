package thumbnail

import (
	"path"
	"strings"
)

// ThumbnailSuffix is appended to the source base name to form the thumbnail
// name. Downstream consumers locate a video's thumbnail by this convention.
const ThumbnailSuffix = "_thumb.jpg"

// ThumbnailContentType is the content type stored on every thumbnail.
const ThumbnailContentType = "image/jpeg"

const videoPrefix = "video/"

// IsVideo reports whether contentType declares a video (video/*). MIME types
// are case-insensitive, so "Video/MP4" matches; surrounding whitespace is
// ignored.
func IsVideo(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	return strings.HasPrefix(ct, videoPrefix)
}

// baseName returns the last element of an object key. Keys always use '/'.
func baseName(objectName string) string {
	return path.Base(objectName)
}

// stem strips the extension from a base name. A dot-file such as ".clip"
// has no extension and keeps its full name.
func stem(base string) string {
	ext := path.Ext(base)
	if ext == base {
		return base
	}
	return strings.TrimSuffix(base, ext)
}

// ThumbnailFileName returns the thumbnail file name for an object:
// "videos/clip.mp4" -> "clip_thumb.jpg".
func ThumbnailFileName(objectName string) string {
	return stem(baseName(objectName)) + ThumbnailSuffix
}

// ThumbnailKey returns the storage key of the thumbnail, in the same directory
// as the source: "videos/clip.mp4" -> "videos/clip_thumb.jpg",
// "clip.mp4" -> "clip_thumb.jpg".
func ThumbnailKey(objectName string) string {
	return path.Join(path.Dir(objectName), ThumbnailFileName(objectName))
}
