package filehandler

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// writeFakeFFmpeg installs a shell script standing in for ffmpeg. The script
// body receives the output path (last argument) as $out.
func writeFakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg script requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\nfor out; do :; done\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func assertContains(t *testing.T, args []string, flag, value string) {
	t.Helper()
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag && args[i+1] == value {
			return
		}
	}
	t.Errorf("expected %s %s in args %v", flag, value, args)
}

func TestBuildFrameArgs(t *testing.T) {
	args := buildFrameArgs("/tmp/clip.mp4", "/tmp/clip_thumb.jpg", DefaultFrameOptions())

	assertContains(t, args, "-ss", "2")
	assertContains(t, args, "-i", "/tmp/clip.mp4")
	assertContains(t, args, "-frames:v", "1")
	assertContains(t, args, "-vf", "scale=320:-1")
	assertContains(t, args, "-y", "/tmp/clip_thumb.jpg")

	// Input seeking: -ss must come before -i.
	ssIdx, inIdx := -1, -1
	for i, a := range args {
		switch a {
		case "-ss":
			ssIdx = i
		case "-i":
			inIdx = i
		}
	}
	if ssIdx > inIdx {
		t.Errorf("expected -ss before -i, got %v", args)
	}
	if args[len(args)-1] != "/tmp/clip_thumb.jpg" {
		t.Errorf("output path must be last, got %v", args)
	}
}

func TestDefaultFrameOptions(t *testing.T) {
	opts := DefaultFrameOptions()
	if opts.Timestamp != "2" || opts.Width != 320 {
		t.Errorf("unexpected defaults %+v", opts)
	}
}

func TestResolveFFmpegPath_Env(t *testing.T) {
	fake := writeFakeFFmpeg(t, "exit 0")
	t.Setenv("FFMPEG_PATH", fake)

	got, err := ResolveFFmpegPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != fake {
		t.Errorf("expected %s, got %s", fake, got)
	}
}

func TestResolveFFmpegPath_EnvMissing(t *testing.T) {
	t.Setenv("FFMPEG_PATH", filepath.Join(t.TempDir(), "nope"))
	if _, err := ResolveFFmpegPath(); err == nil {
		t.Error("expected error for missing FFMPEG_PATH target")
	}
}

func TestResolveFFmpegPath_EnvDirectory(t *testing.T) {
	t.Setenv("FFMPEG_PATH", t.TempDir())
	if _, err := ResolveFFmpegPath(); err == nil {
		t.Error("expected error when FFMPEG_PATH is a directory")
	}
}

func TestCheckFFmpegAvailable(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "ffmpeg")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		env  string
		want bool
	}{
		{"binary", bin, true},
		{"missing", filepath.Join(dir, "nope"), false},
		{"directory", dir, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("FFMPEG_PATH", tt.env)
			err := CheckFFmpegAvailable()
			if (err == nil) != tt.want {
				t.Errorf("CheckFFmpegAvailable() = %v, want available=%v", err, tt.want)
			}
			if got := IsFFmpegAvailable(); got != tt.want {
				t.Errorf("IsFFmpegAvailable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractFrame_Success(t *testing.T) {
	fake := writeFakeFFmpeg(t, `printf 'jpeg' > "$out"`)
	e := &FFmpegExtractor{Path: fake}
	out := filepath.Join(t.TempDir(), "clip_thumb.jpg")

	if err := e.ExtractFrame(context.Background(), "clip.mp4", out, DefaultFrameOptions()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil || string(data) != "jpeg" {
		t.Errorf("expected fake frame at %s, got %q (%v)", out, data, err)
	}
}

func TestExtractFrame_ProcessFailure(t *testing.T) {
	fake := writeFakeFFmpeg(t, `echo "moov atom not found" >&2; exit 1`)
	e := &FFmpegExtractor{Path: fake}
	out := filepath.Join(t.TempDir(), "clip_thumb.jpg")

	err := e.ExtractFrame(context.Background(), "clip.mp4", out, DefaultFrameOptions())
	if err == nil {
		t.Fatal("expected error from failing ffmpeg")
	}
	if !strings.Contains(err.Error(), "moov atom not found") {
		t.Errorf("expected ffmpeg output in error, got %v", err)
	}
}

func TestExtractFrame_NoOutput(t *testing.T) {
	fake := writeFakeFFmpeg(t, "exit 0")
	e := &FFmpegExtractor{Path: fake}
	out := filepath.Join(t.TempDir(), "clip_thumb.jpg")

	err := e.ExtractFrame(context.Background(), "clip.mp4", out, DefaultFrameOptions())
	if !errors.Is(err, ErrNoFrame) {
		t.Errorf("expected ErrNoFrame, got %v", err)
	}
}

func TestExtractFrame_EmptyOutput(t *testing.T) {
	fake := writeFakeFFmpeg(t, `: > "$out"`)
	e := &FFmpegExtractor{Path: fake}
	out := filepath.Join(t.TempDir(), "clip_thumb.jpg")

	err := e.ExtractFrame(context.Background(), "clip.mp4", out, DefaultFrameOptions())
	if !errors.Is(err, ErrNoFrame) {
		t.Errorf("expected ErrNoFrame for empty output, got %v", err)
	}
}

func TestExtractFrame_Cancelled(t *testing.T) {
	fake := writeFakeFFmpeg(t, "sleep 5")
	e := &FFmpegExtractor{Path: fake}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.ExtractFrame(ctx, "clip.mp4", filepath.Join(t.TempDir(), "x.jpg"), DefaultFrameOptions())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestExtractFrame_InvalidWidth(t *testing.T) {
	e := &FFmpegExtractor{Path: "ffmpeg"}
	err := e.ExtractFrame(context.Background(), "in", "out", FrameOptions{Timestamp: "2"})
	if err == nil {
		t.Error("expected error for zero width")
	}
}

func TestThumbnailDimensions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.jpg")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	img := image.NewRGBA(image.Rect(0, 0, 320, 180))
	img.Set(10, 10, color.White)
	if err := jpeg.Encode(f, img, nil); err != nil {
		t.Fatal(err)
	}
	f.Close()

	w, h, err := ThumbnailDimensions(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w != 320 || h != 180 {
		t.Errorf("expected 320x180, got %dx%d", w, h)
	}
}

func TestThumbnailDimensions_NotJPEG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.jpg")
	if err := os.WriteFile(path, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := ThumbnailDimensions(path); err == nil {
		t.Error("expected decode error")
	}
}

// TestExtractFrame_RealFFmpeg runs the real binary against a synthetic clip.
func TestExtractFrame_RealFFmpeg(t *testing.T) {
	t.Setenv("FFMPEG_PATH", "")
	e, err := NewFFmpegExtractor()
	if err != nil {
		t.Skipf("ffmpeg not available: %v", err)
	}

	dir := t.TempDir()
	video := filepath.Join(dir, "clip.mp4")
	gen := exec.Command(e.Path, "-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "testsrc=duration=3:size=640x360:rate=10",
		"-pix_fmt", "yuv420p", "-y", video)
	if out, err := gen.CombinedOutput(); err != nil {
		t.Skipf("could not synthesize test video: %v: %s", err, out)
	}

	thumb := filepath.Join(dir, "clip_thumb.jpg")
	if err := e.ExtractFrame(context.Background(), video, thumb, DefaultFrameOptions()); err != nil {
		t.Fatalf("extract: %v", err)
	}
	w, h, err := ThumbnailDimensions(thumb)
	if err != nil {
		t.Fatal(err)
	}
	if w != 320 || h != 180 {
		t.Errorf("expected 320x180 thumbnail, got %dx%d", w, h)
	}
}
