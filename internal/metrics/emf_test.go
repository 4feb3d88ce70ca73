package metrics

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func newTestRecorder(buf *bytes.Buffer) *Recorder {
	functionName = ""
	r := NewWithWriter("VideoThumbnailer", buf)
	r.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return r
}

func TestNew_AutoDimension(t *testing.T) {
	initOnce.Do(func() {})
	functionName = "thumbnail-lambda"
	t.Cleanup(func() { functionName = "" })

	r := New("VideoThumbnailer")
	if r.dimensions["FunctionName"] != "thumbnail-lambda" {
		t.Errorf("expected FunctionName dimension, got %q", r.dimensions["FunctionName"])
	}
}

func TestRecorder_FlushOutput(t *testing.T) {
	var buf bytes.Buffer
	newTestRecorder(&buf).
		Dimension("Operation", "thumbnail").
		Metric("ThumbnailMs", 812.5, UnitMilliseconds).
		Count("ThumbnailsGenerated").
		Property("key", "videos/clip.mp4").
		Flush()

	var doc map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("failed to parse EMF output: %v\n%s", err, buf.String())
	}

	awsMap, ok := doc["_aws"].(map[string]interface{})
	if !ok {
		t.Fatal("missing _aws directive")
	}
	if awsMap["Timestamp"] != float64(1700000000000) {
		t.Errorf("unexpected timestamp %v", awsMap["Timestamp"])
	}
	cwList, ok := awsMap["CloudWatchMetrics"].([]interface{})
	if !ok || len(cwList) != 1 {
		t.Fatalf("expected one CloudWatchMetrics entry, got %v", awsMap["CloudWatchMetrics"])
	}
	cw := cwList[0].(map[string]interface{})
	if cw["Namespace"] != "VideoThumbnailer" {
		t.Errorf("expected namespace VideoThumbnailer, got %v", cw["Namespace"])
	}
	defs := cw["Metrics"].([]interface{})
	if len(defs) != 2 {
		t.Fatalf("expected 2 metric definitions, got %d", len(defs))
	}
	// Definitions are sorted by name.
	if defs[0].(map[string]interface{})["Name"] != "ThumbnailMs" {
		t.Errorf("unexpected first metric %v", defs[0])
	}

	if doc["Operation"] != "thumbnail" {
		t.Errorf("expected Operation=thumbnail, got %v", doc["Operation"])
	}
	if doc["ThumbnailMs"] != 812.5 {
		t.Errorf("expected ThumbnailMs=812.5, got %v", doc["ThumbnailMs"])
	}
	if doc["ThumbnailsGenerated"] != float64(1) {
		t.Errorf("expected ThumbnailsGenerated=1, got %v", doc["ThumbnailsGenerated"])
	}
	if doc["key"] != "videos/clip.mp4" {
		t.Errorf("expected key property, got %v", doc["key"])
	}
	if !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
		t.Error("EMF document must be newline terminated")
	}
}

func TestRecorder_FlushEmpty(t *testing.T) {
	var buf bytes.Buffer
	newTestRecorder(&buf).Property("key", "x").Flush()
	if buf.Len() != 0 {
		t.Errorf("expected no output without metrics, got %s", buf.String())
	}
}

func TestRecorder_MetricOverridesProperty(t *testing.T) {
	var buf bytes.Buffer
	newTestRecorder(&buf).
		Property("SourceBytes", "ignored").
		Metric("SourceBytes", 42, UnitBytes).
		Flush()

	var doc map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	if doc["SourceBytes"] != float64(42) {
		t.Errorf("metric value should win over property, got %v", doc["SourceBytes"])
	}
}
