// Package metrics emits CloudWatch Embedded Metric Format (EMF) documents.
// Each flush writes one JSON line; CloudWatch Logs extracts the metrics from
// the Lambda log stream, so recording a metric never makes an API call.
//
// See: https://docs.aws.amazon.com/AmazonCloudWatch/latest/monitoring/CloudWatch_Embedded_Metric_Format_Specification.html
package metrics

import (
	"encoding/json"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Standard CloudWatch metric units.
const (
	UnitMilliseconds = "Milliseconds"
	UnitCount        = "Count"
	UnitBytes        = "Bytes"
	UnitNone         = "None"
)

type metricDef struct {
	Name string `json:"Name"`
	Unit string `json:"Unit"`
}

type emfDirective struct {
	Timestamp         int64      `json:"Timestamp"`
	CloudWatchMetrics []cwMetric `json:"CloudWatchMetrics"`
}

type cwMetric struct {
	Namespace  string      `json:"Namespace"`
	Dimensions [][]string  `json:"Dimensions"`
	Metrics    []metricDef `json:"Metrics"`
}

// Recorder accumulates dimensions, metrics and properties for a single flush.
// It is not safe for concurrent use; create one per invocation.
type Recorder struct {
	namespace  string
	out        io.Writer
	now        func() time.Time
	dimensions map[string]string
	metrics    map[string]metricDef
	values     map[string]float64
	properties map[string]interface{}
}

var (
	functionName string
	initOnce     sync.Once
)

// New creates a Recorder that flushes to stdout, where the Lambda runtime
// forwards it to CloudWatch Logs. The FunctionName dimension is added
// automatically when running inside Lambda.
func New(namespace string) *Recorder {
	return NewWithWriter(namespace, os.Stdout)
}

// NewWithWriter creates a Recorder that flushes to w.
func NewWithWriter(namespace string, w io.Writer) *Recorder {
	initOnce.Do(func() { functionName = os.Getenv("AWS_LAMBDA_FUNCTION_NAME") })
	r := &Recorder{
		namespace:  namespace,
		out:        w,
		now:        time.Now,
		dimensions: make(map[string]string),
		metrics:    make(map[string]metricDef),
		values:     make(map[string]float64),
		properties: make(map[string]interface{}),
	}
	if functionName != "" {
		r.dimensions["FunctionName"] = functionName
	}
	return r
}

// Dimension adds an indexed dimension to every metric in the document.
func (r *Recorder) Dimension(key, value string) *Recorder {
	r.dimensions[key] = value
	return r
}

// Metric records a named value with a CloudWatch unit.
func (r *Recorder) Metric(name string, value float64, unit string) *Recorder {
	r.metrics[name] = metricDef{Name: name, Unit: unit}
	r.values[name] = value
	return r
}

// Count records a count metric with value 1.
func (r *Recorder) Count(name string) *Recorder {
	return r.Metric(name, 1, UnitCount)
}

// Property adds a searchable field that does not create a metric.
func (r *Recorder) Property(key string, value interface{}) *Recorder {
	r.properties[key] = value
	return r
}

// Flush writes the document as a single line. Nothing is written when no
// metric was recorded. The Recorder should not be reused afterwards.
func (r *Recorder) Flush() {
	if len(r.metrics) == 0 {
		return
	}

	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	defs := make([]metricDef, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.metrics[name])
	}

	dimKeys := make([]string, 0, len(r.dimensions))
	for k := range r.dimensions {
		dimKeys = append(dimKeys, k)
	}
	sort.Strings(dimKeys)

	doc := make(map[string]interface{}, len(r.dimensions)+len(r.values)+len(r.properties)+1)
	for k, v := range r.properties {
		doc[k] = v
	}
	for k, v := range r.dimensions {
		doc[k] = v
	}
	for k, v := range r.values {
		doc[k] = v
	}
	doc["_aws"] = emfDirective{
		Timestamp: r.now().UnixMilli(),
		CloudWatchMetrics: []cwMetric{{
			Namespace:  r.namespace,
			Dimensions: [][]string{dimKeys},
			Metrics:    defs,
		}},
	}

	data, err := json.Marshal(doc)
	if err != nil {
		log.Warn().Err(err).Str("namespace", r.namespace).Msg("Failed to marshal EMF document")
		return
	}
	data = append(data, '\n')
	if _, err := r.out.Write(data); err != nil {
		log.Warn().Err(err).Str("namespace", r.namespace).Msg("Failed to write EMF document")
	}
}
