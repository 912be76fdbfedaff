package monitoring

import (
	"fmt"
	"io"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType is the Prometheus type of a metric.
type MetricType string

const (
	MetricTypeCounter MetricType = "counter"
	MetricTypeGauge   MetricType = "gauge"
)

// Metric is the latest value of one named series.
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Help      string            `json:"help,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Metric names recorded by the pipeline.
const (
	MetricUploads          = "edupredict_uploads_total"
	MetricRowsIngested     = "edupredict_rows_ingested_total"
	MetricTrainingRuns     = "edupredict_training_runs_total"
	MetricTrainingSeconds  = "edupredict_training_seconds"
	MetricModelR2          = "edupredict_model_r2"
	MetricPredictions      = "edupredict_predictions_total"
	MetricInputSubstituted = "edupredict_prediction_inputs_substituted_total"
)

var metricHelp = map[string]string{
	MetricUploads:          "Uploaded datasets by outcome",
	MetricRowsIngested:     "Rows read from uploaded datasets",
	MetricTrainingRuns:     "Training runs by outcome",
	MetricTrainingSeconds:  "Duration of the last training run",
	MetricModelR2:          "Training R squared of the last saved model",
	MetricPredictions:      "Predictions served",
	MetricInputSubstituted: "Prediction inputs replaced because they were malformed or unknown",
}

// MetricsCollector keeps counters and gauges in memory.
type MetricsCollector struct {
	metrics     map[string]*Metric
	metricsLock sync.RWMutex

	startTime time.Time
}

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		metrics:   make(map[string]*Metric),
		startTime: time.Now(),
	}
}

func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	return name + formatLabels(labels)
}

func formatLabels(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, labels[k])
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// IncrCounter adds value to a counter series.
func (mc *MetricsCollector) IncrCounter(name string, value float64, labels map[string]string) {
	mc.metricsLock.Lock()
	defer mc.metricsLock.Unlock()

	key := seriesKey(name, labels)
	m, ok := mc.metrics[key]
	if !ok {
		m = &Metric{Name: name, Type: MetricTypeCounter, Labels: labels, Help: metricHelp[name]}
		mc.metrics[key] = m
	}
	m.Value += value
	m.Timestamp = time.Now()
}

// SetGauge sets a gauge series.
func (mc *MetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	mc.metricsLock.Lock()
	defer mc.metricsLock.Unlock()

	mc.metrics[seriesKey(name, labels)] = &Metric{
		Name:      name,
		Type:      MetricTypeGauge,
		Value:     value,
		Labels:    labels,
		Help:      metricHelp[name],
		Timestamp: time.Now(),
	}
}

// Value returns the current value of a series, zero if never recorded.
func (mc *MetricsCollector) Value(name string, labels map[string]string) float64 {
	mc.metricsLock.RLock()
	defer mc.metricsLock.RUnlock()
	if m, ok := mc.metrics[seriesKey(name, labels)]; ok {
		return m.Value
	}
	return 0
}

// RecordUpload counts one upload attempt.
func (mc *MetricsCollector) RecordUpload(rows int, err error) {
	mc.IncrCounter(MetricUploads, 1, outcome(err))
	if err == nil {
		mc.IncrCounter(MetricRowsIngested, float64(rows), nil)
	}
}

// RecordTraining counts one training run. r2 is only kept for successes.
func (mc *MetricsCollector) RecordTraining(d time.Duration, r2 float64, err error) {
	mc.IncrCounter(MetricTrainingRuns, 1, outcome(err))
	mc.SetGauge(MetricTrainingSeconds, d.Seconds(), nil)
	if err == nil {
		mc.SetGauge(MetricModelR2, r2, nil)
	}
}

// RecordPrediction counts one prediction and its substituted inputs.
func (mc *MetricsCollector) RecordPrediction(substituted int) {
	mc.IncrCounter(MetricPredictions, 1, nil)
	if substituted > 0 {
		mc.IncrCounter(MetricInputSubstituted, float64(substituted), nil)
	}
}

func outcome(err error) map[string]string {
	if err != nil {
		return map[string]string{"outcome": "error"}
	}
	return map[string]string{"outcome": "ok"}
}

// GetAllMetrics returns a copy of every series ordered by name and labels.
func (mc *MetricsCollector) GetAllMetrics() []Metric {
	mc.metricsLock.RLock()
	keys := make([]string, 0, len(mc.metrics))
	for k := range mc.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Metric, len(keys))
	for i, k := range keys {
		out[i] = *mc.metrics[k]
	}
	mc.metricsLock.RUnlock()
	return out
}

// ExportPrometheus writes every series in the Prometheus text format.
func (mc *MetricsCollector) ExportPrometheus(w io.Writer) error {
	described := make(map[string]bool)
	for _, m := range mc.GetAllMetrics() {
		if !described[m.Name] {
			help := m.Help
			if help == "" {
				help = "Metric " + m.Name
			}
			if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", m.Name, help, m.Name, m.Type); err != nil {
				return err
			}
			described[m.Name] = true
		}
		labels := ""
		if len(m.Labels) > 0 {
			labels = formatLabels(m.Labels)
		}
		if _, err := fmt.Fprintf(w, "%s%s %g\n", m.Name, labels, m.Value); err != nil {
			return err
		}
	}
	return nil
}

// GetUptime returns the time since the collector was created.
func (mc *MetricsCollector) GetUptime() time.Duration {
	return time.Since(mc.startTime)
}

// GetSystemStats reports runtime memory and goroutine figures.
func (mc *MetricsCollector) GetSystemStats() map[string]any {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]any{
		"uptime":     mc.GetUptime().String(),
		"goroutines": runtime.NumGoroutine(),
		"memory": map[string]any{
			"alloc":      m.Alloc,
			"sys":        m.Sys,
			"heap_alloc": m.HeapAlloc,
			"heap_inuse": m.HeapInuse,
			"gc_count":   m.NumGC,
		},
		"num_cpu": runtime.NumCPU(),
	}
}
