package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// EncoderJobLabel identifies an encoder job counter by kind ("live",
// "thumbnail", "probe") and status ("start", "complete", "fail").
type EncoderJobLabel struct {
	Kind   string
	Status string
}

// Recorder aggregates in-memory counters and gauges for HTTP requests,
// stream lifecycle events, encoder jobs, and uploads. It coordinates
// concurrent writers via a RWMutex while exposing thread-safe gauges for
// active streams and encoder jobs.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	streamEvents    map[string]uint64
	uploadEvents    map[string]uint64
	encoderEvents   map[EncoderJobLabel]uint64
	activeStreams   atomic.Int64
	activeEncoders  atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		streamEvents:    make(map[string]uint64),
		uploadEvents:    make(map[string]uint64),
		encoderEvents:   make(map[EncoderJobLabel]uint64),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// StreamStarted records a start lifecycle event and increments the active
// stream gauge.
func (r *Recorder) StreamStarted() {
	r.incrementStreamEvent("start")
	r.activeStreams.Add(1)
}

// StreamStopped records a stop lifecycle event and decrements the active
// stream gauge, guarding against negative counts when updates race.
func (r *Recorder) StreamStopped() {
	r.incrementStreamEvent("stop")
	r.decrementGauge(&r.activeStreams)
}

// StreamAdvanced records a playlist advance on the running stream.
func (r *Recorder) StreamAdvanced() {
	r.incrementStreamEvent("advance")
}

// StreamErrored records an encoder exit that was not requested by the
// operator and decrements the active stream gauge.
func (r *Recorder) StreamErrored() {
	r.incrementStreamEvent("error")
	r.decrementGauge(&r.activeStreams)
}

func (r *Recorder) incrementStreamEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.streamEvents[normalized]++
	r.mu.Unlock()
}

// ObserveUpload records an upload pipeline event keyed by outcome
// (e.g., "accepted", "rejected", "probed").
func (r *Recorder) ObserveUpload(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.uploadEvents[normalized]++
	r.mu.Unlock()
}

// EncoderJobStarted records the beginning of an encoder job of the provided
// kind and increments the active job gauge.
func (r *Recorder) EncoderJobStarted(kind string) {
	r.recordEncoderEvent(kind, "start")
	r.activeEncoders.Add(1)
}

// EncoderJobCompleted records the completion of an encoder job and
// decrements the active job gauge.
func (r *Recorder) EncoderJobCompleted(kind string) {
	r.recordEncoderEvent(kind, "complete")
	r.decrementGauge(&r.activeEncoders)
}

// EncoderJobFailed records a failed encoder job and decrements the active
// job gauge (without allowing it to go negative if the job never started).
func (r *Recorder) EncoderJobFailed(kind string) {
	r.recordEncoderEvent(kind, "fail")
	r.decrementGauge(&r.activeEncoders)
}

func (r *Recorder) recordEncoderEvent(kind, status string) {
	label := EncoderJobLabel{
		Kind:   normalizeName(kind),
		Status: normalizeName(status),
	}
	r.mu.Lock()
	r.encoderEvents[label]++
	r.mu.Unlock()
}

// ActiveStreams exposes the current gauge of concurrently active streams.
func (r *Recorder) ActiveStreams() int64 {
	return r.activeStreams.Load()
}

// ActiveEncoderJobs exposes the current number of active encoder jobs.
func (r *Recorder) ActiveEncoderJobs() int64 {
	return r.activeEncoders.Load()
}

// StreamEventCounts returns a copy of the stream lifecycle counters for
// testing and reporting purposes.
func (r *Recorder) StreamEventCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events := make(map[string]uint64, len(r.streamEvents))
	for k, v := range r.streamEvents {
		events[k] = v
	}
	return events
}

// EncoderJobCounts returns copies of encoder job counters and the current
// active job gauge value.
func (r *Recorder) EncoderJobCounts() (events map[EncoderJobLabel]uint64, active int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events = make(map[EncoderJobLabel]uint64, len(r.encoderEvents))
	for k, v := range r.encoderEvents {
		events[k] = v
	}
	return events, r.activeEncoders.Load()
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.streamEvents = make(map[string]uint64)
	r.uploadEvents = make(map[string]uint64)
	r.encoderEvents = make(map[EncoderJobLabel]uint64)
	r.activeStreams.Store(0)
	r.activeEncoders.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	streamEvents := sortedKeys(r.streamEvents)
	uploadEvents := sortedKeys(r.uploadEvents)
	encoderEvents := r.sortedEncoderJobLabels()

	fmt.Fprintln(w, "# HELP loopcast_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE loopcast_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "loopcast_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP loopcast_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE loopcast_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "loopcast_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP loopcast_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE loopcast_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "loopcast_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP loopcast_stream_events_total Stream lifecycle events by type")
	fmt.Fprintln(w, "# TYPE loopcast_stream_events_total counter")
	for _, event := range streamEvents {
		value := r.streamEvents[event]
		fmt.Fprintf(w, "loopcast_stream_events_total{event=\"%s\"} %d\n", event, value)
	}

	fmt.Fprintln(w, "# HELP loopcast_active_streams Current number of streams marked as live")
	fmt.Fprintln(w, "# TYPE loopcast_active_streams gauge")
	fmt.Fprintf(w, "loopcast_active_streams %d\n", r.activeStreams.Load())

	fmt.Fprintln(w, "# HELP loopcast_upload_events_total Upload pipeline events by outcome")
	fmt.Fprintln(w, "# TYPE loopcast_upload_events_total counter")
	for _, event := range uploadEvents {
		count := r.uploadEvents[event]
		fmt.Fprintf(w, "loopcast_upload_events_total{event=\"%s\"} %d\n", event, count)
	}

	fmt.Fprintln(w, "# HELP loopcast_encoder_jobs_total Encoder job events by kind and status")
	fmt.Fprintln(w, "# TYPE loopcast_encoder_jobs_total counter")
	for _, label := range encoderEvents {
		count := r.encoderEvents[label]
		fmt.Fprintf(w, "loopcast_encoder_jobs_total{kind=\"%s\",status=\"%s\"} %d\n", label.Kind, label.Status, count)
	}

	fmt.Fprintln(w, "# HELP loopcast_encoder_active_jobs Current number of active encoder jobs")
	fmt.Fprintln(w, "# TYPE loopcast_encoder_active_jobs gauge")
	fmt.Fprintf(w, "loopcast_encoder_active_jobs %d\n", r.activeEncoders.Load())
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedEncoderJobLabels() []EncoderJobLabel {
	labels := make([]EncoderJobLabel, 0, len(r.encoderEvents))
	for label := range r.encoderEvents {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Kind != labels[j].Kind {
			return labels[i].Kind < labels[j].Kind
		}
		return labels[i].Status < labels[j].Status
	})
	return labels
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
			continue
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 8 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// StreamStarted increments counters on the default recorder.
func StreamStarted() {
	defaultRecorder.StreamStarted()
}

// StreamStopped decrements active streams on the default recorder.
func StreamStopped() {
	defaultRecorder.StreamStopped()
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
