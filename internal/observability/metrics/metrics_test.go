package metrics

import (
	"bytes"
	"fmt"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestObserveRequestAndNormalizePath(t *testing.T) {
	recorder := New()

	type testCase struct {
		name     string
		method   string
		path     string
		status   int
		duration time.Duration
	}

	cases := []testCase{
		{
			name:     "root path",
			method:   "get",
			path:     "/",
			status:   200,
			duration: 50 * time.Millisecond,
		},
		{
			name:     "empty path",
			method:   "GET",
			path:     "",
			status:   200,
			duration: 25 * time.Millisecond,
		},
		{
			name:     "id segment",
			method:   "delete",
			path:     "/api/videos/123",
			status:   200,
			duration: 100 * time.Millisecond,
		},
		{
			name:     "trailing slash and alpha id",
			method:   "DELETE",
			path:     "/api/videos/abc123def/",
			status:   200,
			duration: 50 * time.Millisecond,
		},
		{
			name:     "multi ids",
			method:   "PATCH",
			path:     "api/videos/abc/456/extra",
			status:   404,
			duration: 10 * time.Millisecond,
		},
	}

	expectedCounts := make(map[requestLabel]struct {
		count    uint64
		duration time.Duration
	})

	for _, tc := range cases {
		recorder.ObserveRequest(tc.method, tc.path, tc.status, tc.duration)

		label := requestLabel{
			method: strings.ToUpper(tc.method),
			path:   normalizePath(tc.path),
			status: fmt.Sprintf("%d", tc.status),
		}
		current := expectedCounts[label]
		current.count++
		current.duration += tc.duration
		expectedCounts[label] = current
	}

	if len(recorder.requestCount) != len(expectedCounts) {
		t.Fatalf("unexpected number of labels: got %d want %d", len(recorder.requestCount), len(expectedCounts))
	}

	for label, expected := range expectedCounts {
		gotCount := recorder.requestCount[label]
		gotDuration := recorder.requestDuration[label]
		if gotCount != expected.count {
			t.Errorf("count mismatch for %+v: got %d want %d", label, gotCount, expected.count)
		}
		if gotDuration != expected.duration {
			t.Errorf("duration mismatch for %+v: got %s want %s", label, gotDuration, expected.duration)
		}
	}

	labels := recorder.sortedRequestLabels()
	sortedExpected := make([]requestLabel, 0, len(expectedCounts))
	for label := range expectedCounts {
		sortedExpected = append(sortedExpected, label)
	}
	sort.Slice(sortedExpected, func(i, j int) bool {
		if sortedExpected[i].method != sortedExpected[j].method {
			return sortedExpected[i].method < sortedExpected[j].method
		}
		if sortedExpected[i].path != sortedExpected[j].path {
			return sortedExpected[i].path < sortedExpected[j].path
		}
		return sortedExpected[i].status < sortedExpected[j].status
	})

	if len(labels) != len(sortedExpected) {
		t.Fatalf("sorted labels length mismatch: got %d want %d", len(labels), len(sortedExpected))
	}

	for i := range labels {
		if labels[i] != sortedExpected[i] {
			t.Errorf("sorted label %d mismatch: got %+v want %+v", i, labels[i], sortedExpected[i])
		}
	}
}

func TestStreamGaugeConcurrent(t *testing.T) {
	recorder := New()

	var wg sync.WaitGroup
	starts := 100
	stops := 150

	wg.Add(starts + stops)
	for i := 0; i < starts; i++ {
		go func() {
			defer wg.Done()
			recorder.StreamStarted()
		}()
	}
	for i := 0; i < stops; i++ {
		go func() {
			defer wg.Done()
			recorder.StreamStopped()
		}()
	}

	wg.Wait()

	if active := recorder.ActiveStreams(); active != 0 {
		t.Fatalf("active streams should not go negative; got %d", active)
	}

	if count := recorder.streamEvents["start"]; count != uint64(starts) {
		t.Fatalf("unexpected start events: got %d want %d", count, starts)
	}
	if count := recorder.streamEvents["stop"]; count != uint64(stops) {
		t.Fatalf("unexpected stop events: got %d want %d", count, stops)
	}
}

func TestEncoderJobGauge(t *testing.T) {
	recorder := New()

	recorder.EncoderJobStarted("live")
	recorder.EncoderJobStarted("probe")
	recorder.EncoderJobCompleted("probe")
	recorder.EncoderJobFailed("live")

	events, active := recorder.EncoderJobCounts()
	if active != 0 {
		t.Fatalf("expected zero active jobs, got %d", active)
	}
	if got := events[EncoderJobLabel{Kind: "live", Status: "start"}]; got != 1 {
		t.Fatalf("unexpected live start count: %d", got)
	}
	if got := events[EncoderJobLabel{Kind: "probe", Status: "complete"}]; got != 1 {
		t.Fatalf("unexpected probe complete count: %d", got)
	}
	if got := events[EncoderJobLabel{Kind: "live", Status: "fail"}]; got != 1 {
		t.Fatalf("unexpected live fail count: %d", got)
	}
}

func TestWriteAndHandlerOutput(t *testing.T) {
	recorder := New()

	recorder.ObserveRequest("GET", "/api/videos/abc123", 200, 150*time.Millisecond)
	recorder.ObserveRequest("get", "/api/videos/456/", 200, 50*time.Millisecond)
	recorder.ObserveRequest("POST", "/api/videos", 201, time.Second)

	recorder.StreamStarted()
	recorder.StreamStarted()
	recorder.StreamStopped()
	recorder.StreamAdvanced()

	recorder.ObserveUpload("accepted")
	recorder.ObserveUpload("accepted")
	recorder.ObserveUpload("rejected")

	recorder.EncoderJobStarted("live")

	var buf bytes.Buffer
	recorder.Write(&buf)

	expected := `# HELP loopcast_http_requests_total Total number of HTTP requests processed by the API
# TYPE loopcast_http_requests_total counter
loopcast_http_requests_total{method="GET",path="/api/videos/:id",status="200"} 2
loopcast_http_requests_total{method="POST",path="/api/videos",status="201"} 1
# HELP loopcast_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds
# TYPE loopcast_http_request_duration_seconds_sum counter
loopcast_http_request_duration_seconds_sum{method="GET",path="/api/videos/:id",status="200"} 0.200000
loopcast_http_request_duration_seconds_sum{method="POST",path="/api/videos",status="201"} 1.000000
# HELP loopcast_http_request_duration_seconds_count Total number of observations for request durations
# TYPE loopcast_http_request_duration_seconds_count counter
loopcast_http_request_duration_seconds_count{method="GET",path="/api/videos/:id",status="200"} 2
loopcast_http_request_duration_seconds_count{method="POST",path="/api/videos",status="201"} 1
# HELP loopcast_stream_events_total Stream lifecycle events by type
# TYPE loopcast_stream_events_total counter
loopcast_stream_events_total{event="advance"} 1
loopcast_stream_events_total{event="start"} 2
loopcast_stream_events_total{event="stop"} 1
# HELP loopcast_active_streams Current number of streams marked as live
# TYPE loopcast_active_streams gauge
loopcast_active_streams 1
# HELP loopcast_upload_events_total Upload pipeline events by outcome
# TYPE loopcast_upload_events_total counter
loopcast_upload_events_total{event="accepted"} 2
loopcast_upload_events_total{event="rejected"} 1
# HELP loopcast_encoder_jobs_total Encoder job events by kind and status
# TYPE loopcast_encoder_jobs_total counter
loopcast_encoder_jobs_total{kind="live",status="start"} 1
# HELP loopcast_encoder_active_jobs Current number of active encoder jobs
# TYPE loopcast_encoder_active_jobs gauge
loopcast_encoder_active_jobs 1`

	if diff := compareLines(buf.String(), expected); diff != "" {
		t.Fatalf("unexpected write output:\n%s", diff)
	}

	res := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(res, httptest.NewRequest("GET", "/metrics", nil))

	if contentType := res.Result().Header.Get("Content-Type"); !strings.HasPrefix(contentType, "text/plain") {
		t.Fatalf("unexpected content type: %s", contentType)
	}

	if diff := compareLines(res.Body.String(), expected); diff != "" {
		t.Fatalf("unexpected handler output:\n%s", diff)
	}
}

func compareLines(actual, expected string) string {
	actualLines := strings.Split(strings.TrimSpace(actual), "\n")
	expectedLines := strings.Split(strings.TrimSpace(expected), "\n")
	if len(actualLines) != len(expectedLines) {
		return formatDiff(actualLines, expectedLines)
	}
	for i := range actualLines {
		if actualLines[i] != expectedLines[i] {
			return formatDiff(actualLines, expectedLines)
		}
	}
	return ""
}

func formatDiff(actual, expected []string) string {
	var b strings.Builder
	b.WriteString("expected\n")
	for _, line := range expected {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("got\n")
	for _, line := range actual {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
