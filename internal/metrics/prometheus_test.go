package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistersIndependently(t *testing.T) {
	// Two instances on separate registries must not collide.
	a := New(prometheus.NewRegistry())
	b := New(prometheus.NewRegistry())

	a.RecordRateLimited()
	if got := testutil.ToFloat64(a.RateLimited); got != 1 {
		t.Errorf("Expected 1, got %v", got)
	}
	if got := testutil.ToFloat64(b.RateLimited); got != 0 {
		t.Errorf("Expected 0, got %v", got)
	}
}

func TestRecorders(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordUpstreamRequest("speech")
	m.RecordUpstreamRetry("speech")
	m.RecordUpstreamSuccess("speech", 0.5)
	m.RecordUpstreamRequest("text")
	m.RecordUpstreamFailure("text", 1.2)
	m.RecordWAVEncoded(44 + 48000)
	m.RecordMarkdownStripped(20, 12)
	m.RecordMarkdownStripped(5, 5)
	m.RecordUpload("image", 2048)
	m.RecordUploadRejected("audio", "too_large")
	m.RecordHTTPRequest("POST", "/tts", "200", 0.1)
	m.RecordHTTPError("POST", "/chat", "client_error")

	checks := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"speech requests", m.UpstreamRequests.WithLabelValues("speech"), 1},
		{"speech retries", m.UpstreamRetries.WithLabelValues("speech"), 1},
		{"speech successes", m.UpstreamSuccesses.WithLabelValues("speech"), 1},
		{"text failures", m.UpstreamFailures.WithLabelValues("text"), 1},
		{"wav encoded", m.WAVEncoded, 1},
		{"markdown stripped", m.MarkdownStripped, 2},
		{"image uploads", m.UploadsReceived.WithLabelValues("image"), 1},
		{"rejected audio", m.UploadsRejected.WithLabelValues("audio", "too_large"), 1},
		{"tts requests", m.HTTPRequests.WithLabelValues("POST", "/tts", "200"), 1},
		{"chat errors", m.HTTPErrors.WithLabelValues("POST", "/chat", "client_error"), 1},
	}

	for _, c := range checks {
		t.Run(c.name, func(t *testing.T) {
			if got := testutil.ToFloat64(c.c); got != c.want {
				t.Errorf("Expected %v, got %v", c.want, got)
			}
		})
	}

	if n, err := testutil.GatherAndCount(reg, "relay_upstream_duration_seconds"); err != nil || n != 2 {
		t.Errorf("Expected 2 duration series, got %d (%v)", n, err)
	}
}
