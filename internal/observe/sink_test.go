package observe

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/readercache/internal/domain"
)

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	sink.Emit(domain.Event{Kind: domain.EventPostsPurged, Stream: "news", Count: 3})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "reader cache event", line["msg"])
	assert.Equal(t, "posts_purged", line["kind"])
	assert.Equal(t, "news", line["stream"])
	assert.Equal(t, float64(3), line["count"])
}

func TestMetricsEmit(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.Emit(domain.Event{Kind: domain.EventPostsPurged, Stream: "news", Count: 3})
	m.Emit(domain.Event{Kind: domain.EventPostsPurged, Stream: "golang", Count: 2})
	m.Emit(domain.Event{Kind: domain.EventPostsMarkedUnfollowed, Count: 7})

	assert.Equal(t, float64(2), testutil.ToFloat64(m.Events.WithLabelValues("posts_purged")))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.Rows.WithLabelValues("posts_purged")))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.Rows.WithLabelValues("posts_marked_unfollowed")))
}

func TestMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveIngest(domain.RequestNewer, domain.HasNew)
	m.ObserveIngest(domain.RequestNewer, domain.HasNew)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.IngestBatches.WithLabelValues("newer", "has_new")))

	m.ObserveRequest("/health", http.StatusOK, time.Now())
	m.ObserveRequest("/v1/streams/posts", http.StatusBadRequest, time.Now())
	assert.Equal(t, 2, testutil.CollectAndCount(m.HTTPRequests))
}

func TestMultiSink(t *testing.T) {
	a := NewMetrics(prometheus.NewRegistry())
	b := NewMetrics(prometheus.NewRegistry())

	MultiSink{a, b}.Emit(domain.Event{Kind: domain.EventContentPurged, Count: 4})

	assert.Equal(t, float64(4), testutil.ToFloat64(a.Rows.WithLabelValues("content_purged")))
	assert.Equal(t, float64(4), testutil.ToFloat64(b.Rows.WithLabelValues("content_purged")))
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(200))
	assert.Equal(t, "3xx", statusClass(304))
	assert.Equal(t, "4xx", statusClass(404))
	assert.Equal(t, "5xx", statusClass(503))
}
