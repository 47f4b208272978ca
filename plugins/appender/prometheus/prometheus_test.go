package prometheusappender

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbiondo/logdog/core"
	"github.com/mbiondo/logdog/pkg/metrics"
)

func isolate(t *testing.T) {
	t.Helper()
	metrics.SetRegisterer(prometheus.NewRegistry())
	t.Cleanup(func() { metrics.SetRegisterer(prometheus.DefaultRegisterer) })
}

func TestPrometheusAppenderCounts(t *testing.T) {
	isolate(t)

	appender, err := NewPrometheusAppender(Config{})
	require.NoError(t, err)
	defer appender.Close()

	events := []core.Event{
		{Level: core.LevelError, Label: "api"},
		{Level: core.LevelError, Label: "api"},
		{Level: core.LevelInfo, Label: "worker"},
	}
	for _, ev := range events {
		snapshot := core.NewEntryFromEvent(ev).Snapshot()
		require.NoError(t, appender.Append(context.Background(), []byte("payload"), snapshot))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(appender.events.WithLabelValues(core.LevelError.String(), "api")))
	assert.Equal(t, 1.0, testutil.ToFloat64(appender.events.WithLabelValues(core.LevelInfo.String(), "worker")))
}

func TestPrometheusAppenderSharesCollectors(t *testing.T) {
	isolate(t)

	first, err := NewPrometheusAppender(Config{})
	require.NoError(t, err)
	second, err := NewPrometheusAppender(Config{})
	require.NoError(t, err)

	assert.Same(t, first.events, second.events)
}

func TestPrometheusAppenderServesMetrics(t *testing.T) {
	appender, err := NewPrometheusAppender(Config{Listen: "127.0.0.1:0"})
	require.NoError(t, err)
	defer appender.Close()

	require.NotEmpty(t, appender.Addr())
	require.NoError(t, appender.Append(context.Background(), []byte("x"), core.NewEntry(core.LevelWarning, "").Snapshot()))

	resp, err := http.Get("http://" + appender.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "logdog_events_total"))
}

func TestPrometheusAppenderBadListen(t *testing.T) {
	isolate(t)

	_, err := NewPrometheusAppender(Config{Listen: "not-an-address"})
	assert.Error(t, err)
}
