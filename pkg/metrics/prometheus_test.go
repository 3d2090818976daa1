package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	r := NewWithRegistry(prometheus.NewRegistry())

	r.RecordFetch("economic-data", "DGS10", 30)
	r.RecordFetch("economic-data", "DGS10", 2)
	r.RecordRevisions("DGS10", 1)
	r.RecordRevisions("DGS10", 0)
	r.RecordComposite("LCI", "materialized")

	assert.Equal(t, 32.0, testutil.ToFloat64(r.rowsFetched.WithLabelValues("economic-data", "DGS10")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.revisions.WithLabelValues("DGS10")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.composites.WithLabelValues("LCI", "materialized")))
}

func TestPush(t *testing.T) {
	var path, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		path = req.URL.Path
		b, _ := io.ReadAll(req.Body)
		body = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewWithRegistry(prometheus.NewRegistry())
	r.RecordRunFinished(1700000000)
	require.NoError(t, r.Push(context.Background(), srv.URL, "lighthouse_engine"))
	assert.True(t, strings.HasPrefix(path, "/metrics/job/lighthouse_engine"))
	assert.NotEmpty(t, body)

	assert.NoError(t, r.Push(context.Background(), "", "ignored"))
}
