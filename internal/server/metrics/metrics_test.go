package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := New()

	m.IAMOperation("grant", "bucket", nil)
	m.IAMOperation("grant", "bucket", nil)
	m.IAMOperation("revoke", "project", errors.New("denied"))
	m.Publish("grant_download_perms", nil)
	m.Compensation("permission_insert")
	m.ManifestChange("shipment")
	m.DownloadJobPrefixes(12)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.iamOps.WithLabelValues("grant", "bucket", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.iamOps.WithLabelValues("revoke", "project", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.publishes.WithLabelValues("grant_download_perms", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.compensations.WithLabelValues("permission_insert")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.manifestChanges.WithLabelValues("shipment")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.IAMOperation("grant", "bucket", nil)
	m.Publish("t", nil)
	m.Compensation("s")
	m.ManifestChange("sample")
	m.DownloadJobPrefixes(1)
}

func TestHandler(t *testing.T) {
	m := New()
	m.Compensation("permission_delete")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `trialregistry_saga_compensations_total{saga="permission_delete"} 1`)
}
