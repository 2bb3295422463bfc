package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	// 独立注册表，第二个实例不会重复注册
	_ = NewMetrics()

	m.Ingested("smtp", 10*time.Millisecond)
	m.Ingested("smtp", 10*time.Millisecond)
	m.Ingested("webhook", time.Millisecond)
	m.ProtocolError(503)
	m.WebhookDelivery("postmark", false)
	m.SessionOpened()
	m.SessionClosed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesIngested.WithLabelValues("smtp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SMTPProtocolErrors.WithLabelValues("5xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookDeliveries.WithLabelValues("postmark", "failure")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SMTPActiveSessions))

	rec := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tourney_messages_ingested_total")
}
