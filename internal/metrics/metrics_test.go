package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveAttemptIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(dispatchAttempts.WithLabelValues("email", "sent"))
	ObserveAttempt("email", "sent")
	assert.Equal(t, before+1, testutil.ToFloat64(dispatchAttempts.WithLabelValues("email", "sent")))
}

func TestHandlerExposesDispatchMetrics(t *testing.T) {
	ObserveSend("whatsapp", 120*time.Millisecond)
	HandlerFailure("audit", "campaign.start")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "crces_dispatch_send_duration_seconds"))
	assert.True(t, strings.Contains(body, `crces_events_handler_failures_total{handler="audit",topic="campaign.start"}`))
}
