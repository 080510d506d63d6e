package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	appsync "github.com/crmbridge/accountsync/internal/application/sync"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelationID_PropagatesInboundHeader(t *testing.T) {
	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = appsync.CorrelationIDFromContext(r.Context())
	})

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Correlation-Id", "corr-inbound")
	w := httptest.NewRecorder()

	CorrelationID()(handler).ServeHTTP(w, req)

	assert.Equal(t, "corr-inbound", seen)
	assert.Equal(t, "corr-inbound", w.Header().Get("X-Correlation-Id"))
}

func TestCorrelationID_GeneratesWhenMissing(t *testing.T) {
	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = appsync.CorrelationIDFromContext(r.Context())
	})

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()

	CorrelationID()(handler).ServeHTTP(w, req)

	require.NotEmpty(t, seen)
	_, err := uuid.Parse(seen)
	assert.NoError(t, err, "generated correlation id should be a UUID")
	assert.Equal(t, seen, w.Header().Get("X-Correlation-Id"), "response must echo the id")
}
