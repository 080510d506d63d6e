package gateway_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appsync "github.com/crmbridge/accountsync/internal/application/sync"
	"github.com/crmbridge/accountsync/internal/domain/event"
	"github.com/crmbridge/accountsync/internal/infrastructure/config"
	"github.com/crmbridge/accountsync/internal/infrastructure/gateway"
	"github.com/crmbridge/accountsync/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGateway(baseURL string) *gateway.HTTPGateway {
	return gateway.NewHTTPGateway(&config.TargetConfig{BaseURL: baseURL}, nil, zerolog.Nop())
}

func TestHTTPGateway_Validate_LocalRejectionWithoutNetworkCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	g := newGateway(srv.URL)
	snap := testutil.NewTestSnapshot("")
	snap.Name = ""

	outcome, err := g.Validate(context.Background(), snap)
	require.NoError(t, err)
	assert.False(t, outcome.Valid)
	assert.NotEmpty(t, outcome.Reason)
	assert.False(t, called, "structurally invalid snapshots must fail before any request")
}

func TestHTTPGateway_Validate_RemoteAccepts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/validate", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := newGateway(srv.URL)
	outcome, err := g.Validate(context.Background(), testutil.NewTestSnapshot(""))
	require.NoError(t, err)
	assert.True(t, outcome.Valid)
}

func TestHTTPGateway_Validate_RemoteRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte("country NO is not serviced"))
	}))
	defer srv.Close()

	g := newGateway(srv.URL)
	outcome, err := g.Validate(context.Background(), testutil.NewTestSnapshot(""))
	require.NoError(t, err)
	assert.False(t, outcome.Valid)
	assert.Equal(t, "country NO is not serviced", outcome.Reason)
}

func TestHTTPGateway_Validate_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := newGateway(srv.URL)
	_, err := g.Validate(context.Background(), testutil.NewTestSnapshot(""))
	assert.Error(t, err)
}

func TestHTTPGateway_Sync_Success(t *testing.T) {
	var gotPath, gotCorrelation string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotCorrelation = r.Header.Get("X-Correlation-Id")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := newGateway(srv.URL)
	ctx := appsync.WithCorrelationID(context.Background(), "corr-42")

	outcome := g.Sync(ctx, testutil.NewTestSnapshot(""), event.TypeUpdate)
	assert.Equal(t, appsync.SyncSuccess, outcome.Status)
	assert.Equal(t, "/accounts/sync", gotPath)
	assert.Equal(t, "corr-42", gotCorrelation, "correlation id must reach the target")
}

func TestHTTPGateway_Sync_StatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		eventType event.Type
		want      appsync.SyncStatus
	}{
		{"200 is success", http.StatusOK, event.TypeUpdate, appsync.SyncSuccess},
		{"404 on delete is success", http.StatusNotFound, event.TypeDelete, appsync.SyncSuccess},
		{"404 on update is transient", http.StatusNotFound, event.TypeUpdate, appsync.SyncTransient},
		{"408 is transient", http.StatusRequestTimeout, event.TypeUpdate, appsync.SyncTransient},
		{"429 is transient", http.StatusTooManyRequests, event.TypeUpdate, appsync.SyncTransient},
		{"503 is transient", http.StatusServiceUnavailable, event.TypeUpdate, appsync.SyncTransient},
		{"409 is permanent", http.StatusConflict, event.TypeUpdate, appsync.SyncPermanent},
		{"400 is permanent", http.StatusBadRequest, event.TypeCreate, appsync.SyncPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			g := newGateway(srv.URL)
			outcome := g.Sync(context.Background(), testutil.NewTestSnapshot(""), tt.eventType)
			assert.Equal(t, tt.want, outcome.Status)
		})
	}
}

// A worker shutting down must let an in-flight sync run to completion: the
// fetch-loop context gets canceled, but the delivery runs on a detached
// context so the request is not aborted mid-flight.
func TestHTTPGateway_Sync_DetachedContextSurvivesLoopCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	loopCtx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
		close(release)
	}()

	g := newGateway(srv.URL)
	outcome := g.Sync(context.WithoutCancel(loopCtx), testutil.NewTestSnapshot(""), event.TypeUpdate)
	assert.Equal(t, appsync.SyncSuccess, outcome.Status,
		"an in-flight sync must finish after the fetch loop shuts down")
}

func TestHTTPGateway_Sync_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	g := newGateway(srv.URL)
	outcome := g.Sync(context.Background(), testutil.NewTestSnapshot(""), event.TypeUpdate)
	assert.Equal(t, appsync.SyncTransient, outcome.Status)
	assert.NotEmpty(t, outcome.Reason)
}
