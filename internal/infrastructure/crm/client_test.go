package crm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domainErrors "github.com/crmbridge/accountsync/internal/domain/errors"
	"github.com/crmbridge/accountsync/internal/infrastructure/config"
	"github.com/crmbridge/accountsync/internal/infrastructure/crm"
	"github.com/crmbridge/accountsync/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(baseURL string) *crm.Client {
	return crm.NewClient(&config.CRMConfig{
		BaseURL:    baseURL,
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	}, zerolog.Nop())
}

func TestClient_FetchAccount_Success(t *testing.T) {
	snap := testutil.NewTestSnapshot("")
	var gotCorrelation string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCorrelation = r.Header.Get("X-Correlation-Id")
		assert.Equal(t, "/accounts/"+snap.AccountID, r.URL.Path)
		json.NewEncoder(w).Encode(snap)
	}))
	defer srv.Close()

	c := newClient(srv.URL)
	got, err := c.FetchAccount(context.Background(), snap.AccountID, "corr-7")
	require.NoError(t, err)
	assert.Equal(t, snap.AccountID, got.AccountID)
	assert.Equal(t, snap.Name, got.Name)
	assert.Equal(t, "corr-7", gotCorrelation)
}

func TestClient_FetchAccount_NotFoundFailsFast(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newClient(srv.URL)
	_, err := c.FetchAccount(context.Background(), "missing", "corr-1")
	assert.ErrorIs(t, err, domainErrors.ErrAccountNotFound)
	assert.Equal(t, 1, calls, "404 must not be retried")
}

func TestClient_FetchAccount_RetriesServerErrors(t *testing.T) {
	var calls int
	snap := testutil.NewTestSnapshot("")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(snap)
	}))
	defer srv.Close()

	c := newClient(srv.URL)
	got, err := c.FetchAccount(context.Background(), snap.AccountID, "corr-1")
	require.NoError(t, err)
	assert.Equal(t, snap.AccountID, got.AccountID)
	assert.Equal(t, 3, calls)
}

func TestClient_FetchAccount_ExhaustedRetriesSurfaceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newClient(srv.URL)
	_, err := c.FetchAccount(context.Background(), "any", "corr-1")
	assert.ErrorIs(t, err, domainErrors.ErrSourceUnavailable)
}

func TestClient_CreateAccount(t *testing.T) {
	snap := testutil.NewTestSnapshot("")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/accounts", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(snap)
	}))
	defer srv.Close()

	c := newClient(srv.URL)
	stored, err := c.CreateAccount(context.Background(), snap, "corr-1")
	require.NoError(t, err)
	assert.Equal(t, snap.AccountID, stored.AccountID)
}

func TestClient_CreateAccount_RejectionIsValidationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("duplicate account number"))
	}))
	defer srv.Close()

	c := newClient(srv.URL)
	_, err := c.CreateAccount(context.Background(), testutil.NewTestSnapshot(""), "corr-1")

	var validationErr *domainErrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Message, "duplicate account number")
}

func TestClient_UpdateAccount_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newClient(srv.URL)
	_, err := c.UpdateAccount(context.Background(), "ghost", testutil.NewTestSnapshot(""), "corr-1")
	assert.ErrorIs(t, err, domainErrors.ErrAccountNotFound)
}

func TestClient_DeleteAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newClient(srv.URL)
	assert.NoError(t, c.DeleteAccount(context.Background(), "acct-1", "corr-1"))
}

func TestClient_DeleteAccount_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newClient(srv.URL)
	err := c.DeleteAccount(context.Background(), "ghost", "corr-1")
	assert.ErrorIs(t, err, domainErrors.ErrAccountNotFound)
}
