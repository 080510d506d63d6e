// Package crm is the client for the source CRM's account REST API. It backs
// both the pipeline's snapshot fetches and the HTTP shim's CRUD operations.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/crmbridge/accountsync/internal/domain/event"
	domainErrors "github.com/crmbridge/accountsync/internal/domain/errors"
	"github.com/crmbridge/accountsync/internal/infrastructure/config"
	"github.com/crmbridge/accountsync/pkg/retry"
	"github.com/rs/zerolog"
)

const correlationHeader = "X-Correlation-Id"

type Client struct {
	baseURL    string
	httpClient *http.Client
	retryCfg   retry.Config
	logger     zerolog.Logger
}

func NewClient(cfg *config.CRMConfig, logger zerolog.Logger) *Client {
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retryCfg := retry.DefaultConfig()
	if cfg.MaxRetries > 0 {
		retryCfg.MaxAttempts = uint(cfg.MaxRetries)
	}
	if cfg.RetryDelay > 0 {
		retryCfg.InitialDelay = cfg.RetryDelay
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		retryCfg:   retryCfg,
		logger:     logger,
	}
}

// FetchAccount returns the current account state from the CRM. Transient
// failures (network, 5xx) are retried with backoff; a 404 fails fast with
// ErrAccountNotFound.
func (c *Client) FetchAccount(ctx context.Context, entityID, correlationID string) (*event.AccountSnapshot, error) {
	return retry.DoWithResult(ctx, c.retryCfg, func() (*event.AccountSnapshot, error) {
		return c.getAccount(ctx, entityID, correlationID)
	})
}

// GetAccount is the single-attempt variant used by the HTTP shim, which
// surfaces CRM errors to its caller instead of absorbing them.
func (c *Client) GetAccount(ctx context.Context, entityID, correlationID string) (*event.AccountSnapshot, error) {
	return c.getAccount(ctx, entityID, correlationID)
}

func (c *Client) getAccount(ctx context.Context, entityID, correlationID string) (*event.AccountSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/accounts/%s", c.baseURL, entityID), nil)
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("build fetch request: %w", err))
	}
	req.Header.Set(correlationHeader, correlationID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domainErrors.ErrSourceUnavailable, err)
	}
	defer drainAndClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		var snap event.AccountSnapshot
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			return nil, retry.Unrecoverable(fmt.Errorf("decode account response: %w", err))
		}
		return &snap, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, retry.Unrecoverable(domainErrors.ErrAccountNotFound)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", domainErrors.ErrSourceUnavailable, resp.StatusCode)
	default:
		return nil, retry.Unrecoverable(fmt.Errorf("fetch account: unexpected status %d", resp.StatusCode))
	}
}

// CreateAccount creates an account in the CRM and returns the stored snapshot.
func (c *Client) CreateAccount(ctx context.Context, snap *event.AccountSnapshot, correlationID string) (*event.AccountSnapshot, error) {
	return c.writeAccount(ctx, http.MethodPost, fmt.Sprintf("%s/accounts", c.baseURL), snap, correlationID, http.StatusCreated)
}

// UpdateAccount applies a partial update to an existing account.
func (c *Client) UpdateAccount(ctx context.Context, entityID string, snap *event.AccountSnapshot, correlationID string) (*event.AccountSnapshot, error) {
	return c.writeAccount(ctx, http.MethodPatch, fmt.Sprintf("%s/accounts/%s", c.baseURL, entityID), snap, correlationID, http.StatusOK)
}

// DeleteAccount removes an account from the CRM. Deleting an absent account
// fails with ErrAccountNotFound.
func (c *Client) DeleteAccount(ctx context.Context, entityID, correlationID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, fmt.Sprintf("%s/accounts/%s", c.baseURL, entityID), nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}
	req.Header.Set(correlationHeader, correlationID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domainErrors.ErrSourceUnavailable, err)
	}
	defer drainAndClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return domainErrors.ErrAccountNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", domainErrors.ErrSourceUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("delete account: unexpected status %d", resp.StatusCode)
	}
}

func (c *Client) writeAccount(ctx context.Context, method, url string, snap *event.AccountSnapshot, correlationID string, wantStatus int) (*event.AccountSnapshot, error) {
	body, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode account: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(correlationHeader, correlationID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domainErrors.ErrSourceUnavailable, err)
	}
	defer drainAndClose(resp.Body)

	switch {
	case resp.StatusCode == wantStatus:
		var stored event.AccountSnapshot
		if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
			return nil, fmt.Errorf("decode account response: %w", err)
		}
		return &stored, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, domainErrors.ErrAccountNotFound
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, domainErrors.NewValidationError("account", readErrorBody(resp.Body))
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", domainErrors.ErrSourceUnavailable, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%s account: unexpected status %d", method, resp.StatusCode)
	}
}

func readErrorBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(b) == 0 {
		return "rejected by CRM"
	}
	return string(b)
}

func drainAndClose(body io.ReadCloser) {
	io.Copy(io.Discard, body)
	body.Close()
}
