// Package gateway implements the outbound side of synchronization: validate
// and sync calls against the external target system, classified into tagged
// outcomes so the pipeline's routing never inspects transport errors.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	appsync "github.com/crmbridge/accountsync/internal/application/sync"
	"github.com/crmbridge/accountsync/internal/domain/event"
	"github.com/crmbridge/accountsync/internal/infrastructure/config"
	"github.com/crmbridge/accountsync/internal/infrastructure/observability"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

const correlationHeader = "X-Correlation-Id"

type targetResult struct {
	status int
	body   string
}

// HTTPGateway talks to the target system's REST API behind a circuit breaker.
// All requests carry the correlation id from the context as a trace token.
type HTTPGateway struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[targetResult]
	validate   *validator.Validate
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

func NewHTTPGateway(cfg *config.TargetConfig, metrics *observability.Metrics, logger zerolog.Logger) *HTTPGateway {
	threshold := cfg.CircuitBreakerThreshold
	if threshold <= 0 {
		threshold = 10
	}
	breakerTimeout := cfg.CircuitBreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = 30 * time.Second
	}

	g := &HTTPGateway{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{},
		validate:   validator.New(),
		metrics:    metrics,
		logger:     logger,
	}

	g.breaker = gobreaker.NewCircuitBreaker[targetResult](gobreaker.Settings{
		Name:        "target-sync",
		MaxRequests: 10,
		Interval:    60 * time.Second,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= uint32(threshold) && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state change")
			if metrics != nil {
				metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
			}
		},
	})

	return g
}

// Validate checks a snapshot against the target's acceptance rules. Structural
// problems fail locally before any bytes leave the process; the remote check
// covers target-specific rules. A returned error is transient (the caller
// retries); an Invalid outcome is permanent.
func (g *HTTPGateway) Validate(ctx context.Context, snap *event.AccountSnapshot) (appsync.ValidationOutcome, error) {
	if err := g.validate.Struct(snap); err != nil {
		return appsync.ValidationOutcome{Valid: false, Reason: fmt.Sprintf("snapshot rejected: %v", err)}, nil
	}

	res, err := g.post(ctx, "/accounts/validate", snap)
	if err != nil {
		g.count("validate", "error")
		return appsync.ValidationOutcome{}, err
	}

	switch {
	case res.status >= 200 && res.status < 300:
		g.count("validate", "valid")
		return appsync.ValidationOutcome{Valid: true}, nil
	case res.status == http.StatusBadRequest || res.status == http.StatusUnprocessableEntity:
		g.count("validate", "invalid")
		return appsync.ValidationOutcome{Valid: false, Reason: res.body}, nil
	default:
		g.count("validate", "error")
		return appsync.ValidationOutcome{}, fmt.Errorf("validate: unexpected status %d", res.status)
	}
}

type syncRequest struct {
	EventType string                 `json:"eventType"`
	Account   *event.AccountSnapshot `json:"account"`
}

// Sync upserts (or, for Delete events, deactivates) the account on the target.
// The result tag alone drives retry routing:
// timeouts, network errors, 429 and 5xx are transient; other 4xx are
// permanent; 404 on a delete means the record is already gone.
func (g *HTTPGateway) Sync(ctx context.Context, snap *event.AccountSnapshot, eventType event.Type) appsync.SyncOutcome {
	res, err := g.post(ctx, "/accounts/sync", syncRequest{EventType: string(eventType), Account: snap})
	if err != nil {
		g.count("sync", "transient")
		return appsync.SyncOutcome{Status: appsync.SyncTransient, Reason: err.Error()}
	}

	switch {
	case res.status >= 200 && res.status < 300:
		g.count("sync", "success")
		return appsync.SyncOutcome{Status: appsync.SyncSuccess}
	case res.status == http.StatusNotFound:
		if eventType == event.TypeDelete {
			// Already absent on the target; the delete is effectively applied.
			g.count("sync", "success")
			return appsync.SyncOutcome{Status: appsync.SyncSuccess}
		}
		g.count("sync", "transient")
		return appsync.SyncOutcome{Status: appsync.SyncTransient, Reason: fmt.Sprintf("target returned %d", res.status)}
	case res.status == http.StatusRequestTimeout || res.status == http.StatusTooManyRequests || res.status >= 500:
		g.count("sync", "transient")
		return appsync.SyncOutcome{Status: appsync.SyncTransient, Reason: fmt.Sprintf("target returned %d", res.status)}
	default:
		g.count("sync", "permanent")
		return appsync.SyncOutcome{Status: appsync.SyncPermanent, Reason: fmt.Sprintf("target returned %d: %s", res.status, res.body)}
	}
}

func (g *HTTPGateway) post(ctx context.Context, path string, payload any) (targetResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return targetResult{}, fmt.Errorf("encode request: %w", err)
	}

	return g.breaker.Execute(func() (targetResult, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return targetResult{}, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if id := appsync.CorrelationIDFromContext(ctx); id != "" {
			req.Header.Set(correlationHeader, id)
		}

		resp, err := g.httpClient.Do(req)
		if err != nil {
			return targetResult{}, fmt.Errorf("target request: %w", err)
		}
		defer resp.Body.Close()

		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		res := targetResult{status: resp.StatusCode, body: string(bytes.TrimSpace(b))}

		// Feed server-side failures to the breaker; 4xx classifications are
		// the caller's problem, not the target's health.
		if resp.StatusCode >= 500 {
			return res, fmt.Errorf("target returned %d", resp.StatusCode)
		}
		return res, nil
	})
}

func (g *HTTPGateway) count(operation, result string) {
	if g.metrics != nil {
		g.metrics.GatewayRequests.WithLabelValues(operation, result).Inc()
	}
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}