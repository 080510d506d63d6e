package middleware

import (
	"bytes"
	"context"
	"net/http"

	infraRedis "github.com/crmbridge/accountsync/internal/infrastructure/redis"
	"github.com/rs/zerolog"
)

const maxIdempotencyBodySize = 1 << 20

// ResponseCache stores replayable responses keyed by Idempotency-Key.
type ResponseCache interface {
	Get(ctx context.Context, key string) (*infraRedis.CachedResponse, error)
	Set(ctx context.Context, key string, resp *infraRedis.CachedResponse) error
}

// Idempotency replays the cached response for a repeated Idempotency-Key
// instead of re-executing the mutation against the CRM. Cache failures fall
// back to executing the request, with the degradation logged.
func Idempotency(cache ResponseCache, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			cached, err := cache.Get(r.Context(), key)
			if err != nil {
				logger.Warn().Err(err).Str("idempotency_key", key).Msg("Failed to read idempotency cache, executing request")
			}
			if cached != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Idempotency-Replayed", "true")
				w.WriteHeader(cached.Status)
				w.Write(cached.Body)
				return
			}

			rec := &responseRecorder{ResponseWriter: w, body: &bytes.Buffer{}, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.statusCode >= 200 && rec.statusCode < 500 && !rec.bodyTruncated {
				if err := cache.Set(r.Context(), key, &infraRedis.CachedResponse{
					Status: rec.statusCode,
					Body:   rec.body.Bytes(),
				}); err != nil {
					logger.Error().Err(err).Str("idempotency_key", key).Msg("Failed to cache idempotent response")
				}
			}
		})
	}
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode    int
	body          *bytes.Buffer
	bodyTruncated bool
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.bodyTruncated {
		if r.body.Len()+len(b) > maxIdempotencyBodySize {
			r.bodyTruncated = true
		} else {
			r.body.Write(b)
		}
	}
	return r.ResponseWriter.Write(b)
}
