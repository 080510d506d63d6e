package middleware

import (
	"net/http"

	appsync "github.com/crmbridge/accountsync/internal/application/sync"
	"github.com/google/uuid"
)

const correlationHeader = "X-Correlation-Id"

// CorrelationID ensures every request carries a correlation id: the inbound
// header when present, a fresh UUID otherwise. The id is stored on the
// request context and echoed back on the response.
func CorrelationID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(correlationHeader)
			if id == "" {
				id = uuid.New().String()
			}
			w.Header().Set(correlationHeader, id)
			next.ServeHTTP(w, r.WithContext(appsync.WithCorrelationID(r.Context(), id)))
		})
	}
}
