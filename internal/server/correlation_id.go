package server

import (
	"log/slog"
	"net/http"
	"strings"

	"mediaharvest/internal/observability/logging"
)

type idGenerator func() string

func correlationIDMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return correlationIDMiddlewareWithGenerator(logger, logging.NewCorrelationID, next)
}

// correlationIDMiddlewareWithGenerator honors an inbound X-Correlation-Id
// header, mints one otherwise, and echoes it back so callers can stitch
// their logs to ours.
func correlationIDMiddlewareWithGenerator(logger *slog.Logger, generator idGenerator, next http.Handler) http.Handler {
	if generator == nil {
		generator = logging.NewCorrelationID
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := strings.TrimSpace(r.Header.Get("X-Correlation-Id"))
		if correlationID == "" {
			correlationID = generator()
		}

		ctx := logging.ContextWithCorrelationID(r.Context(), correlationID)
		ctxLogger := logging.WithContext(ctx, logger)
		ctx = logging.ContextWithLogger(ctx, ctxLogger)

		w.Header().Set("X-Correlation-Id", correlationID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
