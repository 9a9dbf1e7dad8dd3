package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/relaypush/relaypush/internal/api/models"
)

// PanicReporter receives recovered panics.
type PanicReporter interface {
	Report(err error, tags map[string]string)
}

// Recovery returns a middleware that turns panics into a 500 problem,
// logging and optionally reporting them.
func Recovery(log zerolog.Logger, reporter PanicReporter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler { //nolint:errorlint // sentinel compared by identity
					panic(rec)
				}

				requestID := GetRequestID(r.Context())
				log.Error().
					Str("request_id", requestID).
					Interface("panic", rec).
					Str("stack", string(debug.Stack())).
					Msg("panic recovered")

				if reporter != nil {
					reporter.Report(fmt.Errorf("panic: %v", rec), map[string]string{
						"operation":  "http",
						"path":       r.URL.Path,
						"request_id": requestID,
					})
				}

				problem := models.NewInternalError(requestID, "an unexpected error occurred")
				problem.Instance = r.URL.Path
				problem.Write(w)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
