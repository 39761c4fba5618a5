// Package plugins provides optional HTTP middlewares for the service
// router: cross-origin support and request logging.
package plugins

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/napix-io/napixd/core/logger"
)

// NewCorsMiddleware returns a middleware that answers cross-origin
// preflight requests and tags every response with the CORS headers.
// OPTIONS requests are final here; they never reach the service.
func NewCorsMiddleware() mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				origin = "*"
			}
			header := w.Header()
			header.Set("Access-Control-Allow-Origin", origin)
			header.Set("Access-Control-Allow-Credentials", "true")

			if r.Method == http.MethodOptions {
				methods := r.Header.Get("Access-Control-Request-Method")
				if methods == "" {
					methods = strings.Join([]string{
						http.MethodGet, http.MethodHead, http.MethodPost,
						http.MethodPut, http.MethodDelete,
					}, ", ")
				}
				header.Set("Access-Control-Allow-Methods", methods)
				header.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				header.Set("Access-Control-Max-Age", "86400")
				w.WriteHeader(http.StatusOK)
				return
			}
			h.ServeHTTP(w, r)
		})
	}
}

// responseRecorder captures the status and size written by a handler.
type responseRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (rec *responseRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *responseRecorder) Write(body []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	n, err := rec.ResponseWriter.Write(body)
	rec.size += n
	return n, err
}

// NewLoggingMiddleware returns a middleware that logs one line per
// request with the method, the path, the response status, the body size
// and the duration. The line goes through the request logger, so it
// carries the request ID.
func NewLoggingMiddleware() mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			h.ServeHTTP(rec, r)
			logger.FromContext(r.Context()).
				WithField("status", rec.status).
				WithField("size", rec.size).
				WithField("duration", time.Since(start).String()).
				Infof("%s %s", r.Method, r.URL.RequestURI())
		})
	}
}
