package logging

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

const HeaderRequestID = "X-Request-ID"

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Middleware attaches a request-scoped logger to the request context and logs
// one line per completed request.
func Middleware(base *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get(HeaderRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, rid)

		l := base.With(
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"request_id", rid,
		)
		if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
			l = l.With("trace_id", sc.TraceID().String())
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(IntoContext(r.Context(), l)))
		dur := time.Since(start)

		switch {
		case rec.status >= 500:
			l.Error("request completed", "status", rec.status, "duration_ms", dur.Milliseconds())
		case rec.status >= 400:
			l.Warn("request completed", "status", rec.status, "duration_ms", dur.Milliseconds())
		default:
			l.Info("request completed", "status", rec.status, "duration_ms", dur.Milliseconds(), "bytes", rec.bytes)
		}
	})
}
