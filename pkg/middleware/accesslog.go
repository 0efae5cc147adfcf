package middleware

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/ngoyal88/accesslog/pkg/accesslog"
	"github.com/ngoyal88/accesslog/pkg/session"
)

// DefaultMaxBodyBytes caps the POST body copied into the access log.
const DefaultMaxBodyBytes = 1 << 20

// AccessLogOptions tunes the AccessLog hook.
type AccessLogOptions struct {
	// Sessions resolves the session username when no user authenticated.
	Sessions session.Lookup
	// MaxBodyBytes caps the logged body; the handler still reads all of it.
	MaxBodyBytes int64
}

// AccessLog emits one access line per request through logger once the
// request has completed, including when a handler panics.
func AccessLog(logger *accesslog.Logger, opts AccessLogOptions) func(http.Handler) http.Handler {
	cfg := logger.Config()
	if !cfg.Enabled && !cfg.DuplicateToAppLog {
		return func(next http.Handler) http.Handler { return next }
	}

	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			st := &requestState{}
			r = r.WithContext(context.WithValue(r.Context(), stateContextKey, st))

			var body string
			if cfg.IncludeBody && r.Method == http.MethodPost && r.Body != nil {
				body = captureBody(r, maxBody)
			}

			rec := &responseRecorder{ResponseWriter: w}

			// Logic runs AFTER the request is finished
			defer func() {
				req := &accesslog.RequestSnapshot{
					Host:       r.Host,
					RemoteAddr: clientIP(r),
					User:       st.getUser(),
					Time:       start,
					Method:     r.Method,
					URL:        requestURI(r),
					Header:     r.Header,
					Body:       body,
				}
				if req.User == "" && opts.Sessions != nil {
					req.SessionUser = opts.Sessions.Username(context.WithoutCancel(r.Context()), r)
				}
				resp := &accesslog.ResponseSnapshot{
					Status:     rec.status,
					Bytes:      rec.bytes,
					Dispatched: st.isDispatched(),
				}
				logger.Log(req, resp)
			}()

			next.ServeHTTP(rec, r)
		})
	}
}

type bodyReader struct {
	io.Reader
	io.Closer
}

// captureBody copies up to limit bytes of the body and puts them back in
// front of whatever was not read, so the handler sees the original stream.
func captureBody(r *http.Request, limit int64) string {
	buf, err := io.ReadAll(io.LimitReader(r.Body, limit))
	r.Body = bodyReader{
		Reader: io.MultiReader(bytes.NewReader(buf), r.Body),
		Closer: r.Body,
	}
	if err != nil {
		return ""
	}
	return string(buf)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func requestURI(r *http.Request) string {
	if r.RequestURI != "" {
		return r.RequestURI
	}
	return r.URL.RequestURI()
}
