package proxy

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// errUpstream marks a 5xx answer so the breaker counts it as a failure.
var errUpstream = errors.New("upstream error")

// Gateway forwards every request to one upstream. Repeated upstream
// failures open a circuit breaker and requests are refused with 503 until
// it half-opens again.
type Gateway struct {
	target  *url.URL
	proxy   *httputil.ReverseProxy
	breaker *gobreaker.CircuitBreaker
}

func New(targetURL string) (*Gateway, error) {
	parsedURL, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid target URL %s: %w", targetURL, err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid target URL %s: scheme and host are required", targetURL)
	}

	p := httputil.NewSingleHostReverseProxy(parsedURL)

	// Log upstream errors so network/DNS/TLS issues are visible.
	p.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("[PROXY] upstream error")
		http.Error(w, "upstream error", http.StatusBadGateway)
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    fmt.Sprintf("target-%s", parsedURL.Host),
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Stringer("from", from).Stringer("to", to).Msg("[PROXY] circuit breaker state changed")
		},
	})

	return &Gateway{
		target:  parsedURL,
		proxy:   p,
		breaker: cb,
	}, nil
}

// Target returns the upstream URL.
func (g *Gateway) Target() *url.URL {
	return g.target
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		upstreamLatency.Observe(time.Since(start).Seconds())
	}()

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	_, err := g.breaker.Execute(func() (interface{}, error) {
		g.proxy.ServeHTTP(rec, r)
		if rec.status >= 500 {
			return nil, fmt.Errorf("%w: %d", errUpstream, rec.status)
		}
		return nil, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		http.Error(w, "Service Unavailable (circuit open)", http.StatusServiceUnavailable)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
