package accesslog

import (
	"net/http"
	"time"
)

// RequestSnapshot is the request side of one completed exchange.
// Empty strings stand for values the server never populated.
type RequestSnapshot struct {
	Host        string
	RemoteAddr  string
	User        string // authenticated user, if any
	SessionUser string // "username" attribute of the caller's session, if any
	Time        time.Time
	Method      string
	URL         string
	Header      http.Header
	Body        string // only captured for POST when body logging is on
}

// ResponseSnapshot is the response side of one completed exchange.
type ResponseSnapshot struct {
	Status     int
	Bytes      int64
	Dispatched bool // reached application handling, not a static file or early error
}

// Config holds the access log switches. Nothing is written unless
// Enabled or DuplicateToAppLog is set.
type Config struct {
	Enabled           bool
	DuplicateToAppLog bool
	IncludeBody       bool
}

func (c Config) active() bool {
	return c.Enabled || c.DuplicateToAppLog
}
