package accesslog

import (
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Sink is an append-only destination for access lines. Implementations
// serialise their own writes.
type Sink interface {
	WriteLine(line string) error
}

// Logger formats completed exchanges and routes the line to its sinks.
// It is safe for concurrent use as long as its sinks are.
type Logger struct {
	cfg     Config
	access  Sink
	app     Sink
	archive Sink

	now     func() time.Time
	errLog  zerolog.Logger
	errRate *rate.Limiter
}

// Option customises a Logger.
type Option func(*Logger)

// WithArchive mirrors every line written to the access sink into s.
func WithArchive(s Sink) Option {
	return func(l *Logger) { l.archive = s }
}

// WithClock replaces time.Now when measuring request processing time.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// WithErrorLog sets where failed sink writes are reported.
func WithErrorLog(log zerolog.Logger) Option {
	return func(l *Logger) { l.errLog = log }
}

// WithErrorReportRate bounds how often failed writes are reported.
func WithErrorReportRate(limit rate.Limit, burst int) Option {
	return func(l *Logger) { l.errRate = rate.NewLimiter(limit, burst) }
}

// NewLogger builds a Logger. access receives lines when cfg.Enabled is set,
// app when cfg.DuplicateToAppLog is set; either may be nil if unused.
func NewLogger(cfg Config, access, app Sink, opts ...Option) *Logger {
	l := &Logger{
		cfg:     cfg,
		access:  access,
		app:     app,
		now:     time.Now,
		errLog:  zerolog.Nop(),
		errRate: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Config returns the switches the Logger was built with.
func (l *Logger) Config() Config {
	return l.cfg
}

// Log emits the line for one exchange. Missing snapshots are ignored and
// write failures never reach the caller.
func (l *Logger) Log(req *RequestSnapshot, resp *ResponseSnapshot) {
	if l == nil || !l.cfg.active() {
		return
	}
	if req == nil || resp == nil {
		return
	}

	elapsed := l.now().Sub(req.Time).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	requestDuration.Observe(float64(elapsed))

	line := Format(req, resp, l.cfg, elapsed)

	if l.cfg.Enabled {
		l.write(sinkAccess, l.access, line)
		l.write(sinkArchive, l.archive, line)
	}
	if l.cfg.DuplicateToAppLog {
		l.write(sinkApp, l.app, line)
	}
}

func (l *Logger) write(name string, s Sink, line string) {
	if s == nil {
		return
	}
	if err := s.WriteLine(line); err != nil {
		sinkErrors.WithLabelValues(name).Inc()
		if l.errRate.Allow() {
			l.errLog.Error().Err(err).Str("sink", name).Msg("[ACCESSLOG] write failed")
		}
		return
	}
	linesWritten.WithLabelValues(name).Inc()
}
