package sink

import "github.com/rs/zerolog"

// AppLogSink mirrors access lines into the application log at info level.
type AppLogSink struct {
	log zerolog.Logger
}

// NewAppLog tags every mirrored line with logger=accesslog.
func NewAppLog(log zerolog.Logger) *AppLogSink {
	return &AppLogSink{log: log.With().Str("logger", "accesslog").Logger()}
}

func (s *AppLogSink) WriteLine(line string) error {
	s.log.Info().Msg(line)
	return nil
}
