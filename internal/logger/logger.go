package logger

import (
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
)

func Setup(dev bool) zerolog.Logger {
	var logger zerolog.Logger
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Caller().Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level).With().Stack().Logger()
	}

	return logger
}

var _ http.RoundTripper = (*Transport)(nil)

// Transport logs each outbound HTTP request at debug level. The request
// context logger is used when present so callers can attach fields.
type Transport struct {
	logger zerolog.Logger
	next   http.RoundTripper
}

func NewTransport(logger zerolog.Logger, next http.RoundTripper) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Transport{logger: logger, next: next}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	started := time.Now()

	l := t.logger
	if ctxLogger := zerolog.Ctx(req.Context()); ctxLogger.GetLevel() != zerolog.Disabled {
		l = *ctxLogger
	}

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		l.Debug().
			Err(err).
			Str("method", req.Method).
			Str("url", req.URL.Redacted()).
			Str("request_id", req.Header.Get("X-Request-ID")).
			Dur("duration", time.Since(started)).
			Msg("http request failed")

		return resp, err
	}

	l.Debug().
		Str("method", req.Method).
		Str("url", req.URL.Redacted()).
		Str("request_id", req.Header.Get("X-Request-ID")).
		Int("status", resp.StatusCode).
		Bool("cached", resp.Header.Get("X-From-Cache") == "1").
		Dur("duration", time.Since(started)).
		Msg("http request")

	return resp, err
}
