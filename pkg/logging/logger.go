package logging

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type contextKey string

const (
	// RequestIDKey is the key used to store request IDs in context
	RequestIDKey contextKey = "request_id"
	// StreamIDKey is the key used to store the feed stream id in context
	StreamIDKey contextKey = "stream_id"
	// InstrumentKey is the key used to store the exchange:symbol being processed
	InstrumentKey contextKey = "instrument"
)

// Config defines logging configuration
type Config struct {
	// Level is the logging level (debug, info, warn, error)
	Level string
	// Pretty determines if logs should be formatted for human readability
	Pretty bool
	// Output is where logs are written (defaults to os.Stdout)
	Output io.Writer
}

// DefaultConfig returns the default logging configuration
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Pretty: false,
		Output: os.Stdout,
	}
}

// Setup configures global logging based on the provided config
func Setup(cfg Config) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// WithStreamID stores the feed stream id in ctx for FromContext
func WithStreamID(ctx context.Context, id uint16) context.Context {
	return context.WithValue(ctx, StreamIDKey, id)
}

// WithInstrument stores the instrument key in ctx for FromContext
func WithInstrument(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, InstrumentKey, key)
}

// FromContext returns the logger attached to ctx (or the global logger)
// enriched with the request id, stream id and instrument found in ctx
func FromContext(ctx context.Context) zerolog.Logger {
	base := log.Logger
	if l := zerolog.Ctx(ctx); l != zerolog.DefaultContextLogger && l.GetLevel() != zerolog.Disabled {
		base = *l
	}
	logCtx := base.With()
	if streamID, ok := ctx.Value(StreamIDKey).(uint16); ok {
		logCtx = logCtx.Uint16("stream_id", streamID)
	}
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		logCtx = logCtx.Str("request_id", requestID)
	}
	if instrument, ok := ctx.Value(InstrumentKey).(string); ok {
		logCtx = logCtx.Str("instrument", instrument)
	}
	return logCtx.Logger()
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// HTTPMiddleware logs every request with its status and duration and
// propagates X-Request-ID into the request context
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		logger := log.With().
			Str("http.method", r.Method).
			Str("http.path", r.URL.Path).
			Logger()

		ctx := r.Context()
		if requestID := r.Header.Get("X-Request-ID"); requestID != "" {
			logger = logger.With().Str("request_id", requestID).Logger()
			ctx = context.WithValue(ctx, RequestIDKey, requestID)
		}

		logger.Debug().Msg("Request received")

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		duration := time.Since(start)
		logEvent := logger.Info()
		if rec.status >= http.StatusInternalServerError {
			logEvent = logger.Error()
		}
		logEvent.Dur("duration", duration).
			Int("http.status", rec.status).
			Msg("Request completed")
	})
}
