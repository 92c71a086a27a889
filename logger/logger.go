package logger

import (
	"context"
	"log/slog"

	"github.com/shortlink-org/correlation/logger/tracer"
)

type SlogLogger struct {
	logger *slog.Logger
}

func New(cfg Configuration) (*SlogLogger, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	handler := slog.NewJSONHandler(cfg.Writer, &slog.HandlerOptions{
		Level:     convertLevel(cfg.Level),
		AddSource: true,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String(slog.TimeKey, a.Value.Time().Format(cfg.TimeFormat))
			}

			return a
		},
	})

	return &SlogLogger{logger: slog.New(handler)}, nil
}

// With returns a child logger that always carries fields.
func (log *SlogLogger) With(fields ...slog.Attr) *SlogLogger {
	if len(fields) == 0 {
		return log
	}

	args := make([]any, 0, len(fields))
	for _, field := range fields {
		args = append(args, field)
	}

	return &SlogLogger{logger: log.logger.With(args...)}
}

func (log *SlogLogger) Close() error {
	// nothing is buffered by slog.JSONHandler
	return nil
}

func convertLevel(level int) slog.Level {
	switch level {
	case ERROR_LEVEL:
		return slog.LevelError
	case WARN_LEVEL:
		return slog.LevelWarn
	case DEBUG_LEVEL:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func (log *SlogLogger) log(level slog.Level, msg string, fields ...slog.Attr) {
	log.logger.LogAttrs(context.Background(), level, msg, fields...)
}

func (log *SlogLogger) logWithContext(ctx context.Context, level slog.Level, msg string, fields ...slog.Attr) {
	if ctx == nil {
		ctx = context.Background()
	}

	if !log.logger.Enabled(ctx, level) {
		return
	}

	fields = tracer.NewTraceFromContext(ctx, msg, nil, fields...)

	log.logger.LogAttrs(ctx, level, msg, fields...)
}

var _ Logger = (*SlogLogger)(nil)
