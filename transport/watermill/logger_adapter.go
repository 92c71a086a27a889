package watermill

import (
	"log/slog"
	"maps"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/shortlink-org/correlation/logger"
)

// loggerAdapter routes Watermill logs into logger.Logger.
type loggerAdapter struct {
	log    logger.Logger
	fields watermill.LogFields
}

func NewLogger(log logger.Logger) watermill.LoggerAdapter {
	return &loggerAdapter{
		log:    log,
		fields: watermill.LogFields{},
	}
}

func (l *loggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	merged := make(watermill.LogFields, len(l.fields)+len(fields))
	maps.Copy(merged, l.fields)
	maps.Copy(merged, fields)

	return &loggerAdapter{log: l.log, fields: merged}
}

// attrs puts call fields over base fields with the same key.
func (l *loggerAdapter) attrs(fields watermill.LogFields) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(l.fields)+len(fields))

	for k, v := range l.fields {
		if _, overridden := fields[k]; !overridden {
			attrs = append(attrs, slog.Any(k, v))
		}
	}

	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}

	return attrs
}

func (l *loggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	attrs := l.attrs(fields)
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}

	l.log.Error(msg, attrs...)
}

func (l *loggerAdapter) Info(msg string, fields watermill.LogFields) {
	l.log.Info(msg, l.attrs(fields)...)
}

func (l *loggerAdapter) Debug(msg string, fields watermill.LogFields) {
	l.log.Debug(msg, l.attrs(fields)...)
}

// Trace is too chatty for reply traffic and goes to Debug.
func (l *loggerAdapter) Trace(msg string, fields watermill.LogFields) {
	l.Debug(msg, fields)
}
