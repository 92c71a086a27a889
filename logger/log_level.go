package logger

import (
	"context"
	"log/slog"
)

// Warn ================================================================================================================

func (log *SlogLogger) Warn(msg string, fields ...slog.Attr) {
	log.log(slog.LevelWarn, msg, fields...)
}

func (log *SlogLogger) WarnWithContext(ctx context.Context, msg string, fields ...slog.Attr) {
	log.logWithContext(ctx, slog.LevelWarn, msg, fields...)
}

// Error ===============================================================================================================

func (log *SlogLogger) Error(msg string, fields ...slog.Attr) {
	log.log(slog.LevelError, msg, fields...)
}

func (log *SlogLogger) ErrorWithContext(ctx context.Context, msg string, fields ...slog.Attr) {
	// error: true marks the record for log-based alerting
	errorFields := append([]slog.Attr{slog.Bool("error", true)}, fields...)
	log.logWithContext(ctx, slog.LevelError, msg, errorFields...)
}

// Info ================================================================================================================

func (log *SlogLogger) Info(msg string, fields ...slog.Attr) {
	log.log(slog.LevelInfo, msg, fields...)
}

func (log *SlogLogger) InfoWithContext(ctx context.Context, msg string, fields ...slog.Attr) {
	log.logWithContext(ctx, slog.LevelInfo, msg, fields...)
}

// Debug ===============================================================================================================

func (log *SlogLogger) Debug(msg string, fields ...slog.Attr) {
	log.log(slog.LevelDebug, msg, fields...)
}

func (log *SlogLogger) DebugWithContext(ctx context.Context, msg string, fields ...slog.Attr) {
	log.logWithContext(ctx, slog.LevelDebug, msg, fields...)
}
