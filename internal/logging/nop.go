package logging

import "github.com/arloliu/changefeed/types"

// NopLogger discards all log messages. It is the default when no logger is configured.
type NopLogger struct{}

// Compile-time assertion that NopLogger implements Logger.
var _ types.Logger = (*NopLogger)(nil)

// NewNop creates a new no-op logger.
func NewNop() *NopLogger {
	return &NopLogger{}
}

// Debug discards the message.
func (n *NopLogger) Debug(_ string, _ ...any) {}

// Info discards the message.
func (n *NopLogger) Info(_ string, _ ...any) {}

// Warn discards the message.
func (n *NopLogger) Warn(_ string, _ ...any) {}

// Error discards the message.
func (n *NopLogger) Error(_ string, _ ...any) {}

// Fatal discards the message and does NOT call os.Exit.
func (n *NopLogger) Fatal(_ string, _ ...any) {}

// With attaches fields to a logger when it supports them, otherwise returns it unchanged.
//
// Parameters:
//   - logger: Logger to decorate
//   - keysAndValues: Fields added to every record
//
// Returns:
//   - types.Logger: Decorated logger, or logger itself
func With(logger types.Logger, keysAndValues ...any) types.Logger {
	if s, ok := logger.(*SlogLogger); ok {
		return s.With(keysAndValues...)
	}

	return logger
}
