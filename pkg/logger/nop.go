package logger

// NopLogger discards all log messages. It is the default when no logger is
// configured, avoiding nil checks throughout the codebase.
type NopLogger struct{}

var _ Logger = NopLogger{}

func Nop() NopLogger { return NopLogger{} }

func (NopLogger) Debug(_ string, _ ...any) {}
func (NopLogger) Info(_ string, _ ...any)  {}
func (NopLogger) Warn(_ string, _ ...any)  {}
func (NopLogger) Error(_ string, _ ...any) {}
