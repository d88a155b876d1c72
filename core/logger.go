package core

// Logger is the application-wide logging sink.
// args may carry errors and map[string]interface{} extras; sinks that understand them attach them to the log entry.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
