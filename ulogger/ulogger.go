// Package ulogger is the logging facade used by every service in the node. The default
// implementation is a zerolog wrapper; tests use TestLogger or VerboseTestLogger.
package ulogger

// ANSI foreground colors used by the console writer.
const (
	colorRed      = 31
	colorGreen    = 32
	colorYellow   = 33
	colorBlue     = 34
	colorWhite    = 37
	colorDarkGray = 90
)

type Logger interface {
	LogLevel() int
	SetLogLevel(level string)
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	New(service string, options ...Option) Logger
	Duplicate(options ...Option) Logger
}

func New(service string, options ...Option) Logger {
	opts := DefaultOptions()
	for _, o := range options {
		o(opts)
	}

	switch opts.loggerType {
	case "none":
		return &TestLogger{}
	default:
		return NewZeroLogger(service, options...)
	}
}
