package ulogger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ordishs/gocore"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

const callerWidth = 32

var levelColors = map[string]int{
	"debug": colorBlue,
	"info":  colorGreen,
	"warn":  colorYellow,
	"error": colorRed,
	"fatal": colorRed,
	"panic": colorRed,
}

type ZLoggerWrapper struct {
	zerolog.Logger
	service string
	opts    Options
}

// NewZeroLogger builds a zerolog logger tagged with service. Output is JSON unless pretty
// logging is on, through PRETTY_LOGS or WithPretty.
func NewZeroLogger(service string, options ...Option) *ZLoggerWrapper {
	if service == "" {
		service = "syncnode"
	}

	opts := DefaultOptions()
	for _, o := range options {
		o(opts)
	}

	pretty := gocore.Config().GetBool("PRETTY_LOGS", true)
	if opts.pretty != nil {
		pretty = *opts.pretty
	}

	ctx := zerolog.New(opts.writer).With()
	if pretty {
		ctx = zerolog.New(newConsoleWriter(opts.writer, service)).With()
	} else {
		ctx = ctx.Str("service", service)
	}

	z := &ZLoggerWrapper{
		Logger:  ctx.CallerWithSkipFrameCount(zerolog.CallerSkipFrameCount + 1).Timestamp().Logger(),
		service: service,
		opts:    *opts,
	}

	z.SetLogLevel(opts.logLevel)

	return z
}

// newConsoleWriter renders "15:04:05 | LEVEL | service   | message  caller" lines, colored
// only when writing to a terminal.
func newConsoleWriter(writer io.Writer, service string) zerolog.ConsoleWriter {
	noColor := true
	if f, ok := writer.(*os.File); ok {
		noColor = !term.IsTerminal(int(f.Fd()))
	}

	return zerolog.ConsoleWriter{
		Out:        writer,
		NoColor:    noColor,
		TimeFormat: time.RFC3339,
		FormatTimestamp: func(i interface{}) string {
			s, _ := i.(string)
			parsed, _ := time.Parse(time.RFC3339, s)

			return parsed.Format("15:04:05")
		},
		FormatLevel: func(i interface{}) string {
			name, _ := i.(string)

			color, ok := levelColors[name]
			if !ok {
				color = colorWhite
			}

			return "| " + colorize(strings.ToUpper(fmt.Sprintf("%-6s", name)), color, noColor) + "|"
		},
		FormatMessage: func(i interface{}) string {
			return fmt.Sprintf("| %-10s| %s", service, i)
		},
		FormatFieldName: func(i interface{}) string {
			return fmt.Sprintf("%s:", i)
		},
		FormatCaller: func(i interface{}) string {
			c, _ := i.(string)
			if c == "" {
				return c
			}

			return colorize(fmt.Sprintf("%-*s", callerWidth, shortCaller(c)), colorDarkGray, noColor)
		},
	}
}

// shortCaller makes caller relative to the working directory and keeps as many trailing
// path elements as fit in callerWidth.
func shortCaller(caller string) string {
	if cwd, err := os.Getwd(); err == nil {
		if rel, err := filepath.Rel(cwd, caller); err == nil {
			caller = rel
		}
	}

	parts := strings.Split(caller, "/")
	short := parts[len(parts)-1]

	for idx := len(parts) - 2; idx >= 0; idx-- {
		if len(short)+len(parts[idx])+1 > callerWidth {
			break
		}

		short = parts[idx] + "/" + short
	}

	return short
}

// New creates a logger for another service with the same writer, type and level.
func (z *ZLoggerWrapper) New(service string, options ...Option) Logger {
	inherited := []Option{
		WithWriter(z.opts.writer),
		WithLoggerType(z.opts.loggerType),
		WithLevel(z.levelName()),
	}

	if z.opts.pretty != nil {
		inherited = append(inherited, WithPretty(*z.opts.pretty))
	}

	return NewZeroLogger(service, append(inherited, options...)...)
}

func (z *ZLoggerWrapper) Duplicate(options ...Option) Logger {
	return z.New(z.service, options...)
}

// SetLogLevel accepts DEBUG, INFO, WARN, ERROR or FATAL in any case; anything else means INFO.
func (z *ZLoggerWrapper) SetLogLevel(logLevel string) {
	level, err := zerolog.ParseLevel(strings.ToLower(logLevel))
	if err != nil || level == zerolog.NoLevel || level < zerolog.DebugLevel || level > zerolog.FatalLevel {
		level = zerolog.InfoLevel
	}

	z.Logger = z.Logger.Level(level)
}

func (z *ZLoggerWrapper) LogLevel() int {
	return int(z.Logger.GetLevel())
}

func (z *ZLoggerWrapper) levelName() string {
	return strings.ToUpper(z.Logger.GetLevel().String())
}

func (z *ZLoggerWrapper) Debugf(format string, args ...interface{}) {
	z.Logger.Debug().Msgf(format, args...)
}

func (z *ZLoggerWrapper) Infof(format string, args ...interface{}) {
	z.Logger.Info().Msgf(format, args...)
}

func (z *ZLoggerWrapper) Warnf(format string, args ...interface{}) {
	z.Logger.Warn().Msgf(format, args...)
}

func (z *ZLoggerWrapper) Errorf(format string, args ...interface{}) {
	z.Logger.Error().Msgf(format, args...)
}

func (z *ZLoggerWrapper) Fatalf(format string, args ...interface{}) {
	z.Logger.Fatal().Msgf(format, args...)
}

// colorize wraps s in ANSI code c unless disabled, NO_COLOR is set or c is 0.
func colorize(s string, c int, disabled bool) string {
	if disabled || c == 0 || os.Getenv("NO_COLOR") != "" {
		return s
	}

	return fmt.Sprintf("\x1b[%dm%s\x1b[0m", c, s)
}
