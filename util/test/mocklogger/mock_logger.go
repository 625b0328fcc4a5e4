// Package mocklogger provides a ulogger.Logger that counts calls per level, so tests can
// assert that a warning or error was emitted.
package mocklogger

import (
	"fmt"
	"sync"

	"github.com/dieguito9000/rskj/ulogger"
)

type MockLogger struct {
	mu       sync.Mutex
	calls    map[string]int
	messages []string
}

func NewTestLogger() *MockLogger {
	return &MockLogger{
		calls: make(map[string]int),
	}
}

func (l *MockLogger) LogLevel() int {
	return 0
}

func (l *MockLogger) SetLogLevel(_ string) {}

// New shares the call counters with the parent, so sub-loggers are observable too.
func (l *MockLogger) New(_ string, _ ...ulogger.Option) ulogger.Logger {
	return l
}

func (l *MockLogger) Duplicate(_ ...ulogger.Option) ulogger.Logger {
	return l
}

func (l *MockLogger) Debugf(format string, args ...interface{}) {
	l.recordCall("Debugf", format, args...)
}

func (l *MockLogger) Infof(format string, args ...interface{}) {
	l.recordCall("Infof", format, args...)
}

func (l *MockLogger) Warnf(format string, args ...interface{}) {
	l.recordCall("Warnf", format, args...)
}

func (l *MockLogger) Errorf(format string, args ...interface{}) {
	l.recordCall("Errorf", format, args...)
}

func (l *MockLogger) Fatalf(format string, args ...interface{}) {
	l.recordCall("Fatalf", format, args...)
}

func (l *MockLogger) recordCall(methodName string, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls[methodName]++
	l.messages = append(l.messages, methodName+" "+fmt.Sprintf(format, args...))
}

func (l *MockLogger) GetCallCount(methodName string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.calls[methodName]
}

// Messages returns every formatted message, prefixed with the level method name.
func (l *MockLogger) Messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.messages...)
}
