package src

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"strings"
	"sync"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
)

// Screen prints log lines in the "[name] Key: value" layout and keeps the
// most recent ones in memory for the web front-end.
type Screen struct {
	name  string
	debug int
	quiet bool

	mutex       sync.Mutex
	entries     []string
	maxEntries  int
	warnings    int
	errors      int
	subscribers map[chan string]struct{}

	logger *log.Logger
	otel   otellog.Logger
}

// NewScreen returns a screen keeping up to maxEntries lines.
func NewScreen(name string, debug, maxEntries int) *Screen {
	if maxEntries <= 0 {
		maxEntries = 500
	}
	return &Screen{
		name:        name,
		debug:       debug,
		maxEntries:  maxEntries,
		subscribers: make(map[chan string]struct{}),
		logger:      log.Default(),
		otel:        global.GetLoggerProvider().Logger(strings.ToLower(name)),
	}
}

// SetQuiet suppresses info lines on the console.
func (s *Screen) SetQuiet(quiet bool) {
	s.mutex.Lock()
	s.quiet = quiet
	s.mutex.Unlock()
}

// SetLogger redirects console output.
func (s *Screen) SetLogger(l *log.Logger) {
	s.mutex.Lock()
	s.logger = l
	s.mutex.Unlock()
}

func padKey(str string) (string, bool) {
	var max = 23
	var msg = strings.SplitN(str, ":", 2)

	if len(msg) != 2 {
		return str, false
	}

	var space string
	for i := len(msg[0]); i < max; i++ {
		space = space + " "
	}
	return msg[0] + ":" + space + msg[1], true
}

// Info shows "Key:value" messages.
func (s *Screen) Info(str string) {
	msg, ok := padKey(str)
	if !ok {
		return
	}
	s.print(fmt.Sprintf("[%s] %s", s.name, msg), "info", otellog.SeverityInfo)
}

// Debug shows "Key:value" messages when the debug level is at least level.
func (s *Screen) Debug(str string, level int) {
	if s.debug < level {
		return
	}
	msg, ok := padKey(str)
	if !ok {
		return
	}
	s.print(fmt.Sprintf("[DEBUG] %s", msg), "debug", otellog.SeverityDebug)
}

// Highlight shows an info message in green.
func (s *Screen) Highlight(str string) {
	msg, _ := padKey(str)
	s.print(fmt.Sprintf("[%s] %s", s.name, msg), "highlight", otellog.SeverityInfo)
}

// Warning shows a recoverable problem.
func (s *Screen) Warning(str string) {
	s.print(fmt.Sprintf("[%s] [WARNING] %s", s.name, str), "warning", otellog.SeverityWarn)
}

// Error shows a failure.
func (s *Screen) Error(err error) {
	s.print(fmt.Sprintf("[%s] [ERROR] %s", s.name, err), "error", otellog.SeverityError)
}

func (s *Screen) print(logMsg, logType string, severity otellog.Severity) {
	var now = time.Now()

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !(s.quiet && logType == "info") {
		printLogOnScreen(s.logger, logMsg, logType)
	}

	var record otellog.Record
	record.SetTimestamp(now)
	record.SetSeverity(severity)
	record.SetSeverityText(logType)
	record.SetBody(otellog.StringValue(logMsg))
	s.otel.Emit(context.Background(), record)

	var entry = now.Format("2006-01-02 15:04:05") + " " + logMsg
	s.entries = append(s.entries, entry)

	switch logType {
	case "warning":
		s.warnings++
	case "error":
		s.errors++
	}

	s.logCleanUp()

	for ch := range s.subscribers {
		select {
		case ch <- entry:
		default:
			// Slow readers miss lines rather than block logging.
		}
	}
}

func printLogOnScreen(logger *log.Logger, logMsg string, logType string) {
	var color string

	switch logType {
	case "info":
		color = "\033[0m"
	case "debug":
		color = "\033[35m"
	case "highlight":
		color = "\033[32m"
	case "warning":
		color = "\033[33m"
	case "error":
		color = "\033[31m"
	}

	switch runtime.GOOS {
	case "windows":
		logger.Println(logMsg)
	default:
		logger.Println(color + logMsg + "\033[0m")
	}
}

// logCleanUp drops the oldest lines above the limit and recounts warnings
// and errors of the lines kept.
func (s *Screen) logCleanUp() {
	if len(s.entries) <= s.maxEntries {
		return
	}

	s.entries = append([]string(nil), s.entries[len(s.entries)-s.maxEntries:]...)

	s.warnings = 0
	s.errors = 0
	for _, entry := range s.entries {
		if strings.Contains(entry, "[WARNING]") {
			s.warnings++
		}
		if strings.Contains(entry, "[ERROR]") {
			s.errors++
		}
	}
}

// Log returns a copy of the kept lines, oldest first.
func (s *Screen) Log() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]string(nil), s.entries...)
}

// Counts returns the warnings and errors among the kept lines.
func (s *Screen) Counts() (warnings, errors int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.warnings, s.errors
}

// Subscribe returns a channel receiving every new line and a function that
// ends the subscription.
func (s *Screen) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)

	s.mutex.Lock()
	s.subscribers[ch] = struct{}{}
	s.mutex.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mutex.Lock()
			delete(s.subscribers, ch)
			s.mutex.Unlock()
			close(ch)
		})
	}
}
