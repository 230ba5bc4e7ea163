// Package klog is the kernel's structured logger. The teacher logs with
// bare fmt.Printf; the original Rust source's logging.rs instead installs
// a level-colored console logger. klog follows the Rust original's
// approach but built on the corpus-wide logging library
// (github.com/sirupsen/logrus, used throughout the gVisor excerpts in
// other_examples/) rather than hand-rolled ANSI escapes, and every line
// still funnels through a single byte-at-a-time sink so it works over the
// firmware console the same way the teacher's console path does.
package klog

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// Sink is anything that can accept one console byte at a time, i.e. an
// SBI console_putchar wrapper. It is injected rather than imported so
// klog does not need to depend on the sbi package directly.
type Sink interface {
	PutChar(c byte)
}

type sinkWriter struct {
	s Sink
}

func (w sinkWriter) Write(p []byte) (int, error) {
	for _, c := range p {
		w.s.PutChar(c)
	}
	return len(p), nil
}

var (
	mu  sync.Mutex
	log = logrus.New()
)

// colorFormatter reproduces the original source's logging.rs color_id
// convention: error=red, warn=bright yellow, info=blue, debug=green,
// trace=bright black, each line wrapped in the matching ANSI SGR code.
type colorFormatter struct{}

func (colorFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var code int
	switch e.Level {
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		code = 31
	case logrus.WarnLevel:
		code = 93
	case logrus.InfoLevel:
		code = 34
	case logrus.DebugLevel:
		code = 32
	default:
		code = 90
	}
	line := "\x1b[" + itoa(code) + "m[" + e.Level.String() + "] " + e.Message
	for k, v := range e.Data {
		line += " " + k + "=" + toString(v)
	}
	line += "\x1b[0m\n"
	return []byte(line), nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return logrus.Fields{"v": v}.String()
}

func init() {
	log.SetFormatter(colorFormatter{})
	log.SetLevel(logrus.TraceLevel)
}

// Init redirects all kernel log output to sink, replacing the default
// (which, before Init is called, is logrus's stderr default — useful
// only for host-side unit tests).
func Init(sink Sink) {
	mu.Lock()
	defer mu.Unlock()
	log.SetOutput(sinkWriter{sink})
}

// InitWriter is the host-testable counterpart of Init: it lets tests
// capture log output in an ordinary io.Writer (e.g. bytes.Buffer)
// without standing up an SBI console.
func InitWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	log.SetOutput(w)
}

// Fields is re-exported so call sites don't need to import logrus
// directly; it is the structured key/value bag attached to a log line.
type Fields = logrus.Fields

func WithFields(f Fields) *logrus.Entry { return log.WithFields(f) }

func Trace(args ...interface{}) { log.Trace(args...) }
func Debug(args ...interface{}) { log.Debug(args...) }
func Info(args ...interface{})  { log.Info(args...) }
func Warn(args ...interface{})  { log.Warn(args...) }
func Error(args ...interface{}) { log.Error(args...) }

// Fatal logs at error level and then panics; callers in trap dispatch use
// it for the traps spec.md §7 calls always fatal (supervisor-mode
// traps, double faults). It does not call logrus's os.Exit-invoking
// Fatal because this kernel has no host process to exit — panicking
// here is the same as "print a diagnostic and shut down via SBI": the
// caller's deferred recover (installed once, at the boot entry point)
// is what actually invokes sbi.Shutdown.
func Fatal(args ...interface{}) {
	log.Error(args...)
	panic(args)
}
