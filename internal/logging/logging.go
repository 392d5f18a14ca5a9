package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"unicode/utf8"
)

// Loggers 按组件拆分的日志文件
type Loggers struct {
	Gateway *log.Logger
	Session *log.Logger
	Media   *log.Logger
	Bridge  *log.Logger
	Cron    *log.Logger
	Web     *log.Logger

	files []*os.File
}

var (
	once    sync.Once
	loggers *Loggers
	initErr error
)

var componentFiles = []struct {
	name string
	set  func(*Loggers, *log.Logger)
}{
	{"gateway.log", func(l *Loggers, lg *log.Logger) { l.Gateway = lg }},
	{"session.log", func(l *Loggers, lg *log.Logger) { l.Session = lg }},
	{"media.log", func(l *Loggers, lg *log.Logger) { l.Media = lg }},
	{"bridge.log", func(l *Loggers, lg *log.Logger) { l.Bridge = lg }},
	{"cron.log", func(l *Loggers, lg *log.Logger) { l.Cron = lg }},
	{"web.log", func(l *Loggers, lg *log.Logger) { l.Web = lg }},
}

// Init sets up <baseDir>/logs files. Safe to call multiple times.
func Init(baseDir string) (*Loggers, error) {
	once.Do(func() {
		if baseDir == "" {
			initErr = fmt.Errorf("log base dir is empty")
			return
		}
		logDir := filepath.Join(baseDir, "logs")
		if err := os.MkdirAll(logDir, 0755); err != nil {
			initErr = fmt.Errorf("failed to create log dir: %w", err)
			return
		}

		l := &Loggers{}
		for _, c := range componentFiles {
			f, err := os.OpenFile(filepath.Join(logDir, c.name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
			if err != nil {
				l.Close()
				initErr = fmt.Errorf("open %s: %w", c.name, err)
				return
			}
			l.files = append(l.files, f)
			c.set(l, log.New(f, "", log.LstdFlags|log.Lmicroseconds))
		}

		loggers = l
		l.Gateway.Printf("logging initialized at %s", logDir)
	})

	return loggers, initErr
}

// Get returns initialized loggers (may be nil if Init failed or not called).
func Get() *Loggers {
	return loggers
}

// WebWriter is where gin writes its access log; io.Discard before Init.
func WebWriter() io.Writer {
	if l := Get(); l != nil && l.Web != nil {
		return l.Web.Writer()
	}
	return io.Discard
}

// Close flushes and closes all log files.
func (l *Loggers) Close() {
	if l == nil {
		return
	}
	for _, f := range l.files {
		_ = f.Close()
	}
	l.files = nil
}

// Truncate keeps logs readable by capping long strings.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
