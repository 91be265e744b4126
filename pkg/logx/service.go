package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const defaultLogFile = "./keepalive.log"

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Chat    ChatConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// ChatConfig forwards events at MinLevel and above (warn by default) to the
// operator chat, at most RatePerSec per second.
type ChatConfig struct {
	Enabled    bool
	MinLevel   string
	RatePerSec int
}

// Service owns the sinks behind every Logger it hands out and can swap
// them at runtime.
type Service struct {
	mu   sync.Mutex
	file *os.File
	chat *chatSink

	root atomic.Pointer[zerolog.Logger]
}

// New applies cfg and returns the service plus its root Logger.
// With a nil sender the chat sink stays off even when enabled.
func New(cfg Config, sender Sender) (*Service, Logger) {
	s := &Service{}
	if sender != nil {
		s.chat = newChatSink(sender)
	}
	s.Apply(cfg)
	return s, s.Logger()
}

// Logger returns a Logger that follows later Apply calls.
func (s *Service) Logger() Logger {
	return Logger{src: func() zerolog.Logger {
		if zl := s.root.Load(); zl != nil {
			return *zl
		}
		return zerolog.Nop()
	}}
}

// Apply rebuilds the sinks for cfg. A log file that fails to open is
// reported on stderr and skipped.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleWriter(os.Stdout))
	}
	if cfg.File.Enabled {
		if f, err := openLogFile(cfg.File.Path); err != nil {
			fmt.Fprintf(os.Stderr, "logx: %v\n", err)
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	if s.chat != nil && cfg.Chat.Enabled {
		s.chat.configure(cfg.Chat)
		sinks = append(sinks, s.chat)
	}
	if len(sinks) == 0 {
		sinks = append(sinks, consoleWriter(os.Stdout))
	}

	zl := newRoot(zerolog.MultiLevelWriter(sinks...), ParseLevel(cfg.Level, LevelInfo))
	s.root.Store(&zl)
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultLogFile
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return f, nil
}

// Close stops the chat worker and closes the log file.
func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()

	if s.chat != nil {
		s.chat.stop()
	}
	if f != nil {
		return f.Close()
	}
	return nil
}
