package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	chatQueueSize   = 64
	chatSendTimeout = 10 * time.Second
	chatMaxLen      = 3500
	chatMaxValueLen = 600
)

// Sender delivers a rendered log line to the operator chat.
type Sender interface {
	SendText(ctx context.Context, text string) error
}

// chatSink is a zerolog.LevelWriter that renders events as short chat
// messages and hands them to a single worker. Writes never block.
type chatSink struct {
	sender Sender
	queue  chan string

	mu      sync.Mutex
	min     Level
	limiter *rate.Limiter

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func newChatSink(sender Sender) *chatSink {
	return &chatSink{
		sender: sender,
		queue:  make(chan string, chatQueueSize),
		done:   make(chan struct{}),
	}
}

func (c *chatSink) configure(cfg ChatConfig) {
	rps := max(1, cfg.RatePerSec)
	c.mu.Lock()
	c.min = ParseLevel(cfg.MinLevel, LevelWarn)
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	c.mu.Unlock()

	c.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		c.mu.Lock()
		c.cancel = cancel
		c.mu.Unlock()
		go c.run(ctx)
	})
}

func (c *chatSink) run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-c.queue:
			sctx, cancel := context.WithTimeout(ctx, chatSendTimeout)
			_ = c.sender.SendText(sctx, text)
			cancel()
		}
	}
}

func (c *chatSink) stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-c.done
	}
}

func (c *chatSink) Write(p []byte) (int, error) {
	return c.WriteLevel(LevelInfo, p)
}

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	min, lim := c.min, c.limiter
	c.mu.Unlock()

	if level < min || lim == nil || !lim.Allow() {
		return len(p), nil
	}
	if text := renderChat(p); text != "" {
		select {
		case c.queue <- text:
		default:
		}
	}
	return len(p), nil
}

// renderChat turns one JSON event into "[LEVEL] [TAG] message" followed by
// one "- key=value" line per extra field, sorted by key.
func renderChat(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var evt map[string]any
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		return clip(raw, chatMaxLen)
	}

	var b strings.Builder
	if lvl, _ := evt[zerolog.LevelFieldName].(string); lvl != "" {
		b.WriteString(tagPrefix(lvl))
	}
	if tag, _ := evt[TagField].(string); tag != "" {
		b.WriteString(tagPrefix(tag))
	}
	msg, _ := evt[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(evt))
	for k := range evt {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName,
			zerolog.CallerFieldName, TagField:
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(evt[k]), chatMaxValueLen))
	}
	return clip(b.String(), chatMaxLen)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
