// Package telegram implements transport.Client on the Telegram Bot API.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"keepalive/internal/transport"
	logx "keepalive/pkg/logx"
)

type Config struct {
	Token string
	// APIURL overrides https://api.telegram.org.
	APIURL         string
	RequestTimeout time.Duration
}

// Client polls with getUpdates on demand instead of running telebot's
// long-poll loop; the scheduler decides when to fetch.
type Client struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	menuMu   sync.Mutex
	menuHash uint64
}

var _ transport.Client = (*Client)(nil)
var _ transport.MenuUpdater = (*Client)(nil)

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 8 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"),
		Client:  &http.Client{Timeout: cfg.RequestTimeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, log: log, bot: b}, nil
}

type updatesResponse struct {
	Result []tele.Update `json:"result"`
}

// GetUpdates performs one short poll (timeout 0) so a tick never blocks on
// Telegram's long-poll window.
func (c *Client) GetUpdates(ctx context.Context, offset int64, limit int) ([]transport.Command, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	params := map[string]any{
		"offset":          offset,
		"limit":           limit,
		"timeout":         0,
		"allowed_updates": []string{"message"},
	}
	data, err := c.bot.Raw("getUpdates", params)
	if err != nil {
		return nil, fmt.Errorf("getUpdates: %w", err)
	}
	var resp updatesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("getUpdates: decode: %w", err)
	}

	out := make([]transport.Command, 0, len(resp.Result))
	for _, u := range resp.Result {
		cmd := transport.Command{ID: int64(u.ID)}
		if m := u.Message; m != nil {
			cmd.Text = m.Text
			if m.Chat != nil {
				cmd.ChatID = m.Chat.ID
			}
			if m.Sender != nil {
				cmd.FromID = m.Sender.ID
			}
		}
		out = append(out, cmd)
	}
	return out, nil
}

func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	chat := &tele.Chat{ID: chatID}
	chunks := splitText(text, textLimit)
	if len(chunks) == 0 {
		chunks = []string{""}
	}
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.bot.Send(chat, chunk, &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
			return fmt.Errorf("sendMessage: %w", err)
		}
	}
	return nil
}

// UpdateMenuCommands updates Telegram's global /menu command list (setMyCommands).
// It only performs a network call when the command list changes.
func (c *Client) UpdateMenuCommands(ctx context.Context, cmds []transport.BotCommand) error {
	c.menuMu.Lock()
	defer c.menuMu.Unlock()

	h := fnv.New64a()
	for _, cmd := range cmds {
		h.Write([]byte(cmd.Command))
		h.Write([]byte{0})
		h.Write([]byte(cmd.Description))
		h.Write([]byte{0})
	}
	sum := h.Sum64()
	if sum == c.menuHash {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	type entry struct {
		Command     string `json:"command"`
		Description string `json:"description"`
	}
	payload := struct {
		Commands []entry `json:"commands"`
	}{Commands: make([]entry, 0, len(cmds))}
	for _, cmd := range cmds {
		name := strings.TrimPrefix(cmd.Command, "/")
		if name == "" {
			continue
		}
		d := cmd.Description
		if d == "" {
			d = name
		}
		if len(d) > 256 {
			d = d[:256]
		}
		payload.Commands = append(payload.Commands, entry{Command: name, Description: d})
	}

	if _, err := c.bot.Raw("setMyCommands", payload); err != nil {
		return fmt.Errorf("setMyCommands: %w", err)
	}
	c.menuHash = sum
	c.log.Info("menu commands updated", logx.Int("count", len(payload.Commands)))
	return nil
}

const textLimit = 4000

// splitText splits long messages into chunks that are safe to send to
// Telegram, preferring newline boundaries.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid extremely small chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
