package transport

import "context"

// Command is one inbound chat update. Updates that carry no text (edits,
// joins, stickers) still have an ID so the channel can acknowledge them.
type Command struct {
	ID     int64
	ChatID int64
	FromID int64
	Text   string
}

// Client is the chat wire protocol the command channel polls.
type Client interface {
	// GetUpdates returns pending updates with ID >= offset, oldest first.
	// Passing offset acknowledges every update below it.
	GetUpdates(ctx context.Context, offset int64, limit int) ([]Command, error)
	SendText(ctx context.Context, chatID int64, text string) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// MenuUpdater is an optional interface that clients can implement
// to publish the command list (Telegram: setMyCommands).
type MenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

// Chat binds a Client to the single operator chat.
type Chat struct {
	Client Client
	ID     int64
}

func (c Chat) SendText(ctx context.Context, text string) error {
	return c.Client.SendText(ctx, c.ID, text)
}
