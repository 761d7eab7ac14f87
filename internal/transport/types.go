// Package transport holds the chat-transport neutral types the bot core
// depends on. Adapters (Telegram today) translate to and from these.
package transport

import (
	"context"
	"strconv"
)

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	// IsPrivate is true for one-to-one chats with the bot.
	IsPrivate bool
}

type ChatTarget struct {
	ChatID int64
}

// Channel returns the chat id in the textual form used for persistence.
func (t ChatTarget) Channel() string { return strconv.FormatInt(t.ChatID, 10) }

// ParseChannel is the inverse of ChatTarget.Channel.
func ParseChannel(channel string) (ChatTarget, error) {
	id, err := strconv.ParseInt(channel, 10, 64)
	if err != nil {
		return ChatTarget{}, err
	}
	return ChatTarget{ChatID: id}, nil
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

type Notification struct {
	Channel  string // transport name, e.g. "telegram"
	Priority int    // 0 low.. 10 high
	Target   ChatTarget
	Text     string
	Options  *SendOptions
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// BotCommand is a single command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
