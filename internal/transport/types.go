// Package transport defines the chat-platform port the bot talks through.
// The Telegram implementation lives in transport/telegram/adapter.
package transport

import (
	"context"
	"errors"

	"github.com/Larkinyegor/telegram-bot-bw/internal/post"
)

var ErrNotStarted = errors.New("transport not started")

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateMedia    UpdateKind = "media"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int
	FromID       int64
	FromUsername string
	Text         string
	IsPrivate    bool
	// Media is set for UpdateMedia; its Caption carries the message caption.
	Media *Media
	// ReplyTo is the id of the message this one answers, 0 if none.
	ReplyTo int
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

// Media is a platform file reference with an optional caption.
type Media struct {
	Kind    post.Kind
	FileID  string
	Caption string
}

func MediaFromPayload(p post.Payload) Media {
	return Media{Kind: p.Kind, FileID: p.FileID, Caption: p.Caption}
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	ReplyTo        int
	// Markup is adapter specific (Telegram: *telebot.ReplyMarkup).
	Markup any
}

// Adapter is the full chat transport.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	SendMedia(ctx context.Context, to ChatTarget, m Media, opt *SendOptions) (MessageRef, error)
	// SendAlbum sends up to ten photos fetched by URL as one group.
	SendAlbum(ctx context.Context, to ChatTarget, photoURLs []string) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
}

type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command
// menu to the platform.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
