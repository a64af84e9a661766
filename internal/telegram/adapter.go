package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/imagereader/internal/dataurl"
	"github.com/user/imagereader/internal/gateway"
	"github.com/user/imagereader/internal/reader"
	"github.com/user/imagereader/internal/types"
)

const maxTelegramMessage = 4096

// sender is the part of the bot API the adapter sends through.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Adapter bridges Telegram to the gateway.
type Adapter struct {
	bot      *tgbotapi.BotAPI
	out      sender
	gateway  *gateway.Gateway
	events   types.EventStore
	sessions types.SessionStore
}

// New creates a Telegram adapter.
func New(token string, gw *gateway.Gateway, events types.EventStore, sessions types.SessionStore) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Adapter{
		bot:      bot,
		out:      bot,
		gateway:  gw,
		events:   events,
		sessions: sessions,
	}, nil
}

// Start begins long-polling for Telegram updates.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	// Handle commands
	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}

	chatID := msg.Chat.ID
	event := &types.InboundEvent{
		Source:     "telegram",
		SessionKey: buildSessionKey(msg.From.ID, msg.Chat.ID),
		UserID:     strconv.FormatInt(msg.From.ID, 10),
		Text:       msg.Text,
	}

	err := a.gateway.HandleInbound(ctx, event, gateway.WithOnComplete(func(reply *types.Post, err error) {
		if err != nil {
			a.sendText(chatID, failureText(err))
			return
		}
		if err := a.sendReply(chatID, reply); err != nil {
			slog.Error("telegram send reply failed", "chat_id", chatID, "error", err)
		}
	}))
	if err != nil {
		slog.Error("handle inbound failed", "error", err)
		a.sendText(chatID, "Sorry, I encountered an error processing your message.")
	}
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	key := buildSessionKey(msg.From.ID, msg.Chat.ID)

	switch msg.Command() {
	case "start":
		a.sendText(chatID, "Hello! Send me a message that mentions an image path or URL and I will send the image back.")

	case "new":
		sid, err := a.sessions.ResolveOrCreate(ctx, key, a.gateway.Agent)
		if err == nil {
			err = a.sessions.Remove(ctx, sid)
		}
		if err != nil {
			a.sendText(chatID, "Error clearing session.")
			return
		}
		a.sendText(chatID, "Starting a new session. Previous conversation has been cleared.")

	case "status":
		sid, err := a.sessions.ResolveOrCreate(ctx, key, a.gateway.Agent)
		if err != nil {
			a.sendText(chatID, "Error fetching status.")
			return
		}
		count, err := a.events.Count(ctx, sid)
		if err != nil {
			a.sendText(chatID, "Error fetching status.")
			return
		}
		a.sendText(chatID, fmt.Sprintf("Session: %s\nEvents: %d", sid, count))

	default:
		a.sendText(chatID, "Unknown command. Available: /start, /new, /status")
	}
}

// SendTo delivers reply to the chat encoded in a telegram session key.
// It is registered with the delivery registry under the "telegram:" prefix.
func (a *Adapter) SendTo(sessionKey string, reply *types.Post) error {
	chatID, err := chatIDFromKey(sessionKey)
	if err != nil {
		return err
	}
	return a.sendReply(chatID, reply)
}

// sendReply sends the reply text followed by one photo per image attachment.
func (a *Adapter) sendReply(chatID int64, reply *types.Post) error {
	if reply.Message != "" {
		a.sendText(chatID, reply.Message)
	}
	for _, att := range reply.Attachments {
		if att.Type != types.AttachmentImageURL {
			continue
		}
		photo, err := photoFor(chatID, att)
		if err != nil {
			return err
		}
		if _, err := a.out.Send(photo); err != nil {
			return fmt.Errorf("send photo: %w", err)
		}
	}
	return nil
}

// photoFor builds the photo upload for an image attachment. Remote images
// are passed to Telegram by URL; data URLs are uploaded as bytes.
func photoFor(chatID int64, att types.Attachment) (tgbotapi.PhotoConfig, error) {
	url, ok := att.Extra[string(types.AttachmentImageURL)].(string)
	if !ok || url == "" {
		return tgbotapi.PhotoConfig{}, errors.New("attachment has no image_url")
	}

	var file tgbotapi.RequestFileData = tgbotapi.FileURL(url)
	if dataurl.IsDataURL(url) {
		mimeType, data, err := dataurl.Decode(url)
		if err != nil {
			return tgbotapi.PhotoConfig{}, fmt.Errorf("decode image: %w", err)
		}
		file = tgbotapi.FileBytes{Name: "image" + extensionFor(mimeType), Bytes: data}
	}

	photo := tgbotapi.NewPhoto(chatID, file)
	photo.Caption = att.Content
	return photo, nil
}

func extensionFor(mimeType string) string {
	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return ".bin"
	}
	return exts[0]
}

func failureText(err error) string {
	switch {
	case errors.Is(err, reader.ErrNoQueryFound):
		return "I could not find a message to read an image from."
	case errors.Is(err, reader.ErrMalformedModelResponse):
		return "I could not find an image path in your message."
	case errors.Is(err, reader.ErrImageEncodeFailed):
		return "I found an image path but could not read the file."
	default:
		return "Sorry, something went wrong processing your message."
	}
}

func (a *Adapter) sendText(chatID int64, text string) {
	parts := splitMessage(text)
	for _, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = "Markdown"
		if _, err := a.out.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := a.out.Send(msg); err != nil {
				slog.Error("telegram send message failed", "chat_id", chatID, "error", err)
			}
		}
	}
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}

func buildSessionKey(userID, chatID int64) types.SessionKey {
	return types.NewSessionKey("telegram",
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(chatID, 10),
	)
}

// chatIDFromKey extracts the chat ID from "telegram:<user>:<chat>".
func chatIDFromKey(key string) (int64, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 || parts[0] != "telegram" {
		return 0, fmt.Errorf("not a telegram session key: %s", key)
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse chat id: %w", err)
	}
	return id, nil
}
