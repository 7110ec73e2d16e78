// Package notify delivers crossover alerts over Telegram with bounded
// retries, request de-duplication and pacing.
package notify

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var (
	ErrInvalidImage       = errors.New("image is not a valid base64 encoded image")
	ErrInvalidDestination = errors.New("invalid destination")
)

// Message is one outbound notification. Image is optional base64 data,
// with or without a data URI prefix.
type Message struct {
	Destination string `json:"destination"`
	Text        string `json:"text"`
	Image       string `json:"image,omitempty"`
}

// Transport sends a message and returns the provider message id.
type Transport interface {
	Send(ctx context.Context, msg Message) (int, error)
}

// TelegramTransport sends through the Bot API.
type TelegramTransport struct {
	bot *tgbotapi.BotAPI
}

// NewTelegramTransport authorizes the bot. An empty endpoint uses the public
// Bot API; otherwise it must contain two %s verbs for token and method.
func NewTelegramTransport(token, endpoint string, client *http.Client) (*TelegramTransport, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if client == nil {
		client = &http.Client{}
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	return &TelegramTransport{bot: bot}, nil
}

// BotName is the authorized bot username.
func (t *TelegramTransport) BotName() string { return t.bot.Self.UserName }

func (t *TelegramTransport) Send(ctx context.Context, msg Message) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	chatID, channel, err := parseDestination(msg.Destination)
	if err != nil {
		return 0, err
	}

	var c tgbotapi.Chattable
	if msg.Image != "" {
		data, err := DecodeImage(msg.Image)
		if err != nil {
			return 0, err
		}
		file := tgbotapi.FileBytes{Name: "chart", Bytes: data}
		var photo tgbotapi.PhotoConfig
		if channel != "" {
			photo = tgbotapi.NewPhotoToChannel(channel, file)
		} else {
			photo = tgbotapi.NewPhoto(chatID, file)
		}
		photo.Caption = msg.Text
		c = photo
	} else {
		var text tgbotapi.MessageConfig
		if channel != "" {
			text = tgbotapi.NewMessageToChannel(channel, msg.Text)
		} else {
			text = tgbotapi.NewMessage(chatID, msg.Text)
		}
		text.DisableWebPagePreview = true
		c = text
	}

	sent, err := t.bot.Send(c)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// parseDestination accepts a numeric chat id or an @channel name.
func parseDestination(dest string) (int64, string, error) {
	dest = strings.TrimSpace(dest)
	if strings.HasPrefix(dest, "@") && len(dest) > 1 {
		return 0, dest, nil
	}
	id, err := strconv.ParseInt(dest, 10, 64)
	if err != nil || id == 0 {
		return 0, "", fmt.Errorf("%w: %q", ErrInvalidDestination, dest)
	}
	return id, "", nil
}

// DecodeImage decodes base64 image data, stripping a data URI prefix, and
// checks the payload is an image.
func DecodeImage(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 {
			return nil, ErrInvalidImage
		}
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil || len(data) == 0 {
		return nil, ErrInvalidImage
	}
	if !strings.HasPrefix(http.DetectContentType(data), "image/") {
		return nil, ErrInvalidImage
	}
	return data, nil
}

// StatusCode extracts the Bot API error code, 0 when err is not an API
// error.
func StatusCode(err error) int {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

// Retryable reports whether a send failure may succeed on retry: 5xx, 429
// and transport errors. Other API errors and invalid input are final.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrInvalidImage) || errors.Is(err, ErrInvalidDestination) {
		return false
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code >= 500 || apiErr.Code == http.StatusTooManyRequests
	}
	return true
}
