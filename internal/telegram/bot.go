package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// maxPhotoBytes caps a single photo download.
const maxPhotoBytes = 20 << 20

var yesNoKeyboard = tgbotapi.NewReplyKeyboard(
	tgbotapi.NewKeyboardButtonRow(
		tgbotapi.NewKeyboardButton("Yes"),
		tgbotapi.NewKeyboardButton("No"),
	),
)

// Bot connects a Dialog to the Telegram Bot API using long polling.
type Bot struct {
	api    *tgbotapi.BotAPI
	dialog *Dialog
	client *http.Client
}

func NewBot(token string, dialog *Dialog) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}

	log.Info().Str("account", api.Self.UserName).Msg("telegram bot authorized")

	return &Bot{api: api, dialog: dialog, client: http.DefaultClient}, nil
}

// Run processes updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	var (
		replies []Reply
		err     error
	)

	switch {
	case msg.IsCommand():
		replies, err = b.dialog.HandleCommand(ctx, msg.Chat.ID, msg.Command())
	case len(msg.Photo) > 0:
		// Telegram lists sizes ascending; take the largest.
		photo := msg.Photo[len(msg.Photo)-1]
		data, derr := b.downloadFile(ctx, photo.FileID)
		if derr != nil {
			log.Error().Err(derr).Int64("chat_id", msg.Chat.ID).Msg("photo download failed")
			replies = []Reply{{Text: msgBadImage}}
			break
		}
		replies, err = b.dialog.HandlePhoto(ctx, msg.Chat.ID, data)
	default:
		replies, err = b.dialog.HandleText(ctx, msg.Chat.ID, msg.Text)
	}

	if err != nil {
		log.Error().Err(err).Int64("chat_id", msg.Chat.ID).Msg("dialog failed")
		replies = []Reply{{Text: msgFailed}}
	}
	for _, r := range replies {
		b.send(msg.Chat.ID, r)
	}
}

func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Link(b.api.Token), nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if len(data) > maxPhotoBytes {
		return nil, fmt.Errorf("photo larger than %d bytes", maxPhotoBytes)
	}
	return data, nil
}

func (b *Bot) send(chatID int64, r Reply) {
	msg := tgbotapi.NewMessage(chatID, r.Text)
	if r.YesNo {
		kb := yesNoKeyboard
		kb.OneTimeKeyboard = true
		msg.ReplyMarkup = kb
	} else {
		msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(false)
	}
	if _, err := b.api.Send(msg); err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("send message failed")
	}
}
