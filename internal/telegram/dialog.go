package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"

	"github.com/Brownie44l1/flower-identifier/internal/catalog"
	"github.com/Brownie44l1/flower-identifier/internal/feedback"
	"github.com/Brownie44l1/flower-identifier/internal/metrics"
	"github.com/Brownie44l1/flower-identifier/internal/model"
)

const (
	msgStart = `🌼 Flower Identifier

Send me a photo of a flower and I will try to name it.

/help — how it works
/cancel — start over`

	msgHelp = `1. Send a flower photo
2. I reply with the species and a few facts
3. Tell me whether I got it right so the model can improve

Commands: /start /help /cancel`

	msgAskFeedback     = "Is this prediction correct? (Yes/No)"
	msgAskCorrection   = "Please enter the correct flower name:"
	msgEmptyCorrection = "Please enter a valid correction."
	msgLongCorrection  = "That name is too long. Please send just the flower name."
	msgReservedWord    = "Please enter the name of the flower."
	msgThanks          = "Thank you for your feedback! We'll use it to improve our model."
	msgCancelled       = "Cancelled. Send a new photo whenever you like."
	msgSendPhoto       = "Please send a photo of a flower."
	msgYesNo           = "Please answer Yes or No."
	msgUnknownCommand  = "Unknown command. Use /help."
	msgNotInDatabase   = "This flower is not in our database."
	msgBadImage        = "I could not read that image. Please try another photo."
	msgFailed          = "Something went wrong. Please try again."
)

// Reply is one outgoing message.
type Reply struct {
	Text string
	// YesNo asks the transport to offer a Yes/No keyboard.
	YesNo bool
}

// Dialog runs the identify → confirm → correct conversation independently
// of the chat transport.
type Dialog struct {
	chats      ChatRepository
	classifier model.Classifier
	flowers    *catalog.Store
	recorder   feedback.Recorder
}

func NewDialog(chats ChatRepository, classifier model.Classifier, flowers *catalog.Store, recorder feedback.Recorder) *Dialog {
	return &Dialog{chats: chats, classifier: classifier, flowers: flowers, recorder: recorder}
}

func (d *Dialog) HandleCommand(ctx context.Context, chatID int64, command string) ([]Reply, error) {
	chat, err := d.chats.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}

	switch command {
	case "start":
		chat.Reset()
		return []Reply{{Text: msgStart}}, d.chats.Save(ctx, chat)
	case "help":
		return []Reply{{Text: msgHelp}}, nil
	case "cancel":
		chat.Reset()
		return []Reply{{Text: msgCancelled}}, d.chats.Save(ctx, chat)
	default:
		return []Reply{{Text: msgUnknownCommand}}, nil
	}
}

// HandlePhoto classifies an image in any state; a new photo abandons
// pending feedback for the previous one.
func (d *Dialog) HandlePhoto(ctx context.Context, chatID int64, data []byte) ([]Reply, error) {
	chat, err := d.chats.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		log.Debug().Err(err).Int64("chat_id", chatID).Msg("undecodable photo")
		return []Reply{{Text: msgBadImage}}, nil
	}

	start := time.Now()
	pred, err := d.classifier.PredictImage(img)
	if err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("prediction failed")
		return []Reply{{Text: msgFailed}}, nil
	}
	flower, known := d.flowers.Lookup(pred.ClassID)
	metrics.RecordPrediction("telegram", known, time.Since(start))

	chat.State = StateAwaitingFeedback
	chat.Predicted = pred.ClassID
	if err := d.chats.Save(ctx, chat); err != nil {
		return nil, err
	}

	return []Reply{
		{Text: describe(flower, known, pred)},
		{Text: msgAskFeedback, YesNo: true},
	}, nil
}

func (d *Dialog) HandleText(ctx context.Context, chatID int64, text string) ([]Reply, error) {
	chat, err := d.chats.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)

	switch chat.State {
	case StateAwaitingFeedback:
		switch strings.ToLower(text) {
		case "yes", "y":
			return d.record(ctx, chat, feedback.Confirmed)
		case "no", "n":
			chat.State = StateAwaitingCorrection
			return []Reply{{Text: msgAskCorrection}}, d.chats.Save(ctx, chat)
		default:
			return []Reply{{Text: msgYesNo, YesNo: true}}, nil
		}

	case StateAwaitingCorrection:
		switch err := feedback.ValidateCorrection(text); {
		case errors.Is(err, feedback.ErrCorrectionTooLong):
			return []Reply{{Text: msgLongCorrection}}, nil
		case errors.Is(err, feedback.ErrReservedCorrection):
			return []Reply{{Text: msgReservedWord}}, nil
		case err != nil:
			return []Reply{{Text: msgEmptyCorrection}}, nil
		}
		return d.record(ctx, chat, text)

	default:
		return []Reply{{Text: msgSendPhoto}}, nil
	}
}

func (d *Dialog) record(ctx context.Context, chat *Chat, correction string) ([]Reply, error) {
	rec := feedback.Record{
		PredictionID: fmt.Sprintf("tg-%d-%d", chat.ID, time.Now().UnixNano()),
		Predicted:    chat.Predicted,
		Correction:   correction,
	}
	if err := d.recorder.Record(ctx, rec); err != nil {
		return nil, fmt.Errorf("record feedback: %w", err)
	}
	metrics.RecordFeedback(rec.IsConfirmation())

	chat.Reset()
	return []Reply{{Text: msgThanks}}, d.chats.Save(ctx, chat)
}

func describe(f catalog.Flower, known bool, pred *model.PredictionResponse) string {
	if !known {
		return msgNotInDatabase
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Flower Name: %s\n", f.DisplayName())
	fmt.Fprintf(&b, "Scientific Name: %s\n", f.ScientificName)
	fmt.Fprintf(&b, "Genus: %s\n", f.Genus)
	fmt.Fprintf(&b, "Fun Fact: %s\n", f.FunFact)
	fmt.Fprintf(&b, "Where Found: %s\n", f.WhereFound)
	fmt.Fprintf(&b, "Confidence: %.1f%%", pred.Confidence*100)
	return b.String()
}
