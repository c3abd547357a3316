package senders

import (
	"context"
	"errors"
	"time"

	"github.com/fiffu/regwatch/lib/models"
	"github.com/fiffu/regwatch/senders/email"
	"github.com/mailgun/mailgun-go/v4"
)

type mailgunSender struct {
	base
}

func (e *mailgunSender) Type() models.ChannelType {
	return models.ChannelTypeEmail
}

func (e *mailgunSender) Send(ctx context.Context, channel *models.Channel, change *models.Change) error {
	recipient := channel.Config.Get("recipient")
	if recipient == "" {
		return errors.New("email channel missing recipient")
	}

	format := &email.ChangeEmailFormat{Change: change}

	mg := mailgun.NewMailgun(e.cfg.Mailgun.Domain, e.cfg.Mailgun.APIKey)
	mg.Client().Transport = e.transport

	// Create message with empty body first.
	message := mg.NewMessage(e.cfg.Mailgun.SenderFrom, format.Subject(), "", recipient)
	// SetHtml with the payload proper. This will assign the MIME type properly.
	message.SetHtml(format.Body())

	timeout := time.Duration(e.cfg.Mailgun.TimeoutSecs) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, _, err := mg.Send(ctx, message)
	return err
}
