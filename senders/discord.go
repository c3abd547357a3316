package senders

import (
	"context"
	"errors"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/fiffu/regwatch/lib/models"
)

type discordSender struct {
	base
}

func (s *discordSender) Type() models.ChannelType {
	return models.ChannelTypeDiscord
}

func (s *discordSender) Send(ctx context.Context, channel *models.Channel, change *models.Change) error {
	url := channel.Config.Get("webhook_url")
	if url == "" {
		return errors.New("discord channel missing webhook_url")
	}

	payload := map[string]any{
		"content": Headline(change),
		"embeds": []map[string]any{
			{
				"title":       change.ServerName,
				"description": Details(change),
				"timestamp":   change.DetectedAt.UTC().Format(time.RFC3339),
			},
		},
	}

	return requests.
		URL(url).
		Transport(s.transport).
		BodyJSON(payload).
		Fetch(ctx)
}
