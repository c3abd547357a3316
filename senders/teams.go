package senders

import (
	"context"
	"errors"

	"github.com/carlmjohnson/requests"
	"github.com/fiffu/regwatch/lib/models"
)

type teamsSender struct {
	base
}

func (s *teamsSender) Type() models.ChannelType {
	return models.ChannelTypeTeams
}

func (s *teamsSender) Send(ctx context.Context, channel *models.Channel, change *models.Change) error {
	url := channel.Config.Get("webhook_url")
	if url == "" {
		return errors.New("teams channel missing webhook_url")
	}

	// Legacy MessageCard format; still the payload incoming webhooks accept.
	payload := map[string]any{
		"@type":      "MessageCard",
		"@context":   "https://schema.org/extensions",
		"summary":    Headline(change),
		"themeColor": "0076D7",
		"title":      Headline(change),
		"text":       Details(change),
	}

	return requests.
		URL(url).
		Transport(s.transport).
		BodyJSON(payload).
		Fetch(ctx)
}
