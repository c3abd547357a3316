package senders

import (
	"context"
	"errors"

	"github.com/carlmjohnson/requests"
	"github.com/fiffu/regwatch/lib/models"
)

type slackSender struct {
	base
}

func (s *slackSender) Type() models.ChannelType {
	return models.ChannelTypeSlack
}

func (s *slackSender) Send(ctx context.Context, channel *models.Channel, change *models.Change) error {
	url := channel.Config.Get("webhook_url")
	if url == "" {
		return errors.New("slack channel missing webhook_url")
	}

	payload := map[string]any{
		"text": Headline(change),
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": Details(change),
				},
			},
		},
	}

	return requests.
		URL(url).
		Transport(s.transport).
		BodyJSON(payload).
		Fetch(ctx)
}
