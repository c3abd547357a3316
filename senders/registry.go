package senders

import (
	"context"
	"net/http"

	"github.com/fiffu/regwatch/config"
	"github.com/fiffu/regwatch/lib/models"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Sender delivers one change to one configured channel. Implementations own
// their provider payloads; nothing upstream knows what a Discord embed or a
// Teams card looks like.
type Sender interface {
	Send(ctx context.Context, channel *models.Channel, change *models.Change) error
	Type() models.ChannelType
}

type Registry map[models.ChannelType]Sender

func NewSenderRegistry(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, transport http.RoundTripper) Registry {
	base := base{log, cfg, transport}
	return Registry{
		models.ChannelTypeDiscord:  &discordSender{base},
		models.ChannelTypeSlack:    &slackSender{base},
		models.ChannelTypeTeams:    &teamsSender{base},
		models.ChannelTypeWebhook:  &webhookSender{base},
		models.ChannelTypeTelegram: newTelegramSender(base),
		models.ChannelTypeEmail:    &mailgunSender{base},
	}
}

type base struct {
	log       *zap.Logger
	cfg       *config.Config
	transport http.RoundTripper
}
