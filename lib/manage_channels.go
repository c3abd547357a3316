package lib

import (
	"context"
	"fmt"

	"github.com/fiffu/regwatch/config"
	"github.com/fiffu/regwatch/lib/dispatch"
	"github.com/fiffu/regwatch/lib/models"
	"github.com/fiffu/regwatch/lib/store"
	"go.uber.org/zap"
)

type manageChannels struct {
	cfg        *config.Config
	log        *zap.Logger
	store      store.Store
	dispatcher *dispatch.Dispatcher
}

func (svc *manageChannels) AddChannel(ctx context.Context, subscriptionID uint, channelType models.ChannelType, conf models.ChannelConfig) (*models.Channel, error) {
	if _, err := svc.store.GetSubscriptionByID(ctx, subscriptionID); err != nil {
		return nil, err
	}
	if err := validateChannelConfig(channelType, conf); err != nil {
		return nil, err
	}

	ch := &models.Channel{
		SubscriptionID: subscriptionID,
		Type:           channelType,
		Config:         conf,
		Enabled:        true,
	}
	if err := svc.store.CreateChannel(ctx, ch); err != nil {
		return nil, err
	}
	svc.log.Sugar().Infof("Added %s channel id:%v to subscription id:%v", channelType, ch.ID, subscriptionID)
	return ch, nil
}

func (svc *manageChannels) SetChannelEnabled(ctx context.Context, channelID uint, enabled bool) (*models.Channel, error) {
	ch, err := svc.store.GetChannelByID(ctx, channelID)
	if err != nil {
		return nil, err
	}

	ch.Enabled = enabled
	if err := svc.store.UpdateChannel(ctx, ch); err != nil {
		return nil, err
	}
	return ch, nil
}

// TestChannel sends a synthetic change through the channel's real delivery
// path so misconfigured webhooks surface before a real change does.
func (svc *manageChannels) TestChannel(ctx context.Context, channelID uint) error {
	ch, err := svc.store.GetChannelByID(ctx, channelID)
	if err != nil {
		return err
	}
	return svc.dispatcher.TestChannel(ctx, ch)
}

var requiredChannelKeys = map[models.ChannelType][]string{
	models.ChannelTypeDiscord:  {"webhook_url"},
	models.ChannelTypeSlack:    {"webhook_url"},
	models.ChannelTypeTeams:    {"webhook_url"},
	models.ChannelTypeWebhook:  {"url"},
	models.ChannelTypeTelegram: {"chat_id"},
	models.ChannelTypeEmail:    {"recipient"},
}

func validateChannelConfig(channelType models.ChannelType, conf models.ChannelConfig) error {
	keys, ok := requiredChannelKeys[channelType]
	if !ok {
		return fmt.Errorf("unknown channel type %q", channelType)
	}
	for _, key := range keys {
		if conf.Get(key) == "" {
			return fmt.Errorf("%s channel config missing %q", channelType, key)
		}
	}
	return nil
}
