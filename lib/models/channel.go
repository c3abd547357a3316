package models

import (
	"database/sql"

	"gorm.io/gorm"
)

type ChannelType string

const (
	ChannelTypeDiscord  ChannelType = "discord"
	ChannelTypeSlack    ChannelType = "slack"
	ChannelTypeEmail    ChannelType = "email"
	ChannelTypeWebhook  ChannelType = "webhook"
	ChannelTypeTelegram ChannelType = "telegram"
	ChannelTypeTeams    ChannelType = "teams"
)

func AllChannelTypes() []ChannelType {
	return []ChannelType{
		ChannelTypeDiscord,
		ChannelTypeSlack,
		ChannelTypeEmail,
		ChannelTypeWebhook,
		ChannelTypeTelegram,
		ChannelTypeTeams,
	}
}

// ChannelConfig holds the opaque per-type delivery settings (webhook_url,
// recipient, chat_id, ...). The dispatch pipeline never looks inside it; only
// the sender for the channel's type does.
type ChannelConfig map[string]string

func (c ChannelConfig) Get(key string) string {
	if c == nil {
		return ""
	}
	return c[key]
}

// Channel is a configured delivery target owned by a subscription.
// SuccessCount/FailureCount/Last* are mutated exclusively by the dispatcher
// after each send attempt, never by the admin surface.
type Channel struct {
	gorm.Model
	SubscriptionID uint          `gorm:"index"`
	Type           ChannelType   `gorm:"index"`
	Config         ChannelConfig `gorm:"serializer:json"`
	Enabled        bool          `gorm:"default:true"`
	SuccessCount   int64
	FailureCount   int64
	LastSuccess    sql.NullTime
	LastFailure    sql.NullTime
	LastError      string
}

type Channels []Channel
