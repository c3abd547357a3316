package senders

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/fiffu/regwatch/lib/models"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type telegramSender struct {
	base

	mu   sync.Mutex
	bots map[string]*tgbotapi.BotAPI
}

func newTelegramSender(b base) *telegramSender {
	return &telegramSender{
		base: b,
		bots: make(map[string]*tgbotapi.BotAPI),
	}
}

func (s *telegramSender) Type() models.ChannelType {
	return models.ChannelTypeTelegram
}

func (s *telegramSender) Send(ctx context.Context, channel *models.Channel, change *models.Change) error {
	token := channel.Config.Get("bot_token")
	if token == "" {
		token = s.cfg.Telegram.BotToken
	}
	if token == "" {
		return errors.New("telegram channel missing bot token")
	}

	rawChatID := channel.Config.Get("chat_id")
	if rawChatID == "" {
		return errors.New("telegram channel missing chat_id")
	}
	chatID, err := strconv.ParseInt(rawChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat_id %q: %w", rawChatID, err)
	}

	bot, err := s.bot(token)
	if err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, Details(change))
	msg.DisableWebPagePreview = true

	_, err = bot.Send(msg)
	return err
}

// bot lazily builds one client per token. NewBotAPIWithClient calls getMe, so
// we don't want a fresh client per message.
func (s *telegramSender) bot(token string) (*tgbotapi.BotAPI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.bots[token]; ok {
		return b, nil
	}

	client := &http.Client{Transport: s.transport, Timeout: 30 * time.Second}
	b, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, err
	}
	s.bots[token] = b
	return b, nil
}
