package senders

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/fiffu/regwatch/lib/models"
)

type webhookSender struct {
	base
}

type webhookPayload struct {
	Event      string         `json:"event"`
	DetectedAt time.Time      `json:"detectedAt"`
	Change     *models.Change `json:"change"`
}

func (s *webhookSender) Type() models.ChannelType {
	return models.ChannelTypeWebhook
}

func (s *webhookSender) Send(ctx context.Context, channel *models.Channel, change *models.Change) error {
	url := channel.Config.Get("url")
	if url == "" {
		return errors.New("webhook channel missing url")
	}

	body, err := json.Marshal(webhookPayload{
		Event:      "registry.change",
		DetectedAt: change.DetectedAt,
		Change:     change,
	})
	if err != nil {
		return err
	}

	req := requests.
		URL(url).
		Transport(s.transport).
		ContentType("application/json").
		BodyBytes(body)

	// Receivers holding a shared secret can authenticate the payload.
	if secret := channel.Config.Get("secret"); secret != "" {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		req = req.Header("X-Regwatch-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	return req.Fetch(ctx)
}
