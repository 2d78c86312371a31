package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/presencepro/platform/internal/models"
)

// httpGatewaySender posts rendered messages to a provider's HTTP API. The SMS
// and push gateways share the same thin contract: a JSON POST answered with a
// provider message id.
type httpGatewaySender struct {
	name    string
	channel models.Channel
	url     string
	token   string
	client  *http.Client
	encode  func(Message) interface{}
}

type gatewayResponse struct {
	MessageID string `json:"message_id"`
}

// NewSMSSender creates a sender for an HTTP SMS gateway.
func NewSMSSender(url, token string) Sender {
	return &httpGatewaySender{
		name:    "sms-gateway",
		channel: models.ChannelSMS,
		url:     url,
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
		encode: func(msg Message) interface{} {
			return map[string]string{"to": msg.Recipient, "message": msg.Body}
		},
	}
}

// NewPushSender creates a sender for an HTTP push-notification gateway.
func NewPushSender(url, token string) Sender {
	return &httpGatewaySender{
		name:    "push-gateway",
		channel: models.ChannelPush,
		url:     url,
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
		encode: func(msg Message) interface{} {
			return map[string]string{"device_token": msg.Recipient, "title": msg.Subject, "body": msg.Body}
		},
	}
}

func (s *httpGatewaySender) Name() string { return s.name }

// Send posts the message to the gateway. 4xx answers are permanent failures;
// 5xx and transport errors are retryable.
func (s *httpGatewaySender) Send(ctx context.Context, msg Message) (string, error) {
	if msg.Channel != s.channel {
		return "", Permanent(fmt.Errorf("%s cannot deliver channel %q", s.name, msg.Channel))
	}

	payload, err := json.Marshal(s.encode(msg))
	if err != nil {
		return "", Permanent(fmt.Errorf("%s encode: %w", s.name, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return "", Permanent(fmt.Errorf("%s request: %w", s.name, err))
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s send: %w", s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return "", Permanent(fmt.Errorf("%s rejected message: status %d", s.name, resp.StatusCode))
	}
	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("%s unavailable: status %d", s.name, resp.StatusCode)
	}

	var decoded gatewayResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%s decode response: %w", s.name, err)
	}
	return decoded.MessageID, nil
}
