package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	appLog "calnotify/internal/log"
	"calnotify/internal/model"
)

// DefaultEndpoint is the LINE Messaging API push endpoint.
const DefaultEndpoint = "https://api.line.me/v2/bot/message/push"

// Sender delivers text messages to a single LINE user via the Messaging
// API. No retry happens here; the caller owns retry policy.
type Sender struct {
	// Endpoint defaults to DefaultEndpoint when empty.
	Endpoint string
	// ChannelAccessToken is the bearer token for the Messaging API.
	ChannelAccessToken string
	// UserID is the push recipient.
	UserID string

	// Client defaults to one with a 10 second timeout.
	Client *http.Client
}

type pushMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type pushRequest struct {
	To       string        `json:"to"`
	Messages []pushMessage `json:"messages"`
}

// Send issues a single push of one text message. HTTP 200 is the only
// success; any other status or transport failure is captured verbatim in
// the outcome's error message.
func (s *Sender) Send(ctx context.Context, message string) model.NotificationOutcome {
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	body, err := json.Marshal(pushRequest{
		To:       s.UserID,
		Messages: []pushMessage{{Type: "text", Text: message}},
	})
	if err != nil {
		return model.NotificationOutcome{Success: false, ErrorMsg: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return model.NotificationOutcome{Success: false, ErrorMsg: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+s.ChannelAccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return model.NotificationOutcome{Success: false, ErrorMsg: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(resp.Body)
		msg := string(detail)
		if msg == "" {
			msg = "unknown error"
		}
		err := fmt.Errorf("HTTP %d: %s", resp.StatusCode, msg)
		appLog.Error("push delivery failed", err, "status", resp.StatusCode)
		return model.NotificationOutcome{Success: false, ErrorMsg: err.Error()}
	}

	appLog.Info("push delivered", "length", len(message))
	return model.NotificationOutcome{Success: true, SentAt: time.Now()}
}
