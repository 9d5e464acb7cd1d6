package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const expoEndpoint = "https://exp.host/--/api/v2/push/send"

// Sender delivers a push notification to a device token. Delivery is best
// effort; callers must not fail their operation on a push error.
type Sender interface {
	Send(ctx context.Context, deviceToken, title, body string, data map[string]string) error
}

// ExpoSender posts to the Expo push gateway.
type ExpoSender struct {
	httpClient *http.Client
	endpoint   string
}

func NewExpoSender() *ExpoSender {
	return &ExpoSender{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		endpoint:   expoEndpoint,
	}
}

type expoMessage struct {
	To    string            `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
	Sound string            `json:"sound"`
}

func (s *ExpoSender) Send(ctx context.Context, deviceToken, title, body string, data map[string]string) error {
	msg := expoMessage{To: deviceToken, Title: title, Body: body, Data: data, Sound: "default"}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("expo push: status=%d", resp.StatusCode)
	}
	return nil
}

var _ Sender = (*ExpoSender)(nil)
