package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/foxseedlab/brainwire/internal/monitor"
)

type resultPayload struct {
	Event  string         `json:"event"`
	UserID string         `json:"userId"`
	ChatID string         `json:"chatId"`
	Counts monitor.Counts `json:"counts"`
	Result monitor.Result `json:"result"`
}

// HTTPSink posts each extraction result as JSON to a fixed URL.
type HTTPSink struct {
	webhookURL string
	client     *http.Client
}

func NewHTTPSink(webhookURL string, timeout time.Duration) *HTTPSink {
	return &HTTPSink{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSink) OnExtractionResult(ctx context.Context, userID, chatID string, result monitor.Result) error {
	if s.webhookURL == "" {
		return nil
	}

	b, err := json.Marshal(resultPayload{
		Event:  "extraction.result",
		UserID: userID,
		ChatID: chatID,
		Counts: result.Counts(),
		Result: result,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", result.ID)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if !isHTTPSuccessStatus(resp.StatusCode) {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func isHTTPSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
