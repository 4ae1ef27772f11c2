package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const resendEndpoint = "https://api.resend.com/emails"

// EmailClient sends transactional mail through a Resend-compatible HTTP
// API. A nil client is a valid "email disabled" state for callers.
type EmailClient struct {
	apiKey     string
	from       string
	endpoint   string
	httpClient *http.Client
}

// NewEmailClient returns nil when the API key or sender address is
// missing, which disables email delivery without an error.
func NewEmailClient(apiKey, from string) *EmailClient {
	if apiKey == "" || from == "" {
		return nil
	}
	return &EmailClient{
		apiKey:   apiKey,
		from:     from,
		endpoint: resendEndpoint,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type emailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// Send posts one email. Failures surface to the caller, which logs and
// keeps dispatching to remaining recipients.
func (c *EmailClient) Send(ctx context.Context, to, subject, html string) error {
	body, err := json.Marshal(emailRequest{
		From:    c.from,
		To:      []string{to},
		Subject: subject,
		HTML:    html,
	})
	if err != nil {
		return fmt.Errorf("failed to encode email request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build email request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("email API returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
