package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Mailer sends transactional email
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Config holds configuration for the HTTP mail gateway
type Config struct {
	APIURL      string
	APIKey      string
	SenderEmail string
	SenderName  string
}

// HTTPMailer sends email through a JSON-over-HTTP transactional mail API
type HTTPMailer struct {
	apiURL      string
	apiKey      string
	senderEmail string
	senderName  string
	client      *http.Client
}

// NewHTTPMailer creates a new HTTP mail gateway client
func NewHTTPMailer(config Config) *HTTPMailer {
	return &HTTPMailer{
		apiURL:      config.APIURL,
		apiKey:      config.APIKey,
		senderEmail: config.SenderEmail,
		senderName:  config.SenderName,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// sendRequest represents the mail API request body
type sendRequest struct {
	SenderEmail string `json:"sender_email"`
	SenderName  string `json:"sender_name"`
	To          string `json:"to"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
}

// sendResponse represents the mail API response body
type sendResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id,omitempty"`
	Comment   string `json:"comment,omitempty"`
}

// Send delivers one email through the mail API
func (m *HTTPMailer) Send(ctx context.Context, to, subject, body string) error {
	payload := sendRequest{
		SenderEmail: m.senderEmail,
		SenderName:  m.senderName,
		To:          to,
		Subject:     subject,
		Body:        body,
	}

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal mail request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to build mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call mail gateway: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read mail response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mail gateway returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed sendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return fmt.Errorf("failed to parse mail response: %w", err)
	}
	if parsed.Status != "success" {
		return fmt.Errorf("mail gateway rejected message: %s", parsed.Comment)
	}

	return nil
}

// DevMailer logs email instead of sending it; used outside production
type DevMailer struct{}

// NewDevMailer creates a mailer that only logs
func NewDevMailer() *DevMailer {
	return &DevMailer{}
}

// Send logs the message and succeeds
func (m *DevMailer) Send(_ context.Context, to, subject, body string) error {
	log.Printf("[DEV MAIL] to=%s subject=%q body=%q", to, subject, body)
	return nil
}
