// Package mailer implements the outbound password-reset email capability.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"idport.org/internal/obs"
)

// Sender delivers a password-reset email. Implementations may fail; callers
// must not propagate that failure to the end user.
type Sender interface {
	SendPasswordReset(ctx context.Context, email, token, name string) error
}

// Log is the collaborator used when no mail provider is configured: it logs
// the reset request instead of sending anything.
type Log struct{}

func (Log) SendPasswordReset(ctx context.Context, email, token, name string) error {
	obs.Event("info", "password reset requested (no mail provider configured)", map[string]any{
		"email": email,
	})
	return nil
}

// HTTPProvider posts reset messages to an HTTP mail API authenticated with a
// bearer key.
type HTTPProvider struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPProvider builds a provider client with a bounded request timeout.
func NewHTTPProvider(endpoint, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type resetMessage struct {
	To       string `json:"to"`
	Template string `json:"template"`
	Name     string `json:"name,omitempty"`
	Token    string `json:"token"`
}

func (p *HTTPProvider) SendPasswordReset(ctx context.Context, email, token, name string) error {
	body, err := json.Marshal(resetMessage{
		To:       email,
		Template: "password-reset",
		Name:     name,
		Token:    token,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send reset email: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mail provider returned status %d", resp.StatusCode)
	}
	return nil
}
