// Package receipt issues fiscal receipts for settled orders through
// the external receipt service: authenticate, register the operation,
// then poll the processing report.
package receipt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/softpaymoney/paygate/internal/pkg/httpx"
)

// Config carries the receipt service credentials and endpoints.
type Config struct {
	BaseURL  string
	Login    string
	Password string
	GroupID  string
	Timeout  time.Duration
}

// Client talks to the receipt service HTTP API.
type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{cfg: cfg}
}

// Operation is one receipt registration request.
type Operation struct {
	ID          string  `json:"external_id"`
	Amount      float64 `json:"amount"`
	ProductName string  `json:"product_name"`
	Email       string  `json:"email,omitempty"`
	Phone       string  `json:"phone,omitempty"`
}

// Report is the receipt service's processing outcome for an operation.
type Report struct {
	UUID   string `json:"uuid"`
	Status string `json:"status"`
}

// Token authenticates against the receipt service.
func (c *Client) Token(ctx context.Context) (string, error) {
	result := httpx.PostJSON(ctx, c.cfg.BaseURL+"/api/auth/token", map[string]string{
		"login": c.cfg.Login,
		"pass":  c.cfg.Password,
	}, c.cfg.Timeout)
	if !result.OK {
		return "", fmt.Errorf("receipt token request failed: %s", result.Message)
	}

	var response struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(result.Body, &response); err != nil {
		return "", fmt.Errorf("receipt token response is not valid JSON: %w", err)
	}
	if response.Token == "" {
		return "", fmt.Errorf("receipt token response carries no token")
	}
	return response.Token, nil
}

// CreateOperation registers the receipt and returns its uuid.
func (c *Client) CreateOperation(ctx context.Context, token string, operation Operation) (string, error) {
	url := fmt.Sprintf("%s/api/v2/requests/%s/sell?token=%s", c.cfg.BaseURL, c.cfg.GroupID, token)
	result := httpx.PostJSON(ctx, url, operation, c.cfg.Timeout)
	if !result.OK {
		return "", fmt.Errorf("receipt create request failed: %s", result.Message)
	}

	var response struct {
		UUID string `json:"uuid"`
	}
	if err := json.Unmarshal(result.Body, &response); err != nil {
		return "", fmt.Errorf("receipt create response is not valid JSON: %w", err)
	}
	if response.UUID == "" {
		return "", fmt.Errorf("receipt create response carries no uuid")
	}
	return response.UUID, nil
}

// Fetch retrieves the processing report for a registered operation.
func (c *Client) Fetch(ctx context.Context, token, operationUUID string) (*Report, error) {
	url := fmt.Sprintf("%s/api/v2/requests/%s/status/%s?token=%s", c.cfg.BaseURL, c.cfg.GroupID, operationUUID, token)
	result := httpx.PostJSON(ctx, url, map[string]string{}, c.cfg.Timeout)
	if !result.OK {
		return nil, fmt.Errorf("receipt report request failed: %s", result.Message)
	}

	var report Report
	if err := json.Unmarshal(result.Body, &report); err != nil {
		return nil, fmt.Errorf("receipt report response is not valid JSON: %w", err)
	}
	if report.UUID == "" {
		report.UUID = operationUUID
	}
	return &report, nil
}
