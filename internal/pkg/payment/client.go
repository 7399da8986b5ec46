package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MarkusWeber/ShotVault/internal/pkg/env"
	"github.com/MarkusWeber/ShotVault/internal/pkg/plans"
)

const defaultGatewayBaseURL = "https://api.paygate.example.com"

// Client talks to the payment gateway's HTTP API.
type Client struct {
	BaseURL string
	APIKey  string

	HTTPClient *http.Client
}

// NewClientFromEnv builds a gateway client from environment configuration.
func NewClientFromEnv() *Client {
	return &Client{
		BaseURL: strings.TrimRight(env.GetEnv("PAYGATE_BASE_URL", defaultGatewayBaseURL), "/"),
		APIKey:  strings.TrimSpace(env.GetEnv("PAYGATE_API_KEY", "")),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type chargeRequest struct {
	UserID uint   `json:"user_id"`
	Plan   string `json:"plan"`
	Amount string `json:"amount"`
}

type chargeResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	ChargedAt string `json:"charged_at"`
}

type refundRequest struct {
	UserID uint   `json:"user_id"`
	Amount string `json:"amount"`
}

// Charge requests an immediate charge for a plan. Proration for mid-period
// upgrades is the gateway's responsibility; we send the full plan price and
// the gateway settles the difference.
func (c *Client) Charge(ctx context.Context, userID uint, plan plans.Plan, amount decimal.Decimal) (*Receipt, error) {
	if c.APIKey == "" {
		return nil, errors.New("payment gateway is not configured")
	}

	var resp chargeResponse
	err := c.postJSON(ctx, "/v1/charges", chargeRequest{
		UserID: userID,
		Plan:   string(plan),
		Amount: amount.StringFixed(2),
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Status != "succeeded" {
		return nil, fmt.Errorf("charge not accepted: status %q", resp.Status)
	}

	chargedAt, err := time.Parse(time.RFC3339, resp.ChargedAt)
	if err != nil {
		chargedAt = time.Now()
	}
	return &Receipt{
		Reference: resp.Reference,
		Amount:    amount,
		ChargedAt: chargedAt,
	}, nil
}

// Refund asks the gateway to return an amount to a user.
func (c *Client) Refund(ctx context.Context, userID uint, amount decimal.Decimal) error {
	if c.APIKey == "" {
		return errors.New("payment gateway is not configured")
	}
	return c.postJSON(ctx, "/v1/refunds", refundRequest{
		UserID: userID,
		Amount: amount.StringFixed(2),
	}, nil)
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode gateway response: %w", err)
		}
	}
	return nil
}
