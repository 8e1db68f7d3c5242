package portone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/kevin07696/billing-service/internal/domain/ports"
)

// Config holds PortOne API configuration
type Config struct {
	BaseURL   string // Base URL for the PortOne API (e.g., https://api.portone.io)
	APISecret string // API secret for token acquisition and PortOne-scheme auth
}

// Client implements ports.BillingGateway against the PortOne HTTP API.
// Every method is one remote call; the client embeds no retries.
type Client struct {
	config     Config
	httpClient ports.HTTPClient
	logger     ports.Logger
}

// NewClient creates a new PortOne client with dependency injection
func NewClient(config Config, httpClient ports.HTTPClient, logger ports.Logger) *Client {
	return &Client{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
	}
}

// GetAccessToken implements ports.BillingGateway.GetAccessToken
func (c *Client) GetAccessToken(ctx context.Context) (string, error) {
	resp, err := c.makeRequest(ctx, http.MethodPost, "/login/api-secret",
		map[string]interface{}{"apiSecret": c.config.APISecret}, "")
	if err != nil {
		return "", err
	}

	token, ok := resp["accessToken"].(string)
	if !ok || token == "" {
		return "", &GatewayError{Status: http.StatusBadGateway, Message: "token response missing accessToken"}
	}
	return token, nil
}

// GetPaymentDetails implements ports.BillingGateway.GetPaymentDetails
func (c *Client) GetPaymentDetails(ctx context.Context, paymentID, accessToken string) (map[string]interface{}, error) {
	return c.makeRequest(ctx, http.MethodGet, "/payments/"+url.PathEscape(paymentID), nil, bearer(accessToken))
}

// IssueBillingKey implements ports.BillingGateway.IssueBillingKey.
// Billing-key issuance uses the PortOne auth scheme rather than the bearer token.
func (c *Client) IssueBillingKey(ctx context.Context, req map[string]interface{}, accessToken string) (map[string]interface{}, error) {
	return c.makeRequest(ctx, http.MethodPost, "/billing-keys", req, c.portOneAuth())
}

// GetBillingKey implements ports.BillingGateway.GetBillingKey
func (c *Client) GetBillingKey(ctx context.Context, customerUID, accessToken string) (map[string]interface{}, error) {
	return c.makeRequest(ctx, http.MethodGet, "/billing-keys/"+url.PathEscape(customerUID), nil, bearer(accessToken))
}

// ExecuteBilling implements ports.BillingGateway.ExecuteBilling
func (c *Client) ExecuteBilling(ctx context.Context, customerUID string, req map[string]interface{}, accessToken string) (map[string]interface{}, error) {
	path := "/billing-keys/" + url.PathEscape(customerUID) + "/payments"
	return c.makeRequest(ctx, http.MethodPost, path, req, bearer(accessToken))
}

// CancelPayment implements ports.BillingGateway.CancelPayment
func (c *Client) CancelPayment(ctx context.Context, paymentID, accessToken, reason string) (map[string]interface{}, error) {
	path := "/payments/" + url.PathEscape(paymentID) + "/cancel"
	return c.makeRequest(ctx, http.MethodPost, path, map[string]interface{}{"reason": reason}, bearer(accessToken))
}

// CreateSchedule implements ports.BillingGateway.CreateSchedule.
// Schedules register under a caller-chosen unique payment id.
func (c *Client) CreateSchedule(ctx context.Context, paymentID string, req map[string]interface{}, accessToken string) (map[string]interface{}, error) {
	path := "/payments/" + url.PathEscape(paymentID) + "/schedule"
	return c.makeRequest(ctx, http.MethodPost, path, req, c.portOneAuth())
}

// GetSchedules implements ports.BillingGateway.GetSchedules
func (c *Client) GetSchedules(ctx context.Context, customerUID, accessToken string) (map[string]interface{}, error) {
	path := "/billing-keys/" + url.PathEscape(customerUID) + "/schedules"
	return c.makeRequest(ctx, http.MethodGet, path, nil, bearer(accessToken))
}

// GetSchedule implements ports.BillingGateway.GetSchedule
func (c *Client) GetSchedule(ctx context.Context, customerUID, scheduleID, accessToken string) (map[string]interface{}, error) {
	path := "/billing-keys/" + url.PathEscape(customerUID) + "/schedules/" + url.PathEscape(scheduleID)
	return c.makeRequest(ctx, http.MethodGet, path, nil, bearer(accessToken))
}

// DeleteSchedule implements ports.BillingGateway.DeleteSchedule
func (c *Client) DeleteSchedule(ctx context.Context, customerUID, scheduleID, accessToken string) (map[string]interface{}, error) {
	path := "/billing-keys/" + url.PathEscape(customerUID) + "/schedules/" + url.PathEscape(scheduleID)
	return c.makeRequest(ctx, http.MethodDelete, path, nil, bearer(accessToken))
}

// makeRequest makes an HTTP request to the PortOne API and decodes the
// response envelope as a generic map. Non-2xx responses become GatewayErrors
// with the gateway's message preserved.
func (c *Client) makeRequest(ctx context.Context, method, path string, request interface{}, authorization string) (map[string]interface{}, error) {
	var payloadBytes []byte
	var err error

	if request != nil {
		payloadBytes, err = json.Marshal(request)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if authorization != "" {
		httpReq.Header.Set("Authorization", authorization)
	}

	if c.logger != nil {
		c.logger.Debug("making request to PortOne",
			ports.String("method", method),
			ports.String("path", path),
		)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &GatewayError{Status: 0, Message: fmt.Sprintf("failed to connect to payment gateway: %v", err)}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		return nil, &GatewayError{Status: httpResp.StatusCode, Message: gatewayMessage(body)}
	}

	result := make(map[string]interface{})
	if len(body) > 0 {
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return result, nil
}

func (c *Client) portOneAuth() string {
	return "PortOne " + c.config.APISecret
}

func bearer(accessToken string) string {
	return "Bearer " + accessToken
}

// gatewayMessage extracts an error message from a failure envelope,
// falling back to the raw body
func gatewayMessage(body []byte) string {
	var envelope map[string]interface{}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if msg, ok := envelope["message"].(string); ok && msg != "" {
			return msg
		}
	}
	return string(body)
}
