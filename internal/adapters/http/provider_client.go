package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/waluebiz/whatsapp-crm-service/internal/domain"
	"github.com/waluebiz/whatsapp-crm-service/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ProviderAPI is the outbound surface of the WhatsApp platform provider.
// Services depend on this interface; tests substitute a stub.
type ProviderAPI interface {
	SendTemplate(ctx context.Context, to, templateName string, parameters []string) (*ProviderResponse, error)
	SendText(ctx context.Context, to, body string) (*ProviderResponse, error)
	RequestCallPermission(ctx context.Context, to string) (*ProviderResponse, error)
	InitiateCall(ctx context.Context, to string) (*ProviderResponse, error)
	EndCall(ctx context.Context, callSessionID string) (*ProviderResponse, error)
	GetMessageStatus(ctx context.Context, messageID string) (*ProviderResponse, error)
	ListTemplates(ctx context.Context) ([]ProviderTemplate, error)
	ReportUsage(ctx context.Context, report *UsageReport) error
}

// ProviderResponse is the normalized result of a provider API call
type ProviderResponse struct {
	Success       bool    `json:"success"`
	MessageID     string  `json:"message_id,omitempty"`
	CallSessionID string  `json:"call_session_id,omitempty"`
	Status        string  `json:"status,omitempty"`
	Cost          float64 `json:"cost,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// ProviderTemplate is one template entry from the provider's template listing
type ProviderTemplate struct {
	Name       string          `json:"name"`
	Category   string          `json:"category"`
	Language   string          `json:"language"`
	Status     string          `json:"status"`
	Components json.RawMessage `json:"components,omitempty"`
}

// UsageReport is the hourly usage summary pushed to the provider
type UsageReport struct {
	PeriodStart          time.Time `json:"period_start"`
	PeriodEnd            time.Time `json:"period_end"`
	CallCount            int64     `json:"call_count"`
	CallDurationSeconds  int64     `json:"call_duration_seconds"`
	OutboundMessageCount int64     `json:"outbound_message_count"`
}

// ProviderClient handles communication with the provider platform API
type ProviderClient struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client

	// limiter throttles outbound provider calls; the platform enforces
	// per-client quotas and rejects bursts.
	limiter *rate.Limiter
}

// NewProviderClient creates a new provider API client
func NewProviderClient(baseURL, clientID, clientSecret string, timeout time.Duration) *ProviderClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := &ProviderClient{
		BaseURL:      baseURL,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}

	if baseURL == "" {
		logger.Base().Warn("Provider base URL not configured, outbound calls will fail")
	}

	return client
}

// mintToken generates a short-lived HS256 bearer token for provider requests
func (c *ProviderClient) mintToken() (string, error) {
	if c.ClientSecret == "" {
		return "", fmt.Errorf("provider client secret not configured")
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"clientId": c.ClientID,
		"iss":      "whatsapp-crm-service",
		"iat":      now.Unix(),
		"exp":      now.Add(5 * time.Minute).Unix(),
	})

	tokenString, err := token.SignedString([]byte(c.ClientSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign provider token: %w", err)
	}
	return tokenString, nil
}

// doJSON performs one authenticated provider request and decodes the
// normalized response envelope. Network and HTTP-level failures come back as
// domain.ErrTransportFailure so callers can mark records failed.
func (c *ProviderClient) doJSON(ctx context.Context, method, path string, payload interface{}) (*ProviderResponse, error) {
	body, err := c.doRaw(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}

	var response ProviderResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, domain.Rejectf(domain.ErrTransportFailure, "failed to decode provider response: %v", err)
	}
	return &response, nil
}

func (c *ProviderClient) doRaw(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	if c.BaseURL == "" {
		return nil, domain.Reject(domain.ErrTransportFailure, "provider base URL not configured")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, domain.Rejectf(domain.ErrTransportFailure, "rate limiter wait aborted: %v", err)
	}

	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	token, err := c.mintToken()
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, domain.Rejectf(domain.ErrTransportFailure, "provider request failed: %v", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Rejectf(domain.ErrTransportFailure, "failed to read provider response: %v", err)
	}

	if resp.StatusCode >= 500 {
		logger.Base().Error("Provider API server error",
			zap.String("path", path),
			zap.Int("status_code", resp.StatusCode),
			zap.String("body", string(bodyBytes)))
		return nil, domain.Rejectf(domain.ErrTransportFailure, "provider returned status %d", resp.StatusCode)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, domain.Rejectf(domain.ErrAuthenticationFailure, "provider rejected credentials: status %d", resp.StatusCode)
	}

	logger.Base().Debug("Provider API response",
		zap.String("path", path),
		zap.Int("status_code", resp.StatusCode))

	return bodyBytes, nil
}

// SendTemplate sends a template message through the provider
func (c *ProviderClient) SendTemplate(ctx context.Context, to, templateName string, parameters []string) (*ProviderResponse, error) {
	payload := map[string]interface{}{
		"to":            to,
		"template_name": templateName,
		"parameters":    parameters,
	}
	return c.doJSON(ctx, http.MethodPost, "/api/v1/whatsapp/messages/template", payload)
}

// SendText sends a free-form text message through the provider
func (c *ProviderClient) SendText(ctx context.Context, to, body string) (*ProviderResponse, error) {
	payload := map[string]interface{}{
		"to":   to,
		"body": body,
	}
	return c.doJSON(ctx, http.MethodPost, "/api/v1/whatsapp/messages/text", payload)
}

// RequestCallPermission sends a call permission request message to the user
func (c *ProviderClient) RequestCallPermission(ctx context.Context, to string) (*ProviderResponse, error) {
	path := fmt.Sprintf("/api/v1/whatsapp/calls/call-permission-request/%s", url.PathEscape(to))
	return c.doJSON(ctx, http.MethodPost, path, nil)
}

// InitiateCall starts an outbound call to the user
func (c *ProviderClient) InitiateCall(ctx context.Context, to string) (*ProviderResponse, error) {
	path := fmt.Sprintf("/api/v1/whatsapp/calls/outbound-call/%s", url.PathEscape(to))
	return c.doJSON(ctx, http.MethodPost, path, nil)
}

// EndCall terminates an in-progress call session
func (c *ProviderClient) EndCall(ctx context.Context, callSessionID string) (*ProviderResponse, error) {
	path := fmt.Sprintf("/api/v1/whatsapp/calls/%s/terminate", url.PathEscape(callSessionID))
	return c.doJSON(ctx, http.MethodPost, path, nil)
}

// GetMessageStatus fetches the current delivery status of a message. Used by
// the poll fallback when status webhooks go missing.
func (c *ProviderClient) GetMessageStatus(ctx context.Context, messageID string) (*ProviderResponse, error) {
	path := fmt.Sprintf("/api/v1/whatsapp/messages/%s/status", url.PathEscape(messageID))
	return c.doJSON(ctx, http.MethodGet, path, nil)
}

// ListTemplates fetches the WABA's message templates from the provider
func (c *ProviderClient) ListTemplates(ctx context.Context) ([]ProviderTemplate, error) {
	body, err := c.doRaw(ctx, http.MethodGet, "/api/v1/whatsapp/templates", nil)
	if err != nil {
		return nil, err
	}

	var response struct {
		Success   bool               `json:"success"`
		Templates []ProviderTemplate `json:"templates"`
		Error     string             `json:"error,omitempty"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, domain.Rejectf(domain.ErrTransportFailure, "failed to decode template listing: %v", err)
	}
	if !response.Success {
		return nil, domain.Rejectf(domain.ErrTransportFailure, "provider template listing failed: %s", response.Error)
	}
	return response.Templates, nil
}

// ReportUsage pushes an hourly usage summary to the provider
func (c *ProviderClient) ReportUsage(ctx context.Context, report *UsageReport) error {
	resp, err := c.doJSON(ctx, http.MethodPost, "/api/v1/usage/report", report)
	if err != nil {
		return err
	}
	if !resp.Success {
		return domain.Rejectf(domain.ErrTransportFailure, "provider usage report failed: %s", resp.Error)
	}
	return nil
}
