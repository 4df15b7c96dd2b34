package payments

import (
	"context"
	"fmt"
	"math"
	"time"

	"salesbot/config"

	"github.com/go-resty/resty/v2"
)

// Payment is the authoritative provider-side record. Webhook bodies are never
// trusted for amount or status; this is what we fetch instead.
type Payment struct {
	ID         string
	Status     string
	Amount     int64
	Currency   string
	PayerEmail string
	TenantID   string
	ProductID  int64
	Quantity   int
	Raw        []byte
}

// Provider is the payment provider API, called with tenant-specific credentials.
type Provider interface {
	GetPayment(ctx context.Context, accessToken, paymentID string) (*Payment, error)
	CreatePreference(ctx context.Context, accessToken string, pref PreferenceRequest) (string, error)
}

// PreferenceRequest describes one hosted-checkout link to create.
type PreferenceRequest struct {
	TenantID    string
	ProductID   int64
	Title       string
	Quantity    int
	UnitPrice   int64
	Currency    string
	PayerEmail  string
	ExternalRef string
}

// ProviderClient talks to the hosted payment provider's REST API.
type ProviderClient struct {
	http *resty.Client
}

func NewProviderClient(cfg config.PaymentConfig) *ProviderClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ProviderClient{
		http: resty.New().SetBaseURL(cfg.BaseURL).SetTimeout(timeout),
	}
}

type providerPayment struct {
	ID                int64   `json:"id"`
	Status            string  `json:"status"`
	TransactionAmount float64 `json:"transaction_amount"`
	CurrencyID        string  `json:"currency_id"`
	Payer             struct {
		Email string `json:"email"`
	} `json:"payer"`
	Metadata struct {
		TenantID  string `json:"tenant_id"`
		ProductID int64  `json:"product_id"`
		Quantity  int    `json:"quantity"`
	} `json:"metadata"`
}

// GetPayment fetches the payment with the tenant's own credentials.
func (c *ProviderClient) GetPayment(ctx context.Context, accessToken, paymentID string) (*Payment, error) {
	var result providerPayment
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetResult(&result).
		Get(fmt.Sprintf("/v1/payments/%s", paymentID))
	if err != nil {
		return nil, fmt.Errorf("payment lookup failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("payment lookup failed: status %d", resp.StatusCode())
	}

	quantity := result.Metadata.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	return &Payment{
		ID:         fmt.Sprintf("%d", result.ID),
		Status:     result.Status,
		Amount:     int64(math.Round(result.TransactionAmount * 100)),
		Currency:   result.CurrencyID,
		PayerEmail: result.Payer.Email,
		TenantID:   result.Metadata.TenantID,
		ProductID:  result.Metadata.ProductID,
		Quantity:   quantity,
		Raw:        resp.Body(),
	}, nil
}

type preferenceResponse struct {
	InitPoint string `json:"init_point"`
}

// CreatePreference creates a hosted checkout link for one catalog item.
func (c *ProviderClient) CreatePreference(ctx context.Context, accessToken string, pref PreferenceRequest) (string, error) {
	body := map[string]interface{}{
		"items": []map[string]interface{}{{
			"title":       pref.Title,
			"quantity":    pref.Quantity,
			"unit_price":  float64(pref.UnitPrice) / 100,
			"currency_id": pref.Currency,
		}},
		"metadata": map[string]interface{}{
			"tenant_id":  pref.TenantID,
			"product_id": pref.ProductID,
			"quantity":   pref.Quantity,
		},
		"external_reference": pref.ExternalRef,
	}
	if pref.PayerEmail != "" {
		body["payer"] = map[string]string{"email": pref.PayerEmail}
	}

	var result preferenceResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetBody(body).
		SetResult(&result).
		Post("/checkout/preferences")
	if err != nil {
		return "", fmt.Errorf("preference creation failed: %w", err)
	}
	if resp.IsError() || result.InitPoint == "" {
		return "", fmt.Errorf("preference creation failed: status %d", resp.StatusCode())
	}
	return result.InitPoint, nil
}
