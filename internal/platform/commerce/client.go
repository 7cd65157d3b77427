package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to the remote commerce API that owns carts, invoices and
// payments. The portal holds no commerce state of its own; every mutation
// goes through this client and the authoritative result is read back.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a commerce API client. baseURL is the API root without a
// trailing slash; apiKey may be empty when the API sits inside the trusted
// network.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// Cart is the authoritative cart aggregate as the commerce API reports it.
// All amounts are integer minor units of the cart currency.
type Cart struct {
	ID       string     `json:"id"`
	Status   string     `json:"status"`
	Currency string     `json:"currency"`
	Lines    []CartLine `json:"lines"`
	TotalTTC int64      `json:"total_ttc"`
}

// CartLine is a single article position on a cart, with the server-computed
// tax breakdown.
type CartLine struct {
	ID        int64   `json:"id"`
	ArticleID string  `json:"article_id"`
	Label     string  `json:"label"`
	Quantity  int     `json:"quantity"`
	UnitPrice int64   `json:"unit_price"`
	TaxRate   float64 `json:"tax_rate"`
	TotalHT   int64   `json:"total_ht"`
	TotalTax  int64   `json:"total_tax"`
	TotalTTC  int64   `json:"total_ttc"`
}

// CreateCartInput carries the optional sale context for a new cart.
type CreateCartInput struct {
	PatientID string `json:"patient_id,omitempty"`
	VisitID   string `json:"visit_id,omitempty"`
	Customer  string `json:"customer,omitempty"`
	Currency  string `json:"currency,omitempty"`
}

// PaymentInput describes a payment against an invoice. Amount is in integer
// minor units.
type PaymentInput struct {
	Amount    int64  `json:"amount"`
	Mode      string `json:"mode"`
	Reference string `json:"reference,omitempty"`
	Currency  string `json:"currency,omitempty"`
}

// APIError is a non-2xx response from the commerce API. Message carries the
// remote rejection reason verbatim so it can be surfaced to the operator.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("commerce api: %s (status %d)", e.Message, e.Status)
}

// CreateCart opens a new cart and returns its id.
func (c *Client) CreateCart(ctx context.Context, input CreateCartInput) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/carts", input, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("commerce api: create cart response missing id")
	}
	return out.ID, nil
}

// GetCart fetches the full authoritative cart aggregate.
func (c *Client) GetCart(ctx context.Context, cartID string) (*Cart, error) {
	cart := &Cart{}
	if err := c.do(ctx, http.MethodGet, "/carts/"+cartID, nil, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// AddLine adds quantity units of an article to the cart. The commerce API
// merges into an existing line of the same article itself.
func (c *Client) AddLine(ctx context.Context, cartID, articleID string, quantity int) error {
	body := map[string]interface{}{
		"article_id": articleID,
		"quantity":   quantity,
	}
	return c.do(ctx, http.MethodPost, "/carts/"+cartID+"/lines", body, nil)
}

// UpdateLineQuantity sets the absolute quantity of an existing cart line.
func (c *Client) UpdateLineQuantity(ctx context.Context, lineID int64, quantity int) error {
	body := map[string]interface{}{
		"quantity": quantity,
	}
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/lines/%d", lineID), body, nil)
}

// DeleteLine removes a cart line.
func (c *Client) DeleteLine(ctx context.Context, lineID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/lines/%d", lineID), nil, nil)
}

// Checkout converts the cart into an invoice and returns the invoice id.
// Checkout is one-way; the cart is closed for mutation afterwards.
func (c *Client) Checkout(ctx context.Context, cartID, reference string) (int64, error) {
	body := map[string]interface{}{}
	if reference != "" {
		body["reference"] = reference
	}
	var out struct {
		FactureID int64 `json:"facture_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/carts/"+cartID+"/checkout", body, &out); err != nil {
		return 0, err
	}
	if out.FactureID == 0 {
		return 0, fmt.Errorf("commerce api: checkout response missing facture_id")
	}
	return out.FactureID, nil
}

// Pay records a payment against an invoice.
func (c *Client) Pay(ctx context.Context, invoiceID int64, input PaymentInput) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/factures/%d/payments", invoiceID), input, nil)
}

// do executes one request against the commerce API. Non-2xx responses become
// *APIError; transport failures propagate as-is.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			Status:  resp.StatusCode,
			Message: extractMessage(respBody, resp.StatusCode),
		}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response body: %w", err)
		}
	}
	return nil
}

// extractMessage pulls the human-readable rejection reason out of an error
// payload, looking at the message field first, then error, then falling back
// to a generic description of the status.
func extractMessage(body []byte, status int) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return fmt.Sprintf("request rejected with status %d", status)
}
