package sales

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Cart lifecycle states mirrored from the commerce API. The lifecycle is
// one-way: absent -> open -> checked_out -> absent (after payment).
const (
	CartStatusAbsent     = "absent"
	CartStatusOpen       = "open"
	CartStatusCheckedOut = "checked_out"
)

// Workflow errors surfaced to the HTTP layer.
var (
	ErrCartClosed         = errors.New("cart is checked out and can no longer be modified")
	ErrAlreadyInvoiced    = errors.New("sale has already been invoiced")
	ErrSaleInProgress     = errors.New("a sale is already in progress for this session")
	ErrEmptyCart          = errors.New("cannot checkout an empty cart")
	ErrCheckoutInProgress = errors.New("a checkout is already in progress")
	ErrPaymentInProgress  = errors.New("a payment is already in progress")
	ErrNoInvoice          = errors.New("no invoice to pay; checkout first")
	ErrInvalidQuantity    = errors.New("quantity must be at least 1")
	ErrInvalidAmount      = errors.New("payment amount must be positive")
	ErrInvalidPaymentMode = errors.New("unknown payment mode")
	ErrLineNotFound       = errors.New("cart line not found")
)

var validPaymentModes = map[string]bool{
	"cash":         true,
	"mobile-money": true,
	"card":         true,
	"cheque":       true,
}

// Line is the local projection of one cart line. Amounts are integer minor
// units; the tax breakdown is computed by the commerce API and zero until
// the first reconciliation confirms the line.
type Line struct {
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

// SaleMeta is the sale context captured when the operator starts a sale.
// It is held locally until the first line forces the cart into existence.
type SaleMeta struct {
	PatientID string `json:"patient_id,omitempty"`
	VisitID   string `json:"visit_id,omitempty"`
	Customer  string `json:"customer,omitempty"`
	Currency  string `json:"currency,omitempty"`
}

// Snapshot is the workflow state exposed to the sales screens.
type Snapshot struct {
	CartID            string `json:"cart_id,omitempty"`
	InvoiceID         int64  `json:"invoice_id,omitempty"`
	Status            string `json:"status"`
	Currency          string `json:"currency"`
	Lines             []Line `json:"lines"`
	Count             int    `json:"count"`
	DistinctLineCount int    `json:"distinct_line_count"`
	TotalDue          int64  `json:"total_due"`
	CheckingOut       bool   `json:"checking_out"`
	Paying            bool   `json:"paying"`
}

// Sale event actions and outcomes recorded in the billing trail.
const (
	EventActionCheckout = "checkout"
	EventActionPayment  = "payment"

	EventOutcomeSuccess = "success"
	EventOutcomeFailure = "failure"
)

// SaleEvent is one entry in the persisted billing trail. Checkout and
// payment attempts are recorded with their outcome so disputes can be
// reconstructed later.
type SaleEvent struct {
	ID        uuid.UUID `json:"id"`
	SessionID string    `json:"session_id"`
	Action    string    `json:"action"`
	Outcome   string    `json:"outcome"`
	CartID    string    `json:"cart_id,omitempty"`
	InvoiceID int64     `json:"invoice_id,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	Mode      string    `json:"mode,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
