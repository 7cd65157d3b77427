package sales

import (
	"context"

	"github.com/hms/portal/internal/platform/commerce"
)

// CommerceGateway is the slice of the commerce API the workflow depends on.
// The production implementation is *commerce.Client; tests substitute a stub.
type CommerceGateway interface {
	CreateCart(ctx context.Context, input commerce.CreateCartInput) (string, error)
	GetCart(ctx context.Context, cartID string) (*commerce.Cart, error)
	AddLine(ctx context.Context, cartID, articleID string, quantity int) error
	UpdateLineQuantity(ctx context.Context, lineID int64, quantity int) error
	DeleteLine(ctx context.Context, lineID int64) error
	Checkout(ctx context.Context, cartID, reference string) (int64, error)
	Pay(ctx context.Context, invoiceID int64, input commerce.PaymentInput) error
}

// CartRefRepository persists the session -> open cart binding.
type CartRefRepository interface {
	// Get returns the cart id bound to the session, or "" when none exists.
	Get(ctx context.Context, sessionID string) (string, error)
	Save(ctx context.Context, sessionID, cartID string) error
	Clear(ctx context.Context, sessionID string) error
}

// SaleEventRepository persists the billing trail.
type SaleEventRepository interface {
	Record(ctx context.Context, event *SaleEvent) error
	ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*SaleEvent, int, error)
}
