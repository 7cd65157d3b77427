package sales

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hms/portal/internal/platform/commerce"
)

// Workflow drives the cart -> invoice -> payment lifecycle for one operator
// session. The commerce API owns the state; the workflow keeps an optimistic
// projection of it and reconciles after every remote mutation.
//
// Every line mutation follows the same three-phase contract:
//
//  1. speculate: apply the change to the local projection so the screens
//     update without waiting for the network;
//  2. commit: transmit the change, lazily creating the cart first;
//  3. reconcile: re-fetch the authoritative cart and replace the projection
//     wholesale, whether or not the commit succeeded. The commit error, if
//     any, is returned after reconciliation.
//
// The mutex guards local state only. Remote calls run outside it, so
// overlapping operations may interleave; the last reconciliation observed
// wins, which is acceptable because every reconciliation carries the full
// authoritative cart.
type Workflow struct {
	sessionID string
	gateway   CommerceGateway
	refs      CartRefRepository
	events    SaleEventRepository
	logger    zerolog.Logger
	currency  string

	resumeOnce sync.Once

	mu          sync.Mutex
	cartID      string
	invoiceID   int64
	status      string
	store       *LineStore
	meta        SaleMeta
	checkingOut bool
	paying      bool
}

// NewWorkflow creates a workflow for the given session. Call Resume to pick
// up a persisted cart reference before serving requests.
func NewWorkflow(sessionID string, gateway CommerceGateway, refs CartRefRepository, events SaleEventRepository, currency string, logger zerolog.Logger) *Workflow {
	return &Workflow{
		sessionID: sessionID,
		gateway:   gateway,
		refs:      refs,
		events:    events,
		logger:    logger.With().Str("session_id", sessionID).Logger(),
		currency:  currency,
		status:    CartStatusAbsent,
		store:     NewLineStore(),
	}
}

// Resume loads the persisted cart reference for the session, if any, and
// reconciles against it so an in-progress sale survives a page reload or a
// different portal instance. It runs at most once per workflow; concurrent
// callers block until the first call completes, so no mutation can race the
// resume and shadow the persisted cart with a fresh one.
func (w *Workflow) Resume(ctx context.Context) {
	w.resumeOnce.Do(func() {
		cartID, err := w.refs.Get(ctx, w.sessionID)
		if err != nil {
			w.logger.Error().Err(err).Msg("failed to load persisted cart reference")
			return
		}
		if cartID == "" {
			return
		}

		w.mu.Lock()
		w.cartID = cartID
		w.status = CartStatusOpen
		w.mu.Unlock()

		w.Refresh(ctx)
	})
}

// StartSale captures the sale context for the next cart. The cart itself is
// created lazily when the first line is added.
func (w *Workflow) StartSale(ctx context.Context, meta SaleMeta) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.invoiceID != 0 {
		return ErrAlreadyInvoiced
	}
	if w.cartID != "" {
		return ErrSaleInProgress
	}
	if meta.Currency == "" {
		meta.Currency = w.currency
	}
	w.meta = meta
	return nil
}

// AddLine adds quantity units of an article to the sale.
func (w *Workflow) AddLine(ctx context.Context, articleID string, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}

	w.mu.Lock()
	if w.closed() {
		w.mu.Unlock()
		return ErrCartClosed
	}
	w.store.SpeculateAdd(articleID, quantity)
	w.mu.Unlock()

	cartID, commitErr := w.ensureCart(ctx)
	if commitErr == nil {
		commitErr = w.gateway.AddLine(ctx, cartID, articleID, quantity)
	} else {
		// The cart was never created, so the authoritative state is an
		// empty sale. Drop the speculated line; Refresh cannot correct a
		// projection that has no cart to fetch.
		w.mu.Lock()
		if w.cartID == "" {
			w.store.Clear()
		}
		w.mu.Unlock()
	}

	w.Refresh(ctx)
	return commitErr
}

// SetLineQuantity sets the absolute quantity of a cart line. A requested
// quantity below 1 is clamped to 1 before transmission; removal goes
// through RemoveLine, never through a zero quantity.
func (w *Workflow) SetLineQuantity(ctx context.Context, lineID int64, quantity int) error {
	if quantity < 1 {
		quantity = 1
	}

	w.mu.Lock()
	if w.closed() {
		w.mu.Unlock()
		return ErrCartClosed
	}
	if !w.store.SpeculateSetQuantity(lineID, quantity) {
		w.mu.Unlock()
		return ErrLineNotFound
	}
	w.mu.Unlock()

	var commitErr error
	if lineID > 0 {
		commitErr = w.gateway.UpdateLineQuantity(ctx, lineID, quantity)
	}
	// Placeholder lines (negative id) have no remote counterpart yet; the
	// reconciliation below resolves them to their confirmed ids.

	w.Refresh(ctx)
	return commitErr
}

// RemoveLine removes a cart line from the sale.
func (w *Workflow) RemoveLine(ctx context.Context, lineID int64) error {
	w.mu.Lock()
	if w.closed() {
		w.mu.Unlock()
		return ErrCartClosed
	}
	if !w.store.SpeculateRemove(lineID) {
		w.mu.Unlock()
		return ErrLineNotFound
	}
	w.mu.Unlock()

	var commitErr error
	if lineID > 0 {
		commitErr = w.gateway.DeleteLine(ctx, lineID)
	}

	w.Refresh(ctx)
	return commitErr
}

// Checkout converts the cart into an invoice. It is one-shot: once an
// invoice exists the sale can only move forward to payment.
func (w *Workflow) Checkout(ctx context.Context, reference string) (int64, error) {
	w.mu.Lock()
	if w.invoiceID != 0 {
		w.mu.Unlock()
		return 0, ErrAlreadyInvoiced
	}
	if w.checkingOut {
		w.mu.Unlock()
		return 0, ErrCheckoutInProgress
	}
	// The screens already disable checkout for an empty sale; the engine
	// rejects it too, so a stray request can never open an empty invoice
	// on the remote side.
	if w.cartID == "" || w.store.IsEmpty() {
		w.mu.Unlock()
		return 0, ErrEmptyCart
	}
	w.checkingOut = true
	cartID := w.cartID
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.checkingOut = false
		w.mu.Unlock()
	}()

	invoiceID, err := w.gateway.Checkout(ctx, cartID, reference)
	if err != nil {
		w.recordEvent(ctx, SaleEvent{
			Action:  EventActionCheckout,
			Outcome: EventOutcomeFailure,
			CartID:  cartID,
			Detail:  err.Error(),
		})
		w.Refresh(ctx)
		return 0, err
	}

	w.mu.Lock()
	w.invoiceID = invoiceID
	w.status = CartStatusCheckedOut
	w.mu.Unlock()

	w.recordEvent(ctx, SaleEvent{
		Action:    EventActionCheckout,
		Outcome:   EventOutcomeSuccess,
		CartID:    cartID,
		InvoiceID: invoiceID,
	})

	w.Refresh(ctx)
	return invoiceID, nil
}

// Pay records a payment against the sale's invoice. On success the whole
// workflow resets so the next sale starts with a brand-new cart; on failure
// every piece of state stays untouched so the operator can retry.
func (w *Workflow) Pay(ctx context.Context, amount int64, mode, reference string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if !validPaymentModes[mode] {
		return fmt.Errorf("%w: %q", ErrInvalidPaymentMode, mode)
	}

	w.mu.Lock()
	if w.invoiceID == 0 {
		w.mu.Unlock()
		return ErrNoInvoice
	}
	if w.paying {
		w.mu.Unlock()
		return ErrPaymentInProgress
	}
	w.paying = true
	invoiceID := w.invoiceID
	cartID := w.cartID
	currency := w.meta.Currency
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.paying = false
		w.mu.Unlock()
	}()

	if currency == "" {
		currency = w.currency
	}

	err := w.gateway.Pay(ctx, invoiceID, commerce.PaymentInput{
		Amount:    amount,
		Mode:      mode,
		Reference: reference,
		Currency:  currency,
	})
	if err != nil {
		w.recordEvent(ctx, SaleEvent{
			Action:    EventActionPayment,
			Outcome:   EventOutcomeFailure,
			CartID:    cartID,
			InvoiceID: invoiceID,
			Amount:    amount,
			Mode:      mode,
			Detail:    err.Error(),
		})
		return err
	}

	w.recordEvent(ctx, SaleEvent{
		Action:    EventActionPayment,
		Outcome:   EventOutcomeSuccess,
		CartID:    cartID,
		InvoiceID: invoiceID,
		Amount:    amount,
		Mode:      mode,
	})

	// Full reset: the sale is complete, the next one gets a fresh cart.
	w.mu.Lock()
	w.cartID = ""
	w.invoiceID = 0
	w.status = CartStatusAbsent
	w.store = NewLineStore()
	w.meta = SaleMeta{}
	w.mu.Unlock()

	if err := w.refs.Clear(ctx, w.sessionID); err != nil {
		w.logger.Error().Err(err).Msg("failed to clear persisted cart reference")
	}

	w.Refresh(ctx)
	return nil
}

// Refresh fetches the authoritative cart and replaces the local projection.
// It is a no-op when no cart exists. Fetch failures keep the current
// projection; a later reconciliation will correct it.
func (w *Workflow) Refresh(ctx context.Context) {
	w.mu.Lock()
	cartID := w.cartID
	w.mu.Unlock()
	if cartID == "" {
		return
	}

	cart, err := w.gateway.GetCart(ctx, cartID)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cartID != cartID {
		// The sale was reset while the fetch was in flight.
		return
	}
	if err != nil {
		w.logger.Warn().Err(err).Str("cart_id", cartID).Msg("cart reconciliation failed")
		return
	}
	w.store.Replace(cart)
	if cart.Status != "" {
		w.status = cart.Status
	}
}

// Snapshot returns the current workflow state for the sales screens.
func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	currency := w.meta.Currency
	if currency == "" {
		currency = w.currency
	}

	return Snapshot{
		CartID:            w.cartID,
		InvoiceID:         w.invoiceID,
		Status:            w.status,
		Currency:          currency,
		Lines:             w.store.Lines(),
		Count:             w.store.Count(),
		DistinctLineCount: w.store.DistinctLineCount(),
		TotalDue:          w.store.TotalDue(),
		CheckingOut:       w.checkingOut,
		Paying:            w.paying,
	}
}

// closed reports whether the cart can no longer be mutated. Callers hold the
// mutex.
func (w *Workflow) closed() bool {
	return w.invoiceID != 0 || w.status == CartStatusCheckedOut
}

// ensureCart returns the current cart id, creating and persisting a new cart
// when none exists yet.
func (w *Workflow) ensureCart(ctx context.Context) (string, error) {
	w.mu.Lock()
	if w.cartID != "" {
		id := w.cartID
		w.mu.Unlock()
		return id, nil
	}
	meta := w.meta
	w.mu.Unlock()

	if meta.Currency == "" {
		meta.Currency = w.currency
	}

	id, err := w.gateway.CreateCart(ctx, commerce.CreateCartInput{
		PatientID: meta.PatientID,
		VisitID:   meta.VisitID,
		Customer:  meta.Customer,
		Currency:  meta.Currency,
	})
	if err != nil {
		return "", err
	}

	w.mu.Lock()
	if w.cartID == "" {
		w.cartID = id
		w.status = CartStatusOpen
	} else {
		// A concurrent mutation won the race; adopt its cart.
		id = w.cartID
	}
	w.mu.Unlock()

	if err := w.refs.Save(ctx, w.sessionID, id); err != nil {
		w.logger.Error().Err(err).Str("cart_id", id).Msg("failed to persist cart reference")
	}
	return id, nil
}

// recordEvent appends to the billing trail. Persistence failures are logged,
// never surfaced; the sale itself must not fail because the trail is down.
func (w *Workflow) recordEvent(ctx context.Context, ev SaleEvent) {
	ev.SessionID = w.sessionID
	if err := w.events.Record(ctx, &ev); err != nil {
		w.logger.Error().Err(err).
			Str("action", ev.Action).
			Str("outcome", ev.Outcome).
			Msg("failed to record sale event")
	}
}
