package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hms/portal/internal/domain/sales"
	"github.com/hms/portal/internal/platform/commerce"
)

// fakeCommerceServer is an in-memory stand-in for the remote commerce API,
// served over HTTP so the real client codepath gets exercised.
type fakeCommerceServer struct {
	mu       sync.Mutex
	carts    map[string]*commerce.Cart
	invoices map[int64]string
	cartSeq  int
	lineSeq  int64
	invSeq   int64
}

func newFakeCommerceServer() *fakeCommerceServer {
	return &fakeCommerceServer{
		carts:    make(map[string]*commerce.Cart),
		invoices: make(map[int64]string),
		invSeq:   100,
	}
}

const fakeUnitPrice = 1000

func (f *fakeCommerceServer) recompute(cart *commerce.Cart) {
	cart.TotalTTC = 0
	for i := range cart.Lines {
		l := &cart.Lines[i]
		l.TotalHT = l.UnitPrice * int64(l.Quantity)
		l.TotalTax = l.TotalHT / 5
		l.TotalTTC = l.TotalHT + l.TotalTax
		cart.TotalTTC += l.TotalTTC
	}
}

func (f *fakeCommerceServer) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /carts", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.cartSeq++
		id := fmt.Sprintf("cart-%d", f.cartSeq)
		f.carts[id] = &commerce.Cart{ID: id, Status: "open", Currency: "XAF"}
		json.NewEncoder(w).Encode(map[string]string{"id": id})
	})

	mux.HandleFunc("GET /carts/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		cart, ok := f.carts[r.PathValue("id")]
		if !ok {
			http.Error(w, `{"message":"cart not found"}`, http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(cart)
	})

	mux.HandleFunc("POST /carts/{id}/lines", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		cart, ok := f.carts[r.PathValue("id")]
		if !ok || cart.Status != "open" {
			http.Error(w, `{"message":"cart closed"}`, http.StatusConflict)
			return
		}
		var in struct {
			ArticleID string `json:"article_id"`
			Quantity  int    `json:"quantity"`
		}
		json.NewDecoder(r.Body).Decode(&in)
		for i := range cart.Lines {
			if cart.Lines[i].ArticleID == in.ArticleID {
				cart.Lines[i].Quantity += in.Quantity
				f.recompute(cart)
				w.WriteHeader(http.StatusCreated)
				return
			}
		}
		f.lineSeq++
		cart.Lines = append(cart.Lines, commerce.CartLine{
			ID:        f.lineSeq,
			ArticleID: in.ArticleID,
			Label:     in.ArticleID,
			Quantity:  in.Quantity,
			UnitPrice: fakeUnitPrice,
		})
		f.recompute(cart)
		w.WriteHeader(http.StatusCreated)
	})

	mux.HandleFunc("PATCH /lines/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		lineID, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		var in struct {
			Quantity int `json:"quantity"`
		}
		json.NewDecoder(r.Body).Decode(&in)
		for _, cart := range f.carts {
			for i := range cart.Lines {
				if cart.Lines[i].ID == lineID {
					cart.Lines[i].Quantity = in.Quantity
					f.recompute(cart)
					w.WriteHeader(http.StatusOK)
					return
				}
			}
		}
		http.Error(w, `{"message":"line not found"}`, http.StatusNotFound)
	})

	mux.HandleFunc("DELETE /lines/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		lineID, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		for _, cart := range f.carts {
			for i := range cart.Lines {
				if cart.Lines[i].ID == lineID {
					cart.Lines = append(cart.Lines[:i], cart.Lines[i+1:]...)
					f.recompute(cart)
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
		}
		http.Error(w, `{"message":"line not found"}`, http.StatusNotFound)
	})

	mux.HandleFunc("POST /carts/{id}/checkout", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		cart, ok := f.carts[r.PathValue("id")]
		if !ok || cart.Status != "open" {
			http.Error(w, `{"message":"cart closed"}`, http.StatusConflict)
			return
		}
		cart.Status = "checked_out"
		f.invSeq++
		f.invoices[f.invSeq] = cart.ID
		json.NewEncoder(w).Encode(map[string]int64{"facture_id": f.invSeq})
	})

	mux.HandleFunc("POST /factures/{id}/payments", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		invID, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if _, ok := f.invoices[invID]; !ok {
			http.Error(w, `{"message":"invoice not found"}`, http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})

	return mux
}

func newSalesService(t *testing.T) (*sales.Service, *fakeCommerceServer) {
	t.Helper()
	fake := newFakeCommerceServer()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	client := commerce.NewClient(srv.URL, "test-key", 5*time.Second)
	refs := sales.NewCartRefRepoPG(globalDB.Pool)
	events := sales.NewSaleEventRepoPG(globalDB.Pool)
	svc := sales.NewService(client, refs, events, "XAF", zerolog.New(os.Stderr))
	return svc, fake
}

func TestSalesFlow_EndToEnd(t *testing.T) {
	ctx := context.Background()
	truncateSalesTables(t, ctx)
	svc, _ := newSalesService(t)
	sessionID := uniqueSessionID("flow")

	wf := svc.Workflow(ctx, sessionID)

	if err := wf.AddLine(ctx, "paracetamol-500", 2); err != nil {
		t.Fatalf("add line: %v", err)
	}
	if err := wf.AddLine(ctx, "amoxicillin-250", 1); err != nil {
		t.Fatalf("add line: %v", err)
	}

	snap := wf.Snapshot()
	if snap.CartID == "" {
		t.Fatal("expected a live cart after the first line")
	}
	if snap.Count != 3 || snap.DistinctLineCount != 2 {
		t.Errorf("expected 3 units across 2 lines, got %+v", snap)
	}
	if snap.TotalDue == 0 {
		t.Error("expected a server-computed total")
	}

	// The cart reference must be durable across workflow instances.
	var storedCart string
	err := globalDB.Pool.QueryRow(ctx,
		`SELECT cart_id FROM sale_cart_ref WHERE session_id = $1`, sessionID).Scan(&storedCart)
	if err != nil {
		t.Fatalf("read cart ref: %v", err)
	}
	if storedCart != snap.CartID {
		t.Errorf("persisted cart ref %s does not match live cart %s", storedCart, snap.CartID)
	}

	invoiceID, err := wf.Checkout(ctx, "visit-123")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if invoiceID == 0 {
		t.Fatal("expected a non-zero invoice id")
	}
	if got := wf.Snapshot().Status; got != sales.CartStatusCheckedOut {
		t.Errorf("expected checked_out after checkout, got %s", got)
	}

	due := wf.Snapshot().TotalDue
	if err := wf.Pay(ctx, due, "cash", "receipt-1"); err != nil {
		t.Fatalf("pay: %v", err)
	}

	snap = wf.Snapshot()
	if snap.CartID != "" || snap.InvoiceID != 0 || snap.Count != 0 {
		t.Errorf("expected a fully reset sale after payment, got %+v", snap)
	}
	if snap.Status != sales.CartStatusAbsent {
		t.Errorf("expected absent cart after payment, got %s", snap.Status)
	}

	// The cart ref must be gone so the next sale opens a fresh cart.
	var refCount int
	globalDB.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sale_cart_ref WHERE session_id = $1`, sessionID).Scan(&refCount)
	if refCount != 0 {
		t.Errorf("expected cart ref cleared after payment, found %d rows", refCount)
	}

	// Checkout and payment successes must be on the event trail.
	items, total, err := svc.ListEvents(ctx, sessionID, 10, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 events, got %d", total)
	}
	actions := map[string]bool{}
	for _, ev := range items {
		if ev.Outcome != sales.EventOutcomeSuccess {
			t.Errorf("expected success outcome, got %s for %s", ev.Outcome, ev.Action)
		}
		actions[ev.Action] = true
	}
	if !actions[sales.EventActionCheckout] || !actions[sales.EventActionPayment] {
		t.Errorf("expected checkout and payment events, got %v", actions)
	}
}

func TestSalesFlow_ResumeAcrossServiceRestart(t *testing.T) {
	ctx := context.Background()
	truncateSalesTables(t, ctx)
	svc, fake := newSalesService(t)
	sessionID := uniqueSessionID("resume")

	wf := svc.Workflow(ctx, sessionID)
	if err := wf.AddLine(ctx, "ibuprofen-400", 4); err != nil {
		t.Fatalf("add line: %v", err)
	}
	cartID := wf.Snapshot().CartID

	// Rebuild the service against the same database and fake API, as a
	// process restart would.
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	client := commerce.NewClient(srv.URL, "test-key", 5*time.Second)
	refs := sales.NewCartRefRepoPG(globalDB.Pool)
	events := sales.NewSaleEventRepoPG(globalDB.Pool)
	restarted := sales.NewService(client, refs, events, "XAF", zerolog.New(os.Stderr))

	wf2 := restarted.Workflow(ctx, sessionID)
	snap := wf2.Snapshot()
	if snap.CartID != cartID {
		t.Errorf("expected resumed cart %s, got %s", cartID, snap.CartID)
	}
	if snap.Count != 4 {
		t.Errorf("expected 4 units after resume, got %d", snap.Count)
	}
}

func TestSaleEventRepo_PaginationAndOrdering(t *testing.T) {
	ctx := context.Background()
	truncateSalesTables(t, ctx)
	events := sales.NewSaleEventRepoPG(globalDB.Pool)
	sessionID := uniqueSessionID("events")

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		ev := &sales.SaleEvent{
			SessionID: sessionID,
			Action:    sales.EventActionCheckout,
			Outcome:   sales.EventOutcomeSuccess,
			Detail:    fmt.Sprintf("event-%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := events.Record(ctx, ev); err != nil {
			t.Fatalf("record event: %v", err)
		}
	}

	items, total, err := events.ListBySession(ctx, sessionID, 2, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if total != 5 {
		t.Errorf("expected total 5, got %d", total)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items on the first page, got %d", len(items))
	}
	// Newest first.
	if !strings.HasSuffix(items[0].Detail, "4") || !strings.HasSuffix(items[1].Detail, "3") {
		t.Errorf("expected newest-first ordering, got %s then %s", items[0].Detail, items[1].Detail)
	}

	items, _, err = events.ListBySession(ctx, sessionID, 2, 4)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(items) != 1 || !strings.HasSuffix(items[0].Detail, "0") {
		t.Errorf("expected the oldest event on the last page, got %+v", items)
	}
}

func TestCartRefRepo_UpsertAndClear(t *testing.T) {
	ctx := context.Background()
	truncateSalesTables(t, ctx)
	refs := sales.NewCartRefRepoPG(globalDB.Pool)
	sessionID := uniqueSessionID("refs")

	got, err := refs.Get(ctx, sessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "" {
		t.Errorf("expected no ref for a fresh session, got %q", got)
	}

	if err := refs.Save(ctx, sessionID, "cart-a"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := refs.Save(ctx, sessionID, "cart-b"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, _ = refs.Get(ctx, sessionID)
	if got != "cart-b" {
		t.Errorf("expected upserted cart-b, got %q", got)
	}

	if err := refs.Clear(ctx, sessionID); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, _ = refs.Get(ctx, sessionID)
	if got != "" {
		t.Errorf("expected cleared ref, got %q", got)
	}
}
