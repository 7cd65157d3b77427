package sales

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type cartRefRepoPG struct{ pool *pgxpool.Pool }

func NewCartRefRepoPG(pool *pgxpool.Pool) CartRefRepository {
	return &cartRefRepoPG{pool: pool}
}

func (r *cartRefRepoPG) Get(ctx context.Context, sessionID string) (string, error) {
	var cartID string
	err := r.pool.QueryRow(ctx,
		`SELECT cart_id FROM sale_cart_ref WHERE session_id = $1`, sessionID).Scan(&cartID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return cartID, nil
}

func (r *cartRefRepoPG) Save(ctx context.Context, sessionID, cartID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sale_cart_ref (session_id, cart_id, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (session_id) DO UPDATE SET cart_id = $2, updated_at = NOW()`,
		sessionID, cartID)
	return err
}

func (r *cartRefRepoPG) Clear(ctx context.Context, sessionID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM sale_cart_ref WHERE session_id = $1`, sessionID)
	return err
}

type saleEventRepoPG struct{ pool *pgxpool.Pool }

func NewSaleEventRepoPG(pool *pgxpool.Pool) SaleEventRepository {
	return &saleEventRepoPG{pool: pool}
}

const eventCols = `id, session_id, action, outcome, cart_id, invoice_id,
	amount, mode, detail, created_at`

func scanEvent(row pgx.Row) (*SaleEvent, error) {
	var ev SaleEvent
	err := row.Scan(&ev.ID, &ev.SessionID, &ev.Action, &ev.Outcome,
		&ev.CartID, &ev.InvoiceID, &ev.Amount, &ev.Mode, &ev.Detail, &ev.CreatedAt)
	return &ev, err
}

func (r *saleEventRepoPG) Record(ctx context.Context, ev *SaleEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sale_event (id, session_id, action, outcome, cart_id, invoice_id,
			amount, mode, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		ev.ID, ev.SessionID, ev.Action, ev.Outcome, ev.CartID, ev.InvoiceID,
		ev.Amount, ev.Mode, ev.Detail, ev.CreatedAt)
	return err
}

func (r *saleEventRepoPG) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*SaleEvent, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sale_event WHERE session_id = $1`, sessionID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+eventCols+` FROM sale_event WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		sessionID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*SaleEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, ev)
	}
	return items, total, rows.Err()
}
