package reconcile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"counterpos/backend/internal/domain"
)

var ErrNotFound = errors.New("failed sale not found")

const DefaultPath = "counterpos-reconcile.db"

// Fixed-width timestamps so failed_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type row struct {
	BillNumber string         `db:"bill_number"`
	TerminalID string         `db:"terminal_id"`
	Draft      string         `db:"draft"`
	Error      string         `db:"error"`
	Attempts   int            `db:"attempts"`
	FailedAt   string         `db:"failed_at"`
	ResolvedAt sql.NullString `db:"resolved_at"`
}

type Journal struct {
	db  *sqlx.DB
	now func() time.Time
}

func Open(path string) (*Journal, error) {
	if path == "" {
		path = DefaultPath
	}
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open reconcile journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Journal{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func migrate(db *sqlx.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS failed_sales (
            bill_number TEXT PRIMARY KEY,
            terminal_id TEXT NOT NULL,
            draft TEXT NOT NULL,
            error TEXT NOT NULL,
            attempts INTEGER NOT NULL DEFAULT 1,
            failed_at TEXT NOT NULL,
            resolved_at TEXT
        );`,
		`CREATE INDEX IF NOT EXISTS idx_failed_sales_pending ON failed_sales(resolved_at, failed_at);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate reconcile journal: %w", err)
		}
	}
	return nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// SaleFailed journals a rejected sale. A bill number that fails again has
// its attempt count bumped and is reopened.
func (j *Journal) SaleFailed(ctx context.Context, draft domain.CheckoutDraft, cause error) error {
	payload, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("encode draft %s: %w", draft.BillNumber, err)
	}
	message := "unknown error"
	if cause != nil {
		message = cause.Error()
	}
	_, err = j.db.ExecContext(ctx, `INSERT INTO failed_sales (bill_number, terminal_id, draft, error, attempts, failed_at)
        VALUES ($1, $2, $3, $4, 1, $5)
        ON CONFLICT(bill_number) DO UPDATE SET
            error = excluded.error,
            attempts = failed_sales.attempts + 1,
            failed_at = excluded.failed_at,
            resolved_at = NULL`,
		draft.BillNumber, draft.TerminalID, string(payload), message, j.now().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("journal sale %s: %w", draft.BillNumber, err)
	}
	return nil
}

// Pending lists unresolved sales, oldest first.
func (j *Journal) Pending(ctx context.Context, limit int) ([]domain.FailedSale, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []row
	err := j.db.SelectContext(ctx, &rows, `SELECT bill_number, terminal_id, draft, error, attempts, failed_at, resolved_at
        FROM failed_sales WHERE resolved_at IS NULL ORDER BY failed_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.FailedSale, 0, len(rows))
	for _, r := range rows {
		sale, err := r.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, sale)
	}
	return out, nil
}

func (j *Journal) Get(ctx context.Context, billNumber string) (domain.FailedSale, error) {
	var r row
	err := j.db.GetContext(ctx, &r, `SELECT bill_number, terminal_id, draft, error, attempts, failed_at, resolved_at
        FROM failed_sales WHERE bill_number = $1`, billNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FailedSale{}, fmt.Errorf("%w: %s", ErrNotFound, billNumber)
	}
	if err != nil {
		return domain.FailedSale{}, err
	}
	return r.decode()
}

func (j *Journal) MarkResolved(ctx context.Context, billNumber string) error {
	res, err := j.db.ExecContext(ctx, `UPDATE failed_sales SET resolved_at = $1 WHERE bill_number = $2 AND resolved_at IS NULL`,
		j.now().Format(timeLayout), billNumber)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, billNumber)
	}
	return nil
}

func (r row) decode() (domain.FailedSale, error) {
	var draft domain.CheckoutDraft
	if err := json.Unmarshal([]byte(r.Draft), &draft); err != nil {
		return domain.FailedSale{}, fmt.Errorf("decode draft %s: %w", r.BillNumber, err)
	}
	failedAt, err := time.Parse(timeLayout, r.FailedAt)
	if err != nil {
		return domain.FailedSale{}, fmt.Errorf("decode failed_at %s: %w", r.BillNumber, err)
	}
	sale := domain.FailedSale{
		BillNumber: r.BillNumber,
		TerminalID: r.TerminalID,
		Draft:      draft,
		Error:      r.Error,
		Attempts:   r.Attempts,
		FailedAt:   failedAt,
	}
	if r.ResolvedAt.Valid {
		at, err := time.Parse(timeLayout, r.ResolvedAt.String)
		if err == nil {
			sale.ResolvedAt = &at
		}
	}
	return sale, nil
}
