package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"counterpos/backend/internal/domain"
	"counterpos/backend/internal/store"
	"counterpos/backend/internal/tax"
	"counterpos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the tables the POS needs. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS catalog_items (
			id TEXT PRIMARY KEY,
			code TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			selling_price NUMERIC(12,2) NOT NULL,
			tax_rate_percent NUMERIC(5,2) NOT NULL DEFAULT 0,
			tax_mode TEXT NOT NULL DEFAULT '',
			stock INTEGER NOT NULL DEFAULT 0,
			unit TEXT NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT true,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS company_settings (
			id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
			name TEXT NOT NULL,
			gstin TEXT NOT NULL DEFAULT '',
			state_code TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			default_tax_mode TEXT NOT NULL DEFAULT 'inclusive',
			round_off_totals BOOLEAN NOT NULL DEFAULT false
		)`,
		`CREATE TABLE IF NOT EXISTS parties (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			gstin TEXT NOT NULL DEFAULT '',
			state_code TEXT NOT NULL DEFAULT '',
			party_type TEXT NOT NULL DEFAULT 'customer',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sales (
			bill_number TEXT PRIMARY KEY,
			terminal_id TEXT NOT NULL,
			token_number INTEGER NOT NULL,
			customer_id TEXT,
			customer_name TEXT NOT NULL DEFAULT '',
			payment_method TEXT NOT NULL,
			subtotal NUMERIC(12,2) NOT NULL,
			total_tax NUMERIC(12,2) NOT NULL,
			discount_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
			round_off NUMERIC(12,2) NOT NULL DEFAULT 0,
			grand_total NUMERIC(12,2) NOT NULL,
			draft JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sale_items (
			bill_number TEXT NOT NULL REFERENCES sales(bill_number) ON DELETE CASCADE,
			line_id TEXT NOT NULL,
			catalog_item_id TEXT NOT NULL,
			name TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			unit_price_excl_tax NUMERIC(12,2) NOT NULL,
			tax_rate_percent NUMERIC(5,2) NOT NULL,
			tax_amount NUMERIC(12,2) NOT NULL,
			PRIMARY KEY (bill_number, line_id)
		)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			terminal_id TEXT NOT NULL DEFAULT '',
			actor_username TEXT NOT NULL DEFAULT '',
			actor_role TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL DEFAULT '',
			entity_id TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_terminal_created ON audit_logs (terminal_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS app_users (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			role TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`ALTER TABLE app_users ADD COLUMN IF NOT EXISTS terminals TEXT NOT NULL DEFAULT ''`,
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) ListCatalogItems(ctx context.Context) ([]domain.CatalogItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, name, category, selling_price::float8, tax_rate_percent::float8, tax_mode, stock, unit
		FROM catalog_items
		WHERE active = true
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.CatalogItem, 0, 128)
	for rows.Next() {
		var item domain.CatalogItem
		var mode string
		if err := rows.Scan(&item.ID, &item.Code, &item.Name, &item.Category, &item.SellingPrice, &item.TaxRatePercent, &mode, &item.Stock, &item.Unit); err != nil {
			return nil, err
		}
		item.TaxMode = domain.TaxMode(mode)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetCompanyProfile(ctx context.Context) (domain.CompanyProfile, error) {
	var p domain.CompanyProfile
	err := s.db.QueryRowContext(ctx, `
		SELECT name, gstin, state_code, phone, address
		FROM company_settings
		WHERE id = 1
	`).Scan(&p.Name, &p.GSTIN, &p.StateCode, &p.Phone, &p.Address)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CompanyProfile{}, nil
	}
	return p, err
}

func (s *Store) GetTaxConfig(ctx context.Context) (domain.TaxConfig, error) {
	var cfg domain.TaxConfig
	var mode string
	err := s.db.QueryRowContext(ctx, `
		SELECT default_tax_mode, state_code, round_off_totals
		FROM company_settings
		WHERE id = 1
	`).Scan(&mode, &cfg.SellerStateCode, &cfg.RoundOffTotals)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TaxConfig{DefaultTaxMode: domain.TaxModeInclusive}, nil
	}
	if err != nil {
		return domain.TaxConfig{}, err
	}
	cfg.DefaultTaxMode = domain.TaxMode(mode)
	if cfg.DefaultTaxMode == "" {
		cfg.DefaultTaxMode = domain.TaxModeInclusive
	}
	return cfg, nil
}

func (s *Store) ListCustomers(ctx context.Context, partyType string) ([]domain.Customer, error) {
	if partyType == "" {
		partyType = store.PartyCustomer
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, gstin, state_code, party_type, created_at
		FROM parties
		WHERE party_type = $1
		ORDER BY name ASC
	`, partyType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.GSTIN, &c.StateCode, &c.PartyType, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, gstin, state_code, party_type, created_at
		FROM parties
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Phone, &c.GSTIN, &c.StateCode, &c.PartyType, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	customer.Name = strings.TrimSpace(customer.Name)
	if customer.Name == "" {
		return nil, store.ErrInvalidUser
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.PartyType == "" {
		customer.PartyType = store.PartyCustomer
	}
	if customer.StateCode == "" {
		customer.StateCode = tax.StateCodeFromGSTIN(customer.GSTIN)
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO parties (id, name, phone, gstin, state_code, party_type, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, customer.ID, customer.Name, customer.Phone, customer.GSTIN, customer.StateCode, customer.PartyType, customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &customer, nil
}

func (s *Store) RecordSale(ctx context.Context, draft domain.CheckoutDraft) error {
	if err := store.ValidateSale(draft); err != nil {
		return err
	}
	payload, err := json.Marshal(draft)
	if err != nil {
		return err
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	res, err := pgTx.ExecContext(ctx, `
		INSERT INTO sales (
			bill_number, terminal_id, token_number, customer_id, customer_name, payment_method,
			subtotal, total_tax, discount_amount, round_off, grand_total, draft, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (bill_number) DO NOTHING
	`, draft.BillNumber, draft.TerminalID, draft.TokenNumber, nullIfEmpty(draft.Customer.ID), draft.Customer.Name,
		string(draft.Payment.Method), draft.Subtotal, draft.TotalTax, draft.Discount.DiscountAmount,
		draft.RoundOff, draft.GrandTotal, payload, draft.CreatedAt)
	if err != nil {
		return err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if inserted == 0 {
		return nil
	}

	for _, item := range draft.Items {
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_items (
				bill_number, line_id, catalog_item_id, name, quantity, unit_price_excl_tax, tax_rate_percent, tax_amount
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, draft.BillNumber, item.ID, item.CatalogItemID, item.Name, item.Quantity, item.UnitPriceExclTax, item.TaxRatePercent, item.TaxAmount); err != nil {
			return err
		}
	}

	sold := store.SoldQuantities(draft.Items)
	ids := make([]string, 0, len(sold))
	for id := range sold {
		ids = append(ids, id)
	}
	// Fixed lock order across concurrent sales.
	sort.Strings(ids)
	for _, id := range ids {
		var before int
		err := pgTx.QueryRowContext(ctx, `SELECT stock FROM catalog_items WHERE id = $1 FOR UPDATE`, id).Scan(&before)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: catalog item %s", store.ErrInvalidSale, id)
		}
		if err != nil {
			return err
		}
		if before < sold[id] {
			log.Printf("[postgres-store] WARN: bill %s sells %d of %s with only %d in stock", draft.BillNumber, sold[id], id, before)
		}
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE catalog_items
			SET stock = GREATEST(stock - $2, 0), updated_at = now()
			WHERE id = $1
		`, id, sold[id]); err != nil {
			return err
		}
	}

	return pgTx.Commit()
}

func (s *Store) FindSale(ctx context.Context, billNumber string) (*domain.CheckoutDraft, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT draft FROM sales WHERE bill_number = $1`, billNumber).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var draft domain.CheckoutDraft
	if err := json.Unmarshal(payload, &draft); err != nil {
		return nil, err
	}
	return &draft, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, terminal_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.TerminalID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, terminalID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, terminal_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1::text = '' OR terminal_id = $1) AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, terminalID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.TerminalID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidUser
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, terminals, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, user.Username, user.Password, user.Role, user.Active, joinTerminals(user.Terminals), user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, terminals, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		var terminals string
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &terminals, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.Terminals = splitTerminals(terminals)
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidUser
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AssignTerminals(ctx context.Context, username string, terminals []string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET terminals = $2, updated_at = now()
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username)), joinTerminals(terminals))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Terminal ids never contain commas, so assignments are stored joined.
func joinTerminals(ids []string) string {
	return strings.Join(ids, ",")
}

func splitTerminals(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if strings.TrimSpace(val) == "" {
		return nil
	}
	return val
}
