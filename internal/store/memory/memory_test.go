package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"counterpos/backend/internal/domain"
	"counterpos/backend/internal/store"
)

func testStore() *Store {
	return New([]domain.CatalogItem{
		{ID: "rice", Name: "Rice 1kg", Category: "Grocery", SellingPrice: 60, TaxRatePercent: 5, Stock: 3},
		{ID: "soap", Name: "Soap", Category: "Household", SellingPrice: 40, TaxRatePercent: 18, Stock: 10},
	}, domain.CompanyProfile{Name: "Test Mart", StateCode: "27"}, domain.TaxConfig{})
}

func saleDraft(bill string, qty int) domain.CheckoutDraft {
	return domain.CheckoutDraft{
		BillNumber: bill,
		TerminalID: "counter-1",
		Items:      []domain.CartLine{{ID: "l1", CatalogItemID: "rice", Quantity: qty}},
	}
}

func stockOf(t *testing.T, s *Store, id string) int {
	t.Helper()
	items, err := s.ListCatalogItems(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, item := range items {
		if item.ID == id {
			return item.Stock
		}
	}
	t.Fatalf("item %s missing", id)
	return 0
}

func TestRecordSaleIsIdempotentByBillNumber(t *testing.T) {
	ctx := context.Background()
	s := testStore()

	if err := s.RecordSale(ctx, saleDraft("POS-1", 2)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.RecordSale(ctx, saleDraft("POS-1", 2)); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if got := stockOf(t, s, "rice"); got != 1 {
		t.Fatalf("expected stock 1 after one sale, got %d", got)
	}
	sale, err := s.FindSale(ctx, "POS-1")
	if err != nil || sale.Items[0].Quantity != 2 {
		t.Fatalf("unexpected sale %+v err=%v", sale, err)
	}
}

func TestRecordSaleClampsStockAtZero(t *testing.T) {
	ctx := context.Background()
	s := testStore()
	if err := s.RecordSale(ctx, saleDraft("POS-2", 5)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if got := stockOf(t, s, "rice"); got != 0 {
		t.Fatalf("expected stock clamped to 0, got %d", got)
	}
}

func TestRecordSaleRejectsInvalidDrafts(t *testing.T) {
	ctx := context.Background()
	s := testStore()
	unknown := saleDraft("POS-3", 1)
	unknown.Items[0].CatalogItemID = "ghost"
	for name, draft := range map[string]domain.CheckoutDraft{
		"no bill":      saleDraft("", 1),
		"zero qty":     saleDraft("POS-4", 0),
		"unknown item": unknown,
	} {
		if err := s.RecordSale(ctx, draft); !errors.Is(err, store.ErrInvalidSale) {
			t.Fatalf("%s: expected ErrInvalidSale, got %v", name, err)
		}
	}
	if _, err := s.FindSale(ctx, "POS-3"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("rejected sale should not be stored, got %v", err)
	}
}

func TestCustomersDeriveStateFromGSTIN(t *testing.T) {
	ctx := context.Background()
	s := testStore()
	created, err := s.CreateCustomer(ctx, domain.Customer{Name: " Karnataka Traders ", GSTIN: "29AAACK5678E1Z2"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.StateCode != "29" || created.PartyType != store.PartyCustomer || created.Name != "Karnataka Traders" {
		t.Fatalf("unexpected customer %+v", created)
	}
	if _, err := s.CreateCustomer(ctx, domain.Customer{Name: "  "}); !errors.Is(err, store.ErrInvalidUser) {
		t.Fatalf("expected blank name to fail, got %v", err)
	}
	suppliers, _ := s.ListCustomers(ctx, store.PartySupplier)
	if len(suppliers) != 0 {
		t.Fatalf("expected no suppliers, got %+v", suppliers)
	}
	customers, _ := s.ListCustomers(ctx, "")
	if len(customers) != 1 {
		t.Fatalf("expected one customer, got %+v", customers)
	}
}

func TestTaxConfigDefaultsToSellerState(t *testing.T) {
	cfg, _ := testStore().GetTaxConfig(context.Background())
	if cfg.SellerStateCode != "27" || cfg.DefaultTaxMode != domain.TaxModeInclusive {
		t.Fatalf("unexpected tax config %+v", cfg)
	}
}

func TestAuditLogsFilterByTerminal(t *testing.T) {
	ctx := context.Background()
	s := testStore()
	now := time.Now().UTC()
	_ = s.CreateAuditLog(ctx, domain.AuditLog{TerminalID: "counter-1", Action: "ticket.remove", CreatedAt: now})
	_ = s.CreateAuditLog(ctx, domain.AuditLog{TerminalID: "counter-2", Action: "sale.complete", CreatedAt: now})

	logs, err := s.ListAuditLogs(ctx, "counter-1", now.Add(-time.Minute), now.Add(time.Minute), 10)
	if err != nil || len(logs) != 1 || logs[0].Action != "ticket.remove" {
		t.Fatalf("unexpected logs %+v err=%v", logs, err)
	}
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	s := testStore()
	if err := s.CreateUser(ctx, domain.UserAccount{Username: " Clerk1 ", Password: "hash", Terminals: []string{"counter-1"}}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateUser(ctx, domain.UserAccount{Username: "clerk1", Password: "hash"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := s.UpdateUserPassword(ctx, "nobody", "x"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	users, _ := s.ListUsers(ctx)
	if len(users) != 1 || users[0].Role != "cashier" || !users[0].Active || len(users[0].Terminals) != 1 {
		t.Fatalf("unexpected users %+v", users)
	}

	if err := s.AssignTerminals(ctx, "CLERK1", []string{"counter-2", "counter-3"}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := s.AssignTerminals(ctx, "nobody", nil); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	users, _ = s.ListUsers(ctx)
	if got := users[0].Terminals; len(got) != 2 || got[0] != "counter-2" {
		t.Fatalf("unexpected assignment %v", got)
	}
}
