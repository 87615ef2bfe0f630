package store

import (
	"context"
	"errors"
	"time"

	"counterpos/backend/internal/domain"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidSale = errors.New("invalid sale")
	ErrInvalidUser = errors.New("invalid user")
	ErrConflict    = errors.New("already exists")
)

const (
	PartyCustomer = "customer"
	PartySupplier = "supplier"
)

type Repository interface {
	ListCatalogItems(ctx context.Context) ([]domain.CatalogItem, error)
	GetCompanyProfile(ctx context.Context) (domain.CompanyProfile, error)
	GetTaxConfig(ctx context.Context) (domain.TaxConfig, error)
	ListCustomers(ctx context.Context, partyType string) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	// RecordSale is idempotent by bill number and decrements stock, never
	// below zero: the goods have already left the counter.
	RecordSale(ctx context.Context, draft domain.CheckoutDraft) error
	FindSale(ctx context.Context, billNumber string) (*domain.CheckoutDraft, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, terminalID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
	AssignTerminals(ctx context.Context, username string, terminals []string) error
}

// ValidateSale rejects drafts no backend should accept.
func ValidateSale(draft domain.CheckoutDraft) error {
	if draft.BillNumber == "" || draft.TerminalID == "" || len(draft.Items) == 0 {
		return ErrInvalidSale
	}
	for _, item := range draft.Items {
		if item.CatalogItemID == "" || item.Quantity < 1 {
			return ErrInvalidSale
		}
	}
	return nil
}

// SoldQuantities sums line quantities per catalog item.
func SoldQuantities(items []domain.CartLine) map[string]int {
	out := make(map[string]int, len(items))
	for _, item := range items {
		out[item.CatalogItemID] += item.Quantity
	}
	return out
}
