package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"counterpos/backend/internal/domain"
	"counterpos/backend/internal/store"
	"counterpos/backend/internal/tax"
	"counterpos/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	catalog         map[string]domain.CatalogItem
	profile         domain.CompanyProfile
	taxConfig       domain.TaxConfig
	customersByID   map[string]domain.Customer
	salesByBill     map[string]domain.CheckoutDraft
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// New builds an empty-user store around a fixed catalog. Tests use it
// directly; NewSeeded adds the demo data and users.
func New(catalog []domain.CatalogItem, profile domain.CompanyProfile, taxConfig domain.TaxConfig) *Store {
	items := make(map[string]domain.CatalogItem, len(catalog))
	for _, item := range catalog {
		items[item.ID] = item
	}
	if taxConfig.DefaultTaxMode == "" {
		taxConfig.DefaultTaxMode = domain.TaxModeInclusive
	}
	if taxConfig.SellerStateCode == "" {
		taxConfig.SellerStateCode = profile.StateCode
	}
	return &Store{
		catalog:         items,
		profile:         profile,
		taxConfig:       taxConfig,
		customersByID:   make(map[string]domain.Customer),
		salesByBill:     make(map[string]domain.CheckoutDraft),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

func NewSeeded() *Store {
	catalog := []domain.CatalogItem{
		{ID: "item-milk-1l", Code: "0401-01", Name: "Amul Milk 1L", Category: "Dairy & Milk Products", SellingPrice: 68, TaxRatePercent: 5, Stock: 120, Unit: "Litres"},
		{ID: "item-butter-100", Code: "0405-01", Name: "Amul Butter 100g", Category: "Dairy & Milk Products", SellingPrice: 60, TaxRatePercent: 12, Stock: 60, Unit: "Grams"},
		{ID: "item-parleg-100", Code: "1905-01", Name: "Parle G Biscuits 100g", Category: "Biscuits & Cookies", SellingPrice: 10, TaxRatePercent: 18, Stock: 300, Unit: "Packets"},
		{ID: "item-oreo-150", Code: "1905-02", Name: "Oreo Biscuits 150g", Category: "Biscuits & Cookies", SellingPrice: 30, TaxRatePercent: 18, Stock: 90, Unit: "Packets"},
		{ID: "item-atta-5kg", Code: "1101-01", Name: "Aashirvaad Atta 5kg", Category: "Atta & Flour", SellingPrice: 215, TaxRatePercent: 0, Stock: 40, Unit: "Kilograms"},
		{ID: "item-oil-1l", Code: "1512-01", Name: "Fortune Sunflower Oil 1L", Category: "Oil & Ghee", SellingPrice: 145, TaxRatePercent: 5, Stock: 50, Unit: "Litres"},
		{ID: "item-ghee-500", Code: "0405-02", Name: "Amul Ghee 500ml", Category: "Oil & Ghee", SellingPrice: 320, TaxRatePercent: 12, Stock: 25, Unit: "Millilitres"},
		{ID: "item-maggi-70", Code: "2106-01", Name: "Maggi Masala Noodles 70g", Category: "Instant Food", SellingPrice: 12, TaxRatePercent: 12, Stock: 200, Unit: "Packets"},
		{ID: "item-colgate-100", Code: "3306-01", Name: "Colgate Toothpaste 100g", Category: "Toothpaste & Oral Care", SellingPrice: 55, TaxRatePercent: 18, Stock: 70, Unit: "Pieces"},
		{ID: "item-lux-100", Code: "3401-01", Name: "Lux Soap 100g", Category: "Soap & Body Wash", SellingPrice: 38, TaxRatePercent: 18, Stock: 80, Unit: "Pieces"},
		{ID: "item-vim-500", Code: "3402-01", Name: "Vim Dishwash Bar 500g", Category: "Cleaning", SellingPrice: 50, TaxRatePercent: 18, TaxMode: domain.TaxModeExclusive, Stock: 45, Unit: "Pieces"},
		{ID: "item-notebook", Code: "4820-01", Name: "Classmate Notebook 172pg", Category: "Stationery", SellingPrice: 60, TaxRatePercent: 12, Stock: 35, Unit: "Pieces"},
	}
	profile := domain.CompanyProfile{
		Name:      "CounterPOS Demo Store",
		GSTIN:     "27AABCC1234D1Z5",
		StateCode: "27",
		Phone:     "9876543210",
		Address:   "Shop 4, Market Road, Pune",
	}
	s := New(catalog, profile, domain.TaxConfig{
		DefaultTaxMode:  domain.TaxModeInclusive,
		SellerStateCode: "27",
		RoundOffTotals:  true,
	})
	s.usersByUsername = seedUsers()

	now := time.Now().UTC()
	for _, c := range []domain.Customer{
		{ID: "cust-walkin-regular", Name: "Asha Patil", Phone: "9822000001", StateCode: "27", PartyType: store.PartyCustomer},
		{ID: "cust-karnataka-traders", Name: "Karnataka Traders", Phone: "9900000002", GSTIN: "29AAACK5678E1Z2", PartyType: store.PartyCustomer},
		{ID: "supp-amul", Name: "Amul Distributor", Phone: "9811000003", GSTIN: "24AAACA1111F1Z9", PartyType: store.PartySupplier},
	} {
		c.CreatedAt = now
		s.customersByID[c.ID] = c
	}
	return s
}

func (s *Store) ListCatalogItems(_ context.Context) ([]domain.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.CatalogItem, 0, len(s.catalog))
	for _, item := range s.catalog {
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.CatalogItem) int {
		if c := strings.Compare(a.Category, b.Category); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return items, nil
}

func (s *Store) GetCompanyProfile(_ context.Context) (domain.CompanyProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile, nil
}

func (s *Store) GetTaxConfig(_ context.Context) (domain.TaxConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.taxConfig, nil
}

func (s *Store) ListCustomers(_ context.Context, partyType string) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if partyType == "" {
		partyType = store.PartyCustomer
	}
	out := make([]domain.Customer, 0, len(s.customersByID))
	for _, c := range s.customersByID {
		if c.PartyType == partyType {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b domain.Customer) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer.Name = strings.TrimSpace(customer.Name)
	if customer.Name == "" {
		return nil, store.ErrInvalidUser
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if _, exists := s.customersByID[customer.ID]; exists {
		return nil, store.ErrConflict
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
	s.customersByID[customer.ID] = customer
	return &customer, nil
}

func (s *Store) RecordSale(_ context.Context, draft domain.CheckoutDraft) error {
	if err := store.ValidateSale(draft); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.salesByBill[draft.BillNumber]; exists {
		return nil
	}
	sold := store.SoldQuantities(draft.Items)
	for id := range sold {
		if _, ok := s.catalog[id]; !ok {
			return store.ErrInvalidSale
		}
	}
	for id, qty := range sold {
		item := s.catalog[id]
		if item.Stock < qty {
			log.Printf("[memory-store] WARN: bill %s sells %d of %s with only %d in stock", draft.BillNumber, qty, id, item.Stock)
		}
		item.Stock = max(item.Stock-qty, 0)
		s.catalog[id] = item
	}

	stored := draft
	stored.Items = slices.Clone(draft.Items)
	s.salesByBill[draft.BillNumber] = stored
	return nil
}

func (s *Store) FindSale(_ context.Context, billNumber string) (*domain.CheckoutDraft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByBill[billNumber]
	if !ok {
		return nil, store.ErrNotFound
	}
	sale.Items = slices.Clone(sale.Items)
	return &sale, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, terminalID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if terminalID != "" && entry.TerminalID != terminalID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidUser
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidUser
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) AssignTerminals(_ context.Context, username string, terminals []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Terminals = append([]string{}, terminals...)
	s.usersByUsername[username] = user
	return nil
}
