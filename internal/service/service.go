package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"counterpos/backend/internal/category"
	"counterpos/backend/internal/checkout"
	"counterpos/backend/internal/domain"
	"counterpos/backend/internal/reconcile"
	"counterpos/backend/internal/session"
	"counterpos/backend/internal/store"
	"counterpos/backend/internal/tax"
	"counterpos/backend/internal/terminal"
	"counterpos/backend/internal/xid"
)

var (
	// ErrDirectory marks a customer directory failure. The cart is never
	// affected by it.
	ErrDirectory       = errors.New("customer directory unavailable")
	ErrInvalidCustomer = errors.New("invalid customer")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrRetryFailed     = errors.New("sale retry failed")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Journal is the reconciliation store for sales the recorder rejected.
type Journal interface {
	Pending(ctx context.Context, limit int) ([]domain.FailedSale, error)
	Get(ctx context.Context, billNumber string) (domain.FailedSale, error)
	SaleFailed(ctx context.Context, draft domain.CheckoutDraft, cause error) error
	MarkResolved(ctx context.Context, billNumber string) error
}

// Retrier records a sale synchronously.
type Retrier interface {
	Retry(ctx context.Context, draft domain.CheckoutDraft) error
}

const auditTimeout = 5 * time.Second

type Service struct {
	repo      store.Repository
	terminals *terminal.Manager
	sessions  *session.Registry
	journal   Journal
	retrier   Retrier

	audits sync.WaitGroup
}

func New(repo store.Repository, terminals *terminal.Manager, sessions *session.Registry, journal Journal, retrier Retrier) *Service {
	return &Service{
		repo:      repo,
		terminals: terminals,
		sessions:  sessions,
		journal:   journal,
		retrier:   retrier,
	}
}

type CatalogGroup struct {
	Group category.Group       `json:"group"`
	Items []domain.CatalogItem `json:"items"`
}

// ListCatalog groups the cached catalog by display group. Groups follow
// their declaration order; items keep catalog order.
func (s *Service) ListCatalog(ctx context.Context) ([]CatalogGroup, error) {
	if err := s.terminals.EnsureCatalog(ctx); err != nil {
		return nil, err
	}
	byGroup := map[category.Group][]domain.CatalogItem{}
	for _, item := range s.terminals.Catalog().Items() {
		g := category.Resolve(item.Category)
		byGroup[g] = append(byGroup[g], item)
	}
	out := make([]CatalogGroup, 0, len(byGroup))
	for g, items := range byGroup {
		out = append(out, CatalogGroup{Group: g, Items: items})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Group < out[j].Group })
	return out, nil
}

func (s *Service) RefreshCatalog(ctx context.Context) error {
	return s.terminals.RefreshCatalog(ctx)
}

func (s *Service) CompanyProfile() domain.CompanyProfile {
	return s.terminals.Catalog().Profile()
}

func (s *Service) ListCustomers(ctx context.Context, partyType string) ([]domain.Customer, error) {
	partyType = strings.ToLower(strings.TrimSpace(partyType))
	if partyType == "" {
		partyType = store.PartyCustomer
	}
	if partyType != store.PartyCustomer && partyType != store.PartySupplier {
		return nil, fmt.Errorf("%w: party type %q", ErrInvalidRequest, partyType)
	}
	customers, err := s.repo.ListCustomers(ctx, partyType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectory, err)
	}
	return customers, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	req.GSTIN = strings.ToUpper(strings.TrimSpace(req.GSTIN))
	req.StateCode = strings.TrimSpace(req.StateCode)
	req.PartyType = strings.ToLower(strings.TrimSpace(req.PartyType))

	if req.Name == "" {
		return domain.Customer{}, fmt.Errorf("%w: name is required", ErrInvalidCustomer)
	}
	if req.GSTIN != "" && len(req.GSTIN) != 15 {
		return domain.Customer{}, fmt.Errorf("%w: gstin must be 15 characters", ErrInvalidCustomer)
	}
	if req.PartyType == "" {
		req.PartyType = store.PartyCustomer
	}
	if req.PartyType != store.PartyCustomer && req.PartyType != store.PartySupplier {
		return domain.Customer{}, fmt.Errorf("%w: party type %q", ErrInvalidCustomer, req.PartyType)
	}
	if req.StateCode == "" {
		req.StateCode = tax.StateCodeFromGSTIN(req.GSTIN)
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		ID:        xid.New("cust"),
		Name:      req.Name,
		Phone:     req.Phone,
		GSTIN:     req.GSTIN,
		StateCode: req.StateCode,
		PartyType: req.PartyType,
		CreatedAt: time.Now().UTC(),
	})
	if errors.Is(err, store.ErrConflict) {
		return domain.Customer{}, err
	}
	if err != nil {
		return domain.Customer{}, fmt.Errorf("%w: %v", ErrDirectory, err)
	}
	s.logAudit(ctx, "", "customer_create", "customer", created.ID, fmt.Sprintf("name=%s,state=%s", created.Name, created.StateCode))
	return *created, nil
}

func (s *Service) ActiveSessions(ctx context.Context) ([]domain.SessionSummary, error) {
	return s.sessions.ListActive(ctx)
}

func (s *Service) Terminal(ctx context.Context, terminalID string) (*terminal.Engine, error) {
	return s.terminals.Get(ctx, terminalID)
}

func (s *Service) View(ctx context.Context, terminalID string) (terminal.View, error) {
	e, err := s.terminals.Get(ctx, terminalID)
	if err != nil {
		return terminal.View{}, err
	}
	return e.View()
}

// BindCustomer attaches a customer to the active ticket. A binding with an
// id is resolved against the directory so the buyer state comes from the
// stored party; without an id it is a named walk-in.
func (s *Service) BindCustomer(ctx context.Context, terminalID string, binding domain.CustomerBinding) (terminal.View, error) {
	e, err := s.terminals.Get(ctx, terminalID)
	if err != nil {
		return terminal.View{}, err
	}
	binding.ID = strings.TrimSpace(binding.ID)
	if binding.ID != "" {
		customer, err := s.repo.GetCustomer(ctx, binding.ID)
		if errors.Is(err, store.ErrNotFound) {
			return terminal.View{}, err
		}
		if err != nil {
			return terminal.View{}, fmt.Errorf("%w: %v", ErrDirectory, err)
		}
		binding = BindingFor(*customer)
	}
	return e.SetCustomer(binding)
}

// BindingFor derives the ticket binding of a stored party. The buyer state
// is the party's state code, else the GSTIN prefix.
func BindingFor(customer domain.Customer) domain.CustomerBinding {
	state := strings.TrimSpace(customer.StateCode)
	if state == "" {
		state = tax.StateCodeFromGSTIN(customer.GSTIN)
	}
	return domain.CustomerBinding{
		ID:        customer.ID,
		Name:      customer.Name,
		Phone:     customer.Phone,
		StateCode: state,
	}
}

func (s *Service) RemoveTicket(ctx context.Context, terminalID string, ticketID string) (terminal.View, error) {
	e, err := s.terminals.Get(ctx, terminalID)
	if err != nil {
		return terminal.View{}, err
	}
	view, removed, err := e.RemoveTicket(ticketID)
	if err != nil {
		return view, err
	}
	s.logAuditLater(ctx, terminalID, "ticket_remove", "ticket", removed.ID,
		fmt.Sprintf("token=%d,lines=%d,status=%s", removed.TokenNumber, len(removed.Lines), removed.Status))
	return view, nil
}

func (s *Service) CompleteSale(ctx context.Context, terminalID string, payment checkout.Payment) (terminal.Sale, error) {
	e, err := s.terminals.Get(ctx, terminalID)
	if err != nil {
		return terminal.Sale{}, err
	}
	sale, err := e.CompleteSale(payment)
	if err != nil {
		return sale, err
	}
	s.logAuditLater(ctx, terminalID, "sale_complete", "sale", sale.Draft.BillNumber,
		fmt.Sprintf("token=%d,total=%.2f,method=%s", sale.Draft.TokenNumber, sale.Draft.GrandTotal, sale.Draft.Payment.Method))
	return sale, nil
}

func (s *Service) ListFailedSales(ctx context.Context, limit int) ([]domain.FailedSale, error) {
	return s.journal.Pending(ctx, limit)
}

// RetrySale records a journaled sale again. A second failure is journaled
// too, bumping its attempt count.
func (s *Service) RetrySale(ctx context.Context, billNumber string) (domain.FailedSale, error) {
	entry, err := s.journal.Get(ctx, billNumber)
	if err != nil {
		return domain.FailedSale{}, err
	}
	if entry.ResolvedAt != nil {
		return entry, nil
	}
	if err := s.retrier.Retry(ctx, entry.Draft); err != nil {
		if jerr := s.journal.SaleFailed(ctx, entry.Draft, err); jerr != nil {
			log.Printf("[reconcile] WARN: journal retry of %s: %v", billNumber, jerr)
		}
		return entry, fmt.Errorf("%w: %s: %v", ErrRetryFailed, billNumber, err)
	}
	if err := s.journal.MarkResolved(ctx, billNumber); err != nil {
		return entry, err
	}
	s.logAudit(ctx, entry.TerminalID, "sale_retry", "sale", billNumber, fmt.Sprintf("attempts=%d", entry.Attempts+1))
	return s.journal.Get(ctx, billNumber)
}

// ResolveSale closes a journal entry without recording it, e.g. after the
// sale was re-entered by hand.
func (s *Service) ResolveSale(ctx context.Context, billNumber string) (domain.FailedSale, error) {
	entry, err := s.journal.Get(ctx, billNumber)
	if err != nil {
		return domain.FailedSale{}, err
	}
	if err := s.journal.MarkResolved(ctx, billNumber); err != nil {
		return entry, err
	}
	s.logAudit(ctx, entry.TerminalID, "sale_resolve", "sale", billNumber, "manual")
	return s.journal.Get(ctx, billNumber)
}

func (s *Service) FindSale(ctx context.Context, billNumber string) (domain.CheckoutDraft, error) {
	draft, err := s.repo.FindSale(ctx, strings.TrimSpace(billNumber))
	if err != nil {
		return domain.CheckoutDraft{}, err
	}
	return *draft, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, terminalID string, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidRequest)
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, terminalID, from, to, limit)
}

// logAuditLater writes the audit row off the request path, so the counter
// never waits on the database.
func (s *Service) logAuditLater(ctx context.Context, terminalID string, action string, entityType string, entityID string, detail string) {
	bg := context.WithoutCancel(ctx)
	s.audits.Add(1)
	go func() {
		defer s.audits.Done()
		ctx, cancel := context.WithTimeout(bg, auditTimeout)
		defer cancel()
		s.logAudit(ctx, terminalID, action, entityType, entityID, detail)
	}()
}

// Wait blocks until background audit writes finish.
func (s *Service) Wait() {
	s.audits.Wait()
}

func (s *Service) logAudit(ctx context.Context, terminalID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		TerminalID:    terminalID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

var _ Journal = (*reconcile.Journal)(nil)
