package terminal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"counterpos/backend/internal/cart"
	"counterpos/backend/internal/checkout"
	"counterpos/backend/internal/domain"
	"counterpos/backend/internal/queue"
	"counterpos/backend/internal/session"
	"counterpos/backend/internal/store"
	"counterpos/backend/internal/tax"
	"counterpos/backend/internal/xid"
)

const DefaultPurgeDelay = 500 * time.Millisecond

var (
	ErrLineNotFound    = errors.New("cart line not found")
	ErrInvalidDiscount = errors.New("invalid discount")
	ErrInvalidTerminal = errors.New("invalid terminal id")
	ErrClosed          = errors.New("terminal closed")
)

// Committer hands a completed sale to the background recorder.
type Committer interface {
	Submit(draft domain.CheckoutDraft)
}

// Sharer delivers a bill over the chosen channel without blocking.
type Sharer interface {
	Dispatch(channel domain.ShareChannel, draft domain.CheckoutDraft, profile domain.CompanyProfile)
}

type BillNumbers interface {
	Next() string
}

// Deps are shared by every engine of a Manager.
type Deps struct {
	Catalog    *Catalog
	Sessions   *session.Registry
	Committer  Committer
	Sharer     Sharer
	Bills      BillNumbers
	PurgeDelay time.Duration
	Now        func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.PurgeDelay <= 0 {
		d.PurgeDelay = DefaultPurgeDelay
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	return d
}

type View struct {
	TerminalID        string               `json:"terminalId"`
	SessionID         string               `json:"sessionId"`
	Stage             domain.CheckoutStage `json:"stage"`
	ActiveTicketID    string               `json:"activeTicketId"`
	ActiveTicket      domain.Ticket        `json:"activeTicket"`
	Tickets           []domain.Ticket      `json:"tickets"`
	OpenTickets       int                  `json:"openTickets"`
	Totals            cart.Totals          `json:"totals"`
	Tax               domain.TaxBreakdown  `json:"tax"`
	TenderSuggestions []float64            `json:"tenderSuggestions"`
}

// Sale is what CompleteSale hands back: the recorded snapshot and the
// terminal as it looks after the queue advanced.
type Sale struct {
	Draft domain.CheckoutDraft `json:"draft"`
	View  View                 `json:"view"`
}

type Engine struct {
	terminalID string
	deps       Deps

	mu           sync.Mutex
	state        queue.State
	stage        domain.CheckoutStage
	session      domain.SessionRecord
	purgeTimer   *time.Timer
	purgePending bool
	closed       bool
}

// Open restores a terminal from its persisted ticket book. A terminal with
// no book but a stored session cart resumes that cart on its first ticket.
func Open(ctx context.Context, terminalID string, deps Deps) (*Engine, error) {
	deps = deps.withDefaults()
	if err := deps.Catalog.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	rec, err := deps.Sessions.GetOrCreate(ctx, terminalID)
	if err != nil {
		return nil, fmt.Errorf("open session %s: %w", terminalID, err)
	}
	book, found, err := deps.Sessions.LoadTickets(ctx, terminalID)
	if err != nil {
		return nil, fmt.Errorf("load tickets %s: %w", terminalID, err)
	}

	e := &Engine{terminalID: terminalID, deps: deps, session: rec}
	e.state = queue.Restore(book, e.env())
	if !found && len(rec.Cart) > 0 {
		active, _ := e.state.Active()
		resume := queue.UpdateTicket{ID: active.ID, Fn: func(t domain.Ticket) domain.Ticket {
			t.Lines = append([]domain.CartLine(nil), rec.Cart...)
			t.CustomerID = rec.CustomerID
			if rec.CustomerName != "" {
				t.CustomerName = rec.CustomerName
			}
			t.CustomerPhone = rec.CustomerPhone
			return t
		}}
		if _, err := e.reduce(resume); err != nil {
			log.Printf("[terminal] WARN: resume cart %s: %v", terminalID, err)
		}
	}
	active, _ := e.state.Active()
	e.stage = checkout.StageFor(active)
	e.persist()
	return e, nil
}

func (e *Engine) TerminalID() string { return e.terminalID }

func (e *Engine) env() queue.Env {
	return queue.Env{
		Now:   e.deps.Now,
		NewID: func() string { return xid.New("tkt") },
	}
}

// reduce applies an action and keeps the result only on success.
func (e *Engine) reduce(action queue.Action) (queue.Outcome, error) {
	next, outcome, err := queue.Reduce(e.state, action, e.env())
	if err != nil {
		return outcome, err
	}
	e.state = next
	return outcome, nil
}

// begin locks the engine and runs a pending purge so every operation sees
// a settled queue. Callers must unlock.
func (e *Engine) begin() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.flushPurge()
	return nil
}

func (e *Engine) flushPurge() {
	if !e.purgePending {
		return
	}
	if e.purgeTimer != nil {
		e.purgeTimer.Stop()
		e.purgeTimer = nil
	}
	e.purgePending = false
	if _, err := e.reduce(queue.PurgeCompleted{}); err != nil {
		log.Printf("[terminal] WARN: purge %s: %v", e.terminalID, err)
		return
	}
	active, _ := e.state.Active()
	e.stage = checkout.StageFor(active)
	e.persist()
}

func (e *Engine) schedulePurge() {
	e.purgePending = true
	if e.purgeTimer != nil {
		e.purgeTimer.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(e.deps.PurgeDelay, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.closed || e.purgeTimer != timer {
			return
		}
		e.flushPurge()
	})
	e.purgeTimer = timer
}

// persist queues the ticket book and the session mirror of the active
// ticket. Writes happen on the registry's background writer.
func (e *Engine) persist() {
	now := e.deps.Now()
	e.deps.Sessions.PersistTickets(e.state.Book(e.terminalID, now))

	active, _ := e.state.Active()
	e.session.Cart = append([]domain.CartLine{}, active.Lines...)
	e.session.CustomerID = active.CustomerID
	e.session.CustomerName = active.CustomerName
	e.session.CustomerPhone = active.CustomerPhone
	e.deps.Sessions.Persist(e.session)
}

func (e *Engine) view() View {
	active, _ := e.state.Active()
	cfg := e.deps.Catalog.TaxConfig()
	totals := cart.Summarize(active.Lines, active.Discount, cfg.RoundOffTotals)
	buyer := active.CustomerStateCode
	if buyer == "" {
		buyer = cfg.SellerStateCode
	}
	suggestions := []float64{}
	if totals.GrandTotal > 0 {
		suggestions = tax.SuggestTenderedAmounts(totals.GrandTotal)
	}
	book := e.state.Book(e.terminalID, e.deps.Now())
	return View{
		TerminalID:        e.terminalID,
		SessionID:         e.session.SessionID,
		Stage:             e.stage,
		ActiveTicketID:    active.ID,
		ActiveTicket:      active,
		Tickets:           book.Tickets,
		OpenTickets:       e.state.OpenCount(),
		Totals:            totals,
		Tax:               checkout.Breakdown(active.Lines, cfg.SellerStateCode, buyer),
		TenderSuggestions: suggestions,
	}
}

// View reads the terminal without settling a pending purge, so a completed
// ticket stays visible for the whole grace delay.
func (e *Engine) View() (View, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return View{}, ErrClosed
	}
	return e.view(), nil
}

// updateActive runs fn against the active ticket and persists the result.
func (e *Engine) updateActive(fn func(domain.Ticket) (domain.Ticket, error)) error {
	active, ok := e.state.Active()
	if !ok {
		return queue.ErrTicketNotFound
	}
	next, err := fn(active)
	if err != nil {
		return err
	}
	if _, err := e.reduce(queue.UpdateTicket{ID: active.ID, Fn: func(domain.Ticket) domain.Ticket { return next }}); err != nil {
		return err
	}
	e.persist()
	return nil
}

// AddItem adds one unit to the active ticket. added is false when the
// terminal holds no more stock of the item.
func (e *Engine) AddItem(itemID string) (view View, added bool, err error) {
	if err := e.begin(); err != nil {
		return View{}, false, err
	}
	defer e.mu.Unlock()
	if err := checkout.RequireBrowsing(e.stage); err != nil {
		return e.view(), false, err
	}
	item, ok := e.deps.Catalog.Item(itemID)
	if !ok {
		return e.view(), false, fmt.Errorf("%w: catalog item %s", store.ErrNotFound, itemID)
	}
	cfg := e.deps.Catalog.TaxConfig()
	err = e.updateActive(func(t domain.Ticket) (domain.Ticket, error) {
		next, ok := cart.AddLine(t, item, e.state.Reserved(item.ID), cfg.DefaultTaxMode, func() string { return xid.New("line") })
		added = ok
		return next, nil
	})
	return e.view(), added, err
}

// UpdateQuantity moves a line by delta. Increases are capped by the stock
// the terminal has not yet reserved; a line reaching zero is removed.
func (e *Engine) UpdateQuantity(lineID string, delta int) (View, error) {
	if err := e.begin(); err != nil {
		return View{}, err
	}
	defer e.mu.Unlock()
	if err := checkout.RequireBrowsing(e.stage); err != nil {
		return e.view(), err
	}
	err := e.updateActive(func(t domain.Ticket) (domain.Ticket, error) {
		line, ok := cart.FindLine(t.Lines, lineID)
		if !ok {
			return t, fmt.Errorf("%w: %s", ErrLineNotFound, lineID)
		}
		available := 0
		if item, ok := e.deps.Catalog.Item(line.CatalogItemID); ok {
			available = max(cart.AvailableStock(item, e.state.Reserved(item.ID)), 0)
		}
		return cart.UpdateQuantity(t, lineID, delta, available), nil
	})
	return e.view(), err
}

func (e *Engine) RemoveLine(lineID string) (View, error) {
	if err := e.begin(); err != nil {
		return View{}, err
	}
	defer e.mu.Unlock()
	if err := checkout.RequireBrowsing(e.stage); err != nil {
		return e.view(), err
	}
	err := e.updateActive(func(t domain.Ticket) (domain.Ticket, error) {
		if _, ok := cart.FindLine(t.Lines, lineID); !ok {
			return t, fmt.Errorf("%w: %s", ErrLineNotFound, lineID)
		}
		return cart.RemoveLine(t, lineID), nil
	})
	return e.view(), err
}

func (e *Engine) ClearCart() (View, error) {
	if err := e.begin(); err != nil {
		return View{}, err
	}
	defer e.mu.Unlock()
	if err := checkout.RequireBrowsing(e.stage); err != nil {
		return e.view(), err
	}
	err := e.updateActive(func(t domain.Ticket) (domain.Ticket, error) {
		return cart.Clear(t), nil
	})
	return e.view(), err
}

// SetCustomer binds a customer to the active ticket. An empty binding
// reverts the ticket to its walk-in name.
func (e *Engine) SetCustomer(binding domain.CustomerBinding) (View, error) {
	if err := e.begin(); err != nil {
		return View{}, err
	}
	defer e.mu.Unlock()
	if err := checkout.RequireBrowsing(e.stage); err != nil && e.stage != domain.StagePreviewingBill {
		return e.view(), err
	}
	err := e.updateActive(func(t domain.Ticket) (domain.Ticket, error) {
		name := strings.TrimSpace(binding.Name)
		if name == "" {
			name = fmt.Sprintf("Customer %d", t.TokenNumber)
		}
		t.CustomerID = strings.TrimSpace(binding.ID)
		t.CustomerName = name
		t.CustomerPhone = strings.TrimSpace(binding.Phone)
		t.CustomerStateCode = strings.TrimSpace(binding.StateCode)
		return t, nil
	})
	return e.view(), err
}

// SetDiscount sets the invoice-level discount. A zero value clears it.
func (e *Engine) SetDiscount(discount domain.InvoiceDiscount) (View, error) {
	if err := e.begin(); err != nil {
		return View{}, err
	}
	defer e.mu.Unlock()
	if err := checkout.RequireBrowsing(e.stage); err != nil && e.stage != domain.StagePreviewingBill {
		return e.view(), err
	}
	switch discount.Type {
	case domain.DiscountPercent, domain.DiscountAmount:
	case "":
		if discount.Value != 0 {
			return e.view(), fmt.Errorf("%w: missing type", ErrInvalidDiscount)
		}
	default:
		return e.view(), fmt.Errorf("%w: type %q", ErrInvalidDiscount, discount.Type)
	}
	if discount.Value < 0 {
		return e.view(), fmt.Errorf("%w: negative value", ErrInvalidDiscount)
	}
	err := e.updateActive(func(t domain.Ticket) (domain.Ticket, error) {
		t.Discount = discount
		return t, nil
	})
	return e.view(), err
}

// CreateTicket opens a new ticket for the next customer and makes it active.
func (e *Engine) CreateTicket(customerName string) (View, error) {
	if err := e.begin(); err != nil {
		return View{}, err
	}
	defer e.mu.Unlock()
	if _, err := e.reduce(queue.CreateTicket{CustomerName: strings.TrimSpace(customerName)}); err != nil {
		return e.view(), err
	}
	e.stage = domain.StageBrowsing
	e.persist()
	return e.view(), nil
}

// SwitchTicket activates another ticket. A ticket left mid-payment keeps
// its checkout flag and resumes at payment when switched back to.
func (e *Engine) SwitchTicket(ticketID string) (View, error) {
	if err := e.begin(); err != nil {
		return View{}, err
	}
	defer e.mu.Unlock()
	outcome, err := e.reduce(queue.SwitchTicket{ID: ticketID})
	if err != nil {
		return e.view(), err
	}
	e.stage = checkout.StageFor(outcome.Ticket)
	e.persist()
	return e.view(), nil
}

// RemoveTicket discards a ticket and its cart. It returns the removed
// ticket for auditing.
func (e *Engine) RemoveTicket(ticketID string) (View, domain.Ticket, error) {
	if err := e.begin(); err != nil {
		return View{}, domain.Ticket{}, err
	}
	defer e.mu.Unlock()
	removed, ok := e.state.Find(ticketID)
	if !ok {
		return e.view(), domain.Ticket{}, fmt.Errorf("%w: %s", queue.ErrTicketNotFound, ticketID)
	}
	wasActive := e.state.ActiveID == ticketID
	if _, err := e.reduce(queue.RemoveTicket{ID: ticketID}); err != nil {
		return e.view(), domain.Ticket{}, err
	}
	if wasActive {
		active, _ := e.state.Active()
		e.stage = checkout.StageFor(active)
	}
	e.persist()
	return e.view(), removed, nil
}

func (e *Engine) EnterPreview() (View, error) {
	if err := e.begin(); err != nil {
		return View{}, err
	}
	defer e.mu.Unlock()
	active, _ := e.state.Active()
	stage, err := checkout.EnterPreview(e.stage, active)
	if err != nil {
		return e.view(), err
	}
	e.stage = stage
	return e.view(), nil
}

func (e *Engine) ProceedToPayment() (View, error) {
	if err := e.begin(); err != nil {
		return View{}, err
	}
	defer e.mu.Unlock()
	stage, err := checkout.ProceedToPayment(e.stage)
	if err != nil {
		return e.view(), err
	}
	active, _ := e.state.Active()
	if err := e.updateActive(func(t domain.Ticket) (domain.Ticket, error) {
		t.IsInCheckout = true
		return t, nil
	}); err != nil {
		return e.view(), err
	}
	if _, err := e.reduce(queue.MarkProcessing{ID: active.ID}); err != nil {
		return e.view(), err
	}
	e.stage = stage
	e.persist()
	return e.view(), nil
}

// CancelCheckout returns to browsing with the cart untouched.
func (e *Engine) CancelCheckout() (View, error) {
	if err := e.begin(); err != nil {
		return View{}, err
	}
	defer e.mu.Unlock()
	stage, err := checkout.Cancel(e.stage)
	if err != nil {
		return e.view(), err
	}
	active, _ := e.state.Active()
	if active.IsInCheckout {
		if err := e.updateActive(func(t domain.Ticket) (domain.Ticket, error) {
			t.IsInCheckout = false
			return t, nil
		}); err != nil {
			return e.view(), err
		}
	}
	if _, err := e.reduce(queue.ReturnToActive{ID: active.ID}); err != nil {
		return e.view(), err
	}
	e.stage = stage
	e.persist()
	return e.view(), nil
}

// CompleteSale finishes the active ticket. The queue advances and the
// catalog stock drops before anything is written; recording and sharing
// run in the background and never roll the terminal back.
func (e *Engine) CompleteSale(payment checkout.Payment) (Sale, error) {
	if err := e.begin(); err != nil {
		return Sale{}, err
	}
	defer e.mu.Unlock()
	if err := checkout.RequireCollecting(e.stage); err != nil {
		return Sale{View: e.view()}, err
	}
	if !checkout.ValidShare(payment.ShareVia) {
		return Sale{View: e.view()}, fmt.Errorf("%w: share channel %q", checkout.ErrInvalidPayment, payment.ShareVia)
	}

	active, _ := e.state.Active()
	cfg := e.deps.Catalog.TaxConfig()
	draft, err := checkout.BuildDraft(checkout.DraftInput{
		BillNumber:      e.deps.Bills.Next(),
		TerminalID:      e.terminalID,
		Ticket:          active,
		TaxConfig:       cfg,
		SellerStateCode: cfg.SellerStateCode,
		Payment:         payment,
		Now:             e.deps.Now(),
	})
	if err != nil {
		return Sale{View: e.view()}, err
	}

	outcome, err := e.reduce(queue.CompleteTicket{ID: active.ID})
	if err != nil {
		return Sale{View: e.view()}, err
	}
	e.deps.Catalog.Decrement(store.SoldQuantities(draft.Items))
	e.stage = domain.StageBrowsing
	if outcome.Promoted {
		e.stage = checkout.StageFor(outcome.Ticket)
	}
	if outcome.SchedulePurge {
		e.schedulePurge()
	}
	e.session.PaymentMethod = payment.Method
	e.persist()

	if e.deps.Committer != nil {
		e.deps.Committer.Submit(draft)
	}
	if e.deps.Sharer != nil {
		e.deps.Sharer.Dispatch(payment.ShareVia, draft, e.deps.Catalog.Profile())
	}
	return Sale{Draft: draft, View: e.view()}, nil
}

// Close settles a pending purge, flushes the final state and releases the
// terminal's session.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.flushPurge()
	e.closed = true
	e.persist()
	if _, err := e.deps.Sessions.Release(ctx, e.terminalID); err != nil {
		return fmt.Errorf("release session %s: %w", e.terminalID, err)
	}
	return nil
}
