package queue

import (
	"errors"
	"fmt"
	"time"

	"counterpos/backend/internal/domain"
)

const (
	MaxTickets = 10
	// CompletedRetention bounds how long a completed ticket survives a
	// terminal restart.
	CompletedRetention = time.Hour
)

var (
	ErrCapacityExceeded = errors.New("ticket capacity exceeded")
	ErrTicketNotFound   = errors.New("ticket not found")
)

type State struct {
	Tickets   []domain.Ticket
	ActiveID  string
	LastToken int
}

type Env struct {
	Now   func() time.Time
	NewID func() string
}

// Outcome describes what a reduction did beyond the state change.
type Outcome struct {
	Ticket        domain.Ticket
	Promoted      bool
	SchedulePurge bool
}

type Action interface {
	apply(s State, env Env) (State, Outcome, error)
}

// Reduce returns the next State without touching s. Callers apply
// persistence and other side effects after it returns.
func Reduce(s State, action Action, env Env) (State, Outcome, error) {
	next, outcome, err := action.apply(s.clone(), env)
	if err != nil {
		return s, Outcome{}, err
	}
	return next, outcome, nil
}

// Restore rebuilds a terminal's queue from its persisted ticket book,
// dropping completed tickets older than CompletedRetention.
func Restore(book domain.TicketBook, env Env) State {
	now := env.Now()
	s := State{LastToken: book.LastToken, ActiveID: book.ActiveTicketID}
	for _, t := range book.Tickets {
		if t.Status == domain.TicketStatusCompleted && now.Sub(t.LastUpdated) > CompletedRetention {
			continue
		}
		if t.Lines == nil {
			t.Lines = []domain.CartLine{}
		}
		s.Tickets = append(s.Tickets, t)
		if t.TokenNumber > s.LastToken {
			s.LastToken = t.TokenNumber
		}
	}
	if s.OpenCount() == 0 {
		fresh := s.newTicket(env, "")
		s.Tickets = append(s.Tickets, fresh)
		s.ActiveID = fresh.ID
	}
	if idx := s.index(s.ActiveID); idx < 0 || s.Tickets[idx].Status == domain.TicketStatusCompleted {
		s.ActiveID = s.firstOpenID()
	}
	return s
}

func (s State) Book(terminalID string, at time.Time) domain.TicketBook {
	c := s.clone()
	return domain.TicketBook{
		TerminalID:     terminalID,
		Tickets:        c.Tickets,
		ActiveTicketID: c.ActiveID,
		LastToken:      c.LastToken,
		UpdatedAt:      at,
	}
}

func (s State) Active() (domain.Ticket, bool) {
	return s.Find(s.ActiveID)
}

func (s State) Find(id string) (domain.Ticket, bool) {
	if idx := s.index(id); idx >= 0 {
		return s.Tickets[idx], true
	}
	return domain.Ticket{}, false
}

// OpenCount counts tickets that are not completed.
func (s State) OpenCount() int {
	n := 0
	for _, t := range s.Tickets {
		if t.Status != domain.TicketStatusCompleted {
			n++
		}
	}
	return n
}

// Reserved sums the quantity of a catalog item across open tickets.
func (s State) Reserved(catalogItemID string) int {
	total := 0
	for _, t := range s.Tickets {
		if t.Status == domain.TicketStatusCompleted {
			continue
		}
		for _, line := range t.Lines {
			if line.CatalogItemID == catalogItemID {
				total += line.Quantity
			}
		}
	}
	return total
}

func (s State) clone() State {
	out := State{ActiveID: s.ActiveID, LastToken: s.LastToken}
	out.Tickets = make([]domain.Ticket, len(s.Tickets))
	for i, t := range s.Tickets {
		lines := make([]domain.CartLine, len(t.Lines))
		copy(lines, t.Lines)
		t.Lines = lines
		out.Tickets[i] = t
	}
	return out
}

func (s State) index(id string) int {
	for i, t := range s.Tickets {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (s State) firstOpenID() string {
	for _, t := range s.Tickets {
		if t.Status != domain.TicketStatusCompleted {
			return t.ID
		}
	}
	return ""
}

func (s State) nextToken() int {
	highest := s.LastToken
	for _, t := range s.Tickets {
		if t.TokenNumber > highest {
			highest = t.TokenNumber
		}
	}
	return highest + 1
}

// newTicket allocates a token and advances LastToken on s.
func (s *State) newTicket(env Env, customerName string) domain.Ticket {
	token := s.nextToken()
	s.LastToken = token
	if customerName == "" {
		customerName = fmt.Sprintf("Customer %d", token)
	}
	now := env.Now()
	return domain.Ticket{
		ID:           env.NewID(),
		TokenNumber:  token,
		CustomerName: customerName,
		Lines:        []domain.CartLine{},
		Status:       domain.TicketStatusActive,
		CreatedAt:    now,
		LastUpdated:  now,
	}
}

type CreateTicket struct {
	CustomerName string
}

func (a CreateTicket) apply(s State, env Env) (State, Outcome, error) {
	if s.OpenCount() >= MaxTickets {
		return s, Outcome{}, fmt.Errorf("%w: %d tickets already open", ErrCapacityExceeded, MaxTickets)
	}
	t := s.newTicket(env, a.CustomerName)
	s.Tickets = append(s.Tickets, t)
	s.ActiveID = t.ID
	return s, Outcome{Ticket: t}, nil
}

// SwitchTicket makes a ticket active. Completed tickets are ignored.
type SwitchTicket struct {
	ID string
}

func (a SwitchTicket) apply(s State, _ Env) (State, Outcome, error) {
	idx := s.index(a.ID)
	if idx < 0 {
		return s, Outcome{}, fmt.Errorf("%w: %s", ErrTicketNotFound, a.ID)
	}
	t := s.Tickets[idx]
	if t.Status == domain.TicketStatusCompleted {
		active, _ := s.Active()
		return s, Outcome{Ticket: active}, nil
	}
	s.ActiveID = t.ID
	return s, Outcome{Ticket: t}, nil
}

// RemoveTicket deletes a ticket. Removing the only open ticket replaces it
// in place with a fresh one so the queue is never empty.
type RemoveTicket struct {
	ID string
}

func (a RemoveTicket) apply(s State, env Env) (State, Outcome, error) {
	idx := s.index(a.ID)
	if idx < 0 {
		return s, Outcome{}, fmt.Errorf("%w: %s", ErrTicketNotFound, a.ID)
	}
	target := s.Tickets[idx]

	if target.Status != domain.TicketStatusCompleted && s.OpenCount() == 1 {
		fresh := s.newTicket(env, "")
		s.Tickets[idx] = fresh
		s.ActiveID = fresh.ID
		return s, Outcome{Ticket: fresh}, nil
	}

	wasActive := s.ActiveID == target.ID
	s.Tickets = append(s.Tickets[:idx], s.Tickets[idx+1:]...)
	if s.OpenCount() == 0 {
		fresh := s.newTicket(env, "")
		s.Tickets = append(s.Tickets, fresh)
		s.ActiveID = fresh.ID
		return s, Outcome{Ticket: fresh}, nil
	}
	if wasActive {
		switch {
		case idx < len(s.Tickets):
			s.ActiveID = s.Tickets[idx].ID
		case idx > 0:
			s.ActiveID = s.Tickets[idx-1].ID
		default:
			s.ActiveID = ""
		}
		if t, ok := s.Active(); !ok || t.Status == domain.TicketStatusCompleted {
			s.ActiveID = s.firstOpenID()
		}
	}
	active, _ := s.Active()
	return s, Outcome{Ticket: active}, nil
}

type MarkProcessing struct {
	ID string
}

func (a MarkProcessing) apply(s State, env Env) (State, Outcome, error) {
	return setStatus(s, env, a.ID, domain.TicketStatusActive, domain.TicketStatusProcessing)
}

// ReturnToActive undoes MarkProcessing when checkout is cancelled.
type ReturnToActive struct {
	ID string
}

func (a ReturnToActive) apply(s State, env Env) (State, Outcome, error) {
	return setStatus(s, env, a.ID, domain.TicketStatusProcessing, domain.TicketStatusActive)
}

func setStatus(s State, env Env, id string, from domain.TicketStatus, to domain.TicketStatus) (State, Outcome, error) {
	idx := s.index(id)
	if idx < 0 {
		return s, Outcome{}, fmt.Errorf("%w: %s", ErrTicketNotFound, id)
	}
	if s.Tickets[idx].Status == from {
		s.Tickets[idx].Status = to
		s.Tickets[idx].LastUpdated = env.Now()
	}
	return s, Outcome{Ticket: s.Tickets[idx]}, nil
}

// CompleteTicket marks a ticket completed, clears it, and picks the next
// ticket to show. An active sibling with items is promoted at once and the
// completed ticket is dropped; otherwise the outcome asks for a purge after
// a grace delay and the completed ticket stays in place until then.
type CompleteTicket struct {
	ID string
}

func (a CompleteTicket) apply(s State, env Env) (State, Outcome, error) {
	idx := s.index(a.ID)
	if idx < 0 {
		return s, Outcome{}, fmt.Errorf("%w: %s", ErrTicketNotFound, a.ID)
	}
	now := env.Now()
	s.Tickets[idx].Status = domain.TicketStatusCompleted
	s.Tickets[idx].Lines = []domain.CartLine{}
	s.Tickets[idx].IsInCheckout = false
	s.Tickets[idx].LastUpdated = now

	for _, t := range s.Tickets {
		if t.ID == a.ID || t.Status != domain.TicketStatusActive || len(t.Lines) == 0 {
			continue
		}
		s.Tickets = append(s.Tickets[:idx], s.Tickets[idx+1:]...)
		s.ActiveID = t.ID
		return s, Outcome{Ticket: t, Promoted: true}, nil
	}

	return s, Outcome{Ticket: s.Tickets[idx], SchedulePurge: true}, nil
}

// PurgeCompleted drops completed tickets and guarantees an open active one.
type PurgeCompleted struct{}

func (PurgeCompleted) apply(s State, env Env) (State, Outcome, error) {
	kept := s.Tickets[:0]
	for _, t := range s.Tickets {
		if t.Status != domain.TicketStatusCompleted {
			kept = append(kept, t)
		}
	}
	s.Tickets = kept

	if len(s.Tickets) == 0 {
		fresh := s.newTicket(env, "")
		s.Tickets = append(s.Tickets, fresh)
	}
	if s.index(s.ActiveID) < 0 {
		s.ActiveID = s.Tickets[0].ID
	}
	active, _ := s.Active()
	return s, Outcome{Ticket: active}, nil
}

// UpdateTicket replaces a ticket with fn(ticket) and stamps LastUpdated.
// Identity fields are preserved.
type UpdateTicket struct {
	ID string
	Fn func(domain.Ticket) domain.Ticket
}

func (a UpdateTicket) apply(s State, env Env) (State, Outcome, error) {
	idx := s.index(a.ID)
	if idx < 0 {
		return s, Outcome{}, fmt.Errorf("%w: %s", ErrTicketNotFound, a.ID)
	}
	current := s.Tickets[idx]
	updated := a.Fn(current)
	updated.ID = current.ID
	updated.TokenNumber = current.TokenNumber
	updated.CreatedAt = current.CreatedAt
	if updated.Lines == nil {
		updated.Lines = []domain.CartLine{}
	}
	updated.LastUpdated = env.Now()
	s.Tickets[idx] = updated
	return s, Outcome{Ticket: updated}, nil
}
