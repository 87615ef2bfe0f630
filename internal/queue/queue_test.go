package queue

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"counterpos/backend/internal/domain"
)

func testEnv() Env {
	n := 0
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return Env{
		Now: func() time.Time { return now },
		NewID: func() string {
			n++
			return fmt.Sprintf("tkt-%d", n)
		},
	}
}

func mustReduce(t *testing.T, s State, a Action, env Env) (State, Outcome) {
	t.Helper()
	next, out, err := Reduce(s, a, env)
	if err != nil {
		t.Fatalf("reduce %T: %v", a, err)
	}
	return next, out
}

func withLine(itemID string, qty int) func(domain.Ticket) domain.Ticket {
	return func(tk domain.Ticket) domain.Ticket {
		tk.Lines = append(tk.Lines, domain.CartLine{ID: "l-" + itemID, CatalogItemID: itemID, Quantity: qty, UnitPriceExclTax: 10})
		return tk
	}
}

func TestRestoreEmptyBookCreatesFirstTicket(t *testing.T) {
	s := Restore(domain.TicketBook{}, testEnv())
	if len(s.Tickets) != 1 || s.Tickets[0].TokenNumber != 1 {
		t.Fatalf("expected one ticket with token 1, got %+v", s.Tickets)
	}
	if s.ActiveID != s.Tickets[0].ID {
		t.Fatalf("expected first ticket to be active")
	}
}

func TestRestoreDropsOldCompletedTickets(t *testing.T) {
	env := testEnv()
	now := env.Now()
	book := domain.TicketBook{
		Tickets: []domain.Ticket{
			{ID: "old", TokenNumber: 4, Status: domain.TicketStatusCompleted, LastUpdated: now.Add(-2 * time.Hour)},
			{ID: "recent", TokenNumber: 5, Status: domain.TicketStatusCompleted, LastUpdated: now.Add(-10 * time.Minute)},
			{ID: "open", TokenNumber: 6, Status: domain.TicketStatusActive, LastUpdated: now},
		},
		ActiveTicketID: "recent",
	}
	s := Restore(book, env)
	if _, ok := s.Find("old"); ok {
		t.Fatalf("expected completed ticket older than an hour to be dropped")
	}
	if _, ok := s.Find("recent"); !ok {
		t.Fatalf("expected recent completed ticket to survive")
	}
	if s.ActiveID != "open" {
		t.Fatalf("expected open ticket to become active, got %q", s.ActiveID)
	}
	if s.LastToken != 6 {
		t.Fatalf("expected token high-water mark 6, got %d", s.LastToken)
	}
}

func TestCreateTicketCapacity(t *testing.T) {
	env := testEnv()
	s := Restore(domain.TicketBook{}, env)
	for i := 1; i < MaxTickets; i++ {
		s, _ = mustReduce(t, s, CreateTicket{}, env)
	}
	if s.OpenCount() != MaxTickets {
		t.Fatalf("expected %d open tickets, got %d", MaxTickets, s.OpenCount())
	}
	_, _, err := Reduce(s, CreateTicket{}, env)
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected capacity error, got %v", err)
	}
}

func TestTokenNumbersIncreaseAfterRemoval(t *testing.T) {
	env := testEnv()
	s := Restore(domain.TicketBook{}, env)
	s, created := mustReduce(t, s, CreateTicket{}, env)
	if created.Ticket.TokenNumber != 2 {
		t.Fatalf("expected token 2, got %d", created.Ticket.TokenNumber)
	}
	s, _ = mustReduce(t, s, RemoveTicket{ID: created.Ticket.ID}, env)
	s, next := mustReduce(t, s, CreateTicket{}, env)
	if next.Ticket.TokenNumber != 3 {
		t.Fatalf("expected token 3 after removing token 2, got %d", next.Ticket.TokenNumber)
	}
	_ = s
}

func TestQueueNeverEmptyAndTokensMonotonic(t *testing.T) {
	env := testEnv()
	rng := rand.New(rand.NewSource(42))
	s := Restore(domain.TicketBook{}, env)
	lastToken := 1

	for step := 0; step < 500; step++ {
		if rng.Intn(2) == 0 {
			next, out, err := Reduce(s, CreateTicket{}, env)
			if err != nil {
				if !errors.Is(err, ErrCapacityExceeded) {
					t.Fatalf("step %d: unexpected error %v", step, err)
				}
				continue
			}
			if out.Ticket.TokenNumber <= lastToken {
				t.Fatalf("step %d: token %d did not increase past %d", step, out.Ticket.TokenNumber, lastToken)
			}
			lastToken = out.Ticket.TokenNumber
			s = next
		} else {
			target := s.Tickets[rng.Intn(len(s.Tickets))]
			next, out, err := Reduce(s, RemoveTicket{ID: target.ID}, env)
			if err != nil {
				t.Fatalf("step %d: %v", step, err)
			}
			if out.Ticket.TokenNumber > lastToken {
				lastToken = out.Ticket.TokenNumber
			}
			s = next
		}
		if s.OpenCount() < 1 {
			t.Fatalf("step %d: queue became empty", step)
		}
		if _, ok := s.Active(); !ok {
			t.Fatalf("step %d: active ticket %q missing", step, s.ActiveID)
		}
	}
}

func TestRemoveOnlyTicketReplacesInPlace(t *testing.T) {
	env := testEnv()
	s := Restore(domain.TicketBook{}, env)
	only := s.Tickets[0]
	s, out := mustReduce(t, s, RemoveTicket{ID: only.ID}, env)
	if len(s.Tickets) != 1 || s.Tickets[0].ID == only.ID {
		t.Fatalf("expected a fresh replacement ticket, got %+v", s.Tickets)
	}
	if out.Ticket.TokenNumber != 2 || s.ActiveID != out.Ticket.ID {
		t.Fatalf("expected fresh active ticket with token 2, got %+v", out.Ticket)
	}
}

func TestRemoveActivePicksNextThenPrevious(t *testing.T) {
	env := testEnv()
	s := Restore(domain.TicketBook{}, env)
	s, _ = mustReduce(t, s, CreateTicket{}, env)
	s, _ = mustReduce(t, s, CreateTicket{}, env)
	first, middle, last := s.Tickets[0], s.Tickets[1], s.Tickets[2]

	s, _ = mustReduce(t, s, SwitchTicket{ID: middle.ID}, env)
	s, _ = mustReduce(t, s, RemoveTicket{ID: middle.ID}, env)
	if s.ActiveID != last.ID {
		t.Fatalf("expected next ticket to become active, got %q", s.ActiveID)
	}
	s, _ = mustReduce(t, s, RemoveTicket{ID: last.ID}, env)
	if s.ActiveID != first.ID {
		t.Fatalf("expected previous ticket to become active, got %q", s.ActiveID)
	}
}

func TestSwitchIgnoresCompletedTicket(t *testing.T) {
	env := testEnv()
	s := Restore(domain.TicketBook{}, env)
	done := s.Tickets[0]
	s, _ = mustReduce(t, s, CreateTicket{}, env)
	other := s.ActiveID
	s, _ = mustReduce(t, s, CompleteTicket{ID: done.ID}, env)
	s, _ = mustReduce(t, s, SwitchTicket{ID: other}, env)

	s, _ = mustReduce(t, s, SwitchTicket{ID: done.ID}, env)
	if s.ActiveID != other {
		t.Fatalf("expected switch to completed ticket to be ignored")
	}
}

func TestCompleteTicketPromotesSiblingWithItems(t *testing.T) {
	env := testEnv()
	s := Restore(domain.TicketBook{}, env)
	first := s.Tickets[0]
	s, _ = mustReduce(t, s, CreateTicket{}, env)
	s, _ = mustReduce(t, s, CreateTicket{}, env)
	withItems := s.Tickets[2]
	s, _ = mustReduce(t, s, UpdateTicket{ID: withItems.ID, Fn: withLine("rice", 2)}, env)
	s, _ = mustReduce(t, s, UpdateTicket{ID: first.ID, Fn: withLine("dal", 1)}, env)
	s, _ = mustReduce(t, s, SwitchTicket{ID: first.ID}, env)

	s, out := mustReduce(t, s, CompleteTicket{ID: first.ID}, env)
	if !out.Promoted || out.SchedulePurge {
		t.Fatalf("expected immediate promotion, got %+v", out)
	}
	if s.ActiveID != withItems.ID {
		t.Fatalf("expected ticket with items to be active, got %q", s.ActiveID)
	}
	if _, ok := s.Find(first.ID); ok {
		t.Fatalf("expected completed ticket to be removed immediately")
	}
}

func TestCompleteTicketWithoutSiblingSchedulesPurge(t *testing.T) {
	env := testEnv()
	s := Restore(domain.TicketBook{}, env)
	only := s.Tickets[0]
	s, _ = mustReduce(t, s, UpdateTicket{ID: only.ID, Fn: withLine("rice", 1)}, env)

	s, out := mustReduce(t, s, CompleteTicket{ID: only.ID}, env)
	if !out.SchedulePurge || out.Promoted {
		t.Fatalf("expected a scheduled purge, got %+v", out)
	}
	done, _ := s.Find(only.ID)
	if done.Status != domain.TicketStatusCompleted || len(done.Lines) != 0 {
		t.Fatalf("expected completed empty ticket, got %+v", done)
	}

	s, _ = mustReduce(t, s, PurgeCompleted{}, env)
	if len(s.Tickets) != 1 || s.Tickets[0].ID == only.ID {
		t.Fatalf("expected purge to leave one fresh ticket, got %+v", s.Tickets)
	}
	if s.Tickets[0].TokenNumber != 2 || s.ActiveID != s.Tickets[0].ID {
		t.Fatalf("expected fresh active ticket with token 2, got %+v", s.Tickets[0])
	}
}

func TestPurgeKeepsEmptyOpenTickets(t *testing.T) {
	env := testEnv()
	s := Restore(domain.TicketBook{}, env)
	first := s.Tickets[0]
	s, created := mustReduce(t, s, CreateTicket{}, env)
	s, _ = mustReduce(t, s, SwitchTicket{ID: first.ID}, env)
	s, _ = mustReduce(t, s, CompleteTicket{ID: first.ID}, env)
	s, _ = mustReduce(t, s, PurgeCompleted{}, env)
	if len(s.Tickets) != 1 || s.ActiveID != created.Ticket.ID {
		t.Fatalf("expected remaining open ticket to become active, got %+v", s)
	}
}

func TestProcessingRoundTrip(t *testing.T) {
	env := testEnv()
	s := Restore(domain.TicketBook{}, env)
	id := s.ActiveID
	s, out := mustReduce(t, s, MarkProcessing{ID: id}, env)
	if out.Ticket.Status != domain.TicketStatusProcessing {
		t.Fatalf("expected processing, got %s", out.Ticket.Status)
	}
	s, out = mustReduce(t, s, ReturnToActive{ID: id}, env)
	if out.Ticket.Status != domain.TicketStatusActive {
		t.Fatalf("expected active, got %s", out.Ticket.Status)
	}
}

func TestReservedCountsOpenTicketsOnly(t *testing.T) {
	env := testEnv()
	s := Restore(domain.TicketBook{}, env)
	first := s.Tickets[0]
	s, second := mustReduce(t, s, CreateTicket{}, env)
	s, _ = mustReduce(t, s, UpdateTicket{ID: first.ID, Fn: withLine("rice", 2)}, env)
	s, _ = mustReduce(t, s, UpdateTicket{ID: second.Ticket.ID, Fn: withLine("rice", 3)}, env)
	if got := s.Reserved("rice"); got != 5 {
		t.Fatalf("expected 5 reserved, got %d", got)
	}
}

func TestReduceLeavesInputUntouched(t *testing.T) {
	env := testEnv()
	s := Restore(domain.TicketBook{}, env)
	id := s.ActiveID
	_, _ = mustReduce(t, s, UpdateTicket{ID: id, Fn: withLine("rice", 1)}, env)
	if len(s.Tickets[0].Lines) != 0 {
		t.Fatalf("expected original state to be unchanged")
	}
	_, _, err := Reduce(s, SwitchTicket{ID: "missing"}, env)
	if !errors.Is(err, ErrTicketNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
