package events

import (
	"fmt"
	"testing"
	"time"

	"counterpos/backend/internal/domain"
)

func TestSubscribersOnlySeeTheirTerminal(t *testing.T) {
	hub := NewHub(0)
	one := hub.Subscribe("counter-1")
	defer one.Cancel()
	two := hub.Subscribe("counter-2")
	defer two.Cancel()

	hub.Publish(domain.TerminalEvent{Kind: domain.EventSaleRecorded, TerminalID: "counter-1", BillNumber: "POS-1"})

	select {
	case ev := <-one.C:
		if ev.BillNumber != "POS-1" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected event for counter-1")
	}
	select {
	case ev := <-two.C:
		t.Fatalf("counter-2 should not receive %+v", ev)
	default:
	}
}

func TestRecentKeepsBoundedHistory(t *testing.T) {
	hub := NewHub(3)
	for i := 1; i <= 5; i++ {
		hub.Publish(domain.TerminalEvent{Kind: domain.EventShareLink, TerminalID: "counter-1", BillNumber: fmt.Sprintf("POS-%d", i)})
	}
	recent := hub.Recent("counter-1", 0)
	if len(recent) != 3 || recent[0].BillNumber != "POS-3" || recent[2].BillNumber != "POS-5" {
		t.Fatalf("unexpected history %+v", recent)
	}
	if last := hub.Recent("counter-1", 1); len(last) != 1 || last[0].BillNumber != "POS-5" {
		t.Fatalf("unexpected limited history %+v", last)
	}
	if none := hub.Recent("counter-9", 10); len(none) != 0 {
		t.Fatalf("expected no history, got %+v", none)
	}
}

func TestPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	hub := NewHub(0)
	sub := hub.Subscribe("counter-1")
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuf*3; i++ {
			hub.Publish(domain.TerminalEvent{Kind: domain.EventSaleFailed, TerminalID: "counter-1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
	sub.Cancel()
	sub.Cancel()
	for range sub.C {
	}
}
