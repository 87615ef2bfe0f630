package share

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"counterpos/backend/internal/domain"
)

func sampleDraft() domain.CheckoutDraft {
	received, change := 300.0, 50.0
	return domain.CheckoutDraft{
		BillNumber:  "POS-ABC123",
		TerminalID:  "counter-1",
		TokenNumber: 4,
		Customer:    domain.DraftCustomer{Name: "Asha", Phone: "98765 43210"},
		Payment:     domain.DraftPayment{Method: domain.PaymentCash, Amount: 250, ReceivedAmount: &received, ChangeAmount: &change},
		Subtotal:    238.1,
		TotalTax:    11.9,
		Tax:         domain.TaxBreakdown{CGST: 5.95, SGST: 5.95},
		GrandTotal:  250,
		Items: []domain.CartLine{
			{Name: "Rice 1kg", Quantity: 2, UnitPriceExclTax: 95.24},
			{Name: "Soap", Quantity: 1, UnitPriceExclTax: 47.62},
		},
		CreatedAt: time.Date(2026, 3, 9, 18, 30, 0, 0, time.UTC),
	}
}

func TestBillTextTemplate(t *testing.T) {
	text := BillText(sampleDraft(), domain.CompanyProfile{Name: "Sharma Stores"})
	for _, want := range []string{
		"*Bill from Sharma Stores*",
		"Bill: POS-ABC123",
		"Customer: Asha",
		"Date: 09/03/2026",
		"1. Rice 1kg x2 = ₹190",
		"2. Soap x1 = ₹48",
		"*Total: ₹250.00*",
		"Payment: CASH",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in message:\n%s", want, text)
		}
	}
	if !strings.Contains(BillText(sampleDraft(), domain.CompanyProfile{}), "Bill from Our Store") {
		t.Fatalf("expected fallback shop name")
	}
}

func TestSMSAndWhatsAppShareTheSameLines(t *testing.T) {
	profile := domain.CompanyProfile{Name: "Sharma Stores"}
	sms := SMSText(sampleDraft(), profile)
	for _, want := range []string{
		"Bill from Sharma Stores",
		"Bill: POS-ABC123",
		"Date: 09/03/2026",
		"1. Rice 1kg x2 = ₹190",
		"2. Soap x1 = ₹48",
		"Total: ₹250.00",
		"Payment: CASH",
	} {
		if !strings.Contains(sms, want) {
			t.Fatalf("expected %q in sms text:\n%s", want, sms)
		}
	}
	if strings.Contains(sms, "*") {
		t.Fatalf("expected no bold markers in sms text:\n%s", sms)
	}
	if got := strings.ReplaceAll(BillText(sampleDraft(), profile), "*", ""); got != sms {
		t.Fatalf("expected sms and whatsapp bodies to match:\n%s\n---\n%s", got, sms)
	}

	sink := &sinkStub{}
	d := NewDispatcher(nil, sink, 0, 0)
	d.Dispatch(domain.ShareSMS, sampleDraft(), profile)
	d.Wait()
	if len(sink.events) != 1 {
		t.Fatalf("unexpected events %+v", sink.events)
	}
	delivery := sink.events[0].Payload.(domain.ShareDelivery)
	if delivery.Text != sms || !strings.HasPrefix(delivery.URL, "sms:98765 43210?body=") {
		t.Fatalf("unexpected sms delivery %+v", delivery)
	}
}

func TestLinks(t *testing.T) {
	if got := WhatsAppURL("98765-43210", "a b"); got != "https://wa.me/919876543210?text=a%20b" {
		t.Fatalf("unexpected whatsapp url %q", got)
	}
	if got := WhatsAppURL("", "hi"); got != "https://wa.me/?text=hi" {
		t.Fatalf("unexpected contact-picker url %q", got)
	}
	if got := SMSURL("9876543210", "Total: 5+5"); got != "sms:9876543210?body=Total%3A%205%2B5" {
		t.Fatalf("unexpected sms url %q", got)
	}
}

func TestReceiptFraming(t *testing.T) {
	out := Receipt(sampleDraft(), domain.CompanyProfile{Name: "Sharma Stores", GSTIN: "27AAAAA0000A1Z5"})
	if !bytes.HasPrefix(out, []byte{0x1b, 0x40}) || !bytes.HasSuffix(out, []byte{0x1d, 0x56, 0x41, 0x10}) {
		t.Fatalf("receipt is not framed with init and cut")
	}
	body := string(out)
	for _, want := range []string{"GSTIN: 27AAAAA0000A1Z5", "CGST     : 5.95", "Change   : 50.00", "Token: 4"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in receipt", want)
		}
	}
}

type sinkStub struct {
	mu     sync.Mutex
	events []domain.TerminalEvent
}

func (s *sinkStub) Publish(event domain.TerminalEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

type printerStub struct {
	err  error
	mu   sync.Mutex
	jobs [][]byte
}

func (p *printerStub) Print(_ context.Context, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, data)
	return p.err
}

func TestDispatchWhatsAppPublishesLink(t *testing.T) {
	sink := &sinkStub{}
	d := NewDispatcher(nil, sink, 0, 0)
	d.Dispatch(domain.ShareWhatsApp, sampleDraft(), domain.CompanyProfile{Name: "Sharma Stores"})
	d.Wait()

	if len(sink.events) != 1 || sink.events[0].Kind != domain.EventShareLink {
		t.Fatalf("unexpected events %+v", sink.events)
	}
	delivery := sink.events[0].Payload.(domain.ShareDelivery)
	if !strings.HasPrefix(delivery.URL, "https://wa.me/919876543210?text=") {
		t.Fatalf("unexpected url %q", delivery.URL)
	}
}

func TestDispatchPrintAndFailure(t *testing.T) {
	sink := &sinkStub{}
	printer := &printerStub{}
	d := NewDispatcher(printer, sink, 100, 10)
	d.Dispatch(domain.SharePrint, sampleDraft(), domain.CompanyProfile{})
	d.Wait()
	if len(printer.jobs) != 1 || sink.events[0].Kind != domain.EventSharePrinted {
		t.Fatalf("expected one printed job, got jobs=%d events=%+v", len(printer.jobs), sink.events)
	}

	printer.err = errors.New("paper out")
	d.Dispatch(domain.SharePrint, sampleDraft(), domain.CompanyProfile{})
	d.Wait()
	if last := sink.events[len(sink.events)-1]; last.Kind != domain.EventShareFailed {
		t.Fatalf("expected share.failed, got %+v", last)
	}
}

func TestDispatchNoneIsNoop(t *testing.T) {
	sink := &sinkStub{}
	d := NewDispatcher(nil, sink, 0, 0)
	d.Dispatch(domain.ShareNone, sampleDraft(), domain.CompanyProfile{})
	d.Dispatch("", sampleDraft(), domain.CompanyProfile{})
	d.Wait()
	if len(sink.events) != 0 {
		t.Fatalf("expected no events, got %+v", sink.events)
	}
}

func TestNetworkPrinterWritesBytes(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	got := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(conn)
		got <- buf.Bytes()
	}()

	p := NewNetworkPrinter(ln.Addr().String())
	if err := p.Print(context.Background(), []byte{0x1b, 0x40, 'h', 'i'}); err != nil {
		t.Fatalf("print: %v", err)
	}
	select {
	case data := <-got:
		if string(data[2:]) != "hi" {
			t.Fatalf("unexpected bytes %v", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("printer server received nothing")
	}
}
