package cart

import (
	"fmt"
	"testing"

	"counterpos/backend/internal/domain"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("line-%d", n)
	}
}

var chai = domain.CatalogItem{
	ID:             "item-chai",
	Name:           "Masala Chai 250g",
	SellingPrice:   100,
	TaxRatePercent: 5,
	TaxMode:        domain.TaxModeExclusive,
	Stock:          3,
	Unit:           "pcs",
}

func TestAddLineAppendsThenIncrements(t *testing.T) {
	ids := sequentialIDs()
	ticket := domain.Ticket{ID: "t1"}

	ticket, added := AddLine(ticket, chai, 0, domain.TaxModeExclusive, ids)
	if !added || len(ticket.Lines) != 1 {
		t.Fatalf("expected one new line, got %+v", ticket.Lines)
	}
	if ticket.Lines[0].Quantity != 1 || ticket.Lines[0].TaxAmount != 5 {
		t.Fatalf("unexpected first line %+v", ticket.Lines[0])
	}

	ticket, added = AddLine(ticket, chai, 1, domain.TaxModeExclusive, ids)
	if !added || len(ticket.Lines) != 1 {
		t.Fatalf("expected existing line to be incremented, got %+v", ticket.Lines)
	}
	if ticket.Lines[0].Quantity != 2 || ticket.Lines[0].TaxAmount != 10 {
		t.Fatalf("expected qty 2 with tax 10, got %+v", ticket.Lines[0])
	}
}

func TestAddLineIsNoopWithoutStock(t *testing.T) {
	ticket := domain.Ticket{ID: "t1"}
	out, added := AddLine(ticket, chai, chai.Stock, domain.TaxModeExclusive, sequentialIDs())
	if added {
		t.Fatalf("expected add to be ignored when stock is fully reserved")
	}
	if len(out.Lines) != 0 {
		t.Fatalf("expected no lines, got %+v", out.Lines)
	}
}

func TestAddLineDoesNotMutateInput(t *testing.T) {
	ids := sequentialIDs()
	ticket, _ := AddLine(domain.Ticket{ID: "t1"}, chai, 0, domain.TaxModeExclusive, ids)
	before := ticket.Lines[0].Quantity
	_, _ = AddLine(ticket, chai, 1, domain.TaxModeExclusive, ids)
	if ticket.Lines[0].Quantity != before {
		t.Fatalf("expected input ticket to stay untouched")
	}
}

func TestAddLineBackComputesInclusivePrice(t *testing.T) {
	item := domain.CatalogItem{ID: "item-soap", Name: "Soap", SellingPrice: 118, TaxRatePercent: 18, Stock: 5}
	ticket, _ := AddLine(domain.Ticket{}, item, 0, domain.TaxModeInclusive, sequentialIDs())
	line := ticket.Lines[0]
	if line.UnitPriceExclTax != 100 || line.TaxAmount != 18 {
		t.Fatalf("expected base 100 with tax 18, got %+v", line)
	}
}

func TestUpdateQuantityRemovesZeroLines(t *testing.T) {
	ids := sequentialIDs()
	ticket, _ := AddLine(domain.Ticket{}, chai, 0, domain.TaxModeExclusive, ids)
	lineID := ticket.Lines[0].ID

	ticket = UpdateQuantity(ticket, lineID, 1, 2)
	if ticket.Lines[0].Quantity != 2 || ticket.Lines[0].TaxAmount != 10 {
		t.Fatalf("expected qty 2, got %+v", ticket.Lines[0])
	}

	ticket = UpdateQuantity(ticket, lineID, -5, 0)
	if len(ticket.Lines) != 0 {
		t.Fatalf("expected line to be removed at zero, got %+v", ticket.Lines)
	}
}

func TestUpdateQuantityCapsIncreaseAtAvailable(t *testing.T) {
	ticket, _ := AddLine(domain.Ticket{}, chai, 0, domain.TaxModeExclusive, sequentialIDs())
	lineID := ticket.Lines[0].ID

	ticket = UpdateQuantity(ticket, lineID, 10, 2)
	if ticket.Lines[0].Quantity != 3 {
		t.Fatalf("expected increase capped at stock, got %d", ticket.Lines[0].Quantity)
	}
	ticket = UpdateQuantity(ticket, lineID, 1, 0)
	if ticket.Lines[0].Quantity != 3 {
		t.Fatalf("expected no increase without stock, got %d", ticket.Lines[0].Quantity)
	}
}

func TestRemoveLineAndClear(t *testing.T) {
	ids := sequentialIDs()
	ticket, _ := AddLine(domain.Ticket{}, chai, 0, domain.TaxModeExclusive, ids)
	other := domain.CatalogItem{ID: "item-rice", Name: "Rice", SellingPrice: 60, Stock: 10}
	ticket, _ = AddLine(ticket, other, 0, domain.TaxModeExclusive, ids)

	ticket = RemoveLine(ticket, ticket.Lines[0].ID)
	if len(ticket.Lines) != 1 || ticket.Lines[0].CatalogItemID != "item-rice" {
		t.Fatalf("expected only rice to remain, got %+v", ticket.Lines)
	}
	ticket = Clear(ticket)
	if len(ticket.Lines) != 0 {
		t.Fatalf("expected empty cart after clear")
	}
}

func TestSummarizeCashScenario(t *testing.T) {
	lines := []domain.CartLine{
		{ID: "a", UnitPriceExclTax: 100, Quantity: 2},
		{ID: "b", UnitPriceExclTax: 50, Quantity: 1},
	}
	totals := Summarize(lines, domain.InvoiceDiscount{}, false)
	if totals.Subtotal != 250 || totals.TotalTax != 0 || totals.GrandTotal != 250 || totals.ItemCount != 3 {
		t.Fatalf("unexpected totals %+v", totals)
	}
}

func TestSummarizeDiscountDoesNotReduceLineTax(t *testing.T) {
	lines := []domain.CartLine{{ID: "a", UnitPriceExclTax: 500, Quantity: 1, TaxRatePercent: 18, TaxAmount: 90}}
	totals := Summarize(lines, domain.InvoiceDiscount{Type: domain.DiscountPercent, Value: 150}, false)
	if totals.DiscountAmount != 500 {
		t.Fatalf("expected discount capped at 500, got %v", totals.DiscountAmount)
	}
	if totals.TotalTax != 90 || totals.GrandTotal != 90 {
		t.Fatalf("expected tax to stay on the undiscounted base, got %+v", totals)
	}
}

func TestSummarizeRoundOff(t *testing.T) {
	lines := []domain.CartLine{{ID: "a", UnitPriceExclTax: 99.6, Quantity: 1}}
	totals := Summarize(lines, domain.InvoiceDiscount{}, true)
	if totals.RoundOff != 0.4 || totals.GrandTotal != 100 {
		t.Fatalf("expected round-off 0.4 to 100, got %+v", totals)
	}
}
