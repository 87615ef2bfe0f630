package cart

import (
	"github.com/shopspring/decimal"

	"counterpos/backend/internal/domain"
	"counterpos/backend/internal/tax"
)

type Totals struct {
	ItemCount      int     `json:"itemCount"`
	Subtotal       float64 `json:"subtotal"`
	TotalTax       float64 `json:"totalTax"`
	DiscountAmount float64 `json:"discountAmount"`
	RoundOff       float64 `json:"roundOff"`
	GrandTotal     float64 `json:"grandTotal"`
}

// AvailableStock is the catalog stock minus what the terminal's open tickets
// already hold.
func AvailableStock(item domain.CatalogItem, reserved int) int {
	return item.Stock - reserved
}

// AddLine adds one unit of item to the ticket. It reports false and leaves
// the ticket untouched when no stock is available.
func AddLine(ticket domain.Ticket, item domain.CatalogItem, reserved int, defaultMode domain.TaxMode, newID func() string) (domain.Ticket, bool) {
	if AvailableStock(item, reserved) <= 0 {
		return ticket, false
	}

	lines := cloneLines(ticket.Lines)
	for i := range lines {
		if lines[i].CatalogItemID != item.ID {
			continue
		}
		lines[i].Quantity++
		lines[i].TaxAmount = tax.LineTax(lines[i].UnitPriceExclTax, lines[i].Quantity, lines[i].TaxRatePercent)
		ticket.Lines = lines
		return ticket, true
	}

	base := tax.UnitPrice(item, defaultMode)
	lines = append(lines, domain.CartLine{
		ID:               newID(),
		CatalogItemID:    item.ID,
		Name:             item.Name,
		UnitPriceExclTax: base,
		Quantity:         1,
		TaxRatePercent:   item.TaxRatePercent,
		TaxAmount:        tax.LineTax(base, 1, item.TaxRatePercent),
		Unit:             item.Unit,
	})
	ticket.Lines = lines
	return ticket, true
}

// UpdateQuantity moves a line's quantity by delta, never below zero and never
// more than available units upward. Lines reaching zero are dropped.
func UpdateQuantity(ticket domain.Ticket, lineID string, delta int, available int) domain.Ticket {
	if delta > 0 && delta > available {
		delta = available
		if delta < 0 {
			delta = 0
		}
	}

	lines := make([]domain.CartLine, 0, len(ticket.Lines))
	for _, line := range ticket.Lines {
		if line.ID == lineID {
			qty := line.Quantity + delta
			if qty <= 0 {
				continue
			}
			line.Quantity = qty
			line.TaxAmount = tax.LineTax(line.UnitPriceExclTax, qty, line.TaxRatePercent)
		}
		lines = append(lines, line)
	}
	ticket.Lines = lines
	return ticket
}

func RemoveLine(ticket domain.Ticket, lineID string) domain.Ticket {
	lines := make([]domain.CartLine, 0, len(ticket.Lines))
	for _, line := range ticket.Lines {
		if line.ID == lineID {
			continue
		}
		lines = append(lines, line)
	}
	ticket.Lines = lines
	return ticket
}

func Clear(ticket domain.Ticket) domain.Ticket {
	ticket.Lines = []domain.CartLine{}
	return ticket
}

func FindLine(lines []domain.CartLine, lineID string) (domain.CartLine, bool) {
	for _, line := range lines {
		if line.ID == lineID {
			return line, true
		}
	}
	return domain.CartLine{}, false
}

func ItemCount(lines []domain.CartLine) int {
	count := 0
	for _, line := range lines {
		count += line.Quantity
	}
	return count
}

func Subtotal(lines []domain.CartLine) float64 {
	sum := decimal.Zero
	for _, line := range lines {
		sum = sum.Add(decimal.NewFromFloat(line.UnitPriceExclTax).Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return sum.Round(2).InexactFloat64()
}

func TotalTax(lines []domain.CartLine) float64 {
	sum := decimal.Zero
	for _, line := range lines {
		sum = sum.Add(decimal.NewFromFloat(line.TaxAmount))
	}
	return sum.Round(2).InexactFloat64()
}

// Summarize computes invoice totals. The discount comes off the pre-tax
// subtotal; line tax stays on the undiscounted line amounts.
func Summarize(lines []domain.CartLine, discount domain.InvoiceDiscount, roundOffTotals bool) Totals {
	subtotal := Subtotal(lines)
	totalTax := TotalTax(lines)
	discountAmount := tax.InvoiceDiscount(subtotal, discount)
	grand := tax.GrandTotal(subtotal, totalTax, discountAmount)

	totals := Totals{
		ItemCount:      ItemCount(lines),
		Subtotal:       subtotal,
		TotalTax:       totalTax,
		DiscountAmount: discountAmount,
		GrandTotal:     grand,
	}
	if roundOffTotals {
		totals.RoundOff = tax.RoundOff(grand)
		totals.GrandTotal = tax.Round2(grand + totals.RoundOff)
	}
	return totals
}

func cloneLines(lines []domain.CartLine) []domain.CartLine {
	out := make([]domain.CartLine, len(lines))
	copy(out, lines)
	return out
}
