package checkout

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"counterpos/backend/internal/cart"
	"counterpos/backend/internal/domain"
	"counterpos/backend/internal/tax"
)

type Payment struct {
	Method        domain.PaymentMethod `json:"method"`
	Tendered      *float64             `json:"tenderedAmount,omitempty"`
	TransactionID string               `json:"transactionId,omitempty"`
	ShareVia      domain.ShareChannel  `json:"shareVia,omitempty"`
}

type DraftInput struct {
	BillNumber      string
	TerminalID      string
	Ticket          domain.Ticket
	TaxConfig       domain.TaxConfig
	SellerStateCode string
	Payment         Payment
	Now             time.Time
}

func ValidMethod(method domain.PaymentMethod) bool {
	switch method {
	case domain.PaymentCash, domain.PaymentUPI, domain.PaymentCard, domain.PaymentCredit:
		return true
	}
	return false
}

func ValidShare(channel domain.ShareChannel) bool {
	switch channel {
	case "", domain.ShareNone, domain.ShareWhatsApp, domain.ShareSMS, domain.SharePrint:
		return true
	}
	return false
}

// BuildDraft snapshots a ticket into an immutable CheckoutDraft. Cash must
// cover the grand total; a missing cash tender counts as exact change.
func BuildDraft(in DraftInput) (domain.CheckoutDraft, error) {
	if !ValidMethod(in.Payment.Method) {
		return domain.CheckoutDraft{}, fmt.Errorf("%w: %q", ErrInvalidPayment, in.Payment.Method)
	}
	if len(in.Ticket.Lines) == 0 {
		return domain.CheckoutDraft{}, ErrEmptyCart
	}

	totals := cart.Summarize(in.Ticket.Lines, in.Ticket.Discount, in.TaxConfig.RoundOffTotals)
	payment := domain.DraftPayment{
		Method:        in.Payment.Method,
		Amount:        totals.GrandTotal,
		TransactionID: strings.TrimSpace(in.Payment.TransactionID),
	}
	if in.Payment.Method == domain.PaymentCash {
		received := totals.GrandTotal
		if in.Payment.Tendered != nil {
			received = tax.Round2(*in.Payment.Tendered)
		}
		if decimal.NewFromFloat(received).LessThan(decimal.NewFromFloat(totals.GrandTotal)) {
			return domain.CheckoutDraft{}, fmt.Errorf("%w: tendered %.2f, due %.2f", ErrInsufficientTender, received, totals.GrandTotal)
		}
		change := tax.Round2(received - totals.GrandTotal)
		payment.ReceivedAmount = &received
		payment.ChangeAmount = &change
	}

	seller := strings.TrimSpace(in.SellerStateCode)
	if seller == "" {
		seller = in.TaxConfig.SellerStateCode
	}
	buyer := in.Ticket.CustomerStateCode
	if buyer == "" {
		buyer = seller
	}

	items := make([]domain.CartLine, len(in.Ticket.Lines))
	copy(items, in.Ticket.Lines)

	discountType := in.Ticket.Discount.Type
	if discountType == "" {
		discountType = domain.DiscountAmount
	}

	return domain.CheckoutDraft{
		BillNumber:  in.BillNumber,
		TerminalID:  in.TerminalID,
		TokenNumber: in.Ticket.TokenNumber,
		Customer: domain.DraftCustomer{
			ID:       in.Ticket.CustomerID,
			Name:     in.Ticket.CustomerName,
			Phone:    in.Ticket.CustomerPhone,
			IsWalkIn: in.Ticket.CustomerID == "",
		},
		Payment: payment,
		Discount: domain.DraftDiscount{
			Type:           discountType,
			Value:          in.Ticket.Discount.Value,
			DiscountAmount: totals.DiscountAmount,
		},
		Subtotal:   totals.Subtotal,
		TotalTax:   totals.TotalTax,
		Tax:        Breakdown(items, seller, buyer),
		RoundOff:   totals.RoundOff,
		GrandTotal: totals.GrandTotal,
		Items:      items,
		CreatedAt:  in.Now,
	}, nil
}

// Breakdown sums the per-line GST split for an invoice.
func Breakdown(lines []domain.CartLine, sellerStateCode string, buyerStateCode string) domain.TaxBreakdown {
	cgst, sgst, igst := decimal.Zero, decimal.Zero, decimal.Zero
	interstate := false
	for _, line := range lines {
		taxable := decimal.NewFromFloat(line.UnitPriceExclTax).Mul(decimal.NewFromInt(int64(line.Quantity)))
		split := tax.SplitGST(taxable.InexactFloat64(), line.TaxRatePercent, sellerStateCode, buyerStateCode)
		cgst = cgst.Add(decimal.NewFromFloat(split.CGST))
		sgst = sgst.Add(decimal.NewFromFloat(split.SGST))
		igst = igst.Add(decimal.NewFromFloat(split.IGST))
		interstate = interstate || split.Interstate
	}
	return domain.TaxBreakdown{
		CGST:       cgst.Round(2).InexactFloat64(),
		SGST:       sgst.Round(2).InexactFloat64(),
		IGST:       igst.Round(2).InexactFloat64(),
		Interstate: interstate,
	}
}
