package share

import (
	"fmt"
	"strings"

	"counterpos/backend/internal/domain"
)

var (
	escposInit = []byte{0x1b, 0x40}
	escposCut  = []byte{0x1d, 0x56, 0x41, 0x10}
)

func ReceiptLines(draft domain.CheckoutDraft, profile domain.CompanyProfile) []string {
	lines := []string{shopName(profile)}
	if profile.GSTIN != "" {
		lines = append(lines, "GSTIN: "+profile.GSTIN)
	}
	lines = append(lines,
		"================================",
		"Bill: "+draft.BillNumber,
		fmt.Sprintf("Token: %d", draft.TokenNumber),
		"Customer: "+draft.Customer.Name,
		"Date: "+draft.CreatedAt.Format("02/01/2006 15:04"),
		"--------------------------------",
	)
	for _, item := range draft.Items {
		lines = append(lines, fmt.Sprintf("%s x%d", item.Name, item.Quantity))
		lines = append(lines, fmt.Sprintf("  %.2f", item.UnitPriceExclTax*float64(item.Quantity)))
	}
	lines = append(lines,
		"--------------------------------",
		fmt.Sprintf("Subtotal : %.2f", draft.Subtotal),
	)
	if draft.Discount.DiscountAmount > 0 {
		lines = append(lines, fmt.Sprintf("Discount : %.2f", draft.Discount.DiscountAmount))
	}
	if draft.Tax.Interstate {
		lines = append(lines, fmt.Sprintf("IGST     : %.2f", draft.Tax.IGST))
	} else {
		lines = append(lines,
			fmt.Sprintf("CGST     : %.2f", draft.Tax.CGST),
			fmt.Sprintf("SGST     : %.2f", draft.Tax.SGST),
		)
	}
	if draft.RoundOff != 0 {
		lines = append(lines, fmt.Sprintf("Round off: %.2f", draft.RoundOff))
	}
	lines = append(lines,
		fmt.Sprintf("Total    : %.2f", draft.GrandTotal),
		"Payment  : "+strings.ToUpper(string(draft.Payment.Method)),
	)
	if draft.Payment.ReceivedAmount != nil && draft.Payment.ChangeAmount != nil {
		lines = append(lines,
			fmt.Sprintf("Paid     : %.2f", *draft.Payment.ReceivedAmount),
			fmt.Sprintf("Change   : %.2f", *draft.Payment.ChangeAmount),
		)
	}
	lines = append(lines, "================================", "Thank you!", "")
	return lines
}

// Receipt renders an ESC/POS byte stream ending in a partial cut.
func Receipt(draft domain.CheckoutDraft, profile domain.CompanyProfile) []byte {
	out := append([]byte{}, escposInit...)
	for _, line := range ReceiptLines(draft, profile) {
		out = append(out, []byte(line)...)
		out = append(out, '\n')
	}
	return append(out, escposCut...)
}
