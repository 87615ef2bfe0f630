package share

import (
	"fmt"
	"net/url"
	"strings"

	"counterpos/backend/internal/domain"
)

const fallbackShopName = "Our Store"

func shopName(profile domain.CompanyProfile) string {
	if name := strings.TrimSpace(profile.Name); name != "" {
		return name
	}
	return fallbackShopName
}

// BillText is the bill summary shared over WhatsApp and SMS.
func BillText(draft domain.CheckoutDraft, profile domain.CompanyProfile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Bill from %s*\n\n", shopName(profile))
	fmt.Fprintf(&b, "Bill: %s\n", draft.BillNumber)
	fmt.Fprintf(&b, "Customer: %s\n", draft.Customer.Name)
	fmt.Fprintf(&b, "Date: %s\n\n", draft.CreatedAt.Format("02/01/2006"))
	b.WriteString("*Items:*\n")
	for i, item := range draft.Items {
		amount := item.UnitPriceExclTax * float64(item.Quantity)
		fmt.Fprintf(&b, "%d. %s x%d = ₹%.0f\n", i+1, item.Name, item.Quantity, amount)
	}
	fmt.Fprintf(&b, "\n*Total: ₹%.2f*\n", draft.GrandTotal)
	fmt.Fprintf(&b, "Payment: %s\n\n", strings.ToUpper(string(draft.Payment.Method)))
	b.WriteString("Thank you!")
	return b.String()
}

// SMSText is BillText without the WhatsApp bold markers.
func SMSText(draft domain.CheckoutDraft, profile domain.CompanyProfile) string {
	return strings.ReplaceAll(BillText(draft, profile), "*", "")
}

// encode matches encodeURIComponent: spaces become %20, not '+'.
func encode(text string) string {
	return strings.ReplaceAll(url.QueryEscape(text), "+", "%20")
}

func digits(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// WhatsAppURL links to an Indian number when a phone is known and to the
// contact picker otherwise.
func WhatsAppURL(phone string, text string) string {
	encoded := encode(text)
	if d := digits(phone); d != "" {
		return "https://wa.me/91" + d + "?text=" + encoded
	}
	return "https://wa.me/?text=" + encoded
}

func SMSURL(phone string, text string) string {
	return "sms:" + strings.TrimSpace(phone) + "?body=" + encode(text)
}
