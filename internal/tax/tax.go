package tax

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"counterpos/backend/internal/domain"
)

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

// tenderDenominations are the notes a cashier rounds up to, largest first.
var tenderDenominations = []int64{500, 200, 100, 50, 20, 10}

// smallTotalNotes are offered as-is whenever they cover a total under 500.
var smallTotalNotes = []int64{100, 200, 500}

const maxTenderSuggestions = 6

type Split struct {
	CGSTRate   float64 `json:"cgstRate"`
	SGSTRate   float64 `json:"sgstRate"`
	IGSTRate   float64 `json:"igstRate"`
	CGST       float64 `json:"cgst"`
	SGST       float64 `json:"sgst"`
	IGST       float64 `json:"igst"`
	Interstate bool    `json:"interstate"`
}

func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// LineTax is round2(basePrice * quantity * ratePercent / 100).
func LineTax(basePrice float64, quantity int, ratePercent float64) float64 {
	amount := decimal.NewFromFloat(basePrice).
		Mul(decimal.NewFromInt(int64(quantity))).
		Mul(decimal.NewFromFloat(ratePercent)).
		Div(hundred)
	return amount.Round(2).InexactFloat64()
}

// BaseFromInclusive back-computes the pre-tax price of a tax-inclusive price.
func BaseFromInclusive(sellingPrice float64, ratePercent float64) float64 {
	divisor := decimal.NewFromInt(1).Add(decimal.NewFromFloat(ratePercent).Div(hundred))
	return decimal.NewFromFloat(sellingPrice).Div(divisor).Round(2).InexactFloat64()
}

// UnitPrice resolves the pre-tax unit price of a catalog item. An item
// without its own tax mode follows defaultMode.
func UnitPrice(item domain.CatalogItem, defaultMode domain.TaxMode) float64 {
	mode := item.TaxMode
	if mode == "" {
		mode = defaultMode
	}
	if mode == domain.TaxModeInclusive {
		return BaseFromInclusive(item.SellingPrice, item.TaxRatePercent)
	}
	return item.SellingPrice
}

// SplitGST splits ratePercent into CGST+SGST when seller and buyer share a
// state code and into IGST otherwise. An empty buyer code is a buyer in the
// seller's state.
func SplitGST(taxableAmount float64, ratePercent float64, sellerStateCode string, buyerStateCode string) Split {
	seller := strings.TrimSpace(sellerStateCode)
	buyer := strings.TrimSpace(buyerStateCode)
	base := decimal.NewFromFloat(taxableAmount)
	rate := decimal.NewFromFloat(ratePercent)

	if buyer == "" || buyer == seller {
		half := rate.Div(two)
		component := base.Mul(half).Div(hundred).Round(2).InexactFloat64()
		return Split{
			CGSTRate: half.InexactFloat64(),
			SGSTRate: half.InexactFloat64(),
			CGST:     component,
			SGST:     component,
		}
	}
	return Split{
		IGSTRate:   ratePercent,
		IGST:       base.Mul(rate).Div(hundred).Round(2).InexactFloat64(),
		Interstate: true,
	}
}

// StateCodeFromGSTIN returns the two-digit state prefix of a GSTIN, or ""
// when the value is not a 15-character GSTIN.
func StateCodeFromGSTIN(gstin string) string {
	gstin = strings.TrimSpace(gstin)
	if len(gstin) != 15 {
		return ""
	}
	if gstin[0] < '0' || gstin[0] > '9' || gstin[1] < '0' || gstin[1] > '9' {
		return ""
	}
	return gstin[:2]
}

// InvoiceDiscount never exceeds subtotal and is never negative.
func InvoiceDiscount(subtotal float64, discount domain.InvoiceDiscount) float64 {
	sub := decimal.NewFromFloat(subtotal)
	if !sub.IsPositive() {
		return 0
	}
	value := decimal.NewFromFloat(discount.Value)
	switch discount.Type {
	case domain.DiscountPercent:
		pct := decimal.Min(decimal.Max(value, decimal.Zero), hundred)
		return sub.Mul(pct).Div(hundred).Round(2).InexactFloat64()
	case domain.DiscountAmount:
		return decimal.Min(decimal.Max(value, decimal.Zero), sub).Round(2).InexactFloat64()
	default:
		return 0
	}
}

func GrandTotal(subtotal float64, totalTax float64, discountAmount float64) float64 {
	total := decimal.NewFromFloat(subtotal).
		Add(decimal.NewFromFloat(totalTax)).
		Sub(decimal.NewFromFloat(discountAmount))
	if total.IsNegative() {
		return 0
	}
	return total.Round(2).InexactFloat64()
}

// RoundOff is the adjustment that brings amount to the nearest rupee.
func RoundOff(amount float64) float64 {
	d := decimal.NewFromFloat(amount)
	return d.Round(0).Sub(d).Round(2).InexactFloat64()
}

// SuggestTenderedAmounts lists up to six ascending cash amounts a customer
// is likely to hand over for grandTotal.
func SuggestTenderedAmounts(grandTotal float64) []float64 {
	total := decimal.NewFromFloat(grandTotal)
	if !total.IsPositive() {
		return []float64{}
	}
	ceiling := total.Mul(two)

	seen := make(map[string]struct{}, len(tenderDenominations)+len(smallTotalNotes)+1)
	candidates := make([]decimal.Decimal, 0, len(tenderDenominations)+len(smallTotalNotes)+1)
	add := func(v decimal.Decimal) {
		key := v.String()
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		candidates = append(candidates, v)
	}

	ten := decimal.NewFromInt(10)
	add(total.Div(ten).Ceil().Mul(ten))
	for _, denom := range tenderDenominations {
		d := decimal.NewFromInt(denom)
		next := total.Div(d).Ceil().Mul(d)
		if next.LessThanOrEqual(ceiling) {
			add(next)
		}
	}
	if total.LessThan(decimal.NewFromInt(500)) {
		for _, note := range smallTotalNotes {
			if n := decimal.NewFromInt(note); n.GreaterThanOrEqual(total) {
				add(n)
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].LessThan(candidates[j])
	})
	if len(candidates) > maxTenderSuggestions {
		candidates = candidates[:maxTenderSuggestions]
	}

	out := make([]float64, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.InexactFloat64())
	}
	return out
}
