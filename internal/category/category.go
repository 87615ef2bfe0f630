package category

import "strings"

type Group int

const (
	General Group = iota
	Grocery
	Stationery
	Cosmetics
	Household
	Food
	Beverages
	Snacks
	Health
	Baby
	Electronics
	Clothing
	Pets
	OralCare
	Cleaning
	Dairy
	Gifts
)

var groupNames = map[Group]string{
	General:     "general",
	Grocery:     "grocery",
	Stationery:  "stationery",
	Cosmetics:   "cosmetics",
	Household:   "household",
	Food:        "food",
	Beverages:   "beverages",
	Snacks:      "snacks",
	Health:      "health",
	Baby:        "baby",
	Electronics: "electronics",
	Clothing:    "clothing",
	Pets:        "pets",
	OralCare:    "oral_care",
	Cleaning:    "cleaning",
	Dairy:       "dairy",
	Gifts:       "gifts",
}

func (g Group) String() string {
	if name, ok := groupNames[g]; ok {
		return name
	}
	return groupNames[General]
}

func (g Group) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// exact holds category labels as they are commonly typed.
var exact = map[string]Group{
	"Grocery":                Grocery,
	"Groceries":              Grocery,
	"Stationery":             Stationery,
	"Cosmetics":              Cosmetics,
	"Beauty":                 Cosmetics,
	"Home":                   Household,
	"Household":              Household,
	"Food":                   Food,
	"Beverages":              Beverages,
	"Drinks":                 Beverages,
	"Snacks":                 Snacks,
	"Biscuits & Cookies":     Snacks,
	"Medicine":               Health,
	"Health":                 Health,
	"Baby Care":              Baby,
	"Electronics":            Electronics,
	"Clothing":               Clothing,
	"Pet Supplies":           Pets,
	"Toothpaste & Oral Care": OralCare,
	"Cleaning":               Cleaning,
	"Dairy & Milk Products":  Dairy,
	"Gifts":                  Gifts,
	"Uncategorized":          General,
	"Others":                 General,
	"General":                General,
}

// keywords are tried in order, so "baby food" resolves to Food.
var keywords = []struct {
	word  string
	group Group
}{
	{"grocery", Grocery},
	{"stationery", Stationery},
	{"cosmetic", Cosmetics},
	{"home", Household},
	{"food", Food},
	{"beverage", Beverages},
	{"snack", Snacks},
	{"medicine", Health},
	{"health", Health},
	{"baby", Baby},
	{"electronic", Electronics},
	{"cloth", Clothing},
	{"pet", Pets},
	{"tooth", OralCare},
	{"clean", Cleaning},
}

// Resolve tries an exact label, then a case-insensitive label, then the
// keyword list, and falls back to General.
func Resolve(label string) Group {
	label = strings.TrimSpace(label)
	if label == "" {
		return General
	}
	if g, ok := exact[label]; ok {
		return g
	}
	lower := strings.ToLower(label)
	for name, g := range exact {
		if strings.ToLower(name) == lower {
			return g
		}
	}
	for _, kw := range keywords {
		if strings.Contains(lower, kw.word) {
			return kw.group
		}
	}
	return General
}
