package category

import "testing"

func TestResolve(t *testing.T) {
	cases := []struct {
		label string
		want  Group
	}{
		{"Grocery", Grocery},
		{"dairy & milk products", Dairy},
		{"  Toothpaste & Oral Care ", OralCare},
		{"Baby food", Food},
		{"Home Cleaning Supplies", Household},
		{"Floor cleaners", Cleaning},
		{"Soft Drinks & Beverages", Beverages},
		{"Hardware", General},
		{"", General},
	}
	for _, tc := range cases {
		if got := Resolve(tc.label); got != tc.want {
			t.Fatalf("Resolve(%q) = %s, want %s", tc.label, got, tc.want)
		}
	}
}

func TestGroupText(t *testing.T) {
	if OralCare.String() != "oral_care" {
		t.Fatalf("unexpected name %q", OralCare.String())
	}
	if Group(99).String() != "general" {
		t.Fatalf("unknown group should read as general")
	}
	raw, _ := Snacks.MarshalText()
	if string(raw) != "snacks" {
		t.Fatalf("unexpected text %q", raw)
	}
}
