package dictionary

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"gbp", "GBP", true},
		{" EUR ", "EUR", true},
		{"JPY", "JPY", true},
		{"XXX", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := Normalize(c.in)
		if got != c.want || ok != c.ok {
			t.Fatalf("Normalize(%q) = %q,%v want %q,%v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestCurrencies_ReturnsCopy(t *testing.T) {
	list := Currencies()
	list[0].Code = "ZZZ"
	if Currencies()[0].Code == "ZZZ" {
		t.Fatalf("Currencies must not expose the curated slice")
	}
}
