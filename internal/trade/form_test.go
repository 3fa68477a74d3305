package trade

import (
	"errors"
	"net/url"
	"testing"
)

func purchaseValues(overrides map[string]string) url.Values {
	v := url.Values{}
	v.Set("market", "1:8:17420T")
	v.Set("portfolioId", "p1")
	v.Set("quantity", "[1,0,2]")
	v.Set("price", "1.5")
	for key, val := range overrides {
		if val == "" {
			v.Del(key)
			continue
		}
		v.Set(key, val)
	}
	return v
}

func TestParsePurchaseFormTeam(t *testing.T) {
	t.Parallel()

	form, err := ParsePurchaseForm("u1", purchaseValues(nil))
	if err != nil {
		t.Fatalf("ParsePurchaseForm: %v", err)
	}
	if !form.Team {
		t.Error("expected a team form")
	}
	if form.UID != "u1" || form.PortfolioID != "p1" || form.Market != "1:8:17420T" {
		t.Errorf("form = %+v", form)
	}
	if form.Price != 1.5 {
		t.Errorf("price = %v, want 1.5", form.Price)
	}
	if !form.Quantity.IsVector() || len(form.Quantity.Vec) != 3 || form.Quantity.Vec[2] != 2 {
		t.Errorf("quantity = %+v, want vector [1 0 2]", form.Quantity)
	}
}

func TestParsePurchaseFormPlayerCollapsesDirection(t *testing.T) {
	t.Parallel()

	long, err := ParsePurchaseForm("u1", purchaseValues(map[string]string{
		"market":   "99:8:17420P",
		"quantity": "10",
		"long":     "true",
	}))
	if err != nil {
		t.Fatalf("long form: %v", err)
	}
	if long.Team || !long.Long || long.Quantity.Scalar != 10 {
		t.Errorf("long form = %+v, want scalar +10", long)
	}

	short, err := ParsePurchaseForm("u1", purchaseValues(map[string]string{
		"market":   "99:8:17420P",
		"quantity": "10",
		"long":     "false",
	}))
	if err != nil {
		t.Fatalf("short form: %v", err)
	}
	if short.Long || short.Quantity.Scalar != -10 {
		t.Errorf("short form = %+v, want scalar -10", short)
	}
}

func TestParsePurchaseFormRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		overrides map[string]string
		want      error
	}{
		{"missing market", map[string]string{"market": ""}, ErrMissingField},
		{"missing portfolioId", map[string]string{"portfolioId": ""}, ErrMissingField},
		{"missing quantity", map[string]string{"quantity": ""}, ErrMissingField},
		{"missing price", map[string]string{"price": ""}, ErrMissingField},
		{"bad terminal letter", map[string]string{"market": "1:8:17420X"}, ErrInvalidMarket},
		{"missing segments", map[string]string{"market": "17420T"}, ErrInvalidMarket},
		{"quantity not json", map[string]string{"quantity": "one"}, ErrMalformed},
		{"team with scalar quantity", map[string]string{"quantity": "3"}, ErrMalformed},
		{"price not a number", map[string]string{"price": "expensive"}, ErrMalformed},
		{
			"player with vector quantity",
			map[string]string{"market": "99:8:17420P", "quantity": "[1,2]", "long": "true"},
			ErrMalformed,
		},
		{
			"player missing long",
			map[string]string{"market": "99:8:17420P", "quantity": "10"},
			ErrMissingField,
		},
		{
			"player with bad long",
			map[string]string{"market": "99:8:17420P", "quantity": "10", "long": "sideways"},
			ErrMalformed,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParsePurchaseForm("u1", purchaseValues(tc.overrides))
			if !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestParseConfirmationForm(t *testing.T) {
	t.Parallel()

	v := url.Values{}
	v.Set("cancelId", "abc123")
	v.Set("confirm", "true")

	cancelID, confirm, err := ParseConfirmationForm(v)
	if err != nil {
		t.Fatalf("ParseConfirmationForm: %v", err)
	}
	if cancelID != "abc123" || !confirm {
		t.Errorf("got (%q, %v)", cancelID, confirm)
	}

	v.Set("confirm", "false")
	if _, confirm, err = ParseConfirmationForm(v); err != nil || confirm {
		t.Errorf("confirm=false: got (%v, %v)", confirm, err)
	}

	v.Del("confirm")
	if _, _, err := ParseConfirmationForm(v); !errors.Is(err, ErrMissingField) {
		t.Errorf("missing confirm: got %v", err)
	}

	v.Set("confirm", "perhaps")
	if _, _, err := ParseConfirmationForm(v); !errors.Is(err, ErrMalformed) {
		t.Errorf("bad confirm: got %v", err)
	}

	v.Del("cancelId")
	v.Set("confirm", "true")
	if _, _, err := ParseConfirmationForm(v); !errors.Is(err, ErrMissingField) {
		t.Errorf("missing cancelId: got %v", err)
	}
}
