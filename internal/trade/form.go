// Package trade executes purchases against market inventories: form
// validation, the optimistic quote/commit loop, price agreement, pending
// confirmations and compensating undos.
package trade

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/nickelnine37/sportfolios-server/internal/market"
	"github.com/nickelnine37/sportfolios-server/pkg/types"
)

var (
	// ErrMissingField reports a required form field that was not posted.
	ErrMissingField = errors.New("missing form field")

	// ErrMalformed reports a form field that was posted but does not parse.
	ErrMalformed = errors.New("malformed form field")

	// ErrInvalidMarket reports a market identifier that does not parse.
	ErrInvalidMarket = errors.New("invalid market")
)

// PurchaseForm is a validated purchase request. Quantity is collapsed: a
// claim vector for team markets, a signed scalar for player markets
// (positive long, negative short; Long records the wire direction). Price
// starts as the client's expectation and is restamped with the settled
// price once the inventory commit runs, so a later confirmation settles at
// the price the client actually saw.
type PurchaseForm struct {
	UID         string         `json:"uid"`
	PortfolioID string         `json:"portfolioId"`
	Market      string         `json:"market"`
	Quantity    types.Quantity `json:"quantity"`
	Price       float64        `json:"price"`
	Team        bool           `json:"team"`
	Long        bool           `json:"long"`
}

// ParsePurchaseForm validates posted purchase fields on behalf of uid.
func ParsePurchaseForm(uid string, form url.Values) (*PurchaseForm, error) {
	for _, field := range []string{"market", "portfolioId", "quantity", "price"} {
		if !form.Has(field) {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, field)
		}
	}

	m, err := market.Parse(form.Get("market"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMarket, err)
	}

	var quantity types.Quantity
	if err := json.Unmarshal([]byte(form.Get("quantity")), &quantity); err != nil {
		return nil, fmt.Errorf("%w: quantity %q", ErrMalformed, form.Get("quantity"))
	}

	price, err := strconv.ParseFloat(form.Get("price"), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: price %q", ErrMalformed, form.Get("price"))
	}

	pf := &PurchaseForm{
		UID:         uid,
		PortfolioID: form.Get("portfolioId"),
		Market:      m.ID,
		Price:       price,
		Team:        m.IsTeam(),
	}

	if m.IsTeam() {
		if !quantity.IsVector() {
			return nil, fmt.Errorf("%w: team market %s takes a quantity vector", ErrMalformed, m.ID)
		}
		pf.Quantity = quantity
		return pf, nil
	}

	if quantity.IsVector() {
		return nil, fmt.Errorf("%w: player market %s takes a scalar quantity", ErrMalformed, m.ID)
	}
	if !form.Has("long") {
		return nil, fmt.Errorf("%w: long", ErrMissingField)
	}
	long, err := strconv.ParseBool(form.Get("long"))
	if err != nil {
		return nil, fmt.Errorf("%w: long %q", ErrMalformed, form.Get("long"))
	}
	pf.Long = long
	pf.Quantity = types.ScalarQuantity(quantity.Scalar * directionSign(long))
	return pf, nil
}

// ParseConfirmationForm validates posted confirmation fields.
func ParseConfirmationForm(form url.Values) (cancelID string, confirm bool, err error) {
	for _, field := range []string{"cancelId", "confirm"} {
		if !form.Has(field) {
			return "", false, fmt.Errorf("%w: %s", ErrMissingField, field)
		}
	}

	confirm, err = strconv.ParseBool(form.Get("confirm"))
	if err != nil {
		return "", false, fmt.Errorf("%w: confirm %q", ErrMalformed, form.Get("confirm"))
	}
	return form.Get("cancelId"), confirm, nil
}

func directionSign(long bool) float64 {
	if long {
		return 1
	}
	return -1
}
