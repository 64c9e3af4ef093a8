package config

import (
	"errors"
	"math"

	"github.com/spf13/viper"
)

var (
	// ErrUnsupportedCurrency rejects currencies outside the pricing table.
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	// ErrInvalidCreditCount rejects credit counts whose price would not fit in int64.
	ErrInvalidCreditCount = errors.New("credit count out of range")
)

// PricingTable maps a currency to its price per credit in minor units
// (paise for INR, cents for USD). Pricing policy lives here at the edge;
// the credit engine charges exactly what it is told.
type PricingTable struct {
	perCredit map[string]int64
}

func LoadPricingTable() *PricingTable {
	viper.SetDefault("pricing.inr_minor_per_credit", 500) // ₹5.00 per credit
	viper.SetDefault("pricing.usd_minor_per_credit", 10)  // $0.10 per credit

	return &PricingTable{
		perCredit: map[string]int64{
			"INR": viper.GetInt64("pricing.inr_minor_per_credit"),
			"USD": viper.GetInt64("pricing.usd_minor_per_credit"),
		},
	}
}

// PricePerCredit returns the per-credit price in the currency's minor units.
func (p *PricingTable) PricePerCredit(currency string) (int64, error) {
	price, ok := p.perCredit[currency]
	if !ok {
		return 0, ErrUnsupportedCurrency
	}
	return price, nil
}

// Amount converts a credit count into the gateway-facing amount in minor units.
func (p *PricingTable) Amount(credits int64, currency string) (int64, error) {
	price, err := p.PricePerCredit(currency)
	if err != nil {
		return 0, err
	}
	if credits <= 0 || credits > math.MaxInt64/price {
		return 0, ErrInvalidCreditCount
	}
	return credits * price, nil
}
