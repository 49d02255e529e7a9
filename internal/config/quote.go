package config

import "github.com/spf13/pflag"

// QuoteConfig describes a standalone pool to price. Amounts are human decimals
// scaled by the matching token decimals.
type QuoteConfig struct {
	Curve        string
	Price        string
	StartPrice   string
	EndPrice     string
	Limit        string
	Offering     string
	Sold         string
	Amount       string
	Referred     bool
	SaleDecimals uint8
	BaseDecimals uint8
	LogLevel     string
}

// LoadQuote merges config file, environment variables, and flags into QuoteConfig.
func LoadQuote(cfgFile string, flags *pflag.FlagSet) (QuoteConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"curve":         "default",
		"sold":          "0",
		"sale-decimals": 18,
		"base-decimals": 18,
		"log-level":     "warn",
	})
	if err != nil {
		return QuoteConfig{}, err
	}

	return QuoteConfig{
		Curve:        v.GetString("curve"),
		Price:        v.GetString("price"),
		StartPrice:   v.GetString("start-price"),
		EndPrice:     v.GetString("end-price"),
		Limit:        v.GetString("limit"),
		Offering:     v.GetString("offering"),
		Sold:         v.GetString("sold"),
		Amount:       v.GetString("amount"),
		Referred:     v.GetBool("referred"),
		SaleDecimals: uint8(v.GetUint("sale-decimals")),
		BaseDecimals: uint8(v.GetUint("base-decimals")),
		LogLevel:     v.GetString("log-level"),
	}, nil
}
