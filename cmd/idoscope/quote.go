package main

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/spf13/cobra"

	"idoScope/internal/config"
	"idoScope/internal/ledger"
	"idoScope/internal/token"
)

type quoteOutput struct {
	Curve       string `json:"curve"`
	BaseAmount  string `json:"base_amount"`
	SaleAmount  string `json:"sale_amount"`
	Fee         string `json:"fee"`
	ReferralFee string `json:"referral_fee"`
	OwnerAmount string `json:"owner_amount"`
	SoldAfter   string `json:"sold_after"`
}

func runQuote(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadQuote(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	pool, baseIn, err := quotePool(cfg)
	if err != nil {
		return err
	}

	q, err := ledger.QuotePool(pool, baseIn, cfg.Referred)
	if err != nil {
		return fmt.Errorf("quote: %w", err)
	}

	soldAfter := new(big.Int).Add(pool.Sold, q.SaleAmount)
	out := quoteOutput{
		Curve:       pool.CurveType.String(),
		BaseAmount:  token.FormatAmount(baseIn, cfg.BaseDecimals),
		SaleAmount:  token.FormatAmount(q.SaleAmount, cfg.SaleDecimals),
		Fee:         token.FormatAmount(q.Split.Fee, cfg.BaseDecimals),
		ReferralFee: token.FormatAmount(q.Split.Referral, cfg.BaseDecimals),
		OwnerAmount: token.FormatAmount(q.Split.Owner, cfg.BaseDecimals),
		SoldAfter:   token.FormatAmount(soldAfter, cfg.SaleDecimals),
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// quotePool builds a standalone pool from human amounts. Prices are base
// tokens per whole sale token and are rescaled to the ledger's
// per-10^18-sale-units price.
func quotePool(cfg config.QuoteConfig) (ledger.Pool, *big.Int, error) {
	curve, err := ledger.ParseCurveType(cfg.Curve)
	if err != nil {
		return ledger.Pool{}, nil, err
	}

	base := func(name, value string) (*big.Int, error) {
		v, err := token.ParseAmount(value, cfg.BaseDecimals)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return v, nil
	}
	price := func(name, value string) (*big.Int, error) {
		v, err := token.ParsePrice(value, cfg.BaseDecimals, cfg.SaleDecimals)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return v, nil
	}
	sale := func(name, value string) (*big.Int, error) {
		v, err := token.ParseAmount(value, cfg.SaleDecimals)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return v, nil
	}

	pool := ledger.Pool{CurveType: curve, EndTime: 1}
	if pool.LimitAmount, err = sale("limit", cfg.Limit); err != nil {
		return ledger.Pool{}, nil, err
	}
	if pool.OfferingAmount, err = sale("offering", cfg.Offering); err != nil {
		return ledger.Pool{}, nil, err
	}
	if pool.Sold, err = sale("sold", cfg.Sold); err != nil {
		return ledger.Pool{}, nil, err
	}

	switch curve {
	case ledger.CurveLinear:
		start, err := price("start-price", cfg.StartPrice)
		if err != nil {
			return ledger.Pool{}, nil, err
		}
		end, err := price("end-price", cfg.EndPrice)
		if err != nil {
			return ledger.Pool{}, nil, err
		}
		pool.CurveParams = []*big.Int{start, end}
	default:
		if pool.Price, err = price("price", cfg.Price); err != nil {
			return ledger.Pool{}, nil, err
		}
	}

	baseIn, err := base("amount", cfg.Amount)
	if err != nil {
		return ledger.Pool{}, nil, err
	}
	return pool, baseIn, nil
}
