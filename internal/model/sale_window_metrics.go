package model

import "time"

// SaleWindowMetrics stores aggregated purchase activity for a pool window.
type SaleWindowMetrics struct {
	ChainID        uint64
	Contract       string
	PoolID         uint64
	WindowSizeSecs int64
	WindowStart    time.Time
	WindowEnd      time.Time
	PurchaseCount  uint64
	UniqueBuyers   uint64
	BaseRaised     string
	SaleSold       string
	Fees           string
	ReferralFees   string
	AvgPrice       *string
	SoldCumulative string
}
