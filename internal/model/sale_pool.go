package model

// SalePool is a sale pool record for storage, keyed by contract and pool id.
type SalePool struct {
	ChainID        uint64 `json:"chain_id"`
	Contract       string `json:"contract"`
	PoolID         uint64 `json:"pool_id"`
	Name           string `json:"name"`
	Owner          string `json:"owner"`
	SaleToken      string `json:"sale_token"`
	BaseToken      string `json:"base_token"`
	CurveType      uint8  `json:"curve_type"`
	OfferingAmount string `json:"offering_amount"`
	StartTime      uint64 `json:"start_time"`
	EndTime        uint64 `json:"end_time"`
	CreatedBlock   uint64 `json:"created_block"`
}
