package model

// Amounts are decimal strings of base units so uint256 values survive JSON.

// PoolCreatedEventData is the decoded PoolCreated event payload.
type PoolCreatedEventData struct {
	PoolID         uint64 `json:"pool_id"`
	Owner          string `json:"owner"`
	SaleToken      string `json:"sale_token"`
	BaseToken      string `json:"base_token"`
	Price          string `json:"price"`
	LimitAmount    string `json:"limit_amount"`
	OfferingAmount string `json:"offering_amount"`
	StartTime      uint64 `json:"start_time"`
	EndTime        uint64 `json:"end_time"`
	CurveType      uint8  `json:"curve_type"`
	Name           string `json:"name"`
}

// PurchaseEventData is the decoded SaleTokenPurchased event payload.
type PurchaseEventData struct {
	PoolID      uint64 `json:"pool_id"`
	Buyer       string `json:"buyer"`
	Referrer    string `json:"referrer"`
	BaseAmount  string `json:"base_amount"`
	SaleAmount  string `json:"sale_amount"`
	Fee         string `json:"fee"`
	ReferralFee string `json:"referral_fee"`
}

// ReferralSetEventData is the decoded ReferralSet event payload.
type ReferralSetEventData struct {
	User     string `json:"user"`
	Referrer string `json:"referrer"`
}

// FeeToSetEventData is the decoded FeeToSet event payload.
type FeeToSetEventData struct {
	FeeTo string `json:"fee_to"`
}
