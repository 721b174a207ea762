package models

// Requests for the read-only market data endpoints.

type SymbolRequest struct {
	Symbol string `param:"symbol" json:"symbol" validate:"required,max=32"`
}

type OHLCVRequest struct {
	Symbol  string `param:"symbol" json:"symbol" validate:"required,max=32"`
	Minutes int    `query:"minutes" json:"minutes" default:"60" validate:"gte=1,lte=1440"`
}

type TriggerHistoryRequest struct {
	RuleID int64 `param:"id" json:"id" validate:"required,gt=0"`
	Limit  int   `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=500"`
}
