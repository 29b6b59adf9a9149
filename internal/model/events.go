package model

// Event names emitted by a pool.
const (
	EventBuy               = "Buy"
	EventSell              = "Sell"
	EventFeesDeposited     = "FeesDeposited"
	EventFeesForwarded     = "FeesForwarded"
	EventParametersUpdated = "ParametersUpdated"
	EventPaused            = "Paused"
	EventUnpaused          = "Unpaused"
	EventTreasuryUpdated   = "TreasuryUpdated"
)

// Amounts are base-unit decimal strings so they survive JSON without precision loss.

// BuyEventData is the Buy event payload.
type BuyEventData struct {
	Buyer          string `json:"buyer"`
	Recipient      string `json:"recipient"`
	ReserveIn      string `json:"reserve_in"`
	TokensOut      string `json:"tokens_out"`
	Fee            string `json:"fee"`
	SpotPriceAfter string `json:"spot_price_after"`
}

// SellEventData is the Sell event payload.
type SellEventData struct {
	Seller         string `json:"seller"`
	Recipient      string `json:"recipient"`
	TokensIn       string `json:"tokens_in"`
	ReserveOut     string `json:"reserve_out"`
	Fee            string `json:"fee"`
	SpotPriceAfter string `json:"spot_price_after"`
}

// FeesDepositedData is the FeesDeposited event payload.
type FeesDepositedData struct {
	Amount     string `json:"amount"`
	NewReserve string `json:"new_reserve"`
}

// FeesForwardedData records fees leaving the pool account for the treasuries.
type FeesForwardedData struct {
	Treasury         string `json:"treasury"`
	TreasuryAmount   string `json:"treasury_amount"`
	ProtocolTreasury string `json:"protocol_treasury"`
	ProtocolAmount   string `json:"protocol_amount"`
}

// ParametersUpdatedData is the ParametersUpdated event payload.
type ParametersUpdatedData struct {
	Account        string `json:"account"`
	RatioPPM       uint32 `json:"crr_ppm"`
	TradeFeeBps    uint32 `json:"trade_fee_bps"`
	ProtocolFeeBps uint32 `json:"protocol_fee_bps"`
}

// PauseEventData is the payload of Paused and Unpaused.
type PauseEventData struct {
	Account string `json:"account"`
}

// TreasuryUpdatedData is the TreasuryUpdated event payload.
type TreasuryUpdatedData struct {
	Account  string `json:"account"`
	Treasury string `json:"treasury"`
}
