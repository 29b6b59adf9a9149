package model

// PoolState is the read surface of a pool's committed state.
type PoolState struct {
	Reserve        string `json:"reserve"`
	Supply         string `json:"supply"`
	SpotPrice      string `json:"spot_price"`
	RatioPPM       uint32 `json:"crr_ppm"`
	TradeFeeBps    uint32 `json:"trade_fee_bps"`
	ProtocolFeeBps uint32 `json:"protocol_fee_bps"`
}

// TradeInfo reports the trading phase of a pool.
type TradeInfo struct {
	SellsEnabled bool   `json:"sells_enabled"`
	IBREndTime   uint64 `json:"ibr_end_time"`
	IsPaused     bool   `json:"is_paused"`
}

// PoolRecord is the persisted form of a pool: identity, parameters and ledger.
type PoolRecord struct {
	PoolID              string `json:"pool_id"`
	Asset               string `json:"asset"`
	Address             string `json:"address"`
	Reserve             string `json:"reserve"`
	Supply              string `json:"supply"`
	FeesOwedTreasury    string `json:"fees_owed_treasury"`
	FeesOwedProtocol    string `json:"fees_owed_protocol"`
	RatioPPM            uint32 `json:"crr_ppm"`
	TradeFeeBps         uint32 `json:"trade_fee_bps"`
	ProtocolFeeBps      uint32 `json:"protocol_fee_bps"`
	MaxTradeFractionBps uint32 `json:"max_trade_fraction_bps"`
	IBREndTimestamp     uint64 `json:"ibr_end_ts"`
	Paused              bool   `json:"paused"`
	Owner               string `json:"owner"`
	Governance          string `json:"governance"`
	FeeRouter           string `json:"fee_router"`
	Treasury            string `json:"treasury"`
	ProtocolTreasury    string `json:"protocol_treasury"`
	ReserveDecimals     uint8  `json:"reserve_decimals"`
	TokenDecimals       uint8  `json:"token_decimals"`
	Version             uint64 `json:"version"`
	Seq                 uint64 `json:"seq"`
}
