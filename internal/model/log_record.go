package model

// LogRecord is a pool event in EVM log form: topic0 is the event id, indexed fields
// follow as topics and the rest is ABI-encoded into Data.
type LogRecord struct {
	PoolID    string   `json:"pool_id"`
	Seq       uint64   `json:"seq"`
	Address   string   `json:"address"`
	Topics    []string `json:"topics"`
	Data      string   `json:"data"`
	Timestamp uint64   `json:"timestamp"`
}
