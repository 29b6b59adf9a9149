package model

// PoolEvent is an emitted pool event together with the committed state it produced.
type PoolEvent struct {
	PoolID    string      `json:"pool_id"`
	Pool      string      `json:"pool_address"`
	Seq       uint64      `json:"seq"`
	Version   uint64      `json:"version"`
	Timestamp uint64      `json:"timestamp"`
	Name      string      `json:"event_name"`
	Data      interface{} `json:"data"`
	State     PoolState   `json:"state"`
}
