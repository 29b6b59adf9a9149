package eventabi

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const poolEventsABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "buyer", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "recipient", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "reserveIn", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "tokensOut", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "fee", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "spotPriceAfter", "type": "uint256"}
    ],
    "name": "Buy",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "seller", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "recipient", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "tokensIn", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "reserveOut", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "fee", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "spotPriceAfter", "type": "uint256"}
    ],
    "name": "Sell",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "newReserve", "type": "uint256"}
    ],
    "name": "FeesDeposited",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "treasury", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "protocolTreasury", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "treasuryAmount", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "protocolAmount", "type": "uint256"}
    ],
    "name": "FeesForwarded",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "account", "type": "address"},
      {"indexed": false, "internalType": "uint32", "name": "crr", "type": "uint32"},
      {"indexed": false, "internalType": "uint32", "name": "tradeFeeBps", "type": "uint32"},
      {"indexed": false, "internalType": "uint32", "name": "protocolFeeBps", "type": "uint32"}
    ],
    "name": "ParametersUpdated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "address", "name": "account", "type": "address"}
    ],
    "name": "Paused",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "address", "name": "account", "type": "address"}
    ],
    "name": "Unpaused",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "account", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "treasury", "type": "address"}
    ],
    "name": "TreasuryUpdated",
    "type": "event"
  }
]`

var (
	poolEventsABI     abi.ABI
	poolEventsABIOnce sync.Once
	poolEventsABIErr  error
)

// PoolEventsABI returns the parsed pool event ABI.
func PoolEventsABI() (abi.ABI, error) {
	poolEventsABIOnce.Do(func() {
		poolEventsABI, poolEventsABIErr = abi.JSON(strings.NewReader(poolEventsABIJSON))
	})
	return poolEventsABI, poolEventsABIErr
}
