package simulate

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"curvePool/internal/units"
)

// Scenario operations.
const (
	OpFund        = "fund"
	OpCreate      = "create"
	OpBuy         = "buy"
	OpSell        = "sell"
	OpDeposit     = "deposit"
	OpSetParams   = "set_params"
	OpPause       = "pause"
	OpUnpause     = "unpause"
	OpSetTreasury = "set_treasury"
	OpFlush       = "flush"
	OpAdvance     = "advance"
	OpCheck       = "check"
)

// Step is one line of a scenario file. Amounts are human decimals in the unit of the
// asset they move; Expect names the error kind the step should fail with.
type Step struct {
	Op        string `json:"op"`
	Asset     string `json:"asset,omitempty"`
	Caller    string `json:"caller,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Account   string `json:"account,omitempty"`
	Amount    string `json:"amount,omitempty"`
	MinOut    string `json:"min_out,omitempty"`
	Deadline  string `json:"deadline,omitempty"`
	Duration  string `json:"duration,omitempty"`
	Expect    string `json:"expect,omitempty"`

	Reserve             string  `json:"reserve,omitempty"`
	Supply              string  `json:"supply,omitempty"`
	RatioPPM            uint32  `json:"crr_ppm,omitempty"`
	TradeFeeBps         *uint32 `json:"trade_fee_bps,omitempty"`
	ProtocolFeeBps      *uint32 `json:"protocol_fee_bps,omitempty"`
	MaxTradeFractionBps uint32  `json:"max_trade_fraction_bps,omitempty"`
	IBR                 string  `json:"ibr,omitempty"`
	Decimals            *uint8  `json:"decimals,omitempty"`
	TokenDecimals       *uint8  `json:"token_decimals,omitempty"`

	Owner            string `json:"owner,omitempty"`
	Governance       string `json:"governance,omitempty"`
	FeeRouter        string `json:"fee_router,omitempty"`
	Treasury         string `json:"treasury,omitempty"`
	ProtocolTreasury string `json:"protocol_treasury,omitempty"`
}

// ReadScenario loads a scenario file. Blank lines and lines starting with # are skipped.
func ReadScenario(path string) ([]Step, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario: %w", err)
	}
	defer file.Close()
	return DecodeScenario(file)
}

// DecodeScenario parses JSONL steps from r. Unknown fields are rejected so typos fail
// loudly instead of silently defaulting.
func DecodeScenario(r io.Reader) ([]Step, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var steps []Step
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		var step Step
		if err := dec.Decode(&step); err != nil {
			return nil, fmt.Errorf("scenario line %d: %w", line, err)
		}
		if step.Op == "" {
			return nil, fmt.Errorf("scenario line %d: op is required", line)
		}
		steps = append(steps, step)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return steps, nil
}

// ParseAddress converts a hex address, rejecting malformed input.
func ParseAddress(field, input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return common.Address{}, fmt.Errorf("%s is required", field)
	}
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid %s address: %s", field, input)
	}
	return common.HexToAddress(input), nil
}

func addressOr(field, input string, fallback common.Address) (common.Address, error) {
	if strings.TrimSpace(input) == "" {
		return fallback, nil
	}
	return ParseAddress(field, input)
}

func parseAmount(field, input string, decimals uint8) (*uint256.Int, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	v, err := units.Parse(input, decimals)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return v, nil
}

func amountOr(field, input string, decimals uint8) (*uint256.Int, error) {
	if strings.TrimSpace(input) == "" {
		return new(uint256.Int), nil
	}
	return parseAmount(field, input, decimals)
}

func durationOr(field, input string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(input) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(input)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
