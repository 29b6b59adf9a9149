package eventabi

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"curvePool/internal/model"
)

// Codec converts pool events to and from EVM log records.
type Codec struct {
	poolABI     abi.ABI
	topicToName map[string]string
}

func NewCodec() (*Codec, error) {
	poolABI, err := PoolEventsABI()
	if err != nil {
		return nil, fmt.Errorf("parse pool events abi: %w", err)
	}
	topicToName := make(map[string]string, len(poolABI.Events))
	for name, event := range poolABI.Events {
		topicToName[strings.ToLower(event.ID.Hex())] = name
	}
	return &Codec{poolABI: poolABI, topicToName: topicToName}, nil
}

// Topic0 returns the event id for a pool event name.
func (c *Codec) Topic0(name string) (common.Hash, bool) {
	event, ok := c.poolABI.Events[name]
	if !ok {
		return common.Hash{}, false
	}
	return event.ID, true
}

// CanDecode checks if the topic0 is a pool event.
func (c *Codec) CanDecode(topic0 string) bool {
	if topic0 == "" {
		return false
	}
	_, ok := c.topicToName[strings.ToLower(topic0)]
	return ok
}

// Encode converts a pool event with a typed payload into a log record.
func (c *Codec) Encode(event model.PoolEvent) (model.LogRecord, error) {
	var (
		indexed []common.Address
		values  []interface{}
		err     error
	)
	switch data := event.Data.(type) {
	case model.BuyEventData:
		indexed, err = addresses(data.Buyer, data.Recipient)
		if err == nil {
			values, err = amounts(data.ReserveIn, data.TokensOut, data.Fee, data.SpotPriceAfter)
		}
	case model.SellEventData:
		indexed, err = addresses(data.Seller, data.Recipient)
		if err == nil {
			values, err = amounts(data.TokensIn, data.ReserveOut, data.Fee, data.SpotPriceAfter)
		}
	case model.FeesDepositedData:
		values, err = amounts(data.Amount, data.NewReserve)
	case model.FeesForwardedData:
		indexed, err = addresses(data.Treasury, data.ProtocolTreasury)
		if err == nil {
			values, err = amounts(data.TreasuryAmount, data.ProtocolAmount)
		}
	case model.ParametersUpdatedData:
		indexed, err = addresses(data.Account)
		values = []interface{}{data.RatioPPM, data.TradeFeeBps, data.ProtocolFeeBps}
	case model.PauseEventData:
		var account []common.Address
		account, err = addresses(data.Account)
		if err == nil {
			values = []interface{}{account[0]}
		}
	case model.TreasuryUpdatedData:
		indexed, err = addresses(data.Account, data.Treasury)
	default:
		return model.LogRecord{}, fmt.Errorf("unsupported payload %T for %s", event.Data, event.Name)
	}
	if err != nil {
		return model.LogRecord{}, fmt.Errorf("encode %s: %w", event.Name, err)
	}

	abiEvent, ok := c.poolABI.Events[event.Name]
	if !ok {
		return model.LogRecord{}, fmt.Errorf("unsupported event name: %s", event.Name)
	}
	data, err := abiEvent.Inputs.NonIndexed().Pack(values...)
	if err != nil {
		return model.LogRecord{}, fmt.Errorf("pack %s: %w", event.Name, err)
	}

	topics := make([]string, 0, len(indexed)+1)
	topics = append(topics, abiEvent.ID.Hex())
	for _, addr := range indexed {
		topics = append(topics, common.BytesToHash(addr.Bytes()).Hex())
	}
	return model.LogRecord{
		PoolID:    event.PoolID,
		Seq:       event.Seq,
		Address:   event.Pool,
		Topics:    topics,
		Data:      hexutil.Encode(data),
		Timestamp: event.Timestamp,
	}, nil
}

// Decode converts a log record back into the event name and its typed payload.
func (c *Codec) Decode(log model.LogRecord) (string, interface{}, error) {
	if len(log.Topics) == 0 {
		return "", nil, fmt.Errorf("missing topics")
	}
	name, ok := c.topicToName[strings.ToLower(log.Topics[0])]
	if !ok {
		return "", nil, fmt.Errorf("unsupported topic0: %s", log.Topics[0])
	}
	event := c.poolABI.Events[name]

	indexedTopics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return "", nil, err
	}
	indexed := make(map[string]interface{})
	if err := abi.ParseTopicsIntoMap(indexed, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return "", nil, fmt.Errorf("parse topics: %w", err)
	}
	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return "", nil, err
	}

	var data interface{}
	switch name {
	case model.EventBuy:
		data, err = decodeBuy(indexed, values)
	case model.EventSell:
		data, err = decodeSell(indexed, values)
	case model.EventFeesDeposited:
		data, err = decodeFeesDeposited(values)
	case model.EventFeesForwarded:
		data, err = decodeFeesForwarded(indexed, values)
	case model.EventParametersUpdated:
		data, err = decodeParametersUpdated(indexed, values)
	case model.EventPaused, model.EventUnpaused:
		data, err = decodePause(values)
	case model.EventTreasuryUpdated:
		data, err = decodeTreasuryUpdated(indexed)
	default:
		err = fmt.Errorf("unsupported event name: %s", name)
	}
	if err != nil {
		return "", nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return name, data, nil
}

func decodeBuy(indexed map[string]interface{}, values []interface{}) (model.BuyEventData, error) {
	if len(values) != 4 {
		return model.BuyEventData{}, fmt.Errorf("unexpected buy values: %d", len(values))
	}
	nums, err := bigStrings(values)
	if err != nil {
		return model.BuyEventData{}, err
	}
	buyer, err := asAddress(indexed["buyer"])
	if err != nil {
		return model.BuyEventData{}, err
	}
	recipient, err := asAddress(indexed["recipient"])
	if err != nil {
		return model.BuyEventData{}, err
	}
	return model.BuyEventData{
		Buyer:          buyer.Hex(),
		Recipient:      recipient.Hex(),
		ReserveIn:      nums[0],
		TokensOut:      nums[1],
		Fee:            nums[2],
		SpotPriceAfter: nums[3],
	}, nil
}

func decodeSell(indexed map[string]interface{}, values []interface{}) (model.SellEventData, error) {
	if len(values) != 4 {
		return model.SellEventData{}, fmt.Errorf("unexpected sell values: %d", len(values))
	}
	nums, err := bigStrings(values)
	if err != nil {
		return model.SellEventData{}, err
	}
	seller, err := asAddress(indexed["seller"])
	if err != nil {
		return model.SellEventData{}, err
	}
	recipient, err := asAddress(indexed["recipient"])
	if err != nil {
		return model.SellEventData{}, err
	}
	return model.SellEventData{
		Seller:         seller.Hex(),
		Recipient:      recipient.Hex(),
		TokensIn:       nums[0],
		ReserveOut:     nums[1],
		Fee:            nums[2],
		SpotPriceAfter: nums[3],
	}, nil
}

func decodeFeesDeposited(values []interface{}) (model.FeesDepositedData, error) {
	if len(values) != 2 {
		return model.FeesDepositedData{}, fmt.Errorf("unexpected deposit values: %d", len(values))
	}
	nums, err := bigStrings(values)
	if err != nil {
		return model.FeesDepositedData{}, err
	}
	return model.FeesDepositedData{Amount: nums[0], NewReserve: nums[1]}, nil
}

func decodeFeesForwarded(indexed map[string]interface{}, values []interface{}) (model.FeesForwardedData, error) {
	if len(values) != 2 {
		return model.FeesForwardedData{}, fmt.Errorf("unexpected forward values: %d", len(values))
	}
	nums, err := bigStrings(values)
	if err != nil {
		return model.FeesForwardedData{}, err
	}
	treasury, err := asAddress(indexed["treasury"])
	if err != nil {
		return model.FeesForwardedData{}, err
	}
	protocol, err := asAddress(indexed["protocolTreasury"])
	if err != nil {
		return model.FeesForwardedData{}, err
	}
	return model.FeesForwardedData{
		Treasury:         treasury.Hex(),
		TreasuryAmount:   nums[0],
		ProtocolTreasury: protocol.Hex(),
		ProtocolAmount:   nums[1],
	}, nil
}

func decodeParametersUpdated(indexed map[string]interface{}, values []interface{}) (model.ParametersUpdatedData, error) {
	if len(values) != 3 {
		return model.ParametersUpdatedData{}, fmt.Errorf("unexpected parameter values: %d", len(values))
	}
	account, err := asAddress(indexed["account"])
	if err != nil {
		return model.ParametersUpdatedData{}, err
	}
	out := model.ParametersUpdatedData{Account: account.Hex()}
	fields := []*uint32{&out.RatioPPM, &out.TradeFeeBps, &out.ProtocolFeeBps}
	for i, v := range values {
		n, ok := v.(uint32)
		if !ok {
			return model.ParametersUpdatedData{}, fmt.Errorf("unsupported uint32 type %T", v)
		}
		*fields[i] = n
	}
	return out, nil
}

func decodePause(values []interface{}) (model.PauseEventData, error) {
	if len(values) != 1 {
		return model.PauseEventData{}, fmt.Errorf("unexpected pause values: %d", len(values))
	}
	account, err := asAddress(values[0])
	if err != nil {
		return model.PauseEventData{}, err
	}
	return model.PauseEventData{Account: account.Hex()}, nil
}

func decodeTreasuryUpdated(indexed map[string]interface{}) (model.TreasuryUpdatedData, error) {
	account, err := asAddress(indexed["account"])
	if err != nil {
		return model.TreasuryUpdatedData{}, err
	}
	treasury, err := asAddress(indexed["treasury"])
	if err != nil {
		return model.TreasuryUpdatedData{}, err
	}
	return model.TreasuryUpdatedData{Account: account.Hex(), Treasury: treasury.Hex()}, nil
}

func addresses(values ...string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(values))
	for _, v := range values {
		if !common.IsHexAddress(v) {
			return nil, fmt.Errorf("invalid address: %q", v)
		}
		out = append(out, common.HexToAddress(v))
	}
	return out, nil
}

func amounts(values ...string) ([]interface{}, error) {
	out := make([]interface{}, 0, len(values))
	for _, v := range values {
		n, ok := new(big.Int).SetString(v, 10)
		if !ok || n.Sign() < 0 {
			return nil, fmt.Errorf("invalid amount: %q", v)
		}
		out = append(out, n)
	}
	return out, nil
}

func bigStrings(values []interface{}) ([]string, error) {
	out := make([]string, 0, len(values))
	for _, v := range values {
		n, err := asBigInt(v)
		if err != nil {
			return nil, err
		}
		out = append(out, n.String())
	}
	return out, nil
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func parseIndexedTopics(event abi.Event, topics []string) ([]common.Hash, error) {
	indexedCount := len(indexedArguments(event.Inputs))
	if len(topics) != indexedCount+1 {
		return nil, fmt.Errorf("expected %d topics, got %d", indexedCount+1, len(topics))
	}
	out := make([]common.Hash, 0, indexedCount)
	for _, topic := range topics[1:] {
		data, err := hexutil.Decode(topic)
		if err != nil {
			return nil, fmt.Errorf("invalid topic: %w", err)
		}
		if len(data) > 32 {
			return nil, fmt.Errorf("topic length %d", len(data))
		}
		out = append(out, common.BytesToHash(data))
	}
	return out, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func unpackNonIndexed(event abi.Event, dataHex string) ([]interface{}, error) {
	data, err := hexutil.Decode(dataHex)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	return values, nil
}
