package ido

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"idoScope/internal/model"
)

// Decoder turns raw log records into typed events.
type Decoder interface {
	CanDecode(topic0 string) bool
	Decode(log model.LogRecord) (*model.TypedEvent, error)
}

// DecoderConfig configures decoder behavior.
type DecoderConfig struct {
	// Topic0Map adds topic0 -> event name aliases, for forks that renamed events.
	Topic0Map map[string]string
}

// EventDecoder decodes IDO sale contract events.
type EventDecoder struct {
	parsed      abi.ABI
	topicToName map[string]string
}

func NewEventDecoder(cfg DecoderConfig) (*EventDecoder, error) {
	parsed, err := ABI()
	if err != nil {
		return nil, err
	}

	topicToName := make(map[string]string, len(parsed.Events)+len(cfg.Topic0Map))
	for name, event := range parsed.Events {
		topicToName[strings.ToLower(event.ID.Hex())] = name
	}

	for topic0, name := range cfg.Topic0Map {
		original := name
		name = normalizeEventName(name)
		if name == "" {
			return nil, fmt.Errorf("unsupported event name in topic0 map: %s", original)
		}
		if topic0 == "" {
			continue
		}
		topicToName[strings.ToLower(topic0)] = name
	}

	return &EventDecoder{parsed: parsed, topicToName: topicToName}, nil
}

// CanDecode checks if the topic0 is supported.
func (d *EventDecoder) CanDecode(topic0 string) bool {
	if topic0 == "" {
		return false
	}
	_, ok := d.topicToName[strings.ToLower(topic0)]
	return ok
}

// Decode converts a LogRecord into a TypedEvent.
func (d *EventDecoder) Decode(log model.LogRecord) (*model.TypedEvent, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("missing topics")
	}
	name, ok := d.topicToName[strings.ToLower(log.Topics[0])]
	if !ok {
		return nil, fmt.Errorf("unsupported topic0: %s", log.Topics[0])
	}
	if !common.IsHexAddress(log.Address) {
		return nil, fmt.Errorf("invalid contract address: %s", log.Address)
	}

	var (
		decoded interface{}
		err     error
	)
	switch name {
	case EventPoolCreated:
		decoded, err = d.decodePoolCreated(log)
	case EventPurchased:
		decoded, err = d.decodePurchased(log)
	case EventReferralSet:
		decoded, err = d.decodeReferralSet(log)
	case EventFeeToSet:
		decoded, err = d.decodeFeeToSet(log)
	default:
		return nil, fmt.Errorf("unsupported event name: %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}

	return &model.TypedEvent{
		ChainID:     log.ChainID,
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash,
		TxHash:      log.TxHash,
		LogIndex:    log.LogIndex,
		Address:     log.Address,
		EventName:   name,
		Timestamp:   log.Timestamp,
		Decoded:     decoded,
		Raw:         &model.RawLogRef{Topic0: log.Topics[0], Data: log.Data},
	}, nil
}

func normalizeEventName(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "poolcreated":
		return EventPoolCreated
	case "saletokenpurchased", "purchased", "purchase":
		return EventPurchased
	case "referralset":
		return EventReferralSet
	case "feetoset":
		return EventFeeToSet
	default:
		return ""
	}
}

func (d *EventDecoder) decodePoolCreated(log model.LogRecord) (model.PoolCreatedEventData, error) {
	event := d.parsed.Events[EventPoolCreated]
	var indexed struct {
		Pid   *big.Int
		Owner common.Address
	}
	if err := parseIndexed(event, log.Topics, &indexed); err != nil {
		return model.PoolCreatedEventData{}, err
	}

	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return model.PoolCreatedEventData{}, err
	}
	if len(values) != 9 {
		return model.PoolCreatedEventData{}, fmt.Errorf("unexpected values: %d", len(values))
	}

	saleToken, err := asAddress(values[0])
	if err != nil {
		return model.PoolCreatedEventData{}, err
	}
	baseToken, err := asAddress(values[1])
	if err != nil {
		return model.PoolCreatedEventData{}, err
	}
	amounts := make([]*big.Int, 5)
	for i := range amounts {
		if amounts[i], err = asBigInt(values[2+i]); err != nil {
			return model.PoolCreatedEventData{}, err
		}
	}
	curveType, ok := values[7].(uint8)
	if !ok {
		return model.PoolCreatedEventData{}, fmt.Errorf("curve type unexpected type %T", values[7])
	}
	name, ok := values[8].(string)
	if !ok {
		return model.PoolCreatedEventData{}, fmt.Errorf("name unexpected type %T", values[8])
	}

	pid, err := asUint64("pid", indexed.Pid)
	if err != nil {
		return model.PoolCreatedEventData{}, err
	}
	startTime, err := asUint64("startTime", amounts[3])
	if err != nil {
		return model.PoolCreatedEventData{}, err
	}
	endTime, err := asUint64("endTime", amounts[4])
	if err != nil {
		return model.PoolCreatedEventData{}, err
	}

	return model.PoolCreatedEventData{
		PoolID:         pid,
		Owner:          indexed.Owner.Hex(),
		SaleToken:      saleToken.Hex(),
		BaseToken:      baseToken.Hex(),
		Price:          amounts[0].String(),
		LimitAmount:    amounts[1].String(),
		OfferingAmount: amounts[2].String(),
		StartTime:      startTime,
		EndTime:        endTime,
		CurveType:      curveType,
		Name:           name,
	}, nil
}

func (d *EventDecoder) decodePurchased(log model.LogRecord) (model.PurchaseEventData, error) {
	event := d.parsed.Events[EventPurchased]
	var indexed struct {
		Pid   *big.Int
		Buyer common.Address
	}
	if err := parseIndexed(event, log.Topics, &indexed); err != nil {
		return model.PurchaseEventData{}, err
	}

	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return model.PurchaseEventData{}, err
	}
	if len(values) != 5 {
		return model.PurchaseEventData{}, fmt.Errorf("unexpected values: %d", len(values))
	}

	referrer, err := asAddress(values[0])
	if err != nil {
		return model.PurchaseEventData{}, err
	}
	amounts := make([]*big.Int, 4)
	for i := range amounts {
		if amounts[i], err = asBigInt(values[1+i]); err != nil {
			return model.PurchaseEventData{}, err
		}
	}

	pid, err := asUint64("pid", indexed.Pid)
	if err != nil {
		return model.PurchaseEventData{}, err
	}

	return model.PurchaseEventData{
		PoolID:      pid,
		Buyer:       indexed.Buyer.Hex(),
		Referrer:    referrer.Hex(),
		BaseAmount:  amounts[0].String(),
		SaleAmount:  amounts[1].String(),
		Fee:         amounts[2].String(),
		ReferralFee: amounts[3].String(),
	}, nil
}

func (d *EventDecoder) decodeReferralSet(log model.LogRecord) (model.ReferralSetEventData, error) {
	var indexed struct {
		User     common.Address
		Referrer common.Address
	}
	if err := parseIndexed(d.parsed.Events[EventReferralSet], log.Topics, &indexed); err != nil {
		return model.ReferralSetEventData{}, err
	}
	return model.ReferralSetEventData{User: indexed.User.Hex(), Referrer: indexed.Referrer.Hex()}, nil
}

func (d *EventDecoder) decodeFeeToSet(log model.LogRecord) (model.FeeToSetEventData, error) {
	var indexed struct {
		FeeTo common.Address
	}
	if err := parseIndexed(d.parsed.Events[EventFeeToSet], log.Topics, &indexed); err != nil {
		return model.FeeToSetEventData{}, err
	}
	return model.FeeToSetEventData{FeeTo: indexed.FeeTo.Hex()}, nil
}

func parseIndexed(event abi.Event, topics []string, out interface{}) error {
	args := indexedArguments(event.Inputs)
	if len(topics) != len(args)+1 {
		return fmt.Errorf("expected %d topics, got %d", len(args)+1, len(topics))
	}
	hashes, err := parseTopicHashes(topics[1:])
	if err != nil {
		return err
	}
	if err := abi.ParseTopics(out, args, hashes); err != nil {
		return fmt.Errorf("parse topics: %w", err)
	}
	return nil
}

func parseTopicHashes(topics []string) ([]common.Hash, error) {
	out := make([]common.Hash, 0, len(topics))
	for _, topic := range topics {
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
		if dataHex == "0x" || dataHex == "" {
			data = nil
		} else {
			return nil, fmt.Errorf("invalid data: %w", err)
		}
	}
	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	return values, nil
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

func asUint64(name string, v *big.Int) (uint64, error) {
	if v == nil || !v.IsUint64() {
		return 0, fmt.Errorf("%s %v overflows uint64", name, v)
	}
	return v.Uint64(), nil
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}
