package launchpad

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"launchpadScope/internal/curve"
	"launchpadScope/internal/model"
)

var (
	ErrUnknownTopic     = errors.New("unknown topic0")
	ErrSchemaMismatch   = errors.New("schema mismatch")
	ErrMalformedAddress = errors.New("malformed address")
)

// Schema identifies one decodable launchpad event.
type Schema int

const (
	SchemaTokenCreated Schema = iota + 1
	SchemaBuy
	SchemaSell
)

// AllSchemas lists every schema the decoder understands.
var AllSchemas = []Schema{SchemaTokenCreated, SchemaBuy, SchemaSell}

func (s Schema) String() string {
	switch s {
	case SchemaTokenCreated:
		return "TokenCreated"
	case SchemaBuy:
		return "Buy"
	case SchemaSell:
		return "Sell"
	default:
		return fmt.Sprintf("Schema(%d)", int(s))
	}
}

// Topic returns the keccak hash of the schema's canonical signature.
func (s Schema) Topic() (common.Hash, error) {
	parsed, err := ABI()
	if err != nil {
		return common.Hash{}, err
	}
	event, ok := parsed.Events[s.String()]
	if !ok {
		return common.Hash{}, fmt.Errorf("no event for %s", s)
	}
	return event.ID, nil
}

type decodeFunc func(event abi.Event, log model.LogRecord) (model.Event, error)

type schemaEntry struct {
	schema Schema
	event  abi.Event
	decode decodeFunc
}

// Decoder maps signature hashes to typed decode functions. It holds no
// mutable state after construction.
type Decoder struct {
	byTopic map[common.Hash]schemaEntry
	topics  []common.Hash
}

// NewDecoder builds a decoder for the given schemas, or all of them when none
// are passed.
func NewDecoder(schemas ...Schema) (*Decoder, error) {
	parsed, err := ABI()
	if err != nil {
		return nil, fmt.Errorf("parse launchpad abi: %w", err)
	}
	if len(schemas) == 0 {
		schemas = AllSchemas
	}

	d := &Decoder{byTopic: make(map[common.Hash]schemaEntry, len(schemas))}
	for _, schema := range schemas {
		event, ok := parsed.Events[schema.String()]
		if !ok {
			return nil, fmt.Errorf("unsupported schema: %s", schema)
		}
		var fn decodeFunc
		switch schema {
		case SchemaTokenCreated:
			fn = decodeTokenCreated
		case SchemaBuy:
			fn = tradeDecoder(curve.Buy)
		case SchemaSell:
			fn = tradeDecoder(curve.Sell)
		default:
			return nil, fmt.Errorf("unsupported schema: %s", schema)
		}
		if _, dup := d.byTopic[event.ID]; dup {
			continue
		}
		d.byTopic[event.ID] = schemaEntry{schema: schema, event: event, decode: fn}
		d.topics = append(d.topics, event.ID)
	}
	return d, nil
}

// Topics returns the topic0 filter for the configured schemas.
func (d *Decoder) Topics() []common.Hash {
	out := make([]common.Hash, len(d.topics))
	copy(out, d.topics)
	return out
}

// CanDecode checks if the topic0 belongs to a configured schema.
func (d *Decoder) CanDecode(topic0 string) bool {
	hash, err := parseTopic(topic0)
	if err != nil {
		return false
	}
	_, ok := d.byTopic[hash]
	return ok
}

// Decode converts a LogRecord into a TokenRecord or TradeEvent, selecting the
// schema by the exact topic0 hash.
func (d *Decoder) Decode(log model.LogRecord) (model.Event, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("%w: missing topics", ErrSchemaMismatch)
	}
	hash, err := parseTopic(log.Topics[0])
	if err != nil {
		return nil, err
	}
	entry, ok := d.byTopic[hash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, log.Topics[0])
	}
	return d.decodeEntry(entry, log)
}

// DecodeAs decodes log against one expected schema.
func (d *Decoder) DecodeAs(log model.LogRecord, schema Schema) (model.Event, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("%w: missing topics", ErrSchemaMismatch)
	}
	hash, err := parseTopic(log.Topics[0])
	if err != nil {
		return nil, err
	}
	entry, ok := d.byTopic[hash]
	if !ok || entry.schema != schema {
		return nil, fmt.Errorf("%w: topic0 %s is not %s", ErrSchemaMismatch, log.Topics[0], schema)
	}
	return d.decodeEntry(entry, log)
}

func (d *Decoder) decodeEntry(entry schemaEntry, log model.LogRecord) (model.Event, error) {
	if !common.IsHexAddress(log.Address) {
		return nil, fmt.Errorf("%w: emitter %q", ErrMalformedAddress, log.Address)
	}
	return entry.decode(entry.event, log)
}

func decodeTokenCreated(event abi.Event, log model.LogRecord) (model.Event, error) {
	topics, err := indexedAddressTopics(event, log.Topics)
	if err != nil {
		return nil, err
	}
	creator := common.BytesToAddress(topics[0][12:])

	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return nil, err
	}
	if len(values) != 5 {
		return nil, fmt.Errorf("%w: TokenCreated has %d values", ErrSchemaMismatch, len(values))
	}

	token, err := asAddress(values[0])
	if err != nil {
		return nil, err
	}
	if token == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero token address", ErrMalformedAddress)
	}
	strs := make([]string, 4)
	for i := range strs {
		s, ok := values[i+1].(string)
		if !ok {
			return nil, fmt.Errorf("%w: field %d is %T", ErrSchemaMismatch, i+1, values[i+1])
		}
		strs[i] = s
	}
	name, symbol, description, image := strs[0], strs[1], strs[2], strs[3]
	if image == "" {
		image = model.DefaultImage
	}

	return model.TokenRecord{
		ChainID:            log.ChainID,
		Emitter:            common.HexToAddress(log.Address).Hex(),
		Creator:            creator.Hex(),
		TokenAddress:       token.Hex(),
		Name:               name,
		Symbol:             symbol,
		Description:        description,
		Image:              image,
		CreatedAtBlockTime: log.Timestamp,
		ContentHash:        model.TokenContentHash(creator.Hex(), token.Hex(), name, symbol, description, image),
		Ledger:             log.Ref(),
	}, nil
}

func tradeDecoder(direction curve.Direction) decodeFunc {
	return func(event abi.Event, log model.LogRecord) (model.Event, error) {
		topics, err := indexedAddressTopics(event, log.Topics)
		if err != nil {
			return nil, err
		}
		actor := common.BytesToAddress(topics[0][12:])

		values, err := unpackNonIndexed(event, log.Data)
		if err != nil {
			return nil, err
		}
		if len(values) != 3 {
			return nil, fmt.Errorf("%w: %s has %d values", ErrSchemaMismatch, event.Name, len(values))
		}
		ints := make([]*big.Int, 3)
		for i, v := range values {
			n, err := asBigInt(v)
			if err != nil {
				return nil, err
			}
			ints[i] = n
		}

		return model.TradeEvent{
			ChainID:         log.ChainID,
			TokenAddress:    common.HexToAddress(log.Address).Hex(),
			Actor:           actor.Hex(),
			Direction:       direction,
			Amount:          ints[0].String(),
			Price:           ints[1].String(),
			ResultingSupply: ints[2].String(),
			Timestamp:       log.Timestamp,
			Ledger:          log.Ref(),
		}, nil
	}
}

// indexedAddressTopics returns the indexed topics after checking the count
// and that every indexed address is left-padded with zeros.
func indexedAddressTopics(event abi.Event, topics []string) ([]common.Hash, error) {
	indexed := indexedArguments(event.Inputs)
	if len(topics) != len(indexed)+1 {
		return nil, fmt.Errorf("%w: expected %d topics, got %d", ErrSchemaMismatch, len(indexed)+1, len(topics))
	}
	hashes := make([]common.Hash, 0, len(indexed))
	for i, topic := range topics[1:] {
		hash, err := parseTopic(topic)
		if err != nil {
			return nil, err
		}
		if indexed[i].Type.T == abi.AddressTy && !zeroPadded(hash[:12]) {
			return nil, fmt.Errorf("%w: topic %d of %s", ErrMalformedAddress, i+1, event.Name)
		}
		hashes = append(hashes, hash)
	}
	return hashes, nil
}

func parseTopic(topic string) (common.Hash, error) {
	data, err := hexutil.Decode(strings.TrimSpace(topic))
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: invalid topic %q: %v", ErrSchemaMismatch, topic, err)
	}
	if len(data) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: topic length %d", ErrSchemaMismatch, len(data))
	}
	return common.BytesToHash(data), nil
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

// unpackNonIndexed unpacks the data section. Each head slot of an address
// argument must carry 12 zero bytes before the address.
func unpackNonIndexed(event abi.Event, dataHex string) ([]interface{}, error) {
	data, err := hexutil.Decode(dataHex)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid data: %v", ErrSchemaMismatch, err)
	}
	args := event.Inputs.NonIndexed()
	if len(data) < len(args)*32 {
		return nil, fmt.Errorf("%w: %s data is %d bytes", ErrSchemaMismatch, event.Name, len(data))
	}
	for i, arg := range args {
		if arg.Type.T != abi.AddressTy {
			continue
		}
		if !zeroPadded(data[i*32 : i*32+12]) {
			return nil, fmt.Errorf("%w: %s.%s", ErrMalformedAddress, event.Name, arg.Name)
		}
	}
	values, err := args.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s: %v", ErrSchemaMismatch, event.Name, err)
	}
	return values, nil
}

func zeroPadded(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("%w: unsupported address type %T", ErrMalformedAddress, value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	default:
		return nil, fmt.Errorf("%w: unsupported int type %T", ErrSchemaMismatch, value)
	}
}
