package model

import (
	"encoding/json"
	"strconv"
	"strings"
)

// LogRecord is the normalized representation of a chain log.
type LogRecord struct {
	ChainID     uint64   `json:"chain_id"`
	BlockNumber uint64   `json:"block_number"`
	BlockHash   string   `json:"block_hash"`
	TxHash      string   `json:"tx_hash"`
	TxIndex     uint64   `json:"tx_index"`
	LogIndex    uint64   `json:"log_index"`
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	Removed     bool     `json:"removed"`
	Timestamp   uint64   `json:"timestamp"`
	IngestedAt  string   `json:"ingested_at"`
}

// Topic0 returns the event signature topic, or "" when the log has none.
func (lr LogRecord) Topic0() string {
	if len(lr.Topics) == 0 {
		return ""
	}
	return lr.Topics[0]
}

// Ref returns the ledger position of the log.
func (lr LogRecord) Ref() LedgerRef {
	return LedgerRef{BlockNumber: lr.BlockNumber, TxHash: lr.TxHash, LogIndex: lr.LogIndex}
}

// MarshalJSON ensures LogRecord is encoded with stable field names.
func (lr LogRecord) MarshalJSON() ([]byte, error) {
	type Alias LogRecord
	return json.Marshal(Alias(lr))
}

// UnmarshalJSON decodes a LogRecord from JSON.
func (lr *LogRecord) UnmarshalJSON(data []byte) error {
	type Alias LogRecord
	var a Alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*lr = LogRecord(a)
	return nil
}

// LedgerRef locates one log on the ledger.
type LedgerRef struct {
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint64 `json:"log_index"`
}

// Key is the dedup key "<tx hash>:<log index>". The hash is lowercased so
// differently cased deliveries of the same log collide.
func (r LedgerRef) Key() string {
	var b strings.Builder
	b.Grow(len(r.TxHash) + 8)
	b.WriteString(strings.ToLower(r.TxHash))
	b.WriteByte(':')
	b.WriteString(strconv.FormatUint(r.LogIndex, 10))
	return b.String()
}

// NewerThan orders refs most recent block first, then log index descending.
func (r LedgerRef) NewerThan(other LedgerRef) bool {
	if r.BlockNumber != other.BlockNumber {
		return r.BlockNumber > other.BlockNumber
	}
	return r.LogIndex > other.LogIndex
}
