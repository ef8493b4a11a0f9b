package model

import (
	"encoding/json"
	"fmt"
)

// Op is the kind of change a feed record describes.
type Op string

const (
	OpInsert Op = "INSERT"
	OpModify Op = "MODIFY"
	OpRemove Op = "REMOVE"
)

// ChangeEvent is one committed vote store change as carried by the feed.
type ChangeEvent struct {
	Op   Op    `json:"op"`
	Seq  int64 `json:"seq"`
	Vote Vote  `json:"vote"`
}

// PartitionKey groups records that must be applied in order.
func (e ChangeEvent) PartitionKey() string {
	return e.Vote.CollectionID
}

// EncodeChange serializes a change record for the feed.
func EncodeChange(e ChangeEvent) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode change %d: %w", e.Seq, err)
	}
	return b, nil
}

// DecodeChange parses a feed payload. Undecodable payloads wrap ErrPoisonRecord.
func DecodeChange(b []byte) (ChangeEvent, error) {
	var e ChangeEvent
	if err := json.Unmarshal(b, &e); err != nil {
		return ChangeEvent{}, fmt.Errorf("%w: %v", ErrPoisonRecord, err)
	}
	if e.Op == "" {
		return ChangeEvent{}, fmt.Errorf("%w: missing op", ErrPoisonRecord)
	}
	return e, nil
}
