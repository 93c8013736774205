package loanmaster

import (
	"encoding/json"
)

// DefaultSnapshotCadence is the default number of committed events between
// snapshots.
const DefaultSnapshotCadence = 25

// SnapshotCodec encodes and decodes aggregate state for the snapshot store.
// Snapshots are a disposable cache; the codec only needs to round-trip the
// aggregate's exported state, not its event history.
type SnapshotCodec interface {
	// Marshal encodes the aggregate state.
	Marshal(aggregate interface{}) ([]byte, error)

	// Unmarshal decodes snapshot data into the aggregate.
	Unmarshal(data []byte, aggregate interface{}) error

	// ContentType identifies the encoding (e.g. "application/json").
	ContentType() string
}

// JSONSnapshotCodec is the default SnapshotCodec using JSON encoding.
type JSONSnapshotCodec struct{}

// Marshal encodes the aggregate state as JSON.
func (JSONSnapshotCodec) Marshal(aggregate interface{}) ([]byte, error) {
	data, err := json.Marshal(aggregate)
	if err != nil {
		return nil, NewSerializationError("snapshot", "serialize", err)
	}
	return data, nil
}

// Unmarshal decodes JSON snapshot data into the aggregate.
func (JSONSnapshotCodec) Unmarshal(data []byte, aggregate interface{}) error {
	if err := json.Unmarshal(data, aggregate); err != nil {
		return NewSerializationError("snapshot", "deserialize", err)
	}
	return nil
}

// ContentType returns the codec's media type.
func (JSONSnapshotCodec) ContentType() string { return "application/json" }

var _ SnapshotCodec = JSONSnapshotCodec{}
