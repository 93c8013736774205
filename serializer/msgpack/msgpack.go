// Package msgpack provides a MessagePack snapshot codec using
// github.com/vmihailenco/msgpack/v5. MessagePack snapshots are smaller and
// faster to decode than JSON, which matters once loans carry long payment
// histories and snapshots are read on every load.
package msgpack

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"

	loanmaster "github.com/dahovitech/loanmaster-sub001"
)

// Codec encodes aggregate snapshots as MessagePack.
type Codec struct {
	// UseJSONTag makes the encoder honor `json` struct tags, so JSON and
	// MessagePack snapshots of the same aggregate stay field-compatible.
	UseJSONTag bool
}

// Option configures a Codec.
type Option func(*Codec)

// WithJSONTags makes the codec reuse `json` struct tags for field names.
func WithJSONTags() Option {
	return func(c *Codec) {
		c.UseJSONTag = true
	}
}

// New creates a MessagePack snapshot codec.
func New(opts ...Option) *Codec {
	c := &Codec{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Marshal encodes the aggregate state as MessagePack.
func (c *Codec) Marshal(aggregate interface{}) ([]byte, error) {
	if c.UseJSONTag {
		var buf bytes.Buffer
		enc := msgpack.GetEncoder()
		defer msgpack.PutEncoder(enc)

		enc.Reset(&buf)
		enc.SetCustomStructTag("json")
		if err := enc.Encode(aggregate); err != nil {
			return nil, loanmaster.NewSerializationError("snapshot", "serialize", err)
		}
		return buf.Bytes(), nil
	}

	data, err := msgpack.Marshal(aggregate)
	if err != nil {
		return nil, loanmaster.NewSerializationError("snapshot", "serialize", err)
	}
	return data, nil
}

// Unmarshal decodes MessagePack snapshot data into the aggregate.
func (c *Codec) Unmarshal(data []byte, aggregate interface{}) error {
	if c.UseJSONTag {
		dec := msgpack.GetDecoder()
		defer msgpack.PutDecoder(dec)

		dec.Reset(bytes.NewReader(data))
		dec.SetCustomStructTag("json")
		if err := dec.Decode(aggregate); err != nil {
			return loanmaster.NewSerializationError("snapshot", "deserialize", err)
		}
		return nil
	}

	if err := msgpack.Unmarshal(data, aggregate); err != nil {
		return loanmaster.NewSerializationError("snapshot", "deserialize", err)
	}
	return nil
}

// ContentType returns the codec's media type.
func (c *Codec) ContentType() string { return "application/msgpack" }

var _ loanmaster.SnapshotCodec = (*Codec)(nil)
