package checkpoint

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/skeinlabs/skein"
	"github.com/skeinlabs/skein/frame"
)

// FormatVersion is the current checkpoint byte-format version. It is
// the first byte of every encoded record; a decoder that does not
// understand the version rejects the record instead of misreading it.
const FormatVersion byte = 1

// envelope is the versioned payload behind the format tag. Field tags
// are short because the envelope rides inside every replicated write.
type envelope struct {
	InstanceKey string `msgpack:"k"`
	Sequence    uint64 `msgpack:"q"`
	Chain       []byte `msgpack:"c"`
}

// Codec encodes and decodes checkpoint records. Encoding is
// deterministic: the same instance key, sequence, and logical chain
// always produce identical bytes, which is what makes sequence
// comparison and replay deduplication meaningful.
type Codec struct{}

// Encode serializes a chain with its instance identity into the
// versioned byte layout.
func (Codec) Encode(key string, seq uint64, chain *frame.Chain) ([]byte, error) {
	chainBytes, err := chain.Encode()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteByte(FormatVersion)

	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)

	if err := enc.Encode(envelope{InstanceKey: key, Sequence: seq, Chain: chainBytes}); err != nil {
		return nil, fmt.Errorf("checkpoint: encode %s seq=%d: %w", key, seq, err)
	}

	return buf.Bytes(), nil
}

// Decode deserializes a record produced by Encode. It returns
// ErrUnsupportedVersion for an unknown format tag and
// ErrCorruptCheckpoint for bytes that do not parse; both cases must be
// quarantined by the caller, never silently dropped.
func (Codec) Decode(data []byte) (Recovered, error) {
	if len(data) == 0 {
		return Recovered{}, fmt.Errorf("%w: empty record", skein.ErrCorruptCheckpoint)
	}

	if data[0] != FormatVersion {
		return Recovered{}, fmt.Errorf("%w: got %d, support %d", skein.ErrUnsupportedVersion, data[0], FormatVersion)
	}

	var env envelope
	if err := msgpack.Unmarshal(data[1:], &env); err != nil {
		return Recovered{}, fmt.Errorf("%w: %v", skein.ErrCorruptCheckpoint, err)
	}

	chain, err := frame.DecodeChain(env.Chain)
	if err != nil {
		return Recovered{}, err
	}

	return Recovered{InstanceKey: env.InstanceKey, Sequence: env.Sequence, Chain: chain}, nil
}
