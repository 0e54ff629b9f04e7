// Package frame defines the captured activation record (Frame) and the
// continuation chain (Chain) that together represent a suspended call
// stack.
//
// A Frame is mutable only while it is the active (innermost) activation
// driven by the interpreter. The moment it is captured into a Chain it
// must hold no references to interpreter-internal mutables; Detach
// enforces that by deep-copying every local through the wire encoding.
//
// Capture is deterministic: locals are an ordered slice, not a map, and
// the msgpack encoding sorts map keys, so capturing the same logical
// execution point twice yields byte-identical encodings. That property
// is what makes checkpoint sequence comparison and replay deduplication
// meaningful.
package frame

import (
	"bytes"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/skeinlabs/skein"
)

// Binding is one local-slot binding inside a Frame. Bindings keep their
// declaration order so that encoded frames are byte-stable. Values are
// held in canonical form (integers as int64, floats as float64); the
// wire encoding does not distinguish narrower kinds, so neither does
// the value model.
type Binding struct {
	Slot  string `msgpack:"s" json:"slot"`
	Value any    `msgpack:"v" json:"value"`
}

// Frame is one captured activation record: where to continue, the local
// bindings at the suspension instant, and the slot that receives the
// pending operation's result on resume.
type Frame struct {
	// Function names the registered function body this frame executes,
	// together with the registry version it was compiled against.
	Function        string `msgpack:"f" json:"function"`
	FunctionVersion int    `msgpack:"fv" json:"function_version"`

	// IP is the instruction index where execution continues on resume.
	IP int `msgpack:"ip" json:"ip"`

	// Locals are the frame's bindings, innermost declaration last.
	Locals []Binding `msgpack:"l" json:"locals"`

	// ResultSlot names the local that receives the pending operation's
	// result before execution continues. Empty when the result is
	// discarded.
	ResultSlot string `msgpack:"rs" json:"result_slot"`

	// ErrSlot, when non-empty, names the local that receives a typed
	// operation error instead of failing the frame. Transport timeouts
	// surface here so script logic can handle them.
	ErrSlot string `msgpack:"es" json:"err_slot,omitempty"`
}

// NewFrame creates an active frame for the given function body.
func NewFrame(function string, version int) *Frame {
	return &Frame{
		Function:        function,
		FunctionVersion: version,
	}
}

// SetLocal binds value to slot, replacing an existing binding in place
// so declaration order is preserved. The value is canonicalized first,
// so a local has the same type before and after a capture round trip.
func (f *Frame) SetLocal(slot string, value any) {
	value = canonical(value)

	for i := range f.Locals {
		if f.Locals[i].Slot == slot {
			f.Locals[i].Value = value

			return
		}
	}

	f.Locals = append(f.Locals, Binding{Slot: slot, Value: value})
}

// Local returns the value bound to slot.
func (f *Frame) Local(slot string) (any, bool) {
	for i := range f.Locals {
		if f.Locals[i].Slot == slot {
			return f.Locals[i].Value, true
		}
	}

	return nil, false
}

// Detach returns a deep copy of the frame that shares no memory with
// the original. The copy is produced by an encode/decode round trip
// through msgpack, which both severs aliases and proves every local is
// encodable. A local that cannot be encoded fails the capture with
// ErrUnencodableValue; that failure is distinct from any script-level
// error.
func (f *Frame) Detach() (*Frame, error) {
	data, err := EncodeFrame(f)
	if err != nil {
		return nil, err
	}

	return DecodeFrame(data)
}

// EncodeFrame serializes a frame to its canonical msgpack form.
// Map-valued locals are encoded with sorted keys so that encoding the
// same logical frame twice yields identical bytes.
func EncodeFrame(f *Frame) ([]byte, error) {
	var buf bytes.Buffer

	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)

	if err := enc.Encode(f); err != nil {
		return nil, fmt.Errorf("%w: frame %s ip=%d: %v", skein.ErrUnencodableValue, f.Function, f.IP, err)
	}

	return buf.Bytes(), nil
}

// DecodeFrame deserializes a frame from its msgpack form. Decoded
// locals are canonicalized: msgpack narrows small integers on the wire,
// so without this step decode(encode(f)) would change local types.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", skein.ErrCorruptCheckpoint, err)
	}

	for i := range f.Locals {
		f.Locals[i].Value = canonical(f.Locals[i].Value)
	}

	return &f, nil
}

// canonical maps a value into the script value model: every integer
// kind becomes int64 and float32 widens to float64, recursively through
// slices and maps. A uint64 above the int64 range stays a uint64.
func canonical(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		if uint64(x) > math.MaxInt64 {
			return uint64(x)
		}
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return x
		}
		return int64(x)
	case float32:
		return float64(x)
	case []any:
		for i := range x {
			x[i] = canonical(x[i])
		}
		return x
	case map[string]any:
		for k := range x {
			x[k] = canonical(x[k])
		}
		return x
	default:
		return v
	}
}
