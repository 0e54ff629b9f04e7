package frame

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/skeinlabs/skein"
)

// DesyncError reports that the interpreter and its chain have
// desynchronized, for example a pop on an empty chain. It is a
// programming defect in the engine/scheduler pairing, never a
// recoverable runtime condition, so it is raised as a panic and
// recovery middleware re-raises it instead of converting it to a
// script failure.
type DesyncError struct {
	Op     string
	Detail string
}

func (e *DesyncError) Error() string {
	return fmt.Sprintf("skein: chain desync in %s: %s", e.Op, e.Detail)
}

// Chain is a snapshot of an entire call stack at a suspension instant:
// an ordered sequence of Frames, innermost (currently executing) last.
// A chain is heap-owned and relocatable; it outlives the goroutine that
// captured it. Frames are exclusively owned by their chain and are
// never shared between two chains.
//
// A chain is non-empty exactly while its instance is suspended; it is
// empty when the instance is freshly started or has returned to top
// level.
type Chain struct {
	frames []*Frame
}

// NewChain returns an empty chain.
func NewChain() *Chain {
	return &Chain{}
}

// Push captures frame as the new innermost entry.
func (c *Chain) Push(f *Frame) {
	c.frames = append(c.frames, f)
}

// Pop removes and returns the innermost frame. Popping an empty chain
// panics with a DesyncError.
func (c *Chain) Pop() *Frame {
	if len(c.frames) == 0 {
		panic(&DesyncError{Op: "pop", Detail: "empty chain"})
	}

	f := c.frames[len(c.frames)-1]
	c.frames[len(c.frames)-1] = nil
	c.frames = c.frames[:len(c.frames)-1]

	return f
}

// Peek returns the innermost frame without removing it, or nil when the
// chain is empty.
func (c *Chain) Peek() *Frame {
	if len(c.frames) == 0 {
		return nil
	}

	return c.frames[len(c.frames)-1]
}

// Len returns the number of captured frames.
func (c *Chain) Len() int { return len(c.frames) }

// Empty reports whether the chain holds no frames.
func (c *Chain) Empty() bool { return len(c.frames) == 0 }

// Frames returns the captured frames outermost first. The returned
// slice is a copy; the frames themselves are not.
func (c *Chain) Frames() []*Frame {
	out := make([]*Frame, len(c.frames))
	copy(out, c.frames)

	return out
}

// Clone returns a deep copy of the chain. Every frame is detached, so
// the clone shares no memory with the original. Cloning fails if any
// frame holds an unencodable local.
func (c *Chain) Clone() (*Chain, error) {
	clone := &Chain{frames: make([]*Frame, 0, len(c.frames))}
	for _, f := range c.frames {
		detached, err := f.Detach()
		if err != nil {
			return nil, err
		}

		clone.frames = append(clone.frames, detached)
	}

	return clone, nil
}

// Encode serializes the chain to its canonical msgpack form, outermost
// frame first.
func (c *Chain) Encode() ([]byte, error) {
	encoded := make([][]byte, 0, len(c.frames))
	for _, f := range c.frames {
		data, err := EncodeFrame(f)
		if err != nil {
			return nil, err
		}

		encoded = append(encoded, data)
	}

	return encodeFrameList(encoded)
}

func encodeFrameList(frames [][]byte) ([]byte, error) {
	var buf bytes.Buffer

	enc := msgpack.NewEncoder(&buf)
	if err := enc.Encode(frames); err != nil {
		return nil, fmt.Errorf("frame: encode chain: %w", err)
	}

	return buf.Bytes(), nil
}

func decodeFrameList(data []byte) ([][]byte, error) {
	var frames [][]byte
	if err := msgpack.Unmarshal(data, &frames); err != nil {
		return nil, fmt.Errorf("%w: %v", skein.ErrCorruptCheckpoint, err)
	}

	return frames, nil
}

// DecodeChain deserializes a chain produced by Encode.
func DecodeChain(data []byte) (*Chain, error) {
	encoded, err := decodeFrameList(data)
	if err != nil {
		return nil, err
	}

	c := &Chain{frames: make([]*Frame, 0, len(encoded))}
	for _, fd := range encoded {
		f, err := DecodeFrame(fd)
		if err != nil {
			return nil, err
		}

		c.frames = append(c.frames, f)
	}

	return c, nil
}
