package frame_test

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/skeinlabs/skein"
	"github.com/skeinlabs/skein/frame"
)

func TestSetLocalPreservesOrder(t *testing.T) {
	f := frame.NewFrame("transfer", 1)
	f.SetLocal("amount", 100)
	f.SetLocal("account", "acc-1")
	f.SetLocal("amount", 250)

	if len(f.Locals) != 2 {
		t.Fatalf("expected 2 locals, got %d", len(f.Locals))
	}
	if f.Locals[0].Slot != "amount" || f.Locals[1].Slot != "account" {
		t.Errorf("binding order changed: %v", f.Locals)
	}

	v, ok := f.Local("amount")
	if !ok {
		t.Fatal("expected amount binding")
	}
	if v != int64(250) {
		t.Errorf("expected replaced value 250, got %T %v", v, v)
	}

	if _, ok := f.Local("missing"); ok {
		t.Error("expected no binding for missing slot")
	}
}

func TestLocalsCanonicalForm(t *testing.T) {
	f := frame.NewFrame("transfer", 1)
	f.SetLocal("amount", 7)
	f.SetLocal("retries", uint8(3))
	f.SetLocal("ratio", float32(0.5))
	f.SetLocal("meta", map[string]any{"attempt": 2, "ids": []any{1, 2}})

	if v, _ := f.Local("amount"); v != int64(7) {
		t.Errorf("expected int64 amount, got %T %v", v, v)
	}
	if v, _ := f.Local("retries"); v != int64(3) {
		t.Errorf("expected int64 retries, got %T %v", v, v)
	}
	if v, _ := f.Local("ratio"); v != 0.5 {
		t.Errorf("expected float64 ratio, got %T %v", v, v)
	}
	if v, _ := f.Local("meta"); v.(map[string]any)["attempt"] != int64(2) {
		t.Errorf("expected nested int64, got %#v", v)
	}

	// The capture round trip must not change any local's type or value.
	detached, err := f.Detach()
	if err != nil {
		t.Fatalf("detach failed: %v", err)
	}
	if !reflect.DeepEqual(f.Locals, detached.Locals) {
		t.Errorf("locals changed across capture:\nbefore %#v\nafter  %#v", f.Locals, detached.Locals)
	}
}

func TestDetachSeversAliases(t *testing.T) {
	shared := map[string]any{"status": "pending"}

	f := frame.NewFrame("transfer", 1)
	f.IP = 4
	f.ResultSlot = "reply"
	f.SetLocal("state", shared)

	detached, err := f.Detach()
	if err != nil {
		t.Fatalf("detach failed: %v", err)
	}

	// Mutating the original must not be visible through the capture.
	shared["status"] = "done"

	v, ok := detached.Local("state")
	if !ok {
		t.Fatal("expected state binding in detached frame")
	}
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected map local, got %T", v)
	}
	if m["status"] != "pending" {
		t.Errorf("detached frame aliases original: got %v", m["status"])
	}

	if detached.IP != 4 || detached.ResultSlot != "reply" {
		t.Errorf("resume point not preserved: ip=%d slot=%q", detached.IP, detached.ResultSlot)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	build := func(order []string) *frame.Frame {
		m := make(map[string]any)
		for _, k := range order {
			m[k] = k + "-value"
		}

		f := frame.NewFrame("reconcile", 2)
		f.IP = 7
		f.SetLocal("ledger", m)
		f.SetLocal("count", int64(3))

		return f
	}

	a, err := frame.EncodeFrame(build([]string{"alpha", "beta", "gamma"}))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	b, err := frame.EncodeFrame(build([]string{"gamma", "alpha", "beta"}))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	if !bytes.Equal(a, b) {
		t.Error("capturing the same logical state twice produced different bytes")
	}
}

func TestEncodeUnencodableLocal(t *testing.T) {
	f := frame.NewFrame("transfer", 1)
	f.SetLocal("ch", make(chan int))

	_, err := frame.EncodeFrame(f)
	if err == nil {
		t.Fatal("expected encode error for channel local")
	}
	if !errors.Is(err, skein.ErrUnencodableValue) {
		t.Errorf("expected ErrUnencodableValue, got %v", err)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	f := frame.NewFrame("transfer", 3)
	f.IP = 12
	f.ResultSlot = "reply"
	f.ErrSlot = "replyErr"
	f.SetLocal("account", "acc-9")
	f.SetLocal("amount", int64(500))

	data, err := frame.EncodeFrame(f)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	decoded, err := frame.DecodeFrame(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if decoded.Function != "transfer" || decoded.FunctionVersion != 3 {
		t.Errorf("function identity lost: %s v%d", decoded.Function, decoded.FunctionVersion)
	}
	if decoded.IP != 12 || decoded.ResultSlot != "reply" || decoded.ErrSlot != "replyErr" {
		t.Errorf("resume point lost: %+v", decoded)
	}
	if len(decoded.Locals) != 2 || decoded.Locals[0].Slot != "account" {
		t.Errorf("locals lost: %v", decoded.Locals)
	}
	if v, _ := decoded.Local("amount"); v != int64(500) {
		t.Errorf("amount changed across decode: %T %v", v, v)
	}
}

func TestDecodeFrameCorrupt(t *testing.T) {
	_, err := frame.DecodeFrame([]byte{0xc1, 0xff, 0x00})
	if err == nil {
		t.Fatal("expected decode error")
	}
	if !errors.Is(err, skein.ErrCorruptCheckpoint) {
		t.Errorf("expected ErrCorruptCheckpoint, got %v", err)
	}
}
