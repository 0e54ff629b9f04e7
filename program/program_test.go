package program_test

import (
	"errors"
	"testing"

	"github.com/skeinlabs/skein"
	"github.com/skeinlabs/skein/frame"
	"github.com/skeinlabs/skein/program"
)

func constFn(v any) program.ComputeFunc {
	return func(_ *frame.Frame) (any, error) { return v, nil }
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		fn      *program.Function
		wantErr bool
	}{
		{
			name: "valid",
			fn: &program.Function{
				Name:    "ok",
				Version: 1,
				Body: []program.Instr{
					program.Eval("x", constFn(1)),
					program.Return(constFn("done")),
				},
			},
		},
		{
			name:    "empty body",
			fn:      &program.Function{Name: "empty", Version: 1},
			wantErr: true,
		},
		{
			name: "missing return",
			fn: &program.Function{
				Name:    "noret",
				Version: 1,
				Body:    []program.Instr{program.Eval("x", constFn(1))},
			},
			wantErr: true,
		},
		{
			name: "jump out of range",
			fn: &program.Function{
				Name:    "badjump",
				Version: 1,
				Body: []program.Instr{
					program.Jump(9),
					program.Return(nil),
				},
			},
			wantErr: true,
		},
		{
			name: "invoke without service",
			fn: &program.Function{
				Name:    "badinvoke",
				Version: 1,
				Body: []program.Instr{
					program.Invoke("r", "", constFn(nil)),
					program.Return(nil),
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestRegistryVersioning(t *testing.T) {
	r := program.NewRegistry()

	body := []program.Instr{program.Return(constFn("v"))}
	r.MustRegister(&program.Function{Name: "transfer", Version: 1, Body: body})
	r.MustRegister(&program.Function{Name: "transfer", Version: 3, Body: body})
	r.MustRegister(&program.Function{Name: "transfer", Version: 2, Body: body})

	latest, err := r.Lookup("transfer", 0)
	if err != nil {
		t.Fatalf("lookup latest failed: %v", err)
	}
	if latest.Version != 3 {
		t.Errorf("expected latest version 3, got %d", latest.Version)
	}

	pinned, err := r.Lookup("transfer", 2)
	if err != nil {
		t.Fatalf("lookup pinned failed: %v", err)
	}
	if pinned.Version != 2 {
		t.Errorf("expected version 2, got %d", pinned.Version)
	}

	if got := r.LatestVersion("transfer"); got != 3 {
		t.Errorf("expected latest version 3, got %d", got)
	}
}

func TestRegistryNotFound(t *testing.T) {
	r := program.NewRegistry()

	if _, err := r.Lookup("missing", 0); !errors.Is(err, skein.ErrFunctionNotFound) {
		t.Errorf("expected ErrFunctionNotFound, got %v", err)
	}

	r.MustRegister(&program.Function{
		Name:    "transfer",
		Version: 1,
		Body:    []program.Instr{program.Return(nil)},
	})

	if _, err := r.Lookup("transfer", 9); !errors.Is(err, skein.ErrFunctionNotFound) {
		t.Errorf("expected ErrFunctionNotFound for unknown version, got %v", err)
	}
}

func TestRegisterDefaultsVersion(t *testing.T) {
	r := program.NewRegistry()
	r.MustRegister(&program.Function{
		Name: "transfer",
		Body: []program.Instr{program.Return(nil)},
	})

	fn, err := r.Lookup("transfer", 1)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if fn.Version != 1 {
		t.Errorf("expected default version 1, got %d", fn.Version)
	}
}

func TestTruthy(t *testing.T) {
	truthy := []any{true, 1, int64(2), "x", 0.5, []any{}}
	for _, v := range truthy {
		if !program.Truthy(v) {
			t.Errorf("expected %v (%T) to be truthy", v, v)
		}
	}

	falsy := []any{nil, false, 0, int64(0), "", 0.0}
	for _, v := range falsy {
		if program.Truthy(v) {
			t.Errorf("expected %v (%T) to be falsy", v, v)
		}
	}
}
