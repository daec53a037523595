package state

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/jllopis/waspnest/pkg/errors"
)

type query struct {
	Query string `json:"query" validate:"required"`
}

type lookalike struct {
	Query string `json:"query"`
}

type response interface{ Summary() string }

type shortResponse struct{ Text string }

func (r shortResponse) Summary() string { return r.Text }

func TestNewCopiesContext(t *testing.T) {
	ctx := map[string]any{"user": "u-1"}
	s, err := New(query{Query: "hello"}, ctx)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx["user"] = "mutated"
	if v, _ := s.Value("user"); v != "u-1" {
		t.Errorf("state context changed through caller map: %v", v)
	}

	got := s.Context()
	got["user"] = "mutated again"
	if v, _ := s.Value("user"); v != "u-1" {
		t.Errorf("state context changed through returned map: %v", v)
	}
}

func TestNewNilContext(t *testing.T) {
	s := Must(query{Query: "hello"}, nil)
	if got := s.Context(); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil context, got %v", got)
	}
}

func TestNewValidates(t *testing.T) {
	_, err := New(query{}, nil)
	if !errors.HasCode(err, errors.CodeValidation) {
		t.Fatalf("expected CodeValidation, got %v", err)
	}
}

func TestMustPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected Must to panic on invalid data")
		}
	}()
	Must(query{}, nil)
}

func TestWithContext(t *testing.T) {
	base := Must(query{Query: "hello"}, map[string]any{"a": 1, "b": 2})
	next := base.WithContext(map[string]any{"b": 3, "c": 4})

	want := map[string]any{"a": 1, "b": 3, "c": 4}
	if !reflect.DeepEqual(next.Context(), want) {
		t.Errorf("merged context = %v, want %v", next.Context(), want)
	}
	if !reflect.DeepEqual(base.Context(), map[string]any{"a": 1, "b": 2}) {
		t.Errorf("receiver changed: %v", base.Context())
	}
	if next.Data() != base.Data() {
		t.Errorf("payload changed: %v", next.Data())
	}

	withKey := base.With("trace", "t-1")
	if v, ok := withKey.Value("trace"); !ok || v != "t-1" {
		t.Errorf("With did not set key: %v", v)
	}
	if _, ok := base.Value("trace"); ok {
		t.Error("With changed the receiver")
	}
}

func TestEraseAndAs(t *testing.T) {
	s := Must(query{Query: "hello"}, map[string]any{"k": "v"})
	erased := s.Erase()

	if erased.Type() != reflect.TypeFor[query]() {
		t.Fatalf("Type() = %v", erased.Type())
	}
	back, ok := As[query](erased)
	if !ok {
		t.Fatal("As failed for the original type")
	}
	if back.Data().Query != "hello" {
		t.Errorf("payload lost: %+v", back.Data())
	}
	if v, _ := back.Value("k"); v != "v" {
		t.Errorf("context lost: %v", back.Context())
	}
	if _, ok := As[lookalike](erased); ok {
		t.Error("As must not convert between distinct named types")
	}
}

func TestEraseValidates(t *testing.T) {
	if _, err := Erase(query{}, nil); !errors.HasCode(err, errors.CodeValidation) {
		t.Fatalf("expected CodeValidation, got %v", err)
	}
	s, err := Erase(query{Query: "ok"}, map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("Erase failed: %v", err)
	}
	if s.IsZero() {
		t.Error("erased state should not be zero")
	}
	if !(Any{}).IsZero() {
		t.Error("zero Any should report IsZero")
	}
}

func TestEqual(t *testing.T) {
	a := Must(query{Query: "x"}, map[string]any{"k": 1}).Erase()
	b := Must(query{Query: "x"}, map[string]any{"k": 1}).Erase()
	c := Must(query{Query: "x"}, map[string]any{"k": 2}).Erase()
	d := Must(lookalike{Query: "x"}, map[string]any{"k": 1}).Erase()

	if !Equal(a, b) {
		t.Error("expected equal states")
	}
	if Equal(a, c) {
		t.Error("different contexts must not be equal")
	}
	if Equal(a, d) {
		t.Error("different payload types must not be equal")
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name     string
		declared reflect.Type
		payload  any
		want     bool
	}{
		{name: "exact type", declared: reflect.TypeFor[query](), payload: query{}, want: true},
		{name: "lookalike type", declared: reflect.TypeFor[query](), payload: lookalike{}, want: false},
		{name: "pointer vs value", declared: reflect.TypeFor[query](), payload: &query{}, want: false},
		{name: "interface implemented", declared: reflect.TypeFor[response](), payload: shortResponse{}, want: true},
		{name: "interface not implemented", declared: reflect.TypeFor[response](), payload: query{}, want: false},
		{name: "nil payload", declared: reflect.TypeFor[query](), payload: nil, want: false},
		{name: "nil declared", declared: nil, payload: query{}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(tt.declared, tt.payload); got != tt.want {
				t.Errorf("Matches(%v, %T) = %v, want %v", tt.declared, tt.payload, got, tt.want)
			}
		})
	}
}

func ExampleState_WithContext() {
	s := Must(query{Query: "What is 2+2?"}, map[string]any{"user_id": "123"})
	s = s.With("trace_id", "t-1")
	fmt.Println(s.Data().Query, len(s.Context()))
	// Output: What is 2+2? 2
}
