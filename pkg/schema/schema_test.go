package schema

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/jllopis/waspnest/pkg/errors"
)

type response struct {
	Answer     string  `json:"answer" validate:"required"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
}

type answer interface{ Text() string }

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		wantErr bool
	}{
		{name: "valid struct", value: response{Answer: "ok", Confidence: 1}},
		{name: "valid pointer", value: &response{Answer: "ok", Confidence: 0.5}},
		{name: "missing required", value: response{Confidence: 0.5}, wantErr: true},
		{name: "out of range", value: response{Answer: "ok", Confidence: 1.5}, wantErr: true},
		{name: "nil", value: nil},
		{name: "nil pointer", value: (*response)(nil)},
		{name: "scalar", value: 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.value)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected validation error")
				}
				if !errors.HasCode(err, errors.CodeValidation) {
					t.Fatalf("expected CodeValidation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateReportsFields(t *testing.T) {
	err := Validate(response{Confidence: 2})
	we := errors.AsError(err)
	fields, ok := we.Context["fields"].([]string)
	if !ok || len(fields) != 2 {
		t.Fatalf("expected two failing fields, got %v", we.Context["fields"])
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "bare json", raw: `{"answer":"ok","confidence":1.0}`},
		{name: "fenced", raw: "```json\n{\"answer\":\"ok\",\"confidence\":1.0}\n```"},
		{name: "with prose", raw: `Sure! Here it is: {"answer":"ok","confidence":1.0} Hope it helps.`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode[response](tt.raw)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if got.Answer != "ok" || got.Confidence != 1.0 {
				t.Fatalf("unexpected value: %+v", got)
			}
		})
	}
}

func TestDecodeFailures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "no json", raw: "I cannot answer that"},
		{name: "wrong shape", raw: `{"answer": 3}`},
		{name: "fails validation", raw: `{"answer":"","confidence":0.2}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode[response](tt.raw)
			if !errors.HasCode(err, errors.CodeValidation) {
				t.Fatalf("expected CodeValidation, got %v", err)
			}
		})
	}
}

func TestDecodeInterfaceRejected(t *testing.T) {
	_, err := Decode[answer](`{"answer":"ok"}`)
	if !errors.HasCode(err, errors.CodeValidation) {
		t.Fatalf("expected CodeValidation, got %v", err)
	}
}

func TestInstructionContainsSchema(t *testing.T) {
	got, err := Instruction(reflect.TypeFor[response]())
	if err != nil {
		t.Fatalf("Instruction failed: %v", err)
	}
	for _, want := range []string{`"answer"`, `"confidence"`, "Respond ONLY with the JSON object"} {
		if !strings.Contains(got, want) {
			t.Errorf("instruction missing %s:\n%s", want, got)
		}
	}
}

func TestTypeName(t *testing.T) {
	if got := TypeName(nil); got != "<nil>" {
		t.Errorf("TypeName(nil) = %q", got)
	}
	if got := TypeName(reflect.TypeFor[response]()); got != "schema.response" {
		t.Errorf("TypeName(response) = %q", got)
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{in: "short", n: 10, want: "short"},
		{in: "abcdef", n: 3, want: "abc..."},
		{in: "añb", n: 2, want: "a..."},
		{in: "日本語", n: 4, want: "日..."},
	}
	for _, tt := range tests {
		got := truncate(tt.in, tt.n)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) produced invalid UTF-8", tt.in, tt.n)
		}
	}
}
