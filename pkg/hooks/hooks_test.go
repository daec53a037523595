package hooks

import (
	"bytes"
	"context"
	stderrors "errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/jllopis/waspnest/pkg/errors"
	"github.com/jllopis/waspnest/pkg/state"
)

type payload struct{ Query string }

func TestParsePoint(t *testing.T) {
	tests := []struct {
		in      string
		want    Point
		wantErr bool
	}{
		{in: "pre_execute", want: PreExecute},
		{in: "post_execute", want: PostExecute},
		{in: "skill_start", want: SkillStart},
		{in: "skill_end", want: SkillEnd},
		{in: "error", want: Error},
		{in: "llm_request", want: LLMRequest},
		{in: "PRE_EXECUTE", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePoint(tt.in)
			if tt.wantErr {
				if !errors.HasCode(err, errors.CodeConfiguration) {
					t.Fatalf("expected CodeConfiguration, got %v", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("ParsePoint(%q) = %v, %v", tt.in, got, err)
			}
		})
	}
}

func TestOnRejectsInvalidRegistration(t *testing.T) {
	r := NewRegistry()
	noop := func(context.Context, Event) error { return nil }

	if err := r.On("on_finish", noop); !errors.HasCode(err, errors.CodeConfiguration) {
		t.Errorf("unknown point: expected CodeConfiguration, got %v", err)
	}
	if err := r.On(SkillEnd, nil); !errors.HasCode(err, errors.CodeConfiguration) {
		t.Errorf("nil handler: expected CodeConfiguration, got %v", err)
	}
	if r.Len(SkillEnd) != 0 {
		t.Errorf("rejected handlers must not be registered")
	}
}

func TestNotifyOrderAndPayload(t *testing.T) {
	r := NewRegistry()
	var order []int
	var seen []Event
	for i := range 3 {
		err := r.On(SkillEnd, func(_ context.Context, ev Event) error {
			order = append(order, i)
			seen = append(seen, ev)
			return nil
		})
		if err != nil {
			t.Fatalf("On failed: %v", err)
		}
	}

	ev := NewEvent(SkillEnd, "run-1", "agent")
	ev.Skill = "Echo"
	ev.Step = 0
	ev.State = state.Must(payload{Query: "q"}, nil).Erase()
	if err := r.Notify(context.Background(), ev); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("handlers ran out of order: %v", order)
	}
	for _, got := range seen {
		if got.Skill != "Echo" || got.RunID != "run-1" {
			t.Errorf("handler saw incomplete event: %+v", got)
		}
		if got.State.Data().(payload).Query != "q" {
			t.Errorf("handler saw wrong state: %v", got.State.Data())
		}
	}
}

func TestNotifyOnlyTargetPoint(t *testing.T) {
	r := NewRegistry()
	called := false
	_ = r.On(SkillStart, func(context.Context, Event) error {
		called = true
		return nil
	})
	_ = r.Notify(context.Background(), NewEvent(SkillEnd, "run", "agent"))
	if called {
		t.Error("handler for a different point must not run")
	}
}

func TestFailLogContinues(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	r := NewRegistry(WithLogger(logger))

	ran := 0
	_ = r.On(PreExecute, func(context.Context, Event) error { return stderrors.New("boom") })
	_ = r.On(PreExecute, func(context.Context, Event) error { panic("kaboom") })
	_ = r.On(PreExecute, func(context.Context, Event) error {
		ran++
		return nil
	})

	if err := r.Notify(context.Background(), NewEvent(PreExecute, "run", "agent")); err != nil {
		t.Fatalf("FailLog must not return an error, got %v", err)
	}
	if ran != 1 {
		t.Errorf("remaining handler should still run")
	}
	out := buf.String()
	if strings.Count(out, "hook handler failed") != 2 {
		t.Errorf("expected two logged failures, got:\n%s", out)
	}
	if !strings.Contains(out, "kaboom") {
		t.Errorf("panic value should be logged, got:\n%s", out)
	}
}

func TestFailAbortStops(t *testing.T) {
	r := NewRegistry(WithFailurePolicy(FailAbort))
	cause := stderrors.New("boom")
	ran := false
	_ = r.On(SkillStart, func(context.Context, Event) error { return cause })
	_ = r.On(SkillStart, func(context.Context, Event) error {
		ran = true
		return nil
	})

	err := r.Notify(context.Background(), NewEvent(SkillStart, "run", "agent"))
	if !errors.HasCode(err, errors.CodeHookFailure) {
		t.Fatalf("expected CodeHookFailure, got %v", err)
	}
	if !stderrors.Is(err, cause) {
		t.Error("hook failure should wrap the handler error")
	}
	if ran {
		t.Error("handlers after the failure must not run under FailAbort")
	}
}

func TestParseFailurePolicy(t *testing.T) {
	for in, want := range map[string]FailurePolicy{"": FailLog, "log": FailLog, "abort": FailAbort} {
		got, err := ParseFailurePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseFailurePolicy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseFailurePolicy("retry"); !errors.HasCode(err, errors.CodeConfiguration) {
		t.Errorf("expected CodeConfiguration, got %v", err)
	}
}

func TestOnAll(t *testing.T) {
	r := NewRegistry()
	if err := r.OnAll(func(context.Context, Event) error { return nil }); err != nil {
		t.Fatalf("OnAll failed: %v", err)
	}
	for _, p := range Points {
		if r.Len(p) != 1 {
			t.Errorf("Len(%s) = %d, want 1", p, r.Len(p))
		}
	}
}

func TestNilRegistryNotify(t *testing.T) {
	var r *Registry
	if err := r.Notify(context.Background(), NewEvent(PreExecute, "run", "agent")); err != nil {
		t.Errorf("nil registry should be a no-op, got %v", err)
	}
}
