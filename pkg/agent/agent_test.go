package agent_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"testing"

	"github.com/jllopis/waspnest/pkg/agent"
	"github.com/jllopis/waspnest/pkg/errors"
	"github.com/jllopis/waspnest/pkg/hooks"
	"github.com/jllopis/waspnest/pkg/llm"
	"github.com/jllopis/waspnest/pkg/skill"
	"github.com/jllopis/waspnest/pkg/state"
	wtesting "github.com/jllopis/waspnest/pkg/testing"
)

type Query struct {
	Query string `json:"query" validate:"required"`
}

type Analysis struct {
	Topic  string `json:"topic" validate:"required"`
	Intent string `json:"intent"`
}

type Response struct {
	Answer     string  `json:"answer" validate:"required"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
}

type Other struct {
	Note string `json:"note"`
}

func analyzer() skill.Skill {
	return skill.New("Analyzer", func(ctx context.Context, env *skill.Env, in state.State[Query]) (state.State[Analysis], error) {
		out, err := skill.Ask[Analysis](ctx, env, "Analyze: "+in.Data().Query, "You classify queries.")
		if err != nil {
			return state.State[Analysis]{}, err
		}
		return state.New(out, in.Context())
	})
}

func responder() skill.Skill {
	return skill.New("Responder", func(ctx context.Context, env *skill.Env, in state.State[Analysis]) (state.State[Response], error) {
		out, err := skill.Ask[Response](ctx, env, "Answer about "+in.Data().Topic, "")
		if err != nil {
			return state.State[Response]{}, err
		}
		return state.New(out, in.Context())
	})
}

func echo() skill.Skill {
	return skill.New("Echo", func(ctx context.Context, env *skill.Env, in state.State[Query]) (state.State[Response], error) {
		out, err := skill.Ask[Response](ctx, env, in.Data().Query, "")
		if err != nil {
			return state.State[Response]{}, err
		}
		return state.New(out, in.Context())
	})
}

// deterministic answers every request from its content alone.
func deterministic() llm.Provider {
	return llm.ProviderFunc(func(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{
			Content: fmt.Sprintf(`{"answer":%q,"confidence":1.0}`, req.LastUser()),
		}, nil
	})
}

func newAgent(t *testing.T, skills []skill.Skill, client llm.Provider, opts ...agent.Option) (*agent.Agent, *wtesting.HookRecorder) {
	t.Helper()
	a, err := agent.New(skills, client, opts...)
	if err != nil {
		t.Fatalf("agent.New failed: %v", err)
	}
	rec := wtesting.NewHookRecorder()
	if err := rec.Attach(a.Hooks()); err != nil {
		t.Fatalf("attach recorder: %v", err)
	}
	return a, rec
}

func query(q string) state.Any {
	return state.Must(Query{Query: q}, nil).Erase()
}

func TestNewConfigurationErrors(t *testing.T) {
	client := &llm.MockProvider{}
	tests := []struct {
		name   string
		skills []skill.Skill
		client llm.Provider
		opts   []agent.Option
	}{
		{name: "no skills", skills: nil, client: client},
		{name: "nil skill", skills: []skill.Skill{echo(), nil}, client: client},
		{name: "nil client", skills: []skill.Skill{echo()}, client: nil},
		{name: "empty name", skills: []skill.Skill{echo()}, client: client, opts: []agent.Option{agent.WithName("")}},
		{name: "empty model", skills: []skill.Skill{echo()}, client: client, opts: []agent.Option{agent.WithModel("")}},
		{name: "nil hooks", skills: []skill.Skill{echo()}, client: client, opts: []agent.Option{agent.WithHooks(nil)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := agent.New(tt.skills, tt.client, tt.opts...)
			if !errors.HasCode(err, errors.CodeConfiguration) {
				t.Fatalf("expected CodeConfiguration, got %v", err)
			}
		})
	}
}

func TestNewDefaults(t *testing.T) {
	a, err := agent.New([]skill.Skill{echo()}, &llm.MockProvider{})
	if err != nil {
		t.Fatalf("agent.New failed: %v", err)
	}
	if a.Name() != agent.DefaultName || a.Model() != llm.DefaultModel {
		t.Errorf("defaults = %q, %q", a.Name(), a.Model())
	}
	if a.Hooks() == nil {
		t.Error("expected a default registry")
	}
	if len(a.Skills()) != 1 {
		t.Errorf("Skills() = %v", a.Skills())
	}
}

func TestExecuteEcho(t *testing.T) {
	provider := wtesting.NewScenarioProvider().AddResponse(`{"answer":"ok","confidence":1.0}`)
	a, _ := newAgent(t, []skill.Skill{echo()}, provider)

	out, err := agent.ExecuteAs[Response](context.Background(), a, query("ping"))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out.Data().Answer != "ok" || out.Data().Confidence != 1.0 {
		t.Errorf("unexpected response: %+v", out.Data())
	}
}

func TestExecuteHookOrderSuccess(t *testing.T) {
	provider := wtesting.NewScenarioProvider().
		AddResponse(`{"topic":"math","intent":"question"}`).
		AddResponse(`{"answer":"4","confidence":0.9}`)
	a, rec := newAgent(t, []skill.Skill{analyzer(), responder()}, provider)

	if _, err := a.Execute(context.Background(), query("What is 2+2?")); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	want := []wtesting.Step{
		{Point: hooks.PreExecute},
		{Point: hooks.SkillStart, Skill: "Analyzer"},
		{Point: hooks.SkillEnd, Skill: "Analyzer"},
		{Point: hooks.SkillStart, Skill: "Responder"},
		{Point: hooks.SkillEnd, Skill: "Responder"},
		{Point: hooks.PostExecute},
	}
	if got := rec.Sequence(false); !slices.Equal(got, want) {
		t.Errorf("sequence = %v, want %v", got, want)
	}

	withLLM := rec.Sequence(true)
	if withLLM[2].Point != hooks.LLMRequest || withLLM[2].Skill != "Analyzer" {
		t.Errorf("llm_request should fire inside the Analyzer step: %v", withLLM)
	}
}

func TestExecuteHookOrderFailure(t *testing.T) {
	third := false
	last := skill.New("Never", func(_ context.Context, _ *skill.Env, in state.State[Response]) (state.State[Response], error) {
		third = true
		return in, nil
	})
	provider := wtesting.NewScenarioProvider().
		AddResponse(`{"topic":"math"}`).
		AddErrorResponse(stderrors.New("503 service unavailable"))
	a, rec := newAgent(t, []skill.Skill{analyzer(), responder(), last}, provider)

	_, err := a.Execute(context.Background(), query("q"))
	if !errors.HasCode(err, errors.CodeUpstream) {
		t.Fatalf("expected CodeUpstream, got %v", err)
	}
	if third {
		t.Error("skills after the failure must not run")
	}

	want := []wtesting.Step{
		{Point: hooks.PreExecute},
		{Point: hooks.SkillStart, Skill: "Analyzer"},
		{Point: hooks.SkillEnd, Skill: "Analyzer"},
		{Point: hooks.SkillStart, Skill: "Responder"},
		{Point: hooks.Error, Skill: "Responder"},
	}
	if got := rec.Sequence(false); !slices.Equal(got, want) {
		t.Errorf("sequence = %v, want %v", got, want)
	}

	se, ok := agent.AsStepError(err)
	if !ok {
		t.Fatalf("expected *StepError, got %T", err)
	}
	if se.Skill != "Responder" || se.Step != 1 {
		t.Errorf("unexpected step error: %+v", se)
	}
	if _, ok := state.As[Analysis](se.State); !ok {
		t.Errorf("step error should carry the failing skill's input, got %v", se.State.Type())
	}
}

func TestExecuteWrongOutputType(t *testing.T) {
	liar := skill.MustDeclare("Echo", reflect.TypeFor[Query](), reflect.TypeFor[Response](),
		func(_ context.Context, _ *skill.Env, in state.Any) (state.Any, error) {
			return state.Must(Other{Note: "not a response"}, in.Context()).Erase(), nil
		})
	a, _ := newAgent(t, []skill.Skill{liar}, &llm.MockProvider{})

	scenario := wtesting.NewScenario("wrong output").
		WithInput(query("ping")).
		ExpectErrorCode(errors.CodeTypeMismatch).
		ExpectSequence(
			wtesting.Step{Point: hooks.PreExecute},
			wtesting.Step{Point: hooks.SkillStart, Skill: "Echo"},
			wtesting.Step{Point: hooks.Error, Skill: "Echo"},
		).
		ExpectNoStep(wtesting.Step{Point: hooks.SkillEnd, Skill: "Echo"})

	result := scenario.Run(t, a)
	result.Assert(t, scenario)

	if !agent.IsTypeMismatch(result.Error) {
		t.Errorf("IsTypeMismatch(%v) = false", result.Error)
	}
}

func TestExecuteInputMismatchSkipsCollaborator(t *testing.T) {
	provider := wtesting.NewScenarioProvider().AddResponse(`{"answer":"ok","confidence":1.0}`)
	a, _ := newAgent(t, []skill.Skill{echo()}, provider)

	_, err := a.Execute(context.Background(), state.Must(Other{Note: "x"}, nil).Erase())
	if !errors.HasCode(err, errors.CodeTypeMismatch) {
		t.Fatalf("expected CodeTypeMismatch, got %v", err)
	}
	if provider.CallCount() != 0 {
		t.Errorf("collaborator called %d times", provider.CallCount())
	}
}

func TestExecuteInvalidReply(t *testing.T) {
	provider := wtesting.NewScenarioProvider().AddResponse(`{"answer":"","confidence":2}`)
	a, _ := newAgent(t, []skill.Skill{echo()}, provider)

	_, err := a.Execute(context.Background(), query("ping"))
	if !agent.IsValidation(err) {
		t.Fatalf("expected a validation failure, got %v", err)
	}
}

func TestErrorEventPayload(t *testing.T) {
	cause := stderrors.New("boom")
	failing := skill.New("Failing", func(context.Context, *skill.Env, state.State[Query]) (state.State[Response], error) {
		return state.State[Response]{}, cause
	})
	a, rec := newAgent(t, []skill.Skill{failing}, &llm.MockProvider{})

	_, err := a.Execute(context.Background(), query("ping"))
	if !stderrors.Is(err, cause) {
		t.Fatalf("original error must be preserved, got %v", err)
	}

	var errEv *hooks.Event
	for _, ev := range rec.Events() {
		if ev.Point == hooks.Error {
			errEv = &ev
		}
	}
	if errEv == nil {
		t.Fatal("error event not fired")
	}
	if errEv.Err != cause || errEv.Skill != "Failing" || errEv.Status != hooks.StatusFailed || errEv.InputType != "agent_test.Query" {
		t.Errorf("unexpected error event: %+v", errEv)
	}
	if data, ok := errEv.State.Data().(Query); !ok || data.Query != "ping" {
		t.Errorf("error event should carry the current state, got %v", errEv.State.Data())
	}
}

func TestSkillEventsCarryDeclaredTypes(t *testing.T) {
	a, rec := newAgent(t, []skill.Skill{echo()}, deterministic())
	if _, err := a.Execute(context.Background(), query("ping")); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	for _, ev := range rec.Events() {
		switch ev.Point {
		case hooks.SkillStart, hooks.SkillEnd:
			if ev.InputType != "agent_test.Query" || ev.OutputType != "agent_test.Response" {
				t.Errorf("%s types = %s -> %s", ev.Point, ev.InputType, ev.OutputType)
			}
		case hooks.PreExecute, hooks.PostExecute:
			if ev.InputType != "" || ev.OutputType != "" {
				t.Errorf("%s should not carry skill types: %+v", ev.Point, ev)
			}
		}
	}
}

func TestExecuteIdempotent(t *testing.T) {
	a, _ := newAgent(t, []skill.Skill{echo()}, deterministic(), agent.WithStepContext())
	initial := state.Must(Query{Query: "same"}, map[string]any{"user_id": "1"}).Erase()

	first, err := a.Execute(context.Background(), initial)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := a.Execute(context.Background(), initial)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !state.Equal(first, second) {
		t.Errorf("runs differ: %v %v vs %v %v", first.Data(), first.Context(), second.Data(), second.Context())
	}
	if _, ok := initial.Value(agent.ContextSteps); ok {
		t.Error("Execute must not modify the initial state")
	}
}

func TestExecuteConcurrent(t *testing.T) {
	a, _ := newAgent(t, []skill.Skill{echo()}, deterministic())

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q := fmt.Sprintf("q-%d", i)
			out, err := agent.ExecuteAs[Response](context.Background(), a, query(q))
			if err != nil {
				errs[i] = err
				return
			}
			if out.Data().Answer != q {
				errs[i] = fmt.Errorf("run %d answered %q", i, out.Data().Answer)
			}
		}()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			t.Error(err)
		}
	}
}

func TestRunContextAndStepContext(t *testing.T) {
	a, _ := newAgent(t, []skill.Skill{echo()}, deterministic(), agent.WithStepContext())

	out, err := a.Execute(context.Background(), query("q"), agent.WithRunContext(map[string]any{"trace_id": "t-1"}))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	want := map[string]any{"trace_id": "t-1", agent.ContextLastSkill: "Echo", agent.ContextSteps: 1}
	if !reflect.DeepEqual(out.Context(), want) {
		t.Errorf("context = %v, want %v", out.Context(), want)
	}
}

func TestRunIDOnEvents(t *testing.T) {
	a, rec := newAgent(t, []skill.Skill{echo()}, deterministic())
	out, err := a.Execute(context.Background(), query("q"))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	events := rec.Events()
	id := events[0].RunID
	if id == "" {
		t.Fatal("expected a run id")
	}
	for _, ev := range events {
		if ev.RunID != id {
			t.Errorf("%s has run id %q, want %q", ev.Point, ev.RunID, id)
		}
	}
	if len(out.Context()) != 0 {
		t.Errorf("run id must not leak into the state: %v", out.Context())
	}
}

func TestFailingHookIsLoggedByDefault(t *testing.T) {
	a, _ := newAgent(t, []skill.Skill{echo()}, deterministic())
	_ = a.Hooks().On(hooks.SkillStart, func(context.Context, hooks.Event) error {
		return stderrors.New("handler broke")
	})

	if _, err := a.Execute(context.Background(), query("q")); err != nil {
		t.Fatalf("a failing handler must not fail the run by default: %v", err)
	}
}

func TestAbortingHookFailsRun(t *testing.T) {
	reg := hooks.NewRegistry(hooks.WithFailurePolicy(hooks.FailAbort))
	provider := wtesting.NewScenarioProvider().AddResponse(`{"answer":"ok","confidence":1}`)
	a, rec := newAgent(t, []skill.Skill{echo()}, provider, agent.WithHooks(reg))
	_ = reg.On(hooks.SkillStart, func(context.Context, hooks.Event) error {
		return stderrors.New("not allowed")
	})

	_, err := a.Execute(context.Background(), query("q"))
	if !errors.HasCode(err, errors.CodeHookFailure) {
		t.Fatalf("expected CodeHookFailure, got %v", err)
	}
	if provider.CallCount() != 0 {
		t.Error("skill must not run after an aborting skill_start hook")
	}
	if !rec.Has(hooks.Error, "Echo") {
		t.Error("error hook should fire for an aborted step")
	}
}

func TestExecuteCancelled(t *testing.T) {
	a, rec := newAgent(t, []skill.Skill{echo()}, deterministic())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Execute(ctx, query("q"))
	if !stderrors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	want := []wtesting.Step{{Point: hooks.PreExecute}, {Point: hooks.Error, Skill: "Echo"}}
	if got := rec.Sequence(false); !slices.Equal(got, want) {
		t.Errorf("sequence = %v, want %v", got, want)
	}
}

func TestPanickingSkill(t *testing.T) {
	boom := skill.New("Boom", func(context.Context, *skill.Env, state.State[Query]) (state.State[Response], error) {
		panic("unexpected")
	})
	a, rec := newAgent(t, []skill.Skill{boom}, deterministic())

	_, err := a.Execute(context.Background(), query("q"))
	if !errors.HasCode(err, errors.CodeInternal) {
		t.Fatalf("expected CodeInternal, got %v", err)
	}
	if !rec.Has(hooks.Error, "Boom") {
		t.Error("error hook should fire for a panicking skill")
	}
}

func TestExecuteAsMismatch(t *testing.T) {
	a, _ := newAgent(t, []skill.Skill{echo()}, deterministic())
	_, err := agent.ExecuteAs[Analysis](context.Background(), a, query("q"))
	if !errors.HasCode(err, errors.CodeTypeMismatch) {
		t.Fatalf("expected CodeTypeMismatch, got %v", err)
	}
}

func TestLLMRequestCarriesAgentModel(t *testing.T) {
	a, rec := newAgent(t, []skill.Skill{echo()}, deterministic(), agent.WithModel("small-model"), agent.WithName("assistant"))
	if _, err := a.Execute(context.Background(), query("q")); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	for _, ev := range rec.Events() {
		if ev.Agent != "assistant" {
			t.Errorf("%s reported agent %q", ev.Point, ev.Agent)
		}
		if ev.Point == hooks.LLMRequest {
			if ev.Request == nil || ev.Request.Model != "small-model" {
				t.Errorf("unexpected request: %+v", ev.Request)
			}
			if ev.Request.ResponseModel != "agent_test.Response" {
				t.Errorf("response model = %q", ev.Request.ResponseModel)
			}
		}
	}
}
