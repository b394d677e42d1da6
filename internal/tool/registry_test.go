package tool_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"iara/internal/services"
	"iara/internal/tool"
)

func echoSpec(name string, calls *atomic.Int32) tool.Spec {
	return tool.Spec{
		Name:        name,
		Description: "echo arguments",
		Schema: tool.Object(map[string]*tool.Property{
			"file":  tool.StringProperty("audio file"),
			"kind":  tool.EnumProperty("plot kind", "waveform", "mel_spectrogram").WithDefault("waveform"),
			"limit": tool.IntegerProperty("max results").AtLeast(1).WithDefault(int64(10)),
			"ratio": tool.NumberProperty("threshold").Between(0, 1),
			"ops":   tool.ArrayProperty("operations", tool.EnumProperty("op", "analysis", "separation")),
			"fast":  tool.BooleanProperty("skip extras"),
		}, "file"),
		Handler: func(_ context.Context, args tool.Arguments) (any, error) {
			calls.Add(1)
			return map[string]any{"file": args.String("file"), "kind": args.String("kind"), "limit": args.Int("limit")}, nil
		},
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	reg := tool.NewRegistry()
	var calls atomic.Int32
	if err := reg.Register(echoSpec("echo", &calls)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := reg.Register(echoSpec("echo", &calls))
	if !errors.Is(err, tool.ErrDuplicateTool) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if err := reg.Register(tool.Spec{Name: "nohandler"}); err == nil {
		t.Fatal("expected nil handler to be rejected")
	}
	if err := reg.Register(tool.Spec{Name: " ", Handler: func(context.Context, tool.Arguments) (any, error) { return nil, nil }}); err == nil {
		t.Fatal("expected empty name to be rejected")
	}
}

func TestUnknownToolNeverInvokesAHandler(t *testing.T) {
	reg := tool.NewRegistry()
	var calls atomic.Int32
	reg.MustRegister(echoSpec("echo", &calls))

	for _, name := range []string{"", "ECHO", "analyze", "echo "} {
		res := reg.Invoke(context.Background(), tool.Call{ToolID: name, Arguments: map[string]any{"file": "a.mp3"}})
		if res.OK() || res.Err().Kind != tool.KindUnknownTool {
			t.Fatalf("tool %q: expected UnknownTool, got %+v", name, res)
		}
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no handler invocation, got %d", calls.Load())
	}
}

func TestInvokeAppliesDefaults(t *testing.T) {
	reg := tool.NewRegistry()
	var calls atomic.Int32
	reg.MustRegister(echoSpec("echo", &calls))

	res := reg.Invoke(context.Background(), tool.Call{ToolID: "echo", Arguments: map[string]any{"file": "a.mp3"}})
	if !res.OK() {
		t.Fatalf("expected success, got %+v", res.Err())
	}
	payload := res.Payload().(map[string]any)
	if payload["kind"] != "waveform" || payload["limit"] != 10 {
		t.Fatalf("defaults not applied: %v", payload)
	}
}

func TestValidateNamesTheField(t *testing.T) {
	reg := tool.NewRegistry()
	var calls atomic.Int32
	reg.MustRegister(echoSpec("echo", &calls))

	cases := []struct {
		args  map[string]any
		field string
	}{
		{map[string]any{}, "file"},
		{map[string]any{"file": 3.0}, "file"},
		{map[string]any{"file": "a", "kind": "pie"}, "kind"},
		{map[string]any{"file": "a", "limit": 0.0}, "limit"},
		{map[string]any{"file": "a", "limit": 2.5}, "limit"},
		{map[string]any{"file": "a", "ratio": 1.5}, "ratio"},
		{map[string]any{"file": "a", "ops": []any{"analysis", "mixing"}}, "ops[1]"},
		{map[string]any{"file": "a", "fast": "yes"}, "fast"},
		{map[string]any{"file": "a", "extra": true}, "extra"},
		{map[string]any{"file": nil}, "file"},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.args), func(t *testing.T) {
			_, err := reg.Validate("echo", tc.args)
			if err == nil {
				t.Fatal("expected validation failure")
			}
			if err.Kind != tool.KindInvalidArguments || err.Field != tc.field {
				t.Fatalf("expected InvalidArguments on %q, got %+v", tc.field, err)
			}
		})
	}
	if calls.Load() != 0 {
		t.Fatal("validation must not invoke the handler")
	}
}

func TestValidateNormalizesArguments(t *testing.T) {
	reg := tool.NewRegistry()
	var calls atomic.Int32
	reg.MustRegister(echoSpec("echo", &calls))

	args, err := reg.Validate("echo", map[string]any{
		"file":  "a.mp3",
		"limit": json.Number("25"),
		"ratio": json.Number("0.5"),
		"ops":   []string{"analysis", "separation"},
	})
	if err != nil {
		t.Fatalf("Validate: %+v", err)
	}
	if v, ok := args["limit"].(int64); !ok || v != 25 {
		t.Fatalf("expected int64 limit, got %#v", args["limit"])
	}
	if v, ok := args["ratio"].(float64); !ok || v != 0.5 {
		t.Fatalf("expected float64 ratio, got %#v", args["ratio"])
	}
	if got := args.Strings("ops"); strings.Join(got, ",") != "analysis,separation" {
		t.Fatalf("unexpected ops %v", got)
	}

	_, err = reg.Validate("echo", map[string]any{"file": "a", "zzz": 1.0, "kind": "pie"})
	if err == nil || err.Field != "kind" {
		t.Fatalf("expected the first field in name order, got %+v", err)
	}
	if !strings.Contains(err.Message, "kind") {
		t.Fatalf("expected the message to name the argument, got %q", err.Message)
	}
}

func TestRegisterRejectsInvalidSchema(t *testing.T) {
	reg := tool.NewRegistry()
	err := reg.Register(tool.Spec{
		Name:    "broken",
		Schema:  tool.Object(map[string]*tool.Property{"x": {Type: "banana"}}),
		Handler: func(context.Context, tool.Arguments) (any, error) { return nil, nil },
	})
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Fatalf("expected an invalid schema to be rejected, got %v", err)
	}
}

func TestInvokeConvertsHandlerErrors(t *testing.T) {
	reg := tool.NewRegistry()
	reg.MustRegister(
		tool.Spec{Name: "boom", Handler: func(context.Context, tool.Arguments) (any, error) {
			return nil, services.Wrap(services.ErrExternalTool, "separation", "demucs", "file not found: missing.mp3", nil)
		}},
		tool.Spec{Name: "slow", Handler: func(context.Context, tool.Arguments) (any, error) {
			return nil, fmt.Errorf("wait: %w", context.DeadlineExceeded)
		}},
		tool.Spec{Name: "panics", Handler: func(context.Context, tool.Arguments) (any, error) {
			panic("nil stem")
		}},
	)

	res := reg.Invoke(context.Background(), tool.Call{ToolID: "boom"})
	if res.OK() || res.Err().Kind != tool.KindBackendFailure || !strings.Contains(res.Err().Message, "missing.mp3") {
		t.Fatalf("expected BackendFailure preserving message, got %+v", res.Err())
	}
	res = reg.Invoke(context.Background(), tool.Call{ToolID: "slow"})
	if res.Err().Kind != tool.KindTimeout {
		t.Fatalf("expected Timeout, got %+v", res.Err())
	}
	res = reg.Invoke(context.Background(), tool.Call{ToolID: "panics"})
	if res.Err().Kind != tool.KindBackendFailure || !strings.Contains(res.Err().Message, "nil stem") {
		t.Fatalf("expected panic to become BackendFailure, got %+v", res.Err())
	}
}

func TestUnavailableToolsStayRegistered(t *testing.T) {
	reg := tool.NewRegistry()
	var calls atomic.Int32
	spec := echoSpec("separate", &calls)
	spec.Unavailable = "demucs not found on PATH"
	reg.MustRegister(spec)

	res := reg.Invoke(context.Background(), tool.Call{ToolID: "separate", Arguments: map[string]any{"file": "a.mp3"}})
	if res.OK() || res.Err().Kind != tool.KindBackendFailure {
		t.Fatalf("expected BackendFailure, got %+v", res)
	}
	if !strings.HasPrefix(res.Err().Message, "Unavailable") {
		t.Fatalf("expected Unavailable prefix, got %q", res.Err().Message)
	}
	if calls.Load() != 0 {
		t.Fatal("unavailable tool must not run the original handler")
	}
	catalog := reg.Catalog()
	if len(catalog) != 1 || catalog[0].Available || catalog[0].Reason == "" {
		t.Fatalf("expected catalog to flag the tool, got %+v", catalog)
	}
}

func TestCatalogIsSortedWithSchemas(t *testing.T) {
	reg := tool.NewRegistry()
	var calls atomic.Int32
	reg.MustRegister(echoSpec("zeta", &calls), echoSpec("alpha", &calls))
	names := reg.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Fatalf("unexpected names %v", names)
	}
	data, err := json.Marshal(reg.Catalog())
	if err != nil {
		t.Fatalf("marshal catalog: %v", err)
	}
	if !strings.Contains(string(data), `"required":["file"]`) {
		t.Fatalf("expected schema in catalog, got %s", data)
	}
	if !strings.Contains(string(data), `"additionalProperties":false`) {
		t.Fatalf("expected closed schemas in catalog, got %s", data)
	}
}

func TestResultWireShape(t *testing.T) {
	ok, err := json.Marshal(tool.Ok(map[string]any{"tempo_bpm": 120.0}))
	if err != nil {
		t.Fatal(err)
	}
	if string(ok) != `{"ok":true,"result":{"tempo_bpm":120}}` {
		t.Fatalf("unexpected ok encoding %s", ok)
	}
	failed, err := json.Marshal(tool.Fail(tool.Errorf(tool.KindUnknownTool, "unknown tool %q", "x")))
	if err != nil {
		t.Fatal(err)
	}
	if string(failed) != `{"ok":false,"error":{"kind":"UnknownTool","message":"unknown tool \"x\""}}` {
		t.Fatalf("unexpected error encoding %s", failed)
	}

	var decoded tool.Result
	if err := json.Unmarshal(failed, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.OK() || decoded.Err().Kind != tool.KindUnknownTool {
		t.Fatalf("decode lost failure: %+v", decoded)
	}
	if err := json.Unmarshal([]byte(`{"ok":false}`), &decoded); err == nil {
		t.Fatal("expected failed response without error to be rejected")
	}
}

func TestKindOf(t *testing.T) {
	cases := map[tool.Kind]error{
		tool.KindTimeout:          services.Wrap(services.ErrTimeout, "separation", "", "soft deadline", nil),
		tool.KindInvalidArguments: services.Wrap(services.ErrValidation, "", "", "bad", nil),
		tool.KindBackendFailure:   errors.New("librosa exploded"),
		tool.KindSkipped:          fmt.Errorf("wrapped: %w", &tool.Error{Kind: tool.KindSkipped, Message: "dependency failed"}),
	}
	for want, err := range cases {
		if got := tool.KindOf(err); got != want {
			t.Fatalf("KindOf(%v) = %s, want %s", err, got, want)
		}
	}
	if tool.KindOf(nil) != "" {
		t.Fatal("expected empty kind for nil")
	}
}
