package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"iara/internal/services"
	"iara/internal/tool"
)

func value(v any) StepFunc {
	return func(context.Context, Inputs) (any, error) { return v, nil }
}

func fail(msg string) StepFunc {
	return func(context.Context, Inputs) (any, error) { return nil, errors.New(msg) }
}

func TestRunFatalFailureSkipsDependentsOnly(t *testing.T) {
	plan := &Plan{Steps: []Step{
		{Name: "a", Fatal: true, Run: fail("decoder crashed")},
		{Name: "b", DependsOn: []string{"a"}, Run: value("b")},
		{Name: "d", DependsOn: []string{"b"}, Run: value("d")},
		{Name: "c", Run: value("c")},
	}}
	report, err := New(Options{}).Run(context.Background(), plan)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	a, _ := report.Outcome("a")
	if a.Status != StatusFailed || a.Err.Kind != tool.KindBackendFailure || a.Err.Message != "decoder crashed" {
		t.Fatalf("unexpected outcome for a: %+v", a)
	}
	for _, name := range []string{"b", "d"} {
		o, _ := report.Outcome(name)
		if o.Status != StatusSkipped || o.Err == nil || o.Err.Kind != tool.KindSkipped {
			t.Fatalf("expected %s to be skipped, got %+v", name, o)
		}
	}
	c, _ := report.Outcome("c")
	if c.Status != StatusCompleted || c.Value != "c" {
		t.Fatalf("independent step should complete, got %+v", c)
	}
}

func TestRunNonFatalFailureStillRunsDependents(t *testing.T) {
	plan := &Plan{Steps: []Step{
		{Name: "inspect", Run: fail("inspector unavailable")},
		{Name: "analysis", DependsOn: []string{"inspect"}, Run: func(_ context.Context, in Inputs) (any, error) {
			if _, ok := in.Value("inspect"); ok {
				return nil, errors.New("failed dependency should expose no value")
			}
			o, ok := in.Outcome("inspect")
			if !ok || o.Status != StatusFailed {
				return nil, errors.New("dependency outcome missing")
			}
			return "partial", nil
		}},
	}}
	report, err := New(Options{}).Run(context.Background(), plan)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	o, _ := report.Outcome("analysis")
	if o.Status != StatusCompleted || o.Value != "partial" {
		t.Fatalf("expected analysis to run on partial input, got %+v", o)
	}
}

func TestRunPassesDependencyValues(t *testing.T) {
	plan := &Plan{Steps: []Step{
		{Name: "separation", Fatal: true, Run: value(map[string]string{"vocals": "/tmp/v.wav"})},
		{Name: "classification", DependsOn: []string{"separation"}, Run: func(_ context.Context, in Inputs) (any, error) {
			v, ok := in.Value("separation")
			if !ok {
				return nil, errors.New("missing separation value")
			}
			return v.(map[string]string)["vocals"], nil
		}},
	}}
	report, err := New(Options{}).Run(context.Background(), plan)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if o, _ := report.Outcome("classification"); o.Value != "/tmp/v.wav" {
		t.Fatalf("unexpected classification outcome %+v", o)
	}
	if !report.Succeeded() {
		t.Fatal("expected every step to complete")
	}
}

func TestRunTimeoutFailsStepAndSkipsDependents(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	plan := &Plan{Steps: []Step{
		{Name: "analysis", Run: value("features")},
		{Name: "separation", Fatal: true, Timeout: 20 * time.Millisecond, Run: func(context.Context, Inputs) (any, error) {
			<-release
			return "stems", nil
		}},
		{Name: "classification", DependsOn: []string{"separation"}, Run: value("instruments")},
	}}
	report, err := New(Options{}).Run(context.Background(), plan)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if o, _ := report.Outcome("analysis"); o.Status != StatusCompleted {
		t.Fatalf("analysis: %+v", o)
	}
	if o, _ := report.Outcome("separation"); o.Status != StatusFailed || o.Err.Kind != tool.KindTimeout {
		t.Fatalf("separation: %+v", o)
	}
	if o, _ := report.Outcome("classification"); o.Status != StatusSkipped {
		t.Fatalf("classification: %+v", o)
	}
}

func TestRunLayerConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	step := func(context.Context, Inputs) (any, error) {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return nil, nil
	}
	plan := &Plan{Steps: []Step{{Name: "a", Run: step}, {Name: "b", Run: step}, {Name: "c", Run: step}}}

	if _, err := New(Options{}).Run(context.Background(), plan); err != nil {
		t.Fatal(err)
	}
	if peak.Load() < 2 {
		t.Fatalf("expected independent steps to overlap, peak %d", peak.Load())
	}

	peak.Store(0)
	if _, err := New(Options{MaxParallel: 1}).Run(context.Background(), plan); err != nil {
		t.Fatal(err)
	}
	if peak.Load() != 1 {
		t.Fatalf("expected sequential execution, peak %d", peak.Load())
	}
}

func TestRunLayerMixingRunnableAndSkippedSteps(t *testing.T) {
	slow := func(v any) StepFunc {
		return func(context.Context, Inputs) (any, error) {
			time.Sleep(time.Millisecond)
			return v, nil
		}
	}
	for range 200 {
		plan := &Plan{Steps: []Step{
			{Name: "a", Run: value("a")},
			{Name: "f", Fatal: true, Run: fail("separator crashed")},
			{Name: "x", DependsOn: []string{"a"}, Run: slow("x")},
			{Name: "y", DependsOn: []string{"f"}, Run: value("y")},
			{Name: "z", DependsOn: []string{"f"}, Run: value("z")},
		}}
		report, err := New(Options{}).Run(context.Background(), plan)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if x, _ := report.Outcome("x"); x.Status != StatusCompleted {
			t.Fatalf("expected x to complete, got %+v", x)
		}
		for _, name := range []string{"y", "z"} {
			if o, _ := report.Outcome(name); o.Status != StatusSkipped {
				t.Fatalf("expected %s to be skipped, got %+v", name, o)
			}
		}
	}
}

func TestRunCanceledMidLayerMarksUnstartedSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	plan := &Plan{Steps: []Step{
		{Name: "first", Run: func(context.Context, Inputs) (any, error) {
			cancel()
			return "first", nil
		}},
		{Name: "second", Run: value("second")},
	}}
	report, err := New(Options{MaxParallel: 1}).Run(ctx, plan)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Steps) != 2 {
		t.Fatalf("expected an outcome per step, got %+v", report.Steps)
	}
	for name, o := range report.Steps {
		if o.Status == "" {
			t.Fatalf("step %s has no outcome", name)
		}
	}
}

func TestRunRecoversPanics(t *testing.T) {
	plan := &Plan{Steps: []Step{{Name: "boom", Run: func(context.Context, Inputs) (any, error) { panic("bad frame") }}}}
	report, err := New(Options{}).Run(context.Background(), plan)
	if err != nil {
		t.Fatal(err)
	}
	o, _ := report.Outcome("boom")
	if o.Status != StatusFailed || !strings.Contains(o.Err.Message, "bad frame") {
		t.Fatalf("unexpected outcome %+v", o)
	}
}

func TestRunInvalidPlanIsInvalidArguments(t *testing.T) {
	_, err := New(Options{}).Run(context.Background(), &Plan{})
	if tool.KindOf(err) != tool.KindInvalidArguments {
		t.Fatalf("expected InvalidArguments, got %v", err)
	}
}

func TestRunReportsProgress(t *testing.T) {
	var mu sync.Mutex
	var events []string
	ctx := services.WithProgress(context.Background(), func(p services.Progress) {
		mu.Lock()
		events = append(events, p.Step+":"+p.Status)
		mu.Unlock()
	})
	plan := &Plan{Steps: []Step{
		{Name: "a", Fatal: true, Run: fail("x")},
		{Name: "b", DependsOn: []string{"a"}, Run: value(1)},
	}}
	if _, err := New(Options{}).Run(ctx, plan); err != nil {
		t.Fatal(err)
	}
	want := []string{"a:started", "a:failed", "b:skipped"}
	if strings.Join(events, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected progress %v", events)
	}
}

func TestReportJSONShape(t *testing.T) {
	plan := &Plan{Steps: []Step{
		{Name: "a", Fatal: true, Run: fail("x")},
		{Name: "b", DependsOn: []string{"a"}, Run: value(1)},
		{Name: "c", Run: value("ok")},
	}}
	report, err := New(Options{}).Run(context.Background(), plan)
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(report)
	if err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		Order []string `json:"order"`
		Steps map[string]struct {
			Status string          `json:"status"`
			Value  json.RawMessage `json:"value"`
			Error  *tool.Error     `json:"error"`
		} `json:"steps"`
		Summary map[string]int `json:"summary"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Steps["b"].Status != "skipped" || decoded.Steps["b"].Error.Kind != tool.KindSkipped {
		t.Fatalf("unexpected skipped step encoding: %s", data)
	}
	if decoded.Steps["c"].Status != "completed" || string(decoded.Steps["c"].Value) != `"ok"` {
		t.Fatalf("unexpected completed step encoding: %s", data)
	}
	if decoded.Summary["completed"] != 1 || decoded.Summary["failed"] != 1 || decoded.Summary["skipped"] != 1 {
		t.Fatalf("unexpected summary %v", decoded.Summary)
	}
}
