package context_test

import (
	"context"
	"strings"
	"testing"
	"time"

	rcontext "github.com/fclpkg/fclrecipe/pkg/context"
)

func TestEnrichContext(t *testing.T) {
	ctx := rcontext.EnrichContext(context.Background())

	if !rcontext.HasRunID(ctx) {
		t.Fatal("expected a run ID")
	}
	if !strings.HasPrefix(rcontext.GetRunID(ctx), "run_") {
		t.Errorf("unexpected run ID %q", rcontext.GetRunID(ctx))
	}
	if d := rcontext.GetDuration(ctx); d < 0 || d > time.Minute {
		t.Errorf("unexpected duration %v", d)
	}

	again := rcontext.EnrichContext(ctx)
	if rcontext.GetRunID(again) != rcontext.GetRunID(ctx) {
		t.Error("an existing run ID must be kept")
	}
}

func TestDefaults(t *testing.T) {
	ctx := context.Background()

	if rcontext.HasRunID(ctx) {
		t.Error("empty context has no run ID")
	}
	if got := rcontext.GetStage(ctx); got != "unknown-stage" {
		t.Errorf("GetStage() = %q", got)
	}
	if got := rcontext.GetRecipe(ctx); got != "unknown-recipe" {
		t.Errorf("GetRecipe() = %q", got)
	}
}

func TestTracingFields(t *testing.T) {
	ctx := rcontext.WithRunID(context.Background(), "run_fixed")
	ctx = rcontext.WithRecipe(ctx, "fcl/0.6.0RC")
	ctx = rcontext.WithStage(ctx, "build")
	ctx = rcontext.WithStartTime(ctx, time.Now().Add(-2*time.Second))

	fields := rcontext.TracingFields(ctx)
	if fields["run_id"] != "run_fixed" || fields["recipe"] != "fcl/0.6.0RC" || fields["stage"] != "build" {
		t.Errorf("unexpected fields %v", fields)
	}
	if ms := fields["duration_ms"].(int64); ms < 2000 {
		t.Errorf("duration_ms = %d, want >= 2000", ms)
	}
}
