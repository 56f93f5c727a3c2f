// Package context carries run tracing values through a recipe run
package context

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Context keys. Unexported struct pointers prevent collisions.
var (
	runIDKey     = &struct{}{}
	stageKey     = &struct{}{}
	recipeKey    = &struct{}{}
	startTimeKey = &struct{}{}
)

const (
	unknownRun    = "unknown-run"
	unknownStage  = "unknown-stage"
	unknownRecipe = "unknown-recipe"
)

// WithRunID adds a run ID to the context, generating one when empty
func WithRunID(parent context.Context, runID string) context.Context {
	if runID == "" {
		runID = GenerateRunID()
	}
	return context.WithValue(parent, runIDKey, runID)
}

// GetRunID retrieves the run ID from context
func GetRunID(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok && id != "" {
		return id
	}
	return unknownRun
}

// HasRunID reports whether a run ID was set
func HasRunID(ctx context.Context) bool {
	return GetRunID(ctx) != unknownRun
}

// WithStage adds the current lifecycle stage to the context
func WithStage(parent context.Context, stage string) context.Context {
	return context.WithValue(parent, stageKey, stage)
}

// GetStage retrieves the lifecycle stage from context
func GetStage(ctx context.Context) string {
	if s, ok := ctx.Value(stageKey).(string); ok && s != "" {
		return s
	}
	return unknownStage
}

// WithRecipe adds the recipe reference (name/version) to the context
func WithRecipe(parent context.Context, reference string) context.Context {
	return context.WithValue(parent, recipeKey, reference)
}

// GetRecipe retrieves the recipe reference from context
func GetRecipe(ctx context.Context) string {
	if r, ok := ctx.Value(recipeKey).(string); ok && r != "" {
		return r
	}
	return unknownRecipe
}

// WithStartTime adds the operation start time to the context
func WithStartTime(parent context.Context, startTime time.Time) context.Context {
	return context.WithValue(parent, startTimeKey, startTime)
}

// GetStartTime retrieves the start time, or now when unset
func GetStartTime(ctx context.Context) time.Time {
	if t, ok := ctx.Value(startTimeKey).(time.Time); ok {
		return t
	}
	return time.Now()
}

// GetDuration calculates the duration since the start time in context
func GetDuration(ctx context.Context) time.Duration {
	return time.Since(GetStartTime(ctx))
}

// GenerateRunID creates a new unique run ID
func GenerateRunID() string {
	return "run_" + uuid.New().String()
}

// EnrichContext adds a run ID (if missing) and the start time
func EnrichContext(parent context.Context) context.Context {
	ctx := parent
	if !HasRunID(ctx) {
		ctx = WithRunID(ctx, GenerateRunID())
	}
	return WithStartTime(ctx, time.Now())
}

// TracingFields returns the tracing values for structured logging
func TracingFields(ctx context.Context) map[string]interface{} {
	return map[string]interface{}{
		"run_id":      GetRunID(ctx),
		"recipe":      GetRecipe(ctx),
		"stage":       GetStage(ctx),
		"duration_ms": GetDuration(ctx).Milliseconds(),
	}
}
