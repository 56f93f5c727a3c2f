package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fclpkg/fclrecipe/pkg/logger"
	"github.com/fclpkg/fclrecipe/pkg/types"
)

// Hook is one lifecycle stage
type Hook struct {
	Stage types.Stage
	Run   func(ctx context.Context) error
	// Always runs the hook even when the stage is recorded as completed
	Always bool
}

// StageReport describes what happened to one hook
type StageReport struct {
	Stage    types.Stage
	Duration time.Duration
	Skipped  bool
	Err      error
}

// Report summarizes a pipeline run
type Report struct {
	Stages   []StageReport
	Duration time.Duration
}

// Ran returns the stages that executed, in order
func (r *Report) Ran() []types.Stage {
	var stages []types.Stage
	for _, s := range r.Stages {
		if !s.Skipped {
			stages = append(stages, s.Stage)
		}
	}
	return stages
}

// Pipeline executes hooks in order and stops at the first failure
type Pipeline struct {
	hooks  []Hook
	deps   Dependencies
	logger logger.Logger

	mu        sync.Mutex
	isRunning bool
}

// NewPipeline creates a pipeline. Hooks run in the order given.
func NewPipeline(log logger.Logger, deps Dependencies, hooks ...Hook) *Pipeline {
	if log == nil {
		log = logger.Nop()
	}
	return &Pipeline{
		hooks:  hooks,
		deps:   deps,
		logger: log,
	}
}

// Stages lists the stages of the pipeline
func (p *Pipeline) Stages() []types.Stage {
	stages := make([]types.Stage, 0, len(p.hooks))
	for _, h := range p.hooks {
		stages = append(stages, h.Stage)
	}
	return stages
}

// Run executes every hook not in completed. A failed hook is not retried
// and the hooks after it do not run. The report is returned even on error.
func (p *Pipeline) Run(ctx context.Context, completed []types.Stage) (*Report, error) {
	p.mu.Lock()
	if p.isRunning {
		p.mu.Unlock()
		return nil, fmt.Errorf("pipeline is already running")
	}
	p.isRunning = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.isRunning = false
		p.mu.Unlock()
	}()

	done := make(map[types.Stage]bool, len(completed))
	for _, stage := range completed {
		done[stage] = true
	}

	report := &Report{}
	start := time.Now()

	for _, hook := range p.hooks {
		if err := ctx.Err(); err != nil {
			report.Duration = time.Since(start)
			return report, fmt.Errorf("%s: %w", hook.Stage, err)
		}

		if done[hook.Stage] && !hook.Always {
			p.logger.WithStage(string(hook.Stage)).Info("Already completed, skipping")
			report.Stages = append(report.Stages, StageReport{Stage: hook.Stage, Skipped: true})
			continue
		}

		stageReport := p.runHook(ctx, hook)
		report.Stages = append(report.Stages, stageReport)
		if stageReport.Err != nil {
			report.Duration = time.Since(start)
			return report, stageReport.Err
		}
	}

	report.Duration = time.Since(start)
	if p.deps.Metrics != nil {
		p.deps.Metrics.ObserveRun(report.Duration)
	}
	if p.deps.Notifier != nil {
		p.deps.Notifier.NotifyRunComplete(report.Duration)
	}
	return report, nil
}

func (p *Pipeline) runHook(ctx context.Context, hook Hook) StageReport {
	log := p.logger.WithStage(string(hook.Stage))
	log.Debug("Starting stage")

	if p.deps.Notifier != nil {
		p.deps.Notifier.NotifyStageStart(hook.Stage)
	}

	start := time.Now()
	err := p.safeRun(ctx, hook)
	duration := time.Since(start)

	if p.deps.Metrics != nil {
		p.deps.Metrics.ObserveStage(hook.Stage, duration, err)
	}

	if err != nil {
		log.Error("Stage failed", logger.WithField("error", err), logger.WithField("duration", duration))
		if p.deps.State != nil {
			if serr := p.deps.State.MarkFailed(p.deps.StateKey, hook.Stage, err); serr != nil {
				log.Warn("Failed to record failure", logger.WithField("error", serr))
			}
		}
		if p.deps.Notifier != nil {
			p.deps.Notifier.NotifyStageFailure(hook.Stage, err)
		}
		return StageReport{Stage: hook.Stage, Duration: duration, Err: err}
	}

	log.Debug("Stage finished", logger.WithField("duration", duration))
	if p.deps.State != nil {
		if serr := p.deps.State.MarkStage(p.deps.StateKey, hook.Stage, duration); serr != nil {
			log.Warn("Failed to record progress", logger.WithField("error", serr))
		}
	}
	if p.deps.Notifier != nil {
		p.deps.Notifier.NotifyStageSuccess(hook.Stage, duration)
	}
	return StageReport{Stage: hook.Stage, Duration: duration}
}

// safeRun runs the hook on a SafeGroup so a panicking hook fails its stage
// instead of the process
func (p *Pipeline) safeRun(ctx context.Context, hook Hook) error {
	g, gctx := NewSafeGroup(ctx, p.logger)
	g.Go(func() error {
		return hook.Run(gctx)
	})
	return g.Wait()
}
