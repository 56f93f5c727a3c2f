// Package notifier sends desktop notifications for recipe runs
package notifier

import (
	"fmt"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/fclpkg/fclrecipe/pkg/logger"
	"github.com/fclpkg/fclrecipe/pkg/types"
)

// Sender delivers one notification
type Sender func(title, message string) error

// Config represents notification configuration
type Config struct {
	Enabled bool
	// Reference names the recipe in notification titles
	Reference string
	// Stages also announces every stage start and success, not just failures
	// and the end of the run
	Stages bool
	// Sound beeps on failure
	Sound bool
}

// StageNotifier reports lifecycle progress through the desktop
type StageNotifier struct {
	config Config
	logger logger.Logger
	send   Sender
	beep   func() error
}

// New creates a notifier that delivers through beeep
func New(config Config, log logger.Logger) *StageNotifier {
	if log == nil {
		log = logger.Nop()
	}
	return &StageNotifier{
		config: config,
		logger: log,
		send: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
		beep: func() error {
			return beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration)
		},
	}
}

// WithSender replaces the delivery function
func (n *StageNotifier) WithSender(send Sender) *StageNotifier {
	n.send = send
	n.beep = func() error { return nil }
	return n
}

// NotifyStageStart announces a stage when stage notifications are on
func (n *StageNotifier) NotifyStageStart(stage types.Stage) {
	if !n.config.Enabled || !n.config.Stages {
		return
	}
	n.deliver(n.title(), fmt.Sprintf("Running %s...", stage))
}

// NotifyStageSuccess reports a finished stage when stage notifications are on
func (n *StageNotifier) NotifyStageSuccess(stage types.Stage, duration time.Duration) {
	if !n.config.Enabled || !n.config.Stages {
		return
	}
	n.deliver(n.title(), fmt.Sprintf("%s finished in %s", stage, formatDuration(duration)))
}

// NotifyStageFailure reports a failed stage
func (n *StageNotifier) NotifyStageFailure(stage types.Stage, err error) {
	if !n.config.Enabled {
		return
	}
	n.deliver("❌ "+n.title()+" failed", fmt.Sprintf("%s: %v", stage, firstLine(err)))
	if n.config.Sound {
		if err := n.beep(); err != nil {
			n.logger.Debug("Failed to play sound", logger.WithField("error", err))
		}
	}
}

// NotifyRunComplete reports a successful run
func (n *StageNotifier) NotifyRunComplete(duration time.Duration) {
	if !n.config.Enabled {
		return
	}
	n.deliver("✅ "+n.title()+" packaged", fmt.Sprintf("Completed in %s", formatDuration(duration)))
}

func (n *StageNotifier) title() string {
	if n.config.Reference == "" {
		return "fclrecipe"
	}
	return n.config.Reference
}

func (n *StageNotifier) deliver(title, message string) {
	if err := n.send(title, message); err != nil {
		n.logger.Debug("Failed to send notification", logger.WithField("error", err))
	}
}

func firstLine(err error) string {
	msg := err.Error()
	for i, r := range msg {
		if r == '\n' {
			return msg[:i]
		}
	}
	return msg
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
