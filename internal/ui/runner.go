package ui

import (
	"fmt"
	"io"
	"os"
	"time"
)

// RunnerConfig holds configuration for a command execution
type RunnerConfig struct {
	Title     string   // Command title (e.g., "Image Build")
	Command   string   // Full command (e.g., "keycancel-gen build")
	Params    []Detail // Parameters to display in header
	StepNames []string // Names for each step
	Output    io.Writer
	// Troubleshoot maps a failure to tips shown in the failure box
	Troubleshoot func(err error) []string
}

// Runner orchestrates the UI for a multi-step command.
// It prints the header, one line per finished step, the progress bar and a
// final result box.
type Runner struct {
	config   RunnerConfig
	header   *Header
	progress *Progress
	output   io.Writer
	width    int
}

// Outcome is what an operation reports back for the result box
type Outcome struct {
	Details  []Detail
	Warnings []string
}

// Operation is the function signature for the work the runner wraps.
// The operation receives a StepCallback to report progress.
type Operation func(onStep StepCallback) (*Outcome, error)

// NewRunner creates a new runner
func NewRunner(config RunnerConfig) *Runner {
	if config.Output == nil {
		config.Output = os.Stdout
	}

	width := GetTerminalWidth()
	header := NewHeader(config.Title, config.Command, config.Params)
	header.SetWidth(width)

	var progress *Progress
	if len(config.StepNames) > 0 {
		progress = NewProgress(config.StepNames)
		progress.SetWidth(width)
	}

	return &Runner{
		config:   config,
		header:   header,
		progress: progress,
		output:   config.Output,
		width:    width,
	}
}

// Run executes the operation with UI updates and returns its error.
func (r *Runner) Run(operation Operation) error {
	start := time.Now()

	_, _ = fmt.Fprintln(r.output, r.header.Render())
	_, _ = fmt.Fprintln(r.output)

	outcome, err := operation(r.stepCallback())
	duration := time.Since(start).Round(time.Millisecond)

	_, _ = fmt.Fprintln(r.output)
	if r.progress != nil {
		_, _ = fmt.Fprintln(r.output, r.progress.renderProgressBar())
		_, _ = fmt.Fprintln(r.output)
	}
	if err != nil {
		var tips []string
		if r.config.Troubleshoot != nil {
			tips = r.config.Troubleshoot(err)
		}
		result := NewFailureResult(r.config.Title+" failed", err, tips)
		result.SetWidth(r.width)
		_, _ = fmt.Fprintln(r.output, result.Render())
		return err
	}

	if outcome == nil {
		outcome = &Outcome{}
	}
	result := NewSuccessResult(r.config.Title+" complete", outcome.Details)
	result.AddDetail("Duration", duration.String())
	result.SetWidth(r.width)
	_, _ = fmt.Fprintln(r.output, result.Render())

	if len(outcome.Warnings) > 0 {
		warning := NewWarningResult("Completed with warnings", outcome.Warnings)
		warning.SetWidth(r.width)
		_, _ = fmt.Fprintln(r.output, warning.Render())
	}

	return nil
}

func (r *Runner) stepCallback() StepCallback {
	return func(stepNumber int, name string, status StepStatus, message string) {
		if r.progress == nil || stepNumber < 1 || stepNumber > len(r.progress.Steps) {
			return
		}
		if name != "" {
			r.progress.Steps[stepNumber-1].Name = name
		}
		r.progress.UpdateStep(stepNumber, status, message)

		step := r.progress.Steps[stepNumber-1]
		switch status {
		case StepComplete, StepFailed, StepSkipped:
			_, _ = fmt.Fprintln(r.output, r.progress.renderStepLine(step))
		case StepRunning:
			// Overwritten when the step finishes
			_, _ = fmt.Fprint(r.output, r.progress.renderStepLine(step)+"\r")
		}
	}
}

