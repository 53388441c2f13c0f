// Package ui provides terminal output components for keycancel-gen.
//
// Components are rendered with Lipgloss and follow a "run once and exit"
// pattern; nothing here is interactive.
//
//   - Header: command banner showing the operation and its inputs
//   - Progress: bar and step list (bubbles/progress)
//   - Result: success, failure and warning boxes
//   - Table: aligned rows in a box, used by inspect
//
// Runner wires them together for the build command:
//
//	runner := ui.NewRunner(ui.RunnerConfig{
//	    Title:     "Image Build",
//	    Command:   "keycancel-gen build",
//	    Params:    []ui.Detail{{Key: "Xml", Value: cfg.XML}},
//	    StepNames: pipeline.StepNames,
//	})
//
//	err := runner.Run(func(onStep ui.StepCallback) (*ui.Outcome, error) {
//	    onStep(1, "", ui.StepRunning, "")
//	    // ... do work ...
//	    onStep(1, "", ui.StepComplete, "3 sections")
//	    return &ui.Outcome{}, nil
//	})
//
// Zap logging is silent unless KEYCANCEL_LOG_LEVEL is set, so these
// components are the only output in normal use.
package ui
