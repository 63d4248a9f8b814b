// Package ui provides the Bubble Tea run view and lipgloss reports for curiosity.
package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/abelbrown/curiosity/internal/pipeline"
)

// ProgressMsg carries a pipeline stage update into the program.
type ProgressMsg pipeline.Progress

// RunFinished is sent when the pipeline returns.
type RunFinished struct {
	Result *pipeline.Result
	Err    error
}

// ProgramReporter forwards pipeline progress to a running tea.Program.
type ProgramReporter struct {
	program *tea.Program
}

// NewProgramReporter returns a pipeline.Reporter that sends ProgressMsg to p.
func NewProgramReporter(p *tea.Program) *ProgramReporter {
	return &ProgramReporter{program: p}
}

// Report implements pipeline.Reporter. Send returns immediately once the
// program has exited.
func (r *ProgramReporter) Report(p pipeline.Progress) {
	if r == nil || r.program == nil {
		return
	}
	r.program.Send(ProgressMsg(p))
}
