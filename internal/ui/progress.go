package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/abelbrown/curiosity/internal/model"
	"github.com/abelbrown/curiosity/internal/otel"
	"github.com/abelbrown/curiosity/internal/pipeline"
)

// stageOrder is the display order of pipeline stages.
var stageOrder = []pipeline.Stage{
	pipeline.StageNormalize,
	pipeline.StageEmbed,
	pipeline.StageCluster,
	pipeline.StageScore,
	pipeline.StageNews,
	pipeline.StagePersist,
}

func stageIndex(s pipeline.Stage) int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// RunModel shows a live view of a single pipeline run.
// It does not run the pipeline itself; progress arrives as ProgressMsg and
// the outcome as RunFinished.
type RunModel struct {
	spinner spinner.Model
	ring    *otel.RingBuffer
	cancel  func()

	tenant string
	week   model.Week
	runID  string

	current  int // index of the running stage; -1 before start, len(stageOrder) when done
	progress map[pipeline.Stage]pipeline.Progress

	result     *pipeline.Result
	err        error
	finished   bool
	cancelling bool
	showEvents bool

	width  int
	height int
	now    func() time.Time
}

// NewRunModel creates the run view. cancel is called when the user quits
// before the run has finished; ring may be nil.
func NewRunModel(tenant string, week model.Week, ring *otel.RingBuffer, cancel func()) RunModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = ProgressActiveTitle

	return RunModel{
		spinner:  s,
		ring:     ring,
		cancel:   cancel,
		tenant:   tenant,
		week:     week,
		current:  -1,
		progress: make(map[pipeline.Stage]pipeline.Progress),
		now:      time.Now,
	}
}

// Init starts the spinner.
func (m RunModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages and returns the updated model and any commands.
func (m RunModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.finished {
				return m, tea.Quit
			}
			if !m.cancelling && m.cancel != nil {
				m.cancelling = true
				m.cancel()
			}
			return m, nil
		case "e":
			m.showEvents = !m.showEvents
			return m, nil
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case ProgressMsg:
		p := pipeline.Progress(msg)
		if p.RunID != "" {
			m.runID = p.RunID
		}
		// Stages report on completion, so the next one is now running.
		switch p.Stage {
		case pipeline.StageStart:
			m.current = 0
		case pipeline.StageDone:
			m.current = len(stageOrder)
		default:
			if i := stageIndex(p.Stage); i >= 0 {
				m.current = i + 1
				m.progress[p.Stage] = p
			}
		}
		if p.Stage == pipeline.StageFailed && p.Err != nil {
			m.err = p.Err
		}
		return m, nil

	case RunFinished:
		m.finished = true
		m.result = msg.Result
		if msg.Err != nil {
			m.err = msg.Err
		}
		if m.err == nil {
			m.current = len(stageOrder)
		}
		return m, tea.Quit

	case spinner.TickMsg:
		if m.finished {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the stage list, optional events panel, and a status bar.
func (m RunModel) View() string {
	var b strings.Builder

	title := fmt.Sprintf("curiosity  %s  %s", m.tenant, m.week)
	if m.runID != "" {
		title += "  run " + shortID(m.runID)
	}
	b.WriteString(HeaderStyle.Render(title))
	b.WriteString("\n\n")

	for i, stage := range stageOrder {
		b.WriteString(m.stageLine(i, stage))
		b.WriteString("\n")
	}

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(ErrorStyle.Render("Error: " + m.err.Error()))
		b.WriteString("\n")
	}

	if m.showEvents {
		if panel := eventsPanel(m.ring, m.now(), m.width, m.height); panel != "" {
			b.WriteString("\n")
			b.WriteString(panel)
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(m.statusBar())
	return b.String()
}

func (m RunModel) stageLine(i int, stage pipeline.Stage) string {
	var marker, name string
	switch {
	case i < m.current:
		marker = ProgressCheckmark.Render("✓")
		name = ProgressTitle.Render(string(stage))
	case i == m.current && m.err != nil:
		marker = ErrorStyle.UnsetPadding().Render("✗")
		name = ProgressActiveTitle.Render(string(stage))
	case i == m.current && !m.finished:
		marker = m.spinner.View()
		name = ProgressActiveTitle.Render(string(stage))
	default:
		marker = ProgressTitle.Render("·")
		name = ProgressTitle.Render(string(stage))
	}

	line := fmt.Sprintf("  %s %-10s", marker, name)
	if p, ok := m.progress[stage]; ok {
		switch {
		case p.Total > 0:
			line += " " + ProgressCount.Render(fmt.Sprintf("%d/%d", p.Done, p.Total))
		case p.Done > 0:
			line += " " + ProgressCount.Render(fmt.Sprintf("%d", p.Done))
		}
	}
	return line
}

func (m RunModel) statusBar() string {
	var state string
	switch {
	case m.finished && m.err != nil:
		state = "failed"
	case m.finished:
		state = "done"
	case m.cancelling:
		state = "cancelling..."
	default:
		state = "running"
	}
	keys := StatusBarKey.Render("e") + StatusBarText.Render(":events  ") +
		StatusBarKey.Render("q") + StatusBarText.Render(":quit")
	bar := StatusBar
	if m.width > 0 {
		bar = bar.Width(m.width)
	}
	return bar.Render(state + "  " + keys)
}

// Result returns the run result once RunFinished has arrived.
func (m RunModel) Result() (*pipeline.Result, error) {
	return m.result, m.err
}

// Finished reports whether the run has returned.
func (m RunModel) Finished() bool {
	return m.finished
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
