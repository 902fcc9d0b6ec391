// Package ui renders live link progress in the terminal.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"objlink/internal/linker"
)

const statusWidth = 12

type progressModel struct {
	title      string
	events     <-chan linker.Event
	spinner    spinner.Model
	prog       progress.Model
	items      []unitItem
	index      map[string]int
	phaseLabel string
	width      int
	done       bool
}

type unitItem struct {
	name   string
	status string
	phase  linker.Phase
	final  bool
}

type eventMsg linker.Event
type doneMsg struct{}

// NewProgressModel returns a Bubble Tea model that shows one line per unit
// and an overall bar. It quits once events is closed.
func NewProgressModel(title string, units []string, events <-chan linker.Event) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 76

	items := make([]unitItem, 0, len(units))
	index := make(map[string]int, len(units))
	for i, name := range units {
		items = append(items, unitItem{name: name, status: string(linker.StatusQueued)})
		index[name] = i
	}
	return &progressModel{
		title:   title,
		events:  events,
		spinner: sp,
		prog:    prog,
		items:   items,
		index:   index,
		width:   80,
	}
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForEvent())
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		cmd := m.applyEvent(linker.Event(msg))
		return m, tea.Batch(cmd, m.listenForEvent())
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.prog.Width = msg.Width - 4
		}
		return m, nil
	case progress.FrameMsg:
		pm, cmd := m.prog.Update(msg)
		m.prog = pm.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *progressModel) View() string {
	if len(m.items) == 0 {
		return ""
	}
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	header := m.title
	if m.phaseLabel != "" {
		header = fmt.Sprintf("%s (%s)", header, m.phaseLabel)
	}
	if m.done {
		header = "done: " + header
	} else {
		header = m.spinner.View() + " " + header
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")

	nameWidth := m.width - statusWidth - 5
	if nameWidth < 20 {
		nameWidth = 20
	}
	for _, item := range m.items {
		name := runewidth.FillRight(truncate(item.name, nameWidth), nameWidth)
		status := styleStatus(item.status).Render(fmt.Sprintf("%*s", statusWidth, item.status))
		fmt.Fprintf(&b, "  %s %s\n", name, status)
	}

	b.WriteString("\n")
	if m.done {
		b.WriteString(m.prog.ViewAs(1.0))
	} else {
		b.WriteString(m.prog.View())
	}
	b.WriteString("\n")
	return b.String()
}

func (m *progressModel) listenForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

// applyEvent updates the unit the event names. Events for resource keys
// rather than units only change the header.
func (m *progressModel) applyEvent(ev linker.Event) tea.Cmd {
	idx, ok := m.index[ev.Unit]
	if !ok {
		if ev.Status == linker.StatusWorking {
			m.phaseLabel = phaseLabel(ev.Phase)
		} else if ev.Status == linker.StatusDone || ev.Status == linker.StatusError {
			m.phaseLabel = ""
		}
		return nil
	}

	item := &m.items[idx]
	if item.final {
		return nil
	}
	item.phase = ev.Phase
	switch ev.Status {
	case linker.StatusQueued:
		item.status = string(linker.StatusQueued)
	case linker.StatusWorking:
		item.status = phaseLabel(ev.Phase)
	case linker.StatusError:
		item.status = "failed"
		item.final = true
	case linker.StatusDone:
		if ev.Phase == linker.PhaseEmit {
			item.status = "linked"
			item.final = true
		}
	}
	return m.prog.SetPercent(m.percent())
}

func (m *progressModel) percent() float64 {
	if len(m.items) == 0 {
		return 0
	}
	total := 0.0
	for _, item := range m.items {
		if item.final {
			total++
			continue
		}
		total += progressFromPhase(item.phase)
	}
	return total / float64(len(m.items))
}

func progressFromPhase(p linker.Phase) float64 {
	switch p {
	case linker.PhaseConfigure:
		return 0.1
	case linker.PhasePreFixup:
		return 0.3
	case linker.PhaseFixup:
		return 0.5
	case linker.PhasePostFixup:
		return 0.7
	case linker.PhaseLoad:
		return 0.85
	case linker.PhaseEmit:
		return 0.95
	default:
		return 0
	}
}

func phaseLabel(p linker.Phase) string {
	switch p {
	case linker.PhaseConfigure:
		return "configuring"
	case linker.PhasePreFixup:
		return "pre-fixup"
	case linker.PhaseFixup:
		return "fixing up"
	case linker.PhasePostFixup:
		return "post-fixup"
	case linker.PhaseLoad:
		return "loading"
	case linker.PhaseEmit:
		return "emitting"
	case linker.PhaseRemove:
		return "removing"
	case linker.PhaseTransfer:
		return "transferring"
	default:
		return string(p)
	}
}

func styleStatus(status string) lipgloss.Style {
	switch status {
	case "linked":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	case "failed":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	case "queued":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	}
}

func truncate(value string, width int) string {
	if width <= 0 {
		return value
	}
	if runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width-3, "...")
}
