// Command quotabar-tui is a live terminal view of provider usage: one
// meter per rate window on top, the daemon's event stream below.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	defaultDaemonURL = "http://127.0.0.1:8808"
	pollRate         = 2 * time.Second
	maxEvents        = 20
	viewportHeight   = 10
)

var (
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	providerStyle = lipgloss.NewStyle().Bold(true).Width(10)
	windowStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("99")).Width(16)

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1).
			Width(80)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)

	eventTimeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(10)
	eventTypeStyle = lipgloss.NewStyle().Width(18)

	badStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	goodStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	infoStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
)

// API types mirrored from pkg/api and pkg/store so the TUI binary does
// not inherit the daemon's CGO SQLite dependency.

type RateWindow struct {
	Label       string    `json:"label"`
	UsedPercent float64   `json:"used_percent"`
	ResetsAt    time.Time `json:"resets_at,omitempty"`
}

type UsageSnapshot struct {
	Windows   []RateWindow `json:"windows"`
	Identity  string       `json:"identity,omitempty"`
	FetchedAt time.Time    `json:"fetched_at"`
}

type UsageResponse struct {
	Provider   string         `json:"provider"`
	Snapshot   *UsageSnapshot `json:"snapshot,omitempty"`
	Source     string         `json:"source,omitempty"`
	Error      string         `json:"error,omitempty"`
	Suppressed bool           `json:"suppressed,omitempty"`
}

type Event struct {
	EventID  string          `json:"event_id"`
	Type     string          `json:"event_type"`
	Provider string          `json:"provider"`
	TsEvent  time.Time       `json:"ts_event"`
	Payload  json.RawMessage `json:"payload"`
}

var providerOrder = []string{"claude", "codex", "gemini", "copilot"}

type tickMsg time.Time

type dataMsg struct {
	usage  map[string]UsageResponse
	events []Event
	err    error
}

type model struct {
	daemonURL string
	spinner   spinner.Model
	meter     progress.Model
	viewport  viewport.Model
	usage     map[string]UsageResponse
	events    []Event
	err       error
	ready     bool
}

func initialModel(daemonURL string) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	meter := progress.New(progress.WithDefaultGradient(), progress.WithWidth(30), progress.WithoutPercentage())

	vp := viewport.New(80, viewportHeight)
	vp.Style = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		PaddingRight(2)

	return model{
		daemonURL: daemonURL,
		spinner:   s,
		meter:     meter,
		viewport:  vp,
		usage:     map[string]UsageResponse{},
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		fetchData(m.daemonURL),
		tick(),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
		return m, tea.Batch(cmds...)

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tickMsg:
		cmds = append(cmds, fetchData(m.daemonURL), tick())

	case dataMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.usage = msg.usage
			m.events = msg.events
			m.updateViewportContent()
		}
		m.ready = true

	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = viewportHeight
	}

	return m, tea.Batch(cmds...)
}

func (m *model) updateViewportContent() {
	var sb strings.Builder
	for _, e := range m.events {
		var typeStr string
		switch {
		case strings.Contains(e.Type, "failed") || strings.Contains(e.Type, "denied") || strings.Contains(e.Type, "depleted") || strings.Contains(e.Type, "blocked"):
			typeStr = badStyle.Render(e.Type)
		case strings.Contains(e.Type, "observed") || strings.Contains(e.Type, "restored") || strings.Contains(e.Type, "unblocked"):
			typeStr = goodStyle.Render(e.Type)
		default:
			typeStr = infoStyle.Render(e.Type)
		}
		sb.WriteString(fmt.Sprintf("%s %s %s\n",
			eventTimeStyle.Render(e.TsEvent.Local().Format("15:04:05")),
			eventTypeStyle.Render(typeStr),
			subtleStyle.Render(e.Provider),
		))
	}
	m.viewport.SetContent(sb.String())
}

func (m model) usagePane() string {
	var sb strings.Builder
	sb.WriteString(lipgloss.NewStyle().Bold(true).Underline(true).Render("Provider Usage") + "\n\n")

	any := false
	for _, id := range providerOrder {
		res, ok := m.usage[id]
		if !ok {
			continue
		}
		any = true

		if res.Error != "" {
			suffix := ""
			if res.Suppressed {
				suffix = subtleStyle.Render(" (stale data retained)")
			}
			sb.WriteString(providerStyle.Render(id) + errorStyle.Render(res.Error) + suffix + "\n")
			continue
		}
		if res.Snapshot == nil {
			sb.WriteString(providerStyle.Render(id) + subtleStyle.Render("no data") + "\n")
			continue
		}

		for i, w := range res.Snapshot.Windows {
			name := ""
			if i == 0 {
				name = id
			}
			pct := fmt.Sprintf(" %5.1f%%", w.UsedPercent)
			style := okStyle
			if w.UsedPercent >= 99 {
				style = errorStyle
			} else if w.UsedPercent >= 80 {
				style = warnStyle
			}
			reset := ""
			if !w.ResetsAt.IsZero() {
				reset = subtleStyle.Render("  resets " + w.ResetsAt.Local().Format("15:04"))
			}
			sb.WriteString(providerStyle.Render(name) +
				windowStyle.Render(w.Label) +
				m.meter.ViewAs(w.UsedPercent/100) +
				style.Render(pct) + reset + "\n")
		}
	}

	if !any {
		sb.WriteString(subtleStyle.Render("No usage data yet."))
	}
	return paneStyle.Render(sb.String())
}

func (m model) View() string {
	if !m.ready {
		return fmt.Sprintf("\n%s Connecting to quotabar-d...", m.spinner.View())
	}

	header := headerStyle.Render(fmt.Sprintf("%s Event Stream", m.spinner.View()))

	var status string
	if m.err != nil {
		status = errorStyle.Render(fmt.Sprintf("Offline: %v", m.err))
	} else {
		status = okStyle.Render(fmt.Sprintf("Online • %d providers • %d events", len(m.usage), len(m.events)))
	}
	footer := subtleStyle.Render(fmt.Sprintf("\n%s\nPress q to quit", status))

	return lipgloss.JoinVertical(lipgloss.Left, m.usagePane(), header, m.viewport.View(), footer)
}

func fetchData(daemonURL string) tea.Cmd {
	return func() tea.Msg {
		usage, err := getUsage(daemonURL)
		if err != nil {
			return dataMsg{err: err}
		}
		events, err := getEvents(daemonURL)
		if err != nil {
			return dataMsg{err: err}
		}
		return dataMsg{usage: usage, events: events}
	}
}

func getUsage(daemonURL string) (map[string]UsageResponse, error) {
	c := &http.Client{Timeout: 1500 * time.Millisecond}
	resp, err := c.Get(daemonURL + "/v1/usage")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("usage status %d", resp.StatusCode)
	}
	var usage map[string]UsageResponse
	if err := json.NewDecoder(resp.Body).Decode(&usage); err != nil {
		return nil, err
	}
	return usage, nil
}

func getEvents(daemonURL string) ([]Event, error) {
	c := &http.Client{Timeout: 1500 * time.Millisecond}
	resp, err := c.Get(fmt.Sprintf("%s/v1/events?limit=%d", daemonURL, maxEvents))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("events status %d", resp.StatusCode)
	}
	var events []Event
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, err
	}
	return events, nil
}

func tick() tea.Cmd {
	return tea.Tick(pollRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func main() {
	daemonURL := os.Getenv("QUOTABAR_ENDPOINT")
	if daemonURL == "" {
		daemonURL = defaultDaemonURL
	}

	p := tea.NewProgram(initialModel(daemonURL), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
}
