package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	bar "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/cluso-assembler/pkg/assembler"
	"github.com/dd0wney/cluso-assembler/pkg/config"
	"github.com/dd0wney/cluso-assembler/pkg/eventbus"
	"github.com/dd0wney/cluso-assembler/pkg/ingest"
	"github.com/dd0wney/cluso-assembler/pkg/logging"
	"github.com/dd0wney/cluso-assembler/pkg/progress"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF00FF")).
			MarginLeft(2).
			MarginTop(1)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#FF00FF")).
			Padding(0, 2)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#666666")).
				Padding(0, 2)

	contentStyle = lipgloss.NewStyle().
			MarginLeft(2).
			MarginTop(1)

	statsBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FF00")).
			Padding(1, 2).
			MarginRight(2)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			MarginTop(1).
			MarginLeft(2)
)

type view int

const (
	dashboardView view = iota
	stuckView
)

type keyMap struct {
	Tab  key.Binding
	Quit key.Binding
}

var keys = keyMap{
	Tab: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "switch view"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Tab, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Tab, k.Quit}}
}

type model struct {
	session     *assembler.Session
	updates     <-chan eventbus.Event
	bar         bar.Model
	stuckTable  table.Model
	help        help.Model
	currentView view
	report      progress.Report
	summary     *assembler.Summary
	runErr      error
	startTime   time.Time
	width       int
}

type tickMsg time.Time

type reportMsg progress.Report

type doneMsg struct {
	summary assembler.Summary
	err     error
}

func tickCmd() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitReport blocks for the next progress event
func waitReport(ch <-chan eventbus.Event) tea.Cmd {
	return func() tea.Msg {
		for ev := range ch {
			if r, ok := ev.Payload.(progress.Report); ok {
				return reportMsg(r)
			}
		}
		return nil
	}
}

func runSession(ctx context.Context, s *assembler.Session) tea.Cmd {
	return func() tea.Msg {
		summary, err := s.Run(ctx)
		return doneMsg{summary: summary, err: err}
	}
}

func initialModel(s *assembler.Session, updates <-chan eventbus.Event) model {
	columns := []table.Column{
		{Title: "ID", Width: 10},
		{Title: "Name", Width: 20},
		{Title: "State", Width: 18},
		{Title: "Parent", Width: 10},
		{Title: "Age", Width: 10},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	st := table.DefaultStyles()
	st.Header = st.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#00FFFF")).
		BorderBottom(true).
		Bold(true)
	t.SetStyles(st)

	return model{
		session:    s,
		updates:    updates,
		bar:        bar.New(bar.WithDefaultGradient()),
		stuckTable: t,
		help:       help.New(),
		startTime:  time.Now(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), waitReport(m.updates))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Tab):
			m.currentView = (m.currentView + 1) % 2
			return m, nil
		}
		var cmd tea.Cmd
		m.stuckTable, cmd = m.stuckTable.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(msg.Width-10, 20)
		return m, nil

	case tickMsg:
		m.refreshStuck()
		return m, tickCmd()

	case reportMsg:
		m.report = progress.Report(msg)
		return m, waitReport(m.updates)

	case doneMsg:
		m.summary = &msg.summary
		m.runErr = msg.err
		m.report = msg.summary.Progress
		m.refreshStuck()
		return m, nil
	}
	return m, nil
}

func (m *model) refreshStuck() {
	stuck := m.session.Stuck()
	rows := make([]table.Row, 0, len(stuck))
	for _, s := range stuck {
		parent := "-"
		if s.HasParent {
			parent = strconv.FormatInt(s.ParentID, 10)
		}
		rows = append(rows, table.Row{
			strconv.FormatInt(s.ID, 10),
			s.Name,
			s.State,
			parent,
			s.Age.Truncate(time.Millisecond).String(),
		})
	}
	m.stuckTable.SetRows(rows)
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Cluso Assembler"))
	b.WriteString("\n")
	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	switch m.currentView {
	case dashboardView:
		b.WriteString(contentStyle.Render(m.renderDashboard()))
	case stuckView:
		b.WriteString(contentStyle.Render(m.stuckTable.View()))
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.help.View(keys)))
	return b.String()
}

func (m model) renderTabs() string {
	names := []string{"Dashboard", fmt.Sprintf("Stuck (%d)", len(m.stuckTable.Rows()))}
	tabs := make([]string, len(names))
	for i, name := range names {
		if view(i) == m.currentView {
			tabs[i] = activeTabStyle.Render(name)
		} else {
			tabs[i] = inactiveTabStyle.Render(name)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (m model) renderDashboard() string {
	reg := m.session.Registry()
	totals := m.session.Pipeline().Totals()

	entities := fmt.Sprintf("Entities\n\nKnown:   %d\nReady:   %d\nPending: %d",
		reg.Known(), reg.ReadyCount(), m.session.Factory().Pending())
	linkStats := fmt.Sprintf("Links\n\nCreated:    %d\nDuplicate:  %d\nTimed out:  %d\nUnexpected: %d\nVisible:    %d\nIn flight:  %d",
		totals.Created, totals.Duplicate, totals.TimedOut, totals.Unexpected,
		m.session.Store().Visible(), m.session.Pipeline().InFlight())

	var status string
	select {
	case <-m.session.GateOpen():
		status = "importing links"
	default:
		status = "assembling graph"
	}
	if m.summary != nil {
		if m.runErr != nil {
			status = errorStyle.Render("stopped: " + m.runErr.Error())
		} else {
			status = successStyle.Render("complete")
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, statsBoxStyle.Render(entities), statsBoxStyle.Render(linkStats)),
		"",
		m.bar.ViewAs(m.report.Ratio),
		fmt.Sprintf("%d / %d links  %s  elapsed %s",
			m.report.Processed, m.report.Expected, status, time.Since(m.startTime).Truncate(time.Second)),
	)
}

func main() {
	entitiesPath := flag.String("entities", "", "Path to the entity payload")
	linksPath := flag.String("links", "", "Path to the link payload")
	configPath := flag.String("config", "", "Path to a YAML config file")
	flag.Parse()

	if *entitiesPath == "" {
		fmt.Println("Usage: assembler-tui --entities entities.json [--links links.json] [--config assembler.yaml]")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Component logs would corrupt the terminal UI
	session, err := assembler.New(cfg, nil, logging.NewJSONLogger(io.Discard, cfg.Level()), nil)
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}
	defer session.Stop()

	entities, err := ingest.EntitiesFile(*entitiesPath)
	if err != nil {
		log.Fatalf("Failed to read entities: %v", err)
	}
	if _, err := session.LoadEntities(entities.Items); err != nil {
		log.Fatalf("Failed to load entities: %v", err)
	}
	if *linksPath != "" {
		imports, err := ingest.LinksFile(*linksPath)
		if err != nil {
			log.Fatalf("Failed to read links: %v", err)
		}
		if err := session.LoadLinks(imports.Items); err != nil {
			log.Fatalf("Failed to load links: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := session.Bus().Listen(ctx, eventbus.TopicProgress, eventbus.AnyKey, 64)

	p := tea.NewProgram(initialModel(session, updates.Channel()), tea.WithAltScreen())
	go func() {
		msg := runSession(ctx, session)()
		p.Send(msg)
	}()
	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running TUI: %v", err)
	}
}
