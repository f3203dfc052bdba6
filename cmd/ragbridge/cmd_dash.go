package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"ragbridge/pkg/eventlog"
)

// dashRefresh is how often the dashboard re-reads the journal.
const dashRefresh = time.Second

// dashEventRows is how many recent events the dashboard lists.
const dashEventRows = 15

// newDashCmd creates the "ragbridge dash" subcommand.
func newDashCmd(flags *globalFlags) *cobra.Command {
	var instanceID string

	cmd := &cobra.Command{
		Use:   "dash",
		Short: "Live view of the worker state and recent events",
		Long:  "Opens a terminal dashboard that follows the event journal written by serve.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := journalPath(flags)
			if err != nil {
				return err
			}
			r, err := eventlog.OpenReader(path)
			if err != nil {
				return err
			}
			defer r.Close()

			p := tea.NewProgram(newDashModel(r, instanceID), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("run dashboard: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&instanceID, "instance", "", "follow one bridge instance (default: the latest)")

	return cmd
}

// journalSource is the part of *eventlog.Reader the dashboard reads.
type journalSource interface {
	Query(ctx context.Context, opts eventlog.QueryOpts) ([]eventlog.Event, error)
	LatestState(ctx context.Context, instanceID string) (eventlog.State, bool, error)
}

// dashTickMsg triggers a journal refresh.
type dashTickMsg time.Time

// dashDataMsg carries one journal snapshot.
type dashDataMsg struct {
	state    eventlog.State
	hasState bool
	events   []eventlog.Event
	err      error
}

type dashKeys struct {
	Quit    key.Binding
	Refresh key.Binding
}

func defaultDashKeys() dashKeys {
	return dashKeys{
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"), key.WithHelp("q", "quit")),
		Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	}
}

type dashStyles struct {
	title   lipgloss.Style
	label   lipgloss.Style
	muted   lipgloss.Style
	errText lipgloss.Style
	box     lipgloss.Style
}

// dashModel is the Bubble Tea model for ragbridge dash.
type dashModel struct {
	source     journalSource
	instanceID string
	theme      Theme
	styles     dashStyles
	keys       dashKeys
	spinner    spinner.Model

	state    eventlog.State
	hasState bool
	events   []eventlog.Event
	err      error
	updated  time.Time
	width    int
}

func newDashModel(source journalSource, instanceID string) dashModel {
	theme := defaultTheme()
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.Warning)

	return dashModel{
		source:     source,
		instanceID: instanceID,
		theme:      theme,
		keys:       defaultDashKeys(),
		spinner:    sp,
		styles: dashStyles{
			title:   lipgloss.NewStyle().Bold(true).Foreground(theme.Primary),
			label:   lipgloss.NewStyle().Foreground(theme.Muted).Width(14),
			muted:   lipgloss.NewStyle().Foreground(theme.Muted),
			errText: lipgloss.NewStyle().Foreground(theme.Error),
			box:     lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(theme.Muted).Padding(0, 1),
		},
	}
}

func dashTickCmd() tea.Cmd {
	return tea.Tick(dashRefresh, func(t time.Time) tea.Msg {
		return dashTickMsg(t)
	})
}

// fetchCmd reads the latest state and recent events for the instance.
func (m dashModel) fetchCmd() tea.Cmd {
	source, instanceID := m.source, m.instanceID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), dashRefresh)
		defer cancel()

		st, ok, err := source.LatestState(ctx, instanceID)
		if err != nil {
			return dashDataMsg{err: err}
		}
		if instanceID == "" && ok {
			instanceID = st.InstanceID
		}
		events, err := source.Query(ctx, eventlog.QueryOpts{InstanceID: instanceID, Limit: dashEventRows})
		return dashDataMsg{state: st, hasState: ok, events: events, err: err}
	}
}

// Init implements tea.Model.
func (m dashModel) Init() tea.Cmd {
	return tea.Batch(m.fetchCmd(), dashTickCmd(), m.spinner.Tick)
}

// Update implements tea.Model.
func (m dashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			return m, m.fetchCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case dashTickMsg:
		return m, tea.Batch(m.fetchCmd(), dashTickCmd())

	case dashDataMsg:
		m.err = msg.err
		if msg.err == nil {
			m.state, m.hasState, m.events = msg.state, msg.hasState, msg.events
			m.updated = time.Now()
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// transitional reports whether the worker is between stable states.
func (m dashModel) transitional() bool {
	return m.state.State == "starting" || m.state.State == "restarting"
}

// View implements tea.Model.
func (m dashModel) View() string {
	sections := []string{m.styles.title.Render("ragbridge")}
	sections = append(sections, m.renderState())
	sections = append(sections, m.renderEvents())
	if m.err != nil {
		sections = append(sections, m.styles.errText.Render("journal: "+m.err.Error()))
	}
	sections = append(sections, m.styles.muted.Render(fmt.Sprintf("%s • %s",
		m.keys.Refresh.Help().Key+" "+m.keys.Refresh.Help().Desc,
		m.keys.Quit.Help().Key+" "+m.keys.Quit.Help().Desc)))
	return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
}

func (m dashModel) renderState() string {
	if !m.hasState {
		return m.styles.box.Render(m.styles.muted.Render("no bridge has run yet"))
	}

	state := lipgloss.NewStyle().Bold(true).Foreground(m.theme.stateColor(m.state.State)).Render(m.state.State)
	if m.transitional() {
		state = m.spinner.View() + " " + state
	}

	rows := []string{
		m.styles.label.Render("state") + state,
		m.styles.label.Render("instance") + m.state.InstanceID,
		m.styles.label.Render("generation") + fmt.Sprintf("%d", m.state.Generation),
	}
	if m.state.PID != 0 {
		rows = append(rows, m.styles.label.Render("pid")+fmt.Sprintf("%d", m.state.PID))
	}
	rows = append(rows, m.styles.label.Render("since")+m.state.Since.Local().Format(time.TimeOnly))
	if !m.updated.IsZero() {
		rows = append(rows, m.styles.label.Render("refreshed")+m.styles.muted.Render(m.updated.Format(time.TimeOnly)))
	}
	return m.styles.box.Render(strings.Join(rows, "\n"))
}

func (m dashModel) renderEvents() string {
	if len(m.events) == 0 {
		return m.styles.muted.Render("no events")
	}

	var b strings.Builder
	p := newEventPrinter(&b, false, true)
	// Query returns newest first; show oldest at the top.
	for i := len(m.events) - 1; i >= 0; i-- {
		_ = p.print(&m.events[i])
	}
	return strings.TrimRight(b.String(), "\n")
}
