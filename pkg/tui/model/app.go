package model

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/modoterra/logrelay/pkg/core"
	"github.com/modoterra/logrelay/pkg/daemon"
	"github.com/modoterra/logrelay/pkg/transport/uds"
)

// Pane identifies which TUI pane is focused.
type Pane int

const (
	PaneEntries Pane = iota
	PaneDetail
	PaneDiagnostics
)

// Mode identifies the current interaction mode.
type Mode int

const (
	ModeNormal Mode = iota
	ModeSearch
)

const (
	maxEntries     = 500
	maxDiagnostics = 100
	eventBuffer    = 256
)

// severityOrder is the cycle used by the minimum severity filter.
var severityOrder = []core.Severity{
	core.SeverityDebug,
	core.SeverityInfo,
	core.SeverityWarning,
	core.SeverityError,
	core.SeverityCritical,
}

// App is the root Bubble Tea model of the watch dashboard.
type App struct {
	// Connection
	client     *uds.Client
	socketPath string
	connected  bool
	events     chan uds.Message

	// State
	status      daemon.Status
	entries     []core.LogEntry
	diagnostics []daemon.Diagnostic
	selectedIdx int
	follow      bool
	paused      bool
	minSeverity int

	// UI
	activePane Pane
	mode       Mode
	search     textinput.Model
	width      int
	height     int

	statusMsg string
}

// New creates a new dashboard model.
func New(socketPath string) App {
	si := textinput.New()
	si.Placeholder = "filter..."
	si.CharLimit = 64

	return App{
		socketPath: socketPath,
		search:     si,
		activePane: PaneEntries,
		mode:       ModeNormal,
		follow:     true,
	}
}

// Init connects to the daemon.
func (a App) Init() tea.Cmd {
	return tea.Batch(
		connectCmd(a.socketPath),
		tea.SetWindowTitle("logrelay"),
	)
}

// tickMsg triggers periodic status refresh.
type tickMsg time.Time

// connectedMsg indicates successful daemon connection.
type connectedMsg struct {
	client *uds.Client
	events chan uds.Message
}

// snapshotMsg carries a distributor status snapshot.
type snapshotMsg daemon.Status

// recentMsg carries the entries relayed before the dashboard connected.
type recentMsg []core.LogEntry

// entryMsg carries a relayed entry pushed by the daemon.
type entryMsg core.LogEntry

// diagnosticMsg carries a distributor failure pushed by the daemon.
type diagnosticMsg daemon.Diagnostic

// disconnectedMsg is sent when the control socket closes.
type disconnectedMsg struct{}

// errorMsg carries an error to display.
type errorMsg struct{ err error }

func connectCmd(socketPath string) tea.Cmd {
	return func() tea.Msg {
		client, err := uds.Dial(socketPath)
		if err != nil {
			return errorMsg{err}
		}
		events := make(chan uds.Message, eventBuffer)
		client.OnEvent(func(m uds.Message) {
			select {
			case events <- m:
			default:
			}
		})
		return connectedMsg{client: client, events: events}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchStatusCmd(client *uds.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		var st daemon.Status
		if err := client.Call(ctx, uds.MethodStatus, nil, &st); err != nil {
			return errorMsg{err}
		}
		return snapshotMsg(st)
	}
}

func fetchRecentCmd(client *uds.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		var entries []core.LogEntry
		if err := client.Call(ctx, uds.MethodRecent, uds.RecentRequest{Limit: maxEntries}, &entries); err != nil {
			return errorMsg{err}
		}
		return recentMsg(entries)
	}
}

// waitForEvent turns the next pushed event into a message. Events that
// fail to decode are skipped.
func waitForEvent(client *uds.Client, events <-chan uds.Message) tea.Cmd {
	return func() tea.Msg {
		for {
			select {
			case m := <-events:
				switch m.Method {
				case uds.EventEntryRelayed:
					var e core.LogEntry
					if err := m.UnmarshalData(&e); err == nil {
						return entryMsg(e)
					}
				case uds.EventDiagnostic:
					var d daemon.Diagnostic
					if err := m.UnmarshalData(&d); err == nil {
						return diagnosticMsg(d)
					}
				}
			case <-client.Done():
				return disconnectedMsg{}
			}
		}
	}
}

// Update handles messages.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case connectedMsg:
		a.client = msg.client
		a.events = msg.events
		a.connected = true
		a.statusMsg = "connected"
		return a, tea.Batch(
			tickCmd(),
			fetchStatusCmd(a.client),
			fetchRecentCmd(a.client),
			waitForEvent(a.client, a.events),
		)

	case tickMsg:
		if a.client != nil && a.connected {
			return a, tea.Batch(tickCmd(), fetchStatusCmd(a.client))
		}
		return a, tickCmd()

	case snapshotMsg:
		a.status = daemon.Status(msg)
		return a, nil

	case recentMsg:
		if len(a.entries) == 0 {
			a.entries = capEntries(append([]core.LogEntry(nil), msg...))
			a.followTail()
		}
		return a, nil

	case entryMsg:
		if !a.paused {
			a.entries = capEntries(append(a.entries, core.LogEntry(msg)))
			a.followTail()
		}
		return a, a.nextEvent()

	case diagnosticMsg:
		a.diagnostics = append(a.diagnostics, daemon.Diagnostic(msg))
		if len(a.diagnostics) > maxDiagnostics {
			a.diagnostics = a.diagnostics[len(a.diagnostics)-maxDiagnostics:]
		}
		return a, a.nextEvent()

	case disconnectedMsg:
		a.connected = false
		a.statusMsg = "disconnected from " + a.socketPath
		return a, nil

	case errorMsg:
		a.statusMsg = "error: " + msg.err.Error()
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	return a, nil
}

func (a App) nextEvent() tea.Cmd {
	if a.client == nil || !a.connected {
		return nil
	}
	return waitForEvent(a.client, a.events)
}

func capEntries(entries []core.LogEntry) []core.LogEntry {
	if len(entries) > maxEntries {
		return entries[len(entries)-maxEntries:]
	}
	return entries
}

func (a *App) followTail() {
	if a.follow {
		a.selectedIdx = max(0, len(a.filteredEntries())-1)
	}
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if a.mode == ModeSearch {
		switch msg.String() {
		case "esc":
			a.mode = ModeNormal
			a.search.SetValue("")
			a.search.Blur()
			a.followTail()
			return a, nil
		case "enter":
			a.mode = ModeNormal
			a.search.Blur()
			a.followTail()
			return a, nil
		default:
			var cmd tea.Cmd
			a.search, cmd = a.search.Update(msg)
			return a, cmd
		}
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "j", "down":
		n := len(a.filteredEntries())
		if a.activePane == PaneEntries && n > 0 {
			a.selectedIdx = min(a.selectedIdx+1, n-1)
			a.follow = a.selectedIdx == n-1
		}
	case "k", "up":
		if a.activePane == PaneEntries && a.selectedIdx > 0 {
			a.selectedIdx--
			a.follow = false
		}
	case "G", "end":
		a.follow = true
		a.followTail()

	case "tab":
		a.activePane = (a.activePane + 1) % 3

	case "/":
		a.mode = ModeSearch
		a.search.Focus()
		return a, textinput.Blink

	case " ":
		a.paused = !a.paused

	case "f":
		a.minSeverity = (a.minSeverity + 1) % len(severityOrder)
		a.statusMsg = "showing " + string(severityOrder[a.minSeverity]) + " and above"
		a.follow = true
		a.followTail()

	case "c":
		a.entries = nil
		a.selectedIdx = 0
	}

	return a, nil
}

func (a App) filteredEntries() []core.LogEntry {
	q := strings.ToLower(a.search.Value())
	floor := severityOrder[a.minSeverity].Rank()
	if q == "" && floor == 0 {
		return a.entries
	}
	var filtered []core.LogEntry
	for _, e := range a.entries {
		if e.Severity.Rank() < floor {
			continue
		}
		if q != "" && !matches(e, q) {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered
}

func matches(e core.LogEntry, q string) bool {
	if strings.Contains(strings.ToLower(e.Message), q) ||
		strings.Contains(strings.ToLower(e.Title), q) {
		return true
	}
	for _, c := range e.Categories {
		if strings.Contains(strings.ToLower(c), q) {
			return true
		}
	}
	return false
}

func (a App) selectedEntry() *core.LogEntry {
	entries := a.filteredEntries()
	if a.selectedIdx < len(entries) {
		return &entries[a.selectedIdx]
	}
	return nil
}
