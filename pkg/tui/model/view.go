package model

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/modoterra/logrelay/pkg/core"
	"github.com/modoterra/logrelay/pkg/daemon"
	"github.com/modoterra/logrelay/pkg/listener"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	stateRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	stateStopped = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	activePaneStyle = paneStyle.
			BorderForeground(lipgloss.Color("205"))

	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// View renders the dashboard.
func (a App) View() string {
	if a.width == 0 || a.height == 0 {
		return "loading..."
	}

	statusBarH := 2
	headerH := 3
	diagPaneH := max(a.height/5, 4)
	mainH := a.height - headerH - diagPaneH - statusBarH - 4
	listW := a.width*3/5 - 2
	detailW := a.width - listW - 4

	header := a.renderHeader(a.width - 4)

	list := a.renderEntries(listW, mainH)
	listPane := a.paneBox(PaneEntries, a.entriesTitle(), list, listW, mainH)

	detail := a.renderDetail(detailW, mainH)
	detailPane := a.paneBox(PaneDetail, " Entry ", detail, detailW, mainH)

	topRow := lipgloss.JoinHorizontal(lipgloss.Top, listPane, detailPane)

	diags := a.renderDiagnostics(a.width-4, diagPaneH)
	diagPane := a.paneBox(PaneDiagnostics, " Diagnostics ", diags, a.width-4, diagPaneH)

	return lipgloss.JoinVertical(lipgloss.Left, header, topRow, diagPane, a.renderStatusBar())
}

func (a App) paneBox(pane Pane, title, content string, w, h int) string {
	style := paneStyle
	if a.activePane == pane {
		style = activePaneStyle
	}
	return style.Width(w).Height(h).Render(
		titleStyle.Render(title) + "\n" + content,
	)
}

func (a App) renderHeader(w int) string {
	st := a.status
	if st.ServiceName == "" {
		return paneStyle.Width(w).Render(dimStyle.Render("waiting for " + a.socketPath))
	}

	state := stateStopped.Render(st.State)
	if st.State == daemon.StateRunning {
		state = stateRunning.Render(st.State)
	}
	uptime := ""
	if st.StartedAtUnixMs > 0 {
		sec := uint64(time.Since(time.UnixMilli(st.StartedAtUnixMs)).Seconds())
		uptime = " up " + formatDuration(sec)
	}

	line1 := fmt.Sprintf("%s  %s%s  %s", titleStyle.Render(st.ServiceName), state, uptime, dimStyle.Render(st.Transport))
	line2 := fmt.Sprintf("received %d  delivered %d  malformed %d  listener errors %d  transport errors %d  requeued %d  dead %d",
		st.Received, st.Delivered, st.Malformed, st.ListenerFailures, st.TransportErrors, st.Requeued, st.DeadLettered)
	return paneStyle.Width(w).Render(line1 + "\n" + dimStyle.Render(truncate(line2, w-2)))
}

func (a App) entriesTitle() string {
	title := " Entries "
	if a.paused {
		title += dimStyle.Render("[PAUSED]") + " "
	}
	if a.minSeverity > 0 {
		title += dimStyle.Render(">="+string(severityOrder[a.minSeverity])) + " "
	}
	return title
}

func (a App) renderEntries(w, h int) string {
	entries := a.filteredEntries()
	if len(entries) == 0 {
		if a.mode == ModeSearch {
			return dimStyle.Render("no entries") + "\n\n" + a.search.View()
		}
		return dimStyle.Render("no entries")
	}

	var b strings.Builder
	maxVisible := h - 2
	if a.mode == ModeSearch {
		maxVisible -= 2
	}
	start := 0
	if a.selectedIdx >= maxVisible {
		start = a.selectedIdx - maxVisible + 1
	}

	for i := start; i < len(entries) && i-start < maxVisible; i++ {
		e := entries[i]
		ts := e.Time().Local().Format("15:04:05.000")
		text := truncate(e.Message, w-22)
		line := fmt.Sprintf(" %s %s %s", severityIndicator(e.Severity), dimStyle.Render(ts), text)

		if i == a.selectedIdx {
			line = selectedStyle.Width(w).Render(fmt.Sprintf(" %s %s %s", severityLetter(e.Severity), ts, text))
		}
		b.WriteString(line + "\n")
	}

	if a.mode == ModeSearch {
		b.WriteString("\n" + a.search.View())
	}
	return b.String()
}

func (a App) renderDetail(w, _ int) string {
	e := a.selectedEntry()
	if e == nil {
		return dimStyle.Render("select an entry")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "ID:        %s\n", dimStyle.Render(e.ID))
	fmt.Fprintf(&b, "Time:      %s\n", e.Time().Local().Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "Severity:  %s\n", listener.SeverityStyle(e.Severity).Render(string(e.Severity)))
	if len(e.Categories) > 0 {
		fmt.Fprintf(&b, "Categories: %s\n", strings.Join(e.Categories, ", "))
	}
	if e.Title != "" {
		fmt.Fprintf(&b, "Title:     %s\n", e.Title)
	}
	fmt.Fprintf(&b, "Message:   %s\n", e.Message)

	if len(e.Properties) > 0 {
		b.WriteString("\n" + titleStyle.Render("Properties") + "\n")
		keys := make([]string, 0, len(e.Properties))
		for k := range e.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(truncate(fmt.Sprintf("%s = %v", k, e.Properties[k]), w) + "\n")
		}
	}
	return b.String()
}

func (a App) renderDiagnostics(w, h int) string {
	if len(a.diagnostics) == 0 {
		return dimStyle.Render("no failures")
	}

	start := 0
	if len(a.diagnostics) > h-1 {
		start = len(a.diagnostics) - h + 1
	}

	var b strings.Builder
	for _, d := range a.diagnostics[start:] {
		ts := time.UnixMilli(d.TsUnixMs).Local().Format("15:04:05")
		line := fmt.Sprintf("%s %-15s %s", ts, d.Kind, d.Message)
		b.WriteString(truncate(line, w) + "\n")
	}
	return b.String()
}

func (a App) renderStatusBar() string {
	left := a.statusMsg
	right := "j/k:nav G:follow tab:pane /:filter f:severity space:pause c:clear q:quit"
	if a.mode == ModeSearch {
		right = "enter:apply esc:cancel"
	}

	gap := a.width - len(left) - len(right)
	if gap < 1 {
		gap = 1
	}
	return helpStyle.Render(left + strings.Repeat(" ", gap) + right)
}

func severityIndicator(s core.Severity) string {
	return listener.SeverityStyle(s).Render(severityLetter(s))
}

func severityLetter(s core.Severity) string {
	if s == "" {
		return "?"
	}
	return strings.ToUpper(string(s[0]))
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

func formatDuration(sec uint64) string {
	if sec < 60 {
		return fmt.Sprintf("%ds", sec)
	}
	if sec < 3600 {
		return fmt.Sprintf("%dm%ds", sec/60, sec%60)
	}
	return fmt.Sprintf("%dh%dm", sec/3600, (sec%3600)/60)
}
