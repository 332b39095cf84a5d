package model

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/modoterra/logrelay/pkg/core"
	"github.com/modoterra/logrelay/pkg/daemon"
)

func entry(sev core.Severity, msg string, cats ...string) core.LogEntry {
	e := core.NewEntry(sev, msg, cats...)
	e.ID = msg
	return *e
}

func update(t *testing.T, a App, msg tea.Msg) App {
	t.Helper()
	m, _ := a.Update(msg)
	return m.(App)
}

func key(s string) tea.KeyMsg {
	switch s {
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune(" ")}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

func TestEntriesFollowTail(t *testing.T) {
	a := New("/tmp/test.sock")
	a = update(t, a, recentMsg{entry(core.SeverityInfo, "a"), entry(core.SeverityInfo, "b")})
	if a.selectedIdx != 1 {
		t.Fatalf("selectedIdx = %d, want 1", a.selectedIdx)
	}

	a = update(t, a, entryMsg(entry(core.SeverityInfo, "c")))
	if got := a.selectedEntry(); got == nil || got.Message != "c" {
		t.Fatalf("selected = %v, want c", got)
	}

	// Moving up stops following.
	a = update(t, a, key("k"))
	a = update(t, a, entryMsg(entry(core.SeverityInfo, "d")))
	if got := a.selectedEntry(); got.Message != "b" {
		t.Errorf("selected = %s, want b", got.Message)
	}

	a = update(t, a, key("G"))
	if got := a.selectedEntry(); got.Message != "d" {
		t.Errorf("selected = %s, want d", got.Message)
	}
}

func TestEntriesCapped(t *testing.T) {
	a := New("/tmp/test.sock")
	for i := 0; i < maxEntries+10; i++ {
		a = update(t, a, entryMsg(entry(core.SeverityInfo, "x")))
	}
	if len(a.entries) != maxEntries {
		t.Errorf("entries = %d, want %d", len(a.entries), maxEntries)
	}
}

func TestPauseDropsLiveEntries(t *testing.T) {
	a := New("/tmp/test.sock")
	a = update(t, a, key(" "))
	a = update(t, a, entryMsg(entry(core.SeverityInfo, "ignored")))
	if len(a.entries) != 0 {
		t.Errorf("paused dashboard recorded %d entries", len(a.entries))
	}
	if !strings.Contains(a.entriesTitle(), "PAUSED") {
		t.Error("title does not show pause")
	}
}

func TestSeverityFilter(t *testing.T) {
	a := New("/tmp/test.sock")
	a = update(t, a, recentMsg{
		entry(core.SeverityDebug, "d"),
		entry(core.SeverityWarning, "w"),
		entry(core.SeverityCritical, "c"),
	})

	a = update(t, a, key("f")) // info and above
	a = update(t, a, key("f")) // warning and above
	got := a.filteredEntries()
	if len(got) != 2 || got[0].Message != "w" || got[1].Message != "c" {
		t.Errorf("filtered = %v", got)
	}
}

func TestTextFilter(t *testing.T) {
	a := New("/tmp/test.sock")
	a = update(t, a, recentMsg{
		entry(core.SeverityInfo, "payment accepted", "billing"),
		entry(core.SeverityInfo, "user created", "accounts"),
	})
	a.search.SetValue("BILL")
	got := a.filteredEntries()
	if len(got) != 1 || got[0].Message != "payment accepted" {
		t.Errorf("filtered = %v", got)
	}
}

func TestDiagnosticsAndStatus(t *testing.T) {
	a := New("/tmp/test.sock")
	a.width, a.height = 120, 40
	a = update(t, a, snapshotMsg(daemon.Status{ServiceName: "Test Distributor", State: daemon.StateRunning, Delivered: 7}))
	a = update(t, a, diagnosticMsg(daemon.Diagnostic{Kind: "listener", Message: "deliver entry e1 to listener file: disk full"}))

	view := a.View()
	for _, want := range []string{"Test Distributor", "delivered 7", "disk full"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestDisconnected(t *testing.T) {
	a := New("/tmp/test.sock")
	a.connected = true
	a = update(t, a, disconnectedMsg{})
	if a.connected {
		t.Error("still connected")
	}
	if !strings.Contains(a.statusMsg, "disconnected") {
		t.Errorf("statusMsg = %q", a.statusMsg)
	}
}
