package listener

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/coreos/go-systemd/v22/journal"

	"github.com/modoterra/logrelay/pkg/codec"
	"github.com/modoterra/logrelay/pkg/config"
	"github.com/modoterra/logrelay/pkg/core"
)

func entry() *core.LogEntry {
	return &core.LogEntry{
		ID:         "e-1",
		TsUnixNs:   1735689600000000000,
		Severity:   core.SeverityWarning,
		Categories: []string{"ops"},
		Title:      "disk",
		Message:    "almost full",
		Properties: map[string]any{"Machine.Name": "web-1", "free": "3%"},
	}
}

func TestFormatLinePlain(t *testing.T) {
	got := FormatLine(entry(), false)
	want := `2025-01-01T00:00:00Z WARNING  [ops] disk: almost full Machine.Name="web-1" free="3%"`
	if got != want {
		t.Errorf("got  %q\nwant %q", got, want)
	}
}

func TestConsoleDeliver(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole("console", &buf, false)
	if err := c.Deliver(context.Background(), entry()); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(buf.String(), "\n") || !strings.Contains(buf.String(), "almost full") {
		t.Errorf("got %q", buf.String())
	}
}

func TestFileDeliverWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "entries.jsonl")
	f, err := NewFile("archive", path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := f.Deliver(context.Background(), entry()); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	lines := 0
	sc := bufio.NewScanner(file)
	for sc.Scan() {
		got, err := codec.Decode(sc.Bytes())
		if err != nil {
			t.Fatalf("line %d: %v", lines, err)
		}
		if got.Message != "almost full" {
			t.Errorf("line %d: message %q", lines, got.Message)
		}
		lines++
	}
	if lines != 3 {
		t.Errorf("expected 3 lines, got %d", lines)
	}

	if err := f.Deliver(context.Background(), entry()); err == nil {
		t.Error("expected error after close")
	}
}

func TestJournaldDeliver(t *testing.T) {
	var (
		gotMsg  string
		gotPri  journal.Priority
		gotVars map[string]string
	)
	j := &Journald{name: "journal", identifier: "relay", send: func(m string, p journal.Priority, v map[string]string) error {
		gotMsg, gotPri, gotVars = m, p, v
		return nil
	}}

	if err := j.Deliver(context.Background(), entry()); err != nil {
		t.Fatal(err)
	}
	if gotMsg != "almost full" || gotPri != journal.PriWarning {
		t.Errorf("got %q at %d", gotMsg, gotPri)
	}
	want := map[string]string{
		"SYSLOG_IDENTIFIER":   "relay",
		"LOGRELAY_ENTRY_ID":   "e-1",
		"LOGRELAY_CATEGORIES": "ops",
		"LOGRELAY_TITLE":      "disk",
		"MACHINE_NAME":        "web-1",
		"FREE":                "3%",
	}
	for k, v := range want {
		if gotVars[k] != v {
			t.Errorf("%s: got %q, want %q", k, gotVars[k], v)
		}
	}
}

func TestJournaldSkipsReservedFields(t *testing.T) {
	var gotVars map[string]string
	j := &Journald{name: "journal", identifier: "relay", send: func(_ string, _ journal.Priority, v map[string]string) error {
		gotVars = v
		return nil
	}}

	e := &core.LogEntry{
		ID:       "e-2",
		Severity: core.SeverityInfo,
		Message:  "hello",
		Properties: map[string]any{
			"message":           "spoofed",
			"Priority":          "0",
			"syslog.identifier": "other",
			"Logrelay.Entry.Id": "forged",
			"Request.Path":      "/health",
		},
	}
	if err := j.Deliver(context.Background(), e); err != nil {
		t.Fatal(err)
	}

	for _, field := range []string{"MESSAGE", "PRIORITY"} {
		if v, ok := gotVars[field]; ok {
			t.Errorf("%s passed through as a field: %q", field, v)
		}
	}
	if gotVars["SYSLOG_IDENTIFIER"] != "relay" {
		t.Errorf("SYSLOG_IDENTIFIER: got %q", gotVars["SYSLOG_IDENTIFIER"])
	}
	if gotVars["LOGRELAY_ENTRY_ID"] != "e-2" {
		t.Errorf("LOGRELAY_ENTRY_ID: got %q", gotVars["LOGRELAY_ENTRY_ID"])
	}
	if gotVars["REQUEST_PATH"] != "/health" {
		t.Errorf("REQUEST_PATH: got %q", gotVars["REQUEST_PATH"])
	}
}

func TestJournaldSendError(t *testing.T) {
	j := &Journald{name: "journal", send: func(string, journal.Priority, map[string]string) error {
		return errors.New("socket gone")
	}}
	if err := j.Deliver(context.Background(), entry()); err == nil || !strings.Contains(err.Error(), "socket gone") {
		t.Errorf("got %v", err)
	}
}

func TestFieldName(t *testing.T) {
	tests := map[string]string{
		"Machine.Name":           "MACHINE_NAME",
		"Transaction.ActivityId": "TRANSACTION_ACTIVITYID",
		"_private":               "PRIVATE",
		"9lives":                 "LIVES",
		"___":                    "",
	}
	for in, want := range tests {
		if got := FieldName(in); got != want {
			t.Errorf("FieldName(%q) = %q, want %q", in, got, want)
		}
	}
}

type recording struct {
	name string
	got  []*core.LogEntry
}

func (r *recording) Name() string { return r.name }

func (r *recording) Deliver(_ context.Context, e *core.LogEntry) error {
	r.got = append(r.got, e)
	return nil
}

func TestFiltered(t *testing.T) {
	inner := &recording{name: "inner"}
	f := NewFiltered(inner, core.SeverityWarning, []string{"ops", "billing"})

	cases := []*core.LogEntry{
		{Severity: core.SeverityError, Categories: []string{"ops"}},
		{Severity: core.SeverityInfo, Categories: []string{"ops"}},
		{Severity: core.SeverityCritical, Categories: []string{"auth"}},
		{Severity: core.SeverityWarning, Categories: []string{"billing"}},
	}
	for _, e := range cases {
		if err := f.Deliver(context.Background(), e); err != nil {
			t.Fatal(err)
		}
	}
	if len(inner.got) != 2 {
		t.Errorf("expected 2 delivered, got %d", len(inner.got))
	}
	if f.Name() != "inner" || f.Unwrap() != inner {
		t.Error("wrapper should expose the inner listener")
	}
}

func TestBuild(t *testing.T) {
	off := false
	path := filepath.Join(t.TempDir(), "out.jsonl")
	set, err := Build([]config.Listener{
		{Name: "console", Kind: "console", Color: &off},
		{Name: "archive", Kind: "file", Path: path, MinLevel: "error"},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer set.Close()

	if len(set.Listeners) != 2 {
		t.Fatalf("expected 2 listeners, got %d", len(set.Listeners))
	}
	if _, ok := set.Listeners[0].(*Console); !ok {
		t.Errorf("listener 0: %T", set.Listeners[0])
	}
	if _, ok := set.Listeners[1].(*Filtered); !ok {
		t.Errorf("listener 1: %T", set.Listeners[1])
	}

	if _, err := Build([]config.Listener{{Name: "x", Kind: "pigeon"}}); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestBuildCategoriesOnlyAdmitsEverySeverity(t *testing.T) {
	set, err := Build([]config.Listener{
		{Name: "ops", Kind: "file", Path: filepath.Join(t.TempDir(), "ops.jsonl"), Categories: []string{"ops"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer set.Close()

	f, ok := set.Listeners[0].(*Filtered)
	if !ok {
		t.Fatalf("listener 0: %T", set.Listeners[0])
	}
	if !f.Accepts(&core.LogEntry{Severity: core.SeverityDebug, Categories: []string{"ops"}}) {
		t.Error("debug entry in a selected category was dropped")
	}
	if f.Accepts(&core.LogEntry{Severity: core.SeverityError, Categories: []string{"billing"}}) {
		t.Error("entry outside the selected categories was accepted")
	}
}
