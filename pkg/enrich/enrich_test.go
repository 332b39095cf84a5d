package enrich

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/modoterra/logrelay/pkg/core"
)

func failing(msg string) Accessor {
	return func(context.Context) (string, error) { return "", errors.New(msg) }
}

func constant(v string) Accessor {
	return func(context.Context) (string, error) { return v, nil }
}

func TestFormatError(t *testing.T) {
	tests := []struct {
		template string
		msg      string
		want     string
	}{
		{"Error: %s", "access denied", "Error: access denied"},
		{"ExtendedPropertyError", "access denied", "ExtendedPropertyError: access denied"},
		{"", "boom", "error reading extended property: boom"},
		{"Fehler beim Lesen (%s)", "x", "Fehler beim Lesen (x)"},
		{"100%% %s", "y", "100%% y"},
	}
	for _, tt := range tests {
		if got := FormatError(tt.template, tt.msg); got != tt.want {
			t.Errorf("FormatError(%q, %q) = %q, want %q", tt.template, tt.msg, got, tt.want)
		}
	}
}

func TestSafeValueReturnsValue(t *testing.T) {
	if got := SafeValue(context.Background(), DefaultErrorTemplate, constant("ok")); got != "ok" {
		t.Errorf("got %q", got)
	}
}

func TestSafeValueFormatsError(t *testing.T) {
	got := SafeValue(context.Background(), "Error: %s", failing("access denied"))
	if got != "Error: access denied" {
		t.Errorf("got %q", got)
	}
}

func TestSafeValueRecoversPanic(t *testing.T) {
	got := SafeValue(context.Background(), DefaultErrorTemplate, func(context.Context) (string, error) {
		panic("bus exploded")
	})
	if !strings.Contains(got, "bus exploded") {
		t.Errorf("panic text missing: %q", got)
	}

	got = SafeValue(context.Background(), DefaultErrorTemplate, nil)
	if got == "" {
		t.Error("nil accessor should yield an error string")
	}
}

func TestProviderPopulatesEveryProperty(t *testing.T) {
	p := NewProvider("test", []Property{
		{Name: "Test.A", Get: constant("a")},
		{Name: "Test.B", Get: failing("access denied")},
		{Name: "Test.C", Get: constant("c")},
	}, WithErrorTemplate("Error: %s"))

	dict := map[string]any{}
	p.PopulateDictionary(context.Background(), dict)

	for _, name := range p.PropertyNames() {
		v, ok := dict[name].(string)
		if !ok || v == "" {
			t.Errorf("%s: missing or empty (%v)", name, dict[name])
		}
	}
	if dict["Test.A"] != "a" || dict["Test.C"] != "c" {
		t.Errorf("healthy properties affected by failing one: %v", dict)
	}
	if dict["Test.B"] != "Error: access denied" {
		t.Errorf("Test.B: got %q", dict["Test.B"])
	}
}

func TestProviderOverwritesExistingKeys(t *testing.T) {
	p := NewProvider("test", []Property{{Name: "K", Get: constant("new")}})
	dict := map[string]any{"K": "old", "Other": 1}
	p.PopulateDictionary(context.Background(), dict)
	if dict["K"] != "new" {
		t.Errorf("K: got %v", dict["K"])
	}
	if dict["Other"] != 1 {
		t.Errorf("unrelated key touched: %v", dict["Other"])
	}
}

func TestProviderGetProperty(t *testing.T) {
	p := NewProvider("test", []Property{{Name: "Test.A", Get: constant("a")}})
	if got := p.GetProperty(context.Background(), "Test.A"); got != "a" {
		t.Errorf("got %q", got)
	}
	got := p.GetProperty(context.Background(), "Test.Missing")
	if !strings.Contains(got, "Test.Missing") {
		t.Errorf("unknown property: got %q", got)
	}
}

func TestTransactionProviderWithAmbientTransaction(t *testing.T) {
	ctx := WithTransaction(context.Background(), Transaction{
		ActivityID:     "act-1",
		ApplicationID:  "billing",
		TransactionID:  "tx-42",
		DirectCaller:   "svc-gateway",
		OriginalCaller: "alice",
	})

	dict := map[string]any{}
	NewTransactionProvider().PopulateDictionary(ctx, dict)

	want := map[string]string{
		PropActivityID:                "act-1",
		PropApplicationID:             "billing",
		PropTransactionID:             "tx-42",
		PropDirectCallerAccountName:   "svc-gateway",
		PropOriginalCallerAccountName: "alice",
	}
	for k, v := range want {
		if dict[k] != v {
			t.Errorf("%s: got %v, want %s", k, dict[k], v)
		}
	}
}

func TestTransactionProviderOutsideTransaction(t *testing.T) {
	p := NewTransactionProvider()
	dict := map[string]any{}
	p.PopulateDictionary(context.Background(), dict)

	if len(dict) != 5 {
		t.Fatalf("expected 5 properties, got %d", len(dict))
	}
	for name, v := range dict {
		s, _ := v.(string)
		if !strings.Contains(s, ErrNoTransaction.Error()) {
			t.Errorf("%s: got %q", name, s)
		}
	}
}

func TestTransactionProviderPartialTransaction(t *testing.T) {
	ctx := WithTransaction(context.Background(), Transaction{TransactionID: "tx-1"})
	p := NewTransactionProvider()

	if got := p.GetProperty(ctx, PropTransactionID); got != "tx-1" {
		t.Errorf("transaction id: got %q", got)
	}
	got := p.GetProperty(ctx, PropActivityID)
	if !strings.Contains(got, "activity id") || !strings.Contains(got, ErrNotEstablished.Error()) {
		t.Errorf("activity id: got %q", got)
	}
}

type flakyUtils struct{ AmbientContext }

func (flakyUtils) DirectCallerAccountName(context.Context) (string, error) {
	return "", errors.New("access denied")
}

func (flakyUtils) OriginalCallerAccountName(context.Context) (string, error) {
	panic("security context torn down")
}

func TestTransactionProviderIsolatesFailingLookups(t *testing.T) {
	ctx := WithTransaction(context.Background(), Transaction{
		ActivityID: "a", ApplicationID: "b", TransactionID: "c",
	})
	p := NewTransactionProviderWith(flakyUtils{}, WithErrorTemplate("Error: %s"))

	dict := map[string]any{}
	p.PopulateDictionary(ctx, dict)

	if dict[PropDirectCallerAccountName] != "Error: access denied" {
		t.Errorf("direct caller: got %v", dict[PropDirectCallerAccountName])
	}
	if s, _ := dict[PropOriginalCallerAccountName].(string); !strings.Contains(s, "security context torn down") {
		t.Errorf("original caller: got %v", dict[PropOriginalCallerAccountName])
	}
	if dict[PropActivityID] != "a" || dict[PropApplicationID] != "b" || dict[PropTransactionID] != "c" {
		t.Errorf("healthy lookups affected: %v", dict)
	}
}

func TestMachineProvider(t *testing.T) {
	idFile := filepath.Join(t.TempDir(), "machine-id")
	if err := os.WriteFile(idFile, []byte("0123456789abcdef\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	orig := machineIDPath
	machineIDPath = idFile
	t.Cleanup(func() { machineIDPath = orig })

	p := NewMachineProvider()
	dict := map[string]any{}
	p.PopulateDictionary(context.Background(), dict)

	for _, name := range p.PropertyNames() {
		if s, _ := dict[name].(string); s == "" {
			t.Errorf("%s: empty", name)
		}
	}
	if dict[PropProcessID] != strconv.Itoa(os.Getpid()) {
		t.Errorf("process id: got %v", dict[PropProcessID])
	}
	if dict[PropMachineID] != "0123456789abcdef" {
		t.Errorf("machine id: got %v", dict[PropMachineID])
	}
}

func TestMachineProviderMissingMachineID(t *testing.T) {
	orig := machineIDPath
	machineIDPath = filepath.Join(t.TempDir(), "absent")
	t.Cleanup(func() { machineIDPath = orig })

	got := NewMachineProvider().GetProperty(context.Background(), PropMachineID)
	if !strings.HasPrefix(got, "error reading extended property: read machine id") {
		t.Errorf("got %q", got)
	}
}

func TestMachineProviderSamplesOnce(t *testing.T) {
	idFile := filepath.Join(t.TempDir(), "machine-id")
	if err := os.WriteFile(idFile, []byte("first\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	orig := machineIDPath
	machineIDPath = idFile
	t.Cleanup(func() { machineIDPath = orig })

	p := NewMachineProvider()
	if got := p.GetProperty(context.Background(), PropMachineID); got != "first" {
		t.Fatalf("machine id: got %q", got)
	}
	if err := os.WriteFile(idFile, []byte("second\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := p.GetProperty(context.Background(), PropMachineID); got != "first" {
		t.Errorf("machine id re-read: got %q", got)
	}
}

func TestSampleOnce(t *testing.T) {
	calls := 0
	get := sampleOnce(func(ctx context.Context) (string, error) {
		calls++
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "unit.service", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 3; i++ {
		v, err := get(ctx)
		if err != nil || v != "unit.service" {
			t.Fatalf("got %q, %v", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("lookup ran %d times, want 1", calls)
	}

	boom := sampleOnce(func(context.Context) (string, error) { panic("bus exploded") })
	for i := 0; i < 2; i++ {
		if got := SafeValue(context.Background(), DefaultErrorTemplate, boom); !strings.Contains(got, "bus exploded") {
			t.Errorf("got %q", got)
		}
	}
}

func TestStackProvider(t *testing.T) {
	p := NewStackProvider(0)
	dict := map[string]any{}
	p.PopulateDictionary(context.Background(), dict)

	s, _ := dict[PropStackTrace].(string)
	if !strings.Contains(s, "TestStackProvider") {
		t.Errorf("stack does not include the caller:\n%s", s)
	}
}

type panickingProvider struct{}

func (panickingProvider) Name() string { return "broken" }

func (panickingProvider) PopulateDictionary(context.Context, map[string]any) {
	panic("contract violated")
}

func TestRegistryOrderAndIsolation(t *testing.T) {
	first := NewProvider("first", []Property{{Name: "Shared", Get: constant("first")}, {Name: "First.Only", Get: constant("1")}})
	second := NewProvider("second", []Property{{Name: "Shared", Get: constant("second")}})

	r := NewRegistry(first)
	r.Add(panickingProvider{})
	r.Add(second)

	if r.Len() != 3 {
		t.Fatalf("expected 3 providers, got %d", r.Len())
	}

	entry := &core.LogEntry{Message: "hello"}
	r.EnrichEntry(context.Background(), entry)

	if entry.Properties["Shared"] != "second" {
		t.Errorf("last registered provider should win, got %v", entry.Properties["Shared"])
	}
	if entry.Properties["First.Only"] != "1" {
		t.Errorf("first provider output missing: %v", entry.Properties)
	}
	if s, _ := entry.Properties["broken.Error"].(string); !strings.Contains(s, "contract violated") {
		t.Errorf("panicking provider not recorded: %v", entry.Properties)
	}
}

func TestRegistrySurvivesNilProviders(t *testing.T) {
	var typedNil *Provider
	r := NewRegistry(nil)
	r.Add(nil)
	r.Add(typedNil)
	r.Add(NewProvider("after", []Property{{Name: "After.Value", Get: constant("ok")}}))

	if r.Len() != 2 {
		t.Fatalf("expected untyped nil providers to be skipped, got %d providers", r.Len())
	}

	entry := &core.LogEntry{Message: "hello"}
	r.EnrichEntry(context.Background(), entry)

	if entry.Properties["After.Value"] != "ok" {
		t.Errorf("provider after a nil provider did not run: %v", entry.Properties)
	}
	if _, ok := entry.Properties["provider.Error"]; !ok {
		t.Errorf("typed nil provider failure not recorded: %v", entry.Properties)
	}
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	entry := &core.LogEntry{Message: "hello"}
	r.EnrichEntry(context.Background(), entry)
	if entry.Properties != nil {
		t.Errorf("nil registry touched entry: %v", entry.Properties)
	}
	if r.Len() != 0 {
		t.Errorf("nil registry length: %d", r.Len())
	}
}
