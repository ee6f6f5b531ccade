package tui

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/go-cmp/cmp"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/symbols"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/watch"
)

var resolved = &symbols.ResolvedAddress{Tag: "f32", Absolute: 104, Size: 4}

func TestModelAppliesUpdates(t *testing.T) {
	m := NewModel("demo", []watch.Entry{
		{Name: "Motor1", Value: "-", Resolved: resolved},
		{Name: "Start", Value: "OFF", Resolved: resolved},
	}, nil)

	updated, _ := m.Update(entryMsg(watch.Entry{Name: "Motor1", Value: "1.000", Resolved: resolved}))
	m2 := updated.(Model)
	updated, _ = m2.Update(entryMsg(watch.Entry{Name: "Count", Value: "7", Resolved: resolved}))
	m3 := updated.(Model)

	var got []string
	for _, e := range m3.Entries() {
		got = append(got, e.Name+"="+e.Value)
	}
	if diff := cmp.Diff([]string{"Motor1=1.000", "Start=OFF", "Count=7"}, got); diff != "" {
		t.Errorf("rows (-want +got):\n%s", diff)
	}

	// the earlier model is untouched
	if m.Entries()[0].Value != "-" {
		t.Error("update mutated previous model")
	}
}

func TestModelKeys(t *testing.T) {
	m := NewModel("demo", []watch.Entry{{Name: "A"}, {Name: "B"}}, nil)

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	if got := updated.(Model).cursor; got != 1 {
		t.Errorf("cursor = %d, want 1", got)
	}
	updated, _ = updated.Update(tea.KeyMsg{Type: tea.KeyDown})
	if got := updated.(Model).cursor; got != 1 {
		t.Errorf("cursor past end = %d", got)
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q does not quit")
	}
}

func TestModelView(t *testing.T) {
	m := NewModel("Workspace demo", nil, nil)
	if out := m.View(); !strings.Contains(out, "Watch list is empty") {
		t.Errorf("empty view:\n%s", out)
	}

	m = NewModel("Workspace demo", []watch.Entry{
		{Name: "Motor1", Type: "real", Value: "1.000", Resolved: resolved},
		{Name: "Ghost", Value: "-"},
	}, nil)
	updated, _ := m.Update(sourceErrMsg{errors.New("connection reset")})
	out := updated.View()
	for _, want := range []string{"Workspace demo", "Motor1", "1.000", "Ghost", "stream ended: connection reset"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q:\n%s", want, out)
		}
	}
}

func TestInitFollowsSource(t *testing.T) {
	calls := 0
	src := func() (watch.Entry, error) {
		calls++
		return watch.Entry{Name: "Motor1", Value: "2.000"}, nil
	}
	m := NewModel("demo", nil, src)

	msg := m.Init()()
	if e, ok := msg.(entryMsg); !ok || e.Value != "2.000" {
		t.Fatalf("Init message = %#v", msg)
	}
	if _, cmd := m.Update(msg); cmd == nil {
		t.Error("model stopped listening after an update")
	}
	if calls != 1 {
		t.Errorf("source calls = %d", calls)
	}
}

func TestPrintLines(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	updates := []watch.Entry{{Name: "Motor1", Value: "2.000", UpdatedAt: at, Stale: true}}
	src := func() (watch.Entry, error) {
		if len(updates) == 0 {
			return watch.Entry{}, io.EOF
		}
		e := updates[0]
		updates = updates[1:]
		return e, nil
	}

	var buf bytes.Buffer
	err := PrintLines(&buf, []watch.Entry{{Name: "Start", Value: "ON", UpdatedAt: at}}, src)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v", err)
	}
	want := "2026-03-01T12:00:00Z Start=ON\n2026-03-01T12:00:00Z Motor1=2.000 (stale)\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("output (-want +got):\n%s", diff)
	}
}
