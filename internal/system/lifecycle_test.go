package system

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/config"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/types"
)

func newTestLifecycle(t *testing.T, projectFile string) *LifecycleManager {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	cfg.Project.Path = filepath.Join(dir, projectFile)
	cfg.Project.Watch = false
	cfg.Cache.Path = filepath.Join(dir, "cache.db")
	cfg.Monitor.PollInterval = time.Hour

	lm, err := NewLifecycleManager(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { lm.Shutdown(context.Background()) })
	return lm
}

func demoProject() *types.Project {
	return &types.Project{
		Name: "demo",
		Symbols: []types.Symbol{
			{Name: "Motor1", Location: types.LocationMarker, Address: 0, Type: types.TypeU16},
		},
		Offsets: types.MemoryAreaOffsets{types.LocationMarker: {Offset: 64, Size: 64}},
		Watch:   []types.WatchSpec{{Name: "Motor1"}},
	}
}

func TestLifecycleStartsWithEmptyProject(t *testing.T) {
	lm := newTestLifecycle(t, "missing.yaml")

	status := lm.GetCurrentStatus()
	if status.Project != "demo" || status.WatchEntries != 0 {
		t.Fatalf("status = %+v", status)
	}
	if status.State != StateInitializing.String() {
		t.Errorf("state = %s", status.State)
	}
}

func TestLifecycleSaveAndReload(t *testing.T) {
	lm := newTestLifecycle(t, "demo.yaml")
	ctx := context.Background()

	if err := lm.ReplaceProject(demoProject()); err != nil {
		t.Fatal(err)
	}
	if lm.WatchTable().Len() != 1 {
		t.Fatalf("watch entries = %d", lm.WatchTable().Len())
	}
	if err := lm.SaveProject(ctx); err != nil {
		t.Fatal(err)
	}

	if res := lm.Workspace().RenameSymbol("Motor1", "Pump1"); !res.Success {
		t.Fatalf("rename: %s", res.Message)
	}
	if _, ok := lm.WatchTable().Get("Pump1"); !ok {
		t.Fatal("watch entry did not follow the rename")
	}

	if err := lm.ReloadProject(ctx); err != nil {
		t.Fatal(err)
	}
	want := []types.WatchSpec{{Name: "Motor1"}}
	if diff := cmp.Diff(want, lm.WatchTable().Specs()); diff != "" {
		t.Errorf("watch after reload (-want +got):\n%s", diff)
	}
}

func TestLifecycleRejectsInvalidProject(t *testing.T) {
	lm := newTestLifecycle(t, "demo.yaml")

	p := demoProject()
	p.Symbols = append(p.Symbols, p.Symbols[0])
	if err := lm.ReplaceProject(p); err == nil {
		t.Fatal("duplicate symbols accepted")
	}
	if lm.WatchTable().Len() != 0 {
		t.Error("rejected project reached the watch table")
	}
}

func TestLifecycleShutdownWithoutStart(t *testing.T) {
	lm := newTestLifecycle(t, "demo.yaml")

	if err := lm.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-lm.Done():
	default:
		t.Fatal("Done not closed")
	}
	if lm.State() != StateStopped {
		t.Errorf("state = %s", lm.State())
	}
}

func TestValidateTransition(t *testing.T) {
	if err := ValidateTransition(StateRunning, StateStopping); err != nil {
		t.Error(err)
	}
	if err := ValidateTransition(StateStopped, StateRunning); err == nil {
		t.Error("stopped -> running accepted")
	}
}
