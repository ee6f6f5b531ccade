// Package project holds the open project: its symbol table, memory area
// offsets and persisted watch list.
package project

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/symbols"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/types"
)

// RenameResult mirrors what the editor shows after a symbol rename.
type RenameResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type ChangeKind string

const (
	ChangeReplaced ChangeKind = "replaced"
	ChangeRenamed  ChangeKind = "renamed"
	ChangeOffsets  ChangeKind = "offsets"
)

// Change describes an update of the open project. Project is a copy.
type Change struct {
	Kind    ChangeKind
	OldName string
	NewName string
	Project *types.Project
}

var symbolName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

type Workspace struct {
	mu        sync.RWMutex
	project   *types.Project
	listeners []func(Change)
}

func NewWorkspace(p *types.Project) *Workspace {
	if p == nil {
		p = &types.Project{Name: "untitled"}
	}
	return &Workspace{project: p.Clone()}
}

// OnChange registers fn for every project update. fn runs after the change
// is applied, without the workspace lock held.
func (w *Workspace) OnChange(fn func(Change)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Project returns a copy of the open project.
func (w *Workspace) Project() *types.Project {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.project.Clone()
}

func (w *Workspace) Name() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.project.Name
}

// Resolver builds a resolver over the current symbols and offsets.
func (w *Workspace) Resolver() *symbols.Resolver {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return symbols.NewResolver(w.project.Symbols, w.project.Offsets)
}

func (w *Workspace) Replace(p *types.Project) {
	w.mu.Lock()
	w.project = p.Clone()
	change := Change{Kind: ChangeReplaced, Project: w.project.Clone()}
	listeners := w.listeners
	w.mu.Unlock()

	notify(listeners, change)
}

// SetOffsets replaces the memory area layout, e.g. with the one a device
// reports on connect.
func (w *Workspace) SetOffsets(offsets types.MemoryAreaOffsets) error {
	if err := offsets.Validate(); err != nil {
		return err
	}

	w.mu.Lock()
	w.project.Offsets = make(types.MemoryAreaOffsets, len(offsets))
	for k, v := range offsets {
		w.project.Offsets[k] = v
	}
	change := Change{Kind: ChangeOffsets, Project: w.project.Clone()}
	listeners := w.listeners
	w.mu.Unlock()

	notify(listeners, change)
	return nil
}

// SetWatch stores the watch list that is saved with the project.
func (w *Workspace) SetWatch(specs []types.WatchSpec) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.project.Watch = append([]types.WatchSpec(nil), specs...)
}

// RenameSymbol renames a symbol project-wide, including watch list rows
// that refer to it.
func (w *Workspace) RenameSymbol(oldName, newName string) RenameResult {
	newName = strings.TrimSpace(newName)

	w.mu.Lock()

	idx := -1
	for i, s := range w.project.Symbols {
		if s.Name == oldName {
			idx = i
		}
		if s.Name == newName && newName != oldName {
			w.mu.Unlock()
			return RenameResult{Message: fmt.Sprintf("Symbol '%s' already exists", newName)}
		}
	}
	switch {
	case idx < 0:
		w.mu.Unlock()
		return RenameResult{Message: fmt.Sprintf("Symbol '%s' not found", oldName)}
	case !symbolName.MatchString(newName):
		w.mu.Unlock()
		return RenameResult{Message: fmt.Sprintf("Invalid symbol name '%s'", newName)}
	case newName == oldName:
		w.mu.Unlock()
		return RenameResult{Success: true, Message: "Name unchanged"}
	}

	w.project.Symbols[idx].Name = newName
	for i := range w.project.Watch {
		if w.project.Watch[i].Name == oldName {
			w.project.Watch[i].Name = newName
		}
	}
	change := Change{Kind: ChangeRenamed, OldName: oldName, NewName: newName, Project: w.project.Clone()}
	listeners := w.listeners
	w.mu.Unlock()

	notify(listeners, change)
	return RenameResult{Success: true, Message: fmt.Sprintf("Renamed '%s' to '%s'", oldName, newName)}
}

func notify(listeners []func(Change), c Change) {
	for _, fn := range listeners {
		fn(c)
	}
}
