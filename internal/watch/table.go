// Package watch owns the user's watch list: which names are watched, how they
// resolve to device memory, and the last value decoded for each.
package watch

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/codec"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/monitor"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/symbols"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/types"
	"go.uber.org/zap"
)

const (
	// Namespace is the registry namespace of watch subscriptions.
	Namespace = "watch"
	// Placeholder is displayed until a value has been read.
	Placeholder = "-"
)

var (
	ErrNotFound    = errors.New("watch entry not found")
	ErrDuplicate   = errors.New("watch entry already exists")
	ErrEmptyName   = errors.New("watch entry name is empty")
	ErrInvalidType = errors.New("invalid type")
	ErrUnresolved  = errors.New("symbol cannot be resolved")
)

type Registrar interface {
	Register(namespace string, address, size int, cb monitor.Callback) (monitor.Handle, error)
	Unregister(h monitor.Handle) bool
}

type Resolver interface {
	ResolveAs(name string, tag types.TypeTag) (symbols.ResolvedAddress, bool)
}

// Entry is a read-only snapshot of one watch row.
type Entry struct {
	Name       string                   `json:"name"`
	Type       types.TypeTag            `json:"type"`
	Value      string                   `json:"value"`
	Resolved   *symbols.ResolvedAddress `json:"resolved,omitempty"`
	Registered bool                     `json:"registered"`
	Stale      bool                     `json:"stale"`
	UpdatedAt  time.Time                `json:"updated_at,omitzero"`
}

type row struct {
	name     string
	typ      types.TypeTag
	value    string
	resolved *symbols.ResolvedAddress
	handle   monitor.Handle
	// gen changes on every re-registration; callbacks carrying an older gen
	// are ignored.
	gen       uint64
	removed   bool
	live      bool
	updatedAt time.Time
}

// Table is the single owner of the watch list. All mutation goes through its
// methods; callers only ever see Entry snapshots.
type Table struct {
	mu        sync.Mutex
	rows      []*row
	registrar Registrar
	resolver  Resolver
	order     types.Endianness
	stale     bool
	nextGen   uint64
	listeners []func(Entry)
	logger    *zap.Logger
}

func NewTable(registrar Registrar, resolver Resolver, logger *zap.Logger) *Table {
	return &Table{
		registrar: registrar,
		resolver:  resolver,
		order:     types.LittleEndian,
		logger:    logger,
	}
}

// OnUpdate registers fn to receive every value change. fn is called without
// the table lock held but inside the poll dispatch, so it must not block and
// must not stop monitoring or disconnect synchronously.
func (t *Table) OnUpdate(fn func(Entry)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Add appends a watch row. A name that is already watched is ignored and
// Add reports false.
func (t *Table) Add(name string, tag types.TypeTag) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, ErrEmptyName
	}
	if tag != "" && !tag.Valid() {
		return false, fmt.Errorf("%q: %w", tag, ErrInvalidType)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.find(name) >= 0 {
		return false, nil
	}

	r := &row{name: name, typ: tag.Canonical(), value: Placeholder}
	t.rows = append(t.rows, r)
	t.attach(r)

	t.logger.Debug("Watch entry added",
		zap.String("name", name),
		zap.String("type", string(r.typ)),
		zap.Bool("resolved", r.resolved != nil))

	return true, nil
}

func (t *Table) Remove(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.find(name)
	if i < 0 {
		return false
	}
	t.detach(t.rows[i])
	t.rows[i].removed = true
	t.rows = append(t.rows[:i], t.rows[i+1:]...)
	return true
}

// Rename moves the row to newName and re-resolves it. The value is kept when
// the new name resolves to the same memory.
func (t *Table) Rename(oldName, newName string) error {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return ErrEmptyName
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.find(oldName)
	if i < 0 {
		return fmt.Errorf("%q: %w", oldName, ErrNotFound)
	}
	if newName == oldName {
		return nil
	}
	if t.find(newName) >= 0 {
		return fmt.Errorf("%q: %w", newName, ErrDuplicate)
	}

	r := t.rows[i]
	previous := r.resolved
	t.detach(r)
	r.name = newName
	t.attach(r)
	if !sameAddress(previous, r.resolved) {
		t.reset(r)
	}
	return nil
}

// FollowSymbolRename applies a project-wide symbol rename: the row watching
// oldName moves to newName and resolver replaces the symbol table in one
// step, so the row keeps its value.
func (t *Table) FollowSymbolRename(oldName, newName string, resolver Resolver) {
	t.mu.Lock()
	t.resolver = resolver
	if i := t.find(oldName); i >= 0 && t.find(newName) < 0 {
		t.rows[i].name = newName
	}
	t.mu.Unlock()
	t.Refresh()
}

// ChangeType re-resolves the row under tag. The previous value no longer
// applies and is replaced by the placeholder.
func (t *Table) ChangeType(name string, tag types.TypeTag) error {
	if tag != "" && !tag.Valid() {
		return fmt.Errorf("%q: %w", tag, ErrInvalidType)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.find(name)
	if i < 0 {
		return fmt.Errorf("%q: %w", name, ErrNotFound)
	}

	r := t.rows[i]
	t.detach(r)
	r.typ = tag.Canonical()
	t.reset(r)
	t.attach(r)
	return nil
}

// Clear removes every row, unregistering each one.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearLocked()
}

// SetEntries replaces the list, e.g. when a project is loaded.
func (t *Table) SetEntries(specs []types.WatchSpec) error {
	for _, s := range specs {
		if s.Type != "" && !s.Type.Valid() {
			return fmt.Errorf("%s: %q: %w", s.Name, s.Type, ErrInvalidType)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.clearLocked()
	for _, s := range specs {
		name := strings.TrimSpace(s.Name)
		if name == "" || t.find(name) >= 0 {
			continue
		}
		r := &row{name: name, typ: s.Type.Canonical(), value: Placeholder}
		t.rows = append(t.rows, r)
		t.attach(r)
	}
	return nil
}

// Specs returns the persisted form of the list.
func (t *Table) Specs() []types.WatchSpec {
	t.mu.Lock()
	defer t.mu.Unlock()

	specs := make([]types.WatchSpec, len(t.rows))
	for i, r := range t.rows {
		specs[i] = types.WatchSpec{Name: r.name, Type: r.typ}
	}
	return specs
}

func (t *Table) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, len(t.rows))
	for i, r := range t.rows {
		out[i] = t.snapshot(r)
	}
	return out
}

func (t *Table) Get(name string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.find(name)
	if i < 0 {
		return Entry{}, false
	}
	return t.snapshot(t.rows[i]), true
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rows)
}

// SetResolver swaps the symbol table and re-resolves every row.
func (t *Table) SetResolver(resolver Resolver) {
	t.mu.Lock()
	t.resolver = resolver
	t.mu.Unlock()
	t.Refresh()
}

// Refresh re-resolves every row against the current resolver. Rows whose
// address changed lose their value.
func (t *Table) Refresh() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, r := range t.rows {
		previous := r.resolved
		t.detach(r)
		t.attach(r)
		if !sameAddress(previous, r.resolved) {
			t.reset(r)
		}
	}
}

// SetOrder sets the byte order used to decode and encode values.
func (t *Table) SetOrder(order types.Endianness) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.order = order
}

func (t *Table) Order() types.Endianness {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.order
}

// SetStale marks every value as last-known rather than live. Values are kept.
func (t *Table) SetStale(stale bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stale = stale
}

// Restore shows cached values for rows that have not been read yet.
func (t *Table) Restore(values map[string]string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, r := range t.rows {
		v, ok := values[r.name]
		if !ok || r.live || r.resolved == nil || r.value != Placeholder {
			continue
		}
		r.value = v
		n++
	}
	return n
}

func (t *Table) find(name string) int {
	for i, r := range t.rows {
		if r.name == name {
			return i
		}
	}
	return -1
}

func (t *Table) clearLocked() {
	for _, r := range t.rows {
		t.detach(r)
		r.removed = true
	}
	t.rows = nil
}

// attach resolves r and registers it when resolvable. Must hold mu.
func (t *Table) attach(r *row) {
	r.resolved = nil
	if t.resolver == nil {
		return
	}
	addr, ok := t.resolver.ResolveAs(r.name, r.typ)
	if !ok {
		return
	}
	r.resolved = &addr

	t.nextGen++
	gen := t.nextGen
	h, err := t.registrar.Register(Namespace, addr.Absolute, addr.Size, func(data []byte) {
		t.deliver(r, gen, addr, data)
	})
	if err != nil {
		t.logger.Warn("Watch registration failed",
			zap.String("name", r.name),
			zap.Int("address", addr.Absolute),
			zap.Error(err))
		return
	}
	r.handle = h
	r.gen = gen
}

// detach drops r's registration, if any. Must hold mu.
func (t *Table) detach(r *row) {
	if r.handle.Valid() {
		t.registrar.Unregister(r.handle)
	}
	r.handle = monitor.Handle{}
	r.gen = 0
}

func (t *Table) reset(r *row) {
	r.value = Placeholder
	r.live = false
	r.updatedAt = time.Time{}
}

func (t *Table) deliver(r *row, gen uint64, addr symbols.ResolvedAddress, data []byte) {
	t.mu.Lock()
	if r.removed || r.gen != gen {
		t.mu.Unlock()
		return
	}
	value := codec.DecodeResolved(addr, data, t.order).String()
	changed := value != r.value || !r.live
	r.value = value
	r.live = true
	r.updatedAt = time.Now()

	var snap Entry
	var listeners []func(Entry)
	if changed {
		snap = t.snapshot(r)
		listeners = t.listeners
	}
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

func (t *Table) snapshot(r *row) Entry {
	e := Entry{
		Name:       r.name,
		Type:       r.typ,
		Value:      r.value,
		Registered: r.handle.Valid(),
		Stale:      r.value != Placeholder && (t.stale || !r.live),
		UpdatedAt:  r.updatedAt,
	}
	if r.resolved != nil {
		addr := *r.resolved
		e.Resolved = &addr
	}
	return e
}

func sameAddress(a, b *symbols.ResolvedAddress) bool {
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}
