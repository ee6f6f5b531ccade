// Package monitor polls device memory on behalf of independent subscribers.
package monitor

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Callback receives exactly the bytes of the range it was registered for.
// It runs inside the poller's dispatch: it may change registrations, but it
// must not stop the poller on its own goroutine, since Stop waits for
// dispatch to finish. Hand such calls to another goroutine.
type Callback func(data []byte)

// Range is a half-open byte interval [Address, Address+Size).
type Range struct {
	Address int `json:"address"`
	Size    int `json:"size"`
}

func (r Range) End() int { return r.Address + r.Size }

// Handle identifies one registration. The zero Handle is never issued.
type Handle struct {
	Namespace string
	Range     Range
	id        uint64
}

func (h Handle) Valid() bool { return h.id != 0 }

type subscription struct {
	id   uint64
	cb   Callback
	live atomic.Bool
}

// Registry maps (namespace, range) to the callbacks interested in it.
type Registry struct {
	mu     sync.Mutex
	nextID uint64
	spaces map[string]map[Range][]*subscription
}

func NewRegistry() *Registry {
	return &Registry{
		spaces: make(map[string]map[Range][]*subscription),
	}
}

func (r *Registry) Register(namespace string, address, size int, cb Callback) (Handle, error) {
	if address < 0 || size <= 0 {
		return Handle{}, fmt.Errorf("invalid range [%d,+%d)", address, size)
	}
	if cb == nil {
		return Handle{}, fmt.Errorf("nil callback")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	sub := &subscription{id: r.nextID, cb: cb}
	sub.live.Store(true)

	rng := Range{Address: address, Size: size}
	space, ok := r.spaces[namespace]
	if !ok {
		space = make(map[Range][]*subscription)
		r.spaces[namespace] = space
	}
	space[rng] = append(space[rng], sub)

	return Handle{Namespace: namespace, Range: rng, id: sub.id}, nil
}

// Unregister removes the registration behind h. Repeated calls return false.
// Once it returns, the callback is not invoked again, even by a read plan
// built earlier.
func (r *Registry) Unregister(h Handle) bool {
	if !h.Valid() {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	space := r.spaces[h.Namespace]
	subs := space[h.Range]
	for i, sub := range subs {
		if sub.id != h.id {
			continue
		}
		sub.live.Store(false)
		subs = append(subs[:i:i], subs[i+1:]...)
		if len(subs) == 0 {
			delete(space, h.Range)
		} else {
			space[h.Range] = subs
		}
		if len(space) == 0 {
			delete(r.spaces, h.Namespace)
		}
		return true
	}
	return false
}

// UnregisterAll drops every registration in namespace in one step.
func (r *Registry) UnregisterAll(namespace string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, subs := range r.spaces[namespace] {
		for _, sub := range subs {
			sub.live.Store(false)
			removed++
		}
	}
	delete(r.spaces, namespace)
	return removed
}

// Ranges lists the distinct ranges requested by namespace, sorted.
func (r *Registry) Ranges(namespace string) []Range {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Range, 0, len(r.spaces[namespace]))
	for rng := range r.spaces[namespace] {
		out = append(out, rng)
	}
	sortRanges(out)
	return out
}

// Len counts live registrations across all namespaces.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, space := range r.spaces {
		for _, subs := range space {
			n += len(subs)
		}
	}
	return n
}

type target struct {
	rng Range
	sub *subscription
}

// Read is one physical memory read in a plan, plus everyone waiting on it.
type Read struct {
	Range
	targets []target
}

func (rd Read) Targets() int { return len(rd.targets) }

// Dispatch slices data back into each registered window and invokes the
// callbacks that are still registered. Windows that data does not reach are
// given whatever prefix is available, or skipped when nothing is.
func (rd Read) Dispatch(data []byte) int {
	calls := 0
	for _, t := range rd.targets {
		if !t.sub.live.Load() {
			continue
		}
		lo := t.rng.Address - rd.Address
		hi := lo + t.rng.Size
		if lo >= len(data) {
			continue
		}
		if hi > len(data) {
			hi = len(data)
		}
		t.sub.cb(data[lo:hi:hi])
		calls++
	}
	return calls
}

// Plan merges every requested range across all namespaces into the fewest
// reads. Overlapping and adjacent ranges are merged as long as the merged
// read stays within maxSpan bytes (maxSpan <= 0 means unlimited).
// The result is a snapshot: later registrations do not affect it.
func (r *Registry) Plan(maxSpan int) []Read {
	r.mu.Lock()
	var targets []target
	namespaces := make([]string, 0, len(r.spaces))
	for ns := range r.spaces {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)
	for _, ns := range namespaces {
		for rng, subs := range r.spaces[ns] {
			for _, sub := range subs {
				targets = append(targets, target{rng: rng, sub: sub})
			}
		}
	}
	r.mu.Unlock()

	sort.SliceStable(targets, func(i, j int) bool {
		a, b := targets[i], targets[j]
		if a.rng.Address != b.rng.Address {
			return a.rng.Address < b.rng.Address
		}
		if a.rng.Size != b.rng.Size {
			return a.rng.Size < b.rng.Size
		}
		return a.sub.id < b.sub.id
	})

	var plan []Read
	for _, t := range targets {
		if n := len(plan); n > 0 {
			cur := &plan[n-1]
			end := max(cur.End(), t.rng.End())
			if t.rng.Address <= cur.End() && (maxSpan <= 0 || end-cur.Address <= maxSpan) {
				cur.Size = end - cur.Address
				cur.targets = append(cur.targets, t)
				continue
			}
		}
		plan = append(plan, Read{Range: t.rng, targets: []target{t}})
	}
	return plan
}

func sortRanges(rs []Range) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Address != rs[j].Address {
			return rs[i].Address < rs[j].Address
		}
		return rs[i].Size < rs[j].Size
	})
}
