package monitor

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

type recorder struct {
	got [][]byte
}

func (r *recorder) callback(data []byte) {
	r.got = append(r.got, append([]byte(nil), data...))
}

func planRanges(plan []Read) []Range {
	out := make([]Range, len(plan))
	for i, rd := range plan {
		out[i] = rd.Range
	}
	return out
}

func mustRegister(t *testing.T, r *Registry, ns string, address, size int, cb Callback) Handle {
	t.Helper()
	h, err := r.Register(ns, address, size, cb)
	if err != nil {
		t.Fatalf("Register(%s, %d, %d): %v", ns, address, size, err)
	}
	return h
}

func TestPlanCoalescesOverlappingRanges(t *testing.T) {
	r := NewRegistry()
	var a, b, c recorder
	mustRegister(t, r, "watch", 0, 4, a.callback)
	mustRegister(t, r, "watch", 2, 4, b.callback)
	mustRegister(t, r, "memory", 10, 2, c.callback)

	plan := r.Plan(0)
	want := []Range{{Address: 0, Size: 6}, {Address: 10, Size: 2}}
	if diff := cmp.Diff(want, planRanges(plan)); diff != "" {
		t.Fatalf("plan mismatch (-want +got):\n%s", diff)
	}

	memory := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	for _, rd := range plan {
		rd.Dispatch(memory[rd.Address:rd.End()])
	}

	if diff := cmp.Diff([][]byte{{0, 1, 2, 3}}, a.got); diff != "" {
		t.Errorf("callback a (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]byte{{2, 3, 4, 5}}, b.got); diff != "" {
		t.Errorf("callback b (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]byte{{10, 11}}, c.got); diff != "" {
		t.Errorf("callback c (-want +got):\n%s", diff)
	}
}

func TestPlanMergesAdjacentAndIdenticalRanges(t *testing.T) {
	r := NewRegistry()
	noop := func([]byte) {}
	mustRegister(t, r, "watch", 4, 4, noop)
	mustRegister(t, r, "watch", 4, 4, noop)
	mustRegister(t, r, "code-monitor", 4, 4, noop)
	mustRegister(t, r, "watch", 8, 2, noop)

	plan := r.Plan(0)
	if diff := cmp.Diff([]Range{{Address: 4, Size: 6}}, planRanges(plan)); diff != "" {
		t.Fatalf("plan mismatch (-want +got):\n%s", diff)
	}
	if plan[0].Targets() != 4 {
		t.Errorf("targets = %d, want 4", plan[0].Targets())
	}
}

func TestPlanRespectsMaxSpan(t *testing.T) {
	r := NewRegistry()
	noop := func([]byte) {}
	mustRegister(t, r, "watch", 0, 4, noop)
	mustRegister(t, r, "watch", 4, 4, noop)
	mustRegister(t, r, "watch", 8, 4, noop)
	mustRegister(t, r, "watch", 100, 20, noop)

	want := []Range{{Address: 0, Size: 8}, {Address: 8, Size: 4}, {Address: 100, Size: 20}}
	if diff := cmp.Diff(want, planRanges(r.Plan(8))); diff != "" {
		t.Fatalf("plan mismatch (-want +got):\n%s", diff)
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	var rec recorder
	h := mustRegister(t, r, "watch", 0, 2, rec.callback)
	other := mustRegister(t, r, "watch", 0, 2, rec.callback)

	if !r.Unregister(h) {
		t.Fatal("first Unregister returned false")
	}
	if r.Unregister(h) {
		t.Fatal("second Unregister returned true")
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1 (other registration must survive)", r.Len())
	}
	if r.Unregister(Handle{}) {
		t.Fatal("zero handle unregistered")
	}
	r.Unregister(other)
	if r.Len() != 0 || len(r.Ranges("watch")) != 0 {
		t.Fatal("registry not empty after removing all handles")
	}
}

func TestUnregisteredCallbackSkippedByEarlierPlan(t *testing.T) {
	r := NewRegistry()
	var kept, dropped recorder
	mustRegister(t, r, "watch", 0, 1, kept.callback)
	h := mustRegister(t, r, "watch", 0, 1, dropped.callback)

	plan := r.Plan(0)
	r.Unregister(h)
	plan[0].Dispatch([]byte{7})

	if len(dropped.got) != 0 {
		t.Fatalf("unregistered callback invoked: %v", dropped.got)
	}
	if len(kept.got) != 1 {
		t.Fatalf("kept callback invoked %d times", len(kept.got))
	}
}

func TestUnregisterAll(t *testing.T) {
	r := NewRegistry()
	var w, m recorder
	mustRegister(t, r, "watch", 0, 2, w.callback)
	mustRegister(t, r, "watch", 6, 2, w.callback)
	mustRegister(t, r, "memory", 0, 8, m.callback)

	plan := r.Plan(0)
	if n := r.UnregisterAll("watch"); n != 2 {
		t.Fatalf("UnregisterAll removed %d, want 2", n)
	}
	for _, rd := range plan {
		rd.Dispatch(make([]byte, rd.Size))
	}

	if len(w.got) != 0 {
		t.Errorf("watch callbacks ran after UnregisterAll: %d", len(w.got))
	}
	if len(m.got) != 1 {
		t.Errorf("memory callback ran %d times, want 1", len(m.got))
	}
	if diff := cmp.Diff([]Range{{Address: 0, Size: 8}}, planRanges(r.Plan(0))); diff != "" {
		t.Errorf("plan after UnregisterAll (-want +got):\n%s", diff)
	}
}

func TestDispatchShortData(t *testing.T) {
	r := NewRegistry()
	var head, tail recorder
	mustRegister(t, r, "watch", 0, 4, head.callback)
	mustRegister(t, r, "watch", 4, 4, tail.callback)

	plan := r.Plan(0)
	plan[0].Dispatch([]byte{1, 2, 3})

	if diff := cmp.Diff([][]byte{{1, 2, 3}}, head.got); diff != "" {
		t.Errorf("head (-want +got):\n%s", diff)
	}
	if len(tail.got) != 0 {
		t.Errorf("tail received bytes outside the read: %v", tail.got)
	}
}

func TestDispatchWindowCannotGrow(t *testing.T) {
	r := NewRegistry()
	var grown []byte
	mustRegister(t, r, "watch", 0, 2, func(data []byte) {
		grown = append(data, 0xEE)
	})
	mustRegister(t, r, "watch", 2, 2, func([]byte) {})

	buf := []byte{1, 2, 3, 4}
	r.Plan(0)[0].Dispatch(buf)
	if buf[2] != 3 {
		t.Fatalf("callback overwrote neighbouring bytes: %v", buf)
	}
	if len(grown) != 3 {
		t.Fatalf("unexpected append result %v", grown)
	}
}

func TestRegisterRejectsBadArguments(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register("watch", -1, 2, func([]byte) {}); err == nil {
		t.Error("negative address accepted")
	}
	if _, err := r.Register("watch", 0, 0, func([]byte) {}); err == nil {
		t.Error("zero size accepted")
	}
	if _, err := r.Register("watch", 0, 1, nil); err == nil {
		t.Error("nil callback accepted")
	}
}
