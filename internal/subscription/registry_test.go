package subscription

import (
	"testing"
	"time"

	"github.com/rickgao/livedata/internal/model"
)

func TestRegistry_ReconcileFromEmpty(t *testing.T) {
	r := newRegistry()
	toAdd, toRemove := r.reconcile(tickers("A", "B", "A"), testStart)

	if got := sortedNames(toAdd); len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Errorf("toAdd = %v, want [A B]", got)
	}
	if len(toRemove) != 0 {
		t.Errorf("toRemove = %v, want empty", toRemove)
	}
	if len(r.pending) != 2 {
		t.Errorf("pending = %d, want 2", len(r.pending))
	}
	if ts := r.pending[tickers("A")[0]]; !ts.Equal(testStart) {
		t.Errorf("pending[A] = %v, want %v", ts, testStart)
	}
}

func TestRegistry_ReconcileRemovesUnrequired(t *testing.T) {
	r := newRegistry()
	a, b, c := tickers("A")[0], tickers("B")[0], tickers("C")[0]
	r.pending[a] = testStart
	r.active[b] = testStart
	r.failed[c] = testStart

	later := testStart.Add(time.Minute)
	toAdd, toRemove := r.reconcile(nil, later)

	if len(toAdd) != 0 {
		t.Errorf("toAdd = %v, want empty", toAdd)
	}
	if got := sortedNames(toRemove); len(got) != 3 {
		t.Errorf("toRemove = %v, want [A B C]", got)
	}
	for _, k := range []model.Key{a, b, c} {
		if s := r.stateOf(k); s != StateRemoved {
			t.Errorf("stateOf(%s) = %q, want %q", k, s, StateRemoved)
		}
		if ts := r.removed[k]; !ts.Equal(later) {
			t.Errorf("removed[%s] = %v, want %v", k, ts, later)
		}
	}
}

func TestRegistry_ReconcileReaddsRemoved(t *testing.T) {
	r := newRegistry()
	a := tickers("A")[0]
	r.removed[a] = testStart

	toAdd, _ := r.reconcile(tickers("A"), testStart.Add(time.Second))
	if len(toAdd) != 1 {
		t.Fatalf("toAdd = %v, want [A]", toAdd)
	}
	if _, ok := r.removed[a]; ok {
		t.Error("removed marker not cleared")
	}
	if s := r.stateOf(a); s != StatePending {
		t.Errorf("stateOf(A) = %q, want %q", s, StatePending)
	}
}

func TestRegistry_ReconcileKeepsFailed(t *testing.T) {
	r := newRegistry()
	a := tickers("A")[0]
	r.failed[a] = testStart

	toAdd, toRemove := r.reconcile(tickers("A"), testStart.Add(time.Second))
	if len(toAdd) != 0 || len(toRemove) != 0 {
		t.Errorf("reconcile() = (%v, %v), want no changes", toAdd, toRemove)
	}
	if s := r.stateOf(a); s != StateFailed {
		t.Errorf("stateOf(A) = %q, want %q", s, StateFailed)
	}
}

func TestRegistry_Transitions(t *testing.T) {
	a := tickers("A")[0]

	tests := []struct {
		name  string
		setup State
		apply func(r *registry)
		want  State
	}{
		{"success from pending", StatePending, func(r *registry) { r.recordSuccess([]model.Key{a}, testStart) }, StateActive},
		{"success from failed ignored", StateFailed, func(r *registry) { r.recordSuccess([]model.Key{a}, testStart) }, StateFailed},
		{"success from removed ignored", StateRemoved, func(r *registry) { r.recordSuccess([]model.Key{a}, testStart) }, StateRemoved},
		{"success unseen ignored", stateUnseen, func(r *registry) { r.recordSuccess([]model.Key{a}, testStart) }, stateUnseen},
		{"failure from pending", StatePending, func(r *registry) { r.recordFailure(a, "x", testStart) }, StateFailed},
		{"failure from active", StateActive, func(r *registry) { r.recordFailure(a, "x", testStart) }, StateFailed},
		{"failure from removed ignored", StateRemoved, func(r *registry) { r.recordFailure(a, "x", testStart) }, StateRemoved},
		{"failure unseen ignored", stateUnseen, func(r *registry) { r.recordFailure(a, "x", testStart) }, stateUnseen},
		{"remove from failed", StateFailed, func(r *registry) { r.remove([]model.Key{a}, testStart, "") }, StateRemoved},
		{"remove unseen ignored", stateUnseen, func(r *registry) { r.remove([]model.Key{a}, testStart, "") }, stateUnseen},
		{"abandon from pending", StatePending, func(r *registry) { r.abandon([]model.Key{a}, testStart) }, StateFailed},
		{"abandon from active ignored", StateActive, func(r *registry) { r.abandon([]model.Key{a}, testStart) }, StateActive},
		{"retry all failed", StateFailed, func(r *registry) { r.retryAllFailed(testStart) }, StatePending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRegistry()
			if tt.setup != stateUnseen {
				r.mapFor(tt.setup)[a] = testStart.Add(-time.Hour)
			}
			tt.apply(r)
			if got := r.stateOf(a); got != tt.want {
				t.Errorf("stateOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRegistry_RemoveIdempotent(t *testing.T) {
	r := newRegistry()
	a := tickers("A")[0]
	r.removed[a] = testStart

	r.remove([]model.Key{a}, testStart.Add(time.Hour), "")
	if ts := r.removed[a]; !ts.Equal(testStart) {
		t.Errorf("removed[A] = %v, want unchanged %v", ts, testStart)
	}
}

func TestRegistry_AgedPending(t *testing.T) {
	r := newRegistry()
	old, mid, fresh := tickers("OLD")[0], tickers("MID")[0], tickers("FRESH")[0]
	now := testStart.Add(time.Hour)
	r.pending[old] = now.Add(-20 * time.Minute)
	r.pending[mid] = now.Add(-7 * time.Minute)
	r.pending[fresh] = now.Add(-time.Minute)

	toAbandon, toRetry := r.agedPending(now.Add(-15*time.Minute), now.Add(-5*time.Minute))
	if got := sortedNames(toAbandon); len(got) != 1 || got[0] != "OLD" {
		t.Errorf("toAbandon = %v, want [OLD]", got)
	}
	if got := sortedNames(toRetry); len(got) != 1 || got[0] != "MID" {
		t.Errorf("toRetry = %v, want [MID]", got)
	}
}

func TestRegistry_Search(t *testing.T) {
	r := newRegistry()
	r.pending[model.NewKey(model.ChannelTicker, "PRES-24")] = testStart
	r.active[model.NewKey(model.ChannelTrade, "PRES-24")] = testStart
	r.failed[model.NewKey(model.ChannelTicker, "FED-RATE")] = testStart
	r.removed[model.NewKey(model.ChannelTicker, "PRES-20")] = testStart

	tests := []struct {
		substr string
		want   int
	}{
		{"", 4},
		{"PRES", 3},
		{"trade:", 1},
		{"FED", 1},
		{"NOPE", 0},
	}
	for _, tt := range tests {
		if got := r.search(tt.substr); len(got) != tt.want {
			t.Errorf("search(%q) = %d entries, want %d", tt.substr, len(got), tt.want)
		}
	}

	got := r.search("FED")
	st, ok := got["ticker:FED-RATE"]
	if !ok || st.State != StateFailed {
		t.Errorf("search(FED) = %v, want ticker:FED-RATE FAILED", got)
	}
}

func TestRegistry_OldestPending(t *testing.T) {
	r := newRegistry()
	for i, name := range []string{"C", "A", "B", "D"} {
		r.pending[tickers(name)[0]] = testStart.Add(time.Duration(i) * time.Second)
	}

	entries := r.oldestPending(2)
	if len(entries) != 2 {
		t.Fatalf("oldestPending(2) = %d entries, want 2", len(entries))
	}
	if entries[0].Key.Ticker != "C" || entries[1].Key.Ticker != "A" {
		t.Errorf("oldestPending(2) = [%s %s], want [C A]", entries[0].Key.Ticker, entries[1].Key.Ticker)
	}
}

func TestRegistry_Recording(t *testing.T) {
	r := newRegistry()
	r.reconcile(tickers("A"), testStart)
	if got := r.drain(); got != nil {
		t.Errorf("drain() without recording = %v, want nil", got)
	}

	r.recording = true
	r.recordSuccess(tickers("A"), testStart)
	got := r.drain()
	if len(got) != 1 {
		t.Fatalf("drain() = %d transitions, want 1", len(got))
	}
	if got[0].From != StatePending || got[0].To != StateActive {
		t.Errorf("transition = %s->%s, want PENDING->ACTIVE", got[0].From, got[0].To)
	}
	if again := r.drain(); again != nil {
		t.Errorf("second drain() = %v, want nil", again)
	}
}
