package subscription

import (
	"sort"
	"strings"
	"time"

	"github.com/rickgao/livedata/internal/model"
)

// registry holds the four subscription maps. A key lives in at most one of
// them; absence means unseen.
//
// registry is not safe for concurrent use. Every method must be called with
// Manager.mu held.
type registry struct {
	pending map[model.Key]time.Time
	active  map[model.Key]time.Time
	failed  map[model.Key]time.Time
	removed map[model.Key]time.Time

	recording bool
	log       []Transition
}

func newRegistry() *registry {
	return &registry{
		pending: make(map[model.Key]time.Time),
		active:  make(map[model.Key]time.Time),
		failed:  make(map[model.Key]time.Time),
		removed: make(map[model.Key]time.Time),
	}
}

func (r *registry) mapFor(s State) map[model.Key]time.Time {
	switch s {
	case StatePending:
		return r.pending
	case StateActive:
		return r.active
	case StateFailed:
		return r.failed
	case StateRemoved:
		return r.removed
	}
	return nil
}

// stateOf returns the state of key, or stateUnseen.
func (r *registry) stateOf(key model.Key) State {
	for _, s := range []State{StatePending, StateActive, StateFailed, StateRemoved} {
		if _, ok := r.mapFor(s)[key]; ok {
			return s
		}
	}
	return stateUnseen
}

// isCurrent reports whether key is pending, active or failed.
func (r *registry) isCurrent(key model.Key) bool {
	if _, ok := r.pending[key]; ok {
		return true
	}
	if _, ok := r.active[key]; ok {
		return true
	}
	_, ok := r.failed[key]
	return ok
}

// move transitions key from one state to another, stamping it with at.
func (r *registry) move(key model.Key, from, to State, at time.Time, reason string) {
	if from != stateUnseen {
		delete(r.mapFor(from), key)
	}
	r.mapFor(to)[key] = at
	if r.recording {
		r.log = append(r.log, Transition{Key: key, From: from, To: to, At: at, Reason: reason})
	}
}

// reconcile diffs required against the current set and applies the result:
// keys no longer required go to removed, newly required keys go to pending.
func (r *registry) reconcile(required []model.Key, now time.Time) (toAdd, toRemove []model.Key) {
	want := make(map[model.Key]struct{}, len(required))
	for _, k := range required {
		if _, dup := want[k]; dup {
			continue
		}
		want[k] = struct{}{}
		if !r.isCurrent(k) {
			toAdd = append(toAdd, k)
		}
	}

	for _, m := range []map[model.Key]time.Time{r.pending, r.active, r.failed} {
		for k := range m {
			if _, ok := want[k]; !ok {
				toRemove = append(toRemove, k)
			}
		}
	}

	r.remove(toRemove, now, "no longer required")
	for _, k := range toAdd {
		r.move(k, r.stateOf(k), StatePending, now, "requested")
	}
	return toAdd, toRemove
}

// recordSuccess moves pending keys to active and returns how many moved.
// Keys in any other state are ignored.
func (r *registry) recordSuccess(keys []model.Key, now time.Time) int {
	n := 0
	for _, k := range keys {
		if _, ok := r.pending[k]; !ok {
			continue
		}
		r.move(k, StatePending, StateActive, now, "subscribed")
		n++
	}
	return n
}

// recordFailure moves a pending or active key to failed. It reports whether
// the key was moved.
func (r *registry) recordFailure(key model.Key, reason string, now time.Time) bool {
	switch s := r.stateOf(key); s {
	case StatePending, StateActive:
		r.move(key, s, StateFailed, now, reason)
		return true
	}
	return false
}

// remove moves pending, active or failed keys to removed. Already removed and
// unseen keys are left alone.
func (r *registry) remove(keys []model.Key, now time.Time, reason string) {
	for _, k := range keys {
		switch s := r.stateOf(k); s {
		case StatePending, StateActive, StateFailed:
			r.move(k, s, StateRemoved, now, reason)
		}
	}
}

// retryAllFailed moves every failed key back to pending and returns them.
func (r *registry) retryAllFailed(now time.Time) []model.Key {
	keys := make([]model.Key, 0, len(r.failed))
	for k := range r.failed {
		keys = append(keys, k)
	}
	for _, k := range keys {
		r.move(k, StateFailed, StatePending, now, "manual retry")
	}
	return keys
}

// abandon moves pending keys to failed.
func (r *registry) abandon(keys []model.Key, now time.Time) {
	for _, k := range keys {
		if _, ok := r.pending[k]; ok {
			r.move(k, StatePending, StateFailed, now, "abandoned")
		}
	}
}

// agedPending splits pending keys by age. Keys stamped before abandonLimit
// are returned in toAbandon; the remaining keys stamped before retryLimit are
// returned in toRetry.
func (r *registry) agedPending(abandonLimit, retryLimit time.Time) (toAbandon, toRetry []model.Key) {
	for k, ts := range r.pending {
		switch {
		case ts.Before(abandonLimit):
			toAbandon = append(toAbandon, k)
		case ts.Before(retryLimit):
			toRetry = append(toRetry, k)
		}
	}
	return toAbandon, toRetry
}

// keys returns the keys in the given states.
func (r *registry) keys(states ...State) []model.Key {
	var out []model.Key
	for _, s := range states {
		for k := range r.mapFor(s) {
			out = append(out, k)
		}
	}
	return out
}

// statuses copies one map into a status map keyed by Key.String().
func (r *registry) statuses(s State) map[string]Status {
	m := r.mapFor(s)
	out := make(map[string]Status, len(m))
	for k, ts := range m {
		out[k.String()] = Status{State: s, Since: ts}
	}
	return out
}

// search returns entries of all four maps whose key contains substr.
func (r *registry) search(substr string) map[string]Status {
	out := make(map[string]Status)
	for _, s := range []State{StatePending, StateActive, StateFailed, StateRemoved} {
		for k, ts := range r.mapFor(s) {
			name := k.String()
			if strings.Contains(name, substr) {
				out[name] = Status{State: s, Since: ts}
			}
		}
	}
	return out
}

// pendingEntry is one row of the pending report.
type pendingEntry struct {
	Key   model.Key
	Since time.Time
}

// oldestPending returns up to limit pending entries, oldest first.
func (r *registry) oldestPending(limit int) []pendingEntry {
	entries := make([]pendingEntry, 0, len(r.pending))
	for k, ts := range r.pending {
		entries = append(entries, pendingEntry{Key: k, Since: ts})
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Since.Equal(entries[j].Since) {
			return entries[i].Since.Before(entries[j].Since)
		}
		return entries[i].Key.String() < entries[j].Key.String()
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// drain returns and clears the transition log.
func (r *registry) drain() []Transition {
	if len(r.log) == 0 {
		return nil
	}
	out := r.log
	r.log = nil
	return out
}
