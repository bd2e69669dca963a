package subscription

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rickgao/livedata/internal/model"
)

var (
	liveSpecs  = []model.Spec{{Kind: "live", Source: "kalshi"}}
	otherSpecs = []model.Spec{{Kind: "live", Source: "replay"}}
	testUser   = model.UserPrincipal{UserName: "alice", IPAddress: "10.0.0.1"}
	testStart  = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
)

func tickers(names ...string) []model.Key {
	keys := make([]model.Key, len(names))
	for i, n := range names {
		keys[i] = model.NewKey(model.ChannelTicker, n)
	}
	return keys
}

func sortedNames(keys []model.Key) []string {
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.Ticker
	}
	sort.Strings(names)
	return names
}

func statusNames(m map[string]Status) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, model.ParseKey(name).Ticker)
	}
	sort.Strings(names)
	return names
}

// eventLog records calls across providers and the resolver in order.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type providerCall struct {
	op   operation
	keys []model.Key
}

type fakeProvider struct {
	name   string
	specs  []model.Spec
	user   model.UserPrincipal
	events *eventLog

	mu           sync.Mutex
	calls        []providerCall
	listeners    []Listener
	subscribeErr error
	panicOn      operation
	closed       bool

	// When set, Unsubscribe signals unsubscribing and waits for releaseUnsub.
	releaseUnsub  chan struct{}
	unsubscribing chan struct{}
}

func (p *fakeProvider) do(op operation, keys []model.Key) error {
	p.mu.Lock()
	p.calls = append(p.calls, providerCall{op: op, keys: append([]model.Key(nil), keys...)})
	panicOn, subErr := p.panicOn, p.subscribeErr
	release, entered := p.releaseUnsub, p.unsubscribing
	p.mu.Unlock()

	if op == opUnsubscribe && release != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	}

	if p.events != nil {
		p.events.add(fmt.Sprintf("%s:%s:%d", p.name, op, len(keys)))
	}
	if panicOn == op {
		panic("provider exploded")
	}
	if op == opSubscribe {
		return subErr
	}
	return nil
}

func (p *fakeProvider) Subscribe(keys []model.Key) error { return p.do(opSubscribe, keys) }
func (p *fakeProvider) Unsubscribe(keys []model.Key) error { return p.do(opUnsubscribe, keys) }

func (p *fakeProvider) AddListener(l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

func (p *fakeProvider) RemoveListener(l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, x := range p.listeners {
		if x == l {
			p.listeners = append(p.listeners[:i], p.listeners[i+1:]...)
			break
		}
	}
	if p.events != nil {
		p.events.add(p.name + ":remove_listener")
	}
}

func (p *fakeProvider) Snapshot() Snapshot { return fakeSnapshot{} }
func (p *fakeProvider) Specifications() []model.Spec { return p.specs }
func (p *fakeProvider) User() model.UserPrincipal { return p.user }
func (p *fakeProvider) AvailabilityProvider() AvailabilityProvider { return fakeAvailability{} }

func (p *fakeProvider) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// listener returns the first registered listener.
func (p *fakeProvider) listener(t *testing.T) Listener {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.listeners) == 0 {
		t.Fatalf("provider %s has no listener", p.name)
	}
	return p.listeners[0]
}

func (p *fakeProvider) listenerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

// callsFor returns the batches sent for op.
func (p *fakeProvider) callsFor(op operation) [][]model.Key {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out [][]model.Key
	for _, c := range p.calls {
		if c.op == op {
			out = append(out, c.keys)
		}
	}
	return out
}

// keysFor flattens all batches sent for op.
func (p *fakeProvider) keysFor(op operation) []model.Key {
	var out []model.Key
	for _, b := range p.callsFor(op) {
		out = append(out, b...)
	}
	return out
}

// blockUnsubscribe makes Unsubscribe wait until the returned func is called.
// The returned channel receives when an Unsubscribe starts waiting.
func (p *fakeProvider) blockUnsubscribe() (<-chan struct{}, func()) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	p.mu.Lock()
	p.releaseUnsub = release
	p.unsubscribing = entered
	p.mu.Unlock()

	var once sync.Once
	return entered, func() { once.Do(func() { close(release) }) }
}

func (p *fakeProvider) reset() {
	p.mu.Lock()
	p.calls = nil
	p.mu.Unlock()
}

func (p *fakeProvider) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeSnapshot struct{}

func (fakeSnapshot) Init() {}
func (fakeSnapshot) SnapshotTime() time.Time { return time.Time{} }
func (fakeSnapshot) Value(model.Key) (model.Value, bool) { return model.Value{}, false }

type fakeAvailability struct{}

func (fakeAvailability) IsAvailable(model.Key) bool { return true }

type fakeResolver struct {
	events *eventLog

	mu    sync.Mutex
	err   error
	built []*fakeProvider
}

func (r *fakeResolver) NewProvider(user model.UserPrincipal, specs []model.Spec) (Provider, error) {
	r.events.add("resolver:new_provider")
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	p := &fakeProvider{
		name:   fmt.Sprintf("p%d", len(r.built)+1),
		specs:  specs,
		user:   user,
		events: r.events,
	}
	r.built = append(r.built, p)
	return p, nil
}

func (r *fakeResolver) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *fakeResolver) last() *fakeProvider {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.built) == 0 {
		return nil
	}
	return r.built[len(r.built)-1]
}

func (r *fakeResolver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.built)
}

var errFeedDown = errors.New("feed down")

// recordingObserver collects transitions.
type recordingObserver struct {
	mu          sync.Mutex
	transitions []Transition
}

func (o *recordingObserver) ObserveTransitions(ts []Transition) {
	o.mu.Lock()
	o.transitions = append(o.transitions, ts...)
	o.mu.Unlock()
}

func (o *recordingObserver) all() []Transition {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Transition(nil), o.transitions...)
}

type changeRecorder struct {
	mu    sync.Mutex
	calls [][]model.Key
}

func (c *changeRecorder) OnMarketDataValuesChanged(keys []model.Key) {
	c.mu.Lock()
	c.calls = append(c.calls, keys)
	c.mu.Unlock()
}

func (c *changeRecorder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	m        *Manager
	resolver *fakeResolver
	clock    *clock.Mock
	events   *eventLog
}

func newTestEnv(t *testing.T, cfg Config, opts ...Option) *testEnv {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(testStart)
	events := &eventLog{}
	res := &fakeResolver{events: events}
	opts = append([]Option{WithClock(mock)}, opts...)
	m := NewManager(cfg, res, nil, discardLogger(), opts...)
	return &testEnv{m: m, resolver: res, clock: mock, events: events}
}

// bind binds a provider built from liveSpecs and returns it.
func (e *testEnv) bind(t *testing.T) *fakeProvider {
	t.Helper()
	if _, err := e.m.CreateCycleBinding(testUser, liveSpecs); err != nil {
		t.Fatalf("CreateCycleBinding() error = %v", err)
	}
	p := e.resolver.last()
	p.reset()
	return p
}

// assertExclusiveLocked checks every key is in at most one state, reading all
// four maps under a single hold of the manager lock.
func assertExclusiveLocked(t *testing.T, m *Manager) {
	t.Helper()
	m.mu.Lock()
	var violations []string
	seen := make(map[model.Key]State)
	for _, s := range []State{StatePending, StateActive, StateFailed, StateRemoved} {
		for k := range m.reg.mapFor(s) {
			if prev, ok := seen[k]; ok {
				violations = append(violations, fmt.Sprintf("key %s is both %s and %s", k, prev, s))
			}
			seen[k] = s
		}
	}
	m.mu.Unlock()

	for _, v := range violations {
		t.Error(v)
	}
}

// assertExclusive checks every key is in at most one state. It reads each
// state separately, so it is only meaningful when nothing runs concurrently.
func assertExclusive(t *testing.T, m *Manager) {
	t.Helper()
	seen := make(map[string]State)
	for _, s := range []State{StatePending, StateActive, StateFailed, StateRemoved} {
		for name := range m.Query(s) {
			if prev, ok := seen[name]; ok {
				t.Errorf("key %s is both %s and %s", name, prev, s)
			}
			seen[name] = s
		}
	}
}
