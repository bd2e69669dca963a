package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rickgao/livedata/internal/model"
)

func TestRelay_ValuesChanged(t *testing.T) {
	rec := &changeRecorder{}
	m := NewManager(Config{}, &fakeResolver{events: &eventLog{}}, rec, discardLogger())

	m.relay.ValuesChanged(tickers("A"))
	m.relay.ValuesChanged(tickers("B", "C"))
	assert.Equal(t, 2, rec.count())
}

func TestRelay_ValuesChangedListenerPanic(t *testing.T) {
	calls := 0
	m := NewManager(Config{}, &fakeResolver{events: &eventLog{}}, ChangeListenerFunc(func([]model.Key) {
		calls++
		panic("listener bug")
	}), discardLogger())

	assert.NotPanics(t, func() { m.relay.ValuesChanged(tickers("A")) })
	assert.NotPanics(t, func() { m.relay.ValuesChanged(tickers("A")) })
	assert.Equal(t, 2, calls)
}

func TestRelay_NilChangeListener(t *testing.T) {
	m := NewManager(Config{}, &fakeResolver{events: &eventLog{}}, nil, nil)
	assert.NotPanics(t, func() { m.relay.ValuesChanged(tickers("A")) })
}

func TestRelay_ValuesChangedDoesNotMutate(t *testing.T) {
	env := newTestEnv(t, Config{})
	p := env.bind(t)
	env.m.RequestSubscriptions(tickers("A"))

	p.listener(t).ValuesChanged(tickers("A"))
	assert.Equal(t, 1, env.m.PendingCount())
}
