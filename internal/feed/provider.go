package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/rickgao/livedata/internal/auth"
	"github.com/rickgao/livedata/internal/model"
	"github.com/rickgao/livedata/internal/subscription"
)

// Provider is a market data provider backed by one feed connection.
type Provider struct {
	cfg    Config
	creds  *auth.Credentials
	specs  []model.Spec
	user   model.UserPrincipal
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cmdID atomic.Int64

	connMu sync.RWMutex
	client *client

	// mu guards everything below.
	mu         sync.Mutex
	listeners  []subscription.Listener
	inflight   map[int64]pendingCommand
	wanted     map[model.Key]struct{}
	keySID     map[model.Key]int64
	channelSID map[string]int64
	values     map[model.Key]model.Value
	closed     bool
}

// pendingCommand is a command awaiting its response.
type pendingCommand struct {
	cmd     string
	action  string
	channel string
	sid     int64
	keys    []model.Key
}

// Dial connects to the feed and returns a running Provider.
func Dial(ctx context.Context, cfg Config, creds *auth.Credentials, user model.UserPrincipal, specs []model.Spec, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	p := &Provider{
		cfg:        cfg,
		creds:      creds,
		specs:      slices.Clone(specs),
		user:       user,
		logger:     logger.With("component", "feed", "user", user.String()),
		inflight:   make(map[int64]pendingCommand),
		wanted:     make(map[model.Key]struct{}),
		keySID:     make(map[model.Key]int64),
		channelSID: make(map[string]int64),
		values:     make(map[model.Key]model.Value),
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())

	if err := p.connect(ctx); err != nil {
		p.cancel()
		return nil, err
	}

	p.wg.Add(1)
	go p.run()
	return p, nil
}

// connect dials a new client and installs it.
func (p *Provider) connect(ctx context.Context) error {
	var header http.Header
	if p.creds != nil {
		h, err := p.creds.WebSocketHeader(p.cfg.URL)
		if err != nil {
			return fmt.Errorf("sign handshake: %w", err)
		}
		header = h
	}

	c := newClient(p.cfg, header, p.logger)
	if err := c.connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", p.cfg.URL, err)
	}

	p.connMu.Lock()
	p.client = c
	p.connMu.Unlock()
	return nil
}

func (p *Provider) currentClient() *client {
	p.connMu.RLock()
	defer p.connMu.RUnlock()
	return p.client
}

// Close stops the provider and closes its connection.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	err := p.currentClient().close()
	p.logger.Info("feed provider closed")
	return err
}

// Subscribe sends one subscribe command per channel. Channels that already
// have a subscription get their markets added to it instead.
func (p *Provider) Subscribe(keys []model.Key) error {
	var unsupported []model.Key
	var errs []error

	for _, g := range groupByChannel(keys) {
		if !supportedChannel(g.channel) {
			unsupported = append(unsupported, g.keys...)
			continue
		}

		p.mu.Lock()
		for _, k := range g.keys {
			p.wanted[k] = struct{}{}
		}
		sid, ok := p.channelSID[g.channel]
		p.mu.Unlock()

		tickers := tickersOf(g.keys)
		var err error
		if ok {
			err = p.send(cmdUpdateSubscription,
				UpdateSubscriptionParams{SIDs: []int64{sid}, Action: actionAddMarkets, MarketTickers: tickers},
				pendingCommand{cmd: cmdUpdateSubscription, action: actionAddMarkets, channel: g.channel, sid: sid, keys: g.keys},
			)
		} else {
			err = p.send(cmdSubscribe,
				SubscribeParams{Channels: []string{g.channel}, MarketTickers: tickers},
				pendingCommand{cmd: cmdSubscribe, channel: g.channel, keys: g.keys},
			)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("subscribe %s: %w", g.channel, err))
		}
	}

	for _, k := range unsupported {
		p.notifyFailed(k, "unsupported channel "+k.Channel)
	}
	return errors.Join(errs...)
}

// Unsubscribe removes markets from their subscriptions. Keys that were never
// confirmed are forgotten locally.
func (p *Provider) Unsubscribe(keys []model.Key) error {
	bySID := make(map[int64][]model.Key)

	p.mu.Lock()
	for _, k := range keys {
		delete(p.wanted, k)
		delete(p.values, k)
		if sid, ok := p.keySID[k]; ok {
			bySID[sid] = append(bySID[sid], k)
			delete(p.keySID, k)
		}
	}
	p.mu.Unlock()

	sids := make([]int64, 0, len(bySID))
	for sid := range bySID {
		sids = append(sids, sid)
	}
	slices.Sort(sids)

	var errs []error
	for _, sid := range sids {
		if err := p.sendDelete(sid, bySID[sid]); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe sid %d: %w", sid, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Provider) sendDelete(sid int64, keys []model.Key) error {
	return p.send(cmdUpdateSubscription,
		UpdateSubscriptionParams{SIDs: []int64{sid}, Action: actionDeleteMarkets, MarketTickers: tickersOf(keys)},
		pendingCommand{cmd: cmdUpdateSubscription, action: actionDeleteMarkets, sid: sid, keys: keys},
	)
}

// send registers pc under a new command id and writes the command.
func (p *Provider) send(cmd string, params any, pc pendingCommand) error {
	id := p.cmdID.Add(1)
	data, err := json.Marshal(Command{ID: id, Cmd: cmd, Params: params})
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	p.mu.Lock()
	p.inflight[id] = pc
	p.mu.Unlock()

	if err := p.currentClient().send(data); err != nil {
		p.mu.Lock()
		delete(p.inflight, id)
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *Provider) AddListener(l subscription.Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

func (p *Provider) RemoveListener(l subscription.Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, x := range p.listeners {
		if x == l {
			p.listeners = slices.Delete(p.listeners, i, i+1)
			return
		}
	}
}

func (p *Provider) Snapshot() subscription.Snapshot {
	return &snapshot{p: p}
}

func (p *Provider) Specifications() []model.Spec {
	return slices.Clone(p.specs)
}

func (p *Provider) User() model.UserPrincipal {
	return p.user
}

func (p *Provider) AvailabilityProvider() subscription.AvailabilityProvider {
	return availability{}
}

// Connected reports whether the underlying connection is currently up.
func (p *Provider) Connected() bool {
	c := p.currentClient()
	return c != nil && c.isConnected()
}

// Subscribed returns the confirmed keys.
func (p *Provider) Subscribed() []model.Key {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]model.Key, 0, len(p.keySID))
	for k := range p.keySID {
		keys = append(keys, k)
	}
	return keys
}

// run dispatches inbound messages until the provider is closed.
func (p *Provider) run() {
	defer p.wg.Done()

	for {
		c := p.currentClient()
		select {
		case <-p.ctx.Done():
			return

		case err := <-c.errors:
			p.logger.Warn("feed connection error", "error", err)
			if !p.reconnect(c) {
				return
			}

		case msg := <-c.messages:
			p.handleMessage(msg)
		}
	}
}

// reconnect replaces a failed client, retrying with exponential backoff, and
// re-subscribes every wanted key. It returns false when the provider closes
// first.
func (p *Provider) reconnect(old *client) bool {
	_ = old.close()

	p.mu.Lock()
	clear(p.inflight)
	clear(p.keySID)
	clear(p.channelSID)
	p.mu.Unlock()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.ReconnectBaseWait
	b.MaxInterval = p.cfg.ReconnectMaxWait

	for attempt := 1; ; attempt++ {
		wait := b.NextBackOff()
		select {
		case <-p.ctx.Done():
			return false
		case <-time.After(wait):
		}

		if err := p.connect(p.ctx); err != nil {
			p.logger.Warn("reconnection failed", "attempt", attempt, "error", err)
			continue
		}

		p.mu.Lock()
		keys := make([]model.Key, 0, len(p.wanted))
		for k := range p.wanted {
			keys = append(keys, k)
		}
		p.mu.Unlock()

		p.logger.Info("reconnected", "attempt", attempt, "resubscribing", len(keys))
		if err := p.Subscribe(keys); err != nil {
			p.logger.Warn("resubscribe failed", "error", err)
		}
		return true
	}
}

func (p *Provider) handleMessage(msg TimestampedMessage) {
	if resp, ok := parseResponse(msg.Data); ok {
		p.handleResponse(resp)
		return
	}

	var dm DataMessage
	if err := json.Unmarshal(msg.Data, &dm); err != nil {
		p.logger.Debug("unparseable feed message", "error", err)
		return
	}

	key, val, err := decodeValue(dm, msg.ReceivedAt)
	if err != nil {
		p.logger.Debug("ignoring feed message", "type", dm.Type, "error", err)
		return
	}

	p.mu.Lock()
	_, want := p.wanted[key]
	if want {
		p.values[key] = mergeValue(p.values[key], val)
	}
	p.mu.Unlock()

	if want {
		for _, l := range p.listenersCopy() {
			l.ValuesChanged([]model.Key{key})
		}
	}
}

// parseResponse returns msg as a command response if it is one.
func parseResponse(data []byte) (Response, bool) {
	if !bytes.Contains(data, []byte(`"id":`)) {
		return Response{}, false
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, false
	}

	switch resp.Type {
	case respSubscribed, respUnsubscribed, respError, respOK:
		return resp, true
	}
	return Response{}, false
}

func (p *Provider) handleResponse(resp Response) {
	p.mu.Lock()
	pc, ok := p.inflight[resp.ID]
	delete(p.inflight, resp.ID)
	p.mu.Unlock()

	if !ok {
		p.logger.Debug("response for unknown command", "id", resp.ID, "type", resp.Type)
		return
	}

	switch resp.Type {
	case respSubscribed:
		var sm SubscribedMsg
		if err := json.Unmarshal(resp.Msg, &sm); err != nil {
			p.logger.Warn("bad subscribed response", "id", resp.ID, "error", err)
			return
		}
		p.confirm(pc, sm.SID)

	case respOK:
		if pc.action == actionAddMarkets {
			p.confirm(pc, pc.sid)
		}

	case respUnsubscribed:

	case respError:
		var em ErrorMsg
		_ = json.Unmarshal(resp.Msg, &em)
		reason := fmt.Sprintf("%v: %s", em.Code, em.Message)
		if pc.action == actionDeleteMarkets {
			p.logger.Warn("unsubscribe rejected", "sid", pc.sid, "reason", reason)
			return
		}
		p.mu.Lock()
		for _, k := range pc.keys {
			delete(p.wanted, k)
		}
		p.mu.Unlock()
		for _, k := range pc.keys {
			p.notifyFailed(k, reason)
		}
	}
}

// confirm records sid for the command's keys and reports success. Keys that
// were unsubscribed while the command was in flight are removed again.
func (p *Provider) confirm(pc pendingCommand, sid int64) {
	var ok, stale []model.Key

	p.mu.Lock()
	if _, exists := p.channelSID[pc.channel]; !exists {
		p.channelSID[pc.channel] = sid
	}
	for _, k := range pc.keys {
		if _, want := p.wanted[k]; !want {
			stale = append(stale, k)
			continue
		}
		p.keySID[k] = sid
		ok = append(ok, k)
	}
	p.mu.Unlock()

	p.logger.Debug("subscription confirmed", "channel", pc.channel, "sid", sid, "count", len(ok))

	if len(stale) > 0 {
		if err := p.sendDelete(sid, stale); err != nil {
			p.logger.Warn("failed to drop stale markets", "sid", sid, "error", err)
		}
	}
	if len(ok) > 0 {
		for _, l := range p.listenersCopy() {
			l.SubscriptionsSucceeded(ok)
		}
	}
}

func (p *Provider) notifyFailed(key model.Key, reason string) {
	for _, l := range p.listenersCopy() {
		l.SubscriptionFailed(key, reason)
	}
}

func (p *Provider) listenersCopy() []subscription.Listener {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.listeners)
}

// valuesCopy returns a copy of the latest values.
func (p *Provider) valuesCopy() map[model.Key]model.Value {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[model.Key]model.Value, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

type channelGroup struct {
	channel string
	keys    []model.Key
}

// groupByChannel groups keys by channel in channel order, dropping duplicates.
func groupByChannel(keys []model.Key) []channelGroup {
	idx := make(map[string]int)
	seen := make(map[model.Key]struct{}, len(keys))
	var groups []channelGroup
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		i, ok := idx[k.Channel]
		if !ok {
			i = len(groups)
			idx[k.Channel] = i
			groups = append(groups, channelGroup{channel: k.Channel})
		}
		groups[i].keys = append(groups[i].keys, k)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].channel < groups[j].channel })
	return groups
}

func tickersOf(keys []model.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.Ticker
	}
	return out
}
