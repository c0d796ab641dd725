package viewmodel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"wordchain/errs"
	"wordchain/feed"
	"wordchain/models"
)

// Engine performs the transitions a client triggers on its own when a timer
// runs out. Both calls are idempotent on the server side.
type Engine interface {
	ExpireTurn(ctx context.Context, roundID string) (*models.TurnOutcome, error)
	FinalizeDispute(ctx context.Context, submissionID string) (*models.DisputeOutcome, error)
}

type Loader interface {
	Snapshot(ctx context.Context, lobbyID string) (*models.Snapshot, error)
}

type Config struct {
	LobbyID string
	SelfID  string

	Feed   feed.Subscriber
	Loader Loader
	Engine Engine

	DisputeWindow time.Duration
	Tick          time.Duration
	// ResyncEvery reloads the snapshot periodically; the feed may drop
	// events while the Redis connection is down.
	ResyncEvery time.Duration
	Now         func() time.Time

	// OnChange receives every new state, on the model goroutine.
	OnChange func(State)
	Logger   *slog.Logger
}

// Entry is one event in the model's audit log.
type Entry struct {
	At     time.Time `json:"at"`
	Source string    `json:"source"`
	Kind   string    `json:"kind"`
	Event  Event     `json:"event"`
}

const (
	SourceFeed  = "feed"
	SourceLocal = "local"
	SourceLoad  = "snapshot"
)

type input struct {
	source string
	event  Event
	resync bool
}

type turnKey struct {
	round string
	turn  int
}

// Model owns one client's State. All mutation happens on the goroutine that
// runs Run; other goroutines talk to it through Apply and Resync.
type Model struct {
	cfg   Config
	inbox chan input
	done  chan struct{}

	mu      sync.RWMutex
	current State
	log     []Entry

	// loop goroutine only
	state     State
	subs      []*feed.Subscription
	roundSub  *feed.Subscription
	roundID   string
	expired   turnKey
	finalized string
}

func NewModel(cfg Config) *Model {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.ResyncEvery <= 0 {
		cfg.ResyncEvery = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.OnChange == nil {
		cfg.OnChange = func(State) {}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	state := New(cfg.LobbyID, cfg.SelfID)
	return &Model{
		cfg:     cfg,
		inbox:   make(chan input, 64),
		done:    make(chan struct{}),
		current: state,
		state:   state,
	}
}

// State returns a copy of the latest state.
func (m *Model) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Log returns the events applied so far, oldest first.
func (m *Model) Log() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, len(m.log))
	copy(out, m.log)
	return out
}

// Apply queues the result of a local action. It does not wait for the
// event to be folded in.
func (m *Model) Apply(ev Event) {
	m.send(input{source: SourceLocal, event: ev})
}

// Resync queues a reload of the full lobby snapshot.
func (m *Model) Resync() {
	m.send(input{resync: true})
}

func (m *Model) send(in input) {
	select {
	case m.inbox <- in:
	case <-m.done:
	}
}

// Run subscribes to the lobby's channels, loads the initial snapshot and
// processes events until ctx is cancelled.
func (m *Model) Run(ctx context.Context) error {
	defer close(m.done)
	defer m.unsubscribeAll()

	lobby := feed.Eq("lobby_id", m.cfg.LobbyID)
	scopes := []struct {
		collection feed.Collection
		filter     feed.Filter
	}{
		{feed.Lobbies, feed.Eq("id", m.cfg.LobbyID)},
		{feed.Players, lobby},
		{feed.Rounds, lobby},
	}
	for _, scope := range scopes {
		sub, err := m.cfg.Feed.Subscribe(ctx, scope.collection, scope.filter, m.handlers())
		if err != nil {
			return err
		}
		m.subs = append(m.subs, sub)
	}

	// subscribing first means nothing committed after the snapshot is missed
	if err := m.load(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(m.cfg.Tick)
	defer ticker.Stop()
	resync := time.NewTicker(m.cfg.ResyncEvery)
	defer resync.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in := <-m.inbox:
			if in.resync {
				m.reload(ctx)
				continue
			}
			m.apply(ctx, in.source, in.event)
		case <-ticker.C:
			m.tick(ctx)
		case <-resync.C:
			m.reload(ctx)
		}
	}
}

func (m *Model) reload(ctx context.Context) {
	if err := m.load(ctx); err != nil {
		m.cfg.Logger.Warn("snapshot reload failed", "lobby", m.cfg.LobbyID, "error", err)
	}
}

func (m *Model) handlers() feed.Handlers {
	deliver := func(ev feed.Event) {
		event, err := FromFeed(ev)
		if err != nil {
			m.cfg.Logger.Warn("ignoring feed event", "collection", ev.Collection, "error", err)
			return
		}
		m.send(input{source: SourceFeed, event: event})
	}
	return feed.Handlers{OnInsert: deliver, OnUpdate: deliver}
}

func (m *Model) load(ctx context.Context) error {
	snap, err := m.cfg.Loader.Snapshot(ctx, m.cfg.LobbyID)
	if err != nil {
		return err
	}
	m.apply(ctx, SourceLoad, SnapshotLoaded{Snapshot: *snap})
	return nil
}

func (m *Model) apply(ctx context.Context, source string, ev Event) {
	m.state = Reduce(m.state, ev)
	if m.state.RoundID != m.roundID {
		m.followRound(ctx, m.state.RoundID)
	}

	m.mu.Lock()
	m.current = m.state
	m.log = append(m.log, Entry{At: m.cfg.Now(), Source: source, Kind: ev.Kind(), Event: ev})
	m.mu.Unlock()

	m.cfg.OnChange(m.state)
}

// followRound moves the submissions subscription to the current round.
func (m *Model) followRound(ctx context.Context, roundID string) {
	if m.roundSub != nil {
		if err := m.cfg.Feed.Unsubscribe(m.roundSub); err != nil {
			m.cfg.Logger.Warn("unsubscribe failed", "channel", m.roundSub.Channel, "error", err)
		}
		m.roundSub = nil
	}
	m.roundID = roundID
	if roundID == "" {
		return
	}

	sub, err := m.cfg.Feed.Subscribe(ctx, feed.Submissions, feed.Eq("round_id", roundID), m.handlers())
	if err != nil {
		m.cfg.Logger.Warn("subscribe to round submissions failed", "round", roundID, "error", err)
		return
	}
	m.roundSub = sub
}

func (m *Model) unsubscribeAll() {
	subs := m.subs
	if m.roundSub != nil {
		subs = append(subs, m.roundSub)
	}
	for _, sub := range subs {
		if err := m.cfg.Feed.Unsubscribe(sub); err != nil {
			m.cfg.Logger.Warn("unsubscribe failed", "channel", sub.Channel, "error", err)
		}
	}
	m.subs = nil
	m.roundSub = nil
}

func (m *Model) tick(ctx context.Context) {
	now := m.cfg.Now()
	if m.state.Live() {
		m.cfg.OnChange(m.state)
	}
	m.maybeExpire(ctx, now)
	m.maybeFinalize(ctx, now)
}

// maybeExpire asks the engine to expire the turn once per round and turn.
func (m *Model) maybeExpire(ctx context.Context, now time.Time) {
	if !m.state.Expired(now) {
		return
	}
	key := turnKey{round: m.state.RoundID, turn: m.state.Turn}
	if key == m.expired {
		return
	}
	m.expired = key

	outcome, err := m.cfg.Engine.ExpireTurn(ctx, key.round)
	if err != nil {
		if errs.IsConflict(err) {
			// the server clock disagrees; try again on a later tick
			m.expired = turnKey{}
		}
		m.cfg.Logger.Debug("expire turn rejected", "round", key.round, "error", err)
		return
	}
	if outcome.Eliminated != nil {
		m.apply(ctx, SourceLocal, PlayerChanged{Player: *outcome.Eliminated})
	}
	if outcome.Round != nil {
		m.apply(ctx, SourceLocal, RoundChanged{Round: *outcome.Round})
	}
}

// maybeFinalize settles a disputed latest word once its window has passed.
func (m *Model) maybeFinalize(ctx context.Context, now time.Time) {
	if !m.state.DisputePending() {
		return
	}
	sub := m.state.LatestSubmission
	if sub.InDisputeWindow(now, m.cfg.DisputeWindow) || sub.ID == m.finalized {
		return
	}
	m.finalized = sub.ID

	outcome, err := m.cfg.Engine.FinalizeDispute(ctx, sub.ID)
	if err != nil {
		var invalid *errs.ValidationError
		if errors.As(err, &invalid) {
			m.cfg.Logger.Info("dispute left open", "submission", sub.ID, "reason", invalid.Message)
			return
		}
		// retry on a later tick
		m.finalized = ""
		m.cfg.Logger.Warn("finalize dispute failed", "submission", sub.ID, "error", err)
		return
	}
	m.apply(ctx, SourceLocal, SubmissionChanged{Submission: *outcome.Submission})
	if outcome.Eliminated != nil {
		m.apply(ctx, SourceLocal, PlayerChanged{Player: *outcome.Eliminated})
	}
}
